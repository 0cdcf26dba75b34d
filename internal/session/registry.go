package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/ashureev/tapflow/internal/domain"
)

// restoreMessageLimit bounds the transcript loaded when resuming a session.
const restoreMessageLimit = 500

type entry struct {
	orch *Orchestrator
	gate *semaphore.Weighted
}

// Registry keeps live orchestrators by session id and admits one turn per session
// at a time. Sessions missing from memory are resumed from the store.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*entry
	store   SessionStore
	deps    Deps
}

// NewRegistry creates a Registry. store may be nil for purely in-memory sessions.
func NewRegistry(store SessionStore, deps Deps) *Registry {
	if store != nil {
		deps.Store = store
	}
	return &Registry{
		entries: make(map[string]*entry),
		store:   store,
		deps:    deps.withDefaults(),
	}
}

// Create starts a new session for userID.
func (r *Registry) Create(ctx context.Context, userID string, in StartInput) (*Orchestrator, TurnResult, error) {
	o := New(r.deps.NewID(), userID, r.deps)
	e := &entry{orch: o, gate: semaphore.NewWeighted(1)}
	if !e.gate.TryAcquire(1) {
		return nil, TurnResult{}, domain.ErrSessionBusy
	}
	defer e.gate.Release(1)

	r.mu.Lock()
	r.entries[o.ID()] = e
	r.mu.Unlock()

	res, err := o.Start(ctx, in)
	if err != nil {
		return nil, TurnResult{}, err
	}
	return o, res, nil
}

// Get returns the session owned by userID. An empty userID skips the ownership check.
func (r *Registry) Get(ctx context.Context, id, userID string) (*Orchestrator, error) {
	e, err := r.lookup(ctx, id)
	if err != nil {
		return nil, err
	}
	if userID != "" && e.orch.UserID() != userID {
		return nil, domain.ErrSessionNotFound
	}
	return e.orch, nil
}

// Do runs one turn against a session. It fails with domain.ErrSessionBusy while
// another turn for the same session is in flight.
func (r *Registry) Do(ctx context.Context, id, userID string, turn func(context.Context, *Orchestrator) (TurnResult, error)) (TurnResult, error) {
	e, err := r.lookup(ctx, id)
	if err != nil {
		return TurnResult{}, err
	}
	if userID != "" && e.orch.UserID() != userID {
		return TurnResult{}, domain.ErrSessionNotFound
	}
	if !e.gate.TryAcquire(1) {
		return TurnResult{}, domain.ErrSessionBusy
	}
	defer e.gate.Release(1)
	return turn(ctx, e.orch)
}

func (r *Registry) lookup(ctx context.Context, id string) (*entry, error) {
	r.mu.Lock()
	e, ok := r.entries[id]
	r.mu.Unlock()
	if ok {
		return e, nil
	}
	if r.store == nil {
		return nil, domain.ErrSessionNotFound
	}

	s, err := r.store.LoadSession(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrSessionNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load session %s: %w", id, err)
	}
	msgs, err := r.store.ListMessages(ctx, id, restoreMessageLimit)
	if err != nil {
		return nil, fmt.Errorf("load transcript %s: %w", id, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[id]; ok {
		return e, nil
	}
	e = &entry{orch: Resume(*s, msgs, r.deps), gate: semaphore.NewWeighted(1)}
	r.entries[id] = e
	r.deps.Logger.Info("session resumed", "session_id", id, "state", s.Step.String(), "messages", len(msgs))
	return e, nil
}

// Sweep drops sessions idle for longer than idle, skipping any with a turn in
// flight. Dropped sessions remain resumable from the store.
func (r *Registry) Sweep(idle time.Duration) int {
	cutoff := r.deps.Clock().Add(-idle)
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for id, e := range r.entries {
		if !e.gate.TryAcquire(1) {
			continue
		}
		if e.orch.UpdatedAt().Before(cutoff) {
			delete(r.entries, id)
			n++
		}
		e.gate.Release(1)
	}
	return n
}

// Len returns the number of sessions held in memory.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
