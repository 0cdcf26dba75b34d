package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type fakeEvicter struct {
	mu    sync.Mutex
	calls []time.Duration
}

func (f *fakeEvicter) Sweep(idle time.Duration) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, idle)
	return 2
}

func (f *fakeEvicter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakePruner struct {
	before time.Time
	err    error
}

func (f *fakePruner) DeleteIdleSessions(_ context.Context, before time.Time) (int64, error) {
	f.before = before
	return 1, f.err
}

func TestSweepOnce(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	live := &fakeEvicter{}
	stored := &fakePruner{}
	s := NewSweeper(live, stored, SweeperConfig{
		IdleTTL:   2 * time.Hour,
		Retention: 24 * time.Hour,
		Now:       func() time.Time { return now },
	}, nil)

	s.SweepOnce(context.Background())

	assert.Equal(t, []time.Duration{2 * time.Hour}, live.calls)
	assert.Equal(t, now.Add(-24*time.Hour), stored.before)
}

func TestSweepOnceToleratesStoreErrors(t *testing.T) {
	stored := &fakePruner{err: errors.New("locked")}
	s := NewSweeper(&fakeEvicter{}, stored, SweeperConfig{IdleTTL: time.Hour, Retention: time.Hour}, nil)
	s.SweepOnce(context.Background())
	assert.False(t, stored.before.IsZero())
}

func TestSweepOnceWithoutStore(t *testing.T) {
	live := &fakeEvicter{}
	NewSweeper(live, nil, SweeperConfig{IdleTTL: time.Hour, Retention: time.Hour}, nil).SweepOnce(context.Background())
	assert.Equal(t, 1, live.count())
}

func TestRunStopsWithContext(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	live := &fakeEvicter{}
	s := NewSweeper(live, nil, SweeperConfig{Interval: 5 * time.Millisecond, IdleTTL: time.Hour}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool { return live.count() >= 2 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
}
