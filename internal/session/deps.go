// Package session runs EFT tapping conversations. An Orchestrator owns one session's
// context, compound step and message log, resolves intensity checkpoints locally, and
// forwards everything else to the dialogue service.
package session

import (
	"context"
	"log/slog"
	"time"

	"github.com/ashureev/tapflow/internal/crisis"
	"github.com/ashureev/tapflow/internal/dialogue"
	"github.com/ashureev/tapflow/internal/domain"
	"github.com/ashureev/tapflow/internal/textnorm"
)

// Dialogue produces model replies for a turn.
type Dialogue interface {
	Respond(ctx context.Context, req dialogue.Request) (dialogue.Response, error)
}

// Store is the persistence collaborator. The orchestrator treats every call as
// best-effort: failures are logged and never change the turn's outcome.
type Store interface {
	CreateEpisode(ctx context.Context, ep domain.Episode) (string, error)
	UpdateEpisode(ctx context.Context, id string, u domain.EpisodeUpdate) error
	AppendTranscript(ctx context.Context, sessionID string, msgs []domain.Message) error
	SaveSession(ctx context.Context, s domain.Session) error
}

// SessionStore adds the reads the Registry needs to resume sessions.
type SessionStore interface {
	Store
	LoadSession(ctx context.Context, id string) (*domain.Session, error)
	ListMessages(ctx context.Context, sessionID string, limit int) ([]domain.Message, error)
}

// Defaults for Deps fields left zero.
const (
	DefaultMaxMessageChars = 2000
	DefaultHistoryWindow   = 20
)

// Deps are the collaborators and limits shared by orchestrators.
type Deps struct {
	Dialogue        Dialogue
	Store           Store
	Normalizer      *textnorm.Normalizer
	Detector        *crisis.Detector
	Logger          *slog.Logger
	Clock           func() time.Time
	NewID           func() string
	MaxMessageChars int
	HistoryWindow   int
}

func (d Deps) withDefaults() Deps {
	if d.Store == nil {
		d.Store = noopStore{}
	}
	if d.Normalizer == nil {
		d.Normalizer = textnorm.Default()
	}
	if d.Detector == nil {
		d.Detector = crisis.Default()
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Clock == nil {
		d.Clock = time.Now
	}
	if d.NewID == nil {
		d.NewID = newID
	}
	if d.MaxMessageChars <= 0 {
		d.MaxMessageChars = DefaultMaxMessageChars
	}
	if d.HistoryWindow <= 0 {
		d.HistoryWindow = DefaultHistoryWindow
	}
	return d
}

type noopStore struct{}

func (noopStore) CreateEpisode(context.Context, domain.Episode) (string, error) { return "", nil }
func (noopStore) UpdateEpisode(context.Context, string, domain.EpisodeUpdate) error {
	return nil
}
func (noopStore) AppendTranscript(context.Context, string, []domain.Message) error { return nil }
func (noopStore) SaveSession(context.Context, domain.Session) error              { return nil }
