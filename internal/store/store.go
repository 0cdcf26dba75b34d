// Package store persists users, session snapshots, transcripts and tapping episodes.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/ashureev/tapflow/internal/domain"
)

// ErrEpisodeNotFound is returned when an update targets an unknown episode.
var ErrEpisodeNotFound = errors.New("episode not found")

// Repository is everything the service keeps across restarts.
type Repository interface {
	// GetUser returns nil, nil when the user does not exist.
	GetUser(ctx context.Context, userID string) (*domain.User, error)
	UpsertUser(ctx context.Context, user *domain.User) error
	UpdateLastSeen(ctx context.Context, userID string, lastSeen time.Time) error

	SaveSession(ctx context.Context, s domain.Session) error
	// LoadSession returns domain.ErrSessionNotFound for unknown ids.
	LoadSession(ctx context.Context, id string) (*domain.Session, error)
	// DeleteIdleSessions removes snapshots and transcripts not touched since before.
	DeleteIdleSessions(ctx context.Context, before time.Time) (int64, error)

	AppendTranscript(ctx context.Context, sessionID string, msgs []domain.Message) error
	// ListMessages returns the newest limit messages in chronological order.
	// A limit of zero or less returns the whole transcript.
	ListMessages(ctx context.Context, sessionID string, limit int) ([]domain.Message, error)

	CreateEpisode(ctx context.Context, ep domain.Episode) (string, error)
	UpdateEpisode(ctx context.Context, id string, u domain.EpisodeUpdate) error
	GetEpisode(ctx context.Context, id string) (*domain.Episode, error)
	ListEpisodes(ctx context.Context, userID string) ([]domain.Episode, error)

	Ping(ctx context.Context) error
	Close() error
}
