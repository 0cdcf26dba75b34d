// Package worker runs background maintenance for live and stored sessions.
package worker

import (
	"context"
	"log/slog"
	"time"
)

// Evicter drops idle in-memory sessions and reports how many went.
type Evicter interface {
	Sweep(idle time.Duration) int
}

// Pruner deletes stored sessions not touched since before.
type Pruner interface {
	DeleteIdleSessions(ctx context.Context, before time.Time) (int64, error)
}

// SweeperConfig sets the sweep cadence and ages.
type SweeperConfig struct {
	Interval  time.Duration
	IdleTTL   time.Duration
	Retention time.Duration
	Now       func() time.Time
}

// Sweeper evicts idle sessions from memory every Interval. With a Pruner it
// also deletes stored snapshots older than Retention.
type Sweeper struct {
	live   Evicter
	stored Pruner
	cfg    SweeperConfig
	logger *slog.Logger
}

// NewSweeper creates a sweeper. stored may be nil.
func NewSweeper(live Evicter, stored Pruner, cfg SweeperConfig, logger *slog.Logger) *Sweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{live: live, stored: stored, cfg: cfg, logger: logger}
}

// Run sweeps on every tick until ctx is done. It always returns nil.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	s.logger.Info("Session sweeper started", "interval", s.cfg.Interval, "idle_ttl", s.cfg.IdleTTL, "retention", s.cfg.Retention)

	for {
		select {
		case <-ticker.C:
			s.SweepOnce(ctx)
		case <-ctx.Done():
			s.logger.Info("Session sweeper shutting down", "reason", ctx.Err())
			return nil
		}
	}
}

// SweepOnce performs a single pass.
func (s *Sweeper) SweepOnce(ctx context.Context) {
	if s.cfg.IdleTTL > 0 {
		if n := s.live.Sweep(s.cfg.IdleTTL); n > 0 {
			s.logger.Info("Evicted idle sessions", "count", n)
		}
	}

	if s.stored == nil || s.cfg.Retention <= 0 {
		return
	}
	deleted, err := s.stored.DeleteIdleSessions(ctx, s.cfg.Now().Add(-s.cfg.Retention))
	if err != nil {
		s.logger.Error("Failed to delete stale sessions", "error", err)
		return
	}
	if deleted > 0 {
		s.logger.Info("Deleted stale stored sessions", "count", deleted)
	}
}
