// Package transcript keeps human-readable records of conversations: an
// asynchronous NDJSON log per session and an HTML rendering of a stored transcript.
package transcript

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/ashureev/tapflow/internal/directive"
	"github.com/ashureev/tapflow/internal/domain"
	"github.com/goccy/go-json"
)

// LogConfig controls NDJSON conversation logging.
type LogConfig struct {
	Enabled       bool
	Dir           string
	GlobalEnabled bool
	GlobalPath    string
	QueueSize     int
}

// Event is one line of the conversation log.
type Event struct {
	Timestamp  time.Time `json:"timestamp"`
	UserID     string    `json:"user_id"`
	SessionID  string    `json:"session_id"`
	Channel    string    `json:"channel"`
	Direction  string    `json:"direction"`
	EventType  string    `json:"event_type"`
	State      string    `json:"state,omitempty"`
	Content    string    `json:"content"`
	ContentRaw string    `json:"content_raw,omitempty"`
}

// Logger records conversation events. Log never blocks the caller.
type Logger interface {
	Log(ev Event)
	Close() error
}

// Noop discards everything.
type Noop struct{}

func (Noop) Log(Event)    {}
func (Noop) Close() error { return nil }

// ConversationLogger writes events to <dir>/<user>/<session>.ndjson from a single
// background goroutine, and optionally to one global file.
type ConversationLogger struct {
	cfg    LogConfig
	logger *slog.Logger
	queue  chan Event

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// NewConversationLogger returns Noop when logging is disabled.
func NewConversationLogger(cfg LogConfig, logger *slog.Logger) (Logger, error) {
	if !cfg.Enabled {
		return Noop{}, nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1000
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create conversation log dir: %w", err)
	}
	if cfg.GlobalEnabled {
		if err := os.MkdirAll(filepath.Dir(cfg.GlobalPath), 0o755); err != nil {
			return nil, fmt.Errorf("create global conversation log dir: %w", err)
		}
	}

	l := &ConversationLogger{
		cfg:    cfg,
		logger: logger,
		queue:  make(chan Event, cfg.QueueSize),
		done:   make(chan struct{}),
	}
	go l.run()
	return l, nil
}

// Log enqueues ev. When the queue is full the event is dropped with a warning.
func (l *ConversationLogger) Log(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	if ev.Content == "" {
		ev.Content = cleanForReadability(ev.ContentRaw)
	}

	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return
	}
	select {
	case l.queue <- ev:
	default:
		l.logger.Warn("conversation log queue full, dropping event",
			"session_id", ev.SessionID, "event_type", ev.EventType)
	}
}

// Close drains the queue and stops the writer.
func (l *ConversationLogger) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	close(l.queue)
	l.mu.Unlock()

	<-l.done
	return nil
}

func (l *ConversationLogger) run() {
	defer close(l.done)
	for ev := range l.queue {
		line, err := json.Marshal(ev)
		if err != nil {
			l.logger.Warn("encode conversation event", "error", err)
			continue
		}
		line = append(line, '\n')

		path := filepath.Join(l.cfg.Dir, safeName(ev.UserID), safeName(ev.SessionID)+".ndjson")
		if err := appendLine(path, line); err != nil {
			l.logger.Warn("write conversation log", "path", path, "error", err)
		}
		if l.cfg.GlobalEnabled {
			if err := appendLine(l.cfg.GlobalPath, line); err != nil {
				l.logger.Warn("write global conversation log", "error", err)
			}
		}
	}
}

func appendLine(path string, line []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	_, werr := f.Write(line)
	return errors.Join(werr, f.Close())
}

var unsafeNameChars = regexp.MustCompile(`[^A-Za-z0-9._-]`)

func safeName(s string) string {
	s = unsafeNameChars.ReplaceAllString(s, "_")
	s = strings.Trim(s, ".")
	if s == "" {
		return "unknown"
	}
	return s
}

var controlChars = regexp.MustCompile(`[\x00-\x08\x0b-\x1f\x7f]`)

// cleanForReadability drops directive blocks and control characters and
// collapses runs of whitespace.
func cleanForReadability(raw string) string {
	s := directive.Strip(raw)
	s = controlChars.ReplaceAllString(s, "")
	return strings.Join(strings.Fields(s), " ")
}

// LogTurn records each message of a turn as its own event.
func LogTurn(l Logger, userID, sessionID, channel string, step domain.Step, msgs []domain.Message) {
	for _, m := range msgs {
		direction := "outbound"
		if m.Type == domain.MessageUser {
			direction = "inbound"
		}
		l.Log(Event{
			Timestamp:  m.Timestamp.UTC(),
			UserID:     userID,
			SessionID:  sessionID,
			Channel:    channel,
			Direction:  direction,
			EventType:  string(m.Type) + "_message",
			State:      step.String(),
			ContentRaw: m.Content,
		})
	}
}
