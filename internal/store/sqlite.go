package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ashureev/tapflow/internal/domain"
	"github.com/ashureev/tapflow/internal/shared"
	"github.com/goccy/go-json"
	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository on a single sqlite file.
type SQLiteStore struct {
	db    *sql.DB
	retry shared.RetryPolicy
}

// NewSQLite opens (creating if needed) the database at dbPath.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	dsn := dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(8)
	db.SetMaxIdleConns(4)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &SQLiteStore{db: db, retry: shared.DefaultRetryPolicy}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS users (
		user_id TEXT PRIMARY KEY,
		display_name TEXT NOT NULL DEFAULT '',
		last_seen_at INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS sessions (
		session_id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		user_name TEXT NOT NULL DEFAULT '',
		state TEXT NOT NULL,
		point INTEGER NOT NULL DEFAULT 0,
		context_json TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_updated ON sessions(updated_at);

	CREATE TABLE IF NOT EXISTS messages (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		message_id TEXT NOT NULL UNIQUE,
		session_id TEXT NOT NULL,
		type TEXT NOT NULL,
		content TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, seq);

	CREATE TABLE IF NOT EXISTS episodes (
		episode_id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		session_id TEXT NOT NULL,
		problem TEXT NOT NULL DEFAULT '',
		feeling TEXT NOT NULL DEFAULT '',
		body_location TEXT NOT NULL DEFAULT '',
		initial_intensity INTEGER NOT NULL,
		final_intensity INTEGER,
		rounds_completed INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		completed_at INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_episodes_user ON episodes(user_id, created_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// GetUser retrieves a user by id.
func (s *SQLiteStore) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT user_id, display_name, last_seen_at, created_at, updated_at
		FROM users WHERE user_id = ?`, userID)

	var user domain.User
	var lastSeen, createdAt, updatedAt int64
	err := row.Scan(&user.UserID, &user.DisplayName, &lastSeen, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan user row: %w", err)
	}
	user.LastSeenAt = time.Unix(lastSeen, 0)
	user.CreatedAt = time.Unix(createdAt, 0)
	user.UpdatedAt = time.Unix(updatedAt, 0)
	return &user, nil
}

// UpsertUser creates a user or refreshes it. An empty display name never
// overwrites a stored one.
func (s *SQLiteStore) UpsertUser(ctx context.Context, user *domain.User) error {
	_, err := s.db.ExecContext(ctx, `
	INSERT INTO users (user_id, display_name, last_seen_at, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(user_id) DO UPDATE SET
		display_name = CASE WHEN excluded.display_name = '' THEN users.display_name ELSE excluded.display_name END,
		last_seen_at = excluded.last_seen_at,
		updated_at = excluded.updated_at`,
		user.UserID, user.DisplayName,
		user.LastSeenAt.Unix(), user.CreatedAt.Unix(), user.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}

// UpdateLastSeen bumps last_seen_at for a user.
func (s *SQLiteStore) UpdateLastSeen(ctx context.Context, userID string, lastSeen time.Time) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE users SET last_seen_at = ?, updated_at = ? WHERE user_id = ?`,
		lastSeen.Unix(), time.Now().Unix(), userID)
	if err != nil {
		return fmt.Errorf("update last_seen: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		slog.Warn("UpdateLastSeen affected 0 rows", "user_id", userID)
	}
	return nil
}

// SaveSession writes the session snapshot, replacing any previous one.
func (s *SQLiteStore) SaveSession(ctx context.Context, sess domain.Session) error {
	ctxJSON, err := json.Marshal(sess.Context)
	if err != nil {
		return fmt.Errorf("encode session context: %w", err)
	}
	return shared.RetryOnConflict(ctx, s.retry, "save session", func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (session_id, user_id, user_name, state, point, context_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			user_name = excluded.user_name,
			state = excluded.state,
			point = excluded.point,
			context_json = excluded.context_json,
			updated_at = excluded.updated_at`,
			sess.ID, sess.UserID, sess.UserName,
			string(sess.Step.State), sess.Step.Point, string(ctxJSON),
			sess.CreatedAt.UnixMilli(), sess.UpdatedAt.UnixMilli(),
		)
		return err
	})
}

// LoadSession reads a session snapshot.
func (s *SQLiteStore) LoadSession(ctx context.Context, id string) (*domain.Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT session_id, user_id, user_name, state, point, context_json, created_at, updated_at
		FROM sessions WHERE session_id = ?`, id)

	var sess domain.Session
	var state, ctxJSON string
	var createdAt, updatedAt int64
	err := row.Scan(&sess.ID, &sess.UserID, &sess.UserName, &state, &sess.Step.Point,
		&ctxJSON, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan session row: %w", err)
	}

	st, ok := domain.ParseState(state)
	if !ok {
		return nil, fmt.Errorf("session %s: unknown state %q", id, state)
	}
	sess.Step.State = st
	if err := json.Unmarshal([]byte(ctxJSON), &sess.Context); err != nil {
		return nil, fmt.Errorf("decode session context: %w", err)
	}
	sess.CreatedAt = time.UnixMilli(createdAt)
	sess.UpdatedAt = time.UnixMilli(updatedAt)
	return &sess, nil
}

// DeleteIdleSessions removes sessions last updated before the cutoff along with
// their transcripts. Episodes are kept.
func (s *SQLiteStore) DeleteIdleSessions(ctx context.Context, before time.Time) (int64, error) {
	var deleted int64
	err := shared.RetryOnConflict(ctx, s.retry, "delete idle sessions", func(ctx context.Context) error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		cutoff := before.UnixMilli()
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM messages WHERE session_id IN
			(SELECT session_id FROM sessions WHERE updated_at < ?)`, cutoff); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE updated_at < ?`, cutoff)
		if err != nil {
			return err
		}
		if deleted, err = res.RowsAffected(); err != nil {
			return err
		}
		return tx.Commit()
	})
	if err != nil {
		return 0, err
	}
	return deleted, nil
}

// AppendTranscript stores messages in order. Messages already stored are skipped,
// so replaying a batch is harmless.
func (s *SQLiteStore) AppendTranscript(ctx context.Context, sessionID string, msgs []domain.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	return shared.RetryOnConflict(ctx, s.retry, "append transcript", func(ctx context.Context) error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO messages (message_id, session_id, type, content, created_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(message_id) DO NOTHING`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, m := range msgs {
			if _, err := stmt.ExecContext(ctx, m.ID, sessionID, string(m.Type), m.Content, m.Timestamp.UnixMilli()); err != nil {
				return err
			}
		}
		return tx.Commit()
	})
}

// ListMessages returns a session's transcript, oldest first.
func (s *SQLiteStore) ListMessages(ctx context.Context, sessionID string, limit int) ([]domain.Message, error) {
	query := `
		SELECT message_id, session_id, type, content, created_at FROM (
			SELECT seq, message_id, session_id, type, content, created_at
			FROM messages WHERE session_id = ?
			ORDER BY seq DESC`
	args := []any{sessionID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	query += `) ORDER BY seq ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close message rows", "error", closeErr)
		}
	}()

	var out []domain.Message
	for rows.Next() {
		var m domain.Message
		var typ string
		var createdAt int64
		if err := rows.Scan(&m.ID, &m.SessionID, &typ, &m.Content, &createdAt); err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		m.Type = domain.MessageType(typ)
		m.Timestamp = time.UnixMilli(createdAt)
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return out, nil
}

// CreateEpisode inserts an episode and returns its ULID handle.
func (s *SQLiteStore) CreateEpisode(ctx context.Context, ep domain.Episode) (string, error) {
	id := ulid.Make().String()
	if ep.CreatedAt.IsZero() {
		ep.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO episodes (episode_id, user_id, session_id, problem, feeling, body_location,
			initial_intensity, final_intensity, rounds_completed, created_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, ep.UserID, ep.SessionID, ep.Problem, ep.Feeling, ep.BodyLocation,
		ep.InitialIntensity, nullableInt(ep.FinalIntensity), ep.RoundsCompleted,
		ep.CreatedAt.UnixMilli(), nullableTime(ep.CompletedAt),
	)
	if err != nil {
		return "", fmt.Errorf("insert episode: %w", err)
	}
	return id, nil
}

// UpdateEpisode applies the non-nil fields of u.
func (s *SQLiteStore) UpdateEpisode(ctx context.Context, id string, u domain.EpisodeUpdate) error {
	var sets []string
	var args []any
	if u.FinalIntensity != nil {
		sets = append(sets, "final_intensity = ?")
		args = append(args, *u.FinalIntensity)
	}
	if u.RoundsCompleted != nil {
		sets = append(sets, "rounds_completed = ?")
		args = append(args, *u.RoundsCompleted)
	}
	if u.CompletedAt != nil {
		sets = append(sets, "completed_at = ?")
		args = append(args, u.CompletedAt.UnixMilli())
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, id)

	query := `UPDATE episodes SET ` + strings.Join(sets, ", ") + ` WHERE episode_id = ?`
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update episode: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("update episode %s: %w", id, ErrEpisodeNotFound)
	}
	return nil
}

const episodeColumns = `episode_id, user_id, session_id, problem, feeling, body_location,
	initial_intensity, final_intensity, rounds_completed, created_at, completed_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEpisode(row rowScanner) (domain.Episode, error) {
	var ep domain.Episode
	var final, completed sql.NullInt64
	var createdAt int64
	err := row.Scan(&ep.ID, &ep.UserID, &ep.SessionID, &ep.Problem, &ep.Feeling, &ep.BodyLocation,
		&ep.InitialIntensity, &final, &ep.RoundsCompleted, &createdAt, &completed)
	if err != nil {
		return ep, err
	}
	ep.CreatedAt = time.UnixMilli(createdAt)
	if final.Valid {
		v := int(final.Int64)
		ep.FinalIntensity = &v
	}
	if completed.Valid {
		t := time.UnixMilli(completed.Int64)
		ep.CompletedAt = &t
	}
	return ep, nil
}

// GetEpisode returns nil, ErrEpisodeNotFound for unknown ids.
func (s *SQLiteStore) GetEpisode(ctx context.Context, id string) (*domain.Episode, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+episodeColumns+` FROM episodes WHERE episode_id = ?`, id)
	ep, err := scanEpisode(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrEpisodeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan episode row: %w", err)
	}
	return &ep, nil
}

// ListEpisodes returns a user's episodes, oldest first.
func (s *SQLiteStore) ListEpisodes(ctx context.Context, userID string) ([]domain.Episode, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+episodeColumns+` FROM episodes WHERE user_id = ? ORDER BY created_at, episode_id`, userID)
	if err != nil {
		return nil, fmt.Errorf("query episodes: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close episode rows", "error", closeErr)
		}
	}()

	var out []domain.Episode
	for rows.Next() {
		ep, err := scanEpisode(rows)
		if err != nil {
			return nil, fmt.Errorf("scan episode row: %w", err)
		}
		out = append(out, ep)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate episodes: %w", err)
	}
	return out, nil
}

func nullableInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixMilli()
}
