package store

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/ashureev/tapflow/internal/domain"
	"github.com/ashureev/tapflow/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ session.SessionStore = (*SQLiteStore)(nil)
var _ Repository = (*SQLiteStore)(nil)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "nested", "tapflow.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestUserUpsertKeepsDisplayName(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	missing, err := s.GetUser(ctx, "anon_x")
	require.NoError(t, err)
	assert.Nil(t, missing)

	now := time.Unix(1_700_000_000, 0)
	require.NoError(t, s.UpsertUser(ctx, &domain.User{UserID: "anon_x", DisplayName: "Sam", LastSeenAt: now, CreatedAt: now, UpdatedAt: now}))
	require.NoError(t, s.UpsertUser(ctx, &domain.User{UserID: "anon_x", LastSeenAt: now.Add(time.Hour), CreatedAt: now, UpdatedAt: now.Add(time.Hour)}))

	u, err := s.GetUser(ctx, "anon_x")
	require.NoError(t, err)
	require.NotNil(t, u)
	assert.Equal(t, "Sam", u.DisplayName)
	assert.Equal(t, now.Add(time.Hour).Unix(), u.LastSeenAt.Unix())

	later := now.Add(2 * time.Hour)
	require.NoError(t, s.UpdateLastSeen(ctx, "anon_x", later))
	u, err = s.GetUser(ctx, "anon_x")
	require.NoError(t, err)
	assert.Equal(t, later.Unix(), u.LastSeenAt.Unix())
}

func TestSessionRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.LoadSession(ctx, "nope")
	require.ErrorIs(t, err, domain.ErrSessionNotFound)

	var sc domain.SessionContext
	sc.SetProblem("work deadline")
	sc.Feeling = "anxious"
	sc.RecordIntensity(7)
	sc.SetInitialIntensity(7)
	sc.StartRound([]string{"a", "b", "c"}, []int{0, 1, 2, 0, 1, 2, 1, 0}, nil)

	created := time.UnixMilli(1_700_000_000_123)
	sess := domain.Session{
		ID:        "s1",
		UserID:    "anon_x",
		UserName:  "Sam",
		Step:      domain.TappingAt(3),
		Context:   sc,
		CreatedAt: created,
		UpdatedAt: created.Add(time.Minute),
	}
	require.NoError(t, s.SaveSession(ctx, sess))

	got, err := s.LoadSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, domain.TappingAt(3), got.Step)
	assert.Equal(t, "Sam", got.UserName)
	assert.Equal(t, sc, got.Context)
	assert.True(t, got.CreatedAt.Equal(created))

	sess.Step = domain.At(domain.StatePostTapping)
	sess.UpdatedAt = created.Add(2 * time.Minute)
	require.NoError(t, s.SaveSession(ctx, sess))

	got, err = s.LoadSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatePostTapping, got.Step.State)
	assert.True(t, got.UpdatedAt.Equal(created.Add(2*time.Minute)))
}

func message(sessionID string, i int, at time.Time) domain.Message {
	typ := domain.MessageUser
	if i%2 == 0 {
		typ = domain.MessageBot
	}
	return domain.Message{
		ID:        fmt.Sprintf("m%02d", i),
		SessionID: sessionID,
		Type:      typ,
		Content:   fmt.Sprintf("message %d", i),
		Timestamp: at.Add(time.Duration(i) * time.Second),
	}
}

func TestTranscriptAppendAndWindow(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	base := time.UnixMilli(1_700_000_000_000)

	var batch []domain.Message
	for i := 0; i < 6; i++ {
		batch = append(batch, message("s1", i, base))
	}
	require.NoError(t, s.AppendTranscript(ctx, "s1", batch[:4]))
	// Replaying an overlapping batch stores only the new messages.
	require.NoError(t, s.AppendTranscript(ctx, "s1", batch[2:]))
	require.NoError(t, s.AppendTranscript(ctx, "other", []domain.Message{message("other", 99, base)}))

	all, err := s.ListMessages(ctx, "s1", 0)
	require.NoError(t, err)
	require.Len(t, all, 6)
	assert.Equal(t, "m00", all[0].ID)
	assert.Equal(t, domain.MessageBot, all[0].Type)
	assert.True(t, all[5].Timestamp.Equal(base.Add(5*time.Second)))

	recent, err := s.ListMessages(ctx, "s1", 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "m04", recent[0].ID)
	assert.Equal(t, "m05", recent[1].ID)
}

func TestEpisodeLifecycle(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	id, err := s.CreateEpisode(ctx, domain.Episode{
		UserID:           "anon_x",
		SessionID:        "s1",
		Problem:          "work deadline",
		Feeling:          "anxious",
		BodyLocation:     "chest",
		InitialIntensity: 8,
	})
	require.NoError(t, err)
	assert.Len(t, id, 26)

	rounds := 2
	final := 1
	done := time.UnixMilli(1_700_000_500_000)
	require.NoError(t, s.UpdateEpisode(ctx, id, domain.EpisodeUpdate{RoundsCompleted: &rounds}))
	require.NoError(t, s.UpdateEpisode(ctx, id, domain.EpisodeUpdate{FinalIntensity: &final, CompletedAt: &done}))
	require.NoError(t, s.UpdateEpisode(ctx, id, domain.EpisodeUpdate{}))

	ep, err := s.GetEpisode(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "chest", ep.BodyLocation)
	assert.Equal(t, 8, ep.InitialIntensity)
	assert.Equal(t, 2, ep.RoundsCompleted)
	require.NotNil(t, ep.FinalIntensity)
	assert.Equal(t, 1, *ep.FinalIntensity)
	require.NotNil(t, ep.CompletedAt)
	assert.True(t, ep.CompletedAt.Equal(done))

	err = s.UpdateEpisode(ctx, "missing", domain.EpisodeUpdate{RoundsCompleted: &rounds})
	require.ErrorIs(t, err, ErrEpisodeNotFound)
	_, err = s.GetEpisode(ctx, "missing")
	require.ErrorIs(t, err, ErrEpisodeNotFound)

	second, err := s.CreateEpisode(ctx, domain.Episode{UserID: "anon_x", SessionID: "s1", InitialIntensity: 4})
	require.NoError(t, err)
	list, err := s.ListEpisodes(ctx, "anon_x")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, second, list[1].ID)
	assert.Nil(t, list[1].FinalIntensity)
}

func TestDeleteIdleSessions(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	base := time.UnixMilli(1_700_000_000_000)

	for i, id := range []string{"old", "fresh"} {
		require.NoError(t, s.SaveSession(ctx, domain.Session{
			ID:        id,
			UserID:    "anon_x",
			Step:      domain.At(domain.StateConversation),
			CreatedAt: base,
			UpdatedAt: base.Add(time.Duration(i) * time.Hour),
		}))
		require.NoError(t, s.AppendTranscript(ctx, id, []domain.Message{message(id, i, base)}))
	}

	n, err := s.DeleteIdleSessions(ctx, base.Add(30*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = s.LoadSession(ctx, "old")
	require.ErrorIs(t, err, domain.ErrSessionNotFound)
	msgs, err := s.ListMessages(ctx, "old", 0)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	_, err = s.LoadSession(ctx, "fresh")
	require.NoError(t, err)
	require.NoError(t, s.Ping(ctx))
}
