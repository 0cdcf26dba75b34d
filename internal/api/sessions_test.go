package api

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/tapflow/internal/dialogue"
	"github.com/ashureev/tapflow/internal/domain"
	"github.com/ashureev/tapflow/internal/identity"
	"github.com/ashureev/tapflow/internal/session"
)

const testUserHeader = "X-Test-User"

type testServer struct {
	router   chi.Router
	registry *session.Registry
}

func newTestServer(t *testing.T, limit int, opts ...SessionOption) *testServer {
	t.Helper()
	limiter := dialogue.NewFixedWindowLimiter(limit, time.Minute, dialogue.WithoutEviction())
	svc := dialogue.NewService(dialogue.Scripted{}, limiter)
	registry := session.NewRegistry(nil, session.Deps{Dialogue: dialogue.NewLocal(svc)})

	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if u := r.Header.Get(testUserHeader); u != "" {
				r = r.WithContext(identity.WithUserID(r.Context(), u))
			}
			next.ServeHTTP(w, r)
		})
	})
	NewSessionHandler(registry, opts...).RegisterRoutes(r)
	return &testServer{router: r, registry: registry}
}

func (s *testServer) do(t *testing.T, method, path, body string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decodeTurn(t *testing.T, rec *httptest.ResponseRecorder) session.TurnResult {
	t.Helper()
	var res session.TurnResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res), rec.Body.String())
	return res
}

func (s *testServer) create(t *testing.T, body string, headers ...string) string {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/api/sessions", body, headers...)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var out createResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.NotEmpty(t, out.SessionID)
	return out.SessionID
}

func TestSessionWalkthrough(t *testing.T) {
	s := newTestServer(t, 100)
	id := s.create(t, `{"userName":"Sam","problem":"work deadline"}`)
	base := "/api/sessions/" + id

	res := decodeTurn(t, s.do(t, http.MethodPost, base+"/messages", `{"text":"anxious"}`))
	assert.Equal(t, domain.StateGatheringLocation, res.Step.State)
	assert.Equal(t, "anxious", res.Context.Feeling)

	res = decodeTurn(t, s.do(t, http.MethodPost, base+"/messages", `{"text":"chest"}`))
	assert.Equal(t, domain.StateGatheringIntensity, res.Step.State)

	res = decodeTurn(t, s.do(t, http.MethodPost, base+"/intensity", `{"value":7}`))
	require.Equal(t, domain.TappingAt(0), res.Step)
	assert.Equal(t, 1, res.Context.Round)
	assert.Len(t, res.Context.SetupStatements, 3)

	for i := 1; i < domain.TappingPoints; i++ {
		res = decodeTurn(t, s.do(t, http.MethodPost, base+"/points/next", ""))
		assert.Equal(t, domain.TappingAt(i), res.Step)
	}
	res = decodeTurn(t, s.do(t, http.MethodPost, base+"/points/next", ""))
	assert.Equal(t, domain.StateTappingBreathing, res.Step.State)

	res = decodeTurn(t, s.do(t, http.MethodPost, base+"/intensity", `{"value":0}`))
	assert.Equal(t, domain.StateComplete, res.Step.State)

	rec := s.do(t, http.MethodPost, base+"/messages", `{"text":"one more thing"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do(t, http.MethodGet, base, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var view SessionView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, id, view.ID)
	assert.Equal(t, []int{7, 0}, view.Context.IntensityHistory)
	assert.NotEmpty(t, view.Messages)

	rec = s.do(t, http.MethodGet, base+"/transcript?format=html", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/html; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "<blockquote>")
	assert.NotContains(t, rec.Body.String(), "DIRECTIVE")

	rec = s.do(t, http.MethodGet, base+"/transcript", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"messages"`)
}

func TestSessionErrors(t *testing.T) {
	s := newTestServer(t, 100)
	id := s.create(t, `{"userName":"Sam"}`)
	base := "/api/sessions/" + id

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{"unknown session", http.MethodGet, "/api/sessions/nope", "", http.StatusNotFound},
		{"intensity out of range", http.MethodPost, base + "/intensity", `{"value":11}`, http.StatusBadRequest},
		{"intensity missing", http.MethodPost, base + "/intensity", `{}`, http.StatusBadRequest},
		{"unknown choice", http.MethodPost, base + "/choice", `{"choice":"nap"}`, http.StatusBadRequest},
		{"not tapping", http.MethodPost, base + "/points/next", "", http.StatusConflict},
		{"empty message", http.MethodPost, base + "/messages", `{"text":"   "}`, http.StatusBadRequest},
		{"bad json", http.MethodPost, base + "/messages", `{"text":`, http.StatusBadRequest},
		{"body too large", http.MethodPost, base + "/messages", `{"text":"` + strings.Repeat("a", maxBodyBytes) + `"}`, http.StatusRequestEntityTooLarge},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := s.do(t, tc.method, tc.path, tc.body)
			assert.Equal(t, tc.want, rec.Code, rec.Body.String())
			var body map[string]string
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestSessionOwnership(t *testing.T) {
	s := newTestServer(t, 100)
	id := s.create(t, `{"userName":"Sam"}`, testUserHeader, "anon_a")

	rec := s.do(t, http.MethodGet, "/api/sessions/"+id, "", testUserHeader, "anon_b")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/sessions/"+id, "", testUserHeader, "anon_a")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimitedTurnReturns429(t *testing.T) {
	s := newTestServer(t, 1)
	id := s.create(t, `{"userName":"Sam"}`)
	base := "/api/sessions/" + id

	rec := s.do(t, http.MethodPost, base+"/messages", `{"text":"exams"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodPost, base+"/messages", `{"text":"still exams"}`)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	res := decodeTurn(t, rec)
	assert.True(t, res.RateLimited)
	require.NotEmpty(t, res.Messages)
	assert.Equal(t, dialogue.RateLimitMessage, res.Messages[len(res.Messages)-1].Content)
}

type fakeUsers struct {
	stored map[string]*domain.User
}

func (f *fakeUsers) GetUser(_ context.Context, id string) (*domain.User, error) {
	return f.stored[id], nil
}

func (f *fakeUsers) UpsertUser(_ context.Context, u *domain.User) error {
	f.stored[u.UserID] = u
	return nil
}

func TestCreateRemembersDisplayName(t *testing.T) {
	users := &fakeUsers{stored: map[string]*domain.User{}}
	s := newTestServer(t, 100, WithUsers(users))

	s.create(t, `{"userName":"Robin"}`, testUserHeader, "anon_a")
	require.Contains(t, users.stored, "anon_a")
	assert.Equal(t, "Robin", users.stored["anon_a"].DisplayName)

	rec := s.do(t, http.MethodPost, "/api/sessions", `{}`, testUserHeader, "anon_a")
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Contains(t, rec.Body.String(), "Hi Robin")
}

type fakeEpisodes struct {
	eps []domain.Episode
	err error
}

func (f fakeEpisodes) ListEpisodes(context.Context, string) ([]domain.Episode, error) {
	return f.eps, f.err
}

func TestListEpisodes(t *testing.T) {
	s := newTestServer(t, 100, WithEpisodes(fakeEpisodes{}))
	rec := s.do(t, http.MethodGet, "/api/episodes", "", testUserHeader, "anon_a")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"episodes":[]}`, rec.Body.String())

	s = newTestServer(t, 100, WithEpisodes(fakeEpisodes{err: errors.New("db down")}))
	rec = s.do(t, http.MethodGet, "/api/episodes", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestStatusFor(t *testing.T) {
	code, _ := StatusFor(domain.ErrSessionBusy)
	assert.Equal(t, http.StatusConflict, code)
	code, msg := StatusFor(errors.New("boom"))
	assert.Equal(t, http.StatusInternalServerError, code)
	assert.Equal(t, "internal error", msg)
}

func TestJSONHelpers(t *testing.T) {
	rec := httptest.NewRecorder()
	Error(rec, http.StatusTeapot, "short and stout")
	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"error":"short and stout"}`, rec.Body.String())

	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(nil))
	var v map[string]any
	require.NoError(t, decodeJSON(httptest.NewRecorder(), req, &v))
	assert.Nil(t, v)
}
