package identity

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/ashureev/tapflow/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeUsers struct {
	mu      sync.Mutex
	users   map[string]*domain.User
	upserts int
	fail    bool
}

func newFakeUsers() *fakeUsers {
	return &fakeUsers{users: make(map[string]*domain.User)}
}

func (f *fakeUsers) GetUser(_ context.Context, id string) (*domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return nil, errors.New("db down")
	}
	return f.users[id], nil
}

func (f *fakeUsers) UpsertUser(_ context.Context, u *domain.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upserts++
	f.users[u.UserID] = u
	return nil
}

func capture(t *testing.T, users Users, req *http.Request) (userID, sessionID string, rec *httptest.ResponseRecorder) {
	t.Helper()
	rec = httptest.NewRecorder()
	h := Middleware(users, true)(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		userID = UserIDFromContext(r.Context())
		sessionID = SessionIDFromContext(r.Context())
	}))
	h.ServeHTTP(rec, req)
	return userID, sessionID, rec
}

func TestMiddlewareMintsAndReusesIdentity(t *testing.T) {
	users := newFakeUsers()

	first, sid, rec := capture(t, users, httptest.NewRequest(http.MethodGet, "/", nil))
	require.True(t, isValidAnonID(first), first)
	assert.Empty(t, sid)
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, AnonCookieName, cookies[0].Name)
	assert.False(t, cookies[0].Secure)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: AnonCookieName, Value: first})
	req.Header.Set(SessionHeaderName, "abc-123")
	second, sid, _ := capture(t, users, req)

	assert.Equal(t, first, second)
	assert.Equal(t, "abc-123", sid)
	assert.Equal(t, 1, users.upserts)
}

func TestMiddlewareRejectsForgedCookieAndBadSessionID(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/?session_id=../../etc", nil)
	req.AddCookie(&http.Cookie{Name: AnonCookieName, Value: "admin"})

	id, sid, _ := capture(t, newFakeUsers(), req)
	assert.NotEqual(t, "admin", id)
	assert.True(t, isValidAnonID(id))
	assert.Empty(t, sid)
}

func TestMiddlewareFailsWhenStoreFails(t *testing.T) {
	users := newFakeUsers()
	users.fail = true
	_, _, rec := capture(t, users, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestWithUserID(t *testing.T) {
	ctx := WithUserID(context.Background(), "anon_x")
	assert.Equal(t, "anon_x", UserIDFromContext(ctx))
	assert.Empty(t, SessionIDFromContext(ctx))
}
