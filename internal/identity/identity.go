// Package identity gives every device an anonymous user id and carries the
// active tapping session id on each request.
package identity

import (
	"context"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ashureev/tapflow/internal/domain"
)

const (
	AnonCookieName    = "tapflow_anon_id"
	SessionHeaderName = "X-Tapflow-Session-ID"
	anonPrefix        = "anon_"
	anonCookieMaxAge  = 90 * 24 * time.Hour
)

type ctxKey struct{ name string }

var (
	userKey    = ctxKey{"user"}
	sessionKey = ctxKey{"session"}
)

var (
	anonIDPattern    = regexp.MustCompile(`^anon_[a-f0-9]{32}$`)
	sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,128}$`)
)

// Users is the slice of the store the middleware needs.
type Users interface {
	GetUser(ctx context.Context, userID string) (*domain.User, error)
	UpsertUser(ctx context.Context, user *domain.User) error
}

// UserIDFromContext returns the anonymous user id, or "" outside the middleware.
func UserIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(userKey).(string)
	return id
}

// SessionIDFromContext returns the session id sent by the client, or "".
func SessionIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(sessionKey).(string)
	return id
}

// WithUserID returns ctx carrying userID. Used by tests and non-HTTP callers.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userKey, userID)
}

func newAnonID() string {
	return anonPrefix + strings.ReplaceAll(uuid.NewString(), "-", "")
}

func isValidAnonID(id string) bool {
	return anonIDPattern.MatchString(id)
}

// requestedSession reads the session id from the header, then the query string.
// Anything that is not a plain token is dropped.
func requestedSession(r *http.Request) string {
	sid := r.Header.Get(SessionHeaderName)
	if sid == "" {
		sid = r.URL.Query().Get("session_id")
	}
	sid = strings.TrimSpace(sid)
	if !sessionIDPattern.MatchString(sid) {
		return ""
	}
	return sid
}

type resolver struct {
	users  Users
	secure bool
	now    func() time.Time
}

// anonID reuses a well-formed cookie or mints a new id. The cookie is rewritten on
// every request so its expiry slides.
func (rv resolver) anonID(w http.ResponseWriter, r *http.Request) string {
	id := ""
	if c, err := r.Cookie(AnonCookieName); err == nil && isValidAnonID(c.Value) {
		id = c.Value
	} else {
		id = newAnonID()
	}
	http.SetCookie(w, &http.Cookie{
		Name:     AnonCookieName,
		Value:    id,
		Path:     "/",
		MaxAge:   int(anonCookieMaxAge.Seconds()),
		Expires:  rv.now().Add(anonCookieMaxAge),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   rv.secure,
	})
	return id
}

// register creates the user row on first sight.
func (rv resolver) register(ctx context.Context, userID string) error {
	existing, err := rv.users.GetUser(ctx, userID)
	if err != nil || existing != nil {
		return err
	}
	now := rv.now()
	return rv.users.UpsertUser(ctx, &domain.User{
		UserID:     userID,
		LastSeenAt: now,
		CreatedAt:  now,
		UpdatedAt:  now,
	})
}

// Middleware injects the anonymous user id and the optional session id. Cookies
// are marked Secure outside development.
func Middleware(users Users, isDev bool) func(http.Handler) http.Handler {
	rv := resolver{users: users, secure: !isDev, now: time.Now}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := rv.anonID(w, r)
			if err := rv.register(r.Context(), userID); err != nil {
				slog.Error("failed to register anonymous user", "user_id", userID, "error", err)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusInternalServerError)
				_, _ = w.Write([]byte(`{"error":"failed to initialize anonymous user"}`))
				return
			}

			ctx := context.WithValue(r.Context(), userKey, userID)
			ctx = context.WithValue(ctx, sessionKey, requestedSession(r))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
