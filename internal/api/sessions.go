package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/tapflow/internal/dialogue"
	"github.com/ashureev/tapflow/internal/domain"
	"github.com/ashureev/tapflow/internal/identity"
	"github.com/ashureev/tapflow/internal/session"
	"github.com/ashureev/tapflow/internal/transcript"
)

// Users stores display names given at session start.
type Users interface {
	GetUser(ctx context.Context, userID string) (*domain.User, error)
	UpsertUser(ctx context.Context, user *domain.User) error
}

// Episodes lists a user's completed and in-progress tapping episodes.
type Episodes interface {
	ListEpisodes(ctx context.Context, userID string) ([]domain.Episode, error)
}

// SessionHandler serves /api/sessions.
type SessionHandler struct {
	registry *session.Registry
	users    Users
	episodes Episodes
	journal  transcript.Logger
	logger   *slog.Logger
}

// SessionOption configures a SessionHandler.
type SessionOption func(*SessionHandler)

// WithUsers remembers display names across sessions.
func WithUsers(u Users) SessionOption { return func(h *SessionHandler) { h.users = u } }

// WithEpisodes enables GET /api/episodes.
func WithEpisodes(e Episodes) SessionOption { return func(h *SessionHandler) { h.episodes = e } }

// WithJournal records every turn in the conversation log.
func WithJournal(l transcript.Logger) SessionOption { return func(h *SessionHandler) { h.journal = l } }

// WithLogger sets the handler's logger.
func WithLogger(l *slog.Logger) SessionOption { return func(h *SessionHandler) { h.logger = l } }

// NewSessionHandler creates a handler over registry.
func NewSessionHandler(registry *session.Registry, opts ...SessionOption) *SessionHandler {
	h := &SessionHandler{registry: registry, journal: transcript.Noop{}, logger: slog.Default()}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// RegisterRoutes mounts the session routes on r.
func (h *SessionHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/sessions", func(r chi.Router) {
		r.Post("/", h.Create)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.Get)
			r.Post("/messages", h.SubmitMessage)
			r.Post("/intensity", h.SubmitIntensity)
			r.Post("/points/next", h.AdvancePoint)
			r.Post("/choice", h.Choose)
			r.Post("/problem", h.NewProblem)
			r.Get("/transcript", h.Transcript)
		})
	})
	if h.episodes != nil {
		r.Get("/api/episodes", h.ListEpisodes)
	}
}

// SessionView is the GET representation of a session.
type SessionView struct {
	ID        string                `json:"id"`
	Step      domain.Step           `json:"step"`
	Context   domain.SessionContext `json:"context"`
	Messages  []domain.Message      `json:"messages"`
	UpdatedAt time.Time             `json:"updatedAt"`
}

func viewOf(o *session.Orchestrator) SessionView {
	return SessionView{
		ID:        o.ID(),
		Step:      o.Step(),
		Context:   o.Context(),
		Messages:  o.Messages(),
		UpdatedAt: o.UpdatedAt(),
	}
}

type createResponse struct {
	SessionID string             `json:"sessionId"`
	Result    session.TurnResult `json:"result"`
}

type messageRequest struct {
	Text    string                `json:"text"`
	Context *session.ContextPatch `json:"context,omitempty"`
}

type intensityRequest struct {
	Value *int `json:"value"`
}

type choiceRequest struct {
	Choice string `json:"choice"`
}

type problemRequest struct {
	Problem string `json:"problem"`
}

// turnContext carries the caller's rate-limit key into the dialogue service.
func turnContext(r *http.Request) context.Context {
	return dialogue.WithClientKey(r.Context(), dialogue.ClientKey(r))
}

// Create starts a session. POST /api/sessions
func (h *SessionHandler) Create(w http.ResponseWriter, r *http.Request) {
	var in session.StartInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeDecodeError(w, err)
		return
	}
	userID := identity.UserIDFromContext(r.Context())
	in.UserName = h.rememberName(r.Context(), userID, in.UserName)

	o, res, err := h.registry.Create(turnContext(r), userID, in)
	if err != nil {
		h.writeError(w, err)
		return
	}
	transcript.LogTurn(h.journal, userID, o.ID(), "http", res.Step, res.Messages)
	JSON(w, http.StatusCreated, createResponse{SessionID: o.ID(), Result: res})
}

// rememberName stores a provided name, or recalls the stored one when none is given.
func (h *SessionHandler) rememberName(ctx context.Context, userID, name string) string {
	if h.users == nil || userID == "" {
		return name
	}
	if name != "" {
		now := time.Now()
		err := h.users.UpsertUser(ctx, &domain.User{
			UserID: userID, DisplayName: name, LastSeenAt: now, CreatedAt: now, UpdatedAt: now,
		})
		if err != nil {
			h.logger.Warn("failed to store display name", "user_id", userID, "error", err)
		}
		return name
	}
	u, err := h.users.GetUser(ctx, userID)
	if err != nil {
		h.logger.Warn("failed to load user", "user_id", userID, "error", err)
		return name
	}
	if u != nil {
		return u.DisplayName
	}
	return name
}

// Get returns the session view. GET /api/sessions/{id}
func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	o, err := h.registry.Get(r.Context(), chi.URLParam(r, "id"), identity.UserIDFromContext(r.Context()))
	if err != nil {
		h.writeError(w, err)
		return
	}
	JSON(w, http.StatusOK, viewOf(o))
}

// SubmitMessage handles POST /api/sessions/{id}/messages.
func (h *SessionHandler) SubmitMessage(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}
	h.turn(w, r, func(ctx context.Context, o *session.Orchestrator) (session.TurnResult, error) {
		return o.SubmitMessage(ctx, req.Text, req.Context)
	})
}

// SubmitIntensity handles POST /api/sessions/{id}/intensity.
func (h *SessionHandler) SubmitIntensity(w http.ResponseWriter, r *http.Request) {
	var req intensityRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}
	if req.Value == nil {
		Error(w, http.StatusBadRequest, "value is required")
		return
	}
	h.turn(w, r, func(ctx context.Context, o *session.Orchestrator) (session.TurnResult, error) {
		return o.SubmitIntensity(ctx, *req.Value)
	})
}

// AdvancePoint handles POST /api/sessions/{id}/points/next.
func (h *SessionHandler) AdvancePoint(w http.ResponseWriter, r *http.Request) {
	h.turn(w, r, func(ctx context.Context, o *session.Orchestrator) (session.TurnResult, error) {
		return o.AdvancePoint(ctx)
	})
}

// Choose handles POST /api/sessions/{id}/choice.
func (h *SessionHandler) Choose(w http.ResponseWriter, r *http.Request) {
	var req choiceRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}
	choice, ok := session.ParseChoice(req.Choice)
	if !ok {
		h.writeError(w, domain.ErrInvalidChoice)
		return
	}
	h.turn(w, r, func(ctx context.Context, o *session.Orchestrator) (session.TurnResult, error) {
		return o.Choose(ctx, choice)
	})
}

// NewProblem handles POST /api/sessions/{id}/problem.
func (h *SessionHandler) NewProblem(w http.ResponseWriter, r *http.Request) {
	var req problemRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}
	h.turn(w, r, func(ctx context.Context, o *session.Orchestrator) (session.TurnResult, error) {
		return o.NewProblem(ctx, req.Problem)
	})
}

// Transcript returns the message log as JSON, or as HTML with ?format=html.
func (h *SessionHandler) Transcript(w http.ResponseWriter, r *http.Request) {
	o, err := h.registry.Get(r.Context(), chi.URLParam(r, "id"), identity.UserIDFromContext(r.Context()))
	if err != nil {
		h.writeError(w, err)
		return
	}
	msgs := o.Messages()
	if r.URL.Query().Get("format") != "html" {
		JSON(w, http.StatusOK, map[string]any{"sessionId": o.ID(), "messages": msgs})
		return
	}

	html, err := transcript.RenderHTML("Session "+o.ID(), msgs)
	if err != nil {
		h.logger.Error("render transcript", "session_id", o.ID(), "error", err)
		Error(w, http.StatusInternalServerError, "failed to render transcript")
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(html)
}

// ListEpisodes handles GET /api/episodes.
func (h *SessionHandler) ListEpisodes(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	eps, err := h.episodes.ListEpisodes(r.Context(), userID)
	if err != nil {
		h.logger.Error("list episodes", "user_id", userID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to list episodes")
		return
	}
	if eps == nil {
		eps = []domain.Episode{}
	}
	JSON(w, http.StatusOK, map[string]any{"episodes": eps})
}

func (h *SessionHandler) turn(w http.ResponseWriter, r *http.Request, fn func(context.Context, *session.Orchestrator) (session.TurnResult, error)) {
	id := chi.URLParam(r, "id")
	userID := identity.UserIDFromContext(r.Context())

	res, err := h.registry.Do(turnContext(r), id, userID, fn)
	if err != nil {
		h.writeError(w, err)
		return
	}
	transcript.LogTurn(h.journal, userID, id, "http", res.Step, res.Messages)

	status := http.StatusOK
	if res.RateLimited {
		status = http.StatusTooManyRequests
	}
	JSON(w, status, res)
}

func (h *SessionHandler) writeError(w http.ResponseWriter, err error) {
	status, msg := StatusFor(err)
	if status == http.StatusInternalServerError {
		h.logger.Error("session request failed", "error", err)
	}
	Error(w, status, msg)
}

// StatusFor maps session errors to an HTTP status and client-safe message.
func StatusFor(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrSessionNotFound):
		return http.StatusNotFound, domain.ErrSessionNotFound.Error()
	case errors.Is(err, domain.ErrSessionBusy):
		return http.StatusConflict, domain.ErrSessionBusy.Error()
	case errors.Is(err, domain.ErrSessionClosed):
		return http.StatusConflict, domain.ErrSessionClosed.Error()
	case errors.Is(err, session.ErrNotTapping):
		return http.StatusConflict, session.ErrNotTapping.Error()
	case errors.Is(err, domain.ErrInvalidIntensity),
		errors.Is(err, domain.ErrInvalidChoice),
		errors.Is(err, domain.ErrEmptyMessage):
		return http.StatusBadRequest, err.Error()
	}
	return http.StatusInternalServerError, "internal error"
}
