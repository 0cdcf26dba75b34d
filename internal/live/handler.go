package live

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/goccy/go-json"

	"github.com/ashureev/tapflow/internal/api"
	"github.com/ashureev/tapflow/internal/dialogue"
	"github.com/ashureev/tapflow/internal/domain"
	"github.com/ashureev/tapflow/internal/identity"
	"github.com/ashureev/tapflow/internal/session"
	"github.com/ashureev/tapflow/internal/transcript"
)

// Frame types sent by the client.
const (
	FrameMessage   = "message"
	FrameIntensity = "intensity"
	FrameNext      = "next"
	FrameChoice    = "choice"
	FrameProblem   = "problem"
	FramePing      = "ping"
)

// Frame is one client request.
type Frame struct {
	Type    string                `json:"type"`
	Text    string                `json:"text,omitempty"`
	Value   *int                  `json:"value,omitempty"`
	Choice  string                `json:"choice,omitempty"`
	Context *session.ContextPatch `json:"context,omitempty"`
}

// Reply is one server frame: a snapshot on connect, a turn result, or an error.
type Reply struct {
	Type     string                 `json:"type"`
	Result   *session.TurnResult    `json:"result,omitempty"`
	Step     *domain.Step           `json:"step,omitempty"`
	Context  *domain.SessionContext `json:"context,omitempty"`
	Messages []domain.Message       `json:"messages,omitempty"`
	Error    string                 `json:"error,omitempty"`
	Status   int                    `json:"status,omitempty"`
}

// Handler upgrades GET /ws/session?session_id=... to a turn channel.
type Handler struct {
	registry      *session.Registry
	conns         *ConnManager
	journal       transcript.Logger
	allowedOrigin string
	isDev         bool
	writeTimeout  time.Duration
	logger        *slog.Logger
}

// NewHandler creates a live handler. journal may be nil.
func NewHandler(registry *session.Registry, conns *ConnManager, journal transcript.Logger, allowedOrigin string, isDev bool) *Handler {
	if journal == nil {
		journal = transcript.Noop{}
	}
	return &Handler{
		registry:      registry,
		conns:         conns,
		journal:       journal,
		allowedOrigin: allowedOrigin,
		isDev:         isDev,
		writeTimeout:  10 * time.Second,
		logger:        slog.Default(),
	}
}

// ServeHTTP implements http.Handler for the websocket upgrade.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	sessionID := identity.SessionIDFromContext(r.Context())
	if sessionID == "" {
		api.Error(w, http.StatusBadRequest, "session_id is required")
		return
	}
	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	o, err := h.registry.Get(r.Context(), sessionID, userID)
	if err != nil {
		status, msg := api.StatusFor(err)
		api.Error(w, status, msg)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		h.logger.Error("Failed to accept WebSocket", "error", err, "user_id", userID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			h.logger.Debug("Failed to close websocket", "error", closeErr, "user_id", userID)
		}
	}()

	h.conns.Register(userID, sessionID, ws)
	defer h.conns.Unregister(userID, sessionID, ws)

	ctx := dialogue.WithClientKey(r.Context(), dialogue.ClientKey(r))
	step, sc := o.Step(), o.Context()
	if err := h.write(ctx, ws, Reply{Type: "state", Step: &step, Context: &sc, Messages: o.Messages()}); err != nil {
		return
	}
	h.readLoop(ctx, ws, userID, sessionID)
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "*" || origin == h.allowedOrigin {
		return true
	}
	h.logger.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}

// readLoop handles frames one at a time until the client goes away.
func (h *Handler) readLoop(ctx context.Context, ws *websocket.Conn, userID, sessionID string) {
	for {
		typ, data, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				h.logger.Debug("WebSocket closed by client", "user_id", userID, "session_id", sessionID)
			} else if ctx.Err() == nil {
				h.logger.Warn("WebSocket read error", "error", err, "user_id", userID)
			}
			return
		}
		if typ != websocket.MessageText {
			_ = h.write(ctx, ws, Reply{Type: "error", Error: "text frames only", Status: http.StatusBadRequest})
			continue
		}

		var f Frame
		if err := json.Unmarshal(data, &f); err != nil {
			_ = h.write(ctx, ws, Reply{Type: "error", Error: "invalid frame", Status: http.StatusBadRequest})
			continue
		}
		if f.Type == FramePing {
			_ = h.write(ctx, ws, Reply{Type: "pong"})
			continue
		}

		reply := h.dispatch(ctx, userID, sessionID, f)
		if err := h.write(ctx, ws, reply); err != nil {
			return
		}
	}
}

func (h *Handler) dispatch(ctx context.Context, userID, sessionID string, f Frame) Reply {
	var turn func(context.Context, *session.Orchestrator) (session.TurnResult, error)
	switch f.Type {
	case FrameMessage:
		turn = func(ctx context.Context, o *session.Orchestrator) (session.TurnResult, error) {
			return o.SubmitMessage(ctx, f.Text, f.Context)
		}
	case FrameIntensity:
		if f.Value == nil {
			return Reply{Type: "error", Error: "value is required", Status: http.StatusBadRequest}
		}
		v := *f.Value
		turn = func(ctx context.Context, o *session.Orchestrator) (session.TurnResult, error) {
			return o.SubmitIntensity(ctx, v)
		}
	case FrameNext:
		turn = func(ctx context.Context, o *session.Orchestrator) (session.TurnResult, error) {
			return o.AdvancePoint(ctx)
		}
	case FrameChoice:
		choice, ok := session.ParseChoice(f.Choice)
		if !ok {
			return errorReply(domain.ErrInvalidChoice)
		}
		turn = func(ctx context.Context, o *session.Orchestrator) (session.TurnResult, error) {
			return o.Choose(ctx, choice)
		}
	case FrameProblem:
		turn = func(ctx context.Context, o *session.Orchestrator) (session.TurnResult, error) {
			return o.NewProblem(ctx, f.Text)
		}
	default:
		return Reply{Type: "error", Error: "unknown frame type " + f.Type, Status: http.StatusBadRequest}
	}

	res, err := h.registry.Do(ctx, sessionID, userID, turn)
	if err != nil {
		return errorReply(err)
	}
	transcript.LogTurn(h.journal, userID, sessionID, "ws", res.Step, res.Messages)
	return Reply{Type: "turn", Result: &res}
}

func errorReply(err error) Reply {
	status, msg := api.StatusFor(err)
	return Reply{Type: "error", Error: msg, Status: status}
}

func (h *Handler) write(ctx context.Context, ws *websocket.Conn, v Reply) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	wctx, cancel := context.WithTimeout(ctx, h.writeTimeout)
	defer cancel()
	if err := ws.Write(wctx, websocket.MessageText, data); err != nil {
		h.logger.Debug("WebSocket write error", "error", err)
		return err
	}
	return nil
}
