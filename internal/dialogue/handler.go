package dialogue

import (
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
)

// maxRequestBodySize caps POST /api/dialogue bodies.
const maxRequestBodySize = 1 << 20

// failureMessage is returned when the model backend fails.
const failureMessage = "the dialogue service could not produce a reply"

// Handler serves the dialogue service over HTTP.
type Handler struct {
	svc    *Service
	logger *slog.Logger
}

// NewHandler creates a Handler.
func NewHandler(svc *Service, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{svc: svc, logger: logger}
}

// RegisterRoutes registers the dialogue route.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/api/dialogue", h.HandleDialogue)
}

// HandleDialogue handles POST /api/dialogue. The rate-limit key is the client
// address, which chi's RealIP middleware resolves from forwarding headers.
func (h *Handler) HandleDialogue(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	data, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, Failure{Message: "request body too large"})
			return
		}
		writeJSON(w, http.StatusBadRequest, Failure{Message: "invalid request body"})
		return
	}
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, Failure{Message: "invalid request body"})
		return
	}
	if req.Message == "" {
		writeJSON(w, http.StatusBadRequest, Failure{Message: "message is required"})
		return
	}

	resp, err := h.svc.Respond(r.Context(), ClientKey(r), req)
	if err != nil {
		h.logger.Error("dialogue request failed", "state", req.ChatState, "error", err)
		writeJSON(w, http.StatusBadGateway, Failure{Message: failureMessage})
		return
	}
	if resp.RateLimited {
		writeJSON(w, http.StatusTooManyRequests, resp)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// ClientKey returns the host part of the request's remote address.
func ClientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to encode dialogue response", "error", err)
	}
}
