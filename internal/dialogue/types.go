// Package dialogue implements the remote dialogue service: it guards the model
// backend with a per-client rate limit and crisis detection, builds the prompt from
// session state, and returns directive-bearing reply text.
package dialogue

import (
	"context"

	"github.com/ashureev/tapflow/internal/domain"
)

// RateLimitMessage is returned in place of a model reply when a client exceeds its quota.
const RateLimitMessage = "You're sending messages a little quickly. Let's slow down together. " +
	"Take a breath, and try again in a moment."

// HistoryEntry is one prior turn sent along with a request.
type HistoryEntry struct {
	Type    domain.MessageType `json:"type"`
	Content string             `json:"content"`
}

// Request is the body of POST /api/dialogue.
type Request struct {
	Message             string                `json:"message"`
	ChatState           string                `json:"chatState"`
	UserName            string                `json:"userName"`
	SessionContext      domain.SessionContext `json:"sessionContext"`
	ConversationHistory []HistoryEntry        `json:"conversationHistory"`
	CurrentTappingPoint int                   `json:"currentTappingPoint"`
	IntensityHistory    []int                 `json:"intensityHistory"`
}

// Response is the reply text with any directive still embedded.
type Response struct {
	Response       string `json:"response"`
	CrisisDetected bool   `json:"crisisDetected"`
	RateLimited    bool   `json:"rateLimited,omitempty"`
}

// Failure is the error body returned by the service.
type Failure struct {
	Message string `json:"message"`
}

// History converts a message log tail into request history entries.
func History(msgs []domain.Message) []HistoryEntry {
	out := make([]HistoryEntry, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, HistoryEntry{Type: m.Type, Content: m.Content})
	}
	return out
}

type clientKeyCtxKey struct{}

// WithClientKey attaches the rate-limit key of the calling client to ctx.
func WithClientKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, clientKeyCtxKey{}, key)
}

// ClientKeyFromContext returns the key set by WithClientKey, or "".
func ClientKeyFromContext(ctx context.Context) string {
	key, _ := ctx.Value(clientKeyCtxKey{}).(string)
	return key
}
