package dialogue

import (
	"context"
	"errors"
)

var errEmptyReply = errors.New("model returned an empty reply")

// Role names the speaker of a prompt turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one message in the model conversation.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Prompt is everything a model needs to produce the next reply. Request is the
// structured form the prompt was built from.
type Prompt struct {
	System   string  `json:"system"`
	Messages []Turn  `json:"messages"`
	Request  Request `json:"-"`
}

// Model generates reply text, possibly carrying an embedded directive.
type Model interface {
	Generate(ctx context.Context, p Prompt) (string, error)
}

// ModelFunc adapts a function to the Model interface.
type ModelFunc func(ctx context.Context, p Prompt) (string, error)

// Generate implements Model.
func (f ModelFunc) Generate(ctx context.Context, p Prompt) (string, error) {
	return f(ctx, p)
}
