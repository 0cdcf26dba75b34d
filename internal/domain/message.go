package domain

import (
	"time"
)

// MessageType identifies who produced a message.
type MessageType string

const (
	MessageBot    MessageType = "bot"
	MessageUser   MessageType = "user"
	MessageSystem MessageType = "system"
)

// Message is one append-only conversational turn. For system messages Content is a
// serialized JSON payload describing a choice or event.
type Message struct {
	ID        string      `json:"id"`
	SessionID string      `json:"session_id"`
	Type      MessageType `json:"type"`
	Content   string      `json:"content"`
	Timestamp time.Time   `json:"timestamp"`
}

// RecentMessages returns the last n messages of log.
func RecentMessages(log []Message, n int) []Message {
	if n <= 0 {
		return nil
	}
	if n >= len(log) {
		return log
	}
	return log[len(log)-n:]
}
