// Package domain contains core domain types for the tapping session service.
package domain

import (
	"time"
)

// User represents an anonymous device identity and the name the assistant uses for it.
type User struct {
	UserID      string    `json:"user_id"`
	DisplayName string    `json:"display_name"`
	LastSeenAt  time.Time `json:"last_seen_at"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Name returns the name to address the user by, falling back to a neutral greeting.
func (u *User) Name() string {
	if u == nil || u.DisplayName == "" {
		return "friend"
	}
	return u.DisplayName
}
