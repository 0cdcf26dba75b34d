package domain

import "time"

// Episode is the persisted record of work on a single reported problem.
type Episode struct {
	ID               string     `json:"id"`
	UserID           string     `json:"user_id"`
	SessionID        string     `json:"session_id"`
	Problem          string     `json:"problem"`
	Feeling          string     `json:"feeling"`
	BodyLocation     string     `json:"body_location"`
	InitialIntensity int        `json:"initial_intensity"`
	FinalIntensity   *int       `json:"final_intensity,omitempty"`
	RoundsCompleted  int        `json:"rounds_completed"`
	CreatedAt        time.Time  `json:"created_at"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
}

// EpisodeUpdate carries optional field changes for an episode.
type EpisodeUpdate struct {
	FinalIntensity  *int
	RoundsCompleted *int
	CompletedAt     *time.Time
}
