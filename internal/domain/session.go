package domain

import (
	"slices"
	"time"
)

// SessionContext holds the live therapeutic context of one conversation.
// It is owned and mutated only by the session orchestrator.
type SessionContext struct {
	Problem                string   `json:"problem"`
	Feeling                string   `json:"feeling"`
	BodyLocation           string   `json:"bodyLocation"`
	InitialIntensity       *int     `json:"initialIntensity,omitempty"`
	CurrentIntensity       *int     `json:"currentIntensity,omitempty"`
	Round                  int      `json:"round"`
	SetupStatements        []string `json:"setupStatements,omitempty"`
	StatementOrder         []int    `json:"statementOrder,omitempty"`
	ReminderPhrases        []string `json:"reminderPhrases,omitempty"`
	TappingSessionID       string   `json:"tappingSessionId,omitempty"`
	RoundsWithoutReduction int      `json:"roundsWithoutReduction"`
	IntensityHistory       []int    `json:"intensityHistory,omitempty"`
}

// SetProblem records the problem description. It is set once; later calls are ignored.
func (c *SessionContext) SetProblem(problem string) bool {
	if c.Problem != "" || problem == "" {
		return false
	}
	c.Problem = problem
	return true
}

// SetInitialIntensity records the episode baseline. It is set once per episode.
func (c *SessionContext) SetInitialIntensity(v int) bool {
	if c.InitialIntensity != nil {
		return false
	}
	c.InitialIntensity = &v
	return true
}

// RecordIntensity appends v to the history and makes it current. When a previous
// value exists and v is not lower, the no-reduction streak grows; otherwise it resets.
func (c *SessionContext) RecordIntensity(v int) {
	if c.CurrentIntensity != nil {
		if v >= *c.CurrentIntensity {
			c.RoundsWithoutReduction++
		} else {
			c.RoundsWithoutReduction = 0
		}
	}
	c.CurrentIntensity = &v
	c.IntensityHistory = append(c.IntensityHistory, v)
}

// StartRound increments the round counter and installs fresh statements for it.
func (c *SessionContext) StartRound(setup []string, order []int, reminders []string) {
	c.Round++
	c.SetupStatements = slices.Clone(setup)
	c.StatementOrder = slices.Clone(order)
	c.ReminderPhrases = slices.Clone(reminders)
}

// StatementFor returns the setup statement spoken at the given point, or "" when
// the round has no statements yet.
func (c *SessionContext) StatementFor(point int) string {
	if point < 0 || point >= len(c.StatementOrder) {
		return ""
	}
	idx := c.StatementOrder[point]
	if idx < 0 || idx >= len(c.SetupStatements) {
		return ""
	}
	return c.SetupStatements[idx]
}

// Improvement returns initial minus current intensity, or 0 when either is unknown.
func (c *SessionContext) Improvement() int {
	if c.InitialIntensity == nil || c.CurrentIntensity == nil {
		return 0
	}
	return *c.InitialIntensity - *c.CurrentIntensity
}

// ResetEpisode clears everything tied to the current problem so a new one can begin.
// The intensity history is session-scoped and kept.
func (c *SessionContext) ResetEpisode() {
	history := c.IntensityHistory
	*c = SessionContext{IntensityHistory: history}
}

// Clone returns a deep copy.
func (c SessionContext) Clone() SessionContext {
	out := c
	if c.InitialIntensity != nil {
		v := *c.InitialIntensity
		out.InitialIntensity = &v
	}
	if c.CurrentIntensity != nil {
		v := *c.CurrentIntensity
		out.CurrentIntensity = &v
	}
	out.SetupStatements = slices.Clone(c.SetupStatements)
	out.StatementOrder = slices.Clone(c.StatementOrder)
	out.ReminderPhrases = slices.Clone(c.ReminderPhrases)
	out.IntensityHistory = slices.Clone(c.IntensityHistory)
	return out
}

// Session is the persisted, resumable form of one conversation.
type Session struct {
	ID        string         `json:"id"`
	UserID    string         `json:"user_id"`
	UserName  string         `json:"user_name"`
	Step      Step           `json:"step"`
	Context   SessionContext `json:"context"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Closed reports whether the session reached its terminal state.
func (s *Session) Closed() bool {
	return s.Step.State == StateComplete
}
