package domain

import "fmt"

// State is a named conversation state.
type State string

const (
	StateQuestionnaire         State = "questionnaire"
	StateInitial               State = "initial"
	StateConversation          State = "conversation"
	StateConversationDeepening State = "conversation-deepening"
	StateGatheringFeeling      State = "gathering-feeling"
	StateGatheringLocation     State = "gathering-location"
	StateGatheringIntensity    State = "gathering-intensity"
	StateSetup                 State = "setup"
	StateTappingPoint          State = "tapping-point"
	StateTappingBreathing      State = "tapping-breathing"
	StatePostTapping           State = "post-tapping"
	StateAdvice                State = "advice"
	StateComplete              State = "complete"
)

// TappingPoints is the number of physical points in one round.
const TappingPoints = 8

var knownStates = map[State]bool{
	StateQuestionnaire:         true,
	StateInitial:               true,
	StateConversation:          true,
	StateConversationDeepening: true,
	StateGatheringFeeling:      true,
	StateGatheringLocation:     true,
	StateGatheringIntensity:    true,
	StateSetup:                 true,
	StateTappingPoint:          true,
	StateTappingBreathing:      true,
	StatePostTapping:           true,
	StateAdvice:                true,
	StateComplete:              true,
}

// ParseState returns the State named by s and whether it is known.
func ParseState(s string) (State, bool) {
	st := State(s)
	return st, knownStates[st]
}

// AcceptsIntensity reports whether an intensity rating is the expected input in s.
func (s State) AcceptsIntensity() bool {
	switch s {
	case StateGatheringIntensity, StateTappingBreathing, StatePostTapping:
		return true
	}
	return false
}

// Step is the compound conversation position. Point is only meaningful while
// State is StateTappingPoint and is always in [0, TappingPoints).
type Step struct {
	State State `json:"state"`
	Point int   `json:"point"`
}

// At returns a Step for a state that carries no point index.
func At(s State) Step {
	return Step{State: s}
}

// TappingAt returns the tapping-point step for the given point index, clamped to range.
func TappingAt(point int) Step {
	if point < 0 {
		point = 0
	}
	if point >= TappingPoints {
		point = TappingPoints - 1
	}
	return Step{State: StateTappingPoint, Point: point}
}

// IsLastPoint reports whether the step is the final tapping point of a round.
func (s Step) IsLastPoint() bool {
	return s.State == StateTappingPoint && s.Point == TappingPoints-1
}

func (s Step) String() string {
	if s.State == StateTappingPoint {
		return fmt.Sprintf("%s[%d]", s.State, s.Point)
	}
	return string(s.State)
}
