// Package flow describes the expected shape of a tapping conversation and infers the
// next step from model text when no directive is available.
//
// The transition table is diagnostic only. The dialogue model's requested state is
// always applied; a transition missing from the table is reported, never refused.
package flow

import (
	"slices"

	"github.com/ashureev/tapflow/internal/domain"
)

// Transitions lists the documented successors of each state.
var Transitions = map[domain.State][]domain.State{
	domain.StateQuestionnaire:         {domain.StateInitial, domain.StateConversation},
	domain.StateInitial:               {domain.StateGatheringFeeling, domain.StateConversation},
	domain.StateConversation:          {domain.StateGatheringFeeling, domain.StateConversationDeepening},
	domain.StateConversationDeepening: {domain.StateGatheringFeeling, domain.StateTappingPoint, domain.StateAdvice},
	domain.StateGatheringFeeling:      {domain.StateGatheringLocation},
	domain.StateGatheringLocation:     {domain.StateGatheringIntensity},
	domain.StateGatheringIntensity:    {domain.StateTappingPoint, domain.StateSetup},
	domain.StateSetup:                 {domain.StateTappingPoint},
	domain.StateTappingPoint:          {domain.StateTappingPoint, domain.StateTappingBreathing},
	domain.StateTappingBreathing:      {domain.StatePostTapping, domain.StateTappingPoint, domain.StateAdvice},
	domain.StatePostTapping:           {domain.StateTappingPoint, domain.StateAdvice, domain.StateConversationDeepening},
	domain.StateAdvice:                {domain.StateComplete},
	domain.StateComplete:              nil,
}

// Expected reports whether moving from one state to another matches the table.
// Remaining in the same state is always expected.
func Expected(from, to domain.State) bool {
	if from == to {
		return true
	}
	return slices.Contains(Transitions[from], to)
}

// Next returns the documented successors of s.
func Next(s domain.State) []domain.State {
	return slices.Clone(Transitions[s])
}
