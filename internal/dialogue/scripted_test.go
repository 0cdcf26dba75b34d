package dialogue

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/tapflow/internal/directive"
	"github.com/ashureev/tapflow/internal/domain"
)

func scriptedNext(t *testing.T, req Request) (domain.State, directive.Directive) {
	t.Helper()
	text, err := Scripted{}.Generate(context.Background(), BuildPrompt(req))
	require.NoError(t, err)
	d, ok := directive.Parse(text).Directive()
	require.True(t, ok, "scripted reply carries a directive: %q", text)
	st, ok := d.State()
	require.True(t, ok)
	return st, d
}

func TestScriptedIntake(t *testing.T) {
	c := domain.SessionContext{}
	st, _ := scriptedNext(t, Request{ChatState: "initial", SessionContext: c, Message: "hi"})
	assert.Equal(t, domain.StateConversation, st)

	c.Problem = "work deadline"
	st, d := scriptedNext(t, Request{ChatState: "conversation", SessionContext: c, Message: "work deadline"})
	assert.Equal(t, domain.StateGatheringFeeling, st)
	assert.Equal(t, "feeling", d.CollectField())

	st, _ = scriptedNext(t, Request{ChatState: "gathering-feeling", SessionContext: c, Message: "anxious"})
	assert.Equal(t, domain.StateGatheringLocation, st)

	st, _ = scriptedNext(t, Request{ChatState: "gathering-location", SessionContext: c, Message: "chest"})
	assert.Equal(t, domain.StateGatheringIntensity, st)
}

func TestScriptedStartsRound(t *testing.T) {
	eight := 8
	c := domain.SessionContext{Problem: "work deadline", Feeling: "anxious", BodyLocation: "chest", CurrentIntensity: &eight}

	st, d := scriptedNext(t, Request{ChatState: "gathering-intensity", SessionContext: c, Message: "My intensity is 8"})
	assert.Equal(t, domain.StateTappingPoint, st)
	p, ok := d.Point()
	require.True(t, ok)
	assert.Zero(t, p)
	stmts, ok := d.Statements()
	require.True(t, ok)
	assert.Contains(t, stmts[0], "anxious")
	_, ok = d.Order()
	assert.True(t, ok)
}

func TestScriptedTappingAdvances(t *testing.T) {
	st, d := scriptedNext(t, Request{ChatState: "tapping-point", CurrentTappingPoint: 3, Message: "done"})
	assert.Equal(t, domain.StateTappingPoint, st)
	p, _ := d.Point()
	assert.Equal(t, 4, p)

	st, _ = scriptedNext(t, Request{ChatState: "tapping-point", CurrentTappingPoint: 7, Message: "done"})
	assert.Equal(t, domain.StateTappingBreathing, st)
}

func TestScriptedAdviceCompletes(t *testing.T) {
	eight, zero := 8, 0
	c := domain.SessionContext{InitialIntensity: &eight, CurrentIntensity: &zero}
	text, err := Scripted{}.Generate(context.Background(), BuildPrompt(Request{ChatState: "advice", SessionContext: c, Message: "0"}))
	require.NoError(t, err)
	assert.Contains(t, text, "down by 8 points")

	d, ok := directive.Parse(text).Directive()
	require.True(t, ok)
	st, _ := d.State()
	assert.Equal(t, domain.StateComplete, st)
}
