package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionContextProblemIsImmutable(t *testing.T) {
	var c SessionContext
	require.True(t, c.SetProblem("work deadline"))
	assert.False(t, c.SetProblem("something else"))
	assert.Equal(t, "work deadline", c.Problem)
}

func TestSessionContextInitialIntensitySetOnce(t *testing.T) {
	var c SessionContext
	require.True(t, c.SetInitialIntensity(8))
	assert.False(t, c.SetInitialIntensity(3))
	assert.Equal(t, 8, *c.InitialIntensity)
}

func TestRecordIntensityTracksReductionStreak(t *testing.T) {
	var c SessionContext
	c.RecordIntensity(6)
	assert.Equal(t, 0, c.RoundsWithoutReduction)

	c.RecordIntensity(6)
	c.RecordIntensity(7)
	assert.Equal(t, 2, c.RoundsWithoutReduction)

	c.RecordIntensity(4)
	assert.Equal(t, 0, c.RoundsWithoutReduction)
	assert.Equal(t, []int{6, 6, 7, 4}, c.IntensityHistory)
	assert.Equal(t, 4, *c.CurrentIntensity)
}

func TestStatementFor(t *testing.T) {
	var c SessionContext
	c.StartRound([]string{"a", "b", "c"}, []int{0, 1, 2, 0, 1, 2, 1, 0}, nil)

	assert.Equal(t, 1, c.Round)
	assert.Equal(t, "c", c.StatementFor(2))
	assert.Equal(t, "a", c.StatementFor(7))
	assert.Equal(t, "", c.StatementFor(8))
}

func TestResetEpisodeKeepsHistory(t *testing.T) {
	var c SessionContext
	c.SetProblem("exam")
	c.RecordIntensity(5)
	c.StartRound([]string{"a", "b", "c"}, []int{0, 0, 0, 0, 0, 0, 0, 0}, nil)

	c.ResetEpisode()

	assert.Empty(t, c.Problem)
	assert.Zero(t, c.Round)
	assert.Nil(t, c.CurrentIntensity)
	assert.Equal(t, []int{5}, c.IntensityHistory)
}

func TestCloneIsDeep(t *testing.T) {
	var c SessionContext
	c.RecordIntensity(5)
	c.StartRound([]string{"a", "b", "c"}, []int{0, 1, 2, 0, 1, 2, 1, 0}, nil)

	cp := c.Clone()
	*cp.CurrentIntensity = 9
	cp.SetupStatements[0] = "changed"

	assert.Equal(t, 5, *c.CurrentIntensity)
	assert.Equal(t, "a", c.SetupStatements[0])
}

func TestTappingAtClamps(t *testing.T) {
	assert.Equal(t, 0, TappingAt(-2).Point)
	assert.Equal(t, 7, TappingAt(12).Point)
	assert.True(t, TappingAt(7).IsLastPoint())
	assert.Equal(t, "tapping-point[3]", TappingAt(3).String())
}
