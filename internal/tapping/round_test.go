package tapping

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateFirstRound(t *testing.T) {
	r := Generate("work deadline", "anxious", "chest", false, 1)

	require.Len(t, r.SetupStatements, 3)
	require.Len(t, r.ReminderPhrases, 8)
	assert.Equal(t, DefaultOrder[:], r.StatementOrder)
	assert.Equal(t,
		"Even though I feel this anxious in my chest because work deadline, I deeply and completely accept myself.",
		r.SetupStatements[0])
	for _, s := range r.SetupStatements {
		assert.True(t, strings.HasPrefix(s, "Even though"))
		assert.NotContains(t, s, "STILL")
	}
}

func TestGenerateSubsequentRound(t *testing.T) {
	r := Generate("work deadline", "anxious", "chest", true, 2)

	assert.Contains(t, r.SetupStatements[0], "Even though I STILL feel some of this anxious")
	assert.Contains(t, r.SetupStatements[1], "remaining")
	assert.Equal(t, "This remaining anxious", r.ReminderPhrases[0])
}

func TestGenerateNonASCIIFeeling(t *testing.T) {
	r := Generate("Prüfung", "ängstlich", "Brust", false, 1)
	for _, p := range r.ReminderPhrases {
		assert.True(t, utf8.ValidString(p), p)
	}
	assert.Equal(t, "Ängstlich in my Brust", r.ReminderPhrases[1])
	assert.Equal(t, "", capitalize(""))
}

func TestGenerateFillsBlanks(t *testing.T) {
	r := Generate("", "", "", false, 1)
	require.Len(t, r.SetupStatements, 3)
	assert.Contains(t, r.SetupStatements[0], "this feeling")
	assert.Contains(t, r.SetupStatements[0], "body")
}

func TestOrderForRoundStaysInRange(t *testing.T) {
	for round := 0; round < 10; round++ {
		order := OrderForRound(round)
		require.Len(t, order, 8)
		for _, v := range order {
			assert.GreaterOrEqual(t, v, 0)
			assert.LessOrEqual(t, v, 2)
		}
	}
	assert.Equal(t, []int{1, 2, 0, 1, 2, 0, 2, 1}, OrderForRound(2))
}

func TestStatementForPoint(t *testing.T) {
	r := Generate("exam", "scared", "stomach", false, 1)

	assert.Equal(t, r.ReminderPhrases[4], r.StatementForPoint(4, true))
	assert.Equal(t, r.SetupStatements[r.StatementOrder[4]], r.StatementForPoint(4, false))
	assert.Equal(t, "", r.StatementForPoint(8, false))
}

func TestExtractSetupStatements(t *testing.T) {
	text := `Let's repeat these:
"Even though I feel anxious in my chest, I accept myself."
"Even though the deadline scares me, I choose calm."
Even though I'm overwhelmed, I'm open to peace.`

	got, ok := ExtractSetupStatements(text)
	require.True(t, ok)
	assert.Equal(t, "Even though I feel anxious in my chest, I accept myself.", got[0])
	assert.Equal(t, "Even though I'm overwhelmed, I'm open to peace.", got[2])

	_, ok = ExtractSetupStatements("Even though only one line.")
	assert.False(t, ok)
}

func TestPointName(t *testing.T) {
	assert.Equal(t, "Eyebrow", PointName(0))
	assert.Equal(t, "Top of head", PointName(7))
	assert.Equal(t, "", PointName(8))
}
