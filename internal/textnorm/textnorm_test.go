package textnorm

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCorrectExactHits(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"emotion", "I feel anxous today", "I feel anxious today"},
		{"body", "tight in my stomache.", "tight in my stomach."},
		{"contraction", "I dont know", "I don't know"},
		{"capitalised", "Overwelmed and tired", "Overwhelmed and tired"},
		{"all caps", "SO FRUSTATED", "SO FRUSTRATED"},
		{"pronoun contraction", "im scared", "I'm scared"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Correct(tt.input)
			assert.Equal(t, tt.want, got.Corrected)
			assert.True(t, got.Changed())
		})
	}
}

func TestCorrectFuzzy(t *testing.T) {
	got := Correct("my sholdeers ache")
	assert.Equal(t, "my shoulders ache", got.Corrected)
	require.Len(t, got.Changes, 1)
	assert.Equal(t, Change{Original: "sholdeers", Replacement: "shoulders"}, got.Changes[0])
}

func TestCorrectLeavesUnknownWordsAlone(t *testing.T) {
	for _, input := range []string{
		"I feel anxious about my exam",
		"I heard the anger in his voice",
		"can we give it five more minutes",
		"",
		"   \n\t",
	} {
		got := Correct(input)
		assert.Equal(t, input, got.Corrected)
		assert.Empty(t, got.Changes, "input %q", input)
	}
}

func TestCorrectShortWordsMatchExactlyOnly(t *testing.T) {
	// "want" is one edit from "wont" and "dint" one from "dont".
	got := Correct("I want to rest, dint I")
	assert.Equal(t, "I want to rest, dint I", got.Corrected)
	assert.Empty(t, got.Changes)

	got = Correct("I cant rest")
	assert.Equal(t, "I can't rest", got.Corrected)
}

func TestCorrectPreservesPunctuationAndSpacing(t *testing.T) {
	input := "  \"anxous\",  really...\n(stomache)  "
	got := Correct(input)
	assert.Equal(t, "  \"anxious\",  really...\n(stomach)  ", got.Corrected)

	want := []Change{
		{Original: "anxous", Replacement: "anxious"},
		{Original: "stomache", Replacement: "stomach"},
	}
	if diff := cmp.Diff(want, got.Changes); diff != "" {
		t.Fatalf("changes mismatch (-want +got):\n%s", diff)
	}
}

func TestCorrectIsIdempotent(t *testing.T) {
	inputs := []string{
		"im so anxous and my stomache hurts, i dont know why",
		"Overwelmed, FRUSTATED and lonley.",
		"my sholdeers and colarbone feel tight",
		"it's 'fine' I guess",
		"thats what im worred about",
	}
	for _, input := range inputs {
		once := Correct(input).Corrected
		twice := Correct(once)
		assert.Equal(t, once, twice.Corrected, "input %q", input)
		assert.Empty(t, twice.Changes, "input %q", input)
	}
}

func TestEveryDictionaryEntryCorrects(t *testing.T) {
	for _, e := range Default().Entries() {
		got := Correct("I feel " + e.Typo)
		assert.True(t, strings.Contains(got.Corrected, e.Canonical), "typo %q -> %q", e.Typo, got.Corrected)
		assert.True(t, got.Changed(), "typo %q reported no change", e.Typo)
	}
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	_, err := Load([]byte("emotions: [this is: not valid"))
	require.Error(t, err)
}

func TestLevenshtein(t *testing.T) {
	assert.Equal(t, 0, levenshtein("chest", "chest"))
	assert.Equal(t, 1, levenshtein("chest", "chst"))
	assert.Equal(t, 3, levenshtein("kitten", "sitting"))
	assert.Equal(t, 4, levenshtein("", "abcd"))
}

func TestTokenizeRoundTrips(t *testing.T) {
	input := "Don't  stop—it's 'quoted' ok?"
	var b strings.Builder
	for _, tok := range tokenize(input) {
		b.WriteString(tok.text)
	}
	assert.Equal(t, input, b.String())
}
