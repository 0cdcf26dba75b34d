package crisis

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetect(t *testing.T) {
	tests := []struct {
		name string
		text string
		want bool
	}{
		{"keyword", "I want to kill myself", true},
		{"keyword upper case", "SOMETIMES I THINK ABOUT SUICIDE", true},
		{"phrase", "honestly there's no reason to live", true},
		{"curly apostrophe phrase", "I don’t want to be here anymore", true},
		{"pair apart", "I just want it all to stop, I want to lie down and die", true},
		{"pair reversed", "my life, I want to end it", true},
		{"benign anxiety", "I feel anxious about my exam", false},
		{"benign body", "my chest feels tight and heavy", false},
		{"benign deadline", "the deadline is killing me at work", false},
		{"empty", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Detect(tt.text))
		})
	}
}

func TestLoadRejectsShortPairs(t *testing.T) {
	_, err := Load([]byte("pairs:\n  - [alone]\n"))
	require.Error(t, err)
}

func TestCustomLexicon(t *testing.T) {
	d, err := Load([]byte("keywords: [Danger]\npairs:\n  - [red, flag]\n"))
	require.NoError(t, err)

	assert.True(t, d.Detect("there is danger here"))
	assert.True(t, d.Detect("flag it as red"))
	assert.False(t, d.Detect("a red car"))
}
