package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func executeCLI(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var stdout bytes.Buffer
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetOut(&stdout)
	cmd.SetErr(&stdout)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), err
}

func TestNormalize(t *testing.T) {
	out, err := executeCLI(t, "", "normalize", "I", "feel", "anxios")
	require.NoError(t, err)
	assert.Contains(t, out, "I feel anxious")
	assert.Contains(t, out, "anxios -> anxious")
}

func TestNormalizeJSONFromStdin(t *testing.T) {
	out, err := executeCLI(t, "tight in my stomache.\n", "normalize", "--json")
	require.NoError(t, err)
	var res struct {
		Corrected string `json:"corrected"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, "tight in my stomach.", res.Corrected)
}

func TestDetect(t *testing.T) {
	out, err := executeCLI(t, "", "detect", "my", "shoulders", "are", "tense")
	require.NoError(t, err)
	assert.Equal(t, "clear\n", out)

	out, err = executeCLI(t, "", "detect", "I", "want", "to", "end", "my", "life")
	require.ErrorIs(t, err, errCrisisDetected)
	assert.Equal(t, "crisis\n", out)
}

func TestDirectiveParse(t *testing.T) {
	reply := `Let's begin. <<DIRECTIVE {"next_state":"setup","tapping_point":0}>>`
	out, err := executeCLI(t, reply, "directive", "parse")
	require.NoError(t, err)

	var got struct {
		Variant   string `json:"variant"`
		Visible   string `json:"visible"`
		Directive struct {
			NextState string `json:"next_state"`
		} `json:"directive"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, "primary", got.Variant)
	assert.Equal(t, "Let's begin.", got.Visible)
	assert.Equal(t, "setup", got.Directive.NextState)

	_, err = executeCLI(t, "no directive here", "directive", "parse")
	assert.Error(t, err)
}

func TestDirectiveStrip(t *testing.T) {
	out, err := executeCLI(t, `Breathe. <<DIRECTIVE {"next_state":"setup"}}}`, "directive", "strip")
	require.NoError(t, err)
	assert.Equal(t, "Breathe.\n", out)
}

func TestChatScriptedRound(t *testing.T) {
	input := []string{"anxious", "chest", "/rate 7"}
	for i := 0; i < 8; i++ {
		input = append(input, "/next")
	}
	input = append(input, "/rate 0")

	out, err := executeCLI(t, strings.Join(input, "\n")+"\n",
		"chat", "--name", "Sam", "--problem", "work deadline")
	require.NoError(t, err)
	assert.Contains(t, out, "guide: Hi Sam")
	assert.Contains(t, out, "[tapping-point[7]]")
	assert.Contains(t, out, "[tapping-breathing]")
	assert.Contains(t, out, "[complete]")
	assert.NotContains(t, out, "DIRECTIVE")
}

func TestChatCommandErrors(t *testing.T) {
	out, err := executeCLI(t, "/next\n/rate eleven\n/choose nap\n/bogus\n/quit\n", "chat")
	require.NoError(t, err)
	assert.Contains(t, out, "! session is not at a tapping point")
	assert.Contains(t, out, "! intensity must be between 0 and 10")
	assert.Contains(t, out, "! unknown choice")
	assert.Contains(t, out, "Commands:")
}
