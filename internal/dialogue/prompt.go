package dialogue

import (
	"fmt"
	"strings"

	"github.com/ashureev/tapflow/internal/directive"
	"github.com/ashureev/tapflow/internal/domain"
	"github.com/ashureev/tapflow/internal/tapping"
)

const basePrompt = `You are a warm, steady EFT (Emotional Freedom Techniques) tapping guide.
Speak briefly and kindly, one step at a time, using the person's own words.

The session moves through these states:
initial -> gathering-feeling -> gathering-location -> gathering-intensity ->
tapping-point (points 0..7) -> tapping-breathing -> post-tapping -> advice -> complete.
conversation and conversation-deepening are open talk before or between rounds.

Tapping points, in order: %s.

At the end of EVERY reply, on its own line, append exactly one control line:
%s {"next_state": "<state>", "tapping_point": <0-7 or null>, "setup_statements": [3 strings] or null, "statement_order": [8 integers 0-2] or null, "say_index": <0-2 or null>, "collect": "<datum to gather next or null>", "notes": "<short note>"}>>

When starting a round, use next_state "tapping-point" with tapping_point 0 and provide
three "Even though ..." setup statements plus an 8-entry statement_order.
Never mention the control line to the person.`

// BuildPrompt renders the system prompt and model conversation for req.
func BuildPrompt(req Request) Prompt {
	var b strings.Builder
	fmt.Fprintf(&b, basePrompt, strings.Join(tapping.Points[:], ", "), directive.Marker)
	b.WriteString("\n\nCurrent session:\n")
	writeContext(&b, req)

	turns := make([]Turn, 0, len(req.ConversationHistory)+1)
	for _, h := range req.ConversationHistory {
		switch h.Type {
		case domain.MessageUser:
			turns = append(turns, Turn{Role: RoleUser, Content: h.Content})
		case domain.MessageBot:
			turns = append(turns, Turn{Role: RoleAssistant, Content: directive.Strip(h.Content)})
		}
	}
	if n := len(turns); n == 0 || turns[n-1].Role != RoleUser || turns[n-1].Content != req.Message {
		turns = append(turns, Turn{Role: RoleUser, Content: req.Message})
	}

	return Prompt{System: b.String(), Messages: turns, Request: req}
}

func writeContext(b *strings.Builder, req Request) {
	c := req.SessionContext
	line := func(k, v string) {
		if v != "" {
			fmt.Fprintf(b, "- %s: %s\n", k, v)
		}
	}
	line("name", req.UserName)
	line("state", req.ChatState)
	if req.ChatState == string(domain.StateTappingPoint) {
		line("tapping point", fmt.Sprintf("%d (%s)", req.CurrentTappingPoint, tapping.PointName(req.CurrentTappingPoint)))
	}
	line("problem", c.Problem)
	line("feeling", c.Feeling)
	line("body location", c.BodyLocation)
	if c.InitialIntensity != nil {
		line("initial intensity", fmt.Sprint(*c.InitialIntensity))
	}
	if c.CurrentIntensity != nil {
		line("current intensity", fmt.Sprint(*c.CurrentIntensity))
	}
	if len(req.IntensityHistory) > 0 {
		line("intensity history", strings.Trim(fmt.Sprint(req.IntensityHistory), "[]"))
	}
	if c.Round > 0 {
		line("round", fmt.Sprint(c.Round))
	}
	for i, s := range c.SetupStatements {
		line(fmt.Sprintf("setup statement %d", i), s)
	}
}
