package dialogue

import (
	"context"
	"fmt"
	"strings"

	"github.com/ashureev/tapflow/internal/directive"
	"github.com/ashureev/tapflow/internal/domain"
	"github.com/ashureev/tapflow/internal/tapping"
)

// Scripted is an offline model that walks the session through the standard sequence
// with fixed wording. It serves when no model backend is configured.
type Scripted struct{}

// Generate implements Model.
func (Scripted) Generate(_ context.Context, p Prompt) (string, error) {
	req := p.Request
	c := req.SessionContext
	name := req.UserName
	if name == "" {
		name = "friend"
	}

	state, _ := domain.ParseState(req.ChatState)
	switch state {
	case domain.StateQuestionnaire, domain.StateInitial, domain.StateConversation, domain.StateConversationDeepening:
		if c.Problem == "" {
			return reply(fmt.Sprintf("Thank you for being here, %s. What's been on your mind?", name),
				directive.Directive{NextState: directive.Ptr(string(domain.StateConversation)), Collect: directive.Ptr("problem")})
		}
		return reply(fmt.Sprintf("That sounds hard. When you think about %s, what emotion comes up most strongly?", c.Problem),
			directive.Directive{NextState: directive.Ptr(string(domain.StateGatheringFeeling)), Collect: directive.Ptr("feeling")})

	case domain.StateGatheringFeeling:
		return reply(fmt.Sprintf("Thank you for naming that. Where do you notice the %s in your body?", orWord(c.Feeling, "feeling")),
			directive.Directive{NextState: directive.Ptr(string(domain.StateGatheringLocation)), Collect: directive.Ptr("bodyLocation")})

	case domain.StateGatheringLocation:
		return reply("On a scale from 0 to 10, how intense does it feel right now?",
			directive.Directive{NextState: directive.Ptr(string(domain.StateGatheringIntensity)), Collect: directive.Ptr("intensity")})

	case domain.StateGatheringIntensity, domain.StateSetup:
		if c.CurrentIntensity == nil {
			return reply("Whenever you're ready, rate the intensity from 0 to 10.",
				directive.Directive{NextState: directive.Ptr(string(domain.StateGatheringIntensity)), Collect: directive.Ptr("intensity")})
		}
		return startRound(c, false)

	case domain.StateTappingPoint:
		next := req.CurrentTappingPoint + 1
		if next >= domain.TappingPoints {
			return reply("Well done. Take a slow, deep breath in, and let it go. How intense is it now, from 0 to 10?",
				directive.Directive{NextState: directive.Ptr(string(domain.StateTappingBreathing)), Collect: directive.Ptr("intensity")})
		}
		return reply(fmt.Sprintf("Now tap the %s and say: %s", strings.ToLower(tapping.PointName(next)), c.StatementFor(next)),
			directive.Directive{
				NextState:    directive.Ptr(string(domain.StateTappingPoint)),
				TappingPoint: directive.Ptr(directive.Int(next)),
				SayIndex:     sayIndex(c, next),
			})

	case domain.StateTappingBreathing:
		return reply("Take another breath. What number would you give it now?",
			directive.Directive{NextState: directive.Ptr(string(domain.StatePostTapping)), Collect: directive.Ptr("intensity")})

	case domain.StatePostTapping:
		if c.CurrentIntensity != nil && *c.CurrentIntensity > 3 {
			return startRound(c, true)
		}
		return reply("You've made real progress. Would you like to keep going, or shall we wrap up?",
			directive.Directive{NextState: directive.Ptr(string(domain.StatePostTapping))})

	case domain.StateAdvice:
		text := "Thank you for doing this work today. Keep breathing slowly, drink some water, and come back to tapping whenever the feeling returns."
		if d := c.Improvement(); d > 0 {
			text = fmt.Sprintf("You brought the intensity down by %d points today. ", d) + text
		}
		return reply(text, directive.Directive{NextState: directive.Ptr(string(domain.StateComplete))})
	}

	return "Take care of yourself. I'm here whenever you'd like to tap again.", nil
}

func startRound(c domain.SessionContext, subsequent bool) (string, error) {
	r := tapping.Generate(c.Problem, c.Feeling, c.BodyLocation, subsequent, c.Round+1)
	text := fmt.Sprintf("Let's begin tapping. Start on the %s and say: %s",
		strings.ToLower(tapping.PointName(0)), r.SetupStatements[r.StatementOrder[0]])
	return reply(text, directive.Directive{
		NextState:       directive.Ptr(string(domain.StateTappingPoint)),
		TappingPoint:    directive.Ptr(directive.Int(0)),
		SetupStatements: r.SetupStatements,
		StatementOrder:  directive.Ints(r.StatementOrder...),
		SayIndex:        directive.Ptr(directive.Int(r.StatementOrder[0])),
	})
}

func sayIndex(c domain.SessionContext, point int) *directive.Int {
	if point >= len(c.StatementOrder) {
		return nil
	}
	return directive.Ptr(directive.Int(c.StatementOrder[point]))
}

func reply(text string, d directive.Directive) (string, error) {
	line, err := directive.Format(d)
	if err != nil {
		return "", err
	}
	return text + "\n" + line, nil
}

func orWord(s, fallback string) string {
	if strings.TrimSpace(s) == "" {
		return fallback
	}
	return s
}
