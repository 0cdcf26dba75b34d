package flow

import (
	"strings"

	"github.com/ashureev/tapflow/internal/domain"
)

// ContinueThreshold is the intensity above which another round is inferred after tapping.
const ContinueThreshold = 3

// InferContext carries the session facts the heuristics need.
type InferContext struct {
	CurrentIntensity *int
}

var (
	feelingCues   = []string{"how does that make you feel", "what emotion", "what are you feeling", "how do you feel", "what feeling"}
	locationCues  = []string{"where in your body", "where do you feel", "in your body", "physical sensation"}
	intensityCues = []string{"0 to 10", "0-10", "zero to ten", "scale of", "how intense", "rate the intensity", "rate it"}
	tappingCues   = []string{"eyebrow", "let's begin tapping", "let's start tapping", "start tapping", "first point"}
	breathingCues = []string{"deep breath", "take a breath", "breathe in"}
	completeCues  = []string{"well done", "great job", "wonderful work", "session complete", "you did it", "take care", "proud of you"}
)

// Infer guesses the next step from the model's reply when no directive was parsed.
// It returns false when the heuristics have no opinion and the step should not change.
func Infer(step domain.Step, ctx InferContext, reply string) (domain.Step, bool) {
	text := strings.ToLower(reply)

	switch step.State {
	case domain.StateQuestionnaire:
		return domain.At(domain.StateConversation), true

	case domain.StateInitial, domain.StateConversation, domain.StateConversationDeepening:
		if containsAny(text, feelingCues) {
			return domain.At(domain.StateGatheringFeeling), true
		}
		if step.State == domain.StateConversationDeepening && containsAny(text, tappingCues) {
			return domain.TappingAt(0), true
		}

	case domain.StateGatheringFeeling:
		if containsAny(text, locationCues) {
			return domain.At(domain.StateGatheringLocation), true
		}

	case domain.StateGatheringLocation:
		return domain.At(domain.StateGatheringIntensity), true

	case domain.StateGatheringIntensity, domain.StateSetup:
		if containsAny(text, tappingCues) {
			return domain.TappingAt(0), true
		}

	case domain.StateTappingPoint:
		if step.Point < domain.TappingPoints-1 {
			return step, true
		}
		return domain.At(domain.StateTappingBreathing), true

	case domain.StateTappingBreathing:
		if containsAny(text, intensityCues) || containsAny(text, breathingCues) {
			return domain.At(domain.StatePostTapping), true
		}

	case domain.StatePostTapping:
		if ctx.CurrentIntensity != nil && *ctx.CurrentIntensity > ContinueThreshold {
			return domain.TappingAt(0), true
		}
		if containsAny(text, completeCues) {
			return domain.At(domain.StateAdvice), true
		}

	case domain.StateAdvice:
		return domain.At(domain.StateComplete), true
	}

	return step, false
}

func containsAny(text string, cues []string) bool {
	for _, c := range cues {
		if strings.Contains(text, c) {
			return true
		}
	}
	return false
}
