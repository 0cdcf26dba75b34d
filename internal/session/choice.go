package session

import (
	"fmt"

	"github.com/goccy/go-json"
)

// AlternativeAfterRounds is the no-reduction streak at which checkpoints offer
// alternative suggestions instead of another round.
const AlternativeAfterRounds = 3

// Choice is a user decision at a post-tapping checkpoint.
type Choice string

const (
	ChoiceContinue  Choice = "continue"
	ChoiceTalk      Choice = "talk"
	ChoiceEnd       Choice = "end"
	ChoiceBreathing Choice = "breathing"
	ChoiceHydration Choice = "hydration"
	ChoiceHuman     Choice = "human"
)

var choiceLabels = map[Choice]string{
	ChoiceContinue:  "Continue tapping",
	ChoiceTalk:      "Talk it through",
	ChoiceEnd:       "End the session",
	ChoiceBreathing: "Try a breathing exercise",
	ChoiceHydration: "Take a water break",
	ChoiceHuman:     "Talk to a person",
}

// ParseChoice returns the Choice named by s and whether it is known.
func ParseChoice(s string) (Choice, bool) {
	c := Choice(s)
	_, ok := choiceLabels[c]
	return c, ok
}

// Label is the human-readable text of c.
func (c Choice) Label() string {
	return choiceLabels[c]
}

// Payload types carried in system messages.
const (
	PayloadPostTappingChoice = "post-tapping-choice"
	PayloadContinueChoice    = "continue-choice"
)

// Choice payload variants.
const (
	VariantDefault     = "default"
	VariantAlternative = "alternative-suggestions"
)

// ChoicePayload is the structured content of a choice system message.
type ChoicePayload struct {
	Type                   string   `json:"type"`
	Variant                string   `json:"variant,omitempty"`
	Intensity              int      `json:"intensity"`
	InitialIntensity       int      `json:"initialIntensity"`
	Round                  int      `json:"round"`
	RoundsWithoutReduction int      `json:"roundsWithoutReduction"`
	Options                []Choice `json:"options"`
}

// Alternative reports whether the payload offers alternative suggestions.
func (p ChoicePayload) Alternative() bool {
	return p.Variant == VariantAlternative
}

// ContinueChoice is the legacy payload form, {type, intensity}.
type ContinueChoice struct {
	Type      string `json:"type"`
	Intensity int    `json:"intensity"`
}

func newChoicePayload(intensity, initial, round, streak int) ChoicePayload {
	p := ChoicePayload{
		Type:                   PayloadPostTappingChoice,
		Variant:                VariantDefault,
		Intensity:              intensity,
		InitialIntensity:       initial,
		Round:                  round,
		RoundsWithoutReduction: streak,
		Options:                []Choice{ChoiceContinue, ChoiceTalk, ChoiceEnd},
	}
	if streak >= AlternativeAfterRounds {
		p.Variant = VariantAlternative
		p.Options = []Choice{ChoiceBreathing, ChoiceHydration, ChoiceHuman}
	}
	return p
}

// DecodeChoicePayload parses the content of a choice system message. The legacy
// continue-choice form decodes to the default variant.
func DecodeChoicePayload(content string) (ChoicePayload, error) {
	var p ChoicePayload
	if err := json.Unmarshal([]byte(content), &p); err != nil {
		return ChoicePayload{}, fmt.Errorf("decode choice payload: %w", err)
	}
	switch p.Type {
	case PayloadPostTappingChoice:
		return p, nil
	case PayloadContinueChoice:
		return ChoicePayload{
			Type:      PayloadContinueChoice,
			Variant:   VariantDefault,
			Intensity: p.Intensity,
			Options:   []Choice{ChoiceContinue, ChoiceEnd},
		}, nil
	}
	return ChoicePayload{}, fmt.Errorf("decode choice payload: unknown type %q", p.Type)
}

func encodePayload(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(data)
}
