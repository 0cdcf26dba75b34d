package flow

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ashureev/tapflow/internal/domain"
)

func intPtr(v int) *int { return &v }

func TestExpected(t *testing.T) {
	assert.True(t, Expected(domain.StateInitial, domain.StateGatheringFeeling))
	assert.True(t, Expected(domain.StateGatheringIntensity, domain.StateTappingPoint))
	assert.True(t, Expected(domain.StatePostTapping, domain.StateAdvice))
	assert.True(t, Expected(domain.StateAdvice, domain.StateAdvice))

	assert.False(t, Expected(domain.StateInitial, domain.StateAdvice))
	assert.False(t, Expected(domain.StateComplete, domain.StateTappingPoint))
}

func TestEveryStateHasTableRow(t *testing.T) {
	for _, s := range []domain.State{
		domain.StateQuestionnaire, domain.StateInitial, domain.StateConversation,
		domain.StateConversationDeepening, domain.StateGatheringFeeling,
		domain.StateGatheringLocation, domain.StateGatheringIntensity, domain.StateSetup,
		domain.StateTappingPoint, domain.StateTappingBreathing, domain.StatePostTapping,
		domain.StateAdvice, domain.StateComplete,
	} {
		_, ok := Transitions[s]
		assert.True(t, ok, "missing row for %s", s)
	}
}

func TestInfer(t *testing.T) {
	tests := []struct {
		name   string
		step   domain.Step
		ctx    InferContext
		reply  string
		want   domain.Step
		wantOK bool
	}{
		{"location always advances", domain.At(domain.StateGatheringLocation), InferContext{}, "Thanks.", domain.At(domain.StateGatheringIntensity), true},
		{"feeling question", domain.At(domain.StateInitial), InferContext{}, "How does that make you feel?", domain.At(domain.StateGatheringFeeling), true},
		{"location question", domain.At(domain.StateGatheringFeeling), InferContext{}, "Where in your body do you notice it?", domain.At(domain.StateGatheringLocation), true},
		{"intensity to tapping", domain.At(domain.StateGatheringIntensity), InferContext{}, "Let's start tapping on the eyebrow point.", domain.TappingAt(0), true},
		{"tapping stays mid round", domain.TappingAt(3), InferContext{}, "Keep going.", domain.TappingAt(3), true},
		{"tapping ends round", domain.TappingAt(7), InferContext{}, "Good.", domain.At(domain.StateTappingBreathing), true},
		{"breathing to post", domain.At(domain.StateTappingBreathing), InferContext{}, "Take a deep breath. How intense is it now?", domain.At(domain.StatePostTapping), true},
		{"post high intensity", domain.At(domain.StatePostTapping), InferContext{CurrentIntensity: intPtr(5)}, "Let's keep going.", domain.TappingAt(0), true},
		{"post completion words", domain.At(domain.StatePostTapping), InferContext{CurrentIntensity: intPtr(1)}, "Well done, that's real progress.", domain.At(domain.StateAdvice), true},
		{"post no opinion", domain.At(domain.StatePostTapping), InferContext{CurrentIntensity: intPtr(2)}, "Hmm.", domain.At(domain.StatePostTapping), false},
		{"advice completes", domain.At(domain.StateAdvice), InferContext{}, "Here are some tips.", domain.At(domain.StateComplete), true},
		{"conversation no cue", domain.At(domain.StateConversation), InferContext{}, "Tell me more.", domain.At(domain.StateConversation), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Infer(tt.step, tt.ctx, tt.reply)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}
