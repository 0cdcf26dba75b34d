// Package crisis flags messages that suggest self-harm or suicidal intent.
// The same routine serves the session pre-check and the dialogue service so the
// two can never disagree.
package crisis

import (
	_ "embed"
	"fmt"
	"strings"
	"unicode"

	"gopkg.in/yaml.v3"
)

//go:embed lexicon.yaml
var lexiconYAML []byte

// SupportMessage replaces the assistant's reply whenever Detect fires.
const SupportMessage = "I'm really glad you told me, and I want to make sure you're safe right now. " +
	"What you're describing sounds serious, and you deserve support from someone who can be with you in this. " +
	"Please reach out to a crisis line or emergency services now. If you're in the US you can call or text 988, " +
	"and in the UK you can call Samaritans on 116 123. You can keep talking with me too, but please contact them as well."

type lexicon struct {
	Keywords []string   `yaml:"keywords"`
	Phrases  []string   `yaml:"phrases"`
	Pairs    [][]string `yaml:"pairs"`
}

// Detector scans text against fixed keyword, phrase and co-occurrence lists.
// It holds no mutable state and is safe for concurrent use.
type Detector struct {
	keywords []string
	phrases  []string
	pairs    [][]string
}

var defaultDetector = mustLoad(lexiconYAML)

// Default returns the detector built from the embedded lexicon.
func Default() *Detector {
	return defaultDetector
}

// Detect runs the default detector.
func Detect(text string) bool {
	return defaultDetector.Detect(text)
}

func mustLoad(data []byte) *Detector {
	d, err := Load(data)
	if err != nil {
		panic(fmt.Sprintf("crisis: embedded lexicon: %v", err))
	}
	return d
}

// Load builds a Detector from a YAML lexicon document.
func Load(data []byte) (*Detector, error) {
	var lex lexicon
	if err := yaml.Unmarshal(data, &lex); err != nil {
		return nil, fmt.Errorf("parse lexicon: %w", err)
	}
	d := &Detector{
		keywords: lowerAll(lex.Keywords),
		phrases:  lowerAll(lex.Phrases),
	}
	for _, p := range lex.Pairs {
		words := lowerAll(p)
		if len(words) < 2 {
			return nil, fmt.Errorf("pair %v needs at least two words", p)
		}
		d.pairs = append(d.pairs, words)
	}
	return d, nil
}

// Detect reports whether text contains a keyword, a phrase, or every word of a pair.
// Pair words match whole words anywhere in the text, in any order.
func (d *Detector) Detect(text string) bool {
	lower := strings.ToLower(text)
	if strings.TrimSpace(lower) == "" {
		return false
	}
	lower = strings.ReplaceAll(lower, "’", "'")

	for _, k := range d.keywords {
		if strings.Contains(lower, k) {
			return true
		}
	}
	for _, p := range d.phrases {
		if strings.Contains(lower, p) {
			return true
		}
	}

	words := wordSet(lower)
	for _, pair := range d.pairs {
		if containsAll(words, pair) {
			return true
		}
	}
	return false
}

func wordSet(s string) map[string]bool {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
	set := make(map[string]bool, len(fields))
	for _, f := range fields {
		set[f] = true
	}
	return set
}

func containsAll(set map[string]bool, words []string) bool {
	for _, w := range words {
		if !set[w] {
			return false
		}
	}
	return true
}

func lowerAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.ToLower(strings.TrimSpace(s))
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
