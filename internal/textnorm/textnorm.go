// Package textnorm corrects common misspellings of emotion, body-location and
// contraction words in free text before it reaches crisis detection or the model.
package textnorm

import (
	_ "embed"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"gopkg.in/yaml.v3"
)

//go:embed dictionary.yaml
var dictionaryYAML []byte

// minFuzzyLen is the shortest word considered for edit-distance matching.
// Shorter words only correct on an exact dictionary hit.
const minFuzzyLen = 5

// fuzzyRatio bounds the accepted edit distance to floor(fuzzyRatio * len(word)).
const fuzzyRatio = 0.4

// Entry maps one misspelling to its canonical spelling.
type Entry struct {
	Typo      string `yaml:"typo"`
	Canonical string `yaml:"canonical"`
	exactOnly bool
}

// Change records one replacement made by Correct.
type Change struct {
	Original    string `json:"original"`
	Replacement string `json:"replacement"`
}

// Result is the output of Correct.
type Result struct {
	Corrected string   `json:"corrected"`
	Changes   []Change `json:"changes"`
}

// Changed reports whether any token was replaced.
func (r Result) Changed() bool {
	return len(r.Changes) > 0
}

type dictionaryFile struct {
	Emotions     []Entry  `yaml:"emotions"`
	Body         []Entry  `yaml:"body"`
	Contractions []Entry  `yaml:"contractions"`
	Protected    []string `yaml:"protected"`
}

// Normalizer holds a read-only dictionary and is safe for concurrent use.
type Normalizer struct {
	entries   []Entry
	exact     map[string]int
	known     map[string]bool
	protected map[string]bool
}

var defaultNormalizer = mustLoad(dictionaryYAML)

// Default returns the normalizer built from the embedded dictionary.
func Default() *Normalizer {
	return defaultNormalizer
}

// Correct runs the default normalizer over input.
func Correct(input string) Result {
	return defaultNormalizer.Correct(input)
}

// Entries returns a copy of the dictionary in resolution order.
func (n *Normalizer) Entries() []Entry {
	out := make([]Entry, len(n.entries))
	copy(out, n.entries)
	return out
}

func mustLoad(data []byte) *Normalizer {
	n, err := Load(data)
	if err != nil {
		panic(fmt.Sprintf("textnorm: embedded dictionary: %v", err))
	}
	return n
}

// Load builds a Normalizer from a YAML dictionary document.
// Contractions are exact-only: a dropped apostrophe is one edit away from too many real words.
func Load(data []byte) (*Normalizer, error) {
	var file dictionaryFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse dictionary: %w", err)
	}

	n := &Normalizer{
		exact:     make(map[string]int),
		known:     make(map[string]bool),
		protected: make(map[string]bool),
	}
	add := func(entries []Entry, exactOnly bool) {
		for _, e := range entries {
			e.Typo = strings.ToLower(strings.TrimSpace(e.Typo))
			e.Canonical = strings.TrimSpace(e.Canonical)
			if e.Typo == "" || e.Canonical == "" {
				continue
			}
			if _, dup := n.exact[e.Typo]; dup {
				continue
			}
			e.exactOnly = exactOnly
			n.exact[e.Typo] = len(n.entries)
			n.entries = append(n.entries, e)
			n.known[strings.ToLower(e.Canonical)] = true
		}
	}
	add(file.Emotions, false)
	add(file.Body, false)
	add(file.Contractions, true)
	for _, w := range file.Protected {
		n.protected[strings.ToLower(strings.TrimSpace(w))] = true
	}
	return n, nil
}

// Correct replaces misspelled words in input. Whitespace, punctuation and token
// boundaries are preserved. Fuzzy ties resolve to the earliest dictionary entry.
func (n *Normalizer) Correct(input string) Result {
	tokens := tokenize(input)
	var b strings.Builder
	b.Grow(len(input))
	var changes []Change

	for _, tok := range tokens {
		if !tok.word {
			b.WriteString(tok.text)
			continue
		}
		replacement, ok := n.lookup(tok.text)
		if !ok || replacement == tok.text {
			b.WriteString(tok.text)
			continue
		}
		b.WriteString(replacement)
		changes = append(changes, Change{Original: tok.text, Replacement: replacement})
	}

	return Result{Corrected: b.String(), Changes: changes}
}

func (n *Normalizer) lookup(word string) (string, bool) {
	lower := strings.ToLower(word)
	if n.known[lower] || n.protected[lower] {
		return "", false
	}
	if idx, ok := n.exact[lower]; ok {
		return matchCase(word, n.entries[idx].Canonical), true
	}

	length := utf8.RuneCountInString(lower)
	if length < minFuzzyLen || hasDigit(lower) {
		return "", false
	}
	limit := int(fuzzyRatio * float64(length))

	best, bestDist := -1, limit+1
	for i, e := range n.entries {
		if e.exactOnly {
			continue
		}
		d := levenshtein(lower, e.Typo)
		if d < bestDist {
			best, bestDist = i, d
		}
	}
	if best < 0 {
		return "", false
	}
	return matchCase(word, n.entries[best].Canonical), true
}

// matchCase carries the capitalisation style of original onto canonical.
func matchCase(original, canonical string) string {
	if canonical != strings.ToLower(canonical) {
		return canonical
	}
	r, _ := utf8.DecodeRuneInString(original)
	if utf8.RuneCountInString(original) > 1 && original == strings.ToUpper(original) {
		return strings.ToUpper(canonical)
	}
	if unicode.IsUpper(r) {
		first, size := utf8.DecodeRuneInString(canonical)
		return string(unicode.ToUpper(first)) + canonical[size:]
	}
	return canonical
}

func hasDigit(s string) bool {
	for _, r := range s {
		if unicode.IsDigit(r) {
			return true
		}
	}
	return false
}

// levenshtein returns the rune edit distance between a and b.
func levenshtein(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 {
		return len(rb)
	}
	if len(rb) == 0 {
		return len(ra)
	}

	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(rb)]
}
