package directive

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/goccy/go-json"
)

// Variant identifies which grammar matched.
type Variant int

const (
	VariantNone Variant = iota
	VariantPrimary
	VariantFallback
)

func (v Variant) String() string {
	switch v {
	case VariantPrimary:
		return "primary"
	case VariantFallback:
		return "fallback"
	}
	return "none"
}

// Both grammars are single-line: a directive never spans a newline.
var (
	// <<DIRECTIVE {...}>> with any run of two or more closing '>'.
	primaryRegex = regexp.MustCompile(`<<DIRECTIVE[ \t]*(\{[^\n]*?\})[ \t]*>{2,}`)
	// <<DIRECTIVE {...}}} where the model closed with braces instead of '>>'.
	fallbackRegex = regexp.MustCompile(`<<DIRECTIVE[ \t]*(\{[^\n]*?\})[ \t]*\}{1,2}>*`)
	// A directive cut off before its closing; only removed, never parsed.
	truncatedRegex = regexp.MustCompile(`<<DIRECTIVE[ \t]*\{[^\n]*$`)
	// Stray closing runs left at the very end of a reply.
	trailingCloseRegex = regexp.MustCompile(`(?:\s*>{2,})+\s*$`)
)

// Result is the outcome of Parse: either a found directive or nothing.
type Result struct {
	directive Directive
	variant   Variant
}

// NotFound is the empty Result.
func NotFound() Result {
	return Result{}
}

// Found reports whether a directive was decoded.
func (r Result) Found() bool {
	return r.variant != VariantNone
}

// Directive returns the decoded directive and whether one was found.
func (r Result) Directive() (Directive, bool) {
	return r.directive, r.Found()
}

// Variant reports which grammar produced the directive.
func (r Result) Variant() Variant {
	return r.variant
}

// Parse extracts the first directive that decodes. At each marker the primary
// grammar is tried first, then the fallback. Parse never fails.
func Parse(text string) Result {
	for _, m := range locate(text) {
		if m.result.Found() {
			return m.result
		}
	}
	return NotFound()
}

// Strip removes every directive-shaped substring from text, whichever closing
// variant it uses, and trims trailing whitespace. Strip is idempotent.
func Strip(text string) string {
	if strings.Contains(text, Marker) {
		var b strings.Builder
		last := 0
		for _, m := range locate(text) {
			b.WriteString(text[last:m.start])
			last = m.end
		}
		b.WriteString(text[last:])
		text = truncatedRegex.ReplaceAllString(b.String(), "")
		text = trailingCloseRegex.ReplaceAllString(text, "")
	}
	return strings.TrimRightFunc(text, unicode.IsSpace)
}

type span struct {
	start, end int
	result     Result
}

// locate finds one span per marker. A span whose JSON decodes wins; when neither
// grammar decodes, the shorter match is taken so trailing text is not swallowed.
func locate(text string) []span {
	var out []span
	pos := 0
	for {
		i := strings.Index(text[pos:], Marker)
		if i < 0 {
			return out
		}
		start := pos + i
		rest := text[start:]

		p, pOK := matchAt(primaryRegex, rest, VariantPrimary)
		f, fOK := matchAt(fallbackRegex, rest, VariantFallback)
		var m span
		switch {
		case pOK && p.result.Found():
			m = p
		case fOK && f.result.Found():
			m = f
		case pOK && fOK:
			m = p
			if f.end < p.end {
				m = f
			}
		case pOK:
			m = p
		case fOK:
			m = f
		default:
			pos = start + len(Marker)
			continue
		}
		m.start += start
		m.end += start
		out = append(out, m)
		pos = m.end
	}
}

// matchAt matches re at the start of s.
func matchAt(re *regexp.Regexp, s string, variant Variant) (span, bool) {
	loc := re.FindStringSubmatchIndex(s)
	if loc == nil || loc[0] != 0 {
		return span{}, false
	}
	return span{start: 0, end: loc[1], result: decode(s[loc[2]:loc[3]], variant)}, true
}

func decode(body string, variant Variant) Result {
	var d Directive
	if err := json.Unmarshal([]byte(body), &d); err != nil {
		return NotFound()
	}
	return Result{directive: d, variant: variant}
}

// Split is Parse and Strip in one call.
func Split(text string) (visible string, result Result) {
	return Strip(text), Parse(text)
}
