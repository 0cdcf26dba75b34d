// Package directive decodes the control object a dialogue model embeds in its
// free-form reply and strips it from the text shown to the user.
//
// Wire form: <<DIRECTIVE {json}>> on a single line. Models drift, so the closing
// ">>" may be repeated, and a "}}" closing in place of ">>" is accepted as a fallback.
package directive

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/goccy/go-json"

	"github.com/ashureev/tapflow/internal/domain"
)

// Marker opens every directive.
const Marker = "<<DIRECTIVE"

// Directive is the control object proposed by the dialogue model for one reply.
type Directive struct {
	NextState       *string  `json:"next_state"`
	TappingPoint    *Int     `json:"tapping_point"`
	SetupStatements []string `json:"setup_statements"`
	StatementOrder  []Int    `json:"statement_order"`
	SayIndex        *Int     `json:"say_index"`
	Collect         *string  `json:"collect"`
	Notes           string   `json:"notes,omitempty"`
}

// State returns the requested next state when it names a known state.
func (d Directive) State() (domain.State, bool) {
	if d.NextState == nil {
		return "", false
	}
	return domain.ParseState(strings.TrimSpace(*d.NextState))
}

// Point returns the tapping point when it is present and within 0..7.
func (d Directive) Point() (int, bool) {
	if d.TappingPoint == nil {
		return 0, false
	}
	p := int(*d.TappingPoint)
	if p < 0 || p >= domain.TappingPoints {
		return 0, false
	}
	return p, true
}

// Statements returns the setup statements when exactly three non-empty ones are present.
func (d Directive) Statements() ([]string, bool) {
	if len(d.SetupStatements) != 3 {
		return nil, false
	}
	out := make([]string, 3)
	for i, s := range d.SetupStatements {
		s = strings.TrimSpace(s)
		if s == "" {
			return nil, false
		}
		out[i] = s
	}
	return out, true
}

// Order returns the statement order when it has eight entries, each in {0,1,2}.
func (d Directive) Order() ([]int, bool) {
	if len(d.StatementOrder) != domain.TappingPoints {
		return nil, false
	}
	out := make([]int, len(d.StatementOrder))
	for i, v := range d.StatementOrder {
		if v < 0 || v > 2 {
			return nil, false
		}
		out[i] = int(v)
	}
	return out, true
}

// CollectField returns the name of the datum the model wants gathered next, if any.
func (d Directive) CollectField() string {
	if d.Collect == nil {
		return ""
	}
	return strings.TrimSpace(*d.Collect)
}

// Int decodes a JSON number, a numeric string, or null.
type Int int

// UnmarshalJSON implements json.Unmarshaler.
func (i *Int) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	s := strings.Trim(string(data), `"`)
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		*i = Int(f)
		return nil
	}
	return fmt.Errorf("directive: %s is not an integer", data)
}

// Format renders d in the canonical wire form.
func Format(d Directive) (string, error) {
	body, err := json.Marshal(d)
	if err != nil {
		return "", fmt.Errorf("marshal directive: %w", err)
	}
	return Marker + " " + string(body) + ">>", nil
}

// Ptr returns a pointer to v. It keeps directive literals in tests and scripted replies short.
func Ptr[T any](v T) *T {
	return &v
}

// Ints converts plain ints into directive Ints.
func Ints(vs ...int) []Int {
	out := make([]Int, len(vs))
	for i, v := range vs {
		out[i] = Int(v)
	}
	return out
}
