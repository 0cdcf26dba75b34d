// Package tapping produces the setup statements, reminder phrases and statement
// order for one tapping round when the dialogue model did not supply them.
package tapping

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/ashureev/tapflow/internal/domain"
)

// Points names the eight canonical tapping points, in tapping order.
var Points = [domain.TappingPoints]string{
	"Eyebrow",
	"Side of eye",
	"Under eye",
	"Under nose",
	"Chin",
	"Collarbone",
	"Under arm",
	"Top of head",
}

// DefaultOrder maps each point to one of the three setup statements.
var DefaultOrder = [domain.TappingPoints]int{0, 1, 2, 0, 1, 2, 1, 0}

// Round is one generated set of statements.
type Round struct {
	SetupStatements []string `json:"setupStatements"`
	ReminderPhrases []string `json:"reminderPhrases"`
	StatementOrder  []int    `json:"statementOrder"`
}

// PointName returns the display name of point i, or "" when out of range.
func PointName(i int) string {
	if i < 0 || i >= len(Points) {
		return ""
	}
	return Points[i]
}

// OrderForRound returns DefaultOrder rotated by the round number so consecutive
// rounds open on a different statement. The result always has eight entries in {0,1,2}.
func OrderForRound(round int) []int {
	if round < 1 {
		round = 1
	}
	shift := (round - 1) % 3
	order := make([]int, domain.TappingPoints)
	for i, v := range DefaultOrder {
		order[i] = (v + shift) % 3
	}
	return order
}

// Generate builds a round from the user's own words. Subsequent rounds speak to the
// feeling that remains rather than the original one.
func Generate(problem, feeling, location string, subsequent bool, round int) Round {
	feeling = orDefault(feeling, "feeling")
	location = orDefault(location, "body")
	problem = orDefault(problem, "what's going on")
	cause := becausePhrase(problem)

	var setup []string
	if subsequent {
		setup = []string{
			fmt.Sprintf("Even though I STILL feel some of this %s in my %s %s, I deeply and completely accept myself.", feeling, location, cause),
			fmt.Sprintf("Even though there's some remaining %s about %s, I choose to let it soften now.", feeling, problem),
			fmt.Sprintf("Even though part of me is holding on to this remaining %s, I honour how far I've come.", feeling),
		}
	} else {
		setup = []string{
			fmt.Sprintf("Even though I feel this %s in my %s %s, I deeply and completely accept myself.", feeling, location, cause),
			fmt.Sprintf("Even though %s brings up this %s, I choose to feel calm and safe.", problem, feeling),
			fmt.Sprintf("Even though I carry this %s in my %s, I'm open to letting it go.", feeling, location),
		}
	}

	prefix := "This"
	if subsequent {
		prefix = "This remaining"
	}
	reminders := []string{
		fmt.Sprintf("%s %s", prefix, feeling),
		fmt.Sprintf("%s in my %s", capitalize(feeling), location),
		fmt.Sprintf("%s %s", prefix, strings.ToLower(problem)),
		fmt.Sprintf("This %s feeling", location),
		fmt.Sprintf("All this %s", feeling),
		fmt.Sprintf("%s in my %s", prefix, location),
		fmt.Sprintf("Letting go of this %s", feeling),
		fmt.Sprintf("Releasing this %s now", feeling),
	}

	return Round{
		SetupStatements: setup,
		ReminderPhrases: reminders,
		StatementOrder:  OrderForRound(round),
	}
}

// StatementForPoint returns what is spoken at point: the reminder phrase when the
// round is fully local, otherwise the setup statement selected by the order.
func (r Round) StatementForPoint(point int, local bool) string {
	if point < 0 || point >= domain.TappingPoints {
		return ""
	}
	if local && point < len(r.ReminderPhrases) {
		return r.ReminderPhrases[point]
	}
	if point >= len(r.StatementOrder) {
		return ""
	}
	idx := r.StatementOrder[point]
	if idx < 0 || idx >= len(r.SetupStatements) {
		return ""
	}
	return r.SetupStatements[idx]
}

func becausePhrase(problem string) string {
	if strings.HasPrefix(strings.ToLower(problem), "because ") {
		return problem
	}
	return "because " + problem
}

func orDefault(s, fallback string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return fallback
	}
	return s
}

func capitalize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}

// evenThoughRegex matches an "Even though ..." sentence up to a closing quote or line end.
var evenThoughRegex = regexp.MustCompile(`(?i)Even though[^"”\n]+`)

// ExtractSetupStatements pulls up to three "Even though ..." lines out of model
// text. It returns false unless exactly three were found.
func ExtractSetupStatements(text string) ([]string, bool) {
	var out []string
	seen := make(map[string]bool)
	for _, m := range evenThoughRegex.FindAllString(text, -1) {
		s := strings.TrimSpace(m)
		if seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
		if len(out) == 3 {
			return out, true
		}
	}
	return out, false
}
