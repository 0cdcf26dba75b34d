package textnorm

import (
	"unicode"
	"unicode/utf8"
)

type token struct {
	text string
	word bool
}

// tokenize splits s into alternating word and non-word runs whose concatenation is s.
// An apostrophe belongs to a word only when a letter follows it, so "don't" stays
// whole while a trailing quote stays punctuation.
func tokenize(s string) []token {
	var tokens []token
	start := 0
	inWord := false

	flush := func(end int) {
		if end > start {
			tokens = append(tokens, token{text: s[start:end], word: inWord})
		}
		start = end
	}

	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		isWord := isWordRune(r)
		if !isWord && isApostrophe(r) && inWord {
			next, _ := utf8.DecodeRuneInString(s[i+size:])
			isWord = unicode.IsLetter(next)
		}
		if isWord != inWord {
			flush(i)
			inWord = isWord
		}
		i += size
	}
	flush(len(s))
	return tokens
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

func isApostrophe(r rune) bool {
	return r == '\'' || r == '’'
}
