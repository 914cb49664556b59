package search

import (
	"strings"
	"unicode"
)

// Tokenize lower-cases text and splits it into letter/digit runs.
// camelCase boundaries split too, so "firstName" yields "first" and "name".
func Tokenize(text string) []string {
	var tokens []string
	var current []rune
	flush := func() {
		if len(current) > 0 {
			tokens = append(tokens, strings.ToLower(string(current)))
			current = current[:0]
		}
	}

	var prev rune
	for _, r := range text {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			flush()
			prev = r
			continue
		}
		if unicode.IsUpper(r) && unicode.IsLower(prev) {
			flush()
		}
		current = append(current, r)
		prev = r
	}
	flush()
	return tokens
}
