package intake

import (
	"regexp"
	"strings"
)

var whitespace = regexp.MustCompile(`\s+`)

// TogglePhrase removes phrase from letter when present, otherwise appends
// it. Removal replaces every occurrence and collapses the letter's
// whitespace to single spaces.
func TogglePhrase(letter, phrase string) string {
	if phrase == "" {
		return letter
	}
	if strings.Contains(letter, phrase) {
		next := strings.ReplaceAll(letter, phrase, " ")
		return strings.TrimSpace(whitespace.ReplaceAllString(next, " "))
	}
	if letter != "" && !strings.HasSuffix(letter, " ") {
		return letter + " " + phrase
	}
	return letter + phrase
}

// PhraseState reports which phrases currently appear in letter
func PhraseState(letter string, phrases []string) map[string]bool {
	out := make(map[string]bool, len(phrases))
	for _, p := range phrases {
		out[p] = p != "" && strings.Contains(letter, p)
	}
	return out
}
