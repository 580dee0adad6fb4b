package chunker

import (
	"strings"
	"unicode/utf8"
)

// EstimateTokens gives a rough token count for logging and prompt budgeting.
// It takes the larger of the word-based (~1.33 tokens/word) and the
// character-based (~4 chars/token) estimates so dense text is not undercounted.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	byWords := int(float64(len(strings.Fields(text))) * 1.33)
	byChars := utf8.RuneCountInString(text) / 4
	return max(byWords, byChars, 1)
}
