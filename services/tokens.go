package services

import "strings"

// EstimateTokens approximates the token count of text for budget decisions.
// Uses the larger of a chars/4 and a words*4/3 heuristic; real tokenizers for
// the embedding and generation models live behind the provider APIs.
func EstimateTokens(text string) int {
	words := len(strings.Fields(text))
	byChars := len(text) / 4
	byWords := words * 4 / 3
	if byChars > byWords {
		return byChars
	}
	return byWords
}

// TruncateToTokens trims text so its estimate fits maxTokens, cutting at a
// word boundary. Returns text unchanged when it already fits.
func TruncateToTokens(text string, maxTokens int) string {
	if maxTokens <= 0 || EstimateTokens(text) <= maxTokens {
		return text
	}

	words := strings.Fields(text)
	// Binary-search the longest word prefix that fits.
	lo, hi := 0, len(words)
	for lo < hi {
		mid := (lo + hi + 1) / 2
		if EstimateTokens(strings.Join(words[:mid], " ")) <= maxTokens {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	return strings.Join(words[:lo], " ")
}
