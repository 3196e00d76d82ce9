package core

import (
	"strings"
	"unicode/utf8"
)

// Tokenizer measures and trims text in token units. The sliding window
// uses it to enforce its budget; the manager uses it to cost persistent
// entries when projecting context items.
type Tokenizer interface {
	// CountTokens returns the token cost of text.
	CountTokens(text string) int

	// TruncateToTokens returns a prefix of text costing at most
	// maxTokens tokens. Text already within the limit is returned
	// unchanged.
	TruncateToTokens(text string, maxTokens int) string
}

// HeuristicTokenizer estimates tokens as one per four characters, the
// usual rule of thumb for English text under BPE tokenization. It is the
// default when no model-specific tokenizer is supplied.
type HeuristicTokenizer struct{}

// CountTokens estimates the token cost of text, rounding up.
func (HeuristicTokenizer) CountTokens(text string) int {
	if text == "" {
		return 0
	}
	return (len(text) + 3) / 4
}

// TruncateToTokens trims text to at most maxTokens tokens on the
// four-characters-per-token estimate, never splitting a rune.
func (HeuristicTokenizer) TruncateToTokens(text string, maxTokens int) string {
	if maxTokens <= 0 {
		return ""
	}
	limit := maxTokens * 4
	if len(text) <= limit {
		return text
	}
	for limit > 0 && !utf8.RuneStart(text[limit]) {
		limit--
	}
	return text[:limit]
}

// WordTokenizer counts whitespace-separated words as tokens. Token
// counts are exact and stable, which makes it the tokenizer of choice
// for tests and examples.
type WordTokenizer struct{}

// CountTokens returns the number of whitespace-separated words in text.
func (WordTokenizer) CountTokens(text string) int {
	return len(strings.Fields(text))
}

// TruncateToTokens keeps the first maxTokens words of text.
func (WordTokenizer) TruncateToTokens(text string, maxTokens int) string {
	if maxTokens <= 0 {
		return ""
	}
	fields := strings.Fields(text)
	if len(fields) <= maxTokens {
		return text
	}
	return strings.Join(fields[:maxTokens], " ")
}
