package chunk

import (
	"strings"
	"unicode/utf8"
)

// Tokenizer counts tokens for chunk budgeting. The chunker only needs a
// counting function and a budget; the concrete tokenization belongs to
// whatever embedding or prompting model consumes the chunks.
type Tokenizer interface {
	CountTokens(text string) int
	MaxTokens() int
}

// HeuristicTokenizer approximates subword token counts without a model
// vocabulary: one token per word plus one per four extra runes of long words.
// Deterministic, so chunk boundaries are stable across runs.
type HeuristicTokenizer struct {
	maxTokens int
}

// NewHeuristicTokenizer creates a tokenizer with the given budget.
func NewHeuristicTokenizer(maxTokens int) *HeuristicTokenizer {
	if maxTokens < 1 {
		maxTokens = 512
	}
	return &HeuristicTokenizer{maxTokens: maxTokens}
}

func (h *HeuristicTokenizer) MaxTokens() int {
	return h.maxTokens
}

func (h *HeuristicTokenizer) CountTokens(text string) int {
	count := 0
	for _, word := range strings.Fields(text) {
		runes := utf8.RuneCountInString(word)
		count++
		if runes > 4 {
			count += (runes - 1) / 4
		}
	}
	return count
}
