// Package budget estimates token counts and fits retrieved context into an
// answer prompt. Because answers may be generated by several backends with
// different tokenizers, it uses a conservative character heuristic:
// 1 token ≈ 4 characters.
package budget

import (
	"github.com/cloudwego/eino/schema"
)

const (
	// charsPerToken is the character-to-token ratio used for estimation.
	charsPerToken = 4

	// DefaultMaxContextTokens is the default input budget in tokens. It fits
	// 8k-context models with room left for the answer.
	DefaultMaxContextTokens = 6000

	// messageOverhead approximates the per-message framing cost.
	messageOverhead = 4
)

// Estimate returns a rough token count for s using the character heuristic.
func Estimate(s string) int {
	n := len(s) / charsPerToken
	if n == 0 && len(s) > 0 {
		return 1
	}
	return n
}

// EstimateMessages returns the estimated total token count for a slice of
// schema.Message values, summing role + content for each message.
func EstimateMessages(msgs []*schema.Message) int {
	total := 0
	for _, m := range msgs {
		total += messageOverhead
		total += Estimate(string(m.Role))
		total += Estimate(m.Content)
	}
	return total
}

// FitSnippets keeps the longest prefix of snippets whose estimated size,
// added to fixed, stays within maxTokens. Snippets are ranked best first,
// so the lowest-ranked ones are dropped. fixed is never trimmed; if it
// alone exceeds the budget no snippet is kept.
func FitSnippets(fixed []*schema.Message, snippets []string, maxTokens int) []string {
	used := EstimateMessages(fixed)
	for i, s := range snippets {
		used += Estimate(s)
		if used > maxTokens {
			return snippets[:i]
		}
	}
	return snippets
}
