// Package budget estimates prompt sizes and trims retrieved context to fit
// the chat model's input window. Because docqa supports several backends with
// different tokenizers it uses a conservative character heuristic:
// 1 token ≈ 4 characters.
package budget

import (
	"strings"

	"github.com/cloudwego/eino/schema"
)

const (
	charsPerToken = 4

	// DefaultMaxContextTokens is the default input budget in tokens. It fits
	// 8k-context models while leaving room for the answer.
	DefaultMaxContextTokens = 6000
)

// Estimate returns a rough token count for s using the character heuristic.
func Estimate(s string) int {
	n := len(s) / charsPerToken
	if n == 0 && len(s) > 0 {
		return 1
	}
	return n
}

// EstimateMessages returns the estimated total token count for msgs,
// summing role and content plus a small per-message overhead.
func EstimateMessages(msgs []*schema.Message) int {
	total := 0
	for _, m := range msgs {
		total += 4
		total += Estimate(string(m.Role))
		total += Estimate(m.Content)
	}
	return total
}

// TrimDocuments keeps the leading (most relevant) documents whose combined
// content fits in maxTokens minus reserved. When not even the first document
// fits, its content is cut to the remaining budget so the model still gets
// some context.
func TrimDocuments(docs []*schema.Document, reserved, maxTokens int) []*schema.Document {
	remaining := maxTokens - reserved
	if remaining <= 0 || len(docs) == 0 {
		return nil
	}

	used := 0
	for i, d := range docs {
		cost := Estimate(d.Content)
		if used+cost > remaining {
			if i == 0 {
				first := *d
				first.Content = strings.ToValidUTF8(d.Content[:min(len(d.Content), remaining*charsPerToken)], "")
				return []*schema.Document{&first}
			}
			return docs[:i]
		}
		used += cost
	}
	return docs
}
