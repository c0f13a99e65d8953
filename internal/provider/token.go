package provider

import gateway "github.com/lkgate/lkgate/internal"

// EstimateTokens approximates the token count of text at 4 characters per
// token, never less than 1. Used when the upstream omits usage data.
func EstimateTokens(text string) int {
	n := len(text) / 4
	if n < 1 {
		return 1
	}
	return n
}

// EstimateMessageTokens approximates the prompt token count for a message
// list, counting both role and content.
func EstimateMessageTokens(messages []gateway.Message) int {
	total := 0
	for _, m := range messages {
		total += len(m.Role) + len(m.Content)
	}
	n := total / 4
	if n < 1 {
		return 1
	}
	return n
}
