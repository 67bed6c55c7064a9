package utils

import "strings"

// Token estimates use the common ~4 characters per token heuristic; exact
// counts depend on the model's tokenizer.
const charsPerToken = 4

// CountTokens estimates the number of tokens in text. Non-empty text is at
// least one token.
func CountTokens(text string) int {
	n := len([]rune(text))
	if n == 0 {
		return 0
	}
	return max(n/charsPerToken, 1)
}

// TruncateToTokenLimit cuts text to roughly limit tokens, preferring to end
// on a line boundary so rendered tables keep whole rows.
func TruncateToTokenLimit(text string, limit int) string {
	if limit <= 0 {
		return ""
	}
	runes := []rune(text)
	charLimit := limit * charsPerToken
	if charLimit >= len(runes) {
		return text
	}
	cut := string(runes[:charLimit])
	if i := strings.LastIndexByte(cut, '\n'); i > len(cut)/2 {
		cut = cut[:i]
	}
	return cut
}

// TruncateLines keeps the first n lines of text and reports whether any
// were dropped.
func TruncateLines(text string, n int) (string, bool) {
	if n <= 0 {
		return text, false
	}
	lines := strings.SplitN(text, "\n", n+1)
	if len(lines) <= n {
		return text, false
	}
	return strings.Join(lines[:n], "\n"), true
}

// TokenBreakdown returns token estimates per labelled section.
func TokenBreakdown(sections map[string]string) map[string]int {
	out := make(map[string]int, len(sections))
	for k, v := range sections {
		out[k] = CountTokens(v)
	}
	return out
}
