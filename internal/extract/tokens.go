package extract

import "strings"

// EstimateTokens gives a rough token count from word count. Scripts written
// without spaces between words (CJK, Hangul) add about one token per two
// characters on top.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	tokens := int(float64(len(strings.Fields(text))) * 1.33)
	wide := 0
	for _, r := range text {
		if r >= 0x2E80 {
			wide++
		}
	}
	tokens += wide / 2
	if tokens < 1 {
		tokens = 1
	}
	return tokens
}
