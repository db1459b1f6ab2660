package services

import "unicode/utf8"

// EstimateTokens 估算文本token数
// 粗略按4字符一个token计，CJK字符按1字符1token计
// 只用于上下文预算展示，不参与计费
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	var ascii, wide int
	for _, r := range text {
		if r < 128 {
			ascii++
		} else {
			wide++
		}
	}
	tokens := ascii/4 + wide
	if tokens == 0 && utf8.RuneCountInString(text) > 0 {
		tokens = 1
	}
	return tokens
}
