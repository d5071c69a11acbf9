// Package token counts LLM tokens with tiktoken's cl100k_base encoding,
// falling back to a character heuristic tuned for mixed Chinese/Latin text
// when the encoding cannot be initialized.
package token

import (
	"sync"
	"unicode"

	"github.com/pkoukk/tiktoken-go"
)

var (
	once     sync.Once
	encoding *tiktoken.Tiktoken
)

func initEncoding() {
	once.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err == nil {
			encoding = enc
		}
	})
}

// Count returns the token count of text. Exact via tiktoken when available,
// otherwise Estimate.
func Count(text string) int {
	initEncoding()
	if encoding != nil {
		return len(encoding.Encode(text, nil, nil))
	}
	return Estimate(text)
}

// Estimate approximates the token count as chinese_chars/1.5 + other_chars/4.
// CJK characters encode denser than Latin text in BPE vocabularies.
func Estimate(text string) int {
	if text == "" {
		return 0
	}
	chinese := 0
	other := 0
	for _, r := range text {
		if unicode.Is(unicode.Han, r) {
			chinese++
		} else {
			other++
		}
	}
	estimate := int(float64(chinese)/1.5 + float64(other)/4)
	if estimate == 0 {
		estimate = 1
	}
	return estimate
}
