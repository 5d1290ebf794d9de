package embed

import (
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
)

// charsPerToken is the fallback estimate used when no encoder is available.
const charsPerToken = 4

// Truncator limits text to a token budget.
type Truncator struct {
	enc *tiktoken.Tiktoken
}

// NewTruncator loads the named tiktoken encoding. When it cannot be loaded the
// Truncator estimates four characters per token instead.
func NewTruncator(encoding string) *Truncator {
	if encoding == "" {
		return &Truncator{}
	}
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return &Truncator{}
	}
	return &Truncator{enc: enc}
}

// CountTokens returns the number of tokens in text.
func (t *Truncator) CountTokens(text string) int {
	if t.enc != nil {
		if n, ok := t.safeCount(text); ok {
			return n
		}
	}
	return (utf8.RuneCountInString(text) + charsPerToken - 1) / charsPerToken
}

// TruncateText returns text unchanged when it fits in maxTokens, otherwise a
// strictly shorter prefix that never ends inside a UTF-8 sequence.
func (t *Truncator) TruncateText(text string, maxTokens int) string {
	if text == "" {
		return ""
	}
	if maxTokens <= 0 {
		return ""
	}
	if t.enc != nil {
		if out, ok := t.safeTruncate(text, maxTokens); ok {
			return out
		}
	}
	limit := maxTokens * charsPerToken
	if utf8.RuneCountInString(text) <= limit {
		return text
	}
	return string([]rune(text)[:limit])
}

func (t *Truncator) safeCount(text string) (n int, ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	return len(t.enc.Encode(text, nil, nil)), true
}

func (t *Truncator) safeTruncate(text string, maxTokens int) (out string, ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	tokens := t.enc.Encode(text, nil, nil)
	if len(tokens) <= maxTokens {
		return text, true
	}
	return trimPartialRune(t.enc.Decode(tokens[:maxTokens])), true
}

// trimPartialRune drops bytes at the end of s that do not form a complete rune.
func trimPartialRune(s string) string {
	for len(s) > 0 {
		r, size := utf8.DecodeLastRuneInString(s)
		if r != utf8.RuneError || size > 1 {
			break
		}
		s = s[:len(s)-1]
	}
	return s
}
