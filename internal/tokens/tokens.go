// Package tokens counts and truncates text against an LLM's token budget
// using tiktoken's cl100k_base encoding, falling back to a word/rune
// heuristic when the encoding cannot be loaded.
package tokens

import (
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

var (
	encOnce sync.Once
	enc     *tiktoken.Tiktoken
)

func encoding() *tiktoken.Tiktoken {
	encOnce.Do(func() {
		e, err := tiktoken.GetEncoding("cl100k_base")
		if err == nil {
			enc = e
		}
	})
	return enc
}

// Count returns the token count of text under cl100k_base, or a
// whitespace/rune-based estimate if the encoding is unavailable.
func Count(text string) int {
	if text == "" {
		return 0
	}
	if e := encoding(); e != nil {
		return len(e.Encode(text, nil, nil))
	}
	return estimateFast(text)
}

// estimateFast approximates token count as max(words, runes/4), a crude
// but serviceable fallback when tiktoken's BPE ranks can't be loaded.
func estimateFast(text string) int {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return 0
	}
	words := len(strings.Fields(trimmed))
	runes := len([]rune(trimmed))
	if byRunes := runes / 4; byRunes > words {
		return byRunes
	}
	return words
}

// TruncateToTokens shortens text to at most maxTokens tokens, appending
// "..." when truncation occurs. maxTokens <= 0 is a no-op.
func TruncateToTokens(text string, maxTokens int) string {
	if maxTokens <= 0 {
		return text
	}
	if Count(text) <= maxTokens {
		return text
	}
	if e := encoding(); e != nil {
		ids := e.Encode(text, nil, nil)
		if len(ids) <= maxTokens {
			return text
		}
		cut := maxTokens
		if cut < 0 {
			cut = 0
		}
		return e.Decode(ids[:cut]) + "..."
	}

	words := strings.Fields(text)
	if len(words) <= maxTokens {
		return text
	}
	return strings.Join(words[:maxTokens], " ") + "..."
}
