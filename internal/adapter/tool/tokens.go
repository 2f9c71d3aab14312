package tool

import (
	"fmt"
	"log/slog"
	"unicode"

	"github.com/pkoukk/tiktoken-go"
)

// DefaultEncoding is the BPE used for token estimates.
const DefaultEncoding = "cl100k_base"

// messageOverhead approximates the framing tokens a chat format adds per message.
const messageOverhead = 4

// TokenCounter counts tokens in a string.
type TokenCounter interface {
	Count(text string) int
}

// TikTokenCounter counts tokens with a tiktoken encoding.
type TikTokenCounter struct {
	tke *tiktoken.Tiktoken
}

// NewTikTokenCounter loads encoding, e.g. "cl100k_base".
func NewTikTokenCounter(encoding string) (*TikTokenCounter, error) {
	tke, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("get encoding %q: %w", encoding, err)
	}
	return &TikTokenCounter{tke: tke}, nil
}

// Count returns the number of tokens in text.
func (c *TikTokenCounter) Count(text string) int {
	return len(c.tke.Encode(text, nil, nil))
}

// RuneCounter estimates without a vocabulary: one token per CJK character and
// one per four other characters.
type RuneCounter struct{}

// Count returns the estimate for text.
func (RuneCounter) Count(text string) int {
	cjk, other := 0, 0
	for _, r := range text {
		switch {
		case unicode.Is(unicode.Han, r):
			cjk++
		case unicode.IsSpace(r):
		default:
			other++
		}
	}
	return cjk + (other+3)/4
}

// NewTokenCounter returns a tiktoken counter, or RuneCounter when the encoding
// cannot be loaded.
func NewTokenCounter(encoding string, logger *slog.Logger) TokenCounter {
	if encoding == "" {
		encoding = DefaultEncoding
	}
	c, err := NewTikTokenCounter(encoding)
	if err != nil {
		logger.Warn("token encoding unavailable, using estimate", "encoding", encoding, "error", err)
		return RuneCounter{}
	}
	return c
}

func messageTokens(c TokenCounter, role, content string) int {
	if content == "" {
		return 0
	}
	return c.Count(role) + c.Count(content) + messageOverhead
}
