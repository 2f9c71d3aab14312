package domain

import (
	"context"
	"strings"
)

// LLMProvider is the interface for any LLM backend.
type LLMProvider interface {
	// Chat sends a request and returns a complete response.
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
	// Name returns the provider's identifier (e.g., "openai", "deepseek").
	Name() string
}

// StreamDelta is a single incremental chunk from a streaming LLM response.
type StreamDelta struct {
	Content string `json:"content,omitempty"`
	Done    bool   `json:"done,omitempty"`
	Usage   *Usage `json:"usage,omitempty"`
}

// StreamingLLMProvider extends LLMProvider with streaming support.
type StreamingLLMProvider interface {
	LLMProvider
	// ChatStream sends a request and returns a channel of incremental deltas.
	// The channel is closed after the final delta.
	ChatStream(ctx context.Context, req ChatRequest) (<-chan StreamDelta, error)
}

// ModelRegistry selects the provider that serves a model identifier.
// Resolve fails with ErrModelNotFound for unknown models.
type ModelRegistry interface {
	Resolve(model string) (LLMProvider, error)
}

// UsageRecorder receives token counts for billable model calls made while
// running a tool. Implementations must not block.
type UsageRecorder interface {
	Record(model string, promptTokens, completionTokens int)
}

// UsageRecorderFunc adapts a function to UsageRecorder.
type UsageRecorderFunc func(model string, promptTokens, completionTokens int)

// Record calls f.
func (f UsageRecorderFunc) Record(model string, promptTokens, completionTokens int) {
	f(model, promptTokens, completionTokens)
}

// SingleDelta wraps one complete text as a finished stream.
func SingleDelta(content string, usage *Usage) <-chan StreamDelta {
	ch := make(chan StreamDelta, 1)
	ch <- StreamDelta{Content: content, Done: true, Usage: usage}
	close(ch)
	return ch
}

// ChatText sends msgs to p and returns the trimmed reply text.
func ChatText(ctx context.Context, p LLMProvider, model string, msgs []Message) (string, error) {
	resp, err := p.Chat(ctx, ChatRequest{Model: model, Messages: msgs})
	if err != nil {
		return "", err
	}
	if resp == nil {
		return "", nil
	}
	return strings.TrimSpace(resp.Message.Content), nil
}

// OpenStream streams the reply to msgs. Providers without streaming support
// deliver their complete reply as a single delta.
func OpenStream(ctx context.Context, p LLMProvider, model string, msgs []Message) (<-chan StreamDelta, error) {
	req := ChatRequest{Model: model, Messages: msgs, Stream: true}
	if sp, ok := p.(StreamingLLMProvider); ok {
		return sp.ChatStream(ctx, req)
	}
	req.Stream = false
	resp, err := p.Chat(ctx, req)
	if err != nil {
		return nil, err
	}
	if resp == nil {
		return SingleDelta("", nil), nil
	}
	return SingleDelta(resp.Message.Content, &resp.Usage), nil
}
