package domain

import (
	"context"
	"strings"
)

// Tool keys understood by the executor.
const (
	ToolCalculator = "calculator"
	ToolDatetime   = "datetime"
	ToolTranslate  = "translate"
	ToolSummarize  = "summarize"
	ToolWebSearch  = "web_search"
)

// NoResultsSentinel is returned as tool output when a search ran but found
// nothing usable. Callers treat it like a failure.
const NoResultsSentinel = "No results found."

// IsNoResults reports whether output carries nothing usable: blank, the
// sentinel, or a "Search tool returned ..." notice.
func IsNoResults(output string) bool {
	trimmed := strings.TrimSpace(output)
	return trimmed == "" ||
		strings.EqualFold(trimmed, NoResultsSentinel) ||
		strings.HasPrefix(trimmed, "Search tool returned")
}

// IsBlocked reports whether output mentions an anti-bot block.
func IsBlocked(output string) bool {
	return strings.Contains(strings.ToLower(output), "blocked")
}

// ToolExecutionRequest asks the executor to run one tool.
type ToolExecutionRequest struct {
	ToolKey   string `json:"tool_key"`
	Input     string `json:"input"`
	ModelHint string `json:"model_hint,omitempty"`
	// Forced marks a request pre-resolved for a whole team. For web_search it
	// condenses the input into a search query before racing providers.
	Forced bool `json:"forced,omitempty"`
}

// ToolResult is the outcome of executing a tool.
type ToolResult struct {
	Content          string `json:"content"`
	Error            string `json:"error,omitempty"`
	IsError          bool   `json:"is_error"`
	IsRetryable      bool   `json:"is_retryable,omitempty"`
	Model            string `json:"model,omitempty"`
	PromptTokens     int    `json:"prompt_tokens,omitempty"`
	CompletionTokens int    `json:"completion_tokens,omitempty"`
}

// OK reports whether the tool succeeded.
func (r ToolResult) OK() bool { return !r.IsError }

// Billable reports whether the result carries token usage worth recording.
func (r ToolResult) Billable() bool {
	return r.Model != "" && (r.PromptTokens > 0 || r.CompletionTokens > 0)
}

// ToolFailure builds a failed result.
func ToolFailure(msg string) ToolResult {
	return ToolResult{IsError: true, Error: msg}
}

// ToolSuccess builds a successful result.
func ToolSuccess(content string) ToolResult {
	return ToolResult{Content: content}
}

// ToolExecutor runs tools by key. Execute never returns an error; failures
// are encoded in the result.
type ToolExecutor interface {
	Execute(ctx context.Context, req ToolExecutionRequest) ToolResult
}

// SearchFallbacker is implemented by executors that can retry a failed web
// search through a single fallback provider.
type SearchFallbacker interface {
	SearchFallback(ctx context.Context, query string) ToolResult
}
