// Package tool executes the built-in agent tools by key.
package tool

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"

	"harmony-core/internal/domain"
)

// DefaultToolModel serves LLM-backed tools when neither the request nor the
// configuration names a model.
const DefaultToolModel = "deepseek-chat"

const (
	defaultLLMTimeout = 30 * time.Second
	defaultMaxTokens  = 2048
)

// Searcher is the web-search backend behind the web_search key.
type Searcher interface {
	Search(ctx context.Context, query string) domain.ToolResult
	ForceSearch(ctx context.Context, prompt string) domain.ToolResult
	Fallback(ctx context.Context, query string) domain.ToolResult
}

// Config holds executor settings.
type Config struct {
	ToolModel  string        // model for translate/summarize when the request has no hint
	LLMTimeout time.Duration // bound on each tool-side model call
	MaxTokens  int
}

// Executor dispatches tool requests. It implements domain.ToolExecutor and
// domain.SearchFallbacker.
type Executor struct {
	cfg    Config
	models domain.ModelRegistry
	search Searcher
	tokens TokenCounter
	now    func() time.Time
	logger *slog.Logger
}

// NewExecutor creates an executor. models may be nil when no LLM-backed tool
// is used; search may be nil to disable web_search.
func NewExecutor(cfg Config, models domain.ModelRegistry, search Searcher, tokens TokenCounter, logger *slog.Logger) *Executor {
	if cfg.LLMTimeout <= 0 {
		cfg.LLMTimeout = defaultLLMTimeout
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	if tokens == nil {
		tokens = RuneCounter{}
	}
	return &Executor{
		cfg:    cfg,
		models: models,
		search: search,
		tokens: tokens,
		now:    time.Now,
		logger: logger,
	}
}

var (
	_ domain.ToolExecutor     = (*Executor)(nil)
	_ domain.SearchFallbacker = (*Executor)(nil)
)

// Execute runs one tool. Failures are encoded in the result, never returned.
func (e *Executor) Execute(ctx context.Context, req domain.ToolExecutionRequest) domain.ToolResult {
	key := strings.ToLower(strings.TrimSpace(req.ToolKey))
	if key == "" {
		return domain.ToolFailure("Tool key is required")
	}

	var handler func(ctx context.Context, span trace.Span, input string) (any, error)
	switch key {
	case domain.ToolCalculator:
		handler = e.calculate
	case domain.ToolDatetime:
		handler = e.datetime
	case domain.ToolTranslate:
		handler = func(ctx context.Context, _ trace.Span, input string) (any, error) {
			return e.translate(ctx, input, req.ModelHint)
		}
	case domain.ToolSummarize:
		handler = func(ctx context.Context, _ trace.Span, input string) (any, error) {
			return e.summarize(ctx, input, req.ModelHint)
		}
	case domain.ToolWebSearch:
		handler = func(ctx context.Context, _ trace.Span, input string) (any, error) {
			return e.webSearch(ctx, input, req.Forced)
		}
	default:
		return domain.ToolFailure("Unknown tool: " + strings.TrimSpace(req.ToolKey))
	}

	e.logger.Info("tool request", "tool", key, "input_size", len(req.Input), "forced", req.Forced)
	res := Execute(ctx, "tool."+key, e.logger, req.Input, handler)
	if res.OK() {
		e.logger.Info("tool succeeded", "tool", key, "output_size", len(res.Content))
	}
	return res
}

// SearchFallback retries a failed web search through the single configured
// fallback provider.
func (e *Executor) SearchFallback(ctx context.Context, query string) domain.ToolResult {
	return Execute(ctx, "tool.web_search.fallback", e.logger, query,
		func(ctx context.Context, _ trace.Span, input string) (any, error) {
			if e.search == nil {
				return nil, Fail("Search fallback unavailable", nil)
			}
			return e.search.Fallback(ctx, input), nil
		},
	)
}

func (e *Executor) webSearch(ctx context.Context, input string, forced bool) (any, error) {
	if e.search == nil {
		return nil, Fail("Web search is not configured", nil)
	}
	q := strings.TrimSpace(input)
	if q == "" {
		return nil, Fail("Search query is required", nil)
	}
	if forced {
		return e.search.ForceSearch(ctx, q), nil
	}
	return e.search.Search(ctx, q), nil
}
