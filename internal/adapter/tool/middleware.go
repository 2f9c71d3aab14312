package tool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/trace"

	"harmony-core/internal/domain"
	"harmony-core/internal/infra/tracer"
)

// Execute is the standard tool pipeline: start trace -> run handler -> format result.
//
// The handler receives the raw input and the active span. It should return:
//   - (string, nil): wrapped in a success ToolResult
//   - (domain.ToolResult, nil): returned as-is, for results carrying billing fields
//   - (nil, error): turned into a failed ToolResult; errors built with Fail expose
//     only their public message, the cause is logged
func Execute(
	ctx context.Context,
	spanName string,
	logger *slog.Logger,
	input string,
	handler func(ctx context.Context, span trace.Span, input string) (any, error),
) domain.ToolResult {
	ctx, span := tracer.StartSpan(ctx, spanName,
		trace.WithAttributes(
			tracer.StringAttr("tool.name", spanName),
			tracer.IntAttr("tool.input_size", len(input)),
		),
	)
	defer span.End()

	result, err := handler(ctx, span, input)
	if err != nil {
		tracer.RecordError(span, err)
		logger.Warn(spanName+" failed", "error", err)

		res := domain.ToolFailure(publicMessage(err))
		res.IsRetryable = transient(err)
		return res
	}

	return formatResult(span, result)
}

// formatResult converts the handler's return value into a ToolResult.
func formatResult(span trace.Span, result any) domain.ToolResult {
	switch v := result.(type) {
	case domain.ToolResult:
		if v.IsError {
			tracer.RecordError(span, errors.New(v.Error))
			return v
		}
		if v.Model != "" {
			span.SetAttributes(
				tracer.StringAttr("tool.model", v.Model),
				tracer.IntAttr("tool.prompt_tokens", v.PromptTokens),
				tracer.IntAttr("tool.completion_tokens", v.CompletionTokens),
			)
		}
		tracer.SetOK(span)
		return v
	case string:
		tracer.SetOK(span)
		return domain.ToolSuccess(v)
	default:
		err := fmt.Errorf("unsupported tool result type %T", result)
		tracer.RecordError(span, err)
		return domain.ToolFailure(err.Error())
	}
}

// toolError pairs the message shown to the model with the underlying cause.
type toolError struct {
	public string
	cause  error
}

func (e *toolError) Error() string {
	if e.cause == nil {
		return e.public
	}
	return e.public + ": " + e.cause.Error()
}

func (e *toolError) Unwrap() error { return e.cause }

// Fail builds a handler error whose ToolResult shows only msg. cause may be nil.
func Fail(msg string, cause error) error {
	return &toolError{public: msg, cause: cause}
}

func publicMessage(err error) string {
	var te *toolError
	if errors.As(err, &te) {
		return te.public
	}
	return err.Error()
}
