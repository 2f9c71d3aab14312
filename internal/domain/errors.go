package domain

import (
	"errors"
	"fmt"
)

// Category sentinels. Combine with NewSubSystemError for subsystem-specific errors.
var (
	ErrTimeout       = fmt.Errorf("operation timed out")
	ErrInvalidInput  = fmt.Errorf("invalid input")
	ErrProviderError = fmt.Errorf("provider error")
)

// Sentinel errors for the domain layer.
var (
	ErrModelNotFound    = fmt.Errorf("model not registered")
	ErrProviderNotFound = fmt.Errorf("llm provider not found")
	ErrAggregatorFailed = fmt.Errorf("aggregator call failed")

	// Resilience errors.
	ErrContextOverflow = fmt.Errorf("context window exceeded")
	ErrRateLimit       = fmt.Errorf("rate limit exceeded")
	ErrAuthInvalid     = fmt.Errorf("authentication failed")
)

// DomainError wraps a sentinel error with context.
type DomainError struct {
	Op        string // operation name (e.g., "Orchestrator.RunTeam")
	Err       error  // underlying sentinel or wrapped error
	Detail    string // human-readable detail
	SubSystem string // subsystem identifier (e.g., "search", "llm"); used for ErrorCode dispatch
}

func (e *DomainError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *DomainError) Unwrap() error { return e.Err }

// NewDomainError creates a new DomainError.
func NewDomainError(op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail}
}

// NewSubSystemError creates a DomainError tagged with a subsystem for ErrorCode dispatch.
func NewSubSystemError(subsystem, op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail, SubSystem: subsystem}
}

// IsRetryableError reports whether err is a transient provider-side failure
// that may succeed when the same call is made again.
func IsRetryableError(err error) bool {
	return errors.Is(err, ErrRateLimit) || errors.Is(err, ErrTimeout) || errors.Is(err, ErrProviderError)
}

// ErrorCode is a machine-parseable error category for logs and exit messages.
type ErrorCode string

const (
	CodeUnknown          ErrorCode = "UNKNOWN"
	CodeAggregatorFailed ErrorCode = "AGGREGATOR_FAILED"
	CodeModelNotFound    ErrorCode = "MODEL_NOT_FOUND"
	CodeProviderNotFound ErrorCode = "PROVIDER_NOT_FOUND"
	CodeAgentTimeout     ErrorCode = "AGENT_TIMEOUT"
	CodeTimeout          ErrorCode = "TIMEOUT"
	CodeRateLimit        ErrorCode = "RATE_LIMIT"
	CodeAuthInvalid      ErrorCode = "AUTH_INVALID"
	CodeContextOverflow  ErrorCode = "CONTEXT_OVERFLOW"
	CodeProviderError    ErrorCode = "PROVIDER_ERROR"
	CodeInvalidInput     ErrorCode = "INVALID_INPUT"
)

// errorCodes is ordered outermost first: an aggregator failure caused by a
// rate limit reports AGGREGATOR_FAILED.
var errorCodes = []struct {
	sentinel error
	code     ErrorCode
}{
	{ErrAggregatorFailed, CodeAggregatorFailed},
	{ErrModelNotFound, CodeModelNotFound},
	{ErrProviderNotFound, CodeProviderNotFound},
	{ErrTimeout, CodeTimeout},
	{ErrRateLimit, CodeRateLimit},
	{ErrAuthInvalid, CodeAuthInvalid},
	{ErrContextOverflow, CodeContextOverflow},
	{ErrProviderError, CodeProviderError},
	{ErrInvalidInput, CodeInvalidInput},
}

// ErrorCodeOf returns the code of the first sentinel err wraps. A timeout
// tagged with the "agent" subsystem reports AGENT_TIMEOUT.
func ErrorCodeOf(err error) ErrorCode {
	if err == nil {
		return CodeUnknown
	}
	var de *DomainError
	if errors.As(err, &de) && de.SubSystem == "agent" && errors.Is(de.Err, ErrTimeout) {
		return CodeAgentTimeout
	}
	for _, ec := range errorCodes {
		if errors.Is(err, ec.sentinel) {
			return ec.code
		}
	}
	return CodeUnknown
}
