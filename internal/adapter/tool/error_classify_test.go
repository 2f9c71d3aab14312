package tool

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"syscall"
	"testing"

	"harmony-core/internal/domain"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"rate limit", fmt.Errorf("%w: HTTP 429", domain.ErrRateLimit), true},
		{"provider outage", fmt.Errorf("%w: HTTP 503", domain.ErrProviderError), true},
		{"circuit open", fmt.Errorf("%w: provider %q circuit open", domain.ErrProviderError, "deepseek"), true},
		{"agent timeout", domain.NewSubSystemError("agent", "workpool.Gather", domain.ErrTimeout, "x"), true},
		{"deadline", fmt.Errorf("translate: %w", context.DeadlineExceeded), true},
		{"refused", &net.OpError{Op: "dial", Net: "tcp", Err: os.NewSyscallError("connect", syscall.ECONNREFUSED)}, true},
		{"net timeout", &net.OpError{Op: "read", Net: "tcp", Err: timeoutErr{}}, true},
		{"auth", fmt.Errorf("%w: HTTP 401", domain.ErrAuthInvalid), false},
		{"bad input", fmt.Errorf("%w: HTTP 400", domain.ErrInvalidInput), false},
		{"context overflow", fmt.Errorf("%w: HTTP 413", domain.ErrContextOverflow), false},
		{"unknown model", domain.NewDomainError("Registry.Resolve", domain.ErrModelNotFound, "gpt-x"), false},
		{"plain", errors.New("unknown timezone Mars/Olympus"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := transient(tt.err); got != tt.want {
				t.Errorf("transient(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
