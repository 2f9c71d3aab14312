package tool

import (
	"context"
	"errors"
	"net"
	"syscall"

	"harmony-core/internal/domain"
)

// transient reports whether a failed tool call is worth one more attempt:
// provider throttling or outages, deadlines, and dropped connections.
// Input and configuration errors are permanent.
func transient(err error) bool {
	if err == nil {
		return false
	}
	if domain.IsRetryableError(err) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
