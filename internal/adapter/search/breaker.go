package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"
)

// Default breaker settings for search providers.
const (
	defaultBreakerFailures uint32        = 3
	defaultBreakerTimeout  time.Duration = 60 * time.Second
	defaultBreakerInterval time.Duration = 5 * time.Minute
)

// BreakerConfig configures the per-provider circuit breaker.
type BreakerConfig struct {
	MaxFailures uint32
	Timeout     time.Duration
	Interval    time.Duration
}

// guarded wraps a Provider with its own circuit breaker so a provider that
// keeps failing is skipped quickly without touching the others.
type guarded struct {
	Provider
	breaker *gobreaker.CircuitBreaker[string]
}

func guard(p Provider, cfg BreakerConfig, logger *slog.Logger) *guarded {
	if cfg.MaxFailures == 0 {
		cfg.MaxFailures = defaultBreakerFailures
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultBreakerTimeout
	}
	if cfg.Interval == 0 {
		cfg.Interval = defaultBreakerInterval
	}
	cb := gobreaker.NewCircuitBreaker[string](gobreaker.Settings{
		Name:        "search:" + p.Name(),
		MaxRequests: 1,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.MaxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
		},
		// Cancellation by the race does not count as a failure.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
	})
	return &guarded{Provider: p, breaker: cb}
}

func (g *guarded) Search(ctx context.Context, s Settings, query string) (string, error) {
	out, err := g.breaker.Execute(func() (string, error) {
		return g.Provider.Search(ctx, s, query)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return "", fmt.Errorf("search provider %q circuit open: %w", g.Name(), err)
	}
	return out, err
}

// State returns the breaker state for diagnostics.
func (g *guarded) State() gobreaker.State { return g.breaker.State() }
