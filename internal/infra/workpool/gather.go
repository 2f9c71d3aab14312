package workpool

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"harmony-core/internal/domain"
)

// Outcome is a Gather result. Value holds the fallback when the task failed
// or timed out.
type Outcome[T any] struct {
	Label    string
	Value    T
	Err      error
	TimedOut bool
}

// Gather runs every task on the pool, each bounded by its own timeout, and
// waits for all of them. Outcomes keep the order of tasks regardless of
// completion order. A task that errors or times out yields fallback; a result
// arriving after its timeout is discarded.
func Gather[T any](ctx context.Context, p *Pool, timeout time.Duration, fallback T, tasks []Task[T]) []Outcome[T] {
	outcomes := make([]Outcome[T], len(tasks))
	var g errgroup.Group
	for i, t := range tasks {
		g.Go(func() error {
			outcomes[i] = await(ctx, p, timeout, fallback, t)
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

func await[T any](ctx context.Context, p *Pool, timeout time.Duration, fallback T, t Task[T]) Outcome[T] {
	tctx := ctx
	cancel := context.CancelFunc(func() {})
	if timeout > 0 {
		tctx, cancel = context.WithTimeout(ctx, timeout)
	}
	defer cancel()

	done := make(chan Completion[T], 1)
	dispatch(tctx, p, t, done)

	select {
	case c := <-done:
		if c.Err != nil {
			return Outcome[T]{Label: t.Label, Value: fallback, Err: c.Err}
		}
		return Outcome[T]{Label: t.Label, Value: c.Value}
	case <-tctx.Done():
		return Outcome[T]{
			Label:    t.Label,
			Value:    fallback,
			Err:      domain.NewSubSystemError("agent", "workpool.Gather", domain.ErrTimeout, t.Label),
			TimedOut: true,
		}
	}
}
