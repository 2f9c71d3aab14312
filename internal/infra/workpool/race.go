package workpool

import (
	"context"
	"time"
)

// RaceResult describes how a race settled.
type RaceResult[T any] struct {
	// Winner is the first completion accepted, or nil.
	Winner *Completion[T]
	// Completed lists every completion received, in arrival order.
	Completed []Completion[T]
	// Pending lists labels of tasks still running when the race settled.
	Pending []string
	// DeadlineHit is true when the deadline expired before a winner.
	DeadlineHit bool
}

// AwaitFirstOrDeadline launches every task on the pool against one shared
// deadline and blocks until the first completion accepted by accept arrives,
// every task has completed, or the deadline passes. When it returns, the
// context passed to still-running tasks is cancelled and their results are
// dropped.
func AwaitFirstOrDeadline[T any](ctx context.Context, p *Pool, deadline time.Duration, tasks []Task[T], accept func(Completion[T]) bool) RaceResult[T] {
	var res RaceResult[T]
	if len(tasks) == 0 {
		return res
	}

	rctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	results := make(chan Completion[T], len(tasks))
	for _, t := range tasks {
		dispatch(rctx, p, t, results)
	}

	finished := make(map[string]bool, len(tasks))
	for len(res.Completed) < len(tasks) && res.Winner == nil && !res.DeadlineHit {
		select {
		case c := <-results:
			res.Completed = append(res.Completed, c)
			finished[c.Label] = true
			if accept(c) {
				res.Winner = &c
			}
		case <-rctx.Done():
			res.DeadlineHit = true
		}
	}

	for _, t := range tasks {
		if !finished[t.Label] {
			res.Pending = append(res.Pending, t.Label)
		}
	}
	return res
}

// Find returns the completion with the given label.
func (r RaceResult[T]) Find(label string) (Completion[T], bool) {
	for _, c := range r.Completed {
		if c.Label == label {
			return c, true
		}
	}
	return Completion[T]{}, false
}
