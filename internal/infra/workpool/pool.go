// Package workpool provides the bounded worker pool shared by orchestration
// fan-outs and search races, together with the two join primitives built on
// it: Gather (wait for all, per-task timeout) and AwaitFirstOrDeadline (first
// acceptable completion wins).
package workpool

import (
	"context"
	"fmt"

	"golang.org/x/sync/semaphore"
)

// DefaultSize is used when a pool is created with a non-positive size.
const DefaultSize = 8

// Pool bounds the number of tasks running at once. A Pool is long-lived and
// safe for concurrent use across requests.
type Pool struct {
	name string
	size int64
	sem  *semaphore.Weighted
}

// New creates a pool with size slots.
func New(name string, size int) *Pool {
	if size <= 0 {
		size = DefaultSize
	}
	return &Pool{
		name: name,
		size: int64(size),
		sem:  semaphore.NewWeighted(int64(size)),
	}
}

// Name returns the pool's label.
func (p *Pool) Name() string { return p.name }

// Size returns the number of slots.
func (p *Pool) Size() int { return int(p.size) }

// Do waits for a free slot, runs fn and releases the slot.
// It returns ctx's error if no slot frees up before ctx is done.
func (p *Pool) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("%s pool: waiting for slot: %w", p.name, err)
	}
	defer p.sem.Release(1)
	return fn(ctx)
}

// Task is one unit of work dispatched to a pool.
type Task[T any] struct {
	Label string
	Run   func(ctx context.Context) (T, error)
}

// Completion is the settled result of a task.
type Completion[T any] struct {
	Label string
	Value T
	Err   error
}

// OK reports whether the task finished without error.
func (c Completion[T]) OK() bool { return c.Err == nil }

// dispatch runs t on a pool slot in its own goroutine and delivers exactly
// one completion to out. out must have room for it so a late send never blocks.
func dispatch[T any](ctx context.Context, p *Pool, t Task[T], out chan<- Completion[T]) {
	go func() {
		var c Completion[T]
		c.Label = t.Label
		c.Err = p.Do(ctx, func(ctx context.Context) error {
			var err error
			c.Value, err = t.Run(ctx)
			return err
		})
		out <- c
	}()
}
