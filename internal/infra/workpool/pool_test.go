package workpool

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"harmony-core/internal/domain"
)

func TestPoolDoBoundsConcurrency(t *testing.T) {
	p := New("test", 2)
	var running, peak atomic.Int32

	tasks := make([]Task[int], 6)
	for i := range tasks {
		tasks[i] = Task[int]{Label: "t", Run: func(ctx context.Context) (int, error) {
			n := running.Add(1)
			for {
				old := peak.Load()
				if n <= old || peak.CompareAndSwap(old, n) {
					break
				}
			}
			time.Sleep(20 * time.Millisecond)
			running.Add(-1)
			return 1, nil
		}}
	}

	out := Gather(context.Background(), p, time.Second, 0, tasks)
	require.Len(t, out, 6)
	for _, o := range out {
		assert.Equal(t, 1, o.Value)
	}
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestPoolDefaultSize(t *testing.T) {
	assert.Equal(t, DefaultSize, New("x", 0).Size())
}

func TestPoolDoContextDone(t *testing.T) {
	p := New("busy", 1)
	release := make(chan struct{})
	go func() {
		_ = p.Do(context.Background(), func(context.Context) error {
			<-release
			return nil
		})
	}()
	time.Sleep(10 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := p.Do(ctx, func(context.Context) error { return nil })
	close(release)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestGatherKeepsOrderAndFallsBack(t *testing.T) {
	p := New("agents", 4)
	tasks := []Task[string]{
		{Label: "slow", Run: func(ctx context.Context) (string, error) {
			time.Sleep(30 * time.Millisecond)
			return "plan", nil
		}},
		{Label: "fails", Run: func(ctx context.Context) (string, error) {
			return "ignored", errors.New("boom")
		}},
		{Label: "hangs", Run: func(ctx context.Context) (string, error) {
			<-ctx.Done()
			time.Sleep(10 * time.Millisecond)
			return "late", nil
		}},
		{Label: "fast", Run: func(ctx context.Context) (string, error) {
			return "critique", nil
		}},
	}

	out := Gather(context.Background(), p, 100*time.Millisecond, "", tasks)
	require.Len(t, out, 4)

	assert.Equal(t, "slow", out[0].Label)
	assert.Equal(t, "plan", out[0].Value)

	assert.Equal(t, "", out[1].Value)
	assert.EqualError(t, out[1].Err, "boom")
	assert.False(t, out[1].TimedOut)

	assert.Equal(t, "", out[2].Value)
	assert.True(t, out[2].TimedOut)
	assert.ErrorIs(t, out[2].Err, domain.ErrTimeout)

	assert.Equal(t, "critique", out[3].Value)
}

func TestAwaitFirstOrDeadlineWinnerCancelsOthers(t *testing.T) {
	p := New("search", 4)
	var cancelled atomic.Int32
	slow := func(ctx context.Context) (string, error) {
		select {
		case <-ctx.Done():
			cancelled.Add(1)
			return "", ctx.Err()
		case <-time.After(time.Second):
			return "too late", nil
		}
	}

	tasks := []Task[string]{
		{Label: "wikipedia", Run: slow},
		{Label: "empty", Run: func(context.Context) (string, error) { return "", nil }},
		{Label: "api", Run: func(context.Context) (string, error) {
			time.Sleep(10 * time.Millisecond)
			return "result", nil
		}},
		{Label: "baidu", Run: slow},
	}

	res := AwaitFirstOrDeadline(context.Background(), p, time.Second, tasks, func(c Completion[string]) bool {
		return c.OK() && c.Value != ""
	})

	require.NotNil(t, res.Winner)
	assert.Equal(t, "api", res.Winner.Label)
	assert.False(t, res.DeadlineHit)
	assert.ElementsMatch(t, []string{"wikipedia", "baidu"}, res.Pending)

	_, ok := res.Find("empty")
	assert.True(t, ok)

	assert.Eventually(t, func() bool { return cancelled.Load() == 2 }, time.Second, 5*time.Millisecond)
}

func TestAwaitFirstOrDeadlineDeadline(t *testing.T) {
	p := New("search", 4)
	tasks := []Task[string]{
		{Label: "api", Run: func(context.Context) (string, error) { return "paid", nil }},
		{Label: "wikipedia", Run: func(ctx context.Context) (string, error) {
			<-ctx.Done()
			time.Sleep(50 * time.Millisecond)
			return "", ctx.Err()
		}},
	}

	res := AwaitFirstOrDeadline(context.Background(), p, 50*time.Millisecond, tasks, func(Completion[string]) bool {
		return false
	})

	assert.Nil(t, res.Winner)
	assert.True(t, res.DeadlineHit)
	assert.Equal(t, []string{"wikipedia"}, res.Pending)
	c, ok := res.Find("api")
	require.True(t, ok)
	assert.Equal(t, "paid", c.Value)
}

func TestAwaitFirstOrDeadlineAllComplete(t *testing.T) {
	p := New("search", 2)
	tasks := []Task[int]{
		{Label: "a", Run: func(context.Context) (int, error) { return 0, errors.New("x") }},
		{Label: "b", Run: func(context.Context) (int, error) { return 0, nil }},
	}
	res := AwaitFirstOrDeadline(context.Background(), p, time.Second, tasks, func(c Completion[int]) bool {
		return c.Value > 0
	})
	assert.Nil(t, res.Winner)
	assert.False(t, res.DeadlineHit)
	assert.Len(t, res.Completed, 2)
	assert.Empty(t, res.Pending)

	empty := AwaitFirstOrDeadline[int](context.Background(), p, time.Second, nil, nil)
	assert.Nil(t, empty.Winner)
}
