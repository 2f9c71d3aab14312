package search

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"harmony-core/internal/domain"
	"harmony-core/internal/infra/workpool"
	"harmony-core/internal/intent"
)

func newTestAggregator(cfg Config, clock TimeSource, providers ...Provider) *Aggregator {
	if cfg.Deadline == 0 {
		cfg.Deadline = time.Second
	}
	return NewAggregator(cfg, nil, workpool.New("search", 8), providers, clock, newTestLogger())
}

func TestAggregatorFirstUsableWins(t *testing.T) {
	wiki := &fakeProvider{name: ProviderWikipedia, delay: 10 * time.Millisecond, out: "1. Photosynthesis"}
	api := &fakeProvider{name: ProviderAPI, delay: 5 * time.Second, out: "1. slow"}
	agg := newTestAggregator(Config{}, nil, wiki, api)

	start := time.Now()
	res := agg.Search(context.Background(), "photosynthesis")

	require.True(t, res.OK())
	assert.Equal(t, "1. Photosynthesis", res.Content)
	assert.Less(t, time.Since(start), time.Second)
}

func TestAggregatorSkipsUnusableEarlyResult(t *testing.T) {
	baidu := &fakeProvider{name: ProviderBaidu, out: "Request blocked by captcha"}
	wiki := &fakeProvider{name: ProviderWikipedia, delay: 20 * time.Millisecond, out: "1. Wiki"}
	agg := newTestAggregator(Config{}, nil, baidu, wiki)

	res := agg.Search(context.Background(), "photosynthesis")
	assert.Equal(t, "1. Wiki", res.Content)
}

func TestAggregatorBestEffortAfterDeadline(t *testing.T) {
	api := &fakeProvider{name: ProviderAPI, out: "api page partially blocked"}
	baidu := &fakeProvider{name: ProviderBaidu, delay: 5 * time.Second, out: "1. late baidu"}
	wiki := &fakeProvider{name: ProviderWikipedia, delay: 5 * time.Second, out: "1. late wiki"}
	agg := newTestAggregator(Config{Deadline: 50 * time.Millisecond}, nil, baidu, wiki, api)

	start := time.Now()
	res := agg.Search(context.Background(), "photosynthesis")

	require.True(t, res.OK())
	assert.Equal(t, "api page partially blocked", res.Content)
	assert.Less(t, time.Since(start), time.Second)
	for _, p := range []*fakeProvider{wiki, baidu} {
		assert.Eventually(t, p.cancelled.Load, time.Second, 5*time.Millisecond, "%s should see its context cancelled", p.name)
	}
}

func TestAggregatorNoResults(t *testing.T) {
	agg := newTestAggregator(Config{}, nil,
		&fakeProvider{name: ProviderWikipedia, out: domain.NoResultsSentinel},
		&fakeProvider{name: ProviderBaidu, err: errors.New("connection reset")},
	)

	res := agg.Search(context.Background(), "photosynthesis")
	require.True(t, res.OK())
	assert.Equal(t, domain.NoResultsSentinel, res.Content)
}

func TestAggregatorBlankQuery(t *testing.T) {
	agg := newTestAggregator(Config{}, nil)
	res := agg.Search(context.Background(), "   ")
	assert.True(t, res.IsError)
	assert.Equal(t, "Search query is required", res.Error)
}

func TestAggregatorSkipsDisabledProviders(t *testing.T) {
	off := &fakeProvider{name: ProviderBocha, disabled: true, out: "1. never"}
	on := &fakeProvider{name: ProviderWikipedia, out: "1. Wiki"}
	agg := newTestAggregator(Config{}, nil, off, on)

	res := agg.Search(context.Background(), "photosynthesis")
	assert.Equal(t, "1. Wiki", res.Content)
	assert.Equal(t, int32(0), off.calls.Load())
}

func TestAggregatorTimeQueryFallsBackToClock(t *testing.T) {
	clock := &fakeClock{out: "Source: worldtime\nTime: 2026-10-15T10:00:00+08:00"}
	agg := newTestAggregator(Config{}, clock,
		&fakeProvider{name: ProviderWikipedia, out: domain.NoResultsSentinel},
	)

	res := agg.Search(context.Background(), "北京时间现在几点")
	require.True(t, res.OK())
	assert.Equal(t, clock.out, res.Content)
	assert.Equal(t, []string{intent.ZoneShanghai}, clock.zones)
}

func TestAggregatorTimeQueryClockFailure(t *testing.T) {
	clock := &fakeClock{err: errors.New("down")}
	agg := newTestAggregator(Config{}, clock,
		&fakeProvider{name: ProviderWikipedia, out: domain.NoResultsSentinel},
	)

	res := agg.Search(context.Background(), "what time is it in utc")
	assert.Equal(t, domain.NoResultsSentinel, res.Content)
	assert.Equal(t, []string{intent.ZoneUTC}, clock.zones)
}

func TestAggregatorAugmentsTimeAnswers(t *testing.T) {
	clock := &fakeClock{out: "Source: worldtime\nTime: 2026-10-15T10:00:00+08:00"}

	t.Run("no time value", func(t *testing.T) {
		agg := newTestAggregator(Config{}, clock, &fakeProvider{name: ProviderWikipedia, out: "1. Beijing news"})
		res := agg.Search(context.Background(), "现在几点")
		assert.Equal(t, "1. Beijing news\n\nAdditional time source:\n"+clock.out, res.Content)
	})

	t.Run("already has a clock value", func(t *testing.T) {
		agg := newTestAggregator(Config{}, clock, &fakeProvider{name: ProviderWikipedia, out: "现在是 12:30"})
		res := agg.Search(context.Background(), "现在几点")
		assert.Equal(t, "现在是 12:30", res.Content)
	})
}

func TestAggregatorCachesNonTimeResults(t *testing.T) {
	wiki := &fakeProvider{name: ProviderWikipedia, out: "1. Wiki"}
	agg := newTestAggregator(Config{}, nil, wiki)

	first := agg.Search(context.Background(), "photosynthesis")
	second := agg.Search(context.Background(), " photosynthesis ")
	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), wiki.calls.Load())
}

func TestAggregatorCacheDisabled(t *testing.T) {
	wiki := &fakeProvider{name: ProviderWikipedia, out: "1. Wiki"}
	agg := newTestAggregator(Config{CacheTTL: -1}, nil, wiki)

	agg.Search(context.Background(), "photosynthesis")
	agg.Search(context.Background(), "photosynthesis")
	assert.Equal(t, int32(2), wiki.calls.Load())
}

func TestAggregatorBreakerOpensOnRepeatedFailures(t *testing.T) {
	broken := &fakeProvider{name: ProviderBaidu, err: errors.New("503")}
	agg := newTestAggregator(Config{CacheTTL: -1, Breaker: BreakerConfig{MaxFailures: 2}}, nil, broken)

	for range 4 {
		res := agg.Search(context.Background(), "photosynthesis")
		assert.Equal(t, domain.NoResultsSentinel, res.Content)
	}
	assert.Equal(t, int32(2), broken.calls.Load())
}

func TestAggregatorFallback(t *testing.T) {
	wiki := &fakeProvider{name: ProviderWikipedia, out: "1. Wiki"}
	baidu := &fakeProvider{name: ProviderBaidu, out: "1. Baidu"}
	agg := newTestAggregator(Config{}, nil, baidu, wiki)

	res := agg.Fallback(context.Background(), "photosynthesis")
	require.True(t, res.OK())
	assert.Equal(t, "1. Wiki", res.Content)
	assert.Equal(t, int32(0), baidu.calls.Load())
}

func TestAggregatorFallbackFailures(t *testing.T) {
	t.Run("provider error", func(t *testing.T) {
		agg := newTestAggregator(Config{}, nil, &fakeProvider{name: ProviderWikipedia, err: errors.New("down")})
		res := agg.Fallback(context.Background(), "photosynthesis")
		assert.True(t, res.IsError)
		assert.Equal(t, "Search fallback failed", res.Error)
	})

	t.Run("provider disabled", func(t *testing.T) {
		agg := newTestAggregator(Config{}, nil, &fakeProvider{name: ProviderWikipedia, disabled: true})
		res := agg.Fallback(context.Background(), "photosynthesis")
		assert.Equal(t, "Search fallback unavailable", res.Error)
	})

	t.Run("configured provider", func(t *testing.T) {
		baike := &fakeProvider{name: ProviderBaike, out: "Title: X"}
		agg := newTestAggregator(Config{FallbackProvider: ProviderBaike}, nil, baike)
		res := agg.Fallback(context.Background(), "x")
		assert.Equal(t, "Title: X", res.Content)
	})
}

func TestAggregatorForceSearchCondensesPrompt(t *testing.T) {
	wiki := &fakeProvider{name: ProviderWikipedia, out: "1. Wiki"}
	agg := newTestAggregator(Config{}, nil, wiki)
	now := time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC)
	agg.now = func() time.Time { return now }

	prompt := "请帮我搜索一下 Kubernetes 最新版本的发布说明"
	res := agg.ForceSearch(context.Background(), prompt)

	require.True(t, res.OK())
	want := intent.CondenseSearchQuery(prompt, now)
	require.NotEmpty(t, want)
	assert.Equal(t, []string{want}, wiki.queries())
}
