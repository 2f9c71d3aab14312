package search

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"harmony-core/internal/domain"
	"harmony-core/internal/infra/tracer"
	"harmony-core/internal/infra/workpool"
	"harmony-core/internal/intent"
)

// Aggregator defaults.
const (
	DefaultDeadline         = 14 * time.Second
	DefaultFallbackProvider = ProviderWikipedia
)

// Config tunes the race.
type Config struct {
	// Deadline bounds the whole race.
	Deadline time.Duration
	// FallbackProvider is the single provider retried by Fallback.
	FallbackProvider string
	// CacheTTL keeps usable non-time results; negative disables the cache.
	CacheTTL time.Duration
	Breaker  BreakerConfig
}

// Aggregator races the enabled providers and picks one result.
type Aggregator struct {
	cfg        Config
	settings   *SettingsStore
	pool       *workpool.Pool
	providers  []*guarded
	clock      TimeSource
	cache      *resultCache
	classifier *intent.Classifier
	now        func() time.Time
	logger     *slog.Logger
}

// NewAggregator creates an aggregator over providers, launched in the given
// order on pool. clock may be nil, which disables the time-service fallback.
func NewAggregator(cfg Config, settings *SettingsStore, pool *workpool.Pool, providers []Provider, clock TimeSource, logger *slog.Logger) *Aggregator {
	if cfg.Deadline <= 0 {
		cfg.Deadline = DefaultDeadline
	}
	if strings.TrimSpace(cfg.FallbackProvider) == "" {
		cfg.FallbackProvider = DefaultFallbackProvider
	}
	if settings == nil {
		settings = NewSettingsStore(DefaultSettings())
	}
	guardedProviders := make([]*guarded, 0, len(providers))
	for _, p := range providers {
		guardedProviders = append(guardedProviders, guard(p, cfg.Breaker, logger))
	}
	return &Aggregator{
		cfg:        cfg,
		settings:   settings,
		pool:       pool,
		providers:  guardedProviders,
		clock:      clock,
		cache:      newResultCache(cfg.CacheTTL, time.Now),
		classifier: intent.Default,
		now:        time.Now,
		logger:     logger,
	}
}

// Search races every enabled provider against the deadline. It never fails
// for lack of results: an empty race yields domain.NoResultsSentinel.
func (a *Aggregator) Search(ctx context.Context, query string) domain.ToolResult {
	q := strings.TrimSpace(query)
	if q == "" {
		return domain.ToolFailure("Search query is required")
	}

	ctx, span := tracer.StartSpan(ctx, "search.race",
		trace.WithAttributes(tracer.StringAttr("search.query", q)),
	)
	defer span.End()

	timeQuery := a.classifier.IsTimeQuery(q)
	if !timeQuery {
		if cached, ok := a.cache.get(q); ok {
			a.logger.Debug("web search cache hit", "query", q)
			span.SetAttributes(tracer.StringAttr("search.source", "cache"))
			return domain.ToolSuccess(cached)
		}
	}

	settings := a.settings.Load()
	tasks := a.tasks(settings, q)
	res := workpool.AwaitFirstOrDeadline(ctx, a.pool, a.cfg.Deadline, tasks, func(c workpool.Completion[string]) bool {
		return c.OK() && IsUsable(c.Value)
	})
	for _, c := range res.Completed {
		a.logCompletion(c)
	}

	var output, source string
	if res.Winner != nil {
		output, source = res.Winner.Value, res.Winner.Label
		a.logger.Info("web search selected result", "mode", "first-success", "source", source)
	} else if c, ok := bestEffort(res); ok {
		output, source = c.Value, c.Label
		a.logger.Info("web search selected result", "mode", "fallback", "source", source)
	}

	if output == "" {
		if len(res.Pending) > 0 {
			a.logger.Warn("web search timed out", "pending", res.Pending)
		}
		span.SetAttributes(tracer.StringAttr("search.source", "none"))
		if timeQuery {
			return a.timeFallback(ctx, q)
		}
		return domain.ToolSuccess(domain.NoResultsSentinel)
	}

	span.SetAttributes(tracer.StringAttr("search.source", source), tracer.IntAttr("search.output_size", len(output)))
	tracer.SetOK(span)
	if timeQuery {
		return domain.ToolSuccess(a.augment(ctx, q, output))
	}
	a.cache.put(q, output)
	return domain.ToolSuccess(output)
}

// ForceSearch condenses a conversational prompt into a keyword query and
// searches it. It is used to pre-resolve one shared result for a team.
func (a *Aggregator) ForceSearch(ctx context.Context, prompt string) domain.ToolResult {
	now := a.now()
	q := intent.CondenseSearchQuery(prompt, now)
	if q == "" {
		q = intent.NormalizeYear(strings.TrimSpace(prompt), prompt, now)
	}
	return a.Search(ctx, q)
}

// Fallback runs the configured fallback provider alone, outside the race.
func (a *Aggregator) Fallback(ctx context.Context, query string) domain.ToolResult {
	q := strings.TrimSpace(query)
	if q == "" {
		return domain.ToolFailure("Search query is required")
	}
	settings := a.settings.Load()
	for _, p := range a.providers {
		if !strings.EqualFold(p.Name(), a.cfg.FallbackProvider) {
			continue
		}
		if !p.Enabled(settings) {
			break
		}
		ctx, cancel := context.WithTimeout(ctx, a.cfg.Deadline)
		defer cancel()
		out, err := p.Search(ctx, settings, q)
		if err != nil {
			a.logger.Warn("web search fallback failed", "source", p.Name(), "error", err)
			return domain.ToolFailure("Search fallback failed")
		}
		a.logger.Info("web search fallback finished", "source", p.Name(), "usable", IsUsable(out))
		return domain.ToolSuccess(out)
	}
	return domain.ToolFailure("Search fallback unavailable")
}

func (a *Aggregator) tasks(settings Settings, q string) []workpool.Task[string] {
	var tasks []workpool.Task[string]
	for _, p := range a.providers {
		if !p.Enabled(settings) {
			a.logger.Debug("web search task skipped", "source", p.Name())
			continue
		}
		a.logger.Debug("web search task started", "source", p.Name())
		tasks = append(tasks, workpool.Task[string]{
			Label: p.Name(),
			Run: func(ctx context.Context) (string, error) {
				ctx, span := tracer.StartSpan(ctx, "search.provider."+p.Name())
				defer span.End()
				out, err := p.Search(ctx, settings, q)
				if err != nil {
					tracer.RecordError(span, err)
					return "", err
				}
				return out, nil
			},
		})
	}
	return tasks
}

func (a *Aggregator) logCompletion(c workpool.Completion[string]) {
	if c.Err != nil {
		a.logger.Warn("web search task failed", "source", c.Label, "error", c.Err)
		return
	}
	a.logger.Info("web search task finished", "source", c.Label, "usable", !IsNoResults(c.Value), "output_size", len(c.Value))
}

// bestEffort picks the highest-priority successful completion with output.
func bestEffort(res workpool.RaceResult[string]) (workpool.Completion[string], bool) {
	for _, name := range bestEffortOrder {
		if c, ok := res.Find(name); ok && c.OK() && !IsNoResults(c.Value) {
			return c, true
		}
	}
	return workpool.Completion[string]{}, false
}

func (a *Aggregator) zone(q string) string {
	return a.classifier.Timezone(q, intent.ZoneShanghai)
}

func (a *Aggregator) timeFallback(ctx context.Context, q string) domain.ToolResult {
	if a.clock == nil {
		return domain.ToolSuccess(domain.NoResultsSentinel)
	}
	out, err := a.clock.Now(ctx, a.zone(q))
	if err != nil || IsNoResults(out) {
		a.logger.Warn("time service fallback failed", "error", err)
		return domain.ToolSuccess(domain.NoResultsSentinel)
	}
	return domain.ToolSuccess(out)
}

// augment appends a time-service reading when output has no date or clock value.
func (a *Aggregator) augment(ctx context.Context, q, output string) string {
	if a.clock == nil || containsTimeValue(output) {
		return output
	}
	extra, err := a.clock.Now(ctx, a.zone(q))
	if err != nil || IsNoResults(extra) {
		return output
	}
	return output + "\n\nAdditional time source:\n" + extra
}

// ProvidersConfig tunes the default provider set.
type ProvidersConfig struct {
	SnippetPages int
	SnippetChars int
	// BaiduRate paces Baidu and Baike scraping in requests per second.
	BaiduRate  float64
	BaiduBurst int
	// PageClient fetches linked result pages for snippets. Nil uses the
	// provider client.
	PageClient *http.Client
}

// NewDefaultProviders builds the providers in launch order: Wikipedia,
// Baidu, Bocha, Baike and the API slot.
func NewDefaultProviders(client *http.Client, cfg ProvidersConfig, logger *slog.Logger) []Provider {
	plain := newFetcher(client, nil)

	var limiter *rate.Limiter
	if cfg.BaiduRate > 0 {
		burst := cfg.BaiduBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.BaiduRate), burst)
	}
	paced := newFetcher(client, limiter)

	pages := plain
	if cfg.PageClient != nil {
		pages = newFetcher(cfg.PageClient, nil)
	}
	snippets := NewSnippetFetcher(pages, cfg.SnippetPages, cfg.SnippetChars)
	serp := NewSerpAPI(plain, logger)

	return []Provider{
		NewWikipedia(plain, snippets, logger),
		NewBaidu(paced, snippets, serp, logger),
		NewBocha(plain, logger),
		NewBaike(paced, logger),
		NewAPI(NewSearXNG(plain, logger), serp),
	}
}

// NewTimeSource creates the worldtimeapi client used for time fallbacks.
func NewTimeSource(client *http.Client, baseURL string) *WorldTime {
	return NewWorldTime(newFetcher(client, nil), baseURL)
}
