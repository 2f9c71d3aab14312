package search

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
)

const apiLimit = 5

// SearXNG queries a self-hosted SearXNG instance through its JSON API.
type SearXNG struct {
	fetch  *fetcher
	logger *slog.Logger
}

// NewSearXNG creates a SearXNG client.
func NewSearXNG(f *fetcher, logger *slog.Logger) *SearXNG {
	return &SearXNG{fetch: f, logger: logger}
}

type searxngResponse struct {
	Results []struct {
		Title   string `json:"title"`
		URL     string `json:"url"`
		Content string `json:"content"`
	} `json:"results"`
}

// Search walks the query variants against the configured instance.
func (x *SearXNG) Search(ctx context.Context, s Settings, query string) (string, error) {
	base := strings.TrimRight(strings.TrimSpace(s.SearxURL), "/")
	return eachVariant(query, func(q string) (string, error) {
		target := base + "/search?q=" + url.QueryEscape(q) + "&format=json&language=zh-CN"
		resp, err := x.fetch.get(ctx, target, desktopAgent, 0)
		if err != nil {
			return "", err
		}
		if resp.failed() {
			return "", nil
		}
		var parsed searxngResponse
		if err := json.Unmarshal(resp.body, &parsed); err != nil {
			return "", fmt.Errorf("parse searxng response: %w", err)
		}
		var hits []hit
		for _, r := range parsed.Results {
			if len(hits) >= apiLimit {
				break
			}
			if strings.TrimSpace(r.Title) == "" {
				continue
			}
			hits = append(hits, hit{Title: r.Title, URL: r.URL, Snippet: stripTags(r.Content)})
		}
		x.logger.Debug("searxng search completed", "query", q, "results", len(hits))
		if len(hits) == 0 {
			return "", nil
		}
		return formatHits(hits), nil
	})
}

// SerpAPI queries serpapi.com with the configured engine.
type SerpAPI struct {
	fetch   *fetcher
	logger  *slog.Logger
	baseURL string
}

// NewSerpAPI creates a SerpAPI client.
func NewSerpAPI(f *fetcher, logger *slog.Logger) *SerpAPI {
	return &SerpAPI{fetch: f, logger: logger, baseURL: "https://serpapi.com/search.json"}
}

type serpAPIResponse struct {
	OrganicResults []struct {
		Title   string `json:"title"`
		Link    string `json:"link"`
		Snippet string `json:"snippet"`
	} `json:"organic_results"`
}

// Search walks the query variants against SerpAPI.
func (p *SerpAPI) Search(ctx context.Context, s Settings, query string) (string, error) {
	return eachVariant(query, func(q string) (string, error) {
		params := url.Values{}
		params.Set("engine", s.serpEngine())
		params.Set("q", q)
		params.Set("api_key", s.SerpAPIKey)
		resp, err := p.fetch.get(ctx, p.baseURL+"?"+params.Encode(), desktopAgent, 0)
		if err != nil {
			return "", err
		}
		if resp.failed() {
			return "", nil
		}
		var parsed serpAPIResponse
		if err := json.Unmarshal(resp.body, &parsed); err != nil {
			return "", fmt.Errorf("parse serpapi response: %w", err)
		}
		var hits []hit
		for _, r := range parsed.OrganicResults {
			if len(hits) >= apiLimit {
				break
			}
			if strings.TrimSpace(r.Title) == "" {
				continue
			}
			hits = append(hits, hit{Title: r.Title, URL: r.Link, Snippet: r.Snippet})
		}
		if len(hits) == 0 {
			return "", nil
		}
		return formatHits(hits), nil
	})
}

// API is the paid or self-hosted aggregator slot. SearXNG is tried first
// when configured; SerpAPI runs when SearXNG is absent, fails or finds nothing.
type API struct {
	searx *SearXNG
	serp  *SerpAPI
}

// NewAPI combines the two aggregator clients.
func NewAPI(searx *SearXNG, serp *SerpAPI) *API {
	return &API{searx: searx, serp: serp}
}

func (a *API) Name() string { return ProviderAPI }

func (a *API) Enabled(s Settings) bool { return s.searxReady() || s.serpReady() }

func (a *API) Search(ctx context.Context, s Settings, query string) (string, error) {
	var (
		out string
		err error
	)
	if s.searxReady() {
		out, err = a.searx.Search(ctx, s, query)
		if err == nil && !IsNoResults(out) {
			return out, nil
		}
		if !s.serpReady() || ctx.Err() != nil {
			return out, err
		}
	}
	return a.serp.Search(ctx, s, query)
}
