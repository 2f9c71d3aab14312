package search

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"harmony-core/internal/domain"
)

const bochaLimit = 5

// Bocha calls the Bocha web-search API with the trimmed query; it does not
// walk query variants.
type Bocha struct {
	fetch  *fetcher
	logger *slog.Logger
}

// NewBocha creates the Bocha provider.
func NewBocha(f *fetcher, logger *slog.Logger) *Bocha {
	return &Bocha{fetch: f, logger: logger}
}

func (b *Bocha) Name() string { return ProviderBocha }

func (b *Bocha) Enabled(s Settings) bool {
	return s.BochaEnabled && strings.TrimSpace(s.BochaAPIKey) != ""
}

type bochaRequest struct {
	Query     string `json:"query"`
	Summary   bool   `json:"summary"`
	Freshness string `json:"freshness"`
	Count     int    `json:"count"`
}

type bochaResponse struct {
	Code json.RawMessage `json:"code"`
	Data struct {
		WebPages struct {
			Value []struct {
				Name            string `json:"name"`
				URL             string `json:"url"`
				Summary         string `json:"summary"`
				Snippet         string `json:"snippet"`
				SiteName        string `json:"siteName"`
				DatePublished   string `json:"datePublished"`
				DateLastCrawled string `json:"dateLastCrawled"`
			} `json:"value"`
		} `json:"webPages"`
	} `json:"data"`
}

// ok accepts a missing code and the codes 200 and 0, numeric or quoted.
func (r bochaResponse) ok() bool {
	code := strings.Trim(strings.TrimSpace(string(r.Code)), `"`)
	return code == "" || code == "null" || code == "200" || code == "0"
}

func (b *Bocha) Search(ctx context.Context, s Settings, query string) (string, error) {
	q := strings.TrimSpace(query)
	if q == "" {
		return domain.NoResultsSentinel, nil
	}
	b.logger.Debug("bocha search request", "query", q)

	resp, err := b.fetch.postJSON(ctx, s.bochaEndpoint(), bochaRequest{
		Query:     q,
		Summary:   true,
		Freshness: "noLimit",
		Count:     bochaLimit,
	}, s.BochaAPIKey, 0)
	if err != nil {
		return "", err
	}
	if resp.failed() {
		b.logger.Warn("bocha search http error", "status", resp.status)
		return domain.NoResultsSentinel, nil
	}

	var parsed bochaResponse
	if err := json.Unmarshal(resp.body, &parsed); err != nil {
		return "", fmt.Errorf("parse bocha response: %w", err)
	}
	if !parsed.ok() {
		b.logger.Warn("bocha search response not success", "code", string(parsed.Code))
		return domain.NoResultsSentinel, nil
	}

	var hits []hit
	for _, v := range parsed.Data.WebPages.Value {
		if len(hits) >= bochaLimit {
			break
		}
		h := hit{Title: v.Name, URL: v.URL, Site: v.SiteName, Date: v.DatePublished, Snippet: squash(v.Summary)}
		if h.Title == "" {
			h.Title = "Result"
		}
		if h.Snippet == "" {
			h.Snippet = squash(v.Snippet)
		}
		if h.Date == "" {
			h.Date = v.DateLastCrawled
		}
		hits = append(hits, h)
	}
	if len(hits) == 0 {
		return domain.NoResultsSentinel, nil
	}
	return formatHits(hits), nil
}
