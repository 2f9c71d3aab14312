package search

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
)

const wikipediaLimit = 5

// Wikipedia searches the zh and en Wikipedias, CJK queries hitting zh first.
// When direct access fails and a proxy is configured, the same API URL is
// retried behind the proxy prefix.
type Wikipedia struct {
	fetch    *fetcher
	snippets *SnippetFetcher
	logger   *slog.Logger
}

// NewWikipedia creates the Wikipedia provider.
func NewWikipedia(f *fetcher, snippets *SnippetFetcher, logger *slog.Logger) *Wikipedia {
	return &Wikipedia{fetch: f, snippets: snippets, logger: logger}
}

func (w *Wikipedia) Name() string { return ProviderWikipedia }

func (w *Wikipedia) Enabled(s Settings) bool { return s.WikipediaEnabled }

func (w *Wikipedia) Search(ctx context.Context, s Settings, query string) (string, error) {
	return eachVariant(query, func(q string) (string, error) {
		hosts := []string{"en.wikipedia.org", "zh.wikipedia.org"}
		if containsCJK(q) {
			hosts[0], hosts[1] = hosts[1], hosts[0]
		}
		var lastErr error
		answered := false
		for _, host := range hosts {
			hits, err := w.searchHost(ctx, s, host, q)
			if err != nil {
				w.logger.Warn("wikipedia search failed", "host", host, "query", q, "error", err)
				lastErr = err
				continue
			}
			answered = true
			if len(hits) > 0 {
				return w.snippets.Format(ctx, hits), nil
			}
		}
		if answered {
			return "", nil
		}
		return "", lastErr
	})
}

func (w *Wikipedia) searchHost(ctx context.Context, s Settings, host, query string) ([]hit, error) {
	encoded := url.QueryEscape(query)
	searchURL := fmt.Sprintf("https://%s/w/api.php?action=query&list=search&format=json&utf8=1&srlimit=%d&srsearch=%s", host, wikipediaLimit, encoded)
	openURL := fmt.Sprintf("https://%s/w/api.php?action=opensearch&format=json&utf8=1&limit=%d&search=%s", host, wikipediaLimit, encoded)

	body, err := w.call(ctx, s, host, searchURL)
	if err != nil {
		return nil, err
	}
	hits := parseWikipediaSearch(body, host)
	w.logger.Debug("wikipedia search", "host", host, "query", query, "results", len(hits))
	if len(hits) > 0 {
		return hits, nil
	}

	body, err = w.call(ctx, s, host, openURL)
	if err != nil {
		return nil, err
	}
	hits = parseWikipediaOpenSearch(body, host)
	w.logger.Debug("wikipedia opensearch", "host", host, "query", query, "results", len(hits))
	return hits, nil
}

// call fetches apiURL directly and falls back to the proxy on a transport
// error or an HTTP error status.
func (w *Wikipedia) call(ctx context.Context, s Settings, host, apiURL string) ([]byte, error) {
	resp, err := w.fetch.get(ctx, apiURL, s.wikipediaUserAgent(), 0)
	if err == nil && !resp.failed() {
		return resp.body, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	proxy := strings.TrimSpace(s.WikipediaProxyURL)
	if !s.WikipediaProxyEnabled || proxy == "" {
		if err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("wikipedia %s: HTTP %d", host, resp.status)
	}
	if !strings.HasSuffix(proxy, "/") {
		proxy += "/"
	}
	w.logger.Info("wikipedia proxy request", "host", host)
	resp, err = w.fetch.get(ctx, proxy+apiURL, s.wikipediaUserAgent(), 0)
	if err != nil {
		return nil, fmt.Errorf("wikipedia proxy: %w", err)
	}
	if resp.failed() {
		return nil, fmt.Errorf("wikipedia proxy %s: HTTP %d", host, resp.status)
	}
	return resp.body, nil
}

func wikiLink(host, title string) string {
	return "https://" + host + "/wiki/" + url.QueryEscape(strings.ReplaceAll(title, " ", "_"))
}

func parseWikipediaSearch(body []byte, host string) []hit {
	var root struct {
		Query struct {
			Search []struct {
				Title   string `json:"title"`
				Snippet string `json:"snippet"`
			} `json:"search"`
		} `json:"query"`
	}
	if err := json.Unmarshal(body, &root); err != nil {
		return nil
	}
	var hits []hit
	for _, item := range root.Query.Search {
		if len(hits) >= wikipediaLimit {
			break
		}
		title := strings.TrimSpace(item.Title)
		if title == "" {
			continue
		}
		hits = append(hits, hit{Title: title, URL: wikiLink(host, title), Snippet: stripTags(item.Snippet)})
	}
	return hits
}

// parseWikipediaOpenSearch reads the positional [query, titles, descriptions, links] array.
func parseWikipediaOpenSearch(body []byte, host string) []hit {
	var root []json.RawMessage
	if err := json.Unmarshal(body, &root); err != nil || len(root) < 4 {
		return nil
	}
	var titles, descriptions, links []string
	_ = json.Unmarshal(root[1], &titles)
	_ = json.Unmarshal(root[2], &descriptions)
	_ = json.Unmarshal(root[3], &links)

	var hits []hit
	for i, title := range titles {
		if len(hits) >= wikipediaLimit {
			break
		}
		title = strings.TrimSpace(title)
		if title == "" {
			continue
		}
		h := hit{Title: title, URL: wikiLink(host, title)}
		if i < len(links) && strings.TrimSpace(links[i]) != "" {
			h.URL = links[i]
		}
		if i < len(descriptions) {
			h.Snippet = strings.TrimSpace(descriptions[i])
		}
		hits = append(hits, h)
	}
	return hits
}
