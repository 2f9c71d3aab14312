package search

import (
	"bytes"
	"context"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

const baikeTimeout = 8 * time.Second

// Baike looks the query up as a Baidu Baike encyclopedia entry.
type Baike struct {
	fetch   *fetcher
	logger  *slog.Logger
	baseURL string
}

// NewBaike creates the Baike provider.
func NewBaike(f *fetcher, logger *slog.Logger) *Baike {
	return &Baike{fetch: f, logger: logger, baseURL: "https://baike.baidu.com/search/word?word="}
}

func (b *Baike) Name() string { return ProviderBaike }

func (b *Baike) Enabled(s Settings) bool { return s.BaikeEnabled }

func (b *Baike) Search(ctx context.Context, _ Settings, query string) (string, error) {
	return eachVariant(query, func(q string) (string, error) {
		source := b.baseURL + url.QueryEscape(q)
		resp, err := b.fetch.get(ctx, source, desktopAgent, baikeTimeout)
		if err != nil {
			return "", err
		}
		if resp.failed() || len(resp.body) == 0 {
			return "", nil
		}
		title, summary := parseBaikeEntry(resp.body)
		if title == "" && summary == "" {
			return "", nil
		}
		var sb strings.Builder
		if title != "" {
			sb.WriteString("Title: " + title + "\n")
		}
		sb.WriteString("Source: " + source + "\n")
		if summary != "" {
			sb.WriteString("Summary: " + summary)
		}
		return strings.TrimSpace(sb.String()), nil
	})
}

func parseBaikeEntry(html []byte) (title, summary string) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return "", ""
	}
	doc.Find("script, style").Remove()
	title = squash(doc.Find("h1").First().Text())
	summary = squash(doc.Find("div.summary").First().Text())
	if summary == "" {
		summary = squash(doc.Find("div.lemma-summary").First().Text())
	}
	return title, summary
}
