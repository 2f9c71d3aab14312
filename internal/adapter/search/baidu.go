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

const (
	baiduLimit   = 5
	baiduTimeout = 6 * time.Second
)

var baiduBlockMarkers = []string{"百度安全验证", "安全验证", "访问异常", "请输入验证码", "antispider", "verify"}

// Baidu scrapes the Baidu result page. A blocked or empty desktop page is
// retried once with a mobile user agent. When a SerpAPI key is configured
// for the baidu engine, the structured API is used instead of scraping.
type Baidu struct {
	fetch    *fetcher
	snippets *SnippetFetcher
	serp     *SerpAPI
	logger   *slog.Logger

	desktopURL string
	mobileURL  string
}

// NewBaidu creates the Baidu provider. f should carry a pacing limiter.
func NewBaidu(f *fetcher, snippets *SnippetFetcher, serp *SerpAPI, logger *slog.Logger) *Baidu {
	return &Baidu{
		fetch:      f,
		snippets:   snippets,
		serp:       serp,
		logger:     logger,
		desktopURL: "https://www.baidu.com/s?wd=",
		mobileURL:  "https://m.baidu.com/s?wd=",
	}
}

func (b *Baidu) Name() string { return ProviderBaidu }

func (b *Baidu) Enabled(s Settings) bool { return s.BaiduEnabled }

func (b *Baidu) Search(ctx context.Context, s Settings, query string) (string, error) {
	if b.serp != nil && s.serpReady() && strings.EqualFold(s.serpEngine(), "baidu") {
		return b.serp.Search(ctx, s, query)
	}
	return eachVariant(query, func(q string) (string, error) {
		hits, err := b.query(ctx, q)
		if err != nil {
			return "", err
		}
		if len(hits) == 0 {
			return "", nil
		}
		return b.snippets.Format(ctx, hits), nil
	})
}

func (b *Baidu) query(ctx context.Context, q string) ([]hit, error) {
	encoded := url.QueryEscape(q)

	resp, err := b.fetch.get(ctx, b.desktopURL+encoded, desktopAgent, baiduTimeout)
	if err != nil {
		return nil, err
	}
	if resp.failed() {
		return nil, nil
	}
	blocked := isBaiduBlocked(resp.body)
	hits := parseBaiduResults(resp.body)
	b.logger.Debug("baidu search desktop", "query", q, "blocked", blocked, "results", len(hits))
	if len(hits) > 0 && !blocked {
		return hits, nil
	}

	resp, err = b.fetch.get(ctx, b.mobileURL+encoded, mobileAgent, baiduTimeout)
	if err != nil {
		return nil, err
	}
	if resp.failed() {
		return nil, nil
	}
	hits = parseBaiduResults(resp.body)
	b.logger.Debug("baidu search mobile", "query", q, "blocked", isBaiduBlocked(resp.body), "results", len(hits))
	return hits, nil
}

func isBaiduBlocked(html []byte) bool {
	lower := strings.ToLower(string(html))
	for _, m := range baiduBlockMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

// parseBaiduResults reads the h3 > a result headings. Blocked pages yield nothing.
func parseBaiduResults(html []byte) []hit {
	if len(html) == 0 || isBaiduBlocked(html) {
		return nil
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return nil
	}
	var hits []hit
	doc.Find("h3 a").EachWithBreak(func(_ int, a *goquery.Selection) bool {
		href, _ := a.Attr("href")
		title := squash(a.Text())
		if title != "" && href != "" {
			hits = append(hits, hit{Title: title, URL: href})
		}
		return len(hits) < baiduLimit
	})
	return hits
}
