package search

import (
	"bytes"
	"context"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/sync/errgroup"

	"harmony-core/internal/security"
)

// Snippet defaults.
const (
	DefaultSnippetPages = 3
	DefaultSnippetChars = 1200
	minSentenceRunes    = 30
)

var (
	sentenceSplit = regexp.MustCompile(`[.。！？]`)
	boilerplate   = []string{"cookie", "privacy", "subscribe"}
)

// SnippetFetcher enriches result rows with readable text pulled from the
// linked pages.
type SnippetFetcher struct {
	fetch    *fetcher
	maxPages int
	maxChars int
}

// NewSnippetFetcher creates a fetcher that reads up to maxPages pages and
// keeps at most maxChars characters per page.
func NewSnippetFetcher(f *fetcher, maxPages, maxChars int) *SnippetFetcher {
	if maxPages <= 0 {
		maxPages = DefaultSnippetPages
	}
	if maxChars <= 0 {
		maxChars = DefaultSnippetChars
	}
	return &SnippetFetcher{fetch: f, maxPages: maxPages, maxChars: maxChars}
}

// Format renders hits as numbered blocks with a Source line and, for the
// first pages, a Snippet line. Page fetches run concurrently and a failed
// fetch just leaves its snippet out.
func (s *SnippetFetcher) Format(ctx context.Context, hits []hit) string {
	snippets := make([]string, len(hits))
	if s != nil {
		var g errgroup.Group
		for i := 0; i < len(hits) && i < s.maxPages; i++ {
			if hits[i].URL == "" {
				continue
			}
			g.Go(func() error {
				snippets[i] = s.pageText(ctx, hits[i].URL)
				return nil
			})
		}
		_ = g.Wait()
	}

	blocks := make([]string, len(hits))
	for i, h := range hits {
		var sb strings.Builder
		fmt.Fprintf(&sb, "%d. %s", i+1, h.Title)
		if h.URL != "" {
			sb.WriteString("\nSource: ")
			sb.WriteString(h.URL)
		}
		if snippets[i] != "" {
			sb.WriteString("\nSnippet: ")
			sb.WriteString(snippets[i])
		}
		blocks[i] = sb.String()
	}
	return strings.Join(blocks, "\n\n")
}

func (s *SnippetFetcher) pageText(ctx context.Context, url string) string {
	if security.CheckLink(url) != nil {
		return ""
	}
	resp, err := s.fetch.get(ctx, url, desktopAgent, 0)
	if err != nil || resp.failed() || len(resp.body) == 0 {
		return ""
	}
	return readableText(pageBodyText(resp.body), s.maxChars)
}

// pageBodyText returns the visible text of an HTML page without scripts,
// styles and navigation chrome.
func pageBodyText(html []byte) string {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return ""
	}
	doc.Find("script, style, nav, header, footer, noscript").Remove()
	return squash(doc.Text())
}

// readableText keeps sentences of at least thirty characters that are not
// cookie or subscription boilerplate, up to maxChars characters.
func readableText(text string, maxChars int) string {
	var sb strings.Builder
	for _, part := range sentenceSplit.Split(text, -1) {
		sentence := strings.TrimSpace(part)
		if utf8.RuneCountInString(sentence) < minSentenceRunes || isBoilerplate(sentence) {
			continue
		}
		sb.WriteString(sentence)
		sb.WriteString(". ")
		if utf8.RuneCountInString(sb.String()) >= maxChars {
			break
		}
	}
	out := strings.TrimSpace(sb.String())
	if utf8.RuneCountInString(out) > maxChars {
		out = string([]rune(out)[:maxChars]) + "..."
	}
	return out
}

func isBoilerplate(sentence string) bool {
	lower := strings.ToLower(sentence)
	for _, w := range boilerplate {
		if strings.Contains(lower, w) {
			return true
		}
	}
	return false
}
