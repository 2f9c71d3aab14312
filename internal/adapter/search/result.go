package search

import (
	"fmt"
	"regexp"
	"strings"

	"harmony-core/internal/domain"
)

// hit is one structured search result.
type hit struct {
	Title   string
	URL     string
	Snippet string
	Site    string
	Date    string
}

// row renders the compact single-line form: "title - url (site) date (snippet)".
func (h hit) row() string {
	var sb strings.Builder
	sb.WriteString(h.Title)
	if h.URL != "" {
		sb.WriteString(" - ")
		sb.WriteString(h.URL)
	}
	if h.Site != "" {
		fmt.Fprintf(&sb, " (%s)", h.Site)
	}
	if h.Date != "" {
		sb.WriteString(" ")
		sb.WriteString(h.Date)
	}
	if h.Snippet != "" {
		fmt.Fprintf(&sb, " (%s)", h.Snippet)
	}
	return sb.String()
}

// formatHits numbers the rows, one per line.
func formatHits(hits []hit) string {
	lines := make([]string, len(hits))
	for i, h := range hits {
		lines[i] = fmt.Sprintf("%d. %s", i+1, h.row())
	}
	return strings.Join(lines, "\n")
}

var (
	tagPattern   = regexp.MustCompile(`<[^>]*>`)
	datePattern  = regexp.MustCompile(`\b\d{4}-\d{2}-\d{2}\b`)
	clockPattern = regexp.MustCompile(`\b\d{1,2}:\d{2}(:\d{2})?\b`)
)

// stripTags removes inline markup such as the <span class="searchmatch">
// highlights Wikipedia and SearX put in snippets.
func stripTags(s string) string {
	return squash(tagPattern.ReplaceAllString(s, ""))
}

// IsNoResults reports whether output carries nothing usable.
func IsNoResults(output string) bool { return domain.IsNoResults(output) }

// IsBlocked reports whether output mentions an anti-bot block.
func IsBlocked(output string) bool { return domain.IsBlocked(output) }

// IsUsable reports whether a successful search output can be shown to a model.
func IsUsable(output string) bool {
	return !IsNoResults(output) && !IsBlocked(output)
}

func containsTimeValue(output string) bool {
	text := squash(output)
	return datePattern.MatchString(text) || clockPattern.MatchString(text)
}
