// Package intent classifies user utterances for tool forcing: clock queries,
// explicit search requests and topics that depend on fresh information.
package intent

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Common IANA zones produced by zone hints.
const (
	ZoneShanghai = "Asia/Shanghai"
	ZoneUTC      = "UTC"
)

var yearPattern = regexp.MustCompile(`\b20\d{2}\b`)

// ZoneHint maps a place or zone keyword to an IANA zone name.
type ZoneHint struct {
	Term string
	Zone string
}

// Lexicon holds the keyword lists for one locale.
//
// Latin lexicons match case-insensitively at a word start, so "now" does
// not fire on "know". CJK lexicons match as plain substrings.
type Lexicon struct {
	Locale        string
	CJK           bool
	Time          []string
	Search        []string
	TimeSensitive []string
	Zones         []ZoneHint
}

func (l Lexicon) match(original, lower string, terms []string) bool {
	for _, t := range terms {
		if l.CJK {
			if strings.Contains(original, t) {
				return true
			}
			continue
		}
		if containsWord(lower, strings.ToLower(t)) {
			return true
		}
	}
	return false
}

// English is the Latin-script lexicon.
var English = Lexicon{
	Locale: "en",
	Time:   []string{"time", "now"},
	Search: []string{"search", "news"},
	TimeSensitive: []string{
		"latest", "news", "announcement", "notice", "admission", "recruit",
		"policy", "official", "release", "ranking", "price", "exchange rate",
		"stock", "weather", "today", "now", "current",
	},
	Zones: []ZoneHint{
		{"utc", ZoneUTC}, {"gmt", ZoneUTC},
		{"beijing", ZoneShanghai}, {"shanghai", ZoneShanghai}, {"china", ZoneShanghai},
	},
}

// Chinese is the simplified-Chinese lexicon.
var Chinese = Lexicon{
	Locale: "zh",
	CJK:    true,
	Time:   []string{"时间", "几点", "北京时间"},
	Search: []string{"搜索", "查询", "查找", "新闻", "时事"},
	TimeSensitive: []string{
		"最新", "新闻", "公告", "通知", "招生", "报名", "录取", "招聘",
		"政策", "官网", "发布", "会议", "直播", "报道", "排名", "榜单",
		"价格", "汇率", "股价", "天气", "时间", "今天", "现在", "刚刚",
		"今年", "本周", "本月", "本季度",
	},
	Zones: []ZoneHint{
		{"北京时间", ZoneShanghai}, {"上海", ZoneShanghai}, {"北京", ZoneShanghai}, {"中国", ZoneShanghai},
	},
}

// Classifier answers intent questions across a set of lexicons.
type Classifier struct {
	lexicons []Lexicon
}

// New creates a Classifier over the given lexicons.
func New(lexicons ...Lexicon) *Classifier {
	return &Classifier{lexicons: lexicons}
}

// Default is the classifier shared by the protocol and the orchestrator.
var Default = New(English, Chinese)

func (c *Classifier) any(s string, pick func(Lexicon) []string) bool {
	if strings.TrimSpace(s) == "" {
		return false
	}
	lower := strings.ToLower(s)
	for _, l := range c.lexicons {
		if l.match(s, lower, pick(l)) {
			return true
		}
	}
	return false
}

// IsTimeQuery reports whether s asks for the current time.
func (c *Classifier) IsTimeQuery(s string) bool {
	return c.any(s, func(l Lexicon) []string { return l.Time })
}

// IsSearchQuery reports whether s explicitly asks for a search or news.
func (c *Classifier) IsSearchQuery(s string) bool {
	return c.any(s, func(l Lexicon) []string { return l.Search })
}

// IsTimeSensitive reports whether answering s needs fresh information.
// A four-digit 20xx year counts as a freshness signal.
func (c *Classifier) IsTimeSensitive(s string) bool {
	if yearPattern.MatchString(s) {
		return true
	}
	return c.any(s, func(l Lexicon) []string { return l.TimeSensitive })
}

// Timezone returns the first zone hinted at by s, or fallback.
func (c *Classifier) Timezone(s, fallback string) string {
	lower := strings.ToLower(s)
	for _, l := range c.lexicons {
		for _, z := range l.Zones {
			if l.CJK {
				if strings.Contains(s, z.Term) {
					return z.Zone
				}
			} else if containsWord(lower, z.Term) {
				return z.Zone
			}
		}
	}
	return fallback
}

// containsWord reports whether term occurs in s starting at a word boundary.
func containsWord(s, term string) bool {
	if term == "" {
		return false
	}
	for from := 0; from <= len(s)-len(term); {
		i := strings.Index(s[from:], term)
		if i < 0 {
			return false
		}
		at := from + i
		if at == 0 || !isWordRune(lastRune(s[:at])) {
			return true
		}
		from = at + 1
	}
	return false
}

func lastRune(s string) rune {
	r, _ := utf8.DecodeLastRuneInString(s)
	return r
}

func isWordRune(r rune) bool {
	return r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r))
}
