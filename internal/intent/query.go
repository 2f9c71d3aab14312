package intent

import (
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	maxQueryTokens = 8
	maxQueryRunes  = 80
)

var (
	quoteChars   = regexp.MustCompile(`[“”"'‘’]`)
	quotedPhrase = regexp.MustCompile(`[“”"']([^“”"']+)[“”"']`)
	fillerPhrase = regexp.MustCompile(`搜索引擎|要求\s*[:：]?|请解释|给我|给出|详细|流程|步骤|最后|常见|压缩|字|结论|来源|我在做`)
	punctuation  = regexp.MustCompile(`[()（）,，.。;；:：、/\\|]`)
	digitRuns    = regexp.MustCompile(`\d+`)
	spaceRuns    = regexp.MustCompile(`\s+`)
	latinToken   = regexp.MustCompile(`[A-Za-z0-9\-]{3,}`)
	nonQueryRune = regexp.MustCompile(`[^A-Za-z0-9\x{4E00}-\x{9FFF} ]`)
)

// CondenseSearchQuery turns a conversational prompt into a short keyword
// query: quoted phrases first, then Latin tokens, then the remaining words,
// at most eight tokens and eighty characters. Years are normalised with
// NormalizeYear against the original prompt.
func CondenseSearchQuery(prompt string, now time.Time) string {
	if strings.TrimSpace(prompt) == "" {
		return ""
	}
	q := quoteChars.ReplaceAllString(prompt, " ")
	q = fillerPhrase.ReplaceAllString(q, " ")
	q = punctuation.ReplaceAllString(q, " ")
	q = digitRuns.ReplaceAllString(q, " ")
	q = collapseSpaces(q)

	var tokens []string
	add := func(t string) {
		for _, have := range tokens {
			if have == t {
				return
			}
		}
		tokens = append(tokens, t)
	}
	for _, m := range quotedPhrase.FindAllStringSubmatch(prompt, -1) {
		if t := strings.TrimSpace(m[1]); utf8.RuneCountInString(t) > 1 {
			add(t)
		}
	}
	for _, t := range latinToken.FindAllString(q, -1) {
		if len(tokens) >= maxQueryTokens {
			break
		}
		add(t)
	}
	for _, t := range strings.Split(q, " ") {
		if len(tokens) >= maxQueryTokens {
			break
		}
		if utf8.RuneCountInString(t) > 1 {
			add(t)
		}
	}

	condensed := q
	if len(tokens) > 0 {
		condensed = strings.Join(tokens, " ")
	}
	condensed = collapseSpaces(nonQueryRune.ReplaceAllString(condensed, " "))
	if condensed == "" {
		condensed = q
	}
	condensed = truncateRunes(condensed, maxQueryRunes)
	return NormalizeYear(condensed, prompt, now)
}

// NormalizeYear rewrites 20xx years in input to the current year unless the
// user prompt names a year itself.
func NormalizeYear(input, userPrompt string, now time.Time) string {
	if input == "" || yearPattern.MatchString(userPrompt) {
		return input
	}
	return yearPattern.ReplaceAllString(input, strconv.Itoa(now.Year()))
}

func collapseSpaces(s string) string {
	return strings.TrimSpace(spaceRuns.ReplaceAllString(s, " "))
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
