package search

import (
	"regexp"
	"strings"
)

const maxVariantTokens = 6

var (
	variantPunct  = regexp.MustCompile(`[()（）,，.。;；:：、!！?？"“”'‘’/\\|]`)
	variantDigits = regexp.MustCompile(`\d+`)
	variantSpaces = regexp.MustCompile(`\s+`)
	variantCore   = regexp.MustCompile(`[A-Za-z0-9\-]{2,}|[\x{4E00}-\x{9FFF}]{2,}`)
)

// QueryVariants expands a query into the ordered, de-duplicated list each
// provider walks through: the trimmed input, a punctuation-free version, a
// digit-free version cut to six tokens and the first six Latin or CJK runs.
func QueryVariants(input string) []string {
	q := strings.TrimSpace(input)
	if q == "" {
		return nil
	}

	simplified := squash(variantPunct.ReplaceAllString(q, " "))
	cleaned := squash(variantDigits.ReplaceAllString(simplified, " "))

	short := strings.Fields(cleaned)
	if len(short) > maxVariantTokens {
		short = short[:maxVariantTokens]
	}

	core := variantCore.FindAllString(cleaned, maxVariantTokens)

	var out []string
	for _, v := range []string{q, simplified, strings.Join(short, " "), strings.Join(core, " ")} {
		v = strings.TrimSpace(v)
		if v == "" || contains(out, v) {
			continue
		}
		out = append(out, v)
	}
	return out
}

func squash(s string) string {
	return strings.TrimSpace(variantSpaces.ReplaceAllString(s, " "))
}

func contains(list []string, v string) bool {
	for _, have := range list {
		if have == v {
			return true
		}
	}
	return false
}

func containsCJK(s string) bool {
	for _, r := range s {
		if r >= 0x4E00 && r <= 0x9FFF {
			return true
		}
	}
	return false
}
