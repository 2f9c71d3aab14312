package search

import (
	"context"

	"harmony-core/internal/domain"
)

// Provider names, also used as race labels.
const (
	ProviderWikipedia = "wikipedia"
	ProviderBaidu     = "baidu"
	ProviderBocha     = "bocha"
	ProviderBaike     = "baike"
	ProviderAPI       = "api"
)

// bestEffortOrder ranks completed providers when no winner arrived in time.
var bestEffortOrder = []string{ProviderAPI, ProviderBocha, ProviderWikipedia, ProviderBaike, ProviderBaidu}

// Provider is one independent search backend.
//
// Search returns domain.NoResultsSentinel when the backend answered but found
// nothing, and an error only when the backend itself failed.
type Provider interface {
	Name() string
	Enabled(s Settings) bool
	Search(ctx context.Context, s Settings, query string) (string, error)
}

// eachVariant runs try over the query variants and returns the first
// non-empty output. It fails only when every variant failed.
func eachVariant(query string, try func(variant string) (string, error)) (string, error) {
	var lastErr error
	answered := false
	for _, v := range QueryVariants(query) {
		out, err := try(v)
		if err != nil {
			lastErr = err
			continue
		}
		answered = true
		if out != "" {
			return out, nil
		}
	}
	if !answered && lastErr != nil {
		return "", lastErr
	}
	return domain.NoResultsSentinel, nil
}
