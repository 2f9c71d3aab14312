// Package search races independent web-search providers under one deadline
// and folds their outcomes into a single tool result.
package search

import (
	"strings"
	"sync/atomic"
)

// Default endpoints and engines.
const (
	DefaultBochaEndpoint = "https://api.bocha.cn/v1/web-search"
	DefaultSerpAPIEngine = "baidu"
	DefaultUserAgent     = "harmony-core/1.0 (web search tool)"
)

// Settings is an immutable snapshot of the provider toggles and credentials.
// A snapshot is read once per search; callers publish a new one through
// SettingsStore between requests rather than mutating it in place.
type Settings struct {
	WikipediaEnabled      bool
	BaikeEnabled          bool
	BochaEnabled          bool
	BochaAPIKey           string
	BochaEndpoint         string
	BaiduEnabled          bool
	SearxEnabled          bool
	SearxURL              string
	SerpAPIKey            string
	SerpAPIEngine         string
	WikipediaUserAgent    string
	WikipediaProxyEnabled bool
	WikipediaProxyURL     string
}

// DefaultSettings enables the keyless providers (Wikipedia and Baidu).
func DefaultSettings() Settings {
	return Settings{
		WikipediaEnabled: true,
		BaiduEnabled:     true,
		BochaEndpoint:    DefaultBochaEndpoint,
		SerpAPIEngine:    DefaultSerpAPIEngine,
	}
}

func (s Settings) bochaEndpoint() string {
	if strings.TrimSpace(s.BochaEndpoint) == "" {
		return DefaultBochaEndpoint
	}
	return s.BochaEndpoint
}

func (s Settings) serpEngine() string {
	if e := strings.TrimSpace(s.SerpAPIEngine); e != "" {
		return e
	}
	return DefaultSerpAPIEngine
}

func (s Settings) wikipediaUserAgent() string {
	if ua := strings.TrimSpace(s.WikipediaUserAgent); ua != "" {
		return ua
	}
	return DefaultUserAgent
}

func (s Settings) searxReady() bool {
	return s.SearxEnabled && strings.TrimSpace(s.SearxURL) != ""
}

func (s Settings) serpReady() bool {
	return strings.TrimSpace(s.SerpAPIKey) != ""
}

// SettingsStore publishes settings snapshots. Load is lock-free.
type SettingsStore struct {
	current atomic.Pointer[Settings]
}

// NewSettingsStore creates a store holding initial.
func NewSettingsStore(initial Settings) *SettingsStore {
	s := &SettingsStore{}
	s.Store(initial)
	return s
}

// Load returns the current snapshot.
func (s *SettingsStore) Load() Settings {
	if p := s.current.Load(); p != nil {
		return *p
	}
	return DefaultSettings()
}

// Store replaces the snapshot. Searches already running keep the old one.
func (s *SettingsStore) Store(next Settings) {
	s.current.Store(&next)
}
