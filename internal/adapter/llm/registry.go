package llm

import (
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"harmony-core/internal/domain"
	"harmony-core/internal/infra/config"
)

// Registry holds named providers and maps model identifiers onto them.
// It implements domain.ModelRegistry. Exact model names win over prefix
// routes, and the longest matching prefix wins among routes. There is no
// default provider: an unmatched model is an error.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]domain.LLMProvider
	models    map[string]string
	routes    map[string]string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[string]domain.LLMProvider),
		models:    make(map[string]string),
		routes:    make(map[string]string),
	}
}

// NewRegistryFromConfig builds one OpenAI-compatible provider per config
// entry, optionally behind a circuit breaker, and installs the routes.
func NewRegistryFromConfig(cfg config.LLMConfig, logger *slog.Logger) (*Registry, error) {
	r := NewRegistry()
	for _, pc := range cfg.Providers {
		var p domain.LLMProvider = NewOpenAIProvider(pc, logger)
		if cfg.CircuitBreaker.Enabled {
			p = NewCircuitBreakerProvider(p, cfg.CircuitBreaker, logger)
		}
		if err := r.Register(p); err != nil {
			return nil, err
		}
		for _, m := range append([]string{pc.Model}, pc.Models...) {
			if strings.TrimSpace(m) == "" {
				continue
			}
			if err := r.Serve(m, pc.Name); err != nil {
				return nil, err
			}
		}
	}
	for prefix, name := range cfg.ModelRouting {
		if err := r.Route(prefix, name); err != nil {
			return nil, err
		}
	}
	logger.Info("llm registry ready", "providers", r.Names(), "routes", len(cfg.ModelRouting))
	return r, nil
}

// Register adds a provider under its name.
func (r *Registry) Register(p domain.LLMProvider) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := p.Name()
	if _, exists := r.providers[name]; exists {
		return fmt.Errorf("provider %q already registered", name)
	}
	r.providers[name] = p
	return nil
}

// Serve maps an exact model name to a registered provider.
func (r *Registry) Serve(model, provider string) error {
	return r.bind(r.models, model, provider)
}

// Route maps every model starting with prefix to a registered provider.
func (r *Registry) Route(prefix, provider string) error {
	return r.bind(r.routes, prefix, provider)
}

func (r *Registry) bind(table map[string]string, key, provider string) error {
	key = normalizeModel(key)
	if key == "" {
		return fmt.Errorf("empty model for provider %q", provider)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.providers[provider]; !ok {
		return domain.NewDomainError("Registry.Route", domain.ErrProviderNotFound, provider)
	}
	table[key] = provider
	return nil
}

// Resolve implements domain.ModelRegistry.
func (r *Registry) Resolve(model string) (domain.LLMProvider, error) {
	key := normalizeModel(model)
	r.mu.RLock()
	defer r.mu.RUnlock()

	name, ok := r.models[key]
	if !ok && key != "" {
		best := ""
		for prefix, provider := range r.routes {
			if strings.HasPrefix(key, prefix) && len(prefix) > len(best) {
				best, name = prefix, provider
			}
		}
		ok = best != ""
	}
	if !ok {
		return nil, domain.NewDomainError("Registry.Resolve", domain.ErrModelNotFound, fmt.Sprintf("model %q", model))
	}
	return r.providers[name], nil
}

// Names returns the registered provider names in order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func normalizeModel(m string) string {
	return strings.ToLower(strings.TrimSpace(m))
}

var _ domain.ModelRegistry = (*Registry)(nil)
