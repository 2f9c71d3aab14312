package config

import (
	"fmt"
	"net/url"
	"strings"
)

// ValidationError accumulates config validation errors.
type ValidationError struct {
	Errors []string
}

func (v *ValidationError) Error() string {
	return "config validation failed:\n  - " + strings.Join(v.Errors, "\n  - ")
}

// HasErrors reports whether any validation errors have been recorded.
func (v *ValidationError) HasErrors() bool {
	return len(v.Errors) > 0
}

// Add records a formatted validation error.
func (v *ValidationError) Add(format string, args ...any) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}

// Validate checks cfg for structural correctness. It returns a *ValidationError
// listing every problem found.
func Validate(cfg *Config) error {
	ve := &ValidationError{}
	validateLLM(cfg, ve)
	validateOrchestrator(cfg, ve)
	validateTools(cfg, ve)
	validateAgents(cfg, ve)
	validateObservability(cfg, ve)
	if ve.HasErrors() {
		return ve
	}
	return nil
}

var validProviderTypes = map[string]bool{
	"":       true,
	"openai": true,
}

func validateLLM(cfg *Config, ve *ValidationError) {
	if strings.TrimSpace(cfg.LLM.DefaultModel) == "" {
		ve.Add("llm.default_model must not be empty")
	}

	seen := make(map[string]bool)
	for i, p := range cfg.LLM.Providers {
		if p.Name == "" {
			ve.Add("llm.providers[%d].name must not be empty", i)
			continue
		}
		if seen[p.Name] {
			ve.Add("llm.providers[%d]: duplicate provider name %q", i, p.Name)
		}
		seen[p.Name] = true

		if !validProviderTypes[p.Type] {
			ve.Add("llm.providers[%d].type %q is invalid (want: openai)", i, p.Type)
		}
		if p.BaseURL != "" && !isHTTPURL(p.BaseURL) {
			ve.Add("llm.providers[%d] (%s): base_url %q is not an http(s) URL", i, p.Name, p.BaseURL)
		}
		if p.APIKey == "" {
			ve.Add("llm.providers[%d] (%s): api_key is empty (set via %sLLM_PROVIDER_%s_API_KEY)",
				i, p.Name, EnvPrefix, envName(p.Name))
		}
	}

	for prefix, name := range cfg.LLM.ModelRouting {
		if strings.TrimSpace(prefix) == "" {
			ve.Add("llm.model_routing has an empty prefix")
		}
		if !seen[name] {
			ve.Add("llm.model_routing[%q] references unknown provider %q", prefix, name)
		}
	}

	if cfg.LLM.CircuitBreaker.Enabled && cfg.LLM.CircuitBreaker.Timeout < 0 {
		ve.Add("llm.circuit_breaker.timeout must be >= 0")
	}
}

func validateOrchestrator(cfg *Config, ve *ValidationError) {
	if cfg.Orchestrator.AgentTimeout <= 0 {
		ve.Add("orchestrator.agent_timeout must be > 0")
	}
	if cfg.Orchestrator.PoolSize <= 0 {
		ve.Add("orchestrator.pool_size must be > 0")
	}
}

var validFallbackProviders = map[string]bool{
	"wikipedia": true,
	"baidu":     true,
	"baike":     true,
	"bocha":     true,
	"api":       true,
}

func validateTools(cfg *Config, ve *ValidationError) {
	t := cfg.Tools
	if strings.TrimSpace(t.ToolModel) == "" {
		ve.Add("tools.tool_model must not be empty")
	}
	if t.LLMTimeout <= 0 {
		ve.Add("tools.llm_timeout must be > 0")
	}
	if t.TimeServiceURL != "" && !isHTTPURL(t.TimeServiceURL) {
		ve.Add("tools.time_service_url %q is not an http(s) URL", t.TimeServiceURL)
	}

	s := t.Search
	if s.Deadline <= 0 {
		ve.Add("tools.search.deadline must be > 0")
	}
	if s.PoolSize <= 0 {
		ve.Add("tools.search.pool_size must be > 0")
	}
	if !validFallbackProviders[s.FallbackProvider] {
		ve.Add("tools.search.fallback_provider %q is invalid (want: wikipedia, baidu, baike, bocha, api)", s.FallbackProvider)
	}
	if s.BaiduRate < 0 {
		ve.Add("tools.search.baidu_rate must be >= 0")
	}
	if s.Bocha.Enabled && s.Bocha.APIKey == "" {
		ve.Add("tools.search.bocha.api_key is required when bocha is enabled (set via %sSEARCH_BOCHA_API_KEY)", EnvPrefix)
	}
	if s.Searx.Enabled && !isHTTPURL(s.Searx.URL) {
		ve.Add("tools.search.searx.url must be an http(s) URL when searx is enabled")
	}
	if s.Wikipedia.ProxyEnabled && strings.TrimSpace(s.Wikipedia.ProxyURL) == "" {
		ve.Add("tools.search.wikipedia.proxy_url is required when proxy_enabled is true")
	}
}

func validateAgents(cfg *Config, ve *ValidationError) {
	seen := make(map[string]bool)
	for i, inst := range cfg.Agents.Instances {
		if inst.ID == "" {
			ve.Add("agents.instances[%d].id must not be empty", i)
			continue
		}
		if seen[inst.ID] {
			ve.Add("agents.instances[%d]: duplicate agent ID %q", i, inst.ID)
		}
		seen[inst.ID] = true
	}

	for _, inst := range cfg.Agents.Instances {
		for j, m := range inst.Members {
			if !seen[m.AgentID] {
				ve.Add("agents %q members[%d]: unknown agent %q", inst.ID, j, m.AgentID)
			}
			if m.AgentID == inst.ID {
				ve.Add("agents %q members[%d]: an agent cannot be its own member", inst.ID, j)
			}
		}
	}

	if cfg.Agents.Manager != "" && !seen[cfg.Agents.Manager] {
		ve.Add("agents.manager %q does not match any configured instance", cfg.Agents.Manager)
	}
}

func validateObservability(cfg *Config, ve *ValidationError) {
	switch strings.ToLower(cfg.Logger.Format) {
	case "", "text", "json":
	default:
		ve.Add("logger.format %q is invalid (want: text, json)", cfg.Logger.Format)
	}
	switch cfg.Tracer.Exporter {
	case "", "noop", "stdout":
	default:
		ve.Add("tracer.exporter %q is invalid (want: noop, stdout)", cfg.Tracer.Exporter)
	}
}

func isHTTPURL(raw string) bool {
	u, err := url.Parse(raw)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
