package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "HARMONY_"

// Config is the root configuration of harmony-core.
type Config struct {
	Includes     []string           `yaml:"includes,omitempty"`
	LLM          LLMConfig          `yaml:"llm"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	Tools        ToolsConfig        `yaml:"tools"`
	Agents       AgentsConfig       `yaml:"agents"`
	Logger       LoggerConfig       `yaml:"logger"`
	Tracer       TracerConfig       `yaml:"tracer"`
}

// LLMConfig holds the model providers and how models map onto them.
type LLMConfig struct {
	DefaultModel string           `yaml:"default_model"`
	Providers    []ProviderConfig `yaml:"providers"`
	// ModelRouting maps a model name prefix to a provider name, e.g.
	// "qwen" -> "dashscope". The longest matching prefix wins.
	ModelRouting   map[string]string    `yaml:"model_routing,omitempty"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// CircuitBreakerConfig holds circuit breaker settings for LLM providers.
type CircuitBreakerConfig struct {
	Enabled     bool          `yaml:"enabled"`
	MaxFailures uint32        `yaml:"max_failures"`
	Timeout     time.Duration `yaml:"timeout"`
	Interval    time.Duration `yaml:"interval"`
}

// PoolConfig holds HTTP connection pool settings.
type PoolConfig struct {
	MaxIdleConns        int           `yaml:"max_idle_conns"`
	MaxIdleConnsPerHost int           `yaml:"max_idle_conns_per_host"`
	MaxConnsPerHost     int           `yaml:"max_conns_per_host"`
	IdleConnTimeout     time.Duration `yaml:"idle_conn_timeout"`
}

// ProviderConfig holds settings for one OpenAI-compatible endpoint.
type ProviderConfig struct {
	Name        string        `yaml:"name"`
	Type        string        `yaml:"type"`
	BaseURL     string        `yaml:"base_url"`
	APIKey      string        `yaml:"api_key"`
	Model       string        `yaml:"model"`
	Models      []string      `yaml:"models,omitempty"`
	ConnTimeout time.Duration `yaml:"conn_timeout"`
	RespTimeout time.Duration `yaml:"resp_timeout"`
	Pool        PoolConfig    `yaml:"pool"`
}

// OrchestratorConfig tunes multi-agent runs.
type OrchestratorConfig struct {
	AgentTimeout time.Duration `yaml:"agent_timeout"`
	PoolSize     int           `yaml:"pool_size"`
	// SharedToolGrounding pre-runs one tool for the whole team before the
	// members are asked.
	SharedToolGrounding bool `yaml:"shared_tool_grounding"`
}

// ToolsConfig holds tool executor settings.
type ToolsConfig struct {
	ToolModel      string        `yaml:"tool_model"`
	LLMTimeout     time.Duration `yaml:"llm_timeout"`
	MaxTokens      int           `yaml:"max_tokens"`
	TokenEncoding  string        `yaml:"token_encoding"`
	TimeServiceURL string        `yaml:"time_service_url"`
	Search         SearchConfig  `yaml:"search"`
}

// SearchConfig holds the web search race settings and provider toggles.
type SearchConfig struct {
	Deadline         time.Duration        `yaml:"deadline"`
	PoolSize         int                  `yaml:"pool_size"`
	CacheTTL         time.Duration        `yaml:"cache_ttl"`
	FallbackProvider string               `yaml:"fallback_provider"`
	SnippetPages     int                  `yaml:"snippet_pages"`
	SnippetChars     int                  `yaml:"snippet_chars"`
	BaiduRate        float64              `yaml:"baidu_rate"`
	BaiduBurst       int                  `yaml:"baidu_burst"`
	Breaker          CircuitBreakerConfig `yaml:"breaker"`
	Wikipedia        WikipediaConfig      `yaml:"wikipedia"`
	Baidu            ToggleConfig         `yaml:"baidu"`
	Baike            ToggleConfig         `yaml:"baike"`
	Bocha            BochaConfig          `yaml:"bocha"`
	Searx            SearxConfig          `yaml:"searx"`
	SerpAPI          SerpAPIConfig        `yaml:"serpapi"`
}

// ToggleConfig enables a keyless provider.
type ToggleConfig struct {
	Enabled bool `yaml:"enabled"`
}

// WikipediaConfig configures the Wikipedia provider.
type WikipediaConfig struct {
	Enabled      bool   `yaml:"enabled"`
	UserAgent    string `yaml:"user_agent"`
	ProxyEnabled bool   `yaml:"proxy_enabled"`
	ProxyURL     string `yaml:"proxy_url"`
}

type BochaConfig struct {
	Enabled  bool   `yaml:"enabled"`
	APIKey   string `yaml:"api_key"`
	Endpoint string `yaml:"endpoint"`
}

type SearxConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
}

type SerpAPIConfig struct {
	APIKey string `yaml:"api_key"`
	Engine string `yaml:"engine"`
}

// AgentsConfig declares the agents the CLI can run. Team describes the
// members of the manager agent.
type AgentsConfig struct {
	Manager   string        `yaml:"manager"`
	Instances []AgentConfig `yaml:"instances"`
}

// AgentConfig is one agent definition.
type AgentConfig struct {
	ID           string         `yaml:"id"`
	Name         string         `yaml:"name"`
	Instructions string         `yaml:"instructions"`
	Model        string         `yaml:"model,omitempty"`
	ToolModel    string         `yaml:"tool_model,omitempty"`
	Tools        []string       `yaml:"tools,omitempty"`
	Members      []MemberConfig `yaml:"members,omitempty"`
}

// MemberConfig references an agent inside a team.
type MemberConfig struct {
	AgentID string   `yaml:"agent_id"`
	Role    string   `yaml:"role,omitempty"`
	Tools   []string `yaml:"tools,omitempty"`
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// TracerConfig holds tracing settings.
type TracerConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"`
	Endpoint string `yaml:"endpoint"`
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	return &Config{
		LLM: LLMConfig{
			DefaultModel: "deepseek-chat",
			CircuitBreaker: CircuitBreakerConfig{
				Enabled:     true,
				MaxFailures: 5,
				Timeout:     30 * time.Second,
				Interval:    60 * time.Second,
			},
		},
		Orchestrator: OrchestratorConfig{
			AgentTimeout:        20 * time.Second,
			PoolSize:            8,
			SharedToolGrounding: true,
		},
		Tools: ToolsConfig{
			ToolModel:      "deepseek-chat",
			LLMTimeout:     30 * time.Second,
			MaxTokens:      2048,
			TokenEncoding:  "cl100k_base",
			TimeServiceURL: "https://worldtimeapi.org/api/timezone/",
			Search: SearchConfig{
				Deadline:         14 * time.Second,
				PoolSize:         10,
				CacheTTL:         5 * time.Minute,
				FallbackProvider: "wikipedia",
				SnippetPages:     3,
				SnippetChars:     1200,
				BaiduRate:        1,
				BaiduBurst:       2,
				Breaker: CircuitBreakerConfig{
					Enabled:     true,
					MaxFailures: 3,
					Timeout:     60 * time.Second,
					Interval:    5 * time.Minute,
				},
				Wikipedia: WikipediaConfig{Enabled: true},
				Baidu:     ToggleConfig{Enabled: true},
				Bocha:     BochaConfig{Endpoint: "https://api.bocha.cn/v1/web-search"},
				SerpAPI:   SerpAPIConfig{Engine: "baidu"},
			},
		},
		Logger: LoggerConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Tracer: TracerConfig{
			Exporter: "noop",
		},
	}
}

// Load reads a YAML config file, applies env var overrides, decrypts
// secrets and validates the result. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		return finish(cfg)
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}
	if err := validatePermissions(absPath); err != nil {
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if len(cfg.Includes) > 0 {
		visited := map[string]bool{absPath: true}
		if err := processIncludes(cfg, filepath.Dir(absPath), visited, 0); err != nil {
			return nil, err
		}
		// The main file wins over everything it includes.
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config (second pass): %w", err)
		}
		cfg.Includes = nil
	}

	return finish(cfg)
}

func finish(cfg *Config) (*Config, error) {
	ApplyEnvOverrides(cfg)

	if passphrase := os.Getenv(EnvPrefix + "CONFIG_KEY"); passphrase != "" {
		if err := decryptSecrets(cfg, passphrase); err != nil {
			return nil, fmt.Errorf("decrypt secrets: %w", err)
		}
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnvOverrides maps HARMONY_* env vars to config fields.
func ApplyEnvOverrides(cfg *Config) {
	setString(&cfg.LLM.DefaultModel, "LLM_DEFAULT_MODEL")
	setBool(&cfg.LLM.CircuitBreaker.Enabled, "LLM_CIRCUIT_BREAKER_ENABLED")

	setDuration(&cfg.Orchestrator.AgentTimeout, "ORCHESTRATOR_AGENT_TIMEOUT")
	setInt(&cfg.Orchestrator.PoolSize, "ORCHESTRATOR_POOL_SIZE")
	setBool(&cfg.Orchestrator.SharedToolGrounding, "ORCHESTRATOR_SHARED_TOOL_GROUNDING")

	setString(&cfg.Tools.ToolModel, "TOOLS_TOOL_MODEL")
	setDuration(&cfg.Tools.LLMTimeout, "TOOLS_LLM_TIMEOUT")
	setString(&cfg.Tools.TimeServiceURL, "TOOLS_TIME_SERVICE_URL")

	s := &cfg.Tools.Search
	setDuration(&s.Deadline, "SEARCH_DEADLINE")
	setInt(&s.PoolSize, "SEARCH_POOL_SIZE")
	setDuration(&s.CacheTTL, "SEARCH_CACHE_TTL")
	setString(&s.FallbackProvider, "SEARCH_FALLBACK_PROVIDER")
	setBool(&s.Wikipedia.Enabled, "SEARCH_WIKIPEDIA_ENABLED")
	setString(&s.Wikipedia.UserAgent, "SEARCH_WIKIPEDIA_USER_AGENT")
	if v := os.Getenv(EnvPrefix + "SEARCH_WIKIPEDIA_PROXY_URL"); v != "" {
		s.Wikipedia.ProxyURL = v
		s.Wikipedia.ProxyEnabled = true
	}
	setBool(&s.Baidu.Enabled, "SEARCH_BAIDU_ENABLED")
	setBool(&s.Baike.Enabled, "SEARCH_BAIKE_ENABLED")
	if v := os.Getenv(EnvPrefix + "SEARCH_BOCHA_API_KEY"); v != "" {
		s.Bocha.APIKey = v
		s.Bocha.Enabled = true
	}
	if v := os.Getenv(EnvPrefix + "SEARCH_SEARX_URL"); v != "" {
		s.Searx.URL = v
		s.Searx.Enabled = true
	}
	setString(&s.SerpAPI.APIKey, "SEARCH_SERPAPI_API_KEY")
	setString(&s.SerpAPI.Engine, "SEARCH_SERPAPI_ENGINE")

	setString(&cfg.Logger.Level, "LOGGER_LEVEL")
	setString(&cfg.Logger.Format, "LOGGER_FORMAT")
	setString(&cfg.Logger.Output, "LOGGER_OUTPUT")
	setBool(&cfg.Tracer.Enabled, "TRACER_ENABLED")
	setString(&cfg.Tracer.Exporter, "TRACER_EXPORTER")

	// Per-provider API key overrides: HARMONY_LLM_PROVIDER_<NAME>_API_KEY
	for i := range cfg.LLM.Providers {
		p := &cfg.LLM.Providers[i]
		setString(&p.APIKey, "LLM_PROVIDER_"+envName(p.Name)+"_API_KEY")
		setString(&p.BaseURL, "LLM_PROVIDER_"+envName(p.Name)+"_BASE_URL")
	}
}

func envName(name string) string {
	return strings.ToUpper(strings.NewReplacer("-", "_", ".", "_", " ", "_").Replace(name))
}

func setString(dst *string, key string) {
	if v := os.Getenv(EnvPrefix + key); v != "" {
		*dst = v
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(EnvPrefix + key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(EnvPrefix + key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			*dst = n
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(EnvPrefix + key); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			*dst = d
		}
	}
}

// FindAgent returns the agent definition with id.
func (a AgentsConfig) FindAgent(id string) (AgentConfig, bool) {
	for _, inst := range a.Instances {
		if inst.ID == id {
			return inst, true
		}
	}
	return AgentConfig{}, false
}

// validatePermissions checks the config file is not writable by group or others.
func validatePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat config: %w", err)
	}
	mode := info.Mode().Perm()
	if mode&0o022 != 0 {
		return fmt.Errorf("config file %s has insecure permissions %o (want 0600 or 0644)", path, mode)
	}
	return nil
}
