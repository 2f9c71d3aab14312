package main

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strings"
	"time"

	"harmony-core/internal/adapter/llm"
	"harmony-core/internal/adapter/search"
	"harmony-core/internal/adapter/tool"
	"harmony-core/internal/domain"
	"harmony-core/internal/infra/config"
	"harmony-core/internal/infra/logger"
	"harmony-core/internal/infra/tracer"
	"harmony-core/internal/infra/workpool"
	"harmony-core/internal/security"
	"harmony-core/internal/usecase/orchestrator"
	"harmony-core/internal/usecase/toolcall"
)

// app is the wired component graph shared by the commands.
type app struct {
	cfg          *config.Config
	log          *slog.Logger
	models       *llm.Registry
	tools        *tool.Executor
	protocol     *toolcall.Protocol
	orchestrator *orchestrator.Orchestrator
	closers      []func()
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// newApp builds the logger, tracer, model registry, search aggregator, tool
// executor and orchestrator from cfg.
func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	log, logClose, err := logger.New(cfg.Logger)
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	a := &app{cfg: cfg, log: log}
	a.closers = append(a.closers, func() { _ = logClose() })

	shutdown, err := tracer.Setup(ctx, cfg.Tracer)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("tracer: %w", err)
	}
	a.closers = append(a.closers, func() { _ = shutdown(context.Background()) })

	a.models, err = llm.NewRegistryFromConfig(cfg.LLM, log)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("llm: %w", err)
	}

	searchCfg := cfg.Tools.Search
	client := &http.Client{
		Transport: llm.NewPooledTransport(0, searchCfg.Deadline, config.PoolConfig{}),
	}
	pageTransport := llm.NewPooledTransport(0, searchCfg.Deadline, config.PoolConfig{})
	pageTransport.Proxy = nil
	pageTransport.DialContext = security.GuardedDialContext(nil, 10*time.Second)
	aggregator := search.NewAggregator(
		search.Config{
			Deadline:         searchCfg.Deadline,
			FallbackProvider: searchCfg.FallbackProvider,
			CacheTTL:         searchCfg.CacheTTL,
			Breaker:          searchBreaker(searchCfg.Breaker),
		},
		search.NewSettingsStore(searchSettings(searchCfg)),
		workpool.New("search", searchCfg.PoolSize),
		search.NewDefaultProviders(client, search.ProvidersConfig{
			SnippetPages: searchCfg.SnippetPages,
			SnippetChars: searchCfg.SnippetChars,
			BaiduRate:    searchCfg.BaiduRate,
			BaiduBurst:   searchCfg.BaiduBurst,
			PageClient:   &http.Client{Transport: pageTransport},
		}, log),
		search.NewTimeSource(client, cfg.Tools.TimeServiceURL),
		log,
	)

	a.tools = tool.NewExecutor(tool.Config{
		ToolModel:  cfg.Tools.ToolModel,
		LLMTimeout: cfg.Tools.LLMTimeout,
		MaxTokens:  cfg.Tools.MaxTokens,
	}, a.models, aggregator, tool.NewTokenCounter(cfg.Tools.TokenEncoding, log), log)

	a.protocol = toolcall.New(a.tools, nil, log)
	a.orchestrator = orchestrator.New(orchestrator.Config{
		AgentTimeout:         cfg.Orchestrator.AgentTimeout,
		PerMemberToolForcing: !cfg.Orchestrator.SharedToolGrounding,
	}, workpool.New("agents", cfg.Orchestrator.PoolSize), a.tools, log)

	log.Info("harmony ready",
		"default_model", cfg.LLM.DefaultModel,
		"providers", a.models.Names(),
		"search_deadline", searchCfg.Deadline,
	)
	return a, nil
}

func searchSettings(c config.SearchConfig) search.Settings {
	return search.Settings{
		WikipediaEnabled:      c.Wikipedia.Enabled,
		WikipediaUserAgent:    c.Wikipedia.UserAgent,
		WikipediaProxyEnabled: c.Wikipedia.ProxyEnabled,
		WikipediaProxyURL:     c.Wikipedia.ProxyURL,
		BaiduEnabled:          c.Baidu.Enabled,
		BaikeEnabled:          c.Baike.Enabled,
		BochaEnabled:          c.Bocha.Enabled,
		BochaAPIKey:           c.Bocha.APIKey,
		BochaEndpoint:         c.Bocha.Endpoint,
		SearxEnabled:          c.Searx.Enabled,
		SearxURL:              c.Searx.URL,
		SerpAPIKey:            c.SerpAPI.APIKey,
		SerpAPIEngine:         c.SerpAPI.Engine,
	}
}

// searchBreaker maps the config onto provider breakers. A disabled breaker
// never trips.
func searchBreaker(c config.CircuitBreakerConfig) search.BreakerConfig {
	if !c.Enabled {
		return search.BreakerConfig{MaxFailures: math.MaxUint32}
	}
	return search.BreakerConfig{MaxFailures: c.MaxFailures, Timeout: c.Timeout, Interval: c.Interval}
}

// buildTeam resolves the manager agent and its members from the agents
// section. Members missing from the config are an error.
func buildTeam(agents config.AgentsConfig, managerID string) (*domain.Agent, []*domain.TeamAgentRuntime, error) {
	if managerID == "" {
		managerID = agents.Manager
	}
	if managerID == "" {
		return nil, nil, nil
	}
	mc, ok := agents.FindAgent(managerID)
	if !ok {
		return nil, nil, fmt.Errorf("manager agent %q not configured", managerID)
	}

	manager := toDomainAgent(mc)
	team := make([]*domain.TeamAgentRuntime, 0, len(mc.Members))
	for _, m := range mc.Members {
		ac, ok := agents.FindAgent(m.AgentID)
		if !ok {
			return nil, nil, fmt.Errorf("team member %q of %q not configured", m.AgentID, managerID)
		}
		manager.Team.Members = append(manager.Team.Members, domain.TeamMember{AgentID: m.AgentID, Role: m.Role, Tools: m.Tools})
		team = append(team, &domain.TeamAgentRuntime{Agent: toDomainAgent(ac), Role: m.Role, Tools: m.Tools})
	}
	return manager, team, nil
}

func toDomainAgent(c config.AgentConfig) *domain.Agent {
	a := &domain.Agent{
		ID:           c.ID,
		Name:         c.Name,
		Instructions: c.Instructions,
		Model:        c.Model,
		ToolModel:    c.ToolModel,
		Tools:        c.Tools,
	}
	if len(c.Members) > 0 {
		a.Team = &domain.TeamConfig{}
	}
	return a
}

// parseTools splits a comma-separated tool list. Empty selects every tool.
func parseTools(list string) []string {
	if strings.TrimSpace(list) == "" {
		return []string{domain.ToolCalculator, domain.ToolDatetime, domain.ToolTranslate, domain.ToolSummarize, domain.ToolWebSearch}
	}
	var tools []string
	for _, t := range strings.Split(list, ",") {
		if t = strings.TrimSpace(t); t != "" {
			tools = append(tools, t)
		}
	}
	return tools
}
