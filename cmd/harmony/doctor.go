package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"slices"
	"strings"
	"time"

	"harmony-core/internal/adapter/llm"
	"harmony-core/internal/infra/config"
)

// CheckStatus is the outcome class of a health check.
type CheckStatus string

const (
	StatusPass CheckStatus = "PASS"
	StatusWarn CheckStatus = "WARN"
	StatusFail CheckStatus = "FAIL"
)

// CheckResult holds the outcome of a single health check.
type CheckResult struct {
	Name    string
	Status  CheckStatus
	Message string
	Fix     string
}

// Check is a named health check.
type Check struct {
	Name string
	Fn   func(cfg *config.Config) CheckResult
}

var probeClient = &http.Client{Timeout: 5 * time.Second}

func runDoctor(args []string) error {
	fs := flag.NewFlagSet("doctor", flag.ContinueOnError)
	cfgPath := fs.String("config", defaultConfigPath(), "config file path")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, cfgErr := config.Load(*cfgPath)
	checks := []Check{
		{Name: "Config file", Fn: checkConfigFile(*cfgPath, cfgErr)},
		{Name: "LLM API keys", Fn: checkLLMAPIKeys},
		{Name: "Model routing", Fn: checkModelRouting},
		{Name: "Search providers", Fn: checkSearchProviders},
		{Name: "Agent team", Fn: checkAgentTeam},
		{Name: "Time service", Fn: checkTimeService(probeClient)},
	}

	failed := report(os.Stdout, cfg, checks)
	if failed > 0 {
		return fmt.Errorf("%d check(s) failed", failed)
	}
	return nil
}

// report runs checks and prints one line per result. It returns the number
// of failed checks.
func report(w io.Writer, cfg *config.Config, checks []Check) int {
	fmt.Fprintln(w, "harmony doctor")
	fmt.Fprintln(w, strings.Repeat("=", 50))

	var pass, warn, fail int
	for _, check := range checks {
		result := check.Fn(cfg)
		result.Name = check.Name
		fmt.Fprintf(w, "  [%s] %s: %s\n", result.Status, result.Name, result.Message)
		if result.Fix != "" {
			fmt.Fprintf(w, "      Fix: %s\n", result.Fix)
		}
		switch result.Status {
		case StatusPass:
			pass++
		case StatusWarn:
			warn++
		default:
			fail++
		}
	}

	fmt.Fprintln(w, strings.Repeat("-", 50))
	fmt.Fprintf(w, "Results: %d passed, %d warnings, %d failed\n", pass, warn, fail)
	return fail
}

func notLoaded() CheckResult {
	return CheckResult{Status: StatusFail, Message: "cannot check: config not loaded"}
}

func checkConfigFile(cfgPath string, cfgErr error) func(*config.Config) CheckResult {
	return func(_ *config.Config) CheckResult {
		if cfgErr != nil {
			return CheckResult{
				Status:  StatusFail,
				Message: fmt.Sprintf("config error: %v", cfgErr),
				Fix:     "Fix the reported fields in " + cfgPath + " or the HARMONY_* variables",
			}
		}
		if _, err := os.Stat(cfgPath); errors.Is(err, os.ErrNotExist) {
			return CheckResult{
				Status:  StatusWarn,
				Message: fmt.Sprintf("no config file at %s, using defaults and environment", cfgPath),
			}
		}
		return CheckResult{Status: StatusPass, Message: "config loaded from " + cfgPath}
	}
}

func checkLLMAPIKeys(cfg *config.Config) CheckResult {
	if cfg == nil {
		return notLoaded()
	}
	if len(cfg.LLM.Providers) == 0 {
		return CheckResult{
			Status:  StatusFail,
			Message: "no LLM providers configured",
			Fix:     "Add at least one provider under llm.providers",
		}
	}
	var missing []string
	for _, p := range cfg.LLM.Providers {
		if p.APIKey == "" {
			missing = append(missing, p.Name)
		}
	}
	if len(missing) == len(cfg.LLM.Providers) {
		return CheckResult{
			Status:  StatusFail,
			Message: "no API keys found for providers: " + strings.Join(missing, ", "),
			Fix:     "Set HARMONY_LLM_PROVIDER_<NAME>_API_KEY",
		}
	}
	if len(missing) > 0 {
		return CheckResult{Status: StatusWarn, Message: "missing API keys for: " + strings.Join(missing, ", ")}
	}
	return CheckResult{Status: StatusPass, Message: fmt.Sprintf("%d provider(s) have API keys", len(cfg.LLM.Providers))}
}

// checkModelRouting builds the registry and resolves every model the
// config refers to.
func checkModelRouting(cfg *config.Config) CheckResult {
	if cfg == nil {
		return notLoaded()
	}
	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg, err := llm.NewRegistryFromConfig(cfg.LLM, quiet)
	if err != nil {
		return CheckResult{Status: StatusFail, Message: err.Error()}
	}

	models := []string{cfg.LLM.DefaultModel, cfg.Tools.ToolModel}
	for _, a := range cfg.Agents.Instances {
		models = append(models, a.Model, a.ToolModel)
	}
	var unresolved []string
	for _, m := range models {
		if m == "" || slices.Contains(unresolved, m) {
			continue
		}
		if _, err := reg.Resolve(m); err != nil {
			unresolved = append(unresolved, m)
		}
	}
	if len(unresolved) > 0 {
		return CheckResult{
			Status:  StatusFail,
			Message: "no provider serves: " + strings.Join(unresolved, ", "),
			Fix:     "List the model under a provider's models or add an llm.model_routing prefix",
		}
	}
	return CheckResult{Status: StatusPass, Message: "default model " + cfg.LLM.DefaultModel + " resolves"}
}

func checkSearchProviders(cfg *config.Config) CheckResult {
	if cfg == nil {
		return notLoaded()
	}
	s := cfg.Tools.Search
	var enabled []string
	for _, p := range []struct {
		name string
		on   bool
	}{
		{"wikipedia", s.Wikipedia.Enabled},
		{"baidu", s.Baidu.Enabled},
		{"baike", s.Baike.Enabled},
		{"bocha", s.Bocha.Enabled && s.Bocha.APIKey != ""},
		{"searx", s.Searx.Enabled && s.Searx.URL != ""},
		{"serpapi", s.SerpAPI.APIKey != ""},
	} {
		if p.on {
			enabled = append(enabled, p.name)
		}
	}
	if len(enabled) == 0 {
		return CheckResult{
			Status:  StatusWarn,
			Message: "no search providers enabled, web_search always reports no results",
			Fix:     "Enable tools.search.wikipedia or tools.search.baidu",
		}
	}
	return CheckResult{Status: StatusPass, Message: "enabled: " + strings.Join(enabled, ", ")}
}

func checkAgentTeam(cfg *config.Config) CheckResult {
	if cfg == nil {
		return notLoaded()
	}
	if cfg.Agents.Manager == "" {
		return CheckResult{Status: StatusPass, Message: "no team manager configured, team uses the fixed roles"}
	}
	manager, team, err := buildTeam(cfg.Agents, "")
	if err != nil {
		return CheckResult{Status: StatusFail, Message: err.Error()}
	}
	return CheckResult{
		Status:  StatusPass,
		Message: fmt.Sprintf("manager %q with %d member(s)", manager.ID, len(team)),
	}
}

func checkTimeService(client *http.Client) func(*config.Config) CheckResult {
	return func(cfg *config.Config) CheckResult {
		if cfg == nil {
			return notLoaded()
		}
		url := strings.TrimRight(cfg.Tools.TimeServiceURL, "/") + "/Etc/UTC"

		ctx, cancel := context.WithTimeout(context.Background(), client.Timeout)
		defer cancel()
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return CheckResult{Status: StatusFail, Message: fmt.Sprintf("invalid time service URL: %v", err)}
		}
		resp, err := client.Do(req)
		if err != nil {
			return CheckResult{
				Status:  StatusWarn,
				Message: fmt.Sprintf("time service not reachable: %v", err),
				Fix:     "Time questions fall back to web search; check network access to " + url,
			}
		}
		resp.Body.Close()
		if resp.StatusCode >= 400 {
			return CheckResult{Status: StatusWarn, Message: fmt.Sprintf("time service returned %d", resp.StatusCode)}
		}
		return CheckResult{Status: StatusPass, Message: "time service reachable"}
	}
}
