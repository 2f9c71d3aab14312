package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"

	"harmony-core/internal/domain"
)

func main() {
	loadEnvFiles()

	if len(os.Args) < 2 {
		showUsage()
		os.Exit(1)
	}

	var err error
	switch cmd, args := os.Args[1], os.Args[2:]; cmd {
	case "--help", "-h", "help":
		showUsage()
		return
	case "ask":
		err = runAsk(args)
	case "team":
		err = runTeam(args)
	case "doctor":
		err = runDoctor(args)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\nRun 'harmony --help' for usage information.\n", cmd)
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %s\n", os.Args[1], describeError(err))
		os.Exit(1)
	}
}

// describeError prefixes err with its error code when it has one.
func describeError(err error) string {
	if code := domain.ErrorCodeOf(err); code != domain.CodeUnknown {
		return fmt.Sprintf("[%s] %v", code, err)
	}
	return err.Error()
}

func showUsage() {
	fmt.Println(`harmony - multi-agent answers with grounded tools

USAGE:
    harmony <COMMAND> [FLAGS] <prompt>

COMMANDS:
    ask         Answer one prompt with a single model, tools enabled
                --orchestrate runs the planner/researcher/critic pipeline
    team        Answer one prompt with the configured agent team
    doctor      Run health checks on your setup

FLAGS:
    --config PATH      Config file (default: ./config.yaml, or HARMONY_CONFIG)
    --model NAME       Model identifier (default: llm.default_model)
    --tools LIST       Comma-separated tools for ask (default: all)
    --manager ID       Team manager agent (default: agents.manager)
    --stream           Stream the final answer

CONFIGURATION:
    Environment: HARMONY_* variables override config
    .env and .env.<APP_ENV> are loaded before the config file

EXAMPLES:
    harmony ask "现在几点了"
    harmony ask --orchestrate --model qwen-plus "Compare Raft and Paxos"
    harmony team --stream "今天有什么科技新闻"
    harmony doctor`)
}

// loadEnvFiles loads .env and then .env.<APP_ENV>, the latter overriding.
// Both files are optional.
func loadEnvFiles() {
	_ = godotenv.Load(".env")
	if appEnv := strings.TrimSpace(os.Getenv("APP_ENV")); appEnv != "" {
		_ = godotenv.Overload(".env." + appEnv)
	}
}

func defaultConfigPath() string {
	if p := os.Getenv("HARMONY_CONFIG"); p != "" {
		return p
	}
	return "config.yaml"
}
