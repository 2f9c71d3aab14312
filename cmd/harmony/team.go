package main

import (
	"flag"
	"fmt"
	"os"

	"harmony-core/internal/domain"
	"harmony-core/internal/usecase/orchestrator"
)

func runTeam(args []string) error {
	fs := flag.NewFlagSet("team", flag.ContinueOnError)
	var common commonFlags
	managerID := fs.String("manager", "", "manager agent id (default: agents.manager)")
	common.register(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	text, err := prompt(fs, os.Stdin)
	if err != nil {
		return err
	}

	ctx, cancel, a, err := setup(common)
	if err != nil {
		return err
	}
	defer cancel()
	defer a.Close()

	manager, team, err := buildTeam(a.cfg.Agents, *managerID)
	if err != nil {
		return err
	}
	model := common.model
	if model == "" {
		model = a.cfg.LLM.DefaultModel
	}

	usage := &usageTally{}
	defer usage.report(os.Stderr)
	req := orchestrator.TeamRequest{
		Messages:     []domain.Message{domain.UserMessage(text)},
		DefaultModel: model,
		Manager:      manager,
		Team:         team,
		Models:       a.models,
		Usage:        usage,
	}
	a.log.Info("team request", "manager", *managerID, "members", len(team), "model", model)

	if common.stream {
		ch, err := a.orchestrator.StreamTeam(ctx, req)
		if err != nil {
			return err
		}
		return printStream(os.Stdout, ch)
	}
	answer, err := a.orchestrator.RunTeam(ctx, req)
	if err != nil {
		return err
	}
	fmt.Println(answer)
	return nil
}
