package orchestrator

import (
	"context"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/trace"

	"harmony-core/internal/domain"
	"harmony-core/internal/infra/tracer"
	"harmony-core/internal/intent"
)

// ToolContext is the forced tool result shared by every member of one team
// run. It is built before the fan-out and only read afterwards.
type ToolContext struct {
	Tool   string
	Output string
	Failed bool
}

func (tc *ToolContext) grounded() bool {
	return tc != nil && tc.Output != ""
}

// teamTool picks the tool to pre-run for the whole team. A clock question
// without a search request gets datetime whenever any member can use the
// clock or the web. Otherwise any member allowing web_search makes it a
// forced search, and a clock question falls back to datetime.
func (o *Orchestrator) teamTool(prompt string, team []*domain.TeamAgentRuntime, hint string) (domain.ToolExecutionRequest, bool) {
	if domain.IsBlank(prompt) {
		return domain.ToolExecutionRequest{}, false
	}
	hasWeb := teamHasTool(team, domain.ToolWebSearch)
	hasTime := teamHasTool(team, domain.ToolDatetime)
	timeQuery := o.classify.IsTimeQuery(prompt)
	clock := domain.ToolExecutionRequest{
		ToolKey:   domain.ToolDatetime,
		Input:     o.classify.Timezone(prompt, intent.ZoneUTC),
		ModelHint: hint,
	}
	switch {
	case timeQuery && !o.classify.IsSearchQuery(prompt) && (hasTime || hasWeb):
		return clock, true
	case hasWeb:
		return forcedSearch(prompt, hint), true
	case timeQuery && hasTime:
		return clock, true
	}
	return domain.ToolExecutionRequest{}, false
}

// resolveTeamTool runs the team tool once. A forced tool that finds nothing
// is retried as a web search when a member allows it. It returns nil when no
// tool applies.
func (o *Orchestrator) resolveTeamTool(ctx context.Context, log *slog.Logger, prompt string, req TeamRequest) *ToolContext {
	hint := ""
	if req.Manager != nil {
		hint = req.Manager.ToolModel
	}
	call, ok := o.teamTool(prompt, req.Team, hint)
	if !ok {
		return nil
	}
	ctx, span := tracer.StartSpan(ctx, "orchestrator.team_tool",
		trace.WithAttributes(tracer.StringAttr("tool.name", call.ToolKey)),
	)
	defer span.End()

	log.Info("team tool forced", "tool", call.ToolKey, "input", call.Input)
	res := o.tools.Execute(ctx, call)
	failed := unusable(res)
	if failed && call.ToolKey != domain.ToolWebSearch && teamHasTool(req.Team, domain.ToolWebSearch) {
		retry := forcedSearch(prompt, hint)
		log.Info("team tool fallback", "tool", retry.ToolKey, "input", retry.Input)
		if fb := o.tools.Execute(ctx, retry); fb.OK() && !domain.IsBlank(fb.Content) {
			call, res, failed = retry, fb, unusable(fb)
		}
	}

	tc := &ToolContext{Tool: call.ToolKey, Failed: failed}
	if !failed {
		tc.Output = strings.TrimSpace(res.Content)
		if req.Usage != nil && res.Billable() {
			req.Usage.Record(res.Model, res.PromptTokens, res.CompletionTokens)
		}
		tracer.SetOK(span)
	}
	span.SetAttributes(
		tracer.StringAttr("tool.name", tc.Tool),
		tracer.IntAttr("tool.output_size", len(tc.Output)),
		tracer.BoolAttr("tool.failed", failed),
	)
	log.Info("team tool resolved", "tool", tc.Tool, "failed", failed, "output_size", len(tc.Output))
	return tc
}

func forcedSearch(prompt, hint string) domain.ToolExecutionRequest {
	return domain.ToolExecutionRequest{
		ToolKey:   domain.ToolWebSearch,
		Input:     strings.TrimSpace(prompt),
		ModelHint: hint,
		Forced:    true,
	}
}

func unusable(res domain.ToolResult) bool {
	return !res.OK() || domain.IsNoResults(res.Content) || domain.IsBlocked(res.Content)
}

func teamHasTool(team []*domain.TeamAgentRuntime, key string) bool {
	for _, rt := range team {
		if rt.Complete() && rt.AllowsTool(key) {
			return true
		}
	}
	return false
}
