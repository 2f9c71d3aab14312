package orchestrator

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"unicode/utf8"

	"go.opentelemetry.io/otel/trace"

	"harmony-core/internal/domain"
	"harmony-core/internal/infra/tracer"
	"harmony-core/internal/infra/workpool"
	"harmony-core/internal/usecase/toolcall"
)

const (
	defaultManagerPrompt    = "You are Manager Agent. Aggregate team outputs into a final answer."
	defaultSpecialistPrompt = "You are Specialist Agent. Provide a concise expert answer."
	managerHint             = "You will receive multiple team outputs."
	groundedHint            = " Use tool results as the single source of truth and ignore contradictions."
	ungroundedHint          = " Search failed. Answer using general knowledge and clearly state that no sources were found."
	outputLogLimit          = 200
)

// TeamRequest is one team orchestration call.
type TeamRequest struct {
	Messages     []domain.Message
	DefaultModel string
	// Manager supplies the aggregator instructions, model and tool model.
	// It may be nil.
	Manager *domain.Agent
	// Team lists members in output order. Incomplete entries are skipped.
	Team   []*domain.TeamAgentRuntime
	Models domain.ModelRegistry
	// Usage receives token counts of billable tool calls. Optional.
	Usage domain.UsageRecorder
}

type member struct {
	rt    *domain.TeamAgentRuntime
	model string
	llm   domain.LLMProvider
}

func (m member) name(i int) string {
	if m.rt.Agent.Name != "" {
		return m.rt.Agent.Name
	}
	return "Agent-" + strconv.Itoa(i+1)
}

// managerCall is the prepared aggregator call of a team run.
type managerCall struct {
	model string
	llm   domain.LLMProvider
	msgs  []domain.Message
}

// RunTeam answers with every team member in parallel and a final manager
// call. Without members it degrades to Run on the default model. Unknown
// models and a failing manager call are errors; member failures only empty
// that member's output.
func (o *Orchestrator) RunTeam(ctx context.Context, req TeamRequest) (string, error) {
	if len(req.Team) == 0 {
		llm, err := req.Models.Resolve(req.DefaultModel)
		if err != nil {
			return "", err
		}
		return o.Run(ctx, req.Messages, req.DefaultModel, llm)
	}
	ctx, span, log := o.begin(ctx, "orchestrator.team", req.DefaultModel)
	defer span.End()

	call, err := o.prepareTeam(ctx, log, req)
	if err != nil {
		tracer.RecordError(span, err)
		return "", err
	}
	answer, err := domain.ChatText(ctx, call.llm, call.model, call.msgs)
	if err != nil {
		tracer.RecordError(span, err)
		return "", aggregatorError("Orchestrator.RunTeam", err)
	}
	tracer.SetOK(span)
	return answer, nil
}

// StreamTeam is RunTeam with the manager reply streamed.
func (o *Orchestrator) StreamTeam(ctx context.Context, req TeamRequest) (<-chan domain.StreamDelta, error) {
	if len(req.Team) == 0 {
		llm, err := req.Models.Resolve(req.DefaultModel)
		if err != nil {
			return nil, err
		}
		return o.Stream(ctx, req.Messages, req.DefaultModel, llm)
	}
	ctx, span, log := o.begin(ctx, "orchestrator.team_stream", req.DefaultModel)
	defer span.End()

	call, err := o.prepareTeam(ctx, log, req)
	if err != nil {
		tracer.RecordError(span, err)
		return nil, err
	}
	ch, err := domain.OpenStream(ctx, call.llm, call.model, call.msgs)
	if err != nil {
		tracer.RecordError(span, err)
		return nil, aggregatorError("Orchestrator.StreamTeam", err)
	}
	tracer.SetOK(span)
	return ch, nil
}

// prepareTeam resolves models, grounds the team, runs every member and
// builds the manager messages.
func (o *Orchestrator) prepareTeam(ctx context.Context, log *slog.Logger, req TeamRequest) (managerCall, error) {
	members := make([]member, 0, len(req.Team))
	for _, rt := range req.Team {
		if !rt.Complete() {
			continue
		}
		model := rt.Agent.Model
		if domain.IsBlank(model) {
			model = req.DefaultModel
		}
		llm, err := req.Models.Resolve(model)
		if err != nil {
			return managerCall{}, err
		}
		members = append(members, member{rt: rt, model: model, llm: llm})
	}

	mgr := managerCall{model: req.DefaultModel}
	if req.Manager != nil && !domain.IsBlank(req.Manager.Model) {
		mgr.model = req.Manager.Model
	}
	llm, err := req.Models.Resolve(mgr.model)
	if err != nil {
		return managerCall{}, err
	}
	mgr.llm = llm

	prompt := domain.LastUserContent(req.Messages)
	var tc *ToolContext
	if o.tools != nil && !o.cfg.PerMemberToolForcing {
		tc = o.resolveTeamTool(ctx, log, prompt, req)
	}

	tasks := make([]workpool.Task[string], len(members))
	for i, m := range members {
		tasks[i] = workpool.Task[string]{
			Label: "team-agent-" + m.rt.Agent.ID,
			Run: func(ctx context.Context) (string, error) {
				return o.runMember(ctx, req, m, prompt, tc)
			},
		}
	}
	outputs := o.gather(ctx, log, tasks)
	for i, m := range members {
		log.Info("team agent output", "agent", m.name(i), "output", snippet(outputs[i]))
	}

	mgr.msgs = managerMessages(req, tc, members, outputs)
	return mgr, nil
}

func (o *Orchestrator) runMember(ctx context.Context, req TeamRequest, m member, prompt string, tc *ToolContext) (string, error) {
	ctx, span := tracer.StartSpan(ctx, "orchestrator.agent",
		trace.WithAttributes(
			tracer.StringAttr("agent.id", m.rt.Agent.ID),
			tracer.StringAttr("llm.model", m.model),
		),
	)
	defer span.End()

	turn := toolcall.Turn{
		Messages:       req.Messages,
		Model:          m.model,
		LLM:            m.llm,
		Tools:          m.rt.AllowedTools(),
		ToolModel:      m.rt.Agent.ToolModel,
		Usage:          req.Usage,
		SkipIntent:     true,
		CondenseSearch: true,
	}
	if tc == nil && o.protocol != nil {
		if call, ok := o.protocol.Intent(prompt, turn.Tools); ok {
			span.SetAttributes(tracer.StringAttr("tool.name", call.Tool))
			return o.protocol.RunTool(ctx, turn, "", call).Text, nil
		}
	}

	draft, err := domain.ChatText(ctx, m.llm, m.model, memberMessages(m.rt, req.Messages, tc))
	if err != nil {
		tracer.RecordError(span, err)
		return "", err
	}
	if o.protocol != nil {
		return o.protocol.Handle(ctx, turn, draft).Text, nil
	}
	return draft, nil
}

func memberMessages(rt *domain.TeamAgentRuntime, msgs []domain.Message, tc *ToolContext) []domain.Message {
	system := rt.Agent.Instructions
	if domain.IsBlank(system) {
		system = defaultSpecialistPrompt
	}
	if role := strings.TrimSpace(rt.Role); role != "" {
		system = "Role: " + role + "\n" + system
	}
	if tools := rt.AllowedTools(); len(tools) > 0 {
		system += "\n\nAllowed tools: " + strings.Join(tools, ", ") +
			`. If you need a tool, respond ONLY with JSON: {"tool":"<key>","input":"..."}.`
	}
	prefix := []domain.Message{domain.SystemMessage(system)}
	if tc.grounded() {
		prefix = append(prefix, domain.SystemMessage("Tool result (authoritative):\n"+tc.Output+
			"\nYou must base your response strictly on this result and never invent values."))
	}
	return domain.WithPrefix(msgs, prefix...)
}

func managerMessages(req TeamRequest, tc *ToolContext, members []member, outputs []string) []domain.Message {
	system := defaultManagerPrompt
	if req.Manager != nil && !domain.IsBlank(req.Manager.Instructions) {
		system = req.Manager.Instructions
	}
	hint := managerHint
	switch {
	case tc != nil && !tc.Failed:
		hint += groundedHint
	case tc != nil && tc.Failed:
		hint += ungroundedHint
	}

	out := []domain.Message{domain.SystemMessage(system + "\n" + hint)}
	out = append(out, req.Messages...)
	if tc.grounded() {
		out = append(out, domain.SystemMessage("Tool result (authoritative):\n"+tc.Output))
	}
	return append(out, domain.AssistantMessage(formatTeamOutputs(members, outputs)))
}

// formatTeamOutputs renders "<name>:\n<output>\n\n" per member in order.
func formatTeamOutputs(members []member, outputs []string) string {
	var sb strings.Builder
	for i, m := range members {
		if i >= len(outputs) {
			break
		}
		sb.WriteString(m.name(i))
		sb.WriteString(":\n")
		sb.WriteString(outputs[i])
		sb.WriteString("\n\n")
	}
	return strings.TrimSpace(sb.String())
}

// snippet collapses whitespace and cuts s to outputLogLimit runes for logs.
func snippet(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if utf8.RuneCountInString(s) <= outputLogLimit {
		return s
	}
	return string([]rune(s)[:outputLogLimit]) + "..."
}
