// Package orchestrator answers one request with several model calls: three
// fixed-role sub-agents or a configured team run concurrently on a shared
// pool, and a single aggregator call folds their outputs into the answer.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/trace"

	"harmony-core/internal/domain"
	"harmony-core/internal/infra/tracer"
	"harmony-core/internal/infra/workpool"
	"harmony-core/internal/intent"
	"harmony-core/internal/usecase/toolcall"
)

// DefaultAgentTimeout bounds each sub-agent task.
const DefaultAgentTimeout = 20 * time.Second

const (
	plannerPrompt = "You are Planner Agent. Build a concise answer plan in bullet points. " +
		"Focus on correctness, steps, and risks. Do not answer the user directly."
	researcherPrompt = "You are Researcher Agent. Provide key facts, definitions, and examples that support the final answer. " +
		"Keep it factual and succinct."
	criticPrompt = "You are Critic Agent. Identify errors, missing points, or risky statements. " +
		"Return a brief critique, not the final answer."
	aggregatorPrompt = "You are Aggregator Agent. Combine the plan, research notes, and critique into a final answer. " +
		"Ensure correctness and clarity. Output only the final answer."
)

// Config tunes orchestration.
type Config struct {
	// AgentTimeout bounds every sub-agent task. A task that runs longer
	// contributes an empty output.
	AgentTimeout time.Duration
	// PerMemberToolForcing skips the forced tool shared by the whole team;
	// each member forces its own tool instead.
	PerMemberToolForcing bool
}

// Orchestrator runs sub-agents and aggregates their outputs. It is safe for
// concurrent use; per-request state lives on the stack of each call.
type Orchestrator struct {
	cfg      Config
	pool     *workpool.Pool
	tools    domain.ToolExecutor
	protocol *toolcall.Protocol
	classify *intent.Classifier
	logger   *slog.Logger
	runID    func() string
}

// New creates an Orchestrator. tools may be nil, which disables tool use in
// team mode.
func New(cfg Config, pool *workpool.Pool, tools domain.ToolExecutor, logger *slog.Logger) *Orchestrator {
	if cfg.AgentTimeout <= 0 {
		cfg.AgentTimeout = DefaultAgentTimeout
	}
	o := &Orchestrator{
		cfg:      cfg,
		pool:     pool,
		tools:    tools,
		classify: intent.Default,
		logger:   logger,
		runID:    newRunID,
	}
	if tools != nil {
		o.protocol = toolcall.New(tools, o.classify, logger)
	}
	return o
}

// Run answers with the planner, researcher and critic sub-agents followed
// by one aggregator call. A blank aggregator reply falls back to the
// concatenated sub-agent outputs.
func (o *Orchestrator) Run(ctx context.Context, msgs []domain.Message, model string, llm domain.LLMProvider) (string, error) {
	ctx, span, log := o.begin(ctx, "orchestrator.run", model)
	defer span.End()

	plan, research, critique := o.fixedRoles(ctx, log, msgs, model, llm)
	answer, err := domain.ChatText(ctx, llm, model, aggregatorMessages(msgs, plan, research, critique))
	if err != nil {
		tracer.RecordError(span, err)
		return "", aggregatorError("Orchestrator.Run", err)
	}
	if answer == "" {
		log.Warn("aggregator returned empty answer, using sub-agent outputs")
		answer = fallback(plan, research, critique)
	}
	tracer.SetOK(span)
	return answer, nil
}

// Stream is Run with the aggregator reply streamed. It returns once every
// sub-agent has settled and the aggregator stream is open.
func (o *Orchestrator) Stream(ctx context.Context, msgs []domain.Message, model string, llm domain.LLMProvider) (<-chan domain.StreamDelta, error) {
	ctx, span, log := o.begin(ctx, "orchestrator.stream", model)
	defer span.End()

	plan, research, critique := o.fixedRoles(ctx, log, msgs, model, llm)
	ch, err := domain.OpenStream(ctx, llm, model, aggregatorMessages(msgs, plan, research, critique))
	if err != nil {
		tracer.RecordError(span, err)
		return nil, aggregatorError("Orchestrator.Stream", err)
	}
	tracer.SetOK(span)
	return ch, nil
}

func (o *Orchestrator) fixedRoles(ctx context.Context, log *slog.Logger, msgs []domain.Message, model string, llm domain.LLMProvider) (plan, research, critique string) {
	tasks := []workpool.Task[string]{
		chatTask("planner", llm, model, domain.WithPrefix(msgs, domain.SystemMessage(plannerPrompt))),
		chatTask("researcher", llm, model, domain.WithPrefix(msgs, domain.SystemMessage(researcherPrompt))),
		chatTask("critic", llm, model, domain.WithPrefix(msgs, domain.SystemMessage(criticPrompt))),
	}
	outs := o.gather(ctx, log, tasks)
	return outs[0], outs[1], outs[2]
}

// gather runs tasks under the agent timeout. Failed or late tasks yield "".
func (o *Orchestrator) gather(ctx context.Context, log *slog.Logger, tasks []workpool.Task[string]) []string {
	outcomes := workpool.Gather(ctx, o.pool, o.cfg.AgentTimeout, "", tasks)
	values := make([]string, len(outcomes))
	for i, oc := range outcomes {
		if oc.Err != nil {
			log.Warn("agent task failed", "label", oc.Label, "timed_out", oc.TimedOut, "code", domain.ErrorCodeOf(oc.Err), "error", oc.Err)
		}
		values[i] = oc.Value
	}
	return values
}

func (o *Orchestrator) begin(ctx context.Context, name, model string) (context.Context, trace.Span, *slog.Logger) {
	id := o.runID()
	ctx, span := tracer.StartSpan(ctx, name,
		trace.WithAttributes(
			tracer.StringAttr("run_id", id),
			tracer.StringAttr("llm.model", model),
		),
	)
	return ctx, span, o.logger.With("run_id", id)
}

func chatTask(label string, llm domain.LLMProvider, model string, msgs []domain.Message) workpool.Task[string] {
	return workpool.Task[string]{
		Label: label,
		Run: func(ctx context.Context) (string, error) {
			return domain.ChatText(ctx, llm, model, msgs)
		},
	}
}

func aggregatorMessages(msgs []domain.Message, plan, research, critique string) []domain.Message {
	notes := "Plan:\n" + plan + "\n\nResearch:\n" + research + "\n\nCritique:\n" + critique
	out := domain.WithPrefix(msgs, domain.SystemMessage(aggregatorPrompt))
	return append(out, domain.AssistantMessage(notes))
}

// fallback joins the non-empty sub-agent outputs, labelling the critique.
func fallback(plan, research, critique string) string {
	var parts []string
	if !domain.IsBlank(plan) {
		parts = append(parts, plan)
	}
	if !domain.IsBlank(research) {
		parts = append(parts, research)
	}
	if !domain.IsBlank(critique) {
		parts = append(parts, "Notes:\n"+critique)
	}
	return strings.TrimSpace(strings.Join(parts, "\n\n"))
}

func aggregatorError(op string, err error) error {
	return domain.NewDomainError(op, fmt.Errorf("%w: %w", domain.ErrAggregatorFailed, err), "")
}

func newRunID() string {
	t := time.Now()
	entropy := ulid.Monotonic(rand.New(rand.NewSource(t.UnixNano())), 0)
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}
