package toolcall

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"

	"harmony-core/internal/domain"
	"harmony-core/internal/infra/tracer"
	"harmony-core/internal/intent"
)

// Fixed answers returned when no model answer can be produced.
const (
	msgStaleInfo         = "抱歉，搜索结果不可用，且该问题依赖最新信息，暂时无法回答。"
	msgSearchUnavailable = "Search results unavailable. Please try again later."
	msgNoUsableResult    = "No usable search result."
	timeSearchInput      = "北京时间 现在"
)

// Follow-up prompts appended after a tool run.
const (
	groundingInstruction = "You must use tool results as the single source of truth. Do NOT invent data. " +
		"If the tool output is empty or indicates failure, say that clearly."
	followupSuffix = "\n\nPlease provide the final answer to the user based on this result."
	strictSuffix   = "\n\nReturn the final answer directly in plain text. Do NOT call any tool. Do NOT return JSON."
	noSearchPrompt = "Search results are unavailable. Answer the user from general knowledge without citing sources."
)

// Turn is one model turn the protocol may act on. Messages is the running
// conversation and is never modified.
type Turn struct {
	Messages  []domain.Message
	Model     string
	LLM       domain.LLMProvider
	Tools     []string
	ToolModel string
	Usage     domain.UsageRecorder

	// SkipIntent disables keyword-driven forcing when the reply holds no
	// explicit call.
	SkipIntent bool
	// CondenseSearch sends web_search calls as forced requests, which
	// condense the input into a keyword query.
	CondenseSearch bool
}

// Outcome is the resolved answer for a turn.
type Outcome struct {
	Text string
	// UsedTool is set when a tool was executed for the answer.
	UsedTool bool
	// Tool is the tool the reply asked for, executed or not.
	Tool string
}

// Protocol runs tool calls found in model replies.
type Protocol struct {
	tools    domain.ToolExecutor
	classify *intent.Classifier
	now      func() time.Time
	logger   *slog.Logger
}

// New creates a Protocol. A nil classifier selects intent.Default.
func New(tools domain.ToolExecutor, classify *intent.Classifier, logger *slog.Logger) *Protocol {
	if classify == nil {
		classify = intent.Default
	}
	return &Protocol{
		tools:    tools,
		classify: classify,
		now:      time.Now,
		logger:   logger,
	}
}

// Handle inspects draft and, when it asks for a tool (or the user's last
// message clearly needs one), runs the tool and returns the follow-up answer.
// Otherwise the draft is returned unchanged. Handle never fails: every error
// becomes answer text.
func (p *Protocol) Handle(ctx context.Context, turn Turn, draft string) Outcome {
	if p.tools == nil || domain.IsBlank(draft) {
		return Outcome{Text: draft}
	}
	ctx, span := tracer.StartSpan(ctx, "toolcall.handle",
		trace.WithAttributes(tracer.StringAttr("llm.model", turn.Model)),
	)
	defer span.End()

	switch out := Parse(draft).(type) {
	case ToolCall:
		span.SetAttributes(tracer.StringAttr("tool.name", out.Tool))
		if !domain.ContainsTool(turn.Tools, out.Tool) {
			p.logger.Info("tool not allowed", "tool", out.Tool, "allowed", turn.Tools)
			return p.disallowed(ctx, turn, draft, out.Tool)
		}
		return p.RunTool(ctx, turn, draft, out)
	default:
		if turn.SkipIntent {
			return Outcome{Text: draft}
		}
		call, ok := p.Intent(domain.LastUserContent(turn.Messages), turn.Tools)
		if !ok {
			return Outcome{Text: draft}
		}
		span.SetAttributes(tracer.StringAttr("tool.name", call.Tool), tracer.StringAttr("tool.trigger", "intent"))
		p.logger.Info("tool forced by intent", "tool", call.Tool, "input", call.Input)
		return p.RunTool(ctx, turn, draft, call)
	}
}

// Intent picks a tool for prompt from keyword signals, limited to tools.
// Clock questions prefer datetime and fall back to a web search for the
// current Beijing time. Explicit search or news requests use web_search.
func (p *Protocol) Intent(prompt string, tools []string) (ToolCall, bool) {
	if domain.IsBlank(prompt) {
		return ToolCall{}, false
	}
	allowTime := domain.ContainsTool(tools, domain.ToolDatetime)
	allowWeb := domain.ContainsTool(tools, domain.ToolWebSearch)
	timeQuery := p.classify.IsTimeQuery(prompt)
	switch {
	case timeQuery && allowTime:
		return ToolCall{Tool: domain.ToolDatetime, Input: p.classify.Timezone(prompt, intent.ZoneUTC)}, true
	case timeQuery && allowWeb:
		return ToolCall{Tool: domain.ToolWebSearch, Input: timeSearchInput}, true
	case allowWeb && p.classify.IsSearchQuery(prompt):
		return ToolCall{Tool: domain.ToolWebSearch, Input: strings.TrimSpace(prompt)}, true
	}
	return ToolCall{}, false
}

// RunTool executes call and asks the model for the final answer. draft is
// the reply that asked for the tool; it is replayed as an assistant message
// when not blank. The caller is responsible for checking the allowlist.
func (p *Protocol) RunTool(ctx context.Context, turn Turn, draft string, call ToolCall) Outcome {
	key := strings.ToLower(strings.TrimSpace(call.Tool))
	search := key == domain.ToolWebSearch
	userPrompt := domain.LastUserContent(turn.Messages)

	req := domain.ToolExecutionRequest{ToolKey: key, Input: call.Input, ModelHint: turn.ToolModel}
	if search {
		req.Input = intent.NormalizeYear(call.Input, userPrompt, p.now())
		req.Forced = turn.CondenseSearch
	}
	p.logger.Info("tool requested", "tool", key, "input", req.Input)

	res := p.tools.Execute(ctx, req)
	if !res.OK() && res.IsRetryable && !search {
		p.logger.Warn("tool failed, retrying", "tool", key, "error", res.Error)
		res = p.tools.Execute(ctx, req)
	}
	if !res.OK() {
		p.logger.Warn("tool failed", "tool", key, "error", res.Error, "retryable", res.IsRetryable)
		if !search {
			return used(key, "Tool execution failed: "+res.Error)
		}
		fb, ok := p.searchFallback(ctx, req.Input)
		if !ok {
			return p.answerWithoutSearch(ctx, turn, draft)
		}
		res = fb
	}
	if search && unusable(res.Content) {
		fb, ok := p.searchFallback(ctx, req.Input)
		if !ok {
			return p.answerWithoutSearch(ctx, turn, draft)
		}
		res = fb
	}
	if turn.Usage != nil && res.Billable() {
		turn.Usage.Record(res.Model, res.PromptTokens, res.CompletionTokens)
	}
	p.logger.Info("tool succeeded", "tool", key, "output_size", len(res.Content))

	out := used(key, "")
	out.Text = p.followup(ctx, turn, draft, key, res.Content)
	return out
}

func (p *Protocol) followup(ctx context.Context, turn Turn, draft, key, output string) string {
	msgs := withDraft(turn.Messages, draft)
	msgs = append(msgs,
		domain.SystemMessage(groundingInstruction),
		domain.UserMessage("Tool result:\n"+output+followupSuffix),
	)
	answer, err := domain.ChatText(ctx, turn.LLM, turn.Model, msgs)
	if err != nil {
		p.logger.Warn("tool followup failed", "tool", key, "error", err)
		return "Tool execution failed: " + err.Error()
	}
	if IsLikelyToolCall(answer) {
		strict := withDraft(turn.Messages, draft)
		strict = append(strict, domain.UserMessage("Tool result:\n"+output+strictSuffix))
		answer, err = domain.ChatText(ctx, turn.LLM, turn.Model, strict)
		if err != nil {
			p.logger.Warn("strict tool followup failed", "tool", key, "error", err)
		}
		if err != nil || answer == "" || IsLikelyToolCall(answer) {
			return searchResultsAnswer(output)
		}
		return answer
	}
	if answer == "" {
		return searchResultsAnswer(output)
	}
	return answer
}

// searchFallback asks the executor to retry through its fallback provider.
func (p *Protocol) searchFallback(ctx context.Context, query string) (domain.ToolResult, bool) {
	fb, ok := p.tools.(domain.SearchFallbacker)
	if !ok {
		return domain.ToolResult{}, false
	}
	p.logger.Info("tool fallback", "tool", domain.ToolWebSearch)
	res := fb.SearchFallback(ctx, query)
	if !res.OK() || unusable(res.Content) {
		return domain.ToolResult{}, false
	}
	return res, true
}

func (p *Protocol) answerWithoutSearch(ctx context.Context, turn Turn, draft string) Outcome {
	if p.classify.IsTimeSensitive(domain.LastUserContent(turn.Messages)) {
		return used(domain.ToolWebSearch, msgStaleInfo)
	}
	msgs := append(withDraft(turn.Messages, draft), domain.UserMessage(noSearchPrompt))
	answer, err := domain.ChatText(ctx, turn.LLM, turn.Model, msgs)
	if err != nil || answer == "" {
		if err != nil {
			p.logger.Warn("fallback answer failed", "error", err)
		}
		return used(domain.ToolWebSearch, msgSearchUnavailable)
	}
	return used(domain.ToolWebSearch, answer)
}

func (p *Protocol) disallowed(ctx context.Context, turn Turn, draft, key string) Outcome {
	prompt := "The tool '" + key + "' is not available for this agent. Answer the user directly without calling any tool."
	msgs := append(withDraft(turn.Messages, draft), domain.UserMessage(prompt))
	answer, err := domain.ChatText(ctx, turn.LLM, turn.Model, msgs)
	if err != nil || answer == "" {
		if err != nil {
			p.logger.Warn("disallowed tool fallback failed", "tool", key, "error", err)
		}
		answer = "Tool '" + key + "' is not available. Please answer without tools."
	}
	return Outcome{Text: answer, Tool: key}
}

func withDraft(msgs []domain.Message, draft string) []domain.Message {
	if domain.IsBlank(draft) {
		return domain.WithSuffix(msgs)
	}
	return domain.WithSuffix(msgs, domain.AssistantMessage(draft))
}

func searchResultsAnswer(output string) string {
	if domain.IsBlank(output) {
		output = msgNoUsableResult
	}
	return "Search results:\n" + output
}

// unusable reports search output that must not ground an answer: no
// results, or a page that only says the request was blocked.
func unusable(output string) bool {
	return domain.IsNoResults(output) || domain.IsBlocked(output)
}

func used(key, text string) Outcome {
	return Outcome{Text: text, UsedTool: true, Tool: key}
}
