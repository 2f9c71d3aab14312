package toolcall

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"harmony-core/internal/domain"
)

func TestHandlePlainDraftUnchanged(t *testing.T) {
	llm := &mockProvider{chatFunc: replies()}
	exec := &fakeExecutor{}
	p := newTestProtocol(exec)

	out := p.Handle(context.Background(), testTurn(llm, "什么是光合作用", "web_search"), "Photosynthesis is ...")
	assert.Equal(t, Outcome{Text: "Photosynthesis is ..."}, out)
	assert.Empty(t, exec.keys())
	assert.Empty(t, llm.requests())
}

func TestHandleRunsAllowedTool(t *testing.T) {
	llm := &mockProvider{chatFunc: replies("It is 3 o'clock.")}
	exec := &fakeExecutor{results: map[string]domain.ToolResult{
		"datetime": {Content: "2026-10-15T10:03:04", Model: "", PromptTokens: 0},
	}}
	p := newTestProtocol(exec)
	draft := `{"tool":"DateTime","input":"Asia/Shanghai"}`

	out := p.Handle(context.Background(), testTurn(llm, "几点了", "datetime"), draft)
	assert.Equal(t, Outcome{Text: "It is 3 o'clock.", UsedTool: true, Tool: "datetime"}, out)

	require.Len(t, exec.reqs, 1)
	assert.Equal(t, "datetime", exec.reqs[0].ToolKey)
	assert.Equal(t, "Asia/Shanghai", exec.reqs[0].Input)

	reqs := llm.requests()
	require.Len(t, reqs, 1)
	msgs := reqs[0].Messages
	require.Len(t, msgs, 5)
	assert.Equal(t, domain.AssistantMessage(draft), msgs[2])
	assert.Equal(t, domain.RoleSystem, msgs[3].Role)
	assert.Equal(t, "Tool result:\n2026-10-15T10:03:04\n\nPlease provide the final answer to the user based on this result.", msgs[4].Content)
}

func TestHandleSearchOutputAppearsVerbatim(t *testing.T) {
	output := "1. Paris weather - https://example.com/paris (Sunny, 21°C)\n"
	llm := &mockProvider{chatFunc: replies("Sunny in Paris.")}
	exec := &fakeExecutor{results: map[string]domain.ToolResult{"web_search": domain.ToolSuccess(output)}}
	p := newTestProtocol(exec)

	out := p.Handle(context.Background(), testTurn(llm, "weather in Paris", "web_search"),
		`{"tool":"web_search","input":"weather in Paris"}`)
	assert.Equal(t, "Sunny in Paris.", out.Text)

	require.Len(t, exec.reqs, 1)
	assert.Equal(t, "weather in Paris", exec.reqs[0].Input)
	assert.False(t, exec.reqs[0].Forced)
	last := lastMessage(llm.requests()[0])
	assert.Equal(t, domain.RoleUser, last.Role)
	assert.True(t, strings.HasPrefix(last.Content, "Tool result:\n"+output+"\n\n"))
}

func TestHandleDisallowedToolNeverExecutes(t *testing.T) {
	llm := &mockProvider{chatFunc: replies("Here is my direct answer.")}
	exec := &fakeExecutor{results: map[string]domain.ToolResult{"web_search": domain.ToolSuccess("x")}}
	p := newTestProtocol(exec)

	out := p.Handle(context.Background(), testTurn(llm, "search go news", "calculator"),
		`{"tool":"web_search","input":"go news"}`)
	assert.Equal(t, "Here is my direct answer.", out.Text)
	assert.False(t, out.UsedTool)
	assert.Equal(t, "web_search", out.Tool)
	assert.Empty(t, exec.keys())
	assert.Equal(t, "The tool 'web_search' is not available for this agent. Answer the user directly without calling any tool.",
		lastMessage(llm.requests()[0]).Content)
}

func TestHandleDisallowedToolFollowupFails(t *testing.T) {
	llm := &mockProvider{chatFunc: func(int, domain.ChatRequest) (string, error) {
		return "", errors.New("connection refused")
	}}
	p := newTestProtocol(&fakeExecutor{})

	out := p.Handle(context.Background(), testTurn(llm, "hi"), `{"tool":"calculator","input":"1+1"}`)
	assert.Equal(t, "Tool 'calculator' is not available. Please answer without tools.", out.Text)
}

func TestHandleNonSearchToolFailure(t *testing.T) {
	llm := &mockProvider{chatFunc: replies()}
	exec := &fakeExecutor{results: map[string]domain.ToolResult{"calculator": domain.ToolFailure("Invalid expression")}}
	p := newTestProtocol(exec)

	out := p.Handle(context.Background(), testTurn(llm, "2+", "calculator"), `{"tool":"calculator","input":"2+"}`)
	assert.Equal(t, "Tool execution failed: Invalid expression", out.Text)
	assert.True(t, out.UsedTool)
	assert.Empty(t, llm.requests())
	assert.Equal(t, []string{"calculator"}, exec.keys(), "permanent failures are not retried")
}

func TestHandleRetriesTransientToolFailure(t *testing.T) {
	transient := domain.ToolFailure("LLM request failed")
	transient.IsRetryable = true

	t.Run("second attempt succeeds", func(t *testing.T) {
		llm := &mockProvider{chatFunc: replies("Bonjour means hello.")}
		exec := &fakeExecutor{
			seq:     map[string][]domain.ToolResult{"translate": {transient}},
			results: map[string]domain.ToolResult{"translate": domain.ToolSuccess("French:\nBonjour")},
		}
		p := newTestProtocol(exec)

		out := p.Handle(context.Background(), testTurn(llm, "translate hello to French", "translate"),
			`{"tool":"translate","input":"hello"}`)
		assert.Equal(t, "Bonjour means hello.", out.Text)
		assert.Equal(t, []string{"translate", "translate"}, exec.keys())
		assert.Contains(t, lastMessage(llm.requests()[0]).Content, "Bonjour")
	})

	t.Run("retried once only", func(t *testing.T) {
		llm := &mockProvider{chatFunc: replies()}
		exec := &fakeExecutor{results: map[string]domain.ToolResult{"translate": transient}}
		p := newTestProtocol(exec)

		out := p.Handle(context.Background(), testTurn(llm, "translate hello", "translate"),
			`{"tool":"translate","input":"hello"}`)
		assert.Equal(t, "Tool execution failed: LLM request failed", out.Text)
		assert.Equal(t, []string{"translate", "translate"}, exec.keys())
		assert.Empty(t, llm.requests())
	})
}

func TestHandleBlockedSearchUsesFallback(t *testing.T) {
	llm := &mockProvider{chatFunc: replies("Photosynthesis turns light into chemical energy.")}
	fb := domain.ToolSuccess("1. Photosynthesis - https://en.wikipedia.org/wiki/Photosynthesis")
	exec := &fakeExecutor{
		results:  map[string]domain.ToolResult{"web_search": domain.ToolSuccess("Baidu: request blocked by verification page")},
		fallback: &fb,
	}
	p := newTestProtocol(exec)

	out := p.Handle(context.Background(), testTurn(llm, "what is photosynthesis", "web_search"),
		`{"tool":"web_search","input":"photosynthesis"}`)
	assert.Equal(t, "Photosynthesis turns light into chemical energy.", out.Text)
	assert.Equal(t, []string{"photosynthesis"}, exec.fellBack)
	followup := lastMessage(llm.requests()[0]).Content
	assert.Contains(t, followup, "wikipedia.org")
	assert.NotContains(t, followup, "blocked")
}

func TestHandleSearchFailureUsesFallback(t *testing.T) {
	llm := &mockProvider{chatFunc: replies("From the fallback.")}
	fb := domain.ToolSuccess("1. Go - https://go.dev")
	exec := &fakeExecutor{
		results:  map[string]domain.ToolResult{"web_search": domain.ToolFailure("Search failed")},
		fallback: &fb,
	}
	p := newTestProtocol(exec)

	out := p.Handle(context.Background(), testTurn(llm, "what is go", "web_search"), `{"tool":"web_search","input":"go"}`)
	assert.Equal(t, "From the fallback.", out.Text)
	assert.Equal(t, []string{"go"}, exec.fellBack)
	assert.Contains(t, lastMessage(llm.requests()[0]).Content, "https://go.dev")
}

func TestHandleSearchNoResults(t *testing.T) {
	sentinel := domain.ToolSuccess(domain.NoResultsSentinel)
	tests := []struct {
		name     string
		prompt   string
		reply    string
		wantText string
		wantLLM  int
	}{
		{"time sensitive", "最新股价", "", "抱歉，搜索结果不可用，且该问题依赖最新信息，暂时无法回答。", 0},
		{"general knowledge", "什么是光合作用", "Photosynthesis converts light into chemical energy.",
			"Photosynthesis converts light into chemical energy.", 1},
		{"general knowledge blank", "什么是光合作用", "", "Search results unavailable. Please try again later.", 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			llm := &mockProvider{chatFunc: replies(tt.reply)}
			exec := &fakeExecutor{
				results:  map[string]domain.ToolResult{"web_search": sentinel},
				fallback: &sentinel,
			}
			p := newTestProtocol(exec)

			out := p.Handle(context.Background(), testTurn(llm, tt.prompt, "web_search"),
				`{"tool":"web_search","input":"`+tt.prompt+`"}`)
			assert.Equal(t, tt.wantText, out.Text)
			reqs := llm.requests()
			require.Len(t, reqs, tt.wantLLM)
			if tt.wantLLM > 0 {
				assert.Equal(t, "Search results are unavailable. Answer the user from general knowledge without citing sources.",
					lastMessage(reqs[0]).Content)
			}
		})
	}
}

func TestHandleSearchWithoutFallbackSupport(t *testing.T) {
	llm := &mockProvider{chatFunc: replies("general answer")}
	inner := &fakeExecutor{results: map[string]domain.ToolResult{"web_search": domain.ToolFailure("Search failed")}}
	p := newTestProtocol(plainExecutor{inner: inner})

	out := p.Handle(context.Background(), testTurn(llm, "explain recursion", "web_search"),
		`{"tool":"web_search","input":"recursion"}`)
	assert.Equal(t, "general answer", out.Text)
}

func TestHandleFollowupStillToolCall(t *testing.T) {
	tests := []struct {
		name    string
		replies []string
		want    string
	}{
		{"strict retry answers", []string{`{"tool":"web_search","input":"again"}`, "Plain answer."}, "Plain answer."},
		{"strict retry still json", []string{`{"tool":"web_search"}`, `{"input":"x"}`}, "Search results:\nresult rows"},
		{"strict retry blank", []string{`{"tool":"web_search"}`, ""}, "Search results:\nresult rows"},
		{"blank followup", []string{""}, "Search results:\nresult rows"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			llm := &mockProvider{chatFunc: replies(tt.replies...)}
			exec := &fakeExecutor{results: map[string]domain.ToolResult{"web_search": domain.ToolSuccess("result rows")}}
			p := newTestProtocol(exec)

			out := p.Handle(context.Background(), testTurn(llm, "search rows", "web_search"),
				`{"tool":"web_search","input":"rows"}`)
			assert.Equal(t, tt.want, out.Text)
		})
	}
}

func TestHandleStrictRetryPrompt(t *testing.T) {
	llm := &mockProvider{chatFunc: replies(`{"tool":"x"}`, "ok")}
	exec := &fakeExecutor{results: map[string]domain.ToolResult{"calculator": domain.ToolSuccess("4")}}
	p := newTestProtocol(exec)

	p.Handle(context.Background(), testTurn(llm, "2+2", "calculator"), `{"tool":"calculator","input":"2+2"}`)
	reqs := llm.requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, "Tool result:\n4\n\nReturn the final answer directly in plain text. Do NOT call any tool. Do NOT return JSON.",
		lastMessage(reqs[1]).Content)
}

func TestHandleFollowupError(t *testing.T) {
	llm := &mockProvider{chatFunc: func(int, domain.ChatRequest) (string, error) {
		return "", errors.New("rate limit exceeded")
	}}
	exec := &fakeExecutor{results: map[string]domain.ToolResult{"calculator": domain.ToolSuccess("4")}}
	p := newTestProtocol(exec)

	out := p.Handle(context.Background(), testTurn(llm, "2+2", "calculator"), `{"tool":"calculator","input":"2+2"}`)
	assert.Equal(t, "Tool execution failed: rate limit exceeded", out.Text)
}

func TestHandleRecordsUsage(t *testing.T) {
	llm := &mockProvider{chatFunc: replies("Bonjour")}
	exec := &fakeExecutor{results: map[string]domain.ToolResult{
		"translate": {Content: "Bonjour", Model: "deepseek-chat", PromptTokens: 12, CompletionTokens: 3},
	}}
	p := newTestProtocol(exec)
	var recorded []string
	turn := testTurn(llm, "translate hello", "translate")
	turn.ToolModel = "deepseek-chat"
	turn.Usage = domain.UsageRecorderFunc(func(model string, prompt, completion int) {
		recorded = append(recorded, model)
		assert.Equal(t, 12, prompt)
		assert.Equal(t, 3, completion)
	})

	p.Handle(context.Background(), turn, `{"tool":"translate","input":"to: French\nhello"}`)
	assert.Equal(t, []string{"deepseek-chat"}, recorded)
	assert.Equal(t, "deepseek-chat", exec.reqs[0].ModelHint)
}

func TestHandleIntentForcing(t *testing.T) {
	tests := []struct {
		name      string
		prompt    string
		tools     []string
		wantTool  string
		wantInput string
	}{
		{"time with datetime", "现在北京时间几点", []string{"datetime", "web_search"}, "datetime", "Asia/Shanghai"},
		{"time in utc", "what time is it in UTC", []string{"datetime"}, "datetime", "UTC"},
		{"time with web only", "现在几点了", []string{"web_search"}, "web_search", "北京时间 现在"},
		{"search request", "搜索 2023 Go 发布", []string{"web_search"}, "web_search", "搜索 2023 Go 发布"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			llm := &mockProvider{chatFunc: replies("final")}
			exec := &fakeExecutor{results: map[string]domain.ToolResult{
				"datetime":   domain.ToolSuccess("2026-10-15T10:03:04"),
				"web_search": domain.ToolSuccess("1. row"),
			}}
			p := newTestProtocol(exec)

			out := p.Handle(context.Background(), testTurn(llm, tt.prompt, tt.tools...), "I think it is noon.")
			assert.Equal(t, Outcome{Text: "final", UsedTool: true, Tool: tt.wantTool}, out)
			require.Len(t, exec.reqs, 1)
			assert.Equal(t, tt.wantInput, exec.reqs[0].Input)
		})
	}
}

func TestHandleIntentNotAllowedOrSkipped(t *testing.T) {
	llm := &mockProvider{chatFunc: replies()}
	exec := &fakeExecutor{}
	p := newTestProtocol(exec)

	out := p.Handle(context.Background(), testTurn(llm, "what time is it", "calculator"), "Noon.")
	assert.Equal(t, "Noon.", out.Text)

	turn := testTurn(llm, "what time is it", "datetime")
	turn.SkipIntent = true
	out = p.Handle(context.Background(), turn, "Noon.")
	assert.Equal(t, "Noon.", out.Text)
	assert.Empty(t, exec.keys())
}

func TestRunToolNormalizesSearchYear(t *testing.T) {
	llm := &mockProvider{chatFunc: replies("ok")}
	exec := &fakeExecutor{results: map[string]domain.ToolResult{"web_search": domain.ToolSuccess("row")}}
	p := newTestProtocol(exec)

	turn := testTurn(llm, "latest go release", "web_search")
	turn.CondenseSearch = true
	p.RunTool(context.Background(), turn, "", ToolCall{Tool: "web_search", Input: "go release 2023"})
	require.Len(t, exec.reqs, 1)
	assert.Equal(t, "go release 2026", exec.reqs[0].Input)
	assert.True(t, exec.reqs[0].Forced)

	// Without a draft no assistant message is replayed.
	msgs := llm.requests()[0].Messages
	assert.Len(t, msgs, 4)

	p.RunTool(context.Background(), testTurn(llm, "go release 2023", "web_search"), "",
		ToolCall{Tool: "web_search", Input: "go release 2023"})
	assert.Equal(t, "go release 2023", exec.reqs[1].Input)
}

func TestHandleWithoutExecutor(t *testing.T) {
	p := New(nil, nil, nopLogger)
	out := p.Handle(context.Background(), testTurn(&mockProvider{chatFunc: replies()}, "x"), `{"tool":"calculator"}`)
	assert.Equal(t, `{"tool":"calculator"}`, out.Text)
}
