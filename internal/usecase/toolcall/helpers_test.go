package toolcall

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"harmony-core/internal/domain"
)

var nopLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

// mockProvider answers each Chat call with chatFunc and records requests.
type mockProvider struct {
	mu       sync.Mutex
	chatFunc func(call int, req domain.ChatRequest) (string, error)
	reqs     []domain.ChatRequest
}

func (m *mockProvider) Chat(_ context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	m.mu.Lock()
	m.reqs = append(m.reqs, req)
	call := len(m.reqs)
	m.mu.Unlock()
	content, err := m.chatFunc(call, req)
	if err != nil {
		return nil, err
	}
	return &domain.ChatResponse{Message: domain.Message{Role: domain.RoleAssistant, Content: content}}, nil
}

func (m *mockProvider) Name() string { return "mock" }

func (m *mockProvider) requests() []domain.ChatRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.ChatRequest(nil), m.reqs...)
}

// replies returns a chatFunc answering the n-th call with the n-th reply.
func replies(texts ...string) func(int, domain.ChatRequest) (string, error) {
	return func(call int, _ domain.ChatRequest) (string, error) {
		if call > len(texts) {
			return "", nil
		}
		return texts[call-1], nil
	}
}

// fakeExecutor returns results keyed by tool key and records every request.
// Results queued in seq are returned before the fixed ones.
type fakeExecutor struct {
	mu       sync.Mutex
	seq      map[string][]domain.ToolResult
	results  map[string]domain.ToolResult
	fallback *domain.ToolResult
	reqs     []domain.ToolExecutionRequest
	fellBack []string
}

func (f *fakeExecutor) Execute(_ context.Context, req domain.ToolExecutionRequest) domain.ToolResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	if q := f.seq[req.ToolKey]; len(q) > 0 {
		f.seq[req.ToolKey] = q[1:]
		return q[0]
	}
	if r, ok := f.results[req.ToolKey]; ok {
		return r
	}
	return domain.ToolFailure("Unknown tool: " + req.ToolKey)
}

func (f *fakeExecutor) SearchFallback(_ context.Context, query string) domain.ToolResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fellBack = append(f.fellBack, query)
	if f.fallback == nil {
		return domain.ToolFailure("Search fallback unavailable")
	}
	return *f.fallback
}

func (f *fakeExecutor) keys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, r := range f.reqs {
		out = append(out, r.ToolKey)
	}
	return out
}

// plainExecutor hides SearchFallback.
type plainExecutor struct{ inner *fakeExecutor }

func (p plainExecutor) Execute(ctx context.Context, req domain.ToolExecutionRequest) domain.ToolResult {
	return p.inner.Execute(ctx, req)
}

func newTestProtocol(exec domain.ToolExecutor) *Protocol {
	p := New(exec, nil, nopLogger)
	p.now = func() time.Time { return time.Date(2026, 10, 15, 2, 3, 4, 0, time.UTC) }
	return p
}

func testTurn(llm domain.LLMProvider, prompt string, tools ...string) Turn {
	return Turn{
		Messages: []domain.Message{
			domain.SystemMessage("You are helpful."),
			domain.UserMessage(prompt),
		},
		Model: "deepseek-chat",
		LLM:   llm,
		Tools: tools,
	}
}

func lastMessage(req domain.ChatRequest) domain.Message {
	return req.Messages[len(req.Messages)-1]
}

func collect(ch <-chan domain.StreamDelta) []domain.StreamDelta {
	var out []domain.StreamDelta
	for d := range ch {
		out = append(out, d)
	}
	return out
}

func chunks(parts ...string) <-chan domain.StreamDelta {
	ch := make(chan domain.StreamDelta, len(parts)+1)
	for _, p := range parts {
		ch <- domain.StreamDelta{Content: p}
	}
	ch <- domain.StreamDelta{Done: true, Usage: &domain.Usage{TotalTokens: 7}}
	close(ch)
	return ch
}

func joined(ds []domain.StreamDelta) string {
	var sb strings.Builder
	for _, d := range ds {
		sb.WriteString(d.Content)
	}
	return sb.String()
}
