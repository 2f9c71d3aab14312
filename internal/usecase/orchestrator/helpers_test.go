package orchestrator

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"harmony-core/internal/domain"
	"harmony-core/internal/infra/workpool"
)

var nopLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

// mockProvider answers Chat with chatFunc and streams with streamFunc when set.
type mockProvider struct {
	name       string
	mu         sync.Mutex
	chatFunc   func(ctx context.Context, req domain.ChatRequest) (string, error)
	streamFunc func(ctx context.Context, req domain.ChatRequest) (<-chan domain.StreamDelta, error)
	reqs       []domain.ChatRequest
}

func (m *mockProvider) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	m.mu.Lock()
	m.reqs = append(m.reqs, req)
	m.mu.Unlock()
	content, err := m.chatFunc(ctx, req)
	if err != nil {
		return nil, err
	}
	return &domain.ChatResponse{Model: req.Model, Message: domain.AssistantMessage(content)}, nil
}

func (m *mockProvider) Name() string { return m.name }

func (m *mockProvider) requests() []domain.ChatRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.ChatRequest(nil), m.reqs...)
}

// find returns the first recorded request whose first message contains marker.
func (m *mockProvider) find(marker string) (domain.ChatRequest, bool) {
	for _, r := range m.requests() {
		if len(r.Messages) > 0 && strings.Contains(r.Messages[0].Content, marker) {
			return r, true
		}
	}
	return domain.ChatRequest{}, false
}

type streamingProvider struct {
	*mockProvider
}

func (s streamingProvider) ChatStream(ctx context.Context, req domain.ChatRequest) (<-chan domain.StreamDelta, error) {
	s.mu.Lock()
	s.reqs = append(s.reqs, req)
	s.mu.Unlock()
	return s.streamFunc(ctx, req)
}

// byRole answers according to the first system message.
func byRole(answers map[string]string) func(context.Context, domain.ChatRequest) (string, error) {
	return func(_ context.Context, req domain.ChatRequest) (string, error) {
		first := req.Messages[0].Content
		for marker, answer := range answers {
			if strings.Contains(first, marker) {
				return answer, nil
			}
		}
		return "", nil
	}
}

type mockRegistry map[string]domain.LLMProvider

func (r mockRegistry) Resolve(model string) (domain.LLMProvider, error) {
	if p, ok := r[model]; ok {
		return p, nil
	}
	return nil, domain.NewDomainError("Registry.Resolve", domain.ErrModelNotFound, fmt.Sprintf("model %q", model))
}

// fakeExecutor returns results keyed by tool key and records every request.
type fakeExecutor struct {
	mu      sync.Mutex
	results map[string]domain.ToolResult
	reqs    []domain.ToolExecutionRequest
}

func (f *fakeExecutor) Execute(_ context.Context, req domain.ToolExecutionRequest) domain.ToolResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	if r, ok := f.results[req.ToolKey]; ok {
		return r
	}
	return domain.ToolFailure("Unknown tool: " + req.ToolKey)
}

func (f *fakeExecutor) requests() []domain.ToolExecutionRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.ToolExecutionRequest(nil), f.reqs...)
}

func newTestOrchestrator(cfg Config, tools domain.ToolExecutor) *Orchestrator {
	o := New(cfg, workpool.New("agents", 4), tools, nopLogger)
	o.runID = func() string { return "01TESTRUN" }
	return o
}

func conversation(prompt string) []domain.Message {
	return []domain.Message{domain.UserMessage(prompt)}
}

func teamMember(id, name string, tools ...string) *domain.TeamAgentRuntime {
	return &domain.TeamAgentRuntime{
		Agent: &domain.Agent{ID: id, Name: name, Instructions: "You are " + name + "."},
		Tools: tools,
	}
}

func drain(ch <-chan domain.StreamDelta) string {
	var sb strings.Builder
	for d := range ch {
		sb.WriteString(d.Content)
	}
	return sb.String()
}

func sleepOrDone(ctx context.Context, d time.Duration) error {
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
