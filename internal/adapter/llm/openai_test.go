package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"harmony-core/internal/domain"
	"harmony-core/internal/infra/config"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

func newTestProvider(t *testing.T, handler http.HandlerFunc) *OpenAIProvider {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewOpenAIProvider(config.ProviderConfig{
		Name:    "deepseek",
		BaseURL: server.URL + "/",
		APIKey:  "test-key",
		Model:   "deepseek-chat",
	}, testLogger)
}

func TestOpenAIProviderChat(t *testing.T) {
	var got openaiRequest
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"chatcmpl-1","model":"deepseek-chat","created":1700000000,
			"choices":[{"index":0,"message":{"role":"assistant","content":"你好"},"finish_reason":"stop"}],
			"usage":{"prompt_tokens":10,"completion_tokens":3,"total_tokens":13}}`)
	})

	resp, err := p.Chat(context.Background(), domain.ChatRequest{
		Messages: []domain.Message{domain.SystemMessage("be brief"), domain.UserMessage("hi")},
	})
	require.NoError(t, err)

	assert.Equal(t, "deepseek-chat", got.Model, "empty request model falls back to the configured one")
	assert.False(t, got.Stream)
	assert.Nil(t, got.StreamOptions)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, openaiMessage{Role: "system", Content: "be brief"}, got.Messages[0])

	assert.Equal(t, "chatcmpl-1", resp.ID)
	assert.Equal(t, "你好", resp.Message.Content)
	assert.Equal(t, domain.RoleAssistant, resp.Message.Role)
	assert.Equal(t, domain.Usage{PromptTokens: 10, CompletionTokens: 3, TotalTokens: 13}, resp.Usage)
	assert.Equal(t, int64(1700000000), resp.CreatedAt.Unix())
}

func TestOpenAIProviderChatErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{"rate limit", http.StatusTooManyRequests, `{"error":"slow down"}`, domain.ErrRateLimit},
		{"auth", http.StatusUnauthorized, `{"error":"bad key"}`, domain.ErrAuthInvalid},
		{"server", http.StatusBadGateway, `bad gateway`, domain.ErrProviderError},
		{"no choices", http.StatusOK, `{"choices":[]}`, domain.ErrProviderError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newTestProvider(t, func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				fmt.Fprint(w, tt.body)
			})
			_, err := p.Chat(context.Background(), domain.ChatRequest{Model: "deepseek-chat"})
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestOpenAIProviderChatInvalidJSON(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `not json`)
	})
	_, err := p.Chat(context.Background(), domain.ChatRequest{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unmarshal response")
}

func TestOpenAIProviderChatStream(t *testing.T) {
	var got openaiRequest
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "text/event-stream", r.Header.Get("Accept"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "text/event-stream")
		for _, line := range []string{
			`data: {"choices":[{"delta":{"role":"assistant","content":""}}]}`,
			`data: {"choices":[{"delta":{"content":"Hel"}}]}`,
			`: keep-alive`,
			`data: {"choices":[{"delta":{"content":"lo"},"finish_reason":"stop"}]}`,
			`data: {"choices":[],"usage":{"prompt_tokens":4,"completion_tokens":2,"total_tokens":6}}`,
			`data: [DONE]`,
		} {
			fmt.Fprintf(w, "%s\n\n", line)
		}
	})

	ch, err := p.ChatStream(context.Background(), domain.ChatRequest{Model: "deepseek-chat", Stream: true})
	require.NoError(t, err)

	var deltas []domain.StreamDelta
	for d := range ch {
		deltas = append(deltas, d)
	}
	assert.True(t, got.Stream)
	require.NotNil(t, got.StreamOptions)
	assert.True(t, got.StreamOptions.IncludeUsage)

	require.Len(t, deltas, 3)
	assert.Equal(t, "Hel", deltas[0].Content)
	assert.Equal(t, "lo", deltas[1].Content)
	assert.True(t, deltas[2].Done)
	require.NotNil(t, deltas[2].Usage)
	assert.Equal(t, 6, deltas[2].Usage.TotalTokens)
}

func TestOpenAIProviderChatStreamOpenError(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})
	_, err := p.ChatStream(context.Background(), domain.ChatRequest{})
	assert.ErrorIs(t, err, domain.ErrAuthInvalid)
}

func TestOpenAIProviderDefaults(t *testing.T) {
	p := NewOpenAIProvider(config.ProviderConfig{Name: "openai"}, testLogger)
	assert.Equal(t, defaultBaseURL+"/chat/completions", p.endpoint())
	assert.Empty(t, p.headers())
	assert.Equal(t, "openai", p.Name())
}

func TestParseOpenAIChunk(t *testing.T) {
	d, err := parseOpenAIChunk([]byte(`{"choices":[{"delta":{"content":""}}]}`))
	require.NoError(t, err)
	assert.Nil(t, d, "empty deltas are dropped")

	_, err = parseOpenAIChunk([]byte(`{`))
	assert.Error(t, err)
}

func TestMapHTTPError(t *testing.T) {
	tests := []struct {
		status int
		want   error
	}{
		{http.StatusTooManyRequests, domain.ErrRateLimit},
		{http.StatusUnauthorized, domain.ErrAuthInvalid},
		{http.StatusForbidden, domain.ErrAuthInvalid},
		{http.StatusRequestEntityTooLarge, domain.ErrContextOverflow},
		{http.StatusNotFound, domain.ErrModelNotFound},
		{http.StatusInternalServerError, domain.ErrProviderError},
		{http.StatusServiceUnavailable, domain.ErrProviderError},
		{http.StatusBadRequest, domain.ErrInvalidInput},
	}
	for _, tt := range tests {
		err := mapHTTPError(tt.status, []byte(`{"error":"x"}`))
		if !errors.Is(err, tt.want) {
			t.Errorf("mapHTTPError(%d) = %v, want %v", tt.status, err, tt.want)
		}
		if !strings.Contains(err.Error(), fmt.Sprintf("API error %d", tt.status)) {
			t.Errorf("mapHTTPError(%d) lost the status: %v", tt.status, err)
		}
	}
}

func TestNewPooledTransportDefaults(t *testing.T) {
	tr := NewPooledTransport(0, 0, config.PoolConfig{MaxIdleConns: 3})
	assert.Equal(t, 3, tr.MaxIdleConns)
	assert.Equal(t, defaultMaxIdleConnsPerHost, tr.MaxIdleConnsPerHost)
	assert.Equal(t, defaultRespTimeout, tr.ResponseHeaderTimeout)

	c := NewHTTPClient(config.ProviderConfig{})
	assert.Equal(t, defaultConnTimeout+defaultRespTimeout, c.Timeout)
}
