package tool

import (
	"context"
	"strings"

	"harmony-core/internal/domain"
)

// resolveModel picks the request hint, then the configured tool model, then
// DefaultToolModel.
func (e *Executor) resolveModel(hint string) string {
	if h := strings.TrimSpace(hint); h != "" {
		return h
	}
	if m := strings.TrimSpace(e.cfg.ToolModel); m != "" {
		return m
	}
	return DefaultToolModel
}

// complete runs one system+user exchange and reports the model and token
// counts. Provider usage is preferred; missing counts are estimated.
func (e *Executor) complete(ctx context.Context, system, user, hint string) (domain.ToolResult, error) {
	model := e.resolveModel(hint)
	if e.models == nil {
		return domain.ToolResult{}, Fail("LLM request failed", domain.ErrProviderNotFound)
	}
	provider, err := e.models.Resolve(model)
	if err != nil {
		return domain.ToolResult{}, Fail("LLM request failed", err)
	}

	ctx, cancel := context.WithTimeout(ctx, e.cfg.LLMTimeout)
	defer cancel()

	var msgs []domain.Message
	if system != "" {
		msgs = append(msgs, domain.SystemMessage(system))
	}
	msgs = append(msgs, domain.UserMessage(user))

	resp, err := provider.Chat(ctx, domain.ChatRequest{Model: model, Messages: msgs, MaxTokens: e.cfg.MaxTokens})
	if err != nil {
		return domain.ToolResult{}, Fail("LLM request failed", err)
	}
	text := strings.TrimSpace(resp.Message.Content)
	if text == "" {
		return domain.ToolResult{}, Fail("LLM returned empty response", nil)
	}

	prompt, completion := resp.Usage.PromptTokens, resp.Usage.CompletionTokens
	if prompt == 0 {
		prompt = messageTokens(e.tokens, domain.RoleSystem, system) + messageTokens(e.tokens, domain.RoleUser, user)
	}
	if completion == 0 {
		completion = messageTokens(e.tokens, domain.RoleAssistant, text)
	}
	return domain.ToolResult{
		Content:          text,
		Model:            model,
		PromptTokens:     prompt,
		CompletionTokens: completion,
	}, nil
}
