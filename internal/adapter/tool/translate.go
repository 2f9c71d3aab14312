package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"harmony-core/internal/domain"
)

const (
	defaultTranslateTarget = "Chinese"
	summarizePrompt        = "You are a professional summarizer. Provide a concise summary in 3-6 bullet points."
)

var targetSeparators = regexp.MustCompile(`(?i)[及和与、，。；：,]|\band\b`)

func translatePrompt(target string) string {
	return "You are a professional translator. Translate the user text to " + target + ". Output only the translated text."
}

type translationInput struct {
	text   string
	target string
}

// parseTranslationInput accepts {"text":..,"target"|"to":..}, a "to:<targets>"
// first line, or plain text.
func parseTranslationInput(input string) translationInput {
	trimmed := strings.TrimSpace(input)
	if strings.HasPrefix(trimmed, "{") && strings.HasSuffix(trimmed, "}") {
		var payload map[string]any
		if err := json.Unmarshal([]byte(trimmed), &payload); err == nil {
			target := field(payload, "target")
			if target == "" {
				target = field(payload, "to")
			}
			return translationInput{text: field(payload, "text"), target: target}
		}
	}
	if len(trimmed) > 3 && strings.EqualFold(trimmed[:3], "to:") {
		if idx := strings.IndexByte(trimmed, '\n'); idx > 0 {
			return translationInput{
				text:   strings.TrimSpace(trimmed[idx+1:]),
				target: strings.TrimSpace(trimmed[3:idx]),
			}
		}
	}
	return translationInput{text: trimmed}
}

func field(m map[string]any, key string) string {
	v, ok := m[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s)
	}
	return strings.TrimSpace(fmt.Sprint(v))
}

// splitTargets splits "English and Japanese" or "英文、日文" into single languages.
func splitTargets(target string) []string {
	var out []string
	for _, part := range targetSeparators.Split(target, -1) {
		if t := strings.TrimSpace(part); t != "" {
			out = append(out, t)
		}
	}
	if len(out) == 0 && strings.TrimSpace(target) != "" {
		out = append(out, strings.TrimSpace(target))
	}
	return out
}

func (e *Executor) translate(ctx context.Context, input, hint string) (any, error) {
	if strings.TrimSpace(input) == "" {
		return nil, Fail("Translation input is required", nil)
	}
	parsed := parseTranslationInput(input)
	target := parsed.target
	if target == "" {
		target = defaultTranslateTarget
	}
	text := parsed.text
	if text == "" {
		text = strings.TrimSpace(input)
	}

	targets := splitTargets(target)
	if len(targets) <= 1 {
		return e.complete(ctx, translatePrompt(target), text, hint)
	}

	combined := domain.ToolResult{Model: e.resolveModel(hint)}
	var blocks []string
	for _, t := range targets {
		res, err := e.complete(ctx, translatePrompt(t), text, hint)
		if err != nil {
			e.logger.Warn("translation target failed", "target", t, "error", err)
			continue
		}
		blocks = append(blocks, t+":\n"+res.Content)
		combined.PromptTokens += res.PromptTokens
		combined.CompletionTokens += res.CompletionTokens
	}
	if len(blocks) == 0 {
		return nil, Fail("Translation failed", nil)
	}
	combined.Content = strings.Join(blocks, "\n\n")
	return combined, nil
}

func (e *Executor) summarize(ctx context.Context, input, hint string) (any, error) {
	text := strings.TrimSpace(input)
	if text == "" {
		return nil, Fail("Summarize input is required", nil)
	}
	return e.complete(ctx, summarizePrompt, text, hint)
}
