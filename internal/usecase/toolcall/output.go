// Package toolcall detects tool-call payloads in model replies, runs the
// requested tool and asks the model for a final plain-text answer. It also
// guards streamed replies so a half-written payload never reaches the user.
package toolcall

import (
	"encoding/json"
	"strings"
)

// ModelOutput is a parsed model reply: either PlainText or ToolCall.
type ModelOutput interface {
	modelOutput()
}

// PlainText is a reply to show as is.
type PlainText struct {
	Text string
}

// ToolCall is a reply asking for a tool run.
type ToolCall struct {
	Tool  string
	Input string
}

func (PlainText) modelOutput() {}
func (ToolCall) modelOutput()  {}

const fence = "```"

// Parse classifies a model reply. Only a JSON object with a non-blank "tool"
// key is a ToolCall; everything else, including text that merely starts
// with "{", is PlainText. A reply wrapped in a Markdown code fence is
// unwrapped first. A non-string "input" is re-encoded as JSON text.
func Parse(reply string) ModelOutput {
	plain := PlainText{Text: reply}
	payload := unwrapFence(reply)
	if !strings.HasPrefix(payload, "{") || !strings.HasSuffix(payload, "}") {
		return plain
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(payload), &obj); err != nil {
		return plain
	}
	tool := strings.TrimSpace(rawText(obj["tool"]))
	if tool == "" {
		return plain
	}
	return ToolCall{Tool: tool, Input: rawText(obj["input"])}
}

// IsLikelyToolCall reports whether text looks like a tool-call payload even
// if it is not valid JSON.
func IsLikelyToolCall(text string) bool {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "{") {
		return false
	}
	return strings.Contains(trimmed, `"tool"`) || strings.Contains(trimmed, `"input"`)
}

func unwrapFence(reply string) string {
	trimmed := strings.TrimSpace(reply)
	if !strings.HasPrefix(trimmed, fence) || !strings.HasSuffix(trimmed, fence) {
		return trimmed
	}
	firstLF := strings.IndexByte(trimmed, '\n')
	lastFence := strings.LastIndex(trimmed, fence)
	if firstLF <= 0 || lastFence <= firstLF {
		return trimmed
	}
	return strings.TrimSpace(trimmed[firstLF+1 : lastFence])
}

// rawText renders a JSON value as text: strings unquoted, null or absent as
// "", anything else as its compact JSON encoding.
func rawText(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return string(raw)
	}
	return string(b)
}
