package reasoning

import (
	"encoding/json"
	"regexp"
	"strings"
)

// ActionKind is the terminal or continuing action a parsed step resolves to.
type ActionKind string

const (
	ActionToolCall    ActionKind = "tool_call"
	ActionBatchCall   ActionKind = "batch_call"
	ActionComplete    ActionKind = "complete"
	ActionHumanNeeded ActionKind = "human_needed"
	ActionFailed      ActionKind = "failed"
	ActionNone        ActionKind = "none" // no recognized tag — loop continues
)

// ToolCallPayload is the body of a <tool_call> tag.
type ToolCallPayload struct {
	Name  string         `json:"name"`
	Input map[string]any `json:"input"`
}

// BatchCallEntry is one entry of a <batch_call> tag's tools array.
type BatchCallEntry struct {
	Name     string         `json:"name"`
	Input    map[string]any `json:"input"`
	Priority int            `json:"priority"`
}

// BatchCallPayload is the body of a <batch_call> tag.
type BatchCallPayload struct {
	Tools         []BatchCallEntry `json:"tools"`
	ExecutionMode string           `json:"executionMode"`
}

// HumanNeededPayload is the body of a <human_needed> tag.
type HumanNeededPayload struct {
	Question string   `json:"question"`
	Options  []string `json:"options,omitempty"`
}

// FailedPayload is the body of a <failed> tag.
type FailedPayload struct {
	Reason string `json:"reason"`
}

// ParsedStep is the result of parsing one THINK/ACT/OBSERVE response.
type ParsedStep struct {
	Thinking string
	Action   ActionKind

	ToolCall    *ToolCallPayload
	BatchCall   *BatchCallPayload
	Complete    json.RawMessage
	HumanNeeded *HumanNeededPayload
	Failed      *FailedPayload

	// ParseNote is set when no tag was recognized and the raw response was
	// recorded as-is (SPEC_FULL.md §4.6 step 3's "SYSTEM NOTE" fallback).
	ParseNote string
}

var (
	thinkingTagRe   = regexp.MustCompile(`(?s)<thinking>(.*?)</thinking>`)
	toolCallTagRe   = regexp.MustCompile(`(?s)<tool_call>(.*?)</tool_call>`)
	batchCallTagRe  = regexp.MustCompile(`(?s)<batch_call>(.*?)</batch_call>`)
	completeTagRe   = regexp.MustCompile(`(?s)<complete>(.*?)</complete>`)
	humanNeededRe   = regexp.MustCompile(`(?s)<human_needed>(.*?)</human_needed>`)
	failedTagRe     = regexp.MustCompile(`(?s)<failed>(.*?)</failed>`)
	codeFenceRe     = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)\\s*```")
)

// Parse extracts the tagged sections from one LLM response per
// SPEC_FULL.md §4.6 step 3. It tries, in order: thinking + the first
// recognized action tag; if none is found, a last-resort balanced-JSON
// scan for a {name,input} object; otherwise the raw text is kept as
// reasoning with a parse-failure note, and the loop is expected to
// continue so the model can self-correct.
func Parse(text string) *ParsedStep {
	step := &ParsedStep{Action: ActionNone}

	if m := thinkingTagRe.FindStringSubmatch(text); m != nil {
		step.Thinking = strings.TrimSpace(m[1])
	}

	switch {
	case setToolCall(step, text):
	case setBatchCall(step, text):
	case setComplete(step, text):
	case setHumanNeeded(step, text):
	case setFailed(step, text):
	default:
		if recovered := lastResortToolCall(text); recovered != nil {
			step.Action = ActionToolCall
			step.ToolCall = recovered
		} else {
			step.Action = ActionNone
			if step.Thinking == "" {
				step.Thinking = strings.TrimSpace(text)
			}
			step.ParseNote = "SYSTEM NOTE: response contained no recognized <thinking>/<tool_call>/<batch_call>/<complete>/<human_needed>/<failed> tag; raw text was kept as reasoning so the model can self-correct on the next iteration."
		}
	}

	return step
}

func unwrapFence(body string) string {
	if m := codeFenceRe.FindStringSubmatch(body); m != nil {
		return m[1]
	}
	return strings.TrimSpace(body)
}

func setToolCall(step *ParsedStep, text string) bool {
	m := toolCallTagRe.FindStringSubmatch(text)
	if m == nil {
		return false
	}
	var payload ToolCallPayload
	if err := json.Unmarshal([]byte(unwrapFence(m[1])), &payload); err != nil {
		return false
	}
	step.Action = ActionToolCall
	step.ToolCall = &payload
	return true
}

func setBatchCall(step *ParsedStep, text string) bool {
	m := batchCallTagRe.FindStringSubmatch(text)
	if m == nil {
		return false
	}
	var payload BatchCallPayload
	if err := json.Unmarshal([]byte(unwrapFence(m[1])), &payload); err != nil {
		return false
	}
	step.Action = ActionBatchCall
	step.BatchCall = &payload
	return true
}

func setComplete(step *ParsedStep, text string) bool {
	m := completeTagRe.FindStringSubmatch(text)
	if m == nil {
		return false
	}
	raw := unwrapFence(m[1])
	if !json.Valid([]byte(raw)) {
		return false
	}
	step.Action = ActionComplete
	step.Complete = json.RawMessage(raw)
	return true
}

func setHumanNeeded(step *ParsedStep, text string) bool {
	m := humanNeededRe.FindStringSubmatch(text)
	if m == nil {
		return false
	}
	var payload HumanNeededPayload
	if err := json.Unmarshal([]byte(unwrapFence(m[1])), &payload); err != nil {
		return false
	}
	step.Action = ActionHumanNeeded
	step.HumanNeeded = &payload
	return true
}

func setFailed(step *ParsedStep, text string) bool {
	m := failedTagRe.FindStringSubmatch(text)
	if m == nil {
		return false
	}
	var payload FailedPayload
	if err := json.Unmarshal([]byte(unwrapFence(m[1])), &payload); err != nil {
		payload = FailedPayload{Reason: unwrapFence(m[1])}
	}
	step.Action = ActionFailed
	step.Failed = &payload
	return true
}

// lastResortToolCall scans text for the first balanced JSON object and, if
// it decodes to a {name,input} shape, treats it as a tool call — the final
// fallback before giving up per SPEC_FULL.md §4.6 step 3.
func lastResortToolCall(text string) *ToolCallPayload {
	obj := firstBalancedJSONObject(text)
	if obj == "" {
		return nil
	}
	var payload ToolCallPayload
	if err := json.Unmarshal([]byte(obj), &payload); err != nil {
		return nil
	}
	if payload.Name == "" {
		return nil
	}
	return &payload
}

// firstBalancedJSONObject returns the first brace-balanced {...} substring
// in text, respecting string-quoted braces, or "" if none closes.
func firstBalancedJSONObject(text string) string {
	start := strings.IndexByte(text, '{')
	if start == -1 {
		return ""
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			if escaped {
				escaped = false
			} else if c == '\\' {
				escaped = true
			} else if c == '"' {
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1]
			}
		}
	}
	return ""
}
