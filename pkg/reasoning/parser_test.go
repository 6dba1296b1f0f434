package reasoning

import "testing"

func TestParse_ToolCall(t *testing.T) {
	input := `<thinking>I need to see the README first.</thinking>
<tool_call>{"name": "fetch_github_file", "input": {"path": "README.md"}}</tool_call>`

	step := Parse(input)
	if step.Action != ActionToolCall {
		t.Fatalf("Action = %v, want ActionToolCall", step.Action)
	}
	if step.Thinking != "I need to see the README first." {
		t.Errorf("Thinking = %q", step.Thinking)
	}
	if step.ToolCall == nil || step.ToolCall.Name != "fetch_github_file" {
		t.Fatalf("ToolCall = %+v", step.ToolCall)
	}
	if step.ToolCall.Input["path"] != "README.md" {
		t.Errorf("ToolCall.Input = %+v", step.ToolCall.Input)
	}
}

func TestParse_ToolCallWrappedInCodeFence(t *testing.T) {
	input := "<tool_call>\n```json\n{\"name\": \"query_db\", \"input\": {}}\n```\n</tool_call>"
	step := Parse(input)
	if step.Action != ActionToolCall {
		t.Fatalf("Action = %v, want ActionToolCall", step.Action)
	}
	if step.ToolCall.Name != "query_db" {
		t.Errorf("ToolCall.Name = %q", step.ToolCall.Name)
	}
}

func TestParse_BatchCall(t *testing.T) {
	input := `<batch_call>{"tools": [{"name": "a", "input": {}}, {"name": "b", "input": {}, "priority": 1}], "executionMode": "parallel"}</batch_call>`
	step := Parse(input)
	if step.Action != ActionBatchCall {
		t.Fatalf("Action = %v, want ActionBatchCall", step.Action)
	}
	if len(step.BatchCall.Tools) != 2 {
		t.Fatalf("got %d tools, want 2", len(step.BatchCall.Tools))
	}
	if step.BatchCall.Tools[1].Priority != 1 {
		t.Errorf("Tools[1].Priority = %d, want 1", step.BatchCall.Tools[1].Priority)
	}
}

func TestParse_Complete(t *testing.T) {
	input := `<thinking>Done.</thinking><complete>{"healthScore": 82, "summary": "looks fine"}</complete>`
	step := Parse(input)
	if step.Action != ActionComplete {
		t.Fatalf("Action = %v, want ActionComplete", step.Action)
	}
	if string(step.Complete) == "" {
		t.Errorf("Complete is empty")
	}
}

func TestParse_HumanNeeded(t *testing.T) {
	input := `<human_needed>{"question": "Which branch should I audit?", "options": ["main", "develop"]}</human_needed>`
	step := Parse(input)
	if step.Action != ActionHumanNeeded {
		t.Fatalf("Action = %v, want ActionHumanNeeded", step.Action)
	}
	if step.HumanNeeded.Question != "Which branch should I audit?" {
		t.Errorf("Question = %q", step.HumanNeeded.Question)
	}
	if len(step.HumanNeeded.Options) != 2 {
		t.Errorf("Options = %v", step.HumanNeeded.Options)
	}
}

func TestParse_Failed(t *testing.T) {
	input := `<failed>{"reason": "repository is empty"}</failed>`
	step := Parse(input)
	if step.Action != ActionFailed {
		t.Fatalf("Action = %v, want ActionFailed", step.Action)
	}
	if step.Failed.Reason != "repository is empty" {
		t.Errorf("Reason = %q", step.Failed.Reason)
	}
}

func TestParse_FailedWithPlainTextBody(t *testing.T) {
	// Models occasionally skip the JSON wrapper; the reason should still
	// be recovered rather than dropped.
	input := `<failed>repository is empty</failed>`
	step := Parse(input)
	if step.Action != ActionFailed {
		t.Fatalf("Action = %v, want ActionFailed", step.Action)
	}
	if step.Failed.Reason != "repository is empty" {
		t.Errorf("Reason = %q", step.Failed.Reason)
	}
}

func TestParse_LastResortJSONExtraction(t *testing.T) {
	// No tags at all, but a bare JSON tool-call object is embedded in prose.
	input := `I think I should call {"name": "list_repo_files", "input": {"path": "/"}} to see what's there.`
	step := Parse(input)
	if step.Action != ActionToolCall {
		t.Fatalf("Action = %v, want ActionToolCall (last-resort)", step.Action)
	}
	if step.ToolCall.Name != "list_repo_files" {
		t.Errorf("ToolCall.Name = %q", step.ToolCall.Name)
	}
}

func TestParse_UnrecognizedFallsBackToSystemNote(t *testing.T) {
	input := "I am thinking about this but haven't decided what to do yet."
	step := Parse(input)
	if step.Action != ActionNone {
		t.Fatalf("Action = %v, want ActionNone", step.Action)
	}
	if step.ParseNote == "" {
		t.Errorf("expected a parse-failure note to be set")
	}
	if step.Thinking != input {
		t.Errorf("Thinking = %q, want raw text kept as reasoning", step.Thinking)
	}
}

func TestFirstBalancedJSONObject_NestedBraces(t *testing.T) {
	input := `prefix {"a": {"b": 1}, "c": "}"} suffix`
	got := firstBalancedJSONObject(input)
	want := `{"a": {"b": 1}, "c": "}"}`
	if got != want {
		t.Errorf("firstBalancedJSONObject = %q, want %q", got, want)
	}
}

func TestFirstBalancedJSONObject_Unbalanced(t *testing.T) {
	input := `prefix { "a": 1`
	if got := firstBalancedJSONObject(input); got != "" {
		t.Errorf("firstBalancedJSONObject = %q, want empty", got)
	}
}
