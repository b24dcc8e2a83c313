package timeline

import (
	"strings"
	"testing"
	"time"
)

func assistantWithToolUse(id string, name string) Message {
	return Message{
		Kind: KindAssistant,
		Parts: []ContentPart{{
			Kind:    PartToolUse,
			ToolUse: &ToolUse{ID: id, Name: name, Input: map[string]any{"path": "."}},
		}},
	}
}

func userWithToolResult(toolUseID string, content string) Message {
	return Message{
		Kind: KindUser,
		Parts: []ContentPart{{
			Kind:       PartToolResult,
			ToolResult: &ToolResult{ToolUseID: toolUseID, Content: content},
		}},
	}
}

func TestFindToolUseMatchesNameFilter(t *testing.T) {
	t.Parallel()

	msgs := []Message{
		assistantWithToolUse("5", "read"),
		userWithToolResult("5", "contents"),
	}

	use := FindToolUse(msgs, "5", "read")
	if use == nil || use.Name != "read" {
		t.Fatalf("expected tool_use id=5 name=read, got %+v", use)
	}
	if got := FindToolUse(msgs, "5", "write"); got != nil {
		t.Fatalf("expected nil for mismatched name filter, got %+v", got)
	}
	if got := FindToolUse(msgs, "5", "READ"); got == nil {
		t.Fatalf("expected case-insensitive name filter to match")
	}
}

func TestFindToolUsePrefersNearestPrecedingMatch(t *testing.T) {
	t.Parallel()

	older := assistantWithToolUse("1", "bash")
	older.Parts[0].ToolUse.Input = map[string]any{"command": "old"}
	newer := assistantWithToolUse("1", "bash")
	newer.Parts[0].ToolUse.Input = map[string]any{"command": "new"}

	msgs := []Message{older, userWithToolResult("1", "x"), newer, userWithToolResult("1", "y")}
	use := FindToolUse(msgs, "1", "")
	if use == nil || use.Input["command"] != "new" {
		t.Fatalf("expected backward scan to return the newest match, got %+v", use)
	}
}

func TestFindToolUseUncorrelatedReturnsNil(t *testing.T) {
	t.Parallel()

	msgs := []Message{userWithToolResult("9", "orphan")}
	if got := FindToolUse(msgs, "9", ""); got != nil {
		t.Fatalf("expected nil for uncorrelated result, got %+v", got)
	}
	if got := FindToolUse(msgs, "", ""); got != nil {
		t.Fatalf("expected nil for empty id, got %+v", got)
	}
}

func TestHasDedicatedView(t *testing.T) {
	t.Parallel()

	msgs := []Message{
		assistantWithToolUse("1", "Read"),
		assistantWithToolUse("2", "mcp__browser__open"),
		assistantWithToolUse("3", "obscure_tool"),
	}

	cases := []struct {
		result *ToolResult
		want   bool
	}{
		{&ToolResult{ToolUseID: "1"}, true},
		{&ToolResult{ToolUseID: "2"}, true},
		{&ToolResult{ToolUseID: "3"}, false},
		{&ToolResult{ToolUseID: "missing"}, false},
		{nil, false},
	}
	for _, tc := range cases {
		if got := HasDedicatedView(tc.result, msgs); got != tc.want {
			t.Fatalf("HasDedicatedView(%+v) = %v, want %v", tc.result, got, tc.want)
		}
	}
}

func TestParseEventAssistantToolUse(t *testing.T) {
	t.Parallel()

	line := `{"type":"assistant","message":{"content":[{"type":"tool_use","id":"1","name":"ls","input":{"path":"."}}]}}`
	evt, err := ParseEvent(line)
	if err != nil {
		t.Fatalf("ParseEvent failed: %v", err)
	}
	if evt.Type != KindAssistant || len(evt.Parts) != 1 {
		t.Fatalf("unexpected event: %+v", evt)
	}
	use := evt.Parts[0].ToolUse
	if use == nil || use.ID != "1" || use.Name != "ls" || use.Input["path"] != "." {
		t.Fatalf("unexpected tool_use: %+v", use)
	}
}

func TestParseEventResultCostFallback(t *testing.T) {
	t.Parallel()

	evt, err := ParseEvent(`{"type":"result","duration_ms":120,"total_cost_usd":0.25,"usage":{"input_tokens":10,"output_tokens":5}}`)
	if err != nil {
		t.Fatalf("ParseEvent failed: %v", err)
	}
	if evt.CostUSD != 0.25 {
		t.Fatalf("expected total_cost_usd fallback, got %v", evt.CostUSD)
	}
	if !evt.HasUsage || evt.Usage.Total() != 15 {
		t.Fatalf("unexpected usage: %+v", evt.Usage)
	}

	evt, err = ParseEvent(`{"type":"result","cost_usd":0.5,"total_cost_usd":0.25}`)
	if err != nil {
		t.Fatalf("ParseEvent failed: %v", err)
	}
	if evt.CostUSD != 0.5 {
		t.Fatalf("expected cost_usd to win, got %v", evt.CostUSD)
	}
}

func TestParseEventToolResultContentForms(t *testing.T) {
	t.Parallel()

	evt, err := ParseEvent(`{"type":"user","message":{"content":[{"type":"tool_result","tool_use_id":"1","content":"a.txt\nb.txt"}]}}`)
	if err != nil {
		t.Fatalf("ParseEvent failed: %v", err)
	}
	res := evt.Parts[0].ToolResult
	if res == nil || res.Content != "a.txt\nb.txt" {
		t.Fatalf("unexpected string content: %+v", res)
	}

	evt, err = ParseEvent(`{"type":"user","message":{"content":[{"type":"tool_result","tool_use_id":"2","content":[{"type":"text","text":"first"},{"type":"text","text":"second"}],"is_error":true}]}}`)
	if err != nil {
		t.Fatalf("ParseEvent failed: %v", err)
	}
	res = evt.Parts[0].ToolResult
	if res == nil || res.Content != "first\nsecond" || !res.IsError {
		t.Fatalf("unexpected block content: %+v", res)
	}
}

func TestNormalizeUnknownKindBecomesUnparsed(t *testing.T) {
	t.Parallel()

	evt, err := ParseEvent(`{"type":"surprise","weird":true}`)
	if err != nil {
		t.Fatalf("ParseEvent failed: %v", err)
	}
	msg := evt.Normalize(time.Now())
	if msg.Kind != KindUnparsed {
		t.Fatalf("expected unparsed kind, got %q", msg.Kind)
	}
	if len(msg.Parts) != 1 || msg.Parts[0].Kind != PartUnparsed {
		t.Fatalf("expected raw part preserved, got %+v", msg.Parts)
	}
}

func TestExportJSONLVerbatim(t *testing.T) {
	t.Parallel()

	lines := []string{`{"type":"system"}`, `{"type":"result"}`}
	out := ExportJSONL(lines)
	if out != "{\"type\":\"system\"}\n{\"type\":\"result\"}\n" {
		t.Fatalf("unexpected JSONL output: %q", out)
	}
	if ExportJSONL(nil) != "" {
		t.Fatalf("expected empty export for empty input")
	}
}

func TestExportTranscriptSuppressesDedicatedViews(t *testing.T) {
	t.Parallel()

	msgs := []Message{
		assistantWithToolUse("1", "ls"),
		userWithToolResult("1", "a.txt\nb.txt"),
		assistantWithToolUse("2", "obscure"),
		userWithToolResult("2", "raw output"),
	}
	out := ExportTranscript(msgs)
	if strings.Contains(out, "a.txt") {
		t.Fatalf("expected ls result folded into dedicated-view reference:\n%s", out)
	}
	if !strings.Contains(out, "raw output") {
		t.Fatalf("expected uncorrelated-view result rendered raw:\n%s", out)
	}
}
