// Package timeline holds the structured message model reconstructed from a
// run's raw event feed, plus the tool-use correlation and export helpers that
// operate over it.
package timeline

import (
	"encoding/json"
	"time"
)

const (
	KindSystem    = "system"
	KindAssistant = "assistant"
	KindUser      = "user"
	KindResult    = "result"
	KindUnparsed  = "unparsed"
)

const (
	PartText       = "text"
	PartThinking   = "thinking"
	PartToolUse    = "tool_use"
	PartToolResult = "tool_result"
	PartUnparsed   = "unparsed"
)

type ToolUse struct {
	ID    string         `json:"id"`
	Name  string         `json:"name"`
	Input map[string]any `json:"input,omitempty"`
}

type ToolResult struct {
	ToolUseID string `json:"tool_use_id"`
	Content   string `json:"content,omitempty"`
	IsError   bool   `json:"is_error,omitempty"`
}

// ContentPart is one element of a message body. Kind selects which of the
// remaining fields is meaningful; shapes we do not recognize land in
// PartUnparsed with the original bytes kept in Raw.
type ContentPart struct {
	Kind       string          `json:"kind"`
	Text       string          `json:"text,omitempty"`
	ToolUse    *ToolUse        `json:"tool_use,omitempty"`
	ToolResult *ToolResult     `json:"tool_result,omitempty"`
	Raw        json.RawMessage `json:"raw,omitempty"`
}

type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

func (u Usage) Total() int { return u.InputTokens + u.OutputTokens }

// Message is one entry of the reconstructed timeline.
type Message struct {
	Kind       string        `json:"kind"`
	Subtype    string        `json:"subtype,omitempty"`
	Parts      []ContentPart `json:"parts,omitempty"`
	SessionID  string        `json:"session_id,omitempty"`
	Model      string        `json:"model,omitempty"`
	DurationMs int64         `json:"duration_ms,omitempty"`
	CostUSD    float64       `json:"cost_usd,omitempty"`
	Usage      Usage         `json:"usage,omitempty"`
	IsError    bool          `json:"is_error,omitempty"`
	ReceivedAt time.Time     `json:"received_at,omitempty"`
}

// FirstText returns the first text part, used for compact previews.
func (m Message) FirstText() string {
	for _, p := range m.Parts {
		if p.Kind == PartText && p.Text != "" {
			return p.Text
		}
	}
	return ""
}

func (m Message) ToolUses() []*ToolUse {
	var out []*ToolUse
	for _, p := range m.Parts {
		if p.Kind == PartToolUse && p.ToolUse != nil {
			out = append(out, p.ToolUse)
		}
	}
	return out
}

func (m Message) ToolResults() []*ToolResult {
	var out []*ToolResult
	for _, p := range m.Parts {
		if p.Kind == PartToolResult && p.ToolResult != nil {
			out = append(out, p.ToolResult)
		}
	}
	return out
}
