package timeline

import (
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// Streaming event kinds seen on the raw feed before normalization. The four
// message kinds in message.go are the only ones that survive into the
// structured timeline as-is.
const (
	EventStart       = "start"
	EventPartial     = "partial"
	EventResponse    = "response"
	EventSessionInfo = "session_info"
)

var ErrEmptyLine = errors.New("empty event line")

// ToolCallDelta is one streamed fragment of an in-flight tool call. Index is
// the ordinal position of the call within the current stream and doubles as
// its accumulation key.
type ToolCallDelta struct {
	Index     int    `json:"index"`
	ID        string `json:"id,omitempty"`
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
}

// Event is one decoded line of the raw feed. Only the fields matching Type
// carry meaning.
type Event struct {
	Type       string
	Subtype    string
	SessionID  string
	Model      string
	Parts      []ContentPart
	ResultText string
	DurationMs int64
	CostUSD    float64
	Usage      Usage
	HasUsage   bool
	IsError    bool
	StopReason string
	ToolCalls  []ToolCallDelta
	Raw        string
}

type wireMessage struct {
	Role    string            `json:"role,omitempty"`
	Model   string            `json:"model,omitempty"`
	Content []wireContentPart `json:"content"`
	Usage   *Usage            `json:"usage,omitempty"`
}

type wireContentPart struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	Thinking  string          `json:"thinking,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     map[string]any  `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
}

type wireEvent struct {
	Type         string          `json:"type"`
	Subtype      string          `json:"subtype,omitempty"`
	SessionID    string          `json:"session_id,omitempty"`
	Model        string          `json:"model,omitempty"`
	Message      *wireMessage    `json:"message,omitempty"`
	Result       string          `json:"result,omitempty"`
	DurationMs   int64           `json:"duration_ms,omitempty"`
	CostUSD      *float64        `json:"cost_usd,omitempty"`
	TotalCostUSD *float64        `json:"total_cost_usd,omitempty"`
	Usage        *Usage          `json:"usage,omitempty"`
	IsError      bool            `json:"is_error,omitempty"`
	StopReason   string          `json:"stop_reason,omitempty"`
	ToolCalls    []ToolCallDelta `json:"tool_calls,omitempty"`
}

// ParseEvent decodes one raw JSON line. Unknown `type` values decode without
// error; normalization turns them into an unparsed timeline entry.
func ParseEvent(line string) (Event, error) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return Event{}, ErrEmptyLine
	}
	var w wireEvent
	if err := json.Unmarshal([]byte(trimmed), &w); err != nil {
		return Event{}, err
	}

	evt := Event{
		Type:       strings.TrimSpace(w.Type),
		Subtype:    strings.TrimSpace(w.Subtype),
		SessionID:  strings.TrimSpace(w.SessionID),
		Model:      strings.TrimSpace(w.Model),
		ResultText: w.Result,
		DurationMs: w.DurationMs,
		IsError:    w.IsError,
		StopReason: strings.TrimSpace(w.StopReason),
		ToolCalls:  w.ToolCalls,
		Raw:        trimmed,
	}
	switch {
	case w.CostUSD != nil:
		evt.CostUSD = *w.CostUSD
	case w.TotalCostUSD != nil:
		evt.CostUSD = *w.TotalCostUSD
	}
	if w.Usage != nil {
		evt.Usage = *w.Usage
		evt.HasUsage = true
	}
	if w.Message != nil {
		if evt.Model == "" {
			evt.Model = strings.TrimSpace(w.Message.Model)
		}
		if w.Message.Usage != nil && !evt.HasUsage {
			evt.Usage = *w.Message.Usage
			evt.HasUsage = true
		}
		evt.Parts = decodeParts(w.Message.Content)
	}
	return evt, nil
}

func decodeParts(parts []wireContentPart) []ContentPart {
	if len(parts) == 0 {
		return nil
	}
	out := make([]ContentPart, 0, len(parts))
	for _, p := range parts {
		switch strings.TrimSpace(p.Type) {
		case PartText:
			out = append(out, ContentPart{Kind: PartText, Text: p.Text})
		case PartThinking:
			text := p.Thinking
			if text == "" {
				text = p.Text
			}
			out = append(out, ContentPart{Kind: PartThinking, Text: text})
		case PartToolUse:
			out = append(out, ContentPart{Kind: PartToolUse, ToolUse: &ToolUse{
				ID:    strings.TrimSpace(p.ID),
				Name:  strings.TrimSpace(p.Name),
				Input: p.Input,
			}})
		case PartToolResult:
			out = append(out, ContentPart{Kind: PartToolResult, ToolResult: &ToolResult{
				ToolUseID: strings.TrimSpace(p.ToolUseID),
				Content:   decodeResultContent(p.Content),
				IsError:   p.IsError,
			}})
		default:
			raw, err := json.Marshal(p)
			if err != nil {
				continue
			}
			out = append(out, ContentPart{Kind: PartUnparsed, Raw: raw})
		}
	}
	return out
}

// decodeResultContent accepts both the plain-string and the nested
// content-block forms a tool_result can arrive in.
func decodeResultContent(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var blocks []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &blocks); err == nil {
		var texts []string
		for _, b := range blocks {
			if b.Text != "" {
				texts = append(texts, b.Text)
			}
		}
		return strings.Join(texts, "\n")
	}
	return string(raw)
}

// Normalize maps a decoded event onto a structured timeline entry. Streaming
// kinds (start/response/session_info) become system entries with the event
// type as subtype; partial events are handled by the assembler, which stamps
// the reassembled text itself.
func (e Event) Normalize(now time.Time) Message {
	msg := Message{
		Kind:       e.Type,
		Subtype:    e.Subtype,
		Parts:      e.Parts,
		SessionID:  e.SessionID,
		Model:      e.Model,
		ReceivedAt: now,
	}
	switch e.Type {
	case KindSystem, KindAssistant, KindUser:
	case KindResult:
		msg.DurationMs = e.DurationMs
		msg.CostUSD = e.CostUSD
		msg.Usage = e.Usage
		msg.IsError = e.IsError
		if e.ResultText != "" {
			msg.Parts = append(msg.Parts, ContentPart{Kind: PartText, Text: e.ResultText})
		}
	case EventStart, EventResponse, EventSessionInfo:
		msg.Kind = KindSystem
		msg.Subtype = e.Type
		msg.Usage = e.Usage
	default:
		msg.Kind = KindUnparsed
		msg.Parts = []ContentPart{{Kind: PartUnparsed, Raw: json.RawMessage(e.Raw)}}
	}
	return msg
}
