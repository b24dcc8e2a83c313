package timeline

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ExportJSONL concatenates the retained raw lines verbatim. A pure
// projection: the input slice is what a bounded raw buffer handed out.
func ExportJSONL(rawLines []string) string {
	if len(rawLines) == 0 {
		return ""
	}
	var b strings.Builder
	for _, line := range rawLines {
		b.WriteString(line)
		if !strings.HasSuffix(line, "\n") {
			b.WriteByte('\n')
		}
	}
	return b.String()
}

// ExportTranscript renders the structured timeline as a human-readable
// transcript. Results already shown by a dedicated view are folded into a
// one-line reference instead of repeating their content.
func ExportTranscript(msgs []Message) string {
	var b strings.Builder
	for _, msg := range msgs {
		switch msg.Kind {
		case KindSystem:
			if msg.Subtype != "" {
				fmt.Fprintf(&b, "[system:%s]", msg.Subtype)
			} else {
				b.WriteString("[system]")
			}
			if msg.SessionID != "" {
				fmt.Fprintf(&b, " session=%s", msg.SessionID)
			}
			b.WriteByte('\n')
		case KindAssistant:
			writeParts(&b, "assistant", msg, msgs)
		case KindUser:
			writeParts(&b, "user", msg, msgs)
		case KindResult:
			status := "ok"
			if msg.IsError {
				status = "error"
			}
			fmt.Fprintf(&b, "[result %s] duration_ms=%d tokens=%d",
				status, msg.DurationMs, msg.Usage.Total())
			if msg.CostUSD > 0 {
				fmt.Fprintf(&b, " cost_usd=%.4f", msg.CostUSD)
			}
			b.WriteByte('\n')
			if text := msg.FirstText(); text != "" {
				b.WriteString(text)
				b.WriteByte('\n')
			}
		default:
			b.WriteString("[unparsed]\n")
		}
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n") + "\n"
}

func writeParts(b *strings.Builder, role string, msg Message, all []Message) {
	fmt.Fprintf(b, "[%s]\n", role)
	for _, part := range msg.Parts {
		switch part.Kind {
		case PartText:
			b.WriteString(part.Text)
			b.WriteByte('\n')
		case PartThinking:
			fmt.Fprintf(b, "(thinking) %s\n", part.Text)
		case PartToolUse:
			if part.ToolUse == nil {
				continue
			}
			input := ""
			if len(part.ToolUse.Input) > 0 {
				if data, err := json.Marshal(part.ToolUse.Input); err == nil {
					input = string(data)
				}
			}
			fmt.Fprintf(b, "-> tool %s(%s) id=%s\n", part.ToolUse.Name, input, part.ToolUse.ID)
		case PartToolResult:
			if part.ToolResult == nil {
				continue
			}
			if HasDedicatedView(part.ToolResult, all) {
				fmt.Fprintf(b, "<- result for %s (dedicated view)\n", part.ToolResult.ToolUseID)
				continue
			}
			marker := "<-"
			if part.ToolResult.IsError {
				marker = "<- [error]"
			}
			fmt.Fprintf(b, "%s %s\n", marker, part.ToolResult.Content)
		case PartUnparsed:
			b.WriteString("(unparsed content)\n")
		}
	}
}
