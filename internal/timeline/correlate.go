package timeline

import "strings"

// Tool names whose results get a dedicated view upstream; a correlated result
// for one of these is suppressed from plain-text rendering.
var dedicatedViewTools = map[string]bool{
	"task":         true,
	"bash":         true,
	"read":         true,
	"write":        true,
	"edit":         true,
	"multiedit":    true,
	"glob":         true,
	"grep":         true,
	"ls":           true,
	"todowrite":    true,
	"websearch":    true,
	"webfetch":     true,
	"notebookedit": true,
}

// ExternalToolPrefix marks tools provided through the external tool
// namespace; those always render through their own view.
const ExternalToolPrefix = "mcp__"

// FindToolUse scans the timeline backward for the assistant tool_use whose id
// matches toolUseID. Results always follow their invocation, so the nearest
// preceding match is the right one and the backward scan ends fastest for
// fresh results. nameFilter, when non-empty, must match case-insensitively.
// Returns nil when uncorrelated; callers render the raw result in that case.
func FindToolUse(msgs []Message, toolUseID string, nameFilter string) *ToolUse {
	id := strings.TrimSpace(toolUseID)
	if id == "" {
		return nil
	}
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Kind != KindAssistant {
			continue
		}
		for _, part := range msgs[i].Parts {
			if part.Kind != PartToolUse || part.ToolUse == nil {
				continue
			}
			if part.ToolUse.ID != id {
				continue
			}
			if nameFilter != "" && !strings.EqualFold(part.ToolUse.Name, nameFilter) {
				continue
			}
			return part.ToolUse
		}
	}
	return nil
}

// HasDedicatedView reports whether result's correlated tool_use renders
// through a specialized view. Uncorrelated results report false and stay
// visible as plain text.
func HasDedicatedView(result *ToolResult, msgs []Message) bool {
	if result == nil {
		return false
	}
	use := FindToolUse(msgs, result.ToolUseID, "")
	if use == nil {
		return false
	}
	name := strings.ToLower(strings.TrimSpace(use.Name))
	if strings.HasPrefix(name, ExternalToolPrefix) {
		return true
	}
	return dedicatedViewTools[name]
}
