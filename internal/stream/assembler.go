// Package stream reconstructs a structured message timeline from one run's
// raw event feed: classification, reassembly of streamed tool-call fragments
// and derivation of session/usage metadata.
package stream

import (
	"strconv"
	"sync"
	"time"

	"agentdeck/internal/bounded"
	"agentdeck/internal/panellog"
	"agentdeck/internal/timeline"
)

const (
	MaxTimelineMessages = 1000
	MaxRawLines         = 1000
	MaxAccumulated      = 10000
	maxAccumulationKeys = 64
)

const (
	PhaseIdle      = "idle"
	PhaseStreaming = "streaming"
	PhaseSettled   = "settled"
)

// Hooks carry derived facts upward. All are optional; events never depend on
// a hook being set.
type Hooks struct {
	// OnTokens reports usage counters from response/result events.
	OnTokens func(runID string, in int, out int)
	// OnSession forwards the session identity, at most once per stream.
	OnSession func(runID string, sessionID string)
	// OnStreaming flags whether the run is actively producing output.
	OnStreaming func(runID string, active bool)
}

// Assembler is the per-run consumer of the raw event feed. Safe for
// concurrent use: the event loop feeds Consume while readers poll Timeline
// and RawLines. Hooks run with the assembler locked and must not call back
// into it.
type Assembler struct {
	runID string
	log   *panellog.Logger
	hooks Hooks

	mu       sync.Mutex
	messages *bounded.Buffer[timeline.Message]
	raw      *bounded.Buffer[string]
	acc      *bounded.CappedStringMap

	phase       string
	sessionSent bool
}

func New(runID string, log *panellog.Logger, hooks Hooks) *Assembler {
	return &Assembler{
		runID:    runID,
		log:      log,
		hooks:    hooks,
		messages: bounded.NewBuffer[timeline.Message](MaxTimelineMessages),
		raw:      bounded.NewBuffer[string](MaxRawLines),
		acc:      bounded.NewCappedStringMap(MaxAccumulated, maxAccumulationKeys),
		phase:    PhaseIdle,
	}
}

func (a *Assembler) RunID() string { return a.runID }

func (a *Assembler) Phase() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.phase
}

// Timeline returns a copy of the structured messages in arrival order.
func (a *Assembler) Timeline() []timeline.Message {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.messages.Items()
}

// RawLines returns a copy of the retained verbatim lines.
func (a *Assembler) RawLines() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.raw.Items()
}

// Consume processes one raw line. A line that fails to parse is logged and
// dropped; it never aborts the run or the subscription.
func (a *Assembler) Consume(line string) {
	evt, err := timeline.ParseEvent(line)
	if err != nil {
		a.log.Logf(panellog.KindWarn, "run_id=%s dropping malformed event line: %v (%s)",
			a.runID, err, panellog.Preview(line, 120))
		return
	}

	now := time.Now().UTC()
	a.mu.Lock()
	defer a.mu.Unlock()
	a.raw.Append(evt.Raw)
	a.forwardSession(evt.SessionID)

	switch evt.Type {
	case timeline.EventStart:
		a.acc.Reset()
		a.phase = PhaseStreaming
		a.notifyStreaming(true)
		a.messages.Append(evt.Normalize(now))

	case timeline.EventPartial:
		a.messages.Append(a.assemblePartial(evt, now))

	case timeline.EventResponse:
		if evt.HasUsage {
			a.notifyTokens(evt.Usage)
		}
		if evt.StopReason != "" {
			a.settle()
		}
		a.messages.Append(evt.Normalize(now))

	case timeline.KindResult:
		if evt.HasUsage {
			a.notifyTokens(evt.Usage)
		}
		a.settle()
		a.messages.Append(evt.Normalize(now))

	default:
		a.messages.Append(evt.Normalize(now))
	}
}

// ConsumeError surfaces a process error-channel report as a terminal
// result-like entry and settles the stream.
func (a *Assembler) ConsumeError(text string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.settle()
	a.messages.Append(timeline.Message{
		Kind:       timeline.KindResult,
		IsError:    true,
		Parts:      []timeline.ContentPart{{Kind: timeline.PartText, Text: text}},
		ReceivedAt: time.Now().UTC(),
	})
}

// assemblePartial folds streamed fragments into their accumulation keys and
// stamps the cumulative text back onto the emitted message, so a consumer
// always sees the latest reassembled input rather than a bare fragment.
func (a *Assembler) assemblePartial(evt timeline.Event, now time.Time) timeline.Message {
	msg := timeline.Message{
		Kind:       timeline.KindAssistant,
		Subtype:    timeline.EventPartial,
		ReceivedAt: now,
	}
	for _, delta := range evt.ToolCalls {
		key := strconv.Itoa(delta.Index)
		cumulative, applied := a.acc.Append(key, delta.Arguments)
		if !applied && delta.Arguments != "" {
			// Fragment beyond the cap: dropped, not buffered.
			a.log.Logf(panellog.KindStream, "run_id=%s accumulation cap hit for call %s", a.runID, key)
		}
		msg.Parts = append(msg.Parts, timeline.ContentPart{
			Kind: timeline.PartToolUse,
			ToolUse: &timeline.ToolUse{
				ID:    delta.ID,
				Name:  delta.Name,
				Input: map[string]any{"partial_arguments": cumulative},
			},
		})
	}
	return msg
}

// Accumulated exposes the reassembled text for one streaming key.
func (a *Assembler) Accumulated(index int) string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.acc.Get(strconv.Itoa(index))
}

// forwardSession passes the session identity to the hook exactly once, from
// whichever event carries it first.
func (a *Assembler) forwardSession(sessionID string) {
	if a.sessionSent || sessionID == "" {
		return
	}
	a.sessionSent = true
	if a.hooks.OnSession != nil {
		a.hooks.OnSession(a.runID, sessionID)
	}
}

func (a *Assembler) settle() {
	if a.phase == PhaseSettled {
		return
	}
	a.phase = PhaseSettled
	a.notifyStreaming(false)
}

func (a *Assembler) notifyStreaming(active bool) {
	if a.hooks.OnStreaming != nil {
		a.hooks.OnStreaming(a.runID, active)
	}
}

func (a *Assembler) notifyTokens(usage timeline.Usage) {
	if a.hooks.OnTokens != nil {
		a.hooks.OnTokens(a.runID, usage.InputTokens, usage.OutputTokens)
	}
}
