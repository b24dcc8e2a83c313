// Package session ties one supervised run to its event subscriptions and its
// stream assembler. A controller observes exactly one run at a time; stopping
// kills the process, tearing down only detaches observation.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"agentdeck/internal/agentproc"
	"agentdeck/internal/events"
	"agentdeck/internal/panellog"
	"agentdeck/internal/stream"
	"agentdeck/internal/timeline"
)

var ErrSessionBusy = errors.New("session already observing a run")

// ProcessControl is the slice of the process manager a controller drives.
type ProcessControl interface {
	StartRun(ctx context.Context, agentRef string, projectPath string, task string, model string, attach func(run agentproc.Run)) (agentproc.Run, error)
	KillRun(ctx context.Context, runID string) bool
}

// RunSink receives lifecycle updates for the observed run, typically the
// registry store.
type RunSink interface {
	ApplyPushUpdate(run agentproc.Run)
}

type StartParams struct {
	AgentRef    string
	ProjectPath string
	Task        string
	Model       string
}

// Controller supervises one run. All exported methods are safe for
// concurrent use; the assembler carries its own lock, so Timeline and
// RawLines may be polled while the event loop is feeding it.
type Controller struct {
	proc ProcessControl
	bus  *events.Bus
	sink RunSink
	log  *panellog.Logger

	mu        sync.Mutex
	run       agentproc.Run
	assembler *stream.Assembler
	subs      []*events.Subscription
	loopDone  chan struct{}
	startedAt time.Time
	endedAt   time.Time
}

func NewController(proc ProcessControl, bus *events.Bus, sink RunSink, log *panellog.Logger) *Controller {
	return &Controller{proc: proc, bus: bus, sink: sink, log: log}
}

// Start launches a run and atomically attaches the four per-run
// subscriptions before the event loop begins draining them. A controller
// holds one run at a time.
func (c *Controller) Start(ctx context.Context, params StartParams) (string, error) {
	if strings.TrimSpace(params.Task) == "" {
		return "", agentproc.ErrTaskRequired
	}

	c.mu.Lock()
	if c.run.ID != "" && agentproc.IsActiveStatus(c.run.Status) {
		c.mu.Unlock()
		return "", ErrSessionBusy
	}
	c.detachLocked()
	c.mu.Unlock()

	// Subscriptions attach inside the start callback, before the process
	// readers begin publishing, so the first output lines are never missed.
	var asm *stream.Assembler
	var subs []*events.Subscription
	attach := func(started agentproc.Run) {
		asm = stream.New(started.ID, c.log, stream.Hooks{
			OnTokens:  c.onTokens,
			OnSession: c.onSession,
		})
		subs = []*events.Subscription{
			c.bus.Subscribe(events.OutputChannel(started.ID)),
			c.bus.Subscribe(events.ErrorChannel(started.ID)),
			c.bus.Subscribe(events.CompleteChannel(started.ID)),
			c.bus.Subscribe(events.CancelledChannel(started.ID)),
		}
	}

	run, err := c.proc.StartRun(ctx, params.AgentRef, params.ProjectPath, params.Task, params.Model, attach)
	if err != nil {
		for _, sub := range subs {
			sub.Cancel()
		}
		c.recordFailedStart(params, err)
		return "", fmt.Errorf("start run: %w", err)
	}
	if asm == nil {
		attach(run)
	}
	loopDone := make(chan struct{})

	c.mu.Lock()
	c.run = run
	c.assembler = asm
	c.subs = subs
	c.loopDone = loopDone
	c.startedAt = time.Now().UTC()
	c.endedAt = time.Time{}
	c.mu.Unlock()

	if c.sink != nil {
		c.sink.ApplyPushUpdate(run)
	}
	go c.eventLoop(run.ID, asm, subs, loopDone)

	return run.ID, nil
}

// Stop kills the observed run's process. False means there was nothing to
// stop; calling it again is harmless.
func (c *Controller) Stop(ctx context.Context) bool {
	c.mu.Lock()
	runID := c.run.ID
	c.mu.Unlock()
	if runID == "" {
		return false
	}
	return c.proc.KillRun(ctx, runID)
}

// Teardown detaches observation: all subscriptions are cancelled and the
// event loop drains out. The process, if still running, keeps running.
func (c *Controller) Teardown() {
	c.mu.Lock()
	done := c.loopDone
	c.detachLocked()
	c.mu.Unlock()
	if done != nil {
		<-done
	}
}

// detachLocked cancels the subscriptions; Cancel closes each channel, which
// ends the loop's range over them.
func (c *Controller) detachLocked() {
	for _, sub := range c.subs {
		sub.Cancel()
	}
	c.subs = nil
}

// Run returns the last known state of the observed run.
func (c *Controller) Run() (agentproc.Run, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.run, c.run.ID != ""
}

// Timeline returns the assembled messages for the observed run.
func (c *Controller) Timeline() []timeline.Message {
	c.mu.Lock()
	asm := c.assembler
	c.mu.Unlock()
	if asm == nil {
		return nil
	}
	return asm.Timeline()
}

func (c *Controller) RawLines() []string {
	c.mu.Lock()
	asm := c.assembler
	c.mu.Unlock()
	if asm == nil {
		return nil
	}
	return asm.RawLines()
}

// Elapsed reports how long the run has been (or was) live.
func (c *Controller) Elapsed() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.startedAt.IsZero() {
		return 0
	}
	if !c.endedAt.IsZero() {
		return c.endedAt.Sub(c.startedAt)
	}
	return time.Since(c.startedAt)
}

// eventLoop drains the four per-run channels into the assembler. The loop
// ends when every subscription channel has closed.
func (c *Controller) eventLoop(runID string, asm *stream.Assembler, subs []*events.Subscription, done chan struct{}) {
	defer close(done)

	var wg sync.WaitGroup
	var mu sync.Mutex
	handle := func(evt events.Event) {
		mu.Lock()
		defer mu.Unlock()
		// Events for a stale run id are from a previous attachment; drop them.
		c.mu.Lock()
		stale := c.run.ID != runID
		c.mu.Unlock()
		if stale {
			return
		}
		c.dispatch(runID, asm, evt)
	}

	for _, sub := range subs {
		wg.Add(1)
		go func(sub *events.Subscription) {
			defer wg.Done()
			for evt := range sub.C {
				handle(evt)
			}
		}(sub)
	}
	wg.Wait()
}

func (c *Controller) dispatch(runID string, asm *stream.Assembler, evt events.Event) {
	switch {
	case evt.Channel == events.OutputChannel(runID):
		if line, ok := evt.Data.(string); ok {
			asm.Consume(line)
		}
	case evt.Channel == events.ErrorChannel(runID):
		if text, ok := evt.Data.(string); ok && strings.TrimSpace(text) != "" {
			c.log.Logf(panellog.KindStream, "run_id=%s stderr: %s", runID, panellog.Preview(text, 200))
		}
	case evt.Channel == events.CompleteChannel(runID):
		success, _ := evt.Data.(bool)
		c.finish(runID, success, false)
	case evt.Channel == events.CancelledChannel(runID):
		c.finish(runID, false, true)
	}
}

func (c *Controller) finish(runID string, success bool, cancelled bool) {
	c.mu.Lock()
	if c.run.ID == runID {
		switch {
		case cancelled:
			c.run.Status = agentproc.StatusCancelled
		case success:
			c.run.Status = agentproc.StatusCompleted
		default:
			c.run.Status = agentproc.StatusError
		}
		c.run.FinishedAt = time.Now().UTC()
		c.endedAt = c.run.FinishedAt
	}
	run := c.run
	c.mu.Unlock()

	c.log.Logf(panellog.KindRun, "run_id=%s finished status=%s elapsed=%s",
		runID, run.Status, c.Elapsed().Round(time.Millisecond))
	if c.sink != nil && run.ID == runID {
		c.sink.ApplyPushUpdate(run)
	}
}

func (c *Controller) onTokens(runID string, in int, out int) {
	c.mu.Lock()
	if c.run.ID == runID {
		c.run.Metrics.TokensIn += in
		c.run.Metrics.TokensOut += out
	}
	run := c.run
	c.mu.Unlock()
	if c.sink != nil && run.ID == runID {
		c.sink.ApplyPushUpdate(run)
	}
}

func (c *Controller) onSession(runID string, sessionID string) {
	c.mu.Lock()
	if c.run.ID == runID {
		c.run.SessionID = sessionID
	}
	run := c.run
	c.mu.Unlock()
	if c.sink != nil && run.ID == runID {
		c.sink.ApplyPushUpdate(run)
	}
}

// recordFailedStart leaves a terminal error entry behind so the panel shows
// why nothing is running.
func (c *Controller) recordFailedStart(params StartParams, startErr error) {
	asm := stream.New("", c.log, stream.Hooks{})
	asm.ConsumeError(fmt.Sprintf("failed to start %q: %v", params.AgentRef, startErr))

	c.mu.Lock()
	c.run = agentproc.Run{
		ID:          agentproc.GenerateRunID(),
		AgentRef:    strings.TrimSpace(params.AgentRef),
		ProjectPath: strings.TrimSpace(params.ProjectPath),
		Task:        params.Task,
		Model:       params.Model,
		Status:      agentproc.StatusError,
		Error:       startErr.Error(),
		CreatedAt:   time.Now().UTC(),
		FinishedAt:  time.Now().UTC(),
	}
	c.assembler = asm
	run := c.run
	c.mu.Unlock()

	c.log.Logf(panellog.KindError, "start failed agent=%s: %v", params.AgentRef, startErr)
	if c.sink != nil {
		c.sink.ApplyPushUpdate(run)
	}
}
