package agentproc

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"time"

	"agentdeck/internal/bounded"
	"agentdeck/internal/events"
	"agentdeck/internal/panellog"
)

var (
	ErrTaskRequired   = errors.New("task is required")
	ErrUnknownRun     = errors.New("unknown run")
	ErrRunStillActive = errors.New("run is still active")
)

const (
	liveOutputMaxLines = 1000
	liveOutputMaxBytes = 1 << 20
	killGraceWait      = 3 * time.Second
	scannerBufferBytes = 1 << 20
)

// LaunchSpec is what an agent reference resolves to: the command line that
// produces the newline-delimited JSON event feed on stdout.
type LaunchSpec struct {
	Command      string
	Args         []string
	DefaultModel string
}

type AgentResolver interface {
	Resolve(ref string) (LaunchSpec, error)
}

type handle struct {
	run       Run
	cmd       *exec.Cmd
	output    *bounded.LineBuffer
	done      chan struct{}
	cancelled bool
}

// Manager implements the process control API: StartRun, KillRun, GetRun,
// ListRuns, GetRunOutput.
type Manager struct {
	Bus       *events.Bus
	Log       *panellog.Logger
	Resolver  AgentResolver
	StateRoot string

	mu      sync.Mutex
	handles map[string]*handle
}

func NewManager(bus *events.Bus, log *panellog.Logger, resolver AgentResolver, stateRoot string) *Manager {
	root := strings.TrimSpace(stateRoot)
	if root == "" {
		root = ".agentdeck/runs"
	}
	return &Manager{
		Bus:       bus,
		Log:       log,
		Resolver:  resolver,
		StateRoot: root,
		handles:   make(map[string]*handle),
	}
}

// StartRun spawns the agent process and begins feeding its per-run channels.
// The returned run is already persisted with status running. attach, when
// non-nil, runs after the run is registered but before the output readers
// start, so a subscriber attached there sees the feed from the first line.
func (m *Manager) StartRun(ctx context.Context, agentRef string, projectPath string, task string, model string, attach func(run Run)) (Run, error) {
	if m == nil {
		return Run{}, errors.New("manager is nil")
	}
	if strings.TrimSpace(task) == "" {
		return Run{}, ErrTaskRequired
	}
	project := strings.TrimSpace(projectPath)
	info, err := os.Stat(project)
	if err != nil {
		return Run{}, fmt.Errorf("project path: %w", err)
	}
	if !info.IsDir() {
		return Run{}, fmt.Errorf("project path is not a directory: %s", project)
	}
	if m.Resolver == nil {
		return Run{}, errors.New("no agent resolver configured")
	}
	spec, err := m.Resolver.Resolve(agentRef)
	if err != nil {
		return Run{}, fmt.Errorf("resolve agent %q: %w", agentRef, err)
	}
	if strings.TrimSpace(model) == "" {
		model = spec.DefaultModel
	}

	runID := GenerateRunID()
	args := append([]string{}, spec.Args...)
	args = append(args, "--output-format", "stream-json", "--print", task)
	if strings.TrimSpace(model) != "" {
		args = append(args, "--model", model)
	}

	cmd := exec.Command(spec.Command, args...)
	cmd.Dir = project
	cmd.Env = os.Environ()
	configureKill(cmd)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return Run{}, err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return Run{}, err
	}
	if err := cmd.Start(); err != nil {
		return Run{}, fmt.Errorf("start agent process: %w", err)
	}

	run := Run{
		ID:          runID,
		AgentRef:    strings.TrimSpace(agentRef),
		ProjectPath: project,
		Task:        task,
		Model:       model,
		Status:      StatusRunning,
		PID:         cmd.Process.Pid,
		CreatedAt:   time.Now().UTC(),
	}
	h := &handle{
		run:    run,
		cmd:    cmd,
		output: bounded.NewLineBuffer(liveOutputMaxLines, liveOutputMaxBytes),
		done:   make(chan struct{}),
	}

	m.mu.Lock()
	m.handles[runID] = h
	m.mu.Unlock()

	m.persistRun(run)
	m.Log.Logf(panellog.KindRun, "started run_id=%s agent=%s pid=%d task=%s",
		runID, run.AgentRef, run.PID, panellog.Preview(task, 160))
	m.Bus.Publish(events.RunUpdateChannel, run)
	if attach != nil {
		attach(run)
	}

	var readers sync.WaitGroup
	readers.Add(2)
	go m.readOutput(h, stdout, &readers)
	go m.readStderr(h, stderr, &readers)
	go m.waitExit(h, &readers)

	return run, nil
}

// readOutput feeds the live buffer, the on-disk event mirror and the per-run
// output channel, one raw line at a time.
func (m *Manager) readOutput(h *handle, r io.Reader, wg *sync.WaitGroup) {
	defer wg.Done()

	outFile, err := os.OpenFile(m.runOutputPath(h.run.ID), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		m.Log.Logf(panellog.KindWarn, "run_id=%s open output mirror failed: %v", h.run.ID, err)
		outFile = nil
	}
	defer func() {
		if outFile != nil {
			_ = outFile.Close()
		}
	}()

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), scannerBufferBytes)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		h.output.Append(line)
		if outFile != nil {
			_, _ = outFile.WriteString(line + "\n")
		}
		m.Bus.Publish(events.OutputChannel(h.run.ID), line)
	}
	if err := scanner.Err(); err != nil {
		m.Log.Logf(panellog.KindWarn, "run_id=%s output read ended: %v", h.run.ID, err)
	}
}

func (m *Manager) readStderr(h *handle, r io.Reader, wg *sync.WaitGroup) {
	defer wg.Done()

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), scannerBufferBytes)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		m.Log.Logf(panellog.KindWarn, "run_id=%s stderr: %s", h.run.ID, panellog.Preview(line, 240))
		m.Bus.Publish(events.ErrorChannel(h.run.ID), line)
	}
}

func (m *Manager) waitExit(h *handle, readers *sync.WaitGroup) {
	readers.Wait()
	waitErr := h.cmd.Wait()

	m.mu.Lock()
	run := h.run
	cancelled := h.cancelled
	run.FinishedAt = time.Now().UTC()
	switch {
	case cancelled:
		run.Status = StatusCancelled
	case waitErr != nil:
		run.Status = StatusError
		run.Error = waitErr.Error()
	default:
		run.Status = StatusCompleted
	}
	h.run = run
	m.mu.Unlock()

	m.persistRun(run)
	m.Log.Logf(panellog.KindRun, "finished run_id=%s status=%s", run.ID, run.Status)

	if cancelled {
		m.Bus.Publish(events.CancelledChannel(run.ID), nil)
	} else {
		m.Bus.Publish(events.CompleteChannel(run.ID), waitErr == nil)
	}
	m.Bus.Publish(events.RunUpdateChannel, run)
	close(h.done)
}

// KillRun requests termination: graceful signal first, hard kill once the
// grace window passes. Returns whether a live process acknowledged the
// request; false covers unknown ids and already-finished runs and is not an
// error.
func (m *Manager) KillRun(ctx context.Context, runID string) bool {
	m.mu.Lock()
	h, ok := m.handles[strings.TrimSpace(runID)]
	if !ok {
		m.mu.Unlock()
		return false
	}
	select {
	case <-h.done:
		m.mu.Unlock()
		return false
	default:
	}
	h.cancelled = true
	cmd := h.cmd
	m.mu.Unlock()

	m.Log.Logf(panellog.KindRun, "terminating run_id=%s pid=%d", runID, cmd.Process.Pid)
	signalGraceful(cmd)

	select {
	case <-h.done:
		return true
	case <-time.After(killGraceWait):
	case <-ctx.Done():
	}
	signalHard(cmd)
	return true
}

func (m *Manager) GetRun(runID string) (Run, error) {
	id := strings.TrimSpace(runID)
	if id == "" {
		return Run{}, ErrUnknownRun
	}
	m.mu.Lock()
	if h, ok := m.handles[id]; ok {
		run := h.run
		m.mu.Unlock()
		return run, nil
	}
	m.mu.Unlock()

	var run Run
	if err := readJSONFile(m.runStatePath(id), &run); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Run{}, ErrUnknownRun
		}
		return Run{}, err
	}
	return run, nil
}

// ListRuns merges persisted state with live handles; live entries win.
// Sorted newest first.
func (m *Manager) ListRuns() ([]Run, error) {
	byID := make(map[string]Run)

	entries, err := os.ReadDir(m.StateRoot)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		var run Run
		if err := readJSONFile(m.runStatePath(entry.Name()), &run); err != nil {
			continue
		}
		if run.ID == "" {
			run.ID = entry.Name()
		}
		byID[run.ID] = run
	}

	m.mu.Lock()
	for id, h := range m.handles {
		byID[id] = h.run
	}
	m.mu.Unlock()

	out := make([]Run, 0, len(byID))
	for _, run := range byID {
		out = append(out, run)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// GetRunOutput returns the raw JSONL blob for a run: the live buffer while
// the process is attached, the on-disk mirror afterwards.
func (m *Manager) GetRunOutput(runID string) (string, error) {
	id := strings.TrimSpace(runID)
	m.mu.Lock()
	if h, ok := m.handles[id]; ok {
		out := h.output.All()
		m.mu.Unlock()
		return out, nil
	}
	m.mu.Unlock()

	data, err := os.ReadFile(m.runOutputPath(id))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil
		}
		return "", err
	}
	return string(data), nil
}

// DeleteRun removes a terminal run's state directory. Live runs are refused.
func (m *Manager) DeleteRun(runID string) error {
	id := strings.TrimSpace(runID)
	if id == "" {
		return ErrUnknownRun
	}
	m.mu.Lock()
	if h, ok := m.handles[id]; ok {
		select {
		case <-h.done:
			delete(m.handles, id)
		default:
			m.mu.Unlock()
			return ErrRunStillActive
		}
	}
	m.mu.Unlock()
	return os.RemoveAll(m.runDir(id))
}

// WaitRun blocks until the run's process exits or ctx is done; used by the
// headless start command and tests.
func (m *Manager) WaitRun(ctx context.Context, runID string) error {
	m.mu.Lock()
	h, ok := m.handles[strings.TrimSpace(runID)]
	m.mu.Unlock()
	if !ok {
		return ErrUnknownRun
	}
	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
