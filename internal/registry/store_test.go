package registry

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"agentdeck/internal/agentproc"
	"agentdeck/internal/events"
	"agentdeck/internal/panellog"
)

type fakeSource struct {
	mu      sync.Mutex
	runs    []agentproc.Run
	outputs map[string]string
	listErr error
	fetches int
}

func (f *fakeSource) ListRuns() ([]agentproc.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches++
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := make([]agentproc.Run, len(f.runs))
	copy(out, f.runs)
	return out, nil
}

func (f *fakeSource) GetRunOutput(runID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.outputs[runID], nil
}

func (f *fakeSource) fetchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetches
}

func newTestStore(src *fakeSource) *Store {
	if src.outputs == nil {
		src.outputs = make(map[string]string)
	}
	return NewStore(src, panellog.New(panellog.Options{}))
}

func run(id string, status string) agentproc.Run {
	return agentproc.Run{ID: id, Status: status, CreatedAt: time.Now().UTC()}
}

func TestStoreUpsertKeepsPosition(t *testing.T) {
	t.Parallel()

	s := newTestStore(&fakeSource{})
	s.ApplyPushUpdate(run("a", agentproc.StatusRunning))
	s.ApplyPushUpdate(run("b", agentproc.StatusRunning))
	s.ApplyPushUpdate(run("c", agentproc.StatusRunning))

	// Newest-first: c, b, a. Updating b must not move it.
	updated := run("b", agentproc.StatusCompleted)
	s.ApplyPushUpdate(updated)

	runs := s.Runs()
	if len(runs) != 3 {
		t.Fatalf("len = %d, want 3", len(runs))
	}
	if runs[0].ID != "c" || runs[1].ID != "b" || runs[2].ID != "a" {
		t.Fatalf("order = %s,%s,%s", runs[0].ID, runs[1].ID, runs[2].ID)
	}
	if runs[1].Status != agentproc.StatusCompleted {
		t.Fatalf("b status = %s", runs[1].Status)
	}
}

func TestStoreNewRunPrepends(t *testing.T) {
	t.Parallel()

	s := newTestStore(&fakeSource{})
	s.ApplyPushUpdate(run("old", agentproc.StatusCompleted))
	s.ApplyPushUpdate(run("new", agentproc.StatusPending))
	if runs := s.Runs(); runs[0].ID != "new" {
		t.Fatalf("head = %s, want new", runs[0].ID)
	}
}

func TestStoreRunningSetDerived(t *testing.T) {
	t.Parallel()

	s := newTestStore(&fakeSource{})
	s.ApplyPushUpdate(run("a", agentproc.StatusRunning))
	s.ApplyPushUpdate(run("b", agentproc.StatusPending))
	s.ApplyPushUpdate(run("c", agentproc.StatusCompleted))

	set := s.RunningSet()
	if len(set) != 2 || !set["a"] || !set["b"] {
		t.Fatalf("running set = %v", set)
	}

	s.ApplyPushUpdate(run("a", agentproc.StatusError))
	if set := s.RunningSet(); len(set) != 1 || !set["b"] {
		t.Fatalf("running set after terminal update = %v", set)
	}
}

func TestStoreRefreshCacheGate(t *testing.T) {
	t.Parallel()

	src := &fakeSource{runs: []agentproc.Run{run("a", agentproc.StatusCompleted)}}
	s := newTestStore(src)

	s.Refresh(false)
	if got := src.fetchCount(); got != 1 {
		t.Fatalf("fetches = %d, want 1", got)
	}

	// Warm cache with nothing running: the second refresh is a no-op.
	s.Refresh(false)
	if got := src.fetchCount(); got != 1 {
		t.Fatalf("fetches after warm skip = %d, want 1", got)
	}

	// force bypasses the gate.
	s.Refresh(true)
	if got := src.fetchCount(); got != 2 {
		t.Fatalf("fetches after force = %d, want 2", got)
	}

	// A running run defeats the freshness skip.
	src.mu.Lock()
	src.runs = []agentproc.Run{run("a", agentproc.StatusRunning)}
	src.mu.Unlock()
	s.Refresh(true)
	s.Refresh(false)
	if got := src.fetchCount(); got != 4 {
		t.Fatalf("fetches with active run = %d, want 4", got)
	}
}

func TestStoreRefreshErrorKeepsData(t *testing.T) {
	t.Parallel()

	src := &fakeSource{runs: []agentproc.Run{run("a", agentproc.StatusCompleted)}}
	s := newTestStore(src)
	s.Refresh(true)
	if len(s.Runs()) != 1 {
		t.Fatal("seed fetch failed")
	}

	src.mu.Lock()
	src.listErr = errors.New("socket closed")
	src.mu.Unlock()
	s.Refresh(true)

	if len(s.Runs()) != 1 {
		t.Fatal("fetch error cleared run data")
	}
	if s.LastError() == "" {
		t.Fatal("fetch error not recorded")
	}

	src.mu.Lock()
	src.listErr = nil
	src.mu.Unlock()
	s.Refresh(true)
	if s.LastError() != "" {
		t.Fatalf("error field not cleared: %q", s.LastError())
	}
}

func TestStoreTrimsOldestPastCap(t *testing.T) {
	t.Parallel()

	s := newTestStore(&fakeSource{})
	for i := 0; i < MaxRuns+25; i++ {
		s.ApplyPushUpdate(run(fmt.Sprintf("run-%04d", i), agentproc.StatusCompleted))
	}
	runs := s.Runs()
	if len(runs) != MaxRuns {
		t.Fatalf("len = %d, want %d", len(runs), MaxRuns)
	}
	if runs[0].ID != fmt.Sprintf("run-%04d", MaxRuns+24) {
		t.Fatalf("head = %s", runs[0].ID)
	}
	if _, ok := s.Get("run-0000"); ok {
		t.Fatal("oldest run survived trim")
	}
}

func TestStoreOutputCache(t *testing.T) {
	t.Parallel()

	src := &fakeSource{outputs: map[string]string{
		"big": strings.Repeat("x", MaxOutputLength+500) + "TAIL",
	}}
	s := newTestStore(src)
	s.ApplyPushUpdate(run("big", agentproc.StatusCompleted))

	out := s.Output("big")
	if len(out) != MaxOutputLength {
		t.Fatalf("cached length = %d, want %d", len(out), MaxOutputLength)
	}
	if !strings.HasSuffix(out, "TAIL") {
		t.Fatal("cache kept the head instead of the tail")
	}
}

func TestStoreOutputCacheEviction(t *testing.T) {
	t.Parallel()

	src := &fakeSource{outputs: make(map[string]string)}
	s := newTestStore(src)
	for i := 0; i < MaxCachedOutputs+10; i++ {
		id := fmt.Sprintf("run-%04d", i)
		src.mu.Lock()
		src.outputs[id] = "out-" + id
		src.mu.Unlock()
		s.ApplyPushUpdate(run(id, agentproc.StatusCompleted))
		_ = s.Output(id)
	}
	if got := s.CachedOutputCount(); got != MaxCachedOutputs {
		t.Fatalf("cached outputs = %d, want %d", got, MaxCachedOutputs)
	}
}

func TestStoreRemove(t *testing.T) {
	t.Parallel()

	src := &fakeSource{outputs: map[string]string{"a": "hello"}}
	s := newTestStore(src)
	s.ApplyPushUpdate(run("a", agentproc.StatusCompleted))
	_ = s.Output("a")

	s.Remove("a")
	if _, ok := s.Get("a"); ok {
		t.Fatal("run survived remove")
	}
	if s.CachedOutputCount() != 0 {
		t.Fatal("output cache survived remove")
	}
}

func TestStoreWatchPush(t *testing.T) {
	t.Parallel()

	bus := events.NewBus()
	s := newTestStore(&fakeSource{})
	cancel := s.WatchPush(bus)
	defer cancel()

	bus.Publish(events.RunUpdateChannel, run("pushed", agentproc.StatusRunning))

	deadline := time.After(2 * time.Second)
	for {
		if _, ok := s.Get("pushed"); ok {
			break
		}
		select {
		case <-deadline:
			t.Fatal("push update never applied")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestStorePollingStopsAndReplaces(t *testing.T) {
	t.Parallel()

	src := &fakeSource{runs: []agentproc.Run{run("a", agentproc.StatusRunning)}}
	s := newTestStore(src)
	s.Refresh(true)
	base := src.fetchCount()

	s.StartPolling(20 * time.Millisecond)
	s.StartPolling(20 * time.Millisecond) // replaces, never stacks
	time.Sleep(120 * time.Millisecond)
	s.StopPolling()

	during := src.fetchCount() - base
	if during < 2 {
		t.Fatalf("poll fetches = %d, want >= 2", during)
	}

	time.Sleep(80 * time.Millisecond)
	if got := src.fetchCount() - base; got != during {
		t.Fatalf("fetches continued after stop: %d -> %d", during, got)
	}
}
