// Package registry holds the panel-facing view of all runs: an ordered,
// capped collection refreshed by polling and kept current by push updates,
// with a bounded per-run output cache.
package registry

import (
	"sync"
	"time"

	"agentdeck/internal/agentproc"
	"agentdeck/internal/events"
	"agentdeck/internal/panellog"
)

const (
	MaxRuns           = 1000
	MaxOutputLength   = 10000
	MaxCachedOutputs  = 500
	CacheTTL          = 5 * time.Second
	DefaultPollPeriod = 2 * time.Second
)

// Source is the slice of the process manager the store reads from.
type Source interface {
	ListRuns() ([]agentproc.Run, error)
	GetRunOutput(runID string) (string, error)
}

// Store is safe for concurrent use. Runs are ordered newest-first; identity
// is the run id and every mutation is an upsert.
type Store struct {
	mu     sync.Mutex
	source Source
	log    *panellog.Logger

	runs      []agentproc.Run
	running   map[string]bool
	lastFetch time.Time
	lastErr   string

	outputs     map[string]string
	outputOrder []string

	pollStop chan struct{}
}

func NewStore(source Source, log *panellog.Logger) *Store {
	return &Store{
		source:  source,
		log:     log,
		running: make(map[string]bool),
		outputs: make(map[string]string),
	}
}

// Runs returns a copy of the collection, newest-first.
func (s *Store) Runs() []agentproc.Run {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]agentproc.Run, len(s.runs))
	copy(out, s.runs)
	return out
}

func (s *Store) Get(runID string) (agentproc.Run, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.runs {
		if r.ID == runID {
			return r, true
		}
	}
	return agentproc.Run{}, false
}

// RunningSet returns the ids currently in an active status.
func (s *Store) RunningSet() map[string]bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]bool, len(s.running))
	for id := range s.running {
		out[id] = true
	}
	return out
}

func (s *Store) HasRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.running) > 0
}

// LastError reports the most recent fetch failure, empty after a clean fetch.
func (s *Store) LastError() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Refresh fetches the run list unless the cache is still warm. The gate skips
// the fetch only when the data is younger than the TTL AND no run is active;
// an active run always forces a real fetch so its status is never stale.
func (s *Store) Refresh(force bool) {
	s.mu.Lock()
	fresh := !s.lastFetch.IsZero() && time.Since(s.lastFetch) < CacheTTL
	if !force && fresh && len(s.running) == 0 {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	fetched, err := s.source.ListRuns()

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		// Keep the data we have; only the error field changes.
		s.lastErr = err.Error()
		s.log.Logf(panellog.KindWarn, "run list fetch failed: %v", err)
		return
	}
	s.lastErr = ""
	s.lastFetch = time.Now()
	for _, run := range fetched {
		s.upsertLocked(run)
	}
	s.trimLocked()
	s.recomputeRunningLocked()
}

// ApplyPushUpdate folds one pushed run into the collection: replace in place
// when known, prepend when new.
func (s *Store) ApplyPushUpdate(run agentproc.Run) {
	if run.ID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upsertLocked(run)
	s.trimLocked()
	s.recomputeRunningLocked()
}

// Remove drops a run and its cached output, after a delete upstream.
func (s *Store) Remove(runID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, r := range s.runs {
		if r.ID == runID {
			s.runs = append(s.runs[:i], s.runs[i+1:]...)
			break
		}
	}
	if _, ok := s.outputs[runID]; ok {
		delete(s.outputs, runID)
		for i, id := range s.outputOrder {
			if id == runID {
				s.outputOrder = append(s.outputOrder[:i], s.outputOrder[i+1:]...)
				break
			}
		}
	}
	s.recomputeRunningLocked()
}

func (s *Store) upsertLocked(run agentproc.Run) {
	for i, r := range s.runs {
		if r.ID == run.ID {
			s.runs[i] = run
			return
		}
	}
	s.runs = append([]agentproc.Run{run}, s.runs...)
}

func (s *Store) trimLocked() {
	if len(s.runs) > MaxRuns {
		s.runs = s.runs[:MaxRuns]
	}
}

func (s *Store) recomputeRunningLocked() {
	s.running = make(map[string]bool)
	for _, r := range s.runs {
		if agentproc.IsActiveStatus(r.Status) {
			s.running[r.ID] = true
		}
	}
}

// Output returns the cached tail of a run's raw output, fetching on miss.
// Only the trailing MaxOutputLength characters are kept.
func (s *Store) Output(runID string) string {
	s.mu.Lock()
	if cached, ok := s.outputs[runID]; ok && !s.running[runID] {
		s.mu.Unlock()
		return cached
	}
	s.mu.Unlock()

	raw, err := s.source.GetRunOutput(runID)
	if err != nil {
		s.log.Logf(panellog.KindWarn, "output fetch failed run_id=%s: %v", runID, err)
		return ""
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.cacheOutputLocked(runID, raw)
	return s.outputs[runID]
}

func (s *Store) cacheOutputLocked(runID string, raw string) {
	if len(raw) > MaxOutputLength {
		raw = raw[len(raw)-MaxOutputLength:]
	}
	if _, ok := s.outputs[runID]; !ok {
		s.outputOrder = append(s.outputOrder, runID)
		for len(s.outputOrder) > MaxCachedOutputs {
			oldest := s.outputOrder[0]
			s.outputOrder = s.outputOrder[1:]
			delete(s.outputs, oldest)
		}
	}
	s.outputs[runID] = raw
}

func (s *Store) CachedOutputCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.outputs)
}

// StartPolling replaces any previous poll loop with a new one. Ticks refresh
// only while at least one run is active; an idle panel makes no fetches.
func (s *Store) StartPolling(interval time.Duration) {
	if interval <= 0 {
		interval = DefaultPollPeriod
	}
	s.mu.Lock()
	if s.pollStop != nil {
		close(s.pollStop)
	}
	stop := make(chan struct{})
	s.pollStop = stop
	s.mu.Unlock()

	go s.pollLoop(interval, stop)
}

func (s *Store) StopPolling() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pollStop != nil {
		close(s.pollStop)
		s.pollStop = nil
	}
}

func (s *Store) pollLoop(interval time.Duration, stop chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if s.HasRunning() {
				s.log.Logf(panellog.KindPoll, "poll tick, %d active", len(s.RunningSet()))
				s.Refresh(false)
			}
		}
	}
}

// WatchPush consumes run-update events from the bus into the store until the
// returned cancel is called.
func (s *Store) WatchPush(bus *events.Bus) func() {
	sub := bus.Subscribe(events.RunUpdateChannel)
	go func() {
		for evt := range sub.C {
			if run, ok := evt.Data.(agentproc.Run); ok {
				s.ApplyPushUpdate(run)
			}
		}
	}()
	return sub.Cancel
}
