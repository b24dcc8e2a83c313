package prune

import (
	"errors"
	"testing"
	"time"

	"agentdeck/internal/agentproc"
	"agentdeck/internal/panellog"
)

type fakeStore struct {
	runs    []agentproc.Run
	deleted []string
	delErr  error
}

func (f *fakeStore) ListRuns() ([]agentproc.Run, error) { return f.runs, nil }

func (f *fakeStore) DeleteRun(runID string) error {
	if f.delErr != nil {
		return f.delErr
	}
	f.deleted = append(f.deleted, runID)
	return nil
}

func TestPruneOnce(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := &fakeStore{runs: []agentproc.Run{
		{ID: "old-done", Status: agentproc.StatusCompleted, FinishedAt: now.Add(-48 * time.Hour)},
		{ID: "old-live", Status: agentproc.StatusRunning, CreatedAt: now.Add(-48 * time.Hour)},
		{ID: "fresh-done", Status: agentproc.StatusCompleted, FinishedAt: now.Add(-1 * time.Hour)},
		{ID: "old-no-finish", Status: agentproc.StatusError, CreatedAt: now.Add(-72 * time.Hour)},
	}}
	p := New(store, panellog.New(panellog.Options{}), 24*time.Hour)

	removed := p.PruneOnce(now)
	if removed != 2 {
		t.Fatalf("removed = %d, want 2", removed)
	}
	if len(store.deleted) != 2 || store.deleted[0] != "old-done" || store.deleted[1] != "old-no-finish" {
		t.Fatalf("deleted = %v", store.deleted)
	}
}

func TestPruneDeleteErrorContinues(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()
	store := &fakeStore{
		runs: []agentproc.Run{
			{ID: "a", Status: agentproc.StatusCompleted, FinishedAt: now.Add(-48 * time.Hour)},
		},
		delErr: errors.New("in use"),
	}
	p := New(store, panellog.New(panellog.Options{}), 24*time.Hour)
	if removed := p.PruneOnce(now); removed != 0 {
		t.Fatalf("removed = %d, want 0", removed)
	}
}

func TestPruneStartBadSchedule(t *testing.T) {
	t.Parallel()

	p := New(&fakeStore{}, panellog.New(panellog.Options{}), 0)
	if err := p.Start("not a schedule"); err == nil {
		t.Fatal("expected schedule parse error")
	}
}
