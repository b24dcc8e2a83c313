// Package prune removes terminal run state past a retention window on a cron
// schedule. Live runs are never touched.
package prune

import (
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"agentdeck/internal/agentproc"
	"agentdeck/internal/panellog"
)

const (
	DefaultSchedule  = "@hourly"
	DefaultRetention = 7 * 24 * time.Hour
)

// RunStore is the slice of the process manager the pruner needs.
type RunStore interface {
	ListRuns() ([]agentproc.Run, error)
	DeleteRun(runID string) error
}

type Pruner struct {
	store     RunStore
	log       *panellog.Logger
	retention time.Duration
	cron      *cron.Cron
}

func New(store RunStore, log *panellog.Logger, retention time.Duration) *Pruner {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &Pruner{store: store, log: log, retention: retention}
}

// Start schedules the prune job. An empty schedule means hourly.
func (p *Pruner) Start(schedule string) error {
	spec := strings.TrimSpace(schedule)
	if spec == "" {
		spec = DefaultSchedule
	}
	c := cron.New()
	if _, err := c.AddFunc(spec, func() { p.PruneOnce(time.Now().UTC()) }); err != nil {
		return err
	}
	p.cron = c
	c.Start()
	p.log.Logf(panellog.KindInfo, "prune scheduled %q retention=%s", spec, p.retention)
	return nil
}

func (p *Pruner) Stop() {
	if p.cron != nil {
		p.cron.Stop()
	}
}

// PruneOnce deletes runs that finished before now minus the retention window.
// It returns how many were removed.
func (p *Pruner) PruneOnce(now time.Time) int {
	runs, err := p.store.ListRuns()
	if err != nil {
		p.log.Logf(panellog.KindWarn, "prune list failed: %v", err)
		return 0
	}
	cutoff := now.Add(-p.retention)
	removed := 0
	for _, run := range runs {
		if !agentproc.IsTerminalStatus(run.Status) {
			continue
		}
		ended := run.FinishedAt
		if ended.IsZero() {
			ended = run.CreatedAt
		}
		if !ended.Before(cutoff) {
			continue
		}
		if err := p.store.DeleteRun(run.ID); err != nil {
			p.log.Logf(panellog.KindWarn, "prune delete run_id=%s: %v", run.ID, err)
			continue
		}
		removed++
	}
	if removed > 0 {
		p.log.Logf(panellog.KindInfo, "pruned %d run(s) older than %s", removed, p.retention)
	}
	return removed
}
