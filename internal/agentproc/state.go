package agentproc

import (
	"encoding/json"
	"os"
	"path/filepath"

	"agentdeck/internal/panellog"
)

// Run state files live under StateRoot/<run-id>/run.json with the raw event
// feed mirrored next to them, so ListRuns and GetRunOutput survive restarts.

func writeJSONAtomic(path string, value any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp_json_*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	enc := json.NewEncoder(tmp)
	enc.SetIndent("", "  ")
	if err := enc.Encode(value); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}

func readJSONFile(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

func (m *Manager) runDir(runID string) string {
	return filepath.Join(m.StateRoot, SanitizeID(runID, GenerateRunID()))
}

func (m *Manager) runStatePath(runID string) string {
	return filepath.Join(m.runDir(runID), "run.json")
}

func (m *Manager) runOutputPath(runID string) string {
	return filepath.Join(m.runDir(runID), "output.jsonl")
}

func (m *Manager) persistRun(run Run) {
	if err := writeJSONAtomic(m.runStatePath(run.ID), run); err != nil && m.Log != nil {
		m.Log.Logf(panellog.KindWarn, "persist run_id=%s failed: %v", run.ID, err)
	}
}
