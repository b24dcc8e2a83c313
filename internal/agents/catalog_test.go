package agents

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeAgent(t *testing.T, dir string, name string, body string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func TestLoadCatalogAndResolve(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeAgent(t, dir, "coder.yaml", "name: Coder\ncommand: claude\nargs: [--dangerously-skip-permissions]\ndefault_model: sonnet\n")
	writeAgent(t, dir, "reviewer.yml", "command: reviewbot\n")
	writeAgent(t, dir, "notes.txt", "not an agent")

	cat, err := LoadCatalog(dir)
	if err != nil {
		t.Fatalf("LoadCatalog: %v", err)
	}
	if cat.Len() != 2 {
		t.Fatalf("catalog size = %d, want 2", cat.Len())
	}

	spec, err := cat.Resolve("CODER")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if spec.Command != "claude" || spec.DefaultModel != "sonnet" {
		t.Fatalf("spec = %+v", spec)
	}
	if len(spec.Args) != 1 || spec.Args[0] != "--dangerously-skip-permissions" {
		t.Fatalf("args = %v", spec.Args)
	}

	// Name falls back to the file name.
	if _, err := cat.Resolve("reviewer"); err != nil {
		t.Fatalf("Resolve fallback name: %v", err)
	}

	if _, err := cat.Resolve("nope"); !errors.Is(err, ErrUnknownAgent) {
		t.Fatalf("err = %v, want ErrUnknownAgent", err)
	}
}

func TestLoadCatalogMissingDir(t *testing.T) {
	t.Parallel()

	cat, err := LoadCatalog(filepath.Join(t.TempDir(), "absent"))
	if err != nil {
		t.Fatalf("LoadCatalog: %v", err)
	}
	if cat.Len() != 0 {
		t.Fatalf("catalog size = %d, want 0", cat.Len())
	}
}

func TestLoadCatalogRejectsMissingCommand(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeAgent(t, dir, "broken.yaml", "name: broken\n")
	if _, err := LoadCatalog(dir); err == nil {
		t.Fatal("expected error for missing command")
	}
}
