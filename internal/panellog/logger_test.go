package panellog

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestLogWritesFlatLine(t *testing.T) {
	t.Parallel()

	var file, term strings.Builder
	log := New(Options{File: &file, Term: &term, TermEnabled: true})

	log.Logf(KindRun, "started run_id=%s", "run-1")
	line := file.String()
	if !strings.Contains(line, "[RUN] started run_id=run-1") {
		t.Fatalf("file line = %q", line)
	}
	if term.String() != line {
		t.Fatalf("terminal copy diverged: %q vs %q", term.String(), line)
	}

	// Blank messages produce no line at all.
	log.Log(KindInfo, "   \n")
	if file.String() != line {
		t.Fatalf("blank message was written: %q", file.String())
	}
}

func TestLogDebugGated(t *testing.T) {
	t.Parallel()

	var quiet, verbose strings.Builder
	New(Options{File: &quiet}).Log(KindDebug, "poll tick")
	New(Options{File: &verbose, Debug: true}).Log(KindDebug, "poll tick")

	if quiet.Len() != 0 {
		t.Fatalf("debug line written without debug enabled: %q", quiet.String())
	}
	if !strings.Contains(verbose.String(), "[DEBUG] poll tick") {
		t.Fatalf("debug line missing: %q", verbose.String())
	}
}

func TestPreview(t *testing.T) {
	t.Parallel()

	if got := Preview("  a\r\nb\n  c  ", 80); got != "a b c" {
		t.Fatalf("flattened preview = %q", got)
	}
	if got := Preview("abcdef", 4); got != "abcd" {
		t.Fatalf("short cap preview = %q", got)
	}
	long := strings.Repeat("z", 100)
	got := Preview(long, 40)
	if got != strings.Repeat("z", 26)+" ... (truncated)" {
		t.Fatalf("truncated preview = %q", got)
	}

	// Truncation never tears a multi-byte rune.
	got = Preview(strings.Repeat("日", 10), 8)
	if !utf8.ValidString(got) {
		t.Fatalf("preview not valid UTF-8: %q", got)
	}
	if got != "日日" {
		t.Fatalf("rune-clipped preview = %q", got)
	}
}

func TestColorizeKnownKinds(t *testing.T) {
	t.Parallel()

	colored := colorize(KindError, "boom\n")
	if !strings.HasPrefix(colored, ansiRed) || !strings.HasSuffix(colored, ansiReset) {
		t.Fatalf("error line not colorized: %q", colored)
	}
	if colorize(Kind("OTHER"), "x\n") != "x\n" {
		t.Fatalf("unknown kind should pass through")
	}
}
