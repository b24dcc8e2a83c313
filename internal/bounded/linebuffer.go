package bounded

import (
	"strings"
	"sync"
)

const (
	minLineBufferLines = 10
	maxLineBufferLines = 10000
	minLineBufferBytes = 1024
	maxLineBufferBytes = 100 * 1024 * 1024
)

// LineBuffer holds live process output capped by both line count and total
// bytes, whichever limit is hit first. Safe for use from the pipe reader
// goroutine and concurrent readers.
type LineBuffer struct {
	mu       sync.Mutex
	lines    []string
	maxLines int
	maxBytes int
	curBytes int
}

func NewLineBuffer(maxLines int, maxBytes int) *LineBuffer {
	if maxLines < minLineBufferLines {
		maxLines = minLineBufferLines
	}
	if maxLines > maxLineBufferLines {
		maxLines = maxLineBufferLines
	}
	if maxBytes < minLineBufferBytes {
		maxBytes = minLineBufferBytes
	}
	if maxBytes > maxLineBufferBytes {
		maxBytes = maxLineBufferBytes
	}
	return &LineBuffer{
		lines:    make([]string, 0, 64),
		maxLines: maxLines,
		maxBytes: maxBytes,
	}
}

func (b *LineBuffer) Append(output string) {
	if b == nil || output == "" {
		return
	}
	line := output
	if !strings.HasSuffix(line, "\n") {
		line += "\n"
	}
	// A single oversized line keeps its suffix: the newest output wins.
	if len(line) > b.maxBytes {
		line = line[len(line)-b.maxBytes:]
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.lines = append(b.lines, line)
	b.curBytes += len(line)
	for len(b.lines) > b.maxLines || b.curBytes > b.maxBytes {
		b.curBytes -= len(b.lines[0])
		b.lines = b.lines[1:]
	}
}

// Recent returns the newest n lines joined as written.
func (b *LineBuffer) Recent(n int) string {
	if b == nil || n <= 0 {
		return ""
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if n > len(b.lines) {
		n = len(b.lines)
	}
	if n == 0 {
		return ""
	}
	return strings.Join(b.lines[len(b.lines)-n:], "")
}

func (b *LineBuffer) All() string {
	if b == nil {
		return ""
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return strings.Join(b.lines, "")
}

func (b *LineBuffer) Len() int {
	if b == nil {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.lines)
}

func (b *LineBuffer) Bytes() int {
	if b == nil {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.curBytes
}

func (b *LineBuffer) Clear() {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lines = b.lines[:0]
	b.curBytes = 0
}
