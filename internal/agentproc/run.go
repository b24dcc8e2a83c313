// Package agentproc owns the external agent processes: spawning, PID
// tracking, live output capture and termination. Every other component sees
// runs only through the summaries and event channels published here.
package agentproc

import (
	"crypto/rand"
	"encoding/hex"
	"strings"
	"time"
)

const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusCancelled = "cancelled"
	StatusError     = "error"
)

type Metrics struct {
	CostUSD    float64 `json:"cost_usd,omitempty"`
	DurationMs int64   `json:"duration_ms,omitempty"`
	TokensIn   int     `json:"tokens_in"`
	TokensOut  int     `json:"tokens_out"`
}

// Run is the supervised view of one agent execution. Identity is the run id;
// consumers treat updates as upsert-by-id.
type Run struct {
	ID          string    `json:"id"`
	AgentRef    string    `json:"agent_ref"`
	ProjectPath string    `json:"project_path"`
	Task        string    `json:"task"`
	Model       string    `json:"model,omitempty"`
	Status      string    `json:"status"`
	PID         int       `json:"pid,omitempty"`
	SessionID   string    `json:"session_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	FinishedAt  time.Time `json:"finished_at,omitempty"`
	Error       string    `json:"error,omitempty"`
	Metrics     Metrics   `json:"metrics"`
}

func IsTerminalStatus(status string) bool {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case StatusCompleted, StatusCancelled, StatusError:
		return true
	default:
		return false
	}
}

// IsActiveStatus reports membership in the running set.
func IsActiveStatus(status string) bool {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case StatusPending, StatusRunning:
		return true
	default:
		return false
	}
}

func GenerateRunID() string {
	return "run-" + time.Now().UTC().Format("20060102-150405") + "-" + randomHex(3)
}

func SanitizeID(raw string, fallback string) string {
	s := strings.TrimSpace(raw)
	if s == "" {
		s = strings.TrimSpace(fallback)
	}
	if s == "" {
		s = "id-" + randomHex(4)
	}
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z':
			b.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			b.WriteRune(r)
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-' || r == '_' || r == '.':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	out := strings.Trim(b.String(), "._-")
	if out == "" {
		return "id-" + randomHex(4)
	}
	return out
}

func randomHex(n int) string {
	if n <= 0 {
		n = 4
	}
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		now := time.Now().UTC().UnixNano()
		return strings.ReplaceAll(time.Unix(0, now).UTC().Format("150405.000000000"), ".", "")
	}
	return hex.EncodeToString(buf)
}
