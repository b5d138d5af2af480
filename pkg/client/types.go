package client

import (
	"fmt"
	"time"
)

// Status is a run's status as reported by the viewer.
type Status struct {
	State     string        `json:"state"`
	ExitCode  *int          `json:"exit_code,omitempty"`
	Message   string        `json:"message,omitempty"`
	Cancelled bool          `json:"cancelled,omitempty"`
	Elapsed   time.Duration `json:"elapsed,omitempty"`
}

// Terminal reports whether the status ends a run.
func (s Status) Terminal() bool { return s.State == "done" || s.State == "failed" }

// Snapshot is the observable state of the session's controller.
type Snapshot struct {
	RunID         string    `json:"run_id,omitempty"`
	State         string    `json:"state"`
	Target        string    `json:"target,omitempty"`
	Command       string    `json:"command,omitempty"`
	PID           int       `json:"pid,omitempty"`
	StartedAt     time.Time `json:"started_at,omitempty"`
	Progress      int       `json:"progress"`
	ProgressLabel string    `json:"progress_label,omitempty"`
	Lines         int       `json:"lines"`
	Status        Status    `json:"status"`
}

// Active reports whether a scan process may be running.
func (s Snapshot) Active() bool { return s.State == "running" || s.State == "cancelling" }

// Output is a window of the current run's output lines.
type Output struct {
	From  int      `json:"from"`
	Total int      `json:"total"`
	Lines []string `json:"lines"`
}

// HistoryEntry is one saved scan. Index is 0-based, newest first.
type HistoryEntry struct {
	Index     int      `json:"index"`
	Label     string   `json:"label"`
	ID        string   `json:"id,omitempty"`
	Target    string   `json:"target"`
	Command   string   `json:"command"`
	ExitCode  *int     `json:"exit_code"`
	Output    []string `json:"output"`
	Timestamp string   `json:"timestamp"`
}

// Event is one message of the live stream. Type is snapshot, line, status
// or progress; Snapshot is set only for the first event.
type Event struct {
	Type     string    `json:"type"`
	Line     string    `json:"line,omitempty"`
	Status   *Status   `json:"status,omitempty"`
	Percent  int       `json:"percent,omitempty"`
	Label    string    `json:"label,omitempty"`
	Snapshot *Snapshot `json:"-"`
}

// ErrorResponse is the body of a non-2xx viewer response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// APIError is returned for non-2xx responses.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("API error (HTTP %d): %s", e.StatusCode, e.Message)
}
