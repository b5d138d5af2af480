package run

import "time"

// State is the controller's lifecycle state.
//
// Idle -> Running -> (Cancelling) -> Done | Failed
//
// Done and Failed are terminal for a run; the next Start is accepted from
// either without an explicit reset.
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateCancelling
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateCancelling:
		return "cancelling"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Active reports whether a child process may exist in this state.
func (s State) Active() bool { return s == StateRunning || s == StateCancelling }

// Terminal reports whether s ends a run.
func (s State) Terminal() bool { return s == StateDone || s == StateFailed }

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Status is what the controller reports to the Output Sink on every state
// transition.
type Status struct {
	State     State         `json:"state"`
	ExitCode  *int          `json:"exit_code,omitempty"`
	Message   string        `json:"message,omitempty"`
	Cancelled bool          `json:"cancelled,omitempty"`
	Elapsed   time.Duration `json:"elapsed,omitempty"`
}

// IsError reports whether the status should be surfaced as an error.
func (s Status) IsError() bool { return s.State == StateFailed }

func intPtr(v int) *int { return &v }

func copyIntPtr(p *int) *int {
	if p == nil {
		return nil
	}
	return intPtr(*p)
}
