package types

import (
	"fmt"
	"time"
)

// MaxRunTimeout bounds caller-supplied run timeouts.
const MaxRunTimeout = 24 * time.Hour

// TimeoutFromSeconds converts a timeout given in seconds. Zero selects the
// configured default; negative values, NaN and anything above MaxRunTimeout
// are rejected before conversion so the duration cannot overflow.
func TimeoutFromSeconds(seconds float64) (time.Duration, error) {
	if !(seconds >= 0 && seconds <= MaxRunTimeout.Seconds()) {
		return 0, NewError(KindInvalidRequest,
			fmt.Sprintf("timeout_seconds must be between 0 and %.0f", MaxRunTimeout.Seconds()), nil)
	}
	return time.Duration(seconds * float64(time.Second)), nil
}

// SessionState is one node of the session state machine.
type SessionState string

const (
	StateIdle      SessionState = "idle"
	StateCompiling SessionState = "compiling"
	StateUploading SessionState = "uploading"
	StateRunning   SessionState = "running"
	StateCapturing SessionState = "capturing"
	StateCompleted SessionState = "completed"
	StateFailed    SessionState = "failed"
	StateTimedOut  SessionState = "timed_out"
	StateCancelled SessionState = "cancelled"
)

// Terminal reports whether no further transition is possible.
func (s SessionState) Terminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateTimedOut, StateCancelled:
		return true
	}
	return false
}

// RunResult is the immutable outcome of one session.
type RunResult struct {
	SessionID    string        `json:"session_id"`
	Program      string        `json:"program"`
	Device       string        `json:"device,omitempty"`
	Status       SessionState  `json:"status"`
	ExitCode     *int          `json:"exit_code,omitempty"`
	StartedAt    time.Time     `json:"started_at"`
	FinishedAt   time.Time     `json:"finished_at"`
	Duration     time.Duration `json:"duration"`
	Output       []string      `json:"output"`
	Truncated    bool          `json:"truncated,omitempty"`
	DroppedLines int           `json:"dropped_lines,omitempty"`
	Error        *ErrorDetail  `json:"error,omitempty"`
	LogFile      string        `json:"log_file,omitempty"`
}

// Succeeded is true only for a completed run that exited with code 0.
func (r *RunResult) Succeeded() bool {
	return r.Status == StateCompleted && r.ExitCode != nil && *r.ExitCode == 0
}

// ExitCodeOf is a convenience for building results.
func ExitCodeOf(code int) *int {
	return &code
}

// FirmwareState is the outcome kind of a firmware comparison.
type FirmwareState string

const (
	FirmwareUpToDate        FirmwareState = "up_to_date"
	FirmwareUpdateAvailable FirmwareState = "update_available"
	FirmwareUnknown         FirmwareState = "unknown"
)

// FirmwareStatus carries Latest only for FirmwareUpdateAvailable.
type FirmwareStatus struct {
	State  FirmwareState `json:"state"`
	Latest string        `json:"latest,omitempty"`
}
