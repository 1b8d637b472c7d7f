package storage

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/llll-robotics/llll/internal/types"
)

// Run is one row of the run history index. The full output lives in the
// run log referenced by LogFile.
type Run struct {
	ID           uuid.UUID          `json:"id"`
	Program      string             `json:"program"`
	Device       string             `json:"device,omitempty"`
	Status       types.SessionState `json:"status"`
	ExitCode     *int               `json:"exit_code,omitempty"`
	StartedAt    time.Time          `json:"started_at"`
	FinishedAt   time.Time          `json:"finished_at"`
	DurationMS   int64              `json:"duration_ms"`
	Lines        int                `json:"lines"`
	Truncated    bool               `json:"truncated,omitempty"`
	ErrorKind    types.ErrorKind    `json:"error_kind,omitempty"`
	ErrorMessage string             `json:"error_message,omitempty"`
	LogFile      string             `json:"log_file,omitempty"`
}

// RunFromResult converts a session result into a history row.
func RunFromResult(r *types.RunResult) (*Run, error) {
	id, err := uuid.Parse(r.SessionID)
	if err != nil {
		return nil, fmt.Errorf("invalid session id %q: %w", r.SessionID, err)
	}

	run := &Run{
		ID:         id,
		Program:    r.Program,
		Device:     r.Device,
		Status:     r.Status,
		ExitCode:   r.ExitCode,
		StartedAt:  r.StartedAt.UTC(),
		FinishedAt: r.FinishedAt.UTC(),
		DurationMS: r.Duration.Milliseconds(),
		Lines:      len(r.Output) + r.DroppedLines,
		Truncated:  r.Truncated,
		LogFile:    r.LogFile,
	}
	if r.Error != nil {
		run.ErrorKind = r.Error.Kind
		run.ErrorMessage = r.Error.Message
	}
	return run, nil
}
