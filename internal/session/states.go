package session

import (
	"fmt"

	"github.com/llll-robotics/llll/internal/types"
)

var validTransitions = map[types.SessionState][]types.SessionState{
	types.StateIdle:      {types.StateCompiling, types.StateFailed, types.StateCancelled},
	types.StateCompiling: {types.StateUploading, types.StateFailed, types.StateCancelled},
	types.StateUploading: {types.StateRunning, types.StateFailed, types.StateCancelled},
	types.StateRunning:   {types.StateCapturing, types.StateCompleted, types.StateFailed, types.StateTimedOut, types.StateCancelled},
	types.StateCapturing: {types.StateCompleted, types.StateFailed, types.StateTimedOut, types.StateCancelled},
}

// ValidateTransition checks a move through Idle -> Compiling -> Uploading ->
// Running -> Capturing -> terminal. Terminal states have no way out.
func ValidateTransition(from, to types.SessionState) error {
	allowed, exists := validTransitions[from]
	if !exists {
		return fmt.Errorf("no transitions from %s", from)
	}

	for _, validTo := range allowed {
		if validTo == to {
			return nil
		}
	}

	return fmt.Errorf("invalid state transition from %s to %s", from, to)
}
