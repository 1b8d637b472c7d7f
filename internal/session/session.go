package session

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/llll-robotics/llll/internal/capture"
	"github.com/llll-robotics/llll/internal/types"
)

// Session is one compile/upload/run/capture attempt.
type Session struct {
	ID      uuid.UUID
	Program string
	Timeout time.Duration

	logger    *zap.Logger
	streamer  *Streamer
	buffer    *capture.Buffer
	startedAt time.Time

	mu     sync.RWMutex
	state  types.SessionState
	device string

	cancelOnce sync.Once
	cancelled  chan struct{}
}

// Status is a point-in-time view of a session.
type Status struct {
	ID        string             `json:"session_id"`
	Program   string             `json:"program"`
	Device    string             `json:"device,omitempty"`
	State     types.SessionState `json:"state"`
	StartedAt time.Time          `json:"started_at"`
	Lines     int                `json:"lines"`
}

func newSession(req Request, maxLines int, streamer *Streamer, logger *zap.Logger) *Session {
	id := uuid.New()
	return &Session{
		ID:        id,
		Program:   req.Program,
		Timeout:   req.Timeout,
		logger:    logger.With(zap.String("session_id", id.String())),
		streamer:  streamer,
		buffer:    capture.New(maxLines),
		startedAt: time.Now(),
		state:     types.StateIdle,
		device:    req.Device,
		cancelled: make(chan struct{}),
	}
}

func (s *Session) State() types.SessionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Session) Device() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.device
}

func (s *Session) setDevice(device string) {
	s.mu.Lock()
	s.device = device
	s.mu.Unlock()
}

// Cancel requests a stop. It is safe to call more than once.
func (s *Session) Cancel() {
	s.cancelOnce.Do(func() { close(s.cancelled) })
}

func (s *Session) cancelRequested() bool {
	select {
	case <-s.cancelled:
		return true
	default:
		return false
	}
}

func (s *Session) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return Status{
		ID:        s.ID.String(),
		Program:   s.Program,
		Device:    s.device,
		State:     s.state,
		StartedAt: s.startedAt,
		Lines:     len(s.buffer.Lines()),
	}
}

func (s *Session) setState(state types.SessionState) {
	s.mu.Lock()
	previous := s.state
	if err := ValidateTransition(previous, state); err != nil {
		s.mu.Unlock()
		s.logger.Error("Session state change rejected", zap.Error(err))
		return
	}
	s.state = state
	device := s.device
	s.mu.Unlock()

	s.logger.Info("Session state changed",
		zap.String("state", string(state)),
		zap.String("previous", string(previous)))

	s.streamer.Publish(&Event{
		SessionID: s.ID.String(),
		Device:    device,
		Program:   s.Program,
		Type:      EventState,
		State:     state,
		Previous:  previous,
		Time:      time.Now(),
	})
}

// write appends hub output to the buffer and publishes each completed line.
func (s *Session) write(text string) {
	for _, line := range s.buffer.Write(text) {
		s.publishLine(line)
	}
	if s.State() == types.StateRunning {
		s.setState(types.StateCapturing)
	}
}

func (s *Session) publishLine(line string) {
	s.streamer.Publish(&Event{
		SessionID: s.ID.String(),
		Device:    s.Device(),
		Program:   s.Program,
		Type:      EventOutput,
		Line:      line,
		Time:      time.Now(),
	})
}

// finish moves to a terminal state and freezes the result.
func (s *Session) finish(state types.SessionState, exitCode *int, err error) *types.RunResult {
	if line, ok := s.buffer.Flush(); ok {
		s.publishLine(line)
	}
	s.setState(state)

	snap := s.buffer.Snapshot()
	now := time.Now()

	result := &types.RunResult{
		SessionID:    s.ID.String(),
		Program:      s.Program,
		Device:       s.Device(),
		Status:       state,
		ExitCode:     exitCode,
		StartedAt:    s.startedAt,
		FinishedAt:   now,
		Duration:     now.Sub(s.startedAt),
		Output:       snap.Lines,
		Truncated:    snap.Truncated,
		DroppedLines: snap.Dropped,
		Error:        types.DetailOf(err),
	}

	s.streamer.Publish(&Event{
		SessionID: result.SessionID,
		Device:    result.Device,
		Program:   s.Program,
		Type:      EventResult,
		State:     state,
		Result:    result,
		Time:      now,
	})
	return result
}

func (s *Session) fail(err error) *types.RunResult {
	return s.finish(types.StateFailed, nil, err)
}
