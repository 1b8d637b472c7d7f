package websocket

import (
	"time"

	"github.com/llll-robotics/llll/internal/session"
	"github.com/llll-robotics/llll/internal/types"
)

// MessageType defines the type of WebSocket message
type MessageType string

const (
	// Session messages
	MessageTypeSessionState  MessageType = "session_state"
	MessageTypeSessionOutput MessageType = "session_output"
	MessageTypeSessionResult MessageType = "session_result"

	// Connection messages
	MessageTypeAuthSuccess MessageType = "auth_success"
	MessageTypeAuthFailed  MessageType = "auth_failed"
	MessageTypeSubscribed  MessageType = "subscribed"
)

// Message represents a WebSocket message
type Message struct {
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// SessionData is the payload of every session message.
type SessionData struct {
	SessionID string             `json:"session_id"`
	Device    string             `json:"device,omitempty"`
	Program   string             `json:"program,omitempty"`
	State     types.SessionState `json:"state,omitempty"`
	Previous  types.SessionState `json:"previous_state,omitempty"`
	Line      string             `json:"line,omitempty"`
	Result    *types.RunResult   `json:"result,omitempty"`
}

// NewMessage creates a new message with current timestamp
func NewMessage(msgType MessageType, data interface{}) Message {
	return Message{
		Type:      msgType,
		Timestamp: time.Now(),
		Data:      data,
	}
}

// NewSessionMessage converts a session event.
func NewSessionMessage(e *session.Event) Message {
	msgType := MessageTypeSessionState
	switch e.Type {
	case session.EventOutput:
		msgType = MessageTypeSessionOutput
	case session.EventResult:
		msgType = MessageTypeSessionResult
	}

	return Message{
		Type:      msgType,
		Timestamp: e.Time,
		Data: SessionData{
			SessionID: e.SessionID,
			Device:    e.Device,
			Program:   e.Program,
			State:     e.State,
			Previous:  e.Previous,
			Line:      e.Line,
			Result:    e.Result,
		},
	}
}
