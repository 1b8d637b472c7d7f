package session

import (
	"sync"
	"time"

	"github.com/llll-robotics/llll/internal/types"
)

type EventType string

const (
	EventState  EventType = "state"
	EventOutput EventType = "output"
	EventResult EventType = "result"
)

// Event is published for every state change, every captured line and the
// final result of a session.
type Event struct {
	SessionID string             `json:"session_id"`
	Device    string             `json:"device,omitempty"`
	Program   string             `json:"program,omitempty"`
	Type      EventType          `json:"type"`
	State     types.SessionState `json:"state,omitempty"`
	Previous  types.SessionState `json:"previous,omitempty"`
	Line      string             `json:"line,omitempty"`
	Result    *types.RunResult   `json:"result,omitempty"`
	Time      time.Time          `json:"time"`
}

// AllSessions subscribes to events of every session.
const AllSessions = ""

// Streamer fans events out to subscribers. Publishing never blocks: a
// subscriber whose channel is full misses the event.
type Streamer struct {
	mu          sync.RWMutex
	subscribers map[string][]chan *Event
}

func NewStreamer() *Streamer {
	return &Streamer{
		subscribers: make(map[string][]chan *Event),
	}
}

func (s *Streamer) Subscribe(sessionID string) <-chan *Event {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := make(chan *Event, 256)
	s.subscribers[sessionID] = append(s.subscribers[sessionID], ch)
	return ch
}

func (s *Streamer) Unsubscribe(sessionID string, ch <-chan *Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	subs := s.subscribers[sessionID]
	for i, sub := range subs {
		if sub == ch {
			s.subscribers[sessionID] = append(subs[:i], subs[i+1:]...)
			close(sub)
			break
		}
	}
	if len(s.subscribers[sessionID]) == 0 {
		delete(s.subscribers, sessionID)
	}
}

func (s *Streamer) Publish(event *Event) {
	if s == nil {
		return
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	s.send(s.subscribers[event.SessionID], event)
	if event.SessionID != AllSessions {
		s.send(s.subscribers[AllSessions], event)
	}
}

func (s *Streamer) send(subs []chan *Event, event *Event) {
	for _, ch := range subs {
		select {
		case ch <- event:
		default:
			// Skip if channel is full
		}
	}
}
