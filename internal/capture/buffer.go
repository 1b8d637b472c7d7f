// Package capture accumulates the output of one program run.
package capture

import (
	"strings"
	"sync"
	"time"
	"unicode/utf8"
)

// Marker is an out-of-band event recorded next to the output lines.
type Marker string

const (
	MarkerCompletion Marker = "completion"
	MarkerException  Marker = "exception"
	MarkerDisconnect Marker = "disconnect"
)

type Event struct {
	Marker Marker
	Detail string
	// Line is the number of output lines received before the marker.
	Line int
	Time time.Time
}

// Snapshot is a copy of the buffer state.
type Snapshot struct {
	Lines     []string
	Truncated bool
	Dropped   int
	Markers   []Event
}

// MaxLineBytes bounds one retained line. Longer lines, including text that
// never ends in a newline, are wrapped into several lines.
const MaxLineBytes = 4096

// Buffer is an append-only, bounded line buffer. Text arrives in chunks that
// need not align with line breaks; a trailing partial line is held until its
// newline arrives or Flush is called. When more than max lines have been
// received the oldest are dropped and the buffer reports itself truncated.
// Memory stays within max lines of MaxLineBytes each.
type Buffer struct {
	mu sync.Mutex

	ring     []string
	start    int
	count    int
	received int
	partial  strings.Builder

	markers []Event
}

func New(maxLines int) *Buffer {
	if maxLines <= 0 {
		maxLines = 1
	}
	return &Buffer{ring: make([]string, maxLines)}
}

// Write splits text into lines and appends every complete one. It returns
// the lines completed by this call, in order.
func (b *Buffer) Write(text string) []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	var completed []string
	for {
		i := strings.IndexByte(text, '\n')
		chunk := text
		if i >= 0 {
			chunk = text[:i]
		}
		completed = b.fill(chunk, completed)
		if i < 0 {
			return completed
		}

		line := strings.TrimSuffix(b.partial.String(), "\r")
		b.partial.Reset()
		b.push(line)
		completed = append(completed, line)
		text = text[i+1:]
	}
}

// fill adds text without line breaks to the partial line, wrapping it at
// MaxLineBytes on a rune boundary.
func (b *Buffer) fill(chunk string, completed []string) []string {
	for {
		room := MaxLineBytes - b.partial.Len()
		if len(chunk) <= room {
			b.partial.WriteString(chunk)
			return completed
		}

		cut := runeCut(chunk, room)
		if cut == 0 && b.partial.Len() == 0 {
			cut = room
		}
		b.partial.WriteString(chunk[:cut])
		chunk = chunk[cut:]

		line := b.partial.String()
		b.partial.Reset()
		b.push(line)
		completed = append(completed, line)
	}
}

// runeCut backs n off to the start of a rune in s.
func runeCut(s string, n int) int {
	for n > 0 && n < len(s) && !utf8.RuneStart(s[n]) {
		n--
	}
	return n
}

// Append adds one complete line, wrapped like Write.
func (b *Buffer) Append(line string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for len(line) > MaxLineBytes {
		cut := runeCut(line, MaxLineBytes)
		if cut == 0 {
			cut = MaxLineBytes
		}
		b.push(line[:cut])
		line = line[cut:]
	}
	b.push(line)
}

func (b *Buffer) push(line string) {
	b.received++
	size := len(b.ring)
	if b.count < size {
		b.ring[(b.start+b.count)%size] = line
		b.count++
		return
	}
	b.ring[b.start] = line
	b.start = (b.start + 1) % size
}

// Flush moves a pending partial line into the buffer. It returns the line
// and whether there was one.
func (b *Buffer) Flush() (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.partial.Len() == 0 {
		return "", false
	}
	line := strings.TrimSuffix(b.partial.String(), "\r")
	b.partial.Reset()
	b.push(line)
	return line, true
}

// Mark records an out-of-band marker at the current position.
func (b *Buffer) Mark(marker Marker, detail string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.markers = append(b.markers, Event{
		Marker: marker,
		Detail: detail,
		Line:   b.received,
		Time:   time.Now(),
	})
}

// Lines returns the retained lines, oldest first.
func (b *Buffer) Lines() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lines()
}

func (b *Buffer) lines() []string {
	out := make([]string, b.count)
	for i := 0; i < b.count; i++ {
		out[i] = b.ring[(b.start+i)%len(b.ring)]
	}
	return out
}

func (b *Buffer) Truncated() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.received > b.count
}

func (b *Buffer) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	return Snapshot{
		Lines:     b.lines(),
		Truncated: b.received > b.count,
		Dropped:   b.received - b.count,
		Markers:   append([]Event(nil), b.markers...),
	}
}
