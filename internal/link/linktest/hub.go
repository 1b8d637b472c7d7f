// Package linktest provides an in-memory hub that speaks the link frame
// protocol, for exercising discovery and sessions without radio hardware.
package linktest

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/llll-robotics/llll/internal/link"
)

// Script controls what a simulated program does once started.
type Script struct {
	Lines     []string
	LineDelay time.Duration
	ExitCode  int
	// Exception, when set, is reported verbatim after Lines instead of a
	// completion marker.
	Exception string
	// Hang keeps the program running after Lines until stopped or closed.
	Hang bool
	// IgnoreStop makes the program ignore stop requests.
	IgnoreStop bool
	// Drop ends the stream without a marker after Lines.
	Drop bool
	// RejectUpload makes the hub reject the program meta frame.
	RejectUpload string
}

// Hub is one simulated hub.
type Hub struct {
	Name      string
	Address   string
	Type      string
	Firmware  string
	BatteryMV uint16
	// PortIDs maps a port letter to the attached device type ID.
	PortIDs   map[string]uint16
	PortNames []string
	Script    Script
	// DropAfterQueries ends the stream instead of answering the query after
	// that many have been answered on one connection. Zero disables it.
	DropAfterQueries int

	mu       sync.Mutex
	uploaded []byte
	started  int
	stops    int
}

func (h *Hub) advertisement() link.Advertisement {
	return link.Advertisement{Name: h.Name, Address: h.Address, RSSI: -50}
}

func (h *Hub) ports() []string {
	if len(h.PortNames) > 0 {
		return h.PortNames
	}
	return []string{"A", "B", "C", "D", "E", "F"}
}

// Uploaded returns the artifact most recently uploaded to the hub.
func (h *Hub) Uploaded() []byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]byte(nil), h.uploaded...)
}

func (h *Hub) Starts() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.started
}

func (h *Hub) Stops() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stops
}

// Transport is an in-memory link.Transport over a fixed set of hubs.
type Transport struct {
	ScanErr    error
	ConnectErr error
	// CloseErr is returned by Close on every connection handed out. The
	// connection is closed all the same.
	CloseErr error

	mu       sync.Mutex
	hubs     []*Hub
	scans    int
	connects int
	open     []*Conn
}

func NewTransport(hubs ...*Hub) *Transport {
	return &Transport{hubs: hubs}
}

func (t *Transport) Scan(ctx context.Context, window time.Duration) ([]link.Advertisement, error) {
	t.mu.Lock()
	t.scans++
	hubs := append([]*Hub(nil), t.hubs...)
	err := t.ScanErr
	t.mu.Unlock()

	if err != nil {
		return nil, err
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	ads := make([]link.Advertisement, 0, len(hubs))
	for _, h := range hubs {
		ads = append(ads, h.advertisement())
	}
	sort.Slice(ads, func(i, j int) bool { return ads[i].Name < ads[j].Name })
	return ads, nil
}

func (t *Transport) Connect(ctx context.Context, identifier string) (link.Connection, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.connects++
	if t.ConnectErr != nil {
		return nil, t.ConnectErr
	}

	for _, h := range t.hubs {
		if h.Name == identifier || strings.EqualFold(h.Address, identifier) {
			conn := newConn(h)
			conn.closeErr = t.CloseErr
			t.open = append(t.open, conn)
			return conn, nil
		}
	}
	return nil, fmt.Errorf("hub %q not in range", identifier)
}

// Contacts is the total number of scans and connection attempts.
func (t *Transport) Contacts() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.scans + t.connects
}

func (t *Transport) Scans() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.scans
}

func (t *Transport) Connects() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connects
}

// AllClosed reports whether every connection handed out has been closed.
func (t *Transport) AllClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, c := range t.open {
		if !c.Closed() {
			return false
		}
	}
	return true
}

// Conn is the host side of a simulated connection.
type Conn struct {
	hub *Hub

	inbound chan []byte
	eof     chan struct{}
	closed  chan struct{}
	stop    chan struct{}

	mu       sync.Mutex
	eofOnce  sync.Once
	stopOnce sync.Once
	isClosed bool
	closeErr error
	expected int
	queries  int
}

func newConn(h *Hub) *Conn {
	return &Conn{
		hub:     h,
		inbound: make(chan []byte, 4096),
		eof:     make(chan struct{}),
		closed:  make(chan struct{}),
		stop:    make(chan struct{}),
	}
}

func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.isClosed
}

func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.isClosed {
		c.isClosed = true
		close(c.closed)
	}
	return c.closeErr
}

func (c *Conn) Receive(ctx context.Context) ([]byte, error) {
	select {
	case data := <-c.inbound:
		return data, nil
	default:
	}

	select {
	case data := <-c.inbound:
		return data, nil
	case <-c.eof:
		select {
		case data := <-c.inbound:
			return data, nil
		default:
			return nil, io.EOF
		}
	case <-c.closed:
		return nil, link.ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Conn) push(f *link.Frame) {
	select {
	case c.inbound <- f.Encode():
	case <-c.closed:
	}
}

func (c *Conn) Send(ctx context.Context, data []byte) error {
	if c.Closed() {
		return link.ErrClosed
	}

	frame, err := link.DecodeFrame(data)
	if err != nil {
		return err
	}

	h := c.hub
	switch frame.Kind {
	case link.KindQuery:
		c.answer(frame)

	case link.KindProgramMeta:
		if h.Script.RejectUpload != "" {
			c.push(link.RejectFrame(frame.TransactionID, h.Script.RejectUpload))
			return nil
		}
		size, err := frame.ParseProgramMeta()
		if err != nil {
			c.push(link.RejectFrame(frame.TransactionID, err.Error()))
			return nil
		}
		h.mu.Lock()
		h.uploaded = h.uploaded[:0]
		h.mu.Unlock()
		c.expected = int(size)
		c.push(link.AckFrame(frame.TransactionID))

	case link.KindProgramChunk:
		offset, chunk, err := frame.ParseProgramChunk()
		h.mu.Lock()
		ok := err == nil && int(offset) == len(h.uploaded)
		if ok {
			h.uploaded = append(h.uploaded, chunk...)
		}
		h.mu.Unlock()
		if !ok {
			c.push(link.RejectFrame(frame.TransactionID, "chunk out of order"))
			return nil
		}
		c.push(link.AckFrame(frame.TransactionID))

	case link.KindStart:
		h.mu.Lock()
		complete := len(h.uploaded) == c.expected
		h.started++
		h.mu.Unlock()
		if !complete {
			c.push(link.RejectFrame(frame.TransactionID, "incomplete program"))
			return nil
		}
		c.push(link.AckFrame(frame.TransactionID))
		go c.run(h.Script)

	case link.KindStop:
		h.mu.Lock()
		h.stops++
		h.mu.Unlock()
		if !h.Script.IgnoreStop {
			c.stopOnce.Do(func() { close(c.stop) })
		}

	default:
		return fmt.Errorf("unexpected frame %s", frame.Kind)
	}
	return nil
}

func (c *Conn) answer(q *link.Frame) {
	h := c.hub
	code, arg, err := q.ParseQuery()
	if err != nil {
		c.push(link.QueryErrorFrame(q.TransactionID, link.QueryErrFailed, err.Error()))
		return
	}

	c.queries++
	if h.DropAfterQueries > 0 && c.queries > h.DropAfterQueries {
		c.eofOnce.Do(func() { close(c.eof) })
		return
	}

	id := q.TransactionID
	switch code {
	case link.QueryHubType:
		c.push(link.ReplyFrame(id, []byte(h.Type)))
	case link.QueryHubName:
		c.push(link.ReplyFrame(id, []byte(h.Name)))
	case link.QueryFirmwareVersion:
		c.push(link.ReplyFrame(id, []byte(h.Firmware)))
	case link.QueryBatteryVoltage:
		c.push(link.Uint16Reply(id, h.BatteryMV))
	case link.QueryPortList:
		c.push(link.ReplyFrame(id, []byte(strings.Join(h.ports(), ""))))
	case link.QueryPortDevice:
		devID, ok := h.PortIDs[strings.ToUpper(string(arg))]
		if !ok {
			c.push(link.QueryErrorFrame(id, link.QueryErrNoDevice, ""))
			return
		}
		c.push(link.Uint16Reply(id, devID))
	default:
		c.push(link.QueryErrorFrame(id, link.QueryErrUnsupported, "unknown query"))
	}
}

func (c *Conn) run(s Script) {
	for _, line := range s.Lines {
		if s.LineDelay > 0 {
			select {
			case <-time.After(s.LineDelay):
			case <-c.stop:
				c.push(link.ExceptionFrame("SystemExit: stop requested"))
				return
			case <-c.closed:
				return
			}
		}
		c.push(link.StdoutFrame(line + "\n"))
	}

	switch {
	case s.Hang:
		select {
		case <-c.stop:
			c.push(link.ExceptionFrame("SystemExit: stop requested"))
		case <-c.closed:
		}
	case s.Drop:
		c.eofOnce.Do(func() { close(c.eof) })
	case s.Exception != "":
		c.push(link.ExceptionFrame(s.Exception))
	default:
		c.push(link.CompletedFrame(s.ExitCode))
	}
}
