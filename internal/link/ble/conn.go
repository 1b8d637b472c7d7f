package ble

import (
	"context"
	"io"
	"sync"

	"tinygo.org/x/bluetooth"

	"github.com/llll-robotics/llll/internal/link"
)

type Conn struct {
	device bluetooth.Device
	rx     bluetooth.DeviceCharacteristic
	tx     bluetooth.DeviceCharacteristic
	hasRx  bool
	hasTx  bool

	inbound chan []byte
	eof     chan struct{}
	closed  chan struct{}

	eofOnce   sync.Once
	closeOnce sync.Once
	writeMu   sync.Mutex
}

func newConn(device bluetooth.Device) *Conn {
	return &Conn{
		device:  device,
		inbound: make(chan []byte, 1024),
		eof:     make(chan struct{}),
		closed:  make(chan struct{}),
	}
}

// notify runs on the bluetooth stack's goroutine; buf is reused after return.
func (c *Conn) notify(buf []byte) {
	frame := append([]byte(nil), buf...)
	select {
	case c.inbound <- frame:
	case <-c.closed:
	case <-c.eof:
	}
}

func (c *Conn) remoteClosed() {
	c.eofOnce.Do(func() { close(c.eof) })
}

func (c *Conn) Send(ctx context.Context, frame []byte) error {
	select {
	case <-c.closed:
		return link.ErrClosed
	case <-c.eof:
		return io.ErrClosedPipe
	default:
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_, err := c.rx.WriteWithoutResponse(frame)
	return err
}

func (c *Conn) Receive(ctx context.Context) ([]byte, error) {
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

func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		err = c.device.Disconnect()
	})
	return err
}
