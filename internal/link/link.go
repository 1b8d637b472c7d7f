// Package link defines the contract between the core and the wireless link
// to a hub, and the frame protocol spoken over it.
//
// A Transport finds and connects to hubs; a Connection carries opaque frames
// in both directions. Receive returns io.EOF when the hub ends the stream and
// ErrClosed after Close. Close is idempotent.
package link

import (
	"context"
	"errors"
	"time"
)

// ErrClosed is returned by operations on a closed connection.
var ErrClosed = errors.New("link: connection closed")

// Advertisement is one hub seen during a scan.
type Advertisement struct {
	Name    string
	Address string
	RSSI    int
}

// Identifier prefers the advertised name.
func (a Advertisement) Identifier() string {
	if a.Name != "" {
		return a.Name
	}
	return a.Address
}

type Transport interface {
	// Scan listens for advertising hubs for the given window.
	Scan(ctx context.Context, window time.Duration) ([]Advertisement, error)
	// Connect opens a connection to the hub with the given name or address.
	Connect(ctx context.Context, identifier string) (Connection, error)
}

type Connection interface {
	Send(ctx context.Context, frame []byte) error
	Receive(ctx context.Context) ([]byte, error)
	Close() error
}
