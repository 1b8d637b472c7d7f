package link_test

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/llll-robotics/llll/internal/link"
	"github.com/llll-robotics/llll/internal/link/linktest"
)

func connect(t *testing.T, hub *linktest.Hub) *link.Client {
	t.Helper()
	transport := linktest.NewTransport(hub)
	conn, err := transport.Connect(context.Background(), hub.Name)
	require.NoError(t, err)
	client := link.NewClient(conn, time.Second)
	t.Cleanup(func() { client.Close() })
	return client
}

func TestClientQueries(t *testing.T) {
	hub := &linktest.Hub{
		Name:      "Technic Hub",
		Address:   "AA:BB:CC:DD:EE:FF",
		Type:      "TechnicHub",
		Firmware:  "3.5.0",
		BatteryMV: 7800,
		PortIDs:   map[string]uint16{"A": 48},
		PortNames: []string{"A", "B", "C", "D"},
	}
	client := connect(t, hub)
	ctx := context.Background()

	typ, err := client.HubType(ctx)
	require.NoError(t, err)
	assert.Equal(t, "TechnicHub", typ)

	fw, err := client.FirmwareVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, "3.5.0", fw)

	mv, err := client.BatteryMillivolts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 7800, mv)

	ports, err := client.Ports(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B", "C", "D"}, ports)

	id, ok, err := client.PortDevice(ctx, "A")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, uint16(48), id)

	_, ok, err = client.PortDevice(ctx, "B")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestClientUploadAndRun(t *testing.T) {
	hub := &linktest.Hub{
		Name:   "Prime",
		Type:   "PrimeHub",
		Script: linktest.Script{Lines: []string{"hello", "world"}, ExitCode: 0},
	}
	client := connect(t, hub)
	ctx := context.Background()

	artifact := []byte("0123456789abcdefghij")
	require.NoError(t, client.Upload(ctx, artifact, 7))
	assert.Equal(t, artifact, hub.Uploaded())

	require.NoError(t, client.Start(ctx))

	var lines []string
	for {
		frame, err := client.Next(ctx)
		require.NoError(t, err)
		if frame.Kind == link.KindStdout {
			lines = append(lines, frame.Text())
			continue
		}
		require.Equal(t, link.KindCompleted, frame.Kind)
		code, err := frame.ParseExitCode()
		require.NoError(t, err)
		assert.Equal(t, 0, code)
		break
	}
	assert.Equal(t, []string{"hello\n", "world\n"}, lines)
}

func TestClientUploadRejected(t *testing.T) {
	hub := &linktest.Hub{
		Name:   "Prime",
		Script: linktest.Script{RejectUpload: "storage full"},
	}
	client := connect(t, hub)

	err := client.Upload(context.Background(), []byte("x"), 10)
	var rejected *link.RejectedError
	require.True(t, errors.As(err, &rejected))
	assert.Equal(t, "storage full", rejected.Reason)
}

func TestClientStreamDrop(t *testing.T) {
	hub := &linktest.Hub{
		Name:   "City",
		Script: linktest.Script{Lines: []string{"one"}, Drop: true},
	}
	client := connect(t, hub)
	ctx := context.Background()

	require.NoError(t, client.Upload(ctx, []byte("p"), 10))
	require.NoError(t, client.Start(ctx))

	frame, err := client.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, link.KindStdout, frame.Kind)

	_, err = client.Next(ctx)
	assert.ErrorIs(t, err, io.EOF)
}

func TestClientRequestTimeout(t *testing.T) {
	hub := &linktest.Hub{Name: "Prime"}
	transport := linktest.NewTransport(hub)
	conn, err := transport.Connect(context.Background(), "Prime")
	require.NoError(t, err)

	client := link.NewClient(silent{conn}, 20*time.Millisecond)
	_, err = client.HubType(context.Background())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

// silent swallows every outgoing frame so no reply ever arrives.
type silent struct{ link.Connection }

func (silent) Send(context.Context, []byte) error { return nil }
