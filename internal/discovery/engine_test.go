package discovery

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/llll-robotics/llll/internal/catalog"
	"github.com/llll-robotics/llll/internal/config"
	"github.com/llll-robotics/llll/internal/devicelock"
	"github.com/llll-robotics/llll/internal/link/linktest"
	"github.com/llll-robotics/llll/internal/types"
)

func technicHub() *linktest.Hub {
	return &linktest.Hub{
		Name:      "Technic Hub",
		Address:   "90:84:2B:00:00:01",
		Type:      "TechnicHub",
		Firmware:  "3.5.0",
		BatteryMV: 8234,
		PortNames: []string{"D", "A", "B", "C"},
		PortIDs:   map[string]uint16{"A": 48, "B": 62, "D": 999},
	}
}

func newEngine(t *testing.T, hubs ...*linktest.Hub) (*Engine, *linktest.Transport, *devicelock.Registry) {
	t.Helper()
	transport := linktest.NewTransport(hubs...)
	locks := devicelock.NewRegistry()
	cfg := config.Default(t.TempDir())
	return NewEngine(transport, locks, catalog.MustBuiltin(), cfg.Discovery, zap.NewNop()), transport, locks
}

func TestDiscoverSingleHub(t *testing.T) {
	engine, transport, locks := newEngine(t, technicHub())

	hub, err := engine.Discover(context.Background(), "")
	require.NoError(t, err)

	assert.Equal(t, "Technic Hub", hub.Device.Name)
	assert.Equal(t, types.HubTypeTechnic, hub.Device.Type)
	assert.Equal(t, "3.5.0", hub.Device.FirmwareVersion)
	assert.Equal(t, 8234, hub.Device.BatteryMillivolts)
	assert.False(t, hub.DiscoveredAt.IsZero())

	require.Len(t, hub.Ports, 4)
	assert.Equal(t, "A", hub.Ports[0].Letter)
	require.NotNil(t, hub.Ports[0].Device)
	assert.Equal(t, types.ClassMotor, hub.Ports[0].Device.Class)
	assert.Equal(t, types.ClassUltrasonicSensor, hub.Ports[1].Device.Class)
	assert.Nil(t, hub.Ports[2].Device)
	assert.Equal(t, types.ClassUnknown, hub.Ports[3].Device.Class)

	assert.False(t, locks.Held("Technic Hub"))
	assert.True(t, transport.AllClosed())
}

func TestDiscoverIsIdempotentInShape(t *testing.T) {
	hw := technicHub()
	engine, _, _ := newEngine(t, hw)

	first, err := engine.Discover(context.Background(), "Technic Hub")
	require.NoError(t, err)

	hw.BatteryMV = 7900
	second, err := engine.Discover(context.Background(), "Technic Hub")
	require.NoError(t, err)

	shape := func(h *types.HubConfig) []string {
		var out []string
		for _, p := range h.Ports {
			class := "empty"
			if p.Device != nil {
				class = string(p.Device.Class)
			}
			out = append(out, p.Letter+":"+class)
		}
		return out
	}
	assert.Equal(t, shape(first), shape(second))
	assert.NotEqual(t, first.Device.BatteryMillivolts, second.Device.BatteryMillivolts)
}

func TestDiscoverAmbiguous(t *testing.T) {
	other := technicHub()
	other.Name = "City Hub"
	other.Address = "90:84:2B:00:00:02"
	engine, transport, _ := newEngine(t, technicHub(), other)

	_, err := engine.Discover(context.Background(), "")
	assert.ErrorIs(t, err, types.ErrDiscoveryAmbiguous)
	assert.Equal(t, 0, transport.Connects())

	hub, err := engine.Discover(context.Background(), "City Hub")
	require.NoError(t, err)
	assert.Equal(t, "City Hub", hub.Device.Name)
}

func TestDiscoverNamedHubMissing(t *testing.T) {
	engine, _, _ := newEngine(t, technicHub())

	_, err := engine.Discover(context.Background(), "Prime Hub")
	assert.ErrorIs(t, err, types.ErrConnection)
}

func TestDiscoverNoHubs(t *testing.T) {
	engine, _, _ := newEngine(t)

	_, err := engine.Discover(context.Background(), "")
	assert.ErrorIs(t, err, types.ErrConnection)
}

func TestDiscoverDropMidEnumeration(t *testing.T) {
	hw := technicHub()
	hw.DropAfterQueries = 5
	engine, transport, locks := newEngine(t, hw)

	hub, err := engine.Discover(context.Background(), "")
	assert.Nil(t, hub)
	assert.ErrorIs(t, err, types.ErrConnection)
	assert.False(t, locks.Held("Technic Hub"))
	assert.True(t, transport.AllClosed())
}

func TestDiscoverBusyDevice(t *testing.T) {
	engine, transport, locks := newEngine(t, technicHub())

	lease, err := locks.TryAcquire("Technic Hub", "session")
	require.NoError(t, err)
	defer lease.Release()

	_, err = engine.Discover(context.Background(), "")
	assert.ErrorIs(t, err, types.ErrDeviceBusy)
	assert.Equal(t, 0, transport.Connects())
}

func TestDiscoverByNameBusyWhileHeldByAddress(t *testing.T) {
	hw := technicHub()
	engine, transport, locks := newEngine(t, hw)

	lease, err := locks.TryAcquire(hw.Address, "session")
	require.NoError(t, err)
	defer lease.Release()

	for _, name := range []string{"Technic Hub", hw.Address, ""} {
		_, err = engine.Discover(context.Background(), name)
		assert.ErrorIs(t, err, types.ErrDeviceBusy, "discover %q", name)
	}
	assert.Equal(t, 0, transport.Connects())
}

func TestDiscoverByAddressBusyWhileHeldByName(t *testing.T) {
	hw := technicHub()
	engine, transport, locks := newEngine(t, hw)

	lease, err := locks.TryAcquire("Technic Hub", "session")
	require.NoError(t, err)
	defer lease.Release()

	_, err = engine.Discover(context.Background(), hw.Address)
	assert.ErrorIs(t, err, types.ErrDeviceBusy)
	assert.Equal(t, 0, transport.Connects())
	assert.True(t, locks.Held(hw.Address))
}

func TestOrderPorts(t *testing.T) {
	assert.Equal(t, []string{"A", "C", "F"}, orderPorts([]string{"f", "C", "A", "Z"}))
}
