// Package discovery finds hubs and reads their identity and port inventory.
package discovery

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/llll-robotics/llll/internal/catalog"
	"github.com/llll-robotics/llll/internal/config"
	"github.com/llll-robotics/llll/internal/devicelock"
	"github.com/llll-robotics/llll/internal/link"
	"github.com/llll-robotics/llll/internal/types"
)

type Engine struct {
	transport link.Transport
	locks     *devicelock.Registry
	catalog   *catalog.Catalog
	cfg       config.DiscoveryConfig
	logger    *zap.Logger
	now       func() time.Time
}

func NewEngine(
	transport link.Transport,
	locks *devicelock.Registry,
	cat *catalog.Catalog,
	cfg config.DiscoveryConfig,
	logger *zap.Logger,
) *Engine {
	return &Engine{
		transport: transport,
		locks:     locks,
		catalog:   cat,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
	}
}

// Scan lists advertising hubs, sorted by name, and ties each advertised
// name to its address in the lock registry.
func (e *Engine) Scan(ctx context.Context) ([]link.Advertisement, error) {
	ads, err := e.transport.Scan(ctx, e.cfg.ScanWindow)
	if err != nil {
		return nil, types.ConnectionError("scan failed", err)
	}
	sort.SliceStable(ads, func(i, j int) bool { return ads[i].Identifier() < ads[j].Identifier() })
	for _, ad := range ads {
		e.locks.Learn(ad.Name, ad.Address)
	}
	return ads, nil
}

// Resolve picks the hub to talk to. With a name, the first advertiser with
// exactly that name (or address) wins. Without one, a single advertiser is
// used and several are DiscoveryAmbiguous.
func (e *Engine) Resolve(ctx context.Context, name string) (link.Advertisement, error) {
	ads, err := e.Scan(ctx)
	if err != nil {
		return link.Advertisement{}, err
	}

	if name != "" {
		for _, ad := range ads {
			if ad.Name == name {
				return ad, nil
			}
		}
		for _, ad := range ads {
			if strings.EqualFold(ad.Address, name) {
				return ad, nil
			}
		}
		return link.Advertisement{}, types.ConnectionError(fmt.Sprintf("hub %q not found", name), nil)
	}

	switch len(ads) {
	case 0:
		return link.Advertisement{}, types.ConnectionError("no hubs found", nil)
	case 1:
		return ads[0], nil
	default:
		names := make([]string, len(ads))
		for i, ad := range ads {
			names[i] = ad.Identifier()
		}
		return link.Advertisement{}, types.DiscoveryAmbiguous(names)
	}
}

// Discover connects to one hub and builds a fresh HubConfig. The device lock
// is held for the whole call, keyed by the hub's address whichever way it
// was named. Any link failure aborts with ConnectionError
// and no partial result.
func (e *Engine) Discover(ctx context.Context, name string) (*types.HubConfig, error) {
	ad, err := e.Resolve(ctx, name)
	if err != nil {
		return nil, err
	}

	lease, err := e.locks.TryAcquire(ad.Identifier(), "discovery")
	if err != nil {
		return nil, err
	}
	defer lease.Release()

	e.logger.Info("Discovering hub",
		zap.String("hub", ad.Identifier()),
		zap.String("address", ad.Address))

	conn, err := e.transport.Connect(ctx, ad.Identifier())
	if err != nil {
		return nil, types.ConnectionError(fmt.Sprintf("failed to connect to %s", ad.Identifier()), err)
	}
	client := link.NewClient(conn, e.cfg.QueryTimeout)
	defer client.Close()

	hub, err := e.probe(ctx, client, ad)
	if err != nil {
		e.logger.Warn("Discovery aborted", zap.String("hub", ad.Identifier()), zap.Error(err))
		return nil, types.ConnectionError(fmt.Sprintf("discovery of %s aborted", ad.Identifier()), err)
	}

	e.logger.Info("Hub discovered",
		zap.String("hub", hub.Device.Identifier()),
		zap.String("type", string(hub.Device.Type)),
		zap.String("firmware", hub.Device.FirmwareVersion),
		zap.Int("occupied_ports", len(hub.Occupied())))
	return hub, nil
}

func (e *Engine) probe(ctx context.Context, client *link.Client, ad link.Advertisement) (*types.HubConfig, error) {
	hubType, err := client.HubType(ctx)
	if err != nil {
		return nil, fmt.Errorf("hub type: %w", err)
	}

	firmware, err := client.FirmwareVersion(ctx)
	if err != nil {
		return nil, fmt.Errorf("firmware version: %w", err)
	}

	battery, err := client.BatteryMillivolts(ctx)
	if err != nil {
		return nil, fmt.Errorf("battery voltage: %w", err)
	}

	name := ad.Name
	if name == "" {
		if name, err = client.HubName(ctx); err != nil {
			return nil, fmt.Errorf("hub name: %w", err)
		}
	}

	letters, err := client.Ports(ctx)
	if err != nil {
		return nil, fmt.Errorf("port list: %w", err)
	}

	ports := make([]types.Port, 0, len(letters))
	for _, letter := range orderPorts(letters) {
		port := types.Port{Letter: letter}

		id, ok, err := client.PortDevice(ctx, letter)
		if err != nil {
			return nil, fmt.Errorf("port %s: %w", letter, err)
		}
		if ok {
			dev := e.catalog.Classify(id)
			port.Device = &dev
		}
		ports = append(ports, port)
	}

	return &types.HubConfig{
		Device: types.Device{
			Name:              name,
			Address:           ad.Address,
			Type:              types.ParseHubType(hubType),
			FirmwareVersion:   firmware,
			BatteryMillivolts: battery,
		},
		Ports:        ports,
		DiscoveredAt: e.now().UTC(),
	}, nil
}

// orderPorts keeps known letters in A-F order and drops anything else, so
// repeated discoveries produce the same shape.
func orderPorts(reported []string) []string {
	present := make(map[string]bool, len(reported))
	for _, l := range reported {
		present[strings.ToUpper(l)] = true
	}

	out := make([]string, 0, len(present))
	for _, l := range types.PortLetters {
		if present[l] {
			out = append(out, l)
		}
	}
	return out
}
