// Package hubstore keeps the discovered hubs and workspace settings in
// llll.toml.
package hubstore

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/llll-robotics/llll/internal/types"
)

type Settings struct {
	// Timeout is the default run timeout in seconds.
	Timeout int `toml:"timeout,omitempty"`
}

type PortRecord struct {
	Device string `toml:"device"`
	Class  string `toml:"class"`
	ID     uint16 `toml:"id"`
	API    string `toml:"api,omitempty"`
}

type HubRecord struct {
	Type           string                `toml:"type"`
	Name           string                `toml:"name,omitempty"`
	Address        string                `toml:"address,omitempty"`
	Firmware       string                `toml:"firmware,omitempty"`
	BatteryVoltage int                   `toml:"battery_voltage,omitempty"`
	DiscoveredAt   time.Time             `toml:"discovered_at"`
	PortLetters    []string              `toml:"port_letters,omitempty"`
	Ports          map[string]PortRecord `toml:"ports,omitempty"`
}

// Inventory is the content of llll.toml.
type Inventory struct {
	Settings Settings    `toml:"settings"`
	Hubs     []HubRecord `toml:"hubs"`
}

// NewInventory returns an inventory with default settings.
func NewInventory() *Inventory {
	return &Inventory{Settings: Settings{Timeout: 60}}
}

func recordFrom(hub *types.HubConfig) HubRecord {
	rec := HubRecord{
		Type:           string(hub.Device.Type),
		Name:           hub.Device.Name,
		Address:        hub.Device.Address,
		Firmware:       hub.Device.FirmwareVersion,
		BatteryVoltage: hub.Device.BatteryMillivolts,
		DiscoveredAt:   hub.DiscoveredAt.UTC(),
		Ports:          make(map[string]PortRecord),
	}
	for _, p := range hub.Ports {
		rec.PortLetters = append(rec.PortLetters, p.Letter)
		if p.Device == nil {
			continue
		}
		rec.Ports[p.Letter] = PortRecord{
			Device: p.Device.Name,
			Class:  string(p.Device.Class),
			ID:     p.Device.DeviceID,
			API:    p.Device.API,
		}
	}
	return rec
}

// HubConfig converts a stored record back into the discovery shape.
func (r HubRecord) HubConfig() *types.HubConfig {
	letters := r.PortLetters
	if len(letters) == 0 {
		for l := range r.Ports {
			letters = append(letters, l)
		}
		sort.Strings(letters)
	}

	ports := make([]types.Port, 0, len(letters))
	for _, l := range letters {
		port := types.Port{Letter: l}
		if rec, ok := r.Ports[l]; ok {
			port.Device = &types.PortDevice{
				Name:     rec.Device,
				Class:    types.ParseCapabilityClass(rec.Class),
				DeviceID: rec.ID,
				API:      rec.API,
			}
		}
		ports = append(ports, port)
	}

	return &types.HubConfig{
		Device: types.Device{
			Name:              r.Name,
			Address:           r.Address,
			Type:              types.ParseHubType(r.Type),
			FirmwareVersion:   r.Firmware,
			BatteryMillivolts: r.BatteryVoltage,
		},
		Ports:        ports,
		DiscoveredAt: r.DiscoveredAt,
	}
}

// Upsert replaces the hub with the same identifier or appends it.
func (inv *Inventory) Upsert(hub *types.HubConfig) {
	rec := recordFrom(hub)
	id := hub.Device.Identifier()
	for i, existing := range inv.Hubs {
		if existing.HubConfig().Device.Identifier() == id {
			inv.Hubs[i] = rec
			return
		}
	}
	inv.Hubs = append(inv.Hubs, rec)
}

// Primary is the hub runs target by default: the first one recorded.
func (inv *Inventory) Primary() (*types.HubConfig, bool) {
	if inv == nil || len(inv.Hubs) == 0 {
		return nil, false
	}
	return inv.Hubs[0].HubConfig(), true
}

// Find looks a hub up by name or address.
func (inv *Inventory) Find(identifier string) (*types.HubConfig, bool) {
	if inv == nil {
		return nil, false
	}
	for _, h := range inv.Hubs {
		if h.Name == identifier || (h.Address != "" && strings.EqualFold(h.Address, identifier)) {
			return h.HubConfig(), true
		}
	}
	return nil, false
}

func (inv *Inventory) HubConfigs() []*types.HubConfig {
	if inv == nil {
		return nil
	}
	out := make([]*types.HubConfig, len(inv.Hubs))
	for i, h := range inv.Hubs {
		out[i] = h.HubConfig()
	}
	return out
}

// DefaultTimeout returns the configured run timeout, or 0 when unset.
func (inv *Inventory) DefaultTimeout() time.Duration {
	if inv == nil || inv.Settings.Timeout <= 0 {
		return 0
	}
	return time.Duration(inv.Settings.Timeout) * time.Second
}

// Format renders the inventory for people and agents.
func (inv *Inventory) Format() string {
	var b strings.Builder
	for i, h := range inv.Hubs {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "Hub: %s\n", h.Type)
		if h.Name != "" {
			fmt.Fprintf(&b, "Name: %s\n", h.Name)
		}
		if h.Firmware != "" {
			fmt.Fprintf(&b, "Firmware: %s\n", h.Firmware)
		}
		if h.BatteryVoltage > 0 {
			fmt.Fprintf(&b, "Battery: %d mV\n", h.BatteryVoltage)
		}

		hub := h.HubConfig()
		occupied := hub.Occupied()
		if len(occupied) == 0 {
			b.WriteString("Ports: none detected\n")
			continue
		}
		b.WriteString("Ports:\n")
		for _, p := range occupied {
			fmt.Fprintf(&b, "  %s: %s (%s)\n", p.Letter, p.Device.Name, p.Device.Class)
		}
	}

	if inv.Settings.Timeout > 0 {
		b.WriteString("\nSettings:\n")
		fmt.Fprintf(&b, "  timeout: %d\n", inv.Settings.Timeout)
	}
	return strings.TrimRight(b.String(), "\n")
}
