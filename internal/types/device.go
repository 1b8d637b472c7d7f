package types

import (
	"fmt"
	"time"
)

// HubType identifies the family of a hub as reported by its firmware.
type HubType string

const (
	HubTypeInventor  HubType = "InventorHub"
	HubTypePrime     HubType = "PrimeHub"
	HubTypeTechnic   HubType = "TechnicHub"
	HubTypeCity      HubType = "CityHub"
	HubTypeEssential HubType = "EssentialHub"
	HubTypeMove      HubType = "MoveHub"
	HubTypeUnknown   HubType = "Unknown"
)

var knownHubTypes = []HubType{
	HubTypeInventor,
	HubTypePrime,
	HubTypeTechnic,
	HubTypeCity,
	HubTypeEssential,
	HubTypeMove,
}

// ParseHubType maps a reported identifier onto the closed set of hub types.
func ParseHubType(s string) HubType {
	for _, t := range knownHubTypes {
		if string(t) == s {
			return t
		}
	}
	return HubTypeUnknown
}

// CapabilityClass is the closed set of peripheral classes a port can hold.
type CapabilityClass string

const (
	ClassMotor               CapabilityClass = "motor"
	ClassDCMotor             CapabilityClass = "dc_motor"
	ClassColorSensor         CapabilityClass = "color_sensor"
	ClassColorDistanceSensor CapabilityClass = "color_distance_sensor"
	ClassUltrasonicSensor    CapabilityClass = "ultrasonic_sensor"
	ClassForceSensor         CapabilityClass = "force_sensor"
	ClassTiltSensor          CapabilityClass = "tilt_sensor"
	ClassInfraredSensor      CapabilityClass = "infrared_sensor"
	ClassLight               CapabilityClass = "light"
	ClassLightMatrix         CapabilityClass = "light_matrix"
	ClassUnknown             CapabilityClass = "unknown"
)

// CapabilityClasses lists every class except ClassUnknown.
var CapabilityClasses = []CapabilityClass{
	ClassMotor,
	ClassDCMotor,
	ClassColorSensor,
	ClassColorDistanceSensor,
	ClassUltrasonicSensor,
	ClassForceSensor,
	ClassTiltSensor,
	ClassInfraredSensor,
	ClassLight,
	ClassLightMatrix,
}

// ParseCapabilityClass returns ClassUnknown for anything outside the set.
func ParseCapabilityClass(s string) CapabilityClass {
	for _, c := range CapabilityClasses {
		if string(c) == s {
			return c
		}
	}
	return ClassUnknown
}

// PortLetters is the full connector set; hubs expose a prefix of it.
var PortLetters = []string{"A", "B", "C", "D", "E", "F"}

// Device is an immutable snapshot of one hub taken during discovery.
type Device struct {
	Name              string  `json:"name"`
	Address           string  `json:"address,omitempty"`
	Type              HubType `json:"type"`
	FirmwareVersion   string  `json:"firmware_version"`
	BatteryMillivolts int     `json:"battery_mv"`
}

// Identifier is the key used for exclusive access: the advertised name, or
// the address for unnamed hubs.
func (d Device) Identifier() string {
	if d.Name != "" {
		return d.Name
	}
	return d.Address
}

// PortDevice is the peripheral plugged into a port.
type PortDevice struct {
	Name     string          `json:"name"`
	Class    CapabilityClass `json:"class"`
	DeviceID uint16          `json:"device_id"`
	API      string          `json:"api,omitempty"`
}

// Port is one connector of a hub. Device is nil for an empty port.
type Port struct {
	Letter string      `json:"port"`
	Device *PortDevice `json:"device,omitempty"`
}

// HubConfig is what discovery produces and the hub inventory persists.
type HubConfig struct {
	Device       Device    `json:"device"`
	Ports        []Port    `json:"ports"`
	DiscoveredAt time.Time `json:"discovered_at"`
}

// Port returns the port with the given letter.
func (h *HubConfig) Port(letter string) (Port, bool) {
	for _, p := range h.Ports {
		if p.Letter == letter {
			return p, true
		}
	}
	return Port{}, false
}

// Occupied returns only the ports with a peripheral attached.
func (h *HubConfig) Occupied() []Port {
	out := make([]Port, 0, len(h.Ports))
	for _, p := range h.Ports {
		if p.Device != nil {
			out = append(out, p)
		}
	}
	return out
}

func (h *HubConfig) String() string {
	return fmt.Sprintf("%s %q (firmware %s, %d mV, %d ports)",
		h.Device.Type, h.Device.Identifier(), h.Device.FirmwareVersion,
		h.Device.BatteryMillivolts, len(h.Ports))
}
