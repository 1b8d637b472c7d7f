// Package catalog classifies port peripherals by their vendor device ID.
package catalog

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/llll-robotics/llll/internal/types"
)

//go:embed peripherals.yaml
var builtinYAML []byte

type entry struct {
	ID    uint16 `yaml:"id" json:"id"`
	Name  string `yaml:"name" json:"name"`
	Class string `yaml:"class" json:"class"`
	API   string `yaml:"api,omitempty" json:"api,omitempty"`
}

type document struct {
	Version     int     `yaml:"version" json:"version"`
	Peripherals []entry `yaml:"peripherals" json:"peripherals"`
}

// Catalog is a static lookup table from device ID to peripheral. It is
// read-only after construction.
type Catalog struct {
	byID map[uint16]types.PortDevice
}

// Builtin returns the catalog compiled into the binary.
func Builtin() (*Catalog, error) {
	return Parse(builtinYAML)
}

// MustBuiltin panics if the embedded catalog is invalid.
func MustBuiltin() *Catalog {
	c, err := Builtin()
	if err != nil {
		panic(err)
	}
	return c
}

// Load reads a catalog file and layers it over the builtin one; entries in
// the file win.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}

	overlay, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("catalog %s: %w", path, err)
	}

	base, err := Builtin()
	if err != nil {
		return nil, err
	}
	for id, dev := range overlay.byID {
		base.byID[id] = dev
	}
	return base, nil
}

// Parse decodes and validates a catalog document.
func Parse(data []byte) (*Catalog, error) {
	var raw interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("invalid YAML: %w", err)
	}

	validator, err := NewValidator()
	if err != nil {
		return nil, err
	}
	if err := validator.Validate(raw); err != nil {
		return nil, err
	}

	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode catalog: %w", err)
	}

	c := &Catalog{byID: make(map[uint16]types.PortDevice, len(doc.Peripherals))}
	for _, e := range doc.Peripherals {
		if _, dup := c.byID[e.ID]; dup {
			return nil, fmt.Errorf("duplicate device id %d", e.ID)
		}
		c.byID[e.ID] = types.PortDevice{
			Name:     e.Name,
			Class:    types.ParseCapabilityClass(e.Class),
			DeviceID: e.ID,
			API:      e.API,
		}
	}
	return c, nil
}

// Classify never fails: unknown IDs map to ClassUnknown.
func (c *Catalog) Classify(id uint16) types.PortDevice {
	if dev, ok := c.byID[id]; ok {
		return dev
	}
	return types.PortDevice{
		Name:     fmt.Sprintf("Unknown (ID %d)", id),
		Class:    types.ClassUnknown,
		DeviceID: id,
	}
}

func (c *Catalog) Len() int {
	return len(c.byID)
}
