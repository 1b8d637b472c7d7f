package hubstore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"

	"github.com/llll-robotics/llll/internal/types"
)

// Filename is the inventory file in the workspace root.
const Filename = "llll.toml"

type Store struct {
	path string
}

func New(workspace string) *Store {
	return &Store{path: filepath.Join(workspace, Filename)}
}

func (s *Store) Path() string {
	return s.path
}

// Load returns nil, nil when the file does not exist.
func (s *Store) Load() (*Inventory, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read %s: %w", s.path, err)
	}

	var inv Inventory
	if err := toml.Unmarshal(data, &inv); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", s.path, err)
	}
	return &inv, nil
}

// Save writes the inventory through a temp file and rename, so a crash
// never leaves a half-written file behind.
func (s *Store) Save(inv *Inventory) error {
	data, err := toml.Marshal(inv)
	if err != nil {
		return fmt.Errorf("failed to encode inventory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".llll-*.toml")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write inventory: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write inventory: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", s.path, err)
	}
	return nil
}

// Record stores a freshly discovered hub, creating the file if needed.
func (s *Store) Record(hub *types.HubConfig) (*Inventory, error) {
	inv, err := s.Load()
	if err != nil {
		return nil, err
	}
	if inv == nil {
		inv = NewInventory()
	}

	inv.Upsert(hub)
	if err := s.Save(inv); err != nil {
		return nil, err
	}
	return inv, nil
}
