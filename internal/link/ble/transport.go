// Package ble carries link frames over Bluetooth Low Energy: one frame per
// write on the RX characteristic, one frame per notification on TX.
package ble

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"tinygo.org/x/bluetooth"

	"github.com/llll-robotics/llll/internal/config"
	"github.com/llll-robotics/llll/internal/link"
)

type Transport struct {
	adapter *bluetooth.Adapter
	cfg     config.LinkConfig
	logger  *zap.Logger

	serviceUUID bluetooth.UUID
	rxUUID      bluetooth.UUID
	txUUID      bluetooth.UUID

	enableOnce sync.Once
	enableErr  error

	mu    sync.Mutex
	seen  map[string]bluetooth.Address
	conns map[string]*Conn
}

func NewTransport(cfg config.LinkConfig, logger *zap.Logger) (*Transport, error) {
	service, err := bluetooth.ParseUUID(cfg.ServiceUUID)
	if err != nil {
		return nil, fmt.Errorf("invalid service UUID: %w", err)
	}
	rx, err := bluetooth.ParseUUID(cfg.RxCharUUID)
	if err != nil {
		return nil, fmt.Errorf("invalid rx characteristic UUID: %w", err)
	}
	tx, err := bluetooth.ParseUUID(cfg.TxCharUUID)
	if err != nil {
		return nil, fmt.Errorf("invalid tx characteristic UUID: %w", err)
	}

	return &Transport{
		adapter:     bluetooth.DefaultAdapter,
		cfg:         cfg,
		logger:      logger,
		serviceUUID: service,
		rxUUID:      rx,
		txUUID:      tx,
		seen:        make(map[string]bluetooth.Address),
		conns:       make(map[string]*Conn),
	}, nil
}

func (t *Transport) enable() error {
	t.enableOnce.Do(func() {
		if t.adapter == nil {
			t.enableErr = fmt.Errorf("no bluetooth adapter")
			return
		}
		if err := t.adapter.Enable(); err != nil {
			t.enableErr = fmt.Errorf("enable bluetooth adapter: %w", err)
			return
		}
		t.adapter.SetConnectHandler(t.onConnectionChange)
	})
	return t.enableErr
}

func (t *Transport) onConnectionChange(device bluetooth.Device, connected bool) {
	if connected {
		return
	}

	addr := device.Address.String()
	t.mu.Lock()
	conn := t.conns[addr]
	delete(t.conns, addr)
	t.mu.Unlock()

	if conn != nil {
		t.logger.Info("Hub disconnected", zap.String("address", addr))
		conn.remoteClosed()
	}
}

func (t *Transport) matches(name string) bool {
	if name == "" {
		return false
	}
	if len(t.cfg.NamePrefixes) == 0 {
		return true
	}
	for _, prefix := range t.cfg.NamePrefixes {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}

// Scan collects advertisements for the window. Adapter.Scan blocks until
// StopScan, so it runs in its own goroutine.
func (t *Transport) Scan(ctx context.Context, window time.Duration) ([]link.Advertisement, error) {
	if err := t.enable(); err != nil {
		return nil, err
	}

	var mu sync.Mutex
	found := make(map[string]link.Advertisement)
	addresses := make(map[string]bluetooth.Address)

	done := make(chan error, 1)
	go func() {
		done <- t.adapter.Scan(func(adapter *bluetooth.Adapter, result bluetooth.ScanResult) {
			name := result.LocalName()
			if !t.matches(name) && !result.HasServiceUUID(t.serviceUUID) {
				return
			}

			addr := result.Address.String()
			mu.Lock()
			found[addr] = link.Advertisement{Name: name, Address: addr, RSSI: int(result.RSSI)}
			addresses[addr] = result.Address
			mu.Unlock()
		})
	}()

	timer := time.NewTimer(window)
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-ctx.Done():
	case err := <-done:
		if err != nil {
			return nil, fmt.Errorf("scan failed: %w", err)
		}
	}

	if err := t.adapter.StopScan(); err != nil {
		t.logger.Debug("Stop scan failed", zap.Error(err))
	}

	mu.Lock()
	defer mu.Unlock()

	t.mu.Lock()
	ads := make([]link.Advertisement, 0, len(found))
	for addr, ad := range found {
		ads = append(ads, ad)
		t.seen[addr] = addresses[addr]
		if ad.Name != "" {
			t.seen[ad.Name] = addresses[addr]
		}
	}
	t.mu.Unlock()

	t.logger.Debug("Scan finished", zap.Int("hubs", len(ads)), zap.Duration("window", window))
	return ads, ctx.Err()
}

func (t *Transport) lookup(ctx context.Context, identifier string) (bluetooth.Address, error) {
	t.mu.Lock()
	addr, ok := t.seen[identifier]
	t.mu.Unlock()
	if ok {
		return addr, nil
	}

	if _, err := t.Scan(ctx, t.cfg.ConnectTimeout); err != nil {
		return bluetooth.Address{}, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if addr, ok := t.seen[identifier]; ok {
		return addr, nil
	}
	for key, addr := range t.seen {
		if strings.EqualFold(key, identifier) {
			return addr, nil
		}
	}
	return bluetooth.Address{}, fmt.Errorf("hub %q not found", identifier)
}

func (t *Transport) Connect(ctx context.Context, identifier string) (link.Connection, error) {
	if err := t.enable(); err != nil {
		return nil, err
	}

	addr, err := t.lookup(ctx, identifier)
	if err != nil {
		return nil, err
	}

	t.logger.Info("Connecting to hub", zap.String("hub", identifier), zap.String("address", addr.String()))

	device, err := t.adapter.Connect(addr, bluetooth.ConnectionParams{})
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", identifier, err)
	}

	services, err := device.DiscoverServices([]bluetooth.UUID{t.serviceUUID})
	if err != nil || len(services) == 0 {
		device.Disconnect()
		return nil, fmt.Errorf("hub %s does not expose the link service: %v", identifier, err)
	}

	chars, err := services[0].DiscoverCharacteristics([]bluetooth.UUID{t.rxUUID, t.txUUID})
	if err != nil {
		device.Disconnect()
		return nil, fmt.Errorf("discover characteristics: %w", err)
	}

	conn := newConn(device)
	for _, char := range chars {
		switch char.UUID() {
		case t.rxUUID:
			conn.rx = char
			conn.hasRx = true
		case t.txUUID:
			conn.tx = char
			conn.hasTx = true
		}
	}
	if !conn.hasRx || !conn.hasTx {
		device.Disconnect()
		return nil, fmt.Errorf("hub %s is missing link characteristics", identifier)
	}

	if err := conn.tx.EnableNotifications(conn.notify); err != nil {
		device.Disconnect()
		return nil, fmt.Errorf("enable notifications: %w", err)
	}

	t.mu.Lock()
	t.conns[addr.String()] = conn
	t.mu.Unlock()

	return conn, nil
}
