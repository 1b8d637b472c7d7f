// Package system wires the hub services together and exposes them to the
// caller surfaces as an interfaces.HubService.
package system

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/llll-robotics/llll/internal/catalog"
	"github.com/llll-robotics/llll/internal/compiler"
	"github.com/llll-robotics/llll/internal/config"
	"github.com/llll-robotics/llll/internal/devicelock"
	"github.com/llll-robotics/llll/internal/discovery"
	"github.com/llll-robotics/llll/internal/firmware"
	"github.com/llll-robotics/llll/internal/hubstore"
	"github.com/llll-robotics/llll/internal/interfaces"
	"github.com/llll-robotics/llll/internal/link"
	"github.com/llll-robotics/llll/internal/runlog"
	"github.com/llll-robotics/llll/internal/session"
	"github.com/llll-robotics/llll/internal/storage"
	"github.com/llll-robotics/llll/internal/types"
)

// CatalogFile in the workspace overrides entries of the builtin peripheral
// catalog.
const CatalogFile = "peripherals.yaml"

const recordTimeout = 5 * time.Second

// skipDirs are never searched for programs.
var skipDirs = map[string]bool{
	"venv":         true,
	"__pycache__":  true,
	"node_modules": true,
	runlog.Dir:     true,
}

type LifecycleManager struct {
	config       *config.Config
	transport    link.Transport
	locks        *devicelock.Registry
	discovery    *discovery.Engine
	orchestrator *session.Orchestrator
	streamer     *session.Streamer
	hubs         *hubstore.Store
	logs         *runlog.Store
	history      *storage.History
	firmware     *firmware.ReleaseChecker
	logger       *zap.Logger

	stateMu      sync.RWMutex
	currentState SystemState

	shutdownOnce sync.Once
}

var _ interfaces.HubService = (*LifecycleManager)(nil)

func NewLifecycleManager(
	ctx context.Context,
	cfg *config.Config,
	transport link.Transport,
	comp compiler.Compiler,
	logger *zap.Logger,
) (*LifecycleManager, error) {
	cat, err := loadCatalog(cfg.Workspace)
	if err != nil {
		return nil, err
	}

	history, err := storage.Open(ctx, cfg.History, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open run history: %w", err)
	}

	locks := devicelock.NewRegistry()
	streamer := session.NewStreamer()
	engine := discovery.NewEngine(transport, locks, cat, cfg.Discovery, logger)

	return &LifecycleManager{
		config:       cfg,
		transport:    transport,
		locks:        locks,
		discovery:    engine,
		orchestrator: session.NewOrchestrator(transport, comp, engine, locks, streamer, cfg.Session, logger),
		streamer:     streamer,
		hubs:         hubstore.New(cfg.Workspace),
		logs:         runlog.New(cfg.Workspace, logger),
		history:      history,
		firmware:     firmware.NewReleaseChecker(cfg.Firmware, logger),
		logger:       logger,
		currentState: StateInitializing,
	}, nil
}

func loadCatalog(workspace string) (*catalog.Catalog, error) {
	path := filepath.Join(workspace, CatalogFile)
	if _, err := os.Stat(path); err == nil {
		return catalog.Load(path)
	}
	return catalog.Builtin()
}

func (lm *LifecycleManager) Config() *config.Config {
	return lm.config
}

func (lm *LifecycleManager) Streamer() *session.Streamer {
	return lm.streamer
}

// Start marks the service ready for callers.
func (lm *LifecycleManager) Start() error {
	if err := lm.setState(StateRunning); err != nil {
		return err
	}
	lm.logger.Info("Hub service started",
		zap.String("workspace", lm.config.Workspace),
		zap.String("history_driver", lm.history.Driver()))
	return nil
}

// Shutdown cancels running sessions, waits for them to release their hubs
// and closes the history store.
func (lm *LifecycleManager) Shutdown(ctx context.Context) error {
	var shutdownErr error

	lm.shutdownOnce.Do(func() {
		lm.logger.Info("Shutting down hub service")
		if err := lm.setState(StateStopping); err != nil {
			lm.logger.Warn("Unexpected shutdown state", zap.Error(err))
		}

		for _, s := range lm.orchestrator.Active() {
			if id, err := uuid.Parse(s.ID); err == nil {
				lm.orchestrator.Cancel(id)
			}
		}

		ticker := time.NewTicker(20 * time.Millisecond)
		defer ticker.Stop()
	wait:
		for len(lm.orchestrator.Active()) > 0 {
			select {
			case <-ctx.Done():
				shutdownErr = fmt.Errorf("shutdown timeout exceeded")
				break wait
			case <-ticker.C:
			}
		}

		shutdownErr = multierr.Append(shutdownErr, lm.close())
		lm.setState(StateStopped)
	})

	return shutdownErr
}

func (lm *LifecycleManager) close() error {
	var err error
	if closer, ok := lm.transport.(io.Closer); ok {
		err = multierr.Append(err, closer.Close())
	}
	return multierr.Append(err, lm.history.Close())
}

func (lm *LifecycleManager) setState(state SystemState) error {
	lm.stateMu.Lock()
	defer lm.stateMu.Unlock()

	if err := ValidateTransition(lm.currentState, state); err != nil {
		return err
	}
	lm.currentState = state
	return nil
}

// GetCurrentStatus returns current service status
func (lm *LifecycleManager) GetCurrentStatus() interfaces.SystemStatus {
	lm.stateMu.RLock()
	state := lm.currentState
	lm.stateMu.RUnlock()

	known := 0
	if inv, err := lm.hubs.Load(); err == nil && inv != nil {
		known = len(inv.Hubs)
	}

	return interfaces.SystemStatus{
		State:          state.String(),
		KnownHubs:      known,
		ActiveSessions: len(lm.orchestrator.Active()),
		HistoryDriver:  lm.history.Driver(),
	}
}

// inventory loads the recorded hubs and teaches the lock registry their
// name and address pairs.
func (lm *LifecycleManager) inventory() *hubstore.Inventory {
	inv, err := lm.hubs.Load()
	if err != nil {
		lm.logger.Warn("Failed to load hub inventory", zap.Error(err))
		return nil
	}
	for _, hub := range inv.HubConfigs() {
		lm.locks.Learn(hub.Device.Name, hub.Device.Address)
	}
	return inv
}

// defaultHub resolves the hub for a request: the explicit name, then the
// first recorded hub. An empty result lets discovery pick the sole
// advertiser.
func (lm *LifecycleManager) defaultHub(explicit string) string {
	if explicit != "" {
		return explicit
	}
	if hub, ok := lm.inventory().Primary(); ok {
		return hub.Device.Identifier()
	}
	return ""
}

func (lm *LifecycleManager) defaultTimeout(explicit time.Duration) time.Duration {
	if explicit != 0 {
		return explicit
	}
	if t := lm.inventory().DefaultTimeout(); t > 0 {
		return t
	}
	return lm.config.Session.DefaultTimeout
}

func (lm *LifecycleManager) workspacePath(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(lm.config.Workspace, p)
}

// Run executes a program and records it in the run log and history.
func (lm *LifecycleManager) Run(ctx context.Context, req interfaces.RunRequest) *types.RunResult {
	result := lm.orchestrator.Run(ctx, session.Request{
		Program: lm.workspacePath(req.Program),
		Device:  lm.defaultHub(req.Hub),
		Timeout: lm.defaultTimeout(req.Timeout),
	})
	lm.record(result)
	return result
}

func (lm *LifecycleManager) record(result *types.RunResult) {
	path, err := lm.logs.Append(result)
	if err != nil {
		lm.logger.Warn("Failed to write run log",
			zap.String("session_id", result.SessionID),
			zap.Error(err))
	} else {
		result.LogFile = path
	}

	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()
	if err := lm.history.Save(ctx, result); err != nil {
		lm.logger.Warn("Failed to save run history",
			zap.String("session_id", result.SessionID),
			zap.Error(err))
	}
}

// Cancel stops the session on hub. With no hub it stops the only running
// session.
func (lm *LifecycleManager) Cancel(hub string) (string, error) {
	if hub != "" {
		lm.inventory()
		id, err := lm.orchestrator.CancelDevice(hub)
		if err != nil {
			return "", err
		}
		return id.String(), nil
	}

	active := lm.orchestrator.Active()
	switch len(active) {
	case 0:
		return "", types.NewError(types.KindNotFound, "no program is running", nil)
	case 1:
		id, err := uuid.Parse(active[0].ID)
		if err != nil {
			return "", err
		}
		if err := lm.orchestrator.Cancel(id); err != nil {
			return "", err
		}
		return active[0].ID, nil
	default:
		return "", types.NewError(types.KindInvalidRequest,
			fmt.Sprintf("%d programs are running, specify the hub", len(active)), nil)
	}
}

func (lm *LifecycleManager) ActiveSessions() []session.Status {
	return lm.orchestrator.Active()
}

// Discover probes a hub and records it in the workspace inventory.
func (lm *LifecycleManager) Discover(ctx context.Context, hub string) (*types.HubConfig, error) {
	cfg, err := lm.discovery.Discover(ctx, lm.defaultHub(hub))
	if err != nil {
		return nil, err
	}

	if _, err := lm.hubs.Record(cfg); err != nil {
		lm.logger.Warn("Failed to save hub inventory",
			zap.String("path", lm.hubs.Path()),
			zap.Error(err))
	}
	return cfg, nil
}

// GetHubInfo returns a recorded hub without contacting it.
func (lm *LifecycleManager) GetHubInfo(hub string) (*types.HubConfig, error) {
	inv, err := lm.hubs.Load()
	if err != nil {
		return nil, err
	}

	var (
		cfg *types.HubConfig
		ok  bool
	)
	if hub == "" {
		cfg, ok = inv.Primary()
	} else {
		cfg, ok = inv.Find(hub)
	}
	if !ok {
		if hub == "" {
			return nil, types.NewError(types.KindNotFound, "no hub recorded yet, run detection first", nil)
		}
		return nil, types.NewError(types.KindNotFound, fmt.Sprintf("hub %q is not recorded", hub), nil)
	}
	return cfg, nil
}

// InventoryText renders the workspace inventory.
func (lm *LifecycleManager) InventoryText() (string, error) {
	inv, err := lm.hubs.Load()
	if err != nil {
		return "", err
	}
	if inv == nil {
		return "", types.NewError(types.KindNotFound, "no hub recorded yet, run detection first", nil)
	}
	return inv.Format(), nil
}

// ListPrograms finds .py files below dir (the workspace when empty).
// Hidden directories, virtualenvs and caches are skipped.
func (lm *LifecycleManager) ListPrograms(dir string) ([]interfaces.Program, error) {
	root := lm.config.Workspace
	if dir != "" {
		root = lm.workspacePath(dir)
	}

	info, err := os.Stat(root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, types.NewError(types.KindNotFound, fmt.Sprintf("directory not found: %s", dir), nil)
		}
		return nil, err
	}
	if !info.IsDir() {
		return nil, types.NewError(types.KindInvalidRequest, fmt.Sprintf("not a directory: %s", dir), nil)
	}

	programs := make([]interfaces.Program, 0)
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != root && (strings.HasPrefix(d.Name(), ".") || skipDirs[d.Name()]) {
				return filepath.SkipDir
			}
			return nil
		}
		if filepath.Ext(d.Name()) != ".py" {
			return nil
		}

		fi, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(lm.config.Workspace, path)
		if err != nil {
			rel = path
		}
		programs = append(programs, interfaces.Program{
			Path:     filepath.ToSlash(rel),
			Size:     fi.Size(),
			Modified: fi.ModTime(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list programs: %w", err)
	}

	sort.Slice(programs, func(i, j int) bool { return programs[i].Path < programs[j].Path })
	return programs, nil
}

func (lm *LifecycleManager) ListLogs() ([]runlog.Entry, error) {
	return lm.logs.List()
}

func (lm *LifecycleManager) ReadLog(name string) (string, error) {
	return lm.logs.Read(name)
}

func (lm *LifecycleManager) RunHistory(ctx context.Context, hub string, limit int) ([]storage.Run, error) {
	return lm.history.Recent(ctx, hub, limit)
}

// CheckFirmware compares a recorded hub's firmware with the latest release.
func (lm *LifecycleManager) CheckFirmware(ctx context.Context, hub string) (*firmware.Report, error) {
	cfg, err := lm.GetHubInfo(hub)
	if err != nil {
		return nil, err
	}
	return lm.firmware.Check(ctx, cfg.Device.FirmwareVersion, cfg.Device.Type), nil
}

// Firmware exposes the release checker for downloads.
func (lm *LifecycleManager) Firmware() *firmware.ReleaseChecker {
	return lm.firmware
}
