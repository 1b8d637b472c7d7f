package system

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/llll-robotics/llll/internal/compiler"
	"github.com/llll-robotics/llll/internal/config"
	"github.com/llll-robotics/llll/internal/hubstore"
	"github.com/llll-robotics/llll/internal/interfaces"
	"github.com/llll-robotics/llll/internal/link/linktest"
	"github.com/llll-robotics/llll/internal/types"
)

var passThrough = compiler.Func(func(ctx context.Context, path string) ([]byte, error) {
	if err := compiler.CheckSource(path); err != nil {
		return nil, err
	}
	return os.ReadFile(path)
})

func technicHub() *linktest.Hub {
	return &linktest.Hub{
		Name:      "Technic Hub",
		Address:   "90:84:2B:00:00:01",
		Type:      "TechnicHub",
		Firmware:  "3.5.0",
		BatteryMV: 8234,
		PortIDs:   map[string]uint16{"A": 48, "B": 61},
		PortNames: []string{"A", "B", "C", "D"},
		Script: linktest.Script{
			Lines:     []string{"Starting motor test...", "Motor rotated 360 degrees", "Battery: 8234 mV"},
			LineDelay: 5 * time.Millisecond,
		},
	}
}

func newManager(t *testing.T, hubs ...*linktest.Hub) (*LifecycleManager, *linktest.Transport) {
	t.Helper()
	ws := t.TempDir()
	cfg := config.Default(ws)
	cfg.Session.CancelGrace = 200 * time.Millisecond
	cfg.Session.AckTimeout = time.Second
	cfg.Discovery.ScanWindow = 10 * time.Millisecond
	cfg.Discovery.QueryTimeout = time.Second

	transport := linktest.NewTransport(hubs...)
	lm, err := NewLifecycleManager(context.Background(), cfg, transport, passThrough, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NoError(t, lm.Start())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		lm.Shutdown(ctx)
	})
	return lm, transport
}

func writeProgram(t *testing.T, lm *LifecycleManager, rel, src string) {
	t.Helper()
	path := filepath.Join(lm.Config().Workspace, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(src), 0644))
}

func TestDetectThenRunMotorTest(t *testing.T) {
	lm, _ := newManager(t, technicHub())
	ctx := context.Background()

	hub, err := lm.Discover(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, "Technic Hub", hub.Device.Name)
	assert.Len(t, hub.Occupied(), 2)

	_, err = os.Stat(filepath.Join(lm.Config().Workspace, hubstore.Filename))
	require.NoError(t, err)

	writeProgram(t, lm, "programs/motor_test.py", "print('Starting motor test...')\n")
	result := lm.Run(ctx, interfaces.RunRequest{Program: "programs/motor_test.py"})

	assert.Equal(t, types.StateCompleted, result.Status)
	assert.Equal(t, "Technic Hub", result.Device)
	assert.Equal(t, []string{"Starting motor test...", "Motor rotated 360 degrees", "Battery: 8234 mV"}, result.Output)
	require.NotEmpty(t, result.LogFile)

	logs, err := lm.ListLogs()
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, filepath.Base(result.LogFile), logs[0].Name)

	text, err := lm.ReadLog("")
	require.NoError(t, err)
	assert.Contains(t, text, "Motor rotated 360 degrees\n")
	assert.Contains(t, text, "status: completed\n")

	runs, err := lm.RunHistory(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, result.SessionID, runs[0].ID.String())
	assert.Equal(t, result.LogFile, runs[0].LogFile)
}

func TestRunUsesInventoryTimeout(t *testing.T) {
	hub := technicHub()
	hub.Script.Hang = true
	lm, _ := newManager(t, hub)

	inv := hubstore.NewInventory()
	inv.Settings.Timeout = 1
	require.NoError(t, hubstore.New(lm.Config().Workspace).Save(inv))

	writeProgram(t, lm, "loop.py", "while True: pass\n")
	start := time.Now()
	result := lm.Run(context.Background(), interfaces.RunRequest{Program: "loop.py"})

	assert.Equal(t, types.StateTimedOut, result.Status)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestRunFailureStillLogged(t *testing.T) {
	lm, transport := newManager(t, technicHub())

	result := lm.Run(context.Background(), interfaces.RunRequest{Program: "missing.py", Hub: "Technic Hub"})

	assert.Equal(t, types.StateFailed, result.Status)
	require.NotNil(t, result.Error)
	assert.Equal(t, types.KindCompile, result.Error.Kind)
	assert.Zero(t, transport.Contacts())
	assert.NotEmpty(t, result.LogFile)
}

func TestCancelWithoutHub(t *testing.T) {
	hub := technicHub()
	hub.Script.Hang = true
	lm, _ := newManager(t, hub)
	writeProgram(t, lm, "loop.py", "while True: pass\n")

	_, err := lm.Cancel("")
	assert.ErrorIs(t, err, types.ErrNotFound)

	done := make(chan *types.RunResult, 1)
	go func() {
		done <- lm.Run(context.Background(), interfaces.RunRequest{Program: "loop.py", Hub: "Technic Hub", Timeout: 30 * time.Second})
	}()

	require.Eventually(t, func() bool {
		active := lm.ActiveSessions()
		return len(active) == 1 && active[0].State == types.StateCapturing
	}, 2*time.Second, 10*time.Millisecond)

	id, err := lm.Cancel("")
	require.NoError(t, err)

	select {
	case result := <-done:
		assert.Equal(t, types.StateCancelled, result.Status)
		assert.Equal(t, id, result.SessionID)
	case <-time.After(2 * time.Second):
		t.Fatal("run did not stop after cancel")
	}
}

func TestGetHubInfoAndFirmware(t *testing.T) {
	lm, _ := newManager(t, technicHub())

	_, err := lm.GetHubInfo("")
	assert.ErrorIs(t, err, types.ErrNotFound)
	_, err = lm.InventoryText()
	assert.ErrorIs(t, err, types.ErrNotFound)

	_, err = lm.Discover(context.Background(), "Technic Hub")
	require.NoError(t, err)

	info, err := lm.GetHubInfo("")
	require.NoError(t, err)
	assert.Equal(t, "3.5.0", info.Device.FirmwareVersion)

	text, err := lm.InventoryText()
	require.NoError(t, err)
	assert.Contains(t, text, "Technic Hub")

	_, err = lm.GetHubInfo("Prime Hub")
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestListPrograms(t *testing.T) {
	lm, _ := newManager(t)
	writeProgram(t, lm, "motor_test.py", "")
	writeProgram(t, lm, "programs/drive.py", "print(1)\n")
	writeProgram(t, lm, "programs/notes.txt", "")
	writeProgram(t, lm, ".venv/lib/site.py", "")
	writeProgram(t, lm, "venv/x.py", "")
	writeProgram(t, lm, "programs/__pycache__/drive.py", "")

	programs, err := lm.ListPrograms("")
	require.NoError(t, err)

	var paths []string
	for _, p := range programs {
		paths = append(paths, p.Path)
	}
	assert.Equal(t, []string{"motor_test.py", "programs/drive.py"}, paths)

	programs, err = lm.ListPrograms("programs")
	require.NoError(t, err)
	require.Len(t, programs, 1)
	assert.Equal(t, int64(9), programs[0].Size)

	_, err = lm.ListPrograms("nope")
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestStatusAndShutdown(t *testing.T) {
	lm, _ := newManager(t)

	status := lm.GetCurrentStatus()
	assert.Equal(t, "RUNNING", status.State)
	assert.Equal(t, "sqlite", status.HistoryDriver)
	assert.Zero(t, status.ActiveSessions)

	require.NoError(t, lm.Shutdown(context.Background()))
	assert.Equal(t, "STOPPED", lm.GetCurrentStatus().State)
}

func TestValidateTransition(t *testing.T) {
	assert.NoError(t, ValidateTransition(StateInitializing, StateRunning))
	assert.NoError(t, ValidateTransition(StateRunning, StateStopping))
	assert.Error(t, ValidateTransition(StateStopped, StateRunning))
}
