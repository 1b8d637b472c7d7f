package mcpserver

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/llll-robotics/llll/internal/compiler"
	"github.com/llll-robotics/llll/internal/config"
	"github.com/llll-robotics/llll/internal/link/linktest"
	"github.com/llll-robotics/llll/internal/system"
	"github.com/llll-robotics/llll/internal/types"
)

var passThrough = compiler.Func(func(ctx context.Context, path string) ([]byte, error) {
	if err := compiler.CheckSource(path); err != nil {
		return nil, err
	}
	return os.ReadFile(path)
})

func motorHub() *linktest.Hub {
	return &linktest.Hub{
		Name:      "Technic Hub",
		Address:   "90:84:2B:00:00:01",
		Type:      "TechnicHub",
		Firmware:  "3.6.1",
		BatteryMV: 8234,
		PortIDs:   map[string]uint16{"A": 48},
		PortNames: []string{"A", "B", "C", "D"},
		Script: linktest.Script{
			Lines: []string{"Starting motor test...", "Motor rotated 360 degrees", "Battery: 8234 mV"},
		},
	}
}

func setup(t *testing.T, hubs ...*linktest.Hub) (*mcp.ClientSession, string) {
	t.Helper()
	ws := t.TempDir()
	cfg := config.Default(ws)
	cfg.Discovery.ScanWindow = 10 * time.Millisecond
	cfg.Firmware.ReleaseURL = "http://127.0.0.1:1/unreachable"
	cfg.Firmware.HTTPTimeout = 200 * time.Millisecond

	logger := zaptest.NewLogger(t)
	lm, err := system.NewLifecycleManager(context.Background(), cfg, linktest.NewTransport(hubs...), passThrough, logger)
	require.NoError(t, err)
	require.NoError(t, lm.Start())

	s := New(lm, "test", logger)
	serverTransport, clientTransport := mcp.NewInMemoryTransports()

	ctx, cancel := context.WithCancel(context.Background())
	serverDone := make(chan error, 1)
	go func() {
		serverDone <- s.run(ctx, serverTransport)
	}()
	t.Cleanup(func() {
		cancel()
		<-serverDone
		lm.Shutdown(context.Background())
	})

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "1.0.0"}, nil)
	session, err := client.Connect(ctx, clientTransport, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = session.Close() })

	return session, ws
}

func call(t *testing.T, session *mcp.ClientSession, name string, args map[string]any) (string, bool) {
	t.Helper()
	result, err := session.CallTool(context.Background(), &mcp.CallToolParams{Name: name, Arguments: args})
	require.NoError(t, err)
	require.Len(t, result.Content, 1)
	tc, ok := result.Content[0].(*mcp.TextContent)
	require.True(t, ok)
	return tc.Text, result.IsError
}

func TestListsAllTools(t *testing.T) {
	session, _ := setup(t)

	result, err := session.ListTools(context.Background(), nil)
	require.NoError(t, err)

	var names []string
	for _, tool := range result.Tools {
		names = append(names, tool.Name)
	}
	assert.ElementsMatch(t, []string{
		"detect_hub", "get_hub_info", "run_program", "cancel_program", "list_programs",
		"read_log", "list_run_logs", "run_history", "check_firmware",
	}, names)
}

func TestDetectRunAndReadLog(t *testing.T) {
	session, ws := setup(t, motorHub())

	text, isErr := call(t, session, "get_hub_info", map[string]any{})
	assert.True(t, isErr)
	assert.Contains(t, text, "detect_hub")

	text, isErr = call(t, session, "detect_hub", map[string]any{})
	require.False(t, isErr, text)
	assert.Contains(t, text, "Hub: Technic Hub (TechnicHub)")
	assert.Contains(t, text, "  A: ")
	assert.Contains(t, text, "  B: empty")

	require.NoError(t, os.WriteFile(filepath.Join(ws, "motor_test.py"), []byte("print('x')\n"), 0644))
	text, isErr = call(t, session, "run_program", map[string]any{"program": "motor_test.py", "timeout_seconds": 10})
	require.False(t, isErr, text)
	assert.Contains(t, text, "Status: completed\nExit code: 0\nHub: Technic Hub\n")
	assert.Contains(t, text, "Output (3 lines):\nStarting motor test...\nMotor rotated 360 degrees\nBattery: 8234 mV")

	text, isErr = call(t, session, "list_run_logs", map[string]any{})
	require.False(t, isErr)
	assert.Contains(t, text, "motor_test_")

	text, isErr = call(t, session, "read_log", map[string]any{})
	require.False(t, isErr)
	assert.Contains(t, text, "Motor rotated 360 degrees")

	text, isErr = call(t, session, "run_history", map[string]any{"limit": 5})
	require.False(t, isErr)
	assert.Contains(t, text, "motor_test.py  completed (exit 0)")

	text, isErr = call(t, session, "list_programs", map[string]any{})
	require.False(t, isErr)
	assert.Contains(t, text, "motor_test.py (")
}

func TestRunCompileErrorIsToolError(t *testing.T) {
	session, _ := setup(t, motorHub())

	text, isErr := call(t, session, "run_program", map[string]any{"program": "missing.py", "hub": "Technic Hub"})
	assert.True(t, isErr)
	assert.Contains(t, text, "Status: failed")
	assert.Contains(t, text, string(types.KindCompile))
}

func TestRunRejectsOutOfRangeTimeout(t *testing.T) {
	session, ws := setup(t, motorHub())
	require.NoError(t, os.WriteFile(filepath.Join(ws, "motor_test.py"), []byte("print('x')\n"), 0644))

	for _, seconds := range []float64{1e300, 9223372037, -1} {
		text, isErr := call(t, session, "run_program", map[string]any{"program": "motor_test.py", "timeout_seconds": seconds})
		assert.True(t, isErr)
		assert.Contains(t, text, string(types.KindInvalidRequest))
		assert.Contains(t, text, "timeout_seconds")
	}

	text, _ := call(t, session, "list_run_logs", map[string]any{})
	assert.NotContains(t, text, "motor_test_")
}

func TestCancelWithNothingRunning(t *testing.T) {
	session, _ := setup(t)

	text, isErr := call(t, session, "cancel_program", map[string]any{})
	assert.True(t, isErr)
	assert.Contains(t, text, "no program is running")
}

func TestCheckFirmwareUnreachable(t *testing.T) {
	session, _ := setup(t, motorHub())

	_, isErr := call(t, session, "detect_hub", map[string]any{"hub": "Technic Hub"})
	require.False(t, isErr)

	text, isErr := call(t, session, "check_firmware", map[string]any{})
	require.False(t, isErr)
	assert.Contains(t, text, "Installed: 3.6.1")
	assert.Contains(t, text, "Could not determine")
}

func TestFormatResultTruncated(t *testing.T) {
	text := formatResult(&types.RunResult{
		Status:       types.StateTimedOut,
		Duration:     1500 * time.Millisecond,
		Output:       []string{"tick 9", "tick 10"},
		Truncated:    true,
		DroppedLines: 8,
		Error:        &types.ErrorDetail{Kind: types.KindTimeoutExceeded, Message: "program exceeded 1s timeout"},
	})
	assert.Equal(t, "Status: timed_out\nDuration: 1.5s\nError (timeout_exceeded): program exceeded 1s timeout\nOutput (2 lines):\n[8 earlier lines dropped]\ntick 9\ntick 10", text)
}
