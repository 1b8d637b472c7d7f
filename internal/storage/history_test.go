package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/llll-robotics/llll/internal/config"
	"github.com/llll-robotics/llll/internal/types"
)

func openTemp(t *testing.T) (*History, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "nested", "history.db")
	h, err := Open(context.Background(), config.HistoryConfig{Driver: DriverSQLite, DSN: path}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { h.Close() })
	return h, path
}

func sample(device string, started time.Time) *types.RunResult {
	return &types.RunResult{
		SessionID:  uuid.NewString(),
		Program:    "motor_test.py",
		Device:     device,
		Status:     types.StateCompleted,
		ExitCode:   types.ExitCodeOf(0),
		StartedAt:  started,
		FinishedAt: started.Add(1500 * time.Millisecond),
		Duration:   1500 * time.Millisecond,
		Output:     []string{"a", "b"},
		LogFile:    "logs/motor_test_20260301_120000.log",
	}
}

func TestSaveAndGet(t *testing.T) {
	h, _ := openTemp(t)
	ctx := context.Background()
	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	result := sample("Technic Hub", started)
	require.NoError(t, h.Save(ctx, result))

	run, err := h.Get(ctx, uuid.MustParse(result.SessionID))
	require.NoError(t, err)
	assert.Equal(t, "motor_test.py", run.Program)
	assert.Equal(t, "Technic Hub", run.Device)
	assert.Equal(t, types.StateCompleted, run.Status)
	require.NotNil(t, run.ExitCode)
	assert.Equal(t, 0, *run.ExitCode)
	assert.True(t, started.Equal(run.StartedAt))
	assert.Equal(t, int64(1500), run.DurationMS)
	assert.Equal(t, 2, run.Lines)
	assert.False(t, run.Truncated)
	assert.Empty(t, run.ErrorKind)
	assert.Equal(t, result.LogFile, run.LogFile)
}

func TestSaveFailureWithoutExitCode(t *testing.T) {
	h, _ := openTemp(t)
	ctx := context.Background()

	result := sample("", time.Now())
	result.Status = types.StateFailed
	result.ExitCode = nil
	result.Output = nil
	result.Error = &types.ErrorDetail{Kind: types.KindCompile, Message: "SyntaxError: invalid syntax", Line: 2}
	require.NoError(t, h.Save(ctx, result))

	run, err := h.Get(ctx, uuid.MustParse(result.SessionID))
	require.NoError(t, err)
	assert.Nil(t, run.ExitCode)
	assert.Equal(t, types.KindCompile, run.ErrorKind)
	assert.Equal(t, "SyntaxError: invalid syntax", run.ErrorMessage)
}

func TestSaveTwiceOverwrites(t *testing.T) {
	h, _ := openTemp(t)
	ctx := context.Background()

	result := sample("Technic Hub", time.Now())
	require.NoError(t, h.Save(ctx, result))
	result.Truncated = true
	result.DroppedLines = 10
	require.NoError(t, h.Save(ctx, result))

	runs, err := h.Recent(ctx, "", 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.True(t, runs[0].Truncated)
	assert.Equal(t, 12, runs[0].Lines)
}

func TestRecentOrderAndFilter(t *testing.T) {
	h, _ := openTemp(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	first := sample("Technic Hub", base)
	second := sample("Prime Hub", base.Add(time.Minute))
	third := sample("Technic Hub", base.Add(2*time.Minute))
	for _, r := range []*types.RunResult{first, second, third} {
		require.NoError(t, h.Save(ctx, r))
	}

	runs, err := h.Recent(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.Equal(t, third.SessionID, runs[0].ID.String())
	assert.Equal(t, first.SessionID, runs[2].ID.String())

	runs, err = h.Recent(ctx, "Technic Hub", 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	for _, r := range runs {
		assert.Equal(t, "Technic Hub", r.Device)
	}

	runs, err = h.Recent(ctx, "", 1)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, third.SessionID, runs[0].ID.String())
}

func TestGetMissing(t *testing.T) {
	h, _ := openTemp(t)
	_, err := h.Get(context.Background(), uuid.New())
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestReopenKeepsRows(t *testing.T) {
	h, path := openTemp(t)
	ctx := context.Background()
	result := sample("Technic Hub", time.Now())
	require.NoError(t, h.Save(ctx, result))
	require.NoError(t, h.Close())

	again, err := Open(ctx, config.HistoryConfig{Driver: DriverSQLite, DSN: path}, zap.NewNop())
	require.NoError(t, err)
	defer again.Close()

	_, err = again.Get(ctx, uuid.MustParse(result.SessionID))
	assert.NoError(t, err)
}

func TestRebind(t *testing.T) {
	pg := &History{driver: DriverPostgres}
	assert.Equal(t, "SELECT 1 WHERE a = $1 AND b = $2", pg.rebind("SELECT 1 WHERE a = ? AND b = ?"))

	lite := &History{driver: DriverSQLite}
	assert.Equal(t, "a = ?", lite.rebind("a = ?"))
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), config.HistoryConfig{Driver: "mysql"}, zap.NewNop())
	assert.Error(t, err)
}
