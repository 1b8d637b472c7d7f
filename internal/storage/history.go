// Package storage keeps the run history index in SQLite (default) or
// Postgres.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/llll-robotics/llll/internal/config"
	"github.com/llll-robotics/llll/internal/types"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"

	DefaultLimit = 20
)

type History struct {
	db     *sql.DB
	driver string
	logger *zap.Logger
}

// Open connects to the configured backend and applies pending migrations.
func Open(ctx context.Context, cfg config.HistoryConfig, logger *zap.Logger) (*History, error) {
	var (
		db  *sql.DB
		err error
	)

	switch cfg.Driver {
	case DriverSQLite, "":
		db, err = openSQLite(cfg.DSN)
	case DriverPostgres:
		db, err = openPostgres(ctx, cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported history driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}

	driver := cfg.Driver
	if driver == "" {
		driver = DriverSQLite
	}
	h := &History{db: db, driver: driver, logger: logger}

	if err := h.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	logger.Debug("Run history opened", zap.String("driver", driver))
	return h, nil
}

func openSQLite(path string) (*sql.DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One writer keeps SQLite from returning SQLITE_BUSY between sessions.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode = WAL; PRAGMA busy_timeout = 5000;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to configure database: %w", err)
	}
	return db, nil
}

func (h *History) Close() error {
	return h.db.Close()
}

func (h *History) Driver() string {
	return h.driver
}

// rebind rewrites ? placeholders to $n for Postgres.
func (h *History) rebind(query string) string {
	if h.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

var migrations = []string{
	migrationV1,
}

func (h *History) migrate(ctx context.Context) error {
	_, err := h.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return err
	}

	var version int
	if err := h.db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&version); err != nil {
		return err
	}

	for i, migration := range migrations {
		v := i + 1
		if v <= version {
			continue
		}

		tx, err := h.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, migration); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration v%d failed: %w", v, err)
		}

		if _, err := tx.ExecContext(ctx, h.rebind("INSERT INTO schema_version (version) VALUES (?)"), v); err != nil {
			tx.Rollback()
			return err
		}

		if err := tx.Commit(); err != nil {
			return err
		}
		h.logger.Info("Applied history migration", zap.Int("version", v))
	}

	return nil
}

const migrationV1 = `
CREATE TABLE IF NOT EXISTS runs (
    id TEXT PRIMARY KEY,
    program TEXT NOT NULL,
    device TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL,
    exit_code INTEGER,
    started_at BIGINT NOT NULL,
    finished_at BIGINT NOT NULL,
    duration_ms BIGINT NOT NULL,
    lines INTEGER NOT NULL DEFAULT 0,
    truncated BOOLEAN NOT NULL DEFAULT FALSE,
    error_kind TEXT NOT NULL DEFAULT '',
    error_message TEXT NOT NULL DEFAULT '',
    log_file TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);
CREATE INDEX IF NOT EXISTS idx_runs_device ON runs(device);
`

// Save records a finished session. Saving the same session twice
// overwrites the earlier row.
func (h *History) Save(ctx context.Context, result *types.RunResult) error {
	run, err := RunFromResult(result)
	if err != nil {
		return err
	}

	var exitCode sql.NullInt64
	if run.ExitCode != nil {
		exitCode = sql.NullInt64{Int64: int64(*run.ExitCode), Valid: true}
	}

	_, err = h.db.ExecContext(ctx, h.rebind(`
		INSERT INTO runs (id, program, device, status, exit_code, started_at, finished_at,
		                  duration_ms, lines, truncated, error_kind, error_message, log_file)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			status = excluded.status,
			exit_code = excluded.exit_code,
			finished_at = excluded.finished_at,
			duration_ms = excluded.duration_ms,
			lines = excluded.lines,
			truncated = excluded.truncated,
			error_kind = excluded.error_kind,
			error_message = excluded.error_message,
			log_file = excluded.log_file
	`),
		run.ID.String(), run.Program, run.Device, string(run.Status), exitCode,
		run.StartedAt.UnixMilli(), run.FinishedAt.UnixMilli(), run.DurationMS,
		run.Lines, run.Truncated, string(run.ErrorKind), run.ErrorMessage, run.LogFile,
	)
	if err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}
	return nil
}

const runColumns = `id, program, device, status, exit_code, started_at, finished_at,
	duration_ms, lines, truncated, error_kind, error_message, log_file`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*Run, error) {
	var (
		run                 Run
		id, status, errKind string
		exitCode            sql.NullInt64
		started, finished   int64
	)
	err := row.Scan(&id, &run.Program, &run.Device, &status, &exitCode, &started, &finished,
		&run.DurationMS, &run.Lines, &run.Truncated, &errKind, &run.ErrorMessage, &run.LogFile)
	if err != nil {
		return nil, err
	}

	run.ID, err = uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("corrupt run id %q: %w", id, err)
	}
	run.Status = types.SessionState(status)
	run.ErrorKind = types.ErrorKind(errKind)
	run.StartedAt = time.UnixMilli(started).UTC()
	run.FinishedAt = time.UnixMilli(finished).UTC()
	if exitCode.Valid {
		run.ExitCode = types.ExitCodeOf(int(exitCode.Int64))
	}
	return &run, nil
}

// Recent returns up to limit runs, most recent first. A device filter of ""
// matches every device.
func (h *History) Recent(ctx context.Context, device string, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}

	query := "SELECT " + runColumns + " FROM runs"
	args := []any{}
	if device != "" {
		query += " WHERE device = ?"
		args = append(args, device)
	}
	query += " ORDER BY started_at DESC, id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := h.db.QueryContext(ctx, h.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	runs := make([]Run, 0)
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

func (h *History) Get(ctx context.Context, id uuid.UUID) (*Run, error) {
	row := h.db.QueryRowContext(ctx, h.rebind("SELECT "+runColumns+" FROM runs WHERE id = ?"), id.String())
	run, err := scanRun(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, types.NewError(types.KindNotFound, fmt.Sprintf("run not found: %s", id), nil)
		}
		return nil, fmt.Errorf("failed to load run: %w", err)
	}
	return run, nil
}
