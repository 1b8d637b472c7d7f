// Package runlog writes one text log per run under <workspace>/logs and
// keeps logs/latest.log pointing at the newest one.
package runlog

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/llll-robotics/llll/internal/types"
)

const (
	Dir        = "logs"
	LatestName = "latest.log"

	timestampLayout = "20060102_150405"
)

type Entry struct {
	Name    string    `json:"file"`
	Size    int64     `json:"size"`
	Started time.Time `json:"started"`
}

type Store struct {
	dir    string
	logger *zap.Logger
}

func New(workspace string, logger *zap.Logger) *Store {
	return &Store{
		dir:    filepath.Join(workspace, Dir),
		logger: logger,
	}
}

func (s *Store) Dir() string {
	return s.dir
}

// Append writes the log for one run and returns its path relative to the
// workspace, e.g. logs/motor_test_20260301_120000.log.
func (s *Store) Append(r *types.RunResult) (string, error) {
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create log directory: %w", err)
	}

	stem := strings.TrimSuffix(filepath.Base(r.Program), filepath.Ext(r.Program))
	if stem == "" || stem == "." {
		stem = "run"
	}
	base := fmt.Sprintf("%s_%s", stem, r.StartedAt.UTC().Format(timestampLayout))

	var (
		f    *os.File
		name string
		err  error
	)
	for n := 1; ; n++ {
		name = base + ".log"
		if n > 1 {
			name = fmt.Sprintf("%s_%d.log", base, n)
		}
		f, err = os.OpenFile(filepath.Join(s.dir, name), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
		if err == nil {
			break
		}
		if !errors.Is(err, fs.ErrExist) || n > 100 {
			return "", fmt.Errorf("failed to create log file: %w", err)
		}
	}

	_, werr := f.WriteString(Format(r))
	if cerr := f.Close(); werr == nil {
		werr = cerr
	}
	if werr != nil {
		return "", fmt.Errorf("failed to write log file: %w", werr)
	}

	if err := s.pointLatest(name); err != nil {
		s.logger.Warn("Failed to update latest.log", zap.Error(err))
	}

	return filepath.ToSlash(filepath.Join(Dir, name)), nil
}

// pointLatest makes latest.log a symlink to name, falling back to a copy
// where symlinks are not available.
func (s *Store) pointLatest(name string) error {
	latest := filepath.Join(s.dir, LatestName)
	if err := os.Remove(latest); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	if err := os.Symlink(name, latest); err == nil {
		return nil
	}

	data, err := os.ReadFile(filepath.Join(s.dir, name))
	if err != nil {
		return err
	}
	return os.WriteFile(latest, data, 0644)
}

// Format renders a result in the log file layout.
func Format(r *types.RunResult) string {
	var b strings.Builder

	b.WriteString("=== llll run log ===\n")
	fmt.Fprintf(&b, "program: %s\n", r.Program)
	fmt.Fprintf(&b, "timestamp: %s\n", r.StartedAt.UTC().Format(time.RFC3339))
	if r.Device != "" {
		fmt.Fprintf(&b, "hub: %s\n", r.Device)
	}
	fmt.Fprintf(&b, "session: %s\n", r.SessionID)

	b.WriteString("=== output ===\n")
	for _, line := range r.Output {
		b.WriteString(line)
		b.WriteString("\n")
	}
	b.WriteString("=== end ===\n")

	fmt.Fprintf(&b, "status: %s\n", r.Status)
	if r.ExitCode != nil {
		fmt.Fprintf(&b, "exit_code: %d\n", *r.ExitCode)
	}
	fmt.Fprintf(&b, "duration: %.1fs\n", r.Duration.Seconds())
	fmt.Fprintf(&b, "timed_out: %t\n", r.Status == types.StateTimedOut)
	if r.Truncated {
		fmt.Fprintf(&b, "truncated: %d earlier lines dropped\n", r.DroppedLines)
	}
	if r.Error != nil {
		if r.Error.Line > 0 {
			fmt.Fprintf(&b, "error: %s (line %d): %s\n", r.Error.Kind, r.Error.Line, r.Error.Message)
		} else {
			fmt.Fprintf(&b, "error: %s: %s\n", r.Error.Kind, r.Error.Message)
		}
	}
	fmt.Fprintf(&b, "finished: %s\n", r.FinishedAt.UTC().Format(time.RFC3339))
	return b.String()
}

var stampRe = regexp.MustCompile(`_(\d{8}_\d{6})(?:_(\d+))?\.log$`)

func parseStamp(name string) (time.Time, int, bool) {
	m := stampRe.FindStringSubmatch(name)
	if m == nil {
		return time.Time{}, 0, false
	}
	ts, err := time.Parse(timestampLayout, m[1])
	if err != nil {
		return time.Time{}, 0, false
	}
	seq := 1
	if m[2] != "" {
		if seq, err = strconv.Atoi(m[2]); err != nil {
			return time.Time{}, 0, false
		}
	}
	return ts, seq, true
}

// List returns the run logs, most recent first. latest.log is not listed.
func (s *Store) List() ([]Entry, error) {
	dirEntries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []Entry{}, nil
		}
		return nil, fmt.Errorf("failed to read log directory: %w", err)
	}

	type sortable struct {
		Entry
		seq int
	}
	var found []sortable
	for _, de := range dirEntries {
		name := de.Name()
		if de.IsDir() || name == LatestName || !strings.HasSuffix(name, ".log") {
			continue
		}
		info, err := de.Info()
		if err != nil {
			continue
		}

		started, seq, ok := parseStamp(name)
		if !ok {
			started = info.ModTime().UTC()
		}
		found = append(found, sortable{
			Entry: Entry{Name: name, Size: info.Size(), Started: started},
			seq:   seq,
		})
	}

	sort.SliceStable(found, func(i, j int) bool {
		a, b := found[i], found[j]
		if !a.Started.Equal(b.Started) {
			return a.Started.After(b.Started)
		}
		if a.seq != b.seq {
			return a.seq > b.seq
		}
		return a.Name > b.Name
	})

	out := make([]Entry, len(found))
	for i, f := range found {
		out[i] = f.Entry
	}
	return out, nil
}

// Read returns a log's text. An empty name reads latest.log. Names must be
// plain file names inside the log directory.
func (s *Store) Read(name string) (string, error) {
	if name == "" {
		name = LatestName
	}
	name = strings.TrimPrefix(filepath.ToSlash(name), Dir+"/")
	if name != filepath.Base(name) || strings.Contains(name, "..") || !strings.HasSuffix(name, ".log") {
		return "", types.NewError(types.KindInvalidRequest, fmt.Sprintf("invalid log name %q", name), nil)
	}

	data, err := os.ReadFile(filepath.Join(s.dir, name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			if name == LatestName {
				return "", types.NewError(types.KindNotFound, "no logs yet, run a program first", nil)
			}
			return "", types.NewError(types.KindNotFound, fmt.Sprintf("log not found: %s", name), nil)
		}
		return "", fmt.Errorf("failed to read log: %w", err)
	}
	return string(data), nil
}
