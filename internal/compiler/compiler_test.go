package compiler

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/llll-robotics/llll/internal/config"
	"github.com/llll-robotics/llll/internal/types"
)

func TestParseError(t *testing.T) {
	output := `Traceback (most recent call last):
  File "bad_syntax.py", line 7
SyntaxError: invalid syntax
`
	err := ParseError(output)
	assert.Equal(t, types.KindCompile, err.Kind)
	assert.Equal(t, 7, err.Line)
	assert.Equal(t, "SyntaxError: invalid syntax", err.Message)
}

func TestParseErrorWithoutTraceback(t *testing.T) {
	err := ParseError("something odd\n")
	assert.Equal(t, 0, err.Line)
	assert.Equal(t, "something odd", err.Message)
}

func TestCheckSource(t *testing.T) {
	dir := t.TempDir()

	err := CheckSource(filepath.Join(dir, "missing.py"))
	assert.ErrorIs(t, err, types.ErrCompile)
	assert.Contains(t, err.Error(), "program not found")

	txt := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(txt, []byte("x"), 0644))
	assert.ErrorIs(t, CheckSource(txt), types.ErrCompile)

	py := filepath.Join(dir, "ok.py")
	require.NoError(t, os.WriteFile(py, []byte("print(1)\n"), 0644))
	assert.NoError(t, CheckSource(py))
}

// fakeMpyCross writes a shell script that mimics mpy-cross: sources
// containing "def (" fail with a traceback, everything else is copied to
// the -o path.
func fakeMpyCross(t *testing.T) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script compiler")
	}
	script := `#!/bin/sh
out=""
while [ $# -gt 1 ]; do
  if [ "$1" = "-o" ]; then out="$2"; shift; fi
  shift
done
src="$1"
if grep -q "def (" "$src"; then
  echo "Traceback (most recent call last):" >&2
  echo "  File \"$src\", line 2" >&2
  echo "SyntaxError: invalid syntax" >&2
  exit 1
fi
cp "$src" "$out"
`
	path := filepath.Join(t.TempDir(), "mpy-cross")
	require.NoError(t, os.WriteFile(path, []byte(script), 0755))
	return path
}

func TestMpyCrossCompile(t *testing.T) {
	m := NewMpyCross(config.CompilerConfig{Binary: fakeMpyCross(t)}, zap.NewNop())
	src := filepath.Join(t.TempDir(), "motor_test.py")
	require.NoError(t, os.WriteFile(src, []byte("print('hi')\n"), 0644))

	artifact, err := m.Compile(context.Background(), src)
	require.NoError(t, err)
	assert.Equal(t, []byte("print('hi')\n"), artifact)
}

func TestMpyCrossSyntaxError(t *testing.T) {
	m := NewMpyCross(config.CompilerConfig{Binary: fakeMpyCross(t)}, zap.NewNop())
	src := filepath.Join(t.TempDir(), "bad_syntax.py")
	require.NoError(t, os.WriteFile(src, []byte("x = 1\ndef (:\n"), 0644))

	_, err := m.Compile(context.Background(), src)
	require.Error(t, err)

	var ce *types.Error
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, types.KindCompile, ce.Kind)
	assert.Equal(t, 2, ce.Line)
	assert.Equal(t, "SyntaxError: invalid syntax", ce.Message)
}

func TestMpyCrossMissingBinary(t *testing.T) {
	m := NewMpyCross(config.CompilerConfig{Binary: "definitely-not-mpy-cross"}, zap.NewNop())
	src := filepath.Join(t.TempDir(), "p.py")
	require.NoError(t, os.WriteFile(src, []byte("pass\n"), 0644))

	_, err := m.Compile(context.Background(), src)
	assert.Equal(t, types.KindInternal, types.KindOf(err))
}
