// Package compiler turns program sources into artifacts the hub can load.
package compiler

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/llll-robotics/llll/internal/config"
	"github.com/llll-robotics/llll/internal/types"
)

type Compiler interface {
	// Compile returns the artifact bytes, or a *types.Error of kind
	// compile_error describing the first problem in the source.
	Compile(ctx context.Context, sourcePath string) ([]byte, error)
}

// Func adapts a function to Compiler.
type Func func(ctx context.Context, sourcePath string) ([]byte, error)

func (f Func) Compile(ctx context.Context, sourcePath string) ([]byte, error) {
	return f(ctx, sourcePath)
}

// MpyCross compiles MicroPython sources with the mpy-cross tool.
type MpyCross struct {
	binary string
	args   []string
	logger *zap.Logger
}

func NewMpyCross(cfg config.CompilerConfig, logger *zap.Logger) *MpyCross {
	binary := cfg.Binary
	if binary == "" {
		binary = "mpy-cross"
	}
	return &MpyCross{
		binary: binary,
		args:   cfg.Args,
		logger: logger,
	}
}

// CheckSource rejects paths that cannot be a program source.
func CheckSource(sourcePath string) error {
	if !strings.EqualFold(filepath.Ext(sourcePath), ".py") {
		return types.CompileError(0, fmt.Sprintf("%s is not a .py file", filepath.Base(sourcePath)))
	}
	info, err := os.Stat(sourcePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return types.CompileError(0, fmt.Sprintf("program not found: %s", sourcePath))
		}
		return types.CompileError(0, err.Error())
	}
	if info.IsDir() {
		return types.CompileError(0, fmt.Sprintf("%s is a directory", sourcePath))
	}
	return nil
}

func (m *MpyCross) Compile(ctx context.Context, sourcePath string) ([]byte, error) {
	if err := CheckSource(sourcePath); err != nil {
		return nil, err
	}

	if _, err := exec.LookPath(m.binary); err != nil {
		return nil, types.NewError(types.KindInternal, fmt.Sprintf("compiler %q not found", m.binary), err)
	}

	outDir, err := os.MkdirTemp("", "llll-build-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create build dir: %w", err)
	}
	defer os.RemoveAll(outDir)

	out := filepath.Join(outDir, strings.TrimSuffix(filepath.Base(sourcePath), filepath.Ext(sourcePath))+".mpy")

	args := append(append([]string{}, m.args...), "-o", out, sourcePath)
	cmd := exec.CommandContext(ctx, m.binary, args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		m.logger.Debug("Compile failed",
			zap.String("source", sourcePath),
			zap.String("output", string(output)))
		return nil, ParseError(string(output))
	}

	artifact, err := os.ReadFile(out)
	if err != nil {
		return nil, fmt.Errorf("compiler produced no artifact: %w", err)
	}

	m.logger.Debug("Compiled program",
		zap.String("source", sourcePath),
		zap.Int("bytes", len(artifact)))
	return artifact, nil
}

var (
	lineRe      = regexp.MustCompile(`File "[^"]*", line (\d+)`)
	exceptionRe = regexp.MustCompile(`^\w*(Error|Exception)\b`)
)

// ParseError extracts the line number and message from a compiler
// traceback. The message is the last exception line, or the whole output
// when none is recognisable.
func ParseError(output string) *types.Error {
	line := 0
	if m := lineRe.FindAllStringSubmatch(output, -1); len(m) > 0 {
		line, _ = strconv.Atoi(m[len(m)-1][1])
	}

	message := strings.TrimSpace(output)
	lines := strings.Split(message, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		l := strings.TrimSpace(lines[i])
		if exceptionRe.MatchString(l) {
			message = l
			break
		}
	}
	if message == "" {
		message = "compilation failed"
	}

	return types.CompileError(line, message)
}
