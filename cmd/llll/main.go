package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/llll-robotics/llll/internal/compiler"
	"github.com/llll-robotics/llll/internal/config"
	"github.com/llll-robotics/llll/internal/link/ble"
	"github.com/llll-robotics/llll/internal/system"
)

var version = "dev"

var (
	cfgFile   string
	workspace string
	verbose   bool
)

var rootCmd = &cobra.Command{
	Use:   "llll",
	Short: "Run MicroPython programs on LEGO hubs from coding agents",
	Long: `llll compiles MicroPython programs, uploads them to a LEGO hub over
Bluetooth, runs them and captures their output. It serves the hub to coding
agents over MCP (the default), to other tools over HTTP, and to people
through the commands below.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		abs, err := filepath.Abs(workspace)
		if err != nil {
			return fmt.Errorf("invalid workspace: %w", err)
		}
		workspace = abs
		return loadDotEnv(filepath.Join(workspace, ".env"))
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveCmd.RunE(cmd, args)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&workspace, "workspace", "w", ".", "workspace directory holding programs, llll.toml and logs")
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is <workspace>/llll.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(httpCmd)
	rootCmd.AddCommand(detectCmd)
	rootCmd.AddCommand(hubCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(logsCmd)
	rootCmd.AddCommand(firmwareCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(tokenCmd)
	rootCmd.Version = version
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadDotEnv loads environment variables from path. Missing files are ignored.
func loadDotEnv(path string) error {
	err := godotenv.Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile, workspace)
	if err != nil {
		return nil, err
	}
	if verbose {
		cfg.Log.Level = "debug"
	}
	return cfg, nil
}

// newLogger writes to stderr; stdout carries MCP traffic and program output.
func newLogger(cfg config.LogConfig) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if cfg.Development {
		zc = zap.NewDevelopmentConfig()
	}
	zc.OutputPaths = []string{"stderr"}
	zc.ErrorOutputPaths = []string{"stderr"}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}
	zc.Level = zap.NewAtomicLevelAt(level)

	return zc.Build()
}

// app is what every hub-facing command needs.
type app struct {
	cfg    *config.Config
	logger *zap.Logger
	lm     *system.LifecycleManager
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	logger, err := newLogger(cfg.Log)
	if err != nil {
		return nil, err
	}

	transport, err := ble.NewTransport(cfg.Link, logger)
	if err != nil {
		return nil, err
	}

	lm, err := system.NewLifecycleManager(ctx, cfg, transport, compiler.NewMpyCross(cfg.Compiler, logger), logger)
	if err != nil {
		return nil, err
	}
	if err := lm.Start(); err != nil {
		return nil, err
	}

	return &app{cfg: cfg, logger: logger, lm: lm}, nil
}

func (a *app) close() {
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Session.CancelGrace*2)
	defer cancel()
	if err := a.lm.Shutdown(ctx); err != nil {
		a.logger.Warn("Shutdown failed", zap.Error(err))
	}
	a.logger.Sync()
}
