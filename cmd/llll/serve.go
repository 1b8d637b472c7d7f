package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/llll-robotics/llll/internal/api/mcpserver"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the hub tools over MCP on stdin/stdout",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.close()

		a.logger.Info("Serving MCP on stdio", zap.String("workspace", a.cfg.Workspace))
		return mcpserver.New(a.lm, version, a.logger).Serve(ctx, os.Stdin, os.Stdout)
	},
}
