package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/llll-robotics/llll/internal/api/rest"
	"github.com/llll-robotics/llll/internal/api/websocket"
	"github.com/llll-robotics/llll/internal/auth"
)

var httpCmd = &cobra.Command{
	Use:   "http",
	Short: "Serve the REST API and live session websocket",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.close()

		if port, _ := cmd.Flags().GetInt("port"); port > 0 {
			a.cfg.HTTP.Port = port
		}

		authService := auth.NewAuthService(a.cfg.Auth)
		if !authService.Enabled() {
			a.logger.Warn("No JWT secret configured, HTTP API is unauthenticated",
				zap.String("env", a.cfg.Auth.JWTSecretEnv))
		}

		wsHub := websocket.NewHub(a.logger, authService)
		wsHub.Forward(ctx, a.lm.Streamer())
		server := rest.NewServer(a.cfg, a.lm, a.logger, wsHub, authService)

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			wsHub.Run(gctx)
			return nil
		})
		g.Go(server.ListenAndServe)
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.HTTP.ShutdownTimeout)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		})

		return g.Wait()
	},
}

func init() {
	httpCmd.Flags().Int("port", 0, "listen port (default from config http.port)")
}
