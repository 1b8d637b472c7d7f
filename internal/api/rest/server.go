// Package rest serves the hub service over HTTP.
package rest

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/llll-robotics/llll/internal/api/websocket"
	"github.com/llll-robotics/llll/internal/auth"
	"github.com/llll-robotics/llll/internal/config"
	"github.com/llll-robotics/llll/internal/interfaces"
)

type Server struct {
	router      *gin.Engine
	svc         interfaces.HubService
	logger      *zap.Logger
	server      *http.Server
	wsHub       *websocket.Hub
	authService *auth.AuthService
}

func NewServer(cfg *config.Config, svc interfaces.HubService, logger *zap.Logger, wsHub *websocket.Hub, authService *auth.AuthService) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		router:      gin.New(),
		svc:         svc,
		logger:      logger,
		wsHub:       wsHub,
		authService: authService,
	}

	s.setupRoutes()

	// Runs block until the program finishes, so there is no write timeout.
	s.server = &http.Server{
		Addr:        fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:     s.router,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	return s
}

// Handler exposes the router for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe blocks until the server stops. A clean Shutdown returns nil.
func (s *Server) ListenAndServe() error {
	s.logger.Info("Starting REST API server", zap.String("address", s.server.Addr))
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("rest server failed: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down REST API server")
	return s.server.Shutdown(ctx)
}

func (s *Server) setupRoutes() {
	// Middleware
	s.router.Use(gin.Recovery())
	s.router.Use(LoggerMiddleware(s.logger))
	s.router.Use(CORSMiddleware())

	// Public routes (no auth required)
	s.router.GET("/health", s.healthCheck)

	// API v1
	v1 := s.router.Group("/api/v1")
	{
		// ==================== WEBSOCKET (Auth via first message) ====================
		ws := v1.Group("/ws")
		{
			ws.GET("/live", s.wsLiveConnection)
			ws.GET("/status", s.authService.AuthMiddleware(), auth.RequirePermission(auth.PermOperator), s.wsStatus)
		}

		protected := v1.Group("")
		protected.Use(s.authService.AuthMiddleware())

		// ==================== STATUS (OPERATOR+) ====================
		protected.GET("/status", auth.RequirePermission(auth.PermOperator), s.getSystemStatus)

		// ==================== HUB ====================
		hub := protected.Group("/hub")
		{
			hub.GET("", auth.RequirePermission(auth.PermOperator), s.getHub)
			hub.POST("/discover", auth.RequirePermission(auth.PermTechnician), s.discoverHub)
		}

		// ==================== RUNS ====================
		runs := protected.Group("/runs")
		{
			runs.GET("", auth.RequirePermission(auth.PermOperator), s.listRuns)
			runs.POST("", auth.RequirePermission(auth.PermTechnician), s.runProgram)
			runs.POST("/cancel", auth.RequirePermission(auth.PermTechnician), s.cancelRun)
		}

		// ==================== WORKSPACE (OPERATOR+) ====================
		workspace := protected.Group("")
		workspace.Use(auth.RequirePermission(auth.PermOperator))
		{
			workspace.GET("/programs", s.listPrograms)
			workspace.GET("/logs", s.listLogs)
			workspace.GET("/logs/:name", s.readLog)
			workspace.GET("/firmware", s.checkFirmware)
		}
	}
}

// WebSocket handlers
func (s *Server) wsLiveConnection(c *gin.Context) {
	websocket.ServeWs(s.wsHub, c.Writer, c.Request)
}

func (s *Server) wsStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"connected_clients": s.wsHub.GetClientCount(),
	})
}

// Health check (public)
func (s *Server) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"state":     s.svc.GetCurrentStatus().State,
		"timestamp": time.Now().Unix(),
	})
}

// GET /api/v1/status
func (s *Server) getSystemStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":   s.svc.GetCurrentStatus(),
		"sessions": s.svc.ActiveSessions(),
	})
}
