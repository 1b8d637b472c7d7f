package interfaces

import (
	"context"
	"time"

	"github.com/llll-robotics/llll/internal/config"
	"github.com/llll-robotics/llll/internal/firmware"
	"github.com/llll-robotics/llll/internal/runlog"
	"github.com/llll-robotics/llll/internal/session"
	"github.com/llll-robotics/llll/internal/storage"
	"github.com/llll-robotics/llll/internal/types"
)

// SystemStatus represents the current service state
type SystemStatus struct {
	State          string `json:"state"`
	KnownHubs      int    `json:"known_hubs"`
	ActiveSessions int    `json:"active_sessions"`
	HistoryDriver  string `json:"history_driver,omitempty"`
}

// RunRequest is a caller's run. Empty Hub and zero Timeout fall back to the
// workspace defaults.
type RunRequest struct {
	Program string        `json:"program"`
	Hub     string        `json:"hub,omitempty"`
	Timeout time.Duration `json:"timeout,omitempty"`
}

// Program is one MicroPython source file in the workspace.
type Program struct {
	Path     string    `json:"path"`
	Size     int64     `json:"size"`
	Modified time.Time `json:"modified"`
}

// HubService is what the MCP, REST and CLI surfaces are built on.
type HubService interface {
	Config() *config.Config
	Streamer() *session.Streamer
	GetCurrentStatus() SystemStatus

	Run(ctx context.Context, req RunRequest) *types.RunResult
	Cancel(hub string) (string, error)
	ActiveSessions() []session.Status

	Discover(ctx context.Context, hub string) (*types.HubConfig, error)
	GetHubInfo(hub string) (*types.HubConfig, error)
	InventoryText() (string, error)

	ListPrograms(dir string) ([]Program, error)
	ListLogs() ([]runlog.Entry, error)
	ReadLog(name string) (string, error)
	RunHistory(ctx context.Context, hub string, limit int) ([]storage.Run, error)

	CheckFirmware(ctx context.Context, hub string) (*firmware.Report, error)
}
