package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/llll-robotics/llll/internal/interfaces"
	"github.com/llll-robotics/llll/internal/types"
)

const (
	hubArgSchema = `{"type":"object","properties":{"hub":{"type":"string","description":"Hub name or address. Defaults to the first recorded hub."}}}`
	noArgsSchema = `{"type":"object","properties":{}}`
)

func decode(input json.RawMessage, v any) error {
	if err := json.Unmarshal(input, v); err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	return nil
}

type hubArgs struct {
	Hub string `json:"hub"`
}

func (s *Server) tools() []Tool {
	return []Tool{
		{
			Name:        "detect_hub",
			Description: "Scan for a hub over Bluetooth, read its type, firmware, battery and attached motors/sensors, and record it in llll.toml.",
			InputSchema: json.RawMessage(hubArgSchema),
			Handler:     s.detectHub,
		},
		{
			Name:        "get_hub_info",
			Description: "Show the recorded hub configuration without contacting the hub.",
			InputSchema: json.RawMessage(hubArgSchema),
			Handler:     s.getHubInfo,
		},
		{
			Name:        "run_program",
			Description: "Compile a MicroPython program, upload it to the hub, run it and return its printed output.",
			InputSchema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"program": {"type": "string", "description": "Path to the .py file, relative to the workspace."},
					"hub": {"type": "string", "description": "Hub name or address. Defaults to the first recorded hub."},
					"timeout_seconds": {"type": "number", "description": "Stop the program after this many seconds."}
				},
				"required": ["program"]
			}`),
			Handler: s.runProgram,
		},
		{
			Name:        "cancel_program",
			Description: "Stop the program running on a hub.",
			InputSchema: json.RawMessage(hubArgSchema),
			Handler:     s.cancelProgram,
		},
		{
			Name:        "list_programs",
			Description: "List MicroPython programs in the workspace.",
			InputSchema: json.RawMessage(`{"type":"object","properties":{"dir":{"type":"string","description":"Directory relative to the workspace."}}}`),
			Handler:     s.listPrograms,
		},
		{
			Name:        "read_log",
			Description: "Read a run log. Without a name the most recent one is returned.",
			InputSchema: json.RawMessage(`{"type":"object","properties":{"name":{"type":"string","description":"Log file name as shown by list_run_logs."}}}`),
			Handler:     s.readLog,
		},
		{
			Name:        "list_run_logs",
			Description: "List run logs, most recent first.",
			InputSchema: json.RawMessage(noArgsSchema),
			Handler:     s.listRunLogs,
		},
		{
			Name:        "run_history",
			Description: "Summarise recent runs: status, duration and log file.",
			InputSchema: json.RawMessage(`{"type":"object","properties":{"hub":{"type":"string"},"limit":{"type":"integer","minimum":1}}}`),
			Handler:     s.runHistory,
		},
		{
			Name:        "check_firmware",
			Description: "Compare the recorded hub firmware with the latest release. Never installs anything.",
			InputSchema: json.RawMessage(hubArgSchema),
			Handler:     s.checkFirmware,
		},
	}
}

func (s *Server) detectHub(ctx context.Context, input json.RawMessage) (string, error) {
	var args hubArgs
	if err := decode(input, &args); err != nil {
		return "", err
	}
	hub, err := s.svc.Discover(ctx, args.Hub)
	if err != nil {
		return "", err
	}
	return formatHub(hub), nil
}

func (s *Server) getHubInfo(ctx context.Context, input json.RawMessage) (string, error) {
	var args hubArgs
	if err := decode(input, &args); err != nil {
		return "", err
	}
	hub, err := s.svc.GetHubInfo(args.Hub)
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			return "", fmt.Errorf("%w (use detect_hub to scan for one)", err)
		}
		return "", err
	}
	return formatHub(hub), nil
}

func (s *Server) runProgram(ctx context.Context, input json.RawMessage) (string, error) {
	var args struct {
		Program        string  `json:"program"`
		Hub            string  `json:"hub"`
		TimeoutSeconds float64 `json:"timeout_seconds"`
	}
	if err := decode(input, &args); err != nil {
		return "", err
	}

	timeout, err := types.TimeoutFromSeconds(args.TimeoutSeconds)
	if err != nil {
		return "", err
	}

	result := s.svc.Run(ctx, interfaces.RunRequest{
		Program: args.Program,
		Hub:     args.Hub,
		Timeout: timeout,
	})

	text := formatResult(result)
	if result.Status == types.StateFailed {
		return "", errors.New(text)
	}
	return text, nil
}

func (s *Server) cancelProgram(ctx context.Context, input json.RawMessage) (string, error) {
	var args hubArgs
	if err := decode(input, &args); err != nil {
		return "", err
	}
	id, err := s.svc.Cancel(args.Hub)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Cancellation requested for session %s.", id), nil
}

func (s *Server) listPrograms(ctx context.Context, input json.RawMessage) (string, error) {
	var args struct {
		Dir string `json:"dir"`
	}
	if err := decode(input, &args); err != nil {
		return "", err
	}
	programs, err := s.svc.ListPrograms(args.Dir)
	if err != nil {
		return "", err
	}
	return formatPrograms(programs), nil
}

func (s *Server) readLog(ctx context.Context, input json.RawMessage) (string, error) {
	var args struct {
		Name string `json:"name"`
	}
	if err := decode(input, &args); err != nil {
		return "", err
	}
	return s.svc.ReadLog(args.Name)
}

func (s *Server) listRunLogs(ctx context.Context, input json.RawMessage) (string, error) {
	entries, err := s.svc.ListLogs()
	if err != nil {
		return "", err
	}
	return formatLogs(entries), nil
}

func (s *Server) runHistory(ctx context.Context, input json.RawMessage) (string, error) {
	var args struct {
		Hub   string `json:"hub"`
		Limit int    `json:"limit"`
	}
	if err := decode(input, &args); err != nil {
		return "", err
	}
	runs, err := s.svc.RunHistory(ctx, args.Hub, args.Limit)
	if err != nil {
		return "", err
	}
	return formatHistory(runs), nil
}

func (s *Server) checkFirmware(ctx context.Context, input json.RawMessage) (string, error) {
	var args hubArgs
	if err := decode(input, &args); err != nil {
		return "", err
	}
	report, err := s.svc.CheckFirmware(ctx, args.Hub)
	if err != nil {
		return "", err
	}
	return formatFirmware(report), nil
}
