package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

const mcpConfigFile = ".mcp.json"

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Register llll as an MCP server for agents working in the workspace",
	RunE: func(cmd *cobra.Command, args []string) error {
		exe, err := os.Executable()
		if err != nil {
			return fmt.Errorf("failed to locate executable: %w", err)
		}

		path := filepath.Join(workspace, mcpConfigFile)
		if err := writeMCPConfig(path, exe, workspace); err != nil {
			return err
		}
		fmt.Printf("Wrote %s\n", path)

		if detect, _ := cmd.Flags().GetBool("detect"); detect {
			return detectCmd.RunE(cmd, nil)
		}
		return nil
	},
}

// writeMCPConfig adds the llll server entry to path, keeping any other
// servers and top-level keys already there.
func writeMCPConfig(path, exe, ws string) error {
	doc := map[string]any{}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := json.Unmarshal(data, &doc); err != nil {
			return fmt.Errorf("failed to parse %s: %w", path, err)
		}
	case !errors.Is(err, os.ErrNotExist):
		return fmt.Errorf("failed to read %s: %w", path, err)
	}

	servers, _ := doc["mcpServers"].(map[string]any)
	if servers == nil {
		servers = map[string]any{}
	}
	servers["llll"] = map[string]any{
		"command": exe,
		"args":    []string{"serve", "--workspace", ws},
	}
	doc["mcpServers"] = servers

	out, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(out, '\n'), 0o644)
}

func init() {
	initCmd.Flags().Bool("detect", false, "also detect the hub and record it")
}
