package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readMCPConfig(t *testing.T, path string) map[string]any {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	doc := map[string]any{}
	require.NoError(t, json.Unmarshal(data, &doc))
	return doc
}

func TestWriteMCPConfigCreates(t *testing.T) {
	path := filepath.Join(t.TempDir(), mcpConfigFile)

	require.NoError(t, writeMCPConfig(path, "/usr/local/bin/llll", "/work"))

	doc := readMCPConfig(t, path)
	server := doc["mcpServers"].(map[string]any)["llll"].(map[string]any)
	assert.Equal(t, "/usr/local/bin/llll", server["command"])
	assert.Equal(t, []any{"serve", "--workspace", "/work"}, server["args"])
}

func TestWriteMCPConfigKeepsOtherServers(t *testing.T) {
	path := filepath.Join(t.TempDir(), mcpConfigFile)
	existing := `{"mcpServers":{"other":{"command":"other"}},"theme":"dark"}`
	require.NoError(t, os.WriteFile(path, []byte(existing), 0o644))

	require.NoError(t, writeMCPConfig(path, "llll", "/work"))

	doc := readMCPConfig(t, path)
	assert.Equal(t, "dark", doc["theme"])
	servers := doc["mcpServers"].(map[string]any)
	assert.Contains(t, servers, "other")
	assert.Contains(t, servers, "llll")
}

func TestWriteMCPConfigRejectsInvalidJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), mcpConfigFile)
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	assert.Error(t, writeMCPConfig(path, "llll", "/work"))
}
