package permission

import (
	"encoding/json"
	"os"
)

// mcpServerEntry is one entry of Claude Code's --mcp-config JSON file,
// the stdio-server shape (command + args, no url).
type mcpServerEntry struct {
	Command string   `json:"command"`
	Args    []string `json:"args"`
}

type mcpConfigFile struct {
	MCPServers map[string]mcpServerEntry `json:"mcpServers"`
}

// WriteMCPConfig writes the --mcp-config file for one session at path,
// pointing Claude's CLI at helperBinary (the
// cmd/remotecode-mcp-permission executable) with the session id and
// RPC socket path baked into its argv.
func WriteMCPConfig(path, helperBinary, sessionID, socketPath string) error {
	cfg := mcpConfigFile{
		MCPServers: map[string]mcpServerEntry{
			"remotecode_permission": {
				Command: helperBinary,
				Args:    []string{"--session-id", sessionID, "--socket", socketPath},
			},
		},
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
