// Package paths resolves the on-disk locations the daemon reads and writes:
// its own config directory and the external Agent's conversation tree.
package paths

import (
	"os"
	"path/filepath"
)

// ConfigDirName is the per-user directory holding config, registry, pid
// file and logs (spec.md §6).
const ConfigDirName = ".remotecode"

// AgentProjectsDirName is where the external Agent keeps its conversation
// record files, one project directory per encoded working directory.
const AgentProjectsDirName = ".claude"

// ConfigDir returns ~/.remotecode, creating it if missing.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	dir := filepath.Join(home, ConfigDirName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return dir, nil
}

// TmpDir returns ~/.remotecode/tmp, used by the voice transcriber for its
// intermediate WAV files, each deleted after use (spec.md §5, "bounded
// resources").
func TmpDir() (string, error) {
	base, err := ConfigDir()
	if err != nil {
		return "", err
	}
	dir := filepath.Join(base, "tmp")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return dir, nil
}

// ConfigFile returns the path to the key=value config file.
func ConfigFile() (string, error) {
	base, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, "config"), nil
}

// RegistryFile returns the path to the session registry key=value file.
func RegistryFile() (string, error) {
	base, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, "local"), nil
}

// PidFile returns the path to the daemon's pid file.
func PidFile() (string, error) {
	base, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, "remotecode.pid"), nil
}

// LogFile returns the path to the rotating daemon log.
func LogFile() (string, error) {
	base, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, "remotecode.log"), nil
}

// WhisperModelPath returns the expected location of the bundled speech
// model. The core treats its absence as "voice disabled", never fatal.
func WhisperModelPath() (string, error) {
	base, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, "whisper", "ggml-small.bin"), nil
}

// ProjectsRoot returns ~/.claude/projects, the root of the Agent's
// conversation tree that the Conversation Store indexes read-only.
func ProjectsRoot() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, AgentProjectsDirName, "projects"), nil
}

// PermissionSocketDir returns ~/.remotecode/sockets, holding one Unix
// domain socket per live session for the permission-callback RPC
// (internal/permission.RPCServer).
func PermissionSocketDir() (string, error) {
	base, err := ConfigDir()
	if err != nil {
		return "", err
	}
	dir := filepath.Join(base, "sockets")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", err
	}
	return dir, nil
}

// PermissionSocketPath returns the Unix domain socket path for one
// session's permission-callback RPC.
func PermissionSocketPath(sessionID string) (string, error) {
	dir, err := PermissionSocketDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, sessionID+".sock"), nil
}

// MCPConfigDir returns ~/.remotecode/mcp, holding one generated
// --mcp-config JSON file per live session.
func MCPConfigDir() (string, error) {
	base, err := ConfigDir()
	if err != nil {
		return "", err
	}
	dir := filepath.Join(base, "mcp")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", err
	}
	return dir, nil
}

// MCPConfigPath returns the --mcp-config file path for one session.
func MCPConfigPath(sessionID string) (string, error) {
	dir, err := MCPConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, sessionID+".json"), nil
}
