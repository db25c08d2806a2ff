package paths

import (
	"path/filepath"
	"testing"
)

func TestConfigDirUnderHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	dir, err := ConfigDir()
	if err != nil {
		t.Fatalf("ConfigDir: %v", err)
	}
	want := filepath.Join(home, ConfigDirName)
	if dir != want {
		t.Fatalf("got %q, want %q", dir, want)
	}
}

func TestDerivedPathsNestUnderConfigDir(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	base, err := ConfigDir()
	if err != nil {
		t.Fatalf("ConfigDir: %v", err)
	}

	cases := []struct {
		name string
		fn   func() (string, error)
		want string
	}{
		{"ConfigFile", ConfigFile, filepath.Join(base, "config")},
		{"RegistryFile", RegistryFile, filepath.Join(base, "local")},
		{"PidFile", PidFile, filepath.Join(base, "remotecode.pid")},
		{"LogFile", LogFile, filepath.Join(base, "remotecode.log")},
		{"WhisperModelPath", WhisperModelPath, filepath.Join(base, "whisper", "ggml-small.bin")},
	}
	for _, c := range cases {
		got, err := c.fn()
		if err != nil {
			t.Fatalf("%s: %v", c.name, err)
		}
		if got != c.want {
			t.Errorf("%s: got %q, want %q", c.name, got, c.want)
		}
	}
}

func TestProjectsRootUnderAgentDir(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	root, err := ProjectsRoot()
	if err != nil {
		t.Fatalf("ProjectsRoot: %v", err)
	}
	want := filepath.Join(home, AgentProjectsDirName, "projects")
	if root != want {
		t.Fatalf("got %q, want %q", root, want)
	}
}

func TestPermissionSocketPathPerSession(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	p1, err := PermissionSocketPath("sess-a")
	if err != nil {
		t.Fatalf("PermissionSocketPath: %v", err)
	}
	p2, err := PermissionSocketPath("sess-b")
	if err != nil {
		t.Fatalf("PermissionSocketPath: %v", err)
	}
	if p1 == p2 {
		t.Fatal("expected distinct socket paths per session")
	}
	if filepath.Ext(p1) != ".sock" {
		t.Fatalf("expected .sock suffix, got %q", p1)
	}
}

func TestMCPConfigPathPerSession(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	p1, err := MCPConfigPath("sess-a")
	if err != nil {
		t.Fatalf("MCPConfigPath: %v", err)
	}
	if filepath.Ext(p1) != ".json" {
		t.Fatalf("expected .json suffix, got %q", p1)
	}
}
