package agentchannel

import (
	"os"
	"path/filepath"
	"testing"
)

func TestParseWireLine(t *testing.T) {
	cases := []struct {
		name string
		line string
		kind EventKind
		ok   bool
	}{
		{"init", `{"type":"system","subtype":"init","session_id":"abc"}`, EventSystemInit, true},
		{"text", `{"type":"assistant","message":{"role":"assistant","content":[{"type":"text","text":"hi"}]}}`, EventAssistant, true},
		{"tool_use", `{"type":"assistant","message":{"role":"assistant","content":[{"type":"tool_use","id":"t1","name":"Bash","input":{}}]}}`, EventAssistant, true},
		{"result", `{"type":"result","is_error":false}`, EventResult, true},
		{"unknown", `{"type":"mystery"}`, "", false},
		{"garbage", `not json`, "", false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			ev, ok := parseWireLine([]byte(c.line))
			if ok != c.ok {
				t.Fatalf("ok = %v, want %v", ok, c.ok)
			}
			if ok && ev.Kind != c.kind {
				t.Errorf("kind = %v, want %v", ev.Kind, c.kind)
			}
		})
	}
}

func TestCheckStaleDetectsThirdPartyWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "s.jsonl")
	if err := os.WriteFile(path, []byte("line1\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	ch := New("s1", dir, "")
	ch.RecordSelfSize(path)
	if ch.CheckStale(path) {
		t.Fatal("expected not stale immediately after recording self size")
	}

	if err := os.WriteFile(path, []byte("line1\nline2\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if !ch.CheckStale(path) {
		t.Fatal("expected stale after third-party append")
	}
}

func TestTryAcquireMutualExclusion(t *testing.T) {
	ch := New("s1", t.TempDir(), "")
	release, err := ch.TryAcquire()
	if err != nil {
		t.Fatalf("first acquire should succeed: %v", err)
	}
	if _, err := ch.TryAcquire(); err != ErrBusy {
		t.Fatalf("second acquire should return ErrBusy, got %v", err)
	}
	release()
	if _, err := ch.TryAcquire(); err != nil {
		t.Fatalf("acquire after release should succeed: %v", err)
	}
}

func TestManagerGetReusesChannel(t *testing.T) {
	m := NewManager(nil)
	a, err := m.Get("s1", "/tmp")
	if err != nil {
		t.Fatal(err)
	}
	b, err := m.Get("s1", "/tmp")
	if err != nil {
		t.Fatal(err)
	}
	if a != b {
		t.Fatal("expected the same channel instance for the same session id")
	}
	m.Forget("s1")
	if _, ok := m.Peek("s1"); ok {
		t.Fatal("expected channel to be forgotten")
	}
}
