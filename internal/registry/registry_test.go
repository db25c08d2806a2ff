package registry

import (
	"path/filepath"
	"testing"
)

func TestActiveSessionRoundTrip(t *testing.T) {
	r := New(filepath.Join(t.TempDir(), "local"))

	sel, err := r.ActiveSession()
	if err != nil {
		t.Fatalf("ActiveSession on missing file: %v", err)
	}
	if sel.SessionID != "" || sel.CWD != "" {
		t.Fatalf("expected zero Selection, got %+v", sel)
	}

	if err := r.SetActiveSession("sess-1", "/home/me/proj"); err != nil {
		t.Fatalf("SetActiveSession: %v", err)
	}
	sel, err = r.ActiveSession()
	if err != nil {
		t.Fatalf("ActiveSession: %v", err)
	}
	if sel.SessionID != "sess-1" || sel.CWD != "/home/me/proj" {
		t.Fatalf("got %+v", sel)
	}
}

func TestChatIDAndTransportRoundTrip(t *testing.T) {
	r := New(filepath.Join(t.TempDir(), "local"))

	if err := r.SetChatID("12345"); err != nil {
		t.Fatalf("SetChatID: %v", err)
	}
	if err := r.SetChatTransport("telegram"); err != nil {
		t.Fatalf("SetChatTransport: %v", err)
	}

	chatID, err := r.ChatID()
	if err != nil || chatID != "12345" {
		t.Fatalf("ChatID: got %q, err %v", chatID, err)
	}
	transport, err := r.ChatTransport()
	if err != nil || transport != "telegram" {
		t.Fatalf("ChatTransport: got %q, err %v", transport, err)
	}

	if err := r.SetChatTransport("discord"); err != nil {
		t.Fatalf("SetChatTransport (overwrite): %v", err)
	}
	transport, _ = r.ChatTransport()
	if transport != "discord" {
		t.Fatalf("expected overwritten transport %q, got %q", "discord", transport)
	}
	chatID, _ = r.ChatID()
	if chatID != "12345" {
		t.Fatalf("expected ChatID unaffected by SetChatTransport, got %q", chatID)
	}
}

func TestAutoSyncDefaultsOff(t *testing.T) {
	r := New(filepath.Join(t.TempDir(), "local"))

	on, err := r.AutoSync()
	if err != nil || on {
		t.Fatalf("expected AutoSync to default off, got %v (err %v)", on, err)
	}

	if err := r.SetAutoSync(true); err != nil {
		t.Fatalf("SetAutoSync: %v", err)
	}
	on, _ = r.AutoSync()
	if !on {
		t.Fatal("expected AutoSync on after SetAutoSync(true)")
	}
}

func TestModelRoundTrip(t *testing.T) {
	r := New(filepath.Join(t.TempDir(), "local"))

	model, err := r.Model()
	if err != nil || model != "" {
		t.Fatalf("expected empty model, got %q (err %v)", model, err)
	}
	if err := r.SetModel("opus"); err != nil {
		t.Fatalf("SetModel: %v", err)
	}
	model, _ = r.Model()
	if model != "opus" {
		t.Fatalf("got %q", model)
	}
}
