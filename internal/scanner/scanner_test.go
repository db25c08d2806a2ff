package scanner

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/local/remotecode/internal/applog"
	"github.com/local/remotecode/internal/chat"
	"github.com/local/remotecode/internal/convstore"
	"github.com/local/remotecode/internal/registry"
)

type fakeOrchHost struct {
	active  map[string]bool
	posted  []string
	edited  []string
	deleted []string
}

func (f *fakeOrchHost) IsQueryActive(sessionID string) bool { return f.active[sessionID] }
func (f *fakeOrchHost) PostNotification(ctx context.Context, transportName, chatID, text string, kb chat.Keyboard) (string, error) {
	f.posted = append(f.posted, text)
	return "notif-" + text[:4], nil
}
func (f *fakeOrchHost) EditNotification(ctx context.Context, transportName, chatID, messageID, text string, kb chat.Keyboard) error {
	f.edited = append(f.edited, text)
	return nil
}
func (f *fakeOrchHost) DeleteNotification(ctx context.Context, transportName, chatID, messageID string) error {
	f.deleted = append(f.deleted, messageID)
	return nil
}

func newTestScanner(t *testing.T) (*Scanner, *fakeOrchHost, *registry.Registry, *convstore.Store, string) {
	t.Helper()
	dir := t.TempDir()
	reg := registry.New(filepath.Join(dir, "registry"))
	store := convstore.New(filepath.Join(dir, "projects"))
	log, err := applog.New(filepath.Join(dir, "app.log"), false)
	if err != nil {
		t.Fatalf("applog.New: %v", err)
	}
	reg.SetChatID("chat-1")
	reg.SetChatTransport("fake")
	host := &fakeOrchHost{active: make(map[string]bool)}
	s := New(reg, store, host, log)
	return s, host, reg, store, dir
}

func writeLine(t *testing.T, path, line string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer f.Close()
	if _, err := f.WriteString(line + "\n"); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func ageFile(t *testing.T, path string, age time.Duration) {
	t.Helper()
	ts := time.Now().Add(-age)
	if err := os.Chtimes(path, ts, ts); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
}

func TestSweepPostsNotificationForIdlePendingSession(t *testing.T) {
	s, host, reg, store, dir := newTestScanner(t)
	cwd := filepath.Join(dir, "proj")
	sessionID := "sess-other"
	path := store.SessionPath(cwd, sessionID)
	os.MkdirAll(filepath.Dir(path), 0o755)
	writeLine(t, path, `{"uuid":"u1","type":"user","message":{"role":"user","content":"do something"}}`)
	writeLine(t, path, `{"uuid":"a1","type":"assistant","message":{"role":"assistant","content":[{"type":"tool_use","id":"t1","name":"Bash","input":{"command":"ls"}}]}}`)
	ageFile(t, path, 2*time.Minute)

	reg.SetActiveSession("sess-active", cwd)

	s.sweep(context.Background())

	if len(host.posted) != 1 {
		t.Fatalf("expected 1 notification, got %d: %v", len(host.posted), host.posted)
	}
}

func TestSweepSkipsActiveSession(t *testing.T) {
	s, host, reg, store, dir := newTestScanner(t)
	cwd := filepath.Join(dir, "proj")
	sessionID := "sess-active"
	path := store.SessionPath(cwd, sessionID)
	os.MkdirAll(filepath.Dir(path), 0o755)
	writeLine(t, path, `{"uuid":"a1","type":"assistant","message":{"role":"assistant","content":[{"type":"tool_use","id":"t1","name":"Bash","input":{"command":"ls"}}]}}`)
	ageFile(t, path, 2*time.Minute)

	reg.SetActiveSession(sessionID, cwd)
	s.sweep(context.Background())

	if len(host.posted) != 0 {
		t.Fatalf("expected no notification for the active session, got %v", host.posted)
	}
}

func TestSweepSkipsQueryActiveSession(t *testing.T) {
	s, host, reg, store, dir := newTestScanner(t)
	cwd := filepath.Join(dir, "proj")
	sessionID := "sess-other"
	path := store.SessionPath(cwd, sessionID)
	os.MkdirAll(filepath.Dir(path), 0o755)
	writeLine(t, path, `{"uuid":"a1","type":"assistant","message":{"role":"assistant","content":[{"type":"tool_use","id":"t1","name":"Bash","input":{"command":"ls"}}]}}`)
	ageFile(t, path, 2*time.Minute)

	reg.SetActiveSession("sess-active", cwd)
	host.active[sessionID] = true
	s.sweep(context.Background())

	if len(host.posted) != 0 {
		t.Fatalf("expected no notification while the session's query is active, got %v", host.posted)
	}
}

func TestSweepResolvesNotificationOncePendingEmpties(t *testing.T) {
	s, host, reg, store, dir := newTestScanner(t)
	cwd := filepath.Join(dir, "proj")
	sessionID := "sess-other"
	path := store.SessionPath(cwd, sessionID)
	os.MkdirAll(filepath.Dir(path), 0o755)
	writeLine(t, path, `{"uuid":"a1","type":"assistant","message":{"role":"assistant","content":[{"type":"tool_use","id":"t1","name":"Bash","input":{"command":"ls"}}]}}`)
	ageFile(t, path, 2*time.Minute)
	reg.SetActiveSession("sess-active", cwd)
	s.sweep(context.Background())
	if len(host.posted) != 1 {
		t.Fatalf("expected initial notification, got %d", len(host.posted))
	}

	writeLine(t, path, `{"uuid":"u2","type":"user","message":{"role":"user","content":[{"type":"tool_result","tool_use_id":"t1"}]}}`)
	ageFile(t, path, 2*time.Minute)
	s.sweep(context.Background())

	if len(host.edited) != 1 {
		t.Fatalf("expected the notification to be edited as resolved, got %d", len(host.edited))
	}
}

func TestSweepRemovesNotificationOnceSessionAgesOut(t *testing.T) {
	s, host, reg, store, dir := newTestScanner(t)
	cwd := filepath.Join(dir, "proj")
	sessionID := "sess-other"
	path := store.SessionPath(cwd, sessionID)
	os.MkdirAll(filepath.Dir(path), 0o755)
	writeLine(t, path, `{"uuid":"a1","type":"assistant","message":{"role":"assistant","content":[{"type":"tool_use","id":"t1","name":"Bash","input":{"command":"ls"}}]}}`)
	ageFile(t, path, 2*time.Minute)
	reg.SetActiveSession("sess-active", cwd)
	s.sweep(context.Background())
	if len(host.posted) != 1 {
		t.Fatalf("expected initial notification, got %d", len(host.posted))
	}

	ageFile(t, path, 10*time.Minute)
	s.sweep(context.Background())

	if len(host.deleted) != 1 {
		t.Fatalf("expected the notification to be deleted once the session aged out, got %d", len(host.deleted))
	}
}

func TestDismissSuppressesUntilPendingReappears(t *testing.T) {
	s, host, reg, store, dir := newTestScanner(t)
	cwd := filepath.Join(dir, "proj")
	sessionID := "sess-other"
	path := store.SessionPath(cwd, sessionID)
	os.MkdirAll(filepath.Dir(path), 0o755)
	writeLine(t, path, `{"uuid":"a1","type":"assistant","message":{"role":"assistant","content":[{"type":"tool_use","id":"t1","name":"Bash","input":{"command":"ls"}}]}}`)
	ageFile(t, path, 2*time.Minute)
	reg.SetActiveSession("sess-active", cwd)

	s.Dismiss(sessionID)
	s.sweep(context.Background())

	if len(host.posted) != 0 {
		t.Fatalf("expected no notification while dismissed, got %v", host.posted)
	}
}

func TestRelabelTakenOverEditsScannerNotification(t *testing.T) {
	s, host, reg, store, dir := newTestScanner(t)
	cwd := filepath.Join(dir, "proj")
	sessionID := "sess-other"
	path := store.SessionPath(cwd, sessionID)
	os.MkdirAll(filepath.Dir(path), 0o755)
	writeLine(t, path, `{"uuid":"a1","type":"assistant","message":{"role":"assistant","content":[{"type":"tool_use","id":"t1","name":"Bash","input":{"command":"ls"}}]}}`)
	ageFile(t, path, 2*time.Minute)
	reg.SetActiveSession("sess-active", cwd)
	s.sweep(context.Background())
	if len(host.posted) != 1 {
		t.Fatalf("expected initial notification, got %d", len(host.posted))
	}

	s.RelabelTakenOver(context.Background(), sessionID)

	if len(host.edited) != 1 {
		t.Fatalf("expected the notification to be relabeled, got %d", len(host.edited))
	}
}
