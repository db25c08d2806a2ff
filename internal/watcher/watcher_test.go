package watcher

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/local/remotecode/internal/applog"
	"github.com/local/remotecode/internal/chat"
	"github.com/local/remotecode/internal/convstore"
	"github.com/local/remotecode/internal/registry"
)

type fakeOrchHost struct {
	active map[string]bool
	staled []string
	posted []string
	edited []string
}

func (f *fakeOrchHost) IsQueryActive(sessionID string) bool { return f.active[sessionID] }
func (f *fakeOrchHost) MarkSessionStale(sessionID string)   { f.staled = append(f.staled, sessionID) }
func (f *fakeOrchHost) PostNotification(ctx context.Context, transportName, chatID, text string, kb chat.Keyboard) (string, error) {
	f.posted = append(f.posted, text)
	return "notif-1", nil
}
func (f *fakeOrchHost) EditNotification(ctx context.Context, transportName, chatID, messageID, text string, kb chat.Keyboard) error {
	f.edited = append(f.edited, text)
	return nil
}

func newTestWatcher(t *testing.T) (*Watcher, *fakeOrchHost, *registry.Registry, *convstore.Store, string) {
	t.Helper()
	dir := t.TempDir()
	reg := registry.New(filepath.Join(dir, "registry"))
	store := convstore.New(filepath.Join(dir, "projects"))
	log, err := applog.New(filepath.Join(dir, "app.log"), false)
	if err != nil {
		t.Fatalf("applog.New: %v", err)
	}
	host := &fakeOrchHost{active: make(map[string]bool)}
	w := New(reg, store, host, log)
	w.tailDebounce = NewDebouncer(5 * time.Millisecond)
	w.pendingDebounce = NewDebouncer(5 * time.Millisecond)
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		t.Fatalf("fsnotify.NewWatcher: %v", err)
	}
	t.Cleanup(func() { fw.Close() })
	w.fsWatcher = fw
	return w, host, reg, store, dir
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

func TestRebindBindsToActiveSession(t *testing.T) {
	w, _, reg, store, dir := newTestWatcher(t)
	cwd := filepath.Join(dir, "proj")
	sessionID := "sess-1"
	path := store.SessionPath(cwd, sessionID)
	os.MkdirAll(filepath.Dir(path), 0o755)
	writeLine(t, path, `{"uuid":"u1","type":"user","message":{"role":"user","content":"hi"}}`)

	if err := reg.SetActiveSession(sessionID, cwd); err != nil {
		t.Fatalf("SetActiveSession: %v", err)
	}
	w.rebind(context.Background())

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.sessionID != sessionID {
		t.Errorf("expected bound session %q, got %q", sessionID, w.sessionID)
	}
	if w.path != path {
		t.Errorf("expected bound path %q, got %q", path, w.path)
	}
}

func TestProcessTailSkipsWhenQueryActive(t *testing.T) {
	w, host, reg, store, dir := newTestWatcher(t)
	cwd := filepath.Join(dir, "proj")
	sessionID := "sess-1"
	path := store.SessionPath(cwd, sessionID)
	os.MkdirAll(filepath.Dir(path), 0o755)
	writeLine(t, path, `{"uuid":"u1","type":"user","message":{"role":"user","content":"hi"}}`)
	reg.SetActiveSession(sessionID, cwd)
	w.rebind(context.Background())

	host.active[sessionID] = true
	writeLine(t, path, `{"uuid":"u2","type":"assistant","message":{"role":"assistant","content":"hello"}}`)
	w.processTail(context.Background())

	if len(host.posted) != 0 {
		t.Errorf("expected no notifications while query active, got %v", host.posted)
	}
	info, _ := os.Stat(path)
	w.mu.Lock()
	offset := w.offset
	w.mu.Unlock()
	if offset != info.Size() {
		t.Errorf("expected offset advanced to EOF (%d) even though processing was skipped, got %d", info.Size(), offset)
	}
}

func TestApplyPermissionPassNotifiesAndResolves(t *testing.T) {
	w, host, reg, store, dir := newTestWatcher(t)
	cwd := filepath.Join(dir, "proj")
	sessionID := "sess-1"
	path := store.SessionPath(cwd, sessionID)
	os.MkdirAll(filepath.Dir(path), 0o755)
	writeLine(t, path, `{"uuid":"u0","type":"user","message":{"role":"user","content":"hi"}}`)
	reg.SetActiveSession(sessionID, cwd)
	reg.SetChatID("chat-1")
	reg.SetChatTransport("fake")
	w.rebind(context.Background())

	toolUse := `{"uuid":"a1","type":"assistant","message":{"role":"assistant","content":[{"type":"tool_use","id":"t1","name":"Bash","input":{"command":"ls"}}]}}`
	writeLine(t, path, toolUse)
	records, newOffset := convstore.ReadIncremental(path, 0)
	w.mu.Lock()
	w.offset = 0
	w.mu.Unlock()
	w.applyPermissionPass(context.Background(), sessionID, records)
	w.mu.Lock()
	w.offset = newOffset
	w.mu.Unlock()

	deadline := time.After(500 * time.Millisecond)
	for len(host.posted) == 0 {
		select {
		case <-deadline:
			t.Fatal("expected a pending-on-host notification to be posted")
		default:
			time.Sleep(5 * time.Millisecond)
		}
	}

	toolResult := `{"uuid":"u1","type":"user","message":{"role":"user","content":[{"type":"tool_result","tool_use_id":"t1"}]}}`
	writeLine(t, path, toolResult)
	resultRecords, _ := convstore.ReadIncremental(path, newOffset)
	w.applyPermissionPass(context.Background(), sessionID, resultRecords)

	if len(host.edited) == 0 {
		t.Fatal("expected the notification to be edited to resolved")
	}
}

func TestDismissSuppressesUntilPendingReappears(t *testing.T) {
	w, _, _, _, _ := newTestWatcher(t)
	w.mu.Lock()
	w.sessionID = "sess-1"
	w.pending = map[string]convstore.Block{"t1": {Type: convstore.BlockToolUse, ID: "t1"}}
	w.mu.Unlock()

	w.Dismiss("sess-1")

	w.mu.Lock()
	dismissed := w.dismissed
	w.mu.Unlock()
	if !dismissed {
		t.Fatal("expected dismissed flag set")
	}
}

func TestSkipToEndAdvancesOffset(t *testing.T) {
	w, _, reg, store, dir := newTestWatcher(t)
	cwd := filepath.Join(dir, "proj")
	sessionID := "sess-1"
	path := store.SessionPath(cwd, sessionID)
	os.MkdirAll(filepath.Dir(path), 0o755)
	writeLine(t, path, `{"uuid":"u1","type":"user","message":{"role":"user","content":"hi"}}`)
	reg.SetActiveSession(sessionID, cwd)
	w.rebind(context.Background())

	writeLine(t, path, `{"uuid":"u2","type":"user","message":{"role":"user","content":"more"}}`)
	w.SkipToEnd(sessionID)

	info, _ := os.Stat(path)
	w.mu.Lock()
	offset := w.offset
	w.mu.Unlock()
	if offset != info.Size() {
		t.Errorf("expected offset %d, got %d", info.Size(), offset)
	}
}

func TestDescribePendingToolTruncates(t *testing.T) {
	b := convstore.Block{Name: "Bash", Input: []byte(`{"command":"a very long command that goes on and on and on and on and on and on and on and on"}`)}
	got := describePendingTool(b)
	if got == "" {
		t.Fatal("expected non-empty description")
	}

	long := convstore.Block{Name: "Bash", Input: []byte(`{"command":"` + strings.Repeat("x", 200) + `"}`)}
	gotLong := describePendingTool(long)
	if !strings.HasSuffix(gotLong, "…") {
		t.Errorf("expected long input to end in an ellipsis, got %q", gotLong)
	}
	if want := len("Bash: ") + 100 + len("…"); len(gotLong) != want {
		t.Errorf("expected truncated description of %d bytes, got %d", want, len(gotLong))
	}
}
