package orchestrator

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/local/remotecode/internal/agentchannel"
	"github.com/local/remotecode/internal/applog"
	"github.com/local/remotecode/internal/chat"
	"github.com/local/remotecode/internal/config"
	"github.com/local/remotecode/internal/convstore"
	"github.com/local/remotecode/internal/permission"
	"github.com/local/remotecode/internal/registry"
)

// fakeChannel is a no-dependency stand-in for *agentchannel.Channel: it
// streams a single canned text event then a Result, recording every
// prompt it was asked to run.
type fakeChannel struct {
	locked  chan struct{}
	prompts []string
	reply   string
}

func newFakeChannel(reply string) *fakeChannel {
	return &fakeChannel{locked: make(chan struct{}, 1), reply: reply}
}

func (f *fakeChannel) TryAcquire() (func(), error) {
	select {
	case f.locked <- struct{}{}:
		return func() { <-f.locked }, nil
	default:
		return nil, agentchannel.ErrBusy
	}
}

func (f *fakeChannel) Acquire() func() {
	f.locked <- struct{}{}
	return func() { <-f.locked }
}

func (f *fakeChannel) Stream(ctx context.Context, prompt string, resumeExisting bool) (<-chan agentchannel.Event, error) {
	f.prompts = append(f.prompts, prompt)
	out := make(chan agentchannel.Event, 2)
	out <- agentchannel.Event{Kind: agentchannel.EventAssistant, Blocks: []agentchannel.AssistantBlock{{Kind: agentchannel.BlockText, Text: f.reply}}}
	out <- agentchannel.Event{Kind: agentchannel.EventResult}
	close(out)
	return out, nil
}

func (f *fakeChannel) Interrupt()                    {}
func (f *fakeChannel) Close() error                  { return nil }
func (f *fakeChannel) MarkStale()                    {}
func (f *fakeChannel) RecordSelfSize(path string)     {}

type fakeManager struct {
	channels map[string]*fakeChannel
}

func newFakeManager() *fakeManager { return &fakeManager{channels: make(map[string]*fakeChannel)} }

func (m *fakeManager) Get(sessionID, cwd string) (agentChannel, error) {
	c, ok := m.channels[sessionID]
	if !ok {
		c = newFakeChannel("ok: " + sessionID)
		m.channels[sessionID] = c
	}
	return c, nil
}

func (m *fakeManager) Peek(sessionID string) (agentChannel, bool) {
	c, ok := m.channels[sessionID]
	return c, ok
}

func (m *fakeManager) Forget(sessionID string) { delete(m.channels, sessionID) }

// fakeTransport records every outgoing message for assertions and lets
// tests inject updates via its channel.
type fakeTransport struct {
	name     string
	updates  chan chat.Update
	sent     []string
}

func newFakeTransport(name string) *fakeTransport {
	return &fakeTransport{name: name, updates: make(chan chat.Update, 10)}
}

func (f *fakeTransport) Name() string                    { return f.name }
func (f *fakeTransport) Updates() <-chan chat.Update      { return f.updates }
func (f *fakeTransport) Start(ctx context.Context) error  { return nil }
func (f *fakeTransport) SendMessage(ctx context.Context, chatID, text string, opts chat.SendOptions) (string, error) {
	f.sent = append(f.sent, text)
	return "msg-1", nil
}
func (f *fakeTransport) EditMessage(ctx context.Context, chatID, messageID, text string, opts chat.SendOptions) error {
	f.sent = append(f.sent, text)
	return nil
}
func (f *fakeTransport) DeleteMessage(ctx context.Context, chatID, messageID string) error { return nil }
func (f *fakeTransport) AnswerCallback(ctx context.Context, callbackID, text string) error  { return nil }
func (f *fakeTransport) SendTyping(ctx context.Context, chatID string)                      {}
func (f *fakeTransport) SendPhoto(ctx context.Context, chatID, localPath, caption string) error {
	return nil
}
func (f *fakeTransport) SendVoice(ctx context.Context, chatID, localPath string) error { return nil }
func (f *fakeTransport) Download(ctx context.Context, fileID, localPath string) error  { return nil }

func testOrchestrator(t *testing.T) (*Orchestrator, *fakeManager, *fakeTransport) {
	t.Helper()
	dir := t.TempDir()
	cfg := &config.Config{}
	logPath := filepath.Join(dir, "app.log")
	log, err := applog.New(logPath, false)
	if err != nil {
		t.Fatalf("applog.New: %v", err)
	}
	reg := registry.New(filepath.Join(dir, "registry"))
	store := convstore.New(filepath.Join(dir, "projects"))
	manager := newFakeManager()

	o := New(cfg, log, reg, store, manager, nil)
	arb := permission.NewArbiter(o)
	o.arbiter = arb

	tr := newFakeTransport("fake")
	o.RegisterTransport(tr)
	return o, manager, tr
}

func TestHandlePromptRunsTurnAndRenders(t *testing.T) {
	o, manager, tr := testOrchestrator(t)
	if err := o.registry.SetActiveSession("", "/tmp/proj"); err != nil {
		t.Fatalf("SetActiveSession: %v", err)
	}

	upd := chat.Update{Kind: chat.UpdateText, ChatID: "c1", UserID: "u1", Text: "hello"}
	o.HandleUpdate(context.Background(), tr, upd)

	sel, _ := o.registry.ActiveSession()
	if sel.SessionID == "" {
		t.Fatal("expected a session id to be created")
	}
	c, ok := manager.channels[sel.SessionID]
	if !ok {
		t.Fatal("expected a channel to have been created")
	}
	if len(c.prompts) != 1 || c.prompts[0] != "hello" {
		t.Errorf("expected prompt %q to reach the channel, got %v", "hello", c.prompts)
	}
	if len(tr.sent) == 0 {
		t.Error("expected at least one outgoing message")
	}
}

func TestHandlePromptQueuesWhenBusy(t *testing.T) {
	o, _, tr := testOrchestrator(t)
	sessionID := "sess-1"
	if err := o.registry.SetActiveSession(sessionID, "/tmp/proj"); err != nil {
		t.Fatalf("SetActiveSession: %v", err)
	}

	s := o.state(sessionID)
	s.mu.Lock()
	s.busy = true
	s.mu.Unlock()

	upd := chat.Update{Kind: chat.UpdateText, ChatID: "c1", UserID: "u1", Text: "second turn"}
	o.HandleUpdate(context.Background(), tr, upd)

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) != 1 || s.queue[0].prompt != "second turn" {
		t.Errorf("expected the turn to be queued, got %+v", s.queue)
	}
}

func TestHandlePromptResolvesOpenQuestionInsteadOfQueueing(t *testing.T) {
	o, _, tr := testOrchestrator(t)
	sessionID := "sess-1"
	if err := o.registry.SetActiveSession(sessionID, "/tmp/proj"); err != nil {
		t.Fatalf("SetActiveSession: %v", err)
	}

	s := o.state(sessionID)
	s.mu.Lock()
	s.busy = true
	s.openQuestionDialogID = "dlg-1"
	s.mu.Unlock()

	upd := chat.Update{Kind: chat.UpdateText, ChatID: "c1", UserID: "u1", Text: "my answer"}
	o.HandleUpdate(context.Background(), tr, upd)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.openQuestionDialogID != "" {
		t.Error("expected the open question dialog id to be cleared")
	}
	if len(s.queue) != 0 {
		t.Errorf("expected no queued turn, got %+v", s.queue)
	}
}

func TestHandleCallbackPermissionVerdictClearsState(t *testing.T) {
	o, _, tr := testOrchestrator(t)
	sessionID := "sess-1"
	s := o.state(sessionID)
	s.mu.Lock()
	s.openPermDialogID = "dlg-xyz"
	s.mu.Unlock()

	upd := chat.Update{Kind: chat.UpdateCallback, ChatID: "c1", UserID: "u1", Text: "perm:allow:dlg-xyz"}
	o.HandleUpdate(context.Background(), tr, upd)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.openPermDialogID != "" {
		t.Error("expected open perm dialog id to be cleared after a matching verdict callback")
	}
}

func TestParseVerdict(t *testing.T) {
	cases := map[string]permission.Verdict{
		"allow":         permission.VerdictAllow,
		"deny":          permission.VerdictDeny,
		"allow_session": permission.VerdictAllowForSession,
		"yolo_session":  permission.VerdictYoloForSession,
	}
	for name, want := range cases {
		got, ok := parseVerdict(name)
		if !ok || got != want {
			t.Errorf("parseVerdict(%q) = %v, %v; want %v, true", name, got, ok, want)
		}
	}
	if _, ok := parseVerdict("bogus"); ok {
		t.Error("expected bogus verdict name to be rejected")
	}
}

func TestRenderQuestionDialogOptions(t *testing.T) {
	d := &permission.Dialog{ID: "d1", Request: permission.Request{
		ToolName: permission.AskUserQuestionTool,
		Input:    `{"question":"Pick one","options":["a","b"]}`,
	}}
	text, kb := renderDialog(d)
	if text != "Pick one" {
		t.Errorf("expected question text, got %q", text)
	}
	if len(kb) != 3 { // two options + skip
		t.Fatalf("expected 3 keyboard rows, got %d", len(kb))
	}
	if kb[0][0].Data != "ask:d1:a" {
		t.Errorf("unexpected button data: %q", kb[0][0].Data)
	}
}

func TestDescribeToolUseTruncates(t *testing.T) {
	block := agentchannel.AssistantBlock{ToolName: "Bash", ToolInput: []byte(`{"command":"echo hi"}`)}
	got := describeToolUse(block)
	if got == "" {
		t.Fatal("expected non-empty description")
	}

	long := agentchannel.AssistantBlock{ToolName: "Bash", ToolInput: []byte(`{"command":"` + strings.Repeat("x", 200) + `"}`)}
	gotLong := describeToolUse(long)
	if !strings.HasSuffix(gotLong, "…") {
		t.Errorf("expected long input to end in an ellipsis, got %q", gotLong)
	}
	if want := len("\U0001f527 Bash: ") + 120 + len("…"); len(gotLong) != want {
		t.Errorf("expected truncated description of %d bytes, got %d", want, len(gotLong))
	}
}

