package permission

import (
	"context"
	"testing"
	"time"
)

// fakeSender is a DialogSender that resolves every dialog it's handed,
// either immediately (via respond) or never (to exercise the timeout
// path), recording every dialog it was asked to send.
type fakeSender struct {
	arbiter *Arbiter
	sent    []*Dialog
	respond func(d *Dialog) // if nil, the dialog is left pending
}

func (f *fakeSender) SendDialog(ctx context.Context, d *Dialog) error {
	f.sent = append(f.sent, d)
	if f.respond != nil {
		f.respond(d)
	}
	return nil
}

// A session the orchestrator has suppressed after a switch (spec.md
// §4.4 step 1) is driven entirely through SetYolo -- the Arbiter itself
// has no separate notion of "suppressed", only yolo.
func TestArbiterSessionSuppressedViaYoloAutoAllows(t *testing.T) {
	a := NewArbiter(&fakeSender{})
	a.SetYolo("s1", true)
	v, _, err := a.Decide(context.Background(), Request{SessionID: "s1", ToolName: "Read"})
	if err != nil || v != VerdictAllow {
		t.Fatalf("expected suppressed (yolo) session to auto-allow, got %v, %v", v, err)
	}
	// An unsuppressed session still goes through the cascade to an
	// interactive dialog for the same tool.
	sender := &fakeSender{}
	b := NewArbiter(sender)
	sender.respond = func(d *Dialog) {
		go b.Resolve(d.ID, VerdictDeny)
	}
	v2, _, err := b.Decide(context.Background(), Request{SessionID: "s2", ToolName: "Read"})
	if err != nil || v2 != VerdictDeny {
		t.Fatalf("expected a non-suppressed session's Read to reach the interactive dialog, got %v, %v", v2, err)
	}
}

func TestArbiterYoloAllowsEverything(t *testing.T) {
	a := NewArbiter(&fakeSender{})
	a.SetYolo("s1", true)
	v, _, err := a.Decide(context.Background(), Request{SessionID: "s1", ToolName: "Bash", Input: "rm -rf /"})
	if err != nil || v != VerdictAllow {
		t.Fatalf("expected yolo session to auto-allow, got %v, %v", v, err)
	}
}

func TestArbiterSessionAllowList(t *testing.T) {
	a := NewArbiter(&fakeSender{})
	a.AllowForSession("s1", "Write")
	v, _, err := a.Decide(context.Background(), Request{SessionID: "s1", ToolName: "Write"})
	if err != nil || v != VerdictAllow {
		t.Fatalf("expected session allow-list to auto-allow, got %v, %v", v, err)
	}
	// A different session's allow-list is independent.
	v2, _, _ := a.Decide(context.Background(), Request{SessionID: "s2", ToolName: "Write"})
	if v2 == VerdictAllow {
		t.Fatal("expected a different session's allow-list to stay unaffected")
	}
}

func TestArbiterStaticPolicyDeny(t *testing.T) {
	sender := &fakeSender{}
	a := NewArbiter(sender)

	dir := t.TempDir()
	globalPath := dir + "/global"
	writeFile(t, globalPath, "[deny]\nBash(rm)\n")
	a.BindPolicy("s1", NewStaticPolicy(globalPath))

	v, _, err := a.Decide(context.Background(), Request{SessionID: "s1", ToolName: "Bash", Input: "rm -rf /"})
	if err != nil || v != VerdictDeny {
		t.Fatalf("expected static policy deny, got %v, %v", v, err)
	}
	if len(sender.sent) != 0 {
		t.Error("a static-policy match should never reach the interactive dialog")
	}
}

func TestArbiterInteractiveDialogResolvesAllow(t *testing.T) {
	sender := &fakeSender{}
	a := NewArbiter(sender)
	sender.respond = func(d *Dialog) {
		go a.Resolve(d.ID, VerdictAllow)
	}

	v, _, err := a.Decide(context.Background(), Request{SessionID: "s1", ToolName: "Edit"})
	if err != nil || v != VerdictAllow {
		t.Fatalf("expected dialog allow, got %v, %v", v, err)
	}
}

func TestArbiterInteractiveDialogAllowForSession(t *testing.T) {
	sender := &fakeSender{}
	a := NewArbiter(sender)
	sender.respond = func(d *Dialog) {
		go a.Resolve(d.ID, VerdictAllowForSession)
	}

	v, _, _ := a.Decide(context.Background(), Request{SessionID: "s1", ToolName: "Edit"})
	if v != VerdictAllow {
		t.Fatalf("expected allow-for-session to resolve as allow, got %v", v)
	}

	// A second request for the same tool should now auto-allow without
	// a new dialog.
	sender.sent = nil
	v2, _, _ := a.Decide(context.Background(), Request{SessionID: "s1", ToolName: "Edit"})
	if v2 != VerdictAllow || len(sender.sent) != 0 {
		t.Fatalf("expected the session allow-list to short-circuit, got %v with %d dialogs sent", v2, len(sender.sent))
	}
}

func TestArbiterAskUserQuestionReturnsAnswer(t *testing.T) {
	sender := &fakeSender{}
	a := NewArbiter(sender)
	sender.respond = func(d *Dialog) {
		go a.ResolveAnswer(d.ID, "option B")
	}

	v, answer, err := a.Decide(context.Background(), Request{SessionID: "s1", ToolName: AskUserQuestionTool})
	if err != nil || v != VerdictAllow || answer != "option B" {
		t.Fatalf("expected answered question, got v=%v answer=%q err=%v", v, answer, err)
	}
}

func TestArbiterAskUserQuestionSkip(t *testing.T) {
	sender := &fakeSender{}
	a := NewArbiter(sender)
	sender.respond = func(d *Dialog) {
		go a.ResolveAnswer(d.ID, "")
	}

	v, answer, err := a.Decide(context.Background(), Request{SessionID: "s1", ToolName: AskUserQuestionTool})
	if err != nil || v != VerdictDeny || answer != "" {
		t.Fatalf("expected skipped question to deny with empty answer, got v=%v answer=%q err=%v", v, answer, err)
	}
}

func TestDialogTimesOutToDeny(t *testing.T) {
	d := &Dialog{resp: make(chan Verdict, 1)}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if v := d.wait(ctx); v != VerdictDeny {
		t.Fatalf("expected context-cancelled wait to deny, got %v", v)
	}
}
