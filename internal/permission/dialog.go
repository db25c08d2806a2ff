package permission

import (
	"context"
	"sync"
	"time"
)

// DialogTimeout bounds how long an interactive permission dialog waits
// for a human response before falling back to deny, grounded on the
// teacher's handleConfirmDangerous 5-minute timeout.
const DialogTimeout = 5 * time.Minute

// Verdict is a human or policy decision on one tool-use request.
type Verdict int

const (
	VerdictDeny Verdict = iota
	VerdictAllow
	VerdictAllowForSession
	VerdictYoloForSession
)

// Request describes one tool invocation the Agent is asking permission
// for, as delivered by the mcpcallback stdio server.
type Request struct {
	SessionID string
	ToolName  string
	Input     string // raw JSON input, used to render the dialog and to extract a shell command's first word
}

// Dialog is one pending interactive permission prompt, rendered as a
// chat message with Allow/Deny/Allow-for-session/Yolo-for-session
// buttons (spec.md §4.4 point 6).
type Dialog struct {
	ID      string
	Request Request
	Answer  string // free-text answer for an AskUserQuestion dialog, set before resp is sent
	resp    chan Verdict
}

// pendingDialogs tracks in-flight interactive dialogs keyed by ID, so a
// chat callback (button press) can resolve the right one.
type pendingDialogs struct {
	mu      sync.Mutex
	entries map[string]*Dialog
}

func newPendingDialogs() *pendingDialogs {
	return &pendingDialogs{entries: make(map[string]*Dialog)}
}

func (p *pendingDialogs) register(id string, req Request) *Dialog {
	d := &Dialog{ID: id, Request: req, resp: make(chan Verdict, 1)}
	p.mu.Lock()
	p.entries[id] = d
	p.mu.Unlock()
	return d
}

func (p *pendingDialogs) resolve(id string, v Verdict) bool {
	return p.resolveWithAnswer(id, v, "")
}

// resolveWithAnswer resolves a pending dialog, stamping answer as the
// free-text reply for an AskUserQuestion dialog before unblocking the
// waiter (the channel send is the synchronizing event, so the waiter
// always observes the stamped Answer).
func (p *pendingDialogs) resolveWithAnswer(id string, v Verdict, answer string) bool {
	p.mu.Lock()
	d, ok := p.entries[id]
	if ok {
		delete(p.entries, id)
	}
	p.mu.Unlock()
	if !ok {
		return false
	}
	d.Answer = answer
	d.resp <- v
	return true
}

func (p *pendingDialogs) forget(id string) {
	p.mu.Lock()
	delete(p.entries, id)
	p.mu.Unlock()
}

// resolveAllForSession denies (or sets to v) every dialog still pending
// for sessionID, used by the orchestrator's session-switch and /cancel
// deny-all semantics (spec.md §4.5, §5).
func (p *pendingDialogs) resolveAllForSession(sessionID string, v Verdict) {
	p.mu.Lock()
	var matched []*Dialog
	for id, d := range p.entries {
		if d.Request.SessionID == sessionID {
			matched = append(matched, d)
			delete(p.entries, id)
		}
	}
	p.mu.Unlock()
	for _, d := range matched {
		d.resp <- v
	}
}

// wait blocks until the dialog is resolved, the context is cancelled, or
// DialogTimeout elapses, returning VerdictDeny on either of the latter
// two (spec.md §4.4: an unanswered dialog denies the tool use).
func (d *Dialog) wait(ctx context.Context) Verdict {
	timer := time.NewTimer(DialogTimeout)
	defer timer.Stop()
	select {
	case v := <-d.resp:
		return v
	case <-timer.C:
		return VerdictDeny
	case <-ctx.Done():
		return VerdictDeny
	}
}
