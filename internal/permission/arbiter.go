package permission

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"
)

// AskUserQuestionTool is the synthetic tool name the Agent uses to ask
// the human a multiple-choice question mid-turn. It never goes through
// the allow/deny cascade -- the Arbiter always renders it as a question
// dialog with the caller-supplied options plus a "Skip answer" button.
const AskUserQuestionTool = "AskUserQuestion"

// DialogSender renders an interactive permission (or question) dialog
// in the session's chat and returns once it has been sent. The actual
// resolution arrives later via Arbiter.Resolve, driven by a chat
// callback. Implemented by the orchestrator so this package stays free
// of a chat-transport dependency.
type DialogSender interface {
	SendDialog(ctx context.Context, d *Dialog) error
}

// sessionState is the per-session mutable permission state: the /yolo
// toggle and the allow-for-session list built up from prior
// "Allow for this session" button presses.
type sessionState struct {
	mu       sync.Mutex
	yolo     bool
	allowed  map[string]bool
}

func newSessionState() *sessionState {
	return &sessionState{allowed: make(map[string]bool)}
}

// Arbiter is the Permission Arbiter of spec.md §4.4: the cascade that
// decides whether a tool-use request is allowed, denied, or needs an
// interactive dialog, plus the bookkeeping for pending dialogs and
// per-session allow state.
//
// Grounded on the teacher's internal/mcp/server.go ask/confirm_dangerous
// handlers for the dialog shape, and on the env-driven allow-list idiom
// already used by internal/config.IsAllowed, generalized to a per-session
// per-tool cascade.
type Arbiter struct {
	sender DialogSender

	mu       sync.Mutex
	sessions map[string]*sessionState
	policies map[string]*StaticPolicy

	dialogs *pendingDialogs
}

// NewArbiter constructs an Arbiter that renders dialogs via sender.
func NewArbiter(sender DialogSender) *Arbiter {
	return &Arbiter{
		sender:   sender,
		sessions: make(map[string]*sessionState),
		policies: make(map[string]*StaticPolicy),
		dialogs:  newPendingDialogs(),
	}
}

// BindPolicy associates a static policy cascade with a session, read
// from that session's working directory (global settings file plus up
// to two project-level files per spec.md §4.4 point 5).
func (a *Arbiter) BindPolicy(sessionID string, sp *StaticPolicy) {
	a.mu.Lock()
	a.policies[sessionID] = sp
	a.mu.Unlock()
}

func (a *Arbiter) state(sessionID string) *sessionState {
	a.mu.Lock()
	defer a.mu.Unlock()
	s, ok := a.sessions[sessionID]
	if !ok {
		s = newSessionState()
		a.sessions[sessionID] = s
	}
	return s
}

// SetYolo toggles the session's "allow everything" mode, set by the
// Yolo-for-session dialog button or the /yolo command.
func (a *Arbiter) SetYolo(sessionID string, on bool) {
	s := a.state(sessionID)
	s.mu.Lock()
	s.yolo = on
	s.mu.Unlock()
}

// AllowForSession records the tool as pre-approved for the rest of the
// session, set by the Allow-for-session dialog button.
func (a *Arbiter) AllowForSession(sessionID, toolName string) {
	s := a.state(sessionID)
	s.mu.Lock()
	s.allowed[toolName] = true
	s.mu.Unlock()
}

// Decide runs the permission cascade for one tool-use request: session
// yolo (which a suppressed session is switched into by the orchestrator
// on session-switch, spec.md §4.4 step 1), per-session allow-list,
// static policy files, and finally an interactive dialog.
// AskUserQuestion bypasses all of this and always renders as a question
// dialog; its resolved free-text answer (empty for "Skip answer") is
// returned as answer.
func (a *Arbiter) Decide(ctx context.Context, req Request) (verdict Verdict, answer string, err error) {
	if req.ToolName == AskUserQuestionTool {
		return a.ask(ctx, req)
	}

	s := a.state(req.SessionID)
	s.mu.Lock()
	yolo := s.yolo
	allowed := s.allowed[req.ToolName]
	s.mu.Unlock()
	if yolo {
		return VerdictAllow, "", nil
	}
	if allowed {
		return VerdictAllow, "", nil
	}

	a.mu.Lock()
	sp := a.policies[req.SessionID]
	a.mu.Unlock()
	if sp != nil {
		command := req.Input
		var shell struct {
			Command string `json:"command"`
		}
		if json.Unmarshal([]byte(req.Input), &shell) == nil && shell.Command != "" {
			command = shell.Command
		}
		firstArg := FirstArgvWord(command)
		if allow, deny, matched := sp.Evaluate(req.ToolName, firstArg); matched {
			if allow {
				return VerdictAllow, "", nil
			}
			if deny {
				return VerdictDeny, "", nil
			}
		}
	}

	v, err := a.interactive(ctx, req)
	return v, "", err
}

// interactive renders a dialog and blocks for the human's verdict,
// applying Allow-for-session/Yolo-for-session side effects before
// returning.
func (a *Arbiter) interactive(ctx context.Context, req Request) (Verdict, error) {
	d := a.dialogs.register(uuid.NewString(), req)
	if err := a.sender.SendDialog(ctx, d); err != nil {
		a.dialogs.forget(d.ID)
		return VerdictDeny, err
	}
	v := d.wait(ctx)
	switch v {
	case VerdictAllowForSession:
		a.AllowForSession(req.SessionID, req.ToolName)
		return VerdictAllow, nil
	case VerdictYoloForSession:
		a.SetYolo(req.SessionID, true)
		return VerdictAllow, nil
	}
	return v, nil
}

// ask renders an AskUserQuestion dialog and waits for an answer; a
// "Skip answer" press or a timeout resolves as VerdictDeny with an empty
// answer, which the mcpcallback server returns to the Agent as a deny
// result ("no answer provided").
func (a *Arbiter) ask(ctx context.Context, req Request) (Verdict, string, error) {
	d := a.dialogs.register(uuid.NewString(), req)
	if err := a.sender.SendDialog(ctx, d); err != nil {
		a.dialogs.forget(d.ID)
		return VerdictDeny, "", err
	}
	v := d.wait(ctx)
	return v, d.Answer, nil
}

// Resolve is called by the orchestrator when a chat callback answers a
// pending permission dialog (button press). It reports whether dialogID
// was still pending.
func (a *Arbiter) Resolve(dialogID string, v Verdict) bool {
	return a.dialogs.resolve(dialogID, v)
}

// ResolveAnswer is called by the orchestrator when a chat callback
// answers a pending AskUserQuestion dialog with a chosen option's text
// (or "" for "Skip answer"). It reports whether dialogID was still
// pending.
func (a *Arbiter) ResolveAnswer(dialogID, answer string) bool {
	v := VerdictDeny
	if answer != "" {
		v = VerdictAllow
	}
	return a.dialogs.resolveWithAnswer(dialogID, v, answer)
}

// DenyAllForSession resolves every dialog still pending for sessionID as
// denied, used when a new turn arrives while a permission dialog is open
// (spec.md §4.5 step 2) or on /cancel and session-switch (spec.md §5).
func (a *Arbiter) DenyAllForSession(sessionID string) {
	a.dialogs.resolveAllForSession(sessionID, VerdictDeny)
}
