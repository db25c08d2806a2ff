package orchestrator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/local/remotecode/internal/chat"
	"github.com/local/remotecode/internal/convstore"
	"github.com/local/remotecode/internal/permission"
)

// handleCommand dispatches a "/command args" update. Unknown commands
// are reported back rather than silently dropped.
func (o *Orchestrator) handleCommand(ctx context.Context, t chat.Transport, upd chat.Update) {
	switch upd.Command {
	case "start":
		o.sendTo(ctx, t.Name(), upd.ChatID, "remotecode is ready. Use /projects to pick a working directory, then just send a message.")
	case "projects":
		o.handleProjectsCommand(ctx, t, upd)
	case "sessions":
		o.handleSessionsCommand(ctx, t, upd)
	case "new":
		o.handleNewCommand(ctx, t, upd)
	case "cancel":
		o.handleCancelCommand(ctx, t, upd)
	case "model":
		o.handleModelCommand(ctx, t, upd)
	case "sync":
		o.handleSyncCommand(ctx, t, upd)
	case "yolo":
		o.handleYoloCommand(ctx, t, upd)
	default:
		o.sendTo(ctx, t.Name(), upd.ChatID, "Unknown command: /"+upd.Command)
	}
}

func (o *Orchestrator) handleProjectsCommand(ctx context.Context, t chat.Transport, upd chat.Update) {
	projects := o.store.Projects()
	if len(projects) == 0 {
		o.sendTo(ctx, t.Name(), upd.ChatID, "No projects found yet.")
		return
	}
	var kb chat.Keyboard
	var b strings.Builder
	b.WriteString("Projects:\n")
	for _, p := range projects {
		fmt.Fprintf(&b, "- %s (%d sessions)\n", p.CWD, p.SessionCount)
		kb = append(kb, []chat.Button{{Text: p.CWD, Data: "proj:" + p.EncodedName}})
	}
	_, _ = t.SendMessage(ctx, upd.ChatID, b.String(), chat.SendOptions{Keyboard: kb})
}

func (o *Orchestrator) handleSessionsCommand(ctx context.Context, t chat.Transport, upd chat.Update) {
	sessions := o.store.RecentSessions("")
	if len(sessions) == 0 {
		o.sendTo(ctx, t.Name(), upd.ChatID, "No sessions found yet.")
		return
	}
	const maxShown = 10
	if len(sessions) > maxShown {
		sessions = sessions[:maxShown]
	}
	var kb chat.Keyboard
	var b strings.Builder
	b.WriteString("Recent sessions:\n")
	for _, s := range sessions {
		shortID := s.ID
		if len(shortID) > 8 {
			shortID = shortID[:8]
		}
		fmt.Fprintf(&b, "- %s: %s\n", shortID, s.Preview)
		kb = append(kb, []chat.Button{{Text: shortID, Data: "sess:" + s.ID}})
	}
	_, _ = t.SendMessage(ctx, upd.ChatID, b.String(), chat.SendOptions{Keyboard: kb})
}

func (o *Orchestrator) handleNewCommand(ctx context.Context, t chat.Transport, upd chat.Update) {
	sel, err := o.registry.ActiveSession()
	if err != nil || sel.CWD == "" {
		o.sendTo(ctx, t.Name(), upd.ChatID, "No project selected. Use /projects first.")
		return
	}
	sessionID := uuid.New().String()
	if err := o.registry.SetActiveSession(sessionID, sel.CWD); err != nil {
		o.sendTo(ctx, t.Name(), upd.ChatID, fmt.Sprintf("Failed to start new session: %v", err))
		return
	}
	o.sendTo(ctx, t.Name(), upd.ChatID, "Started a new session in "+sel.CWD)
}

func (o *Orchestrator) handleCancelCommand(ctx context.Context, t chat.Transport, upd chat.Update) {
	sel, err := o.registry.ActiveSession()
	if err != nil || sel.SessionID == "" {
		return
	}
	o.cancelSession(ctx, sel.SessionID)
}

// cancelSession implements spec.md §5's /cancel semantics: deny every
// open dialog, drop the queue, mark the session suppressed, interrupt
// the Agent, then ask it to wrap up cleanly. The wrap-up prompt's
// failure is silently ignored.
func (o *Orchestrator) cancelSession(ctx context.Context, sessionID string) {
	o.arbiter.DenyAllForSession(sessionID)

	s := o.state(sessionID)
	s.mu.Lock()
	s.queue = nil
	s.suppressed = true
	s.openPermDialogID = ""
	s.openQuestionDialogID = ""
	transportName, chatID, replyToID := s.replyTransport, s.replyChatID, s.replyToID
	s.mu.Unlock()

	channel, ok := o.channels.Peek(sessionID)
	if !ok {
		return
	}
	channel.Interrupt()

	sel, err := o.registry.ActiveSession()
	if err != nil || sel.SessionID != sessionID || transportName == "" {
		return
	}
	cwd := sel.CWD
	const wrapUpPrompt = "The current task was cancelled. Wrap up cleanly: stop what you were doing and take no further action."
	go o.runTurn(ctx, sessionID, cwd, transportName, chatID, replyToID, wrapUpPrompt)
}

func (o *Orchestrator) handleModelCommand(ctx context.Context, t chat.Transport, upd chat.Update) {
	model := strings.TrimSpace(upd.Args)
	if model == "" {
		current, _ := o.registry.Model()
		if current == "" {
			current = "(default)"
		}
		o.sendTo(ctx, t.Name(), upd.ChatID, "Current model: "+current)
		return
	}
	if err := o.registry.SetModel(model); err != nil {
		o.sendTo(ctx, t.Name(), upd.ChatID, fmt.Sprintf("Failed to set model: %v", err))
		return
	}
	o.sendTo(ctx, t.Name(), upd.ChatID, "Model set to "+model)
}

func (o *Orchestrator) handleSyncCommand(ctx context.Context, t chat.Transport, upd chat.Update) {
	on, _ := o.registry.AutoSync()
	on = !on
	if err := o.registry.SetAutoSync(on); err != nil {
		o.sendTo(ctx, t.Name(), upd.ChatID, fmt.Sprintf("Failed to toggle sync: %v", err))
		return
	}
	state := "off"
	if on {
		state = "on"
	}
	o.sendTo(ctx, t.Name(), upd.ChatID, "Auto-sync is now "+state)
}

func (o *Orchestrator) handleYoloCommand(ctx context.Context, t chat.Transport, upd chat.Update) {
	sel, err := o.registry.ActiveSession()
	if err != nil || sel.SessionID == "" {
		o.sendTo(ctx, t.Name(), upd.ChatID, "No active session.")
		return
	}
	o.arbiter.SetYolo(sel.SessionID, true)
	o.sendTo(ctx, t.Name(), upd.ChatID, "Yolo mode enabled for the active session.")
}

// handleCallback dispatches prefix-routed callback data (spec.md §4.5
// Chat-callback routing: "sess:", "proj:", "newsess:", "sessdel:",
// "ask:", "perm:", "model:", "takeover:").
func (o *Orchestrator) handleCallback(ctx context.Context, t chat.Transport, upd chat.Update) {
	prefix, rest, ok := strings.Cut(upd.Text, ":")
	if !ok {
		return
	}
	switch prefix {
	case "sess":
		o.callbackSelectSession(ctx, t, upd, rest)
	case "proj":
		o.callbackSelectProject(ctx, t, upd, rest)
	case "newsess":
		o.callbackNewSession(ctx, t, upd, rest)
	case "sessdel":
		o.callbackDeleteSession(ctx, t, upd, rest)
	case "ask":
		o.callbackAnswerQuestion(ctx, upd, rest)
	case "perm":
		o.callbackPermissionVerdict(ctx, upd, rest)
	case "model":
		o.callbackSetModel(ctx, t, upd, rest)
	case "takeover":
		o.callbackTakeover(ctx, t, upd, rest)
	case "dismiss":
		o.callbackDismiss(ctx, t, upd, rest)
	}
}

// callbackDismiss implements the Watcher/Scanner notifications' Dismiss
// button: suppress future re-posts for this session until its pending
// set resolves and reappears (spec.md §4.7), and remove the notification
// the user just acted on.
func (o *Orchestrator) callbackDismiss(ctx context.Context, t chat.Transport, upd chat.Update, sessionID string) {
	if o.watcher != nil {
		o.watcher.Dismiss(sessionID)
	}
	if o.scanner != nil {
		o.scanner.Dismiss(sessionID)
	}
	if upd.CallbackMessage != "" {
		_ = t.DeleteMessage(ctx, upd.ChatID, upd.CallbackMessage)
	}
}

func (o *Orchestrator) callbackSelectSession(ctx context.Context, t chat.Transport, upd chat.Update, sessionID string) {
	sess, ok := o.store.FindByPrefix(sessionID)
	if !ok {
		o.sendTo(ctx, t.Name(), upd.ChatID, "Session not found.")
		return
	}
	o.switchSession(ctx, sess.ID, convstore.DecodeProjectDir(sess.ProjectDir))
	o.sendTo(ctx, t.Name(), upd.ChatID, "Switched to session "+shortID(sess.ID))
}

func (o *Orchestrator) callbackSelectProject(ctx context.Context, t chat.Transport, upd chat.Update, encodedDir string) {
	cwd := convstore.DecodeProjectDir(encodedDir)
	sessions := o.store.RecentSessions(encodedDir)
	if len(sessions) == 0 {
		sessionID := uuid.New().String()
		o.switchSession(ctx, sessionID, cwd)
		o.sendTo(ctx, t.Name(), upd.ChatID, "New session in "+cwd)
		return
	}
	o.switchSession(ctx, sessions[0].ID, cwd)
	o.sendTo(ctx, t.Name(), upd.ChatID, "Switched to "+cwd+", most recent session "+shortID(sessions[0].ID))
}

func (o *Orchestrator) callbackNewSession(ctx context.Context, t chat.Transport, upd chat.Update, encodedDir string) {
	cwd := convstore.DecodeProjectDir(encodedDir)
	sessionID := uuid.New().String()
	o.switchSession(ctx, sessionID, cwd)
	o.sendTo(ctx, t.Name(), upd.ChatID, "New session in "+cwd)
}

func (o *Orchestrator) callbackDeleteSession(ctx context.Context, t chat.Transport, upd chat.Update, sessionID string) {
	sess, ok := o.store.FindByPrefix(sessionID)
	if !ok {
		o.sendTo(ctx, t.Name(), upd.ChatID, "Session not found.")
		return
	}
	if channel, ok := o.channels.Peek(sess.ID); ok {
		_ = channel.Close()
		o.channels.Forget(sess.ID)
	}
	if err := os.Remove(sess.Path); err != nil && !os.IsNotExist(err) {
		o.sendTo(ctx, t.Name(), upd.ChatID, fmt.Sprintf("Failed to delete session: %v", err))
		return
	}
	o.sendTo(ctx, t.Name(), upd.ChatID, "Deleted session "+shortID(sess.ID))
}

func (o *Orchestrator) callbackAnswerQuestion(ctx context.Context, upd chat.Update, rest string) {
	dialogID, answer, _ := strings.Cut(rest, ":")
	o.arbiter.ResolveAnswer(dialogID, answer)
	o.clearDialogState(dialogID)
}

func (o *Orchestrator) callbackPermissionVerdict(ctx context.Context, upd chat.Update, rest string) {
	verdictName, dialogID, ok := strings.Cut(rest, ":")
	if !ok {
		return
	}
	verdict, ok := parseVerdict(verdictName)
	if !ok {
		return
	}
	o.arbiter.Resolve(dialogID, verdict)
	o.clearDialogState(dialogID)
}

// clearDialogState clears whichever session's open-dialog bookkeeping
// matches dialogID, since the callback alone does not carry the session
// id back to the Orchestrator.
func (o *Orchestrator) clearDialogState(dialogID string) {
	o.mu.Lock()
	sessions := make([]*sessionState, 0, len(o.sessions))
	for _, s := range o.sessions {
		sessions = append(sessions, s)
	}
	o.mu.Unlock()
	for _, s := range sessions {
		s.mu.Lock()
		if s.openPermDialogID == dialogID {
			s.openPermDialogID = ""
		}
		if s.openQuestionDialogID == dialogID {
			s.openQuestionDialogID = ""
		}
		s.mu.Unlock()
	}
}

func parseVerdict(name string) (permission.Verdict, bool) {
	switch name {
	case "allow":
		return permission.VerdictAllow, true
	case "deny":
		return permission.VerdictDeny, true
	case "allow_session":
		return permission.VerdictAllowForSession, true
	case "yolo_session":
		return permission.VerdictYoloForSession, true
	default:
		return permission.VerdictDeny, false
	}
}

func (o *Orchestrator) callbackSetModel(ctx context.Context, t chat.Transport, upd chat.Update, model string) {
	if err := o.registry.SetModel(model); err != nil {
		o.sendTo(ctx, t.Name(), upd.ChatID, fmt.Sprintf("Failed to set model: %v", err))
		return
	}
	o.sendTo(ctx, t.Name(), upd.ChatID, "Model set to "+model)
}

// callbackTakeover implements spec.md §4.7's full takeover handoff: mark
// the channel stale and relabel the Watcher's and Scanner's notifications
// (steps 1-2), then make the session active and resubmit its last user
// prompt as a new turn (steps 3-4).
func (o *Orchestrator) callbackTakeover(ctx context.Context, t chat.Transport, upd chat.Update, sessionID string) {
	sess, ok := o.store.FindByPrefix(sessionID)
	if !ok {
		o.sendTo(ctx, t.Name(), upd.ChatID, "Session not found.")
		return
	}

	o.MarkSessionStale(sess.ID)
	if o.watcher != nil {
		o.watcher.RelabelTakenOver(ctx, sess.ID)
	}
	if o.scanner != nil {
		o.scanner.RelabelTakenOver(ctx, sess.ID)
	}

	cwd := convstore.DecodeProjectDir(sess.ProjectDir)
	o.switchSession(ctx, sess.ID, cwd)

	prompt := convstore.LastUserText(sess.Path)
	if prompt == "" {
		return
	}
	o.runTurn(ctx, sess.ID, cwd, t.Name(), upd.ChatID, "", prompt)
}

// switchSession applies spec.md §4.5's session-switch semantics: the old
// active session, if busy, is suppressed and switched to yolo so its
// stream unwinds in the background without blocking on dialogs; if idle
// its flags are simply cleared. The new session's suppression is
// cleared and it becomes active.
func (o *Orchestrator) switchSession(ctx context.Context, newSessionID, newCWD string) {
	old, err := o.registry.ActiveSession()
	if err == nil && old.SessionID != "" && old.SessionID != newSessionID {
		oldState := o.state(old.SessionID)
		oldState.mu.Lock()
		busy := oldState.busy
		oldState.mu.Unlock()

		o.arbiter.DenyAllForSession(old.SessionID)
		if busy {
			oldState.mu.Lock()
			oldState.suppressed = true
			oldState.mu.Unlock()
			o.arbiter.SetYolo(old.SessionID, true)
		} else {
			oldState.mu.Lock()
			oldState.suppressed = false
			oldState.openPermDialogID = ""
			oldState.openQuestionDialogID = ""
			oldState.mu.Unlock()
		}
	}

	newState := o.state(newSessionID)
	newState.mu.Lock()
	newState.suppressed = false
	newState.mu.Unlock()

	_ = o.registry.SetActiveSession(newSessionID, newCWD)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// handleVoice transcribes an incoming voice clip and runs the result as
// a normal prompt, per spec.md §7's "Voice tool not installed" edge case
// when no transcriber is wired.
func (o *Orchestrator) handleVoice(ctx context.Context, t chat.Transport, upd chat.Update) {
	if o.transcriber == nil {
		o.sendTo(ctx, t.Name(), upd.ChatID, "Voice input isn't available: the transcription tool is not installed.")
		return
	}
	tmpPath := filepath.Join(os.TempDir(), "remotecode-voice-"+uuid.New().String()+".ogg")
	if err := t.Download(ctx, upd.FileID, tmpPath); err != nil {
		o.sendTo(ctx, t.Name(), upd.ChatID, fmt.Sprintf("Failed to download voice message: %v", err))
		return
	}
	defer os.Remove(tmpPath)

	text, err := o.transcriber.Transcribe(tmpPath)
	if err != nil {
		o.sendTo(ctx, t.Name(), upd.ChatID, fmt.Sprintf("Failed to transcribe voice message: %v", err))
		return
	}
	text = strings.TrimSpace(text)
	if text == "" {
		o.sendTo(ctx, t.Name(), upd.ChatID, "Couldn't make out any speech in that voice message.")
		return
	}
	o.handlePrompt(ctx, t, upd, text)
}

func (o *Orchestrator) handleImage(ctx context.Context, t chat.Transport, upd chat.Update) {
	tmpPath := filepath.Join(os.TempDir(), "remotecode-"+uuid.New().String())
	if err := t.Download(ctx, upd.FileID, tmpPath); err != nil {
		o.sendTo(ctx, t.Name(), upd.ChatID, fmt.Sprintf("Failed to download image: %v", err))
		return
	}
	defer os.Remove(tmpPath)
	prompt := fmt.Sprintf("The user attached an image at %s.", tmpPath)
	if upd.Text != "" {
		prompt = upd.Text + "\n\n" + prompt
	}
	o.handlePrompt(ctx, t, upd, prompt)
}
