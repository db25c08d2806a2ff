// Package orchestrator is the Orchestrator of spec.md §4.5: the hub that
// classifies inbound chat updates, serializes turns per session through
// the Agent Channel, and arbitrates permission dialogs by implementing
// permission.DialogSender.
//
// Grounded on the teacher's internal/telegram/bot.go update-dispatch
// loop (command routing, callback-prefix switch), generalized so the
// same dispatch drives any number of chat.Transport backends instead of
// a single hard-coded Telegram client.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/local/remotecode/internal/applog"
	"github.com/local/remotecode/internal/chat"
	"github.com/local/remotecode/internal/config"
	"github.com/local/remotecode/internal/convstore"
	"github.com/local/remotecode/internal/permission"
	"github.com/local/remotecode/internal/registry"
	"github.com/local/remotecode/internal/whisper"
)

// closeGrace is how long an idle channel lingers after its queue drains
// before Close, per spec.md §5 "Bounded resources".
const closeGrace = 2 * time.Second

// activeQueryGrace defers clearing a session's "active query" marker to
// absorb trailing disk writes the Watcher would otherwise re-process
// (spec.md §4.5 Post-stream, invariant I3).
const activeQueryGrace = 2 * time.Second

// silentTools are never shown as a coalesced tool-use message; this is
// the Orchestrator's own display filter and has no effect on permission
// decisions (spec.md §4.5 Streaming).
var silentTools = map[string]bool{
	"TodoWrite":       true,
	"TodoRead":        true,
	"AskUserQuestion": true,
}

// WatcherControl is the narrow surface the Orchestrator needs from the
// Watcher (spec.md §4.6): advance its tail offset past data the
// Orchestrator already rendered, so a filesystem notification doesn't
// re-emit it, and suppress its pending-on-host notification on Dismiss.
// Set after the Watcher is constructed; nil is tolerated (tests, or a
// daemon run with the watcher not yet wired).
type WatcherControl interface {
	SkipToEnd(sessionID string)
	Dismiss(sessionID string)
	RelabelTakenOver(ctx context.Context, sessionID string)
}

// ScannerControl is the narrow surface the Orchestrator needs from the
// Global Scanner (spec.md §4.7): suppress a dismissed notification until
// its pending set resolves and reappears, and relabel its own
// notification on takeover.
type ScannerControl interface {
	Dismiss(sessionID string)
	RelabelTakenOver(ctx context.Context, sessionID string)
}

// sessionState is the Orchestrator's own per-session bookkeeping,
// distinct from the Permission Arbiter's session state and the Session
// Registry's persisted selection.
type sessionState struct {
	mu sync.Mutex

	busy  bool
	queue []queuedTurn

	// suppressed is set by cancelSession and by switchSession on a busy
	// session it switches away from, and cleared when the session is
	// switched to. Turn rendering does not read it: a suppressed session's
	// turn output is still sent to chat.
	suppressed bool

	openQuestionDialogID string // AskUserQuestion dialog awaiting a text answer
	openPermDialogID     string // tool-permission dialog open right now

	replyTransport string
	replyChatID    string
	replyToID      string

	toolMsgID   string
	toolMsgText string

	activeQuery bool // I3 re-entrancy guard seen by the Watcher
}

type queuedTurn struct {
	transport string
	chatID    string
	replyToID string
	prompt    string
}

// Orchestrator wires the Session Registry, Conversation Store, Agent
// Channel manager, and Permission Arbiter together and drives every
// registered chat.Transport.
type Orchestrator struct {
	cfg      *config.Config
	log      *applog.Logger
	registry *registry.Registry
	store    *convstore.Store
	channels    channelManager
	arbiter     *permission.Arbiter
	watcher     WatcherControl
	scanner     ScannerControl
	transcriber *whisper.Transcriber // nil if the voice tool isn't installed (spec.md §7)

	mu         sync.Mutex
	transports map[string]chat.Transport
	sessions   map[string]*sessionState
}

// New constructs an Orchestrator. channels is an interface so tests can
// substitute fakes; production callers pass
// NewManagerAdapter(agentchannel.NewManager(...)). arbiter is the
// concrete *permission.Arbiter, whose dialogs are rendered through the
// Orchestrator's own SendDialog.
func New(cfg *config.Config, log *applog.Logger, reg *registry.Registry, store *convstore.Store, channels channelManager, arbiter *permission.Arbiter) *Orchestrator {
	return &Orchestrator{
		cfg:        cfg,
		log:        log,
		registry:   reg,
		store:      store,
		channels:   channels,
		arbiter:    arbiter,
		transports: make(map[string]chat.Transport),
		sessions:   make(map[string]*sessionState),
	}
}

// SetWatcher wires the Watcher's skip-to-end hook in after construction,
// avoiding an import cycle (internal/watcher depends on this package's
// active-query marker, not the reverse).
func (o *Orchestrator) SetWatcher(w WatcherControl) {
	o.watcher = w
}

// SetScanner wires the Global Scanner's dismiss hook in after
// construction, for the same reason as SetWatcher.
func (o *Orchestrator) SetScanner(s ScannerControl) {
	o.scanner = s
}

// SetTranscriber wires the voice-transcription tool in. Leaving it unset
// (nil) is normal -- handleVoice then reports spec.md §7's "Voice tool
// not installed" error instead of failing the daemon.
func (o *Orchestrator) SetTranscriber(tr *whisper.Transcriber) {
	o.transcriber = tr
}

// RegisterTransport adds a chat.Transport to the dispatch set, keyed by
// its Name().
func (o *Orchestrator) RegisterTransport(t chat.Transport) {
	o.mu.Lock()
	o.transports[t.Name()] = t
	o.mu.Unlock()
}

func (o *Orchestrator) transport(name string) (chat.Transport, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	t, ok := o.transports[name]
	return t, ok
}

// Run starts every registered transport and dispatches its updates until
// ctx is cancelled.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.mu.Lock()
	transports := make([]chat.Transport, 0, len(o.transports))
	for _, t := range o.transports {
		transports = append(transports, t)
	}
	o.mu.Unlock()

	var wg sync.WaitGroup
	errCh := make(chan error, len(transports))
	for _, t := range transports {
		t := t
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := t.Start(ctx); err != nil {
				errCh <- fmt.Errorf("orchestrator: transport %s: %w", t.Name(), err)
			}
		}()
		wg.Add(1)
		go func() {
			defer wg.Done()
			o.dispatchLoop(ctx, t)
		}()
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		if err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) dispatchLoop(ctx context.Context, t chat.Transport) {
	for {
		select {
		case <-ctx.Done():
			return
		case upd, ok := <-t.Updates():
			if !ok {
				return
			}
			o.HandleUpdate(ctx, t, upd)
		}
	}
}

// HandleUpdate classifies and routes one inbound chat event (spec.md
// §4.5(a)-(b)).
func (o *Orchestrator) HandleUpdate(ctx context.Context, t chat.Transport, upd chat.Update) {
	if !o.cfg.IsAllowed(upd.UserID, upd.Username) {
		o.log.Printf("orchestrator: rejected update from unauthorized user %s (%s)", upd.UserID, upd.Username)
		return
	}

	if upd.ChatID != "" {
		_ = o.registry.SetChatID(upd.ChatID)
		_ = o.registry.SetChatTransport(t.Name())
	}

	switch upd.Kind {
	case chat.UpdateCommand:
		o.handleCommand(ctx, t, upd)
	case chat.UpdateCallback:
		o.handleCallback(ctx, t, upd)
		_ = t.AnswerCallback(ctx, upd.CallbackID, "")
	case chat.UpdateText:
		o.handlePrompt(ctx, t, upd, upd.Text)
	case chat.UpdateVoice:
		o.handleVoice(ctx, t, upd)
	case chat.UpdateImage:
		o.handleImage(ctx, t, upd)
	}
}

// PostNotification sends a background chat message not tied to any one
// inbound update, used by internal/watcher and internal/scanner to post
// pending-tool-use and takeover notifications (spec.md §4.6, §4.7).
func (o *Orchestrator) PostNotification(ctx context.Context, transportName, chatID, text string, kb chat.Keyboard) (string, error) {
	t, ok := o.transport(transportName)
	if !ok {
		return "", fmt.Errorf("orchestrator: no transport %q registered", transportName)
	}
	return t.SendMessage(ctx, chatID, text, chat.SendOptions{Keyboard: kb})
}

// EditNotification updates a previously posted background notification.
func (o *Orchestrator) EditNotification(ctx context.Context, transportName, chatID, messageID, text string, kb chat.Keyboard) error {
	t, ok := o.transport(transportName)
	if !ok {
		return fmt.Errorf("orchestrator: no transport %q registered", transportName)
	}
	return t.EditMessage(ctx, chatID, messageID, text, chat.SendOptions{Keyboard: kb})
}

// DeleteNotification removes a previously posted background notification.
func (o *Orchestrator) DeleteNotification(ctx context.Context, transportName, chatID, messageID string) error {
	t, ok := o.transport(transportName)
	if !ok {
		return fmt.Errorf("orchestrator: no transport %q registered", transportName)
	}
	return t.DeleteMessage(ctx, chatID, messageID)
}

// MarkSessionStale marks sessionID's live Agent Channel stale, if one
// exists, so its next reuse recreates via resume instead of assuming its
// in-memory state still matches the file (spec.md §4.6 "Stale marking",
// §4.7 step 1).
func (o *Orchestrator) MarkSessionStale(sessionID string) {
	if ch, ok := o.channels.Peek(sessionID); ok {
		ch.MarkStale()
	}
}

func (o *Orchestrator) state(sessionID string) *sessionState {
	o.mu.Lock()
	defer o.mu.Unlock()
	s, ok := o.sessions[sessionID]
	if !ok {
		s = &sessionState{}
		o.sessions[sessionID] = s
	}
	return s
}

// activeQueryContains reports whether sessionID currently has an
// in-flight turn, for the Watcher's re-entrancy guard (spec.md §4.6,
// invariant I3).
func (o *Orchestrator) activeQueryContains(sessionID string) bool {
	s := o.state(sessionID)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeQuery
}

// IsQueryActive is activeQueryContains exported for internal/watcher and
// internal/scanner, which run outside this package but must not
// double-process a tail the Orchestrator's own turn is mid-stream on.
func (o *Orchestrator) IsQueryActive(sessionID string) bool {
	return o.activeQueryContains(sessionID)
}

// resolveSession resolves the active session id and working directory
// for a new prompt, creating a fresh session id if none is active yet
// (spec.md §4.5 step 1).
func (o *Orchestrator) resolveSession() (sessionID, cwd string, err error) {
	sel, err := o.registry.ActiveSession()
	if err != nil {
		return "", "", err
	}
	if sel.CWD == "" {
		return "", "", fmt.Errorf("orchestrator: no project selected")
	}
	if sel.SessionID == "" {
		sessionID = uuid.New().String()
		if err := o.registry.SetActiveSession(sessionID, sel.CWD); err != nil {
			return "", "", err
		}
		return sessionID, sel.CWD, nil
	}
	return sel.SessionID, sel.CWD, nil
}
