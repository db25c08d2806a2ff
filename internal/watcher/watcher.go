// Package watcher is the Watcher of spec.md §4.6: one instance bound to
// the currently active session, tailing its on-disk record file for
// writes made by the Agent itself or, notably, by a separate CLI user
// working in the same session outside the chat bridge.
//
// Grounded on other_examples' tail-claude watcher.go for the
// fsnotify-plus-debounce shape (here a keyed time.AfterFunc timer that
// calls processTail once writes to the bound file settle), generalized
// here to the two independent passes spec.md §4.6 names
// (Permission, Display) instead of a single rebuild.
package watcher

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/local/remotecode/internal/applog"
	"github.com/local/remotecode/internal/chat"
	"github.com/local/remotecode/internal/convstore"
	"github.com/local/remotecode/internal/orchestrator"
	"github.com/local/remotecode/internal/registry"
)

// Compile-time assertion: Watcher implements orchestrator.WatcherControl.
var _ orchestrator.WatcherControl = (*Watcher)(nil)

// rebindInterval is how often the Watcher checks the Session Registry
// for a changed active session (spec.md §4.6).
const rebindInterval = 3 * time.Second

// tailDebounceWindow coalesces rapid writes to the bound session file
// before re-reading its tail.
const tailDebounceWindow = 500 * time.Millisecond

// pendingNotifyDebounce is how long a newly non-empty pending-tool-use
// map must persist before the Watcher posts a "pending on host"
// notification, avoiding a flicker for tool calls the host resolves
// within a second or two.
const pendingNotifyDebounce = 8 * time.Second

// orchestratorHost is the narrow surface the Watcher needs from
// *orchestrator.Orchestrator. Declared locally (instead of importing the
// orchestrator package's own interface) so this package has no
// compile-time dependency on the orchestrator's internals beyond this
// method set.
type orchestratorHost interface {
	IsQueryActive(sessionID string) bool
	MarkSessionStale(sessionID string)
	PostNotification(ctx context.Context, transportName, chatID, text string, kb chat.Keyboard) (string, error)
	EditNotification(ctx context.Context, transportName, chatID, messageID, text string, kb chat.Keyboard) error
}

// Watcher tails the active session's record file and maintains its
// pending-tool-use notification and (when auto-sync is on) its chat
// mirror of host-side activity.
type Watcher struct {
	registry *registry.Registry
	store    *convstore.Store
	orch     orchestratorHost
	log      *applog.Logger

	tailDebounce    *Debouncer
	pendingDebounce *Debouncer

	fsWatcher *fsnotify.Watcher

	mu              sync.Mutex
	sessionID       string
	path            string
	offset          int64
	pending         map[string]convstore.Block
	dismissed       bool
	notifyMsgID     string
	notifyTransport string
	notifyChatID    string
	notifyText      string
}

// New returns a Watcher that will bind to reg's active session once Run
// starts.
func New(reg *registry.Registry, store *convstore.Store, orch orchestratorHost, log *applog.Logger) *Watcher {
	return &Watcher{
		registry:        reg,
		store:           store,
		orch:            orch,
		log:             log,
		tailDebounce:    NewDebouncer(tailDebounceWindow),
		pendingDebounce: NewDebouncer(pendingNotifyDebounce),
	}
}

// Run binds to the active session and processes filesystem notifications
// until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watcher: %w", err)
	}
	defer fsWatcher.Close()
	w.fsWatcher = fsWatcher

	w.rebind(ctx)

	ticker := time.NewTicker(rebindInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.tailDebounce.Stop()
			w.pendingDebounce.Stop()
			return nil

		case <-ticker.C:
			w.rebind(ctx)

		case event, ok := <-fsWatcher.Events:
			if !ok {
				return nil
			}
			w.mu.Lock()
			boundPath := w.path
			w.mu.Unlock()
			if event.Name == boundPath && event.Has(fsnotify.Write) {
				w.tailDebounce.Debounce("tail", func() { w.processTail(ctx) })
			}

		case err, ok := <-fsWatcher.Errors:
			if !ok {
				return nil
			}
			w.log.Debugf("watcher: fsnotify error: %v", err)
		}
	}
}

// rebind switches the Watcher to the Session Registry's current active
// session, if it has changed.
func (w *Watcher) rebind(ctx context.Context) {
	sel, err := w.registry.ActiveSession()
	if err != nil || sel.SessionID == "" || sel.CWD == "" {
		return
	}
	path := w.store.SessionPath(sel.CWD, sel.SessionID)

	w.mu.Lock()
	unchanged := w.sessionID == sel.SessionID && w.path == path
	oldPath := w.path
	w.mu.Unlock()
	if unchanged {
		return
	}

	if oldPath != "" {
		_ = w.fsWatcher.Remove(oldPath)
	}

	var offset int64
	if info, err := os.Stat(path); err == nil {
		offset = info.Size()
	}
	if err := w.fsWatcher.Add(path); err != nil {
		// File may not exist yet for a brand-new session; leave the new
		// binding unrecorded so the next poll retries the rebind.
		w.log.Debugf("watcher: add %s: %v", path, err)
		return
	}

	w.mu.Lock()
	w.sessionID = sel.SessionID
	w.path = path
	w.offset = offset
	w.pending = convstore.PendingToolUses(path)
	w.dismissed = false
	w.notifyMsgID = ""
	w.notifyText = ""
	w.mu.Unlock()
}

// SkipToEnd implements orchestrator.WatcherControl: advance the tail
// offset to end-of-file and cancel any pending debounced re-read, so the
// Orchestrator's own just-rendered turn is never replayed as a
// third-party tail (spec.md §4.6 "skipToEnd").
func (w *Watcher) SkipToEnd(sessionID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.sessionID != sessionID {
		return
	}
	w.tailDebounce.Cancel("tail")
	if info, err := os.Stat(w.path); err == nil {
		w.offset = info.Size()
	}
}

// Dismiss implements orchestrator.WatcherControl: suppress the
// pending-on-host notification for sessionID until its pending set
// resolves and reappears, and cancel any in-flight debounce for it.
func (w *Watcher) Dismiss(sessionID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.sessionID != sessionID {
		return
	}
	w.dismissed = true
	w.notifyMsgID = ""
	w.pendingDebounce.Cancel(sessionID)
}

// RelabelTakenOver implements orchestrator.WatcherControl: when the user
// takes a pending session over via the chat button, the Watcher's own
// "pending on host" notification (if any) is edited to say so instead of
// left to report the now-stale state (spec.md §4.7 step 2).
func (w *Watcher) RelabelTakenOver(ctx context.Context, sessionID string) {
	w.mu.Lock()
	if w.sessionID != sessionID || w.notifyMsgID == "" {
		w.mu.Unlock()
		return
	}
	msgID, transportName, chatID, text := w.notifyMsgID, w.notifyTransport, w.notifyChatID, w.notifyText
	w.mu.Unlock()
	_ = w.orch.EditNotification(ctx, transportName, chatID, msgID, text+"\n\nContinuing in Telegram", nil)
}

// processTail reads and classifies whatever was appended to the bound
// session file since the last processed offset (spec.md §4.6).
func (w *Watcher) processTail(ctx context.Context) {
	w.mu.Lock()
	sessionID, path, offset := w.sessionID, w.path, w.offset
	w.mu.Unlock()
	if sessionID == "" || path == "" {
		return
	}

	// I3 re-entrancy guard: an Orchestrator turn in flight for this
	// session already owns the file's meaning; skip processing but still
	// advance the offset so nothing is replayed once the turn ends.
	if w.orch.IsQueryActive(sessionID) {
		if info, err := os.Stat(path); err == nil {
			w.mu.Lock()
			if w.sessionID == sessionID {
				w.offset = info.Size()
			}
			w.mu.Unlock()
		}
		return
	}

	records, newOffset := convstore.ReadIncremental(path, offset)
	w.mu.Lock()
	if w.sessionID == sessionID {
		w.offset = newOffset
	}
	w.mu.Unlock()
	if len(records) == 0 {
		return
	}

	w.orch.MarkSessionStale(sessionID)
	w.applyPermissionPass(ctx, sessionID, records)

	if autoSync, _ := w.registry.AutoSync(); autoSync {
		w.applyDisplayPass(ctx, records)
	}
}

// applyPermissionPass maintains the per-session pending-tool-use map and
// its debounced "pending on host" notification (spec.md §4.6).
func (w *Watcher) applyPermissionPass(ctx context.Context, sessionID string, records []convstore.Record) {
	w.mu.Lock()
	if w.pending == nil {
		w.pending = make(map[string]convstore.Block)
	}
	wasEmpty := len(w.pending) == 0
	for _, rec := range records {
		switch rec.Type {
		case convstore.KindAssistant:
			for _, b := range rec.Blocks() {
				if b.Type == convstore.BlockToolUse && b.ID != "" {
					w.pending[b.ID] = b
				}
			}
		case convstore.KindUser:
			for _, b := range rec.Blocks() {
				if b.Type == convstore.BlockToolResult && b.ToolUseID != "" {
					delete(w.pending, b.ToolUseID)
				}
			}
		}
	}
	nowEmpty := len(w.pending) == 0
	becameNonEmpty := wasEmpty && !nowEmpty
	becameEmpty := !wasEmpty && nowEmpty
	if becameNonEmpty {
		w.dismissed = false
	}
	dismissed := w.dismissed
	notifyMsgID, transportName, chatID := w.notifyMsgID, w.notifyTransport, w.notifyChatID
	w.mu.Unlock()

	switch {
	case becameNonEmpty && !dismissed:
		w.pendingDebounce.Debounce(sessionID, func() { w.postPendingNotification(ctx, sessionID) })
	case becameEmpty:
		w.pendingDebounce.Cancel(sessionID)
		if notifyMsgID != "" {
			_ = w.orch.EditNotification(ctx, transportName, chatID, notifyMsgID, "✓ Resolved", nil)
			w.mu.Lock()
			w.notifyMsgID = ""
			w.notifyText = ""
			w.mu.Unlock()
		}
	}
}

// postPendingNotification posts or updates the "pending on host" chat
// message once the pending set has held non-empty for the debounce
// window.
func (w *Watcher) postPendingNotification(ctx context.Context, sessionID string) {
	transportName, _ := w.registry.ChatTransport()
	chatID, _ := w.registry.ChatID()
	if transportName == "" || chatID == "" {
		return
	}

	w.mu.Lock()
	stillBound := w.sessionID == sessionID
	dismissed := w.dismissed
	var first convstore.Block
	for _, b := range w.pending {
		first = b
		break
	}
	nonEmpty := len(w.pending) > 0
	existingID := w.notifyMsgID
	w.mu.Unlock()
	if !stillBound || dismissed || !nonEmpty {
		return
	}

	text := "Pending on host: " + describePendingTool(first)
	kb := chat.Keyboard{{
		{Text: "Continue in Telegram", Data: "takeover:" + sessionID},
		{Text: "Dismiss", Data: "dismiss:" + sessionID},
	}}

	if existingID != "" {
		_ = w.orch.EditNotification(ctx, transportName, chatID, existingID, text, kb)
		w.mu.Lock()
		w.notifyText = text
		w.mu.Unlock()
		return
	}
	id, err := w.orch.PostNotification(ctx, transportName, chatID, text, kb)
	if err != nil {
		return
	}
	w.mu.Lock()
	w.notifyMsgID = id
	w.notifyTransport = transportName
	w.notifyChatID = chatID
	w.notifyText = text
	w.mu.Unlock()
}

// applyDisplayPass mirrors new user/assistant text entries as chat
// messages when the auto-sync toggle is on (spec.md §4.6).
func (w *Watcher) applyDisplayPass(ctx context.Context, records []convstore.Record) {
	transportName, _ := w.registry.ChatTransport()
	chatID, _ := w.registry.ChatID()
	if transportName == "" || chatID == "" {
		return
	}
	for _, rec := range records {
		if rec.IsMeta || rec.IsSidechain || hasToolBlocks(rec) {
			continue
		}
		var label string
		switch rec.Type {
		case convstore.KindUser:
			label = "[sync] You: "
		case convstore.KindAssistant:
			label = "[sync] Bot: "
		default:
			continue
		}
		text := strings.TrimSpace(rec.Text())
		if text == "" {
			continue
		}
		_, _ = w.orch.PostNotification(ctx, transportName, chatID, label+text, nil)
	}
}

// hasToolBlocks reports whether rec carries a tool_use or tool_result
// block, which the Display pass skips (spec.md §4.6).
func hasToolBlocks(rec convstore.Record) bool {
	for _, b := range rec.Blocks() {
		if b.Type == convstore.BlockToolUse || b.Type == convstore.BlockToolResult {
			return true
		}
	}
	return false
}

// describePendingTool renders one pending tool_use block as a short
// human-readable descriptor for the takeover notification.
func describePendingTool(b convstore.Block) string {
	input := strings.TrimSpace(string(b.Input))
	if len(input) > 100 {
		input = input[:100] + "…"
	}
	if input == "" {
		return b.Name
	}
	return b.Name + ": " + input
}
