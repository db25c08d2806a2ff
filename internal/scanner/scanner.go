// Package scanner is the Global Scanner of spec.md §4.7: unlike the
// Watcher, which is bound to one session, the Scanner periodically
// enumerates every project's recent session files looking for pending
// tool_use blocks left behind in a session nobody is currently driving
// from chat, and offers a takeover button for each one it finds.
//
// Grounded on other_examples' tmux-adapter conv-watcher.go for the
// periodic-discovery-across-many-conversations shape, adapted from its
// fsnotify directory watch to a plain ticker, since spec.md §4.7 asks
// for a fixed poll ("every 10 s, enumerates session files... across all
// projects") rather than an event subscription.
package scanner

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/local/remotecode/internal/applog"
	"github.com/local/remotecode/internal/chat"
	"github.com/local/remotecode/internal/convstore"
	"github.com/local/remotecode/internal/orchestrator"
	"github.com/local/remotecode/internal/registry"
)

// Compile-time assertion: Scanner implements orchestrator.ScannerControl.
var _ orchestrator.ScannerControl = (*Scanner)(nil)

// scanInterval is how often the Scanner sweeps every project's recent
// sessions (spec.md §4.7).
const scanInterval = 10 * time.Second

// recentWindow bounds how long ago a session must have been touched to
// still be worth surfacing a notification for.
const recentWindow = 5 * time.Minute

// minIdleAge guards against racing a turn that is still mid-write: a
// session modified more recently than this is left to the next tick.
const minIdleAge = 30 * time.Second

// orchestratorHost is the narrow surface the Scanner needs from
// *orchestrator.Orchestrator, mirroring internal/watcher's identical
// pattern for the identical reason (no compile-time dependency on the
// orchestrator's internals beyond this method set).
type orchestratorHost interface {
	IsQueryActive(sessionID string) bool
	PostNotification(ctx context.Context, transportName, chatID, text string, kb chat.Keyboard) (string, error)
	EditNotification(ctx context.Context, transportName, chatID, messageID, text string, kb chat.Keyboard) error
	DeleteNotification(ctx context.Context, transportName, chatID, messageID string) error
}

// notification tracks one posted-to-chat message so a later tick can
// resolve or remove it.
type notification struct {
	msgID         string
	transportName string
	chatID        string
	text          string
}

// Scanner sweeps every project's recent sessions on a fixed interval,
// surfacing ones with unresolved pending tool_use blocks that the active
// chat session isn't currently driving.
type Scanner struct {
	registry *registry.Registry
	store    *convstore.Store
	orch     orchestratorHost
	log      *applog.Logger

	mu            sync.Mutex
	notifications map[string]notification // sessionID -> notification
	dismissed     map[string]bool
}

// New returns a Scanner; call Run to start its sweep loop.
func New(reg *registry.Registry, store *convstore.Store, orch orchestratorHost, log *applog.Logger) *Scanner {
	return &Scanner{
		registry:      reg,
		store:         store,
		orch:          orch,
		log:           log,
		notifications: make(map[string]notification),
		dismissed:     make(map[string]bool),
	}
}

// Run sweeps immediately, then every scanInterval, until ctx is
// cancelled.
func (s *Scanner) Run(ctx context.Context) error {
	s.sweep(ctx)
	ticker := time.NewTicker(scanInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

// Dismiss implements orchestrator.ScannerControl: suppress sessionID's
// notification until its pending set resolves and reappears.
func (s *Scanner) Dismiss(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dismissed[sessionID] = true
	delete(s.notifications, sessionID)
}

// RelabelTakenOver implements orchestrator.ScannerControl: edit the
// Scanner's own notification (if any) to report the takeover instead of
// leaving it to describe the now-stale pending state (spec.md §4.7 step
// 2).
func (s *Scanner) RelabelTakenOver(ctx context.Context, sessionID string) {
	s.mu.Lock()
	notif, ok := s.notifications[sessionID]
	if ok {
		delete(s.notifications, sessionID)
	}
	s.mu.Unlock()
	if !ok {
		return
	}
	_ = s.orch.EditNotification(ctx, notif.transportName, notif.chatID, notif.msgID, notif.text+"\n\nContinuing in Telegram", nil)
}

// sweep enumerates recent sessions across every project and reconciles
// each session's notification state against its current pending set
// (spec.md §4.7).
func (s *Scanner) sweep(ctx context.Context) {
	transportName, _ := s.registry.ChatTransport()
	chatID, _ := s.registry.ChatID()
	if transportName == "" || chatID == "" {
		return
	}

	sel, err := s.registry.ActiveSession()
	if err != nil {
		return
	}

	recent := s.store.RecentSessions("")
	now := time.Now()
	seen := make(map[string]bool, len(recent))

	for _, sess := range recent {
		if now.Sub(sess.LastModified) > recentWindow {
			continue
		}
		seen[sess.ID] = true
		if sess.ID == sel.SessionID {
			continue
		}
		if now.Sub(sess.LastModified) < minIdleAge {
			continue
		}
		if s.orch.IsQueryActive(sess.ID) {
			continue
		}
		s.reconcile(ctx, sess, transportName, chatID)
	}

	s.mu.Lock()
	var stale []string
	for sessionID := range s.notifications {
		if !seen[sessionID] {
			stale = append(stale, sessionID)
		}
	}
	s.mu.Unlock()
	for _, sessionID := range stale {
		s.removeNotification(ctx, sessionID)
	}
}

// reconcile handles one recent, non-active, idle-enough session: post a
// new notification, resolve an existing one, or leave it be.
func (s *Scanner) reconcile(ctx context.Context, sess convstore.SessionSummary, transportName, chatID string) {
	pending := convstore.PendingToolUses(sess.Path)

	s.mu.Lock()
	notif, hasNotif := s.notifications[sess.ID]
	dismissed := s.dismissed[sess.ID]
	s.mu.Unlock()

	if len(pending) == 0 {
		if hasNotif {
			_ = s.orch.EditNotification(ctx, notif.transportName, notif.chatID, notif.msgID, notif.text+"\n\n✓ Resolved", nil)
			s.mu.Lock()
			delete(s.notifications, sess.ID)
			s.mu.Unlock()
		}
		s.mu.Lock()
		delete(s.dismissed, sess.ID)
		s.mu.Unlock()
		return
	}

	if hasNotif || dismissed {
		return
	}

	var first convstore.Block
	for _, b := range pending {
		first = b
		break
	}
	text := formatNotification(sess, first)
	kb := chat.Keyboard{{
		{Text: "Continue in Telegram", Data: "takeover:" + sess.ID},
		{Text: "Dismiss", Data: "dismiss:" + sess.ID},
	}}
	msgID, err := s.orch.PostNotification(ctx, transportName, chatID, text, kb)
	if err != nil {
		return
	}
	s.mu.Lock()
	s.notifications[sess.ID] = notification{msgID: msgID, transportName: transportName, chatID: chatID, text: text}
	s.mu.Unlock()
}

// removeNotification deletes a previously posted message for a session
// that has aged out of the recent window entirely.
func (s *Scanner) removeNotification(ctx context.Context, sessionID string) {
	s.mu.Lock()
	notif, ok := s.notifications[sessionID]
	if ok {
		delete(s.notifications, sessionID)
	}
	s.mu.Unlock()
	if !ok {
		return
	}
	_ = s.orch.DeleteNotification(ctx, notif.transportName, notif.chatID, notif.msgID)
}

// formatNotification renders a scanner notification body: project path,
// last user input snippet, and the first pending tool's descriptor.
func formatNotification(sess convstore.SessionSummary, first convstore.Block) string {
	cwd := convstore.DecodeProjectDir(sess.ProjectDir)
	lastInput := strings.TrimSpace(convstore.LastUserText(sess.Path))
	if lastInput == "" {
		lastInput = "(no text input)"
	}
	var b strings.Builder
	b.WriteString("Pending tool in ")
	b.WriteString(cwd)
	b.WriteString("\nLast input: ")
	b.WriteString(lastInput)
	b.WriteString("\nWaiting on: ")
	b.WriteString(describePendingTool(first))
	return b.String()
}

// describePendingTool renders one pending tool_use block as a short
// human-readable descriptor, mirroring internal/watcher's identical
// helper.
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
