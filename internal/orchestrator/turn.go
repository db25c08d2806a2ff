package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/local/remotecode/internal/agentchannel"
	"github.com/local/remotecode/internal/chat"
	"github.com/local/remotecode/internal/format"
)

// handlePrompt implements spec.md §4.5's turn-execution steps 1-3 for one
// user-supplied prompt.
func (o *Orchestrator) handlePrompt(ctx context.Context, t chat.Transport, upd chat.Update, text string) {
	sessionID, cwd, err := o.resolveSession()
	if err != nil {
		_, _ = t.SendMessage(ctx, upd.ChatID, "No project selected. Use /projects to pick one first.", chat.SendOptions{})
		return
	}

	s := o.state(sessionID)
	s.mu.Lock()
	s.replyTransport = t.Name()
	s.replyChatID = upd.ChatID
	s.replyToID = upd.CallbackMessage

	if s.busy {
		if s.openQuestionDialogID != "" {
			dialogID := s.openQuestionDialogID
			s.openQuestionDialogID = ""
			s.mu.Unlock()
			o.arbiter.ResolveAnswer(dialogID, text)
			return
		}
		if s.openPermDialogID != "" {
			o.arbiter.DenyAllForSession(sessionID)
			s.openPermDialogID = ""
		}
		s.queue = append(s.queue, queuedTurn{transport: t.Name(), chatID: upd.ChatID, replyToID: upd.CallbackMessage, prompt: text})
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	o.runTurn(ctx, sessionID, cwd, t.Name(), upd.ChatID, upd.CallbackMessage, text)
}

// runTurn acquires the session's turn lock, streams one turn, renders
// its events, and drains any turns queued while it ran (spec.md §4.5
// Streaming and Post-stream).
func (o *Orchestrator) runTurn(ctx context.Context, sessionID, cwd, transportName, chatID, replyToID, prompt string) {
	channel, err := o.channels.Get(sessionID, cwd)
	if err != nil {
		o.sendTo(ctx, transportName, chatID, fmt.Sprintf("Failed to start agent: %v", err))
		return
	}

	release, err := channel.TryAcquire()
	if err != nil {
		// Another goroutine already holds the lock (a queued drain is in
		// flight); fall back to enqueueing rather than losing the turn.
		s := o.state(sessionID)
		s.mu.Lock()
		s.queue = append(s.queue, queuedTurn{transport: transportName, chatID: chatID, replyToID: replyToID, prompt: prompt})
		s.mu.Unlock()
		return
	}

	for {
		s := o.state(sessionID)
		s.mu.Lock()
		s.busy = true
		s.activeQuery = true
		s.mu.Unlock()

		o.streamOneTurn(ctx, channel, sessionID, cwd, transportName, chatID, replyToID, prompt)

		path := o.store.SessionPath(cwd, sessionID)
		channel.RecordSelfSize(path)
		if o.watcher != nil {
			o.watcher.SkipToEnd(sessionID)
		}
		time.AfterFunc(activeQueryGrace, func() {
			s.mu.Lock()
			s.activeQuery = false
			s.mu.Unlock()
		})

		s.mu.Lock()
		var next queuedTurn
		hasNext := len(s.queue) > 0
		if hasNext {
			next = s.queue[0]
			s.queue = s.queue[1:]
		} else {
			s.busy = false
		}
		s.mu.Unlock()

		if !hasNext {
			break
		}
		transportName, chatID, replyToID, prompt = next.transport, next.chatID, next.replyToID, next.prompt
	}
	release()

	sel, _ := o.registry.ActiveSession()
	if sel.SessionID == sessionID {
		return
	}
	// Give a brief grace period before tearing the subprocess down, in
	// case a near-simultaneous switch back reuses it (spec.md §5
	// "Bounded resources").
	time.AfterFunc(closeGrace, func() {
		s := o.state(sessionID)
		s.mu.Lock()
		idle := !s.busy && len(s.queue) == 0
		s.mu.Unlock()
		sel, _ := o.registry.ActiveSession()
		if idle && sel.SessionID != sessionID {
			_ = channel.Close()
			o.channels.Forget(sessionID)
		}
	})
}

// streamOneTurn runs exactly one Stream call to completion, rendering
// assistant text, coalesced tool messages, sub-agent task events, and
// the terminating Result (spec.md §4.5 Streaming, Post-stream).
func (o *Orchestrator) streamOneTurn(ctx context.Context, channel agentChannel, sessionID, cwd, transportName, chatID, replyToID, prompt string) {
	events, err := channel.Stream(ctx, prompt, o.sessionExists(cwd, sessionID))
	if err != nil {
		o.sendTo(ctx, transportName, chatID, fmt.Sprintf("Agent failed to start: %v", err))
		return
	}

	var textBuf strings.Builder
	s := o.state(sessionID)

	for ev := range events {
		switch ev.Kind {
		case agentchannel.EventAssistant:
			for _, b := range ev.Blocks {
				switch b.Kind {
				case agentchannel.BlockText:
					textBuf.WriteString(b.Text)
				case agentchannel.BlockToolUse:
					if !silentTools[b.ToolName] {
						o.appendToolMessage(ctx, s, transportName, chatID, describeToolUse(b))
					}
				}
			}
		case agentchannel.EventTaskStarted:
			o.sendTo(ctx, transportName, chatID, "▶ "+ev.Description)
		case agentchannel.EventTaskNotification:
			o.sendTo(ctx, transportName, chatID, fmt.Sprintf("%s: %s", ev.Status, ev.Summary))
		case agentchannel.EventResult:
			s.mu.Lock()
			s.toolMsgID = ""
			s.toolMsgText = ""
			s.mu.Unlock()
			if ev.IsError && !ev.Interrupted {
				errText := strings.Join(ev.Errors, "; ")
				o.sendTo(ctx, transportName, chatID, "Error: "+errText)
			}
		}
	}

	final := strings.TrimSpace(textBuf.String())
	if final != "" {
		_, _ = o.sendWithReply(ctx, transportName, chatID, replyToID, final)
	}
}

// appendToolMessage coalesces tool-use descriptions into one chat
// message per turn, serialized by the session's own mutex (spec.md §5
// "edit-lock per tool-message").
func (o *Orchestrator) appendToolMessage(ctx context.Context, s *sessionState, transportName, chatID, line string) {
	s.mu.Lock()
	if s.toolMsgText != "" {
		s.toolMsgText += "\n"
	}
	s.toolMsgText += line
	text := s.toolMsgText
	msgID := s.toolMsgID
	s.mu.Unlock()

	t, ok := o.transport(transportName)
	if !ok {
		return
	}
	if msgID == "" {
		id, err := t.SendMessage(ctx, chatID, text, chat.SendOptions{})
		if err != nil {
			return
		}
		s.mu.Lock()
		s.toolMsgID = id
		s.mu.Unlock()
		return
	}
	_ = t.EditMessage(ctx, chatID, msgID, text, chat.SendOptions{})
}

func (o *Orchestrator) sendTo(ctx context.Context, transportName, chatID, text string) {
	t, ok := o.transport(transportName)
	if !ok {
		return
	}
	_, _ = t.SendMessage(ctx, chatID, format.Truncate(text), chat.SendOptions{})
}

func (o *Orchestrator) sendWithReply(ctx context.Context, transportName, chatID, replyToID, text string) (string, error) {
	t, ok := o.transport(transportName)
	if !ok {
		return "", errors.New("orchestrator: unknown transport " + transportName)
	}
	return t.SendMessage(ctx, chatID, format.Truncate(text), chat.SendOptions{ReplyToID: replyToID})
}

// describeToolUse renders one tool_use block as a single display line.
func describeToolUse(b agentchannel.AssistantBlock) string {
	input := strings.TrimSpace(string(b.ToolInput))
	if len(input) > 120 {
		input = input[:120] + "…"
	}
	if input == "" {
		return "\U0001f527 " + b.ToolName
	}
	return fmt.Sprintf("\U0001f527 %s: %s", b.ToolName, input)
}

// sessionExists reports whether a record file already exists for
// sessionID, determining whether Stream should resume or start fresh.
func (o *Orchestrator) sessionExists(cwd, sessionID string) bool {
	_, err := os.Stat(o.store.SessionPath(cwd, sessionID))
	return err == nil
}
