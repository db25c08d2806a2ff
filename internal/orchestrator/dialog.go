package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/local/remotecode/internal/chat"
	"github.com/local/remotecode/internal/permission"
)

// Compile-time assertion: Orchestrator implements permission.DialogSender.
var _ permission.DialogSender = (*Orchestrator)(nil)

// askUserQuestionInput is the tolerant shape of an AskUserQuestion tool
// call's JSON input, used only to render its options as buttons; an
// unparseable input still renders as plain text with a Skip answer button.
type askUserQuestionInput struct {
	Question string   `json:"question"`
	Options  []string `json:"options"`
}

// SendDialog implements permission.DialogSender: it renders the pending
// dialog as a chat message addressed to whichever chat most recently
// talked to this session, with buttons encoding the verdict as callback
// data (spec.md §4.4 point 6, §4.5 Chat-callback routing).
func (o *Orchestrator) SendDialog(ctx context.Context, d *permission.Dialog) error {
	s := o.state(d.Request.SessionID)
	s.mu.Lock()
	if d.Request.ToolName == permission.AskUserQuestionTool {
		s.openQuestionDialogID = d.ID
	} else {
		s.openPermDialogID = d.ID
	}
	transportName := s.replyTransport
	chatID := s.replyChatID
	s.mu.Unlock()

	t, ok := o.transport(transportName)
	if !ok {
		return fmt.Errorf("orchestrator: no transport %q bound to session %s", transportName, d.Request.SessionID)
	}

	text, kb := renderDialog(d)
	_, err := t.SendMessage(ctx, chatID, text, chat.SendOptions{Keyboard: kb})
	return err
}

func renderDialog(d *permission.Dialog) (string, chat.Keyboard) {
	if d.Request.ToolName == permission.AskUserQuestionTool {
		return renderQuestionDialog(d)
	}
	return renderPermissionDialog(d)
}

func renderQuestionDialog(d *permission.Dialog) (string, chat.Keyboard) {
	var q askUserQuestionInput
	_ = json.Unmarshal([]byte(d.Request.Input), &q)

	var b strings.Builder
	if q.Question != "" {
		b.WriteString(q.Question)
	} else {
		b.WriteString("The agent has a question.")
	}

	var kb chat.Keyboard
	for _, opt := range q.Options {
		kb = append(kb, []chat.Button{{Text: opt, Data: "ask:" + d.ID + ":" + opt}})
	}
	kb = append(kb, []chat.Button{{Text: "Skip answer", Data: "ask:" + d.ID + ":"}})
	return b.String(), kb
}

func renderPermissionDialog(d *permission.Dialog) (string, chat.Keyboard) {
	text := fmt.Sprintf("Permission requested: %s\n%s", d.Request.ToolName, truncateInput(d.Request.Input))
	kb := chat.Keyboard{
		{
			{Text: "Allow", Data: "perm:allow:" + d.ID},
			{Text: "Deny", Data: "perm:deny:" + d.ID},
		},
		{
			{Text: "Allow for session", Data: "perm:allow_session:" + d.ID},
			{Text: "Yolo for session", Data: "perm:yolo_session:" + d.ID},
		},
	}
	return text, kb
}

func truncateInput(input string) string {
	input = strings.TrimSpace(input)
	if len(input) > 300 {
		return input[:300] + "…"
	}
	return input
}
