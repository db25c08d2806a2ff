// Package agentchannel is the Agent Channel of spec.md §4.3: one per
// session, owning the long-lived Agent subprocess, a turn lock, and a
// streaming-input queue.
//
// Grounded on other_examples/0ac3fbdb_atypicaltech-pai-do's SessionManager
// (os/exec subprocess spawn with --resume, stream-json event parsing,
// env allowlisting) generalized from that file's one-shot `-p` call per
// message into a long-lived stream-json subprocess the Channel keeps
// open across turns, per spec.md's "single streaming-input queue"
// requirement.
package agentchannel

import "encoding/json"

// EventKind discriminates the typed events a turn's stream produces.
type EventKind string

const (
	EventSystemInit       EventKind = "system_init"
	EventAssistant        EventKind = "assistant"
	EventTaskStarted      EventKind = "task_started"
	EventTaskNotification EventKind = "task_notification"
	EventResult           EventKind = "result"
)

// BlockKind discriminates an assistant content block.
type BlockKind string

const (
	BlockText    BlockKind = "text"
	BlockToolUse BlockKind = "tool_use"
)

// AssistantBlock is one element of an Assistant event's content.
type AssistantBlock struct {
	Kind      BlockKind
	Text      string
	ToolUseID string
	ToolName  string
	ToolInput json.RawMessage
}

// Event is one item of the lazy sequence Stream produces. Exactly one
// EventResult terminates a turn (spec.md §4.3).
type Event struct {
	Kind EventKind

	// EventSystemInit
	SessionID string

	// EventAssistant
	Blocks []AssistantBlock

	// EventTaskStarted
	Description string

	// EventTaskNotification
	Status  string
	Summary string

	// EventResult
	IsError bool
	Errors  []string
	// Interrupted is true when the Result was produced by Interrupt(),
	// so the orchestrator's error path stays silent per spec.md §4.3.
	Interrupted bool
}
