package orchestrator

import (
	"context"

	"github.com/local/remotecode/internal/agentchannel"
)

// agentChannel is the narrow surface the Orchestrator drives on one
// session's Agent Channel. *agentchannel.Channel satisfies this
// structurally; tests substitute a fake.
type agentChannel interface {
	TryAcquire() (func(), error)
	Acquire() func()
	Stream(ctx context.Context, prompt string, resumeExisting bool) (<-chan agentchannel.Event, error)
	Interrupt()
	Close() error
	MarkStale()
	RecordSelfSize(path string)
}

// channelManager is the narrow surface the Orchestrator needs from
// *agentchannel.Manager.
type channelManager interface {
	Get(sessionID, cwd string) (agentChannel, error)
	Peek(sessionID string) (agentChannel, bool)
	Forget(sessionID string)
}

// managerAdapter adapts *agentchannel.Manager's concrete *Channel
// returns to the agentChannel interface above.
type managerAdapter struct {
	m *agentchannel.Manager
}

// NewManagerAdapter wraps an agentchannel.Manager for use as this
// package's channelManager.
func NewManagerAdapter(m *agentchannel.Manager) channelManager {
	return managerAdapter{m: m}
}

func (a managerAdapter) Get(sessionID, cwd string) (agentChannel, error) {
	return a.m.Get(sessionID, cwd)
}

func (a managerAdapter) Peek(sessionID string) (agentChannel, bool) {
	return a.m.Peek(sessionID)
}

func (a managerAdapter) Forget(sessionID string) {
	a.m.Forget(sessionID)
}
