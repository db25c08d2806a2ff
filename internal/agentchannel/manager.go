package agentchannel

import "sync"

// MCPConfigFunc resolves (creating if necessary) the --mcp-config file
// path for one session's permission callback, e.g.
// internal/permission.WriteMCPConfig wrapped with that session's socket
// path. Returning "" disables the permission-callback transport (no
// --mcp-config flag passed to the Agent).
type MCPConfigFunc func(sessionID string) (string, error)

// Manager owns every live Channel, keyed by session id. Channels for
// non-active sessions are closed once their queue is empty (spec.md §5),
// a decision the orchestrator drives by calling Close/Forget directly --
// the Manager itself only tracks what's live.
type Manager struct {
	mcpConfigFor MCPConfigFunc

	mu       sync.Mutex
	channels map[string]*Channel
}

// NewManager returns a Manager that resolves each session's --mcp-config
// path via mcpConfigFor when constructing its Channel.
func NewManager(mcpConfigFor MCPConfigFunc) *Manager {
	return &Manager{mcpConfigFor: mcpConfigFor, channels: make(map[string]*Channel)}
}

// Get returns the live channel for sessionID, creating it (without
// starting the subprocess yet -- that happens lazily on first Stream)
// if absent.
func (m *Manager) Get(sessionID, cwd string) (*Channel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ch, ok := m.channels[sessionID]; ok {
		return ch, nil
	}
	var mcpConfig string
	if m.mcpConfigFor != nil {
		cfg, err := m.mcpConfigFor(sessionID)
		if err != nil {
			return nil, err
		}
		mcpConfig = cfg
	}
	ch := New(sessionID, cwd, mcpConfig)
	m.channels[sessionID] = ch
	return ch, nil
}

// Peek returns the live channel for sessionID without creating one.
func (m *Manager) Peek(sessionID string) (*Channel, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, ok := m.channels[sessionID]
	return ch, ok
}

// Forget closes and drops the channel for sessionID, called once its
// queue is empty and it is no longer the active session.
func (m *Manager) Forget(sessionID string) {
	m.mu.Lock()
	ch, ok := m.channels[sessionID]
	delete(m.channels, sessionID)
	m.mu.Unlock()
	if ok {
		ch.Close()
	}
}

// CloseAll closes every live channel, called on daemon shutdown.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	chans := make([]*Channel, 0, len(m.channels))
	for _, ch := range m.channels {
		chans = append(chans, ch)
	}
	m.channels = make(map[string]*Channel)
	m.mu.Unlock()
	for _, ch := range chans {
		ch.Close()
	}
}
