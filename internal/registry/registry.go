// Package registry is the Session Registry of spec.md §4.2: a small
// plain key/value file holding the currently-selected session per Agent
// name, its working directory, model, chat id, and auto-sync toggle.
//
// Grounded in the teacher's internal/state.Manager (load/save under a
// mutex, tolerate a missing file) but rewritten against spec.md's textual
// key=value format instead of JSON, since the registry is meant to be
// readable/editable by a human alongside the CLI.
package registry

import (
	"bufio"
	"os"
	"strings"
	"sync"
)

const (
	keySessionPrefix    = "REMOTECODE_SESSION_"
	keyCWDSuffix        = "_CWD"
	keyModel            = "REMOTECODE_MODEL"
	keyChatID           = "REMOTECODE_CHAT_ID"
	keyChatTransport    = "REMOTECODE_CHAT_TRANSPORT"
	keyAutoSync         = "REMOTECODE_AUTO_SYNC"
	defaultAgentKeyName = "DEFAULT"
)

// Selection is the active selection for one Agent instance name.
type Selection struct {
	SessionID string
	CWD       string
}

// Registry persists the active selection across daemon restarts.
type Registry struct {
	mu   sync.Mutex
	path string
}

// New returns a Registry backed by the file at path. No concurrent writers
// are assumed -- the orchestrator calls registry ops single-threaded
// within one daemon, per spec.md §4.2.
func New(path string) *Registry {
	return &Registry{path: path}
}

// ActiveSession returns the currently selected session id and working
// directory. Returns zero values (not an error) if nothing has been
// selected yet, tolerating an absent registry file.
func (r *Registry) ActiveSession() (Selection, error) {
	values, err := r.readAll()
	if err != nil {
		return Selection{}, err
	}
	return Selection{
		SessionID: values[keySessionPrefix+defaultAgentKeyName],
		CWD:       values[keySessionPrefix+defaultAgentKeyName+keyCWDSuffix],
	}, nil
}

// SetActiveSession records the active session id and its working
// directory.
func (r *Registry) SetActiveSession(sessionID, cwd string) error {
	return r.writeAll(map[string]string{
		keySessionPrefix + defaultAgentKeyName:             sessionID,
		keySessionPrefix + defaultAgentKeyName + keyCWDSuffix: cwd,
	})
}

// Model returns the active model id, or "" if unset.
func (r *Registry) Model() (string, error) {
	values, err := r.readAll()
	if err != nil {
		return "", err
	}
	return values[keyModel], nil
}

// SetModel records the active model id.
func (r *Registry) SetModel(model string) error {
	return r.writeAll(map[string]string{keyModel: model})
}

// ChatID returns the last-seen chat id (platform-native, stringified),
// or "" if unset.
func (r *Registry) ChatID() (string, error) {
	values, err := r.readAll()
	if err != nil {
		return "", err
	}
	return values[keyChatID], nil
}

// SetChatID records the last-seen chat id.
func (r *Registry) SetChatID(chatID string) error {
	return r.writeAll(map[string]string{keyChatID: chatID})
}

// ChatTransport returns the name of the chat.Transport that last spoke to
// this daemon ("telegram", "discord"), or "" if unset. The Watcher and
// Scanner use this to know where to post a background notification, since
// both poll independently of any one inbound chat update.
func (r *Registry) ChatTransport() (string, error) {
	values, err := r.readAll()
	if err != nil {
		return "", err
	}
	return values[keyChatTransport], nil
}

// SetChatTransport records the last-seen chat transport name.
func (r *Registry) SetChatTransport(name string) error {
	return r.writeAll(map[string]string{keyChatTransport: name})
}

// AutoSync returns the auto-sync toggle, defaulting to false when unset.
func (r *Registry) AutoSync() (bool, error) {
	values, err := r.readAll()
	if err != nil {
		return false, err
	}
	return values[keyAutoSync] == "on", nil
}

// SetAutoSync persists the auto-sync toggle.
func (r *Registry) SetAutoSync(on bool) error {
	v := "off"
	if on {
		v = "on"
	}
	return r.writeAll(map[string]string{keyAutoSync: v})
}

// readAll loads every key=value pair, tolerating a missing file.
func (r *Registry) readAll() (map[string]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.readAllLocked()
}

func (r *Registry) readAllLocked() (map[string]string, error) {
	values := make(map[string]string)
	f, err := os.Open(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return values, nil
		}
		return nil, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		idx := strings.Index(line, "=")
		if idx < 0 {
			continue
		}
		values[strings.TrimSpace(line[:idx])] = strings.TrimSpace(line[idx+1:])
	}
	return values, scanner.Err()
}

// writeAll merges updates into the existing key=value pairs and rewrites
// the file whole from the merged map. Comment and blank lines are not
// kept, and keys are written in no fixed order.
func (r *Registry) writeAll(updates map[string]string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	values, err := r.readAllLocked()
	if err != nil {
		return err
	}
	for k, v := range updates {
		values[k] = v
	}

	var b strings.Builder
	for k, v := range values {
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(v)
		b.WriteByte('\n')
	}
	return os.WriteFile(r.path, []byte(b.String()), 0o644)
}
