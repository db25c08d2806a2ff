// Command remotecoded is the remote-control bridge daemon of spec.md
// §4: it wires the Session Registry, Conversation Store, Agent Channel
// manager, Permission Arbiter, Watcher, Global Scanner and every
// configured chat.Transport together and runs until signalled to stop.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"sync"
	"syscall"

	"github.com/local/remotecode/internal/agentchannel"
	"github.com/local/remotecode/internal/applog"
	"github.com/local/remotecode/internal/config"
	"github.com/local/remotecode/internal/convstore"
	"github.com/local/remotecode/internal/discord"
	"github.com/local/remotecode/internal/orchestrator"
	"github.com/local/remotecode/internal/paths"
	"github.com/local/remotecode/internal/permission"
	"github.com/local/remotecode/internal/registry"
	"github.com/local/remotecode/internal/scanner"
	"github.com/local/remotecode/internal/telegram"
	"github.com/local/remotecode/internal/watcher"
	"github.com/local/remotecode/internal/whisper"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "remotecoded: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfgPath, err := paths.ConfigFile()
	if err != nil {
		return err
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}

	logPath, err := paths.LogFile()
	if err != nil {
		return err
	}
	log, err := applog.New(logPath, cfg.Verbose)
	if err != nil {
		return err
	}

	regPath, err := paths.RegistryFile()
	if err != nil {
		return err
	}
	reg := registry.New(regPath)
	if cfg.AutoSync {
		_ = reg.SetAutoSync(true)
	}

	projectsRoot, err := paths.ProjectsRoot()
	if err != nil {
		return err
	}
	store := convstore.New(projectsRoot)

	if err := writePidFile(); err != nil {
		return err
	}
	defer removePidFile()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	rpc := newRPCRegistry()
	defer rpc.closeAll()

	helperBinary, err := resolvePermissionHelper()
	if err != nil {
		return err
	}

	// The Arbiter needs a DialogSender at construction, but the only
	// DialogSender is the Orchestrator, which needs an *Arbiter at its own
	// construction. fwd breaks the cycle: it forwards to orch once set.
	fwd := &dialogForwarder{}
	arbiter := permission.NewArbiter(fwd)
	channels := agentchannel.NewManager(func(sessionID string) (string, error) {
		return rpc.mcpConfigFor(ctx, sessionID, arbiter, helperBinary)
	})

	orch := orchestrator.New(cfg, log, reg, store, orchestrator.NewManagerAdapter(channels), arbiter)
	fwd.orch = orch

	tgBot, err := telegram.New(cfg.TelegramToken, allowedNumericIDs(cfg), log)
	if err != nil {
		return fmt.Errorf("telegram: %w", err)
	}
	orch.RegisterTransport(tgBot)

	if cfg.DiscordToken != "" {
		dcBot, err := discord.New(cfg.DiscordToken, "")
		if err != nil {
			return fmt.Errorf("discord: %w", err)
		}
		orch.RegisterTransport(dcBot)
	}

	if tr, err := newTranscriber(); err != nil && err != whisper.ErrNotInstalled {
		log.Printf("remotecoded: voice transcription disabled: %v", err)
	} else if err == nil {
		orch.SetTranscriber(tr)
	}

	w := watcher.New(reg, store, orch, log)
	orch.SetWatcher(w)

	sc := scanner.New(reg, store, orch, log)
	orch.SetScanner(sc)

	var wg sync.WaitGroup
	wg.Add(3)
	var orchErr, watcherErr, scannerErr error
	go func() { defer wg.Done(); orchErr = orch.Run(ctx) }()
	go func() { defer wg.Done(); watcherErr = w.Run(ctx) }()
	go func() { defer wg.Done(); scannerErr = sc.Run(ctx) }()

	wg.Wait()
	for _, err := range []error{orchErr, watcherErr, scannerErr} {
		if err != nil {
			return err
		}
	}
	return nil
}

// allowedNumericIDs extracts the numeric user ids from the config's
// allow-list; Telegram's own library only needs these for its optional
// allowedIDs fast-path, since Orchestrator.HandleUpdate re-checks every
// update against config.IsAllowed regardless.
func allowedNumericIDs(cfg *config.Config) []int64 {
	var ids []int64
	for _, u := range cfg.AllowedUsers {
		if u.ID != 0 {
			ids = append(ids, u.ID)
		}
	}
	return ids
}

// newTranscriber constructs the voice-transcription tool from
// conventional locations, tolerating whisper.ErrNotInstalled as a normal
// "voice disabled" outcome (spec.md §7).
func newTranscriber() (*whisper.Transcriber, error) {
	modelPath, err := paths.WhisperModelPath()
	if err != nil {
		return nil, err
	}
	tmpDir, err := paths.TmpDir()
	if err != nil {
		return nil, err
	}
	return whisper.NewTranscriber("whisper-cli", modelPath, tmpDir)
}

// resolvePermissionHelper locates the cmd/remotecode-mcp-permission
// binary expected alongside this one, so --mcp-config can point the
// Agent's CLI at it without requiring it on $PATH.
func resolvePermissionHelper() (string, error) {
	self, err := os.Executable()
	if err != nil {
		return "", err
	}
	return filepath.Join(filepath.Dir(self), "remotecode-mcp-permission"), nil
}

// rpcRegistry owns one permission.RPCServer per session with a live
// Agent Channel, created lazily the first time that session's Agent
// subprocess needs a --mcp-config file (spec.md §4.4).
type rpcRegistry struct {
	mu      sync.Mutex
	servers map[string]*permission.RPCServer
}

func newRPCRegistry() *rpcRegistry {
	return &rpcRegistry{servers: make(map[string]*permission.RPCServer)}
}

func (r *rpcRegistry) mcpConfigFor(ctx context.Context, sessionID string, arbiter *permission.Arbiter, helperBinary string) (string, error) {
	sockPath, err := paths.PermissionSocketPath(sessionID)
	if err != nil {
		return "", err
	}

	r.mu.Lock()
	_, ok := r.servers[sessionID]
	r.mu.Unlock()
	if !ok {
		srv, err := permission.ListenRPC(ctx, sockPath, arbiter)
		if err != nil {
			return "", err
		}
		r.mu.Lock()
		r.servers[sessionID] = srv
		r.mu.Unlock()
	}

	cfgPath, err := paths.MCPConfigPath(sessionID)
	if err != nil {
		return "", err
	}
	if err := permission.WriteMCPConfig(cfgPath, helperBinary, sessionID, sockPath); err != nil {
		return "", err
	}
	return cfgPath, nil
}

func (r *rpcRegistry) closeAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, srv := range r.servers {
		_ = srv.Close()
	}
}

func writePidFile() error {
	path, err := paths.PidFile()
	if err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func removePidFile() {
	path, err := paths.PidFile()
	if err != nil {
		return
	}
	_ = os.Remove(path)
}

// dialogForwarder is a permission.DialogSender that forwards to orch once
// it has been constructed, resolving the Arbiter/Orchestrator
// construction-order cycle: Arbiter needs a sender up front, but the
// Orchestrator (the only sender) needs an already-built *Arbiter.
type dialogForwarder struct {
	orch *orchestrator.Orchestrator
}

func (f *dialogForwarder) SendDialog(ctx context.Context, d *permission.Dialog) error {
	return f.orch.SendDialog(ctx, d)
}
