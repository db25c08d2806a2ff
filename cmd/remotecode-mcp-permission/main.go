// Command remotecode-mcp-permission is the executable Claude's CLI
// spawns as the --mcp-config stdio server for
// --permission-prompt-tool mcp__remotecode_permission__ask. It never
// talks to storage or chat directly: every "ask" call is forwarded over
// a Unix domain socket to the running remotecoded daemon, which owns
// the actual Arbiter and chat-dialog state (internal/permission,
// internal/permission/mcpcallback).
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/local/remotecode/internal/permission/mcpcallback"
)

func main() {
	sessionID := flag.String("session-id", "", "session id this permission callback is bound to")
	socket := flag.String("socket", "", "path to the daemon's permission RPC socket")
	flag.Parse()

	if *sessionID == "" || *socket == "" {
		fmt.Fprintln(os.Stderr, "remotecode-mcp-permission: --session-id and --socket are required")
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	srv := mcpcallback.New(*sessionID, *socket)
	if err := srv.Run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "remotecode-mcp-permission: %v\n", err)
		os.Exit(1)
	}
}
