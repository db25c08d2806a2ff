package permission

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"os"
)

// AskRequest is one line of the local permission-callback protocol: the
// mcpcallback helper process sends this over a Unix domain socket and
// reads back an AskResponse. The wire shape deliberately mirrors
// Request/Decide so the helper stays a thin forwarder.
type AskRequest struct {
	SessionID string `json:"session_id"`
	ToolName  string `json:"tool_name"`
	Input     string `json:"input"`
}

// AskResponse is the Arbiter's verdict, serialized back to the helper
// process, which then renders it into the MCP tool-result JSON the
// Agent expects.
type AskResponse struct {
	Allow  bool   `json:"allow"`
	Answer string `json:"answer,omitempty"`
	Error  string `json:"error,omitempty"`
}

// RPCServer exposes an Arbiter over a Unix domain socket, one
// line-delimited JSON request/response per tool-use permission check.
// It exists because --mcp-config spawns the permission-callback tool as
// a separate OS process (cmd/remotecode-mcp-permission) that has no
// access to the daemon's in-memory Arbiter state -- this is the local
// stdlib-only analogue of the cloud-bridge RPC this module's Non-goals
// dropped (see DESIGN.md).
type RPCServer struct {
	arbiter  *Arbiter
	listener net.Listener
}

// ListenRPC binds a Unix domain socket at path and serves Arbiter
// decisions over it until ctx is cancelled.
func ListenRPC(ctx context.Context, path string, arbiter *Arbiter) (*RPCServer, error) {
	_ = os.Remove(path) // stale socket from a prior crashed daemon
	l, err := net.Listen("unix", path)
	if err != nil {
		return nil, err
	}
	s := &RPCServer{arbiter: arbiter, listener: l}
	go s.acceptLoop(ctx)
	go func() {
		<-ctx.Done()
		l.Close()
	}()
	return s, nil
}

// Close stops accepting connections and removes the socket file.
func (s *RPCServer) Close() error {
	err := s.listener.Close()
	_ = os.Remove(s.listener.Addr().String())
	return err
}

func (s *RPCServer) acceptLoop(ctx context.Context) {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		go s.serveConn(ctx, conn)
	}
}

// serveConn handles one helper connection, answering each JSON request
// line it carries. The mcpcallback helper dials a fresh connection per
// tool call and closes it after reading the one response.
func (s *RPCServer) serveConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 4096), 1<<20)
	enc := json.NewEncoder(conn)

	for scanner.Scan() {
		var req AskRequest
		if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
			_ = enc.Encode(AskResponse{Error: "malformed request"})
			continue
		}
		verdict, answer, err := s.arbiter.Decide(ctx, Request{
			SessionID: req.SessionID,
			ToolName:  req.ToolName,
			Input:     req.Input,
		})
		resp := AskResponse{Answer: answer}
		if err != nil {
			resp.Error = err.Error()
		} else {
			resp.Allow = verdict == VerdictAllow
		}
		if err := enc.Encode(resp); err != nil {
			return
		}
	}
}
