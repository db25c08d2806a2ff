// Package mcpcallback is the local stdio MCP tool the Agent subprocess
// calls into for every tool-use permission check, via
// `--mcp-config <path> --permission-prompt-tool mcp__remotecode_permission__ask`
// (internal/agentchannel.Channel.start). Claude's CLI spawns the
// mcp-config's declared command as its own child process and pipes its
// stdio to this tool -- the same process boundary the teacher's
// internal/mcp/server.go sits behind ServeStdio on, just one hop further
// out, since here the long-lived Arbiter state lives in the daemon, not
// in this helper.
//
// The helper forwards each "ask" call over a Unix domain socket
// (internal/permission.RPCServer) to the daemon and relays the verdict
// back as the MCP tool result. cmd/remotecode-mcp-permission is this
// package's executable entrypoint.
package mcpcallback

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"

	"github.com/local/remotecode/internal/permission"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// ServerName is the MCP server name advertised in the --mcp-config file;
// together with the "ask" tool name it produces the fully-qualified tool
// name mcp__remotecode_permission__ask that --permission-prompt-tool
// expects.
const ServerName = "remotecode_permission"

// Server is the stdio MCP server for one Agent subprocess's permission
// callbacks, bound to a single session id and forwarding to the daemon
// over socketPath.
type Server struct {
	sessionID  string
	socketPath string
	mcpServer  *server.MCPServer
}

// New constructs a permission-callback server for sessionID, forwarding
// every "ask" call to the daemon listening on socketPath.
func New(sessionID, socketPath string) *Server {
	s := &Server{sessionID: sessionID, socketPath: socketPath}

	mcpServer := server.NewMCPServer(
		ServerName,
		"1.0.0",
		server.WithToolCapabilities(false),
	)

	askTool := mcp.NewTool("ask",
		mcp.WithDescription("Request permission to use a tool"),
		mcp.WithString("tool_name", mcp.Required(), mcp.Description("The tool the Agent wants to use")),
		mcp.WithString("input", mcp.Description("The tool's input, as a JSON object")),
	)
	mcpServer.AddTool(askTool, s.handleAsk)

	s.mcpServer = mcpServer
	return s
}

// approvalResult is the JSON shape Claude Code's permission-prompt-tool
// protocol expects back as the tool result's text content.
type approvalResult struct {
	Behavior     string          `json:"behavior"`
	UpdatedInput json.RawMessage `json:"updatedInput,omitempty"`
	Message      string          `json:"message,omitempty"`
}

func (s *Server) handleAsk(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, _ := request.Params.Arguments.(map[string]any)
	toolName, _ := args["tool_name"].(string)
	if toolName == "" {
		return mcp.NewToolResultError("tool_name parameter is required"), nil
	}

	var inputJSON string
	switch v := args["input"].(type) {
	case string:
		inputJSON = v
	case nil:
		inputJSON = "{}"
	default:
		if b, err := json.Marshal(v); err == nil {
			inputJSON = string(b)
		} else {
			inputJSON = "{}"
		}
	}

	resp, err := s.roundTrip(permission.AskRequest{
		SessionID: s.sessionID,
		ToolName:  toolName,
		Input:     inputJSON,
	})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("permission callback unreachable: %v", err)), nil
	}
	if resp.Error != "" {
		return mcp.NewToolResultError(resp.Error), nil
	}

	if toolName == permission.AskUserQuestionTool {
		if resp.Answer == "" {
			return mcp.NewToolResultText(mustJSON(approvalResult{Behavior: "deny", Message: "no answer provided"})), nil
		}
		return mcp.NewToolResultText(mustJSON(approvalResult{Behavior: "allow", UpdatedInput: json.RawMessage(inputJSON)})), nil
	}

	if resp.Allow {
		return mcp.NewToolResultText(mustJSON(approvalResult{Behavior: "allow", UpdatedInput: json.RawMessage(inputJSON)})), nil
	}
	return mcp.NewToolResultText(mustJSON(approvalResult{Behavior: "deny", Message: "denied by user"})), nil
}

// roundTrip dials socketPath fresh for each call -- tool-use permission
// checks are infrequent enough (one per Agent tool call) that a pooled
// connection isn't worth the complexity.
func (s *Server) roundTrip(req permission.AskRequest) (permission.AskResponse, error) {
	conn, err := net.Dial("unix", s.socketPath)
	if err != nil {
		return permission.AskResponse{}, err
	}
	defer conn.Close()

	payload, err := json.Marshal(req)
	if err != nil {
		return permission.AskResponse{}, err
	}
	if _, err := conn.Write(append(payload, '\n')); err != nil {
		return permission.AskResponse{}, err
	}

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 4096), 1<<20)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return permission.AskResponse{}, err
		}
		return permission.AskResponse{}, fmt.Errorf("mcpcallback: no response from daemon")
	}

	var resp permission.AskResponse
	if err := json.Unmarshal(scanner.Bytes(), &resp); err != nil {
		return permission.AskResponse{}, err
	}
	return resp, nil
}

func mustJSON(v approvalResult) string {
	b, err := json.Marshal(v)
	if err != nil {
		return `{"behavior":"deny","message":"internal error"}`
	}
	return string(b)
}

// Run serves the permission callback over stdio until the Agent
// subprocess closes its end of the pipe.
func (s *Server) Run(ctx context.Context) error {
	return server.ServeStdio(s.mcpServer)
}
