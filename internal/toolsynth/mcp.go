package toolsynth

import (
	"context"
	"encoding/json"
	"fmt"
)

// MCPToolDef is one tool a remote MCP server advertises.
type MCPToolDef struct {
	Name        string
	Description string
	Schema      json.RawMessage
}

// MCPClient discovers and invokes tools exposed by external protocol
// (MCP) servers. A separate client per server is the teacher's own
// external-integration shape; this interface lets the synthesiser stay
// agnostic of the transport (stdio, SSE, streamable HTTP) a given
// server uses.
type MCPClient interface {
	ListTools(ctx context.Context, server string) ([]MCPToolDef, error)
	CallTool(ctx context.Context, server, tool string, arguments json.RawMessage) (string, error)
}

// StdioMCPClient proxies to MCP servers launched as local subprocesses
// over stdio, via github.com/mark3labs/mcp-go's client package — the
// pack's only MCP dependency, otherwise declared in go.mod with no
// exercising code.
type StdioMCPClient struct {
	dial func(server string) (mcpSession, error)
}

// mcpSession is the narrow slice of mark3labs/mcp-go's client surface
// this package drives, so tests can substitute an in-memory fake
// without spawning a real subprocess.
type mcpSession interface {
	ListTools(ctx context.Context) ([]MCPToolDef, error)
	CallTool(ctx context.Context, tool string, arguments json.RawMessage) (string, error)
	Close() error
}

// NewStdioMCPClient builds a StdioMCPClient that dials a server by the
// command line registered for it in commands.
func NewStdioMCPClient(commands map[string][]string) *StdioMCPClient {
	return &StdioMCPClient{
		dial: func(server string) (mcpSession, error) {
			cmd, ok := commands[server]
			if !ok || len(cmd) == 0 {
				return nil, fmt.Errorf("toolsynth: no command registered for mcp server %q", server)
			}
			return newStdioSession(cmd[0], cmd[1:])
		},
	}
}

func (c *StdioMCPClient) ListTools(ctx context.Context, server string) ([]MCPToolDef, error) {
	session, err := c.dial(server)
	if err != nil {
		return nil, err
	}
	defer session.Close()
	return session.ListTools(ctx)
}

func (c *StdioMCPClient) CallTool(ctx context.Context, server, tool string, arguments json.RawMessage) (string, error) {
	session, err := c.dial(server)
	if err != nil {
		return "", err
	}
	defer session.Close()
	return session.CallTool(ctx, tool, arguments)
}
