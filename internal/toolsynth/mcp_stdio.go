package toolsynth

import (
	"context"
	"encoding/json"
	"fmt"

	mcpclient "github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
)

// stdioSession wraps a mark3labs/mcp-go client.Client speaking the MCP
// stdio transport, satisfying mcpSession.
type stdioSession struct {
	client *mcpclient.Client
}

func newStdioSession(command string, args []string) (mcpSession, error) {
	c, err := mcpclient.NewStdioMCPClient(command, nil, args...)
	if err != nil {
		return nil, fmt.Errorf("toolsynth: dial mcp server %s: %w", command, err)
	}

	ctx := context.Background()
	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcp.Implementation{Name: "nexora-core", Version: "1.0"}
	if _, err := c.Initialize(ctx, initReq); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("toolsynth: initialize mcp server %s: %w", command, err)
	}
	return &stdioSession{client: c}, nil
}

func (s *stdioSession) ListTools(ctx context.Context) ([]MCPToolDef, error) {
	result, err := s.client.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, err
	}
	out := make([]MCPToolDef, 0, len(result.Tools))
	for _, t := range result.Tools {
		schema, err := json.Marshal(t.InputSchema)
		if err != nil {
			schema = json.RawMessage(`{}`)
		}
		out = append(out, MCPToolDef{Name: t.Name, Description: t.Description, Schema: schema})
	}
	return out, nil
}

func (s *stdioSession) CallTool(ctx context.Context, tool string, arguments json.RawMessage) (string, error) {
	var args map[string]any
	if len(arguments) > 0 {
		if err := json.Unmarshal(arguments, &args); err != nil {
			return "", fmt.Errorf("invalid MCP tool arguments: %w", err)
		}
	}

	req := mcp.CallToolRequest{}
	req.Params.Name = tool
	req.Params.Arguments = args

	result, err := s.client.CallTool(ctx, req)
	if err != nil {
		return "", err
	}

	out := ""
	for _, content := range result.Content {
		if text, ok := content.(mcp.TextContent); ok {
			out += text.Text
		}
	}
	if result.IsError {
		return out, fmt.Errorf("mcp tool %s returned an error result", tool)
	}
	return out, nil
}

func (s *stdioSession) Close() error { return s.client.Close() }
