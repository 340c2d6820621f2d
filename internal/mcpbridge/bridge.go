package mcpbridge

import (
	"context"
	"regexp"
	"strings"
	"sync/atomic"
	"time"

	mcpclient "github.com/mark3labs/mcp-go/client"
	mcpgo "github.com/mark3labs/mcp-go/mcp"

	"github.com/nextlevelbuilder/machina/internal/tools"
)

var nonActionChars = regexp.MustCompile(`[^A-Z0-9_]+`)

// BridgeTool adapts one remote MCP tool into a tools.Handler, giving it a
// virtual action identifier of the form `MCP.<SERVER_TOOL>.v1` — the
// validator (internal/tools/registry.go actionIDPattern) only accepts a
// two-segment DOMAIN.ACTION shape, so the server and tool names are
// collapsed into one sanitized ACTION segment here.
type BridgeTool struct {
	actionID     string
	serverName   string
	originalName string
	client       *mcpclient.Client
	timeout      time.Duration
	connected    *atomic.Bool
}

func NewBridgeTool(serverName string, mcpTool mcpgo.Tool, client *mcpclient.Client, timeout time.Duration, connected *atomic.Bool) *BridgeTool {
	segment := nonActionChars.ReplaceAllString(strings.ToUpper(serverName+"_"+mcpTool.Name), "_")
	segment = strings.Trim(segment, "_")
	if segment == "" {
		segment = "TOOL"
	}
	return &BridgeTool{
		actionID:     "MCP." + segment + ".v1",
		serverName:   serverName,
		originalName: mcpTool.Name,
		client:       client,
		timeout:      timeout,
		connected:    connected,
	}
}

func (b *BridgeTool) ActionID() string { return b.actionID }

// Request returns a generic object schema placeholder; the remote MCP
// server's own input schema isn't reflectable into a Go struct at
// registration time (spec.md §6 treats the MCP client library as an
// external collaborator with a narrow interface, not a schema source).
func (b *BridgeTool) Request() any { return map[string]any{} }

func (b *BridgeTool) OriginalName() string { return b.originalName }
func (b *BridgeTool) ServerName() string   { return b.serverName }

func (b *BridgeTool) Execute(ctx context.Context, args map[string]any) *tools.Result {
	if !b.connected.Load() {
		return tools.ErrorResult(b.actionID, tools.ErrTool, "mcp server disconnected").WithHint("wait for reconnect or check server health")
	}

	callCtx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	req := mcpgo.CallToolRequest{}
	req.Params.Name = b.originalName
	req.Params.Arguments = args

	res, err := b.client.CallTool(callCtx, req)
	if err != nil {
		if callCtx.Err() != nil {
			return tools.ErrorResult(b.actionID, tools.ErrTimeout, err.Error())
		}
		return tools.ErrorResult(b.actionID, tools.ErrTool, err.Error()).WithError(err)
	}

	text := extractText(res)
	if text == "" {
		return tools.ErrorResult(b.actionID, tools.ErrEmptyOutput, "mcp tool returned no text content")
	}
	if res.IsError {
		return tools.ErrorResult(b.actionID, tools.ErrTool, text).WithHint(tools.HintFor(text))
	}
	return tools.NewResult(text)
}

func extractText(res *mcpgo.CallToolResult) string {
	if res == nil {
		return ""
	}
	var parts []string
	for _, c := range res.Content {
		if tc, ok := c.(mcpgo.TextContent); ok {
			parts = append(parts, tc.Text)
		}
	}
	return strings.Join(parts, "\n")
}
