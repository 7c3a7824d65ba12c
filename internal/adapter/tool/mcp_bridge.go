package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	mcpclient "github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"

	"a3sist/internal/domain"
	"a3sist/internal/infra/config"
)

// defaultMCPCallTimeout bounds a single MCP tool call when the server
// config does not set one.
const defaultMCPCallTimeout = 30 * time.Second

// MCPBridge connects to MCP servers and exposes their tools as
// domain.Tool instances.
type MCPBridge struct {
	servers []mcpServerConn
	tools   []domain.Tool
	logger  *slog.Logger
	mu      sync.RWMutex
}

type mcpServerConn struct {
	name        string
	client      mcpClient
	callTimeout time.Duration
}

// mcpClient abstracts the MCP client for testing.
type mcpClient interface {
	ListTools(ctx context.Context, request mcp.ListToolsRequest) (*mcp.ListToolsResult, error)
	CallTool(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error)
	Close() error
}

// NewMCPBridge connects to all configured MCP servers and discovers
// their tools. A server that fails discovery is skipped with a warning;
// the bridge only fails when every server does.
func NewMCPBridge(ctx context.Context, servers []config.MCPServerConfig, logger *slog.Logger) (*MCPBridge, error) {
	if logger == nil {
		logger = slog.Default()
	}
	b := &MCPBridge{logger: logger}

	for _, srv := range servers {
		conn, err := b.connectServer(ctx, srv)
		if err != nil {
			b.Close()
			return nil, fmt.Errorf("mcp server %q: %w", srv.Name, err)
		}
		b.servers = append(b.servers, *conn)
	}

	if err := b.discoverTools(ctx); err != nil {
		b.Close()
		return nil, fmt.Errorf("discover tools: %w", err)
	}
	return b, nil
}

// newMCPBridgeWithClients builds a bridge from pre-built clients (tests).
func newMCPBridgeWithClients(ctx context.Context, servers []mcpServerConn, logger *slog.Logger) (*MCPBridge, error) {
	b := &MCPBridge{
		servers: servers,
		logger:  logger,
	}
	if err := b.discoverTools(ctx); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *MCPBridge) connectServer(ctx context.Context, srv config.MCPServerConfig) (*mcpServerConn, error) {
	var c mcpClient
	var err error

	switch srv.Transport {
	case "stdio":
		c, err = mcpclient.NewStdioMCPClient(srv.Command, nil, srv.Args...)
		if err != nil {
			return nil, fmt.Errorf("create stdio client: %w", err)
		}
	case "http":
		t, tErr := transport.NewStreamableHTTP(srv.URL)
		if tErr != nil {
			return nil, fmt.Errorf("create http transport: %w", tErr)
		}
		httpClient := mcpclient.NewClient(t)
		if err = httpClient.Start(ctx); err != nil {
			return nil, fmt.Errorf("start http client: %w", err)
		}
		c = httpClient
	default:
		return nil, fmt.Errorf("unsupported transport %q", srv.Transport)
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcp.Implementation{
		Name:    "a3sist",
		Version: "0.1.0",
	}

	if ic, ok := c.(interface {
		Initialize(ctx context.Context, request mcp.InitializeRequest) (*mcp.InitializeResult, error)
	}); ok {
		if _, err = ic.Initialize(ctx, initReq); err != nil {
			c.Close()
			return nil, domain.WrapOp("initialize", err)
		}
	}

	b.logger.Info("mcp server connected", "name", srv.Name, "transport", srv.Transport)

	timeout := srv.Timeout
	if timeout <= 0 {
		timeout = defaultMCPCallTimeout
	}
	return &mcpServerConn{
		name:        srv.Name,
		client:      c,
		callTimeout: timeout,
	}, nil
}

func (b *MCPBridge) discoverTools(ctx context.Context) error {
	var errs []string
	successCount := 0

	for _, srv := range b.servers {
		result, err := srv.client.ListTools(ctx, mcp.ListToolsRequest{})
		if err != nil {
			b.logger.Warn("mcp server discovery failed, skipping",
				"server", srv.name,
				"error", err,
			)
			errs = append(errs, fmt.Sprintf("%s: %v", srv.name, err))
			continue
		}

		for _, t := range result.Tools {
			adapter := newMCPToolAdapter(srv, t, b.logger)
			b.tools = append(b.tools, adapter)
			b.logger.Debug("mcp tool discovered",
				"server", srv.name,
				"tool", t.Name,
				"full_name", adapter.Name())
		}

		b.logger.Info("mcp tools discovered", "server", srv.name, "count", len(result.Tools))
		successCount++
	}

	if successCount == 0 && len(errs) > 0 {
		return fmt.Errorf("all mcp servers failed discovery: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Tools returns all discovered MCP tools.
func (b *MCPBridge) Tools() []domain.Tool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.tools
}

// Close shuts down all MCP server connections.
func (b *MCPBridge) Close() {
	for _, srv := range b.servers {
		if err := srv.client.Close(); err != nil {
			b.logger.Warn("mcp server close error", "server", srv.name, "error", err)
		}
	}
}

// --- MCP tool adapter ---

// mcpToolAdapter exposes a single remote MCP tool as a domain.Tool.
// Remote failures degrade into error results so a broken MCP server
// cannot fail a dispatch outright.
type mcpToolAdapter struct {
	serverName  string
	client      mcpClient
	callTimeout time.Duration
	mcpTool     mcp.Tool
	fullName    string
	logger      *slog.Logger
}

func newMCPToolAdapter(srv mcpServerConn, t mcp.Tool, logger *slog.Logger) *mcpToolAdapter {
	return &mcpToolAdapter{
		serverName:  srv.name,
		client:      srv.client,
		callTimeout: srv.callTimeout,
		mcpTool:     t,
		fullName:    fmt.Sprintf("mcp_%s_%s", sanitizeName(srv.name), sanitizeName(t.Name)),
		logger:      logger,
	}
}

func (a *mcpToolAdapter) Name() string {
	return a.fullName
}

func (a *mcpToolAdapter) Description() string {
	desc := a.mcpTool.Description
	if desc == "" {
		desc = fmt.Sprintf("MCP tool %q from server %q", a.mcpTool.Name, a.serverName)
	}
	return desc
}

func (a *mcpToolAdapter) Schema() domain.ToolSchema {
	params := json.RawMessage(`{"type": "object"}`)
	if a.mcpTool.InputSchema.Properties != nil || a.mcpTool.InputSchema.Required != nil {
		if data, err := json.Marshal(a.mcpTool.InputSchema); err == nil {
			params = data
		}
	}

	return domain.ToolSchema{
		Name:        a.fullName,
		Description: a.Description(),
		Parameters:  params,
	}
}

func (a *mcpToolAdapter) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	var args map[string]interface{}
	if len(params) > 0 && string(params) != "null" {
		if err := json.Unmarshal(params, &args); err != nil {
			return &domain.ToolResult{
				Content: fmt.Sprintf("invalid arguments: %v", err),
				IsError: true,
			}, nil
		}
	}

	callReq := mcp.CallToolRequest{}
	callReq.Params.Name = a.mcpTool.Name
	callReq.Params.Arguments = args

	a.logger.Debug("mcp tool call",
		"server", a.serverName,
		"tool", a.mcpTool.Name,
		"full_name", a.fullName)

	timeout := a.callTimeout
	if timeout <= 0 {
		timeout = defaultMCPCallTimeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result, err := a.client.CallTool(callCtx, callReq)
	if err != nil {
		return &domain.ToolResult{
			Content:     fmt.Sprintf("MCP tool error: %v", err),
			IsError:     true,
			IsRetryable: true,
		}, nil
	}

	return &domain.ToolResult{
		Content: extractMCPContent(result),
		IsError: result.IsError,
	}, nil
}

// extractMCPContent flattens MCP result content into a string.
func extractMCPContent(result *mcp.CallToolResult) string {
	var parts []string
	for _, c := range result.Content {
		switch v := c.(type) {
		case mcp.TextContent:
			parts = append(parts, v.Text)
		case *mcp.TextContent:
			parts = append(parts, v.Text)
		default:
			if data, err := json.Marshal(v); err == nil {
				parts = append(parts, string(data))
			}
		}
	}
	return strings.Join(parts, "\n")
}

// sanitizeName replaces characters that are not valid in tool names.
func sanitizeName(s string) string {
	var b strings.Builder
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}
