package toolclient

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/kadirpekel/finrag/pkg/toolserver"
)

// InProcess adapts a registry to Transport without serialization through a
// protocol connection.
type InProcess struct {
	registry *toolserver.Registry
}

func NewInProcess(r *toolserver.Registry) *InProcess {
	return &InProcess{registry: r}
}

func (p *InProcess) ListTools(context.Context, mcp.ListToolsRequest) (*mcp.ListToolsResult, error) {
	descs := p.registry.ListTools()
	tools := make([]mcp.Tool, 0, len(descs))
	for _, d := range descs {
		tools = append(tools, mcp.Tool{
			Name:        d.Name,
			Description: d.Description,
			InputSchema: inputSchema(d.InputSchema),
		})
	}
	return &mcp.ListToolsResult{Tools: tools}, nil
}

func (p *InProcess) ListResources(context.Context, mcp.ListResourcesRequest) (*mcp.ListResourcesResult, error) {
	descs := p.registry.ListResources()
	out := make([]mcp.Resource, 0, len(descs))
	for _, d := range descs {
		out = append(out, mcp.NewResource(d.URIScheme, d.Name,
			mcp.WithResourceDescription(d.Description),
			mcp.WithMIMEType(d.ContentType),
		))
	}
	return &mcp.ListResourcesResult{Resources: out}, nil
}

func (p *InProcess) CallTool(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return p.registry.CallTool(ctx, req.Params.Name, req.GetArguments()), nil
}

func (p *InProcess) ReadResource(ctx context.Context, req mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	return p.registry.ReadResource(ctx, req.Params.URI)
}

func inputSchema(m map[string]any) mcp.ToolInputSchema {
	s := mcp.ToolInputSchema{Type: "object"}
	if props, ok := m["properties"].(map[string]any); ok {
		s.Properties = props
	}
	if req, ok := m["required"].([]string); ok {
		s.Required = req
	}
	return s
}

// RemoteConfig selects a remote MCP server: a URL for streamable HTTP or a
// command for a stdio subprocess.
type RemoteConfig struct {
	URL     string
	Command string
	Args    []string
	Env     []string
}

// Dial connects and initializes a remote MCP client. The caller closes it.
func Dial(ctx context.Context, cfg RemoteConfig, version string) (*client.Client, error) {
	var (
		c   *client.Client
		err error
	)
	switch {
	case cfg.Command != "":
		c, err = client.NewStdioMCPClient(cfg.Command, cfg.Env, cfg.Args...)
	case cfg.URL != "":
		c, err = client.NewStreamableHttpClient(cfg.URL)
	default:
		return nil, fmt.Errorf("either url or command is required")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create MCP client: %w", err)
	}
	if err := c.Start(ctx); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("failed to start MCP client: %w", err)
	}

	init := mcp.InitializeRequest{}
	init.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	init.Params.ClientInfo = mcp.Implementation{Name: "finrag", Version: version}
	if _, err := c.Initialize(ctx, init); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("failed to initialize MCP: %w", err)
	}
	slog.Info("Connected to MCP server", "url", cfg.URL, "command", cfg.Command)
	return c, nil
}
