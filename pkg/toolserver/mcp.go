package toolserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// ServerName is announced to MCP clients.
const ServerName = "finrag"

// MCPServer exposes the registry over MCP. Tool and resource calls go through
// the same paths as in-process calls.
func (r *Registry) MCPServer(version string) (*server.MCPServer, error) {
	s := server.NewMCPServer(ServerName, version,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
		server.WithRecovery(),
	)

	for _, d := range r.ListTools() {
		schema, err := json.Marshal(d.InputSchema)
		if err != nil {
			return nil, fmt.Errorf("tool %s: failed to encode schema: %w", d.Name, err)
		}
		name := d.Name
		s.AddTool(mcp.NewToolWithRawSchema(name, d.Description, schema),
			func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
				return r.CallTool(ctx, name, req.GetArguments()), nil
			})
	}

	templates := map[string]string{
		KnowledgeSearchURI: KnowledgeSearchURI + "{?query,top_k}",
		FinancialDataURI:   FinancialDataURI + "{?company,indicator,year,quarter}",
	}
	for _, d := range r.ListResources() {
		tmpl := mcp.NewResourceTemplate(templates[d.URIScheme], d.Name,
			mcp.WithTemplateDescription(d.Description),
			mcp.WithTemplateMIMEType(d.ContentType),
		)
		s.AddResourceTemplate(tmpl, func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
			res, err := r.ReadResource(ctx, req.Params.URI)
			if err != nil {
				return nil, err
			}
			return res.Contents, nil
		})
	}
	return s, nil
}

// ServeStdio runs the MCP server on stdin and stdout until the input closes.
func (r *Registry) ServeStdio(version string) error {
	s, err := r.MCPServer(version)
	if err != nil {
		return err
	}
	return server.ServeStdio(s)
}

// HTTPHandler returns a streamable HTTP MCP handler for mounting on a router.
func (r *Registry) HTTPHandler(version string) (http.Handler, error) {
	s, err := r.MCPServer(version)
	if err != nil {
		return nil, err
	}
	return server.NewStreamableHTTPServer(s), nil
}
