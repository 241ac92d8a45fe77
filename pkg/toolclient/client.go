// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package toolclient calls tools and reads resources through any transport
// that speaks the MCP client surface, in process or remote.
package toolclient

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/kadirpekel/finrag/pkg/retrieval"
)

// Transport is the subset of the MCP client the Client needs. It is
// satisfied by *client.Client and by the in-process registry adapter.
type Transport interface {
	ListTools(ctx context.Context, req mcp.ListToolsRequest) (*mcp.ListToolsResult, error)
	ListResources(ctx context.Context, req mcp.ListResourcesRequest) (*mcp.ListResourcesResult, error)
	CallTool(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error)
	ReadResource(ctx context.Context, req mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error)
}

// ToolError is a tool that ran and reported failure.
type ToolError struct {
	Name    string
	Message string
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("tool %s failed: %s", e.Name, e.Message)
}

// Client caches the tool and resource listings for its lifetime.
type Client struct {
	transport Transport

	mu        sync.Mutex
	tools     []mcp.Tool
	resources []mcp.Resource
}

func New(t Transport) *Client {
	return &Client{transport: t}
}

// ListTools fetches the catalog once. A failed fetch is not cached.
func (c *Client) ListTools(ctx context.Context) ([]mcp.Tool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tools != nil {
		return c.tools, nil
	}
	res, err := c.transport.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, fmt.Errorf("failed to list tools: %w", err)
	}
	c.tools = append([]mcp.Tool{}, res.Tools...)
	return c.tools, nil
}

// ListResources fetches the resource list once. A failed fetch is not cached.
func (c *Client) ListResources(ctx context.Context) ([]mcp.Resource, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.resources != nil {
		return c.resources, nil
	}
	res, err := c.transport.ListResources(ctx, mcp.ListResourcesRequest{})
	if err != nil {
		return nil, fmt.Errorf("failed to list resources: %w", err)
	}
	c.resources = append([]mcp.Resource{}, res.Resources...)
	return c.resources, nil
}

// CallTool runs a tool and decodes its JSON payload. A payload that is not
// JSON is returned as a string.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]any) (any, error) {
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args

	res, err := c.transport.CallTool(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to call %s: %w", name, err)
	}
	text := toolText(res.Content)
	if res.IsError {
		return nil, &ToolError{Name: name, Message: text}
	}
	return decode(text), nil
}

// ReadResource reads a resource and decodes its JSON payload.
func (c *Client) ReadResource(ctx context.Context, uri string) (any, error) {
	req := mcp.ReadResourceRequest{}
	req.Params.URI = uri

	res, err := c.transport.ReadResource(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", uri, err)
	}
	var parts []string
	for _, rc := range res.Contents {
		if tc, ok := rc.(mcp.TextResourceContents); ok {
			parts = append(parts, tc.Text)
		}
	}
	return decode(strings.Join(parts, "")), nil
}

// SearchKnowledge runs knowledge://search and converts the hits. Failures
// and unexpected payloads yield no documents.
func (c *Client) SearchKnowledge(ctx context.Context, query string, topK int) []retrieval.Document {
	uri := fmt.Sprintf("knowledge://search?query=%s&top_k=%d", url.QueryEscape(query), topK)
	payload, err := c.ReadResource(ctx, uri)
	if err != nil {
		slog.Warn("Knowledge search failed", "error", err)
		return []retrieval.Document{}
	}
	if _, ok := payload.([]any); !ok {
		return []retrieval.Document{}
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return []retrieval.Document{}
	}
	var docs []retrieval.Document
	if err := json.Unmarshal(raw, &docs); err != nil {
		slog.Warn("Unexpected knowledge search payload", "error", err)
		return []retrieval.Document{}
	}
	if len(docs) > topK {
		docs = docs[:topK]
	}
	return docs
}

func toolText(content []mcp.Content) string {
	var parts []string
	for _, c := range content {
		if tc, ok := c.(mcp.TextContent); ok {
			parts = append(parts, tc.Text)
		}
	}
	return strings.Join(parts, "")
}

func decode(text string) any {
	var v any
	if err := json.Unmarshal([]byte(text), &v); err != nil {
		return text
	}
	return v
}
