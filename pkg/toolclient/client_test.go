package toolclient

import (
	"context"
	"errors"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTransport struct {
	listCalls int
	listErr   error
	result    *mcp.CallToolResult
	resource  string
	lastURI   string
}

func (f *fakeTransport) ListTools(context.Context, mcp.ListToolsRequest) (*mcp.ListToolsResult, error) {
	f.listCalls++
	if f.listErr != nil {
		return nil, f.listErr
	}
	return &mcp.ListToolsResult{Tools: []mcp.Tool{{Name: "query_report_indicator"}}}, nil
}

func (f *fakeTransport) ListResources(context.Context, mcp.ListResourcesRequest) (*mcp.ListResourcesResult, error) {
	return &mcp.ListResourcesResult{Resources: []mcp.Resource{mcp.NewResource("knowledge://search", "search")}}, nil
}

func (f *fakeTransport) CallTool(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return f.result, nil
}

func (f *fakeTransport) ReadResource(_ context.Context, req mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	f.lastURI = req.Params.URI
	return &mcp.ReadResourceResult{Contents: []mcp.ResourceContents{
		mcp.TextResourceContents{URI: req.Params.URI, MIMEType: "application/json", Text: f.resource},
	}}, nil
}

func TestClient_ListToolsCachesSuccessOnly(t *testing.T) {
	ctx := context.Background()
	ft := &fakeTransport{listErr: errors.New("offline")}
	c := New(ft)

	_, err := c.ListTools(ctx)
	require.Error(t, err)

	ft.listErr = nil
	tools, err := c.ListTools(ctx)
	require.NoError(t, err)
	require.Len(t, tools, 1)

	_, err = c.ListTools(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, ft.listCalls)

	res, err := c.ListResources(ctx)
	require.NoError(t, err)
	assert.Equal(t, "knowledge://search", res[0].URI)
}

func TestClient_CallTool(t *testing.T) {
	ctx := context.Background()
	ft := &fakeTransport{result: mcp.NewToolResultText(`{"found": true, "value": 1505.6}`)}
	c := New(ft)

	out, err := c.CallTool(ctx, "query_report_indicator", map[string]any{"company": "贵州茅台"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"found": true, "value": 1505.6}, out)

	ft.result = mcp.NewToolResultText("plain answer")
	out, err = c.CallTool(ctx, "x", nil)
	require.NoError(t, err)
	assert.Equal(t, "plain answer", out)

	ft.result = mcp.NewToolResultError("tool not found: x")
	_, err = c.CallTool(ctx, "x", nil)
	var te *ToolError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "x", te.Name)
	assert.Equal(t, "tool not found: x", te.Message)
}

func TestClient_SearchKnowledge(t *testing.T) {
	ctx := context.Background()
	ft := &fakeTransport{resource: `[{"id":"a","content":"一","score":0.9},{"id":"b","content":"二"},{"id":"c","content":"三"}]`}
	c := New(ft)

	docs := c.SearchKnowledge(ctx, "茅台 营收", 2)
	require.Len(t, docs, 2)
	assert.Equal(t, "a", docs[0].ID)
	assert.Equal(t, 0.9, docs[0].Score)
	assert.Equal(t, "knowledge://search?query=%E8%8C%85%E5%8F%B0+%E8%90%A5%E6%94%B6&top_k=2", ft.lastURI)

	ft.resource = `{"error": "not a list"}`
	assert.Empty(t, c.SearchKnowledge(ctx, "q", 5))
}
