package toolserver

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/finrag/pkg/config"
	"github.com/kadirpekel/finrag/pkg/gateway"
	"github.com/kadirpekel/finrag/pkg/graph"
	"github.com/kadirpekel/finrag/pkg/retrieval"
	"github.com/kadirpekel/finrag/pkg/services"
)

type fakeLLM struct{ reply string }

func (f fakeLLM) Generate(context.Context, string, gateway.GenerateOptions) (string, error) {
	return f.reply, nil
}

type fakeRetriever struct {
	docs  []retrieval.Document
	query string
	topK  int
}

func (f *fakeRetriever) Retrieve(_ context.Context, query string, topK int, _ map[string]any, _ bool) []retrieval.Document {
	f.query, f.topK = query, topK
	return f.docs
}

func newTestRegistry(t *testing.T) (*Registry, *services.Services, *fakeRetriever) {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	g, err := graph.NewSQLStore(context.Background(), db, "sqlite")
	require.NoError(t, err)

	ret := &fakeRetriever{docs: []retrieval.Document{{ID: "d1", Content: "茅台营收", Source: "a.pdf", Score: 0.9}}}
	svc := services.New(config.ServicesConfig{OutputDir: t.TempDir()}, config.FinanceConfig{}, services.Deps{
		LLM:       fakeLLM{reply: "ok"},
		Retriever: ret,
		Graph:     g,
	})
	require.NoError(t, svc.Indicators.Record(context.Background(), services.IndicatorPoint{
		Company: "贵州茅台", Indicator: "营收", Year: 2023, Value: 1505.6, Unit: "亿元",
	}))

	r, err := New(svc, ret)
	require.NoError(t, err)
	return r, svc, ret
}

func text(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.Len(t, res.Content, 1)
	tc, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok, "expected text content, got %T", res.Content[0])
	return tc.Text
}

func TestRegistry_Catalog(t *testing.T) {
	r, _, _ := newTestRegistry(t)

	tools := r.ListTools()
	require.Len(t, tools, 10)
	assert.Equal(t, ToolQueryReportIndicator, tools[0].Name)

	schema := tools[0].InputSchema
	assert.Equal(t, "object", schema["type"])
	assert.ElementsMatch(t, []string{"company", "indicator", "year"}, schema["required"])
	props := schema["properties"].(map[string]any)
	assert.Contains(t, props, "quarter")

	res := r.ListResources()
	require.Len(t, res, 2)
	assert.Equal(t, KnowledgeSearchURI, res[0].URIScheme)
	assert.Equal(t, FinancialDataURI, res[1].URIScheme)

	err := register(r, ToolPredictTrend, "dup", func(context.Context, predictArgs) (any, error) { return nil, nil })
	assert.Error(t, err)
}

func TestRegistry_CallTool(t *testing.T) {
	ctx := context.Background()
	r, _, _ := newTestRegistry(t)

	res := r.CallTool(ctx, ToolQueryReportIndicator, map[string]any{
		"company": "茅台", "indicator": "营业收入", "year": 2023,
	})
	require.False(t, res.IsError, text(t, res))

	var got services.IndicatorResult
	require.NoError(t, json.Unmarshal([]byte(text(t, res)), &got))
	assert.True(t, got.Found)
	assert.Equal(t, 1505.6, *got.Value)

	res = r.CallTool(ctx, ToolQueryReportIndicator, map[string]any{
		"company": "贵州茅台", "indicator": "营收", "year": "2023",
	})
	assert.False(t, res.IsError, "numeric strings are accepted")
}

func TestRegistry_CallToolErrors(t *testing.T) {
	ctx := context.Background()
	r, _, _ := newTestRegistry(t)

	tests := []struct {
		name string
		tool string
		args map[string]any
		want string
	}{
		{"unknown tool", "get_weather", nil, ErrToolNotFound.Error()},
		{"missing required", ToolQueryReportIndicator, map[string]any{"company": "贵州茅台", "year": 2023}, ErrToolArgumentInvalid.Error()},
		{"empty required string", ToolQueryReportIndicator, map[string]any{"company": "", "indicator": "营收", "year": 2023}, `required argument "company" is empty`},
		{"blank required string", ToolExecuteAgent, map[string]any{"agent_id": "credit_qa", "query": "  "}, ErrToolArgumentInvalid.Error()},
		{"wrong type", ToolCompareIndicators, map[string]any{
			"companies": "贵州茅台", "indicator": "营收", "start_year": "soon", "end_year": 2023,
		}, ErrToolArgumentInvalid.Error()},
		{"handler error", ToolExecuteAgent, map[string]any{"agent_id": "oracle", "query": "?"}, "agent not found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := r.CallTool(ctx, tt.tool, tt.args)
			assert.True(t, res.IsError)
			assert.Contains(t, text(t, res), tt.want)
		})
	}
}

func TestRegistry_RecoversPanics(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	require.NoError(t, register(r, "boom", "panics", func(context.Context, struct{}) (any, error) {
		panic("kaboom")
	}))

	res := r.CallTool(context.Background(), "boom", nil)
	assert.True(t, res.IsError)
	assert.Contains(t, text(t, res), "internal error")
}

func TestRegistry_ReadResource(t *testing.T) {
	ctx := context.Background()
	r, _, ret := newTestRegistry(t)

	res, err := r.ReadResource(ctx, "knowledge://search?query=%E8%8C%85%E5%8F%B0&top_k=3")
	require.NoError(t, err)
	require.Len(t, res.Contents, 1)
	tc := res.Contents[0].(mcp.TextResourceContents)
	assert.Equal(t, mimeJSON, tc.MIMEType)
	assert.Equal(t, "茅台", ret.query)
	assert.Equal(t, 3, ret.topK)

	var docs []retrieval.Document
	require.NoError(t, json.Unmarshal([]byte(tc.Text), &docs))
	assert.Equal(t, "d1", docs[0].ID)

	_, err = r.ReadResource(ctx, "knowledge://search?query=x")
	require.NoError(t, err)
	assert.Equal(t, DefaultSearchTopK, ret.topK)

	res, err = r.ReadResource(ctx, "financial://data?company=贵州茅台&indicator=营收")
	require.NoError(t, err)
	var ind services.IndicatorResult
	require.NoError(t, json.Unmarshal([]byte(res.Contents[0].(mcp.TextResourceContents).Text), &ind))
	assert.Equal(t, DefaultResourceYear, ind.Year)
	assert.True(t, ind.Found)

	_, err = r.ReadResource(ctx, "weather://today")
	assert.ErrorIs(t, err, ErrResourceSchemeUnknown)

	_, err = r.ReadResource(ctx, "financial://data?company=贵州茅台")
	assert.ErrorIs(t, err, ErrToolArgumentInvalid)
}

func TestRegistry_ReadResourceRepeatable(t *testing.T) {
	ctx := context.Background()
	r, _, _ := newTestRegistry(t)

	for _, uri := range []string{
		"knowledge://search?query=%E8%8C%85%E5%8F%B0&top_k=3",
		"financial://data?company=贵州茅台&indicator=营收&year=2023",
	} {
		first, err := r.ReadResource(ctx, uri)
		require.NoError(t, err)
		second, err := r.ReadResource(ctx, uri)
		require.NoError(t, err)

		require.Len(t, first.Contents, 1)
		require.Len(t, second.Contents, 1)
		assert.Equal(t,
			first.Contents[0].(mcp.TextResourceContents).Text,
			second.Contents[0].(mcp.TextResourceContents).Text, uri)
	}
}

func TestRegistry_MCPServer(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	s, err := r.MCPServer("test")
	require.NoError(t, err)
	assert.NotNil(t, s)
}
