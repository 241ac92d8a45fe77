package coordinator

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/finrag/pkg/config"
	"github.com/kadirpekel/finrag/pkg/finance"
	"github.com/kadirpekel/finrag/pkg/gateway"
	"github.com/kadirpekel/finrag/pkg/graph"
	"github.com/kadirpekel/finrag/pkg/retrieval"
	"github.com/kadirpekel/finrag/pkg/services"
	"github.com/kadirpekel/finrag/pkg/toolclient"
	"github.com/kadirpekel/finrag/pkg/toolserver"
)

// scriptedLLM answers by prompt kind so one stub can serve a whole turn.
type scriptedLLM struct {
	mu       sync.Mutex
	intent   string
	decision string
	answer   string
	genErr   error
	block    bool
	prompts  []string
	answered []string
}

func (s *scriptedLLM) Generate(_ context.Context, prompt string, _ gateway.GenerateOptions) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prompts = append(s.prompts, prompt)
	if strings.Contains(prompt, "提取意图") {
		return s.intent, nil
	}
	return s.decision, nil
}

func (s *scriptedLLM) GenerateWithRetry(ctx context.Context, prompt string, _ gateway.GenerateOptions) (string, error) {
	s.mu.Lock()
	s.answered = append(s.answered, prompt)
	block, err, answer := s.block, s.genErr, s.answer
	s.mu.Unlock()
	if block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return answer, err
}

func (s *scriptedLLM) lastAnswerPrompt() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.answered) == 0 {
		return ""
	}
	return s.answered[len(s.answered)-1]
}

type stubRetriever struct {
	docs    []retrieval.Document
	filters []map[string]any
}

func (s *stubRetriever) Retrieve(_ context.Context, _ string, _ int, filters map[string]any, _ bool) []retrieval.Document {
	s.filters = append(s.filters, filters)
	return s.docs
}

type fakeTools struct {
	tools   []mcp.Tool
	result  any
	callErr error
	calls   []ToolInvocation
	docs    []retrieval.Document
}

func (f *fakeTools) ListTools(context.Context) ([]mcp.Tool, error) { return f.tools, nil }

func (f *fakeTools) CallTool(_ context.Context, name string, args map[string]any) (any, error) {
	f.calls = append(f.calls, ToolInvocation{Name: name, Arguments: args})
	return f.result, f.callErr
}

func (f *fakeTools) SearchKnowledge(context.Context, string, int) []retrieval.Document { return f.docs }

func catalog(names ...string) []mcp.Tool {
	out := make([]mcp.Tool, len(names))
	for i, n := range names {
		out[i] = mcp.Tool{Name: n, Description: n}
	}
	return out
}

func newTestCoordinator(t *testing.T, cfg config.CoordinatorConfig, llm LLM, ret retrieval.Retriever, opts ...Option) *Coordinator {
	t.Helper()
	c, err := New(cfg, llm, ret, opts...)
	require.NoError(t, err)
	return c
}

func TestProcessQuery_IndicatorToolByRules(t *testing.T) {
	ctx := context.Background()
	llm := &scriptedLLM{intent: "无法解析", decision: "无法解析", answer: "贵州茅台2023年营收为1500亿元。"}
	tools := &fakeTools{
		tools:  catalog("query_report_indicator", "compare_indicators"),
		result: map[string]any{"found": true, "value": 150000000000.0, "unit": "元"},
		docs:   []retrieval.Document{{ID: "d1", Source: "茅台2023年报.pdf", Content: "营业收入稳步增长", Score: 0.8}},
	}
	c := newTestCoordinator(t, config.CoordinatorConfig{}, llm, nil, WithToolClient(tools))

	resp, err := c.ProcessQuery(ctx, "贵州茅台2023年营收", "")
	require.NoError(t, err)

	require.Len(t, tools.calls, 1)
	assert.Equal(t, "query_report_indicator", tools.calls[0].Name)
	assert.Equal(t, map[string]any{"company": "贵州茅台", "indicator": "营收", "year": 2023}, tools.calls[0].Arguments)

	prompt := llm.lastAnswerPrompt()
	assert.Contains(t, prompt, `"value":150000000000`)
	assert.Contains(t, prompt, "来源：茅台2023年报.pdf")

	assert.NotEmpty(t, resp.Answer)
	assert.NotEmpty(t, resp.ConversationID)
	assert.Equal(t, IntentQuery, resp.Intent.Type)
	require.NotNil(t, resp.ToolCall)
	assert.False(t, resp.ToolCall.IsError)
	require.Len(t, resp.Sources, 1)
	assert.Equal(t, Source{Source: "茅台2023年报.pdf", Relevance: 0.8}, resp.Sources[0])
	require.Len(t, resp.History, 2)
	assert.Equal(t, RoleUser, resp.History[0].Role)
	assert.Equal(t, RoleAssistant, resp.History[1].Role)
}

func TestProcessQuery_ModelToolDecision(t *testing.T) {
	llm := &scriptedLLM{
		intent:   `{"type": "trend", "company": "贵州茅台", "indicator": "营收"}`,
		decision: "```json\n{\"tool\": \"predict_trend\", \"arguments\": {\"company\": \"贵州茅台\", \"indicator\": \"营收\", \"years\": 3}}\n```",
		answer:   "预计继续增长。",
	}
	tools := &fakeTools{tools: catalog("predict_trend"), result: "ok"}
	c := newTestCoordinator(t, config.CoordinatorConfig{}, llm, nil, WithToolClient(tools))

	resp, err := c.ProcessQuery(context.Background(), "贵州茅台营收未来走势", "c1")
	require.NoError(t, err)
	assert.Equal(t, IntentTrend, resp.Intent.Type)
	require.Len(t, tools.calls, 1)
	assert.Equal(t, float64(3), tools.calls[0].Arguments["years"])
}

func TestProcessQuery_NoToolAndToolFailure(t *testing.T) {
	ctx := context.Background()

	llm := &scriptedLLM{decision: `{"tool": "none"}`, answer: "知识不足。"}
	tools := &fakeTools{tools: catalog("query_report_indicator")}
	c := newTestCoordinator(t, config.CoordinatorConfig{}, llm, nil, WithToolClient(tools))
	resp, err := c.ProcessQuery(ctx, "贵州茅台2023年营收", "")
	require.NoError(t, err)
	assert.Nil(t, resp.ToolCall)
	assert.Empty(t, tools.calls)

	llm = &scriptedLLM{decision: `{"tool": "not_a_tool"}`, answer: "暂无数据。"}
	tools = &fakeTools{tools: catalog("query_report_indicator"), callErr: errors.New("tool not found: x")}
	c = newTestCoordinator(t, config.CoordinatorConfig{}, llm, nil, WithToolClient(tools))
	resp, err = c.ProcessQuery(ctx, "贵州茅台2023年营收", "")
	require.NoError(t, err)
	require.NotNil(t, resp.ToolCall)
	assert.True(t, resp.ToolCall.IsError)
	assert.Equal(t, "tool not found: x", resp.ToolCall.Error)
	assert.NotContains(t, llm.lastAnswerPrompt(), "工具 query_report_indicator 的结果")
	assert.Equal(t, "暂无数据。", resp.Answer)
}

func TestProcessQuery_DegradedRetrieval(t *testing.T) {
	llm := &scriptedLLM{answer: "现有知识不足以回答该问题。"}
	ret := &stubRetriever{}
	c := newTestCoordinator(t, config.CoordinatorConfig{}, llm, ret)

	resp, err := c.ProcessQuery(context.Background(), "招商银行2022年不良率", "")
	require.NoError(t, err)
	assert.Equal(t, "现有知识不足以回答该问题。", resp.Answer)
	assert.Empty(t, resp.Sources)
	assert.Nil(t, resp.ToolCall)
	assert.Contains(t, llm.lastAnswerPrompt(), "（无相关知识）")

	require.Len(t, ret.filters, 1)
	assert.Equal(t, map[string]any{"company": "招商银行", "year": 2022}, ret.filters[0])
}

func TestProcessQuery_DeadlineFallback(t *testing.T) {
	llm := &scriptedLLM{block: true}
	c := newTestCoordinator(t, config.CoordinatorConfig{TurnTimeout: 20 * time.Millisecond}, llm, &stubRetriever{})

	resp, err := c.ProcessQuery(context.Background(), "贵州茅台2023年营收", "slow")
	require.NoError(t, err)
	assert.Equal(t, answerFallback, resp.Answer)
	require.Len(t, resp.History, 2)
	assert.Equal(t, answerFallback, resp.History[1].Content)
}

func TestProcessQuery_GenerationErrorPropagates(t *testing.T) {
	llm := &scriptedLLM{genErr: gateway.ErrProviderUnavailable}
	c := newTestCoordinator(t, config.CoordinatorConfig{}, llm, &stubRetriever{})

	_, err := c.ProcessQuery(context.Background(), "你好", "c1")
	require.ErrorIs(t, err, gateway.ErrProviderUnavailable)

	history, err := c.GetConversationHistory(context.Background(), "c1")
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestProcessQuery_HistoryCap(t *testing.T) {
	ctx := context.Background()
	llm := &scriptedLLM{answer: "好的"}
	c := newTestCoordinator(t, config.CoordinatorConfig{MaxHistory: 2}, llm, &stubRetriever{})

	for i := range 3 {
		_, err := c.ProcessQuery(ctx, fmt.Sprintf("问题%d", i), "capped")
		require.NoError(t, err)
	}

	history, err := c.GetConversationHistory(ctx, "capped")
	require.NoError(t, err)
	require.Len(t, history, 4)
	assert.Equal(t, "问题1", history[0].Content)
	assert.Equal(t, "问题2", history[2].Content)

	// Only the last five messages reach the prompt.
	assert.Contains(t, llm.lastAnswerPrompt(), "user: 问题1")
}

func TestProcessQuery_PromptHistoryIncludesCurrentQuestion(t *testing.T) {
	ctx := context.Background()
	llm := &scriptedLLM{answer: "好的"}
	c := newTestCoordinator(t, config.CoordinatorConfig{MaxHistory: 10}, llm, &stubRetriever{})

	for i := 1; i <= 4; i++ {
		_, err := c.ProcessQuery(ctx, fmt.Sprintf("问题%d", i), "window")
		require.NoError(t, err)
	}

	p := llm.lastAnswerPrompt()
	assert.Contains(t, p, "user: 问题4")
	assert.Contains(t, p, "user: 问题2")
	assert.NotContains(t, p, "user: 问题1")
}

func TestConversationHistory_UnknownAndClear(t *testing.T) {
	ctx := context.Background()
	c := newTestCoordinator(t, config.CoordinatorConfig{}, &scriptedLLM{answer: "a"}, &stubRetriever{})

	history, err := c.GetConversationHistory(ctx, "missing")
	require.NoError(t, err)
	assert.Empty(t, history)
	require.NoError(t, c.ClearConversationHistory(ctx, "missing"))

	_, err = c.ProcessQuery(ctx, "q", "known")
	require.NoError(t, err)
	require.NoError(t, c.ClearConversationHistory(ctx, "known"))
	history, err = c.GetConversationHistory(ctx, "known")
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestProcessQuery_ConcurrentTurnsSameConversation(t *testing.T) {
	ctx := context.Background()
	c := newTestCoordinator(t, config.CoordinatorConfig{MaxHistory: 50}, &scriptedLLM{answer: "a"}, &stubRetriever{})

	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.ProcessQuery(ctx, fmt.Sprintf("q%d", i), "shared")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	history, err := c.GetConversationHistory(ctx, "shared")
	require.NoError(t, err)
	require.Len(t, history, 16)
	for i := 0; i < len(history); i += 2 {
		assert.Equal(t, RoleUser, history[i].Role)
		assert.Equal(t, RoleAssistant, history[i+1].Role)
	}
}

func TestProcessQuery_PersistsAcrossCoordinators(t *testing.T) {
	ctx := context.Background()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	store, err := NewSQLStore(ctx, db, "sqlite")
	require.NoError(t, err)

	first := newTestCoordinator(t, config.CoordinatorConfig{}, &scriptedLLM{answer: "一"}, &stubRetriever{}, WithStore(store))
	_, err = first.ProcessQuery(ctx, "第一问", "persisted")
	require.NoError(t, err)

	second := newTestCoordinator(t, config.CoordinatorConfig{}, &scriptedLLM{answer: "二"}, &stubRetriever{}, WithStore(store))
	resp, err := second.ProcessQuery(ctx, "第二问", "persisted")
	require.NoError(t, err)
	require.Len(t, resp.History, 4)
	assert.Equal(t, "第一问", resp.History[0].Content)
}

// The in-process tool server path: rules pick the indicator tool and the
// figure recorded in the graph reaches the answer prompt.
func TestProcessQuery_InProcessToolServer(t *testing.T) {
	ctx := context.Background()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	g, err := graph.NewSQLStore(ctx, db, "sqlite")
	require.NoError(t, err)

	ret := &stubRetriever{}
	svc := services.New(config.ServicesConfig{OutputDir: t.TempDir()}, config.FinanceConfig{},
		services.Deps{Graph: g, Retriever: ret, Vocabulary: finance.Default()})
	require.NoError(t, svc.Indicators.Record(ctx, services.IndicatorPoint{
		Company: "贵州茅台", Indicator: "营业收入", Year: 2023, Value: 150000000000, Unit: "元",
	}))

	reg, err := toolserver.New(svc, ret)
	require.NoError(t, err)
	llm := &scriptedLLM{answer: "1500亿元"}
	c := newTestCoordinator(t, config.CoordinatorConfig{}, llm, nil,
		WithToolClient(toolclient.New(toolclient.NewInProcess(reg))))

	resp, err := c.ProcessQuery(ctx, "贵州茅台2023年营收", "")
	require.NoError(t, err)
	require.NotNil(t, resp.ToolCall)
	assert.Equal(t, "query_report_indicator", resp.ToolCall.Name)
	assert.False(t, resp.ToolCall.IsError)
	assert.Contains(t, llm.lastAnswerPrompt(), `"value":150000000000`)
}

func TestNew_Validation(t *testing.T) {
	_, err := New(config.CoordinatorConfig{}, nil, &stubRetriever{})
	require.Error(t, err)
	_, err = New(config.CoordinatorConfig{}, &scriptedLLM{}, nil)
	require.Error(t, err)
}
