package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/finrag/pkg/config"
	"github.com/kadirpekel/finrag/pkg/coordinator"
	"github.com/kadirpekel/finrag/pkg/ratelimit"
	"github.com/kadirpekel/finrag/pkg/services"
	"github.com/kadirpekel/finrag/pkg/toolclient"
	"github.com/kadirpekel/finrag/pkg/toolserver"
)

type fakeChat struct {
	err     error
	queries []string
	history map[string][]coordinator.Message
	cleared []string
}

func (f *fakeChat) ProcessQuery(_ context.Context, query, id string) (*coordinator.Response, error) {
	f.queries = append(f.queries, query)
	if f.err != nil {
		return nil, f.err
	}
	if id == "" {
		id = "generated"
	}
	return &coordinator.Response{
		Answer:         "贵州茅台2023年营收1505.6亿元",
		ConversationID: id,
		Intent:         coordinator.Intent{Type: coordinator.IntentQuery},
	}, nil
}

func (f *fakeChat) GetConversationHistory(_ context.Context, id string) ([]coordinator.Message, error) {
	if msgs, ok := f.history[id]; ok {
		return msgs, nil
	}
	return []coordinator.Message{}, nil
}

func (f *fakeChat) ClearConversationHistory(_ context.Context, id string) error {
	f.cleared = append(f.cleared, id)
	return nil
}

type fakeTools struct {
	callErr error
	readErr error
	args    map[string]any
}

func (f *fakeTools) ListTools(context.Context) ([]mcp.Tool, error) {
	return []mcp.Tool{{Name: "query_report_indicator"}}, nil
}

func (f *fakeTools) ListResources(context.Context) ([]mcp.Resource, error) {
	return []mcp.Resource{mcp.NewResource("knowledge://search", "search")}, nil
}

func (f *fakeTools) CallTool(_ context.Context, _ string, args map[string]any) (any, error) {
	f.args = args
	if f.callErr != nil {
		return nil, f.callErr
	}
	return map[string]any{"found": true}, nil
}

func (f *fakeTools) ReadResource(context.Context, string) (any, error) {
	if f.readErr != nil {
		return nil, f.readErr
	}
	return []any{}, nil
}

func newTestServer(chat *fakeChat, tools *fakeTools, opts ...Option) http.Handler {
	if tools != nil {
		opts = append(opts, WithTools(tools))
	}
	return New(config.ServerConfig{}, chat, opts...).Handler()
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r *http.Request
	if body == "" {
		r = httptest.NewRequest(method, target, nil)
	} else {
		r = httptest.NewRequest(method, target, strings.NewReader(body))
		r.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func TestChat(t *testing.T) {
	chat := &fakeChat{}
	h := newTestServer(chat, nil)

	w := do(t, h, http.MethodPost, "/v1/chat", `{"query": "贵州茅台2023年营收", "conversation_id": "c1"}`)
	require.Equal(t, http.StatusOK, w.Code)
	var resp coordinator.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "c1", resp.ConversationID)
	assert.NotEmpty(t, resp.Answer)
	assert.Equal(t, []string{"贵州茅台2023年营收"}, chat.queries)

	w = do(t, h, http.MethodPost, "/v1/chat", `{"query": "  "}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, h, http.MethodPost, "/v1/chat", `not json`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	chat.err = errors.New("provider unavailable")
	w = do(t, h, http.MethodPost, "/v1/chat", `{"query": "q"}`)
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Contains(t, w.Body.String(), "provider unavailable")
}

func TestConversations(t *testing.T) {
	chat := &fakeChat{history: map[string][]coordinator.Message{
		"c1": {{Role: coordinator.RoleUser, Content: "你好"}},
	}}
	h := newTestServer(chat, nil)

	w := do(t, h, http.MethodGet, "/v1/conversations/c1", "")
	require.Equal(t, http.StatusOK, w.Code)
	var conv ConversationResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &conv))
	assert.Equal(t, "c1", conv.ConversationID)
	require.Len(t, conv.Messages, 1)

	w = do(t, h, http.MethodGet, "/v1/conversations/unknown", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"conversation_id": "unknown", "messages": []}`, w.Body.String())

	w = do(t, h, http.MethodDelete, "/v1/conversations/c1", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, []string{"c1"}, chat.cleared)
}

func TestTools(t *testing.T) {
	tools := &fakeTools{}
	h := newTestServer(&fakeChat{}, tools)

	w := do(t, h, http.MethodGet, "/v1/tools", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "query_report_indicator")
	assert.Contains(t, w.Body.String(), "knowledge://search")

	w = do(t, h, http.MethodPost, "/v1/tools/query_report_indicator", `{"company": "贵州茅台", "year": 2023}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "贵州茅台", tools.args["company"])
	assert.JSONEq(t, `{"tool": "query_report_indicator", "result": {"found": true}}`, w.Body.String())

	w = do(t, h, http.MethodGet, "/v1/resources", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, h, http.MethodGet, "/v1/resources?uri=knowledge%3A%2F%2Fsearch%3Fquery%3Dq", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestToolErrorStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"not found", &toolclient.ToolError{Name: "x", Message: fmt.Sprintf("%s: x", toolserver.ErrToolNotFound)}, http.StatusNotFound},
		{"bad argument", &toolclient.ToolError{Name: "x", Message: fmt.Sprintf("%s: missing required argument \"year\"", toolserver.ErrToolArgumentInvalid)}, http.StatusBadRequest},
		{"handler error", &toolclient.ToolError{Name: "x", Message: "no indicator data"}, http.StatusUnprocessableEntity},
		{"transport", errors.New("connection refused"), http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestServer(&fakeChat{}, &fakeTools{callErr: tt.err})
			w := do(t, h, http.MethodPost, "/v1/tools/x", "")
			assert.Equal(t, tt.want, w.Code)
		})
	}
}

func TestResourceErrorStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("failed to read: %w", toolserver.ErrResourceSchemeUnknown), http.StatusNotFound},
		{fmt.Errorf("%w: indicator is required", services.ErrInvalidArgument), http.StatusBadRequest},
		{errors.New("boom"), http.StatusBadGateway},
	}
	for _, tt := range tests {
		h := newTestServer(&fakeChat{}, &fakeTools{readErr: tt.err})
		w := do(t, h, http.MethodGet, "/v1/resources?uri=x", "")
		assert.Equal(t, tt.want, w.Code, tt.err.Error())
	}
}

func TestOperationalRoutes(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("# metrics"))
	})
	mcpHandler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})
	h := newTestServer(&fakeChat{}, nil, WithMetricsHandler(metrics), WithMCPHandler(mcpHandler), WithVersion("1.2.3"))

	w := do(t, h, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status": "ok", "version": "1.2.3"}`, w.Body.String())

	w = do(t, h, http.MethodGet, "/metrics", "")
	assert.Equal(t, "# metrics", w.Body.String())

	w = do(t, h, http.MethodPost, "/mcp", `{}`)
	assert.Equal(t, http.StatusAccepted, w.Code)

	// Tool routes are absent without a tool backend.
	w = do(t, h, http.MethodGet, "/v1/tools", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestMCPDisabled(t *testing.T) {
	mcpHandler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})
	h := New(config.ServerConfig{MCPPath: "-"}, &fakeChat{}, WithMCPHandler(mcpHandler)).Handler()
	w := do(t, h, http.MethodPost, "/mcp", `{}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCORS(t *testing.T) {
	h := New(config.ServerConfig{CORSOrigins: []string{"http://localhost:3000"}}, &fakeChat{}).Handler()

	r := httptest.NewRequest(http.MethodOptions, "/v1/chat", nil)
	r.Header.Set("Origin", "http://localhost:3000")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "http://localhost:3000", w.Header().Get("Access-Control-Allow-Origin"))

	r = httptest.NewRequest(http.MethodGet, "/health", nil)
	r.Header.Set("Origin", "http://evil.example")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, r)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

type countingLimiter struct{ left int }

func (l *countingLimiter) Allow(context.Context, string) (ratelimit.Result, error) {
	if l.left == 0 {
		return ratelimit.Result{Limit: 1, Reset: time.Now().Add(time.Minute)}, nil
	}
	l.left--
	return ratelimit.Result{Allowed: true, Limit: 1, Remaining: l.left}, nil
}

func TestRateLimit(t *testing.T) {
	h := newTestServer(&fakeChat{}, nil, WithRateLimit(&countingLimiter{left: 1}))

	assert.Equal(t, http.StatusOK, do(t, h, http.MethodPost, "/v1/chat", `{"query": "q"}`).Code)
	assert.Equal(t, http.StatusTooManyRequests, do(t, h, http.MethodPost, "/v1/chat", `{"query": "q"}`).Code)
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/health", "").Code)
}
