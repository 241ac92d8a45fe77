package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/finrag/pkg/config"
	"github.com/kadirpekel/finrag/pkg/httpclient"
)

type fakeProvider struct {
	name  string
	out   string
	vec   []float32
	err   error
	calls int
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error) {
	f.calls++
	return f.out, f.err
}

func (f *fakeProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	f.calls++
	return f.vec, f.err
}

func TestNew_RequireProviders(t *testing.T) {
	_, err := New(RequireProviders())
	assert.ErrorIs(t, err, ErrProviderUnavailable)

	g, err := New()
	require.NoError(t, err)

	_, err = g.Generate(context.Background(), "q", GenerateOptions{})
	assert.ErrorIs(t, err, ErrProviderUnavailable)
	_, err = g.Embed(context.Background(), "q")
	assert.ErrorIs(t, err, ErrProviderUnavailable)
}

func TestGenerate_FallsBackInOrder(t *testing.T) {
	primary := &fakeProvider{name: "deepseek", err: errors.New("rate limited")}
	local := &fakeProvider{name: "ollama", out: "answer"}

	g, err := New(WithGenerators(primary, local))
	require.NoError(t, err)

	out, err := g.Generate(context.Background(), "q", GenerateOptions{Temperature: 0.3})
	require.NoError(t, err)
	assert.Equal(t, "answer", out)
	assert.Equal(t, 1, primary.calls)
	assert.Equal(t, 1, local.calls)

	gens, _ := g.Providers()
	assert.Equal(t, []string{"deepseek", "ollama"}, gens)
}

func TestGenerate_AllFailReturnsGenerationError(t *testing.T) {
	cause := errors.New("boom")
	g, err := New(WithGenerators(&fakeProvider{name: "a", err: errors.New("x")}, &fakeProvider{name: "b", err: cause}))
	require.NoError(t, err)

	_, err = g.Generate(context.Background(), "q", GenerateOptions{})
	var genErr *GenerationError
	require.ErrorAs(t, err, &genErr)
	assert.Equal(t, "b", genErr.Provider)
	assert.ErrorIs(t, err, cause)
}

func TestEmbed_FirstSuccessWins(t *testing.T) {
	a := &fakeProvider{name: "a", vec: []float32{1, 2}}
	b := &fakeProvider{name: "b", vec: []float32{3}}
	g, err := New(WithEmbedders(a, b))
	require.NoError(t, err)

	vec, err := g.Embed(context.Background(), "text")
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2}, vec)
	assert.Equal(t, 0, b.calls)
}

func TestGenerateWithRetry_RetriesGenerationErrors(t *testing.T) {
	p := &fakeProvider{name: "flaky", err: errors.New("down")}
	g, err := New(WithGenerators(p), WithRetry(3, time.Millisecond))
	require.NoError(t, err)

	_, err = g.GenerateWithRetry(context.Background(), "q", GenerateOptions{})
	require.Error(t, err)
	assert.Equal(t, 3, p.calls)

	var genErr *GenerationError
	assert.ErrorAs(t, err, &genErr)
}

func TestGenerateWithRetry_DoesNotRetryUnavailable(t *testing.T) {
	g, err := New(WithRetry(3, time.Hour))
	require.NoError(t, err)

	start := time.Now()
	_, err = g.GenerateWithRetry(context.Background(), "q", GenerateOptions{})
	assert.ErrorIs(t, err, ErrProviderUnavailable)
	assert.Less(t, time.Since(start), time.Second)
}

func TestGenerateWithRetry_ContextCancelled(t *testing.T) {
	p := &fakeProvider{name: "flaky", err: errors.New("down")}
	g, err := New(WithGenerators(p), WithRetry(3, time.Hour))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = g.GenerateWithRetry(ctx, "q", GenerateOptions{})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, p.calls)
}

func TestOpenAI_GenerateAndEmbed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer sk", r.Header.Get("Authorization"))
		switch r.URL.Path {
		case "/v1/chat/completions":
			var req openAIChatRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, "deepseek-chat", req.Model)
			require.Len(t, req.Messages, 2)
			assert.Equal(t, "system", req.Messages[0].Role)
			assert.Equal(t, 1000, req.MaxTokens)
			_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"1505亿元"}}]}`))
		case "/v1/embeddings":
			_, _ = w.Write([]byte(`{"data":[{"embedding":[0.1,0.2]}]}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	p := NewOpenAI(config.ModelProviderConfig{Name: "deepseek", Model: "deepseek-chat", APIKey: "sk", BaseURL: srv.URL + "/v1/"})

	out, err := p.Generate(context.Background(), "营收?", GenerateOptions{SystemPrompt: "sys", MaxTokens: 1000})
	require.NoError(t, err)
	assert.Equal(t, "1505亿元", out)

	vec, err := p.Embed(context.Background(), "text")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2}, vec)
}

func TestOllama_Generate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req ollamaGenerateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "/api/generate", r.URL.Path)
		assert.False(t, req.Stream)
		assert.EqualValues(t, 500, req.Options["num_predict"])
		_, _ = w.Write([]byte(`{"response":"ok"}`))
	}))
	defer srv.Close()

	p := NewOllama(config.ModelProviderConfig{Name: "ollama", Model: "qwen2.5:7b", BaseURL: srv.URL})
	out, err := p.Generate(context.Background(), "q", GenerateOptions{MaxTokens: 500})
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
}

func TestChain_HTTPProvidersFallBack(t *testing.T) {
	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer down.Close()
	up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"response":"local answer"}`))
	}))
	defer up.Close()

	g, err := New(WithGenerators(
		NewOpenAI(config.ModelProviderConfig{Name: "openai", Model: "m", APIKey: "bad", BaseURL: down.URL}, httpclient.WithMaxRetries(0)),
		NewOllama(config.ModelProviderConfig{Name: "ollama", Model: "m", BaseURL: up.URL}),
	))
	require.NoError(t, err)

	out, err := g.Generate(context.Background(), "q", GenerateOptions{})
	require.NoError(t, err)
	assert.Equal(t, "local answer", out)
}

func TestNewFromConfig_SkipsBrokenProviders(t *testing.T) {
	g, err := NewFromConfig(config.LLMConfig{
		Providers: []config.ModelProviderConfig{
			{Name: "gemini", Type: config.ProviderGemini},
			{Name: "ollama", Type: config.ProviderOllama, BaseURL: "http://localhost:11434"},
		},
		MaxRetries: 2,
	}, config.EmbedderConfig{})
	require.NoError(t, err)

	gens, embs := g.Providers()
	assert.Equal(t, []string{"ollama"}, gens)
	assert.Empty(t, embs)
	assert.Equal(t, 2, g.maxRetries)
}
