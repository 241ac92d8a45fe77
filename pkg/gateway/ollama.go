package gateway

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/kadirpekel/finrag/pkg/config"
	"github.com/kadirpekel/finrag/pkg/httpclient"
)

// Ollama's runner crashes on concurrent embedding requests, so they are serialised.
var ollamaEmbedMu sync.Mutex

// Ollama talks to a local Ollama server. It is the usual last entry of a chain.
type Ollama struct {
	name    string
	model   string
	baseURL string
	http    *httpclient.Client
}

func NewOllama(pc config.ModelProviderConfig, opts ...httpclient.Option) *Ollama {
	base := []httpclient.Option{httpclient.WithTimeout(pc.Timeout), httpclient.WithMaxRetries(1), httpclient.WithBaseDelay(transportRetryDelay)}
	return &Ollama{
		name:    pc.Name,
		model:   pc.Model,
		baseURL: strings.TrimRight(pc.BaseURL, "/"),
		http:    httpclient.New(append(base, opts...)...),
	}
}

func (p *Ollama) Name() string { return p.name }

type ollamaGenerateRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	System  string         `json:"system,omitempty"`
	Stream  bool           `json:"stream"`
	Options map[string]any `json:"options,omitempty"`
}

type ollamaGenerateResponse struct {
	Response string `json:"response"`
}

type ollamaEmbedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaEmbedResponse struct {
	Embedding []float32 `json:"embedding"`
}

func (p *Ollama) Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error) {
	req := ollamaGenerateRequest{
		Model:  p.model,
		Prompt: prompt,
		System: opts.SystemPrompt,
		Options: map[string]any{
			"temperature": opts.Temperature,
		},
	}
	if opts.MaxTokens > 0 {
		req.Options["num_predict"] = opts.MaxTokens
	}

	var resp ollamaGenerateResponse
	if err := p.http.DoJSON(ctx, http.MethodPost, p.baseURL+"/api/generate", nil, req, &resp); err != nil {
		return "", err
	}
	return resp.Response, nil
}

func (p *Ollama) Embed(ctx context.Context, text string) ([]float32, error) {
	ollamaEmbedMu.Lock()
	defer ollamaEmbedMu.Unlock()

	var resp ollamaEmbedResponse
	if err := p.http.DoJSON(ctx, http.MethodPost, p.baseURL+"/api/embeddings", nil, ollamaEmbedRequest{Model: p.model, Prompt: text}, &resp); err != nil {
		return nil, err
	}
	if len(resp.Embedding) == 0 {
		return nil, fmt.Errorf("received empty embedding from ollama")
	}
	return resp.Embedding, nil
}
