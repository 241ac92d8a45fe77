package gateway

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/kadirpekel/finrag/pkg/config"
	"github.com/kadirpekel/finrag/pkg/httpclient"
)

// OpenAI talks to any OpenAI-compatible REST endpoint. DeepSeek, vLLM and
// similar servers are reached by pointing BaseURL at them.
type OpenAI struct {
	name    string
	model   string
	apiKey  string
	baseURL string
	http    *httpclient.Client
}

func NewOpenAI(pc config.ModelProviderConfig, opts ...httpclient.Option) *OpenAI {
	base := []httpclient.Option{httpclient.WithTimeout(pc.Timeout), httpclient.WithMaxRetries(1), httpclient.WithBaseDelay(transportRetryDelay)}
	return &OpenAI{
		name:    pc.Name,
		model:   pc.Model,
		apiKey:  pc.APIKey,
		baseURL: strings.TrimRight(pc.BaseURL, "/"),
		http:    httpclient.New(append(base, opts...)...),
	}
}

func (p *OpenAI) Name() string { return p.name }

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIChatRequest struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	Temperature float64         `json:"temperature"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
}

type openAIChatResponse struct {
	Choices []struct {
		Message openAIMessage `json:"message"`
	} `json:"choices"`
}

type openAIEmbeddingRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type openAIEmbeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

func (p *OpenAI) headers() map[string]string {
	return map[string]string{"Authorization": "Bearer " + p.apiKey}
}

func (p *OpenAI) Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error) {
	req := openAIChatRequest{
		Model:       p.model,
		Temperature: opts.Temperature,
		MaxTokens:   opts.MaxTokens,
	}
	if opts.SystemPrompt != "" {
		req.Messages = append(req.Messages, openAIMessage{Role: "system", Content: opts.SystemPrompt})
	}
	req.Messages = append(req.Messages, openAIMessage{Role: "user", Content: prompt})

	var resp openAIChatResponse
	if err := p.http.DoJSON(ctx, http.MethodPost, p.baseURL+"/chat/completions", p.headers(), req, &resp); err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("empty completion from %s", p.model)
	}
	return resp.Choices[0].Message.Content, nil
}

func (p *OpenAI) Embed(ctx context.Context, text string) ([]float32, error) {
	var resp openAIEmbeddingResponse
	req := openAIEmbeddingRequest{Model: p.model, Input: text}
	if err := p.http.DoJSON(ctx, http.MethodPost, p.baseURL+"/embeddings", p.headers(), req, &resp); err != nil {
		return nil, err
	}
	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		return nil, fmt.Errorf("empty embedding from %s", p.model)
	}
	return resp.Data[0].Embedding, nil
}
