package gateway

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/kadirpekel/finrag/pkg/config"
)

// Gemini uses the official genai SDK against the Gemini API.
type Gemini struct {
	name   string
	model  string
	client *genai.Client
}

func NewGemini(ctx context.Context, pc config.ModelProviderConfig) (*Gemini, error) {
	if pc.APIKey == "" {
		return nil, fmt.Errorf("API key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  pc.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	return &Gemini{name: pc.Name, model: pc.Model, client: client}, nil
}

func (p *Gemini) Name() string { return p.name }

func (p *Gemini) Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error) {
	cfg := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(float32(opts.Temperature)),
	}
	if opts.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(opts.MaxTokens)
	}
	if opts.SystemPrompt != "" {
		cfg.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: opts.SystemPrompt}}}
	}

	resp, err := p.client.Models.GenerateContent(ctx, p.model, genai.Text(prompt), cfg)
	if err != nil {
		return "", fmt.Errorf("gemini generation failed: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", fmt.Errorf("empty completion from %s", p.model)
	}

	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part.Text != "" && !part.Thought {
			sb.WriteString(part.Text)
		}
	}
	return sb.String(), nil
}

func (p *Gemini) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := p.client.Models.EmbedContent(ctx, p.model, genai.Text(text), nil)
	if err != nil {
		return nil, fmt.Errorf("gemini embedding failed: %w", err)
	}
	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Values) == 0 {
		return nil, fmt.Errorf("empty embedding from %s", p.model)
	}
	return resp.Embeddings[0].Values, nil
}
