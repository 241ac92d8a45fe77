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

// Package gateway gives the rest of finrag one way to embed text and to
// generate completions, backed by ordered chains of model providers.
//
// Providers are tried in the order they were configured. The first one that
// answers wins; every failed attempt is logged with the provider name.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/kadirpekel/finrag/pkg/config"
	"github.com/kadirpekel/finrag/pkg/httpclient"
	"github.com/kadirpekel/finrag/pkg/observability"
)

// GenerateOptions controls a single generation call.
type GenerateOptions struct {
	Temperature  float64
	MaxTokens    int
	SystemPrompt string
}

// Embedder turns text into a vector.
type Embedder interface {
	Name() string
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Generator produces a completion for a prompt.
type Generator interface {
	Name() string
	Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error)
}

// Service is the capability surface consumed by retrieval, services and the coordinator.
type Service interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error)
	GenerateWithRetry(ctx context.Context, prompt string, opts GenerateOptions) (string, error)
}

// Gateway implements Service over ordered provider chains.
type Gateway struct {
	embedders  []Embedder
	generators []Generator

	maxRetries int
	baseDelay  time.Duration
	require    bool

	tracer trace.Tracer
}

var _ Service = (*Gateway)(nil)

// Option configures a Gateway.
type Option func(*Gateway)

// WithEmbedders appends embedding providers in fallback order.
func WithEmbedders(e ...Embedder) Option {
	return func(g *Gateway) { g.embedders = append(g.embedders, e...) }
}

// WithGenerators appends generation providers in fallback order.
func WithGenerators(gen ...Generator) Option {
	return func(g *Gateway) { g.generators = append(g.generators, gen...) }
}

// WithRetry sets the GenerateWithRetry attempt count and base backoff.
func WithRetry(maxRetries int, baseDelay time.Duration) Option {
	return func(g *Gateway) {
		if maxRetries > 0 {
			g.maxRetries = maxRetries
		}
		if baseDelay > 0 {
			g.baseDelay = baseDelay
		}
	}
}

// RequireProviders makes New fail when both chains are empty.
func RequireProviders() Option {
	return func(g *Gateway) { g.require = true }
}

func New(opts ...Option) (*Gateway, error) {
	g := &Gateway{
		maxRetries: 3,
		baseDelay:  time.Second,
		tracer:     observability.GetTracer("finrag/gateway"),
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.require && len(g.embedders) == 0 && len(g.generators) == 0 {
		return nil, fmt.Errorf("no embedding or generation provider configured: %w", ErrProviderUnavailable)
	}
	return g, nil
}

// NewFromConfig builds both chains from configuration. A provider that
// cannot be constructed is skipped with a warning so the rest of the chain
// stays usable.
func NewFromConfig(llm config.LLMConfig, emb config.EmbedderConfig, opts ...Option) (*Gateway, error) {
	var gens []Generator
	for _, pc := range llm.Providers {
		p, err := newProvider(pc)
		if err != nil {
			slog.Warn("Skipping generation provider", "provider", pc.Name, "error", err)
			continue
		}
		gens = append(gens, p)
	}

	var embs []Embedder
	for _, pc := range emb.Providers {
		p, err := newProvider(pc)
		if err != nil {
			slog.Warn("Skipping embedding provider", "provider", pc.Name, "error", err)
			continue
		}
		embs = append(embs, p)
	}

	base := []Option{
		WithGenerators(gens...),
		WithEmbedders(embs...),
		WithRetry(llm.MaxRetries, llm.RetryBaseDelay),
	}
	return New(append(base, opts...)...)
}

// provider is implemented by every built-in backend.
type provider interface {
	Embedder
	Generator
}

func newProvider(pc config.ModelProviderConfig) (provider, error) {
	switch pc.Type {
	case config.ProviderOpenAI:
		return NewOpenAI(pc, tlsOptions(pc)...), nil
	case config.ProviderOllama:
		return NewOllama(pc, tlsOptions(pc)...), nil
	case config.ProviderGemini:
		return NewGemini(context.Background(), pc)
	default:
		return nil, fmt.Errorf("unknown provider type %q", pc.Type)
	}
}

// transportRetryDelay spaces the single transport-level retry of REST
// providers; chain-level backoff is GenerateWithRetry's job.
const transportRetryDelay = 500 * time.Millisecond

func tlsOptions(pc config.ModelProviderConfig) []httpclient.Option {
	if pc.CACertificate == "" && !pc.InsecureSkipVerify {
		return nil
	}
	return []httpclient.Option{httpclient.WithTLSConfig(&httpclient.TLSConfig{
		CACertificate:      pc.CACertificate,
		InsecureSkipVerify: pc.InsecureSkipVerify,
	})}
}

// Providers lists the generation chain then the embedding chain, in order.
func (g *Gateway) Providers() (generators, embedders []string) {
	for _, p := range g.generators {
		generators = append(generators, p.Name())
	}
	for _, p := range g.embedders {
		embedders = append(embedders, p.Name())
	}
	return generators, embedders
}

// Embed returns the first successful embedding in chain order.
func (g *Gateway) Embed(ctx context.Context, text string) ([]float32, error) {
	if len(g.embedders) == 0 {
		return nil, ErrProviderUnavailable
	}

	var lastErr error
	for _, p := range g.embedders {
		vec, err := callProvider(ctx, g.tracer, observability.SpanEmbed, p.Name(), "embed", func(ctx context.Context) ([]float32, error) {
			return p.Embed(ctx, text)
		})
		if err == nil {
			return vec, nil
		}
		slog.Warn("Embedding provider failed", "provider", p.Name(), "error", err)
		lastErr = &GenerationError{Provider: p.Name(), Err: err}
		if ctx.Err() != nil {
			break
		}
	}
	return nil, lastErr
}

// Generate returns the first successful completion in chain order.
func (g *Gateway) Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error) {
	if len(g.generators) == 0 {
		return "", ErrProviderUnavailable
	}

	var lastErr error
	for _, p := range g.generators {
		out, err := callProvider(ctx, g.tracer, observability.SpanGenerate, p.Name(), "generate", func(ctx context.Context) (string, error) {
			return p.Generate(ctx, prompt, opts)
		})
		if err == nil {
			return out, nil
		}
		slog.Warn("Generation provider failed", "provider", p.Name(), "error", err)
		lastErr = &GenerationError{Provider: p.Name(), Err: err}
		if ctx.Err() != nil {
			break
		}
	}
	return "", lastErr
}

// GenerateWithRetry runs Generate up to maxRetries times, sleeping
// baseDelay*2^attempt between attempts. Only GenerationError is retried.
func (g *Gateway) GenerateWithRetry(ctx context.Context, prompt string, opts GenerateOptions) (string, error) {
	var lastErr error
	for attempt := 0; attempt < g.maxRetries; attempt++ {
		out, err := g.Generate(ctx, prompt, opts)
		if err == nil {
			return out, nil
		}

		var genErr *GenerationError
		if !errors.As(err, &genErr) {
			return "", err
		}
		lastErr = err

		if attempt == g.maxRetries-1 {
			break
		}

		delay := g.baseDelay * time.Duration(1<<attempt)
		slog.Info("Retrying generation", "attempt", attempt+1, "max", g.maxRetries, "delay", delay, "error", err)

		select {
		case <-ctx.Done():
			return "", fmt.Errorf("generation retry cancelled: %w", ctx.Err())
		case <-time.After(delay):
		}
	}
	return "", fmt.Errorf("generation failed after %d attempts: %w", g.maxRetries, lastErr)
}

func callProvider[T any](ctx context.Context, tracer trace.Tracer, span, provider, operation string, fn func(context.Context) (T, error)) (T, error) {
	ctx, s := tracer.Start(ctx, span, trace.WithAttributes(attribute.String(observability.AttrProvider, provider)))
	defer s.End()

	start := time.Now()
	out, err := fn(ctx)
	observability.GetGlobalMetrics().RecordLLMCall(ctx, provider, operation, time.Since(start), err)

	if err != nil {
		s.RecordError(err)
		s.SetStatus(codes.Error, err.Error())
	}
	return out, err
}
