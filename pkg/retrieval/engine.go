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

// Package retrieval answers "which passages ground this question" by fusing
// a vector similarity search with a knowledge graph search and reranking
// the merged candidates.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/kadirpekel/finrag/pkg/graph"
	"github.com/kadirpekel/finrag/pkg/observability"
	"github.com/kadirpekel/finrag/pkg/vector"
)

// ErrRetrievalDegraded reports that a stage failed and the result is empty.
var ErrRetrievalDegraded = errors.New("retrieval degraded")

// Fusion weights.
const (
	VectorWeight = 0.7
	GraphWeight  = 0.3

	// graphScore is the stage score every graph hit gets.
	graphScore = 1.0

	// candidateFactor widens each stage's fetch ahead of fusion and rerank.
	candidateFactor = 2
)

// DefaultCollection is the vector collection documents live in.
const DefaultCollection = "financial_knowledge"

// Embedder is the part of the gateway retrieval needs.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Reranker reorders candidates for a query and keeps at most topK.
type Reranker interface {
	Rerank(ctx context.Context, query string, docs []Document, topK int) []Document
}

// Retriever is what the tool server and the coordinator consume.
type Retriever interface {
	Retrieve(ctx context.Context, query string, topK int, filters map[string]any, useHybrid bool) []Document
}

// Engine implements hybrid retrieval.
type Engine struct {
	embedder   Embedder
	vectors    vector.Provider
	collection string
	graph      graph.Store
	reranker   Reranker

	chunkSize    int
	chunkOverlap int

	tracer trace.Tracer
}

var _ Retriever = (*Engine)(nil)

// Option configures an Engine.
type Option func(*Engine)

// WithCollection overrides DefaultCollection.
func WithCollection(name string) Option {
	return func(e *Engine) {
		if name != "" {
			e.collection = name
		}
	}
}

// WithGraph enables the graph half of hybrid search.
func WithGraph(g graph.Store) Option {
	return func(e *Engine) { e.graph = g }
}

// WithReranker sets the reranker. Without one, fused results are truncated.
func WithReranker(r Reranker) Option {
	return func(e *Engine) { e.reranker = r }
}

// WithChunking sets ingest chunk size and overlap, in runes.
func WithChunking(size, overlap int) Option {
	return func(e *Engine) {
		if size > 0 {
			e.chunkSize = size
		}
		if overlap >= 0 {
			e.chunkOverlap = overlap
		}
	}
}

func New(embedder Embedder, vectors vector.Provider, opts ...Option) *Engine {
	e := &Engine{
		embedder:     embedder,
		vectors:      vectors,
		collection:   DefaultCollection,
		chunkSize:    800,
		chunkOverlap: 100,
		tracer:       observability.GetTracer("finrag/retrieval"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Retrieve returns at most topK documents. Failures are logged and yield an
// empty slice; callers treat that as "no grounding".
func (e *Engine) Retrieve(ctx context.Context, query string, topK int, filters map[string]any, useHybrid bool) []Document {
	docs, _ := e.RetrieveWithStatus(ctx, query, topK, filters, useHybrid)
	return docs
}

// RetrieveWithStatus is Retrieve that also reports ErrRetrievalDegraded
// when a stage failed.
func (e *Engine) RetrieveWithStatus(ctx context.Context, query string, topK int, filters map[string]any, useHybrid bool) ([]Document, error) {
	if topK < 1 {
		topK = 1
	}
	hybrid := useHybrid && e.graph != nil
	mode := "vector"
	if hybrid {
		mode = "hybrid"
	}

	ctx, span := e.tracer.Start(ctx, observability.SpanRetrieve, trace.WithAttributes(
		attribute.Int(observability.AttrTopK, topK),
		attribute.String("finrag.retrieval.mode", mode),
	))
	defer span.End()
	start := time.Now()

	docs, err := e.retrieve(ctx, query, topK, NormalizeFilters(filters), hybrid)
	degraded := err != nil
	if degraded {
		slog.Error("Retrieval failed", "mode", mode, "error", err)
		span.RecordError(err)
		docs = []Document{}
		err = fmt.Errorf("%w: %w", ErrRetrievalDegraded, err)
	}

	span.SetAttributes(
		attribute.Int(observability.AttrResults, len(docs)),
		attribute.Bool(observability.AttrDegraded, degraded),
	)
	observability.GetGlobalMetrics().RecordRetrieval(ctx, mode, time.Since(start), len(docs), degraded)
	return docs, err
}

func (e *Engine) retrieve(ctx context.Context, query string, topK int, filters map[string]any, hybrid bool) ([]Document, error) {
	k := topK * candidateFactor

	if !hybrid {
		docs, err := e.vectorSearch(ctx, query, k, filters)
		if err != nil {
			return nil, err
		}
		return truncate(docs, topK), nil
	}

	var vectorDocs, graphDocs []Document
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		vectorDocs, err = e.vectorSearch(gctx, query, k, filters)
		return err
	})
	g.Go(func() error {
		var err error
		graphDocs, err = e.graphSearch(gctx, query, k, filters)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	fused := Fuse(vectorDocs, graphDocs)
	if e.reranker == nil {
		return truncate(fused, topK), nil
	}

	rctx, span := e.tracer.Start(ctx, observability.SpanRerank)
	defer span.End()
	return e.reranker.Rerank(rctx, query, fused, topK), nil
}

// vectorSearch embeds the query and searches the collection under filters.
func (e *Engine) vectorSearch(ctx context.Context, query string, k int, filters map[string]any) ([]Document, error) {
	vec, err := e.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	results, err := e.vectors.Search(ctx, e.collection, vec, k, filters)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}

	docs := make([]Document, 0, len(results))
	for _, r := range results {
		docs = append(docs, Document{
			ID:       r.ID,
			Content:  r.Content,
			Source:   sourceOf(r.Metadata, "vector"),
			Score:    float64(r.Score),
			Metadata: r.Metadata,
		})
	}
	return docs, nil
}

func (e *Engine) graphSearch(ctx context.Context, query string, k int, filters map[string]any) ([]Document, error) {
	entities, err := e.graph.Search(ctx, query, k, filters)
	if err != nil {
		return nil, fmt.Errorf("graph search: %w", err)
	}

	docs := make([]Document, 0, len(entities))
	for _, ent := range entities {
		meta := make(map[string]any, len(ent.Properties)+1)
		for key, v := range ent.Properties {
			meta[key] = v
		}
		meta["entity_type"] = ent.Type
		docs = append(docs, Document{
			ID:       ent.ID,
			Content:  ent.Content(),
			Source:   sourceOf(ent.Properties, "graph:"+ent.Type),
			Score:    graphScore,
			Metadata: meta,
		})
	}
	return docs, nil
}

// Fuse merges vector and graph hits. IDs are unique in the output, the first
// occurrence wins with vector hits considered first, and hits without an ID
// are dropped. Each score becomes its stage weight times the stage score.
func Fuse(vectorDocs, graphDocs []Document) []Document {
	seen := make(map[string]struct{}, len(vectorDocs)+len(graphDocs))
	out := make([]Document, 0, len(vectorDocs)+len(graphDocs))

	add := func(docs []Document, weight float64) {
		for _, d := range docs {
			if d.ID == "" {
				continue
			}
			if _, dup := seen[d.ID]; dup {
				continue
			}
			seen[d.ID] = struct{}{}
			d.Score *= weight
			out = append(out, d)
		}
	}
	add(vectorDocs, VectorWeight)
	add(graphDocs, GraphWeight)

	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

func truncate(docs []Document, n int) []Document {
	if len(docs) > n {
		return docs[:n]
	}
	return docs
}

func sourceOf(meta map[string]any, fallback string) string {
	if s, ok := meta["source"].(string); ok && s != "" {
		return s
	}
	return fallback
}
