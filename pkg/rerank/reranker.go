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

// Package rerank reorders retrieval candidates with a relevance scorer and
// blends the scorer's opinion with the retrieval score.
package rerank

import (
	"context"
	"log/slog"
	"sort"

	"github.com/kadirpekel/finrag/pkg/retrieval"
	"github.com/kadirpekel/finrag/pkg/utils"
)

// Blend weights for FinalScore.
const (
	RetrievalWeight = 0.3
	RerankWeight    = 0.7
)

const (
	// DefaultBatchSize is how many pairs go to the scorer at once.
	DefaultBatchSize = 32

	// maxContentRunes caps each document's text in a scoring pair.
	maxContentRunes = 500
)

// Pair is one (query, passage) input to a scorer.
type Pair struct {
	Query   string
	Content string
}

// Scorer returns one relevance score in [0, 1] per pair, in order.
type Scorer interface {
	Score(ctx context.Context, pairs []Pair) ([]float64, error)
}

// Reranker implements retrieval.Reranker.
type Reranker struct {
	scorer    Scorer
	batchSize int
}

var _ retrieval.Reranker = (*Reranker)(nil)

// New returns a Reranker. A nil scorer is allowed: Rerank then keeps the
// incoming order.
func New(scorer Scorer, batchSize int) *Reranker {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Reranker{scorer: scorer, batchSize: batchSize}
}

// Rerank scores every document against query, sets RerankScore and
// FinalScore, sorts by FinalScore and keeps topK. Without a scorer, or when
// scoring fails, the first topK documents are returned unchanged.
func (r *Reranker) Rerank(ctx context.Context, query string, docs []retrieval.Document, topK int) []retrieval.Document {
	if topK <= 0 || len(docs) == 0 {
		return []retrieval.Document{}
	}
	if r == nil || r.scorer == nil {
		return identity(docs, topK)
	}

	scores, err := r.score(ctx, query, docs)
	if err != nil {
		slog.Warn("Rerank scoring failed, keeping retrieval order", "error", err, "documents", len(docs))
		return identity(docs, topK)
	}

	out := make([]retrieval.Document, len(docs))
	for i, d := range docs {
		d.RerankScore = scores[i]
		d.FinalScore = RetrievalWeight*d.Score + RerankWeight*scores[i]
		out[i] = d
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].FinalScore > out[j].FinalScore })

	if len(out) > topK {
		out = out[:topK]
	}
	return out
}

func (r *Reranker) score(ctx context.Context, query string, docs []retrieval.Document) ([]float64, error) {
	scores := make([]float64, 0, len(docs))
	for start := 0; start < len(docs); start += r.batchSize {
		end := min(start+r.batchSize, len(docs))

		pairs := make([]Pair, 0, end-start)
		for _, d := range docs[start:end] {
			pairs = append(pairs, Pair{Query: query, Content: utils.TruncateRunes(d.Content, maxContentRunes)})
		}

		batch, err := r.scorer.Score(ctx, pairs)
		if err != nil {
			return nil, err
		}
		if len(batch) != len(pairs) {
			return nil, &CountMismatchError{Want: len(pairs), Got: len(batch)}
		}
		scores = append(scores, batch...)
	}
	return scores, nil
}

func identity(docs []retrieval.Document, topK int) []retrieval.Document {
	n := min(topK, len(docs))
	out := make([]retrieval.Document, n)
	copy(out, docs[:n])
	return out
}
