package rerank

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/finrag/pkg/config"
	"github.com/kadirpekel/finrag/pkg/gateway"
	"github.com/kadirpekel/finrag/pkg/httpclient"
	"github.com/kadirpekel/finrag/pkg/retrieval"
)

type funcScorer struct {
	calls   int
	batches []int
	fn      func(pairs []Pair) ([]float64, error)
}

func (f *funcScorer) Score(_ context.Context, pairs []Pair) ([]float64, error) {
	f.calls++
	f.batches = append(f.batches, len(pairs))
	return f.fn(pairs)
}

func docs(scores ...float64) []retrieval.Document {
	out := make([]retrieval.Document, len(scores))
	for i, s := range scores {
		out[i] = retrieval.Document{ID: string(rune('a' + i)), Content: strings.Repeat("x", i+1), Score: s}
	}
	return out
}

func TestRerank_BlendsAndSorts(t *testing.T) {
	// Longer content scores higher.
	scorer := &funcScorer{fn: func(pairs []Pair) ([]float64, error) {
		out := make([]float64, len(pairs))
		for i, p := range pairs {
			out[i] = float64(len(p.Content)) * 0.3
		}
		return out, nil
	}}
	r := New(scorer, 0)

	got := r.Rerank(context.Background(), "q", docs(0.9, 0.5, 0.1), 2)
	require.Len(t, got, 2)

	assert.Equal(t, "c", got[0].ID)
	assert.InDelta(t, 0.9, got[0].RerankScore, 1e-9)
	assert.InDelta(t, 0.3*0.1+0.7*0.9, got[0].FinalScore, 1e-9)
	assert.Equal(t, "b", got[1].ID)
	assert.InDelta(t, 0.3*0.5+0.7*0.6, got[1].FinalScore, 1e-9)
	assert.InDelta(t, 0.5, got[1].Score, 1e-9, "retrieval score is preserved")
}

func TestRerank_NilScorerIsIdentity(t *testing.T) {
	in := docs(0.1, 0.9, 0.5)
	got := New(nil, 0).Rerank(context.Background(), "q", in, 2)

	require.Len(t, got, 2)
	assert.Equal(t, in[:2], got)
	assert.Zero(t, got[0].FinalScore)

	var nilReranker *Reranker
	assert.Len(t, nilReranker.Rerank(context.Background(), "q", in, 5), 3)
}

func TestRerank_ScorerFailureDegrades(t *testing.T) {
	tests := []struct {
		name string
		fn   func(pairs []Pair) ([]float64, error)
	}{
		{"error", func([]Pair) ([]float64, error) { return nil, errors.New("model offline") }},
		{"short", func([]Pair) ([]float64, error) { return []float64{0.5}, nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := docs(0.3, 0.2, 0.1)
			got := New(&funcScorer{fn: tt.fn}, 0).Rerank(context.Background(), "q", in, 2)
			assert.Equal(t, in[:2], got)
		})
	}
}

func TestRerank_Batches(t *testing.T) {
	scorer := &funcScorer{fn: func(pairs []Pair) ([]float64, error) {
		return make([]float64, len(pairs)), nil
	}}
	in := make([]retrieval.Document, 70)
	for i := range in {
		in[i] = retrieval.Document{ID: string(rune('A' + i))}
	}

	got := New(scorer, 32).Rerank(context.Background(), "q", in, 10)
	assert.Len(t, got, 10)
	assert.Equal(t, []int{32, 32, 6}, scorer.batches)
}

func TestRerank_TruncatesContent(t *testing.T) {
	var longest int
	scorer := &funcScorer{fn: func(pairs []Pair) ([]float64, error) {
		for _, p := range pairs {
			longest = max(longest, utf8.RuneCountInString(p.Content))
		}
		return make([]float64, len(pairs)), nil
	}}
	in := []retrieval.Document{{ID: "long", Content: strings.Repeat("营", 2000)}}

	New(scorer, 0).Rerank(context.Background(), "营收", in, 1)
	assert.Equal(t, maxContentRunes, longest)
}

func TestRerank_EmptyInputs(t *testing.T) {
	r := New(&funcScorer{fn: func([]Pair) ([]float64, error) { return nil, nil }}, 0)
	assert.Empty(t, r.Rerank(context.Background(), "q", nil, 3))
	assert.Empty(t, r.Rerank(context.Background(), "q", docs(1), 0))
}

func TestHTTPScorer(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.Equal(t, "/rerank", r.URL.Path)
		assert.Equal(t, "Bearer k", r.Header.Get("Authorization"))

		var req rerankRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "营收", req.Query)
		assert.Equal(t, []string{"a", "b"}, req.Documents)

		// Out of order, one raw logit.
		_, _ = w.Write([]byte(`{"results":[{"index":1,"relevance_score":0.2},{"index":0,"score":3.0}]}`))
	}))
	defer srv.Close()

	s := NewHTTPScorer(srv.URL+"/", "bge", "k", time.Second)
	scores, err := s.Score(context.Background(), []Pair{{Query: "营收", Content: "a"}, {Query: "营收", Content: "b"}})
	require.NoError(t, err)
	require.Len(t, scores, 2)
	assert.InDelta(t, 0.9526, scores[0], 1e-3)
	assert.InDelta(t, 0.2, scores[1], 1e-9)
	assert.EqualValues(t, 1, hits.Load())
}

func TestHTTPScorer_ErrorsDegradeReranker(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	s := NewHTTPScorer(srv.URL, "", "", time.Second, httpclient.WithMaxRetries(0))
	_, err := s.Score(context.Background(), []Pair{{Query: "q", Content: "c"}})
	require.Error(t, err)

	in := docs(0.5, 0.4)
	assert.Equal(t, in, New(s, 0).Rerank(context.Background(), "q", in, 5))
}

type stubLLM struct {
	resp   string
	err    error
	prompt string
	opts   gateway.GenerateOptions
}

func (s *stubLLM) Generate(_ context.Context, prompt string, opts gateway.GenerateOptions) (string, error) {
	s.prompt, s.opts = prompt, opts
	return s.resp, s.err
}

func TestLLMScorer(t *testing.T) {
	llm := &stubLLM{resp: "评分如下：\n```json\n[0.8, 1.4, -0.2]\n```"}
	scores, err := NewLLMScorer(llm).Score(context.Background(), []Pair{
		{Query: "茅台营收", Content: "p1"}, {Query: "茅台营收", Content: "p2"}, {Query: "茅台营收", Content: "p3"},
	})
	require.NoError(t, err)
	assert.Equal(t, []float64{0.8, 1, 0}, scores)
	assert.Contains(t, llm.prompt, "茅台营收")
	assert.Contains(t, llm.prompt, "段落 3")
	assert.Zero(t, llm.opts.Temperature)

	llm.resp = "无法评分"
	_, err = NewLLMScorer(llm).Score(context.Background(), []Pair{{Query: "q", Content: "c"}})
	assert.Error(t, err)

	llm.resp = "[0.5]"
	_, err = NewLLMScorer(llm).Score(context.Background(), []Pair{{Query: "q", Content: "c"}, {Query: "q", Content: "d"}})
	var mismatch *CountMismatchError
	assert.ErrorAs(t, err, &mismatch)
}

func TestFromConfig(t *testing.T) {
	r, err := FromConfig(config.RerankerConfig{Type: "none"}, nil)
	require.NoError(t, err)
	assert.Nil(t, r.scorer)
	assert.Equal(t, DefaultBatchSize, r.batchSize)

	r, err = FromConfig(config.RerankerConfig{Type: "http", BaseURL: "http://x", BatchSize: 8}, nil)
	require.NoError(t, err)
	assert.IsType(t, &HTTPScorer{}, r.scorer)
	assert.Equal(t, 8, r.batchSize)

	_, err = FromConfig(config.RerankerConfig{Type: "llm"}, nil)
	assert.Error(t, err)

	r, err = FromConfig(config.RerankerConfig{Type: "llm"}, &stubLLM{})
	require.NoError(t, err)
	assert.IsType(t, &LLMScorer{}, r.scorer)

	_, err = FromConfig(config.RerankerConfig{Type: "bm25"}, nil)
	assert.Error(t, err)
}
