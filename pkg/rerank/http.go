package rerank

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/kadirpekel/finrag/pkg/httpclient"
)

// HTTPScorer calls a cross-encoder rerank server: POST {base}/rerank with
// {query, documents} and a {results: [{index, relevance_score}]} reply.
// Text-embeddings-inference, Jina and Cohere style servers speak this shape.
type HTTPScorer struct {
	baseURL string
	model   string
	apiKey  string
	http    *httpclient.Client
}

func NewHTTPScorer(baseURL, model, apiKey string, timeout time.Duration, opts ...httpclient.Option) *HTTPScorer {
	base := []httpclient.Option{httpclient.WithTimeout(timeout), httpclient.WithMaxRetries(2)}
	return &HTTPScorer{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		apiKey:  apiKey,
		http:    httpclient.New(append(base, opts...)...),
	}
}

type rerankRequest struct {
	Model     string   `json:"model,omitempty"`
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
}

type rerankResponse struct {
	Results []struct {
		Index          int      `json:"index"`
		RelevanceScore *float64 `json:"relevance_score"`
		Score          *float64 `json:"score"`
	} `json:"results"`
}

func (s *HTTPScorer) Score(ctx context.Context, pairs []Pair) ([]float64, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	req := rerankRequest{Model: s.model, Query: pairs[0].Query, Documents: make([]string, len(pairs))}
	for i, p := range pairs {
		req.Documents[i] = p.Content
	}

	var headers map[string]string
	if s.apiKey != "" {
		headers = map[string]string{"Authorization": "Bearer " + s.apiKey}
	}

	var resp rerankResponse
	if err := s.http.DoJSON(ctx, http.MethodPost, s.baseURL+"/rerank", headers, req, &resp); err != nil {
		return nil, fmt.Errorf("rerank request failed: %w", err)
	}

	scores := make([]float64, len(pairs))
	filled := 0
	for _, r := range resp.Results {
		if r.Index < 0 || r.Index >= len(pairs) {
			return nil, fmt.Errorf("rerank result index %d out of range", r.Index)
		}
		var v float64
		switch {
		case r.RelevanceScore != nil:
			v = *r.RelevanceScore
		case r.Score != nil:
			v = *r.Score
		}
		scores[r.Index] = normalize(v)
		filled++
	}
	if filled != len(pairs) {
		return nil, &CountMismatchError{Want: len(pairs), Got: filled}
	}
	return scores, nil
}

// normalize maps raw cross-encoder logits into [0, 1].
func normalize(v float64) float64 {
	if v >= 0 && v <= 1 {
		return v
	}
	return 1 / (1 + math.Exp(-v))
}
