package rerank

import (
	"fmt"

	"github.com/kadirpekel/finrag/pkg/config"
)

// FromConfig builds the configured reranker. Type "none" yields a Reranker
// with no scorer, which keeps retrieval order.
func FromConfig(cfg config.RerankerConfig, llm Generator) (*Reranker, error) {
	switch cfg.Type {
	case "", "none":
		return New(nil, cfg.BatchSize), nil
	case "http":
		return New(NewHTTPScorer(cfg.BaseURL, cfg.Model, cfg.APIKey, cfg.Timeout), cfg.BatchSize), nil
	case "llm":
		if llm == nil {
			return nil, fmt.Errorf("llm reranker needs a generation provider")
		}
		return New(NewLLMScorer(llm), cfg.BatchSize), nil
	default:
		return nil, fmt.Errorf("unknown reranker type %q", cfg.Type)
	}
}
