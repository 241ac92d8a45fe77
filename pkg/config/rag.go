package config

import (
	"fmt"
	"time"
)

// RerankerConfig selects the cross-encoder used after fusion.
//
//	reranker:
//	  type: http
//	  base_url: http://localhost:8080
//	  model: BAAI/bge-reranker-base
type RerankerConfig struct {
	// Type is "none" (default), "http" or "llm".
	Type      string        `yaml:"type,omitempty"`
	BaseURL   string        `yaml:"base_url,omitempty"`
	Model     string        `yaml:"model,omitempty"`
	APIKey    string        `yaml:"api_key,omitempty"`
	BatchSize int           `yaml:"batch_size,omitempty"`
	Timeout   time.Duration `yaml:"timeout,omitempty"`
}

func (c *RerankerConfig) SetDefaults() {
	if c.Type == "" {
		c.Type = "none"
	}
	if c.BatchSize == 0 {
		c.BatchSize = 32
	}
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}
}

func (c *RerankerConfig) Validate() error {
	switch c.Type {
	case "none", "llm":
	case "http":
		if c.BaseURL == "" {
			return fmt.Errorf("base_url is required for http reranker")
		}
	default:
		return fmt.Errorf("invalid type %q (valid: none, http, llm)", c.Type)
	}
	if c.BatchSize < 1 {
		return fmt.Errorf("batch_size must be at least 1")
	}
	return nil
}

// RetrievalConfig configures the retrieval engine and ingestion chunking.
type RetrievalConfig struct {
	TopK int `yaml:"top_k,omitempty"`

	// Hybrid enables graph search alongside vector search. Defaults to true.
	Hybrid *bool `yaml:"hybrid,omitempty"`

	ChunkSize    int `yaml:"chunk_size,omitempty"`
	ChunkOverlap int `yaml:"chunk_overlap,omitempty"`
}

func (c *RetrievalConfig) SetDefaults() {
	if c.TopK == 0 {
		c.TopK = 10
	}
	if c.Hybrid == nil {
		t := true
		c.Hybrid = &t
	}
	if c.ChunkSize == 0 {
		c.ChunkSize = 800
	}
	if c.ChunkOverlap == 0 {
		c.ChunkOverlap = 100
	}
}

func (c *RetrievalConfig) Validate() error {
	if c.TopK < 1 {
		return fmt.Errorf("top_k must be at least 1")
	}
	if c.ChunkOverlap >= c.ChunkSize {
		return fmt.Errorf("chunk_overlap (%d) must be smaller than chunk_size (%d)", c.ChunkOverlap, c.ChunkSize)
	}
	return nil
}

// HybridEnabled reports whether graph search runs alongside vector search.
func (c *RetrievalConfig) HybridEnabled() bool {
	return c.Hybrid == nil || *c.Hybrid
}
