package config

import "fmt"

// VectorConfig selects the vector store backing semantic search.
type VectorConfig struct {
	// Type is "chromem" (embedded, default), "qdrant" or "pinecone".
	Type string `yaml:"type,omitempty"`

	// Collection holds the knowledge chunks.
	Collection string `yaml:"collection,omitempty"`

	// Host for qdrant, or the index host for pinecone.
	Host string `yaml:"host,omitempty"`

	// Port for qdrant (gRPC).
	Port int `yaml:"port,omitempty"`

	APIKey    string `yaml:"api_key,omitempty"`
	EnableTLS *bool  `yaml:"enable_tls,omitempty"`

	// PersistPath for chromem file persistence. Empty keeps vectors in memory.
	PersistPath string `yaml:"persist_path,omitempty"`
	Compress    bool   `yaml:"compress,omitempty"`

	// IndexName and Namespace for pinecone.
	IndexName string `yaml:"index_name,omitempty"`
	Namespace string `yaml:"namespace,omitempty"`
}

func (c *VectorConfig) SetDefaults() {
	if c.Type == "" {
		c.Type = "chromem"
	}
	if c.Collection == "" {
		c.Collection = "financial_knowledge"
	}
	if c.Type == "qdrant" {
		if c.Host == "" {
			c.Host = "localhost"
		}
		if c.Port == 0 {
			c.Port = 6334
		}
	}
}

func (c *VectorConfig) Validate() error {
	switch c.Type {
	case "chromem":
	case "qdrant":
		if c.Host == "" {
			return fmt.Errorf("host is required for qdrant")
		}
	case "pinecone":
		if c.APIKey == "" {
			return fmt.Errorf("api_key is required for pinecone")
		}
		if c.IndexName == "" && c.Host == "" {
			return fmt.Errorf("index_name or host is required for pinecone")
		}
	default:
		return fmt.Errorf("invalid type %q (valid: chromem, qdrant, pinecone)", c.Type)
	}
	return nil
}

// TLSEnabled reports whether TLS was requested.
func (c *VectorConfig) TLSEnabled() bool {
	return c.EnableTLS != nil && *c.EnableTLS
}
