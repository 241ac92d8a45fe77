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

package config

import (
	"fmt"
	"os"
	"time"
)

// ProviderType identifies a model backend.
type ProviderType string

const (
	ProviderOpenAI ProviderType = "openai"
	ProviderOllama ProviderType = "ollama"
	ProviderGemini ProviderType = "gemini"
)

// ModelProviderConfig configures one entry of a provider chain.
// OpenAI-compatible servers (DeepSeek, vLLM, ...) use type openai with a base_url.
type ModelProviderConfig struct {
	Name    string        `yaml:"name,omitempty"`
	Type    ProviderType  `yaml:"type"`
	Model   string        `yaml:"model,omitempty"`
	APIKey  string        `yaml:"api_key,omitempty"`
	BaseURL string        `yaml:"base_url,omitempty"`
	Timeout time.Duration `yaml:"timeout,omitempty"`

	// Dimension is the embedding width; used to size vector collections.
	Dimension int `yaml:"dimension,omitempty"`

	// CACertificate and InsecureSkipVerify apply to REST providers behind
	// private gateways.
	CACertificate      string `yaml:"ca_certificate,omitempty"`
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify,omitempty"`
}

func (c *ModelProviderConfig) SetDefaults(embedding bool) {
	if c.Name == "" {
		c.Name = string(c.Type)
	}
	if c.Timeout == 0 {
		c.Timeout = 60 * time.Second
	}
	switch c.Type {
	case ProviderOpenAI:
		if c.BaseURL == "" {
			c.BaseURL = "https://api.openai.com/v1"
		}
		if c.Model == "" {
			if embedding {
				c.Model = "text-embedding-3-small"
			} else {
				c.Model = "gpt-4o-mini"
			}
		}
		if embedding && c.Dimension == 0 {
			c.Dimension = 1536
		}
	case ProviderOllama:
		if c.BaseURL == "" {
			c.BaseURL = "http://localhost:11434"
		}
		if c.Model == "" {
			if embedding {
				c.Model = "nomic-embed-text"
			} else {
				c.Model = "qwen2.5:7b"
			}
		}
		if embedding && c.Dimension == 0 {
			c.Dimension = 768
		}
	case ProviderGemini:
		if c.Model == "" {
			if embedding {
				c.Model = "text-embedding-004"
			} else {
				c.Model = "gemini-2.0-flash"
			}
		}
		if embedding && c.Dimension == 0 {
			c.Dimension = 768
		}
	}
}

func (c *ModelProviderConfig) Validate() error {
	switch c.Type {
	case ProviderOpenAI, ProviderGemini:
		if c.APIKey == "" {
			return fmt.Errorf("%s: api_key is required", c.Name)
		}
	case ProviderOllama:
	default:
		return fmt.Errorf("%s: invalid type %q (valid: openai, ollama, gemini)", c.Name, c.Type)
	}
	return nil
}

// LLMConfig is the ordered generation chain. The first provider that answers wins.
//
//	llm:
//	  providers:
//	    - type: openai
//	      api_key: ${OPENAI_API_KEY}
//	    - name: deepseek
//	      type: openai
//	      base_url: https://api.deepseek.com/v1
//	      model: deepseek-chat
//	      api_key: ${DEEPSEEK_API_KEY}
//	    - type: ollama
type LLMConfig struct {
	Providers      []ModelProviderConfig `yaml:"providers,omitempty"`
	MaxRetries     int                   `yaml:"max_retries,omitempty"`
	RetryBaseDelay time.Duration         `yaml:"retry_base_delay,omitempty"`
}

func (c *LLMConfig) SetDefaults() {
	if len(c.Providers) == 0 {
		c.Providers = providersFromEnv()
	}
	for i := range c.Providers {
		c.Providers[i].SetDefaults(false)
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.RetryBaseDelay == 0 {
		c.RetryBaseDelay = time.Second
	}
}

func (c *LLMConfig) Validate() error {
	for i := range c.Providers {
		if err := c.Providers[i].Validate(); err != nil {
			return err
		}
	}
	if c.MaxRetries < 1 {
		return fmt.Errorf("max_retries must be at least 1")
	}
	return nil
}

// EmbedderConfig is the ordered embedding chain.
type EmbedderConfig struct {
	Providers []ModelProviderConfig `yaml:"providers,omitempty"`
}

func (c *EmbedderConfig) SetDefaults() {
	if len(c.Providers) == 0 {
		c.Providers = embeddersFromEnv()
	}
	for i := range c.Providers {
		c.Providers[i].SetDefaults(true)
	}
}

func (c *EmbedderConfig) Validate() error {
	dim := 0
	for i := range c.Providers {
		p := &c.Providers[i]
		if err := p.Validate(); err != nil {
			return err
		}
		// Fallback embedders write into the same collection.
		if dim != 0 && p.Dimension != dim {
			return fmt.Errorf("%s: dimension %d differs from %d used by earlier providers", p.Name, p.Dimension, dim)
		}
		dim = p.Dimension
	}
	return nil
}

// Dimension is the embedding width of the chain, 0 when unknown.
func (c *EmbedderConfig) Dimension() int {
	if len(c.Providers) == 0 {
		return 0
	}
	return c.Providers[0].Dimension
}

// providersFromEnv builds a chain from well known API key variables, ending
// with the local ollama fallback.
func providersFromEnv() []ModelProviderConfig {
	var out []ModelProviderConfig
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		out = append(out, ModelProviderConfig{Type: ProviderOpenAI, APIKey: key, BaseURL: os.Getenv("OPENAI_BASE_URL")})
	}
	if key := os.Getenv("DEEPSEEK_API_KEY"); key != "" {
		out = append(out, ModelProviderConfig{
			Name:    "deepseek",
			Type:    ProviderOpenAI,
			APIKey:  key,
			BaseURL: "https://api.deepseek.com/v1",
			Model:   "deepseek-chat",
		})
	}
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		out = append(out, ModelProviderConfig{Type: ProviderGemini, APIKey: key})
	}
	out = append(out, ModelProviderConfig{Type: ProviderOllama, BaseURL: os.Getenv("OLLAMA_HOST")})
	return out
}

// embeddersFromEnv picks a single embedder. Providers of different widths
// cannot share a collection, so the env-derived chain is never longer than one.
func embeddersFromEnv() []ModelProviderConfig {
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		return []ModelProviderConfig{{Type: ProviderOpenAI, APIKey: key, BaseURL: os.Getenv("OPENAI_BASE_URL")}}
	}
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		return []ModelProviderConfig{{Type: ProviderGemini, APIKey: key}}
	}
	return []ModelProviderConfig{{Type: ProviderOllama, BaseURL: os.Getenv("OLLAMA_HOST")}}
}
