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

// Package config defines the finrag configuration document and its loader.
//
// The document is YAML, read through a provider (file, consul, etcd or
// zookeeper), with ${VAR} and ${VAR:-default} expansion applied before it is
// decoded. Every section has SetDefaults and Validate; Loader.Load calls both.
package config

import (
	"errors"
	"fmt"

	"github.com/kadirpekel/finrag/pkg/observability"
)

// Config is the root configuration document.
type Config struct {
	Logger        LoggerConfig         `yaml:"logger,omitempty"`
	LLM           LLMConfig            `yaml:"llm,omitempty"`
	Embedder      EmbedderConfig       `yaml:"embedder,omitempty"`
	Vector        VectorConfig         `yaml:"vector,omitempty"`
	Database      DatabaseConfig       `yaml:"database,omitempty"`
	Reranker      RerankerConfig       `yaml:"reranker,omitempty"`
	Retrieval     RetrievalConfig      `yaml:"retrieval,omitempty"`
	Coordinator   CoordinatorConfig    `yaml:"coordinator,omitempty"`
	Server        ServerConfig         `yaml:"server,omitempty"`
	Services      ServicesConfig       `yaml:"services,omitempty"`
	Finance       FinanceConfig        `yaml:"finance,omitempty"`
	Observability observability.Config `yaml:"observability,omitempty"`
}

// Default returns a Config with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.SetDefaults()
	return cfg
}

func (c *Config) SetDefaults() {
	c.Logger.SetDefaults()
	c.LLM.SetDefaults()
	c.Embedder.SetDefaults()
	c.Vector.SetDefaults()
	c.Database.SetDefaults()
	c.Reranker.SetDefaults()
	c.Retrieval.SetDefaults()
	c.Coordinator.SetDefaults()
	c.Server.SetDefaults()
	c.Services.SetDefaults()
	c.Finance.SetDefaults()
	c.Observability.SetDefaults()
}

// Validate checks every section and reports all failures together.
func (c *Config) Validate() error {
	sections := []struct {
		name string
		v    interface{ Validate() error }
	}{
		{"logger", &c.Logger},
		{"llm", &c.LLM},
		{"embedder", &c.Embedder},
		{"vector", &c.Vector},
		{"database", &c.Database},
		{"reranker", &c.Reranker},
		{"retrieval", &c.Retrieval},
		{"coordinator", &c.Coordinator},
		{"server", &c.Server},
		{"services", &c.Services},
		{"finance", &c.Finance},
		{"observability", &c.Observability},
	}

	var errs []error
	for _, s := range sections {
		if err := s.v.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.name, err))
		}
	}
	return errors.Join(errs...)
}
