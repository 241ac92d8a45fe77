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

// Package vector stores knowledge chunk embeddings and answers similarity
// queries. Embedding happens upstream in the gateway; providers only ever see
// pre-computed vectors.
package vector

import "context"

// Result is one similarity match.
type Result struct {
	ID       string
	Score    float32
	Content  string
	Metadata map[string]any
}

// Provider is a vector store.
type Provider interface {
	Name() string

	// Upsert writes one vector. metadata["content"] carries the chunk text.
	Upsert(ctx context.Context, collection, id string, vector []float32, metadata map[string]any) error

	// Search returns up to topK matches ordered by similarity. Every filter
	// entry must match the stored metadata exactly.
	Search(ctx context.Context, collection string, vector []float32, topK int, filter map[string]any) ([]Result, error)

	Delete(ctx context.Context, collection, id string) error
	DeleteByFilter(ctx context.Context, collection string, filter map[string]any) error
	CreateCollection(ctx context.Context, collection string, dimension int) error
	Close() error
}

// contentOf pulls the chunk text out of stored metadata.
func contentOf(metadata map[string]any) string {
	if c, ok := metadata["content"].(string); ok {
		return c
	}
	return ""
}
