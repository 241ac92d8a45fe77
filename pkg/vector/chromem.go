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

package vector

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/philippgille/chromem-go"
)

// ChromemConfig configures the embedded provider.
type ChromemConfig struct {
	// PersistPath is a directory for the gob snapshot. Empty keeps vectors in memory.
	PersistPath string
	Compress    bool
}

// ChromemProvider keeps vectors in process with chromem-go and optionally
// snapshots them to disk after every write.
type ChromemProvider struct {
	db       *chromem.DB
	dbPath   string
	compress bool

	mu          sync.RWMutex
	collections map[string]*chromem.Collection
}

func NewChromemProvider(cfg ChromemConfig) (*ChromemProvider, error) {
	p := &ChromemProvider{
		compress:    cfg.Compress,
		collections: make(map[string]*chromem.Collection),
	}

	if cfg.PersistPath == "" {
		p.db = chromem.NewDB()
		slog.Info("Created in-memory vector database")
		return p, nil
	}

	if err := os.MkdirAll(cfg.PersistPath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create persist directory: %w", err)
	}

	p.dbPath = filepath.Join(cfg.PersistPath, "vectors.gob")
	if cfg.Compress {
		p.dbPath += ".gz"
	}

	p.db = chromem.NewDB()
	if _, err := os.Stat(p.dbPath); err == nil {
		if err := p.db.ImportFromFile(p.dbPath, ""); err != nil {
			slog.Warn("Failed to load vector database, starting empty", "path", p.dbPath, "error", err)
			p.db = chromem.NewDB()
		}
	}
	slog.Info("Opened vector database", "path", p.dbPath)
	return p, nil
}

// noEmbedding guards against chromem embedding text itself.
func noEmbedding(context.Context, string) ([]float32, error) {
	return nil, fmt.Errorf("vectors must be pre-computed")
}

func (p *ChromemProvider) collection(name string) (*chromem.Collection, error) {
	p.mu.RLock()
	col, ok := p.collections[name]
	p.mu.RUnlock()
	if ok {
		return col, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if col, ok := p.collections[name]; ok {
		return col, nil
	}
	col, err := p.db.GetOrCreateCollection(name, nil, noEmbedding)
	if err != nil {
		return nil, fmt.Errorf("failed to get collection %q: %w", name, err)
	}
	p.collections[name] = col
	return col, nil
}

func (p *ChromemProvider) Name() string { return "chromem" }

func (p *ChromemProvider) Upsert(ctx context.Context, collection, id string, vector []float32, metadata map[string]any) error {
	col, err := p.collection(collection)
	if err != nil {
		return err
	}

	doc := chromem.Document{
		ID:        id,
		Content:   contentOf(metadata),
		Metadata:  stringMap(metadata),
		Embedding: vector,
	}
	if err := col.AddDocuments(ctx, []chromem.Document{doc}, runtime.NumCPU()); err != nil {
		return fmt.Errorf("failed to upsert document: %w", err)
	}

	p.persist()
	return nil
}

func (p *ChromemProvider) Search(ctx context.Context, collection string, vector []float32, topK int, filter map[string]any) ([]Result, error) {
	col, err := p.collection(collection)
	if err != nil {
		return nil, err
	}

	// chromem rejects nResults larger than the collection.
	n := min(topK, col.Count())
	if n <= 0 {
		return nil, nil
	}

	var where map[string]string
	if len(filter) > 0 {
		where = stringMap(filter)
	}

	matches, err := col.QueryEmbedding(ctx, vector, n, where, nil)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	out := make([]Result, 0, len(matches))
	for _, m := range matches {
		md := make(map[string]any, len(m.Metadata))
		for k, v := range m.Metadata {
			md[k] = v
		}
		out = append(out, Result{ID: m.ID, Score: m.Similarity, Content: m.Content, Metadata: md})
	}
	return out, nil
}

func (p *ChromemProvider) Delete(ctx context.Context, collection, id string) error {
	col, err := p.collection(collection)
	if err != nil {
		return err
	}
	if err := col.Delete(ctx, nil, nil, id); err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	p.persist()
	return nil
}

func (p *ChromemProvider) DeleteByFilter(ctx context.Context, collection string, filter map[string]any) error {
	col, err := p.collection(collection)
	if err != nil {
		return err
	}
	if err := col.Delete(ctx, stringMap(filter), nil); err != nil {
		return fmt.Errorf("failed to delete by filter: %w", err)
	}
	p.persist()
	return nil
}

// CreateCollection is implicit in chromem; it only warms the cache.
func (p *ChromemProvider) CreateCollection(ctx context.Context, collection string, dimension int) error {
	_, err := p.collection(collection)
	return err
}

func (p *ChromemProvider) Close() error {
	if p.dbPath == "" {
		return nil
	}
	return p.db.ExportToFile(p.dbPath, p.compress, "")
}

func (p *ChromemProvider) persist() {
	if p.dbPath == "" {
		return
	}
	if err := p.db.ExportToFile(p.dbPath, p.compress, ""); err != nil {
		slog.Warn("Failed to persist vector database", "error", err)
	}
}

// stringMap flattens metadata for chromem, which stores strings only.
func stringMap(m map[string]any) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = fmt.Sprint(v)
	}
	return out
}

var _ Provider = (*ChromemProvider)(nil)
