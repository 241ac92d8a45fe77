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
	"sync"

	"github.com/pinecone-io/go-pinecone/pinecone"
	"google.golang.org/protobuf/types/known/structpb"
)

// PineconeConfig configures the managed Pinecone provider.
type PineconeConfig struct {
	APIKey string

	// IndexName is used when the collection argument is empty.
	IndexName string

	// IndexHost skips the DescribeIndex lookup when set.
	IndexHost string

	Namespace string
}

// PineconeProvider stores vectors in Pinecone. Collections map to indexes;
// indexes must already exist.
type PineconeProvider struct {
	client *pinecone.Client
	cfg    PineconeConfig

	mu    sync.Mutex
	hosts map[string]string
}

func NewPineconeProvider(cfg PineconeConfig) (*PineconeProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key is required for Pinecone")
	}
	client, err := pinecone.NewClient(pinecone.NewClientParams{ApiKey: cfg.APIKey})
	if err != nil {
		return nil, fmt.Errorf("failed to create Pinecone client: %w", err)
	}
	if cfg.IndexName == "" {
		cfg.IndexName = "finrag"
	}
	return &PineconeProvider{client: client, cfg: cfg, hosts: make(map[string]string)}, nil
}

func (p *PineconeProvider) Name() string { return "pinecone" }

// index opens a connection to the index backing collection. Callers close it.
func (p *PineconeProvider) index(ctx context.Context, collection string) (*pinecone.IndexConnection, error) {
	name := collection
	if name == "" {
		name = p.cfg.IndexName
	}

	p.mu.Lock()
	host, ok := p.hosts[name]
	p.mu.Unlock()

	if !ok {
		if p.cfg.IndexHost != "" {
			host = p.cfg.IndexHost
		} else {
			idx, err := p.client.DescribeIndex(ctx, name)
			if err != nil {
				return nil, fmt.Errorf("failed to describe index %s: %w", name, err)
			}
			host = idx.Host
		}
		p.mu.Lock()
		p.hosts[name] = host
		p.mu.Unlock()
	}

	conn, err := p.client.Index(pinecone.NewIndexConnParams{Host: host, Namespace: p.cfg.Namespace})
	if err != nil {
		return nil, fmt.Errorf("failed to create index connection: %w", err)
	}
	return conn, nil
}

func (p *PineconeProvider) Upsert(ctx context.Context, collection, id string, vector []float32, metadata map[string]any) error {
	conn, err := p.index(ctx, collection)
	if err != nil {
		return err
	}
	defer conn.Close()

	var md *pinecone.Metadata
	if len(metadata) > 0 {
		md, err = structpb.NewStruct(metadata)
		if err != nil {
			return fmt.Errorf("failed to convert metadata: %w", err)
		}
	}

	if _, err := conn.UpsertVectors(ctx, []*pinecone.Vector{{Id: id, Values: vector, Metadata: md}}); err != nil {
		return fmt.Errorf("failed to upsert vector: %w", err)
	}
	return nil
}

func (p *PineconeProvider) Search(ctx context.Context, collection string, vector []float32, topK int, filter map[string]any) ([]Result, error) {
	conn, err := p.index(ctx, collection)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	var mf *pinecone.MetadataFilter
	if len(filter) > 0 {
		mf, err = structpb.NewStruct(filter)
		if err != nil {
			return nil, fmt.Errorf("failed to convert filter: %w", err)
		}
	}

	resp, err := conn.QueryByVectorValues(ctx, &pinecone.QueryByVectorValuesRequest{
		Vector:          vector,
		TopK:            uint32(topK),
		MetadataFilter:  mf,
		IncludeMetadata: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query Pinecone: %w", err)
	}
	return convertPineconeResults(resp.Matches), nil
}

func (p *PineconeProvider) Delete(ctx context.Context, collection, id string) error {
	conn, err := p.index(ctx, collection)
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := conn.DeleteVectorsById(ctx, []string{id}); err != nil {
		return fmt.Errorf("failed to delete vector: %w", err)
	}
	return nil
}

func (p *PineconeProvider) DeleteByFilter(ctx context.Context, collection string, filter map[string]any) error {
	conn, err := p.index(ctx, collection)
	if err != nil {
		return err
	}
	defer conn.Close()

	mf, err := structpb.NewStruct(filter)
	if err != nil {
		return fmt.Errorf("failed to convert filter: %w", err)
	}
	if err := conn.DeleteVectorsByFilter(ctx, mf); err != nil {
		return fmt.Errorf("failed to delete by filter: %w", err)
	}
	return nil
}

// CreateCollection only verifies the index exists; Pinecone indexes are provisioned out of band.
func (p *PineconeProvider) CreateCollection(ctx context.Context, collection string, dimension int) error {
	name := collection
	if name == "" {
		name = p.cfg.IndexName
	}
	if p.cfg.IndexHost != "" {
		return nil
	}
	if _, err := p.client.DescribeIndex(ctx, name); err != nil {
		return fmt.Errorf("index %s is not available: %w", name, err)
	}
	return nil
}

func (p *PineconeProvider) Close() error { return nil }

func convertPineconeResults(matches []*pinecone.ScoredVector) []Result {
	results := make([]Result, 0, len(matches))
	for _, m := range matches {
		if m.Vector == nil {
			continue
		}
		metadata := map[string]any{}
		if m.Vector.Metadata != nil {
			metadata = m.Vector.Metadata.AsMap()
		}
		results = append(results, Result{
			ID:       m.Vector.Id,
			Score:    m.Score,
			Content:  contentOf(metadata),
			Metadata: metadata,
		})
	}
	return results
}

var _ Provider = (*PineconeProvider)(nil)
