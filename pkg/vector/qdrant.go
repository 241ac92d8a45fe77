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
	"strings"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
)

// QdrantConfig configures the Qdrant provider (gRPC).
type QdrantConfig struct {
	Host   string
	Port   int
	APIKey string
	UseTLS bool
}

// QdrantProvider stores vectors in a Qdrant server.
//
// Qdrant only accepts UUID or integer point ids, so chunk ids are mapped to
// name-based UUIDs and the original id travels in the "doc_id" payload field.
type QdrantProvider struct {
	client *qdrant.Client
}

const docIDField = "doc_id"

var pointNamespace = uuid.MustParse("6f2b1d8e-4c3a-5e7f-9a1b-2c3d4e5f6a7b")

func NewQdrantProvider(cfg QdrantConfig) (*QdrantProvider, error) {
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 6334
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Qdrant client for %s:%d: %w", cfg.Host, cfg.Port, err)
	}
	return &QdrantProvider{client: client}, nil
}

func (p *QdrantProvider) Name() string { return "qdrant" }

func pointID(id string) *qdrant.PointId {
	if _, err := uuid.Parse(id); err == nil {
		return qdrant.NewID(id)
	}
	return qdrant.NewID(uuid.NewSHA1(pointNamespace, []byte(id)).String())
}

func (p *QdrantProvider) Upsert(ctx context.Context, collection, id string, vector []float32, metadata map[string]any) error {
	if err := p.CreateCollection(ctx, collection, len(vector)); err != nil {
		return err
	}

	payload := make(map[string]*qdrant.Value, len(metadata)+1)
	for key, value := range metadata {
		val, err := qdrant.NewValue(value)
		if err != nil {
			return fmt.Errorf("failed to convert metadata value for key %s: %w", key, err)
		}
		payload[key] = val
	}
	payload[docIDField] = qdrant.NewValueString(id)

	_, err := p.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: collection,
		Points: []*qdrant.PointStruct{{
			Id:      pointID(id),
			Vectors: qdrant.NewVectors(vector...),
			Payload: payload,
		}},
	})
	if err != nil {
		return fmt.Errorf("failed to upsert point: %w", err)
	}
	return nil
}

func (p *QdrantProvider) Search(ctx context.Context, collection string, vector []float32, topK int, filter map[string]any) ([]Result, error) {
	req := &qdrant.QueryPoints{
		CollectionName: collection,
		Query:          qdrant.NewQuery(vector...),
		Limit:          qdrant.PtrOf(uint64(topK)),
		WithPayload:    qdrant.NewWithPayload(true),
	}
	if len(filter) > 0 {
		req.Filter = buildQdrantFilter(filter)
	}

	points, err := p.client.Query(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to search points: %w", err)
	}
	return convertQdrantResults(points), nil
}

func (p *QdrantProvider) Delete(ctx context.Context, collection, id string) error {
	_, err := p.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: collection,
		Points:         qdrant.NewPointsSelector(pointID(id)),
	})
	if err != nil {
		return fmt.Errorf("failed to delete point %s: %w", id, err)
	}
	return nil
}

func (p *QdrantProvider) DeleteByFilter(ctx context.Context, collection string, filter map[string]any) error {
	exists, err := p.client.CollectionExists(ctx, collection)
	if err != nil {
		return fmt.Errorf("failed to check collection: %w", err)
	}
	if !exists {
		return nil
	}
	_, err = p.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: collection,
		Points:         qdrant.NewPointsSelectorFilter(buildQdrantFilter(filter)),
	})
	if err != nil {
		return fmt.Errorf("failed to delete by filter: %w", err)
	}
	return nil
}

func (p *QdrantProvider) CreateCollection(ctx context.Context, collection string, dimension int) error {
	exists, err := p.client.CollectionExists(ctx, collection)
	if err != nil {
		return fmt.Errorf("failed to check collection: %w", err)
	}
	if exists {
		return nil
	}

	err = p.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(dimension),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil && !strings.Contains(err.Error(), "already exists") {
		return fmt.Errorf("failed to create collection: %w", err)
	}
	return nil
}

func (p *QdrantProvider) Close() error {
	return p.client.Close()
}

func buildQdrantFilter(filter map[string]any) *qdrant.Filter {
	conditions := make([]*qdrant.Condition, 0, len(filter))
	for key, value := range filter {
		switch v := value.(type) {
		case int:
			conditions = append(conditions, qdrant.NewMatchInt(key, int64(v)))
		case int64:
			conditions = append(conditions, qdrant.NewMatchInt(key, v))
		case bool:
			conditions = append(conditions, qdrant.NewMatchBool(key, v))
		default:
			conditions = append(conditions, qdrant.NewMatchKeyword(key, fmt.Sprint(v)))
		}
	}
	return &qdrant.Filter{Must: conditions}
}

func convertQdrantResults(points []*qdrant.ScoredPoint) []Result {
	results := make([]Result, 0, len(points))
	for _, point := range points {
		metadata := make(map[string]any, len(point.Payload))
		for key, value := range point.Payload {
			metadata[key] = qdrantValue(value)
		}

		id, _ := metadata[docIDField].(string)
		if id == "" && point.Id != nil {
			id = point.Id.GetUuid()
		}
		delete(metadata, docIDField)

		results = append(results, Result{
			ID:       id,
			Score:    point.Score,
			Content:  contentOf(metadata),
			Metadata: metadata,
		})
	}
	return results
}

func qdrantValue(v *qdrant.Value) any {
	switch k := v.GetKind().(type) {
	case *qdrant.Value_StringValue:
		return k.StringValue
	case *qdrant.Value_IntegerValue:
		return k.IntegerValue
	case *qdrant.Value_DoubleValue:
		return k.DoubleValue
	case *qdrant.Value_BoolValue:
		return k.BoolValue
	case *qdrant.Value_ListValue:
		list := make([]any, 0, len(k.ListValue.GetValues()))
		for _, item := range k.ListValue.GetValues() {
			list = append(list, qdrantValue(item))
		}
		return list
	default:
		return nil
	}
}

var _ Provider = (*QdrantProvider)(nil)
