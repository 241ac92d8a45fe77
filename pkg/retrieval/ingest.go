package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"

	"github.com/kadirpekel/finrag/pkg/graph"
)

// IngestDocument is a parsed source document ready for indexing.
type IngestDocument struct {
	ID       string
	Source   string
	Content  string
	Metadata map[string]any
}

// IngestStats summarises one Ingest call.
type IngestStats struct {
	Documents int
	Chunks    int
	Failed    int
}

// EnsureCollection creates the vector collection when missing.
func (e *Engine) EnsureCollection(ctx context.Context, dimension int) error {
	if err := e.vectors.CreateCollection(ctx, e.collection, dimension); err != nil {
		return fmt.Errorf("failed to create collection %s: %w", e.collection, err)
	}
	return nil
}

// Ingest chunks, embeds and stores documents. Chunks already indexed for a
// source are replaced. When a graph is configured every chunk also becomes
// a Document entity linked to the companies it names, so graph search sees
// the same corpus. A failed document is logged and skipped; the joined
// errors are returned alongside the stats.
func (e *Engine) Ingest(ctx context.Context, docs []IngestDocument) (IngestStats, error) {
	var stats IngestStats
	var errs []error

	for _, doc := range docs {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		n, err := e.ingestOne(ctx, doc)
		if err != nil {
			slog.Warn("Failed to ingest document", "source", doc.Source, "error", err)
			stats.Failed++
			errs = append(errs, fmt.Errorf("%s: %w", doc.Source, err))
			continue
		}
		stats.Documents++
		stats.Chunks += n
	}
	return stats, errors.Join(errs...)
}

func (e *Engine) ingestOne(ctx context.Context, doc IngestDocument) (int, error) {
	if doc.Source == "" {
		return 0, errors.New("document source is required")
	}
	id := doc.ID
	if id == "" {
		id = doc.Source
	}

	chunks := ChunkText(doc.Content, e.chunkSize, e.chunkOverlap)
	if len(chunks) == 0 {
		return 0, nil
	}

	if err := e.vectors.DeleteByFilter(ctx, e.collection, map[string]any{"source": doc.Source}); err != nil {
		return 0, fmt.Errorf("failed to clear previous chunks: %w", err)
	}

	for _, c := range chunks {
		chunkID := fmt.Sprintf("%s#%d", id, c.Index)

		meta := maps.Clone(doc.Metadata)
		if meta == nil {
			meta = map[string]any{}
		}
		meta["content"] = c.Content
		meta["source"] = doc.Source
		meta["document_id"] = id
		meta["chunk_index"] = c.Index
		meta["chunk_total"] = c.Total

		vec, err := e.embedder.Embed(ctx, c.Content)
		if err != nil {
			return 0, fmt.Errorf("failed to embed chunk %d: %w", c.Index, err)
		}
		if err := e.vectors.Upsert(ctx, e.collection, chunkID, vec, meta); err != nil {
			return 0, fmt.Errorf("failed to store chunk %d: %w", c.Index, err)
		}

		if e.graph != nil {
			if err := e.linkChunk(ctx, chunkID, doc, c, meta); err != nil {
				return 0, err
			}
		}
	}

	slog.Debug("Ingested document", "source", doc.Source, "chunks", len(chunks))
	return len(chunks), nil
}

func (e *Engine) linkChunk(ctx context.Context, chunkID string, doc IngestDocument, c Chunk, meta map[string]any) error {
	props := maps.Clone(meta)
	delete(props, "content")
	props["name"] = doc.Source
	props["description"] = c.Content

	if err := e.graph.AddEntity(ctx, graph.TypeDocument, chunkID, props); err != nil {
		return fmt.Errorf("failed to add chunk %d to graph: %w", c.Index, err)
	}
	if company, ok := meta["company"].(string); ok && company != "" {
		if err := e.graph.AddEntity(ctx, graph.TypeCompany, "company:"+company, map[string]any{"name": company}); err != nil {
			return fmt.Errorf("failed to add company %s: %w", company, err)
		}
		if err := e.graph.AddRelation(ctx, "company:"+company, chunkID, "MENTIONED_IN", nil); err != nil {
			return fmt.Errorf("failed to link company %s: %w", company, err)
		}
	}
	return nil
}
