package vector

import (
	"context"
	"testing"

	"github.com/qdrant/go-client/qdrant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/finrag/pkg/config"
)

func TestChromem_UpsertSearchFilter(t *testing.T) {
	ctx := context.Background()
	p, err := NewChromemProvider(ChromemConfig{})
	require.NoError(t, err)
	defer p.Close()

	require.NoError(t, p.Upsert(ctx, "kb", "mt-2023", []float32{1, 0, 0}, map[string]any{
		"content": "贵州茅台2023年营业收入1505亿元",
		"company": "贵州茅台",
		"year":    2023,
	}))
	require.NoError(t, p.Upsert(ctx, "kb", "cmb-2023", []float32{0, 1, 0}, map[string]any{
		"content": "招商银行2023年不良率0.95%",
		"company": "招商银行",
		"year":    2023,
	}))

	res, err := p.Search(ctx, "kb", []float32{0.9, 0.1, 0}, 5, nil)
	require.NoError(t, err)
	require.Len(t, res, 2)
	assert.Equal(t, "mt-2023", res[0].ID)
	assert.Equal(t, "贵州茅台2023年营业收入1505亿元", res[0].Content)
	assert.Greater(t, res[0].Score, res[1].Score)

	res, err = p.Search(ctx, "kb", []float32{0.9, 0.1, 0}, 5, map[string]any{"company": "招商银行", "year": 2023})
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, "cmb-2023", res[0].ID)
	assert.Equal(t, "2023", res[0].Metadata["year"])
}

func TestChromem_SearchEmptyCollection(t *testing.T) {
	p, err := NewChromemProvider(ChromemConfig{})
	require.NoError(t, err)

	res, err := p.Search(context.Background(), "empty", []float32{1, 0}, 10, nil)
	require.NoError(t, err)
	assert.Empty(t, res)
}

func TestChromem_DeleteByFilter(t *testing.T) {
	ctx := context.Background()
	p, err := NewChromemProvider(ChromemConfig{})
	require.NoError(t, err)

	require.NoError(t, p.Upsert(ctx, "kb", "a#0", []float32{1, 0}, map[string]any{"source": "a.pdf"}))
	require.NoError(t, p.Upsert(ctx, "kb", "b#0", []float32{0, 1}, map[string]any{"source": "b.pdf"}))
	require.NoError(t, p.DeleteByFilter(ctx, "kb", map[string]any{"source": "a.pdf"}))

	res, err := p.Search(ctx, "kb", []float32{1, 0}, 10, nil)
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, "b#0", res[0].ID)
}

func TestChromem_Persistence(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	p, err := NewChromemProvider(ChromemConfig{PersistPath: dir})
	require.NoError(t, err)
	require.NoError(t, p.Upsert(ctx, "kb", "x", []float32{1, 0}, map[string]any{"content": "persisted"}))
	require.NoError(t, p.Close())

	reopened, err := NewChromemProvider(ChromemConfig{PersistPath: dir})
	require.NoError(t, err)
	res, err := reopened.Search(ctx, "kb", []float32{1, 0}, 1, nil)
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, "persisted", res[0].Content)
}

func TestQdrantPointID(t *testing.T) {
	const u = "0b1c7d0e-2f7a-4d55-9f0e-0f4a6f1f9a11"
	assert.Equal(t, u, pointID(u).GetUuid())

	a := pointID("report.pdf#3").GetUuid()
	assert.Equal(t, a, pointID("report.pdf#3").GetUuid())
	assert.NotEqual(t, a, pointID("report.pdf#4").GetUuid())
}

func TestConvertQdrantResults_RestoresDocID(t *testing.T) {
	points := []*qdrant.ScoredPoint{{
		Id:    qdrant.NewID(pointID("doc#1").GetUuid()),
		Score: 0.8,
		Payload: map[string]*qdrant.Value{
			docIDField: qdrant.NewValueString("doc#1"),
			"content":  qdrant.NewValueString("净息差1.98%"),
			"year":     qdrant.NewValueInt(2023),
		},
	}}

	res := convertQdrantResults(points)
	require.Len(t, res, 1)
	assert.Equal(t, "doc#1", res[0].ID)
	assert.Equal(t, "净息差1.98%", res[0].Content)
	assert.Equal(t, int64(2023), res[0].Metadata["year"])
	assert.NotContains(t, res[0].Metadata, docIDField)
}

func TestNewFromConfig(t *testing.T) {
	p, err := NewFromConfig(config.VectorConfig{Type: "chromem"})
	require.NoError(t, err)
	assert.Equal(t, "chromem", p.Name())

	_, err = NewFromConfig(config.VectorConfig{Type: "milvus"})
	assert.Error(t, err)

	_, err = NewFromConfig(config.VectorConfig{Type: "pinecone"})
	assert.Error(t, err)
}
