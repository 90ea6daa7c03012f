package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCosineSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, CosineSimilarity([]float32{1, 0}, []float32{2, 0}), 1e-9)
	assert.InDelta(t, 0.0, CosineSimilarity([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.InDelta(t, -1.0, CosineSimilarity([]float32{1, 0}, []float32{-1, 0}), 1e-9)
	assert.Zero(t, CosineSimilarity([]float32{1}, []float32{1, 2}))
	assert.Zero(t, CosineSimilarity(nil, nil))
	assert.Zero(t, CosineSimilarity([]float32{0, 0}, []float32{1, 0}))
}

func TestNormalize(t *testing.T) {
	v := Normalize([]float32{3, 4})
	assert.InDelta(t, 0.6, v[0], 1e-6)
	assert.InDelta(t, 0.8, v[1], 1e-6)

	zero := []float32{0, 0}
	assert.Equal(t, zero, Normalize(zero))
}

func TestSortHits_TieBreaksByOrdinal(t *testing.T) {
	hits := []ScoredChunk{
		{Chunk: Chunk{ID: "c", DocumentID: "d1", Ordinal: 5}, Score: 0.8},
		{Chunk: Chunk{ID: "a", DocumentID: "d1", Ordinal: 2}, Score: 0.9},
		{Chunk: Chunk{ID: "b", DocumentID: "d1", Ordinal: 1}, Score: 0.8},
		{Chunk: Chunk{ID: "e", DocumentID: "d0", Ordinal: 1}, Score: 0.8},
	}

	SortHits(hits)

	var ids []string
	for _, h := range hits {
		ids = append(ids, h.Chunk.ID)
	}
	assert.Equal(t, []string{"a", "e", "b", "c"}, ids)
}

func TestMetadataFilter_Matches(t *testing.T) {
	meta := map[string]any{
		"jurisdiction": "UK",
		"year":         float64(2021),
		"tags":         []any{"tax", "vat"},
	}

	assert.True(t, MetadataFilter{}.Matches(meta))
	assert.True(t, MetadataFilter{Equals: map[string]any{"jurisdiction": "UK"}}.Matches(meta))
	assert.True(t, MetadataFilter{Equals: map[string]any{"year": 2021}}.Matches(meta))
	assert.True(t, MetadataFilter{Equals: map[string]any{"tags": "vat"}}.Matches(meta))
	assert.False(t, MetadataFilter{Equals: map[string]any{"tags": "income"}}.Matches(meta))
	assert.False(t, MetadataFilter{Equals: map[string]any{"missing": "x"}}.Matches(meta))
	assert.False(t, MetadataFilter{Equals: map[string]any{"jurisdiction": "US"}}.Matches(meta))
}

func TestCitationFor(t *testing.T) {
	hit := ScoredChunk{Chunk: Chunk{ID: "c1", DocumentID: "d1", Ordinal: 3, Text: "hello"}, Score: 0.7}

	c := CitationFor(hit)

	assert.Equal(t, "c1", c.ChunkID)
	assert.Equal(t, "d1", c.DocumentID)
	assert.Equal(t, 3, c.Ordinal)
	assert.Equal(t, TextHash("hello"), c.TextHash)
}
