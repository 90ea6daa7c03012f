package domain

import (
	"fmt"
	"math"
	"reflect"
	"sort"
)

// Retrieval limits.
const (
	DefaultTopK = 8
	MaxTopK     = 100
)

// MetadataFilter restricts retrieval to documents whose metadata matches.
// Every Equals entry must match; string-list values match if they contain the value.
type MetadataFilter struct {
	Equals map[string]any `json:"equals,omitempty"`
}

// IsEmpty returns true if the filter matches everything.
func (f MetadataFilter) IsEmpty() bool {
	return len(f.Equals) == 0
}

// Matches reports whether metadata satisfies the filter.
func (f MetadataFilter) Matches(metadata map[string]any) bool {
	for key, want := range f.Equals {
		got, ok := metadata[key]
		if !ok {
			return false
		}
		if !valueMatches(got, want) {
			return false
		}
	}
	return true
}

func valueMatches(got, want any) bool {
	if list, ok := got.([]any); ok {
		for _, item := range list {
			if valueMatches(item, want) {
				return true
			}
		}
		return false
	}
	if list, ok := got.([]string); ok {
		for _, item := range list {
			if valueMatches(item, want) {
				return true
			}
		}
		return false
	}
	if reflect.DeepEqual(got, want) {
		return true
	}
	return fmt.Sprint(got) == fmt.Sprint(want)
}

// RetrievalQuery asks for chunks similar to a text or vector.
type RetrievalQuery struct {
	NotebookID string `json:"notebook_id" validate:"required"`

	// Text is embedded unless Vector is set.
	Text   string    `json:"text,omitempty"`
	Vector []float32 `json:"vector,omitempty"`

	TopK int `json:"top_k,omitempty" validate:"gte=0,lte=100"`

	// Threshold is the minimum similarity score. Nil uses the configured default.
	Threshold *float64 `json:"threshold,omitempty"`

	Filter      MetadataFilter `json:"filter,omitempty"`
	DocumentIDs []string       `json:"document_ids,omitempty"`
}

// SimilarityQuery is what the retriever asks of a store's similarity primitive.
type SimilarityQuery struct {
	NotebookID  string
	Model       string
	Vector      []float32
	Limit       int
	MinScore    float64
	Filter      MetadataFilter
	DocumentIDs []string
}

// ScoredChunk is a retrieval hit.
type ScoredChunk struct {
	Chunk Chunk   `json:"chunk"`
	Score float64 `json:"score"`

	// DocumentTitle is denormalised for display.
	DocumentTitle string `json:"document_title,omitempty"`
}

// Citation snapshots the chunk a generated text relied on.
type Citation struct {
	ChunkID    string  `json:"chunk_id"`
	DocumentID string  `json:"document_id"`
	Ordinal    int     `json:"ordinal"`
	Score      float64 `json:"score"`
	TextHash   string  `json:"text_hash"`
}

// CitationFor snapshots a retrieval hit.
func CitationFor(hit ScoredChunk) Citation {
	hash := hit.Chunk.ContentHash
	if hash == "" {
		hash = TextHash(hit.Chunk.Text)
	}
	return Citation{
		ChunkID:    hit.Chunk.ID,
		DocumentID: hit.Chunk.DocumentID,
		Ordinal:    hit.Chunk.Ordinal,
		Score:      hit.Score,
		TextHash:   hash,
	}
}

// SortHits orders hits by score descending, then ordinal, document and chunk ID.
func SortHits(hits []ScoredChunk) {
	sort.SliceStable(hits, func(i, j int) bool {
		a, b := hits[i], hits[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Chunk.Ordinal != b.Chunk.Ordinal {
			return a.Chunk.Ordinal < b.Chunk.Ordinal
		}
		if a.Chunk.DocumentID != b.Chunk.DocumentID {
			return a.Chunk.DocumentID < b.Chunk.DocumentID
		}
		return a.Chunk.ID < b.Chunk.ID
	})
}

// CosineSimilarity returns the cosine of the angle between a and b.
// Mismatched or zero-length vectors score 0.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// Normalize scales v to unit length. Zero vectors are returned unchanged.
func Normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	norm := math.Sqrt(sum)
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}

// RetrievalConfig holds retriever defaults.
type RetrievalConfig struct {
	// TopK applies when a query does not set one.
	TopK int

	// Threshold is the minimum score when a query does not set one.
	Threshold float64
}

// DefaultRetrievalConfig returns the retriever defaults.
func DefaultRetrievalConfig() RetrievalConfig {
	return RetrievalConfig{TopK: DefaultTopK, Threshold: 0.3}
}
