package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Document is an uploaded artifact and its normalised text.
// Raw content is immutable; Metadata is written once by the extractor.
type Document struct {
	// ID is the unique identifier for the document.
	ID string `json:"id"`

	// NotebookID links to the owning Notebook.
	NotebookID string `json:"notebook_id"`

	// Title is the human-readable title.
	Title string `json:"title"`

	// URI is the original location or upload filename.
	URI string `json:"uri"`

	// MIMEType is the uploaded content type.
	MIMEType string `json:"mime_type"`

	// Raw is the uploaded bytes.
	Raw []byte `json:"-"`

	// Content is the full text after normalisation. Empty until ingested.
	Content string `json:"content,omitempty"`

	// ContentHash is the hex SHA-256 of Raw.
	ContentHash string `json:"content_hash"`

	// Metadata holds fields validated against the notebook schema.
	Metadata map[string]any `json:"metadata,omitempty"`

	// MetadataWarnings records fields that failed extraction or validation.
	MetadataWarnings []string `json:"metadata_warnings,omitempty"`

	// IngestedAt is when the document was uploaded.
	IngestedAt time.Time `json:"ingested_at"`

	// UpdatedAt is when the document was last written.
	UpdatedAt time.Time `json:"updated_at"`
}

// Chunk is a contiguous text span derived from one Document.
type Chunk struct {
	// ID is deterministic for a given document, position and text.
	ID string `json:"id"`

	// DocumentID links to the parent Document.
	DocumentID string `json:"document_id"`

	// Ordinal is the zero-based position within the document.
	Ordinal int `json:"ordinal"`

	// Text is the chunk content.
	Text string `json:"text"`

	// StartOffset and EndOffset are byte offsets into Document.Content.
	StartOffset int `json:"start_offset"`
	EndOffset   int `json:"end_offset"`

	// Section is the nearest preceding heading, if any.
	Section string `json:"section,omitempty"`

	// ContentHash is the hex SHA-256 of Text.
	ContentHash string `json:"content_hash"`
}

// Embedding is the vector bound to a chunk for one model.
type Embedding struct {
	ChunkID string `json:"chunk_id"`

	// Model identifies the provider model that produced Vector.
	Model string `json:"model"`

	Vector []float32 `json:"vector"`

	// ContentHash is the chunk hash the vector was computed from.
	ContentHash string `json:"content_hash"`

	CreatedAt time.Time `json:"created_at"`
}

// RawDocument is an upload before normalisation.
type RawDocument struct {
	// URI is the original location or filename.
	URI string

	// MIMEType is the content type (e.g., "text/markdown").
	MIMEType string

	// Content is the raw bytes.
	Content []byte
}

// ContentHash returns the hex SHA-256 of b.
func ContentHash(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// TextHash returns the hex SHA-256 of s.
func TextHash(s string) string {
	return ContentHash([]byte(s))
}
