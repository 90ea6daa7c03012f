package driven

import (
	"context"

	"github.com/custodia-labs/folio/internal/core/domain"
)

// Normaliser transforms uploaded bytes into plain text.
// Each normaliser handles specific MIME types (e.g., HTML, Markdown).
type Normaliser interface {
	// SupportedMIMETypes returns the MIME types this normaliser handles.
	SupportedMIMETypes() []string

	// Priority returns the selection priority (higher = preferred).
	// Generic MIME normalisers should return 50-89.
	// Fallback normalisers should return 1-9.
	Priority() int

	// Normalise extracts a title and text content from a raw upload.
	Normalise(ctx context.Context, raw *domain.RawDocument) (*NormaliseResult, error)
}

// NormaliseResult contains the output of normalisation.
// Chunking is handled by the PostProcessor pipeline.
type NormaliseResult struct {
	// Title is derived from the content or the URI.
	Title string

	// Content is the normalised text. Markdown structure is preserved.
	Content string

	// Metadata carries format-specific hints (e.g. html byline).
	Metadata map[string]any
}

// NormaliserRegistry selects a normaliser for a MIME type.
type NormaliserRegistry interface {
	// Normalise transforms a raw upload using the best matching normaliser.
	Normalise(ctx context.Context, raw *domain.RawDocument) (*NormaliseResult, error)

	// Register adds a normaliser.
	Register(n Normaliser)

	// Get returns the highest priority normaliser for the MIME type,
	// falling back to wildcard handlers. Returns domain.ErrUnsupportedType if none.
	Get(mimeType string) (Normaliser, error)

	// SupportedMIMETypes lists every registered MIME type.
	SupportedMIMETypes() []string

	// DetectMIMEType guesses a content type from the filename and leading bytes.
	DetectMIMEType(filename string, content []byte) string
}
