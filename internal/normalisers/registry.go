package normalisers

import (
	"context"
	"fmt"
	"mime"
	"net/http"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/custodia-labs/folio/internal/core/domain"
	"github.com/custodia-labs/folio/internal/core/ports/driven"
	"github.com/custodia-labs/folio/internal/normalisers/html"
	"github.com/custodia-labs/folio/internal/normalisers/markdown"
	"github.com/custodia-labs/folio/internal/normalisers/plaintext"
)

// Ensure Registry implements the interface.
var _ driven.NormaliserRegistry = (*Registry)(nil)

// Registry dispatches to the highest priority normaliser for a MIME type.
// A "major/*" entry matches any subtype of major.
type Registry struct {
	mu     sync.RWMutex
	byType map[string][]driven.Normaliser
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{byType: make(map[string][]driven.Normaliser)}
}

// NewDefaultRegistry creates a registry with the built-in normalisers.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(plaintext.New())
	r.Register(markdown.New())
	r.Register(html.New())
	return r
}

// Register adds a normaliser under each of its MIME types.
func (r *Registry) Register(n driven.Normaliser) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range n.SupportedMIMETypes() {
		list := append(r.byType[t], n)
		sort.SliceStable(list, func(i, j int) bool { return list[i].Priority() > list[j].Priority() })
		r.byType[t] = list
	}
}

// Get returns the best normaliser for the MIME type.
func (r *Registry) Get(mimeType string) (driven.Normaliser, error) {
	base := baseMIMEType(mimeType)

	r.mu.RLock()
	defer r.mu.RUnlock()
	if list := r.byType[base]; len(list) > 0 {
		return list[0], nil
	}
	if major, _, ok := strings.Cut(base, "/"); ok {
		if list := r.byType[major+"/*"]; len(list) > 0 {
			return list[0], nil
		}
	}
	return nil, fmt.Errorf("%w: no normaliser for %q", domain.ErrUnsupportedType, mimeType)
}

// Normalise transforms a raw upload using the best matching normaliser.
func (r *Registry) Normalise(ctx context.Context, raw *domain.RawDocument) (*driven.NormaliseResult, error) {
	if raw == nil {
		return nil, domain.NewValidationError("raw document is nil", nil)
	}
	n, err := r.Get(raw.MIMEType)
	if err != nil {
		return nil, &domain.Error{Kind: domain.KindValidation, Op: "normalise", Err: err}
	}
	return n.Normalise(ctx, raw)
}

// SupportedMIMETypes lists every registered MIME type, sorted.
func (r *Registry) SupportedMIMETypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.byType))
	for t := range r.byType {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// extensionTypes covers extensions the platform MIME table often lacks.
var extensionTypes = map[string]string{
	".md":       "text/markdown",
	".markdown": "text/markdown",
	".txt":      "text/plain",
	".text":     "text/plain",
	".htm":      "text/html",
	".html":     "text/html",
}

// DetectMIMEType implements driven.NormaliserRegistry.
func (r *Registry) DetectMIMEType(filename string, content []byte) string {
	return DetectMIMEType(filename, content)
}

// DetectMIMEType guesses a MIME type from the filename, then the content.
func DetectMIMEType(filename string, content []byte) string {
	ext := strings.ToLower(filepath.Ext(filename))
	if t, ok := extensionTypes[ext]; ok {
		return t
	}
	if t := mime.TypeByExtension(ext); t != "" {
		return baseMIMEType(t)
	}
	return baseMIMEType(http.DetectContentType(content))
}

func baseMIMEType(t string) string {
	if parsed, _, err := mime.ParseMediaType(t); err == nil {
		return parsed
	}
	return strings.ToLower(strings.TrimSpace(t))
}
