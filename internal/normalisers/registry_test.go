package normalisers

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/folio/internal/core/domain"
)

func TestRegistry_Get_ByPriorityAndWildcard(t *testing.T) {
	r := NewDefaultRegistry()

	n, err := r.Get("text/markdown; charset=utf-8")
	require.NoError(t, err)
	assert.Equal(t, 50, n.Priority())

	n, err = r.Get("text/x-rst")
	require.NoError(t, err)
	assert.Equal(t, 5, n.Priority())

	_, err = r.Get("application/pdf")
	assert.ErrorIs(t, err, domain.ErrUnsupportedType)
}

func TestRegistry_Normalise_Unsupported(t *testing.T) {
	_, err := NewDefaultRegistry().Normalise(context.Background(), &domain.RawDocument{
		URI: "a.bin", MIMEType: "application/octet-stream", Content: []byte{0},
	})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestRegistry_Normalise_Markdown(t *testing.T) {
	result, err := NewDefaultRegistry().Normalise(context.Background(), &domain.RawDocument{
		URI: "x.md", MIMEType: "text/markdown", Content: []byte("# Title\n\nBody"),
	})
	require.NoError(t, err)
	assert.Equal(t, "Title", result.Title)
}

func TestDetectMIMEType(t *testing.T) {
	assert.Equal(t, "text/markdown", DetectMIMEType("README.md", nil))
	assert.Equal(t, "text/html", DetectMIMEType("page.HTML", nil))
	assert.Equal(t, "text/plain", DetectMIMEType("notes", []byte("just some text")))
}

func TestRegistry_SupportedMIMETypes(t *testing.T) {
	types := NewDefaultRegistry().SupportedMIMETypes()
	assert.Contains(t, types, "text/html")
	assert.Contains(t, types, "text/*")
}
