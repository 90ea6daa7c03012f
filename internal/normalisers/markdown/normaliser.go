// Package markdown normalises Markdown uploads. Block structure (headings,
// lists, tables, paragraphs) is kept so the chunker can split on it; inline
// decoration is simplified.
package markdown

import (
	"context"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/custodia-labs/folio/internal/core/domain"
	"github.com/custodia-labs/folio/internal/core/ports/driven"
)

// Ensure Normaliser implements the interface.
var _ driven.Normaliser = (*Normaliser)(nil)

// Normaliser handles Markdown documents.
type Normaliser struct{}

// New creates a new Markdown normaliser.
func New() *Normaliser {
	return &Normaliser{}
}

// SupportedMIMETypes returns the MIME types this normaliser handles.
func (n *Normaliser) SupportedMIMETypes() []string {
	return []string{"text/markdown", "text/x-markdown"}
}

// Priority returns the selection priority.
func (n *Normaliser) Priority() int {
	return 50 // Generic MIME normaliser, higher than plaintext
}

// Normalise simplifies inline markdown and returns the text with its block structure.
func (n *Normaliser) Normalise(_ context.Context, raw *domain.RawDocument) (*driven.NormaliseResult, error) {
	if raw == nil {
		return nil, domain.NewValidationError("raw document is nil", nil)
	}

	body, frontMatter := splitFrontMatter(strings.ReplaceAll(string(raw.Content), "\r\n", "\n"))

	result := &driven.NormaliseResult{
		Title:   extractMarkdownTitle(body, raw.URI),
		Content: simplifyMarkdown(body),
	}
	if len(frontMatter) > 0 {
		result.Metadata = frontMatter
	}
	return result, nil
}

// Pre-compiled regular expressions.
var (
	images        = regexp.MustCompile(`!\[([^\]]*)\]\([^)]+\)`)
	links         = regexp.MustCompile(`\[([^\]]+)\]\([^)]+\)`)
	refLinks      = regexp.MustCompile(`\[([^\]]+)\]\[[^\]]*\]`)
	bold          = regexp.MustCompile(`(\*\*|__)([^*_]+?)(\*\*|__)`)
	htmlComments  = regexp.MustCompile(`(?s)<!--.*?-->`)
	setextH1      = regexp.MustCompile(`(?m)^([^\n#>|-][^\n]*)\n=+[ \t]*$`)
	setextH2      = regexp.MustCompile(`(?m)^([^\n#>|-][^\n]*)\n-+[ \t]*$`)
	trailingSpace = regexp.MustCompile(`(?m)[ \t]+$`)
	multiNewlines = regexp.MustCompile(`\n{3,}`)
)

// simplifyMarkdown strips inline decoration but keeps headings, lists, tables and code.
func simplifyMarkdown(content string) string {
	content = htmlComments.ReplaceAllString(content, "")
	content = setextH1.ReplaceAllString(content, "# $1")
	content = setextH2.ReplaceAllString(content, "## $1")
	content = images.ReplaceAllString(content, "$1")
	content = links.ReplaceAllString(content, "$1")
	content = refLinks.ReplaceAllString(content, "$1")
	content = bold.ReplaceAllString(content, "$2")
	content = trailingSpace.ReplaceAllString(content, "")
	content = multiNewlines.ReplaceAllString(content, "\n\n")
	return strings.TrimSpace(content)
}

// splitFrontMatter separates a leading "---" block of "key: value" lines.
func splitFrontMatter(content string) (string, map[string]any) {
	if !strings.HasPrefix(content, "---\n") {
		return content, nil
	}
	end := strings.Index(content[4:], "\n---")
	if end < 0 {
		return content, nil
	}
	block := content[4 : 4+end]
	rest := strings.TrimPrefix(content[4+end+4:], "\n")

	fields := make(map[string]any)
	for _, line := range strings.Split(block, "\n") {
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.Trim(strings.TrimSpace(value), `"'`)
		if key != "" && value != "" {
			fields[key] = value
		}
	}
	return rest, fields
}

// extractMarkdownTitle extracts a title from the first H1 or falls back to filename.
func extractMarkdownTitle(content, uri string) string {
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "# ") {
			return strings.TrimSpace(strings.TrimPrefix(line, "#"))
		}
	}

	filename := filepath.Base(uri)
	if ext := filepath.Ext(filename); ext != "" {
		filename = strings.TrimSuffix(filename, ext)
	}
	filename = strings.ReplaceAll(filename, "_", " ")
	filename = strings.ReplaceAll(filename, "-", " ")
	return filename
}
