// Package html normalises HTML uploads. The main article is extracted with
// go-readability and rendered as markdown-flavoured text; pages readability
// cannot parse fall back to whole-document conversion.
package html

import (
	"bytes"
	"context"
	"fmt"
	"html"
	"net/url"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/go-shiori/go-readability"

	"github.com/custodia-labs/folio/internal/core/domain"
	"github.com/custodia-labs/folio/internal/core/ports/driven"
)

// Ensure Normaliser implements the interface.
var _ driven.Normaliser = (*Normaliser)(nil)

// minArticleChars is the shortest readability extraction worth keeping.
const minArticleChars = 80

// Normaliser handles HTML documents.
type Normaliser struct{}

// New creates a new HTML normaliser.
func New() *Normaliser {
	return &Normaliser{}
}

// SupportedMIMETypes returns the MIME types this normaliser handles.
func (n *Normaliser) SupportedMIMETypes() []string {
	return []string{"text/html", "application/xhtml+xml"}
}

// Priority returns the selection priority.
func (n *Normaliser) Priority() int {
	return 50 // Generic MIME normaliser, higher than plaintext
}

// Normalise extracts the readable content of an HTML page.
func (n *Normaliser) Normalise(_ context.Context, raw *domain.RawDocument) (*driven.NormaliseResult, error) {
	if raw == nil {
		return nil, domain.NewValidationError("raw document is nil", nil)
	}

	source := string(raw.Content)
	result := &driven.NormaliseResult{Title: extractHTMLTitle(source, raw.URI)}

	article, err := readability.FromReader(bytes.NewReader(raw.Content), pageURL(raw.URI))
	if err == nil && len(strings.TrimSpace(article.TextContent)) >= minArticleChars {
		result.Content = toText(article.Content)
		if t := strings.TrimSpace(article.Title); t != "" {
			result.Title = t
		}
		meta := map[string]any{}
		if article.Byline != "" {
			meta["byline"] = article.Byline
		}
		if article.SiteName != "" {
			meta["site_name"] = article.SiteName
		}
		if article.Language != "" {
			meta["language"] = article.Language
		}
		if article.PublishedTime != nil {
			meta["published"] = article.PublishedTime.Format("2006-01-02")
		}
		if len(meta) > 0 {
			result.Metadata = meta
		}
		return result, nil
	}

	result.Content = toText(source)
	return result, nil
}

// pageURL builds the base URL readability resolves relative links against.
func pageURL(uri string) *url.URL {
	if u, err := url.Parse(uri); err == nil && u.Scheme != "" && u.Host != "" {
		return u
	}
	return &url.URL{Scheme: "file", Path: "/" + strings.TrimPrefix(filepath.ToSlash(uri), "/")}
}

// Pre-compiled regular expressions for HTML conversion.
var (
	titleTag      = regexp.MustCompile(`(?is)<title[^>]*>(.*?)</title>`)
	dropTags      = regexp.MustCompile(`(?is)<(script|style|noscript|head|svg|template)[^>]*>.*?</(script|style|noscript|head|svg|template)>`)
	htmlComments  = regexp.MustCompile(`(?s)<!--.*?-->`)
	headingTags   = regexp.MustCompile(`(?is)<h([1-6])[^>]*>(.*?)</h[1-6]>`)
	listItems     = regexp.MustCompile(`(?i)<li[^>]*>`)
	cellTags      = regexp.MustCompile(`(?i)<t[dh][^>]*>`)
	rowEnds       = regexp.MustCompile(`(?i)</tr>`)
	blockEnds     = regexp.MustCompile(`(?i)</(p|div|ul|ol|table|blockquote|pre|section|article|header|footer)>`)
	breaks        = regexp.MustCompile(`(?i)<(br|hr)\s*/?>`)
	allTags       = regexp.MustCompile(`<[^>]+>`)
	multiSpaces   = regexp.MustCompile(`[ \t]+`)
	multiNewlines = regexp.MustCompile(`\n{3,}`)
)

// toText renders HTML as text with markdown headings, list items and table rows.
func toText(content string) string {
	content = dropTags.ReplaceAllString(content, "")
	content = htmlComments.ReplaceAllString(content, "")

	content = headingTags.ReplaceAllStringFunc(content, func(m string) string {
		parts := headingTags.FindStringSubmatch(m)
		level := int(parts[1][0] - '0')
		text := strings.TrimSpace(allTags.ReplaceAllString(parts[2], ""))
		return fmt.Sprintf("\n\n%s %s\n\n", strings.Repeat("#", level), text)
	})
	content = listItems.ReplaceAllString(content, "\n- ")
	content = cellTags.ReplaceAllString(content, " | ")
	content = rowEnds.ReplaceAllString(content, " |\n")
	content = blockEnds.ReplaceAllString(content, "\n\n")
	content = breaks.ReplaceAllString(content, "\n")
	content = allTags.ReplaceAllString(content, "")
	content = html.UnescapeString(content)
	content = multiSpaces.ReplaceAllString(content, " ")

	lines := strings.Split(content, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(line)
	}
	content = strings.Join(lines, "\n")
	content = multiNewlines.ReplaceAllString(content, "\n\n")
	return strings.TrimSpace(content)
}

// extractHTMLTitle extracts a title from the <title> tag or falls back to filename.
func extractHTMLTitle(content, uri string) string {
	if matches := titleTag.FindStringSubmatch(content); len(matches) > 1 {
		if title := strings.TrimSpace(html.UnescapeString(matches[1])); title != "" {
			return title
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
