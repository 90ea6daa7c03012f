package services

import (
	"fmt"
	"strings"

	"github.com/custodia-labs/folio/internal/core/domain"
)

// formatPassages numbers retrieval hits for a prompt, one block per hit.
func formatPassages(hits []domain.ScoredChunk) string {
	if len(hits) == 0 {
		return "(no passages)"
	}
	var b strings.Builder
	for i, h := range hits {
		fmt.Fprintf(&b, "[%d]", i+1)
		if h.DocumentTitle != "" {
			fmt.Fprintf(&b, " %s", h.DocumentTitle)
		}
		if h.Chunk.Section != "" {
			fmt.Fprintf(&b, " / %s", h.Chunk.Section)
		}
		b.WriteByte('\n')
		b.WriteString(strings.TrimSpace(h.Chunk.Text))
		b.WriteString("\n\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func citationsFor(hits []domain.ScoredChunk) []domain.Citation {
	if len(hits) == 0 {
		return nil
	}
	out := make([]domain.Citation, len(hits))
	for i, h := range hits {
		out[i] = domain.CitationFor(h)
	}
	return out
}
