// Package chunker provides a structure-aware text chunking processor.
//
// Chunks aim for a target size and end at the best boundary found within a
// lookahead window around the target: a structural break (heading, blank
// line, list item, table edge), else a sentence end, else a hard cut on a
// rune boundary. Consecutive chunks overlap by a fraction of their length.
package chunker

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/custodia-labs/folio/internal/core/domain"
)

// DefaultChunkSize is the default target chunk length in bytes.
const DefaultChunkSize = 1000

// DefaultOverlap is the default fraction of a chunk repeated at the start of the next.
const DefaultOverlap = 0.15

// chunkNamespace seeds deterministic chunk IDs.
var chunkNamespace = uuid.MustParse("6f1c7a0e-2b4d-5e8f-9a3c-1d2e3f4a5b6c")

// Processor splits document content into overlapping, boundary-aligned chunks.
// It implements the PostProcessor interface.
type Processor struct {
	chunkSize int
	overlap   float64
	lookahead int
}

// Option configures the chunker processor.
type Option func(*Processor)

// WithChunkSize sets the target chunk size in bytes.
func WithChunkSize(size int) Option {
	return func(p *Processor) {
		if size > 0 {
			p.chunkSize = size
		}
	}
}

// WithOverlap sets the overlap fraction, 0 <= f < 1.
func WithOverlap(f float64) Option {
	return func(p *Processor) {
		if f >= 0 && f < 1 {
			p.overlap = f
		}
	}
}

// WithLookahead sets how far from the target end a boundary may be.
func WithLookahead(n int) Option {
	return func(p *Processor) {
		if n >= 0 {
			p.lookahead = n
		}
	}
}

// New creates a new chunker processor with the given options.
func New(opts ...Option) *Processor {
	p := &Processor{
		chunkSize: DefaultChunkSize,
		overlap:   DefaultOverlap,
		lookahead: -1,
	}

	for _, opt := range opts {
		opt(p)
	}

	if p.lookahead < 0 {
		p.lookahead = p.chunkSize / 5
	}
	if p.lookahead >= p.chunkSize {
		p.lookahead = p.chunkSize / 2
	}

	return p
}

// Name returns the processor name.
func (p *Processor) Name() string {
	return "chunker"
}

// Process splits the document content into chunks.
// Input chunks are ignored; this processor creates new chunks from document content.
func (p *Processor) Process(ctx context.Context, doc *domain.Document, _ []domain.Chunk) ([]domain.Chunk, error) {
	text := doc.Content
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	headings := findHeadings(text)
	chunks := make([]domain.Chunk, 0, len(text)/p.chunkSize+1)

	start := 0
	for ordinal := 0; start < len(text); ordinal++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		end := p.nextEnd(text, start)
		body := text[start:end]
		chunks = append(chunks, domain.Chunk{
			ID:          chunkID(doc.ID, ordinal, body),
			DocumentID:  doc.ID,
			Ordinal:     ordinal,
			Text:        body,
			StartOffset: start,
			EndOffset:   end,
			Section:     sectionAt(headings, start),
			ContentHash: domain.TextHash(body),
		})

		if end >= len(text) {
			break
		}
		start = p.nextStart(text, start, end)
	}

	return chunks, nil
}

// nextEnd picks where the chunk starting at start ends.
func (p *Processor) nextEnd(text string, start int) int {
	target := start + p.chunkSize
	if target+p.lookahead >= len(text) {
		return len(text)
	}

	lo := target - p.lookahead
	if floor := start + p.chunkSize/4; lo < floor {
		lo = floor
	}
	hi := target + p.lookahead

	if end, ok := bestBoundary(text, lo, hi, target, structuralRank); ok {
		return end
	}
	if end, ok := bestBoundary(text, lo, hi, target, sentenceRank); ok {
		return end
	}

	for target > start+1 && !utf8.RuneStart(text[target]) {
		target--
	}
	return target
}

// nextStart backs up from end by the overlap and snaps forward to a word start.
func (p *Processor) nextStart(text string, start, end int) int {
	overlap := int(p.overlap * float64(end-start))
	next := end - overlap
	if next <= start {
		next = start + 1
	}
	if overlap > 0 {
		for i := next; i < end; i++ {
			if isSpace(text[i-1]) && !isSpace(text[i]) {
				next = i
				break
			}
		}
	}
	for next < end && !utf8.RuneStart(text[next]) {
		next++
	}
	return next
}

// rankFunc scores position i as a chunk end. Zero means not a boundary.
type rankFunc func(text string, i int) int

// bestBoundary returns the highest ranked boundary in [lo, hi], closest to target on ties.
func bestBoundary(text string, lo, hi, target int, rank rankFunc) (int, bool) {
	best, bestRank, bestDist := -1, 0, 0
	for i := lo; i <= hi && i < len(text); i++ {
		r := rank(text, i)
		if r == 0 {
			continue
		}
		dist := i - target
		if dist < 0 {
			dist = -dist
		}
		if r > bestRank || (r == bestRank && dist < bestDist) {
			best, bestRank, bestDist = i, r, dist
		}
	}
	return best, best > 0
}

// structuralRank scores line starts: headings over paragraph breaks over list items and table edges.
func structuralRank(text string, i int) int {
	if i == 0 || text[i-1] != '\n' {
		return 0
	}
	line := lineAt(text, i)
	prev := prevLine(text, i)
	switch {
	case isHeading(line):
		return 4
	case strings.TrimSpace(prev) == "" && strings.TrimSpace(line) != "":
		return 3
	case isTableRow(line) != isTableRow(prev):
		return 2
	case isListItem(line) && !isTableRow(prev):
		return 1
	}
	return 0
}

// sentenceRank scores positions right after sentence-ending punctuation and a space.
func sentenceRank(text string, i int) int {
	if i < 2 || !isSpace(text[i-1]) {
		return 0
	}
	switch text[i-2] {
	case '.', '!', '?':
		return 1
	}
	return 0
}

func lineAt(text string, i int) string {
	if j := strings.IndexByte(text[i:], '\n'); j >= 0 {
		return text[i : i+j]
	}
	return text[i:]
}

func prevLine(text string, i int) string {
	end := i - 1
	begin := strings.LastIndexByte(text[:end], '\n') + 1
	return text[begin:end]
}

func isHeading(line string) bool {
	trimmed := strings.TrimLeft(line, "#")
	depth := len(line) - len(trimmed)
	return depth > 0 && depth <= 6 && strings.HasPrefix(trimmed, " ")
}

func isListItem(line string) bool {
	l := strings.TrimLeft(line, " \t")
	if strings.HasPrefix(l, "- ") || strings.HasPrefix(l, "* ") || strings.HasPrefix(l, "+ ") {
		return true
	}
	digits := 0
	for digits < len(l) && l[digits] >= '0' && l[digits] <= '9' {
		digits++
	}
	return digits > 0 && strings.HasPrefix(l[digits:], ". ")
}

func isTableRow(line string) bool {
	return strings.HasPrefix(strings.TrimSpace(line), "|")
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\n' || b == '\t' || b == '\r'
}

type heading struct {
	offset int
	title  string
}

func findHeadings(text string) []heading {
	var out []heading
	offset := 0
	for _, line := range strings.SplitAfter(text, "\n") {
		trimmed := strings.TrimRight(line, "\r\n")
		if isHeading(trimmed) {
			out = append(out, heading{offset: offset, title: strings.TrimSpace(strings.TrimLeft(trimmed, "#"))})
		}
		offset += len(line)
	}
	return out
}

// sectionAt returns the title of the last heading at or before offset.
func sectionAt(headings []heading, offset int) string {
	title := ""
	for _, h := range headings {
		if h.offset > offset {
			break
		}
		title = h.title
	}
	return title
}

func chunkID(documentID string, ordinal int, body string) string {
	name := fmt.Sprintf("%s:%d:%s", documentID, ordinal, domain.TextHash(body))
	return uuid.NewSHA1(chunkNamespace, []byte(name)).String()
}
