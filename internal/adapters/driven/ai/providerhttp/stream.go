package providerhttp

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"

	"github.com/custodia-labs/folio/internal/core/domain"
	"github.com/custodia-labs/folio/internal/core/ports/driven"
)

var _ driven.TextStream = (*LineStream)(nil)

// maxLine bounds a single streamed event.
const maxLine = 1 << 20

// DecodeFunc interprets one response line. It returns the text fragment the
// line carries (possibly empty), whether the provider signalled the end of
// the stream, or an error event the provider sent mid-stream.
type DecodeFunc func(line []byte) (fragment string, done bool, err error)

// LineStream reads a newline-delimited streaming response (SSE or NDJSON)
// and yields the fragments decoded from each line.
type LineStream struct {
	op      string
	ctx     context.Context
	cancel  context.CancelFunc
	body    io.ReadCloser
	scanner *bufio.Scanner
	decode  DecodeFunc

	closed atomic.Bool
	once   sync.Once

	// Only touched by the Recv goroutine.
	finished bool
	err      error
}

// NewLineStream wraps a 2xx response body. cancel must cancel the context
// the request was made with; Close calls it to abort a blocked read.
func NewLineStream(ctx context.Context, cancel context.CancelFunc, op string, body io.ReadCloser, decode DecodeFunc) *LineStream {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLine)
	return &LineStream{
		op:      op,
		ctx:     ctx,
		cancel:  cancel,
		body:    body,
		scanner: scanner,
		decode:  decode,
	}
}

// Recv returns the next fragment, or io.EOF once the provider finished.
func (s *LineStream) Recv() (string, error) {
	for {
		if s.err != nil {
			return "", s.err
		}
		if s.finished {
			return "", io.EOF
		}
		if !s.scanner.Scan() {
			s.err = s.endError()
			_ = s.Close()
			return "", s.err
		}
		line := bytes.TrimSpace(s.scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		fragment, done, err := s.decode(line)
		if err != nil {
			s.err = err
			_ = s.Close()
			return "", err
		}
		if done {
			s.finished = true
			_ = s.Close()
		}
		if fragment != "" {
			return fragment, nil
		}
	}
}

// Close aborts the request and releases the body. Safe to call repeatedly
// and concurrently with Recv.
func (s *LineStream) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		s.cancel()
		err = s.body.Close()
	})
	return err
}

func (s *LineStream) endError() error {
	if s.closed.Load() && !s.finished {
		return &domain.Error{Kind: domain.KindCancelled, Op: s.op, Message: "stream closed"}
	}
	if ctxErr := s.ctx.Err(); ctxErr != nil {
		return Transport(s.op, ctxErr)
	}
	if err := s.scanner.Err(); err != nil {
		return Transport(s.op, err)
	}
	return domain.NewProviderError(s.op, errors.New("stream ended before completion"), 0)
}

// SSEData returns the payload of an SSE "data:" line.
func SSEData(line []byte) ([]byte, bool) {
	rest, ok := bytes.CutPrefix(line, []byte("data:"))
	if !ok {
		return nil, false
	}
	return bytes.TrimSpace(rest), true
}
