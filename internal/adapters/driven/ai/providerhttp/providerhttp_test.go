package providerhttp

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/folio/internal/core/domain"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		status int
		kind   domain.ErrorKind
	}{
		{http.StatusTooManyRequests, domain.KindProvider},
		{http.StatusInternalServerError, domain.KindProvider},
		{529, domain.KindProvider},
		{http.StatusRequestTimeout, domain.KindProvider},
		{http.StatusUnauthorized, domain.KindProviderFatal},
		{http.StatusForbidden, domain.KindProviderFatal},
		{http.StatusPaymentRequired, domain.KindProviderFatal},
		{http.StatusNotFound, domain.KindProviderFatal},
		{http.StatusBadRequest, domain.KindValidation},
		{http.StatusUnprocessableEntity, domain.KindValidation},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			err := Classify("op", tt.status, http.Header{}, nil)
			assert.Equal(t, tt.kind, domain.KindOf(err))
		})
	}
}

func TestClassify_RateLimitCarriesRetryAfter(t *testing.T) {
	header := http.Header{}
	header.Set("Retry-After", "3")

	err := Classify("embed", http.StatusTooManyRequests, header, []byte(`{"error":{"message":"slow down"}}`))

	assert.True(t, domain.IsRetryable(err))
	assert.Equal(t, 3*time.Second, domain.RetryAfterOf(err))
	assert.Contains(t, err.Error(), "slow down")
}

func TestErrorMessage_Shapes(t *testing.T) {
	assert.Equal(t, "nested", errorMessage([]byte(`{"error":{"message":"nested"}}`)))
	assert.Equal(t, "plain", errorMessage([]byte(`{"error":"plain"}`)))
	assert.Equal(t, "top", errorMessage([]byte(`{"message":"top"}`)))
	assert.Equal(t, "not json", errorMessage([]byte("not json")))
	assert.Equal(t, "empty response", errorMessage(nil))

	long := errorMessage([]byte(strings.Repeat("x", 2*maxErrorBody)))
	assert.True(t, strings.HasSuffix(long, "..."))
}

func TestRetryAfter(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	assert.Equal(t, time.Duration(0), RetryAfter("", now))
	assert.Equal(t, 2*time.Second, RetryAfter("2", now))
	assert.Equal(t, 1500*time.Millisecond, RetryAfter("1.5", now))
	assert.Equal(t, time.Duration(0), RetryAfter("-1", now))
	assert.Equal(t, 30*time.Second, RetryAfter(now.Add(30*time.Second).Format(http.TimeFormat), now))
	assert.Equal(t, time.Duration(0), RetryAfter("garbage", now))
}

func TestTransport_CancelledIsNotRetryable(t *testing.T) {
	err := Transport("op", context.Canceled)
	assert.ErrorIs(t, err, domain.ErrCancelled)
	assert.False(t, domain.IsRetryable(err))

	err = Transport("op", errors.New("connection refused"))
	assert.ErrorIs(t, err, domain.ErrProvider)
}

func TestPostJSON_ClassifiesStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "secret", r.Header.Get("X-Key"))
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	_, err := PostJSON(context.Background(), server.Client(), "op", server.URL,
		map[string]string{"X-Key": "secret"}, map[string]string{"a": "b"})
	assert.ErrorIs(t, err, domain.ErrProviderFatal)
}

func lines(body string) io.ReadCloser {
	return io.NopCloser(strings.NewReader(body))
}

func ndjson(line []byte) (string, bool, error) {
	s := string(line)
	switch {
	case s == "END":
		return "", true, nil
	case strings.HasPrefix(s, "ERR"):
		return "", false, domain.NewProviderError("test", errors.New(s), 0)
	default:
		return s, false, nil
	}
}

func TestLineStream_YieldsUntilDone(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	stream := NewLineStream(ctx, cancel, "test", lines("a\n\nb\nEND\nignored\n"), ndjson)

	var got []string
	for {
		part, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		got = append(got, part)
	}
	assert.Equal(t, []string{"a", "b"}, got)

	_, err := stream.Recv()
	assert.ErrorIs(t, err, io.EOF)
	assert.NoError(t, stream.Close())
}

func TestLineStream_TruncatedIsProviderError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	stream := NewLineStream(ctx, cancel, "test", lines("a\n"), ndjson)

	_, err := stream.Recv()
	require.NoError(t, err)
	_, err = stream.Recv()
	assert.ErrorIs(t, err, domain.ErrProvider)
}

func TestLineStream_ErrorEventIsSticky(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	stream := NewLineStream(ctx, cancel, "test", lines("ERR overloaded\nb\n"), ndjson)

	_, err := stream.Recv()
	require.Error(t, err)
	_, again := stream.Recv()
	assert.Equal(t, err, again)
}

func TestLineStream_CloseUnblocksRecv(t *testing.T) {
	reader, writer := io.Pipe()
	ctx, cancel := context.WithCancel(context.Background())
	stream := NewLineStream(ctx, cancel, "test", reader, ndjson)

	_, _ = writer.Write([]byte("first\n"))
	part, err := stream.Recv()
	require.NoError(t, err)
	assert.Equal(t, "first", part)

	done := make(chan error, 1)
	go func() {
		_, err := stream.Recv()
		done <- err
	}()

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, stream.Close())
	require.NoError(t, stream.Close())

	select {
	case err := <-done:
		assert.ErrorIs(t, err, domain.ErrCancelled)
	case <-time.After(time.Second):
		t.Fatal("Recv did not return after Close")
	}
	assert.Error(t, ctx.Err())
}

func TestSSEData(t *testing.T) {
	data, ok := SSEData([]byte(`data: {"x":1}`))
	assert.True(t, ok)
	assert.Equal(t, `{"x":1}`, string(data))

	_, ok = SSEData([]byte("event: ping"))
	assert.False(t, ok)
}
