package ollama

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/folio/internal/core/domain"
	"github.com/custodia-labs/folio/internal/core/ports/driven"
)

func newTestService(t *testing.T, handler http.HandlerFunc) *LLMService {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewLLMService(LLMConfig{BaseURL: server.URL})
}

func TestGenerate(t *testing.T) {
	svc := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/generate", r.URL.Path)

		var req generateRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.False(t, req.Stream)
		assert.Equal(t, "json", req.Format)
		assert.Equal(t, "sys", req.System)
		assert.Equal(t, 50, req.Options.NumPredict)

		_, _ = w.Write([]byte(`{"response":"{}","done":true}`))
	})

	out, err := svc.Generate(context.Background(), "p",
		driven.GenerateOptions{System: "sys", JSON: true, MaxTokens: 50})
	require.NoError(t, err)
	assert.Equal(t, "{}", out)
}

func TestStream_NDJSON(t *testing.T) {
	svc := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)

		var req chatRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.True(t, req.Stream)
		if assert.Len(t, req.Messages, 2) {
			assert.Equal(t, "system", req.Messages[0].Role)
		}

		for _, part := range []string{"The ", "answer"} {
			fmt.Fprintf(w, "{\"message\":{\"role\":\"assistant\",\"content\":%q},\"done\":false}\n", part)
		}
		fmt.Fprint(w, "{\"message\":{\"role\":\"assistant\",\"content\":\"\"},\"done\":true}\n")
	})

	stream, err := svc.Stream(context.Background(),
		[]driven.ChatMessage{{Role: "user", Content: "q"}}, driven.ChatOptions{System: "ctx"})
	require.NoError(t, err)

	var got string
	for {
		part, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		got += part
	}
	assert.Equal(t, "The answer", got)
	assert.NoError(t, stream.Close())
}

func TestStream_ErrorLine(t *testing.T) {
	svc := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "{\"error\":\"out of memory\"}\n")
	})

	stream, err := svc.Stream(context.Background(), nil, driven.ChatOptions{})
	require.NoError(t, err)

	_, err = stream.Recv()
	require.ErrorIs(t, err, domain.ErrProvider)
	assert.Contains(t, err.Error(), "out of memory")
}

func TestStream_CloseWhileBlocked(t *testing.T) {
	release := make(chan struct{})
	svc := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "{\"message\":{\"content\":\"a\"},\"done\":false}\n")
		w.(http.Flusher).Flush()
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	defer close(release)

	stream, err := svc.Stream(context.Background(), nil, driven.ChatOptions{})
	require.NoError(t, err)

	part, err := stream.Recv()
	require.NoError(t, err)
	assert.Equal(t, "a", part)

	done := make(chan error, 1)
	go func() {
		_, err := stream.Recv()
		done <- err
	}()
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, stream.Close())

	select {
	case err := <-done:
		assert.ErrorIs(t, err, domain.ErrCancelled)
	case <-time.After(2 * time.Second):
		t.Fatal("Recv still blocked after Close")
	}
}

func TestStream_ContextCancel(t *testing.T) {
	svc := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	})

	ctx, cancel := context.WithCancel(context.Background())
	stream, err := svc.Stream(ctx, nil, driven.ChatOptions{})
	require.NoError(t, err)
	defer stream.Close()

	cancel()
	_, err = stream.Recv()
	assert.Equal(t, domain.KindCancelled, domain.KindOf(err))
}
