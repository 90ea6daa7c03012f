package filesystem

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/folio/internal/core/domain"
	"github.com/custodia-labs/folio/internal/core/ports/driving"
)

// mockIngest records submissions and answers with err when set.
type mockIngest struct {
	mu   sync.Mutex
	reqs []driving.IngestRequest
	err  error
	got  chan driving.IngestRequest
}

var _ driving.IngestService = (*mockIngest)(nil)

func newMockIngest() *mockIngest {
	return &mockIngest{got: make(chan driving.IngestRequest, 16)}
}

func (m *mockIngest) Submit(_ context.Context, req driving.IngestRequest) (*driving.IngestReceipt, error) {
	m.mu.Lock()
	m.reqs = append(m.reqs, req)
	err := m.err
	m.mu.Unlock()
	m.got <- req
	if err != nil {
		return nil, err
	}
	return &driving.IngestReceipt{JobID: "job-1", DocumentID: "doc-1"}, nil
}

func (m *mockIngest) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.reqs)
}

func waitRequest(t *testing.T, m *mockIngest) driving.IngestRequest {
	t.Helper()
	select {
	case req := <-m.got:
		return req
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for submission")
		return driving.IngestRequest{}
	}
}

// runInbox starts the watcher and returns a function that stops it.
func runInbox(t *testing.T, in *Inbox) func() {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- in.Run(ctx) }()
	return func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(3 * time.Second):
			t.Error("inbox did not stop")
		}
	}
}

func TestInbox_SubmitsExistingFiles(t *testing.T) {
	root := t.TempDir()
	nbDir := filepath.Join(root, "nb-1")
	require.NoError(t, os.MkdirAll(nbDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(nbDir, "notes.md"), []byte("# Notes"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(nbDir, ".draft.md"), []byte("hidden"), 0o644))

	ingest := newMockIngest()
	stop := runInbox(t, NewInbox(root, ingest, WithSettle(20*time.Millisecond)))

	req := waitRequest(t, ingest)
	stop()

	assert.Equal(t, "nb-1", req.NotebookID)
	assert.Equal(t, "notes.md", req.Filename)
	assert.Equal(t, []byte("# Notes"), req.Content)
	assert.Equal(t, 1, ingest.count())

	assert.FileExists(t, filepath.Join(nbDir, processedDir, "doc-1-notes.md"))
	assert.NoFileExists(t, filepath.Join(nbDir, "notes.md"))
	assert.FileExists(t, filepath.Join(nbDir, ".draft.md"))
}

func TestInbox_SubmitsNewFiles(t *testing.T) {
	root := t.TempDir()
	ingest := newMockIngest()
	stop := runInbox(t, NewInbox(root, ingest, WithSettle(20*time.Millisecond)))
	defer stop()

	// Give the watcher time to register the root.
	time.Sleep(100 * time.Millisecond)
	nbDir := filepath.Join(root, "nb-2")
	require.NoError(t, os.MkdirAll(nbDir, 0o755))
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(nbDir, "page.html"), []byte("<p>hi</p>"), 0o644))

	req := waitRequest(t, ingest)
	assert.Equal(t, "nb-2", req.NotebookID)
	assert.Equal(t, "page.html", req.Filename)
}

func TestInbox_RejectedFilesMoveToFailed(t *testing.T) {
	root := t.TempDir()
	nbDir := filepath.Join(root, "missing-notebook")
	require.NoError(t, os.MkdirAll(nbDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(nbDir, "a.txt"), []byte("text"), 0o644))

	ingest := newMockIngest()
	ingest.err = domain.ErrNotFound
	stop := runInbox(t, NewInbox(root, ingest, WithSettle(20*time.Millisecond)))

	waitRequest(t, ingest)
	stop()

	assert.FileExists(t, filepath.Join(nbDir, failedDir, "a.txt"))
}

func TestInbox_TransientErrorLeavesFile(t *testing.T) {
	root := t.TempDir()
	nbDir := filepath.Join(root, "nb-1")
	require.NoError(t, os.MkdirAll(nbDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(nbDir, "a.txt"), []byte("text"), 0o644))

	ingest := newMockIngest()
	ingest.err = errors.New("database is locked")
	stop := runInbox(t, NewInbox(root, ingest, WithSettle(20*time.Millisecond)))

	waitRequest(t, ingest)
	stop()

	assert.FileExists(t, filepath.Join(nbDir, "a.txt"))
}

func TestInbox_Classify(t *testing.T) {
	root := t.TempDir()
	in := NewInbox(root, newMockIngest())

	nbDir := filepath.Join(root, "nb-1")
	require.NoError(t, os.MkdirAll(filepath.Join(nbDir, "nested"), 0o755))
	file := filepath.Join(nbDir, "a.md")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))
	topFile := filepath.Join(root, "stray.md")
	require.NoError(t, os.WriteFile(topFile, []byte("x"), 0o644))
	hidden := filepath.Join(nbDir, ".a.md")
	require.NoError(t, os.WriteFile(hidden, []byte("x"), 0o644))
	deep := filepath.Join(nbDir, "nested", "b.md")
	require.NoError(t, os.WriteFile(deep, []byte("x"), 0o644))

	tests := []struct {
		name string
		path string
		op   fsnotify.Op
		want eventKind
	}{
		{"new notebook directory", nbDir, fsnotify.Create, eventNotebookDir},
		{"file created", file, fsnotify.Create, eventFile},
		{"file written", file, fsnotify.Write, eventFile},
		{"write with chmod", file, fsnotify.Write | fsnotify.Chmod, eventFile},
		{"chmod only", file, fsnotify.Chmod, eventIgnore},
		{"removed", filepath.Join(nbDir, "gone.md"), fsnotify.Remove, eventIgnore},
		{"file at top level", topFile, fsnotify.Create, eventIgnore},
		{"hidden file", hidden, fsnotify.Create, eventIgnore},
		{"nested too deep", deep, fsnotify.Create, eventIgnore},
		{"outside root", "/tmp", fsnotify.Create, eventIgnore},
		{"root itself", root, fsnotify.Write, eventIgnore},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, in.classify(fsnotify.Event{Name: tt.path, Op: tt.op}))
		})
	}
}

func TestIsHidden(t *testing.T) {
	tests := []struct {
		path     string
		expected bool
	}{
		{".hidden", true},
		{"path/to/.hidden", true},
		{"/path/.hidden/file.txt", true},
		{"nb-1/.processed/doc-1-a.md", true},
		{"file.txt", false},
		{"path/to/file.txt", false},
		{".", false},
		{"..", false},
		{"path/../file", false},
		{"", false},
		{"file.hidden", false},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.expected, isHidden(tt.path))
		})
	}
}

func TestRejected(t *testing.T) {
	assert.True(t, rejected(domain.ErrNotFound))
	assert.True(t, rejected(domain.NewValidationError("empty", nil)))
	assert.True(t, rejected(domain.ErrUnsupportedType))
	assert.False(t, rejected(errors.New("disk full")))
	assert.False(t, rejected(domain.NewProviderError("embed", errors.New("503"), 0)))
}
