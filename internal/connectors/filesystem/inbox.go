// Package filesystem feeds files dropped into an inbox directory to the
// ingest service.
//
// The inbox has one subdirectory per notebook: a file written to
// <inbox>/<notebook-id>/report.md is submitted to that notebook once it has
// stopped changing, then moved to <inbox>/<notebook-id>/.processed. Files the
// core rejects go to .failed instead. Hidden files and files at the top
// level of the inbox are ignored.
package filesystem

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/custodia-labs/folio/internal/core/domain"
	"github.com/custodia-labs/folio/internal/core/ports/driving"
	"github.com/custodia-labs/folio/internal/logger"
)

// Defaults.
const (
	// DefaultSettle is how long a file must be quiet before it is submitted.
	DefaultSettle = 500 * time.Millisecond

	// MaxFileSize bounds a single inbox file.
	MaxFileSize = 64 << 20

	processedDir = ".processed"
	failedDir    = ".failed"
)

// eventKind classifies a filesystem event.
type eventKind int

const (
	eventIgnore eventKind = iota
	eventNotebookDir
	eventFile
)

// Inbox watches a directory tree and submits new files for ingestion.
type Inbox struct {
	root   string
	ingest driving.IngestService
	settle time.Duration

	mu      sync.Mutex
	pending map[string]*time.Timer
	wg      sync.WaitGroup
}

// InboxOption configures an Inbox.
type InboxOption func(*Inbox)

// WithSettle overrides the quiet period before submission.
func WithSettle(d time.Duration) InboxOption {
	return func(in *Inbox) {
		if d > 0 {
			in.settle = d
		}
	}
}

// NewInbox creates a watcher rooted at root.
func NewInbox(root string, ingest driving.IngestService, opts ...InboxOption) *Inbox {
	in := &Inbox{
		root:    filepath.Clean(root),
		ingest:  ingest,
		settle:  DefaultSettle,
		pending: make(map[string]*time.Timer),
	}
	for _, opt := range opts {
		opt(in)
	}
	return in
}

// Root returns the watched directory.
func (in *Inbox) Root() string {
	return in.root
}

// Run submits files already waiting in the inbox, then watches for new ones
// until ctx is cancelled. Submissions in flight are allowed to finish.
func (in *Inbox) Run(ctx context.Context) error {
	if err := os.MkdirAll(in.root, 0o755); err != nil {
		return fmt.Errorf("create inbox: %w", err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(in.root); err != nil {
		return fmt.Errorf("watch %s: %w", in.root, err)
	}
	entries, err := os.ReadDir(in.root)
	if err != nil {
		return fmt.Errorf("read inbox: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() && !isHidden(e.Name()) {
			in.watchNotebook(ctx, watcher, filepath.Join(in.root, e.Name()))
		}
	}
	logger.Info("inbox: watching %s", in.root)

	defer in.drain()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			switch in.classify(ev) {
			case eventNotebookDir:
				in.watchNotebook(ctx, watcher, ev.Name)
			case eventFile:
				in.schedule(ctx, ev.Name)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("inbox: watcher error: %v", err)
		}
	}
}

// watchNotebook adds a notebook directory and queues the files already in it.
func (in *Inbox) watchNotebook(ctx context.Context, watcher *fsnotify.Watcher, dir string) {
	if err := watcher.Add(dir); err != nil {
		logger.Warn("inbox: watch %s: %v", dir, err)
		return
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		logger.Warn("inbox: read %s: %v", dir, err)
		return
	}
	for _, e := range entries {
		if e.Type().IsRegular() && !isHidden(e.Name()) {
			in.schedule(ctx, filepath.Join(dir, e.Name()))
		}
	}
}

// classify decides what an event means for the inbox.
func (in *Inbox) classify(ev fsnotify.Event) eventKind {
	if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
		return eventIgnore
	}
	rel, err := filepath.Rel(in.root, ev.Name)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") || isHidden(rel) {
		return eventIgnore
	}
	info, err := os.Stat(ev.Name)
	if err != nil {
		return eventIgnore
	}

	switch depth := len(strings.Split(rel, string(filepath.Separator))); {
	case depth == 1 && info.IsDir() && ev.Has(fsnotify.Create):
		return eventNotebookDir
	case depth == 1:
		logger.Debug("inbox: ignoring %s outside a notebook directory", rel)
		return eventIgnore
	case depth == 2 && info.Mode().IsRegular():
		return eventFile
	default:
		return eventIgnore
	}
}

// schedule (re)starts the quiet-period timer for path.
func (in *Inbox) schedule(ctx context.Context, path string) {
	in.mu.Lock()
	defer in.mu.Unlock()

	if t, ok := in.pending[path]; ok && t.Stop() {
		t.Reset(in.settle)
		return
	}
	in.wg.Add(1)
	var timer *time.Timer
	timer = time.AfterFunc(in.settle, func() {
		defer in.wg.Done()
		in.mu.Lock()
		if in.pending[path] == timer {
			delete(in.pending, path)
		}
		in.mu.Unlock()
		in.submit(ctx, path)
	})
	in.pending[path] = timer
}

// drain cancels timers that have not fired and waits for running submissions.
func (in *Inbox) drain() {
	in.mu.Lock()
	for path, t := range in.pending {
		if t.Stop() {
			in.wg.Done()
		}
		delete(in.pending, path)
	}
	in.mu.Unlock()
	in.wg.Wait()
}

func (in *Inbox) submit(ctx context.Context, path string) {
	if ctx.Err() != nil {
		return
	}
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return
	}
	notebookID := filepath.Base(filepath.Dir(path))
	name := filepath.Base(path)

	if info.Size() > MaxFileSize {
		logger.Warn("inbox: %s exceeds %d bytes", path, MaxFileSize)
		in.move(path, failedDir, name)
		return
	}
	content, err := os.ReadFile(path)
	if err != nil {
		logger.Warn("inbox: read %s: %v", path, err)
		return
	}

	receipt, err := in.ingest.Submit(ctx, driving.IngestRequest{
		NotebookID: notebookID,
		Filename:   name,
		Content:    content,
	})
	if err != nil {
		if rejected(err) {
			logger.Warn("inbox: %s rejected: %v", path, err)
			in.move(path, failedDir, name)
			return
		}
		// Left in place; the next write or restart retries it.
		logger.Error("inbox: submit %s: %v", path, err)
		return
	}
	logger.Info("inbox: submitted %s to notebook %s (job %s)", name, notebookID, receipt.JobID)
	in.move(path, processedDir, receipt.DocumentID+"-"+name)
}

// move relocates path into a hidden subdirectory of its notebook directory.
func (in *Inbox) move(path, sub, name string) {
	dir := filepath.Join(filepath.Dir(path), sub)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		logger.Warn("inbox: create %s: %v", dir, err)
		return
	}
	if err := os.Rename(path, filepath.Join(dir, name)); err != nil {
		logger.Warn("inbox: move %s: %v", path, err)
	}
}

// rejected reports errors that resubmitting the same file cannot fix.
func rejected(err error) bool {
	if errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrUnsupportedType) {
		return true
	}
	return domain.KindOf(err) == domain.KindValidation
}

// isHidden reports whether any element of path starts with a dot.
// "." and ".." are not hidden.
func isHidden(path string) bool {
	for _, part := range strings.Split(filepath.ToSlash(path), "/") {
		if part != "." && part != ".." && strings.HasPrefix(part, ".") {
			return true
		}
	}
	return false
}
