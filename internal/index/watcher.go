package index

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultWatchDebounce coalesces rapid events on the same file.
const DefaultWatchDebounce = 500 * time.Millisecond

// Watcher ingests files dropped under <root>/<org_id>/. A file that fails
// ingestion is renamed to <name>.failed so it is not retried forever and
// the operator can inspect it.
type Watcher struct {
	root     string
	debounce time.Duration
	pipeline *Pipeline
	logger   *slog.Logger

	mu      sync.Mutex
	pending map[string]*time.Timer

	fsw    *fsnotify.Watcher
	stopCh chan struct{}
	doneCh chan struct{}
}

// NewWatcher builds a drop-directory watcher rooted at root.
func NewWatcher(root string, debounce time.Duration, pipeline *Pipeline, logger *slog.Logger) (*Watcher, error) {
	if debounce <= 0 {
		debounce = DefaultWatchDebounce
	}
	if logger == nil {
		logger = slog.Default()
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		root:     root,
		debounce: debounce,
		pipeline: pipeline,
		logger:   logger,
		pending:  make(map[string]*time.Timer),
		fsw:      fsw,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}, nil
}

// Start watches the root and its per-organization subdirectories, then
// runs the event loop until the context ends or Stop is called. Files
// already present at startup are ingested once.
func (w *Watcher) Start(ctx context.Context) error {
	if err := os.MkdirAll(w.root, 0o755); err != nil {
		return err
	}
	if err := w.fsw.Add(w.root); err != nil {
		return err
	}

	entries, err := os.ReadDir(w.root)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		orgDir := filepath.Join(w.root, entry.Name())
		if err := w.fsw.Add(orgDir); err != nil {
			w.logger.Warn("watch org directory failed",
				slog.String("dir", orgDir), slog.String("error", err.Error()))
			continue
		}
		w.ingestExisting(ctx, orgDir)
	}

	go w.loop(ctx)
	return nil
}

// Stop ends the event loop and releases the OS watch handles.
func (w *Watcher) Stop() error {
	select {
	case <-w.stopCh:
	default:
		close(w.stopCh)
	}
	err := w.fsw.Close()
	<-w.doneCh
	return err
}

func (w *Watcher) loop(ctx context.Context) {
	defer close(w.doneCh)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(ctx, event)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watcher error", slog.String("error", err.Error()))
		}
	}
}

func (w *Watcher) handleEvent(ctx context.Context, event fsnotify.Event) {
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
		return
	}

	info, err := os.Stat(event.Name)
	if err != nil {
		return
	}

	if info.IsDir() {
		// New organization directory at the top level.
		if filepath.Dir(event.Name) == w.root {
			if err := w.fsw.Add(event.Name); err != nil {
				w.logger.Warn("watch org directory failed",
					slog.String("dir", event.Name), slog.String("error", err.Error()))
			}
		}
		return
	}

	w.schedule(ctx, event.Name)
}

// schedule debounces per path: repeated writes reset the timer, and the
// file is ingested once it has been quiet for the debounce window.
func (w *Watcher) schedule(ctx context.Context, path string) {
	if strings.HasSuffix(path, ".failed") || strings.HasPrefix(filepath.Base(path), ".") {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if timer, ok := w.pending[path]; ok {
		timer.Reset(w.debounce)
		return
	}
	w.pending[path] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.pending, path)
		w.mu.Unlock()
		w.ingestFile(ctx, path)
	})
}

func (w *Watcher) ingestExisting(ctx context.Context, orgDir string) {
	entries, err := os.ReadDir(orgDir)
	if err != nil {
		return
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if strings.HasSuffix(name, ".failed") || strings.HasPrefix(name, ".") {
			continue
		}
		w.ingestFile(ctx, filepath.Join(orgDir, name))
	}
}

// ingestFile pushes one dropped file through the pipeline. The org is the
// name of the directory the file sits in; success removes the file,
// failure renames it aside.
func (w *Watcher) ingestFile(ctx context.Context, path string) {
	rel, err := filepath.Rel(w.root, path)
	if err != nil {
		return
	}
	parts := strings.SplitN(filepath.ToSlash(rel), "/", 2)
	if len(parts) != 2 {
		// File dropped at the root has no organization; ignore it.
		return
	}
	orgID, filename := parts[0], parts[1]

	content, err := os.ReadFile(path)
	if err != nil {
		w.logger.Warn("drop-dir read failed",
			slog.String("path", path), slog.String("error", err.Error()))
		return
	}

	docID, err := w.pipeline.Ingest(ctx, filename, content, orgID)
	if err != nil {
		w.logger.Warn("drop-dir ingest failed",
			slog.String("path", path),
			slog.String("organization_id", orgID),
			slog.String("error", err.Error()))
		if renameErr := os.Rename(path, path+".failed"); renameErr != nil {
			w.logger.Warn("drop-dir quarantine failed",
				slog.String("path", path), slog.String("error", renameErr.Error()))
		}
		return
	}

	w.logger.Info("drop-dir ingest complete",
		slog.String("filename", filename),
		slog.String("organization_id", orgID),
		slog.String("doc_id", docID))
	if err := os.Remove(path); err != nil {
		w.logger.Warn("drop-dir cleanup failed",
			slog.String("path", path), slog.String("error", err.Error()))
	}
}
