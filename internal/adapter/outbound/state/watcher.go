package state

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// defaultDebounce coalesces the event bursts editors and atomic renames emit.
const defaultDebounce = 500 * time.Millisecond

// DocumentWatcher reloads the policy document when it is edited outside the
// admin API (a text editor, configuration management, another process). It
// watches the document's directory rather than the file itself so atomic
// rename-into-place writes keep being observed.
type DocumentWatcher struct {
	docs     *FileDocumentStore
	reload   func(*Document) error
	debounce time.Duration
	logger   *slog.Logger

	running chan struct{} // closed when the event loop exits
}

// NewDocumentWatcher creates a watcher that calls reload with each freshly
// loaded document after an external change.
func NewDocumentWatcher(docs *FileDocumentStore, reload func(*Document) error, logger *slog.Logger) *DocumentWatcher {
	return &DocumentWatcher{
		docs:     docs,
		reload:   reload,
		debounce: defaultDebounce,
		logger:   logger,
	}
}

// Start begins watching. It returns once the underlying fsnotify watcher is
// registered; the event loop runs until ctx is cancelled.
func (w *DocumentWatcher) Start(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}

	dir := filepath.Dir(w.docs.Path())
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	w.running = make(chan struct{})
	go w.processEvents(ctx, watcher)

	w.logger.Info("watching policy document", "path", w.docs.Path())
	return nil
}

// Running reports whether the event loop is active.
func (w *DocumentWatcher) Running() bool {
	if w.running == nil {
		return false
	}
	select {
	case <-w.running:
		return false
	default:
		return true
	}
}

// Wait blocks until the event loop has exited.
func (w *DocumentWatcher) Wait() {
	if w.running != nil {
		<-w.running
	}
}

func (w *DocumentWatcher) processEvents(ctx context.Context, watcher *fsnotify.Watcher) {
	defer close(w.running)
	defer func() { _ = watcher.Close() }()

	var timer *time.Timer
	var timerC <-chan time.Time

	target := filepath.Clean(w.docs.Path())

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			// Debounce: restart the timer on every event in the burst.
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				timerC = timer.C
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(w.debounce)
			}

		case <-timerC:
			timer = nil
			timerC = nil
			w.handleChange()

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("policy document watch error", "error", err)
		}
	}
}

// handleChange reloads the document and invokes the callback unless the
// change was our own Save (same revision as the last write).
func (w *DocumentWatcher) handleChange() {
	doc, err := w.docs.Load()
	if err != nil {
		w.logger.Error("failed to reload policy document after change", "error", err)
		return
	}

	rev := doc.Revision()
	if rev == w.docs.LastSavedRevision() {
		w.logger.Debug("ignoring self-write", "revision", rev)
		return
	}

	if err := w.reload(doc); err != nil {
		w.logger.Error("failed to apply reloaded policy document", "error", err)
		return
	}
	w.logger.Info("policy document reloaded after external change", "revision", rev)
}
