// Package watcher keeps the index in sync with the vault by watching the
// filesystem. Raw fsnotify events are debounced per file and delivered as
// coalesced batches, so an editor save burst becomes a single upsert.
package watcher

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Handler receives coalesced vault events. Paths are vault-relative with
// forward slashes.
type Handler func(ctx context.Context, events []Event)

// Watcher watches a vault directory tree for markdown changes.
type Watcher struct {
	root     string
	fsw      *fsnotify.Watcher
	debounce *Debouncer
	handler  Handler
	logger   *slog.Logger

	ctx context.Context
}

// New creates a watcher over the vault root. All existing subdirectories
// are registered; directories created later are picked up from their create
// events.
func New(root string, window time.Duration, handler Handler, logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create filesystem watcher: %w", err)
	}

	w := &Watcher{
		root:    root,
		fsw:     fsw,
		handler: handler,
		logger:  logger,
	}
	w.debounce = NewDebouncer(window, w.deliver)

	if err := w.addRecursive(root); err != nil {
		fsw.Close()
		return nil, err
	}
	return w, nil
}

// Run processes events until ctx is canceled.
func (w *Watcher) Run(ctx context.Context) error {
	w.ctx = ctx
	defer w.fsw.Close()
	defer w.debounce.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			w.handleRaw(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watch_error", slog.String("error", err.Error()))
		}
	}
}

func (w *Watcher) handleRaw(ev fsnotify.Event) {
	// New directories must be registered before their contents change.
	if ev.Op.Has(fsnotify.Create) {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if err := w.addRecursive(ev.Name); err != nil {
				w.logger.Warn("watch_add_failed",
					slog.String("path", ev.Name), slog.String("error", err.Error()))
			}
			return
		}
	}

	if !isMarkdown(ev.Name) {
		return
	}
	rel, err := filepath.Rel(w.root, ev.Name)
	if err != nil {
		return
	}
	rel = filepath.ToSlash(rel)

	switch {
	case ev.Op.Has(fsnotify.Create):
		w.debounce.Add(rel, Create)
	case ev.Op.Has(fsnotify.Write):
		w.debounce.Add(rel, Modify)
	case ev.Op.Has(fsnotify.Remove), ev.Op.Has(fsnotify.Rename):
		w.debounce.Add(rel, Delete)
	}
}

// deliver hands a coalesced batch to the handler.
func (w *Watcher) deliver(events []Event) {
	ctx := w.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	if ctx.Err() != nil {
		return
	}
	w.handler(ctx, events)
}

// addRecursive registers a directory and all its subdirectories, skipping
// hidden ones.
func (w *Watcher) addRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(path); err != nil {
			return fmt.Errorf("watch %s: %w", path, err)
		}
		return nil
	})
}

func isMarkdown(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".md")
}
