// Package watch feeds live filesystem changes into the library: new and
// modified files become low-priority index tasks, removals drop records.
package watch

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/eargollo/warren/internal/config"
	"github.com/eargollo/warren/internal/engine"
	"github.com/eargollo/warren/internal/library"
	"github.com/eargollo/warren/internal/media"
)

// Watcher translates fsnotify events into library work. Events are debounced
// so a burst of writes (camera import, rsync) collapses into one pass.
type Watcher struct {
	fs       *fsnotify.Watcher
	lib      *library.Library
	minSize  int64
	debounce time.Duration
}

// New creates a Watcher over the given roots, recursively registering every
// subdirectory.
func New(lib *library.Library, cfg *config.Config, roots []string) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{
		fs:       fsw,
		lib:      lib,
		minSize:  cfg.MinFileSize,
		debounce: 500 * time.Millisecond,
	}
	for _, root := range roots {
		if err := w.addTree(root); err != nil {
			slog.Warn("cannot watch root", "root", root, "error", err)
		}
	}
	return w, nil
}

// Run processes events until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.fs.Close()

	touched := make(map[string]struct{})
	removed := make(map[string]struct{})
	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}

	for {
		select {
		case ev, ok := <-w.fs.Events:
			if !ok {
				return nil
			}
			if strings.HasPrefix(filepath.Base(ev.Name), ".") {
				continue
			}
			switch {
			case ev.Op&(fsnotify.Create|fsnotify.Write) != 0:
				touched[ev.Name] = struct{}{}
				delete(removed, ev.Name)
			case ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
				removed[ev.Name] = struct{}{}
				delete(touched, ev.Name)
			}
			timer.Reset(w.debounce)

		case err, ok := <-w.fs.Errors:
			if !ok {
				return nil
			}
			slog.Warn("filesystem watch error", "error", err)

		case <-timer.C:
			w.flush(ctx, touched, removed)
			touched = make(map[string]struct{})
			removed = make(map[string]struct{})

		case <-ctx.Done():
			return nil
		}
	}
}

func (w *Watcher) flush(ctx context.Context, touched, removed map[string]struct{}) {
	for path := range touched {
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		if info.IsDir() {
			// A directory moved in wholesale: watch it and index its files.
			if err := w.addTree(path); err != nil {
				slog.Warn("cannot watch new directory", "dir", path, "error", err)
			}
			w.indexTree(path)
			continue
		}
		w.indexFile(path, info.Size())
	}

	for path := range removed {
		if err := w.lib.RemoveFile(ctx, path); err != nil {
			slog.Warn("failed to drop removed file", "path", path, "error", err)
		}
		// The path may have been a directory; drop anything under it too.
		if n, err := w.lib.RemoveTree(ctx, path); err == nil && n > 0 {
			slog.Info("dropped records under removed directory", "dir", path, "count", n)
		}
	}
}

func (w *Watcher) indexFile(path string, size int64) {
	if !media.Indexable(path) || size < w.minSize {
		return
	}
	w.lib.RequestThumbnails([]string{path}, engine.Low)
}

func (w *Watcher) indexTree(root string) {
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if info, err := d.Info(); err == nil {
			w.indexFile(path, info.Size())
		}
		return nil
	})
	if err != nil {
		slog.Warn("failed to index new directory", "dir", root, "error", err)
	}
}

// addTree registers root and all its subdirectories with fsnotify. fsnotify
// watches are not recursive, so each directory needs its own.
func (w *Watcher) addTree(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if strings.HasPrefix(d.Name(), ".") && path != root {
			return filepath.SkipDir
		}
		return w.fs.Add(path)
	})
}
