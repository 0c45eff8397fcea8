// Package library owns the per-file processing tasks: thumbnail and preview
// rendering, metadata extraction, content hashing, and record cleanup. It
// translates file paths into engine tasks and persists results in the store.
package library

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/eargollo/warren/internal/config"
	"github.com/eargollo/warren/internal/db"
	"github.com/eargollo/warren/internal/engine"
	"github.com/eargollo/warren/internal/media"
)

// Library wires the store, the renderer, and the engine together.
type Library struct {
	store  *db.Store
	render *media.Renderer
	eng    *engine.Engine

	thumbSize   config.ImageSize
	previewSize config.ImageSize
}

func New(store *db.Store, render *media.Renderer, eng *engine.Engine, cfg *config.Config) *Library {
	return &Library{
		store:       store,
		render:      render,
		eng:         eng,
		thumbSize:   cfg.Thumbnail,
		previewSize: cfg.Preview,
	}
}

// Task ID conventions. One task per path per kind, so duplicate requests
// coalesce in the engine.
func ThumbTaskID(path string) string   { return "thumb::" + path }
func MetaTaskID(path string) string    { return "meta::" + path }
func PreviewTaskID(path string) string { return "view::" + path }
func HashTaskID(path string) string    { return "hash::" + path }

// cleanupTaskID scopes chunk keys to one sweep so chunks from overlapping
// sweeps never coalesce in the engine.
func cleanupTaskID(run int64, n int) string { return fmt.Sprintf("cleanup::%d::%d", run, n) }

// IndexTasks builds the processing tasks for one discovered path: a thumbnail
// task that also refreshes the file record, and a metadata task depending on
// it. The dependency guarantees the record exists before metadata is written.
func (l *Library) IndexTasks(path string, pri engine.Priority) []engine.Task {
	return []engine.Task{
		{
			ID:       ThumbTaskID(path),
			Priority: pri,
			Run:      l.thumbPayload(path),
		},
		{
			ID:           MetaTaskID(path),
			Priority:     pri,
			Dependencies: []string{ThumbTaskID(path)},
			Run:          l.metaPayload(path),
		},
	}
}

// TaskFactory adapts IndexTasks to the engine's source-job factory shape.
func (l *Library) TaskFactory() engine.TaskFactory {
	return func(path string, pri engine.Priority) []engine.Task {
		return l.IndexTasks(path, pri)
	}
}

// thumbPayload refreshes the file record from disk, then renders the
// thumbnail unless the record already has a current one. Render failures for
// undecodable files are logged and skipped, not failed, so downstream
// metadata still runs.
func (l *Library) thumbPayload(path string) engine.Payload {
	return func(ctx context.Context, cancel *engine.Flag) error {
		if cancel.IsSet() {
			return nil
		}
		info, err := os.Stat(path)
		if err != nil {
			// File vanished between discovery and processing.
			slog.Debug("skipping vanished file", "path", path)
			return nil
		}
		changed, err := l.store.UpsertFile(ctx, path, info.Size(), info.ModTime().Unix())
		if err != nil {
			return err
		}
		if !changed {
			if rec, err := l.store.File(ctx, path); err == nil && rec.ThumbPath != "" {
				return nil
			}
		}
		if cancel.IsSet() {
			return nil
		}
		out, err := l.render.RenderThumbnail(path, l.thumbSize.MaxWidth, l.thumbSize.MaxHeight)
		if err != nil {
			if !errors.Is(err, media.ErrUnsupported) {
				slog.Warn("thumbnail render failed", "path", path, "error", err)
			}
			return nil
		}
		if cancel.IsSet() {
			return nil
		}
		return l.store.SetThumbnail(ctx, path, out)
	}
}

func (l *Library) metaPayload(path string) engine.Payload {
	return func(ctx context.Context, cancel *engine.Flag) error {
		if cancel.IsSet() {
			return nil
		}
		if rec, err := l.store.File(ctx, path); err != nil || rec.Metadata != "" {
			// Vanished before indexing, or already extracted.
			return nil
		}
		metaJSON, err := media.MetadataJSON(path)
		if err != nil {
			return err
		}
		if cancel.IsSet() {
			return nil
		}
		return l.store.SetMetadata(ctx, path, metaJSON)
	}
}

// RequestThumbnails schedules thumbnail work for the given paths at the given
// priority. Paths already queued lower are upgraded in place; the rest are
// submitted fresh. The engine coalesces, so calling this on every viewport
// change is cheap.
func (l *Library) RequestThumbnails(paths []string, pri engine.Priority) {
	for _, p := range paths {
		for _, t := range l.IndexTasks(p, pri) {
			if err := l.eng.Submit(t); err != nil {
				if errors.Is(err, engine.ErrShuttingDown) {
					return
				}
				slog.Warn("thumbnail request rejected", "path", p, "error", err)
			}
		}
	}
}

// DowngradeThumbnails lowers priority for paths that scrolled out of view.
func (l *Library) DowngradeThumbnails(paths []string, pri engine.Priority) {
	ids := make([]string, 0, len(paths)*2)
	for _, p := range paths {
		ids = append(ids, ThumbTaskID(p), MetaTaskID(p))
	}
	l.eng.Downgrade(ids, pri)
}

// DowngradePreviews lowers priority for speculative previews whose cells
// left the cursor zone.
func (l *Library) DowngradePreviews(paths []string, pri engine.Priority) {
	ids := make([]string, 0, len(paths))
	for _, p := range paths {
		ids = append(ids, PreviewTaskID(p))
	}
	l.eng.Downgrade(ids, pri)
}

// RequestPreview schedules a full-resolution preview render for one path at
// the top preview priority, for an item the user actually opened.
func (l *Library) RequestPreview(path string) error {
	return l.RequestPreviewAt(path, engine.Fullres)
}

// RequestPreviewAt schedules a preview render at an arbitrary priority, used
// for speculative renders around the cursor.
func (l *Library) RequestPreviewAt(path string, pri engine.Priority) error {
	return l.eng.Submit(engine.Task{
		ID:       PreviewTaskID(path),
		Priority: pri,
		Run: func(ctx context.Context, cancel *engine.Flag) error {
			if cancel.IsSet() {
				return nil
			}
			out, err := l.render.RenderPreview(path, l.previewSize.MaxWidth, l.previewSize.MaxHeight)
			if err != nil {
				if errors.Is(err, media.ErrUnsupported) {
					return nil
				}
				return err
			}
			return l.store.SetPreview(ctx, path, out)
		},
	})
}

// HashTask builds a content-hash backfill task for one path.
func (l *Library) HashTask(path string) engine.Task {
	return engine.Task{
		ID:       HashTaskID(path),
		Priority: engine.ContentHash,
		Quiet:    true,
		Run: func(ctx context.Context, cancel *engine.Flag) error {
			if cancel.IsSet() {
				return nil
			}
			sum, err := media.ContentHash(path)
			if err != nil {
				if os.IsNotExist(err) || errors.Is(err, os.ErrNotExist) {
					return nil
				}
				return err
			}
			if cancel.IsSet() {
				return nil
			}
			err = l.store.SetContentHash(ctx, path, sum)
			if errors.Is(err, db.ErrNotFound) {
				return nil
			}
			return err
		},
	}
}

// CleanupTasks chunks removed paths into low-priority tasks that cancel any
// pending work, delete the records, and drop cached derivatives.
func (l *Library) CleanupTasks(removed []string, chunkSize int) []engine.Task {
	if chunkSize <= 0 {
		chunkSize = 100
	}
	run := time.Now().UnixNano()
	var tasks []engine.Task
	for n, i := 0, 0; i < len(removed); n, i = n+1, i+chunkSize {
		chunk := removed[i:min(i+chunkSize, len(removed))]
		tasks = append(tasks, engine.Task{
			ID:       cleanupTaskID(run, n),
			Priority: engine.Low,
			Quiet:    true,
			Run:      l.cleanupPayload(chunk),
		})
	}
	return tasks
}

func (l *Library) cleanupPayload(chunk []string) engine.Payload {
	return func(ctx context.Context, cancel *engine.Flag) error {
		for _, p := range chunk {
			if cancel.IsSet() {
				return nil
			}
			if err := l.RemoveFile(ctx, p); err != nil {
				return err
			}
		}
		return nil
	}
}

// RemoveTree drops every indexed path under dir. Cached derivatives are left
// for the maintenance sweep; the exact set of affected paths is unknown here.
func (l *Library) RemoveTree(ctx context.Context, dir string) (int64, error) {
	return l.store.DeleteUnder(ctx, dir)
}

// RemoveFile drops one path from the index: cancels pending tasks, deletes
// the record, and removes cached derivatives.
func (l *Library) RemoveFile(ctx context.Context, path string) error {
	l.eng.Cancel(ThumbTaskID(path), MetaTaskID(path), PreviewTaskID(path), HashTaskID(path))
	if err := l.store.Delete(ctx, path); err != nil {
		return err
	}
	l.render.Remove(path)
	return nil
}
