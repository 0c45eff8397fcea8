// Package scheduler runs nightly maintenance: orphan sweeps, derivative
// cache cleanup, and backfill of missing hashes and thumbnails.
package scheduler

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/eargollo/warren/internal/db"
	"github.com/eargollo/warren/internal/engine"
	"github.com/eargollo/warren/internal/library"
	"github.com/eargollo/warren/internal/media"
	"github.com/eargollo/warren/internal/trash"
)

// backfillLimit bounds how much catch-up work one maintenance run submits.
// Whatever is left gets picked up next run.
const backfillLimit = 5000

// Scheduler wraps robfig/cron around the maintenance run and tracks the next
// scheduled time.
type Scheduler struct {
	mu       sync.RWMutex
	c        *cron.Cron
	entryID  cron.EntryID
	cronExpr string

	maint *Maintenance
}

// New creates a stopped Scheduler. Call Schedule and Start to activate it.
func New(maint *Maintenance) *Scheduler {
	return &Scheduler{c: cron.New(), maint: maint}
}

// Schedule replaces the maintenance schedule with the given cron expression.
// Takes effect immediately if the scheduler is running.
func (s *Scheduler) Schedule(expr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.entryID != 0 {
		s.c.Remove(s.entryID)
	}
	id, err := s.c.AddFunc(expr, func() {
		s.maint.Run(context.Background())
	})
	if err != nil {
		return err
	}
	s.entryID = id
	s.cronExpr = expr
	slog.Info("maintenance scheduled", "cron", expr)
	return nil
}

// Start begins the cron loop.
func (s *Scheduler) Start() { s.c.Start() }

// Stop halts the cron loop gracefully.
func (s *Scheduler) Stop() { s.c.Stop() }

// NextRunAt returns the next scheduled time, or nil if no job is set.
func (s *Scheduler) NextRunAt() *time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.entryID == 0 {
		return nil
	}
	entry := s.c.Entry(s.entryID)
	if entry.ID == 0 {
		return nil
	}
	t := entry.Next
	return &t
}

// CronExpr returns the current cron expression.
func (s *Scheduler) CronExpr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cronExpr
}

// Maintenance holds the dependencies of one maintenance run.
type Maintenance struct {
	store  *db.Store
	lib    *library.Library
	render *media.Renderer
	eng    *engine.Engine
	trash  *trash.Manager
}

func NewMaintenance(store *db.Store, lib *library.Library, render *media.Renderer, eng *engine.Engine, tr *trash.Manager) *Maintenance {
	return &Maintenance{store: store, lib: lib, render: render, eng: eng, trash: tr}
}

// Run performs one maintenance pass. All produced work goes through the
// engine at background priorities, so a run during the day never competes
// with a viewer.
func (m *Maintenance) Run(ctx context.Context) {
	started := time.Now()
	orphans, live := m.sweepIndex(ctx)
	m.sweepCache(live)
	m.backfill(ctx)
	if m.trash != nil {
		if err := m.trash.AutoPurge(ctx); err != nil {
			slog.Warn("trash auto-purge failed", "error", err)
		}
	}
	slog.Info("maintenance run finished",
		"orphans", orphans, "elapsed", time.Since(started))
}

// sweepIndex finds indexed paths that no longer exist on disk, submits
// cleanup tasks for them, and returns the cache keep set of live paths.
func (m *Maintenance) sweepIndex(ctx context.Context) (int, map[string]struct{}) {
	var removed []string
	live := make(map[string]struct{})
	err := m.store.AllPaths(ctx, func(path string) error {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			removed = append(removed, path)
		} else {
			live[media.CacheName(path)] = struct{}{}
		}
		return ctx.Err()
	})
	if err != nil {
		slog.Warn("orphan sweep aborted", "error", err)
		return 0, live
	}
	for _, t := range m.lib.CleanupTasks(removed, 100) {
		if err := m.eng.Submit(t); err != nil {
			slog.Warn("cleanup task rejected", "task", t.ID, "error", err)
		}
	}
	return len(removed), live
}

func (m *Maintenance) sweepCache(live map[string]struct{}) {
	n, err := m.render.SweepOrphans(live)
	if err != nil {
		slog.Warn("cache sweep failed", "error", err)
		return
	}
	if n > 0 {
		slog.Info("cache sweep removed orphaned derivatives", "count", n)
	}
}

// backfill schedules hash and thumbnail work for records missing them.
func (m *Maintenance) backfill(ctx context.Context) {
	paths, err := m.store.PathsMissingHash(ctx, backfillLimit)
	if err != nil {
		slog.Warn("hash backfill query failed", "error", err)
	}
	for _, p := range paths {
		if err := m.eng.Submit(m.lib.HashTask(p)); err != nil {
			slog.Warn("hash task rejected", "path", p, "error", err)
			break
		}
	}

	paths, err = m.store.PathsMissingThumbnail(ctx, backfillLimit)
	if err != nil {
		slog.Warn("thumbnail backfill query failed", "error", err)
	}
	for _, p := range paths {
		for _, t := range m.lib.IndexTasks(p, engine.OrphanScan) {
			if err := m.eng.Submit(t); err != nil {
				slog.Warn("backfill task rejected", "path", p, "error", err)
				return
			}
		}
	}
}
