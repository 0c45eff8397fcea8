package scan

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/eargollo/warren/internal/config"
	"github.com/eargollo/warren/internal/db"
	"github.com/eargollo/warren/internal/engine"
	"github.com/eargollo/warren/internal/library"
)

// Interactive is the priority of user-triggered scans. It sits between the
// viewer's cursor-cell speculative work and the rest of the viewport rings,
// so opening a folder stays responsive while thumbnails stream in.
const Interactive = engine.Priority(85)

func scanJobID(session, root string) string {
	return fmt.Sprintf("scan::%s::%s", session, root)
}

func indexJobID(root string) string {
	return fmt.Sprintf("index::daemon::%s", root)
}

// Manager starts and stops discovery jobs and keeps scan_history in step
// with them.
type Manager struct {
	eng   *engine.Engine
	lib   *library.Library
	store *db.Store
	cfg   *config.Config

	mu    sync.Mutex
	scans map[string]int64 // job ID -> scan_history row
}

func NewManager(eng *engine.Engine, lib *library.Library, store *db.Store, cfg *config.Config) *Manager {
	return &Manager{eng: eng, lib: lib, store: store, cfg: cfg, scans: make(map[string]int64)}
}

func (m *Manager) iterator(root string) *DirIterator {
	return NewDirIterator(root, Options{
		BatchSize:      m.cfg.Engine.BatchSize,
		MinFileSize:    m.cfg.MinFileSize,
		IgnorePatterns: m.cfg.IgnorePatterns,
	})
}

// StartInteractive launches a viewer-triggered scan of root for the given
// session. Discovery batches stream to the session as progress events;
// produced thumbnail tasks start below the viewport rings and get upgraded
// by the heatmap as they come into view.
func (m *Manager) StartInteractive(ctx context.Context, session, root string) (string, error) {
	jobID := scanJobID(session, root)
	if m.known(jobID) {
		return jobID, nil
	}
	scanID, err := m.store.StartScan(ctx, session, root)
	if err != nil {
		return "", err
	}

	it := m.iterator(root)
	err = m.eng.SubmitSourceJob(engine.SourceJob{
		ID:           jobID,
		Priority:     Interactive,
		TaskPriority: engine.ViewerLow,
		Source:       it,
		Factory:      m.lib.TaskFactory(),
		OnComplete:   m.finisher(jobID, scanID, it),
	})
	if err != nil {
		m.forget(jobID)
		m.closeScan(scanID, 0, "failed")
		return "", err
	}
	return jobID, nil
}

// StartIndex launches a background index of root: quiet, at the lowest
// priority, yielding to everything interactive.
func (m *Manager) StartIndex(ctx context.Context, root string) (string, error) {
	jobID := indexJobID(root)
	if m.known(jobID) {
		return jobID, nil
	}
	scanID, err := m.store.StartScan(ctx, "daemon", root)
	if err != nil {
		return "", err
	}

	it := m.iterator(root)
	err = m.eng.SubmitSourceJob(engine.SourceJob{
		ID:         jobID,
		Priority:   engine.BackgroundScan,
		Source:     it,
		Factory:    m.lib.TaskFactory(),
		Quiet:      true,
		OnComplete: m.finisher(jobID, scanID, it),
	})
	if err != nil {
		m.forget(jobID)
		m.closeScan(scanID, 0, "failed")
		return "", err
	}
	return jobID, nil
}

// Cancel stops a running scan job and closes its history row.
func (m *Manager) Cancel(jobID string) bool {
	if !m.eng.CancelJob(jobID) {
		return false
	}
	m.mu.Lock()
	scanID, ok := m.scans[jobID]
	delete(m.scans, jobID)
	m.mu.Unlock()
	if ok {
		m.closeScan(scanID, 0, "cancelled")
	}
	return true
}

// Demote lowers a scan's continuation priority, typically when its session
// navigates away mid-scan.
func (m *Manager) Demote(jobID string) bool {
	return m.eng.DemoteJob(jobID, engine.BackgroundScan)
}

// Active returns the engine job IDs of all live source jobs.
func (m *Manager) Active() []string {
	return m.eng.JobIDs()
}

func (m *Manager) finisher(jobID string, scanID int64, it *DirIterator) func() []engine.Task {
	m.mu.Lock()
	m.scans[jobID] = scanID
	m.mu.Unlock()

	return func() []engine.Task {
		m.forget(jobID)
		m.closeScan(scanID, it.Seen(), "completed")
		return nil
	}
}

// known reports whether a scan job with this ID is already tracked, so a
// double-submitted scan does not open a second history row.
func (m *Manager) known(jobID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.scans[jobID]
	return ok
}

func (m *Manager) forget(jobID string) {
	m.mu.Lock()
	delete(m.scans, jobID)
	m.mu.Unlock()
}

func (m *Manager) closeScan(scanID, filesSeen int64, status string) {
	// Background context: history rows close even during request teardown.
	if err := m.store.FinishScan(context.Background(), scanID, filesSeen, status); err != nil {
		slog.Warn("failed to close scan history row", "scan", scanID, "error", err)
	}
}
