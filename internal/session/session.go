// Package session tracks per-viewer viewport state and turns pointer and
// scroll updates into engine priority changes via the heatmap.
package session

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/eargollo/warren/internal/engine"
	"github.com/eargollo/warren/internal/heatmap"
	"github.com/eargollo/warren/internal/library"
)

// ErrUnknownSession is returned for operations on a closed or never-opened
// session.
var ErrUnknownSession = errors.New("unknown session")

// Viewport is one client-side view update: the visible item paths in
// row-major order plus the cell the pointer is over.
type Viewport struct {
	Paths     []string `json:"paths"`
	Columns   int      `json:"columns"`
	CenterRow int      `json:"center_row"`
	CenterCol int      `json:"center_col"`
}

type state struct {
	id        string
	view      Viewport
	loaded    map[string]struct{}
	primary   []heatmap.Assignment
	secondary []heatmap.Assignment
}

// Manager owns all viewer sessions.
type Manager struct {
	lib *library.Library

	mu       sync.Mutex
	sessions map[string]*state
}

func NewManager(lib *library.Library) *Manager {
	return &Manager{lib: lib, sessions: make(map[string]*state)}
}

// Open registers a new session and returns its ID.
func (m *Manager) Open() string {
	id := uuid.NewString()
	m.mu.Lock()
	m.sessions[id] = &state{id: id, loaded: make(map[string]struct{})}
	m.mu.Unlock()
	slog.Info("session opened", "session", id)
	return id
}

// Close drops a session and demotes all work it had prioritized. Nothing is
// cancelled: thumbnails in flight are still worth finishing for the index.
func (m *Manager) Close(id string) error {
	m.mu.Lock()
	st, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		return ErrUnknownSession
	}

	m.lib.DowngradeThumbnails(assignedPaths(st.view.Paths, st.primary), engine.Low)
	m.lib.DowngradePreviews(assignedPaths(st.view.Paths, st.secondary), engine.Low)
	slog.Info("session closed", "session", id)
	return nil
}

// IDs returns all open session IDs.
func (m *Manager) IDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	return ids
}

// MarkLoaded records paths whose thumbnails the client already has, so the
// next viewport update assigns them no primary work.
func (m *Manager) MarkLoaded(id string, paths []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.sessions[id]
	if !ok {
		return ErrUnknownSession
	}
	for _, p := range paths {
		st.loaded[p] = struct{}{}
	}
	return nil
}

// UpdateViewport recomputes the heatmap for the new view and applies only
// the delta against the previous one: new or re-ranked cells are submitted
// or upgraded, cells that left the zones are demoted.
func (m *Manager) UpdateViewport(id string, v Viewport) error {
	m.mu.Lock()
	st, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return ErrUnknownSession
	}

	loaded := make(map[int]struct{})
	for i, p := range v.Paths {
		if _, done := st.loaded[p]; done {
			loaded[i] = struct{}{}
		}
	}

	primary, secondary := heatmap.Compute(v.CenterRow, v.CenterCol, v.Columns, len(v.Paths), loaded)

	// Diff against the previous assignments translated into the new path
	// ordering. Indices are view-relative, so diffing is only meaningful by
	// path: changes in the visible set show up as adds and removals. Paths
	// that left the visible set entirely are demoted separately.
	prevPrimary, goneP := reindex(st.view.Paths, st.primary, v.Paths)
	prevSecondary, goneS := reindex(st.view.Paths, st.secondary, v.Paths)

	changedP, removedP := heatmap.Diff(prevPrimary, primary)
	changedS, removedS := heatmap.Diff(prevSecondary, secondary)

	st.view = v
	st.primary = primary
	st.secondary = secondary
	m.mu.Unlock()

	// Submit-then-downgrade settles each cell at exactly its new priority:
	// the submit raises or creates, the downgrade lowers, and whichever
	// direction does not apply is a no-op.
	for _, a := range changedP {
		p := []string{v.Paths[a.Index]}
		m.lib.RequestThumbnails(p, a.Priority)
		m.lib.DowngradeThumbnails(p, a.Priority)
	}
	m.lib.DowngradeThumbnails(append(indexPaths(v.Paths, removedP), goneP...), engine.Low)

	for _, a := range changedS {
		path := v.Paths[a.Index]
		if err := m.lib.RequestPreviewAt(path, a.Priority); err != nil {
			if errors.Is(err, engine.ErrShuttingDown) {
				return nil
			}
			slog.Warn("speculative preview rejected", "path", path, "error", err)
		}
		m.lib.DowngradePreviews([]string{path}, a.Priority)
	}
	m.lib.DowngradePreviews(append(indexPaths(v.Paths, removedS), goneS...), engine.Low)
	return nil
}

// RequestFullres schedules a top-priority preview for an item the user
// opened.
func (m *Manager) RequestFullres(id, path string) error {
	m.mu.Lock()
	_, ok := m.sessions[id]
	m.mu.Unlock()
	if !ok {
		return ErrUnknownSession
	}
	return m.lib.RequestPreview(path)
}

// reindex maps previous assignments into the new view's index space. Paths
// no longer visible come back in gone so the caller can demote them.
func reindex(oldPaths []string, prev []heatmap.Assignment, newPaths []string) (kept []heatmap.Assignment, gone []string) {
	if len(prev) == 0 {
		return nil, nil
	}
	pos := make(map[string]int, len(newPaths))
	for i, p := range newPaths {
		pos[p] = i
	}
	for _, a := range prev {
		if a.Index >= len(oldPaths) {
			continue
		}
		p := oldPaths[a.Index]
		if i, ok := pos[p]; ok {
			kept = append(kept, heatmap.Assignment{Index: i, Priority: a.Priority})
		} else {
			gone = append(gone, p)
		}
	}
	return kept, gone
}

// assignedPaths resolves assignment indices to paths.
func assignedPaths(paths []string, as []heatmap.Assignment) []string {
	out := make([]string, 0, len(as))
	for _, a := range as {
		if a.Index < len(paths) {
			out = append(out, paths[a.Index])
		}
	}
	return out
}

// indexPaths resolves view-relative indices to paths.
func indexPaths(paths []string, indices []int) []string {
	out := make([]string, 0, len(indices))
	for _, i := range indices {
		if i < len(paths) {
			out = append(out, paths[i])
		}
	}
	return out
}
