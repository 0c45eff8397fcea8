package session

import (
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/eargollo/warren/internal/config"
	"github.com/eargollo/warren/internal/db"
	"github.com/eargollo/warren/internal/engine"
	"github.com/eargollo/warren/internal/library"
	"github.com/eargollo/warren/internal/media"
)

// newTestManager builds a session manager over a stopped engine, so
// submitted tasks stay queued and their priorities can be inspected.
func newTestManager(tb testing.TB) (*Manager, *engine.Engine) {
	tb.Helper()

	sqlDB, err := db.Open(filepath.Join(tb.TempDir(), "test.db"))
	if err != nil {
		tb.Fatal(err)
	}
	if err := db.RunMigrations(sqlDB); err != nil {
		tb.Fatal(err)
	}
	tb.Cleanup(func() { sqlDB.Close() })

	render, err := media.NewRenderer(tb.TempDir())
	if err != nil {
		tb.Fatal(err)
	}

	eng := engine.New(engine.Config{Workers: 1})
	cfg := &config.Config{
		Thumbnail: config.ImageSize{MaxWidth: 32, MaxHeight: 32},
		Preview:   config.ImageSize{MaxWidth: 64, MaxHeight: 64},
	}
	lib := library.New(db.NewStore(sqlDB), render, eng, cfg)
	return NewManager(lib), eng
}

// gridPaths returns n fake paths laid out row-major.
func gridPaths(n int) []string {
	paths := make([]string, n)
	for i := range paths {
		paths[i] = fmt.Sprintf("/photos/img%04d.jpg", i)
	}
	return paths
}

func taskPriority(eng *engine.Engine, id string) (engine.Priority, bool) {
	for _, info := range eng.Tasks() {
		if info.ID == id {
			return info.Priority, true
		}
	}
	return 0, false
}

func TestOpenClose(t *testing.T) {
	m, _ := newTestManager(t)

	a := m.Open()
	b := m.Open()
	if a == "" || a == b {
		t.Fatalf("session IDs not unique: %q, %q", a, b)
	}
	if len(m.IDs()) != 2 {
		t.Fatalf("IDs() = %v", m.IDs())
	}

	if err := m.Close(a); err != nil {
		t.Fatal(err)
	}
	if err := m.Close(a); !errors.Is(err, ErrUnknownSession) {
		t.Fatalf("second close: %v", err)
	}
}

func TestUpdateViewportAssignsRingPriorities(t *testing.T) {
	m, eng := newTestManager(t)
	id := m.Open()

	paths := gridPaths(100)
	err := m.UpdateViewport(id, Viewport{Paths: paths, Columns: 10, CenterRow: 5, CenterCol: 5})
	if err != nil {
		t.Fatal(err)
	}

	// Center cell: primary ring 0.
	if pri, ok := taskPriority(eng, library.ThumbTaskID(paths[55])); !ok || pri != engine.Viewer {
		t.Errorf("center thumb priority = (%d,%v), want 90", pri, ok)
	}
	// Manhattan distance 3.
	if pri, ok := taskPriority(eng, library.ThumbTaskID(paths[25])); !ok || pri != 81 {
		t.Errorf("ring-3 thumb priority = (%d,%v), want 81", pri, ok)
	}
	// Speculative preview of the cursor cell.
	if pri, ok := taskPriority(eng, library.PreviewTaskID(paths[55])); !ok || pri != 87 {
		t.Errorf("cursor preview priority = (%d,%v), want 87", pri, ok)
	}
}

func TestPointerMoveRerangesPriorities(t *testing.T) {
	m, eng := newTestManager(t)
	id := m.Open()
	paths := gridPaths(100)

	if err := m.UpdateViewport(id, Viewport{Paths: paths, Columns: 10, CenterRow: 5, CenterCol: 5}); err != nil {
		t.Fatal(err)
	}
	if err := m.UpdateViewport(id, Viewport{Paths: paths, Columns: 10, CenterRow: 5, CenterCol: 8}); err != nil {
		t.Fatal(err)
	}

	// New center gets the top priority.
	if pri, ok := taskPriority(eng, library.ThumbTaskID(paths[58])); !ok || pri != engine.Viewer {
		t.Errorf("new center priority = (%d,%v), want 90", pri, ok)
	}
	// Old center is now at distance 3 and must have been lowered.
	if pri, ok := taskPriority(eng, library.ThumbTaskID(paths[55])); !ok || pri != 81 {
		t.Errorf("old center priority = (%d,%v), want 81", pri, ok)
	}
}

func TestScrollAwayDemotesToLow(t *testing.T) {
	m, eng := newTestManager(t)
	id := m.Open()

	first := gridPaths(100)
	if err := m.UpdateViewport(id, Viewport{Paths: first, Columns: 10, CenterRow: 5, CenterCol: 5}); err != nil {
		t.Fatal(err)
	}

	// Navigate to a completely different folder.
	second := make([]string, 50)
	for i := range second {
		second[i] = fmt.Sprintf("/other/pic%04d.jpg", i)
	}
	if err := m.UpdateViewport(id, Viewport{Paths: second, Columns: 10, CenterRow: 0, CenterCol: 0}); err != nil {
		t.Fatal(err)
	}

	// Old work is demoted, not cancelled.
	if pri, ok := taskPriority(eng, library.ThumbTaskID(first[55])); !ok || pri != engine.Low {
		t.Errorf("old center priority = (%d,%v), want low", pri, ok)
	}
	if pri, ok := taskPriority(eng, library.ThumbTaskID(second[0])); !ok || pri != engine.Viewer {
		t.Errorf("new center priority = (%d,%v), want 90", pri, ok)
	}
}

func TestMarkLoadedSkipsPrimary(t *testing.T) {
	m, eng := newTestManager(t)
	id := m.Open()
	paths := gridPaths(100)

	if err := m.MarkLoaded(id, []string{paths[55]}); err != nil {
		t.Fatal(err)
	}
	if err := m.UpdateViewport(id, Viewport{Paths: paths, Columns: 10, CenterRow: 5, CenterCol: 5}); err != nil {
		t.Fatal(err)
	}

	if _, ok := taskPriority(eng, library.ThumbTaskID(paths[55])); ok {
		t.Error("loaded path still got a thumbnail task")
	}
	// The speculative preview zone ignores the loaded set.
	if _, ok := taskPriority(eng, library.PreviewTaskID(paths[55])); !ok {
		t.Error("loaded path missing its speculative preview task")
	}
}

func TestCloseDemotesAssignedWork(t *testing.T) {
	m, eng := newTestManager(t)
	id := m.Open()
	paths := gridPaths(100)

	if err := m.UpdateViewport(id, Viewport{Paths: paths, Columns: 10, CenterRow: 5, CenterCol: 5}); err != nil {
		t.Fatal(err)
	}
	if err := m.Close(id); err != nil {
		t.Fatal(err)
	}

	if pri, ok := taskPriority(eng, library.ThumbTaskID(paths[55])); !ok || pri != engine.Low {
		t.Errorf("thumb priority after close = (%d,%v), want low", pri, ok)
	}
	if pri, ok := taskPriority(eng, library.PreviewTaskID(paths[55])); !ok || pri != engine.Low {
		t.Errorf("preview priority after close = (%d,%v), want low", pri, ok)
	}
}

func TestOperationsOnUnknownSession(t *testing.T) {
	m, _ := newTestManager(t)

	if err := m.UpdateViewport("nope", Viewport{}); !errors.Is(err, ErrUnknownSession) {
		t.Errorf("UpdateViewport: %v", err)
	}
	if err := m.MarkLoaded("nope", nil); !errors.Is(err, ErrUnknownSession) {
		t.Errorf("MarkLoaded: %v", err)
	}
	if err := m.RequestFullres("nope", "/a.jpg"); !errors.Is(err, ErrUnknownSession) {
		t.Errorf("RequestFullres: %v", err)
	}
}
