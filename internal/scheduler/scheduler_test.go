package scheduler

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/eargollo/warren/internal/config"
	"github.com/eargollo/warren/internal/db"
	"github.com/eargollo/warren/internal/engine"
	"github.com/eargollo/warren/internal/library"
	"github.com/eargollo/warren/internal/media"
	"github.com/eargollo/warren/internal/trash"
)

func newTestMaintenance(tb testing.TB) (*Maintenance, *db.Store, *media.Renderer, *engine.Engine) {
	tb.Helper()

	sqlDB, err := db.Open(filepath.Join(tb.TempDir(), "test.db"))
	if err != nil {
		tb.Fatal(err)
	}
	if err := db.RunMigrations(sqlDB); err != nil {
		tb.Fatal(err)
	}
	tb.Cleanup(func() { sqlDB.Close() })
	store := db.NewStore(sqlDB)

	render, err := media.NewRenderer(tb.TempDir())
	if err != nil {
		tb.Fatal(err)
	}

	// Engine stays stopped so submitted work can be inspected.
	eng := engine.New(engine.Config{Workers: 1})
	cfg := &config.Config{
		Thumbnail: config.ImageSize{MaxWidth: 32, MaxHeight: 32},
		Preview:   config.ImageSize{MaxWidth: 64, MaxHeight: 64},
	}
	lib := library.New(store, render, eng, cfg)
	bin := trash.New(sqlDB, filepath.Join(tb.TempDir(), "trash"), 30)
	return NewMaintenance(store, lib, render, eng, bin), store, render, eng
}

func taskPriority(eng *engine.Engine, id string) (engine.Priority, bool) {
	for _, info := range eng.Tasks() {
		if info.ID == id {
			return info.Priority, true
		}
	}
	return 0, false
}

func TestMaintenanceRunSubmitsBackfillAndCleanup(t *testing.T) {
	maint, store, _, eng := newTestMaintenance(t)
	ctx := context.Background()

	live := filepath.Join(t.TempDir(), "live.jpg")
	if err := os.WriteFile(live, []byte("data"), 0o644); err != nil {
		t.Fatal(err)
	}
	gone := filepath.Join(t.TempDir(), "gone.jpg")

	if _, err := store.UpsertFile(ctx, live, 4, 1); err != nil {
		t.Fatal(err)
	}
	if _, err := store.UpsertFile(ctx, gone, 4, 1); err != nil {
		t.Fatal(err)
	}

	maint.Run(ctx)

	// Live file is missing both hash and thumbnail: backfill work queued.
	if pri, ok := taskPriority(eng, library.HashTaskID(live)); !ok || pri != engine.ContentHash {
		t.Errorf("hash task = (%d,%v), want content-hash priority", pri, ok)
	}
	if pri, ok := taskPriority(eng, library.ThumbTaskID(live)); !ok || pri != engine.OrphanScan {
		t.Errorf("thumb backfill = (%d,%v), want orphan-scan priority", pri, ok)
	}

	// Vanished file gets a low-priority cleanup task.
	found := false
	for _, info := range eng.Tasks() {
		if strings.HasPrefix(info.ID, "cleanup::") {
			found = true
			if info.Priority != engine.Low {
				t.Errorf("cleanup task priority = %d, want low", info.Priority)
			}
		}
	}
	if !found {
		t.Error("no cleanup task queued for the vanished file")
	}
}

func TestMaintenanceSweepsOrphanedDerivatives(t *testing.T) {
	maint, store, render, _ := newTestMaintenance(t)
	ctx := context.Background()

	live := filepath.Join(t.TempDir(), "live.jpg")
	if err := os.WriteFile(live, []byte("data"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := store.UpsertFile(ctx, live, 4, 1); err != nil {
		t.Fatal(err)
	}

	// A derivative for a path that is not indexed at all.
	stray := render.ThumbnailPath("/long/gone.jpg")
	if err := os.WriteFile(stray, []byte("jpg"), 0o644); err != nil {
		t.Fatal(err)
	}
	// And one for the live path, which must survive.
	kept := render.ThumbnailPath(live)
	if err := os.WriteFile(kept, []byte("jpg"), 0o644); err != nil {
		t.Fatal(err)
	}

	maint.Run(ctx)

	if _, err := os.Stat(stray); !os.IsNotExist(err) {
		t.Error("stray derivative survived the sweep")
	}
	if _, err := os.Stat(kept); err != nil {
		t.Errorf("live derivative was swept: %v", err)
	}
}

func TestScheduleValidation(t *testing.T) {
	s := New(nil)

	if s.NextRunAt() != nil {
		t.Error("NextRunAt non-nil before scheduling")
	}
	if err := s.Schedule("not a cron expr"); err == nil {
		t.Error("expected error for invalid expression")
	}
	if err := s.Schedule("0 3 * * *"); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	if s.CronExpr() != "0 3 * * *" {
		t.Errorf("CronExpr = %q", s.CronExpr())
	}
	s.Start()
	defer s.Stop()
	if s.NextRunAt() == nil {
		t.Error("NextRunAt nil after scheduling")
	}
}
