// Package trash implements soft deletion for library files. Discarded files
// are moved into a holding directory and kept for a retention window, during
// which they can be restored to their original path. Expired items are purged
// by the maintenance scheduler.
package trash

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"syscall"
	"time"
)

// ErrNotTrashed is returned when the item is not in 'trashed' state (unknown
// ID, already purged, or already restored).
var ErrNotTrashed = errors.New("trash item not found or already purged/restored")

// ErrRestoreConflict is returned when the restore target path is occupied.
type ErrRestoreConflict struct {
	Path string
}

func (e *ErrRestoreConflict) Error() string {
	return fmt.Sprintf("a file already exists at %q", e.Path)
}

// Record is one row of trash state, as served by List.
type Record struct {
	ID           int64  `json:"id"`
	OriginalPath string `json:"original_path"`
	TrashPath    string `json:"trash_path"`
	FileSize     int64  `json:"file_size"`
	ContentHash  string `json:"content_hash,omitempty"`
	TrashedAt    int64  `json:"trashed_at"`
	ExpiresAt    int64  `json:"expires_at"`
	Status       string `json:"status"`
}

// Manager moves files in and out of the trash directory and tracks them in
// the trash table.
type Manager struct {
	db        *sql.DB
	dir       string
	retention time.Duration
}

// New creates a Manager holding discarded files under dir for retentionDays.
func New(db *sql.DB, dir string, retentionDays int) *Manager {
	return &Manager{
		db:        db,
		dir:       dir,
		retention: time.Duration(retentionDays) * 24 * time.Hour,
	}
}

// Discard moves the file at path into the trash directory and records it.
// contentHash may be empty when the file was never hashed. Returns the trash
// row ID.
func (m *Manager) Discard(ctx context.Context, path, contentHash string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, fmt.Errorf("stat %q: %w", path, err)
	}

	dst := m.holdingPath(path)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return 0, fmt.Errorf("create trash subdir: %w", err)
	}
	if err := moveFile(path, dst); err != nil {
		return 0, fmt.Errorf("move to trash: %w", err)
	}

	now := time.Now()
	res, err := m.db.ExecContext(ctx, `
		INSERT INTO trash
			(original_path, trash_path, file_size, content_hash,
			 trashed_at, expires_at, status)
		VALUES (?, ?, ?, ?, ?, ?, 'trashed')`,
		path, dst, info.Size(), contentHash,
		now.Unix(), now.Add(m.retention).Unix())
	if err != nil {
		// Move the file back rather than strand it without a record.
		if rerr := moveFile(dst, path); rerr != nil {
			slog.Error("rollback of discard failed", "path", path, "error", rerr)
		}
		return 0, fmt.Errorf("insert trash record: %w", err)
	}

	id, _ := res.LastInsertId()
	slog.Info("file moved to trash", "path", path, "trash_id", id,
		"expires_at", now.Add(m.retention).Format(time.RFC3339))
	return id, nil
}

// Restore moves a trashed file back to its original path and returns that
// path so the caller can re-index it.
func (m *Manager) Restore(ctx context.Context, id int64) (string, error) {
	var path, held string
	err := m.db.QueryRowContext(ctx,
		`SELECT original_path, trash_path FROM trash WHERE id = ? AND status = 'trashed'`,
		id,
	).Scan(&path, &held)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotTrashed
	}
	if err != nil {
		return "", fmt.Errorf("lookup trash item %d: %w", id, err)
	}

	if _, err := os.Stat(path); err == nil {
		return "", &ErrRestoreConflict{Path: path}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("recreate restore dir: %w", err)
	}
	if err := moveFile(held, path); err != nil {
		return "", fmt.Errorf("restore file: %w", err)
	}

	if _, err := m.db.ExecContext(ctx,
		`UPDATE trash SET status='restored', restored_at=? WHERE id=?`,
		time.Now().Unix(), id,
	); err != nil {
		slog.Error("update trash status after restore", "trash_id", id, "error", err)
	}

	slog.Info("file restored from trash", "path", path, "trash_id", id)
	return path, nil
}

// List returns the most recently trashed active items, newest first.
func (m *Manager) List(ctx context.Context, limit int) ([]Record, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT id, original_path, trash_path, file_size, content_hash,
		       trashed_at, expires_at, status
		FROM trash WHERE status = 'trashed'
		ORDER BY trashed_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query trash: %w", err)
	}
	defer rows.Close()

	var recs []Record
	for rows.Next() {
		var r Record
		var hash sql.NullString
		if err := rows.Scan(&r.ID, &r.OriginalPath, &r.TrashPath, &r.FileSize,
			&hash, &r.TrashedAt, &r.ExpiresAt, &r.Status); err != nil {
			return nil, err
		}
		r.ContentHash = hash.String
		recs = append(recs, r)
	}
	return recs, rows.Err()
}

// PurgeAll immediately purges every active trash item (trigger = "user").
func (m *Manager) PurgeAll(ctx context.Context) (count int64, bytesFreed int64, err error) {
	rows, err := m.db.QueryContext(ctx,
		`SELECT id, trash_path, file_size FROM trash WHERE status = 'trashed'`)
	if err != nil {
		return 0, 0, fmt.Errorf("query trash: %w", err)
	}
	return m.purgeRows(ctx, rows, "user")
}

// AutoPurge purges items whose retention window has passed (trigger =
// "auto"). Called from the maintenance run.
func (m *Manager) AutoPurge(ctx context.Context) error {
	rows, err := m.db.QueryContext(ctx,
		`SELECT id, trash_path, file_size FROM trash
		 WHERE status = 'trashed' AND expires_at < ?`,
		time.Now().Unix())
	if err != nil {
		return fmt.Errorf("query expired trash: %w", err)
	}
	count, bytes, err := m.purgeRows(ctx, rows, "auto")
	if err != nil {
		return err
	}
	if count > 0 {
		slog.Info("trash auto-purge complete", "files_purged", count, "bytes_freed", bytes)
	}
	return nil
}

// holdingPath returns a unique location inside the trash directory:
// dir/YYYY-MM-DD/<unix_nano>_<basename>.
func (m *Manager) holdingPath(original string) string {
	now := time.Now()
	name := fmt.Sprintf("%d_%s", now.UnixNano(), filepath.Base(original))
	return filepath.Join(m.dir, now.Format("2006-01-02"), name)
}

type purgeItem struct {
	id   int64
	held string
	size int64
}

func (m *Manager) purgeRows(ctx context.Context, rows *sql.Rows, trigger string) (count int64, bytesFreed int64, err error) {
	defer rows.Close()

	var items []purgeItem
	for rows.Next() {
		var it purgeItem
		if err := rows.Scan(&it.id, &it.held, &it.size); err != nil {
			return count, bytesFreed, fmt.Errorf("scan trash row: %w", err)
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return count, bytesFreed, err
	}

	now := time.Now().Unix()
	for _, it := range items {
		if ctx.Err() != nil {
			break
		}

		// "Already gone" counts as purged.
		if rerr := os.Remove(it.held); rerr != nil && !errors.Is(rerr, os.ErrNotExist) {
			slog.Warn("purge: remove file failed", "path", it.held, "error", rerr)
			continue // row stays 'trashed' so the next run retries
		}

		if _, dbErr := m.db.ExecContext(ctx,
			`UPDATE trash SET status='purged', purged_at=?, purge_trigger=? WHERE id=?`,
			now, trigger, it.id,
		); dbErr != nil {
			slog.Error("purge: update trash status", "trash_id", it.id, "error", dbErr)
		}

		count++
		bytesFreed += it.size
	}

	return count, bytesFreed, nil
}

// moveFile tries os.Rename first and falls back to copy+delete when the trash
// directory lives on another device.
func moveFile(src, dst string) error {
	err := os.Rename(src, dst)
	if err == nil {
		return nil
	}
	var le *os.LinkError
	if errors.As(err, &le) && errors.Is(le.Err, syscall.EXDEV) {
		return copyThenDelete(src, dst)
	}
	return err
}

// copyThenDelete copies src to dst then removes src. dst is cleaned up on error.
func copyThenDelete(src, dst string) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer func() {
		out.Close()
		if err != nil {
			os.Remove(dst)
		}
	}()

	if _, err = io.Copy(out, in); err != nil {
		return err
	}
	if err = out.Close(); err != nil {
		return err
	}
	in.Close()
	return os.Remove(src)
}
