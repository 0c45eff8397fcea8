package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"
)

// ErrNotFound is returned when a file path has no record.
var ErrNotFound = errors.New("file not found")

// FileRecord is one indexed library file. Derived columns (hash, thumbnail,
// preview, metadata) are empty until their tasks have run.
type FileRecord struct {
	ID          int64  `json:"id"`
	Path        string `json:"path"`
	Size        int64  `json:"size"`
	MTime       int64  `json:"mtime"`
	ContentHash string `json:"content_hash,omitempty"`
	ThumbPath   string `json:"thumb_path,omitempty"`
	PreviewPath string `json:"preview_path,omitempty"`
	Metadata    string `json:"metadata,omitempty"`
}

// ScanRecord is one row of scan_history.
type ScanRecord struct {
	ID         int64  `json:"id"`
	Session    string `json:"session"`
	Root       string `json:"root"`
	StartedAt  int64  `json:"started_at"`
	FinishedAt int64  `json:"finished_at,omitempty"`
	FilesSeen  int64  `json:"files_seen"`
	Status     string `json:"status"`
}

// Store wraps the SQLite handle with the queries the rest of the daemon
// needs. All writes go through exec, which retries on SQLITE_BUSY.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// exec runs a write statement, retrying briefly when SQLite reports the
// database locked. With a single writer connection this only fires when an
// external process holds the file.
func (s *Store) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	var res sql.Result
	b := retry.WithMaxRetries(5, retry.NewExponential(20*time.Millisecond))
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		var err error
		res, err = s.db.ExecContext(ctx, query, args...)
		if isBusy(err) {
			return retry.RetryableError(err)
		}
		return err
	})
	return res, err
}

func isBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

// UpsertFile records a file's current size and mtime. It reports whether the
// row is new or its stat fields changed, so callers know derived artifacts
// (thumbnail, hash, metadata) are stale.
func (s *Store) UpsertFile(ctx context.Context, path string, size, mtime int64) (changed bool, err error) {
	var prevSize, prevMTime int64
	err = s.db.QueryRowContext(ctx,
		`SELECT size, mtime FROM files WHERE path = ?`, path).Scan(&prevSize, &prevMTime)
	switch {
	case err == sql.ErrNoRows:
		now := time.Now().Unix()
		_, err = s.exec(ctx,
			`INSERT INTO files (path, size, mtime, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
			path, size, mtime, now, now)
		if err != nil {
			return false, fmt.Errorf("insert file %q: %w", path, err)
		}
		return true, nil
	case err != nil:
		return false, fmt.Errorf("stat file %q: %w", path, err)
	}

	if prevSize == size && prevMTime == mtime {
		return false, nil
	}
	// Content changed on disk: derived columns are invalid until regenerated.
	_, err = s.exec(ctx,
		`UPDATE files SET size = ?, mtime = ?, content_hash = NULL, thumb_path = NULL,
		 preview_path = NULL, metadata = NULL, updated_at = ? WHERE path = ?`,
		size, mtime, time.Now().Unix(), path)
	if err != nil {
		return false, fmt.Errorf("update file %q: %w", path, err)
	}
	return true, nil
}

func (s *Store) setColumn(ctx context.Context, path, column, value string) error {
	res, err := s.exec(ctx,
		fmt.Sprintf(`UPDATE files SET %s = ?, updated_at = ? WHERE path = ?`, column),
		value, time.Now().Unix(), path)
	if err != nil {
		return fmt.Errorf("set %s for %q: %w", column, path, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("set %s for %q: %w", column, path, ErrNotFound)
	}
	return nil
}

func (s *Store) SetThumbnail(ctx context.Context, path, thumbPath string) error {
	return s.setColumn(ctx, path, "thumb_path", thumbPath)
}

func (s *Store) SetPreview(ctx context.Context, path, previewPath string) error {
	return s.setColumn(ctx, path, "preview_path", previewPath)
}

func (s *Store) SetMetadata(ctx context.Context, path, metadataJSON string) error {
	return s.setColumn(ctx, path, "metadata", metadataJSON)
}

func (s *Store) SetContentHash(ctx context.Context, path, hash string) error {
	return s.setColumn(ctx, path, "content_hash", hash)
}

// File returns the record for path, or ErrNotFound.
func (s *Store) File(ctx context.Context, path string) (FileRecord, error) {
	var f FileRecord
	var hash, thumb, preview, meta sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT id, path, size, mtime, content_hash, thumb_path, preview_path, metadata
		 FROM files WHERE path = ?`, path).
		Scan(&f.ID, &f.Path, &f.Size, &f.MTime, &hash, &thumb, &preview, &meta)
	if err == sql.ErrNoRows {
		return FileRecord{}, fmt.Errorf("file %q: %w", path, ErrNotFound)
	}
	if err != nil {
		return FileRecord{}, fmt.Errorf("query file %q: %w", path, err)
	}
	f.ContentHash, f.ThumbPath, f.PreviewPath, f.Metadata =
		hash.String, thumb.String, preview.String, meta.String
	return f, nil
}

// Delete removes the record for path. Missing rows are not an error: removal
// events race with scans and both sides may try.
func (s *Store) Delete(ctx context.Context, path string) error {
	_, err := s.exec(ctx, `DELETE FROM files WHERE path = ?`, path)
	if err != nil {
		return fmt.Errorf("delete file %q: %w", path, err)
	}
	return nil
}

// DeleteUnder removes all records whose path sits under dir and returns the
// number removed.
func (s *Store) DeleteUnder(ctx context.Context, dir string) (int64, error) {
	prefix := strings.TrimSuffix(dir, "/") + "/"
	res, err := s.exec(ctx, `DELETE FROM files WHERE path LIKE ? ESCAPE '\'`, likePrefix(prefix))
	if err != nil {
		return 0, fmt.Errorf("delete under %q: %w", dir, err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func likePrefix(prefix string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(prefix) + "%"
}

// PathsMissingThumbnail returns up to limit paths with no thumbnail yet,
// oldest first.
func (s *Store) PathsMissingThumbnail(ctx context.Context, limit int) ([]string, error) {
	return s.pathsWhere(ctx, `thumb_path IS NULL`, limit)
}

// PathsMissingHash returns up to limit paths with no content hash yet.
func (s *Store) PathsMissingHash(ctx context.Context, limit int) ([]string, error) {
	return s.pathsWhere(ctx, `content_hash IS NULL`, limit)
}

func (s *Store) pathsWhere(ctx context.Context, cond string, limit int) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf(`SELECT path FROM files WHERE %s ORDER BY id LIMIT ?`, cond), limit)
	if err != nil {
		return nil, fmt.Errorf("query paths (%s): %w", cond, err)
	}
	defer rows.Close()
	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		paths = append(paths, p)
	}
	return paths, rows.Err()
}

// AllPaths streams every indexed path in id order, calling fn per path. fn
// returning an error stops the walk.
func (s *Store) AllPaths(ctx context.Context, fn func(path string) error) error {
	rows, err := s.db.QueryContext(ctx, `SELECT path FROM files ORDER BY id`)
	if err != nil {
		return fmt.Errorf("query all paths: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return err
		}
		if err := fn(p); err != nil {
			return err
		}
	}
	return rows.Err()
}

// Counts summarises index completeness for the status endpoint.
type Counts struct {
	Files      int64 `json:"files"`
	Thumbnails int64 `json:"thumbnails"`
	Hashed     int64 `json:"hashed"`
	TotalBytes int64 `json:"total_bytes"`
}

func (s *Store) Counts(ctx context.Context) (Counts, error) {
	var c Counts
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*),
		        COUNT(thumb_path),
		        COUNT(content_hash),
		        COALESCE(SUM(size), 0)
		 FROM files`).
		Scan(&c.Files, &c.Thumbnails, &c.Hashed, &c.TotalBytes)
	if err != nil {
		return Counts{}, fmt.Errorf("query counts: %w", err)
	}
	return c, nil
}

// StartScan opens a scan_history row and returns its ID.
func (s *Store) StartScan(ctx context.Context, session, root string) (int64, error) {
	res, err := s.exec(ctx,
		`INSERT INTO scan_history (session, root, started_at, status) VALUES (?, ?, ?, 'running')`,
		session, root, time.Now().Unix())
	if err != nil {
		return 0, fmt.Errorf("start scan: %w", err)
	}
	return res.LastInsertId()
}

// FinishScan closes a scan_history row with its final status
// ("completed", "cancelled" or "failed").
func (s *Store) FinishScan(ctx context.Context, id, filesSeen int64, status string) error {
	_, err := s.exec(ctx,
		`UPDATE scan_history SET finished_at = ?, files_seen = ?, status = ? WHERE id = ?`,
		time.Now().Unix(), filesSeen, status, id)
	if err != nil {
		return fmt.Errorf("finish scan %d: %w", id, err)
	}
	return nil
}

// MarkStaleRunning flips scans left 'running' by a crashed process to
// 'aborted'. Called once at startup.
func (s *Store) MarkStaleRunning(ctx context.Context) (int64, error) {
	res, err := s.exec(ctx,
		`UPDATE scan_history SET status = 'aborted', finished_at = ? WHERE status = 'running'`,
		time.Now().Unix())
	if err != nil {
		return 0, fmt.Errorf("mark stale scans: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// RecentScans returns the latest scans, newest first.
func (s *Store) RecentScans(ctx context.Context, limit int) ([]ScanRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session, root, started_at, finished_at, files_seen, status
		 FROM scan_history ORDER BY started_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query scans: %w", err)
	}
	defer rows.Close()
	var scans []ScanRecord
	for rows.Next() {
		var sr ScanRecord
		var finished sql.NullInt64
		if err := rows.Scan(&sr.ID, &sr.Session, &sr.Root, &sr.StartedAt,
			&finished, &sr.FilesSeen, &sr.Status); err != nil {
			return nil, err
		}
		sr.FinishedAt = finished.Int64
		scans = append(scans, sr)
	}
	return scans, rows.Err()
}
