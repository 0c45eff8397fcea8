// Package scan discovers library files. The iterator walks a directory tree
// in bounded batches so discovery can run as an engine source job, one slice
// per continuation, and the manager ties scan jobs to scan_history rows.
package scan

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/eargollo/warren/internal/media"
)

// Options filters what the iterator yields.
type Options struct {
	// BatchSize bounds one Next call. Zero means 200.
	BatchSize int
	// MinFileSize drops sidecar junk and pre-rendered thumbnails.
	MinFileSize int64
	// IgnorePatterns are filepath.Match patterns applied to base names.
	IgnorePatterns []string
}

// DirIterator is a resumable depth-first walk over a directory tree. Each
// Next call pops directories until it has a full batch of indexable files.
// It is driven by exactly one engine continuation at a time and needs no
// locking of its own; Seen is atomic because status readers poll it.
type DirIterator struct {
	opts  Options
	dirs  []string
	files []string
	seen  atomic.Int64
}

func NewDirIterator(root string, opts Options) *DirIterator {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 200
	}
	return &DirIterator{opts: opts, dirs: []string{root}}
}

// Next returns the next batch of file paths, or ok=false once the tree is
// exhausted. Unreadable directories are logged and skipped, never fatal.
func (it *DirIterator) Next() ([]string, bool) {
	for len(it.files) < it.opts.BatchSize && len(it.dirs) > 0 {
		dir := it.dirs[len(it.dirs)-1]
		it.dirs = it.dirs[:len(it.dirs)-1]
		it.scanDir(dir)
	}
	if len(it.files) == 0 {
		return nil, false
	}

	n := min(it.opts.BatchSize, len(it.files))
	out := make([]string, n)
	copy(out, it.files[:n])
	it.files = append(it.files[:0], it.files[n:]...)
	it.seen.Add(int64(n))
	return out, true
}

// Seen is the number of files yielded so far.
func (it *DirIterator) Seen() int64 { return it.seen.Load() }

func (it *DirIterator) scanDir(dir string) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		slog.Warn("skipping unreadable directory", "dir", dir, "error", err)
		return
	}
	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, ".") || it.ignored(name) {
			continue
		}
		full := filepath.Join(dir, name)
		if e.IsDir() {
			it.dirs = append(it.dirs, full)
			continue
		}
		if !media.Indexable(full) {
			continue
		}
		if it.opts.MinFileSize > 0 {
			info, err := e.Info()
			if err != nil || info.Size() < it.opts.MinFileSize {
				continue
			}
		}
		it.files = append(it.files, full)
	}
}

func (it *DirIterator) ignored(name string) bool {
	for _, pat := range it.opts.IgnorePatterns {
		if ok, _ := filepath.Match(pat, name); ok {
			return true
		}
	}
	return false
}
