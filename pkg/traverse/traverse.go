// Package traverse implements a bounded, cycle-safe breadth-first file walk.
//
// Directories are visited in FIFO order. Each directory is identified by its
// canonical (symlink-resolved) path, so a symlink pointing back at an ancestor
// is listed at most once and the walk always terminates. Directory read
// failures are recorded as warnings and skipped.
package traverse

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/3leaps/goharvest/pkg/match"
)

// ErrInvalidRoot is returned when the scan root is missing or not a directory.
var ErrInvalidRoot = errors.New("invalid scan root")

// Options configures a traversal.
type Options struct {
	// Root is the directory to scan.
	Root string

	// Matcher decides which files are collected and which directories are
	// descended. Required.
	Matcher *match.Matcher

	// Recursive enables descent into subdirectories.
	Recursive bool

	// MaxItems caps the number of collected files. Zero or negative means
	// unbounded.
	MaxItems int
}

// Result is the outcome of a traversal.
type Result struct {
	// Files are the collected paths in discovery order, joined from Root.
	Files []string

	// Extensions lists the distinct extensions among Files, sorted.
	Extensions []string

	// Warnings holds one entry per directory that could not be read.
	Warnings []string

	// DirsVisited counts directories that were listed successfully.
	DirsVisited int

	// Truncated is true when the walk stopped because MaxItems was reached.
	Truncated bool
}

// Scan walks opts.Root breadth-first and returns matching files.
//
// Scan checks ctx before listing each directory. On cancellation it returns
// the partial result together with ctx.Err().
func Scan(ctx context.Context, opts Options) (*Result, error) {
	if opts.Matcher == nil {
		return nil, fmt.Errorf("traverse: matcher is required")
	}

	root := filepath.Clean(opts.Root)
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidRoot, opts.Root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", ErrInvalidRoot, opts.Root)
	}
	canonRoot, err := filepath.EvalSymlinks(root)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidRoot, opts.Root, err)
	}

	w := &walker{
		opts:    opts,
		root:    root,
		visited: map[string]struct{}{canonRoot: {}},
		exts:    make(map[string]struct{}),
		res:     &Result{},
	}
	err = w.run(ctx)

	w.res.Extensions = make([]string, 0, len(w.exts))
	for e := range w.exts {
		w.res.Extensions = append(w.res.Extensions, e)
	}
	sort.Strings(w.res.Extensions)

	return w.res, err
}

type walker struct {
	opts    Options
	root    string
	visited map[string]struct{}
	exts    map[string]struct{}
	res     *Result
}

func (w *walker) full() bool {
	return w.opts.MaxItems > 0 && len(w.res.Files) >= w.opts.MaxItems
}

func (w *walker) run(ctx context.Context) error {
	queue := []string{w.root}

	for len(queue) > 0 {
		if w.full() {
			w.res.Truncated = true
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		dir := queue[0]
		queue = queue[1:]

		entries, err := os.ReadDir(dir)
		if err != nil {
			w.res.Warnings = append(w.res.Warnings, fmt.Sprintf("read directory %s: %v", dir, err))
			continue
		}
		w.res.DirsVisited++

		for _, entry := range entries {
			path := filepath.Join(dir, entry.Name())
			rel := w.rel(path)

			isDir, size, ok := w.classify(entry, path)
			if !ok {
				continue
			}

			if isDir {
				if !w.opts.Recursive || !w.opts.Matcher.MatchDir(rel) {
					continue
				}
				canon, err := filepath.EvalSymlinks(path)
				if err != nil {
					w.res.Warnings = append(w.res.Warnings, fmt.Sprintf("resolve directory %s: %v", path, err))
					continue
				}
				if _, seen := w.visited[canon]; seen {
					continue
				}
				w.visited[canon] = struct{}{}
				queue = append(queue, path)
				continue
			}

			if !w.opts.Matcher.MatchFile(rel, size) {
				continue
			}
			w.res.Files = append(w.res.Files, path)
			w.exts[match.Extension(path)] = struct{}{}
			if w.full() {
				w.res.Truncated = true
				return nil
			}
		}
	}
	return nil
}

// classify resolves an entry to directory-or-regular-file. Symlinks are
// followed; anything else (sockets, devices, dangling links) is skipped.
func (w *walker) classify(entry os.DirEntry, path string) (isDir bool, size int64, ok bool) {
	mode := entry.Type()
	if mode&os.ModeSymlink != 0 {
		info, err := os.Stat(path)
		if err != nil {
			return false, 0, false
		}
		if info.IsDir() {
			return true, 0, true
		}
		return false, info.Size(), info.Mode().IsRegular()
	}
	if entry.IsDir() {
		return true, 0, true
	}
	if !mode.IsRegular() {
		return false, 0, false
	}
	info, err := entry.Info()
	if err != nil {
		return false, 0, false
	}
	return false, info.Size(), true
}

func (w *walker) rel(path string) string {
	rel, err := filepath.Rel(w.root, path)
	if err != nil {
		return filepath.ToSlash(path)
	}
	return filepath.ToSlash(rel)
}
