// Package walker enumerates the regular files of a checked-out
// repository, pruning dependency, build and hidden directories before
// descending into them.
package walker

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"iter"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// DefaultSkipDirs are directory names never descended into.
var DefaultSkipDirs = []string{
	".git",
	"node_modules",
	".next",
	"dist",
	"build",
	"coverage",
	"__pycache__",
	".pytest_cache",
	"venv",
	"env",
	".venv",
	"target",
	"bin",
	"obj",
	".gradle",
	"vendor",
}

// Entry is one regular file found by Walk.
type Entry struct {
	// RelPath is slash-delimited and relative to the walk root.
	RelPath string
	// AbsPath is the path on disk.
	AbsPath string
}

// AccessError reports a directory that could not be listed. The walk
// continues past it.
type AccessError struct {
	RelPath string
	Err     error
}

func (e *AccessError) Error() string {
	return fmt.Sprintf("cannot read %s: %v", e.RelPath, e.Err)
}

func (e *AccessError) Unwrap() error { return e.Err }

type options struct {
	skip map[string]bool
}

// Option configures Walk.
type Option func(*options)

// WithSkipDirs replaces the skip set.
func WithSkipDirs(names ...string) Option {
	return func(o *options) {
		o.skip = make(map[string]bool, len(names))
		for _, n := range names {
			o.skip[n] = true
		}
	}
}

// Walk returns a lazy, single-pass sequence over the regular files under
// root, depth-first in lexical order. Symlinks and special files are not
// followed or yielded.
//
// An unreadable subdirectory yields an *AccessError and the walk goes on.
// Any other error (an unreadable root, or ctx being done) is the last
// value yielded.
func Walk(ctx context.Context, root string, opts ...Option) iter.Seq2[Entry, error] {
	o := &options{}
	WithSkipDirs(DefaultSkipDirs...)(o)
	for _, opt := range opts {
		opt(o)
	}

	return func(yield func(Entry, error) bool) {
		entries, err := os.ReadDir(root)
		if err != nil {
			yield(Entry{}, fmt.Errorf("reading root: %w", err))
			return
		}
		w := &walk{ctx: ctx, root: root, skip: o.skip, yield: yield}
		w.dir("", entries)
	}
}

type walk struct {
	ctx   context.Context
	root  string
	skip  map[string]bool
	yield func(Entry, error) bool
}

// dir visits one listed directory. It returns false once the consumer
// stops or the walk is aborted.
func (w *walk) dir(rel string, entries []fs.DirEntry) bool {
	for _, e := range entries {
		if err := w.ctx.Err(); err != nil {
			w.yield(Entry{}, err)
			return false
		}

		name := e.Name()
		relPath := path.Join(rel, name)
		absPath := filepath.Join(w.root, filepath.FromSlash(relPath))

		switch {
		case e.IsDir():
			if w.pruned(name) {
				continue
			}
			children, err := os.ReadDir(absPath)
			if err != nil {
				if !w.yield(Entry{}, &AccessError{RelPath: relPath, Err: err}) {
					return false
				}
				// ReadDir may return a partial listing alongside the error.
				if len(children) == 0 {
					continue
				}
			}
			if !w.dir(relPath, children) {
				return false
			}
		case e.Type().IsRegular():
			if !w.yield(Entry{RelPath: relPath, AbsPath: absPath}, nil) {
				return false
			}
		}
	}
	return true
}

func (w *walk) pruned(name string) bool {
	return w.skip[name] || strings.HasPrefix(name, ".")
}

// IsAccessError reports whether err is a skippable *AccessError.
func IsAccessError(err error) bool {
	var ae *AccessError
	return errors.As(err, &ae)
}
