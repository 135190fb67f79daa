// Package workspace manages the ephemeral directories that hold cloned
// repositories for the duration of one request.
package workspace

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/repodigest/internal/logging"
)

// DefaultPrefix names workspace directories.
const DefaultPrefix = "repodigest-"

// Workspace is a directory exclusively owned by one request.
type Workspace struct {
	path string
	once sync.Once
	err  error
}

// Path returns the workspace directory.
func (w *Workspace) Path() string { return w.path }

// Release removes the workspace tree. Only the first call does any work;
// later calls return the first call's result.
func (w *Workspace) Release() error {
	w.once.Do(func() {
		w.err = os.RemoveAll(w.path)
	})
	return w.err
}

// Manager creates and reclaims workspaces under a base directory.
type Manager struct {
	baseDir string
	prefix  string
	logger  *logging.Logger

	onCleanupFailure func()
}

// Option configures a Manager.
type Option func(*Manager)

// WithCleanupFailureHook registers fn to be called whenever a release
// fails.
func WithCleanupFailureHook(fn func()) Option {
	return func(m *Manager) { m.onCleanupFailure = fn }
}

// NewManager returns a Manager. An empty baseDir means os.TempDir and an
// empty prefix means DefaultPrefix.
func NewManager(baseDir, prefix string, logger *logging.Logger, opts ...Option) *Manager {
	if baseDir == "" {
		baseDir = os.TempDir()
	}
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	m := &Manager{baseDir: baseDir, prefix: prefix, logger: logger}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Acquire creates a new, empty workspace with mode 0700.
func (m *Manager) Acquire() (*Workspace, error) {
	if err := os.MkdirAll(m.baseDir, 0o700); err != nil {
		return nil, fmt.Errorf("creating workspace base: %w", err)
	}
	dir := filepath.Join(m.baseDir, m.prefix+uuid.NewString())
	// Mkdir fails on collision, so the directory is never shared.
	if err := os.Mkdir(dir, 0o700); err != nil {
		return nil, fmt.Errorf("creating workspace: %w", err)
	}
	return &Workspace{path: dir}, nil
}

// With acquires a workspace, runs fn in it, and releases it on every
// exit path, panics included. fn's error is returned unchanged; a failed
// release is logged and never replaces it.
func (m *Manager) With(ctx context.Context, fn func(ctx context.Context, ws *Workspace) error) error {
	ws, err := m.Acquire()
	if err != nil {
		return err
	}
	defer m.release(ctx, ws)

	return fn(ctx, ws)
}

func (m *Manager) release(ctx context.Context, ws *Workspace) {
	if err := ws.Release(); err != nil {
		m.logger.Warn(ctx, "workspace cleanup failed",
			zap.String("workspace", ws.path),
			zap.Error(err),
		)
		if m.onCleanupFailure != nil {
			m.onCleanupFailure()
		}
	}
}
