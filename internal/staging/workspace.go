// Package staging owns the scratch storage of one merge request. Every
// artifact created for a request lives in the request's workspace directory
// and is removed by Cleanup, whether the request succeeded or not.
package staging

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// ErrClosed is returned when creating artifacts in a cleaned-up workspace.
var ErrClosed = errors.New("staging: workspace already cleaned up")

// Workspace is a per-request temp directory plus the set of artifacts
// created in it.
type Workspace struct {
	dir     string
	mu      sync.Mutex
	tracked map[string]struct{}
	closed  bool
	logger  *slog.Logger
}

// New creates a workspace directory under root ("" means os.TempDir).
func New(root, prefix string) (*Workspace, error) {
	if root != "" {
		if err := os.MkdirAll(root, 0o755); err != nil {
			return nil, fmt.Errorf("staging: create root %s: %w", root, err)
		}
	}
	dir, err := os.MkdirTemp(root, prefix+"*")
	if err != nil {
		return nil, fmt.Errorf("staging: create workspace: %w", err)
	}
	return &Workspace{
		dir:     dir,
		tracked: make(map[string]struct{}),
		logger:  slog.Default().With("component", "staging", "dir", dir),
	}, nil
}

// Dir returns the workspace directory.
func (w *Workspace) Dir() string { return w.dir }

// CreateTemp creates a tracked file inside the workspace.
func (w *Workspace) CreateTemp(pattern string) (*os.File, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil, ErrClosed
	}
	f, err := os.CreateTemp(w.dir, pattern)
	if err != nil {
		return nil, fmt.Errorf("staging: create temp: %w", err)
	}
	w.tracked[f.Name()] = struct{}{}
	return f, nil
}

// Path reserves a tracked path inside the workspace without creating it.
func (w *Workspace) Path(name string) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return "", ErrClosed
	}
	p := filepath.Join(w.dir, filepath.Base(name))
	w.tracked[p] = struct{}{}
	return p, nil
}

// Release removes one artifact now instead of at Cleanup.
func (w *Workspace) Release(path string) error {
	w.mu.Lock()
	delete(w.tracked, path)
	w.mu.Unlock()
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("staging: release %s: %w", path, err)
	}
	return nil
}

// Remaining returns the artifacts still tracked, sorted.
func (w *Workspace) Remaining() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, 0, len(w.tracked))
	for p := range w.tracked {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Cleanup removes every tracked artifact and the workspace directory. It is
// idempotent; removal failures are logged and the first one is returned.
func (w *Workspace) Cleanup() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	paths := make([]string, 0, len(w.tracked))
	for p := range w.tracked {
		paths = append(paths, p)
	}
	w.tracked = make(map[string]struct{})
	w.mu.Unlock()

	var first error
	for _, p := range paths {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			w.logger.Warn("cannot remove staged artifact", "path", p, "error", err)
			if first == nil {
				first = err
			}
		}
	}
	if err := os.RemoveAll(w.dir); err != nil {
		w.logger.Warn("cannot remove workspace", "error", err)
		if first == nil {
			first = err
		}
	}
	return first
}

// ReadCloser closes the wrapped reader and then cleans up the workspace, so a
// caller streaming a result triggers cleanup by closing it.
type ReadCloser struct {
	r  io.ReadCloser
	ws *Workspace
}

// NewReadCloser ties the lifetime of ws to r.
func NewReadCloser(r io.ReadCloser, ws *Workspace) *ReadCloser {
	return &ReadCloser{r: r, ws: ws}
}

func (rc *ReadCloser) Read(b []byte) (int, error) {
	return rc.r.Read(b)
}

func (rc *ReadCloser) Close() error {
	err1 := rc.r.Close()
	err2 := rc.ws.Cleanup()
	if err1 != nil {
		return err1
	}
	return err2
}
