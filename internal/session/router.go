// Package session routes samples to one append-only log file per network.
//
// A Router keeps at most one file open. Switching networks closes the
// current file and opens (or creates) the one for the new network; every
// open is marked with a RESTART line so gaps are visible in the log.
package session

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/multierr"

	"netwatch/internal/classify"
	"netwatch/internal/identity"
	"netwatch/internal/probe"
)

// LineKind tells an echo what kind of line was written.
type LineKind int

const (
	LineHeader LineKind = iota
	LineRestart
	LineSample
)

// Line is a record that was appended to a log file.
type Line struct {
	Kind     LineKind
	Text     string
	Severity classify.Severity
	Path     string
}

// EchoFunc receives every line after it has been persisted.
type EchoFunc func(Line)

// Handle is the open log of one network.
type Handle struct {
	id   identity.Identity
	path string
	f    *os.File
}

func (h *Handle) Identity() identity.Identity { return h.id }
func (h *Handle) Path() string                { return h.path }

// Options configures a Router.
type Options struct {
	Dir   string
	Kind  probe.Kind
	RunID string
	Echo  EchoFunc
}

// Router owns the active log handle. It is safe for concurrent use, although
// the monitor loop is its only caller.
type Router struct {
	mu     sync.Mutex
	opts   Options
	active *Handle
}

func NewRouter(opts Options) *Router {
	if opts.Dir == "" {
		opts.Dir = "."
	}
	return &Router{opts: opts}
}

// ErrStaleHandle is returned when emitting through a handle that is no longer active.
var ErrStaleHandle = errors.New("handle is not the active log")

// Path returns the log file used for id.
func (r *Router) Path(id identity.Identity) string {
	return filepath.Join(r.opts.Dir, string(id)+".log")
}

// Active returns the open handle, or nil.
func (r *Router) Active() *Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

// Route returns the handle for id, switching files when id differs from the
// active one. now stamps the restart marker. A failure closing the previous
// log is returned together with the new, usable handle.
func (r *Router) Route(ctx context.Context, id identity.Identity, now time.Time) (*Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.active != nil && r.active.id == id {
		return r.active, nil
	}

	var closeErr error
	if r.active != nil {
		closeErr = r.closeLocked()
	}

	h, err := r.open(id, now)
	if err != nil {
		return nil, multierr.Append(closeErr, err)
	}
	r.active = h
	if closeErr != nil {
		return h, closeErr
	}
	return h, nil
}

func (r *Router) open(id identity.Identity, now time.Time) (*Handle, error) {
	path := r.Path(id)
	if err := os.MkdirAll(r.opts.Dir, 0o755); err != nil {
		return nil, &PersistenceError{Op: "create", Path: path, Err: err}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, &PersistenceError{Op: "create", Path: path, Err: err}
	}
	h := &Handle{id: id, path: path, f: f}

	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, &PersistenceError{Op: "stat", Path: path, Err: err}
	}
	if st.Size() == 0 {
		if err := r.writeLocked(h, Line{Kind: LineHeader, Text: Header(r.opts.Kind)}); err != nil {
			_ = f.Close()
			return nil, err
		}
	}
	if err := r.writeLocked(h, Line{Kind: LineRestart, Text: FormatRestart(now, id, r.opts.RunID)}); err != nil {
		_ = f.Close()
		return nil, err
	}
	return h, nil
}

// Emit appends the formatted sample to h.
func (r *Router) Emit(h *Handle, s classify.Sample) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if h == nil || h != r.active {
		path := ""
		if h != nil {
			path = h.path
		}
		return &PersistenceError{Op: "write", Path: path, Err: ErrStaleHandle}
	}
	return r.writeLocked(h, Line{Kind: LineSample, Text: FormatSample(s), Severity: s.Severity})
}

// writeLocked appends one line with a single write and syncs it to disk.
func (r *Router) writeLocked(h *Handle, l Line) error {
	if _, err := h.f.Write([]byte(l.Text + "\n")); err != nil {
		return &PersistenceError{Op: "write", Path: h.path, Err: err}
	}
	if err := h.f.Sync(); err != nil {
		return &PersistenceError{Op: "sync", Path: h.path, Err: err}
	}
	if r.opts.Echo != nil {
		l.Path = h.path
		r.opts.Echo(l)
	}
	return nil
}

// Close flushes and closes the active log.
func (r *Router) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closeLocked()
}

func (r *Router) closeLocked() error {
	h := r.active
	r.active = nil
	if h == nil {
		return nil
	}
	err := multierr.Append(h.f.Sync(), h.f.Close())
	if err != nil {
		return &PersistenceError{Op: "close", Path: h.path, Err: err}
	}
	return nil
}
