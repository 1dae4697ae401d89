// Package dirhandler provides tftpd's default filesystem-backed Handler: a
// directory tree served read/write over TFTP, generalizing the teacher
// library's server/srvconn.go stat/open/error-mapping logic into a
// reusable, concurrency-safe Handler implementation (spec.md §4.C).
package dirhandler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/netip"
	"os"
	"path/filepath"
	"strings"

	"github.com/brevane/tftpd"
)

// Handler serves files from a single root directory. The zero value is not
// usable; construct with New.
type Handler struct {
	root   string
	create bool
}

// Option configures a Handler.
type Option func(*Handler)

// WithCreate allows WRQ to create new files rather than only overwriting
// existing ones, mirroring the teacher's --create flag (server/opts.go).
func WithCreate(create bool) Option {
	return func(h *Handler) { h.create = create }
}

// New returns a Handler rooted at root. The root is resolved to an absolute,
// symlink-free path once at construction time so every later request is
// checked against a stable boundary.
func New(root string, opts ...Option) (*Handler, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("dirhandler: %w", err)
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("dirhandler: %w", err)
	}
	h := &Handler{root: resolved}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// resolve maps a client-supplied filename to an absolute path within the
// handler's root, rejecting absolute paths, ".." components, and symlink
// escapes exactly as spec.md §4.C requires (mirroring the teacher's
// srvconn.init stat-before-open pattern).
func (h *Handler) resolve(name string) (string, error) {
	if filepath.IsAbs(name) || strings.HasPrefix(filepath.ToSlash(name), "/") {
		return "", tftpd.NewHandlerError(tftpd.ErrAccessViolation, "absolute paths are not permitted")
	}
	for _, part := range strings.Split(filepath.ToSlash(name), "/") {
		if part == ".." {
			return "", tftpd.NewHandlerError(tftpd.ErrAccessViolation, "'..' path components are not permitted")
		}
	}
	clean := filepath.Clean(filepath.FromSlash(name))
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", tftpd.NewHandlerError(tftpd.ErrAccessViolation, "path escapes served directory")
	}

	joined := filepath.Join(h.root, clean)

	// A symlink escape can only be checked once the file exists; a request
	// for a not-yet-created file (WRQ with --create) is checked against its
	// containing directory instead.
	if resolved, err := filepath.EvalSymlinks(joined); err == nil {
		if !withinRoot(h.root, resolved) {
			return "", tftpd.NewHandlerError(tftpd.ErrAccessViolation, "path escapes served directory")
		}
		return resolved, nil
	}

	dir, err := filepath.EvalSymlinks(filepath.Dir(joined))
	if err != nil {
		return joined, nil // let the subsequent open/stat report the real error
	}
	if !withinRoot(h.root, dir) {
		return "", tftpd.NewHandlerError(tftpd.ErrAccessViolation, "path escapes served directory")
	}
	return joined, nil
}

func withinRoot(root, candidate string) bool {
	rel, err := filepath.Rel(root, candidate)
	if err != nil {
		return false
	}
	return rel == "." || !strings.HasPrefix(rel, "..")
}

// OpenRead implements tftpd.Handler.
func (h *Handler) OpenRead(_ context.Context, filename string, _ netip.AddrPort) (io.ReadCloser, *int64, error) {
	path, err := h.resolve(filename)
	if err != nil {
		return nil, nil, err
	}

	fi, err := os.Stat(path)
	if err != nil {
		return nil, nil, mapStatError(err)
	}
	if fi.IsDir() {
		return nil, nil, tftpd.NewHandlerError(tftpd.ErrAccessViolation, "%s is a directory", filename)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, nil, mapStatError(err)
	}

	size := fi.Size()
	return f, &size, nil
}

// OpenWrite implements tftpd.Handler.
func (h *Handler) OpenWrite(_ context.Context, filename string, _ netip.AddrPort) (io.WriteCloser, error) {
	path, err := h.resolve(filename)
	if err != nil {
		return nil, err
	}

	_, statErr := os.Stat(path)
	exists := statErr == nil
	if !exists && !h.create {
		return nil, tftpd.NewHandlerError(tftpd.ErrFileNotFound, "file does not exist and creation is disabled")
	}

	flags := os.O_WRONLY | os.O_TRUNC
	if h.create {
		flags |= os.O_CREATE
	}
	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return nil, mapStatError(err)
	}
	return f, nil
}

func mapStatError(err error) error {
	switch {
	case errors.Is(err, os.ErrNotExist):
		return tftpd.NewHandlerError(tftpd.ErrFileNotFound, "file not found")
	case errors.Is(err, os.ErrPermission):
		return tftpd.NewHandlerError(tftpd.ErrAccessViolation, "permission denied")
	default:
		return tftpd.NewHandlerError(tftpd.ErrNotDefined, "%v", err)
	}
}
