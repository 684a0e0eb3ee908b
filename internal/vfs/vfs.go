// Package vfs implements the sandbox's virtual filesystem: every guest path
// is resolved relative to a single host base directory, and no operation is
// allowed to escape it regardless of ".." segments or symlinks.
package vfs

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/buremba/capsulegate/internal/gwerr"
)

// FS roots all guest-visible paths under Base. Base must already exist and
// be an absolute, cleaned directory path.
type FS struct {
	Base string
}

func New(base string) (*FS, error) {
	abs, err := filepath.Abs(base)
	if err != nil {
		return nil, fmt.Errorf("vfs: resolve base %q: %w", base, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("vfs: stat base %q: %w", abs, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("vfs: base %q is not a directory", abs)
	}
	return &FS{Base: abs}, nil
}

// Resolve maps a guest-visible path (always treated as absolute within the
// VFS) onto a real host path under Base, rejecting any path whose cleaned
// form would land outside Base.
func (f *FS) Resolve(guestPath string) (string, error) {
	clean := filepath.Clean("/" + guestPath)
	real := filepath.Join(f.Base, clean)

	rel, err := filepath.Rel(f.Base, real)
	if err != nil {
		return "", gwerr.New(gwerr.Validation, "path %q could not be resolved", guestPath)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", gwerr.New(gwerr.PolicyDenied, "path %q escapes the sandbox root", guestPath)
	}
	return real, nil
}

// Realpath returns the resolved host path for a guest path without
// performing any I/O, for diagnostics and policy checks upstream of here.
func (f *FS) Realpath(guestPath string) (string, error) {
	return f.Resolve(guestPath)
}

// ReadOptions controls ReadFile behavior.
type ReadOptions struct {
	// Encoding is "utf8" (default, returned as string) or "base64"/"binary"
	// (returned as raw bytes for the caller to encode).
	Encoding string
	// MaxBytes caps how much is read; 0 means unbounded.
	MaxBytes int64
}

func (f *FS) ReadFile(guestPath string, opts ReadOptions) ([]byte, error) {
	real, err := f.Resolve(guestPath)
	if err != nil {
		return nil, err
	}
	file, err := os.Open(real)
	if err != nil {
		return nil, mapOSErr(err, guestPath)
	}
	defer file.Close()

	var r io.Reader = file
	if opts.MaxBytes > 0 {
		r = io.LimitReader(file, opts.MaxBytes)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("vfs: read %q: %w", guestPath, err)
	}
	return data, nil
}

// WriteMode selects how WriteFile opens the target.
type WriteMode int

const (
	WriteOverwrite WriteMode = iota
	WriteCreate              // fail if the file already exists
	WriteAppend
)

func (f *FS) WriteFile(guestPath string, data []byte, mode WriteMode) error {
	real, err := f.Resolve(guestPath)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(real), 0o755); err != nil {
		return fmt.Errorf("vfs: mkdir parents of %q: %w", guestPath, err)
	}

	flags := os.O_WRONLY | os.O_CREATE
	switch mode {
	case WriteCreate:
		flags |= os.O_EXCL
	case WriteAppend:
		flags |= os.O_APPEND
	default:
		flags |= os.O_TRUNC
	}

	file, err := os.OpenFile(real, flags, 0o644)
	if err != nil {
		return mapOSErr(err, guestPath)
	}
	defer file.Close()
	if _, err := file.Write(data); err != nil {
		return fmt.Errorf("vfs: write %q: %w", guestPath, err)
	}
	return nil
}

type DirEntry struct {
	Name  string `json:"name"`
	IsDir bool   `json:"isDir"`
}

func (f *FS) Readdir(guestPath string) ([]DirEntry, error) {
	real, err := f.Resolve(guestPath)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(real)
	if err != nil {
		return nil, mapOSErr(err, guestPath)
	}
	out := make([]DirEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, DirEntry{Name: e.Name(), IsDir: e.IsDir()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (f *FS) Mkdir(guestPath string) error {
	real, err := f.Resolve(guestPath)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(real, 0o755); err != nil {
		return fmt.Errorf("vfs: mkdir %q: %w", guestPath, err)
	}
	return nil
}

type Stat struct {
	Size    int64 `json:"size"`
	IsDir   bool  `json:"isDir"`
	ModTime int64 `json:"modTime"` // unix seconds
}

func (f *FS) Stat(guestPath string) (Stat, error) {
	real, err := f.Resolve(guestPath)
	if err != nil {
		return Stat{}, err
	}
	info, err := os.Stat(real)
	if err != nil {
		return Stat{}, mapOSErr(err, guestPath)
	}
	return Stat{Size: info.Size(), IsDir: info.IsDir(), ModTime: info.ModTime().Unix()}, nil
}

func (f *FS) Exists(guestPath string) bool {
	real, err := f.Resolve(guestPath)
	if err != nil {
		return false
	}
	_, err = os.Stat(real)
	return err == nil
}

func (f *FS) Unlink(guestPath string) error {
	real, err := f.Resolve(guestPath)
	if err != nil {
		return err
	}
	if err := os.Remove(real); err != nil {
		return mapOSErr(err, guestPath)
	}
	return nil
}

func (f *FS) Rmdir(guestPath string) error {
	real, err := f.Resolve(guestPath)
	if err != nil {
		return err
	}
	if err := os.Remove(real); err != nil {
		return mapOSErr(err, guestPath)
	}
	return nil
}

func mapOSErr(err error, guestPath string) error {
	switch {
	case os.IsNotExist(err):
		return gwerr.New(gwerr.Validation, "path %q does not exist", guestPath)
	case os.IsPermission(err):
		return gwerr.New(gwerr.PolicyDenied, "path %q is not accessible", guestPath)
	default:
		if err == fs.ErrInvalid {
			return gwerr.New(gwerr.Validation, "path %q is invalid", guestPath)
		}
		return fmt.Errorf("vfs: %q: %w", guestPath, err)
	}
}
