// Package resolver maps request paths onto files below a fixed root directory.
package resolver

import (
	"errors"
	"fmt"
	"io/fs"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"golang.org/x/text/unicode/norm"
)

// DefaultContentType is used when a file extension has no registered MIME type.
const DefaultContentType = "application/octet-stream"

var (
	// ErrNotFound reports a missing file, a directory, or a non-regular file.
	ErrNotFound = errors.New("file not found")
	// ErrTraversal reports a path that resolves outside the root directory.
	ErrTraversal = errors.New("path escapes root directory")
)

// ReadError wraps a filesystem failure other than absence, such as a
// permission error.
type ReadError struct {
	Path string
	Err  error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("read %s: %v", e.Path, e.Err)
}

func (e *ReadError) Unwrap() error { return e.Err }

// IsNotFound reports whether err should be presented to clients as a missing
// file. Traversal rejections are deliberately indistinguishable from absence.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrTraversal)
}

// File is the result of a successful resolution.
type File struct {
	// Path is the canonical filesystem path that was read.
	Path string
	// Body holds the full file contents.
	Body []byte
	// ContentType is inferred from the file extension.
	ContentType string
}

// Resolver confines lookups to a canonical root directory.
// It holds no mutable state and is safe for concurrent use.
type Resolver struct {
	root string
}

// New canonicalizes root (absolute, symlinks resolved) and returns a Resolver
// bound to it. root must name an existing directory.
func New(root string) (*Resolver, error) {
	canonical, err := Canonicalize(root)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(canonical)
	if err != nil {
		return nil, fmt.Errorf("stat root %s: %w", canonical, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("root %s is not a directory", canonical)
	}
	return &Resolver{root: canonical}, nil
}

// Canonicalize returns the absolute, symlink-free form of path.
func Canonicalize(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", path, err)
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", abs, err)
	}
	return resolved, nil
}

// Root returns the canonical root directory.
func (r *Resolver) Root() string {
	return r.root
}

// Resolve reads the file named by rel, a slash-separated path interpreted
// relative to the root. A leading slash is allowed.
//
// The returned error is ErrNotFound, ErrTraversal, or a *ReadError.
func (r *Resolver) Resolve(rel string) (*File, error) {
	if strings.IndexByte(rel, 0) >= 0 {
		return nil, ErrNotFound
	}

	f, err := r.resolve(rel)
	if !errors.Is(err, ErrNotFound) {
		return f, err
	}

	// 合成済み/分解済みの違いでファイル名が一致しないケース (macOS など)
	for _, alt := range []string{norm.NFC.String(rel), norm.NFD.String(rel)} {
		if alt == rel {
			continue
		}
		if f, altErr := r.resolve(alt); !errors.Is(altErr, ErrNotFound) {
			return f, altErr
		}
	}
	return nil, err
}

func (r *Resolver) resolve(rel string) (*File, error) {
	candidate := filepath.Join(r.root, filepath.FromSlash(rel))
	if !r.contains(candidate) {
		return nil, ErrTraversal
	}

	canonical, err := filepath.EvalSymlinks(candidate)
	if err != nil {
		// EvalSymlinks reports a link cycle with an untyped error; stat
		// surfaces it as ELOOP.
		if _, statErr := os.Stat(candidate); statErr != nil {
			err = statErr
		}
		if isMissing(err) {
			return nil, ErrNotFound
		}
		return nil, &ReadError{Path: candidate, Err: err}
	}
	// A symlink below the root may still point outside it.
	if !r.contains(canonical) {
		return nil, ErrTraversal
	}

	info, err := os.Stat(canonical)
	if err != nil {
		if isMissing(err) {
			return nil, ErrNotFound
		}
		return nil, &ReadError{Path: canonical, Err: err}
	}
	if !info.Mode().IsRegular() {
		return nil, ErrNotFound
	}

	body, err := os.ReadFile(canonical)
	if err != nil {
		if isMissing(err) {
			return nil, ErrNotFound
		}
		return nil, &ReadError{Path: canonical, Err: err}
	}

	return &File{
		Path:        canonical,
		Body:        body,
		ContentType: ContentType(candidate),
	}, nil
}

// contains reports whether path is the root or nested below it.
func (r *Resolver) contains(path string) bool {
	rel, err := filepath.Rel(r.root, path)
	if err != nil {
		return false
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return false
	}
	return !filepath.IsAbs(rel)
}

// ContentType infers a MIME type from the extension of name.
func ContentType(name string) string {
	if ct := mime.TypeByExtension(filepath.Ext(name)); ct != "" {
		return ct
	}
	return DefaultContentType
}

// ENOTDIR shows up when a path component is a regular file ("a.txt/b"),
// ELOOP when a symlink cycle names no file at all.
func isMissing(err error) bool {
	return errors.Is(err, fs.ErrNotExist) ||
		errors.Is(err, syscall.ENOTDIR) ||
		errors.Is(err, syscall.ELOOP)
}
