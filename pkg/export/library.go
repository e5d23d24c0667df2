package export

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tiroq/scenerec/internal/fileutil"
)

// LibrarySink copies recordings into a directory that acts as the user's
// media library. The directory not existing yet means NotDetermined; a
// request creates it.
type LibrarySink struct {
	dir   string
	label string
	cache authCache
}

// NewLibrarySink creates a sink rooted at dir. label is the human part of
// exported file names.
func NewLibrarySink(dir, label string) *LibrarySink {
	s := &LibrarySink{dir: filepath.Clean(dir), label: label}
	s.cache.set(s.probe())
	return s
}

func (s *LibrarySink) Name() string { return "library" }

// Dir returns the library directory.
func (s *LibrarySink) Dir() string { return s.dir }

func (s *LibrarySink) Authorization() Authorization {
	return s.cache.get()
}

// RequestAuthorization creates the library directory if needed and checks
// it is writable.
func (s *LibrarySink) RequestAuthorization(ctx context.Context) (Authorization, error) {
	if err := ctx.Err(); err != nil {
		return s.cache.get(), err
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		if errors.Is(err, os.ErrPermission) {
			return s.cache.set(Denied), nil
		}
		if errors.Is(err, os.ErrExist) || strings.Contains(err.Error(), "not a directory") {
			return s.cache.set(Restricted), nil
		}
		return s.cache.get(), fmt.Errorf("create library dir: %w", err)
	}
	return s.cache.set(s.probe()), nil
}

// probe inspects the directory without creating it.
func (s *LibrarySink) probe() Authorization {
	info, err := os.Stat(s.dir)
	switch {
	case os.IsNotExist(err):
		return NotDetermined
	case err != nil:
		return Denied
	case !info.IsDir():
		return Restricted
	}
	f, err := os.CreateTemp(s.dir, ".probe-*")
	if err != nil {
		return Denied
	}
	f.Close()
	os.Remove(f.Name())
	return Authorized
}

// Export copies path into the library under its dated name.
func (s *LibrarySink) Export(ctx context.Context, path string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	name := LibraryNamer(s.label)(path)
	base := strings.TrimSuffix(name, filepath.Ext(name))
	return fileutil.CopyRecording(path, s.dir, base)
}
