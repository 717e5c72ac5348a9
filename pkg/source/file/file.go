// Package file opens upload inputs from the local filesystem.
package file

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/3leaps/filecast/pkg/source"
)

// Source implements source.Source for local paths.
type Source struct{}

var _ source.Source = (*Source)(nil)

// New creates a local filesystem source.
func New() *Source {
	return &Source{}
}

// Open stats and opens a regular file.
func (s *Source) Open(ctx context.Context, ref string) (*source.Object, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	info, err := os.Stat(ref)
	if err != nil {
		return nil, wrapError("Open", ref, err)
	}
	if !info.Mode().IsRegular() {
		return nil, &source.SourceError{Op: "Open", Source: source.TypeFile, Ref: ref, Err: source.ErrNotRegular}
	}

	f, err := os.Open(ref)
	if err != nil {
		return nil, wrapError("Open", ref, err)
	}

	return &source.Object{
		Ref:  ref,
		Name: filepath.Base(ref),
		Size: info.Size(),
		Body: f,
	}, nil
}

// Close implements source.Source.
func (s *Source) Close() error { return nil }

func wrapError(op, ref string, err error) error {
	wrapped := &source.SourceError{Op: op, Source: source.TypeFile, Ref: ref, Err: err}
	switch {
	case errors.Is(err, fs.ErrNotExist):
		wrapped.Err = source.ErrNotFound
	case errors.Is(err, fs.ErrPermission):
		wrapped.Err = source.ErrAccessDenied
	}
	return wrapped
}
