// Package source opens the byte streams that get uploaded.
//
// A Source resolves a reference (a local path, or a URI such as
// s3://bucket/key) to an Object that can be streamed to the store.
// Implementations live in subpackages.
package source

import (
	"context"
	"io"
	"strings"
)

// Source opens upload inputs.
type Source interface {
	// Open resolves ref and returns a readable object.
	// Returns an error wrapping ErrNotFound if ref does not exist.
	Open(ctx context.Context, ref string) (*Object, error)

	// Close releases any resources held by the source.
	Close() error
}

// Object is an opened input. The caller must close Body.
type Object struct {
	// Ref is the reference the object was opened from.
	Ref string

	// Name is the base name, used as the default display name.
	Name string

	// Size is the byte length, or -1 if unknown.
	Size int64

	// ContentType is the source's own content type, if it records one.
	ContentType string

	Body io.ReadCloser
}

// Type identifies a source implementation.
type Type string

const (
	// TypeFile is the local filesystem source.
	TypeFile Type = "file"

	// TypeS3 is the AWS S3 (or S3-compatible) source.
	TypeS3 Type = "s3"
)

// String returns the string representation of the source type.
func (t Type) String() string {
	return string(t)
}

// Scheme returns the URI scheme of ref, or "" for plain paths.
func Scheme(ref string) string {
	scheme, _, ok := strings.Cut(ref, "://")
	if !ok || scheme == "" || strings.ContainsAny(scheme, `/\`) {
		return ""
	}
	return strings.ToLower(scheme)
}
