// Package store defines abstractions for the remote file store.
//
// The store holds ephemeral uploaded assets that are later referenced by
// the generation endpoint. It is eventually consistent: an uploaded object
// starts in PROCESSING and asynchronously becomes ACTIVE or FAILED, and a
// listing may disagree with a request made moments earlier.
//
// The core Store interface stays small (list and metadata). Mutating and
// generation calls are optional capability interfaces, detected by the
// components that need them.
package store

import (
	"context"
	"io"
)

// Store abstracts the read surface of the remote file store.
//
// Implementations should:
//   - Support pagination via page tokens
//   - Be safe for concurrent use
type Store interface {
	// List returns a page of objects.
	// Use NextPageToken from ListResult for subsequent pages.
	List(ctx context.Context, opts ListOptions) (*ListResult, error)

	// Get returns current metadata for a single object.
	// Returns ErrNotFound if the object does not exist.
	Get(ctx context.Context, id string) (*RemoteObject, error)

	// Close releases any resources held by the store.
	Close() error
}

// Deleter can delete objects.
type Deleter interface {
	Delete(ctx context.Context, id string) (*DeleteResult, error)
}

// Uploader can initiate an upload.
//
// The returned object is whatever the store reported at initiation time;
// its State is usually PROCESSING.
type Uploader interface {
	Upload(ctx context.Context, req UploadRequest) (*RemoteObject, error)
}

// Generator can run a content generation request.
//
// Generate returns the raw response body of a successful (2xx) call. The
// caller is responsible for decoding and classifying it.
type Generator interface {
	Generate(ctx context.Context, model string, req *GenerateRequest) ([]byte, error)
}

// ListOptions configures a List operation.
type ListOptions struct {
	// PageSize limits the number of objects returned per page.
	// Zero uses the store default.
	PageSize int

	// PageToken resumes listing from a previous ListResult.
	// Empty string starts from the beginning.
	PageToken string
}

// ListResult contains a page of objects from a List operation.
type ListResult struct {
	// Objects contains the objects of this page, in store order.
	Objects []RemoteObject

	// NextPageToken is used to retrieve the next page.
	// Empty string indicates no more pages.
	NextPageToken string
}

// UploadRequest describes a single upload initiation.
type UploadRequest struct {
	DisplayName string
	MIMEType    string

	// Body streams the object bytes.
	Body io.Reader

	// Size is the body length in bytes, or -1 if unknown.
	Size int64
}

// DeleteResult describes a completed delete call.
type DeleteResult struct {
	// Body is the trimmed response body when it was neither empty nor "{}".
	// A non-empty Body means the store accepted the call but answered with
	// something unexpected.
	Body string
}

// Unexpected reports whether the store returned an unexpected body.
func (r *DeleteResult) Unexpected() bool {
	return r != nil && r.Body != ""
}
