package core

import (
	"context"
	"io"
	"net/url"
)

// Entry is one item observed while listing an endpoint.
type Entry struct {
	// Ident is the backend-native identity: an absolute path for local
	// filesystems, an object key for object stores, an opaque file ID for
	// hierarchical drives.
	Ident string

	// RelPath is the slash-separated path relative to the endpoint root.
	// It is the key both sides of a mapping are compared on.
	RelPath string

	Size  int64
	MTime int64 // unix seconds
	IsDir bool

	// MD5Sum/SHA1Sum are filled when the backend reports a digest in its
	// listing (S3 ETag, GCS object MD5, Drive md5Checksum). Empty otherwise.
	MD5Sum  string
	SHA1Sum string
}

// Endpoint is a storage backend adapter. Implementations exist for the local
// filesystem, S3 and GCS object stores, Google Drive, and an in-memory fake.
//
// List is restartable: invoking it again re-walks the backend. Ordering is
// whatever the backend natively provides. Write takes a RelPath-style target
// (the entry need not exist yet); Stat, Read and Delete take the native
// identity produced by Resolve or List. Backend failures are classified by
// wrapping in TransientError or PermanentError.
type Endpoint interface {
	ServiceType() ServiceType
	Session() string
	BaseURL() *url.URL

	List(ctx context.Context, fn func(Entry) error) error
	Stat(ctx context.Context, ident string) (size int64, mtime int64, err error)
	Read(ctx context.Context, ident string) (io.ReadCloser, error)

	// Write stores size bytes from r at the path relPath under the endpoint
	// root, creating intermediate directories as needed, and returns the
	// backend-native identity of the written entry. Backends that can
	// preserve modification times apply mtime to the written entry.
	Write(ctx context.Context, relPath string, r io.Reader, size int64, mtime int64) (string, error)

	Delete(ctx context.Context, ident string) error

	// Resolve maps a fully-qualified item URL to the backend-native
	// identity. Fails with ErrInvalidURL if the URL does not belong to this
	// endpoint, ErrUnresolvable if a hierarchical path segment is unknown,
	// or ErrNotFound if the leaf entry does not exist.
	Resolve(ctx context.Context, u *url.URL) (string, error)
}

// EndpointResolver turns a URL into a ready Endpoint, selected by scheme.
type EndpointResolver interface {
	FromURL(ctx context.Context, u *url.URL) (Endpoint, error)
}
