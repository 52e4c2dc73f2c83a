package endpoint

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"syncapp/internal/config"
	"syncapp/internal/core"
)

// GCS adapts a Google Cloud Storage bucket (or a prefix within one). The
// backend-native identity is the object name.
type GCS struct {
	client *storage.Client
	base   *url.URL
	bucket string
	prefix string // empty or ends with "/"
}

// NewGCS creates an endpoint for gs://bucket/prefix. Without a credentials
// file it uses application default credentials.
func NewGCS(ctx context.Context, baseURL *url.URL, cfg config.GCSConfig) (*GCS, error) {
	if baseURL.Scheme != "gs" || baseURL.Host == "" {
		return nil, fmt.Errorf("%w: expected gs://bucket/..., got %s", core.ErrInvalidURL, baseURL)
	}

	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating gcs client: %w", err)
	}

	prefix := strings.TrimPrefix(baseURL.Path, "/")
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	u := *baseURL
	u.Path = strings.TrimSuffix(u.Path, "/")
	return &GCS{
		client: client,
		base:   &u,
		bucket: baseURL.Host,
		prefix: prefix,
	}, nil
}

func (e *GCS) ServiceType() core.ServiceType { return core.ServiceGCS }
func (e *GCS) Session() string               { return e.bucket }
func (e *GCS) BaseURL() *url.URL             { return e.base }

func (e *GCS) List(ctx context.Context, fn func(core.Entry) error) error {
	it := e.client.Bucket(e.bucket).Objects(ctx, &storage.Query{Prefix: e.prefix})
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			return nil
		}
		if err != nil {
			return classifyGCS(fmt.Errorf("listing gs://%s/%s: %w", e.bucket, e.prefix, err))
		}
		rel := strings.TrimPrefix(attrs.Name, e.prefix)
		if rel == "" {
			continue
		}
		entry := core.Entry{
			Ident:   attrs.Name,
			RelPath: rel,
			Size:    attrs.Size,
			MTime:   attrs.Updated.Unix(),
			IsDir:   strings.HasSuffix(attrs.Name, "/"),
		}
		if len(attrs.MD5) > 0 {
			entry.MD5Sum = hex.EncodeToString(attrs.MD5)
		}
		if err := fn(entry); err != nil {
			return err
		}
	}
}

func (e *GCS) Stat(ctx context.Context, ident string) (int64, int64, error) {
	attrs, err := e.client.Bucket(e.bucket).Object(ident).Attrs(ctx)
	if err != nil {
		return 0, 0, classifyGCS(fmt.Errorf("stat gs://%s/%s: %w", e.bucket, ident, err))
	}
	return attrs.Size, attrs.Updated.Unix(), nil
}

func (e *GCS) Read(ctx context.Context, ident string) (io.ReadCloser, error) {
	r, err := e.client.Bucket(e.bucket).Object(ident).NewReader(ctx)
	if err != nil {
		return nil, classifyGCS(fmt.Errorf("read gs://%s/%s: %w", e.bucket, ident, err))
	}
	return r, nil
}

func (e *GCS) Write(ctx context.Context, relPath string, r io.Reader, size, mtime int64) (string, error) {
	name := e.prefix + strings.TrimPrefix(relPath, "/")
	w := e.client.Bucket(e.bucket).Object(name).NewWriter(ctx)
	w.ContentType = "application/octet-stream"

	if _, err := io.Copy(w, r); err != nil {
		w.Close()
		return "", classifyGCS(fmt.Errorf("write gs://%s/%s: %w", e.bucket, name, err))
	}
	if err := w.Close(); err != nil {
		return "", classifyGCS(fmt.Errorf("finalize gs://%s/%s: %w", e.bucket, name, err))
	}
	return name, nil
}

func (e *GCS) Delete(ctx context.Context, ident string) error {
	if err := e.client.Bucket(e.bucket).Object(ident).Delete(ctx); err != nil {
		return classifyGCS(fmt.Errorf("delete gs://%s/%s: %w", e.bucket, ident, err))
	}
	return nil
}

func (e *GCS) Resolve(ctx context.Context, u *url.URL) (string, error) {
	rel, err := core.RemoveBaseURL(u, e.base)
	if err != nil {
		return "", err
	}
	name := e.prefix + rel
	if _, _, err := e.Stat(ctx, name); err != nil {
		return "", err
	}
	return name, nil
}

// Close releases the underlying client.
func (e *GCS) Close() error { return e.client.Close() }

// classifyGCS maps storage API errors onto the sentinel and retryability
// scheme.
func classifyGCS(err error) error {
	if errors.Is(err, storage.ErrObjectNotExist) || errors.Is(err, storage.ErrBucketNotExist) {
		return fmt.Errorf("%w: %v", core.ErrNotFound, err)
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		switch {
		case gerr.Code == 404:
			return fmt.Errorf("%w: %v", core.ErrNotFound, err)
		case gerr.Code == 429 || gerr.Code >= 500:
			return core.Transient(err)
		default:
			return core.Permanent(err)
		}
	}
	return core.Transient(err)
}

var _ core.Endpoint = (*GCS)(nil)
