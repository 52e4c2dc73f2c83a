package endpoint

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"syncapp/internal/config"
	"syncapp/internal/core"
)

// Registry constructs endpoints by URL scheme and caches them per base URL,
// so repeated resolutions reuse one backend client.
type Registry struct {
	cfg    *config.Config
	tree   core.DirectoryTree
	logger core.Logger

	mu    sync.Mutex
	cache map[string]core.Endpoint
}

// NewRegistry creates a Registry backed by the given configuration. tree is
// required for gdrive endpoints and ignored by the rest.
func NewRegistry(cfg *config.Config, tree core.DirectoryTree, logger core.Logger) *Registry {
	return &Registry{
		cfg:    cfg,
		tree:   tree,
		logger: logger,
		cache:  make(map[string]core.Endpoint),
	}
}

// ForBase returns an endpoint anchored at u itself. Listing it walks only the
// subtree under u; used for the two sides of a mapping.
func (r *Registry) ForBase(ctx context.Context, u *url.URL) (core.Endpoint, error) {
	return r.endpoint(ctx, u)
}

// FromURL returns an endpoint anchored at the backend root containing u: the
// filesystem root for file URLs, the bucket for object stores, the drive root
// for gdrive. Item URLs under that root resolve against it.
func (r *Registry) FromURL(ctx context.Context, u *url.URL) (core.Endpoint, error) {
	root := *u
	switch u.Scheme {
	case "file", "ssh":
		root.Path = "/"
	default:
		root.Path = ""
	}
	return r.endpoint(ctx, &root)
}

func (r *Registry) endpoint(ctx context.Context, base *url.URL) (core.Endpoint, error) {
	if _, err := core.ParseServiceType(base.Scheme); err != nil {
		return nil, err
	}

	key := strings.TrimSuffix(base.String(), "/")

	r.mu.Lock()
	if ep, ok := r.cache[key]; ok {
		r.mu.Unlock()
		return ep, nil
	}
	r.mu.Unlock()

	// Constructed outside the lock: backend clients may do I/O.
	ep, err := r.build(ctx, base)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.cache[key]; ok {
		return prev, nil
	}
	r.cache[key] = ep
	return ep, nil
}

func (r *Registry) build(ctx context.Context, base *url.URL) (core.Endpoint, error) {
	switch base.Scheme {
	case "file":
		return NewLocal(base)
	case "s3":
		return NewS3(ctx, base, r.cfg.S3)
	case "gs":
		return NewGCS(ctx, base, r.cfg.GCS)
	case "gdrive":
		if r.tree == nil {
			return nil, fmt.Errorf("gdrive endpoints need a directory tree store")
		}
		return NewGDrive(ctx, base, r.cfg.GDrive, r.tree, r.logger)
	case "ssh":
		return NewSSH(ctx, base, r.cfg.SSH)
	case "mem":
		return NewMemory(base), nil
	default:
		return nil, fmt.Errorf("%w: scheme %q", core.ErrInvalidURL, base.Scheme)
	}
}

var _ core.EndpointResolver = (*Registry)(nil)
