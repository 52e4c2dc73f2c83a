// Package endpoint implements storage backend adapters: local filesystem,
// S3 and GCS object stores, Google Drive, SFTP over SSH, and an in-memory
// fake for tests.
package endpoint

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"syncapp/internal/core"
)

// Local adapts a directory on the local filesystem. The backend-native
// identity is the absolute file path.
type Local struct {
	base *url.URL
	root string // absolute directory the base URL points at
}

// NewLocal creates an endpoint rooted at the path of baseURL
// (file:///some/dir).
func NewLocal(baseURL *url.URL) (*Local, error) {
	if baseURL.Scheme != "file" {
		return nil, fmt.Errorf("%w: expected file scheme, got %q", core.ErrInvalidURL, baseURL.Scheme)
	}
	root := filepath.Clean(baseURL.Path)
	if root == "" || !filepath.IsAbs(root) {
		return nil, fmt.Errorf("%w: file URL must carry an absolute path", core.ErrInvalidURL)
	}
	u := *baseURL
	u.Path = filepath.ToSlash(root)
	return &Local{base: &u, root: root}, nil
}

func (l *Local) ServiceType() core.ServiceType { return core.ServiceLocal }
func (l *Local) Session() string               { return l.root }
func (l *Local) BaseURL() *url.URL             { return l.base }

func (l *Local) List(ctx context.Context, fn func(core.Entry) error) error {
	return filepath.WalkDir(l.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) && p == l.root {
				return fmt.Errorf("%w: %s", core.ErrNotFound, l.root)
			}
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if p == l.root {
			return nil
		}
		rel, err := filepath.Rel(l.root, p)
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			if os.IsNotExist(err) {
				// Vanished mid-walk.
				return nil
			}
			return err
		}
		return fn(core.Entry{
			Ident:   p,
			RelPath: filepath.ToSlash(rel),
			Size:    info.Size(),
			MTime:   info.ModTime().Unix(),
			IsDir:   d.IsDir(),
		})
	})
}

func (l *Local) Stat(ctx context.Context, ident string) (int64, int64, error) {
	info, err := os.Stat(ident)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, 0, fmt.Errorf("%w: %s", core.ErrNotFound, ident)
		}
		return 0, 0, err
	}
	return info.Size(), info.ModTime().Unix(), nil
}

func (l *Local) Read(ctx context.Context, ident string) (io.ReadCloser, error) {
	f, err := os.Open(ident)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", core.ErrNotFound, ident)
		}
		return nil, err
	}
	return f, nil
}

// Write streams to a temporary file in the target directory and renames it
// into place, so readers never observe a partial file. The source mtime is
// preserved on the result.
func (l *Local) Write(ctx context.Context, relPath string, r io.Reader, size, mtime int64) (string, error) {
	target := filepath.Join(l.root, filepath.FromSlash(relPath))
	prefix := l.root
	if prefix != string(filepath.Separator) {
		prefix += string(filepath.Separator)
	}
	if !strings.HasPrefix(target, prefix) {
		return "", fmt.Errorf("%w: %q escapes endpoint root", core.ErrInvalidURL, relPath)
	}

	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("creating %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".syncapp-*")
	if err != nil {
		return "", fmt.Errorf("creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return "", fmt.Errorf("writing %s: %w", target, err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("closing %s: %w", target, err)
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		return "", fmt.Errorf("renaming into %s: %w", target, err)
	}

	mt := time.Unix(mtime, 0)
	if err := os.Chtimes(target, mt, mt); err != nil {
		return "", fmt.Errorf("setting mtime on %s: %w", target, err)
	}
	return target, nil
}

func (l *Local) Delete(ctx context.Context, ident string) error {
	if err := os.Remove(ident); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", core.ErrNotFound, ident)
		}
		return err
	}
	return nil
}

func (l *Local) Resolve(ctx context.Context, u *url.URL) (string, error) {
	rel, err := core.RemoveBaseURL(u, l.base)
	if err != nil {
		return "", err
	}
	p := filepath.Join(l.root, filepath.FromSlash(rel))
	if _, err := os.Stat(p); err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: %s", core.ErrNotFound, p)
		}
		return "", err
	}
	return p, nil
}

var _ core.Endpoint = (*Local)(nil)
