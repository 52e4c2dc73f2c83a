package endpoint

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"sort"
	"strings"
	"sync"

	"syncapp/internal/core"
)

type memObject struct {
	data  []byte
	mtime int64
}

// Memory is an in-memory endpoint (scheme mem://) for tests. The
// backend-native identity is the relative path. Error fields let tests
// inject failures per operation.
type Memory struct {
	mu      sync.Mutex
	base    *url.URL
	session string
	objects map[string]*memObject

	ReadErr   error
	WriteErr  error
	DeleteErr error

	reads int
}

// NewMemory creates an empty in-memory endpoint. The URL host names the
// session (mem://test/).
func NewMemory(baseURL *url.URL) *Memory {
	u := *baseURL
	u.Path = strings.TrimSuffix(u.Path, "/")
	return &Memory{
		base:    &u,
		session: u.Host,
		objects: make(map[string]*memObject),
	}
}

func (m *Memory) ServiceType() core.ServiceType { return core.ServiceMemory }
func (m *Memory) Session() string               { return m.session }
func (m *Memory) BaseURL() *url.URL             { return m.base }

// Put seeds an object, test helper.
func (m *Memory) Put(relPath string, data []byte, mtime int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[relPath] = &memObject{data: append([]byte(nil), data...), mtime: mtime}
}

// Contents returns a copy of an object's data and whether it exists.
func (m *Memory) Contents(relPath string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.objects[relPath]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), obj.data...), true
}

// Len returns the number of stored objects.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.objects)
}

func (m *Memory) List(ctx context.Context, fn func(core.Entry) error) error {
	m.mu.Lock()
	paths := make([]string, 0, len(m.objects))
	for p := range m.objects {
		paths = append(paths, p)
	}
	m.mu.Unlock()
	sort.Strings(paths)

	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			return err
		}
		m.mu.Lock()
		obj, ok := m.objects[p]
		m.mu.Unlock()
		if !ok {
			continue
		}
		if err := fn(core.Entry{
			Ident:   p,
			RelPath: p,
			Size:    int64(len(obj.data)),
			MTime:   obj.mtime,
		}); err != nil {
			return err
		}
	}
	return nil
}

func (m *Memory) Stat(ctx context.Context, ident string) (int64, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.objects[ident]
	if !ok {
		return 0, 0, fmt.Errorf("%w: %s", core.ErrNotFound, ident)
	}
	return int64(len(obj.data)), obj.mtime, nil
}

// ReadCount reports how many times Read was called, successful or not.
func (m *Memory) ReadCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reads
}

func (m *Memory) Read(ctx context.Context, ident string) (io.ReadCloser, error) {
	m.mu.Lock()
	m.reads++
	m.mu.Unlock()
	if m.ReadErr != nil {
		return nil, m.ReadErr
	}
	data, ok := m.Contents(ident)
	if !ok {
		return nil, fmt.Errorf("%w: %s", core.ErrNotFound, ident)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *Memory) Write(ctx context.Context, relPath string, r io.Reader, size, mtime int64) (string, error) {
	if m.WriteErr != nil {
		return "", m.WriteErr
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[relPath] = &memObject{data: data, mtime: mtime}
	return relPath, nil
}

func (m *Memory) Delete(ctx context.Context, ident string) error {
	if m.DeleteErr != nil {
		return m.DeleteErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.objects[ident]; !ok {
		return fmt.Errorf("%w: %s", core.ErrNotFound, ident)
	}
	delete(m.objects, ident)
	return nil
}

func (m *Memory) Resolve(ctx context.Context, u *url.URL) (string, error) {
	rel, err := core.RemoveBaseURL(u, m.base)
	if err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.objects[rel]; !ok {
		return "", fmt.Errorf("%w: %s", core.ErrNotFound, rel)
	}
	return rel, nil
}

var _ core.Endpoint = (*Memory)(nil)
