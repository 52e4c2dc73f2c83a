package endpoint_test

import (
	"context"
	"errors"
	"testing"

	"syncapp/internal/config"
	"syncapp/internal/core"
	"syncapp/internal/endpoint"
)

func newRegistry(t *testing.T) *endpoint.Registry {
	t.Helper()
	return endpoint.NewRegistry(&config.Config{}, nil, core.NewNopLogger())
}

func TestRegistry_ForBase(t *testing.T) {
	ctx := context.Background()

	t.Run("caches per base url", func(t *testing.T) {
		r := newRegistry(t)
		ep0, err := r.ForBase(ctx, mustParse(t, "mem://test"))
		if err != nil {
			t.Fatalf("ForBase() error = %v", err)
		}
		ep1, err := r.ForBase(ctx, mustParse(t, "mem://test"))
		if err != nil {
			t.Fatalf("second ForBase() error = %v", err)
		}
		if ep0 != ep1 {
			t.Error("same base url produced distinct endpoints")
		}
	})

	t.Run("trailing slash shares the cache entry", func(t *testing.T) {
		r := newRegistry(t)
		ep0, _ := r.ForBase(ctx, mustParse(t, "mem://test"))
		ep1, err := r.ForBase(ctx, mustParse(t, "mem://test/"))
		if err != nil {
			t.Fatalf("ForBase() error = %v", err)
		}
		if ep0 != ep1 {
			t.Error("trailing slash produced a distinct endpoint")
		}
	})

	t.Run("distinct bases stay distinct", func(t *testing.T) {
		r := newRegistry(t)
		ep0, _ := r.ForBase(ctx, mustParse(t, "mem://one"))
		ep1, _ := r.ForBase(ctx, mustParse(t, "mem://two"))
		if ep0 == ep1 {
			t.Error("different bases shared one endpoint")
		}
	})

	t.Run("unknown scheme is rejected", func(t *testing.T) {
		r := newRegistry(t)
		if _, err := r.ForBase(ctx, mustParse(t, "ftp://host/x")); !errors.Is(err, core.ErrInvalidURL) {
			t.Errorf("ForBase(ftp) error = %v, want ErrInvalidURL", err)
		}
	})

	t.Run("gdrive without a tree store fails", func(t *testing.T) {
		r := newRegistry(t)
		if _, err := r.ForBase(ctx, mustParse(t, "gdrive://session/docs")); err == nil {
			t.Error("ForBase(gdrive) without tree store succeeded")
		}
	})
}

func TestRegistry_FromURL(t *testing.T) {
	ctx := context.Background()

	t.Run("item urls share the backend root endpoint", func(t *testing.T) {
		r := newRegistry(t)
		base, err := r.ForBase(ctx, mustParse(t, "mem://test"))
		if err != nil {
			t.Fatalf("ForBase() error = %v", err)
		}
		item, err := r.FromURL(ctx, mustParse(t, "mem://test/sub/a.txt"))
		if err != nil {
			t.Fatalf("FromURL() error = %v", err)
		}
		if base != item {
			t.Error("item url did not resolve to the shared root endpoint")
		}
	})

	t.Run("file urls anchor at the filesystem root", func(t *testing.T) {
		r := newRegistry(t)
		ep, err := r.FromURL(ctx, mustParse(t, "file:///data/docs/a.txt"))
		if err != nil {
			t.Fatalf("FromURL() error = %v", err)
		}
		if ep.BaseURL().Path != "/" {
			t.Errorf("BaseURL().Path = %q, want /", ep.BaseURL().Path)
		}
	})
}

func TestMemory_Resolve(t *testing.T) {
	ctx := context.Background()
	ep := endpoint.NewMemory(mustParse(t, "mem://test"))
	ep.Put("sub/a.txt", []byte("alpha"), 100)

	ident, err := ep.Resolve(ctx, mustParse(t, "mem://test/sub/a.txt"))
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if ident != "sub/a.txt" {
		t.Errorf("Resolve() = %q, want %q", ident, "sub/a.txt")
	}

	if _, err := ep.Resolve(ctx, mustParse(t, "mem://test/missing.txt")); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("Resolve(missing) error = %v, want ErrNotFound", err)
	}
}

func TestMemory_ListOrder(t *testing.T) {
	ep := endpoint.NewMemory(mustParse(t, "mem://test"))
	ep.Put("b.txt", []byte("b"), 100)
	ep.Put("a.txt", []byte("a"), 100)

	var got []string
	if err := ep.List(context.Background(), func(e core.Entry) error {
		got = append(got, e.RelPath)
		return nil
	}); err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(got) != 2 || got[0] != "a.txt" || got[1] != "b.txt" {
		t.Errorf("List() order = %v, want sorted", got)
	}
}
