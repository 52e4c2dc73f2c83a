package app

import (
	"context"
	"net/url"
	"testing"

	"syncapp/internal/config"
	"syncapp/internal/endpoint"
)

func newTestApp(t *testing.T) *App {
	t.Helper()

	cfg := config.NewConfig(t.TempDir())
	cfg.Database.Type = "memory"
	cfg.LogDir = t.TempDir()

	a, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { a.Close() })
	return a
}

func (a *App) memFor(t *testing.T, host string) *endpoint.Memory {
	t.Helper()
	u, err := url.Parse("mem://" + host)
	if err != nil {
		t.Fatalf("parsing url: %v", err)
	}
	ep, err := a.registry.ForBase(context.Background(), u)
	if err != nil {
		t.Fatalf("ForBase() error = %v", err)
	}
	return ep.(*endpoint.Memory)
}

func TestApp_SyncAndProcess(t *testing.T) {
	ctx := context.Background()
	a := newTestApp(t)

	src := a.memFor(t, "src")
	dst := a.memFor(t, "dst")
	src.Put("a.txt", []byte("alpha"), 100)
	src.Put("sub/b.txt", []byte("beta"), 200)

	if _, err := a.AddMapping("docs", "mem://src", "mem://dst", false); err != nil {
		t.Fatalf("AddMapping() error = %v", err)
	}

	res, err := a.SyncOne(ctx, "docs")
	if err != nil {
		t.Fatalf("SyncOne() error = %v", err)
	}
	if res.Enqueued != 2 {
		t.Fatalf("Enqueued = %d, want 2", res.Enqueued)
	}

	pending, err := a.ListPending()
	if err != nil {
		t.Fatalf("ListPending() error = %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("ListPending() = %d actions, want 2", len(pending))
	}

	applied, err := a.ProcessAll(ctx)
	if err != nil {
		t.Fatalf("ProcessAll() error = %v", err)
	}
	if applied.Applied != 2 {
		t.Fatalf("Applied = %d, want 2", applied.Applied)
	}

	if data, ok := dst.Contents("a.txt"); !ok || string(data) != "alpha" {
		t.Errorf("dst a.txt = %q, %v", data, ok)
	}
	if data, ok := dst.Contents("sub/b.txt"); !ok || string(data) != "beta" {
		t.Errorf("dst sub/b.txt = %q, %v", data, ok)
	}

	// A second planning pass over converged sides is quiet.
	res, err = a.SyncOne(ctx, "docs")
	if err != nil {
		t.Fatalf("second SyncOne() error = %v", err)
	}
	if res.Enqueued != 0 {
		t.Errorf("second pass Enqueued = %d, want 0", res.Enqueued)
	}
}

func TestApp_SyncAll(t *testing.T) {
	ctx := context.Background()
	a := newTestApp(t)

	a.memFor(t, "one").Put("a.txt", []byte("a"), 100)
	a.memFor(t, "two").Put("b.txt", []byte("b"), 100)
	a.memFor(t, "dst1")
	a.memFor(t, "dst2")

	if _, err := a.AddMapping("first", "mem://one", "mem://dst1", false); err != nil {
		t.Fatalf("AddMapping() error = %v", err)
	}
	if _, err := a.AddMapping("second", "mem://two", "mem://dst2", false); err != nil {
		t.Fatalf("AddMapping() error = %v", err)
	}

	results, err := a.SyncAll(ctx)
	if err != nil {
		t.Fatalf("SyncAll() error = %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("SyncAll() = %d results, want 2", len(results))
	}
	if results["first"].Enqueued != 1 || results["second"].Enqueued != 1 {
		t.Errorf("results = %+v", results)
	}
}

func TestApp_AddMapping_Validation(t *testing.T) {
	a := newTestApp(t)

	if _, err := a.AddMapping("bad", "ftp://host/x", "mem://dst", false); err == nil {
		t.Error("AddMapping() accepted an unsupported scheme")
	}

	m, err := a.AddMapping("docs", "mem://src/", "mem://dst/", true)
	if err != nil {
		t.Fatalf("AddMapping() error = %v", err)
	}
	if m.SrcURL != "mem://src" || m.DstURL != "mem://dst" {
		t.Errorf("trailing slashes kept: %+v", m)
	}
	if !m.Bidirectional {
		t.Error("Bidirectional flag lost")
	}
}

func TestApp_IndexAndCache(t *testing.T) {
	ctx := context.Background()
	a := newTestApp(t)

	src := a.memFor(t, "src")
	src.Put("a.txt", []byte("alpha"), 100)
	src.Put("sub/b.txt", []byte("beta"), 200)

	count, itemErrs, err := a.IndexURL(ctx, "mem://src")
	if err != nil {
		t.Fatalf("IndexURL() error = %v", err)
	}
	if len(itemErrs) != 0 {
		t.Fatalf("IndexURL() item errors = %v", itemErrs)
	}
	if count != 2 {
		t.Fatalf("IndexURL() = %d entries, want 2", count)
	}

	recs, err := a.ListCache(ctx, "mem://src")
	if err != nil {
		t.Fatalf("ListCache() error = %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("ListCache() = %d records, want 2", len(recs))
	}

	recs, err = a.ListCache(ctx, "mem://src/sub")
	if err != nil {
		t.Fatalf("ListCache(sub) error = %v", err)
	}
	if len(recs) != 1 || recs[0].URLName != "mem://src/sub/b.txt" {
		t.Errorf("ListCache(sub) = %+v", recs)
	}

	if err := a.ClearEntry("mem://src/a.txt"); err != nil {
		t.Fatalf("ClearEntry() error = %v", err)
	}
	live := 0
	recs, _ = a.ListCache(ctx, "mem://src")
	for _, rec := range recs {
		if rec.DeletedAt == nil {
			live++
		}
	}
	if live != 1 {
		t.Errorf("live cache records after ClearEntry = %d, want 1", live)
	}
}

func TestApp_Blacklist(t *testing.T) {
	a := newTestApp(t)

	if err := a.AddBlacklistRule("*.tmp"); err != nil {
		t.Fatalf("AddBlacklistRule() error = %v", err)
	}
	rules, err := a.ListBlacklist()
	if err != nil {
		t.Fatalf("ListBlacklist() error = %v", err)
	}
	if len(rules) != 1 || rules[0] != "*.tmp" {
		t.Errorf("ListBlacklist() = %v", rules)
	}
}

func TestApp_RemovePending(t *testing.T) {
	ctx := context.Background()
	a := newTestApp(t)

	a.memFor(t, "src").Put("a.txt", []byte("alpha"), 100)
	a.memFor(t, "dst")

	if _, err := a.AddMapping("docs", "mem://src", "mem://dst", false); err != nil {
		t.Fatalf("AddMapping() error = %v", err)
	}
	if _, err := a.SyncOne(ctx, "docs"); err != nil {
		t.Fatalf("SyncOne() error = %v", err)
	}

	n, err := a.RemovePending("mem://src/a.txt")
	if err != nil {
		t.Fatalf("RemovePending() error = %v", err)
	}
	if n != 1 {
		t.Errorf("RemovePending() = %d, want 1", n)
	}
	if pending, _ := a.ListPending(); len(pending) != 0 {
		t.Errorf("queue not empty after RemovePending")
	}
}
