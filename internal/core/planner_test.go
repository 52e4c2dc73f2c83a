package core_test

import (
	"context"
	"errors"
	"testing"

	"syncapp/internal/core"
	"syncapp/internal/database"
	"syncapp/internal/testutil"
)

func newPlanner(store *database.Store, clock core.Clock) *core.Planner {
	return core.NewPlanner(store, store, store, store,
		core.NewChecksumService(2), core.NewNopLogger(), clock)
}

func seedMapping(t *testing.T, store *database.Store, bidirectional bool) *core.Mapping {
	t.Helper()
	m := &core.Mapping{
		Name:          "docs",
		SrcURL:        "mem://src",
		DstURL:        "mem://dst",
		Bidirectional: bidirectional,
	}
	if err := store.InsertMapping(m); err != nil {
		t.Fatalf("InsertMapping() error = %v", err)
	}
	return m
}

func TestPlanner_Plan(t *testing.T) {
	ctx := context.Background()

	t.Run("source-only file queues a create", func(t *testing.T) {
		store := testutil.NewTestStore(t)
		clock := testutil.FixedClock()
		src, dst := newMem(t, "src"), newMem(t, "dst")
		src.Put("a.txt", []byte("alpha"), 100)

		m := seedMapping(t, store, false)
		res, err := newPlanner(store, clock).Plan(ctx, m, src, dst)
		if err != nil {
			t.Fatalf("Plan() error = %v", err)
		}
		if res.Enqueued != 1 {
			t.Fatalf("Enqueued = %d, want 1", res.Enqueued)
		}

		acts, err := store.List()
		if err != nil {
			t.Fatalf("List() error = %v", err)
		}
		if len(acts) != 1 {
			t.Fatalf("queued actions = %d, want 1", len(acts))
		}
		act := acts[0]
		if act.Kind != core.ActionCreate {
			t.Errorf("Kind = %s, want create", act.Kind)
		}
		if act.SrcURL != "mem://src/a.txt" || act.DstURL != "mem://dst/a.txt" {
			t.Errorf("URLs = %s -> %s", act.SrcURL, act.DstURL)
		}
	})

	t.Run("identical size and mtime skips without reading content", func(t *testing.T) {
		store := testutil.NewTestStore(t)
		src, dst := newMem(t, "src"), newMem(t, "dst")
		src.Put("b.txt", []byte("same"), 100)
		dst.Put("b.txt", []byte("same"), 100)

		m := seedMapping(t, store, false)
		res, err := newPlanner(store, testutil.FixedClock()).Plan(ctx, m, src, dst)
		if err != nil {
			t.Fatalf("Plan() error = %v", err)
		}
		if res.Enqueued != 0 {
			t.Errorf("Enqueued = %d, want 0", res.Enqueued)
		}
		if src.ReadCount() != 0 || dst.ReadCount() != 0 {
			t.Errorf("content read during fast-path skip: src=%d dst=%d reads",
				src.ReadCount(), dst.ReadCount())
		}
	})

	t.Run("mtime skew with equal content hashes once then caches", func(t *testing.T) {
		store := testutil.NewTestStore(t)
		src, dst := newMem(t, "src"), newMem(t, "dst")
		src.Put("c.txt", []byte("same"), 100)
		dst.Put("c.txt", []byte("same"), 200)

		m := seedMapping(t, store, false)
		p := newPlanner(store, testutil.FixedClock())

		res, err := p.Plan(ctx, m, src, dst)
		if err != nil {
			t.Fatalf("Plan() error = %v", err)
		}
		if res.Enqueued != 0 {
			t.Errorf("Enqueued = %d, want 0 for identical content", res.Enqueued)
		}
		if src.ReadCount() == 0 || dst.ReadCount() == 0 {
			t.Error("expected both sides hashed on first pass")
		}

		srcReads, dstReads := src.ReadCount(), dst.ReadCount()
		if _, err := p.Plan(ctx, m, src, dst); err != nil {
			t.Fatalf("second Plan() error = %v", err)
		}
		if src.ReadCount() != srcReads || dst.ReadCount() != dstReads {
			t.Error("second pass rehashed despite cached digests")
		}
	})

	t.Run("newer source wins an update", func(t *testing.T) {
		store := testutil.NewTestStore(t)
		src, dst := newMem(t, "src"), newMem(t, "dst")
		src.Put("d.txt", []byte("new content"), 200)
		dst.Put("d.txt", []byte("old"), 100)

		m := seedMapping(t, store, false)
		if _, err := newPlanner(store, testutil.FixedClock()).Plan(ctx, m, src, dst); err != nil {
			t.Fatalf("Plan() error = %v", err)
		}

		acts, _ := store.List()
		if len(acts) != 1 {
			t.Fatalf("queued actions = %d, want 1", len(acts))
		}
		if acts[0].Kind != core.ActionUpdate {
			t.Errorf("Kind = %s, want update", acts[0].Kind)
		}
		if acts[0].SrcURL != "mem://src/d.txt" {
			t.Errorf("SrcURL = %s, want source side", acts[0].SrcURL)
		}
	})

	t.Run("newer destination reverses the update direction", func(t *testing.T) {
		store := testutil.NewTestStore(t)
		src, dst := newMem(t, "src"), newMem(t, "dst")
		src.Put("d.txt", []byte("old"), 100)
		dst.Put("d.txt", []byte("new content"), 200)

		m := seedMapping(t, store, false)
		if _, err := newPlanner(store, testutil.FixedClock()).Plan(ctx, m, src, dst); err != nil {
			t.Fatalf("Plan() error = %v", err)
		}

		acts, _ := store.List()
		if len(acts) != 1 {
			t.Fatalf("queued actions = %d, want 1", len(acts))
		}
		if acts[0].SrcURL != "mem://dst/d.txt" || acts[0].DstURL != "mem://src/d.txt" {
			t.Errorf("URLs = %s -> %s, want dst -> src", acts[0].SrcURL, acts[0].DstURL)
		}
	})

	t.Run("mtime tie keeps destination unchanged", func(t *testing.T) {
		store := testutil.NewTestStore(t)
		src, dst := newMem(t, "src"), newMem(t, "dst")
		src.Put("e.txt", []byte("longer content"), 100)
		dst.Put("e.txt", []byte("short"), 100)

		m := seedMapping(t, store, false)
		res, err := newPlanner(store, testutil.FixedClock()).Plan(ctx, m, src, dst)
		if err != nil {
			t.Fatalf("Plan() error = %v", err)
		}
		if res.Enqueued != 0 {
			t.Errorf("Enqueued = %d, want 0 on tie", res.Enqueued)
		}
	})

	t.Run("destination-only file queues a delete", func(t *testing.T) {
		store := testutil.NewTestStore(t)
		src, dst := newMem(t, "src"), newMem(t, "dst")
		dst.Put("stale.txt", []byte("old"), 100)

		m := seedMapping(t, store, false)
		if _, err := newPlanner(store, testutil.FixedClock()).Plan(ctx, m, src, dst); err != nil {
			t.Fatalf("Plan() error = %v", err)
		}

		acts, _ := store.List()
		if len(acts) != 1 || acts[0].Kind != core.ActionDelete {
			t.Fatalf("want one delete action, got %v", acts)
		}
		if acts[0].DstURL != "mem://dst/stale.txt" {
			t.Errorf("DstURL = %s", acts[0].DstURL)
		}
	})

	t.Run("bidirectional mapping copies destination-only files back", func(t *testing.T) {
		store := testutil.NewTestStore(t)
		src, dst := newMem(t, "src"), newMem(t, "dst")
		dst.Put("extra.txt", []byte("keep me"), 100)

		m := seedMapping(t, store, true)
		if _, err := newPlanner(store, testutil.FixedClock()).Plan(ctx, m, src, dst); err != nil {
			t.Fatalf("Plan() error = %v", err)
		}

		acts, _ := store.List()
		if len(acts) != 1 || acts[0].Kind != core.ActionCreate {
			t.Fatalf("want one create action, got %v", acts)
		}
		if acts[0].SrcURL != "mem://dst/extra.txt" || acts[0].DstURL != "mem://src/extra.txt" {
			t.Errorf("URLs = %s -> %s, want dst -> src", acts[0].SrcURL, acts[0].DstURL)
		}
	})

	t.Run("blacklisted entries never enter the diff", func(t *testing.T) {
		store := testutil.NewTestStore(t)
		src, dst := newMem(t, "src"), newMem(t, "dst")
		src.Put("keep.txt", []byte("a"), 100)
		src.Put("skip.tmp", []byte("b"), 100)
		src.Put("private/secret.txt", []byte("c"), 100)

		if err := store.AddRule("*.tmp"); err != nil {
			t.Fatalf("AddRule() error = %v", err)
		}
		if err := store.AddRule("mem://src/private"); err != nil {
			t.Fatalf("AddRule() error = %v", err)
		}

		m := seedMapping(t, store, false)
		res, err := newPlanner(store, testutil.FixedClock()).Plan(ctx, m, src, dst)
		if err != nil {
			t.Fatalf("Plan() error = %v", err)
		}
		if res.Enqueued != 1 {
			t.Errorf("Enqueued = %d, want 1 (only keep.txt)", res.Enqueued)
		}
	})

	t.Run("second pass dedupes against queued actions", func(t *testing.T) {
		store := testutil.NewTestStore(t)
		src, dst := newMem(t, "src"), newMem(t, "dst")
		src.Put("a.txt", []byte("alpha"), 100)

		m := seedMapping(t, store, false)
		p := newPlanner(store, testutil.FixedClock())

		if _, err := p.Plan(ctx, m, src, dst); err != nil {
			t.Fatalf("first Plan() error = %v", err)
		}
		res, err := p.Plan(ctx, m, src, dst)
		if err != nil {
			t.Fatalf("second Plan() error = %v", err)
		}
		if res.Enqueued != 0 || res.Deduped != 1 {
			t.Errorf("Enqueued = %d, Deduped = %d, want 0/1", res.Enqueued, res.Deduped)
		}
	})

	t.Run("vanished entries are soft-deleted from the cache", func(t *testing.T) {
		store := testutil.NewTestStore(t)
		src, dst := newMem(t, "src"), newMem(t, "dst")
		src.Put("a.txt", []byte("alpha"), 100)

		m := seedMapping(t, store, false)
		p := newPlanner(store, testutil.FixedClock())

		if _, err := p.Plan(ctx, m, src, dst); err != nil {
			t.Fatalf("first Plan() error = %v", err)
		}
		if _, err := store.LookupByURL("mem://src/a.txt"); err != nil {
			t.Fatalf("LookupByURL() before removal error = %v", err)
		}

		if err := src.Delete(ctx, "a.txt"); err != nil {
			t.Fatalf("Delete() error = %v", err)
		}
		if _, err := p.Plan(ctx, m, src, dst); err != nil {
			t.Fatalf("second Plan() error = %v", err)
		}
		if _, err := store.LookupByURL("mem://src/a.txt"); !errors.Is(err, core.ErrNotFound) {
			t.Errorf("LookupByURL() after removal error = %v, want ErrNotFound", err)
		}
	})

	t.Run("backend MD5 without SHA-1 still converges", func(t *testing.T) {
		store := testutil.NewTestStore(t)
		src, dst := newMem(t, "src"), newMem(t, "dst")
		content := []byte("hello world")
		src.Put("x.txt", content, 100)
		dst.Put("x.txt", content, 200)

		// Object-store listings surface an MD5 but never a SHA-1. A cached
		// record in that shape must not read as "different" against a side
		// that was fully hashed.
		rec := &core.FileRecord{
			Filename:       "x.txt",
			Filepath:       "x.txt",
			URLName:        "mem://src/x.txt",
			MD5Sum:         "5eb63bbbe01eeed093cb22bb8f5acdc3",
			MTime:          100,
			Size:           int64(len(content)),
			ServiceID:      "src",
			ServiceType:    core.ServiceMemory,
			ServiceSession: "src",
		}
		if err := store.Upsert(rec); err != nil {
			t.Fatalf("Upsert() error = %v", err)
		}

		m := seedMapping(t, store, false)
		res, err := newPlanner(store, testutil.FixedClock()).Plan(ctx, m, src, dst)
		if err != nil {
			t.Fatalf("Plan() error = %v", err)
		}
		if res.Enqueued != 0 {
			t.Errorf("Enqueued = %d, want 0 for identical content", res.Enqueued)
		}
		if src.ReadCount() != 0 {
			t.Errorf("source read %d times despite its cached MD5", src.ReadCount())
		}
	})

	t.Run("item errors do not withhold last_run", func(t *testing.T) {
		store := testutil.NewTestStore(t)
		clock := testutil.FixedClock()
		src, dst := newMem(t, "src"), newMem(t, "dst")
		src.Put("x.txt", []byte("aaaa"), 100)
		dst.Put("x.txt", []byte("bbbb"), 200)
		src.ReadErr = errors.New("device busy")

		m := seedMapping(t, store, false)
		res, err := newPlanner(store, clock).Plan(ctx, m, src, dst)
		if err != nil {
			t.Fatalf("Plan() error = %v", err)
		}
		if len(res.ItemErrors) == 0 {
			t.Fatal("expected a collected item error from the failed rehash")
		}

		got, err := store.GetMapping(m.Name)
		if err != nil {
			t.Fatalf("GetMapping() error = %v", err)
		}
		if got.LastRun.Unix() != clock.Now().Unix() {
			t.Errorf("LastRun = %v, want %v despite item errors", got.LastRun, clock.Now())
		}
	})

	t.Run("clean pass commits last_run", func(t *testing.T) {
		store := testutil.NewTestStore(t)
		clock := testutil.FixedClock()
		src, dst := newMem(t, "src"), newMem(t, "dst")

		m := seedMapping(t, store, false)
		if _, err := newPlanner(store, clock).Plan(ctx, m, src, dst); err != nil {
			t.Fatalf("Plan() error = %v", err)
		}

		got, err := store.GetMapping(m.Name)
		if err != nil {
			t.Fatalf("GetMapping() error = %v", err)
		}
		if got.LastRun.Unix() != clock.Now().Unix() {
			t.Errorf("LastRun = %v, want %v", got.LastRun, clock.Now())
		}
	})
}

func TestPlanner_Index(t *testing.T) {
	store := testutil.NewTestStore(t)
	ep := newMem(t, "src")
	ep.Put("a.txt", []byte("alpha"), 100)
	ep.Put("docs/b.txt", []byte("beta"), 200)

	count, itemErrs, err := newPlanner(store, testutil.FixedClock()).Index(context.Background(), ep)
	if err != nil {
		t.Fatalf("Index() error = %v", err)
	}
	if count != 2 {
		t.Errorf("count = %d, want 2", count)
	}
	if len(itemErrs) != 0 {
		t.Errorf("item errors = %v", itemErrs)
	}

	rec, err := store.LookupByURL("mem://src/docs/b.txt")
	if err != nil {
		t.Fatalf("LookupByURL() error = %v", err)
	}
	if rec.Size != 4 || rec.MTime != 200 {
		t.Errorf("cached record = size %d mtime %d", rec.Size, rec.MTime)
	}
	if rec.Filename != "b.txt" {
		t.Errorf("Filename = %s, want b.txt", rec.Filename)
	}
}
