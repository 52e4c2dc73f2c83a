package core

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// ItemError records a per-entry failure that was skipped rather than aborting
// a whole pass.
type ItemError struct {
	URL string
	Err error
}

// PlanResult summarizes one planning pass over a mapping.
type PlanResult struct {
	Enqueued   int
	Deduped    int // actions already pending, left untouched
	ItemErrors []ItemError
}

// Planner walks both sides of a mapping, consults the file-info cache and
// blacklist, and enqueues pending actions for every difference. It never
// transfers content itself.
type Planner struct {
	cache     FileInfoCache
	queue     ActionQueue
	blacklist Blacklist
	mappings  MappingStore
	checksum  *ChecksumService
	logger    Logger
	clock     Clock
}

// NewPlanner creates a Planner with the provided dependencies.
func NewPlanner(cache FileInfoCache, queue ActionQueue, blacklist Blacklist, mappings MappingStore, checksum *ChecksumService, logger Logger, clock Clock) *Planner {
	return &Planner{
		cache:     cache,
		queue:     queue,
		blacklist: blacklist,
		mappings:  mappings,
		checksum:  checksum,
		logger:    logger,
		clock:     clock,
	}
}

// sideListing is one endpoint's view of a mapping: file entries keyed by
// relative path, with cached digests merged in where still valid.
type sideListing struct {
	entries map[string]Entry
	errors  []ItemError
}

// rehashPair marks a path whose two sides match in size but need digest
// comparison before a verdict.
type rehashPair struct {
	relPath string
	src     Entry
	dst     Entry
}

// Plan produces pending actions for every difference between the two sides of
// m. Fatal listing errors abort the pass without advancing last_run; per-item
// errors are collected in the result and the affected entries skipped.
func (p *Planner) Plan(ctx context.Context, m *Mapping, src, dst Endpoint) (*PlanResult, error) {
	rules, err := p.blacklist.Rules()
	if err != nil {
		return nil, fmt.Errorf("loading blacklist: %w", err)
	}
	matcher := NewBlacklistMatcher(rules)

	var srcSide, dstSide *sideListing
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		srcSide, err = p.listSide(gctx, src, matcher)
		return err
	})
	g.Go(func() error {
		var err error
		dstSide, err = p.listSide(gctx, dst, matcher)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("listing mapping %s: %w", m.Name, err)
	}

	res := &PlanResult{}
	res.ItemErrors = append(res.ItemErrors, srcSide.errors...)
	res.ItemErrors = append(res.ItemErrors, dstSide.errors...)

	var pending []rehashPair

	for rel, e0 := range srcSide.entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		srcURL := JoinURL(src.BaseURL(), rel)
		dstURL := JoinURL(dst.BaseURL(), rel)

		e1, onDst := dstSide.entries[rel]
		if !onDst {
			p.enqueue(res, srcURL, dstURL, ActionCreate)
			continue
		}

		if e0.Size == e1.Size && e0.MTime == e1.MTime {
			continue
		}

		if e0.Size == e1.Size {
			// Same size, different mtime: clock skew or a genuine edit.
			// Only digests can tell, so defer to the rehash phase.
			pending = append(pending, rehashPair{relPath: rel, src: e0, dst: e1})
			continue
		}

		p.enqueueUpdate(res, e0, e1, srcURL, dstURL)
	}

	for rel := range dstSide.entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if _, onSrc := srcSide.entries[rel]; onSrc {
			continue
		}
		srcURL := JoinURL(src.BaseURL(), rel)
		dstURL := JoinURL(dst.BaseURL(), rel)
		if m.Bidirectional {
			// Destination-only entries flow back toward the source.
			p.enqueue(res, dstURL, srcURL, ActionCreate)
		} else {
			p.enqueue(res, srcURL, dstURL, ActionDelete)
		}
	}

	if len(pending) > 0 {
		if err := p.resolveRehashes(ctx, res, pending, src, dst); err != nil {
			return nil, err
		}
	}

	// Per-item errors were recorded and skipped, not fatal; only an aborted
	// pass withholds last_run.
	if err := p.mappings.CommitRun(m.ID, p.clock.Now()); err != nil {
		return nil, fmt.Errorf("committing last_run for %s: %w", m.Name, err)
	}

	p.logger.Info("plan complete", "mapping", m.Name,
		"enqueued", res.Enqueued, "deduped", res.Deduped, "item_errors", len(res.ItemErrors))
	return res, nil
}

// Index refreshes the cache for a single endpoint without diffing, returning
// the number of live entries observed.
func (p *Planner) Index(ctx context.Context, ep Endpoint) (int, []ItemError, error) {
	side, err := p.listSide(ctx, ep, NewBlacklistMatcher(nil))
	if err != nil {
		return 0, nil, err
	}
	return len(side.entries), side.errors, nil
}

// listSide walks one endpoint and reconciles the file-info cache with what it
// finds: observed entries are upserted (digests cleared when size/mtime
// changed), cached entries that no longer exist are soft-deleted. Blacklisted
// entries never enter the listing.
func (p *Planner) listSide(ctx context.Context, ep Endpoint, matcher *BlacklistMatcher) (*sideListing, error) {
	cached, err := p.cache.ListService(ep.ServiceType(), ep.Session())
	if err != nil {
		return nil, fmt.Errorf("loading cached records: %w", err)
	}
	cachedByURL := make(map[string]*FileRecord, len(cached))
	for _, rec := range cached {
		cachedByURL[rec.URLName] = rec
	}

	side := &sideListing{entries: make(map[string]Entry)}

	err = ep.List(ctx, func(e Entry) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if e.IsDir {
			return nil
		}
		itemURL := JoinURL(ep.BaseURL(), e.RelPath)
		if matcher.Match(itemURL) {
			delete(cachedByURL, itemURL)
			return nil
		}

		rec := cachedByURL[itemURL]
		delete(cachedByURL, itemURL)

		if rec != nil && rec.DeletedAt == nil && rec.Size == e.Size && rec.MTime == e.MTime {
			// Unchanged: reuse cached digests instead of rehashing.
			if e.MD5Sum == "" {
				e.MD5Sum = rec.MD5Sum
			}
			if e.SHA1Sum == "" {
				e.SHA1Sum = rec.SHA1Sum
			}
		} else {
			if err := p.cache.Upsert(p.recordFor(ep, e, itemURL)); err != nil {
				side.errors = append(side.errors, ItemError{URL: itemURL, Err: err})
				return nil
			}
		}

		side.entries[e.RelPath] = e
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Whatever is left in cachedByURL was cached but not observed: the entry
	// is gone from the backend.
	for itemURL, rec := range cachedByURL {
		if rec.DeletedAt != nil {
			continue
		}
		if err := p.cache.Remove(rec.Key()); err != nil {
			side.errors = append(side.errors, ItemError{URL: itemURL, Err: err})
		}
	}

	return side, nil
}

// resolveRehashes settles the same-size pairs: hash whichever sides lack a
// digest, then compare. Equal digests also refresh the cached mtimes so the
// next pass takes the fast path.
func (p *Planner) resolveRehashes(ctx context.Context, res *PlanResult, pairs []rehashPair, src, dst Endpoint) error {
	var srcIdents, dstIdents []string
	for _, pair := range pairs {
		if pair.src.MD5Sum == "" {
			srcIdents = append(srcIdents, pair.src.Ident)
		}
		if pair.dst.MD5Sum == "" {
			dstIdents = append(dstIdents, pair.dst.Ident)
		}
	}

	srcDigests, srcFailed := p.checksum.ComputeAll(ctx, src, srcIdents)
	if err := ctx.Err(); err != nil {
		return err
	}
	dstDigests, dstFailed := p.checksum.ComputeAll(ctx, dst, dstIdents)
	if err := ctx.Err(); err != nil {
		return err
	}

	for _, pair := range pairs {
		srcURL := JoinURL(src.BaseURL(), pair.relPath)
		dstURL := JoinURL(dst.BaseURL(), pair.relPath)

		e0, err0 := applyDigest(pair.src, srcDigests, srcFailed)
		e1, err1 := applyDigest(pair.dst, dstDigests, dstFailed)
		if err0 != nil {
			res.ItemErrors = append(res.ItemErrors, ItemError{URL: srcURL, Err: err0})
			continue
		}
		if err1 != nil {
			res.ItemErrors = append(res.ItemErrors, ItemError{URL: dstURL, Err: err1})
			continue
		}

		if digestsEqual(e0, e1) {
			// Content identical despite the mtime difference. Record the
			// observed state so the next pass skips without hashing.
			if err := p.cache.Upsert(p.recordFor(src, e0, srcURL)); err != nil {
				res.ItemErrors = append(res.ItemErrors, ItemError{URL: srcURL, Err: err})
			}
			if err := p.cache.Upsert(p.recordFor(dst, e1, dstURL)); err != nil {
				res.ItemErrors = append(res.ItemErrors, ItemError{URL: dstURL, Err: err})
			}
			continue
		}

		p.enqueueUpdate(res, e0, e1, srcURL, dstURL)
	}
	return nil
}

// digestsEqual compares whatever digests both sides actually have. Backends
// report MD5 natively but never SHA-1, so a missing SHA-1 on either side
// falls back to the MD5 verdict; treating absence as difference would
// re-transfer identical content on every pass.
func digestsEqual(e0, e1 Entry) bool {
	if e0.MD5Sum != e1.MD5Sum {
		return false
	}
	if e0.SHA1Sum != "" && e1.SHA1Sum != "" {
		return e0.SHA1Sum == e1.SHA1Sum
	}
	return true
}

// applyDigest fills e's digests from a ComputeAll result set.
func applyDigest(e Entry, digests map[string]*ChecksumResult, failed map[string]error) (Entry, error) {
	if e.MD5Sum != "" {
		return e, nil
	}
	if err := failed[e.Ident]; err != nil {
		return e, err
	}
	if res := digests[e.Ident]; res != nil {
		e.MD5Sum = res.MD5Sum
		e.SHA1Sum = res.SHA1Sum
	}
	return e, nil
}

// enqueueUpdate enqueues an update directed at whichever side has the older
// content: newer mtime wins. A tie keeps the destination unchanged.
func (p *Planner) enqueueUpdate(res *PlanResult, e0, e1 Entry, srcURL, dstURL string) {
	switch {
	case e0.MTime > e1.MTime:
		p.enqueue(res, srcURL, dstURL, ActionUpdate)
	case e1.MTime > e0.MTime:
		p.enqueue(res, dstURL, srcURL, ActionUpdate)
	}
}

func (p *Planner) enqueue(res *PlanResult, srcURL, dstURL string, kind ActionKind) {
	inserted, err := p.queue.Enqueue(srcURL, dstURL, kind, p.clock.Now())
	if err != nil {
		res.ItemErrors = append(res.ItemErrors, ItemError{URL: srcURL, Err: err})
		return
	}
	if inserted {
		res.Enqueued++
		p.logger.Debug("action enqueued", "kind", kind, "src", srcURL, "dst", dstURL)
	} else {
		res.Deduped++
	}
}

// recordFor builds the cache record for an observed entry.
func (p *Planner) recordFor(ep Endpoint, e Entry, itemURL string) *FileRecord {
	return NewFileRecord(ep, e, itemURL)
}
