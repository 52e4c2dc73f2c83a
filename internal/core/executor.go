package core

import (
	"context"
	"crypto/md5"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/url"
	"time"
)

// Outcome says what happened to one pending action during Apply.
type Outcome string

const (
	// OutcomeApplied means the action was performed and removed from the queue.
	OutcomeApplied Outcome = "applied"

	// OutcomeDropped means the action became moot (source entry gone) and was
	// removed from the queue without transferring anything.
	OutcomeDropped Outcome = "dropped"

	// OutcomeDeferred means a transient failure occurred; the action was
	// released back to the queue with an increased retry count.
	OutcomeDeferred Outcome = "deferred"

	// OutcomeFailed means a permanent failure or retry exhaustion; the action
	// stays queued, flagged for operator attention.
	OutcomeFailed Outcome = "failed"
)

// ApplyResult summarizes one ApplyAll pass.
type ApplyResult struct {
	Applied  int
	Dropped  int
	Deferred int
	Failed   int
	Errors   []ItemError
}

// Executor applies pending actions: it claims an action, moves or deletes
// content, records the result in the file-info cache, and removes the action
// from the queue. Failures of one action never affect another.
type Executor struct {
	queue    ActionQueue
	cache    FileInfoCache
	resolver EndpointResolver
	logger   Logger
	clock    Clock

	maxRetries  int
	baseBackoff time.Duration
}

// NewExecutor creates an Executor. maxRetries bounds attempts per action;
// baseBackoff is the first retry delay, doubled on each subsequent failure.
func NewExecutor(queue ActionQueue, cache FileInfoCache, resolver EndpointResolver, logger Logger, clock Clock, maxRetries int, baseBackoff time.Duration) *Executor {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	if baseBackoff <= 0 {
		baseBackoff = 30 * time.Second
	}
	return &Executor{
		queue:       queue,
		cache:       cache,
		resolver:    resolver,
		logger:      logger,
		clock:       clock,
		maxRetries:  maxRetries,
		baseBackoff: baseBackoff,
	}
}

// Apply claims and performs one pending action. Returns ErrActionClaimed if a
// concurrent invocation holds it, ErrNotFound if it was already completed or
// removed. The returned error explains deferred and failed outcomes.
func (x *Executor) Apply(ctx context.Context, id int64) (Outcome, error) {
	act, err := x.queue.Claim(id, x.clock.Now())
	if err != nil {
		return "", err
	}

	dropped, err := x.perform(ctx, act)
	if err == nil {
		if derr := x.queue.Delete(act.ID); derr != nil {
			return "", fmt.Errorf("completing action %d: %w", act.ID, derr)
		}
		if dropped {
			x.logger.Info("action dropped, source gone", "id", act.ID, "src", act.SrcURL)
			return OutcomeDropped, nil
		}
		x.logger.Info("action applied", "id", act.ID, "kind", act.Kind, "src", act.SrcURL, "dst", act.DstURL)
		return OutcomeApplied, nil
	}

	if errors.Is(err, context.Canceled) {
		// Cancellation says nothing about the action itself. Put it back
		// untouched so a later pass retries with a fresh budget.
		if rerr := x.queue.Release(act.ID, act.RetryCount, act.NextAttemptAt, act.LastError); rerr != nil {
			return "", fmt.Errorf("releasing action %d: %w", act.ID, rerr)
		}
		return "", err
	}

	if IsTransient(err) {
		retries := act.RetryCount + 1
		if retries >= x.maxRetries {
			msg := fmt.Sprintf("retries exhausted after %d attempts: %v", retries, err)
			if ferr := x.queue.MarkFailed(act.ID, msg); ferr != nil {
				return "", fmt.Errorf("flagging action %d: %w", act.ID, ferr)
			}
			x.logger.Error("action failed, retries exhausted", "id", act.ID, "err", err)
			return OutcomeFailed, err
		}
		next := x.clock.Now().Add(x.backoff(act.RetryCount))
		if rerr := x.queue.Release(act.ID, retries, next, err.Error()); rerr != nil {
			return "", fmt.Errorf("releasing action %d: %w", act.ID, rerr)
		}
		x.logger.Warn("action deferred", "id", act.ID, "retry", retries, "next_attempt", next, "err", err)
		return OutcomeDeferred, err
	}

	if ferr := x.queue.MarkFailed(act.ID, err.Error()); ferr != nil {
		return "", fmt.Errorf("flagging action %d: %w", act.ID, ferr)
	}
	x.logger.Error("action failed", "id", act.ID, "kind", act.Kind, "err", err)
	return OutcomeFailed, err
}

// ApplyAll applies every due action. Actions are applied independently: an
// action that defers or fails does not stop the rest. Only context
// cancellation aborts the pass.
func (x *Executor) ApplyAll(ctx context.Context) (*ApplyResult, error) {
	due, err := x.queue.Due(x.clock.Now())
	if err != nil {
		return nil, fmt.Errorf("listing due actions: %w", err)
	}

	res := &ApplyResult{}
	for _, act := range due {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		outcome, err := x.Apply(ctx, act.ID)
		switch {
		case errors.Is(err, ErrActionClaimed), errors.Is(err, ErrNotFound):
			// Another invocation got there first.
			continue
		case errors.Is(err, context.Canceled):
			return res, err
		}
		switch outcome {
		case OutcomeApplied:
			res.Applied++
		case OutcomeDropped:
			res.Dropped++
		case OutcomeDeferred:
			res.Deferred++
			res.Errors = append(res.Errors, ItemError{URL: act.SrcURL, Err: err})
		case OutcomeFailed:
			res.Failed++
			res.Errors = append(res.Errors, ItemError{URL: act.SrcURL, Err: err})
		default:
			if err != nil {
				res.Errors = append(res.Errors, ItemError{URL: act.SrcURL, Err: err})
			}
		}
	}
	return res, nil
}

// perform carries out the action's transfer or delete. The bool result is
// true when the action was moot (source vanished) and nothing was done.
func (x *Executor) perform(ctx context.Context, act *PendingAction) (bool, error) {
	srcU, err := url.Parse(act.SrcURL)
	if err != nil {
		return false, Permanent(fmt.Errorf("%w: src %q: %v", ErrInvalidURL, act.SrcURL, err))
	}
	dstU, err := url.Parse(act.DstURL)
	if err != nil {
		return false, Permanent(fmt.Errorf("%w: dst %q: %v", ErrInvalidURL, act.DstURL, err))
	}

	switch act.Kind {
	case ActionCreate, ActionUpdate:
		return x.copy(ctx, srcU, dstU)
	case ActionDelete:
		return x.delete(ctx, dstU)
	default:
		return false, Permanent(fmt.Errorf("unknown action kind %q", act.Kind))
	}
}

// copy streams the source entry to the destination, hashing in flight, and
// records both sides in the cache.
func (x *Executor) copy(ctx context.Context, srcU, dstU *url.URL) (bool, error) {
	srcEp, err := x.resolver.FromURL(ctx, srcU)
	if err != nil {
		return false, err
	}
	dstEp, err := x.resolver.FromURL(ctx, dstU)
	if err != nil {
		return false, err
	}

	srcIdent, err := srcEp.Resolve(ctx, srcU)
	if errors.Is(err, ErrNotFound) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("resolving %s: %w", srcU, err)
	}

	size, mtime, err := srcEp.Stat(ctx, srcIdent)
	if errors.Is(err, ErrNotFound) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("stat %s: %w", srcU, err)
	}

	rc, err := srcEp.Read(ctx, srcIdent)
	if errors.Is(err, ErrNotFound) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("reading %s: %w", srcU, err)
	}
	defer rc.Close()

	rel, err := RemoveBaseURL(dstU, dstEp.BaseURL())
	if err != nil {
		return false, Permanent(err)
	}

	md5h := md5.New()
	sha1h := sha1.New()
	tee := io.TeeReader(rc, io.MultiWriter(md5h, sha1h))

	dstIdent, err := dstEp.Write(ctx, rel, tee, size, mtime)
	if err != nil {
		return false, fmt.Errorf("writing %s: %w", dstU, err)
	}

	md5sum := hex.EncodeToString(md5h.Sum(nil))
	sha1sum := hex.EncodeToString(sha1h.Sum(nil))

	x.upsertSide(dstEp, Entry{
		Ident: dstIdent, RelPath: rel, Size: size, MTime: mtime,
		MD5Sum: md5sum, SHA1Sum: sha1sum,
	}, dstU.String())

	if srcRel, rerr := RemoveBaseURL(srcU, srcEp.BaseURL()); rerr == nil {
		x.upsertSide(srcEp, Entry{
			Ident: srcIdent, RelPath: srcRel, Size: size, MTime: mtime,
			MD5Sum: md5sum, SHA1Sum: sha1sum,
		}, srcU.String())
	}

	return false, nil
}

// delete removes the destination entry and soft-deletes its cache records.
func (x *Executor) delete(ctx context.Context, dstU *url.URL) (bool, error) {
	dstEp, err := x.resolver.FromURL(ctx, dstU)
	if err != nil {
		return false, err
	}

	ident, err := dstEp.Resolve(ctx, dstU)
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrUnresolvable):
		// Already gone.
	case err != nil:
		return false, fmt.Errorf("resolving %s: %w", dstU, err)
	default:
		if err := dstEp.Delete(ctx, ident); err != nil && !errors.Is(err, ErrNotFound) {
			return false, fmt.Errorf("deleting %s: %w", dstU, err)
		}
	}

	if err := x.cache.RemoveByURL(dstU.String()); err != nil {
		x.logger.Warn("cache removal failed", "url", dstU, "err", err)
	}
	return false, nil
}

// upsertSide records an entry in the cache; a failure here only costs a
// rehash later, so it is logged and swallowed.
func (x *Executor) upsertSide(ep Endpoint, e Entry, itemURL string) {
	rec := NewFileRecord(ep, e, itemURL)
	if err := x.cache.Upsert(rec); err != nil {
		x.logger.Warn("cache upsert failed", "url", itemURL, "err", err)
	}
}

// backoff doubles the delay per prior retry, capped at an hour.
func (x *Executor) backoff(retryCount int) time.Duration {
	d := x.baseBackoff << uint(retryCount)
	if d > time.Hour || d <= 0 {
		return time.Hour
	}
	return d
}
