package core

import (
	"context"
	"crypto/md5"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"io"
	"runtime"
	"sync"

	"golang.org/x/sync/errgroup"
)

// ChecksumResult holds the two independent digests of one entry's content.
// Two algorithms are kept per record for collision resilience and because
// different backends report different digests natively.
type ChecksumResult struct {
	MD5Sum  string
	SHA1Sum string
	Size    int64
}

// ChecksumService computes content digests across a bounded worker pool so
// large trees hash in parallel without saturating backend I/O. It memoizes
// nothing across calls; avoiding repeat hashing is the file-info cache's job.
type ChecksumService struct {
	workers int
}

// NewChecksumService creates a service with the given pool size. A size of
// zero or less uses the available CPU parallelism.
func NewChecksumService(workers int) *ChecksumService {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return &ChecksumService{workers: workers}
}

// Compute streams r to completion and returns both digests. A short or failed
// read yields ErrChecksumRead and no partial result.
func (s *ChecksumService) Compute(ctx context.Context, r io.Reader) (*ChecksumResult, error) {
	md5h := md5.New()
	sha1h := sha1.New()

	n, err := io.Copy(io.MultiWriter(md5h, sha1h), r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrChecksumRead, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return &ChecksumResult{
		MD5Sum:  hex.EncodeToString(md5h.Sum(nil)),
		SHA1Sum: hex.EncodeToString(sha1h.Sum(nil)),
		Size:    n,
	}, nil
}

// ComputeAll hashes the identified entries of ep in parallel. Each identity
// is hashed at most once per call even if it appears twice in idents.
// Per-entry failures land in the error map; they do not abort other entries.
func (s *ChecksumService) ComputeAll(ctx context.Context, ep Endpoint, idents []string) (map[string]*ChecksumResult, map[string]error) {
	results := make(map[string]*ChecksumResult)
	failures := make(map[string]error)
	var mu sync.Mutex

	seen := make(map[string]bool, len(idents))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)

	for _, ident := range idents {
		if seen[ident] {
			continue
		}
		seen[ident] = true

		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			res, err := s.hashOne(ctx, ep, ident)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failures[ident] = err
				return nil
			}
			results[ident] = res
			return nil
		})
	}

	// Only cancellation propagates through the group; per-entry errors were
	// already collected above.
	if err := g.Wait(); err != nil {
		mu.Lock()
		defer mu.Unlock()
		for _, ident := range idents {
			if results[ident] == nil && failures[ident] == nil {
				failures[ident] = err
			}
		}
	}

	return results, failures
}

func (s *ChecksumService) hashOne(ctx context.Context, ep Endpoint, ident string) (*ChecksumResult, error) {
	rc, err := ep.Read(ctx, ident)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrChecksumRead, ident, err)
	}
	defer rc.Close()
	return s.Compute(ctx, rc)
}
