// Package app is the application layer between the CLI and the core planner
// and executor. It constructs all dependencies from config, exposes
// high-level operations that accept raw string URLs, and manages the store
// lifecycle on Close.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"syncapp/internal/config"
	"syncapp/internal/core"
	"syncapp/internal/database"
	"syncapp/internal/endpoint"
)

// App wires the store, endpoint registry, planner and executor together.
type App struct {
	cfg      *config.Config
	store    *database.Store
	registry *endpoint.Registry
	planner  *core.Planner
	executor *core.Executor
	logger   core.Logger
	logFile  *os.File
}

// New creates a fully wired App from the given config. The caller must call
// Close when done.
func New(cfg *config.Config) (*App, error) {
	store, err := database.NewStoreFromConfig(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("creating store: %w", err)
	}

	runID := uuid.New().String()[:8]
	slogger, logFile, err := newLogger(cfg.LogDir, runID)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	logger := &slogAdapter{l: slogger}

	registry := endpoint.NewRegistry(cfg, store, logger)
	checksum := core.NewChecksumService(cfg.Checksum.Workers)
	clock := core.RealClock{}

	planner := core.NewPlanner(store, store, store, store, checksum, logger, clock)
	executor := core.NewExecutor(store, store, registry, logger, clock,
		cfg.Executor.MaxRetries,
		time.Duration(cfg.Executor.BaseBackoffSeconds)*time.Second)

	return &App{
		cfg:      cfg,
		store:    store,
		registry: registry,
		planner:  planner,
		executor: executor,
		logger:   logger,
		logFile:  logFile,
	}, nil
}

// SyncOne plans one named mapping, filling the pending action queue with the
// differences between its two sides.
func (a *App) SyncOne(ctx context.Context, name string) (*core.PlanResult, error) {
	m, err := a.store.GetMapping(name)
	if err != nil {
		return nil, fmt.Errorf("loading mapping %s: %w", name, err)
	}
	return a.plan(ctx, m)
}

// SyncAll plans every configured mapping. Mappings are planned independently;
// the error aggregates any per-mapping failures.
func (a *App) SyncAll(ctx context.Context) (map[string]*core.PlanResult, error) {
	mappings, err := a.store.ListMappings()
	if err != nil {
		return nil, fmt.Errorf("listing mappings: %w", err)
	}

	results := make(map[string]*core.PlanResult, len(mappings))
	var errs []error
	for _, m := range mappings {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		res, err := a.plan(ctx, m)
		if err != nil {
			errs = append(errs, fmt.Errorf("mapping %s: %w", m.Name, err))
			continue
		}
		results[m.Name] = res
	}
	return results, errors.Join(errs...)
}

func (a *App) plan(ctx context.Context, m *core.Mapping) (*core.PlanResult, error) {
	srcU, err := url.Parse(m.SrcURL)
	if err != nil {
		return nil, fmt.Errorf("%w: src %q: %v", core.ErrInvalidURL, m.SrcURL, err)
	}
	dstU, err := url.Parse(m.DstURL)
	if err != nil {
		return nil, fmt.Errorf("%w: dst %q: %v", core.ErrInvalidURL, m.DstURL, err)
	}

	src, err := a.registry.ForBase(ctx, srcU)
	if err != nil {
		return nil, err
	}
	dst, err := a.registry.ForBase(ctx, dstU)
	if err != nil {
		return nil, err
	}
	return a.planner.Plan(ctx, m, src, dst)
}

// Process applies one pending action by ID.
func (a *App) Process(ctx context.Context, id int64) (core.Outcome, error) {
	return a.executor.Apply(ctx, id)
}

// ProcessAll applies every due pending action.
func (a *App) ProcessAll(ctx context.Context) (*core.ApplyResult, error) {
	return a.executor.ApplyAll(ctx)
}

// ListPending returns all queued actions, including failed ones.
func (a *App) ListPending() ([]*core.PendingAction, error) {
	return a.store.List()
}

// RemovePending deletes queued actions whose source URL matches, returning
// how many were removed.
func (a *App) RemovePending(srcURL string) (int64, error) {
	return a.store.DeleteBySrcURL(srcURL)
}

// ListMappings returns the configured sync pairs.
func (a *App) ListMappings() ([]*core.Mapping, error) {
	return a.store.ListMappings()
}

// AddMapping registers a new sync pair after validating both URLs.
func (a *App) AddMapping(name, srcURL, dstURL string, bidirectional bool) (*core.Mapping, error) {
	for _, raw := range []string{srcURL, dstURL} {
		u, err := url.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %v", core.ErrInvalidURL, raw, err)
		}
		if _, err := core.ParseServiceType(u.Scheme); err != nil {
			return nil, err
		}
	}
	m := &core.Mapping{
		Name:          name,
		SrcURL:        strings.TrimSuffix(srcURL, "/"),
		DstURL:        strings.TrimSuffix(dstURL, "/"),
		Bidirectional: bidirectional,
	}
	if err := a.store.InsertMapping(m); err != nil {
		return nil, err
	}
	return m, nil
}

// IndexURL refreshes the file-info cache for everything under rawURL without
// planning any actions. Returns the number of live entries observed.
func (a *App) IndexURL(ctx context.Context, rawURL string) (int, []core.ItemError, error) {
	ep, err := a.endpointFor(ctx, rawURL)
	if err != nil {
		return 0, nil, err
	}
	return a.planner.Index(ctx, ep)
}

// ListCache returns cached records for the backend under rawURL, restricted
// to URLs with that prefix.
func (a *App) ListCache(ctx context.Context, rawURL string) ([]*core.FileRecord, error) {
	ep, err := a.endpointFor(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	recs, err := a.store.ListService(ep.ServiceType(), ep.Session())
	if err != nil {
		return nil, err
	}
	prefix := strings.TrimSuffix(rawURL, "/")
	var out []*core.FileRecord
	for _, rec := range recs {
		if rec.URLName == prefix || strings.HasPrefix(rec.URLName, prefix+"/") {
			out = append(out, rec)
		}
	}
	return out, nil
}

// ClearEntry soft-deletes the cache records for one item URL, forcing a
// rehash on the next planning pass.
func (a *App) ClearEntry(rawURL string) error {
	return a.store.RemoveByURL(strings.TrimSuffix(rawURL, "/"))
}

// AddBlacklistRule registers an exclusion rule.
func (a *App) AddBlacklistRule(rule string) error {
	return a.store.AddRule(rule)
}

// ListBlacklist returns all exclusion rules.
func (a *App) ListBlacklist() ([]string, error) {
	return a.store.Rules()
}

func (a *App) endpointFor(ctx context.Context, rawURL string) (core.Endpoint, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", core.ErrInvalidURL, rawURL, err)
	}
	return a.registry.ForBase(ctx, u)
}

// Close releases the store and the log file.
func (a *App) Close() error {
	var firstErr error
	if err := a.store.Close(); err != nil {
		firstErr = fmt.Errorf("closing store: %w", err)
	}
	if a.logFile != nil {
		a.logFile.Close()
	}
	return firstErr
}
