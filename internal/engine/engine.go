// Package engine wires the subsetting pipeline together: catalog
// resolution, cache lookup, index resolution, concurrent range
// retrieval, assembly and cache fill.
package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/dgnsrekt/gribget/internal/cache"
	"github.com/dgnsrekt/gribget/internal/catalog"
	"github.com/dgnsrekt/gribget/internal/fetch"
	"github.com/dgnsrekt/gribget/internal/index"
	"github.com/dgnsrekt/gribget/internal/subset"
)

var (
	// ErrCancelled reports a caller-cancelled request; in-flight range
	// fetches were abandoned and nothing was cached.
	ErrCancelled = errors.New("subset request cancelled")
	// ErrTimeout reports a request that exceeded the per-subset
	// timeout, distinct from per-range fetch failures.
	ErrTimeout = errors.New("subset request timed out")
)

// Source names one remote grid file and its sidecar index. The URLs are
// opaque; they come from a source-specific URL builder, never from the
// engine.
type Source struct {
	ID       string // data-source identifier, e.g. "hrrr-sfc"
	RunID    string // run identity, e.g. "2020051812"
	Step     string // forecast step, e.g. "f00"
	GridURL  string
	IndexURL string
}

// Fetcher is the network surface the engine depends on; *fetch.Fetcher
// satisfies it, tests substitute counters and fakes.
type Fetcher interface {
	FetchDocument(ctx context.Context, url string) ([]byte, error)
	ProbeSize(ctx context.Context, url string) (int64, error)
	FetchAll(ctx context.Context, reqs []fetch.Request) []fetch.Result
}

// Options carries the per-engine policy knobs.
type Options struct {
	SubsetTimeout   time.Duration // 0 disables the per-subset bound
	BestEffort      bool
	VerifyFraming   bool
	DuplicatePolicy index.DuplicatePolicy
}

// Engine executes subset requests. Safe for concurrent use; the
// fetcher's host bound and the cache are the only shared state.
type Engine struct {
	fetcher Fetcher
	store   cache.Store // nil disables caching
	opts    Options
	logger  *zap.Logger
}

func New(fetcher Fetcher, store cache.Store, opts Options, logger *zap.Logger) *Engine {
	if opts.DuplicatePolicy == "" {
		opts.DuplicatePolicy = index.DuplicateFirst
	}
	return &Engine{
		fetcher: fetcher,
		store:   store,
		opts:    opts,
		logger:  logger,
	}
}

// FetchSubset resolves, retrieves and assembles the requested parameter
// subset of one remote grid file. Catalog and index errors fail fast
// before any range is fetched; fully verified results are cached.
func (e *Engine) FetchSubset(parent context.Context, src Source, queries []catalog.Query) (*subset.Subset, error) {
	entries, err := catalog.ResolveMany(queries)
	if err != nil {
		return nil, err
	}

	key := cache.NewKey(src.ID, src.RunID, src.Step, entries)
	if sub, ok := e.cacheGet(parent, key); ok {
		return sub, nil
	}

	ctx := parent
	cancel := func() {}
	if e.opts.SubsetTimeout > 0 {
		ctx, cancel = context.WithTimeout(parent, e.opts.SubsetTimeout)
	}
	defer cancel()

	sub, err := e.fetchFresh(ctx, src, entries)
	if err != nil {
		return nil, e.classify(parent, ctx, err)
	}
	if ctx.Err() != nil {
		// Cancellation must not leave a partial result behind.
		return nil, e.classify(parent, ctx, ctx.Err())
	}

	if len(sub.Missing) == 0 {
		e.cachePut(parent, key, sub)
	}
	return sub, nil
}

func (e *Engine) fetchFresh(ctx context.Context, src Source, entries []catalog.Entry) (*subset.Subset, error) {
	indexDoc, err := e.fetcher.FetchDocument(ctx, src.IndexURL)
	if err != nil {
		return nil, fmt.Errorf("fetching index for %s/%s: %w", src.RunID, src.Step, err)
	}
	idx, err := index.Parse(bytes.NewReader(indexDoc), e.logger)
	if err != nil {
		return nil, err
	}
	e.logger.Debug("parsed sidecar index",
		zap.String("source", src.ID),
		zap.String("run", src.RunID),
		zap.Int("messages", len(idx.Lines)),
		zap.Int("skipped", idx.Skipped))

	resolved, err := idx.Match(entries, e.opts.DuplicatePolicy, e.logger)
	if err != nil {
		return nil, err
	}

	reqs, probeFailures, err := e.buildRequests(ctx, src, resolved)
	if err != nil {
		return nil, err
	}

	results := e.fetcher.FetchAll(ctx, reqs)

	var fetched []subset.Message
	var rangeErrs []error
	for _, res := range results {
		if res.Err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(res.Err, ctxErr) {
				return nil, ctxErr
			}
			e.logger.Warn("range fetch failed",
				zap.String("entry", res.Request.Entry.String()),
				zap.Error(res.Err))
			rangeErrs = append(rangeErrs, res.Err)
			continue
		}
		fetched = append(fetched, subset.Message{
			Entry:      res.Request.Entry,
			MessageNum: res.Request.MessageNum,
			Data:       res.Data,
		})
	}
	rangeErrs = append(rangeErrs, probeFailures...)

	sub, err := subset.Assemble(entries, fetched, subset.Options{
		BestEffort:    e.opts.BestEffort,
		VerifyFraming: e.opts.VerifyFraming,
	})
	if err != nil {
		if len(rangeErrs) > 0 {
			return nil, errors.Join(append([]error{err}, rangeErrs...)...)
		}
		return nil, err
	}
	return sub, nil
}

// buildRequests turns resolved index lines into byte-range requests,
// probing the remote file's total size once if any range is open-ended.
func (e *Engine) buildRequests(ctx context.Context, src Source, resolved []index.Resolved) ([]fetch.Request, []error, error) {
	var totalSize int64
	var probeErr error
	probed := false

	var reqs []fetch.Request
	var failures []error
	for _, r := range resolved {
		end := r.Line.ByteEnd
		if r.Line.Open() {
			if !probed {
				probed = true
				totalSize, probeErr = e.fetcher.ProbeSize(ctx, src.GridURL)
				if probeErr != nil && ctx.Err() != nil {
					return nil, nil, ctx.Err()
				}
			}
			if probeErr != nil {
				// Probe failure counts as a range failure for this
				// entry, same as an exhausted fetch.
				failures = append(failures, &fetch.RangeError{
					Entry:    r.Entry,
					Attempts: 0,
					Last:     fmt.Errorf("size probe: %w", probeErr),
				})
				continue
			}
			end = totalSize - 1
		}
		reqs = append(reqs, fetch.Request{
			Entry:      r.Entry,
			MessageNum: r.Line.MessageNum,
			URL:        src.GridURL,
			Start:      r.Line.ByteStart,
			End:        end,
		})
	}
	return reqs, failures, nil
}

// cacheGet degrades storage failures to a miss: the cache is a pure
// optimization and must never fail a request.
func (e *Engine) cacheGet(ctx context.Context, key cache.Key) (*subset.Subset, bool) {
	if e.store == nil {
		return nil, false
	}
	entry, err := e.store.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, cache.ErrMiss) {
			e.logger.Warn("cache lookup failed, treating as miss",
				zap.String("key", key.String()),
				zap.Error(err))
		}
		return nil, false
	}
	e.logger.Debug("cache hit", zap.String("key", key.String()))
	return entry.Subset, true
}

func (e *Engine) cachePut(ctx context.Context, key cache.Key, sub *subset.Subset) {
	if e.store == nil {
		return
	}
	if _, err := e.store.Put(ctx, key, sub); err != nil {
		e.logger.Warn("cache store failed",
			zap.String("key", key.String()),
			zap.Error(err))
		return
	}
	if err := e.store.Evict(ctx); err != nil {
		e.logger.Warn("cache eviction failed", zap.Error(err))
	}
}

// classify maps context state onto the engine's control-plane errors,
// distinguishing the per-subset deadline from caller cancellation. Only
// the contexts are consulted, never the fetch error chain: a range
// whose per-attempt timeouts exhaust its retries also carries
// context.DeadlineExceeded, and that is a range failure, not a subset
// timeout.
func (e *Engine) classify(parent, ctx context.Context, err error) error {
	switch {
	case parent.Err() != nil:
		return fmt.Errorf("%w: %v", ErrCancelled, err)
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return fmt.Errorf("%w after %s: %v", ErrTimeout, e.opts.SubsetTimeout, err)
	default:
		return err
	}
}
