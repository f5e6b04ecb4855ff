// Package fetch retrieves exact byte ranges from remote grid files over
// HTTP, with bounded concurrency, rate limiting and a retry policy.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/dgnsrekt/gribget/internal/catalog"
)

// Request addresses one byte range inside a remote resource. Start and
// End are inclusive; the range length must be positive.
type Request struct {
	Entry      catalog.Entry
	MessageNum int
	URL        string
	Start      int64
	End        int64
}

// Length returns the number of bytes the range covers.
func (r Request) Length() int64 { return r.End - r.Start + 1 }

func (r Request) validate() error {
	if r.Start < 0 || r.End < 0 {
		return fmt.Errorf("negative byte offset in range [%d,%d]", r.Start, r.End)
	}
	if r.Length() <= 0 {
		return fmt.Errorf("empty byte range [%d,%d]", r.Start, r.End)
	}
	return nil
}

// Result carries the payload for one request, or the error that
// exhausted its retries.
type Result struct {
	Request Request
	Data    []byte
	Err     error
}

// RangeError reports a range whose retries are exhausted, naming the
// implicated catalog entry and the last underlying failure.
type RangeError struct {
	Entry    catalog.Entry
	Attempts int
	Last     error
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("range fetch failed for %s after %d attempts: %v", e.Entry, e.Attempts, e.Last)
}

func (e *RangeError) Unwrap() error { return e.Last }

// retryAfterError marks a 429 carrying a server-supplied delay hint.
type retryAfterError struct {
	status int
	hint   time.Duration
}

func (e *retryAfterError) Error() string {
	return fmt.Sprintf("status %d (retry after %s)", e.status, e.hint)
}

// fatalError marks a failure that retrying cannot fix (4xx other than
// 429, or a server that ignores Range headers).
type fatalError struct{ err error }

func (e *fatalError) Error() string { return e.err.Error() }
func (e *fatalError) Unwrap() error { return e.err }

// Fetcher issues byte-range reads against remote resources. The host
// concurrency semaphore and rate limiter are shared across calls, so
// simultaneous subset requests cannot overrun the archive. The fetcher
// holds no other state between calls.
type Fetcher struct {
	client  *http.Client
	limiter *rate.Limiter
	sem     chan struct{}
	policy  Policy
	logger  *zap.Logger
}

// New builds a fetcher. maxConcurrent bounds in-flight requests per
// remote host; ratePerSec bounds request starts.
func New(maxConcurrent int, ratePerSec float64, perAttemptTimeout time.Duration, policy Policy, logger *zap.Logger) *Fetcher {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	transport := &http.Transport{
		MaxIdleConns:    100,
		MaxConnsPerHost: maxConcurrent,
		IdleConnTimeout: 90 * time.Second,
	}
	return &Fetcher{
		client: &http.Client{
			Transport: transport,
			Timeout:   perAttemptTimeout,
		},
		limiter: rate.NewLimiter(rate.Limit(ratePerSec), maxConcurrent),
		sem:     make(chan struct{}, maxConcurrent),
		policy:  policy,
		logger:  logger,
	}
}

// FetchAll retrieves every requested range concurrently and returns one
// result per request in arrival order. Individual failures surface as
// Result.Err; the caller decides whether one failed range fails the
// whole batch.
func (f *Fetcher) FetchAll(ctx context.Context, reqs []Request) []Result {
	if len(reqs) == 0 {
		return nil
	}

	jobs := make(chan Request, len(reqs))
	results := make(chan Result, len(reqs))

	workers := cap(f.sem)
	if workers > len(reqs) {
		workers = len(reqs)
	}
	done := make(chan struct{})
	for i := 0; i < workers; i++ {
		go func() {
			for req := range jobs {
				results <- f.fetchRange(ctx, req)
			}
			done <- struct{}{}
		}()
	}

	for _, req := range reqs {
		jobs <- req
	}
	close(jobs)
	for i := 0; i < workers; i++ {
		<-done
	}
	close(results)

	out := make([]Result, 0, len(reqs))
	for r := range results {
		out = append(out, r)
	}
	return out
}

// FetchRange retrieves a single byte range, retrying per policy.
func (f *Fetcher) FetchRange(ctx context.Context, req Request) Result {
	return f.fetchRange(ctx, req)
}

func (f *Fetcher) fetchRange(ctx context.Context, req Request) Result {
	if err := req.validate(); err != nil {
		return Result{Request: req, Err: &RangeError{Entry: req.Entry, Attempts: 0, Last: err}}
	}

	var lastErr error
	var hint time.Duration
	for attempt := 1; attempt <= f.policy.Attempts; attempt++ {
		if attempt > 1 {
			f.logger.Debug("retrying range fetch",
				zap.String("entry", req.Entry.String()),
				zap.Int("attempt", attempt))
			if err := f.policy.Wait(ctx, attempt, hint); err != nil {
				return Result{Request: req, Err: err}
			}
		}
		hint = 0

		data, err := f.fetchOnce(ctx, req)
		if err == nil {
			return Result{Request: req, Data: data}
		}
		if ctx.Err() != nil {
			return Result{Request: req, Err: ctx.Err()}
		}
		lastErr = err

		var fatal *fatalError
		if errors.As(err, &fatal) {
			return Result{Request: req, Err: &RangeError{Entry: req.Entry, Attempts: attempt, Last: fatal.err}}
		}
		var ra *retryAfterError
		if errors.As(err, &ra) {
			hint = ra.hint
		}
	}
	return Result{Request: req, Err: &RangeError{Entry: req.Entry, Attempts: f.policy.Attempts, Last: lastErr}}
}

func (f *Fetcher) fetchOnce(ctx context.Context, req Request) ([]byte, error) {
	if err := f.acquire(ctx); err != nil {
		return nil, err
	}
	defer f.release()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URL, nil)
	if err != nil {
		return nil, &fatalError{err: fmt.Errorf("creating request: %w", err)}
	}
	httpReq.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", req.Start, req.End))

	resp, err := f.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if err := classifyStatus(resp); err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusPartialContent {
		// A 200 means the server ignored the Range header; reading the
		// whole file instead of the requested slice must never happen
		// silently.
		return nil, &fatalError{err: fmt.Errorf("server ignored range request (status %d)", resp.StatusCode)}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading body: %w", err)
	}
	if int64(len(data)) != req.Length() {
		return nil, fmt.Errorf("length mismatch: got %d bytes, want %d", len(data), req.Length())
	}
	return data, nil
}

// ProbeSize queries the total length of a remote resource, retrying per
// policy. HEAD is tried first; hosts that refuse HEAD are probed with a
// one-byte range request instead, reading the total from Content-Range.
func (f *Fetcher) ProbeSize(ctx context.Context, url string) (int64, error) {
	var lastErr error
	var hint time.Duration
	for attempt := 1; attempt <= f.policy.Attempts; attempt++ {
		if attempt > 1 {
			if err := f.policy.Wait(ctx, attempt, hint); err != nil {
				return 0, err
			}
		}
		hint = 0

		size, err := f.probeOnce(ctx, url)
		if err == nil {
			return size, nil
		}
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		lastErr = err

		var fatal *fatalError
		if errors.As(err, &fatal) {
			return 0, fatal.err
		}
		var ra *retryAfterError
		if errors.As(err, &ra) {
			hint = ra.hint
		}
	}
	return 0, fmt.Errorf("size probe exhausted %d attempts: %w", f.policy.Attempts, lastErr)
}

func (f *Fetcher) probeOnce(ctx context.Context, url string) (int64, error) {
	if err := f.acquire(ctx); err != nil {
		return 0, err
	}
	defer f.release()

	headReq, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return 0, &fatalError{err: fmt.Errorf("creating request: %w", err)}
	}
	resp, err := f.client.Do(headReq)
	if err == nil {
		_ = resp.Body.Close()
		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			return 0, &retryAfterError{status: resp.StatusCode, hint: parseRetryAfter(resp.Header.Get("Retry-After"))}
		case resp.StatusCode >= 500:
			return 0, fmt.Errorf("server error: %d", resp.StatusCode)
		case resp.StatusCode == http.StatusOK && resp.ContentLength >= 0:
			return resp.ContentLength, nil
		}
		// Fall through to the range probe: the host either refused
		// HEAD or omitted Content-Length.
	}

	getReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, &fatalError{err: fmt.Errorf("creating request: %w", err)}
	}
	getReq.Header.Set("Range", "bytes=0-0")
	resp, err = f.client.Do(getReq)
	if err != nil {
		return 0, fmt.Errorf("executing size probe: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)

	if serr := classifyStatus(resp); serr != nil {
		return 0, serr
	}
	if resp.StatusCode != http.StatusPartialContent {
		return 0, &fatalError{err: fmt.Errorf("server ignored range probe (status %d)", resp.StatusCode)}
	}
	return parseContentRangeTotal(resp.Header.Get("Content-Range"))
}

// FetchDocument retrieves a small whole document, such as a sidecar
// index, with the same retry policy as range fetches.
func (f *Fetcher) FetchDocument(ctx context.Context, url string) ([]byte, error) {
	var lastErr error
	var hint time.Duration
	for attempt := 1; attempt <= f.policy.Attempts; attempt++ {
		if attempt > 1 {
			if err := f.policy.Wait(ctx, attempt, hint); err != nil {
				return nil, err
			}
		}
		hint = 0

		data, err := f.documentOnce(ctx, url)
		if err == nil {
			return data, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		lastErr = err

		var fatal *fatalError
		if errors.As(err, &fatal) {
			return nil, fatal.err
		}
		var ra *retryAfterError
		if errors.As(err, &ra) {
			hint = ra.hint
		}
	}
	return nil, fmt.Errorf("document fetch exhausted %d attempts: %w", f.policy.Attempts, lastErr)
}

func (f *Fetcher) documentOnce(ctx context.Context, url string) ([]byte, error) {
	if err := f.acquire(ctx); err != nil {
		return nil, err
	}
	defer f.release()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &fatalError{err: fmt.Errorf("creating request: %w", err)}
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if serr := classifyStatus(resp); serr != nil {
		return nil, serr
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &fatalError{err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}
	return io.ReadAll(resp.Body)
}

// acquire waits for the rate limiter and a semaphore slot.
func (f *Fetcher) acquire(ctx context.Context) error {
	if err := f.limiter.Wait(ctx); err != nil {
		return err
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case f.sem <- struct{}{}:
		return nil
	}
}

func (f *Fetcher) release() { <-f.sem }

// classifyStatus sorts response codes into retryable and fatal errors.
// nil means the status is acceptable and handled by the caller.
func classifyStatus(resp *http.Response) error {
	code := resp.StatusCode
	switch {
	case code == http.StatusTooManyRequests:
		return &retryAfterError{status: code, hint: parseRetryAfter(resp.Header.Get("Retry-After"))}
	case code >= 500:
		return fmt.Errorf("server error: %d", code)
	case code >= 400:
		return &fatalError{err: fmt.Errorf("request rejected: %d", code)}
	}
	return nil
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

func parseContentRangeTotal(v string) (int64, error) {
	// Content-Range: bytes 0-0/12345
	slash := strings.LastIndexByte(v, '/')
	if slash < 0 || slash == len(v)-1 {
		return 0, fmt.Errorf("unparseable Content-Range %q", v)
	}
	total, err := strconv.ParseInt(v[slash+1:], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("unparseable Content-Range %q: %w", v, err)
	}
	return total, nil
}
