package fetch

import (
	"context"
	"math/rand"
	"time"
)

// Policy describes how a single network operation is retried. It is
// passed into the fetcher explicitly so policies can be exercised in
// isolation with a fake sleeper.
type Policy struct {
	Attempts    int           // total attempts, including the first
	BackoffBase time.Duration // delay before attempt 2; doubles per attempt
	MaxBackoff  time.Duration // cap on any single delay; 0 means no cap
	Jitter      bool          // randomize each delay in [d/2, d)

	// Sleep is the waiting primitive; nil means a real context-aware
	// sleep. Tests inject a recording fake.
	Sleep func(ctx context.Context, d time.Duration) error
}

// DefaultPolicy mirrors the configuration defaults: three attempts,
// one second base backoff, jittered.
func DefaultPolicy() Policy {
	return Policy{
		Attempts:    3,
		BackoffBase: time.Second,
		MaxBackoff:  30 * time.Second,
		Jitter:      true,
	}
}

// Delay computes the backoff before the given attempt (attempts are
// 1-based; attempt 1 has no delay). A server-supplied hint, such as a
// Retry-After header, overrides the computed backoff when longer.
func (p *Policy) Delay(attempt int, hint time.Duration) time.Duration {
	if attempt <= 1 {
		return hint
	}
	d := p.BackoffBase * time.Duration(1<<(attempt-2))
	if p.MaxBackoff > 0 && d > p.MaxBackoff {
		d = p.MaxBackoff
	}
	if p.Jitter && d > 0 {
		// rand's global source is safe for concurrent workers.
		d = d/2 + time.Duration(rand.Int63n(int64(d/2)+1))
	}
	if hint > d {
		return hint
	}
	return d
}

// Wait blocks for the backoff before the given attempt, honoring
// context cancellation.
func (p *Policy) Wait(ctx context.Context, attempt int, hint time.Duration) error {
	d := p.Delay(attempt, hint)
	if d <= 0 {
		return ctx.Err()
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = realSleep
	}
	return sleep(ctx, d)
}

func realSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
