// Package cache is a content-addressed store for verified subsets,
// keyed by source, run identity, forecast step and the fingerprint of
// the requested parameter set.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/dgnsrekt/gribget/internal/catalog"
	"github.com/dgnsrekt/gribget/internal/subset"
)

// ErrMiss is returned by Get when no entry exists for a key.
var ErrMiss = errors.New("cache miss")

// Key identifies one cached subset.
type Key struct {
	SourceID    string
	RunID       string
	Step        string
	Fingerprint string
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%s/%s/%s", k.SourceID, k.RunID, k.Step, k.Fingerprint)
}

// NewKey builds a key for a resolved parameter set. The fingerprint
// hashes the sorted ordinals, so two requests for the same set in
// different orders map to the same key.
func NewKey(sourceID, runID, step string, entries []catalog.Entry) Key {
	return Key{
		SourceID:    sourceID,
		RunID:       runID,
		Step:        step,
		Fingerprint: Fingerprint(entries),
	}
}

// Fingerprint returns a stable hex digest of the entry set, independent
// of request order.
func Fingerprint(entries []catalog.Entry) string {
	ordinals := make([]int, len(entries))
	for i, e := range entries {
		ordinals[i] = e.Ordinal
	}
	sort.Ints(ordinals)

	h := sha256.New()
	for _, o := range ordinals {
		fmt.Fprintf(h, "%d,", o)
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}

// Entry is a cached subset with its metadata.
type Entry struct {
	Key       Key
	Subset    *subset.Subset
	CreatedAt time.Time
	ByteSize  int64
}

// Store persists verified subsets. Implementations must be safe for
// concurrent use from multiple simultaneous requests, with per-key
// mutual exclusion rather than one global lock, and a Get must never
// observe a torn write or a concurrent eviction.
type Store interface {
	Get(ctx context.Context, key Key) (*Entry, error)
	Put(ctx context.Context, key Key, sub *subset.Subset) (*Entry, error)
	Evict(ctx context.Context) error
	Close() error
}
