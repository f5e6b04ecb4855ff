package cache

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dgnsrekt/gribget/internal/subset"
)

// MemStore keeps entries in memory. It backs ephemeral runs and tests;
// semantics match DiskStore, including copy-on-read.
type MemStore struct {
	maxBytes int64
	maxAge   time.Duration

	mu      sync.RWMutex
	entries map[string]*memEntry
}

type memEntry struct {
	entry    Entry
	lastUsed time.Time
}

// NewMemStore builds an in-memory store with the same bounds as a disk
// store; zero values disable a bound.
func NewMemStore(maxBytes int64, maxAge time.Duration) *MemStore {
	return &MemStore{
		maxBytes: maxBytes,
		maxAge:   maxAge,
		entries:  make(map[string]*memEntry),
	}
}

func (s *MemStore) Get(ctx context.Context, key Key) (*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	me, ok := s.entries[key.String()]
	if !ok {
		return nil, ErrMiss
	}
	me.lastUsed = time.Now()
	out := me.entry
	out.Subset = copySubset(me.entry.Subset)
	return &out, nil
}

func (s *MemStore) Put(ctx context.Context, key Key, sub *subset.Subset) (*Entry, error) {
	if len(sub.Missing) > 0 {
		return nil, fmt.Errorf("refusing to cache incomplete subset for %s", key)
	}
	entry := Entry{
		Key:       key,
		Subset:    copySubset(sub),
		CreatedAt: time.Now(),
		ByteSize:  sub.Size(),
	}
	s.mu.Lock()
	s.entries[key.String()] = &memEntry{entry: entry, lastUsed: entry.CreatedAt}
	s.mu.Unlock()
	return &entry, nil
}

func (s *MemStore) Evict(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	type aged struct {
		key      string
		size     int64
		lastUsed time.Time
	}
	var all []aged
	var total int64
	for k, me := range s.entries {
		all = append(all, aged{key: k, size: me.entry.ByteSize, lastUsed: me.lastUsed})
		total += me.entry.ByteSize
	}
	sort.Slice(all, func(i, j int) bool { return all[i].lastUsed.Before(all[j].lastUsed) })

	now := time.Now()
	for _, a := range all {
		expired := s.maxAge > 0 && now.Sub(a.lastUsed) > s.maxAge
		oversize := s.maxBytes > 0 && total > s.maxBytes
		if !expired && !oversize {
			continue
		}
		delete(s.entries, a.key)
		total -= a.size
	}
	return nil
}

func (s *MemStore) Close() error { return nil }

func copySubset(sub *subset.Subset) *subset.Subset {
	out := &subset.Subset{
		Messages: make([]subset.Message, len(sub.Messages)),
	}
	for i, m := range sub.Messages {
		data := make([]byte, len(m.Data))
		copy(data, m.Data)
		out.Messages[i] = subset.Message{Entry: m.Entry, MessageNum: m.MessageNum, Data: data}
	}
	return out
}
