package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dgnsrekt/gribget/internal/catalog"
	"github.com/dgnsrekt/gribget/internal/subset"
)

const (
	dataSuffix     = ".grib2"
	manifestSuffix = ".manifest.json"
)

// DiskStore keeps subsets on the local filesystem, one payload file plus
// one manifest per key, under <root>/<source>/<run>/<step>/. Writes go
// through a uniquely named temp file and an atomic rename; reads
// materialize a fresh buffer, so eviction never corrupts a read already
// handed out.
type DiskStore struct {
	root     string
	maxBytes int64         // 0 disables the size bound
	maxAge   time.Duration // 0 disables the age bound
	logger   *zap.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewDiskStore opens (creating if needed) a disk cache rooted at dir.
func NewDiskStore(dir string, maxBytes int64, maxAge time.Duration, logger *zap.Logger) (*DiskStore, error) {
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("creating cache directory: %w", err)
	}
	return &DiskStore{
		root:     dir,
		maxBytes: maxBytes,
		maxAge:   maxAge,
		logger:   logger,
		locks:    make(map[string]*sync.Mutex),
	}, nil
}

// keyLock returns the mutex guarding one key, so unrelated keys do not
// serialize.
func (s *DiskStore) keyLock(key Key) *sync.Mutex {
	return s.lockFor(key.String())
}

func (s *DiskStore) lockFor(name string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[name]
	if !ok {
		l = &sync.Mutex{}
		s.locks[name] = l
	}
	return l
}

func (s *DiskStore) basePath(key Key) string {
	return filepath.Join(s.root, key.SourceID, key.RunID, key.Step, key.Fingerprint)
}

func (s *DiskStore) Get(ctx context.Context, key Key) (*Entry, error) {
	lock := s.keyLock(key)
	lock.Lock()
	defer lock.Unlock()

	base := s.basePath(key)
	data, err := os.ReadFile(base + dataSuffix)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrMiss
		}
		return nil, fmt.Errorf("reading cached subset: %w", err)
	}
	manifestRaw, err := os.ReadFile(base + manifestSuffix)
	if err != nil {
		// A payload without its manifest is an interrupted write;
		// treat it as a miss rather than serving an unverifiable blob.
		return nil, ErrMiss
	}
	var manifest []subset.ManifestEntry
	if err := json.Unmarshal(manifestRaw, &manifest); err != nil {
		return nil, ErrMiss
	}

	sub, err := rebuild(data, manifest)
	if err != nil {
		s.logger.Warn("discarding corrupt cache entry",
			zap.String("key", key.String()),
			zap.Error(err))
		return nil, ErrMiss
	}

	info, err := os.Stat(base + dataSuffix)
	if err != nil {
		return nil, ErrMiss
	}
	// Touch for LRU: recently read entries are evicted last.
	now := time.Now()
	_ = os.Chtimes(base+dataSuffix, now, now)

	return &Entry{
		Key:       key,
		Subset:    sub,
		CreatedAt: info.ModTime(),
		ByteSize:  int64(len(data)),
	}, nil
}

func (s *DiskStore) Put(ctx context.Context, key Key, sub *subset.Subset) (*Entry, error) {
	if len(sub.Missing) > 0 {
		return nil, fmt.Errorf("refusing to cache incomplete subset for %s", key)
	}

	lock := s.keyLock(key)
	lock.Lock()
	defer lock.Unlock()

	base := s.basePath(key)
	if err := os.MkdirAll(filepath.Dir(base), 0750); err != nil {
		return nil, fmt.Errorf("creating cache directories: %w", err)
	}

	manifestRaw, err := json.Marshal(sub.Manifest())
	if err != nil {
		return nil, fmt.Errorf("encoding manifest: %w", err)
	}

	// Temp names carry a uuid so concurrent puts for the same key never
	// collide before their rename. A duplicate put replaces the entry.
	tmp := base + "." + uuid.NewString() + ".tmp"
	if err := os.WriteFile(tmp, sub.Bytes(), 0640); err != nil {
		return nil, fmt.Errorf("writing cache payload: %w", err)
	}
	if err := os.WriteFile(tmp+manifestSuffix, manifestRaw, 0640); err != nil {
		_ = os.Remove(tmp)
		return nil, fmt.Errorf("writing cache manifest: %w", err)
	}
	// Manifest lands first: a payload without a manifest reads as a
	// miss, never the other way around.
	if err := os.Rename(tmp+manifestSuffix, base+manifestSuffix); err != nil {
		_ = os.Remove(tmp)
		_ = os.Remove(tmp + manifestSuffix)
		return nil, fmt.Errorf("publishing cache manifest: %w", err)
	}
	if err := os.Rename(tmp, base+dataSuffix); err != nil {
		_ = os.Remove(tmp)
		return nil, fmt.Errorf("publishing cache payload: %w", err)
	}

	entry := &Entry{
		Key:       key,
		Subset:    sub,
		CreatedAt: time.Now(),
		ByteSize:  sub.Size(),
	}
	s.logger.Debug("cached subset",
		zap.String("key", key.String()),
		zap.Int64("bytes", entry.ByteSize))
	return entry, nil
}

type diskEntry struct {
	base    string
	size    int64
	modTime time.Time
}

// Evict removes least-recently-used entries until the store fits its
// size bound, and any entry older than the age bound.
func (s *DiskStore) Evict(ctx context.Context) error {
	var entries []diskEntry
	err := filepath.Walk(s.root, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() || !strings.HasSuffix(path, dataSuffix) {
			return err
		}
		entries = append(entries, diskEntry{
			base:    strings.TrimSuffix(path, dataSuffix),
			size:    info.Size(),
			modTime: info.ModTime(),
		})
		return nil
	})
	if err != nil {
		return fmt.Errorf("scanning cache: %w", err)
	}

	var total int64
	for _, e := range entries {
		total += e.size
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].modTime.Before(entries[j].modTime)
	})

	now := time.Now()
	for _, e := range entries {
		expired := s.maxAge > 0 && now.Sub(e.modTime) > s.maxAge
		oversize := s.maxBytes > 0 && total > s.maxBytes
		if !expired && !oversize {
			continue
		}
		if err := s.removeEntry(e.base); err != nil {
			s.logger.Warn("evicting cache entry failed",
				zap.String("entry", e.base),
				zap.Error(err))
			continue
		}
		total -= e.size
		s.logger.Debug("evicted cache entry",
			zap.String("entry", e.base),
			zap.Bool("expired", expired))
	}
	return nil
}

func (s *DiskStore) removeEntry(base string) error {
	// The relative entry path is the key string, so removal takes the
	// same per-key lock as Get and Put.
	if rel, err := filepath.Rel(s.root, base); err == nil {
		lock := s.lockFor(filepath.ToSlash(rel))
		lock.Lock()
		defer lock.Unlock()
	}
	// Manifest first: a payload without a manifest is treated as a miss
	// by Get, so a crash between the two removes stays consistent.
	if err := os.Remove(base + manifestSuffix); err != nil && !os.IsNotExist(err) {
		return err
	}
	return os.Remove(base + dataSuffix)
}

func (s *DiskStore) Close() error { return nil }

// rebuild reconstructs an ordered subset from the concatenated payload
// and its manifest.
func rebuild(data []byte, manifest []subset.ManifestEntry) (*subset.Subset, error) {
	sub := &subset.Subset{}
	var offset int64
	for _, m := range manifest {
		end := offset + m.Length
		if end > int64(len(data)) {
			return nil, fmt.Errorf("manifest overruns payload at position %d", m.Position)
		}
		buf := make([]byte, m.Length)
		copy(buf, data[offset:end])
		sub.Messages = append(sub.Messages, subset.Message{
			Entry: catalog.Entry{
				Ordinal:     m.Ordinal,
				Level:       m.Level,
				Param:       m.Param,
				Qualifier:   m.Qualifier,
				Description: m.Description,
			},
			MessageNum: m.MessageNum,
			Data:       buf,
		})
		offset = end
	}
	if offset != int64(len(data)) {
		return nil, fmt.Errorf("payload has %d trailing bytes beyond manifest", int64(len(data))-offset)
	}
	return sub, nil
}
