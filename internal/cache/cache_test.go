package cache

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/dgnsrekt/gribget/internal/catalog"
	"github.com/dgnsrekt/gribget/internal/subset"
)

func testEntries(t *testing.T) []catalog.Entry {
	t.Helper()
	entries, err := catalog.ResolveMany([]catalog.Query{
		{Level: "500 mb", Param: "TMP", Qualifier: "anl"},
		{Level: "surface", Param: "GUST", Qualifier: "anl"},
		{Level: "850 mb", Param: "DPT", Qualifier: "anl"},
	})
	if err != nil {
		t.Fatal(err)
	}
	return entries
}

func testSubset(t *testing.T) *subset.Subset {
	entries := testEntries(t)
	sub, err := subset.Assemble(entries, []subset.Message{
		{Entry: entries[0], MessageNum: 3, Data: []byte("aaaa")},
		{Entry: entries[1], MessageNum: 1, Data: []byte("bb")},
		{Entry: entries[2], MessageNum: 8, Data: []byte("cccccc")},
	}, subset.Options{})
	if err != nil {
		t.Fatal(err)
	}
	return sub
}

func newTestDiskStore(t *testing.T, maxBytes int64, maxAge time.Duration) *DiskStore {
	t.Helper()
	store, err := NewDiskStore(t.TempDir(), maxBytes, maxAge, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	return store
}

func TestFingerprint_OrderIndependent(t *testing.T) {
	entries := testEntries(t)
	reversed := []catalog.Entry{entries[2], entries[1], entries[0]}
	if Fingerprint(entries) != Fingerprint(reversed) {
		t.Error("fingerprint depends on request order")
	}
}

func TestFingerprint_DistinguishesSets(t *testing.T) {
	entries := testEntries(t)
	if Fingerprint(entries) == Fingerprint(entries[:2]) {
		t.Error("different parameter sets share a fingerprint")
	}
}

func TestNewKey(t *testing.T) {
	entries := testEntries(t)
	a := NewKey("hrrr", "2020051812", "f00", entries)
	b := NewKey("hrrr", "2020051812", "f00", []catalog.Entry{entries[1], entries[0], entries[2]})
	if a != b {
		t.Errorf("keys differ for identical requests: %v vs %v", a, b)
	}
	c := NewKey("hrrr", "2020051812", "f01", entries)
	if a == c {
		t.Error("keys collide across forecast steps")
	}
}

func TestDiskStore_PutGetRoundtrip(t *testing.T) {
	store := newTestDiskStore(t, 0, 0)
	key := NewKey("hrrr", "2020051812", "f00", testEntries(t))
	sub := testSubset(t)

	if _, err := store.Get(context.Background(), key); !errors.Is(err, ErrMiss) {
		t.Fatalf("expected miss, got %v", err)
	}

	put, err := store.Put(context.Background(), key, sub)
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if put.ByteSize != sub.Size() {
		t.Errorf("ByteSize = %d, want %d", put.ByteSize, sub.Size())
	}

	got, err := store.Get(context.Background(), key)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(got.Subset.Messages) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(got.Subset.Messages))
	}
	if string(got.Subset.Bytes()) != string(sub.Bytes()) {
		t.Error("payload changed across roundtrip")
	}
	for i, m := range got.Subset.Messages {
		if m.MessageNum != sub.Messages[i].MessageNum {
			t.Errorf("message order changed at %d", i)
		}
		if m.Entry != sub.Messages[i].Entry {
			t.Errorf("entry identity lost at %d: %+v", i, m.Entry)
		}
	}
}

func TestDiskStore_PutIdempotent(t *testing.T) {
	store := newTestDiskStore(t, 0, 0)
	key := NewKey("hrrr", "2020051812", "f00", testEntries(t))
	sub := testSubset(t)

	for i := 0; i < 2; i++ {
		if _, err := store.Put(context.Background(), key, sub); err != nil {
			t.Fatalf("Put #%d: %v", i+1, err)
		}
	}
	got, err := store.Get(context.Background(), key)
	if err != nil {
		t.Fatalf("Get after duplicate put: %v", err)
	}
	if got.ByteSize != sub.Size() || len(got.Subset.Messages) != 3 {
		t.Errorf("duplicate put corrupted entry: %+v", got)
	}
}

func TestDiskStore_RejectsIncompleteSubset(t *testing.T) {
	store := newTestDiskStore(t, 0, 0)
	entries := testEntries(t)
	sub, err := subset.Assemble(entries, []subset.Message{
		{Entry: entries[0], MessageNum: 3, Data: []byte("aaaa")},
	}, subset.Options{BestEffort: true})
	if err != nil {
		t.Fatal(err)
	}
	key := NewKey("hrrr", "2020051812", "f00", entries)
	if _, err := store.Put(context.Background(), key, sub); err == nil {
		t.Fatal("expected refusal to cache best-effort subset")
	}
}

func TestDiskStore_EvictBySize(t *testing.T) {
	store := newTestDiskStore(t, 8, 0)
	entries := testEntries(t)

	oldKey := NewKey("hrrr", "2020051812", "f00", entries[:1])
	newKey := NewKey("hrrr", "2020051818", "f00", entries[:1])

	mkSub := func(payload string) *subset.Subset {
		sub, err := subset.Assemble(entries[:1], []subset.Message{
			{Entry: entries[0], MessageNum: 1, Data: []byte(payload)},
		}, subset.Options{})
		if err != nil {
			t.Fatal(err)
		}
		return sub
	}

	if _, err := store.Put(context.Background(), oldKey, mkSub("oldentry")); err != nil {
		t.Fatal(err)
	}
	// Age the first entry's mtime so LRU ordering is deterministic.
	past := time.Now().Add(-time.Hour)
	base := store.basePath(oldKey)
	if err := os.Chtimes(base+dataSuffix, past, past); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Put(context.Background(), newKey, mkSub("newentry")); err != nil {
		t.Fatal(err)
	}

	if err := store.Evict(context.Background()); err != nil {
		t.Fatalf("Evict: %v", err)
	}

	if _, err := store.Get(context.Background(), oldKey); !errors.Is(err, ErrMiss) {
		t.Errorf("expected oldest entry evicted, got %v", err)
	}
	if _, err := store.Get(context.Background(), newKey); err != nil {
		t.Errorf("expected newest entry kept, got %v", err)
	}
}

func TestDiskStore_EvictByAge(t *testing.T) {
	store := newTestDiskStore(t, 0, time.Minute)
	key := NewKey("hrrr", "2020051812", "f00", testEntries(t))
	if _, err := store.Put(context.Background(), key, testSubset(t)); err != nil {
		t.Fatal(err)
	}

	past := time.Now().Add(-time.Hour)
	base := store.basePath(key)
	if err := os.Chtimes(base+dataSuffix, past, past); err != nil {
		t.Fatal(err)
	}

	if err := store.Evict(context.Background()); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Get(context.Background(), key); !errors.Is(err, ErrMiss) {
		t.Errorf("expected aged entry evicted, got %v", err)
	}
}

func TestDiskStore_EvictConcurrentWithReads(t *testing.T) {
	store := newTestDiskStore(t, 0, time.Hour)
	ctx := context.Background()
	sub := testSubset(t)

	aged := NewKey("src", "run", "f00", testEntries(t))
	if _, err := store.Put(ctx, aged, sub); err != nil {
		t.Fatal(err)
	}
	base := store.basePath(aged)
	past := time.Now().Add(-2 * time.Hour)
	if err := os.Chtimes(base+dataSuffix, past, past); err != nil {
		t.Fatal(err)
	}

	fresh := NewKey("src", "run", "f01", testEntries(t))
	if _, err := store.Put(ctx, fresh, sub); err != nil {
		t.Fatal(err)
	}

	// Reads on the fresh key must keep hitting while the aged key is
	// evicted; removal holds the same per-key lock as Get and Put.
	done := make(chan error, 1)
	go func() {
		for i := 0; i < 100; i++ {
			if _, err := store.Get(ctx, fresh); err != nil {
				done <- err
				return
			}
		}
		done <- nil
	}()

	if err := store.Evict(ctx); err != nil {
		t.Fatalf("Evict: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("concurrent read failed during eviction: %v", err)
	}
	if _, err := store.Get(ctx, aged); !errors.Is(err, ErrMiss) {
		t.Errorf("aged entry should be evicted, got %v", err)
	}
}

func TestDiskStore_PayloadWithoutManifestIsMiss(t *testing.T) {
	store := newTestDiskStore(t, 0, 0)
	key := NewKey("hrrr", "2020051812", "f00", testEntries(t))
	base := store.basePath(key)
	if err := os.MkdirAll(filepath.Dir(base), 0750); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(base+dataSuffix, []byte("orphan"), 0640); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Get(context.Background(), key); !errors.Is(err, ErrMiss) {
		t.Errorf("orphan payload must read as a miss, got %v", err)
	}
}

func TestMemStore_RoundtripAndCopyOnRead(t *testing.T) {
	store := NewMemStore(0, 0)
	key := NewKey("hrrr", "2020051812", "f00", testEntries(t))
	sub := testSubset(t)

	if _, err := store.Put(context.Background(), key, sub); err != nil {
		t.Fatal(err)
	}
	got, err := store.Get(context.Background(), key)
	if err != nil {
		t.Fatal(err)
	}
	// Mutating the returned copy must not affect a later read.
	got.Subset.Messages[0].Data[0] = 'X'

	again, err := store.Get(context.Background(), key)
	if err != nil {
		t.Fatal(err)
	}
	if again.Subset.Messages[0].Data[0] == 'X' {
		t.Error("reads share backing storage")
	}
}

func TestMemStore_EvictBySize(t *testing.T) {
	store := NewMemStore(8, 0)
	entries := testEntries(t)
	mkSub := func(payload string) *subset.Subset {
		sub, err := subset.Assemble(entries[:1], []subset.Message{
			{Entry: entries[0], MessageNum: 1, Data: []byte(payload)},
		}, subset.Options{})
		if err != nil {
			t.Fatal(err)
		}
		return sub
	}

	a := NewKey("hrrr", "a", "f00", entries[:1])
	b := NewKey("hrrr", "b", "f00", entries[:1])
	if _, err := store.Put(context.Background(), a, mkSub("12345678")); err != nil {
		t.Fatal(err)
	}
	time.Sleep(5 * time.Millisecond)
	if _, err := store.Put(context.Background(), b, mkSub("87654321")); err != nil {
		t.Fatal(err)
	}
	if err := store.Evict(context.Background()); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Get(context.Background(), a); !errors.Is(err, ErrMiss) {
		t.Errorf("expected LRU entry evicted, got %v", err)
	}
	if _, err := store.Get(context.Background(), b); err != nil {
		t.Errorf("expected newer entry kept, got %v", err)
	}
}
