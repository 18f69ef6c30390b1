package cache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"example.com/pdf-fusion/internal/merge"
	"example.com/pdf-fusion/pkg/metrics"
)

type memStore struct {
	mu   sync.Mutex
	data map[string][]byte
	ttl  time.Duration
	fail bool
}

func (m *memStore) GetBytes(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return nil, errors.New("connection refused")
	}
	b, ok := m.data[key]
	if !ok {
		return nil, errors.New("not found")
	}
	return b, nil
}

func (m *memStore) SetBytes(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errors.New("connection refused")
	}
	m.data[key] = value
	m.ttl = ttl
	return nil
}

func TestCacheRoundTrip(t *testing.T) {
	store := &memStore{data: map[string][]byte{}}
	m := metrics.New(prometheus.NewRegistry())
	c := New(store, time.Minute, 1024, m)

	if _, ok := c.Get(context.Background(), "k"); ok {
		t.Fatal("empty cache hit")
	}
	c.Put(context.Background(), "k", Entry{Filename: "a.pdf", Pages: 3, PDF: []byte("%PDF-1.4")})
	e, ok := c.Get(context.Background(), "k")
	if !ok || e.Pages != 3 || string(e.PDF) != "%PDF-1.4" || e.Filename != "a.pdf" {
		t.Fatalf("Get = %+v, %v", e, ok)
	}
	if store.ttl != time.Minute {
		t.Errorf("ttl = %v", store.ttl)
	}
	if got := testutil.ToFloat64(m.CacheHitsTotal); got != 1 {
		t.Errorf("hits = %v", got)
	}
	if got := testutil.ToFloat64(m.CacheMissesTotal); got != 1 {
		t.Errorf("misses = %v", got)
	}
}

func TestCacheSkipsLargeDocuments(t *testing.T) {
	store := &memStore{data: map[string][]byte{}}
	c := New(store, time.Minute, 4, nil)
	c.Put(context.Background(), "k", Entry{PDF: []byte("too large")})
	if len(store.data) != 0 {
		t.Error("oversized document cached")
	}
}

func TestCacheStoreFailureIsMiss(t *testing.T) {
	c := New(&memStore{fail: true}, time.Minute, 0, nil)
	c.Put(context.Background(), "k", Entry{PDF: []byte("x")})
	if _, ok := c.Get(context.Background(), "k"); ok {
		t.Error("hit on failing store")
	}
}

func TestNilCache(t *testing.T) {
	var c *Cache
	if _, ok := c.Get(context.Background(), "k"); ok {
		t.Error("nil cache hit")
	}
	if c.Fits(1) {
		t.Error("nil cache accepts entries")
	}
}

func TestKeyDependsOnRequest(t *testing.T) {
	a := &merge.Request{Title: "T", Sources: []merge.Source{{Supplier: "A", URL: "https://x.test/a.pdf"}}}
	b := &merge.Request{Title: "T", Sources: []merge.Source{{Supplier: "A", URL: "https://x.test/a.pdf"}}}
	if Key(a) != Key(b) {
		t.Error("equal requests, different keys")
	}
	b.Sources[0].Chapters = []merge.Chapter{{Title: "x", StartPage: merge.Page(2)}}
	if Key(a) == Key(b) {
		t.Error("different requests, same key")
	}
}
