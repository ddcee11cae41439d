package store

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/orchestra-mcp/pulse/src/clock"
)

// DefaultMaxEntries bounds the memory store when no limit is configured.
const DefaultMaxEntries = 512

// MemoryStore is an in-process store with per-key expiry and LRU eviction.
type MemoryStore struct {
	mu      sync.Mutex
	items   map[string]*list.Element
	order   *list.List // front is most recently used
	max     int
	ttl     time.Duration
	clock   clock.Clock
	evicted int
}

type memoryEntry struct {
	key     string
	value   []byte
	expires time.Time
}

// NewMemoryStore creates a memory store. A nil clock uses the wall clock.
func NewMemoryStore(maxEntries int, ttl time.Duration, clk clock.Clock) *MemoryStore {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if clk == nil {
		clk = clock.Real{}
	}
	return &MemoryStore{
		items: make(map[string]*list.Element),
		order: list.New(),
		max:   maxEntries,
		ttl:   ttl,
		clock: clk,
	}
}

func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	el, ok := s.items[key]
	if !ok {
		return nil, false, nil
	}
	e := el.Value.(*memoryEntry)
	if !s.clock.Now().Before(e.expires) {
		s.remove(el)
		return nil, false, nil
	}
	s.order.MoveToFront(el)

	out := make([]byte, len(e.value))
	copy(out, e.value)
	return out, true, nil
}

func (s *MemoryStore) Set(_ context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	v := make([]byte, len(value))
	copy(v, value)
	expires := s.clock.Now().Add(s.ttl)

	if el, ok := s.items[key]; ok {
		e := el.Value.(*memoryEntry)
		e.value = v
		e.expires = expires
		s.order.MoveToFront(el)
		return nil
	}

	s.items[key] = s.order.PushFront(&memoryEntry{key: key, value: v, expires: expires})
	for s.order.Len() > s.max {
		s.remove(s.order.Back())
		s.evicted++
	}
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if el, ok := s.items[key]; ok {
		s.remove(el)
	}
	return nil
}

// Len returns the number of stored keys, expired ones included until touched.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.order.Len()
}

// Evicted returns how many keys were dropped to respect the entry limit.
func (s *MemoryStore) Evicted() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.evicted
}

func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) remove(el *list.Element) {
	s.order.Remove(el)
	delete(s.items, el.Value.(*memoryEntry).key)
}
