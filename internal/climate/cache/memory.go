package cache

import (
	"context"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultMemorySize bounds the in-process store. A season of daily queries
// for a handful of fields fits comfortably.
const DefaultMemorySize = 4096

type memEntry struct {
	val       []byte
	expiresAt time.Time
}

// Memory is a bounded in-process store. Each entry carries its own deadline;
// expired entries are dropped lazily on the access that finds them stale.
type Memory struct {
	mu  sync.Mutex
	lru *lru.Cache[string, memEntry]

	now func() time.Time // for tests
}

func NewMemory(size int) *Memory {
	if size <= 0 {
		size = DefaultMemorySize
	}
	c, _ := lru.New[string, memEntry](size)
	return &Memory{lru: c, now: time.Now}
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.lru.Get(key)
	if !ok {
		return nil, false, nil
	}
	if !m.now().Before(e.expiresAt) {
		m.lru.Remove(key)
		return nil, false, nil
	}
	return e.val, true, nil
}

func (m *Memory) Set(_ context.Context, key string, val []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lru.Add(key, memEntry{val: val, expiresAt: m.now().Add(ttl)})
	return nil
}

func (m *Memory) Del(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		m.lru.Remove(k)
	}
	return nil
}

func (m *Memory) Close() error { return nil }
