package cache

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// Memory is a TTL-bound LRU. Entries expire after their ttl and the least
// recently used entry is evicted once capacity is exceeded.
type Memory struct {
	mu    sync.Mutex
	cap   int
	ttl   time.Duration
	ll    *list.List               // most-recent at front
	items map[string]*list.Element // key -> element
	now   func() time.Time
}

type entry struct {
	key   string
	value string
	exp   time.Time
}

// NewMemory returns a store holding at most maxKeys entries. defaultTTL is used
// when Set is called with a non-positive ttl.
func NewMemory(maxKeys int, defaultTTL time.Duration) *Memory {
	if maxKeys <= 0 {
		maxKeys = 10000
	}
	if defaultTTL <= 0 {
		defaultTTL = 24 * time.Hour
	}
	return &Memory{
		cap:   maxKeys,
		ttl:   defaultTTL,
		ll:    list.New(),
		items: make(map[string]*list.Element, maxKeys),
		now:   time.Now,
	}
}

func (m *Memory) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	el, ok := m.items[key]
	if !ok {
		return "", false, nil
	}
	en := el.Value.(entry)
	if !m.now().Before(en.exp) {
		m.ll.Remove(el)
		delete(m.items, key)
		return "", false, nil
	}
	m.ll.MoveToFront(el)
	return en.value, true, nil
}

func (m *Memory) Set(_ context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setLocked(key, value, ttl)
	return nil
}

func (m *Memory) Claim(_ context.Context, key, value string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if el, ok := m.items[key]; ok && m.now().Before(el.Value.(entry).exp) {
		return false, nil
	}
	m.setLocked(key, value, ttl)
	return true, nil
}

func (m *Memory) setLocked(key, value string, ttl time.Duration) {
	if ttl <= 0 {
		ttl = m.ttl
	}
	exp := m.now().Add(ttl)
	if el, ok := m.items[key]; ok {
		el.Value = entry{key: key, value: value, exp: exp}
		m.ll.MoveToFront(el)
		return
	}
	m.items[key] = m.ll.PushFront(entry{key: key, value: value, exp: exp})
	for m.ll.Len() > m.cap {
		m.evict(m.ll.Back())
	}
	// soft cleanup of expired entries at the tail
	for tail := m.ll.Back(); tail != nil; tail = m.ll.Back() {
		if m.now().Before(tail.Value.(entry).exp) {
			break
		}
		m.evict(tail)
	}
}

// Len returns the number of live and not-yet-collected entries.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ll.Len()
}

func (m *Memory) evict(el *list.Element) {
	if el == nil {
		return
	}
	m.ll.Remove(el)
	delete(m.items, el.Value.(entry).key)
}
