// Package cache implements the tiered classification result cache: an
// in-process LRU, a shared Redis tier, and a similarity fallback over recent
// entries.
package cache

import (
	"container/list"
	"hash/fnv"
	"sync"
	"time"

	"github.com/fairyhunter13/intent-router/internal/domain"
	"github.com/fairyhunter13/intent-router/pkg/textx"
)

// KeyFor derives the exact-match cache key from the normalized text.
func KeyFor(text string) string {
	return textx.HashKey(text)
}

const memoryShards = 16

type memoryEntry struct {
	key       string
	result    domain.ClassificationResult
	expiresAt time.Time
}

type memoryShard struct {
	mu       sync.Mutex
	capacity int
	entries  map[string]*list.Element
	order    *list.List // front = most recently used
}

// Memory is a bounded in-process LRU keyed by the exact normalized-text hash.
// It is sharded so concurrent classifications do not serialize on one lock.
type Memory struct {
	shards [memoryShards]*memoryShard
	ttl    time.Duration
}

// NewMemory creates a Memory cache holding up to capacity entries overall,
// each expiring after ttl. A non-positive ttl disables expiry.
func NewMemory(capacity int, ttl time.Duration) *Memory {
	perShard := capacity / memoryShards
	if perShard < 1 {
		perShard = 1
	}
	m := &Memory{ttl: ttl}
	for i := range m.shards {
		m.shards[i] = &memoryShard{
			capacity: perShard,
			entries:  make(map[string]*list.Element),
			order:    list.New(),
		}
	}
	return m
}

func (m *Memory) shardFor(key string) *memoryShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return m.shards[h.Sum32()%memoryShards]
}

// Get returns the entry for key if present and not expired. Expiry is checked
// passively on read.
func (m *Memory) Get(key string) (domain.ClassificationResult, bool) {
	s := m.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	el, ok := s.entries[key]
	if !ok {
		return domain.ClassificationResult{}, false
	}
	ent := el.Value.(*memoryEntry)
	if !ent.expiresAt.IsZero() && time.Now().After(ent.expiresAt) {
		s.order.Remove(el)
		delete(s.entries, key)
		return domain.ClassificationResult{}, false
	}
	s.order.MoveToFront(el)
	return ent.result, true
}

// Put stores res under key, replacing any prior entry and evicting the least
// recently used entry when the shard is full.
func (m *Memory) Put(key string, res domain.ClassificationResult) {
	s := m.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	var expires time.Time
	if m.ttl > 0 {
		expires = time.Now().Add(m.ttl)
	}
	if el, ok := s.entries[key]; ok {
		// Replace-on-update, never mutate the published entry in place.
		el.Value = &memoryEntry{key: key, result: res, expiresAt: expires}
		s.order.MoveToFront(el)
		return
	}
	if s.order.Len() >= s.capacity {
		oldest := s.order.Back()
		if oldest != nil {
			s.order.Remove(oldest)
			delete(s.entries, oldest.Value.(*memoryEntry).key)
		}
	}
	s.entries[key] = s.order.PushFront(&memoryEntry{key: key, result: res, expiresAt: expires})
}

// Delete removes the entry for key if present.
func (m *Memory) Delete(key string) {
	s := m.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	if el, ok := s.entries[key]; ok {
		s.order.Remove(el)
		delete(s.entries, key)
	}
}

// Len reports the total number of live entries across shards.
func (m *Memory) Len() int {
	n := 0
	for _, s := range m.shards {
		s.mu.Lock()
		n += s.order.Len()
		s.mu.Unlock()
	}
	return n
}
