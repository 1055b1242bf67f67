package cache

import (
	"sync"
	"time"

	"github.com/fairyhunter13/intent-router/internal/domain"
	"github.com/fairyhunter13/intent-router/pkg/textx"
)

type signatureEntry struct {
	key       string
	tokens    map[string]struct{}
	result    domain.ClassificationResult
	expiresAt time.Time
}

func (e signatureEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// SimilarityIndex keeps token-set signatures for a bounded window of recent
// entries and answers near-match lookups with their Jaccard similarity. It is
// the tier-3 fallback when both exact tiers miss. Entries carry the same TTL
// as the exact tiers so an expired classification cannot keep being served as
// a near-match of itself.
type SimilarityIndex struct {
	mu       sync.RWMutex
	capacity int
	ttl      time.Duration
	entries  []signatureEntry // FIFO window, oldest first
	byKey    map[string]int
}

// NewSimilarityIndex creates an index holding up to capacity recent entries,
// each expiring after ttl. A non-positive ttl disables expiry.
func NewSimilarityIndex(capacity int, ttl time.Duration) *SimilarityIndex {
	if capacity < 1 {
		capacity = 1
	}
	return &SimilarityIndex{
		capacity: capacity,
		ttl:      ttl,
		entries:  make([]signatureEntry, 0, capacity),
		byKey:    make(map[string]int, capacity),
	}
}

// Add records the signature for text alongside its cached result, replacing
// any prior entry for the same key and evicting the oldest when full.
func (si *SimilarityIndex) Add(key, text string, res domain.ClassificationResult) {
	tokens := textx.TokenSet(text)
	var expires time.Time
	if si.ttl > 0 {
		expires = time.Now().Add(si.ttl)
	}
	ent := signatureEntry{key: key, tokens: tokens, result: res, expiresAt: expires}

	si.mu.Lock()
	defer si.mu.Unlock()

	if idx, ok := si.byKey[key]; ok {
		si.entries[idx] = ent
		return
	}
	if len(si.entries) >= si.capacity {
		evicted := si.entries[0]
		si.entries = si.entries[1:]
		delete(si.byKey, evicted.key)
		for k, i := range si.byKey {
			si.byKey[k] = i - 1
		}
	}
	si.entries = append(si.entries, ent)
	si.byKey[key] = len(si.entries) - 1
}

// Remove drops the entry for key if present.
func (si *SimilarityIndex) Remove(key string) {
	si.mu.Lock()
	defer si.mu.Unlock()

	idx, ok := si.byKey[key]
	if !ok {
		return
	}
	si.entries = append(si.entries[:idx], si.entries[idx+1:]...)
	delete(si.byKey, key)
	for k, i := range si.byKey {
		if i > idx {
			si.byKey[k] = i - 1
		}
	}
}

// Best returns the stored result most similar to text together with its
// similarity score, scanning the bounded window linearly. Expiry is checked
// passively on read, like the exact tiers.
func (si *SimilarityIndex) Best(text string) (domain.ClassificationResult, float64, bool) {
	tokens := textx.TokenSet(text)
	now := time.Now()
	si.mu.RLock()
	defer si.mu.RUnlock()

	bestSim := -1.0
	var best domain.ClassificationResult
	for _, ent := range si.entries {
		if ent.expired(now) {
			continue
		}
		if sim := textx.Jaccard(tokens, ent.tokens); sim > bestSim {
			bestSim = sim
			best = ent.result
		}
	}
	if bestSim < 0 {
		return domain.ClassificationResult{}, 0, false
	}
	return best, bestSim, true
}

// Len reports the number of indexed entries.
func (si *SimilarityIndex) Len() int {
	si.mu.RLock()
	defer si.mu.RUnlock()
	return len(si.entries)
}
