package cache

import (
	"github.com/fairyhunter13/intent-router/internal/adapter/observability"
	"github.com/fairyhunter13/intent-router/internal/domain"
	"github.com/fairyhunter13/intent-router/internal/runtimeconfig"
)

// Tiered implements domain.ResultCache across the three tiers. The shared
// tier may be nil when no Redis is configured; the similarity tier is gated
// by the live config snapshot.
type Tiered struct {
	memory     *Memory
	shared     *Redis
	similarity *SimilarityIndex
	config     *runtimeconfig.Store
}

// NewTiered composes the cache tiers. shared may be nil.
func NewTiered(memory *Memory, shared *Redis, similarity *SimilarityIndex, config *runtimeconfig.Store) *Tiered {
	return &Tiered{memory: memory, shared: shared, similarity: similarity, config: config}
}

// Get consults the exact tiers first and falls back to a similarity match
// above the configured threshold, discounting confidence by the configured
// penalty proportional to (1 - similarity).
func (t *Tiered) Get(ctx domain.Context, text string) (domain.ClassificationResult, bool) {
	key := KeyFor(text)

	if res, ok := t.memory.Get(key); ok {
		observability.RecordCacheLookup("memory", true)
		res.FromCache = true
		return res, true
	}
	observability.RecordCacheLookup("memory", false)

	if t.shared != nil {
		if res, ok := t.shared.Get(ctx, key); ok {
			observability.RecordCacheLookup("shared", true)
			t.memory.Put(key, res)
			res.FromCache = true
			return res, true
		}
		observability.RecordCacheLookup("shared", false)
	}

	snap := t.config.Load()
	if snap.SimilarityCacheEnabled {
		if res, sim, ok := t.similarity.Best(text); ok && sim >= snap.SimilarityThreshold {
			observability.RecordCacheLookup("similarity", true)
			res.Confidence -= snap.SimilarityPenalty * (1 - sim)
			if res.Confidence < 0 {
				res.Confidence = 0
			}
			res.FromCache = true
			res.Approximate = true
			return res, true
		}
		observability.RecordCacheLookup("similarity", false)
	}

	return domain.ClassificationResult{}, false
}

// Put writes through every tier. The stored value is the authoritative
// backend result; serving flags (FromCache, Approximate) are cleared so they
// describe the lookup that returns them, not the write.
func (t *Tiered) Put(ctx domain.Context, text string, res domain.ClassificationResult) {
	res.FromCache = false
	res.Approximate = false
	key := KeyFor(text)
	t.memory.Put(key, res)
	if t.shared != nil {
		t.shared.Put(ctx, key, res)
	}
	t.similarity.Add(key, text, res)
}

// Invalidate removes the exact-key entries and the similarity signature, used
// when feedback corrects a cached classification.
func (t *Tiered) Invalidate(ctx domain.Context, text string) {
	key := KeyFor(text)
	t.memory.Delete(key)
	if t.shared != nil {
		t.shared.Delete(ctx, key)
	}
	t.similarity.Remove(key)
}

var _ domain.ResultCache = (*Tiered)(nil)
