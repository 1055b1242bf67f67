// Package experiment assigns requests to routing strategies for live A/B
// comparison of routing approaches.
package experiment

import (
	"crypto/sha256"
	"encoding/binary"
	"math/rand"
	"sort"
	"sync"

	"github.com/fairyhunter13/intent-router/internal/domain"
	"github.com/fairyhunter13/intent-router/internal/runtimeconfig"
)

// ringSize is the number of buckets the traffic split partitions. Percentages
// map 1:1 onto buckets so splits take effect exactly.
const ringSize = 100

// Assigner deterministically buckets requests into the strategies named by
// the live traffic split. The same bucketing key always maps to the same
// strategy within one configuration snapshot; keyless requests draw a random
// bucket.
type Assigner struct {
	store *runtimeconfig.Store

	mu  sync.Mutex
	rng *rand.Rand
}

// Assignment reports which strategy a request was routed through and why.
type Assignment struct {
	Strategy string
	Bucket   int
	Sticky   bool // true when derived from a caller-supplied key
}

// New constructs an Assigner reading splits from the config store.
func New(store *runtimeconfig.Store, seed int64) *Assigner {
	return &Assigner{store: store, rng: rand.New(rand.NewSource(seed))} //nolint:gosec // Weak random is sufficient for traffic sampling.
}

// Assign maps the bucketing key onto the ring and returns the owning
// strategy. With experiments disabled, everything lands on the default
// strategy. Split entries naming a strategy the engine does not implement
// resolve to the default as well, so a stale split never routes traffic
// through an arbitrary fallback.
func (a *Assigner) Assign(bucketKey string) Assignment {
	snap := a.store.Load()
	if !snap.ExperimentsEnabled {
		return Assignment{Strategy: snap.DefaultStrategy, Bucket: -1}
	}

	bucket := a.bucketFor(bucketKey)
	strategy := strategyForBucket(snap.TrafficSplit, bucket)
	if !domain.KnownStrategy(strategy) {
		strategy = snap.DefaultStrategy
	}
	return Assignment{Strategy: strategy, Bucket: bucket, Sticky: bucketKey != ""}
}

func (a *Assigner) bucketFor(key string) int {
	if key == "" {
		a.mu.Lock()
		defer a.mu.Unlock()
		return a.rng.Intn(ringSize)
	}
	sum := sha256.Sum256([]byte(key))
	return int(binary.BigEndian.Uint64(sum[:8]) % ringSize)
}

// strategyForBucket walks the split in sorted-name order so the partition of
// the ring is stable regardless of map iteration order.
func strategyForBucket(split map[string]int, bucket int) string {
	names := make([]string, 0, len(split))
	for name := range split {
		names = append(names, name)
	}
	sort.Strings(names)

	cumulative := 0
	for _, name := range names {
		cumulative += split[name]
		if bucket < cumulative {
			return name
		}
	}
	return ""
}
