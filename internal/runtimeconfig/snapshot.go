// Package runtimeconfig holds the live routing configuration as an immutable
// snapshot behind an atomic pointer. Readers never block and never observe a
// torn update; writers merge, validate, and swap.
package runtimeconfig

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/fairyhunter13/intent-router/internal/domain"
)

// Snapshot is the immutable view of every knob the request path reads.
// Mutating a snapshot after publication is a bug; Update copies before it
// writes.
type Snapshot struct {
	// DefaultStrategy receives traffic for unknown or disabled strategies.
	DefaultStrategy string `validate:"required"`

	// TrafficSplit maps strategy name to percentage of traffic; must sum to 100.
	TrafficSplit map[string]int

	// TrustThresholds overrides per-backend trust thresholds from the registry.
	TrustThresholds map[string]float64 `validate:"dive,gte=0,lte=1"`

	// SimilarityThreshold gates tier-3 cache hits.
	SimilarityThreshold float64 `validate:"gte=0,lte=1"`
	// SimilarityPenalty scales the confidence discount by (1 - similarity).
	SimilarityPenalty float64 `validate:"gte=0,lte=1"`

	BreakerFailureThreshold int           `validate:"gte=1"`
	BreakerCooldown         time.Duration `validate:"gt=0"`

	// Feature flags consumed by the decision engine as ordinary parameters.
	ExperimentsEnabled     bool
	SimilarityCacheEnabled bool
}

// Update carries a partial configuration change; nil fields keep the prior
// value.
type Update struct {
	DefaultStrategy         *string            `json:"default_strategy,omitempty"`
	TrafficSplit            map[string]int     `json:"traffic_split,omitempty"`
	TrustThresholds         map[string]float64 `json:"trust_thresholds,omitempty"`
	SimilarityThreshold     *float64           `json:"similarity_threshold,omitempty"`
	SimilarityPenalty       *float64           `json:"similarity_penalty,omitempty"`
	BreakerFailureThreshold *int               `json:"breaker_failure_threshold,omitempty"`
	BreakerCooldownMS       *int64             `json:"breaker_cooldown_ms,omitempty"`
	ExperimentsEnabled      *bool              `json:"experiments_enabled,omitempty"`
	SimilarityCacheEnabled  *bool              `json:"similarity_cache_enabled,omitempty"`
}

// Default returns the snapshot used when no overrides are supplied.
func Default() Snapshot {
	return Snapshot{
		DefaultStrategy:         domain.StrategyConfidenceCascade,
		TrafficSplit:            map[string]int{domain.StrategyConfidenceCascade: 100},
		TrustThresholds:         map[string]float64{},
		SimilarityThreshold:     0.95,
		SimilarityPenalty:       0.5,
		BreakerFailureThreshold: 3,
		BreakerCooldown:         30 * time.Second,
		ExperimentsEnabled:      true,
		SimilarityCacheEnabled:  true,
	}
}

// Store publishes snapshots. The zero value is unusable; construct with New.
type Store struct {
	ptr      atomic.Pointer[Snapshot]
	updateMu sync.Mutex
	validate *validator.Validate
}

// New constructs a Store seeded with initial. Returns an error if the seed
// itself does not validate.
func New(initial Snapshot) (*Store, error) {
	s := &Store{validate: validator.New()}
	if err := s.check(initial); err != nil {
		return nil, err
	}
	s.ptr.Store(&initial)
	return s, nil
}

// Load returns the current snapshot. The caller must treat it as read-only.
func (s *Store) Load() *Snapshot {
	return s.ptr.Load()
}

// Apply merges upd into the current snapshot, validates the result, and swaps
// it in atomically. A rejected update leaves the prior snapshot active.
func (s *Store) Apply(upd Update) (*Snapshot, error) {
	s.updateMu.Lock()
	defer s.updateMu.Unlock()

	next := s.merge(*s.ptr.Load(), upd)
	if err := s.check(next); err != nil {
		return nil, err
	}
	s.ptr.Store(&next)
	slog.Info("runtime config updated",
		slog.String("default_strategy", next.DefaultStrategy),
		slog.Any("traffic_split", next.TrafficSplit),
		slog.Bool("experiments_enabled", next.ExperimentsEnabled))
	return &next, nil
}

func (s *Store) merge(cur Snapshot, upd Update) Snapshot {
	next := cur
	// Maps are copied so the published snapshot never aliases a mutable one.
	next.TrafficSplit = copyMap(cur.TrafficSplit)
	next.TrustThresholds = copyMap(cur.TrustThresholds)

	if upd.DefaultStrategy != nil {
		next.DefaultStrategy = *upd.DefaultStrategy
	}
	if upd.TrafficSplit != nil {
		next.TrafficSplit = copyMap(upd.TrafficSplit)
	}
	for name, v := range upd.TrustThresholds {
		next.TrustThresholds[name] = v
	}
	if upd.SimilarityThreshold != nil {
		next.SimilarityThreshold = *upd.SimilarityThreshold
	}
	if upd.SimilarityPenalty != nil {
		next.SimilarityPenalty = *upd.SimilarityPenalty
	}
	if upd.BreakerFailureThreshold != nil {
		next.BreakerFailureThreshold = *upd.BreakerFailureThreshold
	}
	if upd.BreakerCooldownMS != nil {
		next.BreakerCooldown = time.Duration(*upd.BreakerCooldownMS) * time.Millisecond
	}
	if upd.ExperimentsEnabled != nil {
		next.ExperimentsEnabled = *upd.ExperimentsEnabled
	}
	if upd.SimilarityCacheEnabled != nil {
		next.SimilarityCacheEnabled = *upd.SimilarityCacheEnabled
	}
	return next
}

func (s *Store) check(snap Snapshot) error {
	if err := s.validate.Struct(snap); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrConfigInvalid, err)
	}
	sum := 0
	for name, pct := range snap.TrafficSplit {
		if pct < 0 || pct > 100 {
			return fmt.Errorf("%w: traffic split for %q out of [0,100]", domain.ErrConfigInvalid, name)
		}
		sum += pct
	}
	if sum != 100 {
		return fmt.Errorf("%w: traffic split sums to %d, want 100", domain.ErrConfigInvalid, sum)
	}
	// The split may carry names the engine does not implement yet (they are
	// resolved to the default at assignment time), but the default itself has
	// to be a strategy the engine can execute.
	if !domain.KnownStrategy(snap.DefaultStrategy) {
		return fmt.Errorf("%w: unknown default strategy %q", domain.ErrConfigInvalid, snap.DefaultStrategy)
	}
	return nil
}

func copyMap[V any](m map[string]V) map[string]V {
	out := make(map[string]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
