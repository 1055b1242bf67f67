package experiment

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/intent-router/internal/domain"
	"github.com/fairyhunter13/intent-router/internal/runtimeconfig"
)

func newStore(t *testing.T, split map[string]int) *runtimeconfig.Store {
	t.Helper()
	snap := runtimeconfig.Default()
	if split != nil {
		snap.TrafficSplit = split
	}
	store, err := runtimeconfig.New(snap)
	require.NoError(t, err)
	return store
}

func TestAssignDeterministicForSameKey(t *testing.T) {
	store := newStore(t, map[string]int{
		domain.StrategyConfidenceCascade: 50,
		domain.StrategyLatencyOptimized:  50,
	})
	a := New(store, 1)

	first := a.Assign("session-42")
	for i := 0; i < 100; i++ {
		got := a.Assign("session-42")
		assert.Equal(t, first.Strategy, got.Strategy)
		assert.Equal(t, first.Bucket, got.Bucket)
		assert.True(t, got.Sticky)
	}
}

func TestAssignKeylessIsRandomButValid(t *testing.T) {
	store := newStore(t, map[string]int{
		domain.StrategyConfidenceCascade: 70,
		domain.StrategyRulesFirst:        30,
	})
	a := New(store, 7)

	for i := 0; i < 200; i++ {
		got := a.Assign("")
		assert.False(t, got.Sticky)
		assert.Contains(t, []string{domain.StrategyConfidenceCascade, domain.StrategyRulesFirst}, got.Strategy)
	}
}

func TestAssignRespectsTrafficSplitWithinTolerance(t *testing.T) {
	store := newStore(t, map[string]int{
		domain.StrategyConfidenceCascade: 80,
		domain.StrategyParallelProbe:     20,
	})
	a := New(store, 3)

	counts := map[string]int{}
	const n = 20000
	for i := 0; i < n; i++ {
		got := a.Assign(fmt.Sprintf("user-%d", i))
		counts[got.Strategy]++
	}
	cascadeShare := float64(counts[domain.StrategyConfidenceCascade]) / n
	assert.InDelta(t, 0.80, cascadeShare, 0.03)
}

func TestAssignDisabledExperimentsUseDefault(t *testing.T) {
	snap := runtimeconfig.Default()
	snap.ExperimentsEnabled = false
	snap.TrafficSplit = map[string]int{
		domain.StrategyConfidenceCascade: 10,
		domain.StrategyAlwaysFineTuned:   90,
	}
	store, err := runtimeconfig.New(snap)
	require.NoError(t, err)
	a := New(store, 1)

	got := a.Assign("session-1")
	assert.Equal(t, domain.StrategyConfidenceCascade, got.Strategy)
	assert.Equal(t, -1, got.Bucket)
}

func TestAssignUnknownSplitStrategyFallsBackToDefault(t *testing.T) {
	snap := runtimeconfig.Default()
	snap.DefaultStrategy = domain.StrategyAlwaysFineTuned
	snap.TrafficSplit = map[string]int{"mystery-strategy": 100}
	store, err := runtimeconfig.New(snap)
	require.NoError(t, err)
	a := New(store, 1)

	// The split may name strategies the engine does not implement; those
	// buckets route through the designated default, not an implicit fallback.
	for i := 0; i < 50; i++ {
		got := a.Assign(fmt.Sprintf("user-%d", i))
		assert.Equal(t, domain.StrategyAlwaysFineTuned, got.Strategy)
	}
}

func TestAssignLiveReweighting(t *testing.T) {
	store := newStore(t, map[string]int{domain.StrategyConfidenceCascade: 100})
	a := New(store, 1)

	assert.Equal(t, domain.StrategyConfidenceCascade, a.Assign("sticky-user").Strategy)

	_, err := store.Apply(runtimeconfig.Update{
		TrafficSplit: map[string]int{domain.StrategyAlwaysFineTuned: 100},
	})
	require.NoError(t, err)

	// New requests immediately see the new split, no redeploy.
	assert.Equal(t, domain.StrategyAlwaysFineTuned, a.Assign("sticky-user").Strategy)
}
