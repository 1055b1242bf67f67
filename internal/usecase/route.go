package usecase

import (
	"sort"
	"time"

	"github.com/fairyhunter13/intent-router/internal/domain"
)

// minStepBudget keeps a cascade step from being starved into instant timeouts
// when a descriptor carries no latency estimate.
const minStepBudget = 25 * time.Millisecond

// stepBudgetMultiplier scales a backend's expected p95 into its per-call
// allowance, leaving headroom for tail latency before escalation.
const stepBudgetMultiplier = 3

// maxChainLen returns how deep a cascade may go for a latency tier: critical
// stops at the cheapest backend, standard may escalate once, relaxed walks
// the full chain.
func maxChainLen(tier domain.LatencyTier, available int) int {
	switch tier {
	case domain.TierCritical:
		return 1
	case domain.TierStandard:
		if available < 2 {
			return available
		}
		return 2
	default:
		return available
	}
}

// buildDecision orders and bounds the available backends for one request
// according to the assigned strategy and latency tier. The decision is
// ephemeral and never persisted.
func buildDecision(strategy string, tier domain.LatencyTier, available []domain.BackendDescriptor, totalBudget time.Duration) domain.RoutingDecision {
	ordered := make([]domain.BackendDescriptor, len(available))
	copy(ordered, available)
	parallel := false

	switch strategy {
	case domain.StrategyRulesFirst:
		// Priority order with rule-based backends pulled to the front.
		sort.SliceStable(ordered, func(i, j int) bool {
			ri, rj := ordered[i].Kind == "rules", ordered[j].Kind == "rules"
			if ri != rj {
				return ri
			}
			return ordered[i].Priority < ordered[j].Priority
		})
	case domain.StrategyAlwaysFineTuned:
		// Restrict to fine-tuned backends; everything else is not consulted.
		restricted := ordered[:0]
		for _, d := range ordered {
			if d.Kind == "fine-tuned" {
				restricted = append(restricted, d)
			}
		}
		ordered = restricted
		sort.SliceStable(ordered, func(i, j int) bool {
			return ordered[i].Priority < ordered[j].Priority
		})
	case domain.StrategyLatencyOptimized:
		sort.SliceStable(ordered, func(i, j int) bool {
			return ordered[i].ExpectedP95 < ordered[j].ExpectedP95
		})
	case domain.StrategyParallelProbe:
		parallel = true
		sort.SliceStable(ordered, func(i, j int) bool {
			return ordered[i].Priority < ordered[j].Priority
		})
	default:
		// confidence-cascade and unknown strategies: cheapest first.
		sort.SliceStable(ordered, func(i, j int) bool {
			return ordered[i].Priority < ordered[j].Priority
		})
	}

	if n := maxChainLen(tier, len(ordered)); len(ordered) > n {
		ordered = ordered[:n]
	}

	budgets := make([]time.Duration, len(ordered))
	for i, d := range ordered {
		step := d.ExpectedP95 * stepBudgetMultiplier
		if step < minStepBudget {
			step = minStepBudget
		}
		if step > totalBudget {
			step = totalBudget
		}
		budgets[i] = step
	}

	return domain.RoutingDecision{
		Backends:    ordered,
		Strategy:    strategy,
		Parallel:    parallel,
		StepBudgets: budgets,
		TotalBudget: totalBudget,
	}
}

// trustThreshold resolves the effective trust threshold of a backend, letting
// the live snapshot override the static descriptor.
func trustThreshold(overrides map[string]float64, desc domain.BackendDescriptor) float64 {
	if t, ok := overrides[desc.Name]; ok {
		return t
	}
	return desc.TrustThreshold
}
