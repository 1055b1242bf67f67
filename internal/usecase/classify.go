// Package usecase contains application services orchestrating domain logic
// via ports (interfaces) defined in the domain package.
package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/fairyhunter13/intent-router/internal/adapter/observability"
	"github.com/fairyhunter13/intent-router/internal/config"
	"github.com/fairyhunter13/intent-router/internal/domain"
	obslog "github.com/fairyhunter13/intent-router/internal/observability"
	"github.com/fairyhunter13/intent-router/internal/runtimeconfig"
	"github.com/fairyhunter13/intent-router/internal/service/breaker"
	"github.com/fairyhunter13/intent-router/internal/service/experiment"
	"github.com/fairyhunter13/intent-router/pkg/textx"
)

// Backend call outcomes used for stats and metrics labels.
const (
	outcomeSuccess   = "success"
	outcomeFailure   = "failure"
	outcomeTimeout   = "timeout"
	outcomeCancelled = "cancelled"
	outcomeSkipped   = "skipped"
)

// ClassifyService routes a classification request across the configured
// backends: cache first, then the strategy-ordered cascade (or parallel
// probe), escalating until a backend's confidence clears its trust threshold.
type ClassifyService struct {
	cfg         config.Config
	store       *runtimeconfig.Store
	descriptors []domain.BackendDescriptor
	backends    map[string]domain.Backend
	cache       domain.ResultCache
	breakers    *breaker.Manager
	assigner    *experiment.Assigner
	stats       *RouterStats
}

// NewClassifyService wires the routing pipeline. descriptors must already be
// validated and priority-sorted (see config.LoadBackends).
func NewClassifyService(
	cfg config.Config,
	store *runtimeconfig.Store,
	descriptors []domain.BackendDescriptor,
	backends map[string]domain.Backend,
	cache domain.ResultCache,
	breakers *breaker.Manager,
	assigner *experiment.Assigner,
	stats *RouterStats,
) *ClassifyService {
	return &ClassifyService{
		cfg:         cfg,
		store:       store,
		descriptors: descriptors,
		backends:    backends,
		cache:       cache,
		breakers:    breakers,
		assigner:    assigner,
		stats:       stats,
	}
}

// Classify resolves one request to a structurally valid result. It never
// returns a backend error to the caller: backend trouble degrades to the
// "unknown" fallback, and only invalid input or caller cancellation surface
// as errors.
func (s *ClassifyService) Classify(ctx domain.Context, req domain.ClassificationRequest) (domain.ClassificationResult, error) {
	lg := obslog.LoggerFromContext(ctx)

	text := textx.SanitizeText(req.Text)
	if strings.TrimSpace(text) == "" {
		return domain.ClassificationResult{}, fmt.Errorf("classify: text is required: %w", domain.ErrInvalidArgument)
	}
	text = textx.TruncateRunes(text, s.cfg.MaxTextRunes)

	tier := req.Tier
	if !tier.Valid() {
		if req.Tier != "" {
			return domain.ClassificationResult{}, fmt.Errorf("classify: unknown tier %q: %w", req.Tier, domain.ErrInvalidArgument)
		}
		tier = domain.TierStandard
	}

	if res, ok := s.cache.Get(ctx, text); ok {
		s.stats.RecordCacheLookup(true)
		observability.RecordClassification(res.Backend, res.Confidence, res.CascadeDepth)
		return res, nil
	}
	s.stats.RecordCacheLookup(false)

	assignment := s.assigner.Assign(req.BucketKey)
	s.stats.RecordAssignment(assignment.Strategy)
	observability.RecordAssignment(assignment.Strategy)

	snap := s.store.Load()
	available := s.availableBackends()
	decision := buildDecision(assignment.Strategy, tier, available, s.cfg.TierBudget(string(tier)))

	var res domain.ClassificationResult
	if decision.Parallel {
		res = s.probe(ctx, lg, text, decision, snap)
	} else {
		res = s.cascade(ctx, lg, text, decision, snap)
	}

	if err := ctx.Err(); err != nil {
		// Caller went away mid-flight; the partial result is discarded and
		// nothing is cached.
		return domain.ClassificationResult{}, err
	}

	observability.RecordClassification(res.Backend, res.Confidence, res.CascadeDepth)
	if res.Backend != "" {
		stored := res
		stored.BudgetExceeded = false
		s.cache.Put(ctx, text, stored)
	}
	return res, nil
}

// availableBackends filters the registry down to enabled backends whose
// circuit breaker could admit traffic. This is a viability check only; the
// half-open probe slot is claimed in invoke, so a backend the decision ends
// up trimming keeps its recovery probe.
func (s *ClassifyService) availableBackends() []domain.BackendDescriptor {
	out := make([]domain.BackendDescriptor, 0, len(s.descriptors))
	for _, d := range s.descriptors {
		if !d.Enabled {
			continue
		}
		if _, ok := s.backends[d.Name]; !ok {
			continue
		}
		if !s.breakers.IsAvailable(d.Name) {
			continue
		}
		out = append(out, d)
	}
	return out
}

// cascade walks the decision's backends in order. A result is accepted the
// moment its confidence clears the backend's trust threshold; otherwise the
// best candidate so far is kept and the next backend is consulted. Two
// backends agreeing on a label combine by taking the higher confidence.
func (s *ClassifyService) cascade(ctx domain.Context, lg *slog.Logger, text string, decision domain.RoutingDecision, snap *runtimeconfig.Snapshot) domain.ClassificationResult {
	deadline := time.Now().Add(decision.TotalBudget)

	var best domain.ClassificationResult
	haveBest := false
	depth := 0
	budgetExceeded := false

	for i, desc := range decision.Backends {
		if ctx.Err() != nil {
			break
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			budgetExceeded = true
			break
		}
		step := decision.StepBudgets[i]
		if step > remaining {
			step = remaining
		}

		res, outcome := s.invoke(ctx, lg, desc, text, step)
		if outcome == outcomeSkipped {
			// Lost the admission race; the backend was never consulted.
			continue
		}
		depth++
		if outcome != outcomeSuccess {
			continue
		}
		res.CascadeDepth = depth

		if haveBest && res.Label == best.Label && best.Confidence > res.Confidence {
			res.Confidence = best.Confidence
		}
		if !haveBest || res.Confidence >= best.Confidence {
			best = res
		}
		haveBest = true

		if res.Confidence >= trustThreshold(snap.TrustThresholds, desc) {
			best = res
			break
		}
		lg.Debug("confidence below trust threshold, escalating",
			slog.String("backend", desc.Name),
			slog.Float64("confidence", res.Confidence))
	}

	if !haveBest {
		res := domain.UnknownResult(depth)
		res.BudgetExceeded = budgetExceeded
		return res
	}
	best.CascadeDepth = depth
	best.BudgetExceeded = budgetExceeded
	return best
}

// probe fans the request out to every backend in the decision at once and
// accepts the first completion that clears its trust threshold, cancelling
// the rest. When none clears, the best completion wins.
func (s *ClassifyService) probe(ctx domain.Context, lg *slog.Logger, text string, decision domain.RoutingDecision, snap *runtimeconfig.Snapshot) domain.ClassificationResult {
	if len(decision.Backends) == 0 {
		return domain.UnknownResult(0)
	}

	probeCtx, cancel := context.WithTimeout(ctx, decision.TotalBudget)
	defer cancel()

	type completion struct {
		res     domain.ClassificationResult
		outcome string
		desc    domain.BackendDescriptor
	}
	done := make(chan completion, len(decision.Backends))
	for i, desc := range decision.Backends {
		go func(desc domain.BackendDescriptor, step time.Duration) {
			res, outcome := s.invoke(probeCtx, lg, desc, text, step)
			done <- completion{res: res, outcome: outcome, desc: desc}
		}(desc, decision.StepBudgets[i])
	}

	depth := len(decision.Backends)
	var best domain.ClassificationResult
	haveBest := false

	for seen := 0; seen < len(decision.Backends); seen++ {
		c := <-done
		if c.outcome != outcomeSuccess {
			continue
		}
		res := c.res
		res.CascadeDepth = depth

		if haveBest && res.Label == best.Label && best.Confidence > res.Confidence {
			res.Confidence = best.Confidence
		}
		if res.Confidence >= trustThreshold(snap.TrustThresholds, c.desc) {
			cancel()
			return res
		}
		if !haveBest || res.Confidence >= best.Confidence {
			best = res
		}
		haveBest = true
	}

	if !haveBest {
		res := domain.UnknownResult(depth)
		res.BudgetExceeded = errors.Is(probeCtx.Err(), context.DeadlineExceeded)
		return res
	}
	return best
}

// invoke calls one backend under its step budget, recording the outcome in
// the breaker, stats, and metrics. Admission is claimed here, at call time,
// so only backends actually consulted consume a half-open probe. Caller
// cancellation is not held against the backend.
func (s *ClassifyService) invoke(ctx domain.Context, lg *slog.Logger, desc domain.BackendDescriptor, text string, budget time.Duration) (domain.ClassificationResult, string) {
	b, ok := s.backends[desc.Name]
	if !ok {
		return domain.ClassificationResult{}, outcomeFailure
	}
	if !s.breakers.Admit(desc.Name) {
		return domain.ClassificationResult{}, outcomeSkipped
	}

	callCtx, cancelStep := context.WithTimeout(ctx, budget)
	defer cancelStep()

	start := time.Now()
	res, err := b.Classify(callCtx, text)
	dur := time.Since(start)

	if err != nil {
		if ctx.Err() != nil {
			// The request itself was cancelled or timed out above this call;
			// the backend did nothing wrong.
			return domain.ClassificationResult{}, outcomeCancelled
		}
		outcome := outcomeFailure
		if errors.Is(err, domain.ErrBackendTimeout) || errors.Is(err, context.DeadlineExceeded) {
			outcome = outcomeTimeout
		}
		s.breakers.RecordFailure(desc.Name)
		s.stats.RecordCall(desc.Name, dur, outcome)
		observability.RecordBackendCall(desc.Name, outcome, dur)
		lg.Warn("backend call failed",
			slog.String("backend", desc.Name),
			slog.String("outcome", outcome),
			slog.Duration("elapsed", dur),
			slog.Any("error", err))
		return domain.ClassificationResult{}, outcome
	}

	res.Backend = desc.Name
	res.FromCache = false
	s.breakers.RecordSuccess(desc.Name)
	s.stats.RecordCall(desc.Name, dur, outcomeSuccess)
	observability.RecordBackendCall(desc.Name, outcomeSuccess, dur)
	return res, outcomeSuccess
}
