package usecase

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/intent-router/internal/config"
	"github.com/fairyhunter13/intent-router/internal/domain"
	"github.com/fairyhunter13/intent-router/internal/runtimeconfig"
	"github.com/fairyhunter13/intent-router/internal/service/breaker"
	"github.com/fairyhunter13/intent-router/internal/service/experiment"
	"github.com/fairyhunter13/intent-router/pkg/textx"
)

type fakeBackend struct {
	name  string
	res   domain.ClassificationResult
	delay time.Duration

	mu    sync.Mutex
	fail  error
	calls atomic.Int32
}

func (f *fakeBackend) Name() string { return f.name }

func (f *fakeBackend) Classify(ctx context.Context, _ string) (domain.ClassificationResult, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			if ctx.Err() == context.DeadlineExceeded {
				return domain.ClassificationResult{}, domain.ErrBackendTimeout
			}
			return domain.ClassificationResult{}, ctx.Err()
		}
	}
	f.mu.Lock()
	fail := f.fail
	f.mu.Unlock()
	if fail != nil {
		return domain.ClassificationResult{}, fail
	}
	return f.res, nil
}

func (f *fakeBackend) setFail(err error) {
	f.mu.Lock()
	f.fail = err
	f.mu.Unlock()
}

type fakeCache struct {
	mu      sync.Mutex
	entries map[string]domain.ClassificationResult
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: make(map[string]domain.ClassificationResult)}
}

func (c *fakeCache) Get(_ context.Context, text string) (domain.ClassificationResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	res, ok := c.entries[textx.HashKey(text)]
	if ok {
		res.FromCache = true
	}
	return res, ok
}

func (c *fakeCache) Put(_ context.Context, text string, res domain.ClassificationResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	res.FromCache = false
	c.entries[textx.HashKey(text)] = res
}

func (c *fakeCache) Invalidate(_ context.Context, text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, textx.HashKey(text))
}

func (c *fakeCache) has(text string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[textx.HashKey(text)]
	return ok
}

func testConfig() config.Config {
	return config.Config{
		MaxTextRunes:       4096,
		TierCriticalBudget: 150 * time.Millisecond,
		TierStandardBudget: 800 * time.Millisecond,
		TierRelaxedBudget:  3 * time.Second,
	}
}

func desc(name, kind string, p95 time.Duration, threshold float64, priority int) domain.BackendDescriptor {
	return domain.BackendDescriptor{
		Name:           name,
		Kind:           kind,
		ExpectedP95:    p95,
		TrustThreshold: threshold,
		Priority:       priority,
		Enabled:        true,
	}
}

type fixture struct {
	svc      *ClassifyService
	store    *runtimeconfig.Store
	cache    *fakeCache
	stats    *RouterStats
	breakers *breaker.Manager
}

func newFixture(t *testing.T, cfg config.Config, snap runtimeconfig.Snapshot, descs []domain.BackendDescriptor, backends ...*fakeBackend) *fixture {
	t.Helper()
	store, err := runtimeconfig.New(snap)
	require.NoError(t, err)

	mgr := breaker.NewManager(func() (int, time.Duration) {
		s := store.Load()
		return s.BreakerFailureThreshold, s.BreakerCooldown
	})
	byName := make(map[string]domain.Backend, len(backends))
	for _, b := range backends {
		byName[b.name] = b
	}
	cache := newFakeCache()
	stats := NewRouterStats()
	svc := NewClassifyService(cfg, store, descs, byName, cache, mgr, experiment.New(store, 1), stats)
	return &fixture{svc: svc, store: store, cache: cache, stats: stats, breakers: mgr}
}

func TestClassifyEscalatesUntilThresholdMet(t *testing.T) {
	rules := &fakeBackend{name: "rules", res: domain.ClassificationResult{Label: "explain_concept", Confidence: 0.4}}
	zeroShot := &fakeBackend{name: "zero-shot", res: domain.ClassificationResult{Label: "explain_concept", Confidence: 0.91}}
	f := newFixture(t, testConfig(), runtimeconfig.Default(),
		[]domain.BackendDescriptor{
			desc("rules", "rules", 5*time.Millisecond, 0.85, 0),
			desc("zero-shot", "zero-shot", 200*time.Millisecond, 0.70, 1),
		},
		rules, zeroShot)

	res, err := f.svc.Classify(context.Background(), domain.ClassificationRequest{
		Text: "explain recursion to a child",
		Tier: domain.TierStandard,
	})
	require.NoError(t, err)
	assert.Equal(t, "explain_concept", res.Label)
	assert.InDelta(t, 0.91, res.Confidence, 1e-9)
	assert.Equal(t, "zero-shot", res.Backend)
	assert.Equal(t, 2, res.CascadeDepth)
	assert.False(t, res.FromCache)
	assert.True(t, f.cache.has("explain recursion to a child"))
	assert.EqualValues(t, 1, rules.calls.Load())
	assert.EqualValues(t, 1, zeroShot.calls.Load())
}

func TestClassifyStopsAtFirstConfidentBackend(t *testing.T) {
	first := &fakeBackend{name: "rules", res: domain.ClassificationResult{Label: "greeting", Confidence: 0.92}}
	second := &fakeBackend{name: "fine-tuned", res: domain.ClassificationResult{Label: "greeting", Confidence: 0.99}}
	f := newFixture(t, testConfig(), runtimeconfig.Default(),
		[]domain.BackendDescriptor{
			desc("rules", "rules", 5*time.Millisecond, 0.85, 0),
			desc("fine-tuned", "fine-tuned", 300*time.Millisecond, 0.75, 1),
		},
		first, second)

	res, err := f.svc.Classify(context.Background(), domain.ClassificationRequest{Text: "hello there", Tier: domain.TierRelaxed})
	require.NoError(t, err)
	assert.Equal(t, "rules", res.Backend)
	assert.Equal(t, 1, res.CascadeDepth)
	assert.EqualValues(t, 0, second.calls.Load(), "confident first answer must not escalate")
}

func TestClassifyUnknownSplitStrategyUsesDefault(t *testing.T) {
	rules := &fakeBackend{name: "rules", res: domain.ClassificationResult{Label: "greeting", Confidence: 0.9}}
	ft := &fakeBackend{name: "fine-tuned", res: domain.ClassificationResult{Label: "greeting", Confidence: 0.95}}
	snap := runtimeconfig.Default()
	snap.DefaultStrategy = domain.StrategyAlwaysFineTuned
	snap.TrafficSplit = map[string]int{"mystery-strategy": 100}
	f := newFixture(t, testConfig(), snap,
		[]domain.BackendDescriptor{
			desc("rules", "rules", 5*time.Millisecond, 0.85, 0),
			desc("fine-tuned", "fine-tuned", 300*time.Millisecond, 0.75, 1),
		},
		rules, ft)

	// A split naming an unimplemented strategy routes through the designated
	// default, which here restricts the chain to fine-tuned backends.
	res, err := f.svc.Classify(context.Background(), domain.ClassificationRequest{Text: "hello there", Tier: domain.TierRelaxed})
	require.NoError(t, err)
	assert.Equal(t, "fine-tuned", res.Backend)
	assert.EqualValues(t, 0, rules.calls.Load())
	assert.EqualValues(t, 1, ft.calls.Load())
}

func TestClassifyCacheHitSkipsBackends(t *testing.T) {
	b := &fakeBackend{name: "rules", res: domain.ClassificationResult{Label: "greeting", Confidence: 0.9}}
	f := newFixture(t, testConfig(), runtimeconfig.Default(),
		[]domain.BackendDescriptor{desc("rules", "rules", 5*time.Millisecond, 0.85, 0)}, b)

	req := domain.ClassificationRequest{Text: "Hi!", Tier: domain.TierStandard}
	first, err := f.svc.Classify(context.Background(), req)
	require.NoError(t, err)
	second, err := f.svc.Classify(context.Background(), req)
	require.NoError(t, err)

	assert.EqualValues(t, 1, b.calls.Load())
	assert.False(t, first.FromCache)
	assert.True(t, second.FromCache)
	assert.Equal(t, first.Label, second.Label)
	assert.InDelta(t, first.Confidence, second.Confidence, 1e-9)
}

func TestClassifyInvalidInput(t *testing.T) {
	b := &fakeBackend{name: "rules", res: domain.ClassificationResult{Label: "x", Confidence: 1}}
	f := newFixture(t, testConfig(), runtimeconfig.Default(),
		[]domain.BackendDescriptor{desc("rules", "rules", 5*time.Millisecond, 0.85, 0)}, b)

	_, err := f.svc.Classify(context.Background(), domain.ClassificationRequest{Text: "   "})
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)

	_, err = f.svc.Classify(context.Background(), domain.ClassificationRequest{Text: "hi", Tier: "bogus"})
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
	assert.EqualValues(t, 0, b.calls.Load())
}

func TestClassifyAllBackendsFailingReturnsUnknown(t *testing.T) {
	a := &fakeBackend{name: "a"}
	a.setFail(domain.ErrBackendUnavailable)
	b := &fakeBackend{name: "b"}
	b.setFail(domain.ErrBackendUnavailable)
	f := newFixture(t, testConfig(), runtimeconfig.Default(),
		[]domain.BackendDescriptor{
			desc("a", "rules", 5*time.Millisecond, 0.85, 0),
			desc("b", "zero-shot", 50*time.Millisecond, 0.7, 1),
		},
		a, b)

	res, err := f.svc.Classify(context.Background(), domain.ClassificationRequest{Text: "anything", Tier: domain.TierRelaxed})
	require.NoError(t, err, "backend trouble must degrade, not error")
	assert.Equal(t, "unknown", res.Label)
	assert.Zero(t, res.Confidence)
	assert.Equal(t, 2, res.CascadeDepth)
	assert.False(t, f.cache.has("anything"), "unknown fallback must not be cached")
}

func TestClassifySameLabelCombinesByMax(t *testing.T) {
	a := &fakeBackend{name: "a", res: domain.ClassificationResult{Label: "billing", Confidence: 0.6}}
	b := &fakeBackend{name: "b", res: domain.ClassificationResult{Label: "billing", Confidence: 0.5}}
	f := newFixture(t, testConfig(), runtimeconfig.Default(),
		[]domain.BackendDescriptor{
			desc("a", "rules", 5*time.Millisecond, 0.9, 0),
			desc("b", "zero-shot", 50*time.Millisecond, 0.9, 1),
		},
		a, b)

	res, err := f.svc.Classify(context.Background(), domain.ClassificationRequest{Text: "invoice question", Tier: domain.TierRelaxed})
	require.NoError(t, err)
	assert.Equal(t, "billing", res.Label)
	assert.InDelta(t, 0.6, res.Confidence, 1e-9, "agreement takes the max, never an average")
	assert.Equal(t, 2, res.CascadeDepth)
}

func TestClassifyCriticalTierConsultsOneBackend(t *testing.T) {
	a := &fakeBackend{name: "a", res: domain.ClassificationResult{Label: "greeting", Confidence: 0.3}}
	b := &fakeBackend{name: "b", res: domain.ClassificationResult{Label: "greeting", Confidence: 0.99}}
	f := newFixture(t, testConfig(), runtimeconfig.Default(),
		[]domain.BackendDescriptor{
			desc("a", "rules", 5*time.Millisecond, 0.85, 0),
			desc("b", "fine-tuned", 300*time.Millisecond, 0.75, 1),
		},
		a, b)

	res, err := f.svc.Classify(context.Background(), domain.ClassificationRequest{Text: "yo", Tier: domain.TierCritical})
	require.NoError(t, err)
	assert.Equal(t, "a", res.Backend)
	assert.Equal(t, 1, res.CascadeDepth)
	assert.EqualValues(t, 0, b.calls.Load())
}

func TestClassifyBudgetExhaustionFlagsResult(t *testing.T) {
	cfg := testConfig()
	cfg.TierStandardBudget = 50 * time.Millisecond
	slow := &fakeBackend{name: "slow", delay: 500 * time.Millisecond, res: domain.ClassificationResult{Label: "x", Confidence: 1}}
	next := &fakeBackend{name: "next", res: domain.ClassificationResult{Label: "x", Confidence: 1}}
	f := newFixture(t, cfg, runtimeconfig.Default(),
		[]domain.BackendDescriptor{
			desc("slow", "zero-shot", 20*time.Millisecond, 0.7, 0),
			desc("next", "fine-tuned", 20*time.Millisecond, 0.7, 1),
		},
		slow, next)

	res, err := f.svc.Classify(context.Background(), domain.ClassificationRequest{Text: "slow path", Tier: domain.TierStandard})
	require.NoError(t, err)
	assert.Equal(t, "unknown", res.Label)
	assert.True(t, res.BudgetExceeded)
	assert.EqualValues(t, 1, slow.calls.Load())
	assert.EqualValues(t, 0, next.calls.Load(), "no budget left for the second step")
}

func TestClassifyCriticalTierReturnsWithinBudget(t *testing.T) {
	cfg := testConfig()
	cfg.TierCriticalBudget = 60 * time.Millisecond
	slow := &fakeBackend{name: "slow", delay: time.Second, res: domain.ClassificationResult{Label: "x", Confidence: 1}}
	f := newFixture(t, cfg, runtimeconfig.Default(),
		[]domain.BackendDescriptor{desc("slow", "rules", 50*time.Millisecond, 0.85, 0)}, slow)

	start := time.Now()
	res, err := f.svc.Classify(context.Background(), domain.ClassificationRequest{Text: "urgent", Tier: domain.TierCritical})
	require.NoError(t, err)
	assert.Equal(t, "unknown", res.Label)
	assert.Less(t, time.Since(start), 200*time.Millisecond, "critical tier must not wait out a slow backend")
}

func TestClassifyBreakerOpensAndRecovers(t *testing.T) {
	snap := runtimeconfig.Default()
	snap.BreakerCooldown = 20 * time.Millisecond
	b := &fakeBackend{name: "flaky", res: domain.ClassificationResult{Label: "greeting", Confidence: 0.95}}
	b.setFail(domain.ErrBackendUnavailable)
	f := newFixture(t, testConfig(), snap,
		[]domain.BackendDescriptor{desc("flaky", "zero-shot", 5*time.Millisecond, 0.7, 0)}, b)

	texts := []string{"one", "two", "three"}
	for _, txt := range texts {
		res, err := f.svc.Classify(context.Background(), domain.ClassificationRequest{Text: txt, Tier: domain.TierStandard})
		require.NoError(t, err)
		assert.Equal(t, "unknown", res.Label)
	}
	assert.EqualValues(t, 3, b.calls.Load())

	// Circuit is open: the backend must not be consulted at all.
	res, err := f.svc.Classify(context.Background(), domain.ClassificationRequest{Text: "four", Tier: domain.TierStandard})
	require.NoError(t, err)
	assert.Equal(t, "unknown", res.Label)
	assert.Equal(t, 0, res.CascadeDepth)
	assert.EqualValues(t, 3, b.calls.Load())

	// After the cooldown a single probe is admitted and recovery closes the circuit.
	b.setFail(nil)
	time.Sleep(30 * time.Millisecond)
	res, err = f.svc.Classify(context.Background(), domain.ClassificationRequest{Text: "five", Tier: domain.TierStandard})
	require.NoError(t, err)
	assert.Equal(t, "greeting", res.Label)
	assert.EqualValues(t, 4, b.calls.Load())
	assert.Equal(t, "closed", f.breakers.Stats()["flaky"].State)
}

func TestClassifyTrimmedBackendKeepsRecoveryProbe(t *testing.T) {
	snap := runtimeconfig.Default()
	snap.BreakerFailureThreshold = 1
	snap.BreakerCooldown = 10 * time.Millisecond
	rules := &fakeBackend{name: "rules", res: domain.ClassificationResult{Label: "greeting", Confidence: 0.4}}
	ft := &fakeBackend{name: "fine-tuned", res: domain.ClassificationResult{Label: "greeting", Confidence: 0.95}}
	f := newFixture(t, testConfig(), snap,
		[]domain.BackendDescriptor{
			desc("rules", "rules", 5*time.Millisecond, 0.85, 0),
			desc("fine-tuned", "fine-tuned", 300*time.Millisecond, 0.75, 1),
		},
		rules, ft)

	f.breakers.RecordFailure("fine-tuned")
	time.Sleep(20 * time.Millisecond)

	// A critical request shortlists the half-open backend but the tier cap
	// trims it before it is consulted. That must not spend its probe.
	res, err := f.svc.Classify(context.Background(), domain.ClassificationRequest{Text: "hello there", Tier: domain.TierCritical})
	require.NoError(t, err)
	assert.Equal(t, "rules", res.Backend)
	assert.EqualValues(t, 0, ft.calls.Load())
	assert.True(t, f.breakers.IsAvailable("fine-tuned"), "unconsulted backend keeps its recovery probe")

	// The probe is still usable: the next escalating request reaches the
	// backend immediately and recovery closes the circuit.
	res, err = f.svc.Classify(context.Background(), domain.ClassificationRequest{Text: "good morning", Tier: domain.TierRelaxed})
	require.NoError(t, err)
	assert.Equal(t, "fine-tuned", res.Backend)
	assert.EqualValues(t, 1, ft.calls.Load())
	assert.Equal(t, "closed", f.breakers.Stats()["fine-tuned"].State)
}

func TestClassifyParallelProbeFirstConfidentWins(t *testing.T) {
	snap := runtimeconfig.Default()
	snap.TrafficSplit = map[string]int{domain.StrategyParallelProbe: 100}
	fast := &fakeBackend{name: "fast", res: domain.ClassificationResult{Label: "greeting", Confidence: 0.95}}
	slow := &fakeBackend{name: "slow", delay: 300 * time.Millisecond, res: domain.ClassificationResult{Label: "greeting", Confidence: 0.99}}
	f := newFixture(t, testConfig(), snap,
		[]domain.BackendDescriptor{
			desc("fast", "rules", 5*time.Millisecond, 0.9, 0),
			desc("slow", "fine-tuned", 200*time.Millisecond, 0.9, 1),
		},
		fast, slow)

	start := time.Now()
	res, err := f.svc.Classify(context.Background(), domain.ClassificationRequest{Text: "hello", Tier: domain.TierRelaxed})
	require.NoError(t, err)
	assert.Equal(t, "fast", res.Backend)
	assert.Equal(t, 2, res.CascadeDepth)
	assert.Less(t, time.Since(start), 200*time.Millisecond, "winner must not wait for the slow probe")
}

func TestClassifyCallerCancellationDiscardsResult(t *testing.T) {
	b := &fakeBackend{name: "slow", delay: 200 * time.Millisecond, res: domain.ClassificationResult{Label: "x", Confidence: 1}}
	f := newFixture(t, testConfig(), runtimeconfig.Default(),
		[]domain.BackendDescriptor{desc("slow", "zero-shot", 100*time.Millisecond, 0.7, 0)}, b)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := f.svc.Classify(ctx, domain.ClassificationRequest{Text: "bye", Tier: domain.TierStandard})
	require.Error(t, err)
	assert.False(t, f.cache.has("bye"))
	// Abandonment is not a backend failure.
	assert.True(t, f.breakers.IsAvailable("slow"))
}

func TestUpdateConfigRejectsInvalidSplit(t *testing.T) {
	b := &fakeBackend{name: "rules", res: domain.ClassificationResult{Label: "x", Confidence: 1}}
	f := newFixture(t, testConfig(), runtimeconfig.Default(),
		[]domain.BackendDescriptor{desc("rules", "rules", 5*time.Millisecond, 0.85, 0)}, b)

	_, err := f.svc.UpdateConfig(runtimeconfig.Update{TrafficSplit: map[string]int{"a": 30, "b": 30}})
	assert.ErrorIs(t, err, domain.ErrConfigInvalid)

	prev := f.store.Load()
	assert.Equal(t, 100, prev.TrafficSplit[domain.StrategyConfidenceCascade], "rejected update keeps prior snapshot")
}

func TestReportAggregatesCounters(t *testing.T) {
	b := &fakeBackend{name: "rules", res: domain.ClassificationResult{Label: "greeting", Confidence: 0.9}}
	f := newFixture(t, testConfig(), runtimeconfig.Default(),
		[]domain.BackendDescriptor{desc("rules", "rules", 5*time.Millisecond, 0.85, 0)}, b)

	req := domain.ClassificationRequest{Text: "hi", Tier: domain.TierStandard}
	_, err := f.svc.Classify(context.Background(), req)
	require.NoError(t, err)
	_, err = f.svc.Classify(context.Background(), req)
	require.NoError(t, err)

	rep := f.svc.Report(7)
	require.Contains(t, rep.Backends, "rules")
	assert.EqualValues(t, 1, rep.Backends["rules"].Calls)
	assert.EqualValues(t, 1, rep.Backends["rules"].Successes)
	assert.InDelta(t, 0.5, rep.CacheHitRate, 1e-9)
	assert.EqualValues(t, 7, rep.FeedbackDropped)
	assert.Contains(t, rep.Breakers, "rules")
}
