package domain

import (
	"context"
	"errors"
	"time"
)

// Error taxonomy (sentinels)
var (
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrBackendTimeout     = errors.New("backend timeout")
	ErrBackendUnavailable = errors.New("backend unavailable")
	ErrCacheUnavailable   = errors.New("cache unavailable")
	ErrConfigInvalid      = errors.New("config invalid")
	ErrInternal           = errors.New("internal error")
)

// LatencyTier bounds the total wall-clock time a single classification may
// spend routing across backends.
type LatencyTier string

// Supported latency tiers, cheapest budget first.
const (
	TierCritical LatencyTier = "critical"
	TierStandard LatencyTier = "standard"
	TierRelaxed  LatencyTier = "relaxed"
)

// Valid reports whether t is a recognized tier.
func (t LatencyTier) Valid() bool {
	switch t {
	case TierCritical, TierStandard, TierRelaxed:
		return true
	}
	return false
}

// Routing strategy names consumed by the decision engine. Strategy names the
// engine does not recognize resolve to the configured default strategy at
// assignment time.
const (
	StrategyConfidenceCascade = "confidence-cascade"
	StrategyRulesFirst        = "rules-first"
	StrategyAlwaysFineTuned   = "always-fine-tuned"
	StrategyLatencyOptimized  = "latency-optimized"
	StrategyParallelProbe     = "parallel-probe"
)

// KnownStrategy reports whether name is a strategy the decision engine
// implements.
func KnownStrategy(name string) bool {
	switch name {
	case StrategyConfidenceCascade, StrategyRulesFirst,
		StrategyAlwaysFineTuned, StrategyLatencyOptimized,
		StrategyParallelProbe:
		return true
	}
	return false
}

// ClassificationRequest is the immutable input to a single routing pass. Text
// is normalized and bounded before any backend sees it.
type ClassificationRequest struct {
	Text        string
	Context     map[string]string
	Tier        LatencyTier
	BucketKey   string // session/user id used only for experiment bucketing
	RequestedAt time.Time
}

// Attributes carries the auxiliary classification dimensions alongside the
// intent label.
type Attributes struct {
	Audience   string `json:"audience,omitempty"`
	Complexity string `json:"complexity,omitempty"`
}

// ClassificationResult is the structurally valid response every classify call
// produces, including the degraded "unknown" fallback.
// Invariants: Confidence in [0,1]; Label never empty on success.
type ClassificationResult struct {
	Label          string     `json:"label"`
	Confidence     float64    `json:"confidence"`
	Attributes     Attributes `json:"attributes"`
	Backend        string     `json:"backend"`
	FromCache      bool       `json:"from_cache"`
	Approximate    bool       `json:"approximate,omitempty"`
	BudgetExceeded bool       `json:"budget_exceeded,omitempty"`
	CascadeDepth   int        `json:"cascade_depth"`
}

// UnknownResult is the deterministic low-confidence fallback returned when
// every backend in a decision is exhausted or unavailable.
func UnknownResult(depth int) ClassificationResult {
	return ClassificationResult{Label: "unknown", Confidence: 0, CascadeDepth: depth}
}

// BackendDescriptor is static per-backend metadata owned by configuration and
// read-only at runtime.
type BackendDescriptor struct {
	Name           string
	Kind           string // rules | zero-shot | fine-tuned
	URL            string
	ExpectedP95    time.Duration
	TrustThreshold float64
	Priority       int // lower tries first
	Enabled        bool
}

// RoutingDecision is produced once per request and never persisted.
type RoutingDecision struct {
	Backends    []BackendDescriptor
	Strategy    string
	Parallel    bool
	StepBudgets []time.Duration
	TotalBudget time.Duration
}

// FeedbackRecord is an append-only correction consumed asynchronously by the
// retraining pipeline; the request path never reads it back.
type FeedbackRecord struct {
	ID             string               `json:"id"`
	RequestHash    string               `json:"request_hash"`
	Text           string               `json:"text"`
	OriginalResult ClassificationResult `json:"original_result"`
	CorrectedLabel string               `json:"corrected_label"`
	CreatedAt      time.Time            `json:"created_at"`
}

// Backend (port)
//
// Backend is the uniform contract every classification engine exposes. The
// router depends only on this abstraction; implementations must honor the
// context deadline or be treated as failed.
type Backend interface {
	Name() string
	Classify(ctx Context, text string) (ClassificationResult, error)
}

// ResultCache (port)
//
// Get reports a hit with the cached result; cache backend trouble must never
// fail a request, so implementations return misses on error. Put replaces any
// prior entry for the same text.
type ResultCache interface {
	Get(ctx Context, text string) (ClassificationResult, bool)
	Put(ctx Context, text string, res ClassificationResult)
	Invalidate(ctx Context, text string)
}

// FeedbackSink (port)
//
// Append stores a correction durably for offline retraining.
type FeedbackSink interface {
	Append(ctx Context, rec FeedbackRecord) error
}

// Context is an alias to allow decoupling from std context in domain
// Adapters and usecases should pass context.Context through
type Context = context.Context
