package usecase

import (
	"sync"
	"time"
)

// BackendStats aggregates call outcomes for one backend. Guarded by its own
// mutex so recording for one backend never blocks another.
type BackendStats struct {
	mu sync.Mutex

	Calls     int64
	Successes int64
	Failures  int64
	Timeouts  int64

	totalLatency time.Duration
	maxLatency   time.Duration
}

func (bs *BackendStats) record(dur time.Duration, outcome string) {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	bs.Calls++
	switch outcome {
	case outcomeSuccess:
		bs.Successes++
	case outcomeTimeout:
		bs.Timeouts++
	default:
		bs.Failures++
	}
	bs.totalLatency += dur
	if dur > bs.maxLatency {
		bs.maxLatency = dur
	}
}

// BackendStatsView is the JSON-friendly snapshot of one backend's counters.
type BackendStatsView struct {
	Calls      int64         `json:"calls"`
	Successes  int64         `json:"successes"`
	Failures   int64         `json:"failures"`
	Timeouts   int64         `json:"timeouts"`
	AvgLatency time.Duration `json:"avg_latency_ns"`
	MaxLatency time.Duration `json:"max_latency_ns"`
}

func (bs *BackendStats) view() BackendStatsView {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	v := BackendStatsView{
		Calls:      bs.Calls,
		Successes:  bs.Successes,
		Failures:   bs.Failures,
		Timeouts:   bs.Timeouts,
		MaxLatency: bs.maxLatency,
	}
	if bs.Calls > 0 {
		v.AvgLatency = bs.totalLatency / time.Duration(bs.Calls)
	}
	return v
}

// RouterStats collects the in-process counters behind the routingStats
// operation. Prometheus gets the same signals via the observability package;
// this view exists so the API can answer without scraping.
type RouterStats struct {
	mu       sync.RWMutex
	backends map[string]*BackendStats

	cacheMu     sync.Mutex
	cacheHits   int64
	cacheMisses int64

	assignMu    sync.Mutex
	assignments map[string]int64
}

// NewRouterStats creates an empty stats registry.
func NewRouterStats() *RouterStats {
	return &RouterStats{
		backends:    make(map[string]*BackendStats),
		assignments: make(map[string]int64),
	}
}

func (rs *RouterStats) backend(name string) *BackendStats {
	rs.mu.RLock()
	bs, ok := rs.backends[name]
	rs.mu.RUnlock()
	if ok {
		return bs
	}
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if bs, ok = rs.backends[name]; ok {
		return bs
	}
	bs = &BackendStats{}
	rs.backends[name] = bs
	return bs
}

// RecordCall records one backend invocation outcome.
func (rs *RouterStats) RecordCall(backend string, dur time.Duration, outcome string) {
	rs.backend(backend).record(dur, outcome)
}

// RecordCacheLookup tallies the router-level hit/miss outcome of a request.
func (rs *RouterStats) RecordCacheLookup(hit bool) {
	rs.cacheMu.Lock()
	defer rs.cacheMu.Unlock()
	if hit {
		rs.cacheHits++
	} else {
		rs.cacheMisses++
	}
}

// RecordAssignment tallies a strategy assignment.
func (rs *RouterStats) RecordAssignment(strategy string) {
	rs.assignMu.Lock()
	defer rs.assignMu.Unlock()
	rs.assignments[strategy]++
}

// CacheHitRate returns the fraction of classify calls served from cache.
func (rs *RouterStats) CacheHitRate() float64 {
	rs.cacheMu.Lock()
	defer rs.cacheMu.Unlock()
	total := rs.cacheHits + rs.cacheMisses
	if total == 0 {
		return 0
	}
	return float64(rs.cacheHits) / float64(total)
}

// BackendViews snapshots every backend's counters.
func (rs *RouterStats) BackendViews() map[string]BackendStatsView {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	out := make(map[string]BackendStatsView, len(rs.backends))
	for name, bs := range rs.backends {
		out[name] = bs.view()
	}
	return out
}

// Assignments snapshots per-strategy assignment counts.
func (rs *RouterStats) Assignments() map[string]int64 {
	rs.assignMu.Lock()
	defer rs.assignMu.Unlock()
	out := make(map[string]int64, len(rs.assignments))
	for k, v := range rs.assignments {
		out[k] = v
	}
	return out
}
