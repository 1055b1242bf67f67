package usecase

import (
	"fmt"

	"github.com/fairyhunter13/intent-router/internal/runtimeconfig"
	"github.com/fairyhunter13/intent-router/internal/service/breaker"
)

// StatsReport is the aggregate operational view served by the stats endpoint.
type StatsReport struct {
	Backends        map[string]BackendStatsView `json:"backends"`
	Breakers        map[string]breaker.Snapshot `json:"breakers"`
	CacheHitRate    float64                     `json:"cache_hit_rate"`
	Assignments     map[string]int64            `json:"experiment_assignments"`
	FeedbackDropped int64                       `json:"feedback_dropped"`
}

// Report assembles the current routing statistics. feedbackDropped comes from
// the feedback collector, which lives outside this service.
func (s *ClassifyService) Report(feedbackDropped int64) StatsReport {
	return StatsReport{
		Backends:        s.stats.BackendViews(),
		Breakers:        s.breakers.Stats(),
		CacheHitRate:    s.stats.CacheHitRate(),
		Assignments:     s.stats.Assignments(),
		FeedbackDropped: feedbackDropped,
	}
}

// UpdateConfig validates and atomically publishes a partial configuration
// change. In-flight requests keep the snapshot they started with.
func (s *ClassifyService) UpdateConfig(upd runtimeconfig.Update) (*runtimeconfig.Snapshot, error) {
	snap, err := s.store.Apply(upd)
	if err != nil {
		return nil, fmt.Errorf("update config: %w", err)
	}
	return snap, nil
}
