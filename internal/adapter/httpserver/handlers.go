package httpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/fairyhunter13/intent-router/internal/config"
	"github.com/fairyhunter13/intent-router/internal/domain"
	"github.com/fairyhunter13/intent-router/internal/runtimeconfig"
	"github.com/fairyhunter13/intent-router/internal/usecase"
)

// Server aggregates handler dependencies.
type Server struct {
	Cfg        config.Config
	Classifier *usecase.ClassifyService
	Feedback   *usecase.FeedbackCollector

	// Readiness probes; nil when the dependency is not configured.
	CacheCheck  func(ctx context.Context) error
	BrokerCheck func(ctx context.Context) error
}

// NewServer constructs an HTTP server with all handlers and checks wired.
func NewServer(cfg config.Config, classifier *usecase.ClassifyService, feedback *usecase.FeedbackCollector, cacheCheck, brokerCheck func(context.Context) error) *Server {
	return &Server{Cfg: cfg, Classifier: classifier, Feedback: feedback, CacheCheck: cacheCheck, BrokerCheck: brokerCheck}
}

var (
	vldOnce sync.Once
	vld     *validator.Validate
)

func getValidator() *validator.Validate {
	vldOnce.Do(func() { vld = validator.New() })
	return vld
}

func acceptsJSON(w http.ResponseWriter, r *http.Request) bool {
	a := r.Header.Get("Accept")
	if a == "" || a == "*/*" || strings.Contains(a, "application/json") {
		return true
	}
	writeJSON(w, http.StatusNotAcceptable, errorEnvelope{Error: apiError{
		Code: "INVALID_ARGUMENT", Message: "not acceptable", Details: map[string]any{"accept": a},
	}})
	return false
}

func decodeValidated(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1MB
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, r, fmt.Errorf("%w: invalid json", domain.ErrInvalidArgument), nil)
		return false
	}
	if err := getValidator().Struct(dst); err != nil {
		verrs := map[string]string{}
		if ve, ok := err.(validator.ValidationErrors); ok {
			for _, fe := range ve {
				verrs[strings.ToLower(fe.Field())] = fe.Tag()
			}
		}
		writeError(w, r, fmt.Errorf("%w: validation failed", domain.ErrInvalidArgument), verrs)
		return false
	}
	return true
}

// ClassifyHandler resolves one text to an intent label.
func (s *Server) ClassifyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !acceptsJSON(w, r) {
			return
		}
		var req struct {
			Text      string            `json:"text" validate:"required"`
			Tier      string            `json:"tier" validate:"omitempty,oneof=critical standard relaxed"`
			Context   map[string]string `json:"context"`
			BucketKey string            `json:"bucket_key"`
		}
		if !decodeValidated(w, r, &req) {
			return
		}
		res, err := s.Classifier.Classify(r.Context(), domain.ClassificationRequest{
			Text:        req.Text,
			Context:     req.Context,
			Tier:        domain.LatencyTier(req.Tier),
			BucketKey:   req.BucketKey,
			RequestedAt: time.Now().UTC(),
		})
		if err != nil {
			writeError(w, r, fmt.Errorf("classify: %w", err), nil)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

// FeedbackHandler accepts a label correction. The response never waits on
// cache invalidation or the durable sink; a full queue reports accepted=false.
func (s *Server) FeedbackHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !acceptsJSON(w, r) {
			return
		}
		var req struct {
			Text           string                      `json:"text" validate:"required"`
			CorrectedLabel string                      `json:"corrected_label" validate:"required"`
			Original       domain.ClassificationResult `json:"original"`
		}
		if !decodeValidated(w, r, &req) {
			return
		}
		accepted := s.Feedback.Submit(req.Text, req.CorrectedLabel, req.Original)
		writeJSON(w, http.StatusAccepted, map[string]any{"accepted": accepted})
	}
}

// StatsHandler reports routing statistics: per-backend counters, breaker
// states, cache hit rate, and experiment assignments.
func (s *Server) StatsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, s.Classifier.Report(s.Feedback.Dropped()))
	}
}

// ConfigHandler applies a partial runtime configuration update. Invalid
// updates are rejected atomically and leave the active snapshot untouched.
func (s *Server) ConfigHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !acceptsJSON(w, r) {
			return
		}
		var upd runtimeconfig.Update
		r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
		if err := json.NewDecoder(r.Body).Decode(&upd); err != nil {
			writeError(w, r, fmt.Errorf("%w: invalid json", domain.ErrInvalidArgument), nil)
			return
		}
		snap, err := s.Classifier.UpdateConfig(upd)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"default_strategy":          snap.DefaultStrategy,
			"traffic_split":             snap.TrafficSplit,
			"trust_thresholds":          snap.TrustThresholds,
			"similarity_threshold":      snap.SimilarityThreshold,
			"similarity_penalty":        snap.SimilarityPenalty,
			"breaker_failure_threshold": snap.BreakerFailureThreshold,
			"breaker_cooldown_ms":       snap.BreakerCooldown.Milliseconds(),
			"experiments_enabled":       snap.ExperimentsEnabled,
			"similarity_cache_enabled":  snap.SimilarityCacheEnabled,
		})
	}
}

// ReadyzHandler probes the configured shared cache and feedback broker.
func (s *Server) ReadyzHandler() http.HandlerFunc {
	type check struct {
		Name    string `json:"name"`
		OK      bool   `json:"ok"`
		Details string `json:"details,omitempty"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		checks := make([]check, 0, 2)
		if s.CacheCheck != nil {
			if err := s.CacheCheck(ctx); err != nil {
				checks = append(checks, check{Name: "cache", OK: false, Details: err.Error()})
			} else {
				checks = append(checks, check{Name: "cache", OK: true})
			}
		}
		if s.BrokerCheck != nil {
			if err := s.BrokerCheck(ctx); err != nil {
				checks = append(checks, check{Name: "broker", OK: false, Details: err.Error()})
			} else {
				checks = append(checks, check{Name: "broker", OK: true})
			}
		}
		ok := true
		for _, c := range checks {
			if !c.OK {
				ok = false
				break
			}
		}
		st := http.StatusOK
		if !ok {
			st = http.StatusServiceUnavailable
		}
		writeJSON(w, st, map[string]any{"checks": checks})
	}
}
