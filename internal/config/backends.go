package config

import (
	"fmt"
	"os"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/fairyhunter13/intent-router/internal/domain"
)

// backendEntry mirrors domain.BackendDescriptor with string durations so the
// YAML file can say "900ms" instead of raw nanoseconds.
type backendEntry struct {
	Name           string  `yaml:"name"`
	Kind           string  `yaml:"kind"`
	URL            string  `yaml:"url"`
	ExpectedP95    string  `yaml:"expected_p95"`
	TrustThreshold float64 `yaml:"trust_threshold"`
	Priority       int     `yaml:"priority"`
	Enabled        bool    `yaml:"enabled"`
}

type backendsFile struct {
	Backends []backendEntry `yaml:"backends"`
}

// LoadBackends reads the backend registry from a YAML file and returns the
// enabled descriptors sorted by priority (cheapest first). At least one
// enabled backend is required.
func LoadBackends(path string) ([]domain.BackendDescriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("op=config.LoadBackends: %w", err)
	}
	var f backendsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("op=config.LoadBackends: parse %s: %w", path, err)
	}
	out := make([]domain.BackendDescriptor, 0, len(f.Backends))
	seen := make(map[string]struct{}, len(f.Backends))
	for _, b := range f.Backends {
		if b.Name == "" {
			return nil, fmt.Errorf("op=config.LoadBackends: %w: backend name required", domain.ErrConfigInvalid)
		}
		if _, dup := seen[b.Name]; dup {
			return nil, fmt.Errorf("op=config.LoadBackends: %w: duplicate backend %q", domain.ErrConfigInvalid, b.Name)
		}
		seen[b.Name] = struct{}{}
		if b.TrustThreshold < 0 || b.TrustThreshold > 1 {
			return nil, fmt.Errorf("op=config.LoadBackends: %w: backend %q trust threshold out of [0,1]", domain.ErrConfigInvalid, b.Name)
		}
		var p95 time.Duration
		if b.ExpectedP95 != "" {
			p95, err = time.ParseDuration(b.ExpectedP95)
			if err != nil {
				return nil, fmt.Errorf("op=config.LoadBackends: %w: backend %q expected_p95: %v", domain.ErrConfigInvalid, b.Name, err)
			}
		}
		if !b.Enabled {
			continue
		}
		out = append(out, domain.BackendDescriptor{
			Name:           b.Name,
			Kind:           b.Kind,
			URL:            b.URL,
			ExpectedP95:    p95,
			TrustThreshold: b.TrustThreshold,
			Priority:       b.Priority,
			Enabled:        true,
		})
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("op=config.LoadBackends: %w: no enabled backends", domain.ErrConfigInvalid)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Priority < out[j].Priority })
	return out, nil
}
