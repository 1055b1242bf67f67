package backend

import (
	"log/slog"
	"time"

	"github.com/fairyhunter13/intent-router/internal/domain"
)

// Build wires one client per enabled descriptor: remote HTTP when a URL is
// configured, the deterministic stub otherwise.
func Build(descs []domain.BackendDescriptor, retryMax int, retryInterval time.Duration) map[string]domain.Backend {
	out := make(map[string]domain.Backend, len(descs))
	for _, d := range descs {
		if d.URL != "" {
			out[d.Name] = NewHTTP(d, retryMax, retryInterval)
			slog.Info("backend registered",
				slog.String("backend", d.Name),
				slog.String("kind", d.Kind),
				slog.String("url", d.URL))
			continue
		}
		out[d.Name] = NewStub(d)
		slog.Info("stub backend registered",
			slog.String("backend", d.Name),
			slog.String("kind", d.Kind))
	}
	return out
}
