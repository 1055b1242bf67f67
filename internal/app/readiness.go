package app

import (
	"context"
	"fmt"
)

// Pinger is the minimal interface for a dependency capable of Ping.
type Pinger interface {
	Ping(ctx context.Context) error
}

// BuildReadinessChecks returns the cache and broker readiness probes. A nil
// dependency yields a nil check, which the readiness handler skips so
// optional dependencies never fail readiness.
func BuildReadinessChecks(sharedCache, broker Pinger) (
	func(ctx context.Context) error,
	func(ctx context.Context) error,
) {
	var cacheCheck, brokerCheck func(ctx context.Context) error
	if sharedCache != nil {
		cacheCheck = func(ctx context.Context) error {
			if err := sharedCache.Ping(ctx); err != nil {
				return fmt.Errorf("shared cache: %w", err)
			}
			return nil
		}
	}
	if broker != nil {
		brokerCheck = func(ctx context.Context) error {
			if err := broker.Ping(ctx); err != nil {
				return fmt.Errorf("feedback broker: %w", err)
			}
			return nil
		}
	}
	return cacheCheck, brokerCheck
}
