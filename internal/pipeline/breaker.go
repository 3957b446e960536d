package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/sony/gobreaker"

	"github.com/SoYuCry/dex-funding-hub/config"
	"github.com/SoYuCry/dex-funding-hub/internal/metrics"
	"github.com/SoYuCry/dex-funding-hub/internal/model"
	"github.com/SoYuCry/dex-funding-hub/internal/reader"
	"github.com/SoYuCry/dex-funding-hub/logger"
)

// Guarded wraps an adapter's batch fetch in a circuit breaker. After
// FailureThreshold consecutive failed batches the venue is skipped until
// Cooldown elapses; a single probe then decides whether it closes again.
// Single-symbol lookups bypass the breaker.
type Guarded struct {
	reader.Adapter
	cb *gobreaker.CircuitBreaker
}

// Guard returns a wrapped adapter, or a unchanged when the breaker is
// disabled.
func Guard(a reader.Adapter, cfg config.BreakerConfig) reader.Adapter {
	if !cfg.Enabled {
		return a
	}

	threshold := cfg.FailureThreshold
	name := a.Exchange().String()
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     cfg.Cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.GetLogger().WithComponent("breaker").WithFields(logger.Fields{
				"exchange": name,
				"from":     from.String(),
				"to":       to.String(),
			}).Warn("circuit breaker state changed")
			metrics.SetBreakerState(logger.GetLogger(), name, int(to))
		},
	}
	metrics.SetBreakerState(logger.GetLogger(), name, int(gobreaker.StateClosed))

	return &Guarded{Adapter: a, cb: gobreaker.NewCircuitBreaker(settings)}
}

func (g *Guarded) FetchAll(ctx context.Context) ([]model.RawFundingItem, error) {
	out, err := g.cb.Execute(func() (interface{}, error) {
		return g.Adapter.FetchAll(ctx)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%s skipped: %w", g.Exchange(), err)
		}
		return nil, err
	}
	items, _ := out.([]model.RawFundingItem)
	return items, nil
}

// BreakerState reports "closed", "half-open" or "open".
func (g *Guarded) BreakerState() string {
	return g.cb.State().String()
}
