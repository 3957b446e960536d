package processor

import (
	"math"

	"github.com/SoYuCry/dex-funding-hub/internal/interval"
	"github.com/SoYuCry/dex-funding-hub/internal/model"
	"github.com/SoYuCry/dex-funding-hub/internal/symbols"
)

const (
	hoursPerDay = 24
	daysPerYear = 365
)

// CalculateAPY annualizes a per-settlement rate into a simple (uncompounded)
// percentage: rate * settlements per day * 365 * 100. It returns nil when
// rate is nil, intervalHours is not positive or the result is not finite.
func CalculateAPY(rate *float64, intervalHours float64) *float64 {
	if rate == nil || intervalHours <= 0 {
		return nil
	}
	apy := *rate * (hoursPerDay / intervalHours) * daysPerYear * 100
	if !finite(apy) {
		return nil
	}
	return &apy
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// Resolve normalizes the symbol of item, settles its interval and computes
// its APY. A non-finite rate is treated as missing.
func Resolve(item model.RawFundingItem) model.ResolvedRate {
	if item.Rate != nil && !finite(*item.Rate) {
		item.Rate = nil
	}
	hours := interval.Resolve(item)
	return model.ResolvedRate{
		Symbol:        symbols.Normalize(item.Symbol),
		Exchange:      item.Exchange,
		Rate:          item.Rate,
		IntervalHours: hours,
		APY:           CalculateAPY(item.Rate, hours),
	}
}
