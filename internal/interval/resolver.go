// Package interval settles the funding settlement interval of a raw item and
// keeps the per-venue interval caches the Binance-compatible adapters rely on.
package interval

import (
	"math"

	"github.com/SoYuCry/dex-funding-hub/internal/model"
)

const (
	msPerHour = 3_600_000

	// snapBand is how close a derived interval must be to a whole hour to be
	// rounded onto it.
	snapBand = 0.25

	// settlementBand is the tolerance for intervals measured between two
	// settlement timestamps, where only millisecond jitter is expected.
	settlementBand = 0.001

	// DefaultHours applies to venues without a fixed schedule.
	DefaultHours = 8.0
)

// fixedHours are venues with a single settlement frequency.
var fixedHours = map[model.ExchangeID]float64{
	model.Lighter:     1,
	model.Hyperliquid: 1,
	model.Backpack:    1,
	model.EdgeX:       4,
}

// Resolve returns the settlement interval of item in hours. The first rule
// that applies wins:
//
//  1. the adapter-supplied IntervalHours
//  2. FundingIntervalMs
//  3. NextFundingTime minus Timestamp, when positive
//  4. the venue's fixed schedule
//  5. DefaultHours
//
// Values from rules 2 and 3 snap to a whole hour when within 0.25h of it.
func Resolve(item model.RawFundingItem) float64 {
	if item.IntervalHours != nil {
		return *item.IntervalHours
	}

	if item.FundingIntervalMs != nil && *item.FundingIntervalMs > 0 {
		return Snap(float64(*item.FundingIntervalMs) / msPerHour)
	}

	if item.NextFundingTime != nil && item.Timestamp > 0 {
		if diff := *item.NextFundingTime - item.Timestamp; diff > 0 {
			return Snap(float64(diff) / msPerHour)
		}
	}

	return Default(item.Exchange)
}

// Default is the interval used for exchange when nothing better is known.
func Default(exchange model.ExchangeID) float64 {
	if h, ok := fixedHours[exchange]; ok {
		return h
	}
	return DefaultHours
}

// Snap rounds hours onto the nearest positive whole hour when it lies within
// the snap band, absorbing clock skew between timestamp and settlement time.
func Snap(hours float64) float64 {
	return snapWithin(hours, snapBand)
}

// SnapSettlement rounds an interval measured from settlement history onto a
// whole hour when within 0.001h of it.
func SnapSettlement(hours float64) float64 {
	return snapWithin(hours, settlementBand)
}

func snapWithin(hours, band float64) float64 {
	rounded := math.Round(hours)
	if rounded >= 1 && math.Abs(hours-rounded) < band {
		return rounded
	}
	return hours
}
