package interval

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/SoYuCry/dex-funding-hub/internal/model"
)

const hourMs = int64(3_600_000)

func TestResolvePriority(t *testing.T) {
	ts := int64(1_700_000_000_000)

	tests := []struct {
		name string
		item model.RawFundingItem
		want float64
	}{
		{
			name: "interval hours wins",
			item: model.RawFundingItem{
				Exchange:          model.Aster,
				IntervalHours:     model.Float(4),
				FundingIntervalMs: model.Int(hourMs),
				Timestamp:         ts,
				NextFundingTime:   model.Int(ts + 8*hourMs),
			},
			want: 4,
		},
		{
			name: "interval hours is not snapped",
			item: model.RawFundingItem{Exchange: model.Aster, IntervalHours: model.Float(7.9)},
			want: 7.9,
		},
		{
			name: "funding interval ms",
			item: model.RawFundingItem{Exchange: model.Backpack, FundingIntervalMs: model.Int(8 * hourMs)},
			want: 8,
		},
		{
			name: "next funding minus timestamp",
			item: model.RawFundingItem{Exchange: model.Binance, Timestamp: ts, NextFundingTime: model.Int(ts + 4*hourMs)},
			want: 4,
		},
		{
			name: "non positive diff falls through",
			item: model.RawFundingItem{Exchange: model.EdgeX, Timestamp: ts, NextFundingTime: model.Int(ts)},
			want: 4,
		},
		{
			name: "zero funding interval ignored",
			item: model.RawFundingItem{Exchange: model.Lighter, FundingIntervalMs: model.Int(0)},
			want: 1,
		},
		{name: "hyperliquid fixed", item: model.RawFundingItem{Exchange: model.Hyperliquid}, want: 1},
		{name: "backpack fixed", item: model.RawFundingItem{Exchange: model.Backpack}, want: 1},
		{name: "aster default", item: model.RawFundingItem{Exchange: model.Aster}, want: 8},
		{name: "binance default", item: model.RawFundingItem{Exchange: model.Binance}, want: 8},
		{name: "unknown venue", item: model.RawFundingItem{Exchange: model.ExchangeID(99)}, want: 8},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Resolve(tt.item))
		})
	}
}

func TestResolveSnap(t *testing.T) {
	ts := int64(1_700_000_000_000)
	item := func(hours float64) model.RawFundingItem {
		return model.RawFundingItem{
			Exchange:        model.Binance,
			Timestamp:       ts,
			NextFundingTime: model.Int(ts + int64(hours*float64(hourMs))),
		}
	}

	assert.Equal(t, 8.0, Resolve(item(7.97)))
	assert.InDelta(t, 7.5, Resolve(item(7.5)), 1e-9)
	assert.Equal(t, 1.0, Resolve(item(1.2)))
}

func TestResolveKeepsSubHourIntervals(t *testing.T) {
	ts := int64(1_700_000_000_000)

	byNext := model.RawFundingItem{Exchange: model.Binance, Timestamp: ts, NextFundingTime: model.Int(ts + hourMs/10)}
	assert.InDelta(t, 0.1, Resolve(byNext), 1e-9, "six minutes to settlement is not rounded to zero")

	byMs := model.RawFundingItem{Exchange: model.Aster, FundingIntervalMs: model.Int(hourMs / 10)}
	assert.InDelta(t, 0.1, Resolve(byMs), 1e-9)

	assert.Positive(t, Resolve(byNext))
}

func TestResolveDeterministic(t *testing.T) {
	item := model.RawFundingItem{Exchange: model.Aster, FundingIntervalMs: model.Int(14_350_000)}
	first := Resolve(item)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, Resolve(item))
	}
}

func TestSnap(t *testing.T) {
	assert.Equal(t, 8.0, Snap(7.97))
	assert.Equal(t, 8.0, Snap(8.2))
	assert.Equal(t, 7.5, Snap(7.5))
	assert.Equal(t, 0.1, Snap(0.1), "never snaps to zero")
	assert.Equal(t, 0.5, Snap(0.5))
}

func TestSnapSettlement(t *testing.T) {
	assert.Equal(t, 8.0, SnapSettlement(7.9995))
	assert.Equal(t, 4.0, SnapSettlement(4.0004))
	assert.Equal(t, 7.97, SnapSettlement(7.97))
	assert.Equal(t, 2.0, SnapSettlement(2.0))
}

func TestDefault(t *testing.T) {
	assert.Equal(t, 4.0, Default(model.EdgeX))
	assert.Equal(t, 8.0, Default(model.Aster))
	assert.Equal(t, 1.0, Default(model.Lighter))
}
