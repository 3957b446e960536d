package processor

import (
	"encoding/json"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SoYuCry/dex-funding-hub/internal/model"
)

func item(ex model.ExchangeID, symbol string, rate float64, hours float64) model.RawFundingItem {
	return model.RawFundingItem{
		Exchange:      ex,
		Symbol:        symbol,
		Rate:          model.Float(rate),
		Timestamp:     1_700_000_000_000,
		IntervalHours: model.Float(hours),
	}
}

func ok(ex model.ExchangeID, items ...model.RawFundingItem) model.FetchResult {
	return model.FetchResult{Exchange: ex, Items: items}
}

func rowFor(t *testing.T, table Table, symbol string) model.AggregatedRow {
	t.Helper()
	for _, r := range table.Rows {
		if r.Symbol == symbol {
			return r
		}
	}
	require.Failf(t, "row missing", "no row for %s", symbol)
	return model.AggregatedRow{}
}

func TestCalculateAPY(t *testing.T) {
	assert.InDelta(t, 10.95, *CalculateAPY(model.Float(0.0001), 8), 1e-9)
	assert.InDelta(t, 87.6, *CalculateAPY(model.Float(0.0001), 1), 1e-9)
	assert.InDelta(t, -21.9, *CalculateAPY(model.Float(-0.0002), 8), 1e-9)
	assert.Nil(t, CalculateAPY(nil, 8))
	assert.Nil(t, CalculateAPY(model.Float(0.0002), 0))
	assert.Nil(t, CalculateAPY(model.Float(0.0002), -1))
	assert.Nil(t, CalculateAPY(model.Float(math.NaN()), 8))
	assert.Nil(t, CalculateAPY(model.Float(math.Inf(1)), 8))
	assert.Nil(t, CalculateAPY(model.Float(math.MaxFloat64), 0.25))
}

func TestAggregateEndToEnd(t *testing.T) {
	table := Aggregate([]model.FetchResult{
		ok(model.Aster, item(model.Aster, "BTC-PERP", 0.0003, 8)),
		ok(model.Binance, item(model.Binance, "BTCUSDT", 0.0001, 8)),
	}, nil)

	require.Len(t, table.Rows, 1)
	row := table.Rows[0]
	assert.Equal(t, "BTCUSDT", row.Symbol)
	assert.InDelta(t, 32.85, *row.Rates[model.Aster].APY, 1e-9)
	assert.InDelta(t, 10.95, *row.Rates[model.Binance].APY, 1e-9)
	assert.InDelta(t, 21.9, row.Spread, 1e-9)

	assert.Equal(t, model.Aster, row.TopExchange)
	assert.Equal(t, model.Binance, row.SecondExchange)
	assert.InDelta(t, 21.9, row.TopSpread, 1e-9)
}

func TestSingleVenueSymbolsAreSkipped(t *testing.T) {
	table := Aggregate([]model.FetchResult{
		ok(model.Aster, item(model.Aster, "BTCUSDT", 0.0001, 8), item(model.Aster, "ONLYASTERUSDT", 0.0001, 8)),
		ok(model.Binance, item(model.Binance, "BTCUSDT", 0.0002, 8)),
	}, nil)

	require.Len(t, table.Rows, 1)
	assert.Equal(t, []string{"ONLYASTERUSDT"}, table.Skipped)
}

func TestNilRatesDoNotCountTowardsCoverage(t *testing.T) {
	missing := item(model.Lighter, "ETHUSDT", 0, 1)
	missing.Rate = nil

	table := Aggregate([]model.FetchResult{
		ok(model.Aster, item(model.Aster, "ETHUSDT", 0.0001, 8)),
		ok(model.Lighter, missing),
	}, nil)
	assert.Empty(t, table.Rows)
	assert.Equal(t, []string{"ETHUSDT"}, table.Skipped)

	table = Aggregate([]model.FetchResult{
		ok(model.Aster, item(model.Aster, "ETHUSDT", 0.0001, 8)),
		ok(model.Binance, item(model.Binance, "ETHUSDT", 0.0002, 8)),
		ok(model.Lighter, missing),
	}, nil)
	row := rowFor(t, table, "ETHUSDT")
	assert.Len(t, row.Rates, 3)
	assert.Nil(t, row.Rates[model.Lighter].APY)
	assert.InDelta(t, 10.95, row.Spread, 1e-9)
}

func TestNonFiniteRatesStayEncodable(t *testing.T) {
	table := Aggregate([]model.FetchResult{
		ok(model.Aster, item(model.Aster, "ETHUSDT", 0.0001, 8)),
		ok(model.Binance, item(model.Binance, "ETHUSDT", 0.0002, 8)),
		ok(model.Lighter, item(model.Lighter, "ETHUSDT", math.NaN(), 1)),
		ok(model.Backpack, item(model.Backpack, "ETHUSDT", math.Inf(-1), 1)),
	}, nil)

	row := rowFor(t, table, "ETHUSDT")
	assert.Nil(t, row.Rates[model.Lighter].Rate)
	assert.Nil(t, row.Rates[model.Lighter].APY)
	assert.Nil(t, row.Rates[model.Backpack].APY)
	assert.InDelta(t, 10.95, row.Spread, 1e-9)
	assert.Equal(t, model.Binance, row.TopExchange)

	_, err := json.Marshal(table.Rows)
	require.NoError(t, err)
}

func TestSpreadIsAbsoluteDifferenceForTwoVenues(t *testing.T) {
	table := Aggregate([]model.FetchResult{
		ok(model.Hyperliquid, item(model.Hyperliquid, "SOLUSDT", 0.0001, 1)),
		ok(model.Backpack, item(model.Backpack, "SOLUSDT", 0.0004, 1)),
	}, nil)

	row := rowFor(t, table, "SOLUSDT")
	a, b := *row.Rates[model.Hyperliquid].APY, *row.Rates[model.Backpack].APY
	want := a - b
	if want < 0 {
		want = -want
	}
	assert.InDelta(t, want, row.Spread, 1e-9)
	assert.Equal(t, model.Backpack, row.TopExchange)
}

func TestFailedVenueContributesNothing(t *testing.T) {
	all := []model.ExchangeID{model.Aster, model.EdgeX, model.Lighter, model.Hyperliquid, model.Binance, model.Backpack}
	results := make([]model.FetchResult, 0, len(all))
	for i, ex := range all {
		r := ok(ex, item(ex, "BTCUSDT", 0.0001*float64(i+1), 8))
		if ex == model.EdgeX {
			r = model.FetchResult{Exchange: ex, Err: errors.New("upstream down")}
		}
		results = append(results, r)
	}

	table := Aggregate(results, nil)
	row := rowFor(t, table, "BTCUSDT")
	assert.Len(t, row.Rates, 5)
	assert.NotContains(t, row.Rates, model.EdgeX)
}

func TestSelectedExchangesRestrictTheJoin(t *testing.T) {
	results := []model.FetchResult{
		ok(model.Aster, item(model.Aster, "BTCUSDT", 0.0001, 8)),
		ok(model.Binance, item(model.Binance, "BTCUSDT", 0.0002, 8)),
		ok(model.Lighter, item(model.Lighter, "BTCUSDT", 0.0003, 1)),
	}

	table := Aggregate(results, []model.ExchangeID{model.Aster, model.Binance})
	row := rowFor(t, table, "BTCUSDT")
	assert.Len(t, row.Rates, 2)
	assert.InDelta(t, 10.95, row.Spread, 1e-9)

	table = Aggregate(results, []model.ExchangeID{model.Aster})
	assert.Empty(t, table.Rows)
}

func TestDuplicateSymbolLastWins(t *testing.T) {
	joined := Join([]model.FetchResult{
		ok(model.Aster, item(model.Aster, "BTCUSDC", 0.0001, 8), item(model.Aster, "BTCUSDT", 0.0002, 8)),
	}, nil)
	require.Contains(t, joined, "BTCUSDT")
	assert.InDelta(t, 0.0002, *joined["BTCUSDT"][model.Aster].Rate, 1e-12)
}

func TestJoinResolvesIntervals(t *testing.T) {
	raw := model.RawFundingItem{Exchange: model.Backpack, Symbol: "BTC_USDC_PERP", Rate: model.Float(0.0001), FundingIntervalMs: model.Int(28_800_000)}
	hl := model.RawFundingItem{Exchange: model.Hyperliquid, Symbol: "BTC", Rate: model.Float(0.00001)}

	joined := Join([]model.FetchResult{ok(model.Backpack, raw), ok(model.Hyperliquid, hl)}, nil)
	assert.Equal(t, 8.0, joined["BTCUSDT"][model.Backpack].IntervalHours)
	assert.Contains(t, joined, "BTC", "bare coins are not quoted by the normalizer")
	assert.Equal(t, 1.0, joined["BTC"][model.Hyperliquid].IntervalHours)
}

func TestFilterRecomputesRanking(t *testing.T) {
	table := Aggregate([]model.FetchResult{
		ok(model.Aster, item(model.Aster, "BTCUSDT", 0.0003, 8)),
		ok(model.Binance, item(model.Binance, "BTCUSDT", 0.0001, 8)),
		ok(model.Backpack, item(model.Backpack, "BTCUSDT", 0.0002, 8)),
	}, nil)

	rows := Filter(table.Rows, []model.ExchangeID{model.Binance, model.Backpack})
	require.Len(t, rows, 1)
	assert.Equal(t, model.Backpack, rows[0].TopExchange)
	assert.InDelta(t, 10.95, rows[0].Spread, 1e-9)

	assert.Empty(t, Filter(table.Rows, []model.ExchangeID{model.Binance}))
	assert.Equal(t, table.Rows, Filter(table.Rows, nil))
}

func TestSorting(t *testing.T) {
	rows := []model.AggregatedRow{
		{Symbol: "B", Spread: 1},
		{Symbol: "A", Spread: 5},
		{Symbol: "C", Spread: 5},
	}
	SortBySpread(rows)
	assert.Equal(t, []string{"A", "C", "B"}, []string{rows[0].Symbol, rows[1].Symbol, rows[2].Symbol})
	SortBySymbol(rows)
	assert.Equal(t, "A", rows[0].Symbol)
}

func TestSkippedSample(t *testing.T) {
	table := Table{Skipped: []string{"A", "B", "C", "D", "E", "F"}}
	assert.Equal(t, []string{"A", "B", "C", "D", "E"}, table.SkippedSample(5))
	assert.Len(t, Table{Skipped: []string{"A"}}.SkippedSample(5), 1)
}
