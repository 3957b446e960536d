// Package processor turns a cycle's fetch results into cross-venue rows.
package processor

import (
	"sort"

	"github.com/SoYuCry/dex-funding-hub/internal/model"
)

// MinVenues is how many venues must report an APY for a symbol to be listed.
const MinVenues = 2

// Table is the aggregation of one cycle.
type Table struct {
	Rows []model.AggregatedRow `json:"rows"`
	// Skipped lists symbols quoted by fewer than MinVenues venues, sorted.
	Skipped []string `json:"skipped"`
}

// SkippedSample returns at most n skipped symbols.
func (t Table) SkippedSample(n int) []string {
	if len(t.Skipped) <= n {
		return t.Skipped
	}
	return t.Skipped[:n]
}

// Join groups the items of every successful result by normalized symbol.
// Only exchanges in selected are kept; an empty selection keeps all of them.
// When one venue reports the same normalized symbol twice the later item
// wins.
func Join(results []model.FetchResult, selected []model.ExchangeID) map[string]map[model.ExchangeID]model.ResolvedRate {
	keep := selection(selected)
	joined := make(map[string]map[model.ExchangeID]model.ResolvedRate)

	for _, res := range results {
		if !res.OK() || !keep(res.Exchange) {
			continue
		}
		for _, item := range res.Items {
			if item.Exchange == 0 {
				item.Exchange = res.Exchange
			}
			rr := Resolve(item)
			if rr.Symbol == "" {
				continue
			}
			venues, ok := joined[rr.Symbol]
			if !ok {
				venues = make(map[model.ExchangeID]model.ResolvedRate)
				joined[rr.Symbol] = venues
			}
			venues[rr.Exchange] = rr
		}
	}
	return joined
}

// Aggregate builds one row per symbol reported with an APY by at least
// MinVenues venues. Rows come back sorted by symbol.
func Aggregate(results []model.FetchResult, selected []model.ExchangeID) Table {
	joined := Join(results, selected)

	table := Table{
		Rows:    make([]model.AggregatedRow, 0, len(joined)),
		Skipped: make([]string, 0),
	}
	for symbol, venues := range joined {
		row, ok := buildRow(symbol, venues)
		if !ok {
			table.Skipped = append(table.Skipped, symbol)
			continue
		}
		table.Rows = append(table.Rows, row)
	}

	SortBySymbol(table.Rows)
	sort.Strings(table.Skipped)
	return table
}

type venueAPY struct {
	exchange model.ExchangeID
	apy      float64
}

func buildRow(symbol string, venues map[model.ExchangeID]model.ResolvedRate) (model.AggregatedRow, bool) {
	row := model.AggregatedRow{
		Symbol: symbol,
		Rates:  make(map[model.ExchangeID]model.ExchangeRate, len(venues)),
	}

	ranked := make([]venueAPY, 0, len(venues))
	for ex, rr := range venues {
		row.Rates[ex] = model.ExchangeRate{
			Rate:          rr.Rate,
			IntervalHours: rr.IntervalHours,
			APY:           rr.APY,
		}
		if rr.APY != nil {
			ranked = append(ranked, venueAPY{exchange: ex, apy: *rr.APY})
		}
	}
	if len(ranked) < MinVenues {
		return model.AggregatedRow{}, false
	}

	// Ties keep the enumeration order so rankings are stable across cycles.
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].apy != ranked[j].apy {
			return ranked[i].apy > ranked[j].apy
		}
		return ranked[i].exchange < ranked[j].exchange
	})

	top, second, bottom := ranked[0], ranked[1], ranked[len(ranked)-1]
	row.Spread = top.apy - bottom.apy
	row.TopExchange, row.TopAPY = top.exchange, top.apy
	row.SecondExchange, row.SecondAPY = second.exchange, second.apy
	row.TopSpread = top.apy - second.apy
	return row, true
}

func selection(selected []model.ExchangeID) func(model.ExchangeID) bool {
	if len(selected) == 0 {
		return func(model.ExchangeID) bool { return true }
	}
	set := make(map[model.ExchangeID]struct{}, len(selected))
	for _, ex := range selected {
		set[ex] = struct{}{}
	}
	return func(ex model.ExchangeID) bool {
		_, ok := set[ex]
		return ok
	}
}

// Filter returns the rows restricted to selected venues, dropping rows left
// with fewer than MinVenues APYs and recomputing spread and ranking.
func Filter(rows []model.AggregatedRow, selected []model.ExchangeID) []model.AggregatedRow {
	if len(selected) == 0 {
		return rows
	}
	keep := selection(selected)
	out := make([]model.AggregatedRow, 0, len(rows))
	for _, row := range rows {
		venues := make(map[model.ExchangeID]model.ResolvedRate, len(row.Rates))
		for ex, r := range row.Rates {
			if keep(ex) {
				venues[ex] = model.ResolvedRate{Symbol: row.Symbol, Exchange: ex, Rate: r.Rate, IntervalHours: r.IntervalHours, APY: r.APY}
			}
		}
		if filtered, ok := buildRow(row.Symbol, venues); ok {
			out = append(out, filtered)
		}
	}
	return out
}

// SortBySymbol orders rows alphabetically in place.
func SortBySymbol(rows []model.AggregatedRow) {
	sort.Slice(rows, func(i, j int) bool { return rows[i].Symbol < rows[j].Symbol })
}

// SortBySpread orders rows by descending spread in place, symbol breaking
// ties.
func SortBySpread(rows []model.AggregatedRow) {
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Spread != rows[j].Spread {
			return rows[i].Spread > rows[j].Spread
		}
		return rows[i].Symbol < rows[j].Symbol
	})
}
