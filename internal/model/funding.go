package model

import "time"

// RawFundingItem is one venue's funding observation before normalization.
// Optional fields are nil when the venue did not report them.
type RawFundingItem struct {
	Exchange          ExchangeID `json:"exchange"`
	Symbol            string     `json:"symbol"`
	Rate              *float64   `json:"rate"`
	Timestamp         int64      `json:"timestamp"`
	NextFundingTime   *int64     `json:"next_funding_time,omitempty"`
	FundingIntervalMs *int64     `json:"funding_interval_ms,omitempty"`
	IntervalHours     *float64   `json:"interval_hours,omitempty"`
}

// ResolvedRate is a normalized item with its interval settled.
type ResolvedRate struct {
	Symbol        string     `json:"symbol"`
	Exchange      ExchangeID `json:"exchange"`
	Rate          *float64   `json:"rate"`
	IntervalHours float64    `json:"interval_hours"`
	APY           *float64   `json:"apy"`
}

// ExchangeRate is the per-venue cell of an AggregatedRow.
type ExchangeRate struct {
	Rate          *float64 `json:"rate"`
	IntervalHours float64  `json:"interval_hours"`
	APY           *float64 `json:"apy"`
}

// AggregatedRow is one symbol quoted by at least two venues.
type AggregatedRow struct {
	Symbol         string                      `json:"symbol"`
	Rates          map[ExchangeID]ExchangeRate `json:"rates"`
	Spread         float64                     `json:"spread"`
	TopExchange    ExchangeID                  `json:"top_exchange"`
	TopAPY         float64                     `json:"top_apy"`
	SecondExchange ExchangeID                  `json:"second_exchange"`
	SecondAPY      float64                     `json:"second_apy"`
	TopSpread      float64                     `json:"top_spread"`
}

// Float returns a pointer to v.
func Float(v float64) *float64 { return &v }

// Int returns a pointer to v.
func Int(v int64) *int64 { return &v }

// FetchResult is the outcome of one adapter's batch in a cycle. Err is set
// when the whole batch failed; Items is then empty.
type FetchResult struct {
	Exchange ExchangeID       `json:"exchange"`
	Items    []RawFundingItem `json:"items"`
	Err      error            `json:"-"`
	Duration time.Duration    `json:"duration"`
}

// OK reports whether the batch succeeded.
func (r FetchResult) OK() bool { return r.Err == nil }
