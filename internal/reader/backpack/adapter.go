// Package backpack reads Backpack perpetual funding rates.
package backpack

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/SoYuCry/dex-funding-hub/config"
	"github.com/SoYuCry/dex-funding-hub/internal/model"
	"github.com/SoYuCry/dex-funding-hub/internal/reader"
	"github.com/SoYuCry/dex-funding-hub/internal/symbols"
	"github.com/SoYuCry/dex-funding-hub/logger"
)

const (
	marketsPath      = "/api/v1/markets"
	fundingRatesPath = "/api/v1/fundingRates"

	perpMarket = "PERP"
	component  = "backpack_reader"

	defaultConcurrency = 5
)

var errNoRate = errors.New("no funding rate available")

type Adapter struct {
	client      *reader.Client
	concurrency int
	log         *logger.Log
}

func New(cfg config.BackpackConfig, httpClient *http.Client) *Adapter {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	return &Adapter{
		client:      reader.NewClient(model.Backpack, cfg.BaseURL, httpClient),
		concurrency: concurrency,
		log:         logger.GetLogger(),
	}
}

func (a *Adapter) Exchange() model.ExchangeID { return model.Backpack }

type market struct {
	Symbol          string        `json:"symbol"`
	BaseSymbol      string        `json:"baseSymbol"`
	MarketType      string        `json:"marketType"`
	FundingInterval reader.Number `json:"fundingInterval"`
	FundingRate     reader.Number `json:"fundingRate"`
}

func (m market) intervalMs() (int64, bool) {
	ms, ok := m.FundingInterval.Int64()
	return ms, ok && ms > 0
}

type fundingEntry struct {
	Symbol               string        `json:"symbol"`
	FundingRate          reader.Number `json:"fundingRate"`
	IntervalEndTimestamp Timestamp     `json:"intervalEndTimestamp"`
}

// FetchAll reads the latest settlement of every perpetual market. Markets
// without a rate are left out. The interval comes from the market listing or,
// when absent, from the gap between the two most recent settlements.
func (a *Adapter) FetchAll(ctx context.Context) ([]model.RawFundingItem, error) {
	all, err := a.markets(ctx)
	if err != nil {
		return nil, err
	}

	perps := make([]market, 0, len(all))
	for _, m := range all {
		if m.MarketType == perpMarket && m.Symbol != "" && m.BaseSymbol != "" {
			perps = append(perps, m)
		}
	}

	results := make([]*model.RawFundingItem, len(perps))
	var skipped atomic.Int32
	reader.ForEach(ctx, len(perps), a.concurrency, 0, func(ctx context.Context, i int) {
		m := perps[i]
		item, err := a.marketItem(ctx, m)
		if err != nil {
			skipped.Add(1)
			a.log.WithComponent(component).WithFields(logger.Fields{"market": m.Symbol}).WithError(err).Debug("market skipped")
			return
		}
		results[i] = &item
	})

	items := make([]model.RawFundingItem, 0, len(results))
	for _, r := range results {
		if r != nil {
			items = append(items, *r)
		}
	}

	a.log.WithComponent(component).WithFields(logger.Fields{
		"markets": len(perps),
		"items":   len(items),
		"skipped": skipped.Load(),
	}).Debug("funding batch fetched")
	return items, nil
}

func (a *Adapter) marketItem(ctx context.Context, m market) (model.RawFundingItem, error) {
	intervalMs, known := m.intervalMs()
	limit := 1
	if !known {
		limit = 2
	}

	history, err := a.history(ctx, m.Symbol, limit)
	if err != nil {
		return model.RawFundingItem{}, &reader.PartialItemError{Exchange: model.Backpack, Symbol: m.Symbol, Err: err}
	}
	if len(history) == 0 || !history[0].FundingRate.Valid {
		return model.RawFundingItem{}, &reader.PartialItemError{Exchange: model.Backpack, Symbol: m.Symbol, Err: errNoRate}
	}

	latest := history[0]
	item := model.RawFundingItem{
		Exchange:  model.Backpack,
		Symbol:    strings.ToUpper(m.BaseSymbol) + "USDT",
		Rate:      latest.FundingRate.Ptr(),
		Timestamp: latest.IntervalEndTimestamp.OrNow(),
	}
	if !known {
		intervalMs, known = settlementGap(history)
	}
	if known {
		item.FundingIntervalMs = model.Int(intervalMs)
	}
	return item, nil
}

// settlementGap returns the distance between the two most recent settlement
// timestamps in history.
func settlementGap(history []fundingEntry) (int64, bool) {
	if len(history) < 2 {
		return 0, false
	}
	a, b := int64(history[0].IntervalEndTimestamp), int64(history[1].IntervalEndTimestamp)
	if a <= 0 || b <= 0 {
		return 0, false
	}
	gap := a - b
	if gap < 0 {
		gap = -gap
	}
	return gap, gap > 0
}

// FetchRate looks up symbol as the {BASE}_USDC_PERP market, falling back to
// the rate published on the market listing when the history is empty.
func (a *Adapter) FetchRate(ctx context.Context, symbol string) (model.RawFundingItem, error) {
	base := symbols.BaseAsset(symbols.Normalize(symbol))
	if base == "" {
		return model.RawFundingItem{}, &reader.NotFoundError{Exchange: model.Backpack, Symbol: symbol}
	}
	apiSymbol := APISymbol(base)

	all, err := a.markets(ctx)
	if err != nil {
		return model.RawFundingItem{}, err
	}
	var m *market
	for i := range all {
		if strings.EqualFold(all[i].Symbol, apiSymbol) {
			m = &all[i]
			break
		}
	}
	if m == nil {
		return model.RawFundingItem{}, &reader.NotFoundError{Exchange: model.Backpack, Symbol: symbol}
	}

	item, err := a.marketItem(ctx, *m)
	if err == nil {
		return item, nil
	}
	if !m.FundingRate.Valid {
		return model.RawFundingItem{}, &reader.UpstreamError{Exchange: model.Backpack, Op: "funding rate " + apiSymbol, Err: err}
	}

	item = model.RawFundingItem{
		Exchange:  model.Backpack,
		Symbol:    base + "USDT",
		Rate:      m.FundingRate.Ptr(),
		Timestamp: time.Now().UnixMilli(),
	}
	if ms, ok := m.intervalMs(); ok {
		item.FundingIntervalMs = model.Int(ms)
	}
	return item, nil
}

// APISymbol returns the Backpack perpetual market name for a base asset.
func APISymbol(base string) string {
	return strings.ToUpper(base) + "_USDC_PERP"
}

func (a *Adapter) markets(ctx context.Context) ([]market, error) {
	var out []market
	if err := a.client.GetJSON(ctx, marketsPath, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (a *Adapter) history(ctx context.Context, symbol string, limit int) ([]fundingEntry, error) {
	var out []fundingEntry
	q := url.Values{"symbol": {symbol}, "limit": {strconv.Itoa(limit)}}
	if err := a.client.GetJSON(ctx, fundingRatesPath, q, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Timestamp is a settlement time in ms since epoch, decoded from a number, a
// numeric string or an ISO-8601 string (UTC when no zone is given).
type Timestamp int64

var isoLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
}

func (t *Timestamp) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" || s == `""` {
		*t = 0
		return nil
	}
	if strings.HasPrefix(s, `"`) {
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		s = strings.TrimSpace(s)
	}
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		*t = Timestamp(ms)
		return nil
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		*t = Timestamp(int64(f))
		return nil
	}
	for _, layout := range isoLayouts {
		if ts, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			*t = Timestamp(ts.UnixMilli())
			return nil
		}
	}
	// Unparseable timestamps fall back to the fetch time.
	*t = 0
	return nil
}

// OrNow returns t, or the current time when t is unset.
func (t Timestamp) OrNow() int64 {
	if t > 0 {
		return int64(t)
	}
	return time.Now().UnixMilli()
}
