// Package fapi reads funding data from Binance-compatible USDⓈ-M futures APIs.
// Binance and Aster expose the same premiumIndex and fundingRate endpoints, so
// both venues are served by one adapter pointed at different base URLs.
package fapi

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"
	"golang.org/x/time/rate"

	"github.com/SoYuCry/dex-funding-hub/config"
	"github.com/SoYuCry/dex-funding-hub/internal/interval"
	"github.com/SoYuCry/dex-funding-hub/internal/model"
	"github.com/SoYuCry/dex-funding-hub/internal/reader"
	"github.com/SoYuCry/dex-funding-hub/logger"
)

const (
	msPerHour = 3_600_000

	// codeInvalidSymbol is returned by fapi venues for unlisted symbols.
	codeInvalidSymbol = -1121
	// codeTooManyRequests is returned once the request weight is exhausted.
	codeTooManyRequests = -1003

	defaultConcurrency = 5
)

var errNoHistory = errors.New("funding history too short to infer interval")

// Options configures an Adapter.
type Options struct {
	BaseURL     string
	HTTPClient  *http.Client
	Concurrency int
	Cache       *interval.Cache
	Limiter     *rate.Limiter
}

// Adapter implements reader.Adapter for one fapi venue. Funding intervals are
// inferred from settlement history and kept in an interval.Cache owned by the
// adapter.
type Adapter struct {
	exchange    model.ExchangeID
	client      *futures.Client
	cache       *interval.Cache
	limiter     *rate.Limiter
	concurrency int
	log         *logger.Log
}

func New(exchange model.ExchangeID, opts Options) *Adapter {
	client := futures.NewClient("", "")
	if opts.BaseURL != "" {
		client.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	}
	if opts.HTTPClient != nil {
		client.HTTPClient = opts.HTTPClient
	}

	cache := opts.Cache
	if cache == nil {
		cache = interval.NewCache("", 0)
	}
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}

	return &Adapter{
		exchange:    exchange,
		client:      client,
		cache:       cache,
		limiter:     opts.Limiter,
		concurrency: concurrency,
		log:         logger.GetLogger(),
	}
}

// NewFromConfig builds the adapter for exchange from its venue config and
// loads the interval cache from disk.
func NewFromConfig(exchange model.ExchangeID, cfg config.FapiConfig, httpClient *http.Client) *Adapter {
	cache := interval.NewCache(cfg.CacheFile, cfg.CacheTTL)
	a := New(exchange, Options{
		BaseURL:     cfg.BaseURL,
		HTTPClient:  httpClient,
		Concurrency: cfg.Concurrency,
		Cache:       cache,
		Limiter:     reader.NewLimiter(cfg.RateLimit, cfg.Burst),
	})

	log := a.log.WithComponent(a.component()).WithFields(logger.Fields{"cache_file": cfg.CacheFile})
	discarded, err := cache.Load()
	if err != nil {
		log.WithError(err).Warn("failed to load interval cache, starting empty")
	} else {
		log.WithFields(logger.Fields{"entries": cache.Len(), "discarded": discarded}).Info("interval cache loaded")
	}
	return a
}

func (a *Adapter) Exchange() model.ExchangeID { return a.exchange }

// Cache returns the interval cache owned by the adapter.
func (a *Adapter) Cache() *interval.Cache { return a.cache }

func (a *Adapter) component() string {
	return strings.ToLower(a.exchange.String()) + "_reader"
}

// FetchAll reads the premium index for every listed symbol and attaches an
// interval to each item. Only a failing premium index call fails the batch;
// history lookups that fail fall back to the cache or the default.
func (a *Adapter) FetchAll(ctx context.Context) ([]model.RawFundingItem, error) {
	indexes, err := a.premiumIndex(ctx, "")
	if err != nil {
		return nil, err
	}

	items := make([]model.RawFundingItem, 0, len(indexes))
	for _, p := range indexes {
		item, ok := a.toItem(p)
		if !ok {
			continue
		}
		// Placeholder until the history lookup below replaces it.
		item.IntervalHours = model.Float(a.fallbackHours(item.Symbol))
		items = append(items, item)
	}

	var degraded atomic.Int32
	reader.ForEach(ctx, len(items), a.concurrency, 0, func(ctx context.Context, i int) {
		hours, err := a.intervalFor(ctx, items[i].Symbol, items[i].NextFundingTime)
		if err != nil {
			degraded.Add(1)
			a.log.WithComponent(a.component()).WithError(err).Debug("interval lookup degraded")
		}
		items[i].IntervalHours = model.Float(hours)
	})

	if err := a.cache.Flush(); err != nil {
		a.log.WithComponent(a.component()).WithError(err).Warn("failed to persist interval cache")
	}

	a.log.WithComponent(a.component()).WithFields(logger.Fields{
		"items":    len(items),
		"degraded": degraded.Load(),
		"cached":   a.cache.Len(),
	}).Debug("funding batch fetched")
	return items, nil
}

// FetchRate reads a single symbol. The symbol is passed to the venue as is,
// upper-cased.
func (a *Adapter) FetchRate(ctx context.Context, symbol string) (model.RawFundingItem, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return model.RawFundingItem{}, &reader.NotFoundError{Exchange: a.exchange, Symbol: symbol}
	}

	indexes, err := a.premiumIndex(ctx, symbol)
	if err != nil {
		return model.RawFundingItem{}, err
	}
	for _, p := range indexes {
		if !strings.EqualFold(p.Symbol, symbol) {
			continue
		}
		item, ok := a.toItem(p)
		if !ok {
			break
		}
		hours, err := a.intervalFor(ctx, item.Symbol, item.NextFundingTime)
		if err != nil {
			a.log.WithComponent(a.component()).WithError(err).Debug("interval lookup degraded")
		}
		item.IntervalHours = model.Float(hours)
		return item, nil
	}
	return model.RawFundingItem{}, &reader.NotFoundError{Exchange: a.exchange, Symbol: symbol}
}

func (a *Adapter) toItem(p *futures.PremiumIndex) (model.RawFundingItem, bool) {
	if p == nil || strings.TrimSpace(p.Symbol) == "" {
		return model.RawFundingItem{}, false
	}
	item := model.RawFundingItem{
		Exchange:  a.exchange,
		Symbol:    p.Symbol,
		Rate:      reader.ParseFloat(p.LastFundingRate),
		Timestamp: p.Time,
	}
	if item.Timestamp <= 0 {
		item.Timestamp = time.Now().UnixMilli()
	}
	if p.NextFundingTime > 0 {
		item.NextFundingTime = model.Int(p.NextFundingTime)
	}
	return item, true
}

// intervalFor walks the interval chain for symbol: fresh cache entry, live
// settlement history, any cached entry, then the default. A non-nil error is
// a *reader.PartialItemError describing why the live lookup was skipped.
func (a *Adapter) intervalFor(ctx context.Context, symbol string, next *int64) (float64, error) {
	if h, ok := a.cache.Fresh(symbol); ok {
		return h, nil
	}

	history, err := a.fundingHistory(ctx, symbol)
	if err != nil {
		return a.fallbackHours(symbol), &reader.PartialItemError{Exchange: a.exchange, Symbol: symbol, Err: err}
	}

	h, ok := InferInterval(history, next)
	if !ok {
		return a.fallbackHours(symbol), &reader.PartialItemError{Exchange: a.exchange, Symbol: symbol, Err: errNoHistory}
	}
	if !a.cache.Put(symbol, h) {
		a.log.WithComponent(a.component()).WithFields(logger.Fields{
			"symbol": symbol,
			"hours":  h,
		}).Debug("inferred interval outside cacheable range")
	}
	return h, nil
}

func (a *Adapter) fallbackHours(symbol string) float64 {
	if h, ok := a.cache.Get(symbol); ok {
		return h
	}
	return interval.Default(a.exchange)
}

// InferInterval derives the settlement interval from recent settlements. The
// gap between next and the latest settlement is preferred; otherwise the gap
// between the two most recent settlements is used.
func InferInterval(history []*futures.FundingRate, next *int64) (float64, bool) {
	times := make([]int64, 0, len(history))
	for _, h := range history {
		if h != nil && h.FundingTime > 0 {
			times = append(times, h.FundingTime)
		}
	}
	if len(times) == 0 {
		return 0, false
	}
	sort.Slice(times, func(i, j int) bool { return times[i] > times[j] })

	if next != nil && *next > times[0] {
		return interval.SnapSettlement(float64(*next-times[0]) / msPerHour), true
	}
	if len(times) >= 2 && times[0] > times[1] {
		return interval.SnapSettlement(float64(times[0]-times[1]) / msPerHour), true
	}
	return 0, false
}

func (a *Adapter) premiumIndex(ctx context.Context, symbol string) ([]*futures.PremiumIndex, error) {
	if err := a.wait(ctx); err != nil {
		return nil, reader.Upstream(a.exchange, "premium index", err)
	}
	svc := a.client.NewPremiumIndexService()
	if symbol != "" {
		svc = svc.Symbol(symbol)
	}
	res, err := svc.Do(ctx)
	if err != nil {
		return nil, a.mapError("premium index", symbol, err)
	}
	return res, nil
}

func (a *Adapter) fundingHistory(ctx context.Context, symbol string) ([]*futures.FundingRate, error) {
	if err := a.wait(ctx); err != nil {
		return nil, err
	}
	res, err := a.client.NewFundingRateService().Symbol(symbol).Limit(2).Do(ctx)
	if err != nil {
		return nil, a.mapError("funding history", symbol, err)
	}
	return res, nil
}

func (a *Adapter) wait(ctx context.Context) error {
	if a.limiter == nil {
		return nil
	}
	return a.limiter.Wait(ctx)
}

func (a *Adapter) mapError(op, symbol string, err error) error {
	if apiErr, ok := err.(*common.APIError); ok {
		switch apiErr.Code {
		case codeInvalidSymbol:
			if symbol != "" {
				return &reader.NotFoundError{Exchange: a.exchange, Symbol: symbol}
			}
		case codeTooManyRequests:
			return &reader.RateLimitError{Exchange: a.exchange, StatusCode: http.StatusTooManyRequests}
		}
	}
	return reader.Upstream(a.exchange, op, err)
}
