// Package lighter reads Lighter funding rates.
package lighter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/SoYuCry/dex-funding-hub/config"
	"github.com/SoYuCry/dex-funding-hub/internal/model"
	"github.com/SoYuCry/dex-funding-hub/internal/reader"
	"github.com/SoYuCry/dex-funding-hub/internal/symbols"
	"github.com/SoYuCry/dex-funding-hub/logger"
)

const (
	fundingRatesPath = "/api/v1/funding-rates"

	// ownEngine tags entries computed by Lighter itself; the feed also
	// mirrors other venues' rates.
	ownEngine = "lighter"

	// The feed quotes an 8h-equivalent rate while Lighter settles hourly.
	rateDivisor   = 8
	intervalHours = 1
)

type Adapter struct {
	client *reader.Client
	log    *logger.Log
}

func New(cfg config.VenueConfig, httpClient *http.Client) *Adapter {
	return &Adapter{
		client: reader.NewClient(model.Lighter, cfg.BaseURL, httpClient),
		log:    logger.GetLogger(),
	}
}

func (a *Adapter) Exchange() model.ExchangeID { return model.Lighter }

type fundingRate struct {
	MarketID int           `json:"market_id"`
	Exchange string        `json:"exchange"`
	Symbol   string        `json:"symbol"`
	Rate     reader.Number `json:"rate"`
}

type fundingRatesResponse struct {
	FundingRates []fundingRate `json:"funding_rates"`
}

// FetchAll returns one item per entry, restricted to Lighter's own engine
// when the feed contains any such entry.
func (a *Adapter) FetchAll(ctx context.Context) ([]model.RawFundingItem, error) {
	rates, err := a.fundingRates(ctx)
	if err != nil {
		return nil, err
	}

	own := make([]fundingRate, 0, len(rates))
	for _, r := range rates {
		if r.Exchange == ownEngine {
			own = append(own, r)
		}
	}
	if len(own) > 0 {
		rates = own
	}

	now := time.Now().UnixMilli()
	items := make([]model.RawFundingItem, 0, len(rates))
	for _, r := range rates {
		if r.Symbol == "" {
			continue
		}
		items = append(items, toItem(r, symbols.WithQuote(r.Symbol), now))
	}

	a.log.WithComponent("lighter_reader").WithFields(logger.Fields{
		"entries": len(rates),
		"items":   len(items),
	}).Debug("funding batch fetched")
	return items, nil
}

// FetchRate matches symbol against the raw or quote-suffixed feed symbol,
// preferring Lighter's own entry.
func (a *Adapter) FetchRate(ctx context.Context, symbol string) (model.RawFundingItem, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))

	rates, err := a.fundingRates(ctx)
	if err != nil {
		return model.RawFundingItem{}, err
	}

	var match *fundingRate
	for i := range rates {
		r := &rates[i]
		if r.Symbol == "" {
			continue
		}
		if !strings.EqualFold(r.Symbol, symbol) && symbols.WithQuote(strings.ToUpper(r.Symbol)) != symbol {
			continue
		}
		if r.Exchange == ownEngine {
			match = r
			break
		}
		if match == nil {
			match = r
		}
	}
	if match == nil {
		return model.RawFundingItem{}, &reader.NotFoundError{Exchange: model.Lighter, Symbol: symbol}
	}
	return toItem(*match, symbol, time.Now().UnixMilli()), nil
}

func toItem(r fundingRate, symbol string, now int64) model.RawFundingItem {
	item := model.RawFundingItem{
		Exchange:      model.Lighter,
		Symbol:        symbol,
		Timestamp:     now,
		IntervalHours: model.Float(intervalHours),
	}
	if r.Rate.Valid {
		item.Rate = model.Float(r.Rate.Value / rateDivisor)
	}
	return item
}

// fundingRates accepts both the {"funding_rates": [...]} envelope and a bare
// array.
func (a *Adapter) fundingRates(ctx context.Context) ([]fundingRate, error) {
	var raw json.RawMessage
	if err := a.client.GetJSON(ctx, fundingRatesPath, nil, &raw); err != nil {
		return nil, err
	}

	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var rates []fundingRate
		if err := json.Unmarshal(trimmed, &rates); err != nil {
			return nil, &reader.UpstreamError{Exchange: model.Lighter, Op: "funding rates", Err: fmt.Errorf("decode response: %w", err)}
		}
		return rates, nil
	}

	var resp fundingRatesResponse
	if err := json.Unmarshal(trimmed, &resp); err != nil {
		return nil, &reader.UpstreamError{Exchange: model.Lighter, Op: "funding rates", Err: fmt.Errorf("decode response: %w", err)}
	}
	return resp.FundingRates, nil
}
