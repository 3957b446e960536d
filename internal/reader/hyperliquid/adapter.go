// Package hyperliquid reads Hyperliquid funding rates from the info endpoint.
package hyperliquid

import (
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
	infoPath      = "/info"
	intervalHours = 1
)

type Adapter struct {
	client *reader.Client
	log    *logger.Log
}

func New(cfg config.VenueConfig, httpClient *http.Client) *Adapter {
	return &Adapter{
		client: reader.NewClient(model.Hyperliquid, cfg.BaseURL, httpClient),
		log:    logger.GetLogger(),
	}
}

func (a *Adapter) Exchange() model.ExchangeID { return model.Hyperliquid }

type asset struct {
	Name string `json:"name"`
}

type meta struct {
	Universe []asset `json:"universe"`
}

type assetCtx struct {
	Funding reader.Number `json:"funding"`
}

// market pairs a universe entry with its context; the info endpoint returns
// both lists in the same order.
type market struct {
	coin    string
	funding reader.Number
}

func (a *Adapter) FetchAll(ctx context.Context) ([]model.RawFundingItem, error) {
	markets, err := a.markets(ctx)
	if err != nil {
		return nil, err
	}

	now := time.Now().UnixMilli()
	items := make([]model.RawFundingItem, 0, len(markets))
	for _, m := range markets {
		items = append(items, m.item(now))
	}

	a.log.WithComponent("hyperliquid_reader").WithFields(logger.Fields{"items": len(items)}).Debug("funding batch fetched")
	return items, nil
}

// FetchRate maps symbol to a coin by dropping its USDT or USD quote.
func (a *Adapter) FetchRate(ctx context.Context, symbol string) (model.RawFundingItem, error) {
	coin := symbols.BaseAsset(strings.ToUpper(strings.TrimSpace(symbol)))

	markets, err := a.markets(ctx)
	if err != nil {
		return model.RawFundingItem{}, err
	}
	for _, m := range markets {
		if m.coin == coin {
			return m.item(time.Now().UnixMilli()), nil
		}
	}
	return model.RawFundingItem{}, &reader.NotFoundError{Exchange: model.Hyperliquid, Symbol: symbol}
}

func (m market) item(now int64) model.RawFundingItem {
	return model.RawFundingItem{
		Exchange:      model.Hyperliquid,
		Symbol:        symbols.WithQuote(m.coin),
		Rate:          m.funding.Ptr(),
		Timestamp:     now,
		IntervalHours: model.Float(intervalHours),
	}
}

func (a *Adapter) markets(ctx context.Context) ([]market, error) {
	var raw []json.RawMessage
	if err := a.client.PostJSON(ctx, infoPath, map[string]string{"type": "metaAndAssetCtxs"}, &raw); err != nil {
		return nil, err
	}
	if len(raw) < 2 {
		return nil, &reader.UpstreamError{Exchange: model.Hyperliquid, Op: "meta and asset contexts", Err: fmt.Errorf("expected 2 elements, got %d", len(raw))}
	}

	var (
		m    meta
		ctxs []assetCtx
	)
	if err := json.Unmarshal(raw[0], &m); err != nil {
		return nil, &reader.UpstreamError{Exchange: model.Hyperliquid, Op: "meta", Err: err}
	}
	if err := json.Unmarshal(raw[1], &ctxs); err != nil {
		return nil, &reader.UpstreamError{Exchange: model.Hyperliquid, Op: "asset contexts", Err: err}
	}

	n := len(m.Universe)
	if len(ctxs) < n {
		n = len(ctxs)
	}
	markets := make([]market, 0, n)
	for i := 0; i < n; i++ {
		coin := strings.ToUpper(strings.TrimSpace(m.Universe[i].Name))
		if coin == "" {
			continue
		}
		markets = append(markets, market{coin: coin, funding: ctxs[i].Funding})
	}
	return markets, nil
}
