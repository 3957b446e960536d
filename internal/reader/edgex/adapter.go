// Package edgex reads EdgeX funding rates. The ticker.all.1s stream is the
// primary source; when it fails or stays silent the adapter polls the latest
// funding endpoint per contract instead.
package edgex

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/SoYuCry/dex-funding-hub/config"
	"github.com/SoYuCry/dex-funding-hub/internal/model"
	"github.com/SoYuCry/dex-funding-hub/internal/reader"
	"github.com/SoYuCry/dex-funding-hub/internal/symbols"
	"github.com/SoYuCry/dex-funding-hub/logger"
)

const (
	metadataPath      = "/api/v1/public/meta/getMetaData"
	latestFundingPath = "/api/v1/public/funding/getLatestFundingRate"

	codeSuccess = "SUCCESS"
	component   = "edgex_reader"
)

var errNoFunding = errors.New("no funding data returned")

// Adapter implements reader.Adapter for EdgeX.
type Adapter struct {
	cfg       config.EdgeXConfig
	client    *reader.Client
	dialer    *websocket.Dialer
	userAgent string
	log       *logger.Log
}

// New builds the adapter. userAgent is sent on the stream handshake; HTTP
// requests carry whatever httpClient sets.
func New(cfg config.EdgeXConfig, httpClient *http.Client, userAgent string) *Adapter {
	opts := []reader.Option{reader.WithCookies(reader.ParseCookies(cfg.Cookies))}
	if cfg.RequestDelay > 0 {
		opts = append(opts, reader.WithLimiter(rate.NewLimiter(rate.Every(cfg.RequestDelay), 1)))
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}

	return &Adapter{
		cfg:    cfg,
		client: reader.NewClient(model.EdgeX, cfg.BaseURL, httpClient, opts...),
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 10 * time.Second,
		},
		userAgent: strings.TrimSpace(userAgent),
		log:       logger.GetLogger(),
	}
}

func (a *Adapter) Exchange() model.ExchangeID { return model.EdgeX }

// FetchAll tries the stream first and falls back to HTTP polling.
func (a *Adapter) FetchAll(ctx context.Context) ([]model.RawFundingItem, error) {
	log := a.log.WithComponent(component)
	if a.cfg.UseWebsocket && a.cfg.WSURL != "" {
		items, err := a.fetchStream(ctx)
		if err == nil {
			log.WithFields(logger.Fields{"items": len(items), "source": "websocket"}).Debug("funding batch fetched")
			return items, nil
		}
		if ctx.Err() != nil {
			return nil, reader.Upstream(model.EdgeX, "stream", ctx.Err())
		}
		log.WithError(err).Warn("funding stream failed, falling back to HTTP polling")
	}
	return a.fetchPolled(ctx)
}

// FetchRate resolves symbol to a displayable contract, trying the USD-quoted
// name when a USDT symbol is not listed.
func (a *Adapter) FetchRate(ctx context.Context, symbol string) (model.RawFundingItem, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))

	contracts, err := a.contracts(ctx)
	if err != nil {
		return model.RawFundingItem{}, err
	}
	c, ok := findContract(contracts, symbol)
	if !ok {
		return model.RawFundingItem{}, &reader.NotFoundError{Exchange: model.EdgeX, Symbol: symbol}
	}

	backoff := reader.Backoff{Attempts: a.cfg.SingleRetries, Base: a.cfg.SingleBackoff}
	entry, err := a.latestFunding(ctx, string(c.ContractID), backoff)
	if err != nil {
		return model.RawFundingItem{}, err
	}

	item := entry.item(symbol)
	item.IntervalHours = c.intervalHours()
	return item, nil
}

type metadataResponse struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
	Data struct {
		ContractList []contract `json:"contractList"`
	} `json:"data"`
}

type contract struct {
	ContractID             flexString    `json:"contractId"`
	ContractName           string        `json:"contractName"`
	EnableDisplay          *bool         `json:"enableDisplay"`
	FundingRateIntervalMin reader.Number `json:"fundingRateIntervalMin"`
}

// hidden reports contracts explicitly marked as not displayable.
func (c contract) hidden() bool {
	return c.EnableDisplay != nil && !*c.EnableDisplay
}

func (c contract) intervalHours() *float64 {
	if !c.FundingRateIntervalMin.Valid || c.FundingRateIntervalMin.Value <= 0 {
		return nil
	}
	return model.Float(c.FundingRateIntervalMin.Value / 60)
}

type fundingResponse struct {
	Code string         `json:"code"`
	Msg  string         `json:"msg"`
	Data []fundingEntry `json:"data"`
}

type fundingEntry struct {
	ContractID       flexString    `json:"contractId"`
	FundingRate      reader.Number `json:"fundingRate"`
	FundingTimestamp reader.Number `json:"fundingTimestamp"`
	FundingTime      reader.Number `json:"fundingTime"`
}

func (e fundingEntry) item(symbol string) model.RawFundingItem {
	ts, ok := e.FundingTimestamp.Int64()
	if !ok || ts <= 0 {
		ts, ok = e.FundingTime.Int64()
	}
	if !ok || ts <= 0 {
		ts = time.Now().UnixMilli()
	}
	return model.RawFundingItem{
		Exchange:  model.EdgeX,
		Symbol:    symbol,
		Rate:      e.FundingRate.Ptr(),
		Timestamp: ts,
	}
}

// contracts loads the contract list. Failures are fatal for the polling
// path and only disable filtering on the stream path.
func (a *Adapter) contracts(ctx context.Context) ([]contract, error) {
	var resp metadataResponse
	if err := a.client.GetJSON(ctx, metadataPath, nil, &resp); err != nil {
		return nil, err
	}
	if resp.Code != codeSuccess {
		return nil, &reader.UpstreamError{Exchange: model.EdgeX, Op: "metadata", Err: fmt.Errorf("code %q: %s", resp.Code, resp.Msg)}
	}
	return resp.Data.ContractList, nil
}

// latestFunding reads the newest funding entry of one contract, retrying
// 403/429 answers with exponential backoff.
func (a *Adapter) latestFunding(ctx context.Context, contractID string, backoff reader.Backoff) (fundingEntry, error) {
	var resp fundingResponse
	err := reader.Retry(ctx, backoff, reader.IsRateLimited, func(ctx context.Context) error {
		resp = fundingResponse{}
		return a.client.GetJSON(ctx, latestFundingPath, url.Values{"contractId": {contractID}}, &resp)
	})
	if err != nil {
		return fundingEntry{}, err
	}
	if resp.Code != codeSuccess {
		return fundingEntry{}, &reader.UpstreamError{Exchange: model.EdgeX, Op: "latest funding", Err: fmt.Errorf("code %q: %s", resp.Code, resp.Msg)}
	}
	if len(resp.Data) == 0 {
		return fundingEntry{}, &reader.UpstreamError{Exchange: model.EdgeX, Op: "latest funding " + contractID, Err: errNoFunding}
	}
	return resp.Data[0], nil
}

func findContract(contracts []contract, symbol string) (contract, bool) {
	var fallback string
	if strings.HasSuffix(symbol, "USDT") {
		fallback = strings.TrimSuffix(symbol, "USDT") + "USD"
	}
	for _, c := range contracts {
		if c.hidden() {
			continue
		}
		if c.ContractName == symbol || (fallback != "" && c.ContractName == fallback) {
			return c, true
		}
	}
	return contract{}, false
}

// visibleIndex maps the normalized name of every displayable contract to it.
func visibleIndex(contracts []contract) map[string]contract {
	out := make(map[string]contract, len(contracts))
	for _, c := range contracts {
		if c.hidden() || c.ContractName == "" {
			continue
		}
		out[symbols.Normalize(c.ContractName)] = c
	}
	return out
}

// flexString accepts a JSON string or number.
type flexString string

func (s *flexString) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*s = flexString(v)
		return nil
	}
	if string(b) == "null" {
		*s = ""
		return nil
	}
	*s = flexString(b)
	return nil
}
