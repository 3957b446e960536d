package fapi

import (
	"net/http"

	"github.com/SoYuCry/dex-funding-hub/config"
	"github.com/SoYuCry/dex-funding-hub/internal/model"
)

// NewAster returns the Aster adapter. Aster publishes no interval field, so
// every symbol goes through settlement history unless cache_ttl is set.
func NewAster(cfg config.FapiConfig, httpClient *http.Client) *Adapter {
	return NewFromConfig(model.Aster, cfg, httpClient)
}

// NewBinance returns the Binance adapter. History lookups share the venue's
// request-weight budget, so they are paced by the configured limiter and
// served from cache while entries are fresh.
func NewBinance(cfg config.FapiConfig, httpClient *http.Client) *Adapter {
	return NewFromConfig(model.Binance, cfg, httpClient)
}
