// Package reader holds what every venue adapter shares: the Adapter contract,
// typed errors, the pooled HTTP client, retry and bounded fan-out helpers.
// Each venue lives in its own sub-package.
package reader

import (
	"context"

	"github.com/SoYuCry/dex-funding-hub/internal/model"
)

// Adapter fetches funding data from one venue.
//
// FetchRate returns a *NotFoundError for symbols the venue does not list and
// an *UpstreamError when the venue cannot be reached. FetchAll only fails when
// the whole batch is lost; individual symbols that fail are dropped or
// degraded to fallback values.
type Adapter interface {
	Exchange() model.ExchangeID
	FetchRate(ctx context.Context, symbol string) (model.RawFundingItem, error)
	FetchAll(ctx context.Context) ([]model.RawFundingItem, error)
}
