package hyperliquid

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SoYuCry/dex-funding-hub/config"
	"github.com/SoYuCry/dex-funding-hub/internal/model"
	"github.com/SoYuCry/dex-funding-hub/internal/reader"
)

const infoBody = `[
	{"universe":[{"name":"BTC","szDecimals":5},{"name":"kPEPE"},{"name":""},{"name":"ETH"}]},
	[{"funding":"0.0000125","markPx":"1"},{"funding":"-0.00002"},{"funding":"0.1"},{"funding":null}]
]`

func newAdapter(t *testing.T, body string) *Adapter {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]string
		if r.Method != http.MethodPost || r.URL.Path != infoPath || json.NewDecoder(r.Body).Decode(&req) != nil || req["type"] != "metaAndAssetCtxs" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, body)
	}))
	t.Cleanup(srv.Close)
	return New(config.VenueConfig{Enabled: true, BaseURL: srv.URL}, &http.Client{Timeout: time.Second})
}

func TestFetchAllZipsUniverseAndContexts(t *testing.T) {
	a := newAdapter(t, infoBody)
	items, err := a.FetchAll(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 3)

	assert.Equal(t, "BTCUSDT", items[0].Symbol)
	assert.InDelta(t, 0.0000125, *items[0].Rate, 1e-15)
	assert.Equal(t, "KPEPEUSDT", items[1].Symbol)
	assert.Equal(t, "ETHUSDT", items[2].Symbol)
	assert.Nil(t, items[2].Rate)
	for _, it := range items {
		assert.Equal(t, model.Hyperliquid, it.Exchange)
		assert.Equal(t, 1.0, *it.IntervalHours)
	}
}

func TestFetchAllKeepsBatchWithUnparseableFunding(t *testing.T) {
	a := newAdapter(t, `[
		{"universe":[{"name":"BTC"},{"name":"ETH"},{"name":"SOL"}]},
		[{"funding":"0.0000125"},{"funding":"n/a"},{"funding":"NaN"}]
	]`)
	items, err := a.FetchAll(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 3)

	assert.Equal(t, "BTCUSDT", items[0].Symbol)
	assert.InDelta(t, 0.0000125, *items[0].Rate, 1e-15)
	assert.Nil(t, items[1].Rate)
	assert.Nil(t, items[2].Rate)
}

func TestFetchRate(t *testing.T) {
	a := newAdapter(t, infoBody)

	item, err := a.FetchRate(context.Background(), "btcusd")
	require.NoError(t, err)
	assert.Equal(t, "BTCUSDT", item.Symbol)

	_, err = a.FetchRate(context.Background(), "SOLUSDT")
	assert.True(t, reader.IsNotFound(err))
}

func TestUnexpectedShape(t *testing.T) {
	a := newAdapter(t, `[{"universe":[]}]`)
	_, err := a.FetchAll(context.Background())
	var up *reader.UpstreamError
	require.ErrorAs(t, err, &up)
	assert.Contains(t, err.Error(), "expected 2 elements")
}
