package main

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SoYuCry/dex-funding-hub/config"
	"github.com/SoYuCry/dex-funding-hub/internal/model"
	"github.com/SoYuCry/dex-funding-hub/internal/pipeline"
	"github.com/SoYuCry/dex-funding-hub/internal/reader"
)

type stubAdapter struct {
	exchange model.ExchangeID
	item     model.RawFundingItem
	err      error
}

func (s stubAdapter) Exchange() model.ExchangeID { return s.exchange }

func (s stubAdapter) FetchRate(ctx context.Context, symbol string) (model.RawFundingItem, error) {
	return s.item, s.err
}

func (s stubAdapter) FetchAll(ctx context.Context) ([]model.RawFundingItem, error) {
	return nil, errors.New("not used")
}

func TestBuildAdaptersFollowsConfig(t *testing.T) {
	cfg := config.Default()
	dir := t.TempDir()
	cfg.Exchanges.Aster.CacheFile = filepath.Join(dir, "aster.json")
	cfg.Exchanges.Binance.CacheFile = filepath.Join(dir, "binance.json")

	adapters := buildAdapters(&cfg)
	require.Len(t, adapters, 6)
	for i, a := range adapters {
		assert.Equal(t, model.AllExchanges[i], a.Exchange())
		_, guarded := a.(*pipeline.Guarded)
		assert.True(t, guarded)
	}

	cfg.Exchanges.EdgeX.Enabled = false
	cfg.Exchanges.Backpack.Enabled = false
	cfg.Breaker.Enabled = false
	adapters = buildAdapters(&cfg)
	require.Len(t, adapters, 4)
	_, guarded := adapters[0].(*pipeline.Guarded)
	assert.False(t, guarded)
}

func TestLookupAndPrintQuotes(t *testing.T) {
	adapters := []reader.Adapter{
		stubAdapter{exchange: model.Aster, item: model.RawFundingItem{Symbol: "BTCUSDT", Rate: model.Float(0.0001), IntervalHours: model.Float(8)}},
		stubAdapter{exchange: model.Lighter, err: &reader.NotFoundError{Exchange: model.Lighter, Symbol: "BTCUSDT"}},
		stubAdapter{exchange: model.EdgeX, err: errors.New("blocked")},
	}

	quotes := lookupSymbol(context.Background(), adapters, "BTCUSDT")
	require.Len(t, quotes, 3)
	assert.Equal(t, model.Aster, quotes[0].rate.Exchange)
	assert.InDelta(t, 10.95, *quotes[0].rate.APY, 1e-9)

	var buf bytes.Buffer
	require.NoError(t, printQuotes(&buf, "BTCUSDT", quotes))
	out := buf.String()
	assert.Contains(t, out, "10.95")
	assert.Contains(t, out, "not listed")
	assert.Contains(t, out, "error: blocked")
}
