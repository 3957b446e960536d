package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseExchange(t *testing.T) {
	cases := map[string]ExchangeID{
		"Aster":       Aster,
		"hyperliquid": Hyperliquid,
		"HL":          Hyperliquid,
		" bp ":        Backpack,
		"Backpack":    Backpack,
		"EDGEX":       EdgeX,
	}
	for in, want := range cases {
		got, err := ParseExchange(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseExchange("kraken")
	assert.Error(t, err)
}

func TestParseExchangesRejectsUnknown(t *testing.T) {
	_, err := ParseExchanges([]string{"Aster", "Kraken"})
	assert.Error(t, err)

	ids, err := ParseExchanges([]string{"Binance", "Lighter"})
	require.NoError(t, err)
	assert.Equal(t, []ExchangeID{Binance, Lighter}, ids)
}

func TestExchangeIDString(t *testing.T) {
	assert.Equal(t, "HL", Hyperliquid.String())
	assert.Equal(t, "BP", Backpack.String())
	assert.Equal(t, "ExchangeID(42)", ExchangeID(42).String())
	assert.False(t, ExchangeID(0).Valid())
	assert.Len(t, AllExchanges, 6)
}

func TestRowEncodesExchangeKeysByName(t *testing.T) {
	row := AggregatedRow{
		Symbol: "BTCUSDT",
		Rates: map[ExchangeID]ExchangeRate{
			Aster: {Rate: Float(0.0003), IntervalHours: 8, APY: Float(32.85)},
		},
		TopExchange: Aster,
	}
	data, err := json.Marshal(row)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"Aster":{"rate":0.0003`)
	assert.Contains(t, string(data), `"top_exchange":"Aster"`)

	var decoded AggregatedRow
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, Aster, decoded.TopExchange)
	assert.InDelta(t, 32.85, *decoded.Rates[Aster].APY, 1e-9)
}

func TestUnsetExchangeEncodesEmpty(t *testing.T) {
	data, err := json.Marshal(ResolvedRate{Symbol: "BTCUSDT"})
	require.NoError(t, err)
	assert.Contains(t, string(data), `"exchange":""`)

	decoded := ResolvedRate{Exchange: Binance}
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, ExchangeID(0), decoded.Exchange)

	_, err = json.Marshal(ResolvedRate{Exchange: ExchangeID(42)})
	assert.Error(t, err)
}
