package symbols

import "strings"

// renames holds one-off ticker renames applied after suffix unification.
var renames = []struct{ from, to string }{
	{"TRUMP2", "TRUMP"},
}

// Normalize maps a venue ticker onto the unified key space:
// "BTC-PERP", "BTCUSDC" and "BTCUSD" all become "BTCUSDT".
// Distinct instruments may collide on one key; that is accepted.
//
// A ticker that carried a PERP marker but no quote ("BTC-PERP") is quoted
// in USDT. The rules are reapplied until the key stops changing so nested
// markers such as "PEPERPRP" still collapse. A pass that changes the key
// either removes characters or settles the quote suffix, so the loop ends.
func Normalize(raw string) string {
	s := raw
	for {
		next := normalizeOnce(s)
		if next == s {
			return s
		}
		s = next
	}
}

func normalizeOnce(s string) string {
	s = strings.ToUpper(s)
	s = strings.ReplaceAll(s, "-", "")
	s = strings.ReplaceAll(s, "_", "")
	perp := strings.Contains(s, "PERP")
	s = strings.ReplaceAll(s, "PERP", "")

	switch {
	case strings.HasSuffix(s, "USDC"):
		s = strings.TrimSuffix(s, "USDC") + "USDT"
	case strings.HasSuffix(s, "USDT"):
	case strings.HasSuffix(s, "USD"):
		s += "T"
	case perp:
		s += "USDT"
	}

	for _, r := range renames {
		s = strings.ReplaceAll(s, r.from, r.to)
	}
	return s
}

// WithQuote appends USDT to a bare coin code unless it already carries a
// USD or USDT quote.
func WithQuote(coin string) string {
	coin = strings.ToUpper(strings.TrimSpace(coin))
	if coin == "" || strings.HasSuffix(coin, "USDT") || strings.HasSuffix(coin, "USD") {
		return coin
	}
	return coin + "USDT"
}

// BaseAsset strips a trailing USDT, USDC or USD quote.
func BaseAsset(symbol string) string {
	s := strings.ToUpper(symbol)
	for _, quote := range []string{"USDT", "USDC", "USD"} {
		if strings.HasSuffix(s, quote) && len(s) > len(quote) {
			return strings.TrimSuffix(s, quote)
		}
	}
	return s
}
