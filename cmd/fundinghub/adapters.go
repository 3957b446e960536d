package main

import (
	"context"
	"fmt"
	"io"
	"sync"
	"text/tabwriter"

	"github.com/SoYuCry/dex-funding-hub/config"
	"github.com/SoYuCry/dex-funding-hub/internal/model"
	"github.com/SoYuCry/dex-funding-hub/internal/pipeline"
	"github.com/SoYuCry/dex-funding-hub/internal/processor"
	"github.com/SoYuCry/dex-funding-hub/internal/reader"
	"github.com/SoYuCry/dex-funding-hub/internal/reader/backpack"
	"github.com/SoYuCry/dex-funding-hub/internal/reader/edgex"
	"github.com/SoYuCry/dex-funding-hub/internal/reader/fapi"
	"github.com/SoYuCry/dex-funding-hub/internal/reader/hyperliquid"
	"github.com/SoYuCry/dex-funding-hub/internal/reader/lighter"
)

// buildAdapters returns the enabled venues in display order, each behind a
// circuit breaker when one is configured.
func buildAdapters(cfg *config.Config) []reader.Adapter {
	ex := cfg.Exchanges
	hc := reader.NewHTTPClient(ex.HTTP)

	var adapters []reader.Adapter
	add := func(enabled bool, build func() reader.Adapter) {
		if enabled {
			adapters = append(adapters, pipeline.Guard(build(), cfg.Breaker))
		}
	}

	add(ex.Aster.Enabled, func() reader.Adapter { return fapi.NewAster(ex.Aster, hc) })
	add(ex.EdgeX.Enabled, func() reader.Adapter { return edgex.New(ex.EdgeX, hc, ex.HTTP.UserAgent) })
	add(ex.Lighter.Enabled, func() reader.Adapter { return lighter.New(ex.Lighter, hc) })
	add(ex.Hyperliquid.Enabled, func() reader.Adapter { return hyperliquid.New(ex.Hyperliquid, hc) })
	add(ex.Binance.Enabled, func() reader.Adapter { return fapi.NewBinance(ex.Binance, hc) })
	add(ex.Backpack.Enabled, func() reader.Adapter { return backpack.New(ex.Backpack, hc) })

	return adapters
}

type symbolQuote struct {
	exchange model.ExchangeID
	rate     model.ResolvedRate
	err      error
}

// lookupSymbol asks every adapter for one symbol concurrently.
func lookupSymbol(ctx context.Context, adapters []reader.Adapter, symbol string) []symbolQuote {
	quotes := make([]symbolQuote, len(adapters))

	var wg sync.WaitGroup
	for i, a := range adapters {
		wg.Add(1)
		go func(i int, a reader.Adapter) {
			defer wg.Done()
			q := symbolQuote{exchange: a.Exchange()}
			item, err := a.FetchRate(ctx, symbol)
			if err != nil {
				q.err = err
			} else {
				if item.Exchange == 0 {
					item.Exchange = q.exchange
				}
				q.rate = processor.Resolve(item)
			}
			quotes[i] = q
		}(i, a)
	}
	wg.Wait()

	return quotes
}

func printQuotes(w io.Writer, symbol string, quotes []symbolQuote) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "%s\n", symbol)
	fmt.Fprintln(tw, "EXCHANGE\tSYMBOL\tRATE\tINTERVAL\tAPY %")
	for _, q := range quotes {
		switch {
		case reader.IsNotFound(q.err):
			fmt.Fprintf(tw, "%s\t-\tnot listed\t\t\n", q.exchange)
		case q.err != nil:
			fmt.Fprintf(tw, "%s\t-\terror: %v\t\t\n", q.exchange, q.err)
		default:
			fmt.Fprintf(tw, "%s\t%s\t%s\t%gh\t%s\n", q.exchange, q.rate.Symbol, formatFloat(q.rate.Rate, "%.6f"), q.rate.IntervalHours, formatFloat(q.rate.APY, "%.2f"))
		}
	}
	return tw.Flush()
}

func formatFloat(v *float64, format string) string {
	if v == nil {
		return "n/a"
	}
	return fmt.Sprintf(format, *v)
}
