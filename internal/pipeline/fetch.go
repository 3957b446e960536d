// Package pipeline runs the venue adapters concurrently and turns each
// refresh cycle into an immutable Snapshot.
package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/SoYuCry/dex-funding-hub/internal/metrics"
	"github.com/SoYuCry/dex-funding-hub/internal/model"
	"github.com/SoYuCry/dex-funding-hub/internal/reader"
	"github.com/SoYuCry/dex-funding-hub/logger"
)

// Result is one adapter's outcome in a cycle.
type Result = model.FetchResult

// FetchAll runs every adapter's batch in its own goroutine and waits for all
// of them. A failing or panicking adapter is captured in its Result and never
// affects the others. Results keep the order of adapters.
func FetchAll(ctx context.Context, adapters []reader.Adapter) []Result {
	results := make([]Result, len(adapters))

	var wg sync.WaitGroup
	for i, a := range adapters {
		wg.Add(1)
		go func(i int, a reader.Adapter) {
			defer wg.Done()
			results[i] = fetchOne(ctx, a)
		}(i, a)
	}
	wg.Wait()

	return results
}

func fetchOne(ctx context.Context, a reader.Adapter) (res Result) {
	log := logger.GetLogger()
	res.Exchange = a.Exchange()
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			res.Items = nil
			res.Err = fmt.Errorf("%s adapter panicked: %v", res.Exchange, r)
		}
		res.Duration = time.Since(start)

		entry := log.WithComponent("fetcher").WithFields(logger.Fields{
			"exchange": res.Exchange.String(),
			"items":    len(res.Items),
		})
		if res.Err != nil {
			entry.WithError(res.Err).Warn("exchange fetch failed")
		}
		logger.LogPerformanceEntry(entry, "fetcher", "fetch_all", res.Duration, nil)
		metrics.ObserveFetch(log, res.Exchange.String(), len(res.Items), res.Duration, res.Err)
	}()

	items, err := a.FetchAll(ctx)
	if err != nil {
		res.Err = err
		return res
	}
	res.Items = items
	return res
}
