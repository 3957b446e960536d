package reader

import (
	"context"
	"sync"
	"time"
)

// ForEach calls fn for every index in [0, n) with at most limit calls in
// flight. When delay is positive each call waits that long after taking its
// slot. Once ctx is done no further calls start; ForEach returns after the
// running ones finish.
func ForEach(ctx context.Context, n, limit int, delay time.Duration, fn func(ctx context.Context, i int)) {
	if limit <= 0 {
		limit = 1
	}
	sem := make(chan struct{}, limit)
	var wg sync.WaitGroup

launch:
	for i := 0; i < n; i++ {
		if ctx.Err() != nil {
			break
		}
		select {
		case <-ctx.Done():
			break launch
		case sem <- struct{}{}:
		}

		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			defer func() { <-sem }()
			if delay > 0 {
				if err := Sleep(ctx, delay); err != nil {
					return
				}
			}
			fn(ctx, i)
		}(i)
	}
	wg.Wait()
}
