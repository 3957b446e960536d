package edgex

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/SoYuCry/dex-funding-hub/internal/model"
	"github.com/SoYuCry/dex-funding-hub/internal/reader"
	"github.com/SoYuCry/dex-funding-hub/logger"
)

var errAllContractsFailed = errors.New("no contract returned a funding rate")

// fetchPolled reads the latest funding entry of every displayable contract
// with bounded concurrency. Contracts that stay blocked after the bulk retry
// budget are skipped.
func (a *Adapter) fetchPolled(ctx context.Context) ([]model.RawFundingItem, error) {
	log := a.log.WithComponent(component)

	contracts, err := a.contracts(ctx)
	if err != nil {
		return nil, err
	}

	visible := make([]contract, 0, len(contracts))
	for _, c := range contracts {
		if !c.hidden() && c.ContractName != "" && c.ContractID != "" {
			visible = append(visible, c)
		}
	}

	backoff := reader.Backoff{Attempts: a.cfg.BulkRetries, Base: a.cfg.BulkBackoff}
	results := make([]*model.RawFundingItem, len(visible))
	var blocked, failed atomic.Int32

	reader.ForEach(ctx, len(visible), a.cfg.Concurrency, 0, func(ctx context.Context, i int) {
		c := visible[i]
		entry, err := a.latestFunding(ctx, string(c.ContractID), backoff)
		if err != nil {
			fields := logger.Fields{"contract": c.ContractName, "contract_id": string(c.ContractID)}
			if reader.IsRateLimited(err) || errors.Is(err, reader.ErrBlocked) {
				blocked.Add(1)
				log.WithFields(fields).WithError(err).Debug("contract blocked, skipping")
				return
			}
			failed.Add(1)
			log.WithFields(fields).WithError(err).Warn("failed to fetch contract funding rate")
			return
		}
		item := entry.item(c.ContractName)
		item.IntervalHours = c.intervalHours()
		results[i] = &item
	})

	items := make([]model.RawFundingItem, 0, len(results))
	for _, r := range results {
		if r != nil {
			items = append(items, *r)
		}
	}

	log.WithFields(logger.Fields{
		"contracts": len(visible),
		"items":     len(items),
		"blocked":   blocked.Load(),
		"failed":    failed.Load(),
		"source":    "http",
	}).Info("funding batch polled")

	if len(items) == 0 && len(visible) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, reader.Upstream(model.EdgeX, "poll", err)
		}
		return nil, &reader.UpstreamError{Exchange: model.EdgeX, Op: "poll", Err: errAllContractsFailed}
	}
	return items, nil
}
