package pipeline

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/SoYuCry/dex-funding-hub/internal/metrics"
	"github.com/SoYuCry/dex-funding-hub/internal/model"
	"github.com/SoYuCry/dex-funding-hub/internal/processor"
	"github.com/SoYuCry/dex-funding-hub/internal/reader"
	"github.com/SoYuCry/dex-funding-hub/logger"
)

// ErrCycleInProgress is returned by RunOnce while another cycle runs.
var ErrCycleInProgress = errors.New("refresh cycle already in progress")

const skippedSampleSize = 5

// Status is one exchange's outcome in a cycle.
type Status struct {
	Exchange   model.ExchangeID `json:"exchange"`
	OK         bool             `json:"ok"`
	Items      int              `json:"items"`
	Error      string           `json:"error,omitempty"`
	DurationMs int64            `json:"duration_ms"`
	Breaker    string           `json:"breaker,omitempty"`
}

// Snapshot is the published result of a cycle. It is never modified after
// publication.
type Snapshot struct {
	CycleID     uuid.UUID             `json:"cycle_id"`
	GeneratedAt time.Time             `json:"generated_at"`
	Duration    time.Duration         `json:"duration"`
	Rows        []model.AggregatedRow `json:"rows"`
	Skipped     []string              `json:"skipped"`
	Statuses    []Status              `json:"statuses"`
}

// Subscriber receives every published snapshot, on the cycle goroutine.
type Subscriber func(ctx context.Context, s *Snapshot)

type RunnerOptions struct {
	Interval time.Duration
	Timeout  time.Duration
	Selected []model.ExchangeID
}

// Runner schedules refresh cycles on a fixed interval and on demand. Two
// cycles never overlap.
type Runner struct {
	adapters []reader.Adapter
	opts     RunnerOptions

	trigger chan struct{}
	cycleMu sync.Mutex
	latest  atomic.Pointer[Snapshot]

	subMu       sync.RWMutex
	subscribers []Subscriber

	log *logger.Entry
}

func NewRunner(adapters []reader.Adapter, opts RunnerOptions) *Runner {
	if opts.Interval <= 0 {
		opts.Interval = time.Minute
	}
	return &Runner{
		adapters: adapters,
		opts:     opts,
		trigger:  make(chan struct{}, 1),
		log:      logger.GetLogger().WithComponent("pipeline"),
	}
}

// Subscribe registers fn for every snapshot published after the call.
func (r *Runner) Subscribe(fn Subscriber) {
	if fn == nil {
		return
	}
	r.subMu.Lock()
	r.subscribers = append(r.subscribers, fn)
	r.subMu.Unlock()
}

// Latest returns the most recent snapshot, or nil before the first cycle.
func (r *Runner) Latest() *Snapshot {
	return r.latest.Load()
}

// Trigger asks the loop in Run for an extra cycle. It reports false when a
// request is already pending.
func (r *Runner) Trigger() bool {
	select {
	case r.trigger <- struct{}{}:
		return true
	default:
		return false
	}
}

// Run executes a cycle immediately, then one per interval and one per
// Trigger, until ctx is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.opts.Interval)
	defer ticker.Stop()

	r.cycle(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.cycle(ctx)
		case <-r.trigger:
			r.cycle(ctx)
		}
	}
}

// RunOnce executes a single cycle and returns its snapshot.
func (r *Runner) RunOnce(ctx context.Context) (*Snapshot, error) {
	if !r.cycleMu.TryLock() {
		return nil, ErrCycleInProgress
	}
	defer r.cycleMu.Unlock()
	return r.runCycle(ctx), nil
}

func (r *Runner) cycle(ctx context.Context) {
	if _, err := r.RunOnce(ctx); err != nil {
		r.log.WithError(err).Warn("refresh skipped")
	}
}

func (r *Runner) runCycle(ctx context.Context) *Snapshot {
	id := uuid.New()
	log := r.log.WithFields(logger.Fields{"cycle_id": id.String()})
	start := time.Now()

	fetchCtx := ctx
	if r.opts.Timeout > 0 {
		var cancel context.CancelFunc
		fetchCtx, cancel = context.WithTimeout(ctx, r.opts.Timeout)
		defer cancel()
	}

	results := FetchAll(fetchCtx, r.adapters)
	table := processor.Aggregate(results, r.opts.Selected)

	snap := &Snapshot{
		CycleID:     id,
		GeneratedAt: time.Now().UTC(),
		Duration:    time.Since(start),
		Rows:        table.Rows,
		Skipped:     table.Skipped,
		Statuses:    r.statuses(results),
	}
	r.latest.Store(snap)

	if len(table.Skipped) > 0 {
		log.WithFields(logger.Fields{
			"skipped": len(table.Skipped),
			"sample":  table.SkippedSample(skippedSampleSize),
		}).Info("symbols skipped for insufficient venue coverage")
	}
	logger.LogDataFlowEntry(log, "exchanges", "snapshot", len(snap.Rows), "funding_rows")
	logger.LogPerformanceEntry(log, "pipeline", "cycle", snap.Duration, logger.Fields{"rows": len(snap.Rows)})
	metrics.ObserveCycle(logger.GetLogger(), len(snap.Rows), len(snap.Skipped), snap.Duration)

	r.subMu.RLock()
	subs := append([]Subscriber(nil), r.subscribers...)
	r.subMu.RUnlock()
	for _, fn := range subs {
		fn(ctx, snap)
	}
	return snap
}

func (r *Runner) statuses(results []Result) []Status {
	out := make([]Status, 0, len(results))
	for i, res := range results {
		st := Status{
			Exchange:   res.Exchange,
			OK:         res.OK(),
			Items:      len(res.Items),
			DurationMs: res.Duration.Milliseconds(),
		}
		if res.Err != nil {
			st.Error = res.Err.Error()
		}
		if g, ok := r.adapters[i].(interface{ BreakerState() string }); ok {
			st.Breaker = g.BreakerState()
		}
		out = append(out, st)
	}
	return out
}
