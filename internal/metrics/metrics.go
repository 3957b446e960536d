// Registers:
//
//	#fundinghub_fetch_total{exchange,outcome}
//	#fundinghub_fetch_duration_seconds{exchange}
//	#fundinghub_fetch_items{exchange}
//	#fundinghub_cycles_total, fundinghub_cycle_duration_seconds
//	#fundinghub_rows, fundinghub_skipped_symbols
//	#fundinghub_breaker_state{exchange}
//	#go_* and process_* system metrics
//
// Exposes them on the configured address under /metrics.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/SoYuCry/dex-funding-hub/logger"
)

const (
	OutcomeOK    = "ok"
	OutcomeError = "error"
)

var (
	once     sync.Once
	registry = prometheus.NewRegistry()

	fetchTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fundinghub_fetch_total",
			Help: "Adapter batch fetches by outcome",
		},
		[]string{"exchange", "outcome"},
	)
	fetchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fundinghub_fetch_duration_seconds",
			Help:    "Wall time of one adapter batch",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40, 80},
		},
		[]string{"exchange"},
	)
	fetchItems = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "fundinghub_fetch_items",
			Help: "Items returned by the last batch of each adapter",
		},
		[]string{"exchange"},
	)
	cyclesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "fundinghub_cycles_total",
		Help: "Completed refresh cycles",
	})
	cycleDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "fundinghub_cycle_duration_seconds",
		Help:    "Wall time of one refresh cycle",
		Buckets: []float64{1, 2, 5, 10, 20, 40, 80, 160},
	})
	rowsGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "fundinghub_rows",
		Help: "Rows in the latest snapshot",
	})
	skippedGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "fundinghub_skipped_symbols",
		Help: "Symbols dropped for insufficient venue coverage in the latest snapshot",
	})
	breakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "fundinghub_breaker_state",
			Help: "Circuit breaker state per exchange (0 closed, 1 half-open, 2 open)",
		},
		[]string{"exchange"},
	)
)

// Init registers the collectors once. Observations made before Init are kept.
func Init() {
	once.Do(func() {
		registry.MustRegister(
			fetchTotal, fetchDuration, fetchItems,
			cyclesTotal, cycleDuration, rowsGauge, skippedGauge,
			breakerState,
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	})
}

// Handler serves the registry in the Prometheus exposition format.
func Handler() http.Handler {
	Init()
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on address until ctx is cancelled.
func Serve(ctx context.Context, address string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())

	srv := &http.Server{
		Addr:              address,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// ObserveFetch records one adapter batch.
func ObserveFetch(log *logger.Log, exchange string, items int, duration time.Duration, err error) {
	outcome := OutcomeOK
	if err != nil {
		outcome = OutcomeError
	}
	fetchTotal.WithLabelValues(exchange, outcome).Inc()
	fetchDuration.WithLabelValues(exchange).Observe(duration.Seconds())
	if err == nil {
		fetchItems.WithLabelValues(exchange).Set(float64(items))
	}

	fields := logger.Fields{"exchange": exchange, "outcome": outcome}
	EmitMetric(log, "fetcher", "fetch_duration_ms", float64(duration.Milliseconds()), Timer, withUnit(fields, "milliseconds"))
	EmitMetric(log, "fetcher", "fetch_items", float64(items), Gauge, fields)
}

// ObserveCycle records a completed refresh cycle.
func ObserveCycle(log *logger.Log, rows, skipped int, duration time.Duration) {
	cyclesTotal.Inc()
	cycleDuration.Observe(duration.Seconds())
	rowsGauge.Set(float64(rows))
	skippedGauge.Set(float64(skipped))

	EmitMetric(log, "pipeline", "cycle_duration_ms", float64(duration.Milliseconds()), Timer, withUnit(nil, "milliseconds"))
	EmitMetric(log, "pipeline", "rows", float64(rows), Gauge, nil)
	EmitMetric(log, "pipeline", "skipped_symbols", float64(skipped), Gauge, nil)
}

// SetBreakerState records the state of an exchange's circuit breaker.
func SetBreakerState(log *logger.Log, exchange string, state int) {
	breakerState.WithLabelValues(exchange).Set(float64(state))
	EmitMetric(log, "breaker", "breaker_state", float64(state), Gauge, logger.Fields{"exchange": exchange})
}

func withUnit(fields logger.Fields, unit string) logger.Fields {
	out := cloneFields(fields)
	out["unit"] = unit
	return out
}
