package dashboard

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/SoYuCry/dex-funding-hub/config"
	"github.com/SoYuCry/dex-funding-hub/internal/metrics"
	"github.com/SoYuCry/dex-funding-hub/internal/model"
	"github.com/SoYuCry/dex-funding-hub/internal/pipeline"
	"github.com/SoYuCry/dex-funding-hub/internal/processor"
	"github.com/SoYuCry/dex-funding-hub/logger"
)

const skippedSampleSize = 5

// SnapshotSource is the refresh scheduler as seen by the API.
type SnapshotSource interface {
	Latest() *pipeline.Snapshot
	Trigger() bool
}

// Server hosts the JSON API over the latest snapshot, recent metrics and logs.
type Server struct {
	cfg             config.DashboardConfig
	log             *logger.Log
	source          SnapshotSource
	metricStore     *metricStore
	logStore        *logStore
	metricHandler   metrics.MetricHandlerID
	httpServer      *http.Server
	resourceSampler *resourceSampler
}

// NewServer returns nil when the dashboard is disabled.
func NewServer(cfg config.DashboardConfig, log *logger.Log, source SnapshotSource) (*Server, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if source == nil {
		return nil, errors.New("dashboard requires a snapshot source")
	}

	cfg.Address = normalizeAddress(cfg.Address)
	if cfg.LogHistory <= 0 {
		cfg.LogHistory = 200
	}
	if cfg.MetricsHistory <= 0 {
		cfg.MetricsHistory = 200
	}
	if cfg.ResourceInterval <= 0 {
		cfg.ResourceInterval = 5 * time.Second
	}

	metricStore := newMetricStore(cfg.MetricsHistory)
	handlerID := metrics.RegisterMetricHandler(metricStore.handle)

	logStore := newLogStore(cfg.LogHistory)
	log.AddHook(logStore)

	return &Server{
		cfg:             cfg,
		log:             log,
		source:          source,
		metricStore:     metricStore,
		logStore:        logStore,
		metricHandler:   handlerID,
		resourceSampler: newResourceSampler(cfg.MetricsHistory, cfg.ResourceInterval, cfg.DiskPath, log),
	}, nil
}

// Run serves until ctx is cancelled or the listener fails.
func (s *Server) Run(ctx context.Context) error {
	if s == nil {
		return nil
	}

	defer s.cleanup()

	router, err := s.buildRouter()
	if err != nil {
		return err
	}

	s.resourceSampler.start(ctx)

	s.httpServer = &http.Server{
		Addr:              s.cfg.Address,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	s.log.WithComponent("dashboard").WithFields(logger.Fields{"address": s.cfg.Address}).Info("dashboard listening")

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		<-errCh
		return nil
	case err := <-errCh:
		return err
	}
}

func (s *Server) cleanup() {
	metrics.UnregisterMetricHandler(s.metricHandler)
	if s.logStore != nil {
		s.logStore.close()
	}
	if s.resourceSampler != nil {
		s.resourceSampler.stop()
	}
}

// Address reports the normalized listen address.
func (s *Server) Address() string {
	if s == nil {
		return ""
	}
	return s.cfg.Address
}

func (s *Server) buildRouter() (*gin.Engine, error) {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	if err := router.SetTrustedProxies(nil); err != nil {
		return nil, err
	}

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := router.Group("/api")
	api.GET("/rows", s.handleRows)
	api.GET("/status", s.handleStatus)
	api.POST("/refresh", s.handleRefresh)

	api.GET("/metrics", func(c *gin.Context) {
		stored := s.metricStore.query(c.Query("component"), c.Query("name"))
		payload := make([]gin.H, 0, len(stored))
		for _, m := range stored {
			payload = append(payload, gin.H{
				"timestamp": m.Timestamp.Format(time.RFC3339Nano),
				"component": m.Component,
				"name":      m.Name,
				"value":     m.Value,
				"kind":      m.Kind,
				"fields":    m.Fields,
			})
		}
		c.JSON(http.StatusOK, gin.H{"metrics": payload})
	})

	api.GET("/logs", func(c *gin.Context) {
		minLevel := logrus.TraceLevel
		if raw := c.Query("level"); raw != "" {
			lvl, err := logrus.ParseLevel(raw)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			minLevel = lvl
		}

		stored := s.logStore.query(minLevel, c.Query("component"))
		payload := make([]gin.H, 0, len(stored))
		for _, l := range stored {
			payload = append(payload, gin.H{
				"timestamp": l.Timestamp.Format(time.RFC3339Nano),
				"level":     l.Level,
				"component": l.Component,
				"message":   l.Message,
				"fields":    l.Fields,
			})
		}
		c.JSON(http.StatusOK, gin.H{"logs": payload})
	})

	api.GET("/resources", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"resources": s.resourceSampler.snapshot()})
	})

	return router, nil
}

func (s *Server) handleRows(c *gin.Context) {
	snap := s.source.Latest()
	if snap == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no snapshot yet"})
		return
	}

	selected, err := parseExchanges(c.Query("exchanges"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	// Filter may hand back the snapshot's own slice; sort a copy.
	rows := append([]model.AggregatedRow(nil), processor.Filter(snap.Rows, selected)...)
	switch strings.ToLower(c.DefaultQuery("sort", "spread")) {
	case "spread":
		processor.SortBySpread(rows)
	case "symbol":
		processor.SortBySymbol(rows)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "sort must be spread or symbol"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"cycle_id":     snap.CycleID.String(),
		"generated_at": snap.GeneratedAt.Format(time.RFC3339Nano),
		"count":        len(rows),
		"rows":         rows,
	})
}

func (s *Server) handleStatus(c *gin.Context) {
	snap := s.source.Latest()
	if snap == nil {
		c.JSON(http.StatusOK, gin.H{"ready": false, "log_counts": logger.Counts()})
		return
	}

	sample := snap.Skipped
	if len(sample) > skippedSampleSize {
		sample = sample[:skippedSampleSize]
	}
	c.JSON(http.StatusOK, gin.H{
		"ready":          true,
		"cycle_id":       snap.CycleID.String(),
		"generated_at":   snap.GeneratedAt.Format(time.RFC3339Nano),
		"duration_ms":    snap.Duration.Milliseconds(),
		"rows":           len(snap.Rows),
		"statuses":       snap.Statuses,
		"skipped_count":  len(snap.Skipped),
		"skipped_sample": sample,
		"log_counts":     logger.Counts(),
	})
}

func (s *Server) handleRefresh(c *gin.Context) {
	queued := s.source.Trigger()
	c.JSON(http.StatusAccepted, gin.H{"queued": queued})
}

func parseExchanges(raw string) ([]model.ExchangeID, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	return model.ParseExchanges(strings.Split(raw, ","))
}

func normalizeAddress(addr string) string {
	addr = strings.TrimSpace(addr)

	if addr == "" {
		return "0.0.0.0:8080"
	}

	if strings.Contains(addr, "://") {
		if parsed, err := url.Parse(addr); err == nil {
			if host := parsed.Host; host != "" {
				addr = host
			} else if parsed.Opaque != "" {
				addr = parsed.Opaque
			}
		}
	}

	if strings.HasPrefix(addr, ":") {
		if len(addr) > 1 && addr[1] >= '0' && addr[1] <= '9' {
			return "0.0.0.0" + addr
		}
	}

	host, port, err := net.SplitHostPort(addr)
	if err == nil {
		if host == "" || host == "*" {
			host = "0.0.0.0"
		}
		if port == "" {
			port = "8080"
		}
		return net.JoinHostPort(host, port)
	}

	if ip := net.ParseIP(addr); ip != nil {
		return net.JoinHostPort(addr, "8080")
	}

	if !strings.Contains(addr, ":") {
		return net.JoinHostPort(addr, "8080")
	}

	return addr
}
