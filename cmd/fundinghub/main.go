package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/SoYuCry/dex-funding-hub/config"
	"github.com/SoYuCry/dex-funding-hub/internal/dashboard"
	"github.com/SoYuCry/dex-funding-hub/internal/metrics"
	"github.com/SoYuCry/dex-funding-hub/internal/model"
	"github.com/SoYuCry/dex-funding-hub/internal/pipeline"
	"github.com/SoYuCry/dex-funding-hub/internal/writer"
	"github.com/SoYuCry/dex-funding-hub/logger"
)

func main() {
	log := logger.GetLogger()

	// Load environment variables from .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", "", "Path to configuration file (defaults to the APP_ENV file)")
	once := flag.Bool("once", false, "Run a single refresh cycle, print the status and exit")
	symbol := flag.String("symbol", "", "Print every venue's rate for one symbol and exit")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		os.Exit(1)
	}

	log.WithFields(logger.Fields{
		"service": cfg.FundingHub.Name,
		"version": cfg.FundingHub.Version,
	}).Info("starting dex-funding-hub")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	adapters := buildAdapters(cfg)
	if len(adapters) == 0 {
		log.Error("no exchanges enabled")
		os.Exit(1)
	}

	if *symbol != "" {
		lookupCtx, cancel := context.WithTimeout(ctx, cfg.Refresh.Timeout)
		defer cancel()
		if err := printQuotes(os.Stdout, *symbol, lookupSymbol(lookupCtx, adapters, *symbol)); err != nil {
			log.WithError(err).Error("failed to print quotes")
			os.Exit(1)
		}
		return
	}

	// validated by LoadConfig
	selected, _ := model.ParseExchanges(cfg.Exchanges.Selected)
	runner := pipeline.NewRunner(adapters, pipeline.RunnerOptions{
		Interval: cfg.Refresh.Interval,
		Timeout:  cfg.Refresh.Timeout,
		Selected: selected,
	})

	if cfg.Metrics.CloudWatch.Enabled {
		metrics.InitCloudWatch(ctx, cfg.Metrics.CloudWatch.Region, cfg.Metrics.CloudWatch.Namespace)
	}

	if cfg.Storage.S3.Enabled {
		snapshotWriter, err := writer.NewSnapshotWriter(ctx, cfg.Storage.S3)
		if err != nil {
			log.WithError(err).Error("failed to create S3 writer")
			os.Exit(1)
		}
		runner.Subscribe(snapshotWriter.Subscriber())
		log.WithComponent("main").WithFields(logger.Fields{"key": snapshotWriter.Key()}).Info("snapshot export enabled")
	} else {
		log.WithComponent("main").Info("S3 storage disabled; skipping snapshot export")
	}

	if *once {
		snap, err := runner.RunOnce(ctx)
		if err != nil {
			log.WithError(err).Error("refresh cycle failed")
			os.Exit(1)
		}
		for _, st := range snap.Statuses {
			entry := log.WithComponent("main").WithFields(logger.Fields{
				"exchange": st.Exchange.String(),
				"items":    st.Items,
			})
			if !st.OK {
				entry.WithFields(logger.Fields{"error": st.Error}).Warn("exchange unavailable")
				continue
			}
			entry.Info("exchange ok")
		}
		log.WithComponent("main").WithFields(logger.Fields{
			"cycle_id": snap.CycleID.String(),
			"rows":     len(snap.Rows),
			"skipped":  len(snap.Skipped),
		}).Info("single cycle completed")
		return
	}

	dash, err := dashboard.NewServer(cfg.Dashboard, log, runner)
	if err != nil {
		log.WithError(err).Error("failed to create dashboard")
		os.Exit(1)
	}

	var wg sync.WaitGroup

	if cfg.Metrics.Prometheus.Enabled {
		metrics.Init()
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := metrics.Serve(ctx, cfg.Metrics.Prometheus.Address); err != nil {
				log.WithError(err).Warn("metrics server stopped")
			}
		}()
	}

	if dash != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := dash.Run(ctx); err != nil {
				log.WithError(err).Warn("dashboard stopped")
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := runner.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.WithError(err).Warn("refresh scheduler stopped")
		}
	}()

	log.Info("all components started successfully")

	<-ctx.Done()
	log.Info("shutdown signal received; starting graceful shutdown")

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info("graceful shutdown completed")
	case <-time.After(30 * time.Second):
		log.Warn("graceful shutdown timeout exceeded")
	}

	log.Info("dex-funding-hub stopped")
}
