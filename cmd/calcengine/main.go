package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/sirupsen/logrus"

	"github.com/R3E-Network/calcengine/internal/finengine/behavior"
	"github.com/R3E-Network/calcengine/internal/finengine/calcache"
	"github.com/R3E-Network/calcengine/internal/finengine/calculators"
	"github.com/R3E-Network/calcengine/internal/finengine/debounce"
	"github.com/R3E-Network/calcengine/internal/finengine/engine"
	"github.com/R3E-Network/calcengine/internal/finengine/registry"
	"github.com/R3E-Network/calcengine/internal/finengine/workerpool"
	"github.com/R3E-Network/calcengine/pkg/config"
	"github.com/R3E-Network/calcengine/pkg/logger"
	"github.com/R3E-Network/calcengine/pkg/metrics"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("load config")
	}

	log := logger.New(logger.Config{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		FilePrefix: cfg.Logging.FilePrefix,
	})

	reg := registry.New()
	if err := calculators.Register(reg); err != nil {
		log.WithError(err).Fatal("register built-in calculators")
	}

	cache := calcache.New(calcache.Config{
		MaxEntries:      cfg.Cache.MaxEntries,
		MaxBytes:        cfg.Cache.MaxBytes,
		TTL:             cfg.Cache.TTL.Std(),
		CleanupInterval: cfg.Cache.CleanupInterval.Std(),
		AutoCleanup:     cfg.Cache.AutoCleanup,
		Logger:          log.Logger,
	})
	defer cache.Close()

	analyzer := behavior.New(behavior.Config{
		AnalysisWindow: cfg.Behavior.AnalysisWindow.Std(),
		SessionTimeout: cfg.Behavior.SessionTimeout.Std(),
		TickInterval:   cfg.Behavior.TickInterval.Std(),
		RingCapacity:   cfg.Behavior.RingCapacity,
		Logger:         zerolog.New(os.Stdout).With().Timestamp().Logger(),
	})

	deb := debounce.New(debounce.Config{
		Analyzer: analyzer,
		Logger:   log.Logger,
	})

	pool := workerpool.New(workerpool.Config{
		MaxWorkers:     cfg.Pool.MaxWorkers,
		InitialWorkers: cfg.Pool.InitialWorkers,
		RequestTimeout: cfg.Pool.RequestTimeout.Std(),
		IdleTimeout:    cfg.Pool.IdleTimeout.Std(),
		ErrorThreshold: int64(cfg.Pool.ErrorThreshold),
		ReapInterval:   cfg.Pool.CleanupInterval.Std(),
		Logger:         log.Logger,
	})

	eng := engine.New(engine.Config{
		Registry:  reg,
		Cache:     cache,
		Analyzer:  analyzer,
		Debouncer: deb,
		Pool:      pool,
		Logger:    log.Logger,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	analyzer.Start(ctx)
	if err := deb.Start(ctx); err != nil {
		log.WithError(err).Fatal("start debouncer")
	}
	pool.Start()
	defer pool.Stop()

	metricsAddr := os.Getenv("METRICS_ADDR")
	if metricsAddr == "" {
		metricsAddr = ":9090"
	}
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		if err := http.ListenAndServe(metricsAddr, mux); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Warn("metrics server stopped")
		}
	}()

	log.WithField("calculators", len(reg.List())).Info("calculation engine ready")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down")
	cancel()
	_ = deb.Stop(context.Background())

	stats := eng.Stats()
	log.WithFields(logrus.Fields{
		"total_calculations": stats.Total,
		"errors":             stats.Errors,
		"hit_rate":           stats.HitRate,
	}).Info("final stats")
}
