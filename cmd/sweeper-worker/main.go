package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	v1 "carbon-scribe/marketplace/marketplace-backend/api/v1"
	"carbon-scribe/marketplace/marketplace-backend/internal/config"
	"carbon-scribe/marketplace/marketplace-backend/internal/transactions"
)

// SweepWorker runs the checkout sweeper outside the API process
type SweepWorker struct {
	sweeper *transactions.Sweeper
	logger  *zap.Logger
	timeout time.Duration
}

// NewSweepWorker creates a new sweep worker
func NewSweepWorker(sweeper *transactions.Sweeper, logger *zap.Logger, timeout time.Duration) *SweepWorker {
	return &SweepWorker{
		sweeper: sweeper,
		logger:  logger,
		timeout: timeout,
	}
}

// Start sweeps once immediately, then hands off to the cron schedule and
// blocks until ctx is cancelled
func (w *SweepWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting sweep worker")

	runCtx, cancel := context.WithTimeout(ctx, w.timeout)
	result, err := w.sweeper.RunOnce(runCtx)
	cancel()
	if err != nil {
		w.logger.Error("Initial sweep failed", zap.Error(err))
	} else {
		w.logger.Info("Initial sweep finished",
			zap.Int("expired", result.Expired),
			zap.Int("reconciled", result.Reconciled),
			zap.Bool("skipped", result.Skipped),
		)
	}

	if err := w.sweeper.Start(); err != nil {
		return err
	}
	<-ctx.Done()
	w.logger.Info("Sweep worker shutting down")
	w.sweeper.Stop()
	return nil
}

func main() {
	cfg, err := config.LoadConfig(os.Getenv("CONFIG_PATH"))
	if err != nil {
		panic(err)
	}
	logger, err := cfg.Logging.NewLogger()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	registry := prometheus.NewRegistry()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	deps, closeDeps, err := v1.OpenDependencies(ctx, cfg, registry, logger)
	if err != nil {
		logger.Fatal("Failed to open dependencies", zap.Error(err))
	}
	defer closeDeps()

	marketplace, err := v1.SetupMarketplaceAPI(deps)
	if err != nil {
		logger.Fatal("Failed to set up services", zap.Error(err))
	}

	// Metrics only; the worker serves no API
	if cfg.Monitoring.MetricsEnabled {
		mux := http.NewServeMux()
		mux.Handle(cfg.Monitoring.MetricsPath, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
		srv := &http.Server{Addr: cfg.Server.GetServerAddr(), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("Metrics server failed", zap.Error(err))
			}
		}()
		defer srv.Close()
	}

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("Shutdown signal received")
		cancel()
	}()

	worker := NewSweepWorker(marketplace.Sweeper, logger, cfg.Marketplace.SweepLockTTL)
	if err := worker.Start(ctx); err != nil {
		logger.Error("Sweep worker error", zap.Error(err))
	}

	logger.Info("Sweep worker stopped")
}
