package transactions

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bsm/redislock"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"carbon-scribe/marketplace/marketplace-backend/internal/metrics"
)

const sweepLockKey = "marketplace:lock:checkout-sweeper"

// SweeperConfig configures the checkout sweeper
type SweeperConfig struct {
	Schedule       string
	CheckoutWindow time.Duration
	BatchSize      int
	LockTTL        time.Duration
}

// SweepResult summarizes one run
type SweepResult struct {
	Expired    int  `json:"expired"`
	Reconciled int  `json:"reconciled"`
	Skipped    bool `json:"skipped"`
}

// Sweeper fails pending orders older than the checkout window and hands back
// any reservation still held by a failed or refunded order. A Redis lock keeps
// it to one replica at a time; without a locker every replica sweeps, which is
// safe because each step is idempotent.
type Sweeper struct {
	service *Service
	repo    Repository
	ledger  Ledger
	locker  *redislock.Client
	cron    *cron.Cron
	config  SweeperConfig
	metrics *metrics.Metrics
	logger  *zap.Logger
	now     func() time.Time

	mu      sync.Mutex
	running bool
}

// NewSweeper creates a sweeper. locker may be nil.
func NewSweeper(
	service *Service,
	repo Repository,
	ledger Ledger,
	locker *redislock.Client,
	config SweeperConfig,
	m *metrics.Metrics,
	logger *zap.Logger,
) *Sweeper {
	if config.BatchSize <= 0 {
		config.BatchSize = 100
	}
	if config.LockTTL <= 0 {
		config.LockTTL = 50 * time.Second
	}
	return &Sweeper{
		service: service,
		repo:    repo,
		ledger:  ledger,
		locker:  locker,
		cron:    cron.New(),
		config:  config,
		metrics: m,
		logger:  logger,
		now:     time.Now,
	}
}

// Start schedules the sweep
func (s *Sweeper) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("checkout sweeper already running")
	}

	if _, err := s.cron.AddFunc(s.config.Schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.config.LockTTL)
		defer cancel()
		if _, err := s.RunOnce(ctx); err != nil {
			s.logger.Error("Checkout sweep failed", zap.Error(err))
		}
	}); err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", s.config.Schedule, err)
	}

	s.logger.Info("Starting checkout sweeper",
		zap.String("schedule", s.config.Schedule),
		zap.Duration("checkout_window", s.config.CheckoutWindow),
		zap.Int("batch_size", s.config.BatchSize),
	)
	s.cron.Start()
	s.running = true
	return nil
}

// Stop waits for a running sweep to finish
func (s *Sweeper) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	s.logger.Info("Stopping checkout sweeper")
	<-s.cron.Stop().Done()
	s.running = false
}

// RunOnce performs a single sweep
func (s *Sweeper) RunOnce(ctx context.Context) (SweepResult, error) {
	var result SweepResult

	if s.locker != nil {
		lock, err := s.locker.Obtain(ctx, sweepLockKey, s.config.LockTTL, nil)
		if errors.Is(err, redislock.ErrNotObtained) {
			s.metrics.Sweep("skipped", 0)
			result.Skipped = true
			return result, nil
		}
		if err != nil {
			s.metrics.Sweep("error", 0)
			return result, fmt.Errorf("failed to obtain sweep lock: %w", err)
		}
		defer func() {
			if err := lock.Release(context.Background()); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
				s.logger.Warn("Failed to release sweep lock", zap.Error(err))
			}
		}()
	}

	cutoff := s.now().UTC().Add(-s.config.CheckoutWindow)
	stale, err := s.repo.ListStalePending(ctx, cutoff, s.config.BatchSize)
	if err != nil {
		s.metrics.Sweep("error", 0)
		return result, err
	}
	for _, txn := range stale {
		if _, err := s.service.Expire(ctx, txn.ID); err != nil {
			if isInvalidTransition(err) {
				continue
			}
			s.logger.Warn("Failed to expire order", zap.String("transaction_id", txn.ID.String()), zap.Error(err))
			continue
		}
		result.Expired++
	}

	unreleased, err := s.repo.ListReleasableWithHeldReservation(ctx, s.config.BatchSize)
	if err != nil {
		s.metrics.Sweep("error", result.Expired)
		return result, err
	}
	for _, txn := range unreleased {
		restored, err := s.ledger.ReleaseReservation(ctx, txn.ReservationID, txn.Status)
		if err != nil {
			s.logger.Warn("Failed to reconcile reservation",
				zap.String("transaction_id", txn.ID.String()),
				zap.String("reservation_id", txn.ReservationID.String()),
				zap.Error(err),
			)
			continue
		}
		if restored > 0 {
			result.Reconciled++
		}
	}

	s.metrics.Sweep("ok", result.Expired)
	if result.Expired > 0 || result.Reconciled > 0 {
		s.logger.Info("Checkout sweep finished",
			zap.Int("expired", result.Expired),
			zap.Int("reconciled", result.Reconciled),
		)
	}
	return result, nil
}
