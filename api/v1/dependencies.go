package v1

import (
	"context"
	"fmt"

	"github.com/bsm/redislock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"carbon-scribe/marketplace/marketplace-backend/internal/config"
	"carbon-scribe/marketplace/marketplace-backend/internal/database"
	"carbon-scribe/marketplace/marketplace-backend/internal/metrics"
	"carbon-scribe/marketplace/marketplace-backend/internal/notifications"
	"carbon-scribe/marketplace/marketplace-backend/pkg/cache"
)

const availabilityCachePrefix = "marketplace:availability:"

// OpenDependencies connects the database and Redis, registers metrics on reg
// and builds the notification dispatcher from notifiers plus the configured
// SNS topic. The returned close function releases every connection.
func OpenDependencies(ctx context.Context, cfg *config.Config, reg prometheus.Registerer, logger *zap.Logger, notifiers ...notifications.Notifier) (Dependencies, func(), error) {
	db, err := database.Open(cfg.Database, logger)
	if err != nil {
		return Dependencies{}, nil, err
	}
	if cfg.Database.AutoMigrate {
		if err := db.Migrate(Models()...); err != nil {
			_ = db.Close()
			return Dependencies{}, nil, err
		}
	}

	var (
		client *redis.Client
		locker *redislock.Client
	)
	if cfg.Redis.Addr != "" {
		client, err = cache.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			_ = db.Close()
			return Dependencies{}, nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		locker = redislock.New(client)
		logger.Info("Connected to redis", zap.String("addr", cfg.Redis.Addr))
	} else {
		logger.Warn("Redis not configured; availability cache and sweep lock disabled")
	}

	var m *metrics.Metrics
	if cfg.Monitoring.MetricsEnabled {
		m = metrics.New(reg)
	}

	notifiers = append([]notifications.Notifier{notifications.NewLogNotifier(logger)}, notifiers...)
	if cfg.Notifications.SNSTopicARN != "" {
		sns, err := notifications.NewSNSNotifierFromEnv(ctx, cfg.Notifications.AWSRegion, cfg.Notifications.SNSTopicARN)
		if err != nil {
			logger.Warn("SNS fan-out disabled", zap.Error(err))
		} else {
			notifiers = append(notifiers, sns)
		}
	}

	publisher := notifications.NewDispatcher(logger, m, notifiers...)
	deps := Dependencies{
		DB:        db,
		Cache:     cache.New(client, availabilityCachePrefix, cfg.Redis.CacheTTL),
		Locker:    locker,
		Metrics:   m,
		Publisher: publisher,
		Config:    cfg,
		Logger:    logger,
	}
	closeAll := func() {
		publisher.Close()
		if client != nil {
			_ = client.Close()
		}
		if err := db.Close(); err != nil {
			logger.Warn("Failed to close database", zap.Error(err))
		}
	}
	return deps, closeAll, nil
}
