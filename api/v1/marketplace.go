package v1

import (
	"github.com/bsm/redislock"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"carbon-scribe/marketplace/marketplace-backend/internal/auth"
	"carbon-scribe/marketplace/marketplace-backend/internal/config"
	"carbon-scribe/marketplace/marketplace-backend/internal/database"
	"carbon-scribe/marketplace/marketplace-backend/internal/inventory"
	"carbon-scribe/marketplace/marketplace-backend/internal/investments"
	"carbon-scribe/marketplace/marketplace-backend/internal/metrics"
	"carbon-scribe/marketplace/marketplace-backend/internal/notifications"
	"carbon-scribe/marketplace/marketplace-backend/internal/pricing"
	"carbon-scribe/marketplace/marketplace-backend/internal/reports"
	"carbon-scribe/marketplace/marketplace-backend/internal/sponsorships"
	"carbon-scribe/marketplace/marketplace-backend/internal/transactions"
	"carbon-scribe/marketplace/marketplace-backend/pkg/cache"
)

// Dependencies are the shared resources every module is built from.
// Cache, Locker, Metrics and Publisher may be nil.
type Dependencies struct {
	DB        *database.DB
	Cache     *cache.Cache
	Locker    *redislock.Client
	Metrics   *metrics.Metrics
	Publisher *notifications.Dispatcher
	Config    *config.Config
	Logger    *zap.Logger
}

type routeRegistrar interface {
	RegisterRoutes(router *gin.RouterGroup)
}

// MarketplaceAPI holds the wired services and their handlers
type MarketplaceAPI struct {
	Inventory    *inventory.Service
	Orders       *transactions.Service
	Sweeper      *transactions.Sweeper
	Sponsorships *sponsorships.Service
	Investments  *investments.Service
	Reports      *reports.Service

	handlers []routeRegistrar
}

// Models lists every table the marketplace owns
func Models() []any {
	var models []any
	models = append(models, inventory.Models()...)
	models = append(models, transactions.Models()...)
	models = append(models, sponsorships.Models()...)
	models = append(models, investments.Models()...)
	return models
}

// SetupMarketplaceAPI wires repositories, services and handlers
func SetupMarketplaceAPI(deps Dependencies) (*MarketplaceAPI, error) {
	cfg := deps.Config
	logger := deps.Logger

	var publisher transactions.Publisher
	if deps.Publisher != nil {
		publisher = deps.Publisher
	}

	// Inventory ledger
	ledger := inventory.NewService(inventory.NewRepository(deps.DB.Gorm), deps.Cache, deps.Metrics, logger)

	// Orders
	engine := pricing.NewEngine(cfg.Marketplace.PlatformFeeRate, cfg.Marketplace.TokenDiscountRate)
	orderRepo := transactions.NewRepository(deps.DB.Gorm)
	orders := transactions.NewService(orderRepo, ledger, engine, publisher, deps.Metrics, logger, cfg.Marketplace.MaxTransitionRetries)
	sweeper := transactions.NewSweeper(orders, orderRepo, ledger, deps.Locker, transactions.SweeperConfig{
		Schedule:       cfg.Marketplace.SweepSchedule,
		CheckoutWindow: cfg.Marketplace.CheckoutWindow,
		BatchSize:      cfg.Marketplace.SweepBatchSize,
		LockTTL:        cfg.Marketplace.SweepLockTTL,
	}, deps.Metrics, logger)

	// Sponsorships and investments
	sponsorshipService := sponsorships.NewService(sponsorships.NewRepository(deps.DB.Gorm), ledger, publisher, logger)
	investmentService := investments.NewService(investments.NewRepository(deps.DB.Gorm), ledger, publisher, logger)

	// Read models
	reportService := reports.NewService(reports.NewSQLRepository(deps.DB.SQLX), logger)

	return &MarketplaceAPI{
		Inventory:    ledger,
		Orders:       orders,
		Sweeper:      sweeper,
		Sponsorships: sponsorshipService,
		Investments:  investmentService,
		Reports:      reportService,
		handlers: []routeRegistrar{
			auth.NewHandler(),
			inventory.NewHandler(ledger, logger),
			transactions.NewHandler(orders, logger),
			sponsorships.NewHandler(sponsorshipService, logger),
			investments.NewHandler(investmentService, logger),
			reports.NewHandler(reportService, logger),
		},
	}, nil
}

// RegisterRoutes registers every marketplace route on an authenticated group
func RegisterRoutes(router *gin.RouterGroup, api *MarketplaceAPI) {
	for _, h := range api.handlers {
		h.RegisterRoutes(router)
	}
}
