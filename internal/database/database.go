package database

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"carbon-scribe/marketplace/marketplace-backend/internal/config"
)

// DB bundles the gorm handle used by the write side and an sqlx handle over
// the same pool used by read models.
type DB struct {
	Gorm   *gorm.DB
	SQLX   *sqlx.DB
	Driver string
}

// Open connects using the configured driver
func Open(cfg config.DatabaseConfig, logger *zap.Logger) (*DB, error) {
	switch cfg.Driver {
	case "postgres":
		return openPostgres(cfg, logger)
	case "sqlite":
		return openSQLite(fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", cfg.SQLitePath), logger)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

// gormConfig stamps every timestamp in UTC so range queries compare like with like
func gormConfig() *gorm.Config {
	return &gorm.Config{
		Logger:  gormlogger.Discard,
		NowFunc: func() time.Time { return time.Now().UTC() },
	}
}

func openPostgres(cfg config.DatabaseConfig, logger *zap.Logger) (*DB, error) {
	sqlDB, err := sql.Open("postgres", cfg.GetDatabaseURL())
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}
	sqlDB.SetMaxOpenConns(cfg.MaxConnections)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.MaxLifetime)
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), gormConfig())
	if err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to initialize gorm: %w", err)
	}

	logger.Info("Connected to database",
		zap.String("driver", "postgres"),
		zap.String("host", cfg.Host),
		zap.String("database", cfg.DBName),
	)
	return &DB{Gorm: gormDB, SQLX: sqlx.NewDb(sqlDB, "postgres"), Driver: "postgres"}, nil
}

func openSQLite(dsn string, logger *zap.Logger) (*DB, error) {
	gormDB, err := gorm.Open(sqlite.Open(dsn), gormConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	sqlDB, err := gormDB.DB()
	if err != nil {
		return nil, err
	}
	// sqlite serializes writers; a single connection also keeps an
	// in-memory database alive and shared.
	sqlDB.SetMaxOpenConns(1)

	logger.Info("Connected to database", zap.String("driver", "sqlite"), zap.String("dsn", dsn))
	return &DB{Gorm: gormDB, SQLX: sqlx.NewDb(sqlDB, "sqlite"), Driver: "sqlite"}, nil
}

// OpenInMemory returns an empty in-memory sqlite database
func OpenInMemory() (*DB, error) {
	return openSQLite(":memory:", zap.NewNop())
}

// Migrate creates or updates the tables for models
func (d *DB) Migrate(models ...any) error {
	if err := d.Gorm.AutoMigrate(models...); err != nil {
		return fmt.Errorf("auto-migrate failed: %w", err)
	}
	return nil
}

// Close closes the shared pool
func (d *DB) Close() error {
	return d.SQLX.Close()
}
