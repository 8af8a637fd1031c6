package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config represents the application configuration
type Config struct {
	Server        ServerConfig        `json:"server"`
	Database      DatabaseConfig      `json:"database"`
	Redis         RedisConfig         `json:"redis"`
	Marketplace   MarketplaceConfig   `json:"marketplace"`
	Security      SecurityConfig      `json:"security"`
	Logging       LoggingConfig       `json:"logging"`
	Monitoring    MonitoringConfig    `json:"monitoring"`
	Notifications NotificationsConfig `json:"notifications"`
}

// ServerConfig represents server configuration
type ServerConfig struct {
	Host         string        `json:"host"`
	Port         int           `json:"port"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	IdleTimeout  time.Duration `json:"idle_timeout"`
}

// DatabaseConfig represents database configuration.
// Driver is "postgres" in deployments and "sqlite" for local runs.
type DatabaseConfig struct {
	Driver         string        `json:"driver"`
	Host           string        `json:"host"`
	Port           int           `json:"port"`
	User           string        `json:"user"`
	Password       string        `json:"password"`
	DBName         string        `json:"db_name"`
	SSLMode        string        `json:"ssl_mode"`
	SQLitePath     string        `json:"sqlite_path"`
	MaxConnections int           `json:"max_connections"`
	MaxIdleConns   int           `json:"max_idle_conns"`
	MaxLifetime    time.Duration `json:"max_lifetime"`
	AutoMigrate    bool          `json:"auto_migrate"`
}

// RedisConfig backs the availability cache and the sweeper lock.
// An empty Addr disables both.
type RedisConfig struct {
	Addr     string        `json:"addr"`
	Password string        `json:"password"`
	DB       int           `json:"db"`
	CacheTTL time.Duration `json:"cache_ttl"`
}

// MarketplaceConfig holds settlement tunables
type MarketplaceConfig struct {
	PlatformFeeRate      decimal.Decimal `json:"platform_fee_rate"`
	TokenDiscountRate    decimal.Decimal `json:"token_discount_rate"`
	CheckoutWindow       time.Duration   `json:"checkout_window"`
	SweepSchedule        string          `json:"sweep_schedule"`
	SweepBatchSize       int             `json:"sweep_batch_size"`
	SweepLockTTL         time.Duration   `json:"sweep_lock_ttl"`
	EmbeddedSweeper      bool            `json:"embedded_sweeper"`
	MaxTransitionRetries int             `json:"max_transition_retries"`
}

// SecurityConfig
type SecurityConfig struct {
	JWTSecret string `json:"jwt_secret"`
}

// LoggingConfig
type LoggingConfig struct {
	Level       string `json:"level"`
	Development bool   `json:"development"`
}

// MonitoringConfig
type MonitoringConfig struct {
	MetricsEnabled bool   `json:"metrics_enabled"`
	MetricsPath    string `json:"metrics_path"`
}

// NotificationsConfig selects where order events are fanned out to
type NotificationsConfig struct {
	WebSocketEnabled bool   `json:"websocket_enabled"`
	SNSTopicARN      string `json:"sns_topic_arn"`
	AWSRegion        string `json:"aws_region"`
}

// Default returns the configuration used when no file is present
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		Database: DatabaseConfig{
			Driver:         "postgres",
			Host:           "localhost",
			Port:           5432,
			User:           os.Getenv("USER"),
			DBName:         "carbonscribe_marketplace",
			SSLMode:        "disable",
			SQLitePath:     "marketplace.db",
			MaxConnections: 25,
			MaxIdleConns:   5,
			MaxLifetime:    30 * time.Minute,
			AutoMigrate:    true,
		},
		Redis: RedisConfig{
			CacheTTL: 30 * time.Second,
		},
		Marketplace: MarketplaceConfig{
			PlatformFeeRate:      decimal.RequireFromString("0.02"),
			TokenDiscountRate:    decimal.RequireFromString("0.10"),
			CheckoutWindow:       15 * time.Minute,
			SweepSchedule:        "@every 1m",
			SweepBatchSize:       100,
			SweepLockTTL:         50 * time.Second,
			EmbeddedSweeper:      true,
			MaxTransitionRetries: 3,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Monitoring: MonitoringConfig{
			MetricsEnabled: true,
			MetricsPath:    "/metrics",
		},
		Notifications: NotificationsConfig{
			WebSocketEnabled: true,
			AWSRegion:        "us-east-1",
		},
	}
}

// LoadConfig loads configuration from file and environment variables.
// A .env file in the working directory is loaded first when present.
func LoadConfig(configPath string) (*Config, error) {
	_ = godotenv.Load()

	config := Default()

	// Load from file if exists
	if configPath != "" {
		if data, err := os.ReadFile(configPath); err == nil {
			if err := json.Unmarshal(data, config); err != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		}
	}

	// Override with environment variables
	if err := overrideWithEnv(config); err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func overrideWithEnv(config *Config) error {
	if host := os.Getenv("SERVER_HOST"); host != "" {
		config.Server.Host = host
	}
	if port := os.Getenv("SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if driver := os.Getenv("DATABASE_DRIVER"); driver != "" {
		config.Database.Driver = driver
	}
	if dbHost := os.Getenv("DATABASE_HOST"); dbHost != "" {
		config.Database.Host = dbHost
	}
	if dbUser := os.Getenv("DATABASE_USER"); dbUser != "" {
		config.Database.User = dbUser
	}
	if dbPass := os.Getenv("DATABASE_PASSWORD"); dbPass != "" {
		config.Database.Password = dbPass
	}
	if dbName := os.Getenv("DATABASE_DBNAME"); dbName != "" {
		config.Database.DBName = dbName
	}
	if path := os.Getenv("DATABASE_SQLITE_PATH"); path != "" {
		config.Database.SQLitePath = path
	}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		config.Redis.Addr = addr
	}
	if pass := os.Getenv("REDIS_PASSWORD"); pass != "" {
		config.Redis.Password = pass
	}
	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		config.Security.JWTSecret = secret
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if arn := os.Getenv("SNS_TOPIC_ARN"); arn != "" {
		config.Notifications.SNSTopicARN = arn
	}
	if window := os.Getenv("CHECKOUT_WINDOW"); window != "" {
		d, err := time.ParseDuration(window)
		if err != nil {
			return fmt.Errorf("invalid CHECKOUT_WINDOW: %w", err)
		}
		config.Marketplace.CheckoutWindow = d
	}
	if rate := os.Getenv("PLATFORM_FEE_RATE"); rate != "" {
		d, err := decimal.NewFromString(rate)
		if err != nil {
			return fmt.Errorf("invalid PLATFORM_FEE_RATE: %w", err)
		}
		config.Marketplace.PlatformFeeRate = d
	}
	if rate := os.Getenv("TOKEN_DISCOUNT_RATE"); rate != "" {
		d, err := decimal.NewFromString(rate)
		if err != nil {
			return fmt.Errorf("invalid TOKEN_DISCOUNT_RATE: %w", err)
		}
		config.Marketplace.TokenDiscountRate = d
	}
	return nil
}

// Validate rejects configurations the settlement core cannot run with
func (c *Config) Validate() error {
	one := decimal.NewFromInt(1)
	if c.Marketplace.PlatformFeeRate.IsNegative() || c.Marketplace.PlatformFeeRate.GreaterThan(one) {
		return fmt.Errorf("platform_fee_rate must be within [0, 1]")
	}
	if c.Marketplace.TokenDiscountRate.IsNegative() || c.Marketplace.TokenDiscountRate.GreaterThan(one) {
		return fmt.Errorf("token_discount_rate must be within [0, 1]")
	}
	if c.Marketplace.CheckoutWindow <= 0 {
		return fmt.Errorf("checkout_window must be positive")
	}
	if c.Marketplace.MaxTransitionRetries < 1 {
		return fmt.Errorf("max_transition_retries must be at least 1")
	}
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	return nil
}

// NewLogger builds the zap logger described by the logging section
func (c LoggingConfig) NewLogger() (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	if c.Development {
		zcfg = zap.NewDevelopmentConfig()
	}
	if c.Level != "" {
		level, err := zapcore.ParseLevel(c.Level)
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", c.Level, err)
		}
		zcfg.Level = zap.NewAtomicLevelAt(level)
	}
	return zcfg.Build()
}

// GetDatabaseURL returns the database connection string
func (c *DatabaseConfig) GetDatabaseURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode)
}

// GetServerAddr returns the server address
func (c *ServerConfig) GetServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
