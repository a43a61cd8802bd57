package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/gatekeeper/pkg/storage"
)

// Store backends
const (
	StoreMemory   = "memory"
	StoreRedis    = "redis"
	StorePostgres = "postgres"
)

// Log formats
const (
	LogFormatJSON = "json"
	LogFormatText = "text"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig

	// Storage connection settings
	Storage storage.Config

	// Subscription and actor store selection
	Store StoreConfig

	// Entitlement engine tuning
	Entitlements EntitlementsConfig

	// Observability configuration
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	MaxBodyBytes    int64
}

// Addr returns the listen address
func (s ServerConfig) Addr() string {
	return s.Host + ":" + s.Port
}

// StoreConfig selects the persistence backends
type StoreConfig struct {
	// Type is the subscription store backend: memory, redis or postgres
	Type string
	// KeyPrefix namespaces Redis keys
	KeyPrefix string
	// Timeout bounds every store call
	Timeout time.Duration
	// RunMigrations applies schema migrations at startup (postgres only)
	RunMigrations bool

	// Actors are read from postgres whenever a postgres URL is configured,
	// otherwise from memory.
	ActorCacheSize int
	ActorCacheTTL  time.Duration
}

// EntitlementsConfig tunes the entitlement engine
type EntitlementsConfig struct {
	// CatalogPath overrides the embedded plan catalog
	CatalogPath string
	// MaxAttempts bounds compare-and-swap retries
	MaxAttempts int
	// PlatformTenantID is the only tenant allowed to grant sub-operators
	PlatformTenantID string
	// BootstrapOwner is made owner of the platform tenant at startup when
	// it has no membership yet
	BootstrapOwner string
	// LandingPath receives redirected navigation
	LandingPath string

	RenewalEnabled     bool
	RenewalSchedule    string
	RenewalConcurrency int
	RenewalBatchSize   int
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	// Logging
	LogLevel  logrus.Level
	LogFormat string

	// Metrics
	MetricsEnabled bool

	// OpenTelemetry
	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool // Use insecure gRPC connection
	OTelSampleRatio    float64
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Storage:       loadStorageConfig(),
		Store:         loadStoreConfig(),
		Entitlements:  loadEntitlementsConfig(),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("GATEKEEPER_HOST", "0.0.0.0"),
		Port:            getEnv("GATEKEEPER_PORT", "8080"),
		ReadTimeout:     getEnvDuration("GATEKEEPER_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("GATEKEEPER_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("GATEKEEPER_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("GATEKEEPER_SHUTDOWN_TIMEOUT", 30*time.Second),
		MaxBodyBytes:    getEnvInt64("GATEKEEPER_MAX_BODY_BYTES", 1<<20),
	}
}

func loadStorageConfig() storage.Config {
	cfg := storage.DefaultConfig()

	// PostgreSQL config
	if pgURL := getEnv("GATEKEEPER_POSTGRES_URL", ""); pgURL != "" {
		cfg.PostgresURL = pgURL
	}
	if maxConns := getEnvInt("GATEKEEPER_POSTGRES_MAX_CONNS", 0); maxConns > 0 {
		cfg.PostgresMaxConns = maxConns
	}
	if minConns := getEnvInt("GATEKEEPER_POSTGRES_MIN_CONNS", 0); minConns > 0 {
		cfg.PostgresMinConns = minConns
	}
	if timeout := getEnvDuration("GATEKEEPER_POSTGRES_TIMEOUT", 0); timeout > 0 {
		cfg.PostgresTimeout = timeout
	}

	// Redis config
	if redisURL := getEnv("GATEKEEPER_REDIS_URL", ""); redisURL != "" {
		cfg.RedisURL = redisURL
	}
	if redisPassword := getEnv("GATEKEEPER_REDIS_PASSWORD", ""); redisPassword != "" {
		cfg.RedisPassword = redisPassword
	}
	if redisDB := getEnvInt("GATEKEEPER_REDIS_DB", -1); redisDB >= 0 {
		cfg.RedisDB = redisDB
	}
	if redisMaxRetries := getEnvInt("GATEKEEPER_REDIS_MAX_RETRIES", 0); redisMaxRetries > 0 {
		cfg.RedisMaxRetries = redisMaxRetries
	}
	if redisPoolSize := getEnvInt("GATEKEEPER_REDIS_POOL_SIZE", 0); redisPoolSize > 0 {
		cfg.RedisPoolSize = redisPoolSize
	}

	return cfg
}

func loadStoreConfig() StoreConfig {
	return StoreConfig{
		Type:           strings.ToLower(getEnv("GATEKEEPER_STORE_TYPE", StoreMemory)),
		KeyPrefix:      getEnv("GATEKEEPER_REDIS_KEY_PREFIX", "gatekeeper"),
		Timeout:        getEnvDuration("GATEKEEPER_STORE_TIMEOUT", 2*time.Second),
		RunMigrations:  getEnvBool("GATEKEEPER_RUN_MIGRATIONS", true),
		ActorCacheSize: getEnvInt("GATEKEEPER_ACTOR_CACHE_SIZE", 10000),
		ActorCacheTTL:  getEnvDuration("GATEKEEPER_ACTOR_CACHE_TTL", 30*time.Second),
	}
}

func loadEntitlementsConfig() EntitlementsConfig {
	return EntitlementsConfig{
		CatalogPath:        getEnv("GATEKEEPER_CATALOG_PATH", ""),
		MaxAttempts:        getEnvInt("GATEKEEPER_MAX_ATTEMPTS", 5),
		PlatformTenantID:   getEnv("GATEKEEPER_PLATFORM_TENANT_ID", ""),
		BootstrapOwner:     getEnv("GATEKEEPER_BOOTSTRAP_OWNER", ""),
		LandingPath:        getEnv("GATEKEEPER_LANDING_PATH", "/"),
		RenewalEnabled:     getEnvBool("GATEKEEPER_RENEWAL_ENABLED", true),
		RenewalSchedule:    getEnv("GATEKEEPER_RENEWAL_SCHEDULE", "*/5 * * * *"),
		RenewalConcurrency: getEnvInt("GATEKEEPER_RENEWAL_CONCURRENCY", 8),
		RenewalBatchSize:   getEnvInt("GATEKEEPER_RENEWAL_BATCH_SIZE", 500),
	}
}

func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           parseLogLevel(getEnv("GATEKEEPER_LOG_LEVEL", "info")),
		LogFormat:          strings.ToLower(getEnv("GATEKEEPER_LOG_FORMAT", LogFormatJSON)),
		MetricsEnabled:     getEnvBool("GATEKEEPER_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("GATEKEEPER_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("GATEKEEPER_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("GATEKEEPER_OTEL_SERVICE_NAME", "gatekeeper"),
		OTelServiceVersion: getEnv("GATEKEEPER_OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("GATEKEEPER_OTEL_INSECURE", true),
		OTelSampleRatio:    getEnvFloat("GATEKEEPER_OTEL_SAMPLE_RATIO", 1.0),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}

	switch c.Store.Type {
	case StoreMemory:
	case StoreRedis:
		if c.Storage.RedisURL == "" {
			return fmt.Errorf("redis URL is required for redis store")
		}
	case StorePostgres:
		if c.Storage.PostgresURL == "" {
			return fmt.Errorf("postgres URL is required for postgres store")
		}
	default:
		return fmt.Errorf("invalid store type: %s (must be memory, redis, or postgres)", c.Store.Type)
	}
	if c.Store.Timeout <= 0 {
		return fmt.Errorf("store timeout must be positive")
	}
	if c.Store.ActorCacheSize < 0 {
		return fmt.Errorf("actor cache size must not be negative")
	}

	if c.Entitlements.MaxAttempts < 1 {
		return fmt.Errorf("max attempts must be at least 1")
	}
	if c.Entitlements.BootstrapOwner != "" && c.Entitlements.PlatformTenantID == "" {
		return fmt.Errorf("bootstrap owner requires a platform tenant id")
	}
	if !strings.HasPrefix(c.Entitlements.LandingPath, "/") {
		return fmt.Errorf("landing path must be an absolute path: %q", c.Entitlements.LandingPath)
	}
	if c.Entitlements.RenewalEnabled {
		if _, err := cron.ParseStandard(c.Entitlements.RenewalSchedule); err != nil {
			return fmt.Errorf("invalid renewal schedule %q: %w", c.Entitlements.RenewalSchedule, err)
		}
		if c.Entitlements.RenewalConcurrency < 1 {
			return fmt.Errorf("renewal concurrency must be at least 1")
		}
		if c.Entitlements.RenewalBatchSize < 1 {
			return fmt.Errorf("renewal batch size must be at least 1")
		}
	}

	switch c.Observability.LogFormat {
	case LogFormatJSON, LogFormatText:
	default:
		return fmt.Errorf("invalid log format: %s (must be json or text)", c.Observability.LogFormat)
	}

	// Validate OpenTelemetry config
	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
		if c.Observability.OTelSampleRatio < 0 || c.Observability.OTelSampleRatio > 1 {
			return fmt.Errorf("OpenTelemetry sample ratio must be between 0 and 1")
		}
	}

	return nil
}

// parseLogLevel parses a log level string, falling back to info
func parseLogLevel(level string) logrus.Level {
	parsed, err := logrus.ParseLevel(strings.ToLower(level))
	if err != nil {
		return logrus.InfoLevel
	}
	return parsed
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvInt64 returns an int64 environment variable or a default
func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
