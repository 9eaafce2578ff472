package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of every environment override (CMS_API_BASE_URL).
const EnvPrefix = "CMS"

// Shared cache backends.
const (
	BackendNone    = "none"
	BackendMemory  = "memory"
	BackendRedis   = "redis"
	BackendLayered = "layered"
)

// Config holds all configuration for the CMS client
type Config struct {
	API           APIConfig           `mapstructure:"api"`
	Retry         RetryConfig         `mapstructure:"retry"`
	Cache         CacheConfig         `mapstructure:"cache"`
	Workers       WorkersConfig       `mapstructure:"workers"`
	Redis         RedisConfig         `mapstructure:"redis"`
	AWS           AWSConfig           `mapstructure:"aws"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	HTTP          HTTPConfig          `mapstructure:"http"`
}

// APIConfig holds the CMS API connection settings
type APIConfig struct {
	BaseURL   string            `mapstructure:"base_url"`
	Timeout   time.Duration     `mapstructure:"timeout"`
	Token     string            `mapstructure:"token"`
	Headers   map[string]string `mapstructure:"headers"`
	RateLimit RateLimitConfig   `mapstructure:"rate_limit"`
	Breaker   BreakerConfig     `mapstructure:"circuit_breaker"`
}

// RateLimitConfig holds client-side throttling. Zero requests per minute
// disables it.
type RateLimitConfig struct {
	RequestsPerMinute int `mapstructure:"requests_per_minute"`
	Burst             int `mapstructure:"burst"`
}

// BreakerConfig holds the transport circuit breaker settings
type BreakerConfig struct {
	Enabled          bool          `mapstructure:"enabled"`
	FailureThreshold int           `mapstructure:"failure_threshold"`
	SuccessThreshold int           `mapstructure:"success_threshold"`
	OpenTimeout      time.Duration `mapstructure:"open_timeout"`
}

// RetryConfig holds the bounded retry policy
type RetryConfig struct {
	MaxRetries int           `mapstructure:"max_retries"`
	BaseDelay  time.Duration `mapstructure:"base_delay"`
	MaxDelay   time.Duration `mapstructure:"max_delay"`
	Jitter     float64       `mapstructure:"jitter"`
}

// CacheConfig holds the in-process store and the shared response tier
type CacheConfig struct {
	StaleTime     time.Duration     `mapstructure:"stale_time"`
	Retention     time.Duration     `mapstructure:"retention"`
	SweepInterval time.Duration     `mapstructure:"sweep_interval"`
	Shared        SharedCacheConfig `mapstructure:"shared"`
}

// SharedCacheConfig selects the response cache tier consulted on cold misses
type SharedCacheConfig struct {
	Backend    string        `mapstructure:"backend"` // none, memory, redis, layered
	L1MaxSize  int           `mapstructure:"l1_max_size"`
	L1TTL      time.Duration `mapstructure:"l1_ttl"`
	L2TTL      time.Duration `mapstructure:"l2_ttl"`
	KeyPrefix  string        `mapstructure:"key_prefix"`
	WarmOnOpen bool          `mapstructure:"warm_on_open"`
}

// WorkersConfig sizes the background refetch pool
type WorkersConfig struct {
	Count     int `mapstructure:"count"`
	QueueSize int `mapstructure:"queue_size"`
}

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// AWSConfig holds AWS service configuration. An empty topic disables change
// notifications.
type AWSConfig struct {
	Endpoint    string `mapstructure:"endpoint"`
	Region      string `mapstructure:"region"`
	SNSTopicARN string `mapstructure:"sns_topic_arn"`
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	Logging LoggingConfig `mapstructure:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Tracing TracingConfig `mapstructure:"tracing"`
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json or text
	// File enables a rotated log file in addition to stderr.
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// MetricsConfig holds metrics settings
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// TracingConfig holds tracing settings
type TracingConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Endpoint string `mapstructure:"endpoint"`
}

// HTTPConfig holds the watch command's health/metrics listener
type HTTPConfig struct {
	Port int `mapstructure:"port"`
}

// Load loads configuration from a .env file, the config file and environment
// variables, in increasing order of precedence.
func Load(configPath string) (*Config, error) {
	// A missing .env is the normal case outside local development.
	_ = godotenv.Load()

	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) || configPath != "" {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// MustLoad loads configuration or panics
func MustLoad(configPath string) *Config {
	cfg, err := Load(configPath)
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// Default returns the configuration produced by the defaults alone.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	// Defaults always decode.
	_ = v.Unmarshal(&cfg)
	return &cfg
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// API defaults
	v.SetDefault("api.base_url", "http://localhost:5000/api")
	v.SetDefault("api.timeout", "20s")
	v.SetDefault("api.rate_limit.requests_per_minute", 0)
	v.SetDefault("api.rate_limit.burst", 10)
	v.SetDefault("api.circuit_breaker.enabled", true)
	v.SetDefault("api.circuit_breaker.failure_threshold", 5)
	v.SetDefault("api.circuit_breaker.success_threshold", 2)
	v.SetDefault("api.circuit_breaker.open_timeout", "30s")

	// Retry defaults: 3 retries after the first attempt
	v.SetDefault("retry.max_retries", 3)
	v.SetDefault("retry.base_delay", "250ms")
	v.SetDefault("retry.max_delay", "5s")
	v.SetDefault("retry.jitter", 0.2)

	// Cache defaults
	v.SetDefault("cache.stale_time", "60s")
	v.SetDefault("cache.retention", "5m")
	v.SetDefault("cache.sweep_interval", "1m")
	v.SetDefault("cache.shared.backend", BackendNone)
	v.SetDefault("cache.shared.l1_max_size", 1000)
	v.SetDefault("cache.shared.l1_ttl", "30s")
	v.SetDefault("cache.shared.l2_ttl", "5m")
	v.SetDefault("cache.shared.key_prefix", "cms:")
	v.SetDefault("cache.shared.warm_on_open", false)

	// Worker defaults
	v.SetDefault("workers.count", 4)
	v.SetDefault("workers.queue_size", 64)

	// Redis defaults
	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	// AWS defaults
	v.SetDefault("aws.endpoint", "")
	v.SetDefault("aws.region", "us-east-1")
	v.SetDefault("aws.sns_topic_arn", "")

	// Observability defaults
	v.SetDefault("observability.logging.level", "info")
	v.SetDefault("observability.logging.format", "json")
	v.SetDefault("observability.logging.file", "")
	v.SetDefault("observability.logging.max_size_mb", 50)
	v.SetDefault("observability.logging.max_backups", 3)
	v.SetDefault("observability.logging.max_age_days", 14)
	v.SetDefault("observability.metrics.enabled", true)
	v.SetDefault("observability.tracing.enabled", false)
	v.SetDefault("observability.tracing.endpoint", "localhost:4317")

	// HTTP defaults
	v.SetDefault("http.port", 9091)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	// API validation
	if c.API.BaseURL == "" {
		return fmt.Errorf("api base URL is required")
	}
	u, err := url.Parse(c.API.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid api base URL: %s", c.API.BaseURL)
	}
	if c.API.Timeout <= 0 {
		return fmt.Errorf("api timeout must be > 0")
	}
	if c.API.RateLimit.RequestsPerMinute < 0 {
		return fmt.Errorf("requests per minute must be >= 0")
	}

	// Retry validation
	if c.Retry.MaxRetries < 0 {
		return fmt.Errorf("max retries must be >= 0")
	}
	if c.Retry.Jitter < 0 || c.Retry.Jitter > 1 {
		return fmt.Errorf("retry jitter must be between 0 and 1")
	}

	// Cache validation
	if c.Cache.StaleTime < 0 {
		return fmt.Errorf("cache stale time must be >= 0")
	}
	if c.Cache.Retention < 0 {
		return fmt.Errorf("cache retention must be >= 0")
	}
	switch c.Cache.Shared.Backend {
	case BackendNone, BackendMemory:
	case BackendRedis, BackendLayered:
		if c.Redis.Address == "" {
			return fmt.Errorf("redis address is required for %s shared cache", c.Cache.Shared.Backend)
		}
	default:
		return fmt.Errorf("invalid shared cache backend: %s", c.Cache.Shared.Backend)
	}

	// AWS validation
	if c.AWS.SNSTopicARN != "" && c.AWS.Region == "" {
		return fmt.Errorf("AWS region is required when an SNS topic is set")
	}

	// Observability validation
	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.Observability.Logging.Level] {
		return fmt.Errorf("invalid log level: %s", c.Observability.Logging.Level)
	}

	validFormats := map[string]bool{
		"json": true,
		"text": true,
	}
	if !validFormats[c.Observability.Logging.Format] {
		return fmt.Errorf("invalid log format: %s", c.Observability.Logging.Format)
	}

	if c.Observability.Tracing.Enabled && c.Observability.Tracing.Endpoint == "" {
		return fmt.Errorf("tracing endpoint is required when tracing is enabled")
	}

	return nil
}
