// Package config loads the FinSage service configuration. Configuration is
// read once at startup from an optional YAML file plus FINSAGE_-prefixed
// environment variables and passed down as an immutable struct; components
// never consult the environment themselves.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the root configuration for the service
type Config struct {
	Environment string          `mapstructure:"environment"`
	API         APIConfig       `mapstructure:"api"`
	Cache       CacheConfig     `mapstructure:"cache"`
	Embedding   EmbeddingConfig `mapstructure:"embedding"`
	Logging     LoggingConfig   `mapstructure:"logging"`
}

// APIConfig contains the ops HTTP server settings
type APIConfig struct {
	ListenAddress string        `mapstructure:"listen_address"`
	ReadTimeout   time.Duration `mapstructure:"read_timeout"`
	WriteTimeout  time.Duration `mapstructure:"write_timeout"`
	IdleTimeout   time.Duration `mapstructure:"idle_timeout"`
	LogRequests   bool          `mapstructure:"log_requests"`
}

// CacheConfig contains L2 cache (Redis) connection settings
type CacheConfig struct {
	Address      string        `mapstructure:"address"`
	Password     string        `mapstructure:"password"`
	Database     int           `mapstructure:"database"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	PoolSize     int           `mapstructure:"pool_size"`
	MaxRetries   int           `mapstructure:"max_retries"`
	// UseMemory falls back to the in-process L2 store when no Redis is available
	UseMemory bool `mapstructure:"use_memory"`
}

// EmbeddingConfig contains the hybrid embedding subsystem settings
type EmbeddingConfig struct {
	HybridEnabled     bool `mapstructure:"hybrid_enabled"`
	ShadowModeEnabled bool `mapstructure:"shadow_mode_enabled"`

	DailyAPIBudgetUSD float64 `mapstructure:"daily_api_budget_usd"`

	L1CacheSize       int `mapstructure:"l1_cache_size"`
	L2TTLAPISeconds   int `mapstructure:"l2_ttl_api_seconds"`
	L2TTLLocalSeconds int `mapstructure:"l2_ttl_local_seconds"`

	RealtimeLatencyThresholdMs int     `mapstructure:"realtime_latency_threshold_ms"`
	BatchSizeThreshold         int     `mapstructure:"batch_size_threshold"`
	SimilarityWarningThreshold float64 `mapstructure:"similarity_warning_threshold"`

	Breaker BreakerConfig     `mapstructure:"breaker"`
	API     APIProviderConfig `mapstructure:"api_provider"`
	Local   LocalConfig       `mapstructure:"local_provider"`
}

// BreakerConfig contains per-provider circuit breaker settings
type BreakerConfig struct {
	FailureThreshold int           `mapstructure:"failure_threshold"`
	CoolDown         time.Duration `mapstructure:"cool_down"`
}

// APIProviderConfig contains settings for the paid API provider
type APIProviderConfig struct {
	APIKey               string        `mapstructure:"api_key"`
	Endpoint             string        `mapstructure:"endpoint"`
	Model                string        `mapstructure:"model"`
	Dimensions           int           `mapstructure:"dimensions"`
	CostPer1MTokensUSD   float64       `mapstructure:"cost_per_1m_tokens_usd"`
	RequestTimeout       time.Duration `mapstructure:"request_timeout"`
	MaxRetries           int           `mapstructure:"max_retries"`
	RetryBaseDelay       time.Duration `mapstructure:"retry_base_delay"`
	MaxRequestsPerMinute int           `mapstructure:"max_requests_per_minute"`
}

// LocalConfig contains settings for the local provider
type LocalConfig struct {
	Model          string        `mapstructure:"model"`
	Dimensions     int           `mapstructure:"dimensions"`
	MaxBatchSize   int           `mapstructure:"max_batch_size"`
	MaxConcurrency int64         `mapstructure:"max_concurrency"`
	ComputeTimeout time.Duration `mapstructure:"compute_timeout"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

// Load loads configuration from file and environment variables
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	configFile := os.Getenv("FINSAGE_CONFIG_FILE")
	if configFile == "" {
		configFile = "configs/config.yaml"
	}
	v.SetConfigFile(configFile)

	v.SetEnvPrefix("FINSAGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Common non-prefixed aliases used in container environments
	_ = v.BindEnv("cache.address", "REDIS_ADDR")
	_ = v.BindEnv("embedding.api_provider.api_key", "OPENAI_API_KEY")

	if err := v.ReadInConfig(); err != nil {
		// A config file is optional when environment variables are set
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks invariants that would otherwise surface as runtime faults
func (c *Config) Validate() error {
	if c.Embedding.DailyAPIBudgetUSD < 0 {
		return fmt.Errorf("embedding.daily_api_budget_usd must be >= 0, got %f", c.Embedding.DailyAPIBudgetUSD)
	}
	if c.Embedding.L1CacheSize <= 0 {
		return fmt.Errorf("embedding.l1_cache_size must be > 0, got %d", c.Embedding.L1CacheSize)
	}
	if t := c.Embedding.SimilarityWarningThreshold; t <= 0 || t > 1 {
		return fmt.Errorf("embedding.similarity_warning_threshold must be in (0,1], got %f", t)
	}
	if c.Embedding.Breaker.FailureThreshold <= 0 {
		return fmt.Errorf("embedding.breaker.failure_threshold must be > 0, got %d", c.Embedding.Breaker.FailureThreshold)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "dev")

	v.SetDefault("api.listen_address", ":8080")
	v.SetDefault("api.read_timeout", 30*time.Second)
	v.SetDefault("api.write_timeout", 30*time.Second)
	v.SetDefault("api.idle_timeout", 90*time.Second)
	v.SetDefault("api.log_requests", true)

	v.SetDefault("cache.address", "localhost:6379")
	v.SetDefault("cache.database", 0)
	v.SetDefault("cache.dial_timeout", 5*time.Second)
	v.SetDefault("cache.read_timeout", 3*time.Second)
	v.SetDefault("cache.write_timeout", 3*time.Second)
	v.SetDefault("cache.pool_size", 10)
	v.SetDefault("cache.max_retries", 3)
	v.SetDefault("cache.use_memory", false)

	v.SetDefault("embedding.hybrid_enabled", true)
	v.SetDefault("embedding.shadow_mode_enabled", false)
	v.SetDefault("embedding.daily_api_budget_usd", 5.0)
	v.SetDefault("embedding.l1_cache_size", 2048)
	v.SetDefault("embedding.l2_ttl_api_seconds", 604800)
	v.SetDefault("embedding.l2_ttl_local_seconds", 86400)
	v.SetDefault("embedding.realtime_latency_threshold_ms", 500)
	v.SetDefault("embedding.batch_size_threshold", 64)
	v.SetDefault("embedding.similarity_warning_threshold", 0.95)

	v.SetDefault("embedding.breaker.failure_threshold", 5)
	v.SetDefault("embedding.breaker.cool_down", 30*time.Second)

	v.SetDefault("embedding.api_provider.endpoint", "https://api.openai.com/v1")
	v.SetDefault("embedding.api_provider.model", "text-embedding-3-small")
	v.SetDefault("embedding.api_provider.dimensions", 1536)
	v.SetDefault("embedding.api_provider.cost_per_1m_tokens_usd", 0.02)
	v.SetDefault("embedding.api_provider.request_timeout", 10*time.Second)
	v.SetDefault("embedding.api_provider.max_retries", 3)
	v.SetDefault("embedding.api_provider.retry_base_delay", 200*time.Millisecond)
	v.SetDefault("embedding.api_provider.max_requests_per_minute", 300)

	v.SetDefault("embedding.local_provider.model", "finsage-minilm-v1")
	v.SetDefault("embedding.local_provider.dimensions", 384)
	v.SetDefault("embedding.local_provider.max_batch_size", 32)
	v.SetDefault("embedding.local_provider.max_concurrency", 4)
	v.SetDefault("embedding.local_provider.compute_timeout", 5*time.Second)

	v.SetDefault("logging.level", "INFO")
}
