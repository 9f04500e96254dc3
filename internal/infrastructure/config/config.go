package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	Environment   string              `mapstructure:"environment"`
	LogLevel      string              `mapstructure:"log_level"`
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Security      SecurityConfig      `mapstructure:"security"`
	ChainProvider ChainProviderConfig `mapstructure:"chain_provider"`
	FiatGateway   FiatGatewayConfig   `mapstructure:"fiat_gateway"`
	Voucher       VoucherConfig       `mapstructure:"voucher"`
	Queue         QueueConfig         `mapstructure:"queue"`
	Polling       PollingConfig       `mapstructure:"polling"`
	Tracing       TracingConfig       `mapstructure:"tracing"`
}

type ServerConfig struct {
	Port         int    `mapstructure:"port"`
	Host         string `mapstructure:"host"`
	ReadTimeout  int    `mapstructure:"read_timeout"`
	WriteTimeout int    `mapstructure:"write_timeout"`
}

type DatabaseConfig struct {
	URL             string `mapstructure:"url"`
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	Name            string `mapstructure:"name"`
	User            string `mapstructure:"user"`
	Password        string `mapstructure:"password"`
	SSLMode         string `mapstructure:"ssl_mode"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime"`
	// TxTimeout bounds every storage transaction so lock hold time stays
	// in single-digit seconds.
	TxTimeout int `mapstructure:"tx_timeout"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

type SecurityConfig struct {
	EncryptionKey string `mapstructure:"encryption_key"`
}

// ChainProviderConfig configures the blockchain infrastructure gateway.
type ChainProviderConfig struct {
	APIKey     string `mapstructure:"api_key"`
	BaseURL    string `mapstructure:"base_url"`
	WebhookURL string `mapstructure:"webhook_url"`
	Timeout    int    `mapstructure:"timeout"`
	MaxRetries int    `mapstructure:"max_retries"`
	// TokenContracts is the allow-list of token contract addresses per
	// chain group; balance enumeration and token-event currency
	// resolution are restricted to it.
	TokenContracts map[string]map[string]string `mapstructure:"token_contracts"`
	// GasBuffer is the fractional safety margin added to gas estimates
	// before a dependent token transfer is retried.
	GasBuffer float64 `mapstructure:"gas_buffer"`
}

// FiatGatewayConfig configures the fiat payment gateway.
type FiatGatewayConfig struct {
	APIKey        string `mapstructure:"api_key"`
	APISecret     string `mapstructure:"api_secret"`
	BaseURL       string `mapstructure:"base_url"`
	WebhookSecret string `mapstructure:"webhook_secret"`
	Timeout       int    `mapstructure:"timeout"`
	MaxRetries    int    `mapstructure:"max_retries"`
}

// VoucherConfig configures the voucher fulfillment API.
type VoucherConfig struct {
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url"`
	Timeout int    `mapstructure:"timeout"`
}

// QueueConfig configures the durable work queue runner.
type QueueConfig struct {
	Concurrency        int `mapstructure:"concurrency"`
	RatePerSecond      int `mapstructure:"rate_per_second"`
	PollIntervalMs     int `mapstructure:"poll_interval_ms"`
	DefaultMaxAttempts int `mapstructure:"default_max_attempts"`
	DefaultBackoffMs   int `mapstructure:"default_backoff_ms"`
	DefaultTimeoutSec  int `mapstructure:"default_timeout_sec"`
	// Retention caps for finished jobs.
	CompletedMaxAgeHours int `mapstructure:"completed_max_age_hours"`
	FailedMaxAgeHours    int `mapstructure:"failed_max_age_hours"`
	MaxFinishedJobs      int `mapstructure:"max_finished_jobs"`
}

// PollingConfig configures the scheduled reconciliation sweeps.
type PollingConfig struct {
	PaymentStatusSpec string `mapstructure:"payment_status_spec"`
	RetentionSpec     string `mapstructure:"retention_spec"`
	MasterWalletSpec  string `mapstructure:"master_wallet_spec"`
	WebhookReplaySpec string `mapstructure:"webhook_replay_spec"`
}

// TracingConfig configures OTLP trace export.
type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	Endpoint    string  `mapstructure:"endpoint"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
	Insecure    bool    `mapstructure:"insecure"`
}

// Load loads configuration from environment variables and config files
func Load() (*Config, error) {
	// Load .env file if it exists (ignore errors if file doesn't exist)
	godotenv.Load()

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath(".")

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	overrideFromEnv()

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if config.Database.URL == "" {
		config.Database.URL = fmt.Sprintf(
			"postgres://%s:%s@%s:%d/%s?sslmode=%s",
			config.Database.User,
			config.Database.Password,
			config.Database.Host,
			config.Database.Port,
			config.Database.Name,
			config.Database.SSLMode,
		)
	}

	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func setDefaults() {
	viper.SetDefault("environment", "development")
	viper.SetDefault("log_level", "info")

	// Server defaults
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.read_timeout", 30)
	viper.SetDefault("server.write_timeout", 30)

	// Database defaults
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.name", "exchange_service")
	viper.SetDefault("database.user", "postgres")
	viper.SetDefault("database.ssl_mode", "disable")
	viper.SetDefault("database.max_open_conns", 50)
	viper.SetDefault("database.max_idle_conns", 10)
	viper.SetDefault("database.conn_max_lifetime", 3600)
	viper.SetDefault("database.tx_timeout", 5)

	// Redis defaults
	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.pool_size", 10)

	// Chain provider defaults
	viper.SetDefault("chain_provider.base_url", "https://api.tatum.io/v3")
	viper.SetDefault("chain_provider.timeout", 30)
	viper.SetDefault("chain_provider.max_retries", 3)
	viper.SetDefault("chain_provider.gas_buffer", 0.1)

	// Fiat gateway defaults
	viper.SetDefault("fiat_gateway.timeout", 30)
	viper.SetDefault("fiat_gateway.max_retries", 3)

	// Voucher defaults
	viper.SetDefault("voucher.timeout", 30)

	// Queue defaults
	viper.SetDefault("queue.concurrency", 5)
	viper.SetDefault("queue.rate_per_second", 10)
	viper.SetDefault("queue.poll_interval_ms", 500)
	viper.SetDefault("queue.default_max_attempts", 3)
	viper.SetDefault("queue.default_backoff_ms", 5000)
	viper.SetDefault("queue.default_timeout_sec", 60)
	viper.SetDefault("queue.completed_max_age_hours", 24)
	viper.SetDefault("queue.failed_max_age_hours", 168)
	viper.SetDefault("queue.max_finished_jobs", 10000)

	// Polling defaults
	viper.SetDefault("polling.payment_status_spec", "@every 2m")
	viper.SetDefault("polling.retention_spec", "@every 1h")
	viper.SetDefault("polling.master_wallet_spec", "@every 5m")
	viper.SetDefault("polling.webhook_replay_spec", "@every 5m")

	// Tracing defaults
	viper.SetDefault("tracing.enabled", false)
	viper.SetDefault("tracing.endpoint", "localhost:4317")
	viper.SetDefault("tracing.sample_ratio", 0.1)
	viper.SetDefault("tracing.insecure", true)
}

func overrideFromEnv() {
	if port := os.Getenv("PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			viper.Set("server.port", p)
		}
	}

	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		viper.Set("database.url", dbURL)
	}

	if encKey := os.Getenv("ENCRYPTION_KEY"); encKey != "" {
		viper.Set("security.encryption_key", encKey)
	}

	if apiKey := os.Getenv("CHAIN_PROVIDER_API_KEY"); apiKey != "" {
		viper.Set("chain_provider.api_key", apiKey)
	}
	if baseURL := os.Getenv("CHAIN_PROVIDER_BASE_URL"); baseURL != "" {
		viper.Set("chain_provider.base_url", baseURL)
	}
	if webhookURL := os.Getenv("CHAIN_PROVIDER_WEBHOOK_URL"); webhookURL != "" {
		viper.Set("chain_provider.webhook_url", webhookURL)
	}

	if apiKey := os.Getenv("FIAT_GATEWAY_API_KEY"); apiKey != "" {
		viper.Set("fiat_gateway.api_key", apiKey)
	}
	if apiSecret := os.Getenv("FIAT_GATEWAY_API_SECRET"); apiSecret != "" {
		viper.Set("fiat_gateway.api_secret", apiSecret)
	}
	if baseURL := os.Getenv("FIAT_GATEWAY_BASE_URL"); baseURL != "" {
		viper.Set("fiat_gateway.base_url", baseURL)
	}
	if secret := os.Getenv("FIAT_GATEWAY_WEBHOOK_SECRET"); secret != "" {
		viper.Set("fiat_gateway.webhook_secret", secret)
	}

	if apiKey := os.Getenv("VOUCHER_API_KEY"); apiKey != "" {
		viper.Set("voucher.api_key", apiKey)
	}
	if baseURL := os.Getenv("VOUCHER_BASE_URL"); baseURL != "" {
		viper.Set("voucher.base_url", baseURL)
	}
}

func validate(config *Config) error {
	if config.Security.EncryptionKey == "" {
		return fmt.Errorf("encryption key is required")
	}

	if config.Database.URL == "" && (config.Database.Host == "" || config.Database.Name == "") {
		return fmt.Errorf("database configuration is incomplete")
	}

	if config.ChainProvider.APIKey == "" {
		return fmt.Errorf("chain provider API key is required")
	}

	if config.FiatGateway.APIKey == "" {
		return fmt.Errorf("fiat gateway API key is required")
	}

	return nil
}
