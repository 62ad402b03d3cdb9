package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/viper"
)

// Config holds the application's configuration values.
type Config struct {
	ServerPort   string
	DatabasePath string
	LogLevel     string
	LogFormat    string

	// Sync path
	MaxSyncConcurrency int
	WorkTimeout        time.Duration

	// Async workers
	NumWorkers         int
	MaxQueueSize       int
	CallbackTimeout    time.Duration
	MaxCallbackRetries int
	RetryBackoffBase   int

	// Rate limiting
	RateLimitRequests int
	RateLimitWindow   time.Duration
	MaxPayloadBytes   int64

	// Callback URL safety
	BlockPrivateIPs bool
	BlockLocalhost  bool
}

// LoadConfig reads configuration from environment variables and a .env file,
// sets sensible defaults, and validates required fields. It uses the Viper
// library to handle configuration loading and precedence.
func LoadConfig() (*Config, error) {
	viper.SetConfigFile(".env")

	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("DATABASE_PATH", "./data/requests.db")
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("LOG_FORMAT", "text")
	viper.SetDefault("MAX_SYNC_CONCURRENCY", 10)
	viper.SetDefault("WORK_TIMEOUT_SECONDS", 30)
	viper.SetDefault("NUM_WORKERS", 5)
	viper.SetDefault("MAX_QUEUE_SIZE", 100)
	viper.SetDefault("CALLBACK_TIMEOUT_SECONDS", 10)
	viper.SetDefault("MAX_CALLBACK_RETRIES", 3)
	viper.SetDefault("RETRY_BACKOFF_BASE", 2)
	viper.SetDefault("RATE_LIMIT_REQUESTS", 100)
	viper.SetDefault("RATE_LIMIT_WINDOW_SECONDS", 60)
	viper.SetDefault("MAX_PAYLOAD_SIZE_KB", 100)
	viper.SetDefault("BLOCK_PRIVATE_IPS", true)
	viper.SetDefault("BLOCK_LOCALHOST", true)

	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			slog.Warn("could not read .env file, using environment and defaults", "error", err)
		}
	}

	cfg := &Config{
		ServerPort:         viper.GetString("SERVER_PORT"),
		DatabasePath:       viper.GetString("DATABASE_PATH"),
		LogLevel:           viper.GetString("LOG_LEVEL"),
		LogFormat:          viper.GetString("LOG_FORMAT"),
		MaxSyncConcurrency: viper.GetInt("MAX_SYNC_CONCURRENCY"),
		WorkTimeout:        time.Duration(viper.GetInt("WORK_TIMEOUT_SECONDS")) * time.Second,
		NumWorkers:         viper.GetInt("NUM_WORKERS"),
		MaxQueueSize:       viper.GetInt("MAX_QUEUE_SIZE"),
		CallbackTimeout:    time.Duration(viper.GetInt("CALLBACK_TIMEOUT_SECONDS")) * time.Second,
		MaxCallbackRetries: viper.GetInt("MAX_CALLBACK_RETRIES"),
		RetryBackoffBase:   viper.GetInt("RETRY_BACKOFF_BASE"),
		RateLimitRequests:  viper.GetInt("RATE_LIMIT_REQUESTS"),
		RateLimitWindow:    time.Duration(viper.GetInt("RATE_LIMIT_WINDOW_SECONDS")) * time.Second,
		MaxPayloadBytes:    viper.GetInt64("MAX_PAYLOAD_SIZE_KB") * 1024,
		BlockPrivateIPs:    viper.GetBool("BLOCK_PRIVATE_IPS"),
		BlockLocalhost:     viper.GetBool("BLOCK_LOCALHOST"),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.MaxSyncConcurrency < 1 {
		return fmt.Errorf("MAX_SYNC_CONCURRENCY must be at least 1, got %d", c.MaxSyncConcurrency)
	}
	if c.NumWorkers < 1 {
		return fmt.Errorf("NUM_WORKERS must be at least 1, got %d", c.NumWorkers)
	}
	if c.MaxQueueSize < 1 {
		return fmt.Errorf("MAX_QUEUE_SIZE must be at least 1, got %d", c.MaxQueueSize)
	}
	if c.WorkTimeout <= 0 {
		return fmt.Errorf("WORK_TIMEOUT_SECONDS must be positive")
	}
	if c.MaxCallbackRetries < 1 {
		return fmt.Errorf("MAX_CALLBACK_RETRIES must be at least 1, got %d", c.MaxCallbackRetries)
	}
	if c.RetryBackoffBase < 1 {
		return fmt.Errorf("RETRY_BACKOFF_BASE must be at least 1, got %d", c.RetryBackoffBase)
	}
	if c.RateLimitRequests < 1 || c.RateLimitWindow <= 0 {
		return fmt.Errorf("rate limit settings must be positive")
	}
	return nil
}
