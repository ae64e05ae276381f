package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds the application configuration
type Config struct {
	Server     ServerConfig     `json:"server"`
	Provider   ProviderConfig   `json:"provider"`
	Resilience ResilienceConfig `json:"resilience"`
	Realtime   RealtimeConfig   `json:"realtime"`
	Redis      RedisConfig      `json:"redis"`
	Logging    LoggingConfig    `json:"logging"`
	Tracing    TracingConfig    `json:"tracing"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Host         string        `json:"host"`
	Port         int           `json:"port"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	IdleTimeout  time.Duration `json:"idle_timeout"`
}

// ProviderConfig contains model provider configuration
type ProviderConfig struct {
	AnthropicAPIKey string        `json:"-"`
	BaseURL         string        `json:"base_url"`
	DefaultModel    string        `json:"default_model"`
	MaxTokens       int           `json:"max_tokens"`
	RequestTimeout  time.Duration `json:"request_timeout"`
}

// ResilienceConfig tunes the circuit breaker and retry policy around
// provider calls
type ResilienceConfig struct {
	FailureThreshold int           `json:"failure_threshold"`
	ResetTimeout     time.Duration `json:"reset_timeout"`
	MaxRetries       int           `json:"max_retries"`
	BaseDelay        time.Duration `json:"base_delay"`
	MaxDelay         time.Duration `json:"max_delay"`
	JitterFactor     float64       `json:"jitter_factor"`
}

// RealtimeConfig tunes websocket connection management
type RealtimeConfig struct {
	HeartbeatInterval time.Duration `json:"heartbeat_interval"`
	ConnectionTimeout time.Duration `json:"connection_timeout"`
	ErrorLogCapacity  int           `json:"error_log_capacity"`
}

// RedisConfig contains Redis connection configuration
type RedisConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	PoolSize int    `json:"pool_size"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
	Output string `json:"output"`
}

// TracingConfig contains distributed tracing configuration
type TracingConfig struct {
	Enabled        bool    `json:"enabled"`
	ServiceName    string  `json:"service_name"`
	JaegerEndpoint string  `json:"jaeger_endpoint"`
	SampleRate     float64 `json:"sample_rate"`
}

// Load reads configuration from the environment
func Load() (*Config, error) {
	config := &Config{
		Server: ServerConfig{
			Host:         getEnvString("SERVER_HOST", "0.0.0.0"),
			Port:         getEnvInt("SERVER_PORT", 8080),
			ReadTimeout:  getEnvDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout: getEnvDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
			IdleTimeout:  getEnvDuration("SERVER_IDLE_TIMEOUT", 120*time.Second),
		},
		Provider: ProviderConfig{
			AnthropicAPIKey: getEnvString("ANTHROPIC_API_KEY", ""),
			BaseURL:         getEnvString("ANTHROPIC_BASE_URL", "https://api.anthropic.com"),
			DefaultModel:    getEnvString("PROVIDER_DEFAULT_MODEL", "claude-sonnet-4"),
			MaxTokens:       getEnvInt("PROVIDER_MAX_TOKENS", 4096),
			RequestTimeout:  getEnvDuration("PROVIDER_REQUEST_TIMEOUT", 5*time.Minute),
		},
		Resilience: ResilienceConfig{
			FailureThreshold: getEnvInt("RESILIENCE_FAILURE_THRESHOLD", 5),
			ResetTimeout:     getEnvDuration("RESILIENCE_RESET_TIMEOUT", 30*time.Second),
			MaxRetries:       getEnvInt("RESILIENCE_MAX_RETRIES", 3),
			BaseDelay:        getEnvDuration("RESILIENCE_BASE_DELAY", time.Second),
			MaxDelay:         getEnvDuration("RESILIENCE_MAX_DELAY", 32*time.Second),
			JitterFactor:     getEnvFloat("RESILIENCE_JITTER_FACTOR", 0.1),
		},
		Realtime: RealtimeConfig{
			HeartbeatInterval: getEnvDuration("REALTIME_HEARTBEAT_INTERVAL", 15*time.Second),
			ConnectionTimeout: getEnvDuration("REALTIME_CONNECTION_TIMEOUT", 60*time.Second),
			ErrorLogCapacity:  getEnvInt("REALTIME_ERROR_LOG_CAPACITY", 1000),
		},
		Redis: RedisConfig{
			Host:     getEnvString("REDIS_HOST", "localhost"),
			Port:     getEnvInt("REDIS_PORT", 6379),
			Password: getEnvString("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
			PoolSize: getEnvInt("REDIS_POOL_SIZE", 10),
		},
		Logging: LoggingConfig{
			Level:  getEnvString("LOG_LEVEL", "info"),
			Format: getEnvString("LOG_FORMAT", "json"),
			Output: getEnvString("LOG_OUTPUT", "stdout"),
		},
		Tracing: TracingConfig{
			Enabled:        getEnvBool("TRACING_ENABLED", false),
			ServiceName:    getEnvString("TRACING_SERVICE_NAME", "chatrelay"),
			JaegerEndpoint: getEnvString("JAEGER_ENDPOINT", "http://localhost:14268/api/traces"),
			SampleRate:     getEnvFloat("TRACING_SAMPLE_RATE", 0.1),
		},
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Provider.AnthropicAPIKey == "" {
		return fmt.Errorf("Anthropic API key is required")
	}

	if c.Resilience.FailureThreshold <= 0 {
		return fmt.Errorf("failure threshold must be positive")
	}

	if c.Resilience.MaxRetries < 0 {
		return fmt.Errorf("max retries cannot be negative")
	}

	if c.Realtime.ConnectionTimeout <= c.Realtime.HeartbeatInterval {
		return fmt.Errorf("connection timeout must exceed the heartbeat interval")
	}

	return nil
}

// RedisURL returns the Redis connection URL
func (c *Config) RedisURL() string {
	if c.Redis.Password != "" {
		return fmt.Sprintf("redis://:%s@%s:%d/%d",
			c.Redis.Password,
			c.Redis.Host,
			c.Redis.Port,
			c.Redis.DB,
		)
	}
	return fmt.Sprintf("redis://%s:%d/%d",
		c.Redis.Host,
		c.Redis.Port,
		c.Redis.DB,
	)
}

// Helper functions for environment variable parsing
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
