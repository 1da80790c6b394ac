package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for the SermonForge server
type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	AI         AIConfig
	Transcribe TranscribeConfig
	Billing    BillingConfig
	Security   SecurityConfig
	Monitoring MonitoringConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	PublicURL    string
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	Database        string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
	PoolSize int
}

// AIConfig holds generative-AI provider configuration
type AIConfig struct {
	APIKey          string
	BaseURL         string
	Model           string
	RequestTimeout  time.Duration
	MaxOutputTokens int
}

// TranscribeConfig holds speech-to-text provider configuration
type TranscribeConfig struct {
	APIKey         string
	BaseURL        string
	Model          string
	RequestTimeout time.Duration
}

// BillingConfig holds payment provider configuration
type BillingConfig struct {
	WebhookSecret string
	PremiumPlanID string
}

// SecurityConfig holds authentication configuration
type SecurityConfig struct {
	JWTSecret   string
	TokenExpiry time.Duration
}

// MonitoringConfig holds observability configuration
type MonitoringConfig struct {
	MetricsPath string
	LogLevel    string
}

// Load reads configuration from environment variables.
// Missing required secrets are reported as errors rather than defaulted,
// so a misconfigured deployment fails at startup instead of at request time.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host:         getEnv("SERVER_HOST", "0.0.0.0"),
			Port:         getEnvAsInt("SERVER_PORT", 8080),
			ReadTimeout:  getEnvAsDuration("SERVER_READ_TIMEOUT", "30s"),
			WriteTimeout: getEnvAsDuration("SERVER_WRITE_TIMEOUT", "60s"),
			IdleTimeout:  getEnvAsDuration("SERVER_IDLE_TIMEOUT", "120s"),
			PublicURL:    getEnv("PUBLIC_URL", "https://api.sermonforge.app"),
		},
		Database: DatabaseConfig{
			Host:            getEnv("DB_HOST", "localhost"),
			Port:            getEnvAsInt("DB_PORT", 5432),
			User:            getEnv("DB_USER", "sermonforge"),
			Password:        getEnv("DB_PASSWORD", ""),
			Database:        getEnv("DB_NAME", "sermonforge"),
			SSLMode:         getEnv("DB_SSL_MODE", "disable"),
			MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", "5m"),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnvAsInt("REDIS_PORT", 6379),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
			PoolSize: getEnvAsInt("REDIS_POOL_SIZE", 10),
		},
		AI: AIConfig{
			APIKey:          getEnv("AI_API_KEY", ""),
			BaseURL:         getEnv("AI_BASE_URL", "https://generativelanguage.googleapis.com/v1beta"),
			Model:           getEnv("AI_MODEL", "gemini-1.5-pro"),
			RequestTimeout:  getEnvAsDuration("AI_REQUEST_TIMEOUT", "45s"),
			MaxOutputTokens: getEnvAsInt("AI_MAX_OUTPUT_TOKENS", 4096),
		},
		Transcribe: TranscribeConfig{
			APIKey:         getEnv("TRANSCRIBE_API_KEY", ""),
			BaseURL:        getEnv("TRANSCRIBE_BASE_URL", "https://api.openai.com/v1"),
			Model:          getEnv("TRANSCRIBE_MODEL", "whisper-1"),
			RequestTimeout: getEnvAsDuration("TRANSCRIBE_REQUEST_TIMEOUT", "60s"),
		},
		Billing: BillingConfig{
			WebhookSecret: getEnv("PAYMENT_WEBHOOK_SECRET", ""),
			PremiumPlanID: getEnv("PAYMENT_PREMIUM_PLAN_ID", "premium-monthly"),
		},
		Security: SecurityConfig{
			JWTSecret:   getEnv("JWT_SECRET", ""),
			TokenExpiry: getEnvAsDuration("JWT_TOKEN_EXPIRY", "24h"),
		},
		Monitoring: MonitoringConfig{
			MetricsPath: getEnv("METRICS_PATH", "/metrics"),
			LogLevel:    getEnv("LOG_LEVEL", "info"),
		},
	}

	// Validate required fields
	if cfg.Database.Password == "" {
		return nil, fmt.Errorf("DB_PASSWORD is required")
	}

	if cfg.AI.APIKey == "" {
		return nil, fmt.Errorf("AI_API_KEY is required")
	}

	if cfg.Billing.WebhookSecret == "" {
		return nil, fmt.Errorf("PAYMENT_WEBHOOK_SECRET is required")
	}

	if cfg.Security.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	return cfg, nil
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue string) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		valueStr = defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		duration, _ := time.ParseDuration(defaultValue)
		return duration
	}
	return value
}
