package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application.
// Every environment variable is read here and nowhere else; stage executors
// and jobs receive their settings through this struct so they stay testable
// with fake configuration.
type Config struct {
	// Server
	Port string
	Env  string // development, staging, production

	// Database
	Database DatabaseConfig

	// Redis
	Redis RedisConfig

	// External APIs
	Gemini       GeminiConfig
	AlphaVantage AlphaVantageConfig
	FMP          FMPConfig
	Translate    TranslateConfig
	Storage      StorageConfig
	PayPal       PayPalConfig

	// Signal scanner
	Scanner ScannerConfig

	// Pipeline
	Pipeline PipelineConfig

	// Logging
	LogLevel  string
	LogFormat string
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	URL string

	// Connection Pool
	MaxConns        int
	MinConns        int
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
	Enabled  bool
}

// GeminiConfig holds the vision/generation model API configuration
type GeminiConfig struct {
	APIKey          string
	BaseURL         string
	VisionModel     string // multimodal model used for chart extraction
	GenerationModel string // text model used for recommendations and analyses
}

// AlphaVantageConfig holds the market-data provider configuration
type AlphaVantageConfig struct {
	APIKey  string
	BaseURL string
}

// FMPConfig holds the Financial Modeling Prep API configuration
type FMPConfig struct {
	APIKey  string
	BaseURL string
}

// TranslateConfig holds the translation provider configuration
type TranslateConfig struct {
	APIKey  string
	BaseURL string
	Target  string // target language for calendar event names
}

// StorageConfig holds the object-store configuration
type StorageConfig struct {
	BaseURL    string
	ServiceKey string
	Bucket     string // bucket holding uploaded chart images
}

// PayPalConfig holds the billing webhook configuration
type PayPalConfig struct {
	ClientID  string
	Secret    string
	BaseURL   string
	WebhookID string
}

// ScannerConfig holds the signal scanner configuration
type ScannerConfig struct {
	Assets   []string
	Interval string // provider interval used for indicator snapshots
}

// PipelineConfig holds analysis pipeline tuning
type PipelineConfig struct {
	StaleAfter time.Duration // age past which a non-terminal request is failed by the sweeper
}

// Load reads configuration from environment variables.
// This is the only function that calls os.Getenv().
func Load() (*Config, error) {
	loadEnvFile()

	cfg := &Config{
		// Server
		Port: getEnv("PORT", "8080"),
		Env:  getEnv("ENV", "development"),

		// Database
		Database: DatabaseConfig{
			URL:             getEnv("DATABASE_URL", ""),
			MaxConns:        getEnvAsInt("DB_MAX_CONNS", 25),
			MinConns:        getEnvAsInt("DB_MIN_CONNS", 5),
			MaxConnLifetime: getEnvAsDuration("DB_MAX_CONN_LIFETIME", "1h"),
			MaxConnIdleTime: getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", "30m"),
		},

		// Redis
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
			Enabled:  getEnvAsBool("REDIS_ENABLED", true),
		},

		// External APIs
		Gemini: GeminiConfig{
			APIKey:          getEnv("GEMINI_API_KEY", ""),
			BaseURL:         getEnv("GEMINI_BASE_URL", "https://generativelanguage.googleapis.com"),
			VisionModel:     getEnv("GEMINI_VISION_MODEL", "gemini-1.5-pro-latest"),
			GenerationModel: getEnv("GEMINI_GENERATION_MODEL", "gemini-1.5-flash-latest"),
		},

		AlphaVantage: AlphaVantageConfig{
			APIKey:  getEnv("ALPHA_VANTAGE_API_KEY", ""),
			BaseURL: getEnv("ALPHA_VANTAGE_BASE_URL", "https://www.alphavantage.co"),
		},

		FMP: FMPConfig{
			APIKey:  getEnv("FMP_API_KEY", ""),
			BaseURL: getEnv("FMP_BASE_URL", "https://financialmodelingprep.com"),
		},

		Translate: TranslateConfig{
			APIKey:  getEnv("GOOGLE_TRANSLATE_API_KEY", ""),
			BaseURL: getEnv("GOOGLE_TRANSLATE_BASE_URL", "https://translation.googleapis.com"),
			Target:  getEnv("TRANSLATE_TARGET_LANG", "es"),
		},

		Storage: StorageConfig{
			BaseURL:    getEnv("STORAGE_URL", ""),
			ServiceKey: getEnv("STORAGE_SERVICE_KEY", ""),
			Bucket:     getEnv("STORAGE_BUCKET", "analysis-images"),
		},

		PayPal: PayPalConfig{
			ClientID:  getEnv("PAYPAL_CLIENT_ID", ""),
			Secret:    getEnv("PAYPAL_CLIENT_SECRET", ""),
			BaseURL:   getEnv("PAYPAL_BASE_URL", "https://api-m.sandbox.paypal.com"),
			WebhookID: getEnv("PAYPAL_WEBHOOK_ID", ""),
		},

		// Signal scanner
		Scanner: ScannerConfig{
			Assets:   getEnvAsSlice("SCANNER_ASSETS", []string{"EURUSD", "GBPUSD", "USDJPY", "XAUUSD", "TSLA", "BTCUSD"}),
			Interval: getEnv("SCANNER_INTERVAL", "4hour"),
		},

		// Pipeline
		Pipeline: PipelineConfig{
			StaleAfter: getEnvAsDuration("PIPELINE_STALE_AFTER", "30m"),
		},

		// Logging
		LogLevel:  getEnv("LOG_LEVEL", "debug"),
		LogFormat: getEnv("LOG_FORMAT", "json"),
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// validate checks if required configuration values are set
func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.Env != "development" && c.Env != "staging" && c.Env != "production" {
		return fmt.Errorf("ENV must be one of: development, staging, production")
	}

	if len(c.Scanner.Assets) == 0 {
		return fmt.Errorf("SCANNER_ASSETS must list at least one asset")
	}

	return nil
}

// Helper functions (private, only used within this file)

// loadEnvFile tries to load .env from multiple locations
func loadEnvFile() {
	paths := []string{
		".env",
	}

	// Also try relative to executable
	if exe, err := os.Executable(); err == nil {
		exeDir := filepath.Dir(exe)
		paths = append(paths,
			filepath.Join(exeDir, ".env"),
			filepath.Join(exeDir, "..", ".env"),
		)
	}

	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			_ = godotenv.Load(path)
			return
		}
	}
}

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

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseBool(valueStr)
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

	duration, err := time.ParseDuration(valueStr)
	if err != nil {
		duration, _ = time.ParseDuration(defaultValue)
	}

	return duration
}

func getEnvAsSlice(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	parts := strings.Split(valueStr, ",")
	values := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			values = append(values, trimmed)
		}
	}

	return values
}
