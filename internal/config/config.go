package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds process-level bootstrap configuration. Runtime trading
// parameters (fees, intervals, symbol list) live in the settings table
// and are editable through the API; everything here requires a restart.
type Config struct {
	// Server
	HTTPPort int
	WSPort   int

	// Storage
	DatabasePath string

	// Secrets
	VaultMasterKey string
	JWTSecret      string
	JWTAccessTTL   time.Duration
	JWTRefreshTTL  time.Duration

	// Market data and live execution
	BinanceBaseURL   string
	BinanceAPIKey    string
	BinanceAPISecret string

	// Logging
	LogLevel  string
	DebugMode bool
}

// Load reads configuration from a .env file (if present) and the
// environment.
func Load(pathToEnv string) (*Config, error) {
	viper.SetConfigType("env")
	viper.AutomaticEnv()

	configPath := ".env"
	if pathToEnv != "" {
		configPath = pathToEnv
	}
	viper.SetConfigFile(configPath)

	// Missing .env is fine; environment variables still apply.
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file from %s: %w", configPath, err)
		}
	}

	setDefaults()

	cfg := &Config{
		HTTPPort:         viper.GetInt("HTTP_PORT"),
		WSPort:           viper.GetInt("WS_PORT"),
		DatabasePath:     viper.GetString("DATABASE_PATH"),
		VaultMasterKey:   viper.GetString("VAULT_MASTER_KEY"),
		JWTSecret:        viper.GetString("JWT_SECRET"),
		JWTAccessTTL:     viper.GetDuration("JWT_ACCESS_TTL"),
		JWTRefreshTTL:    viper.GetDuration("JWT_REFRESH_TTL"),
		BinanceBaseURL:   viper.GetString("BINANCE_BASE_URL"),
		BinanceAPIKey:    viper.GetString("BINANCE_API_KEY"),
		BinanceAPISecret: viper.GetString("BINANCE_API_SECRET"),
		LogLevel:         viper.GetString("LOG_LEVEL"),
		DebugMode:        viper.GetBool("DEBUG_MODE"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func setDefaults() {
	viper.SetDefault("HTTP_PORT", 8080)
	viper.SetDefault("WS_PORT", 8081)
	viper.SetDefault("DATABASE_PATH", "./data/arena.db")
	viper.SetDefault("JWT_ACCESS_TTL", "15m")
	viper.SetDefault("JWT_REFRESH_TTL", "720h")
	viper.SetDefault("BINANCE_BASE_URL", "")
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("DEBUG_MODE", false)
}

// Validate rejects configurations the server cannot safely start with.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.VaultMasterKey) == "" {
		return fmt.Errorf("VAULT_MASTER_KEY is required")
	}
	if len(c.VaultMasterKey) < 16 {
		return fmt.Errorf("VAULT_MASTER_KEY must be at least 16 characters")
	}
	if strings.TrimSpace(c.JWTSecret) == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if c.HTTPPort <= 0 || c.HTTPPort > 65535 {
		return fmt.Errorf("HTTP_PORT must be a valid port, got %d", c.HTTPPort)
	}
	if c.WSPort <= 0 || c.WSPort > 65535 {
		return fmt.Errorf("WS_PORT must be a valid port, got %d", c.WSPort)
	}
	if c.HTTPPort == c.WSPort {
		return fmt.Errorf("HTTP_PORT and WS_PORT must differ")
	}
	if c.DatabasePath == "" {
		return fmt.Errorf("DATABASE_PATH is required")
	}
	return nil
}
