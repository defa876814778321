package config

import (
	"encoding/json"
	"fmt"
)

// Config represents the main storyround configuration
type Config struct {
	// Storage
	Storage StorageConfig `json:"storage" mapstructure:"storage"`

	// Gateway configuration
	Gateway GatewayConfig `json:"gateway" mapstructure:"gateway"`

	// Identity provider configuration
	Identity IdentityConfig `json:"identity" mapstructure:"identity"`

	// Seeds directory watcher
	Seeds SeedsConfig `json:"seeds" mapstructure:"seeds"`

	// Membership index backfill
	Backfill BackfillConfig `json:"backfill" mapstructure:"backfill"`

	// Logging
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	// Data directory
	DataDir string `json:"data_dir" mapstructure:"data_dir"`
}

// StorageConfig holds document store configuration
type StorageConfig struct {
	Path           string `json:"path" mapstructure:"path"`                       // sqlite database path
	TxnMaxAttempts int    `json:"txn_max_attempts" mapstructure:"txn_max_attempts"` // transaction retry bound
}

// GatewayConfig holds gateway server configuration
type GatewayConfig struct {
	Port              int    `json:"port" mapstructure:"port"`
	Host              string `json:"host" mapstructure:"host"`
	SharedSecret      string `json:"shared_secret" mapstructure:"shared_secret"`
	RequestsPerMinute int    `json:"requests_per_minute" mapstructure:"requests_per_minute"`
	MaxConcurrent     int    `json:"max_concurrent" mapstructure:"max_concurrent"`
}

// IdentityConfig holds identity provider configuration
type IdentityConfig struct {
	Provider   string `json:"provider" mapstructure:"provider"`       // static, anonymous
	TokensPath string `json:"tokens_path" mapstructure:"tokens_path"` // token table for the static provider
}

// SeedsConfig holds session seed watcher configuration
type SeedsConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	Dir     string `json:"dir" mapstructure:"dir"`
}

// BackfillConfig holds membership index backfill configuration
type BackfillConfig struct {
	Enabled  bool   `json:"enabled" mapstructure:"enabled"`
	Schedule string `json:"schedule" mapstructure:"schedule"` // cron expression
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level    string `json:"level" mapstructure:"level"`
	File     string `json:"file" mapstructure:"file"`
	MaxSize  int    `json:"max_size" mapstructure:"max_size"` // MB
	MaxAge   int    `json:"max_age" mapstructure:"max_age"`   // days
	Compress bool   `json:"compress" mapstructure:"compress"`
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		Storage: StorageConfig{
			TxnMaxAttempts: 5,
		},
		Gateway: GatewayConfig{
			Port:              8080,
			Host:              "0.0.0.0",
			SharedSecret:      "",
			RequestsPerMinute: 60,
			MaxConcurrent:     10,
		},
		Identity: IdentityConfig{
			Provider: "static",
		},
		Seeds: SeedsConfig{
			Enabled: false,
		},
		Backfill: BackfillConfig{
			Enabled:  true,
			Schedule: "15 3 * * *",
		},
		Logging: LoggingConfig{
			Level:    "info",
			MaxSize:  100,
			MaxAge:   7,
			Compress: true,
		},
		DataDir: "",
	}
}

// String returns a JSON representation of the config
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Gateway.Port <= 0 || c.Gateway.Port > 65535 {
		return fmt.Errorf("gateway port must be between 1 and 65535, got %d", c.Gateway.Port)
	}
	if err := ValidateSharedSecret(c.Gateway.SharedSecret); err != nil {
		return err
	}
	if c.Gateway.RequestsPerMinute <= 0 {
		return fmt.Errorf("gateway requests_per_minute must be positive")
	}
	if c.Gateway.MaxConcurrent <= 0 {
		return fmt.Errorf("gateway max_concurrent must be positive")
	}

	if c.Storage.TxnMaxAttempts <= 0 {
		return fmt.Errorf("storage txn_max_attempts must be positive")
	}

	switch c.Identity.Provider {
	case "static", "anonymous":
	default:
		return fmt.Errorf("invalid identity provider %q (must be: static, anonymous)", c.Identity.Provider)
	}
	if c.Identity.Provider == "static" && c.Identity.TokensPath == "" {
		return fmt.Errorf("identity tokens_path is required for the static provider")
	}

	if c.Seeds.Enabled && c.Seeds.Dir == "" {
		return fmt.Errorf("seeds dir is required when the seed watcher is enabled")
	}

	if c.Backfill.Enabled {
		if err := ValidateCronExpr(c.Backfill.Schedule); err != nil {
			return fmt.Errorf("backfill schedule: %w", err)
		}
	}

	return nil
}
