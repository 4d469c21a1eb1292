// Package config provides configuration management for the dashboard service.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	apperrors "brokerdash/internal/errors"
)

// Broker providers.
const (
	ProviderSmartAPI = "smartapi"
	ProviderKite     = "kite"
	ProviderPaper    = "paper"
)

// Storage backends.
const (
	BackendSQLite    = "sqlite"
	BackendSurrealDB = "surrealdb"
)

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Broker   BrokerConfig   `mapstructure:"broker"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Sync     SyncConfig     `mapstructure:"sync"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Security SecurityConfig `mapstructure:"security"`

	// Dir is the directory the config was loaded from.
	Dir string `mapstructure:"-"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	DevMode        bool          `mapstructure:"dev_mode"`
	JWTSecret      string        `mapstructure:"jwt_secret"`
	TokenExpiry    time.Duration `mapstructure:"token_expiry"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// BrokerConfig holds broker gateway configuration.
type BrokerConfig struct {
	Provider  string        `mapstructure:"provider"` // smartapi, kite, paper
	APIKey    string        `mapstructure:"api_key"`
	APISecret string        `mapstructure:"api_secret"`
	BaseURL   string        `mapstructure:"base_url"`
	RateLimit int           `mapstructure:"rate_limit"` // requests per second
	Timeout   time.Duration `mapstructure:"timeout"`
	// MaxRetries applies to transport failures only.
	MaxRetries              int           `mapstructure:"max_retries"`
	CircuitFailureThreshold int           `mapstructure:"circuit_failure_threshold"`
	CircuitTimeout          time.Duration `mapstructure:"circuit_timeout"`
	LocalIP                 string        `mapstructure:"local_ip"`
	PublicIP                string        `mapstructure:"public_ip"`
	MACAddress              string        `mapstructure:"mac_address"`
	PaperCash               float64       `mapstructure:"paper_cash"`
}

// StorageConfig selects and configures the document store.
type StorageConfig struct {
	Backend string        `mapstructure:"backend"` // sqlite, surrealdb
	Path    string        `mapstructure:"path"`
	Surreal SurrealConfig `mapstructure:"surrealdb"`
}

// SurrealConfig holds SurrealDB connection settings.
type SurrealConfig struct {
	Address   string `mapstructure:"address"`
	Namespace string `mapstructure:"namespace"`
	Database  string `mapstructure:"database"`
	Username  string `mapstructure:"username"`
	Password  string `mapstructure:"password"`
}

// SyncConfig tunes portfolio syncs and price refreshes.
type SyncConfig struct {
	PriceBatchSize  int           `mapstructure:"price_batch_size"`
	PriceBatchDelay time.Duration `mapstructure:"price_batch_delay"`
	MoversLimit     int           `mapstructure:"movers_limit"`
	// RefreshSchedule is a cron spec for background price refreshes. Empty disables them.
	RefreshSchedule string `mapstructure:"refresh_schedule"`
	MarketHoursOnly bool   `mapstructure:"market_hours_only"`
}

// LoggingConfig holds log output configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Console    bool   `mapstructure:"console"`
	File       bool   `mapstructure:"file"`
	Path       string `mapstructure:"path"`
	MaxSize    int    `mapstructure:"max_size"` // megabytes
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"` // days
}

// SecurityConfig holds secrets handling configuration.
type SecurityConfig struct {
	VaultPassphrase string `mapstructure:"vault_passphrase"`
	AuditEnabled    bool   `mapstructure:"audit_enabled"`
	AuditDir        string `mapstructure:"audit_dir"`
}

// DefaultConfigDir returns the default configuration directory.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".config/brokerdash"
	}
	return filepath.Join(home, ".config", "brokerdash")
}

// Load loads configuration from the specified directory.
// If configDir is empty, uses the default config directory. A missing
// config.toml is replaced by the commented template before loading.
func Load(configDir string) (*Config, error) {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}

	// .env next to the config, then in the working directory. Existing
	// environment variables win over both.
	_ = godotenv.Load(filepath.Join(configDir, ".env"))
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v, configDir)
	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("loading config.toml: %w", err)
		}
		if err := createTemplateConfig(configDir); err != nil {
			return nil, err
		}
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("loading config.toml: %w", err)
		}
	}

	cfg := &Config{Dir: configDir}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decoding config.toml: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper, configDir string) {
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.token_expiry", "24h")
	v.SetDefault("server.allowed_origins", []string{"http://localhost:8080"})
	v.SetDefault("server.request_timeout", "60s")

	v.SetDefault("broker.provider", ProviderPaper)
	v.SetDefault("broker.rate_limit", 10)
	v.SetDefault("broker.timeout", "30s")
	v.SetDefault("broker.max_retries", 3)
	v.SetDefault("broker.circuit_failure_threshold", 5)
	v.SetDefault("broker.circuit_timeout", "30s")
	v.SetDefault("broker.local_ip", "127.0.0.1")
	v.SetDefault("broker.public_ip", "127.0.0.1")
	v.SetDefault("broker.mac_address", "00:00:00:00:00:00")
	v.SetDefault("broker.paper_cash", 100000.0)

	v.SetDefault("storage.backend", BackendSQLite)
	v.SetDefault("storage.path", filepath.Join(configDir, "data", "brokerdash.db"))
	v.SetDefault("storage.surrealdb.address", "ws://localhost:8000/rpc")
	v.SetDefault("storage.surrealdb.namespace", "brokerdash")
	v.SetDefault("storage.surrealdb.database", "brokerdash")

	v.SetDefault("sync.price_batch_size", 20)
	v.SetDefault("sync.price_batch_delay", "1s")
	v.SetDefault("sync.movers_limit", 5)
	v.SetDefault("sync.market_hours_only", true)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.console", true)
	v.SetDefault("logging.file", true)
	v.SetDefault("logging.path", filepath.Join(configDir, "logs", "brokerdash.log"))
	v.SetDefault("logging.max_size", 100)
	v.SetDefault("logging.max_backups", 7)
	v.SetDefault("logging.max_age", 30)

	v.SetDefault("security.audit_enabled", true)
	v.SetDefault("security.audit_dir", filepath.Join(configDir, "audit"))
}

func applyEnvOverrides(cfg *Config) {
	// Server
	if v := os.Getenv("BROKERDASH_JWT_SECRET"); v != "" {
		cfg.Server.JWTSecret = v
	}
	if v := os.Getenv("BROKERDASH_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}

	// Broker
	if v := os.Getenv("BROKER_PROVIDER"); v != "" {
		cfg.Broker.Provider = strings.ToLower(v)
	}
	if v := os.Getenv("SMARTAPI_API_KEY"); v != "" && cfg.Broker.Provider == ProviderSmartAPI {
		cfg.Broker.APIKey = v
	}
	if v := os.Getenv("KITE_API_KEY"); v != "" && cfg.Broker.Provider == ProviderKite {
		cfg.Broker.APIKey = v
	}
	if v := os.Getenv("KITE_API_SECRET"); v != "" && cfg.Broker.Provider == ProviderKite {
		cfg.Broker.APISecret = v
	}

	// Storage
	if v := os.Getenv("STORAGE_BACKEND"); v != "" {
		cfg.Storage.Backend = strings.ToLower(v)
	}
	if v := os.Getenv("SURREALDB_PASSWORD"); v != "" {
		cfg.Storage.Surreal.Password = v
	}

	// Security
	if v := os.Getenv("VAULT_PASSPHRASE"); v != "" {
		cfg.Security.VaultPassphrase = v
	}

	// Logging
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = strings.ToLower(v)
	}
}

// Validate validates the configuration. Secrets needed only by the server
// are checked by ValidateForServe.
func (c *Config) Validate() error {
	switch c.Broker.Provider {
	case ProviderSmartAPI, ProviderKite, ProviderPaper:
	default:
		return invalid("broker.provider %q must be smartapi, kite or paper", c.Broker.Provider)
	}
	if c.Broker.Provider != ProviderPaper && c.Broker.APIKey == "" {
		return invalid("broker.api_key is required for provider %s", c.Broker.Provider)
	}
	if c.Broker.Provider == ProviderKite && c.Broker.APISecret == "" {
		return invalid("broker.api_secret is required for provider kite")
	}
	if c.Broker.RateLimit < 0 {
		return invalid("broker.rate_limit must be non-negative")
	}

	switch c.Storage.Backend {
	case BackendSQLite:
		if c.Storage.Path == "" {
			return invalid("storage.path is required for sqlite")
		}
	case BackendSurrealDB:
		if c.Storage.Surreal.Address == "" {
			return invalid("storage.surrealdb.address is required for surrealdb")
		}
	default:
		return invalid("storage.backend %q must be sqlite or surrealdb", c.Storage.Backend)
	}

	if c.Sync.PriceBatchSize <= 0 {
		return invalid("sync.price_batch_size must be positive")
	}
	if c.Sync.PriceBatchDelay < 0 {
		return invalid("sync.price_batch_delay must be non-negative")
	}
	if c.Sync.MoversLimit <= 0 {
		return invalid("sync.movers_limit must be positive")
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return invalid("server.port %d is out of range", c.Server.Port)
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return invalid("logging.level %q must be debug, info, warn or error", c.Logging.Level)
	}

	return nil
}

// ValidateForServe checks the secrets the HTTP server cannot run without.
func (c *Config) ValidateForServe() error {
	if c.Server.JWTSecret == "" {
		return invalid("server.jwt_secret (or BROKERDASH_JWT_SECRET) is required")
	}
	if len(c.Server.JWTSecret) < 32 && !c.Server.DevMode {
		return invalid("server.jwt_secret must be at least 32 characters")
	}
	if c.Security.VaultPassphrase == "" {
		return invalid("security.vault_passphrase (or VAULT_PASSPHRASE) is required")
	}
	return nil
}

// IsPaperMode returns true if the paper broker is selected.
func (c *Config) IsPaperMode() bool {
	return c.Broker.Provider == ProviderPaper
}

func invalid(format string, args ...interface{}) error {
	return apperrors.Wrapf(apperrors.ErrConfigInvalid, format, args...)
}
