// Package config holds the service configuration, loaded from YAML.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"gopkg.in/yaml.v3"

	"github.com/foldworks/inference-service/internal/artifacts"
	"github.com/foldworks/inference-service/internal/inference"
)

// Config represents the complete configuration for the inference service.
type Config struct {
	Server   ServerConfig            `yaml:"server"`
	Database DatabaseConfig          `yaml:"database"`
	Provider inference.Config        `yaml:"provider"`
	Storage  artifacts.StorageConfig `yaml:"storage"`
	Billing  BillingConfig           `yaml:"billing"`
	Pricing  PricingConfig           `yaml:"pricing"`
	Observer ObserverConfig          `yaml:"observer"`
	NATS     NATSConfig              `yaml:"nats"`
	Consul   ConsulConfig            `yaml:"consul"`
	LogLevel string                  `yaml:"log_level"`
}

// ServerConfig represents HTTP server configuration.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig represents database configuration.
type DatabaseConfig struct {
	URL            string        `yaml:"url"`
	MaxConnections int           `yaml:"max_connections"`
	MinConnections int           `yaml:"min_connections"`
	IdleTimeout    time.Duration `yaml:"idle_timeout"`
	MaxLifetime    time.Duration `yaml:"max_lifetime"`
}

// BillingConfig represents charging behavior.
type BillingConfig struct {
	// MinBalanceMinor is the balance floor an account must hold to
	// submit a job. Independent of the job's eventual cost.
	MinBalanceMinor int64 `yaml:"min_balance_minor"`
	// MinBillableSeconds is the smallest usage delta a reconciliation
	// pass will charge.
	MinBillableSeconds float64 `yaml:"min_billable_seconds"`
	// CallbackSecret, when set, is required on provider callbacks.
	CallbackSecret string `yaml:"callback_secret"`
	// PaymentWebhookSecret, when set, is required on payment-gateway
	// webhook deliveries.
	PaymentWebhookSecret string `yaml:"payment_webhook_secret"`
}

// PricingConfig represents rate-table behavior.
type PricingConfig struct {
	// DefaultClass is charged when a reported hardware class has no
	// rate row.
	DefaultClass string `yaml:"default_class"`
}

// ObserverConfig represents the background status sweep.
type ObserverConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Interval      time.Duration `yaml:"interval"`
	PollTimeout   time.Duration `yaml:"poll_timeout"`
	MaxConcurrent int64         `yaml:"max_concurrent"`
}

// NATSConfig represents messaging configuration.
type NATSConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
}

// ConsulConfig represents service discovery configuration.
type ConsulConfig struct {
	Enabled                            bool          `yaml:"enabled"`
	Address                            string        `yaml:"address"`
	ServiceName                        string        `yaml:"service_name"`
	ServiceID                          string        `yaml:"service_id"`
	ServiceAddress                     string        `yaml:"service_address"`
	HealthCheckInterval                time.Duration `yaml:"health_check_interval"`
	HealthCheckTimeout                 time.Duration `yaml:"health_check_timeout"`
	HealthCheckDeregisterCriticalAfter time.Duration `yaml:"health_check_deregister_critical_after"`
}

// Load reads and parses the YAML configuration at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	cfg.applyDefaults()

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8081
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 15 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 15 * time.Second
	}
	if c.Server.IdleTimeout == 0 {
		c.Server.IdleTimeout = 60 * time.Second
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 30 * time.Second
	}
	if c.Database.MaxConnections == 0 {
		c.Database.MaxConnections = 25
	}
	if c.Database.MinConnections == 0 {
		c.Database.MinConnections = 5
	}
	if c.Database.MaxLifetime == 0 {
		c.Database.MaxLifetime = time.Hour
	}
	if c.Database.IdleTimeout == 0 {
		c.Database.IdleTimeout = 15 * time.Minute
	}
	if c.Billing.MinBalanceMinor == 0 {
		c.Billing.MinBalanceMinor = 100
	}
	if c.Billing.MinBillableSeconds == 0 {
		c.Billing.MinBillableSeconds = 1
	}
	if c.Storage.SignedURLTTL == 0 {
		c.Storage.SignedURLTTL = 5 * time.Minute
	}
	if c.Observer.Interval == 0 {
		c.Observer.Interval = 30 * time.Second
	}
	if c.Observer.PollTimeout == 0 {
		c.Observer.PollTimeout = 15 * time.Second
	}
	if c.Observer.MaxConcurrent == 0 {
		c.Observer.MaxConcurrent = 8
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Database.URL == "" {
		return fmt.Errorf("database URL is required")
	}
	if c.Provider.BaseURL == "" {
		return fmt.Errorf("inference provider base URL is required")
	}
	if c.Billing.MinBalanceMinor < 0 {
		return fmt.Errorf("minimum balance cannot be negative")
	}
	if c.Billing.MinBillableSeconds < 0 {
		return fmt.Errorf("minimum billable seconds cannot be negative")
	}
	if c.NATS.Enabled && c.NATS.Address == "" {
		return fmt.Errorf("NATS address is required when NATS is enabled")
	}
	if c.Consul.Enabled && c.Consul.Address == "" {
		return fmt.Errorf("consul address is required when consul is enabled")
	}
	return nil
}

// GetDatabaseConfig returns database configuration for pgxpool.
func (c *Config) GetDatabaseConfig() (*pgxpool.Config, error) {
	poolCfg, err := pgxpool.ParseConfig(c.Database.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	poolCfg.MaxConns = int32(c.Database.MaxConnections)
	poolCfg.MinConns = int32(c.Database.MinConnections)
	poolCfg.MaxConnLifetime = c.Database.MaxLifetime
	poolCfg.MaxConnIdleTime = c.Database.IdleTimeout

	return poolCfg, nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.LogLevel == "debug"
}
