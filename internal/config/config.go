package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"manito/internal/models"
	"manito/internal/pricing"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App        AppConfig        `yaml:"app"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Backup     BackupConfig     `yaml:"backup"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
	Logging    LoggingConfig    `yaml:"logging"`
	API        APIConfig        `yaml:"api"`
	Payment    PaymentConfig    `yaml:"payment"`
	Pricing    PricingConfig    `yaml:"pricing"`
	Booking    BookingConfig    `yaml:"booking"`
	Messaging  MessagingConfig  `yaml:"messaging"`
	Outbox     OutboxConfig     `yaml:"outbox"`
	Catalog    CatalogConfig    `yaml:"catalog"`
}

type APIConfig struct {
	Enabled   bool               `yaml:"enabled"`
	HTTP      APIHTTPConfig      `yaml:"http"`
	GRPC      APIGRPCConfig      `yaml:"grpc"`
	Auth      APIAuthConfig      `yaml:"auth"`
	RateLimit APIRateLimitConfig `yaml:"rate_limit"`
	JWT       JWTConfig          `yaml:"jwt"`
}

type APIHTTPConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

type APIGRPCConfig struct {
	Enabled    bool         `yaml:"enabled"`
	Port       int          `yaml:"port"`
	Reflection bool         `yaml:"reflection"`
	TLS        APITLSConfig `yaml:"tls"`
}

type APITLSConfig struct {
	Enabled           bool   `yaml:"enabled"`
	CertFile          string `yaml:"cert_file"`
	KeyFile           string `yaml:"key_file"`
	ClientCAFile      string `yaml:"client_ca_file"`
	RequireClientCert bool   `yaml:"require_client_cert"`
}

// APIAuthConfig protects service-to-service routes with static API keys.
type APIAuthConfig struct {
	Enabled      bool           `yaml:"enabled"`
	HeaderAPIKey string         `yaml:"header_api_key"`
	HeaderExtra  string         `yaml:"header_extra"`
	APIKeys      []APIClientKey `yaml:"api_keys"`
}

type APIClientKey struct {
	Key         string   `yaml:"key"`
	Extra       string   `yaml:"extra"`
	Name        string   `yaml:"name"`
	Permissions []string `yaml:"permissions"`
}

type APIRateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

// JWTConfig describes the bearer tokens issued by the identity provider.
type JWTConfig struct {
	Secret   string        `yaml:"secret"`
	Issuer   string        `yaml:"issuer"`
	Audience string        `yaml:"audience"`
	TTL      time.Duration `yaml:"ttl"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

type BackupConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Schedule      string `yaml:"schedule"`
	RetentionDays int    `yaml:"retention_days"`
	StoragePath   string `yaml:"storage_path"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool `yaml:"prometheus_enabled"`
	PrometheusPort    int  `yaml:"prometheus_port"`
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
}

type PaymentConfig struct {
	Provider             string        `yaml:"provider"`
	OmisePublicKey       string        `yaml:"omise_public_key"`
	OmiseSecretKey       string        `yaml:"omise_secret_key"`
	Currency             string        `yaml:"currency"`
	ReturnURI            string        `yaml:"return_uri"`
	AuthorizationTimeout time.Duration `yaml:"authorization_timeout"`
	PendingTTL           time.Duration `yaml:"pending_ttl"`
	SweepInterval        time.Duration `yaml:"sweep_interval"`
}

type PricingConfig struct {
	// DefaultCommissionBps applies to categories without a configured rate.
	DefaultCommissionBps int64 `yaml:"default_commission_bps"`
}

type BookingConfig struct {
	CreateRateLimit  int           `yaml:"create_rate_limit"`
	CreateRateWindow time.Duration `yaml:"create_rate_window"`
}

type MessagingConfig struct {
	Enabled     bool   `yaml:"enabled"`
	RabbitMQURL string `yaml:"rabbitmq_url"`
	Exchange    string `yaml:"exchange"`
	Queue       string `yaml:"queue"`
}

type OutboxConfig struct {
	MaxRetries    int           `yaml:"max_retries"`
	InitialDelay  time.Duration `yaml:"initial_delay"`
	MaxDelay      time.Duration `yaml:"max_delay"`
	BackoffFactor float64       `yaml:"backoff_factor"`
	PollInterval  time.Duration `yaml:"poll_interval"`
	BatchSize     int           `yaml:"batch_size"`
}

type CatalogConfig struct {
	SeedPath string `yaml:"seed_path"`
}

func Load(configPath string) (*Config, error) {
	// .env is optional; real environments inject variables directly
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	expandedData := []byte(os.ExpandEnv(string(data)))

	var config Config
	if err := yaml.Unmarshal(expandedData, &config); err != nil {
		return nil, err
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return errors.New("database path is required")
	}

	if c.API.Enabled && strings.TrimSpace(c.API.JWT.Secret) == "" {
		return errors.New("api.jwt.secret is required when the API is enabled")
	}

	switch c.Payment.Provider {
	case "omise":
		if c.Payment.OmisePublicKey == "" || c.Payment.OmiseSecretKey == "" {
			return errors.New("payment.omise_public_key and payment.omise_secret_key are required")
		}
	default:
		return fmt.Errorf("unsupported payment provider %q", c.Payment.Provider)
	}

	if !pricing.Rate(c.Pricing.DefaultCommissionBps).Valid() {
		return fmt.Errorf("pricing.default_commission_bps must be within 0..%d", pricing.FullRate)
	}

	if c.Messaging.Enabled && (c.Messaging.RabbitMQURL == "" || c.Messaging.Exchange == "") {
		return errors.New("messaging.rabbitmq_url and messaging.exchange are required when messaging is enabled")
	}

	return ValidateAPIKeys(c.API.Auth.APIKeys)
}

// ValidateAPIKeys rejects empty and duplicate service keys.
func ValidateAPIKeys(keys []APIClientKey) error {
	seen := make(map[string]bool, len(keys))
	for _, k := range keys {
		if strings.TrimSpace(k.Key) == "" {
			return fmt.Errorf("api key %q has an empty key", k.Name)
		}
		if seen[k.Key] {
			return fmt.Errorf("duplicate api key for client %q", k.Name)
		}
		seen[k.Key] = true
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "manito"
	}
	if c.API.GRPC.Port == 0 {
		c.API.GRPC.Port = 8081
	}
	if c.API.HTTP.Port == 0 {
		c.API.HTTP.Port = 8080
	}
	if !c.API.HTTP.Enabled && c.API.Enabled {
		c.API.HTTP.Enabled = true
	}
	if c.API.Auth.HeaderAPIKey == "" {
		c.API.Auth.HeaderAPIKey = "x-api-key"
	}
	if c.API.Auth.HeaderExtra == "" {
		c.API.Auth.HeaderExtra = "x-api-extra"
	}
	if c.API.JWT.TTL == 0 {
		c.API.JWT.TTL = time.Hour
	}
	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}

	if c.Payment.Provider == "" {
		c.Payment.Provider = "omise"
	}
	if c.Payment.Currency == "" {
		c.Payment.Currency = models.DefaultCurrency
	}
	c.Payment.Currency = strings.ToLower(c.Payment.Currency)
	if c.Payment.AuthorizationTimeout <= 0 {
		c.Payment.AuthorizationTimeout = models.DefaultAuthorizationTimeout
	}
	if c.Payment.PendingTTL <= 0 {
		c.Payment.PendingTTL = models.DefaultPendingTTL
	}
	if c.Payment.SweepInterval <= 0 {
		c.Payment.SweepInterval = time.Minute
	}

	if c.Pricing.DefaultCommissionBps == 0 {
		c.Pricing.DefaultCommissionBps = int64(pricing.DefaultRate)
	}

	if c.Booking.CreateRateLimit == 0 {
		c.Booking.CreateRateLimit = models.CreateBookingRateLimit
	}
	if c.Booking.CreateRateWindow == 0 {
		c.Booking.CreateRateWindow = models.CreateBookingRateWindow
	}

	if c.Messaging.Exchange == "" {
		c.Messaging.Exchange = "manito.events"
	}
	if c.Messaging.Queue == "" {
		c.Messaging.Queue = "manito.payment-outcomes"
	}

	if c.Outbox.MaxRetries == 0 {
		c.Outbox.MaxRetries = 5
	}
	if c.Outbox.InitialDelay == 0 {
		c.Outbox.InitialDelay = 2 * time.Second
	}
	if c.Outbox.MaxDelay == 0 {
		c.Outbox.MaxDelay = time.Minute
	}
	if c.Outbox.BackoffFactor == 0 {
		c.Outbox.BackoffFactor = 2
	}
	if c.Outbox.PollInterval == 0 {
		c.Outbox.PollInterval = 2 * time.Second
	}
	if c.Outbox.BatchSize == 0 {
		c.Outbox.BatchSize = 20
	}

	if c.Backup.StoragePath == "" {
		c.Backup.StoragePath = "backups"
	}
}
