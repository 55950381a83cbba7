package extension

import (
	"time"

	"github.com/xraph/redeem"
)

// Store drivers understood by Config.StoreDriver.
const (
	DriverMemory   = "memory"
	DriverBolt     = "bolt"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMongo    = "mongo"
)

// Config holds the redeem extension configuration.
// Fields can be set programmatically via Option functions or loaded from
// YAML configuration files (under "extensions.redeem" or "redeem" keys).
// The redeemd binary reads the same struct from its --config file.
type Config struct {
	// DisableRoutes prevents HTTP route registration.
	DisableRoutes bool `json:"disable_routes" mapstructure:"disable_routes" yaml:"disable_routes"`

	// DisableMigrate prevents auto-migration on start.
	DisableMigrate bool `json:"disable_migrate" mapstructure:"disable_migrate" yaml:"disable_migrate"`

	// BasePath is the URL prefix for redeem routes (default: "/redeem").
	BasePath string `json:"base_path" mapstructure:"base_path" yaml:"base_path"`

	// WebhookSecret authenticates gateway push events. Webhooks are
	// rejected while it is empty.
	WebhookSecret string `json:"webhook_secret" mapstructure:"webhook_secret" yaml:"webhook_secret"`

	// AdminToken enables the /admin routes behind a bearer token.
	AdminToken string `json:"admin_token" mapstructure:"admin_token" yaml:"admin_token"`

	// PollInterval is how often the scheduler polls pending charges (default: 30s).
	PollInterval time.Duration `json:"poll_interval" mapstructure:"poll_interval" yaml:"poll_interval"`

	// SweepEvery runs the expiry sweep every N poll ticks (default: 10).
	SweepEvery int `json:"sweep_every" mapstructure:"sweep_every" yaml:"sweep_every"`

	// PendingTTL expires unpaid orders that have a charge (default: 2h).
	PendingTTL time.Duration `json:"pending_ttl" mapstructure:"pending_ttl" yaml:"pending_ttl"`

	// AbandonTTL abandons orders that never got a charge (default: 30m).
	AbandonTTL time.Duration `json:"abandon_ttl" mapstructure:"abandon_ttl" yaml:"abandon_ttl"`

	// GatewayTimeout bounds each gateway call (default: 10s).
	GatewayTimeout time.Duration `json:"gateway_timeout" mapstructure:"gateway_timeout" yaml:"gateway_timeout"`

	// ActivationTimeout bounds each provider call (default: 2m).
	ActivationTimeout time.Duration `json:"activation_timeout" mapstructure:"activation_timeout" yaml:"activation_timeout"`

	// SilenceLease is how long a customer stays silenced while an
	// activation runs (default: 10m).
	SilenceLease time.Duration `json:"silence_lease" mapstructure:"silence_lease" yaml:"silence_lease"`

	// GatewayRateLimit is the minimum delay between scheduler gateway calls
	// (default: 200ms). A negative value disables pacing.
	GatewayRateLimit time.Duration `json:"gateway_rate_limit" mapstructure:"gateway_rate_limit" yaml:"gateway_rate_limit"`

	// CatalogTTL is how long products stay cached (default: 1m).
	CatalogTTL time.Duration `json:"catalog_ttl" mapstructure:"catalog_ttl" yaml:"catalog_ttl"`

	// Currency is the ISO code used for empty balances (default: "brl").
	Currency string `json:"currency" mapstructure:"currency" yaml:"currency"`

	// StoreDriver selects the backend: memory, bolt, sqlite, postgres or
	// mongo. The grove drivers need a grove.DB supplied with WithGroveDB.
	StoreDriver string `json:"store_driver" mapstructure:"store_driver" yaml:"store_driver"`

	// BoltPath is the database file for the bolt driver (default: "redeem.db").
	BoltPath string `json:"bolt_path" mapstructure:"bolt_path" yaml:"bolt_path"`

	// RequireConfig requires config to be present in YAML files.
	// If true and no config is found, Register returns an error.
	RequireConfig bool `json:"-" yaml:"-"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		BasePath:          "/redeem",
		PollInterval:      redeem.DefaultPollInterval,
		SweepEvery:        redeem.DefaultSweepEvery,
		PendingTTL:        redeem.DefaultPendingTTL,
		AbandonTTL:        redeem.DefaultAbandonTTL,
		GatewayTimeout:    redeem.DefaultGatewayTimeout,
		ActivationTimeout: redeem.DefaultActivationTimeout,
		SilenceLease:      redeem.DefaultSilenceLease,
		GatewayRateLimit:  redeem.DefaultGatewayDelay,
		CatalogTTL:        redeem.DefaultCatalogTTL,
		Currency:          redeem.DefaultCurrency,
		StoreDriver:       DriverMemory,
		BoltPath:          "redeem.db",
	}
}

// WithDefaults fills zero-valued fields from DefaultConfig.
func (c Config) WithDefaults() Config {
	d := DefaultConfig()
	if c.BasePath == "" {
		c.BasePath = d.BasePath
	}
	if c.PollInterval == 0 {
		c.PollInterval = d.PollInterval
	}
	if c.SweepEvery == 0 {
		c.SweepEvery = d.SweepEvery
	}
	if c.PendingTTL == 0 {
		c.PendingTTL = d.PendingTTL
	}
	if c.AbandonTTL == 0 {
		c.AbandonTTL = d.AbandonTTL
	}
	if c.GatewayTimeout == 0 {
		c.GatewayTimeout = d.GatewayTimeout
	}
	if c.ActivationTimeout == 0 {
		c.ActivationTimeout = d.ActivationTimeout
	}
	if c.SilenceLease == 0 {
		c.SilenceLease = d.SilenceLease
	}
	if c.GatewayRateLimit == 0 {
		c.GatewayRateLimit = d.GatewayRateLimit
	}
	if c.CatalogTTL == 0 {
		c.CatalogTTL = d.CatalogTTL
	}
	if c.Currency == "" {
		c.Currency = d.Currency
	}
	if c.StoreDriver == "" {
		c.StoreDriver = d.StoreDriver
	}
	if c.BoltPath == "" {
		c.BoltPath = d.BoltPath
	}
	return c
}

// EngineOptions converts the config into redeem.Option values.
func (c Config) EngineOptions() []redeem.Option {
	return []redeem.Option{
		redeem.WithPollInterval(c.PollInterval),
		redeem.WithSweepEvery(c.SweepEvery),
		redeem.WithPendingTTL(c.PendingTTL),
		redeem.WithAbandonTTL(c.AbandonTTL),
		redeem.WithGatewayTimeout(c.GatewayTimeout),
		redeem.WithActivationTimeout(c.ActivationTimeout),
		redeem.WithSilenceLease(c.SilenceLease),
		redeem.WithGatewayRateLimit(c.GatewayRateLimit),
		redeem.WithCatalogTTL(c.CatalogTTL),
		redeem.WithCurrency(c.Currency),
		redeem.WithAutoMigrate(!c.DisableMigrate),
	}
}
