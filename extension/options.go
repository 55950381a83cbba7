package extension

import (
	"time"

	"github.com/xraph/grove"

	"github.com/xraph/redeem"
	"github.com/xraph/redeem/activation"
	"github.com/xraph/redeem/gateway"
	"github.com/xraph/redeem/messaging"
	"github.com/xraph/redeem/plugin"
	"github.com/xraph/redeem/store"
)

// Option configures the redeem Forge extension.
type Option func(*Extension)

// WithStore sets the store for the redeem engine. It takes precedence over
// Config.StoreDriver.
func WithStore(s store.Store) Option {
	return func(e *Extension) {
		e.store = s
	}
}

// WithGateway sets the payment gateway.
func WithGateway(gw gateway.Gateway) Option {
	return func(e *Extension) {
		e.gateway = gw
	}
}

// WithProviders sets the activation provider registry.
func WithProviders(r *activation.Registry) Option {
	return func(e *Extension) {
		e.providers = r
	}
}

// WithChannel sets the customer messaging channel.
func WithChannel(ch messaging.Channel) Option {
	return func(e *Extension) {
		e.redeemOpts = append(e.redeemOpts, redeem.WithChannel(ch))
	}
}

// WithRedeemOption passes a redeem.Option through to the underlying engine.
func WithRedeemOption(opt redeem.Option) Option {
	return func(e *Extension) {
		e.redeemOpts = append(e.redeemOpts, opt)
	}
}

// WithPlugin registers a redeem plugin.
func WithPlugin(p plugin.Plugin) Option {
	return func(e *Extension) {
		e.redeemOpts = append(e.redeemOpts, redeem.WithPlugin(p))
	}
}

// WithConfig sets the Forge extension configuration.
func WithConfig(cfg Config) Option {
	return func(e *Extension) { e.config = cfg }
}

// WithDisableRoutes prevents HTTP route registration.
func WithDisableRoutes() Option {
	return func(e *Extension) { e.config.DisableRoutes = true }
}

// WithDisableMigrate prevents auto-migration on start.
func WithDisableMigrate() Option {
	return func(e *Extension) { e.config.DisableMigrate = true }
}

// WithBasePath sets the URL prefix for redeem routes.
func WithBasePath(path string) Option {
	return func(e *Extension) { e.config.BasePath = path }
}

// WithWebhookSecret sets the shared secret for gateway webhooks.
func WithWebhookSecret(secret string) Option {
	return func(e *Extension) { e.config.WebhookSecret = secret }
}

// WithAdminToken enables the admin routes behind a bearer token.
func WithAdminToken(token string) Option {
	return func(e *Extension) { e.config.AdminToken = token }
}

// WithRequireConfig requires config to be present in YAML files.
// If true and no config is found, Register returns an error.
func WithRequireConfig(require bool) Option {
	return func(e *Extension) { e.config.RequireConfig = require }
}

// WithPollInterval sets the reconciliation tick.
func WithPollInterval(d time.Duration) Option {
	return func(e *Extension) { e.config.PollInterval = d }
}

// WithSilenceLease sets how long a customer stays silenced during activation.
func WithSilenceLease(d time.Duration) Option {
	return func(e *Extension) { e.config.SilenceLease = d }
}

// WithGroveDB sets the grove database backing the sqlite, postgres or
// mongo store. driver is one of DriverSQLite, DriverPostgres or DriverMongo.
func WithGroveDB(db *grove.DB, driver string) Option {
	return func(e *Extension) {
		e.groveDB = db
		e.config.StoreDriver = driver
	}
}
