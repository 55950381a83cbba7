// Package extension provides the Forge extension adapter for redeem.
//
// It implements the forge.Extension interface to integrate the settlement
// engine into a Forge application with DI registration, lifecycle
// management and an HTTP handler for the webhook and admin routes.
//
// Configuration can be provided programmatically via Option functions
// or via YAML configuration files under "extensions.redeem" or "redeem" keys.
package extension

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/xraph/forge"
	"github.com/xraph/grove"
	"github.com/xraph/vessel"

	"github.com/xraph/redeem"
	"github.com/xraph/redeem/activation"
	"github.com/xraph/redeem/api"
	"github.com/xraph/redeem/gateway"
	"github.com/xraph/redeem/store"
	"github.com/xraph/redeem/store/bolt"
	"github.com/xraph/redeem/store/memory"
	"github.com/xraph/redeem/store/mongo"
	"github.com/xraph/redeem/store/postgres"
	"github.com/xraph/redeem/store/sqlite"
)

// ExtensionName is the name registered with Forge.
const ExtensionName = "redeem"

// ExtensionDescription is the human-readable description.
const ExtensionDescription = "Order settlement and credit reconciliation engine"

// ExtensionVersion is the semantic version.
const ExtensionVersion = "0.1.0"

// Ensure Extension implements forge.Extension at compile time.
var _ forge.Extension = (*Extension)(nil)

// Extension adapts redeem as a Forge extension.
type Extension struct {
	*forge.BaseExtension

	config     Config
	engine     *redeem.Engine
	store      store.Store
	gateway    gateway.Gateway
	providers  *activation.Registry
	groveDB    *grove.DB
	redeemOpts []redeem.Option
	handler    http.Handler
}

// New creates a new redeem Forge extension with the given options.
func New(opts ...Option) *Extension {
	e := &Extension{
		BaseExtension: forge.NewBaseExtension(ExtensionName, ExtensionVersion, ExtensionDescription),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Engine returns the underlying engine.
// This is nil until Register is called.
func (e *Extension) Engine() *redeem.Engine { return e.engine }

// Handler returns the HTTP routes mounted under Config.BasePath, or nil when
// routes are disabled or Register has not run.
func (e *Extension) Handler() http.Handler { return e.handler }

// Register implements [forge.Extension]. It loads configuration,
// initializes the engine, and registers it in the DI container.
func (e *Extension) Register(fapp forge.App) error {
	if err := e.BaseExtension.Register(fapp); err != nil {
		return err
	}

	if err := e.loadConfiguration(); err != nil {
		return err
	}

	if e.store == nil {
		s, err := OpenStore(e.config, e.groveDB)
		if err != nil {
			return err
		}
		e.store = s
	}

	if e.gateway == nil {
		e.Logger().Warn("redeem: no payment gateway configured, using the in-memory fake")
		e.gateway = gateway.NewFake()
	}

	opts := make([]redeem.Option, 0, len(e.redeemOpts)+12)
	opts = append(opts, e.config.EngineOptions()...)
	opts = append(opts, e.redeemOpts...)

	e.engine = redeem.New(e.store, e.gateway, e.providers, opts...)

	if !e.config.DisableRoutes {
		e.handler = Routes(e.engine, e.config)
	}

	return vessel.Provide(fapp.Container(), func() (*redeem.Engine, error) {
		return e.engine, nil
	})
}

// Start implements [forge.Extension].
func (e *Extension) Start(ctx context.Context) error {
	if e.engine == nil {
		return errors.New("redeem: extension not initialized")
	}

	if err := e.engine.Start(ctx); err != nil {
		return err
	}

	e.MarkStarted()
	return nil
}

// Stop implements [forge.Extension].
func (e *Extension) Stop(_ context.Context) error {
	if e.engine != nil {
		if err := e.engine.Stop(); err != nil {
			e.MarkStopped()
			return err
		}
	}
	e.MarkStopped()
	return nil
}

// Health implements [forge.Extension].
func (e *Extension) Health(ctx context.Context) error {
	if e.store == nil {
		return errors.New("redeem: store not initialized")
	}
	return e.store.Ping(ctx)
}

// Routes mounts the api handler for eng under cfg.BasePath.
func Routes(eng *redeem.Engine, cfg Config) http.Handler {
	var opts []api.Option
	if cfg.AdminToken != "" {
		opts = append(opts, api.WithAdminToken(cfg.AdminToken))
	}
	h := api.New(eng, gateway.NewVerifier(cfg.WebhookSecret), opts...)

	r := chi.NewRouter()
	r.Mount(cfg.BasePath, h.Routes())
	return r
}

// OpenStore builds the store selected by cfg.StoreDriver. The grove-backed
// drivers require db.
func OpenStore(cfg Config, db *grove.DB) (store.Store, error) {
	switch cfg.StoreDriver {
	case "", DriverMemory:
		return memory.New(), nil
	case DriverBolt:
		return bolt.Open(cfg.BoltPath)
	case DriverSQLite, DriverPostgres, DriverMongo:
		if db == nil {
			return nil, fmt.Errorf("redeem: store driver %q needs a grove database", cfg.StoreDriver)
		}
		switch cfg.StoreDriver {
		case DriverSQLite:
			return sqlite.New(db), nil
		case DriverPostgres:
			return postgres.New(db), nil
		default:
			return mongo.New(db), nil
		}
	default:
		return nil, fmt.Errorf("redeem: unknown store driver %q", cfg.StoreDriver)
	}
}

// --- Config Loading (mirrors grove/shield extension pattern) ---

// loadConfiguration loads config from YAML files or programmatic sources.
func (e *Extension) loadConfiguration() error {
	programmaticConfig := e.config

	fileConfig, configLoaded := e.tryLoadFromConfigFile()

	if !configLoaded {
		if programmaticConfig.RequireConfig {
			return errors.New("redeem: configuration is required but not found in config files; " +
				"ensure 'extensions.redeem' or 'redeem' key exists in your config")
		}

		e.config = programmaticConfig.WithDefaults()
	} else {
		e.config = mergeConfigurations(fileConfig, programmaticConfig)
	}

	e.Logger().Debug("redeem: configuration loaded",
		forge.F("disable_routes", e.config.DisableRoutes),
		forge.F("disable_migrate", e.config.DisableMigrate),
		forge.F("base_path", e.config.BasePath),
		forge.F("store_driver", e.config.StoreDriver),
		forge.F("poll_interval", e.config.PollInterval),
		forge.F("silence_lease", e.config.SilenceLease),
		forge.F("admin_routes", e.config.AdminToken != ""),
	)

	return nil
}

// tryLoadFromConfigFile attempts to load config from YAML files.
func (e *Extension) tryLoadFromConfigFile() (Config, bool) {
	cm := e.App().Config()
	var cfg Config

	for _, key := range []string{"extensions.redeem", "redeem"} {
		if !cm.IsSet(key) {
			continue
		}
		if err := cm.Bind(key, &cfg); err == nil {
			e.Logger().Debug("redeem: loaded config from file",
				forge.F("key", key),
			)
			return cfg, true
		}
		e.Logger().Warn("redeem: failed to bind config",
			forge.F("key", key),
			forge.F("error", "bind failed"),
		)
	}

	return Config{}, false
}

// mergeConfigurations merges YAML config with programmatic options.
// YAML config takes precedence; programmatic values fill gaps.
func mergeConfigurations(yamlConfig, programmaticConfig Config) Config {
	// Programmatic bool flags override when true.
	if programmaticConfig.DisableRoutes {
		yamlConfig.DisableRoutes = true
	}
	if programmaticConfig.DisableMigrate {
		yamlConfig.DisableMigrate = true
	}

	fillString(&yamlConfig.BasePath, programmaticConfig.BasePath)
	fillString(&yamlConfig.WebhookSecret, programmaticConfig.WebhookSecret)
	fillString(&yamlConfig.AdminToken, programmaticConfig.AdminToken)
	fillString(&yamlConfig.Currency, programmaticConfig.Currency)
	fillString(&yamlConfig.StoreDriver, programmaticConfig.StoreDriver)
	fillString(&yamlConfig.BoltPath, programmaticConfig.BoltPath)

	if yamlConfig.PollInterval == 0 {
		yamlConfig.PollInterval = programmaticConfig.PollInterval
	}
	if yamlConfig.SweepEvery == 0 {
		yamlConfig.SweepEvery = programmaticConfig.SweepEvery
	}
	if yamlConfig.SilenceLease == 0 {
		yamlConfig.SilenceLease = programmaticConfig.SilenceLease
	}
	if yamlConfig.ActivationTimeout == 0 {
		yamlConfig.ActivationTimeout = programmaticConfig.ActivationTimeout
	}
	if yamlConfig.GatewayTimeout == 0 {
		yamlConfig.GatewayTimeout = programmaticConfig.GatewayTimeout
	}

	// Fill remaining zeros with defaults.
	return yamlConfig.WithDefaults()
}

func fillString(dst *string, fallback string) {
	if *dst == "" {
		*dst = fallback
	}
}
