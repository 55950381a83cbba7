package redeem

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/xraph/redeem/activation"
	"github.com/xraph/redeem/catalog"
	"github.com/xraph/redeem/gateway"
	"github.com/xraph/redeem/keylock"
	"github.com/xraph/redeem/messaging"
	"github.com/xraph/redeem/plugin"
	"github.com/xraph/redeem/store"
)

// Default engine settings.
const (
	DefaultPollInterval      = 30 * time.Second
	DefaultSweepEvery        = 10
	DefaultPendingTTL        = 2 * time.Hour
	DefaultAbandonTTL        = 30 * time.Minute
	DefaultGatewayTimeout    = 10 * time.Second
	DefaultActivationTimeout = 2 * time.Minute
	DefaultSilenceLease      = 10 * time.Minute
	DefaultGatewayDelay      = 200 * time.Millisecond
	DefaultCatalogTTL        = time.Minute
	DefaultBatchSize         = 200
	DefaultCurrency          = "brl"
)

// Engine is the order settlement and credit reconciliation engine.
type Engine struct {
	store     store.Store
	catalog   *catalog.Cache
	gateway   gateway.Gateway
	providers *activation.Registry
	channel   messaging.Channel
	plugins   *plugin.Registry
	logger    *slog.Logger
	locks     *keylock.Locker
	limiter   *rate.Limiter
	now       func() time.Time

	// Background workers
	ctx      context.Context
	cancel   context.CancelFunc
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	inflight sync.WaitGroup

	// Configuration
	pollInterval      time.Duration
	sweepEvery        int
	pendingTTL        time.Duration
	abandonTTL        time.Duration
	gatewayTimeout    time.Duration
	activationTimeout time.Duration
	silenceLease      time.Duration
	gatewayDelay      time.Duration
	catalogTTL        time.Duration
	batchSize         int
	currency          string
	autoMigrate       bool
}

// New creates a new Engine. gw opens and queries charges; providers resolves
// activation modules.
func New(s store.Store, gw gateway.Gateway, providers *activation.Registry, opts ...Option) *Engine {
	e := &Engine{
		store:             s,
		gateway:           gw,
		providers:         providers,
		channel:           messaging.Discard,
		plugins:           plugin.NewRegistry(),
		logger:            slog.Default(),
		locks:             keylock.New(),
		now:               time.Now,
		stopChan:          make(chan struct{}),
		pollInterval:      DefaultPollInterval,
		sweepEvery:        DefaultSweepEvery,
		pendingTTL:        DefaultPendingTTL,
		abandonTTL:        DefaultAbandonTTL,
		gatewayTimeout:    DefaultGatewayTimeout,
		activationTimeout: DefaultActivationTimeout,
		silenceLease:      DefaultSilenceLease,
		gatewayDelay:      DefaultGatewayDelay,
		catalogTTL:        DefaultCatalogTTL,
		batchSize:         DefaultBatchSize,
		currency:          DefaultCurrency,
		autoMigrate:       true,
	}
	if e.providers == nil {
		e.providers = activation.NewRegistry(nil)
	}

	for _, opt := range opts {
		opt(e)
	}

	limit := rate.Inf
	if e.gatewayDelay > 0 {
		limit = rate.Every(e.gatewayDelay)
	}
	e.limiter = rate.NewLimiter(limit, 1)
	e.catalog = catalog.NewCache(s, e.catalogTTL).WithClock(e.now)
	e.ctx, e.cancel = context.WithCancel(context.Background())

	return e
}

// Option configures an Engine instance.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
		e.plugins.WithLogger(logger)
	}
}

// WithPlugin registers a plugin.
func WithPlugin(p plugin.Plugin) Option {
	return func(e *Engine) {
		_ = e.plugins.Register(p) //nolint:errcheck // best-effort plugin registration during init
	}
}

// WithChannel sets the outbound customer messaging channel.
func WithChannel(ch messaging.Channel) Option {
	return func(e *Engine) {
		if ch != nil {
			e.channel = ch
		}
	}
}

// WithClock replaces time.Now. Tests use it to move through sweep windows.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithPollInterval sets the reconciliation tick.
func WithPollInterval(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.pollInterval = d
		}
	}
}

// WithSweepEvery runs the expiry sweep on every n-th tick.
func WithSweepEvery(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.sweepEvery = n
		}
	}
}

// WithPendingTTL sets how long a charged order may stay pending before it expires.
func WithPendingTTL(d time.Duration) Option {
	return func(e *Engine) { e.pendingTTL = d }
}

// WithAbandonTTL sets how long an order without a charge may stay pending.
func WithAbandonTTL(d time.Duration) Option {
	return func(e *Engine) { e.abandonTTL = d }
}

// WithGatewayTimeout bounds every gateway call.
func WithGatewayTimeout(d time.Duration) Option {
	return func(e *Engine) { e.gatewayTimeout = d }
}

// WithActivationTimeout bounds every provider call. A call that runs out of
// time leaves the order processing until the silence lease expires.
func WithActivationTimeout(d time.Duration) Option {
	return func(e *Engine) { e.activationTimeout = d }
}

// WithSilenceLease sets how long a customer stays silenced while an
// activation is in flight.
func WithSilenceLease(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.silenceLease = d
		}
	}
}

// WithGatewayRateLimit sets the minimum delay between gateway status queries
// made by the poller. Zero disables the delay.
func WithGatewayRateLimit(every time.Duration) Option {
	return func(e *Engine) { e.gatewayDelay = every }
}

// WithCatalogTTL sets how long product lookups are cached.
func WithCatalogTTL(d time.Duration) Option {
	return func(e *Engine) { e.catalogTTL = d }
}

// WithBatchSize caps how many pending orders one poll examines.
func WithBatchSize(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.batchSize = n
		}
	}
}

// WithCurrency sets the currency used for empty credit balances.
func WithCurrency(currency string) Option {
	return func(e *Engine) {
		if currency != "" {
			e.currency = currency
		}
	}
}

// WithAutoMigrate controls whether Start migrates the store. Defaults to true.
func WithAutoMigrate(enabled bool) Option {
	return func(e *Engine) { e.autoMigrate = enabled }
}

// Start migrates the store and begins the reconciliation scheduler.
func (e *Engine) Start(ctx context.Context) error {
	if e.autoMigrate {
		if err := e.store.Migrate(ctx); err != nil {
			return fmt.Errorf("redeem: migrate: %w", err)
		}
	}

	e.plugins.EmitInit(ctx, e)

	e.wg.Add(1)
	go e.supervise("reconcile", e.reconcileLoop)

	e.logger.Info("redeem engine started",
		"poll_interval", e.pollInterval,
		"sweep_every", e.sweepEvery,
		"pending_ttl", e.pendingTTL,
		"abandon_ttl", e.abandonTTL,
		"silence_lease", e.silenceLease,
	)

	return nil
}

// Stop halts the scheduler, waits for in-flight activations and closes the
// store. A reconcile cycle in progress is cancelled, not drained.
func (e *Engine) Stop() error {
	e.stopOnce.Do(func() { close(e.stopChan) })
	e.cancel()
	e.wg.Wait()
	e.inflight.Wait()

	e.plugins.EmitShutdown(context.Background())

	e.logger.Info("redeem engine stopped")
	return e.store.Close()
}

// Plugins returns the engine's plugin registry.
func (e *Engine) Plugins() *plugin.Registry { return e.plugins }

// Providers returns the activation provider registry.
func (e *Engine) Providers() *activation.Registry { return e.providers }

// Store returns the underlying store.
func (e *Engine) Store() store.Store { return e.store }

func orderKey(id fmt.Stringer) string { return "order:" + id.String() }

func customerKey(customerID string) string { return "customer:" + customerID }
