package plugin

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/xraph/redeem/id"
	"github.com/xraph/redeem/order"
	"github.com/xraph/redeem/types"
)

// DefaultHookTimeout bounds a single plugin call.
const DefaultHookTimeout = 5 * time.Second

// Registry manages all registered plugins and provides efficient dispatch.
// Interfaces are discovered once at registration so emission never type-asserts.
type Registry struct {
	mu      sync.RWMutex
	plugins []Plugin
	logger  *slog.Logger
	timeout time.Duration

	// Type-cached plugin lists for efficient dispatch
	onInit                []OnInit
	onShutdown            []OnShutdown
	onOrderCreated        []OnOrderCreated
	onOrderSettled        []OnOrderSettled
	onOrderRejected       []OnOrderRejected
	onOrderCancelled      []OnOrderCancelled
	onOrderExpired        []OnOrderExpired
	onCreditGranted       []OnCreditGranted
	onCreditConsumed      []OnCreditConsumed
	onCreditCompensated   []OnCreditCompensated
	onCreditCleared       []OnCreditCleared
	onActivationStarted   []OnActivationStarted
	onActivationSucceeded []OnActivationSucceeded
	onActivationFailed    []OnActivationFailed
	onLedgerInconsistency []OnLedgerInconsistency
	onWebhookReceived     []OnWebhookReceived
	onReconcileCycle      []OnReconcileCycle
}

// NewRegistry creates a new plugin registry.
func NewRegistry() *Registry {
	return &Registry{
		logger:  slog.Default(),
		timeout: DefaultHookTimeout,
	}
}

// WithLogger sets the logger for the registry.
func (r *Registry) WithLogger(logger *slog.Logger) *Registry {
	r.logger = logger
	return r
}

// WithTimeout sets the per-call hook timeout.
func (r *Registry) WithTimeout(d time.Duration) *Registry {
	if d > 0 {
		r.timeout = d
	}
	return r
}

// Register adds a plugin to the registry and caches its interfaces.
func (r *Registry) Register(p Plugin) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.plugins {
		if existing.Name() == p.Name() {
			return fmt.Errorf("plugin: duplicate registration: %s", p.Name())
		}
	}

	r.plugins = append(r.plugins, p)

	var hooks []string
	if v, ok := p.(OnInit); ok {
		r.onInit = append(r.onInit, v)
		hooks = append(hooks, "OnInit")
	}
	if v, ok := p.(OnShutdown); ok {
		r.onShutdown = append(r.onShutdown, v)
		hooks = append(hooks, "OnShutdown")
	}
	if v, ok := p.(OnOrderCreated); ok {
		r.onOrderCreated = append(r.onOrderCreated, v)
		hooks = append(hooks, "OnOrderCreated")
	}
	if v, ok := p.(OnOrderSettled); ok {
		r.onOrderSettled = append(r.onOrderSettled, v)
		hooks = append(hooks, "OnOrderSettled")
	}
	if v, ok := p.(OnOrderRejected); ok {
		r.onOrderRejected = append(r.onOrderRejected, v)
		hooks = append(hooks, "OnOrderRejected")
	}
	if v, ok := p.(OnOrderCancelled); ok {
		r.onOrderCancelled = append(r.onOrderCancelled, v)
		hooks = append(hooks, "OnOrderCancelled")
	}
	if v, ok := p.(OnOrderExpired); ok {
		r.onOrderExpired = append(r.onOrderExpired, v)
		hooks = append(hooks, "OnOrderExpired")
	}
	if v, ok := p.(OnCreditGranted); ok {
		r.onCreditGranted = append(r.onCreditGranted, v)
		hooks = append(hooks, "OnCreditGranted")
	}
	if v, ok := p.(OnCreditConsumed); ok {
		r.onCreditConsumed = append(r.onCreditConsumed, v)
		hooks = append(hooks, "OnCreditConsumed")
	}
	if v, ok := p.(OnCreditCompensated); ok {
		r.onCreditCompensated = append(r.onCreditCompensated, v)
		hooks = append(hooks, "OnCreditCompensated")
	}
	if v, ok := p.(OnCreditCleared); ok {
		r.onCreditCleared = append(r.onCreditCleared, v)
		hooks = append(hooks, "OnCreditCleared")
	}
	if v, ok := p.(OnActivationStarted); ok {
		r.onActivationStarted = append(r.onActivationStarted, v)
		hooks = append(hooks, "OnActivationStarted")
	}
	if v, ok := p.(OnActivationSucceeded); ok {
		r.onActivationSucceeded = append(r.onActivationSucceeded, v)
		hooks = append(hooks, "OnActivationSucceeded")
	}
	if v, ok := p.(OnActivationFailed); ok {
		r.onActivationFailed = append(r.onActivationFailed, v)
		hooks = append(hooks, "OnActivationFailed")
	}
	if v, ok := p.(OnLedgerInconsistency); ok {
		r.onLedgerInconsistency = append(r.onLedgerInconsistency, v)
		hooks = append(hooks, "OnLedgerInconsistency")
	}
	if v, ok := p.(OnWebhookReceived); ok {
		r.onWebhookReceived = append(r.onWebhookReceived, v)
		hooks = append(hooks, "OnWebhookReceived")
	}
	if v, ok := p.(OnReconcileCycle); ok {
		r.onReconcileCycle = append(r.onReconcileCycle, v)
		hooks = append(hooks, "OnReconcileCycle")
	}

	r.logger.Info("plugin registered",
		"name", p.Name(),
		"interfaces", hooks,
	)

	return nil
}

// Get returns a plugin by name.
func (r *Registry) Get(name string) Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, p := range r.plugins {
		if p.Name() == name {
			return p
		}
	}
	return nil
}

// List returns all registered plugins.
func (r *Registry) List() []Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Plugin, len(r.plugins))
	copy(result, r.plugins)
	return result
}

// Count returns the number of registered plugins.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.plugins)
}

// ──────────────────────────────────────────────────
// Event emission methods
// ──────────────────────────────────────────────────

// emit calls fn for every plugin in list. Failures are logged and never
// returned: hooks observe the engine, they cannot veto it.
func emit[T Plugin](ctx context.Context, r *Registry, hook string, list []T, fn func(T) error) {
	for _, p := range list {
		if err := r.callWithTimeout(ctx, p.Name(), func() error { return fn(p) }); err != nil {
			r.logger.Warn("plugin "+hook+" failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

func snapshot[T any](r *Registry, list *[]T) []T {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return *list
}

// EmitInit calls OnInit for all plugins that implement it.
func (r *Registry) EmitInit(ctx context.Context, engine any) {
	emit(ctx, r, "OnInit", snapshot(r, &r.onInit), func(p OnInit) error {
		return p.OnInit(ctx, engine)
	})
}

// EmitShutdown calls OnShutdown for all plugins that implement it.
func (r *Registry) EmitShutdown(ctx context.Context) {
	emit(ctx, r, "OnShutdown", snapshot(r, &r.onShutdown), func(p OnShutdown) error {
		return p.OnShutdown(ctx)
	})
}

// EmitOrderCreated emits an order created event.
func (r *Registry) EmitOrderCreated(ctx context.Context, o *order.Order) {
	emit(ctx, r, "OnOrderCreated", snapshot(r, &r.onOrderCreated), func(p OnOrderCreated) error {
		return p.OnOrderCreated(ctx, o)
	})
}

// EmitOrderSettled emits an order settled event. source is "webhook",
// "poll", "customer" or "admin".
func (r *Registry) EmitOrderSettled(ctx context.Context, o *order.Order, source string) {
	emit(ctx, r, "OnOrderSettled", snapshot(r, &r.onOrderSettled), func(p OnOrderSettled) error {
		return p.OnOrderSettled(ctx, o, source)
	})
}

// EmitOrderRejected emits an order rejected event.
func (r *Registry) EmitOrderRejected(ctx context.Context, o *order.Order) {
	emit(ctx, r, "OnOrderRejected", snapshot(r, &r.onOrderRejected), func(p OnOrderRejected) error {
		return p.OnOrderRejected(ctx, o)
	})
}

// EmitOrderCancelled emits an order cancelled event.
func (r *Registry) EmitOrderCancelled(ctx context.Context, o *order.Order, reason string) {
	emit(ctx, r, "OnOrderCancelled", snapshot(r, &r.onOrderCancelled), func(p OnOrderCancelled) error {
		return p.OnOrderCancelled(ctx, o, reason)
	})
}

// EmitOrderExpired emits an order expired event.
func (r *Registry) EmitOrderExpired(ctx context.Context, o *order.Order) {
	emit(ctx, r, "OnOrderExpired", snapshot(r, &r.onOrderExpired), func(p OnOrderExpired) error {
		return p.OnOrderExpired(ctx, o)
	})
}

// EmitCreditGranted emits a credit granted event.
func (r *Registry) EmitCreditGranted(ctx context.Context, customerID string, orderID id.OrderID, amount types.Money) {
	emit(ctx, r, "OnCreditGranted", snapshot(r, &r.onCreditGranted), func(p OnCreditGranted) error {
		return p.OnCreditGranted(ctx, customerID, orderID, amount)
	})
}

// EmitCreditConsumed emits a credit consumed event.
func (r *Registry) EmitCreditConsumed(ctx context.Context, customerID string, orderID id.OrderID, product order.ProductSnapshot) {
	emit(ctx, r, "OnCreditConsumed", snapshot(r, &r.onCreditConsumed), func(p OnCreditConsumed) error {
		return p.OnCreditConsumed(ctx, customerID, orderID, product)
	})
}

// EmitCreditCompensated emits a credit compensated event.
func (r *Registry) EmitCreditCompensated(ctx context.Context, customerID string, orderID id.OrderID, amount types.Money) {
	emit(ctx, r, "OnCreditCompensated", snapshot(r, &r.onCreditCompensated), func(p OnCreditCompensated) error {
		return p.OnCreditCompensated(ctx, customerID, orderID, amount)
	})
}

// EmitCreditCleared emits a credit cleared event.
func (r *Registry) EmitCreditCleared(ctx context.Context, customerID string, orderID id.OrderID, reason string) {
	emit(ctx, r, "OnCreditCleared", snapshot(r, &r.onCreditCleared), func(p OnCreditCleared) error {
		return p.OnCreditCleared(ctx, customerID, orderID, reason)
	})
}

// EmitActivationStarted emits an activation started event.
func (r *Registry) EmitActivationStarted(ctx context.Context, o *order.Order) {
	emit(ctx, r, "OnActivationStarted", snapshot(r, &r.onActivationStarted), func(p OnActivationStarted) error {
		return p.OnActivationStarted(ctx, o)
	})
}

// EmitActivationSucceeded emits an activation succeeded event.
func (r *Registry) EmitActivationSucceeded(ctx context.Context, o *order.Order, elapsed time.Duration) {
	emit(ctx, r, "OnActivationSucceeded", snapshot(r, &r.onActivationSucceeded), func(p OnActivationSucceeded) error {
		return p.OnActivationSucceeded(ctx, o, elapsed)
	})
}

// EmitActivationFailed emits an activation failed event.
func (r *Registry) EmitActivationFailed(ctx context.Context, o *order.Order, reason string) {
	emit(ctx, r, "OnActivationFailed", snapshot(r, &r.onActivationFailed), func(p OnActivationFailed) error {
		return p.OnActivationFailed(ctx, o, reason)
	})
}

// EmitLedgerInconsistency emits a ledger inconsistency event.
func (r *Registry) EmitLedgerInconsistency(ctx context.Context, customerID, reason string) {
	emit(ctx, r, "OnLedgerInconsistency", snapshot(r, &r.onLedgerInconsistency), func(p OnLedgerInconsistency) error {
		return p.OnLedgerInconsistency(ctx, customerID, reason)
	})
}

// EmitWebhookReceived emits a webhook received event.
func (r *Registry) EmitWebhookReceived(ctx context.Context, eventType, chargeRef string) {
	emit(ctx, r, "OnWebhookReceived", snapshot(r, &r.onWebhookReceived), func(p OnWebhookReceived) error {
		return p.OnWebhookReceived(ctx, eventType, chargeRef)
	})
}

// EmitReconcileCycle emits a reconcile cycle event.
func (r *Registry) EmitReconcileCycle(ctx context.Context, stats CycleStats) {
	emit(ctx, r, "OnReconcileCycle", snapshot(r, &r.onReconcileCycle), func(p OnReconcileCycle) error {
		return p.OnReconcileCycle(ctx, stats)
	})
}

// callWithTimeout calls a plugin function with a timeout.
// Plugins must never block settlement.
func (r *Registry) callWithTimeout(ctx context.Context, pluginName string, fn func() error) error {
	done := make(chan error, 1)

	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				done <- fmt.Errorf("plugin panic: %s: %v", pluginName, rec)
			}
		}()
		done <- fn()
	}()

	select {
	case err := <-done:
		return err
	case <-time.After(r.timeout):
		return fmt.Errorf("plugin timeout: %s", pluginName)
	case <-ctx.Done():
		return ctx.Err()
	}
}
