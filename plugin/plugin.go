// Package plugin provides an extensible plugin system for redeem.
// Plugins hook into order, credit and activation lifecycle events.
package plugin

import (
	"context"
	"time"

	"github.com/xraph/redeem/id"
	"github.com/xraph/redeem/order"
	"github.com/xraph/redeem/types"
)

// Plugin is the base interface that all plugins must implement.
type Plugin interface {
	Name() string
}

// ──────────────────────────────────────────────────
// Lifecycle hooks
// ──────────────────────────────────────────────────

// OnInit is called when the engine starts.
type OnInit interface {
	Plugin
	OnInit(ctx context.Context, engine any) error
}

// OnShutdown is called when the engine stops.
type OnShutdown interface {
	Plugin
	OnShutdown(ctx context.Context) error
}

// ──────────────────────────────────────────────────
// Order hooks
// ──────────────────────────────────────────────────

// OnOrderCreated is called after an order and its charge are persisted.
type OnOrderCreated interface {
	Plugin
	OnOrderCreated(ctx context.Context, o *order.Order) error
}

// OnOrderSettled is called once per order, when it moves to paid.
type OnOrderSettled interface {
	Plugin
	OnOrderSettled(ctx context.Context, o *order.Order, source string) error
}

// OnOrderRejected is called when the gateway rejects or cancels the charge.
type OnOrderRejected interface {
	Plugin
	OnOrderRejected(ctx context.Context, o *order.Order) error
}

// OnOrderCancelled is called when a customer or operator cancels an order.
type OnOrderCancelled interface {
	Plugin
	OnOrderCancelled(ctx context.Context, o *order.Order, reason string) error
}

// OnOrderExpired is called when the sweep expires or abandons an order.
type OnOrderExpired interface {
	Plugin
	OnOrderExpired(ctx context.Context, o *order.Order) error
}

// ──────────────────────────────────────────────────
// Credit hooks
// ──────────────────────────────────────────────────

// OnCreditGranted is called when an order becomes a customer's credit source.
type OnCreditGranted interface {
	Plugin
	OnCreditGranted(ctx context.Context, customerID string, orderID id.OrderID, amount types.Money) error
}

// OnCreditConsumed is called when credit is tentatively debited for a product.
type OnCreditConsumed interface {
	Plugin
	OnCreditConsumed(ctx context.Context, customerID string, orderID id.OrderID, product order.ProductSnapshot) error
}

// OnCreditCompensated is called when a tentative debit is restored.
type OnCreditCompensated interface {
	Plugin
	OnCreditCompensated(ctx context.Context, customerID string, orderID id.OrderID, amount types.Money) error
}

// OnCreditCleared is called when an operator clears a customer's credit.
type OnCreditCleared interface {
	Plugin
	OnCreditCleared(ctx context.Context, customerID string, orderID id.OrderID, reason string) error
}

// ──────────────────────────────────────────────────
// Activation hooks
// ──────────────────────────────────────────────────

// OnActivationStarted is called when the customer enters silence.
type OnActivationStarted interface {
	Plugin
	OnActivationStarted(ctx context.Context, o *order.Order) error
}

// OnActivationSucceeded is called after the provider reports success.
type OnActivationSucceeded interface {
	Plugin
	OnActivationSucceeded(ctx context.Context, o *order.Order, elapsed time.Duration) error
}

// OnActivationFailed is called after the provider reports failure.
type OnActivationFailed interface {
	Plugin
	OnActivationFailed(ctx context.Context, o *order.Order, reason string) error
}

// ──────────────────────────────────────────────────
// Reconciliation hooks
// ──────────────────────────────────────────────────

// OnLedgerInconsistency is called when order and session credit disagree and
// the customer is flagged for manual review.
type OnLedgerInconsistency interface {
	Plugin
	OnLedgerInconsistency(ctx context.Context, customerID, reason string) error
}

// OnWebhookReceived is called for every authenticated gateway push event.
type OnWebhookReceived interface {
	Plugin
	OnWebhookReceived(ctx context.Context, eventType, chargeRef string) error
}

// OnReconcileCycle is called after each scheduler poll.
type OnReconcileCycle interface {
	Plugin
	OnReconcileCycle(ctx context.Context, stats CycleStats) error
}

// CycleStats summarizes one reconciliation tick.
type CycleStats struct {
	Polled   int
	Settled  int
	Rejected int
	Expired  int
	Errors   int
	Swept    bool
	Elapsed  time.Duration
}
