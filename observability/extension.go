// Package observability provides a metrics extension for redeem that records
// order, credit and activation counts via a MetricFactory.
package observability

import (
	"context"
	"time"

	"github.com/xraph/redeem/id"
	"github.com/xraph/redeem/order"
	"github.com/xraph/redeem/plugin"
	"github.com/xraph/redeem/types"
)

// Ensure MetricsExtension implements required interfaces.
var (
	_ plugin.Plugin                = (*MetricsExtension)(nil)
	_ plugin.OnInit                = (*MetricsExtension)(nil)
	_ plugin.OnOrderCreated        = (*MetricsExtension)(nil)
	_ plugin.OnOrderSettled        = (*MetricsExtension)(nil)
	_ plugin.OnOrderRejected       = (*MetricsExtension)(nil)
	_ plugin.OnOrderCancelled      = (*MetricsExtension)(nil)
	_ plugin.OnOrderExpired        = (*MetricsExtension)(nil)
	_ plugin.OnCreditGranted       = (*MetricsExtension)(nil)
	_ plugin.OnCreditConsumed      = (*MetricsExtension)(nil)
	_ plugin.OnCreditCompensated   = (*MetricsExtension)(nil)
	_ plugin.OnCreditCleared       = (*MetricsExtension)(nil)
	_ plugin.OnActivationStarted   = (*MetricsExtension)(nil)
	_ plugin.OnActivationSucceeded = (*MetricsExtension)(nil)
	_ plugin.OnActivationFailed    = (*MetricsExtension)(nil)
	_ plugin.OnLedgerInconsistency = (*MetricsExtension)(nil)
	_ plugin.OnWebhookReceived     = (*MetricsExtension)(nil)
	_ plugin.OnReconcileCycle      = (*MetricsExtension)(nil)
)

// Counter interface for metric counters.
type Counter interface {
	Inc()
	Add(float64)
}

// Histogram interface for metric histograms.
type Histogram interface {
	Observe(float64)
}

// MetricFactory creates metrics.
type MetricFactory interface {
	Counter(name string) Counter
	Histogram(name string) Histogram
}

// MetricsExtension records system-wide settlement metrics.
// Register it as a redeem plugin to track orders, credit and activations.
type MetricsExtension struct {
	factory MetricFactory

	// Order metrics
	OrderCreated   Counter
	OrderDegraded  Counter
	OrderSettled   Counter
	OrderManual    Counter
	OrderRejected  Counter
	OrderCancelled Counter
	OrderExpired   Counter
	OrderAmount    Histogram

	// Credit metrics
	CreditGranted     Counter
	CreditConsumed    Counter
	CreditCompensated Counter
	CreditCleared     Counter
	CreditAmount      Histogram

	// Activation metrics
	ActivationStarted   Counter
	ActivationSucceeded Counter
	ActivationFailed    Counter
	ActivationLatency   Histogram

	// Reconciliation metrics
	LedgerInconsistencies Counter
	WebhookReceived       Counter
	ReconcileCycles       Counter
	ReconcileErrors       Counter
	ReconcileLatency      Histogram
}

// NewMetricsExtension creates a MetricsExtension with the provided MetricFactory.
// Use app.Metrics() in forge extensions.
func NewMetricsExtension(factory MetricFactory) *MetricsExtension {
	return &MetricsExtension{
		factory: factory,

		// Order metrics
		OrderCreated:   factory.Counter("redeem.order.created"),
		OrderDegraded:  factory.Counter("redeem.order.degraded"),
		OrderSettled:   factory.Counter("redeem.order.settled"),
		OrderManual:    factory.Counter("redeem.order.manual_approval"),
		OrderRejected:  factory.Counter("redeem.order.rejected"),
		OrderCancelled: factory.Counter("redeem.order.cancelled"),
		OrderExpired:   factory.Counter("redeem.order.expired"),
		OrderAmount:    factory.Histogram("redeem.order.amount_minor"),

		// Credit metrics
		CreditGranted:     factory.Counter("redeem.credit.granted"),
		CreditConsumed:    factory.Counter("redeem.credit.consumed"),
		CreditCompensated: factory.Counter("redeem.credit.compensated"),
		CreditCleared:     factory.Counter("redeem.credit.cleared"),
		CreditAmount:      factory.Histogram("redeem.credit.amount_minor"),

		// Activation metrics
		ActivationStarted:   factory.Counter("redeem.activation.started"),
		ActivationSucceeded: factory.Counter("redeem.activation.succeeded"),
		ActivationFailed:    factory.Counter("redeem.activation.failed"),
		ActivationLatency:   factory.Histogram("redeem.activation.latency_ms"),

		// Reconciliation metrics
		LedgerInconsistencies: factory.Counter("redeem.ledger.inconsistencies"),
		WebhookReceived:       factory.Counter("redeem.webhook.received"),
		ReconcileCycles:       factory.Counter("redeem.reconcile.cycles"),
		ReconcileErrors:       factory.Counter("redeem.reconcile.errors"),
		ReconcileLatency:      factory.Histogram("redeem.reconcile.latency_ms"),
	}
}

// Name implements plugin.Plugin.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// OnInit implements plugin.OnInit.
func (m *MetricsExtension) OnInit(_ context.Context, _ any) error {
	return nil
}

// ──────────────────────────────────────────────────
// Order lifecycle hooks
// ──────────────────────────────────────────────────

// OnOrderCreated implements plugin.OnOrderCreated.
func (m *MetricsExtension) OnOrderCreated(_ context.Context, o *order.Order) error {
	m.OrderCreated.Inc()
	if o.Degraded {
		m.OrderDegraded.Inc()
	}
	m.OrderAmount.Observe(float64(o.Product.Price.Amount))
	return nil
}

// OnOrderSettled implements plugin.OnOrderSettled.
func (m *MetricsExtension) OnOrderSettled(_ context.Context, o *order.Order, _ string) error {
	m.OrderSettled.Inc()
	if o.ManualApproval {
		m.OrderManual.Inc()
	}
	return nil
}

// OnOrderRejected implements plugin.OnOrderRejected.
func (m *MetricsExtension) OnOrderRejected(_ context.Context, _ *order.Order) error {
	m.OrderRejected.Inc()
	return nil
}

// OnOrderCancelled implements plugin.OnOrderCancelled.
func (m *MetricsExtension) OnOrderCancelled(_ context.Context, _ *order.Order, _ string) error {
	m.OrderCancelled.Inc()
	return nil
}

// OnOrderExpired implements plugin.OnOrderExpired.
func (m *MetricsExtension) OnOrderExpired(_ context.Context, _ *order.Order) error {
	m.OrderExpired.Inc()
	return nil
}

// ──────────────────────────────────────────────────
// Credit lifecycle hooks
// ──────────────────────────────────────────────────

// OnCreditGranted implements plugin.OnCreditGranted.
func (m *MetricsExtension) OnCreditGranted(_ context.Context, _ string, _ id.OrderID, amount types.Money) error {
	m.CreditGranted.Inc()
	m.CreditAmount.Observe(float64(amount.Amount))
	return nil
}

// OnCreditConsumed implements plugin.OnCreditConsumed.
func (m *MetricsExtension) OnCreditConsumed(_ context.Context, _ string, _ id.OrderID, _ order.ProductSnapshot) error {
	m.CreditConsumed.Inc()
	return nil
}

// OnCreditCompensated implements plugin.OnCreditCompensated.
func (m *MetricsExtension) OnCreditCompensated(_ context.Context, _ string, _ id.OrderID, _ types.Money) error {
	m.CreditCompensated.Inc()
	return nil
}

// OnCreditCleared implements plugin.OnCreditCleared.
func (m *MetricsExtension) OnCreditCleared(_ context.Context, _ string, _ id.OrderID, _ string) error {
	m.CreditCleared.Inc()
	return nil
}

// ──────────────────────────────────────────────────
// Activation lifecycle hooks
// ──────────────────────────────────────────────────

// OnActivationStarted implements plugin.OnActivationStarted.
func (m *MetricsExtension) OnActivationStarted(_ context.Context, _ *order.Order) error {
	m.ActivationStarted.Inc()
	return nil
}

// OnActivationSucceeded implements plugin.OnActivationSucceeded.
func (m *MetricsExtension) OnActivationSucceeded(_ context.Context, _ *order.Order, elapsed time.Duration) error {
	m.ActivationSucceeded.Inc()
	m.ActivationLatency.Observe(float64(elapsed.Milliseconds()))
	return nil
}

// OnActivationFailed implements plugin.OnActivationFailed.
func (m *MetricsExtension) OnActivationFailed(_ context.Context, _ *order.Order, _ string) error {
	m.ActivationFailed.Inc()
	return nil
}

// ──────────────────────────────────────────────────
// Reconciliation hooks
// ──────────────────────────────────────────────────

// OnLedgerInconsistency implements plugin.OnLedgerInconsistency.
func (m *MetricsExtension) OnLedgerInconsistency(_ context.Context, _, _ string) error {
	m.LedgerInconsistencies.Inc()
	return nil
}

// OnWebhookReceived implements plugin.OnWebhookReceived.
func (m *MetricsExtension) OnWebhookReceived(_ context.Context, _, _ string) error {
	m.WebhookReceived.Inc()
	return nil
}

// OnReconcileCycle implements plugin.OnReconcileCycle.
func (m *MetricsExtension) OnReconcileCycle(_ context.Context, stats plugin.CycleStats) error {
	m.ReconcileCycles.Inc()
	if stats.Errors > 0 {
		m.ReconcileErrors.Add(float64(stats.Errors))
	}
	m.ReconcileLatency.Observe(float64(stats.Elapsed.Milliseconds()))
	return nil
}
