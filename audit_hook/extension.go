// Package audithook bridges redeem lifecycle events to an audit trail backend.
//
// It defines a local Recorder interface so the package does not import
// Chronicle directly. Callers inject a RecorderFunc adapter that bridges
// to Chronicle at wiring time.
package audithook

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/redeem/id"
	"github.com/xraph/redeem/order"
	"github.com/xraph/redeem/plugin"
	"github.com/xraph/redeem/types"
)

// Compile-time interface checks.
var (
	_ plugin.Plugin                = (*Extension)(nil)
	_ plugin.OnOrderCreated        = (*Extension)(nil)
	_ plugin.OnOrderSettled        = (*Extension)(nil)
	_ plugin.OnOrderRejected       = (*Extension)(nil)
	_ plugin.OnOrderCancelled      = (*Extension)(nil)
	_ plugin.OnOrderExpired        = (*Extension)(nil)
	_ plugin.OnCreditGranted       = (*Extension)(nil)
	_ plugin.OnCreditConsumed      = (*Extension)(nil)
	_ plugin.OnCreditCompensated   = (*Extension)(nil)
	_ plugin.OnCreditCleared       = (*Extension)(nil)
	_ plugin.OnActivationStarted   = (*Extension)(nil)
	_ plugin.OnActivationSucceeded = (*Extension)(nil)
	_ plugin.OnActivationFailed    = (*Extension)(nil)
	_ plugin.OnLedgerInconsistency = (*Extension)(nil)
	_ plugin.OnWebhookReceived     = (*Extension)(nil)
	_ plugin.OnReconcileCycle      = (*Extension)(nil)
)

// Recorder is the interface that audit backends must implement.
// It matches chronicle.Emitter but is defined locally; callers inject the
// concrete emitter at wiring time.
type Recorder interface {
	Record(ctx context.Context, event *AuditEvent) error
}

// AuditEvent is a local representation of an audit event.
type AuditEvent struct {
	Action     string         `json:"action"`
	Resource   string         `json:"resource"`
	Category   string         `json:"category"`
	ResourceID string         `json:"resource_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Outcome    string         `json:"outcome"`
	Severity   string         `json:"severity"`
	Reason     string         `json:"reason,omitempty"`
}

// RecorderFunc is an adapter to use a plain function as a Recorder.
type RecorderFunc func(ctx context.Context, event *AuditEvent) error

// Record implements Recorder.
func (f RecorderFunc) Record(ctx context.Context, event *AuditEvent) error {
	return f(ctx, event)
}

// Extension bridges redeem lifecycle events to an audit trail backend.
type Extension struct {
	recorder Recorder
	enabled  map[string]bool // nil = all enabled
	logger   *slog.Logger
}

// New creates an Extension that emits audit events through the provided Recorder.
func New(r Recorder, opts ...Option) *Extension {
	e := &Extension{
		recorder: r,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements plugin.Plugin.
func (e *Extension) Name() string { return "audit-hook" }

// ──────────────────────────────────────────────────
// Order lifecycle hooks
// ──────────────────────────────────────────────────

// OnOrderCreated implements plugin.OnOrderCreated.
func (e *Extension) OnOrderCreated(ctx context.Context, o *order.Order) error {
	return e.record(ctx, ActionOrderCreated, SeverityInfo, OutcomeSuccess,
		ResourceOrder, o.ID.String(), CategoryPayment, nil,
		"customer_id", o.CustomerID,
		"product", o.Product.Name,
		"amount", o.Product.Price.String(),
		"charge_ref", o.ChargeReference,
		"degraded", o.Degraded,
	)
}

// OnOrderSettled implements plugin.OnOrderSettled.
func (e *Extension) OnOrderSettled(ctx context.Context, o *order.Order, source string) error {
	return e.record(ctx, ActionOrderSettled, SeverityInfo, OutcomeSuccess,
		ResourceOrder, o.ID.String(), CategoryPayment, nil,
		"customer_id", o.CustomerID,
		"source", source,
		"manual", o.ManualApproval,
	)
}

// OnOrderRejected implements plugin.OnOrderRejected.
func (e *Extension) OnOrderRejected(ctx context.Context, o *order.Order) error {
	return e.record(ctx, ActionOrderRejected, SeverityWarning, OutcomeFailure,
		ResourceOrder, o.ID.String(), CategoryPayment, nil,
		"customer_id", o.CustomerID,
		"status", string(o.Status),
	)
}

// OnOrderCancelled implements plugin.OnOrderCancelled.
func (e *Extension) OnOrderCancelled(ctx context.Context, o *order.Order, reason string) error {
	return e.record(ctx, ActionOrderCancelled, SeverityInfo, OutcomeSuccess,
		ResourceOrder, o.ID.String(), CategoryPayment, nil,
		"customer_id", o.CustomerID,
		"reason", reason,
	)
}

// OnOrderExpired implements plugin.OnOrderExpired.
func (e *Extension) OnOrderExpired(ctx context.Context, o *order.Order) error {
	return e.record(ctx, ActionOrderExpired, SeverityInfo, OutcomeSuccess,
		ResourceOrder, o.ID.String(), CategoryPayment, nil,
		"customer_id", o.CustomerID,
		"status", string(o.Status),
	)
}

// ──────────────────────────────────────────────────
// Credit lifecycle hooks
// ──────────────────────────────────────────────────

// OnCreditGranted implements plugin.OnCreditGranted.
func (e *Extension) OnCreditGranted(ctx context.Context, customerID string, orderID id.OrderID, amount types.Money) error {
	return e.record(ctx, ActionCreditGranted, SeverityInfo, OutcomeSuccess,
		ResourceCredit, orderID.String(), CategoryCredit, nil,
		"customer_id", customerID,
		"amount", amount.String(),
	)
}

// OnCreditConsumed implements plugin.OnCreditConsumed.
func (e *Extension) OnCreditConsumed(ctx context.Context, customerID string, orderID id.OrderID, product order.ProductSnapshot) error {
	return e.record(ctx, ActionCreditConsumed, SeverityInfo, OutcomeSuccess,
		ResourceCredit, orderID.String(), CategoryCredit, nil,
		"customer_id", customerID,
		"product_id", product.ProductID.String(),
		"price", product.Price.String(),
	)
}

// OnCreditCompensated implements plugin.OnCreditCompensated.
func (e *Extension) OnCreditCompensated(ctx context.Context, customerID string, orderID id.OrderID, amount types.Money) error {
	return e.record(ctx, ActionCreditCompensated, SeverityWarning, OutcomeSuccess,
		ResourceCredit, orderID.String(), CategoryCredit, nil,
		"customer_id", customerID,
		"amount", amount.String(),
	)
}

// OnCreditCleared implements plugin.OnCreditCleared.
func (e *Extension) OnCreditCleared(ctx context.Context, customerID string, orderID id.OrderID, reason string) error {
	return e.record(ctx, ActionCreditCleared, SeverityWarning, OutcomeSuccess,
		ResourceCredit, orderID.String(), CategoryCredit, nil,
		"customer_id", customerID,
		"reason", reason,
	)
}

// ──────────────────────────────────────────────────
// Activation lifecycle hooks
// ──────────────────────────────────────────────────

// OnActivationStarted implements plugin.OnActivationStarted.
func (e *Extension) OnActivationStarted(ctx context.Context, o *order.Order) error {
	p := o.ActivationProduct()
	return e.record(ctx, ActionActivationStarted, SeverityInfo, OutcomeSuccess,
		ResourceActivation, o.ID.String(), CategoryFulfillment, nil,
		"customer_id", o.CustomerID,
		"module", p.ActivationModuleID,
		"product", p.Name,
	)
}

// OnActivationSucceeded implements plugin.OnActivationSucceeded.
func (e *Extension) OnActivationSucceeded(ctx context.Context, o *order.Order, elapsed time.Duration) error {
	return e.record(ctx, ActionActivationSucceeded, SeverityInfo, OutcomeSuccess,
		ResourceActivation, o.ID.String(), CategoryFulfillment, nil,
		"customer_id", o.CustomerID,
		"elapsed_ms", elapsed.Milliseconds(),
	)
}

// OnActivationFailed implements plugin.OnActivationFailed.
func (e *Extension) OnActivationFailed(ctx context.Context, o *order.Order, reason string) error {
	return e.record(ctx, ActionActivationFailed, SeverityError, OutcomeFailure,
		ResourceActivation, o.ID.String(), CategoryFulfillment, errors.New(reason),
		"customer_id", o.CustomerID,
	)
}

// ──────────────────────────────────────────────────
// Reconciliation hooks
// ──────────────────────────────────────────────────

// OnLedgerInconsistency implements plugin.OnLedgerInconsistency.
func (e *Extension) OnLedgerInconsistency(ctx context.Context, customerID, reason string) error {
	return e.record(ctx, ActionLedgerInconsistency, SeverityCritical, OutcomeFailure,
		ResourceSession, customerID, CategoryIntegrity, nil,
		"reason", reason,
	)
}

// OnWebhookReceived implements plugin.OnWebhookReceived.
func (e *Extension) OnWebhookReceived(ctx context.Context, eventType, chargeRef string) error {
	return e.record(ctx, ActionWebhookReceived, SeverityInfo, OutcomeSuccess,
		ResourceWebhook, chargeRef, CategoryIntegration, nil,
		"event_type", eventType,
	)
}

// OnReconcileCycle implements plugin.OnReconcileCycle.
func (e *Extension) OnReconcileCycle(ctx context.Context, stats plugin.CycleStats) error {
	outcome := OutcomeSuccess
	if stats.Errors > 0 {
		outcome = OutcomePartial
	}
	return e.record(ctx, ActionReconcileCycle, SeverityInfo, outcome,
		ResourceReconciler, "", CategoryIntegration, nil,
		"polled", stats.Polled,
		"settled", stats.Settled,
		"rejected", stats.Rejected,
		"expired", stats.Expired,
		"errors", stats.Errors,
		"swept", stats.Swept,
	)
}

// record builds and sends an audit event if the action is enabled.
func (e *Extension) record(
	ctx context.Context,
	action, severity, outcome string,
	resource, resourceID, category string,
	err error,
	kvPairs ...any,
) error {
	if e.enabled != nil && !e.enabled[action] {
		return nil
	}

	meta := make(map[string]any, len(kvPairs)/2+1)
	for i := 0; i+1 < len(kvPairs); i += 2 {
		key, ok := kvPairs[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kvPairs[i])
		}
		meta[key] = kvPairs[i+1]
	}

	var reason string
	if err != nil {
		reason = err.Error()
		meta["error"] = err.Error()
	}

	evt := &AuditEvent{
		Action:     action,
		Resource:   resource,
		Category:   category,
		ResourceID: resourceID,
		Metadata:   meta,
		Outcome:    outcome,
		Severity:   severity,
		Reason:     reason,
	}

	if recErr := e.recorder.Record(ctx, evt); recErr != nil {
		e.logger.Warn("audit_hook: failed to record audit event",
			"action", action,
			"resource_id", resourceID,
			"error", recErr,
		)
	}
	return nil
}
