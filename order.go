package redeem

import (
	"context"
	"errors"
	"fmt"

	"github.com/xraph/redeem/catalog"
	"github.com/xraph/redeem/gateway"
	"github.com/xraph/redeem/id"
	"github.com/xraph/redeem/order"
	"github.com/xraph/redeem/session"
	"github.com/xraph/redeem/types"
)

// SettleOutcome reports what a settlement call did.
type SettleOutcome int

const (
	// Settled means this call moved the order out of pending_payment.
	Settled SettleOutcome = iota + 1
	// AlreadySettled means an earlier call settled the order; nothing changed.
	AlreadySettled
	// Ignored means the gateway status was not final; the order stays pending.
	Ignored
)

func (o SettleOutcome) String() string {
	switch o {
	case Settled:
		return "settled"
	case AlreadySettled:
		return "already_settled"
	case Ignored:
		return "ignored"
	default:
		return "unknown"
	}
}

// Settlement sources recorded on hooks and logs.
const (
	SourceWebhook  = "webhook"
	SourcePoll     = "poll"
	SourceCustomer = "customer"
	SourceAdmin    = "admin"
)

// ──────────────────────────────────────────────────
// Order creation
// ──────────────────────────────────────────────────

// CreateOrder snapshots the product, opens a charge and points the
// customer's session at the new order. When the gateway cannot be reached
// the order carries a placeholder pay code and is flagged degraded; only
// ApproveOrder can settle it.
func (e *Engine) CreateOrder(ctx context.Context, customerID string, productID id.ProductID) (*order.Order, error) {
	if customerID == "" {
		return nil, ValidationError{Field: "customer_id", Message: "required"}
	}

	product, err := e.activeProduct(ctx, productID)
	if err != nil {
		return nil, err
	}

	unlock := e.locks.Lock(customerKey(customerID))
	defer unlock()

	sess, err := e.loadSession(ctx, customerID)
	if err != nil {
		return nil, err
	}
	if _, err := e.guardSession(ctx, sess); err != nil {
		return nil, err
	}
	if sess.HasCredit() || sess.State == session.StateAwaitingActivationInfo {
		return nil, fmt.Errorf("%w: redeem the available credit first", ErrWrongState)
	}

	now := e.now()
	o := &order.Order{
		Entity:           types.NewEntity(now),
		ID:               id.NewOrderID(),
		CustomerID:       customerID,
		CatalogProductID: product.ID,
		Product:          snapshotOf(product),
		Status:           order.StatusPendingPayment,
		CreditAmount:     types.Zero(product.Price.Currency),
	}

	charge, err := e.createCharge(ctx, o)
	if err != nil {
		e.logger.Warn("payment gateway unavailable, issuing placeholder pay code",
			"order_id", o.ID.String(),
			"customer_id", customerID,
			"error", err,
		)
		charge = gateway.Placeholder(o.ID, o.Product.Price)
		o.Degraded = true
	}
	o.ChargeReference = charge.Reference
	o.PayCode = charge.PayCode

	if err := e.store.SaveOrder(ctx, o); err != nil {
		return nil, fmt.Errorf("redeem: save order: %w", err)
	}

	sess.CurrentOrderID = o.ID
	sess.State = session.StateAwaitingPayment
	sess.SetExtra(session.ExtraSelectedProduct, product.ID.String())
	sess.SetExtra(session.ExtraSelectedName, product.Name)
	if err := e.saveSession(ctx, sess); err != nil {
		return nil, err
	}

	e.logger.Info("order created",
		"order_id", o.ID.String(),
		"customer_id", customerID,
		"product_id", product.ID.String(),
		"amount", o.Product.Price.String(),
		"charge_ref", o.ChargeReference,
		"degraded", o.Degraded,
	)
	e.plugins.EmitOrderCreated(ctx, o)

	if o.Degraded {
		e.notify(ctx, customerID, msgPayCodeDegraded, o.Product.Name, o.Product.Price, o.PayCode)
	} else {
		e.notify(ctx, customerID, msgPayCode, o.Product.Name, o.Product.Price, o.PayCode)
	}

	return o, nil
}

func (e *Engine) createCharge(ctx context.Context, o *order.Order) (*gateway.Charge, error) {
	ctx, cancel := e.gatewayContext(ctx)
	defer cancel()

	charge, err := e.gateway.CreateCharge(ctx, gateway.ChargeRequest{
		OrderID:     o.ID,
		CustomerID:  o.CustomerID,
		Amount:      o.Product.Price,
		Description: o.Product.Name,
	})
	if err != nil {
		return nil, err
	}
	if charge == nil || charge.Reference == "" {
		return nil, fmt.Errorf("%w: empty charge reference", gateway.ErrUnavailable)
	}
	return charge, nil
}

// ──────────────────────────────────────────────────
// Settlement
// ──────────────────────────────────────────────────

// SettleOrder applies a gateway result to a pending order. It is safe to call
// any number of times from any number of goroutines: only the first call that
// observes pending_payment changes anything, later calls return AlreadySettled.
func (e *Engine) SettleOrder(ctx context.Context, orderID id.OrderID, status gateway.ChargeStatus) (SettleOutcome, error) {
	return e.settle(ctx, orderID, status, SourceCustomer, false)
}

// ApproveOrder settles an order by operator decision, bypassing the gateway.
// It is the only way to settle a degraded order.
func (e *Engine) ApproveOrder(ctx context.Context, orderID id.OrderID) (SettleOutcome, error) {
	return e.settle(ctx, orderID, gateway.StatusApproved, SourceAdmin, true)
}

func (e *Engine) settle(ctx context.Context, orderID id.OrderID, status gateway.ChargeStatus, source string, manual bool) (SettleOutcome, error) {
	unlock := e.locks.Lock(orderKey(orderID))
	defer unlock()

	o, err := e.store.GetOrder(ctx, orderID)
	if err != nil {
		return 0, err
	}

	if o.Status != order.StatusPendingPayment || o.IsCreditSource() {
		e.logger.Debug("settlement skipped, order already settled",
			"order_id", o.ID.String(),
			"status", string(o.Status),
			"source", source,
		)
		return AlreadySettled, nil
	}

	switch {
	case status.IsApproved():
		if o.Degraded && !manual {
			return Ignored, ErrDegradedOrder
		}
		return e.settleApproved(ctx, o, source, manual)
	case status == gateway.StatusRejected:
		return e.settleRejected(ctx, o, order.StatusPaymentRejected, msgPaymentRejected)
	case status == gateway.StatusCancelled:
		return e.settleRejected(ctx, o, order.StatusPaymentCancelled, msgPaymentCancelled)
	default:
		return Ignored, nil
	}
}

// settleApproved marks the order paid and grants its credit in one order
// write. Caller holds the order lock.
func (e *Engine) settleApproved(ctx context.Context, o *order.Order, source string, manual bool) (SettleOutcome, error) {
	unlock := e.locks.Lock(customerKey(o.CustomerID))
	defer unlock()

	sess, err := e.loadSession(ctx, o.CustomerID)
	if err != nil {
		return 0, err
	}
	if _, err := e.syncCredit(ctx, sess); err != nil {
		if IsInconsistency(err) {
			return 0, e.flagBlockedSettlement(ctx, o, sess, err)
		}
		return 0, err
	}

	if !sess.CreditOrderID.IsNil() && sess.CreditOrderID != o.ID {
		return 0, e.flagConflictingSettlement(ctx, o, sess)
	}

	now := e.now()
	o.Status = order.StatusPaid
	o.PaidAt = &now
	o.ManualApproval = manual
	if err := e.applyGrant(ctx, o, sess, o.Product.Price); err != nil {
		return 0, err
	}

	e.logger.Info("order settled",
		"order_id", o.ID.String(),
		"customer_id", o.CustomerID,
		"amount", o.CreditAmount.String(),
		"source", source,
		"manual", manual,
	)
	e.plugins.EmitOrderSettled(ctx, o, source)
	e.notify(ctx, o.CustomerID, msgPaymentConfirmed, o.CreditAmount)

	return Settled, nil
}

// flagConflictingSettlement keeps the order pending and surfaces it for
// review: the customer already holds credit from another order.
func (e *Engine) flagConflictingSettlement(ctx context.Context, o *order.Order, sess *session.Session) error {
	reason := fmt.Sprintf("payment approved while order %s is the active credit source", sess.CreditOrderID)
	if err := e.flagOrder(ctx, o, reason); err != nil {
		return err
	}

	e.logger.Error("settlement rejected, customer already holds credit",
		"order_id", o.ID.String(),
		"customer_id", o.CustomerID,
		"credit_order_id", sess.CreditOrderID.String(),
	)
	return fmt.Errorf("%w: order %s", ErrCreditConflict, o.ID)
}

// flagBlockedSettlement keeps an approved order pending when the customer's
// ledger is under review, so poll and sweep leave it for the operator
// instead of expiring a captured payment.
func (e *Engine) flagBlockedSettlement(ctx context.Context, o *order.Order, sess *session.Session, cause error) error {
	reason := "payment approved while the customer is under review"
	if sess.ReviewReason != "" {
		reason += ": " + sess.ReviewReason
	}
	if err := e.flagOrder(ctx, o, reason); err != nil {
		return err
	}

	e.logger.Error("settlement held for review",
		"order_id", o.ID.String(),
		"customer_id", o.CustomerID,
		"reason", reason,
	)
	return fmt.Errorf("order %s: %w", o.ID, cause)
}

// flagOrder marks a pending order for review once. Caller holds the order lock.
func (e *Engine) flagOrder(ctx context.Context, o *order.Order, reason string) error {
	if o.NeedsReview {
		return nil
	}
	o.NeedsReview = true
	o.ReviewReason = reason
	o.Touch(e.now())
	if err := e.store.SaveOrder(ctx, o); err != nil {
		return fmt.Errorf("redeem: flag order for review: %w", err)
	}
	e.plugins.EmitLedgerInconsistency(ctx, o.CustomerID, reason)
	return nil
}

func (e *Engine) settleRejected(ctx context.Context, o *order.Order, to order.Status, msg string) (SettleOutcome, error) {
	if err := e.transition(o, to); err != nil {
		return 0, err
	}
	if err := e.store.SaveOrder(ctx, o); err != nil {
		return 0, fmt.Errorf("redeem: save order: %w", err)
	}

	if err := e.releaseCurrentOrder(ctx, o); err != nil {
		e.logger.Warn("failed to release session after rejected payment",
			"order_id", o.ID.String(),
			"customer_id", o.CustomerID,
			"error", err,
		)
	}

	e.logger.Info("payment not approved",
		"order_id", o.ID.String(),
		"customer_id", o.CustomerID,
		"status", string(to),
	)
	e.plugins.EmitOrderRejected(ctx, o)
	e.notify(ctx, o.CustomerID, msg, o.Product.Name)

	return Settled, nil
}

// ──────────────────────────────────────────────────
// Cancellation
// ──────────────────────────────────────────────────

// CancelOrder cancels a pending order. Cancelling an order that is already
// cancelled is a no-op.
func (e *Engine) CancelOrder(ctx context.Context, orderID id.OrderID, reason string) error {
	unlock := e.locks.Lock(orderKey(orderID))
	defer unlock()

	o, err := e.store.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}

	switch o.Status {
	case order.StatusCancelled:
		return nil
	case order.StatusPendingPayment:
	default:
		return fmt.Errorf("%w: order is %s", ErrOrderNotPending, o.Status)
	}

	if err := e.transition(o, order.StatusCancelled); err != nil {
		return err
	}
	o.LastError = reason
	if err := e.store.SaveOrder(ctx, o); err != nil {
		return fmt.Errorf("redeem: save order: %w", err)
	}

	if err := e.releaseCurrentOrder(ctx, o); err != nil {
		e.logger.Warn("failed to release session after cancel",
			"order_id", o.ID.String(),
			"error", err,
		)
	}

	e.logger.Info("order cancelled",
		"order_id", o.ID.String(),
		"customer_id", o.CustomerID,
		"reason", reason,
	)
	e.plugins.EmitOrderCancelled(ctx, o, reason)
	e.notify(ctx, o.CustomerID, msgOrderCancelled, o.Product.Name)

	return nil
}

// releaseCurrentOrder clears the session's pointer to o once o has left
// pending_payment without credit. Caller holds the order lock.
func (e *Engine) releaseCurrentOrder(ctx context.Context, o *order.Order) error {
	unlock := e.locks.Lock(customerKey(o.CustomerID))
	defer unlock()

	sess, err := e.store.GetSession(ctx, o.CustomerID)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return nil
		}
		return err
	}
	if sess.CurrentOrderID != o.ID {
		return nil
	}

	sess.CurrentOrderID = id.Nil
	if sess.State == session.StateAwaitingPayment {
		sess.State = session.StateMenu
		sess.ClearSelection()
	}
	return e.saveSession(ctx, sess)
}

// ──────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────

func (e *Engine) transition(o *order.Order, to order.Status) error {
	if !order.CanTransition(o.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, o.Status, to)
	}
	o.Status = to
	o.Touch(e.now())
	return nil
}

// loadSession returns the customer's session, creating an unsaved one on
// first contact.
func (e *Engine) loadSession(ctx context.Context, customerID string) (*session.Session, error) {
	sess, err := e.store.GetSession(ctx, customerID)
	if err == nil {
		return sess, nil
	}
	if errors.Is(err, ErrSessionNotFound) {
		sess = session.New(customerID, e.now())
		sess.AvailableCredit = types.Zero(e.currency)
		return sess, nil
	}
	return nil, err
}

func (e *Engine) saveSession(ctx context.Context, sess *session.Session) error {
	sess.Touch(e.now())
	if err := e.store.SaveSession(ctx, sess); err != nil {
		return fmt.Errorf("redeem: save session: %w", err)
	}
	return nil
}

func (e *Engine) activeProduct(ctx context.Context, productID id.ProductID) (*catalog.Product, error) {
	product, err := e.catalog.Get(ctx, productID)
	if err != nil {
		return nil, err
	}
	if !product.Active {
		return nil, fmt.Errorf("%w: %s", ErrProductInactive, product.Name)
	}
	return product, nil
}

func (e *Engine) gatewayContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.gatewayTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, e.gatewayTimeout)
}

func snapshotOf(p *catalog.Product) order.ProductSnapshot {
	return order.ProductSnapshot{
		ProductID:          p.ID,
		Name:               p.Name,
		Price:              p.Price,
		ActivationModuleID: p.ActivationModuleID,
	}
}
