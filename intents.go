package redeem

import (
	"context"
	"errors"
	"fmt"

	"github.com/xraph/redeem/gateway"
	"github.com/xraph/redeem/id"
	"github.com/xraph/redeem/order"
	"github.com/xraph/redeem/session"
)

// SelectProduct routes a customer's product choice: with credit it redeems
// the credit, otherwise it opens a new order.
func (e *Engine) SelectProduct(ctx context.Context, customerID string, productID id.ProductID) (*order.Order, error) {
	hasCredit, err := e.peekCredit(ctx, customerID)
	if err != nil {
		return nil, err
	}
	if hasCredit {
		return e.TentativelyConsume(ctx, customerID, productID)
	}
	return e.CreateOrder(ctx, customerID, productID)
}

// peekCredit reconciles the session and reports whether it holds credit.
func (e *Engine) peekCredit(ctx context.Context, customerID string) (bool, error) {
	unlock := e.locks.Lock(customerKey(customerID))
	defer unlock()

	sess, err := e.loadSession(ctx, customerID)
	if err != nil {
		return false, err
	}
	if _, err := e.guardSession(ctx, sess); err != nil {
		return false, err
	}
	switch sess.State {
	case session.StateAwaitingActivationInfo, session.StateProcessingActivation:
		return false, fmt.Errorf("%w: finish or cancel the current activation first", ErrWrongState)
	}
	return sess.HasCredit(), nil
}

// Cancel backs out of the customer's current step: a tentative debit is
// compensated, a pending order is cancelled.
func (e *Engine) Cancel(ctx context.Context, customerID string) error {
	orderID, err := e.cancelStep(ctx, customerID)
	if err != nil || orderID.IsNil() {
		return err
	}
	return e.CancelOrder(ctx, orderID, "cancelled by customer")
}

// cancelStep compensates in place or returns the pending order to cancel.
// CancelOrder takes the order lock, so it runs after the customer lock is
// released.
func (e *Engine) cancelStep(ctx context.Context, customerID string) (id.OrderID, error) {
	unlock := e.locks.Lock(customerKey(customerID))
	defer unlock()

	sess, err := e.store.GetSession(ctx, customerID)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return id.Nil, ErrNoPendingOrder
		}
		return id.Nil, err
	}
	if _, err := e.guardSession(ctx, sess); err != nil {
		return id.Nil, err
	}

	if sess.State == session.StateAwaitingActivationInfo {
		src, _, err := e.compensateLocked(ctx, sess)
		if err != nil {
			return id.Nil, err
		}
		e.notify(ctx, customerID, msgCreditRestored, src.CreditAmount)
		return id.Nil, nil
	}

	if sess.State != session.StateAwaitingPayment || sess.CurrentOrderID.IsNil() {
		return id.Nil, ErrNoPendingOrder
	}
	return sess.CurrentOrderID, nil
}

// CheckPayment asks the gateway about the customer's pending order and
// settles it when the charge is final. A gateway that does not answer is
// reported to the customer as still pending.
func (e *Engine) CheckPayment(ctx context.Context, customerID string) (SettleOutcome, error) {
	o, err := e.currentPendingOrder(ctx, customerID)
	if err != nil {
		return 0, err
	}
	if o.Status != order.StatusPendingPayment {
		return AlreadySettled, nil
	}
	if o.Degraded || o.ChargeReference == "" {
		return 0, ErrDegradedOrder
	}

	status, err := e.chargeStatus(ctx, o.ChargeReference)
	if err != nil {
		if !IsTransient(err) {
			return 0, err
		}
		e.logger.Warn("charge status unavailable, reporting payment as pending",
			"order_id", o.ID.String(),
			"customer_id", customerID,
			"error", err,
		)
		status = gateway.StatusPending
	}

	outcome, err := e.settle(ctx, o.ID, status, SourceCustomer, false)
	if err != nil {
		return 0, err
	}
	if outcome == Ignored {
		e.notify(ctx, customerID, msgStillPending, o.PayCode)
	}
	return outcome, nil
}

func (e *Engine) currentPendingOrder(ctx context.Context, customerID string) (*order.Order, error) {
	unlock := e.locks.Lock(customerKey(customerID))
	defer unlock()

	sess, err := e.store.GetSession(ctx, customerID)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return nil, ErrNoPendingOrder
		}
		return nil, err
	}
	if _, err := e.guardSession(ctx, sess); err != nil {
		return nil, err
	}
	if sess.CurrentOrderID.IsNil() {
		return nil, ErrNoPendingOrder
	}
	return e.store.GetOrder(ctx, sess.CurrentOrderID)
}

// HandleWebhook processes a verified gateway push event. The event only
// names the charge; its status is re-read from the gateway before settling,
// so duplicate and out-of-order deliveries are harmless.
func (e *Engine) HandleWebhook(ctx context.Context, ev *gateway.Event) (SettleOutcome, error) {
	e.plugins.EmitWebhookReceived(ctx, ev.Type, ev.ChargeReference)

	o, err := e.store.GetOrderByChargeRef(ctx, ev.ChargeReference)
	if err != nil {
		return 0, err
	}
	if o.Status != order.StatusPendingPayment {
		return AlreadySettled, nil
	}

	status, err := e.chargeStatus(ctx, ev.ChargeReference)
	if err != nil {
		e.logger.Warn("webhook status re-read failed, leaving order for the poller",
			"order_id", o.ID.String(),
			"charge_ref", ev.ChargeReference,
			"error", err,
		)
		return 0, err
	}

	e.logger.Debug("webhook received",
		"event_id", ev.ID,
		"event_type", ev.Type,
		"order_id", o.ID.String(),
		"status", string(status),
	)
	return e.settle(ctx, o.ID, status, SourceWebhook, false)
}
