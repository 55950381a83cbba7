package redeem

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/xraph/redeem/activation"
	"github.com/xraph/redeem/id"
	"github.com/xraph/redeem/order"
	"github.com/xraph/redeem/session"
	"github.com/xraph/redeem/types"
)

// SubmitActivationPayload accepts the customer's activation details, puts the
// customer into silence and runs the activation in the background.
func (e *Engine) SubmitActivationPayload(ctx context.Context, customerID, payload string) (*order.Order, error) {
	payload = strings.TrimSpace(payload)

	unlock := e.locks.Lock(customerKey(customerID))
	defer unlock()

	sess, err := e.store.GetSession(ctx, customerID)
	if err != nil {
		return nil, err
	}
	if _, err := e.guardSession(ctx, sess); err != nil {
		return nil, err
	}
	if sess.State != session.StateAwaitingActivationInfo {
		return nil, fmt.Errorf("%w: no product selected for activation", ErrWrongState)
	}
	if payload == "" {
		return nil, ValidationError{Field: "payload", Message: "required"}
	}

	o, err := e.store.GetOrder(ctx, sess.CreditOrderID)
	if err != nil {
		return nil, err
	}
	if o.ActivationOverrideProduct == nil {
		return nil, e.flagReview(ctx, sess, "debited credit has no selected product")
	}
	if err := e.transition(o, order.StatusProcessing); err != nil {
		return nil, err
	}
	o.ActivationPayload = payload
	o.LastError = ""

	return o, e.dispatchLocked(ctx, o, sess)
}

// RetryActivation re-runs a failed order's activation with its stored
// payload. When productID is set the customer's restored credit is redeemed
// for that product instead of the previous selection.
func (e *Engine) RetryActivation(ctx context.Context, orderID id.OrderID, productID id.ProductID) (*order.Order, error) {
	o, err := e.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.Status != order.StatusFailed {
		return nil, fmt.Errorf("%w: order is %s", ErrInvalidTransition, o.Status)
	}

	target := o.ActivationOverrideProduct
	if !productID.IsNil() {
		product, err := e.activeProduct(ctx, productID)
		if err != nil {
			return nil, err
		}
		snap := snapshotOf(product)
		target = &snap
	}
	if target == nil {
		return nil, ValidationError{Field: "product_id", Message: "required"}
	}

	unlock := e.locks.Lock(customerKey(o.CustomerID))
	defer unlock()

	sess, err := e.store.GetSession(ctx, o.CustomerID)
	if err != nil {
		return nil, err
	}
	src, err := e.guardSession(ctx, sess)
	if err != nil {
		return nil, err
	}
	if src == nil || src.ID != o.ID || !sess.HasCredit() {
		return nil, fmt.Errorf("%w: order %s is not the active credit source", ErrNoCredit, o.ID)
	}
	if !sess.AvailableCredit.Covers(target.Price) {
		return nil, fmt.Errorf("%w: %s available, %s needed", ErrInsufficientCredit, sess.AvailableCredit, target.Price)
	}
	if src.ActivationPayload == "" {
		return nil, ValidationError{Field: "payload", Message: "order has no stored activation payload"}
	}

	if err := e.transition(src, order.StatusProcessing); err != nil {
		return nil, err
	}
	src.CreditConsumed = true
	src.ActivationOverrideProduct = target
	src.LastError = ""
	sess.AvailableCredit = types.Zero(sess.AvailableCredit.Currency)
	sess.SetExtra(session.ExtraSelectedProduct, target.ProductID.String())
	sess.SetExtra(session.ExtraSelectedName, target.Name)

	e.logger.Info("retrying activation",
		"order_id", src.ID.String(),
		"customer_id", src.CustomerID,
		"product_id", target.ProductID.String(),
	)
	e.plugins.EmitCreditConsumed(ctx, src.CustomerID, src.ID, *target)

	return src, e.dispatchLocked(ctx, src, sess)
}

// dispatchLocked persists the processing order, enters silence and launches
// the activation unit. Caller holds the customer lock.
func (e *Engine) dispatchLocked(ctx context.Context, o *order.Order, sess *session.Session) error {
	if err := e.store.SaveOrder(ctx, o); err != nil {
		return fmt.Errorf("redeem: save order: %w", err)
	}

	sess.CurrentOrderID = o.ID
	sess.EnterSilence(e.now().Add(e.silenceLease))
	if err := e.saveSession(ctx, sess); err != nil {
		return err
	}

	e.logger.Info("activation dispatched",
		"order_id", o.ID.String(),
		"customer_id", o.CustomerID,
		"module", o.ActivationProduct().ActivationModuleID,
		"silence_until", sess.SilenceUntil,
	)
	e.plugins.EmitActivationStarted(ctx, o)
	e.notify(ctx, o.CustomerID, msgProcessing, productName(o))

	e.inflight.Add(1)
	go e.runActivation(context.WithoutCancel(ctx), o.Clone())

	return nil
}

// runActivation is one activation unit. It never returns with the customer
// silenced unless the outcome is unknown, in which case the lease expiry
// releases them.
func (e *Engine) runActivation(ctx context.Context, o *order.Order) {
	defer e.inflight.Done()
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("activation unit panicked, releasing customer",
				"order_id", o.ID.String(),
				"customer_id", o.CustomerID,
				"panic", r,
			)
			e.emergencyUnblock(ctx, o, fmt.Sprintf("internal error: %v", r))
		}
	}()

	started := e.now()
	product := o.ActivationProduct()

	result, err := e.invokeProvider(ctx, o, product)
	if errors.Is(err, activation.ErrTimeout) {
		e.logger.Warn("activation outcome unknown, waiting for lease expiry",
			"order_id", o.ID.String(),
			"customer_id", o.CustomerID,
			"module", product.ActivationModuleID,
			"error", ErrActivationTimeout,
		)
		return
	}
	if err != nil {
		result = &activation.Result{ErrorMessage: err.Error()}
	}

	e.finishActivation(ctx, o.ID, o.CustomerID, result, e.now().Sub(started))
}

func (e *Engine) invokeProvider(ctx context.Context, o *order.Order, product order.ProductSnapshot) (*activation.Result, error) {
	p, err := e.providers.Resolve(product.ActivationModuleID)
	if err != nil {
		return nil, err
	}
	return activation.Invoke(ctx, p, activation.Request{
		AttemptID:   id.NewActivationID(),
		OrderID:     o.ID,
		CustomerID:  o.CustomerID,
		ProductID:   product.ProductID,
		ProductName: product.Name,
		ModuleID:    product.ActivationModuleID,
		Payload:     o.ActivationPayload,
	}, e.activationTimeout)
}

// finishActivation applies a provider result. The order is re-read under the
// customer lock; a result for an order no longer processing is discarded.
func (e *Engine) finishActivation(ctx context.Context, orderID id.OrderID, customerID string, result *activation.Result, elapsed time.Duration) {
	unlock := e.locks.Lock(customerKey(customerID))
	defer unlock()

	o, err := e.store.GetOrder(ctx, orderID)
	if err != nil {
		e.logger.Error("failed to load order after activation",
			"order_id", orderID.String(),
			"error", err,
		)
		return
	}
	if o.Status != order.StatusProcessing {
		e.logger.Warn("discarding late activation result",
			"order_id", o.ID.String(),
			"status", string(o.Status),
		)
		return
	}

	sess, err := e.loadSession(ctx, customerID)
	if err != nil {
		e.logger.Error("failed to load session after activation",
			"order_id", o.ID.String(),
			"error", err,
		)
		return
	}

	if result.Success {
		e.completeActivation(ctx, o, sess, result.Data, elapsed)
		return
	}

	reason := result.ErrorMessage
	if reason == "" {
		reason = ErrActivationFailed.Error()
	}
	e.failActivation(ctx, o, sess, reason)
}

func (e *Engine) completeActivation(ctx context.Context, o *order.Order, sess *session.Session, data string, elapsed time.Duration) {
	now := e.now()
	if err := e.transition(o, order.StatusCompleted); err != nil {
		e.logger.Error("invalid completion", "order_id", o.ID.String(), "error", err)
		return
	}
	o.ActivationResult = data
	o.CompletedAt = &now
	if err := e.store.SaveOrder(ctx, o); err != nil {
		e.logger.Error("failed to save completed order",
			"order_id", o.ID.String(),
			"error", err,
		)
		return
	}

	sess.Reset()
	if err := e.saveSession(ctx, sess); err != nil {
		e.logger.Error("activation completed but session not reset",
			"order_id", o.ID.String(),
			"customer_id", o.CustomerID,
			"error", err,
		)
	}

	e.logger.Info("activation completed",
		"order_id", o.ID.String(),
		"customer_id", o.CustomerID,
		"elapsed", elapsed,
	)
	e.plugins.EmitActivationSucceeded(ctx, o, elapsed)
	e.notify(ctx, o.CustomerID, msgActivated, productName(o), data)
}

// failActivation records the failure and restores the credit when the order
// was paid for with it. The customer always leaves silence.
func (e *Engine) failActivation(ctx context.Context, o *order.Order, sess *session.Session, reason string) {
	if err := e.transition(o, order.StatusFailed); err != nil {
		e.logger.Error("invalid failure", "order_id", o.ID.String(), "error", err)
		return
	}
	o.LastError = reason
	if err := e.store.SaveOrder(ctx, o); err != nil {
		e.logger.Error("failed to save failed order",
			"order_id", o.ID.String(),
			"error", err,
		)
		return
	}

	e.logger.Warn("activation failed",
		"order_id", o.ID.String(),
		"customer_id", o.CustomerID,
		"reason", reason,
	)
	e.plugins.EmitActivationFailed(ctx, o, reason)

	if o.CreditConsumed && sess.CreditOrderID == o.ID {
		src, _, err := e.compensateLocked(ctx, sess)
		if err == nil {
			e.notify(ctx, o.CustomerID, msgActivationFailed, productName(o), reason, src.CreditAmount)
			return
		}
		e.logger.Error("compensation after failed activation did not apply",
			"order_id", o.ID.String(),
			"customer_id", o.CustomerID,
			"error", err,
		)
	}

	sess.Reset()
	if err := e.saveSession(ctx, sess); err != nil {
		e.logger.Error("failed to reset session after activation failure",
			"customer_id", o.CustomerID,
			"error", err,
		)
	}
	e.notify(ctx, o.CustomerID, msgFailedNoCredit, productName(o), reason)
}

// emergencyUnblock releases a customer after the activation unit itself
// broke. The provider outcome is unknown, so the order stays processing with
// the debit in place and both records are flagged for review.
func (e *Engine) emergencyUnblock(ctx context.Context, o *order.Order, reason string) {
	unlock := e.locks.Lock(customerKey(o.CustomerID))
	defer unlock()

	sess, err := e.store.GetSession(ctx, o.CustomerID)
	if err != nil {
		e.logger.Error("emergency unblock could not load session",
			"customer_id", o.CustomerID,
			"error", err,
		)
		return
	}
	if sess.State != session.StateProcessingActivation || sess.CurrentOrderID != o.ID {
		return
	}
	e.releaseUnknownOutcome(ctx, sess, reason)
}

// ResolveActivation records an operator's verdict on an activation whose
// outcome was never reported. A success completes the order and spends the
// credit; a failure fails the order and restores the credit. The review flag
// raised for the unknown outcome is cleared.
func (e *Engine) ResolveActivation(ctx context.Context, orderID id.OrderID, succeeded bool, detail string) (*order.Order, error) {
	detail = strings.TrimSpace(detail)
	if detail == "" {
		return nil, ValidationError{Field: "detail", Message: "required"}
	}

	o, err := e.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	unlock := e.locks.Lock(customerKey(o.CustomerID))
	defer unlock()

	o, err = e.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.Status != order.StatusProcessing {
		return nil, fmt.Errorf("%w: order is %s", ErrInvalidTransition, o.Status)
	}
	sess, err := e.loadSession(ctx, o.CustomerID)
	if err != nil {
		return nil, err
	}
	if sess.CurrentOrderID == o.ID && sess.IsSilenced(e.now()) {
		return nil, ErrSilenced
	}

	to := order.StatusFailed
	if succeeded {
		to = order.StatusCompleted
	}
	if err := e.transition(o, to); err != nil {
		return nil, err
	}
	if succeeded {
		now := e.now()
		o.ActivationResult = detail
		o.CompletedAt = &now
	} else {
		o.LastError = detail
	}
	if sess.NeedsReview && sess.ReviewReason == o.ReviewReason {
		sess.NeedsReview = false
		sess.ReviewReason = ""
	}
	o.NeedsReview = false
	o.ReviewReason = ""
	if err := e.store.SaveOrder(ctx, o); err != nil {
		return nil, fmt.Errorf("redeem: save order: %w", err)
	}

	e.logger.Warn("activation resolved by operator",
		"order_id", o.ID.String(),
		"customer_id", o.CustomerID,
		"succeeded", succeeded,
		"detail", detail,
	)

	if succeeded {
		if sess.CreditOrderID == o.ID {
			sess.ClearCredit()
			sess.ClearSelection()
		}
		if sess.CurrentOrderID == o.ID {
			sess.Reset()
		}
		if err := e.saveSession(ctx, sess); err != nil {
			return o, err
		}
		e.plugins.EmitActivationSucceeded(ctx, o, 0)
		e.notify(ctx, o.CustomerID, msgActivated, productName(o), detail)
		return o, nil
	}

	e.plugins.EmitActivationFailed(ctx, o, detail)
	if o.CreditConsumed && sess.CreditOrderID == o.ID {
		src, _, err := e.compensateLocked(ctx, sess)
		if err != nil {
			return o, err
		}
		e.notify(ctx, o.CustomerID, msgActivationFailed, productName(o), detail, src.CreditAmount)
		return src, nil
	}

	if sess.CurrentOrderID == o.ID {
		sess.CurrentOrderID = id.Nil
		sess.ExitSilence(session.StateMenu)
	}
	if err := e.saveSession(ctx, sess); err != nil {
		return o, err
	}
	e.notify(ctx, o.CustomerID, msgFailedNoCredit, productName(o), detail)
	return o, nil
}

// ──────────────────────────────────────────────────
// Silence lease
// ──────────────────────────────────────────────────

// Unsilence is the operator force-clear: it releases the customer's silence
// lease now, applying the same rules as lease expiry.
func (e *Engine) Unsilence(ctx context.Context, customerID string) error {
	unlock := e.locks.Lock(customerKey(customerID))
	defer unlock()

	sess, err := e.store.GetSession(ctx, customerID)
	if err != nil {
		return err
	}
	if sess.State != session.StateProcessingActivation {
		return fmt.Errorf("%w: customer is not silenced", ErrWrongState)
	}
	return e.expireLease(ctx, sess)
}

// expireLease releases a silence lease whose activation never reported back.
// A finished order is reconciled; an order still processing is flagged for
// review with the credit left debited. Caller holds the customer lock.
func (e *Engine) expireLease(ctx context.Context, sess *session.Session) error {
	if sess.CurrentOrderID.IsNil() {
		sess.ExitSilence(session.StateMenu)
		return e.saveSession(ctx, sess)
	}

	o, err := e.store.GetOrder(ctx, sess.CurrentOrderID)
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			return e.flagReview(ctx, sess, "silenced on an order that does not exist")
		}
		return err
	}

	e.logger.Warn("silence lease expired",
		"order_id", o.ID.String(),
		"customer_id", sess.CustomerID,
		"order_status", string(o.Status),
	)

	switch o.Status {
	case order.StatusCompleted:
		sess.Reset()
		return e.saveSession(ctx, sess)
	case order.StatusFailed:
		if o.CreditConsumed && sess.CreditOrderID == o.ID {
			if _, _, err := e.compensateLocked(ctx, sess); err == nil {
				e.notify(ctx, sess.CustomerID, msgCreditRestored, o.CreditAmount)
				return nil
			}
		}
		sess.Reset()
		return e.saveSession(ctx, sess)
	case order.StatusProcessing:
		e.releaseUnknownOutcome(ctx, sess, "activation outcome unknown after silence lease expired")
		return nil
	default:
		sess.ExitSilence(session.StateMenu)
		return e.saveSession(ctx, sess)
	}
}

// releaseUnknownOutcome exits silence for an order still processing. The
// provider may have succeeded, so the debit stays and an operator decides.
func (e *Engine) releaseUnknownOutcome(ctx context.Context, sess *session.Session, reason string) {
	o, err := e.store.GetOrder(ctx, sess.CurrentOrderID)
	if err == nil && !o.NeedsReview {
		o.NeedsReview = true
		o.ReviewReason = reason
		o.Touch(e.now())
		if err := e.store.SaveOrder(ctx, o); err != nil {
			e.logger.Error("failed to flag order for review",
				"order_id", o.ID.String(),
				"error", err,
			)
		}
	}

	sess.NeedsReview = true
	sess.ReviewReason = reason
	sess.ExitSilence(session.StateMenu)
	if err := e.saveSession(ctx, sess); err != nil {
		e.logger.Error("failed to release silenced session",
			"customer_id", sess.CustomerID,
			"error", err,
		)
	}

	e.logger.Error("customer released with unknown activation outcome",
		"order_id", sess.CurrentOrderID.String(),
		"customer_id", sess.CustomerID,
		"reason", reason,
	)
	e.plugins.EmitLedgerInconsistency(ctx, sess.CustomerID, reason)
	if o != nil {
		e.notify(ctx, sess.CustomerID, msgContactSupport, productName(o), o.ID)
	}
}
