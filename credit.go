package redeem

import (
	"context"
	"errors"
	"fmt"

	"github.com/xraph/redeem/id"
	"github.com/xraph/redeem/order"
	"github.com/xraph/redeem/session"
	"github.com/xraph/redeem/types"
)

// ──────────────────────────────────────────────────
// Grant
// ──────────────────────────────────────────────────

// Grant makes a paid order the customer's credit source. Settlement calls it
// on approval; operators use it to recover a paid order whose credit was
// never granted. An order grants credit at most once.
func (e *Engine) Grant(ctx context.Context, customerID string, orderID id.OrderID, amount types.Money) error {
	if !amount.IsPositive() {
		return ValidationError{Field: "amount", Message: "must be positive"}
	}

	unlock := e.locks.Lock(orderKey(orderID))
	defer unlock()

	o, err := e.store.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}
	if o.CustomerID != customerID {
		return ValidationError{Field: "customer_id", Message: "order belongs to another customer"}
	}
	if o.IsCreditSource() {
		if o.CreditAmount.Equal(amount) {
			return nil
		}
		return fmt.Errorf("%w: order %s already granted %s", ErrCreditConflict, o.ID, o.CreditAmount)
	}
	if o.Status != order.StatusPaid {
		return fmt.Errorf("%w: order is %s", ErrInvalidTransition, o.Status)
	}

	cunlock := e.locks.Lock(customerKey(customerID))
	defer cunlock()

	sess, err := e.loadSession(ctx, customerID)
	if err != nil {
		return err
	}
	if _, err := e.syncCredit(ctx, sess); err != nil {
		return err
	}
	if !sess.CreditOrderID.IsNil() && sess.CreditOrderID != o.ID {
		return e.flagConflictingSettlement(ctx, o, sess)
	}

	if err := e.applyGrant(ctx, o, sess, amount); err != nil {
		return err
	}
	e.notify(ctx, customerID, msgPaymentConfirmed, amount)
	return nil
}

// applyGrant is the only writer of Order.CreditAmount. The order is written
// first; a failed session write is repaired by syncCredit on next access.
// Caller holds the order and customer locks.
func (e *Engine) applyGrant(ctx context.Context, o *order.Order, sess *session.Session, amount types.Money) error {
	o.CreditAmount = amount
	o.CreditConsumed = false
	o.ConsumeReason = ""
	o.Touch(e.now())
	if err := e.store.SaveOrder(ctx, o); err != nil {
		return fmt.Errorf("redeem: save order: %w", err)
	}

	sess.CreditOrderID = o.ID
	sess.AvailableCredit = amount
	sess.CurrentOrderID = o.ID
	sess.State = session.StateCreditMenu
	sess.ClearSelection()
	if err := e.saveSession(ctx, sess); err != nil {
		e.logger.Error("credit granted but session not updated",
			"order_id", o.ID.String(),
			"customer_id", o.CustomerID,
			"error", err,
		)
	}

	e.plugins.EmitCreditGranted(ctx, o.CustomerID, o.ID, amount)
	return nil
}

// ──────────────────────────────────────────────────
// Consume and compensate
// ──────────────────────────────────────────────────

// TentativelyConsume debits the customer's credit for a product before the
// activation runs. A second call fails with ErrNoCredit until the first debit
// is compensated or becomes permanent.
func (e *Engine) TentativelyConsume(ctx context.Context, customerID string, productID id.ProductID) (*order.Order, error) {
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
	src, err := e.guardSession(ctx, sess)
	if err != nil {
		return nil, err
	}
	if !sess.HasCredit() || src == nil {
		return nil, ErrNoCredit
	}
	if !sess.AvailableCredit.Covers(product.Price) {
		return nil, fmt.Errorf("%w: %s available, %s needed", ErrInsufficientCredit, sess.AvailableCredit, product.Price)
	}

	snap := snapshotOf(product)
	src.CreditConsumed = true
	src.ConsumeReason = ""
	src.ActivationOverrideProduct = &snap
	src.Touch(e.now())
	if err := e.store.SaveOrder(ctx, src); err != nil {
		return nil, fmt.Errorf("redeem: save order: %w", err)
	}

	sess.AvailableCredit = types.Zero(sess.AvailableCredit.Currency)
	sess.CurrentOrderID = src.ID
	sess.State = session.StateAwaitingActivationInfo
	sess.SetExtra(session.ExtraSelectedProduct, product.ID.String())
	sess.SetExtra(session.ExtraSelectedName, product.Name)
	if err := e.saveSession(ctx, sess); err != nil {
		e.logger.Error("credit consumed but session not updated",
			"order_id", src.ID.String(),
			"customer_id", customerID,
			"error", err,
		)
	}

	e.logger.Info("credit tentatively consumed",
		"order_id", src.ID.String(),
		"customer_id", customerID,
		"product_id", product.ID.String(),
		"credit", src.CreditAmount.String(),
	)
	e.plugins.EmitCreditConsumed(ctx, customerID, src.ID, snap)
	e.notify(ctx, customerID, msgSendActivation, product.Name)

	return src, nil
}

// Compensate restores a tentative debit and returns the customer to the
// credit menu. Calling it again after a successful restore changes nothing.
func (e *Engine) Compensate(ctx context.Context, customerID string) error {
	unlock := e.locks.Lock(customerKey(customerID))
	defer unlock()

	sess, err := e.store.GetSession(ctx, customerID)
	if err != nil {
		return err
	}
	if sess.NeedsReview {
		return ErrNeedsReview
	}

	src, restored, err := e.compensateLocked(ctx, sess)
	if err != nil {
		return err
	}
	if restored {
		e.notify(ctx, customerID, msgCreditRestored, src.CreditAmount)
	}
	return nil
}

// compensateLocked re-derives the grant from the source order. The order is
// written before the session. It reports whether anything was restored; a
// customer already back on the credit menu with the full grant is left
// untouched. Caller holds the customer lock.
func (e *Engine) compensateLocked(ctx context.Context, sess *session.Session) (*order.Order, bool, error) {
	if sess.CreditOrderID.IsNil() {
		return nil, false, ErrNoCredit
	}

	src, err := e.store.GetOrder(ctx, sess.CreditOrderID)
	if err != nil {
		return nil, false, err
	}
	switch {
	case src.ConsumeReason != "":
		return nil, false, fmt.Errorf("%w: credit was cleared: %s", ErrNoCredit, src.ConsumeReason)
	case src.Status == order.StatusCompleted:
		return nil, false, fmt.Errorf("%w: activation already completed", ErrWrongState)
	case src.Status == order.StatusProcessing:
		return nil, false, fmt.Errorf("%w: activation in flight", ErrWrongState)
	case !src.IsCreditSource():
		return nil, false, ErrNoCredit
	}

	if !src.CreditConsumed && sess.State == session.StateCreditMenu &&
		sess.CurrentOrderID == src.ID && sess.AvailableCredit.Equal(src.CreditAmount) {
		return src, false, nil
	}

	if src.CreditConsumed {
		src.CreditConsumed = false
		src.Touch(e.now())
		if err := e.store.SaveOrder(ctx, src); err != nil {
			return nil, false, fmt.Errorf("redeem: save order: %w", err)
		}
	}

	sess.CreditOrderID = src.ID
	sess.AvailableCredit = src.CreditAmount
	sess.CurrentOrderID = src.ID
	sess.ExitSilence(session.StateCreditMenu)
	sess.ClearSelection()
	if err := e.saveSession(ctx, sess); err != nil {
		return nil, false, err
	}

	e.logger.Info("credit compensated",
		"order_id", src.ID.String(),
		"customer_id", sess.CustomerID,
		"credit", src.CreditAmount.String(),
	)
	e.plugins.EmitCreditCompensated(ctx, sess.CustomerID, src.ID, src.CreditAmount)

	return src, true, nil
}

// ClearCredit is the operator escape hatch: it consumes the active credit
// with reason recorded on the source order and zeroes the session.
func (e *Engine) ClearCredit(ctx context.Context, customerID, reason string) error {
	if reason == "" {
		return ValidationError{Field: "reason", Message: "required"}
	}

	unlock := e.locks.Lock(customerKey(customerID))
	defer unlock()

	sess, err := e.store.GetSession(ctx, customerID)
	if err != nil {
		return err
	}
	if sess.CreditOrderID.IsNil() {
		return ErrNoCredit
	}

	src, err := e.store.GetOrder(ctx, sess.CreditOrderID)
	if err != nil && !errors.Is(err, ErrOrderNotFound) {
		return err
	}
	if src != nil {
		src.CreditConsumed = true
		src.ConsumeReason = reason
		src.Touch(e.now())
		if err := e.store.SaveOrder(ctx, src); err != nil {
			return fmt.Errorf("redeem: save order: %w", err)
		}
	}

	orderID := sess.CreditOrderID
	sess.ClearCredit()
	sess.ClearSelection()
	if sess.CurrentOrderID == orderID {
		sess.CurrentOrderID = id.Nil
	}
	switch sess.State {
	case session.StateCreditMenu, session.StateAwaitingActivationInfo, session.StateProcessingActivation:
		sess.ExitSilence(session.StateMenu)
	}
	if err := e.saveSession(ctx, sess); err != nil {
		return err
	}

	e.logger.Warn("credit cleared by operator",
		"order_id", orderID.String(),
		"customer_id", customerID,
		"reason", reason,
	)
	e.plugins.EmitCreditCleared(ctx, customerID, orderID, reason)
	e.notify(ctx, customerID, msgCreditCleared, reason)

	return nil
}

// ──────────────────────────────────────────────────
// Consistency
// ──────────────────────────────────────────────────

// guardSession rejects customers under review or inside a live silence
// lease, releases an expired lease, and reconciles the session's credit
// mirror. It returns the credit source order when there is one. Caller holds
// the customer lock.
func (e *Engine) guardSession(ctx context.Context, sess *session.Session) (*order.Order, error) {
	if sess.NeedsReview {
		return nil, ErrNeedsReview
	}
	now := e.now()
	if sess.IsSilenced(now) {
		return nil, ErrSilenced
	}
	if sess.LeaseExpired(now) {
		if err := e.expireLease(ctx, sess); err != nil {
			return nil, err
		}
		if sess.NeedsReview {
			return nil, ErrNeedsReview
		}
	}
	return e.syncCredit(ctx, sess)
}

// syncCredit compares the session's credit mirror with its source order and
// repairs the disagreements a crash between the order write and the session
// write can leave behind. Any other disagreement flags the customer for
// review. Caller holds the customer lock.
func (e *Engine) syncCredit(ctx context.Context, sess *session.Session) (*order.Order, error) {
	if sess.NeedsReview {
		return nil, ErrNeedsReview
	}

	if sess.CreditOrderID.IsNil() {
		if sess.HasCredit() {
			return nil, e.flagReview(ctx, sess, "session holds credit without a source order")
		}
		return e.adoptOrphanGrant(ctx, sess)
	}

	src, err := e.store.GetOrder(ctx, sess.CreditOrderID)
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			return nil, e.flagReview(ctx, sess, "credit source order does not exist")
		}
		return nil, err
	}
	if src.CustomerID != sess.CustomerID {
		return nil, e.flagReview(ctx, sess, "credit source order belongs to another customer")
	}
	if !src.IsCreditSource() {
		return nil, e.flagReview(ctx, sess, "credit source order was never settled")
	}

	repaired := false
	switch {
	case src.HasActiveCredit():
		if sess.AvailableCredit.Equal(src.CreditAmount) {
			return src, nil
		}
		if sess.HasCredit() {
			return nil, e.flagReview(ctx, sess, fmt.Sprintf("session credit %s differs from order credit %s", sess.AvailableCredit, src.CreditAmount))
		}
		// Order restored or granted, session write lost.
		sess.AvailableCredit = src.CreditAmount
		sess.CurrentOrderID = src.ID
		sess.ExitSilence(session.StateCreditMenu)
		sess.ClearSelection()
		repaired = true

	case src.ConsumeReason != "":
		sess.ClearCredit()
		sess.ClearSelection()
		if sess.CurrentOrderID == src.ID {
			sess.CurrentOrderID = id.Nil
		}
		if sess.State != session.StateAwaitingPayment {
			sess.ExitSilence(session.StateMenu)
		}
		repaired = true

	case src.Status == order.StatusCompleted:
		sess.Reset()
		repaired = true

	case sess.HasCredit():
		// Debit written, session write lost.
		sess.AvailableCredit = types.Zero(sess.AvailableCredit.Currency)
		sess.CurrentOrderID = src.ID
		sess.State = session.StateAwaitingActivationInfo
		if p := src.ActivationOverrideProduct; p != nil {
			sess.SetExtra(session.ExtraSelectedProduct, p.ProductID.String())
			sess.SetExtra(session.ExtraSelectedName, p.Name)
		}
		repaired = true
	}

	if !repaired {
		return src, nil
	}

	e.logger.Warn("re-derived session credit from order",
		"order_id", src.ID.String(),
		"customer_id", sess.CustomerID,
		"state", string(sess.State),
	)
	if err := e.saveSession(ctx, sess); err != nil {
		return nil, err
	}
	if !src.HasActiveCredit() {
		return nil, nil
	}
	return src, nil
}

// adoptOrphanGrant recovers a grant whose session write was lost: the
// session still points at the order as current but has no credit source.
func (e *Engine) adoptOrphanGrant(ctx context.Context, sess *session.Session) (*order.Order, error) {
	if sess.CurrentOrderID.IsNil() {
		return nil, nil
	}
	cur, err := e.store.GetOrder(ctx, sess.CurrentOrderID)
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if cur.CustomerID != sess.CustomerID || !cur.HasActiveCredit() {
		return nil, nil
	}

	sess.CreditOrderID = cur.ID
	sess.AvailableCredit = cur.CreditAmount
	sess.ExitSilence(session.StateCreditMenu)
	sess.ClearSelection()

	e.logger.Warn("re-derived session credit from order",
		"order_id", cur.ID.String(),
		"customer_id", sess.CustomerID,
		"state", string(sess.State),
	)
	if err := e.saveSession(ctx, sess); err != nil {
		return nil, err
	}
	return cur, nil
}

// flagReview halts automatic processing for the customer until an operator
// calls ResolveReview.
func (e *Engine) flagReview(ctx context.Context, sess *session.Session, reason string) error {
	sess.NeedsReview = true
	sess.ReviewReason = reason
	if err := e.saveSession(ctx, sess); err != nil {
		e.logger.Error("failed to flag session for review",
			"customer_id", sess.CustomerID,
			"error", err,
		)
	}

	e.logger.Error("ledger inconsistency, customer flagged for review",
		"customer_id", sess.CustomerID,
		"credit_order_id", sess.CreditOrderID.String(),
		"reason", reason,
	)
	e.plugins.EmitLedgerInconsistency(ctx, sess.CustomerID, reason)
	e.notify(ctx, sess.CustomerID, msgManualReview)

	return fmt.Errorf("%w: %s", ErrLedgerInconsistency, reason)
}
