package redeem

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/xraph/redeem/gateway"
	"github.com/xraph/redeem/id"
	"github.com/xraph/redeem/order"
	"github.com/xraph/redeem/plugin"
	"github.com/xraph/redeem/session"
)

// supervise runs loop until the engine stops, restarting it after a panic.
func (e *Engine) supervise(name string, loop func()) {
	defer e.wg.Done()

	for {
		if e.runGuarded(name, loop) {
			return
		}
		select {
		case <-e.stopChan:
			return
		case <-time.After(time.Second):
			e.logger.Warn("restarting background worker", "worker", name)
		}
	}
}

// runGuarded reports whether loop returned normally.
func (e *Engine) runGuarded(name string, loop func()) (clean bool) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("background worker panicked",
				"worker", name,
				"panic", r,
			)
			clean = false
		}
	}()
	loop()
	return true
}

func (e *Engine) reconcileLoop() {
	ticker := time.NewTicker(e.pollInterval)
	defer ticker.Stop()

	tick := 0
	for {
		select {
		case <-e.stopChan:
			return
		case <-ticker.C:
			tick++
			e.RunCycle(e.ctx, tick%e.sweepEvery == 0)
		}
	}
}

// RunCycle performs one scheduler tick: a poll and, when sweep is set, the
// expiry sweep. Failures are logged and never escape.
func (e *Engine) RunCycle(ctx context.Context, sweep bool) (stats plugin.CycleStats) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("reconcile cycle panicked", "panic", r)
		}
	}()

	start := time.Now()
	stats, err := e.Poll(ctx)
	if err != nil {
		e.logger.Error("reconcile poll finished with errors",
			"polled", stats.Polled,
			"errors", stats.Errors,
			"error", err,
		)
	}

	if sweep {
		stats.Swept = true
		expired, err := e.Sweep(ctx)
		stats.Expired = expired
		if err != nil {
			stats.Errors++
			e.logger.Error("expiry sweep finished with errors", "error", err)
		}
	}

	stats.Elapsed = time.Since(start)
	e.logger.Debug("reconcile cycle finished",
		"polled", stats.Polled,
		"settled", stats.Settled,
		"rejected", stats.Rejected,
		"expired", stats.Expired,
		"errors", stats.Errors,
		"elapsed", stats.Elapsed,
	)
	e.plugins.EmitReconcileCycle(ctx, stats)

	return stats
}

// ──────────────────────────────────────────────────
// Poll
// ──────────────────────────────────────────────────

// Poll queries the gateway for every pending order with a charge and settles
// the ones with a final status. Orders are processed one at a time, paced by
// the gateway rate limit; a failure on one order does not stop the batch.
func (e *Engine) Poll(ctx context.Context) (plugin.CycleStats, error) {
	var stats plugin.CycleStats

	orders, err := e.store.ListOrders(ctx, order.ListOpts{
		Status:        order.StatusPendingPayment,
		WithChargeRef: true,
		Limit:         e.batchSize,
	})
	if err != nil {
		stats.Errors++
		return stats, fmt.Errorf("redeem: list pending orders: %w", err)
	}

	var errs MultiError
	for _, o := range orders {
		if o.Degraded || o.NeedsReview {
			continue
		}
		if err := e.limiter.Wait(ctx); err != nil {
			errs.Add(err)
			break
		}

		stats.Polled++
		status, err := e.chargeStatus(ctx, o.ChargeReference)
		if err != nil {
			stats.Errors++
			errs.Add(fmt.Errorf("order %s: %w", o.ID, err))
			e.logger.Warn("charge status unavailable, retrying next tick",
				"order_id", o.ID.String(),
				"charge_ref", o.ChargeReference,
				"error", err,
			)
			continue
		}

		outcome, err := e.settle(ctx, o.ID, status, SourcePoll, false)
		if err != nil {
			stats.Errors++
			errs.Add(fmt.Errorf("order %s: %w", o.ID, err))
			e.logger.Error("settlement failed",
				"order_id", o.ID.String(),
				"status", string(status),
				"error", err,
			)
			continue
		}
		if outcome == Settled {
			if status.IsApproved() {
				stats.Settled++
			} else {
				stats.Rejected++
			}
		}
	}

	return stats, errs.ErrOrNil()
}

// chargeStatus reads a charge's status within the gateway timeout.
func (e *Engine) chargeStatus(ctx context.Context, chargeRef string) (gateway.ChargeStatus, error) {
	gctx, cancel := e.gatewayContext(ctx)
	defer cancel()

	status, err := e.gateway.GetChargeStatus(gctx, chargeRef)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", fmt.Errorf("%w: charge %s", ErrGatewayTimeout, chargeRef)
		}
		return "", fmt.Errorf("redeem: charge %s status: %w", chargeRef, err)
	}
	return status, nil
}

// ──────────────────────────────────────────────────
// Sweep
// ──────────────────────────────────────────────────

// Sweep expires stale pending orders, detaches sessions from orders that are
// no longer pending and releases silence leases past their deadline. It
// returns the number of orders expired or abandoned.
func (e *Engine) Sweep(ctx context.Context) (int, error) {
	now := e.now()
	var errs MultiError

	window := e.abandonTTL
	if e.pendingTTL < window {
		window = e.pendingTTL
	}
	stale, err := e.store.ListOrders(ctx, order.ListOpts{
		Status:        order.StatusPendingPayment,
		CreatedBefore: now.Add(-window),
	})
	if err != nil {
		return 0, fmt.Errorf("redeem: list stale orders: %w", err)
	}

	expired := 0
	for _, o := range stale {
		if o.NeedsReview {
			continue
		}
		to, ok := e.expiryFor(o, now)
		if !ok {
			continue
		}
		done, err := e.expireOrder(ctx, o.ID, to)
		if err != nil {
			errs.Add(fmt.Errorf("order %s: %w", o.ID, err))
			continue
		}
		if done {
			expired++
		}
	}

	if err := e.sweepOrphanedSessions(ctx); err != nil {
		errs.Add(err)
	}
	if err := e.sweepExpiredLeases(ctx, now); err != nil {
		errs.Add(err)
	}

	if expired > 0 {
		e.logger.Info("expiry sweep closed stale orders", "count", expired)
	}
	return expired, errs.ErrOrNil()
}

// expiryFor decides the terminal status of a stale pending order.
func (e *Engine) expiryFor(o *order.Order, now time.Time) (order.Status, bool) {
	age := o.AgeAt(now)
	switch {
	case o.ChargeReference == "" && age > e.abandonTTL:
		return order.StatusAbandoned, true
	case age > e.pendingTTL:
		return order.StatusExpired, true
	default:
		return "", false
	}
}

func (e *Engine) expireOrder(ctx context.Context, orderID id.OrderID, to order.Status) (bool, error) {
	unlock := e.locks.Lock(orderKey(orderID))
	defer unlock()

	o, err := e.store.GetOrder(ctx, orderID)
	if err != nil {
		return false, err
	}
	if o.Status != order.StatusPendingPayment || o.NeedsReview {
		return false, nil
	}

	if err := e.transition(o, to); err != nil {
		return false, err
	}
	if err := e.store.SaveOrder(ctx, o); err != nil {
		return false, fmt.Errorf("redeem: save order: %w", err)
	}
	if err := e.releaseCurrentOrder(ctx, o); err != nil {
		e.logger.Warn("failed to release session after expiry",
			"order_id", o.ID.String(),
			"error", err,
		)
	}

	e.logger.Info("order expired",
		"order_id", o.ID.String(),
		"customer_id", o.CustomerID,
		"status", string(to),
	)
	e.plugins.EmitOrderExpired(ctx, o)
	e.notify(ctx, o.CustomerID, msgOrderExpired, o.Product.Name)

	return true, nil
}

// sweepOrphanedSessions clears awaiting_payment sessions whose current order
// has left pending_payment.
func (e *Engine) sweepOrphanedSessions(ctx context.Context) error {
	sessions, err := e.store.ListSessions(ctx, session.ListOpts{State: session.StateAwaitingPayment})
	if err != nil {
		return fmt.Errorf("redeem: list awaiting sessions: %w", err)
	}

	var errs MultiError
	for _, s := range sessions {
		if err := e.detachStaleOrder(ctx, s.CustomerID); err != nil {
			errs.Add(fmt.Errorf("customer %s: %w", s.CustomerID, err))
		}
	}
	return errs.ErrOrNil()
}

func (e *Engine) detachStaleOrder(ctx context.Context, customerID string) error {
	unlock := e.locks.Lock(customerKey(customerID))
	defer unlock()

	sess, err := e.store.GetSession(ctx, customerID)
	if err != nil {
		return err
	}
	if sess.NeedsReview || sess.State != session.StateAwaitingPayment {
		return nil
	}
	if _, err := e.syncCredit(ctx, sess); err != nil {
		return err
	}
	if sess.State != session.StateAwaitingPayment {
		return nil
	}

	if !sess.CurrentOrderID.IsNil() {
		o, err := e.store.GetOrder(ctx, sess.CurrentOrderID)
		switch {
		case err == nil && o.Status == order.StatusPendingPayment:
			return nil
		case err != nil && !errors.Is(err, ErrOrderNotFound):
			return err
		}
	}

	e.logger.Debug("detaching session from settled order",
		"customer_id", customerID,
		"order_id", sess.CurrentOrderID.String(),
	)
	sess.CurrentOrderID = id.Nil
	sess.State = session.StateMenu
	sess.ClearSelection()
	return e.saveSession(ctx, sess)
}

// sweepExpiredLeases releases customers whose silence outlived its lease.
func (e *Engine) sweepExpiredLeases(ctx context.Context, now time.Time) error {
	sessions, err := e.store.ListSessions(ctx, session.ListOpts{State: session.StateProcessingActivation})
	if err != nil {
		return fmt.Errorf("redeem: list silenced sessions: %w", err)
	}

	var errs MultiError
	for _, s := range sessions {
		if !s.LeaseExpired(now) {
			continue
		}
		if err := e.releaseLease(ctx, s.CustomerID); err != nil {
			errs.Add(fmt.Errorf("customer %s: %w", s.CustomerID, err))
		}
	}
	return errs.ErrOrNil()
}

func (e *Engine) releaseLease(ctx context.Context, customerID string) error {
	unlock := e.locks.Lock(customerKey(customerID))
	defer unlock()

	sess, err := e.store.GetSession(ctx, customerID)
	if err != nil {
		return err
	}
	if !sess.LeaseExpired(e.now()) {
		return nil
	}
	return e.expireLease(ctx, sess)
}
