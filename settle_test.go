package redeem_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"golang.org/x/sync/errgroup"

	"github.com/xraph/redeem"
	"github.com/xraph/redeem/gateway"
	"github.com/xraph/redeem/id"
	"github.com/xraph/redeem/order"
	"github.com/xraph/redeem/session"
	"github.com/xraph/redeem/types"
)

// grantCounter counts settlement and grant hooks.
type grantCounter struct {
	mu      sync.Mutex
	settled int
	granted int
	sources []string
}

func (g *grantCounter) Name() string { return "grant-counter" }

func (g *grantCounter) OnOrderSettled(_ context.Context, _ *order.Order, source string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.settled++
	g.sources = append(g.sources, source)
	return nil
}

func (g *grantCounter) OnCreditGranted(_ context.Context, _ string, _ id.OrderID, _ types.Money) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.granted++
	return nil
}

func TestSettleOrderConcurrentApprovalsGrantOnce(t *testing.T) {
	counter := &grantCounter{}
	f := newFixture(t, redeem.WithPlugin(counter))
	ctx := context.Background()

	o, err := f.engine.SelectProduct(ctx, "cust_1", f.basic.ID)
	if err != nil {
		t.Fatal(err)
	}

	const callers = 32
	var settled, noop atomic.Int32
	var g errgroup.Group
	for range callers {
		g.Go(func() error {
			outcome, err := f.engine.SettleOrder(ctx, o.ID, gateway.StatusApproved)
			if err != nil {
				return err
			}
			switch outcome {
			case redeem.Settled:
				settled.Add(1)
			case redeem.AlreadySettled:
				noop.Add(1)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("settle: %v", err)
	}

	if settled.Load() != 1 || noop.Load() != callers-1 {
		t.Errorf("settled=%d noop=%d, want 1 and %d", settled.Load(), noop.Load(), callers-1)
	}

	got := f.order(t, o.ID)
	if got.Status != order.StatusPaid || !got.CreditAmount.Equal(types.BRL(1000)) || got.CreditConsumed {
		t.Errorf("order = %s credit=%s consumed=%v", got.Status, got.CreditAmount, got.CreditConsumed)
	}
	if got.PaidAt == nil || !got.PaidAt.Equal(epoch) {
		t.Errorf("paid_at = %v", got.PaidAt)
	}

	s := f.session(t, "cust_1")
	if !s.AvailableCredit.Equal(types.BRL(1000)) || s.CreditOrderID != o.ID || s.State != session.StateCreditMenu {
		t.Errorf("session credit=%s source=%s state=%s", s.AvailableCredit, s.CreditOrderID, s.State)
	}

	if counter.settled != 1 || counter.granted != 1 {
		t.Errorf("hooks settled=%d granted=%d", counter.settled, counter.granted)
	}
	if n := f.messages("cust_1", "Payment confirmed"); n != 1 {
		t.Errorf("sent %d confirmations", n)
	}
}

func TestSettleOrderOutcomes(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name       string
		status     gateway.ChargeStatus
		outcome    redeem.SettleOutcome
		wantStatus order.Status
		wantState  session.State
	}{
		{"Approved", gateway.StatusApproved, redeem.Settled, order.StatusPaid, session.StateCreditMenu},
		{"Authorized", gateway.StatusAuthorized, redeem.Settled, order.StatusPaid, session.StateCreditMenu},
		{"Rejected", gateway.StatusRejected, redeem.Settled, order.StatusPaymentRejected, session.StateMenu},
		{"Cancelled", gateway.StatusCancelled, redeem.Settled, order.StatusPaymentCancelled, session.StateMenu},
		{"Pending", gateway.StatusPending, redeem.Ignored, order.StatusPendingPayment, session.StateAwaitingPayment},
		{"Unknown", gateway.ChargeStatus("in_process"), redeem.Ignored, order.StatusPendingPayment, session.StateAwaitingPayment},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			o, err := f.engine.CreateOrder(ctx, "cust_1", f.basic.ID)
			if err != nil {
				t.Fatal(err)
			}

			outcome, err := f.engine.SettleOrder(ctx, o.ID, tt.status)
			if err != nil {
				t.Fatalf("settle: %v", err)
			}
			if outcome != tt.outcome {
				t.Errorf("outcome = %s, want %s", outcome, tt.outcome)
			}
			if got := f.order(t, o.ID); got.Status != tt.wantStatus {
				t.Errorf("status = %s, want %s", got.Status, tt.wantStatus)
			}
			if s := f.session(t, "cust_1"); s.State != tt.wantState {
				t.Errorf("state = %s, want %s", s.State, tt.wantState)
			}

			// A second delivery never changes a settled order.
			if tt.outcome == redeem.Settled {
				again, err := f.engine.SettleOrder(ctx, o.ID, gateway.StatusApproved)
				if err != nil || again != redeem.AlreadySettled {
					t.Errorf("second settle = %s, %v", again, err)
				}
			}
		})
	}
}

func TestSettleOrderConflictingCredit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.engine.CreateOrder(ctx, "cust_1", f.basic.ID)
	if err != nil {
		t.Fatal(err)
	}
	second, err := f.engine.CreateOrder(ctx, "cust_1", f.small.ID)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := f.engine.SettleOrder(ctx, first.ID, gateway.StatusApproved); err != nil {
		t.Fatal(err)
	}
	_, err = f.engine.SettleOrder(ctx, second.ID, gateway.StatusApproved)
	if !errors.Is(err, redeem.ErrCreditConflict) {
		t.Fatalf("expected credit conflict, got %v", err)
	}

	got := f.order(t, second.ID)
	if got.Status != order.StatusPendingPayment || got.IsCreditSource() {
		t.Errorf("conflicting order changed: %s credit=%s", got.Status, got.CreditAmount)
	}
	if !got.NeedsReview {
		t.Error("conflicting order not flagged for review")
	}

	s := f.session(t, "cust_1")
	if s.CreditOrderID != first.ID || !s.AvailableCredit.Equal(types.BRL(1000)) {
		t.Errorf("active credit overwritten: %s %s", s.CreditOrderID, s.AvailableCredit)
	}
}

func TestSettleOrderDegraded(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.gw.FailNext(gateway.ErrUnavailable)
	o, err := f.engine.SelectProduct(ctx, "cust_1", f.basic.ID)
	if err != nil {
		t.Fatal(err)
	}

	outcome, err := f.engine.SettleOrder(ctx, o.ID, gateway.StatusApproved)
	if !errors.Is(err, redeem.ErrDegradedOrder) || outcome != redeem.Ignored {
		t.Fatalf("degraded order auto-settled: %s, %v", outcome, err)
	}
	if _, err := f.engine.CheckPayment(ctx, "cust_1"); !errors.Is(err, redeem.ErrDegradedOrder) {
		t.Errorf("check payment = %v", err)
	}

	outcome, err = f.engine.ApproveOrder(ctx, o.ID)
	if err != nil || outcome != redeem.Settled {
		t.Fatalf("approve = %s, %v", outcome, err)
	}
	got := f.order(t, o.ID)
	if !got.ManualApproval || got.Status != order.StatusPaid {
		t.Errorf("order = %s manual=%v", got.Status, got.ManualApproval)
	}
}

func TestCancelOrderIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	o, err := f.engine.CreateOrder(ctx, "cust_1", f.basic.ID)
	if err != nil {
		t.Fatal(err)
	}

	for i := range 2 {
		if err := f.engine.CancelOrder(ctx, o.ID, "changed my mind"); err != nil {
			t.Fatalf("cancel #%d: %v", i+1, err)
		}
	}

	got := f.order(t, o.ID)
	if got.Status != order.StatusCancelled || got.LastError != "changed my mind" {
		t.Errorf("order = %s %q", got.Status, got.LastError)
	}
	s := f.session(t, "cust_1")
	if s.State != session.StateMenu || !s.CurrentOrderID.IsNil() {
		t.Errorf("session = %s/%s", s.State, s.CurrentOrderID)
	}
	if n := f.messages("cust_1", "cancelled"); n != 1 {
		t.Errorf("sent %d cancellation messages", n)
	}

	outcome, err := f.engine.SettleOrder(ctx, o.ID, gateway.StatusApproved)
	if err != nil || outcome != redeem.AlreadySettled {
		t.Errorf("settle after cancel = %s, %v", outcome, err)
	}
}

func TestCancelOrderRequiresPending(t *testing.T) {
	f := newFixture(t)
	o := f.paidOrder(t, "cust_1", f.basic)

	err := f.engine.CancelOrder(context.Background(), o.ID, "too late")
	if !errors.Is(err, redeem.ErrOrderNotPending) {
		t.Errorf("expected not pending, got %v", err)
	}
}

func TestCheckPayment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	o, err := f.engine.SelectProduct(ctx, "cust_1", f.basic.ID)
	if err != nil {
		t.Fatal(err)
	}

	outcome, err := f.engine.CheckPayment(ctx, "cust_1")
	if err != nil || outcome != redeem.Ignored {
		t.Fatalf("pending check = %s, %v", outcome, err)
	}
	if f.messages("cust_1", "not received") != 1 {
		t.Error("still-pending reply not sent")
	}

	// A gateway that does not answer reads as still pending.
	f.gw.FailNext(gateway.ErrUnavailable)
	outcome, err = f.engine.CheckPayment(ctx, "cust_1")
	if err != nil || outcome != redeem.Ignored {
		t.Errorf("check during outage = %s, %v", outcome, err)
	}
	if f.messages("cust_1", "not received") != 2 {
		t.Error("outage surfaced as a failure instead of still pending")
	}
	if got := f.order(t, o.ID); got.Status != order.StatusPendingPayment {
		t.Errorf("outage changed the order: %s", got.Status)
	}

	f.gw.SetStatus(o.ChargeReference, gateway.StatusApproved)
	outcome, err = f.engine.CheckPayment(ctx, "cust_1")
	if err != nil || outcome != redeem.Settled {
		t.Fatalf("approved check = %s, %v", outcome, err)
	}
}

func TestGrantRecoversPaidOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.paidOrder(t, "cust_1", f.basic)

	// Same amount again is a no-op.
	if err := f.engine.Grant(ctx, "cust_1", o.ID, types.BRL(1000)); err != nil {
		t.Errorf("repeat grant: %v", err)
	}
	if err := f.engine.Grant(ctx, "cust_1", o.ID, types.BRL(2000)); !errors.Is(err, redeem.ErrCreditConflict) {
		t.Errorf("different amount: %v", err)
	}
	if err := f.engine.Grant(ctx, "cust_2", o.ID, types.BRL(1000)); !errors.Is(err, redeem.ErrInvalidInput) {
		t.Errorf("wrong customer: %v", err)
	}

	pending, err := f.engine.CreateOrder(ctx, "cust_2", f.basic.ID)
	if err != nil {
		t.Fatal(err)
	}
	if err := f.engine.Grant(ctx, "cust_2", pending.ID, types.BRL(1000)); !errors.Is(err, redeem.ErrInvalidTransition) {
		t.Errorf("grant on pending order: %v", err)
	}
}
