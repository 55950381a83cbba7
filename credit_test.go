package redeem_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/xraph/redeem"
	"github.com/xraph/redeem/id"
	"github.com/xraph/redeem/order"
	"github.com/xraph/redeem/session"
	"github.com/xraph/redeem/types"
)

func TestTentativelyConsume(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	src := f.paidOrder(t, "cust_1", f.basic)

	o, err := f.engine.SelectProduct(ctx, "cust_1", f.small.ID)
	if err != nil {
		t.Fatalf("select with credit: %v", err)
	}
	if o.ID != src.ID {
		t.Fatalf("credit redeemed against %s, want source %s", o.ID, src.ID)
	}

	got := f.order(t, src.ID)
	if !got.CreditConsumed {
		t.Error("source order not debited")
	}
	if got.ActivationOverrideProduct == nil || got.ActivationOverrideProduct.ProductID != f.small.ID {
		t.Errorf("override = %+v", got.ActivationOverrideProduct)
	}
	if !got.CreditAmount.Equal(types.BRL(1000)) {
		t.Errorf("credit amount changed to %s", got.CreditAmount)
	}

	s := f.session(t, "cust_1")
	if !s.AvailableCredit.IsZero() || s.State != session.StateAwaitingActivationInfo {
		t.Errorf("session credit=%s state=%s", s.AvailableCredit, s.State)
	}
	if s.Extra[session.ExtraSelectedProduct] != f.small.ID.String() {
		t.Errorf("selection not recorded: %v", s.Extra)
	}
}

func TestTentativelyConsumeRejects(t *testing.T) {
	ctx := context.Background()

	t.Run("NoCredit", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.engine.TentativelyConsume(ctx, "cust_1", f.basic.ID)
		if !errors.Is(err, redeem.ErrNoCredit) {
			t.Errorf("expected no credit, got %v", err)
		}
	})

	t.Run("InsufficientCredit", func(t *testing.T) {
		f := newFixture(t)
		f.paidOrder(t, "cust_1", f.basic)

		_, err := f.engine.TentativelyConsume(ctx, "cust_1", f.premium.ID)
		if !errors.Is(err, redeem.ErrInsufficientCredit) {
			t.Errorf("expected insufficient credit, got %v", err)
		}
		if s := f.session(t, "cust_1"); !s.AvailableCredit.Equal(types.BRL(1000)) {
			t.Errorf("failed consume touched credit: %s", s.AvailableCredit)
		}
	})

	t.Run("SelectingWhileAwaitingPayload", func(t *testing.T) {
		f := newFixture(t)
		f.paidOrder(t, "cust_1", f.basic)
		if _, err := f.engine.SelectProduct(ctx, "cust_1", f.small.ID); err != nil {
			t.Fatal(err)
		}

		_, err := f.engine.SelectProduct(ctx, "cust_1", f.basic.ID)
		if !errors.Is(err, redeem.ErrWrongState) {
			t.Errorf("expected wrong state, got %v", err)
		}
	})
}

func TestTentativelyConsumeNoDoubleSpend(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.paidOrder(t, "cust_1", f.basic)

	const callers = 16
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		others    []error
	)
	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.engine.TentativelyConsume(ctx, "cust_1", f.small.ID)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				succeeded++
				return
			}
			others = append(others, err)
		}()
	}
	wg.Wait()

	if succeeded != 1 {
		t.Fatalf("%d consumes succeeded, want 1", succeeded)
	}
	for _, err := range others {
		if !errors.Is(err, redeem.ErrNoCredit) {
			t.Errorf("losing consume returned %v", err)
		}
	}
}

func TestCompensationRoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	src := f.paidOrder(t, "cust_1", f.basic)

	granted := f.session(t, "cust_1")
	grantedOrder := f.order(t, src.ID)

	if _, err := f.engine.TentativelyConsume(ctx, "cust_1", f.small.ID); err != nil {
		t.Fatal(err)
	}
	if err := f.engine.Compensate(ctx, "cust_1"); err != nil {
		t.Fatalf("compensate: %v", err)
	}

	s := f.session(t, "cust_1")
	o := f.order(t, src.ID)
	if s.AvailableCredit != granted.AvailableCredit {
		t.Errorf("available credit %#v, want %#v", s.AvailableCredit, granted.AvailableCredit)
	}
	if o.CreditConsumed != grantedOrder.CreditConsumed {
		t.Errorf("credit consumed %v, want %v", o.CreditConsumed, grantedOrder.CreditConsumed)
	}
	if s.State != session.StateCreditMenu || s.CreditOrderID != src.ID {
		t.Errorf("session = %s/%s", s.State, s.CreditOrderID)
	}

	// Compensating again leaves everything as it is.
	if err := f.engine.Compensate(ctx, "cust_1"); err != nil {
		t.Fatalf("second compensate: %v", err)
	}
	if again := f.session(t, "cust_1"); again.AvailableCredit != granted.AvailableCredit {
		t.Errorf("second compensate changed credit to %s", again.AvailableCredit)
	}
	if n := f.messages("cust_1", "available again"); n != 1 {
		t.Errorf("sent %d restore messages", n)
	}
}

func TestCancelDuringSelectionCompensates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	src := f.paidOrder(t, "cust_1", f.basic)

	if _, err := f.engine.SelectProduct(ctx, "cust_1", f.small.ID); err != nil {
		t.Fatal(err)
	}
	if err := f.engine.Cancel(ctx, "cust_1"); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	if o := f.order(t, src.ID); o.CreditConsumed {
		t.Error("debit not restored")
	}
	if s := f.session(t, "cust_1"); s.State != session.StateCreditMenu || !s.AvailableCredit.Equal(types.BRL(1000)) {
		t.Errorf("session = %s %s", s.State, s.AvailableCredit)
	}

	if err := f.engine.Cancel(ctx, "cust_1"); !errors.Is(err, redeem.ErrNoPendingOrder) {
		t.Errorf("cancel with nothing to cancel: %v", err)
	}
}

func TestClearCredit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	src := f.paidOrder(t, "cust_1", f.basic)

	if err := f.engine.ClearCredit(ctx, "cust_1", ""); !errors.Is(err, redeem.ErrInvalidInput) {
		t.Errorf("empty reason: %v", err)
	}
	if err := f.engine.ClearCredit(ctx, "cust_1", "refunded by bank transfer"); err != nil {
		t.Fatalf("clear: %v", err)
	}

	o := f.order(t, src.ID)
	if !o.CreditConsumed || o.ConsumeReason != "refunded by bank transfer" {
		t.Errorf("order consumed=%v reason=%q", o.CreditConsumed, o.ConsumeReason)
	}
	s := f.session(t, "cust_1")
	if s.HasCredit() || !s.CreditOrderID.IsNil() || s.State != session.StateMenu {
		t.Errorf("session = %s %s %s", s.State, s.AvailableCredit, s.CreditOrderID)
	}

	if err := f.engine.Compensate(ctx, "cust_1"); !errors.Is(err, redeem.ErrNoCredit) {
		t.Errorf("compensate after clear: %v", err)
	}
	if err := f.engine.ClearCredit(ctx, "cust_1", "again"); !errors.Is(err, redeem.ErrNoCredit) {
		t.Errorf("second clear: %v", err)
	}
}

func TestSessionRecovery(t *testing.T) {
	ctx := context.Background()

	t.Run("LostGrantWrite", func(t *testing.T) {
		f := newFixture(t)
		src := f.paidOrder(t, "cust_1", f.basic)

		// The order was granted but the session still shows the checkout.
		s := f.session(t, "cust_1")
		s.CreditOrderID = id.Nil
		s.AvailableCredit = types.Zero("brl")
		s.State = session.StateAwaitingPayment
		if err := f.store.SaveSession(ctx, s); err != nil {
			t.Fatal(err)
		}

		o, err := f.engine.SelectProduct(ctx, "cust_1", f.small.ID)
		if err != nil {
			t.Fatalf("select after lost write: %v", err)
		}
		if o.ID != src.ID || !o.CreditConsumed {
			t.Errorf("credit not recovered from order %s", src.ID)
		}
	})

	t.Run("LostConsumeWrite", func(t *testing.T) {
		f := newFixture(t)
		src := f.paidOrder(t, "cust_1", f.basic)

		// The debit reached the order but not the session.
		o := f.order(t, src.ID)
		o.CreditConsumed = true
		snap := order.ProductSnapshot{ProductID: f.small.ID, Name: f.small.Name, Price: f.small.Price, ActivationModuleID: "iptv"}
		o.ActivationOverrideProduct = &snap
		if err := f.store.SaveOrder(ctx, o); err != nil {
			t.Fatal(err)
		}

		_, err := f.engine.TentativelyConsume(ctx, "cust_1", f.small.ID)
		if !errors.Is(err, redeem.ErrNoCredit) {
			t.Fatalf("double spend after lost write: %v", err)
		}
		s := f.session(t, "cust_1")
		if s.State != session.StateAwaitingActivationInfo || s.HasCredit() {
			t.Errorf("session not re-derived: %s %s", s.State, s.AvailableCredit)
		}
	})

	t.Run("UnexplainedMismatchFlagsReview", func(t *testing.T) {
		f := newFixture(t)
		f.paidOrder(t, "cust_1", f.basic)

		s := f.session(t, "cust_1")
		s.AvailableCredit = types.BRL(500)
		if err := f.store.SaveSession(ctx, s); err != nil {
			t.Fatal(err)
		}

		_, err := f.engine.SelectProduct(ctx, "cust_1", f.small.ID)
		if !errors.Is(err, redeem.ErrLedgerInconsistency) {
			t.Fatalf("expected inconsistency, got %v", err)
		}
		if _, err := f.engine.SelectProduct(ctx, "cust_1", f.small.ID); !redeem.IsInconsistency(err) {
			t.Errorf("flagged customer kept processing: %v", err)
		}
		if !f.session(t, "cust_1").NeedsReview {
			t.Error("session not flagged")
		}
		if f.messages("cust_1", "manual check") != 1 {
			t.Error("customer not told about the review")
		}

		// Operator repairs the mirror and clears the flag.
		s = f.session(t, "cust_1")
		s.AvailableCredit = types.BRL(1000)
		if err := f.store.SaveSession(ctx, s); err != nil {
			t.Fatal(err)
		}
		if err := f.engine.ResolveReview(ctx, "cust_1"); err != nil {
			t.Fatal(err)
		}
		if _, err := f.engine.SelectProduct(ctx, "cust_1", f.small.ID); err != nil {
			t.Errorf("select after resolve: %v", err)
		}
	})
}
