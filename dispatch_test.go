package redeem_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/xraph/redeem"
	"github.com/xraph/redeem/activation"
	"github.com/xraph/redeem/gateway"
	"github.com/xraph/redeem/id"
	"github.com/xraph/redeem/order"
	"github.com/xraph/redeem/session"
	"github.com/xraph/redeem/store/memory"
	"github.com/xraph/redeem/types"
)

func TestActivationSuccess(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.succeedWith("user: alice / pass: s3cret")
	src := f.paidOrder(t, "cust_1", f.basic)

	if _, err := f.engine.SelectProduct(ctx, "cust_1", f.basic.ID); err != nil {
		t.Fatal(err)
	}
	o, err := f.engine.SubmitActivationPayload(ctx, "cust_1", "alice@example.com")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if o.Status != order.StatusProcessing {
		t.Errorf("status after submit = %s", o.Status)
	}
	f.engine.WaitIdle()

	got := f.order(t, src.ID)
	if got.Status != order.StatusCompleted || got.ActivationResult != "user: alice / pass: s3cret" {
		t.Errorf("order = %s %q", got.Status, got.ActivationResult)
	}
	if got.CompletedAt == nil || got.ActivationPayload != "alice@example.com" {
		t.Errorf("completion fields = %v %q", got.CompletedAt, got.ActivationPayload)
	}

	s := f.session(t, "cust_1")
	if s.State != session.StateNone || s.HasCredit() || !s.CreditOrderID.IsNil() || !s.CurrentOrderID.IsNil() {
		t.Errorf("session not reset: %+v", s)
	}
	if f.messages("cust_1", "s3cret") != 1 {
		t.Error("activation result not delivered")
	}

	// Late duplicate approvals change nothing.
	outcome, err := f.engine.SettleOrder(ctx, src.ID, gateway.StatusApproved)
	if err != nil || outcome != redeem.AlreadySettled {
		t.Errorf("settle after completion = %s, %v", outcome, err)
	}
	if n := f.messages("cust_1", "Payment confirmed"); n != 1 {
		t.Errorf("sent %d confirmations", n)
	}
	if f.session(t, "cust_1").HasCredit() {
		t.Error("completed order granted credit again")
	}
}

func TestActivationFailureRestoresCredit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.failWith("invalid login")

	// O1 at 10.00 is paid, the credit is spent on P2 at 8.00 and the
	// activation fails.
	o1 := f.paidOrder(t, "cust_1", f.basic)
	if !f.session(t, "cust_1").AvailableCredit.Equal(types.BRL(1000)) {
		t.Fatal("grant missing")
	}

	if _, err := f.engine.SelectProduct(ctx, "cust_1", f.small.ID); err != nil {
		t.Fatal(err)
	}
	if s := f.session(t, "cust_1"); !s.AvailableCredit.IsZero() || !f.order(t, o1.ID).CreditConsumed {
		t.Fatalf("tentative debit missing: %s", s.AvailableCredit)
	}

	if _, err := f.engine.SubmitActivationPayload(ctx, "cust_1", "alice@example.com"); err != nil {
		t.Fatal(err)
	}
	f.engine.WaitIdle()

	got := f.order(t, o1.ID)
	if got.Status != order.StatusFailed || got.LastError != "invalid login" {
		t.Errorf("order = %s %q", got.Status, got.LastError)
	}
	if got.CreditConsumed {
		t.Error("credit still consumed after failure")
	}

	s := f.session(t, "cust_1")
	if !s.AvailableCredit.Equal(types.BRL(1000)) || s.State != session.StateCreditMenu {
		t.Errorf("session = %s %s", s.State, s.AvailableCredit)
	}
	if s.IsSilenced(f.clock.Now()) {
		t.Error("customer left in silence")
	}
	if f.messages("cust_1", "still available") != 1 {
		t.Error("failure message missing credit status")
	}
}

func TestSilenceBlocksIntents(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	release := make(chan struct{})
	f.providers.Register("iptv", activation.ProviderFunc(func(ctx context.Context, _ activation.Request) (*activation.Result, error) {
		<-release
		return &activation.Result{Success: true, Data: "ok"}, nil
	}))
	f.paidOrder(t, "cust_1", f.basic)
	if _, err := f.engine.SelectProduct(ctx, "cust_1", f.basic.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := f.engine.SubmitActivationPayload(ctx, "cust_1", "alice"); err != nil {
		t.Fatal(err)
	}

	intents := map[string]func() error{
		"SelectProduct": func() error {
			_, err := f.engine.SelectProduct(ctx, "cust_1", f.small.ID)
			return err
		},
		"Submit": func() error {
			_, err := f.engine.SubmitActivationPayload(ctx, "cust_1", "again")
			return err
		},
		"Cancel":       func() error { return f.engine.Cancel(ctx, "cust_1") },
		"CheckPayment": func() error { _, err := f.engine.CheckPayment(ctx, "cust_1"); return err },
	}
	for name, call := range intents {
		if err := call(); !errors.Is(err, redeem.ErrSilenced) {
			t.Errorf("%s during silence: %v", name, err)
		}
	}

	st, err := f.engine.CustomerStatus(ctx, "cust_1")
	if err != nil {
		t.Errorf("status: %v", err)
	} else if !st.Silenced || st.SilenceUntil == nil || st.CurrentOrder == nil {
		t.Errorf("status = %+v", st)
	}

	close(release)
	f.engine.WaitIdle()
	if f.session(t, "cust_1").State != session.StateNone {
		t.Error("session not reset after release")
	}
}

func TestSubmitActivationPayloadValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.paidOrder(t, "cust_1", f.basic)

	if _, err := f.engine.SubmitActivationPayload(ctx, "cust_1", "alice"); !errors.Is(err, redeem.ErrWrongState) {
		t.Errorf("submit from credit menu: %v", err)
	}
	if _, err := f.engine.SelectProduct(ctx, "cust_1", f.small.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := f.engine.SubmitActivationPayload(ctx, "cust_1", "   "); !errors.Is(err, redeem.ErrInvalidInput) {
		t.Errorf("blank payload: %v", err)
	}
}

func TestActivationTimeoutWaitsForLease(t *testing.T) {
	f := newFixture(t,
		redeem.WithActivationTimeout(10*time.Millisecond),
		redeem.WithSilenceLease(10*time.Minute),
	)
	ctx := context.Background()
	f.providers.Register("iptv", activation.ProviderFunc(func(ctx context.Context, _ activation.Request) (*activation.Result, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}))

	src := f.paidOrder(t, "cust_1", f.basic)
	if _, err := f.engine.SelectProduct(ctx, "cust_1", f.small.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := f.engine.SubmitActivationPayload(ctx, "cust_1", "alice"); err != nil {
		t.Fatal(err)
	}
	f.engine.WaitIdle()

	if got := f.order(t, src.ID); got.Status != order.StatusProcessing {
		t.Fatalf("timeout treated as an outcome: %s", got.Status)
	}
	if _, err := f.engine.SelectProduct(ctx, "cust_1", f.small.ID); !errors.Is(err, redeem.ErrSilenced) {
		t.Errorf("customer released before lease expiry: %v", err)
	}

	f.clock.Advance(10 * time.Minute)
	if _, err := f.engine.Sweep(ctx); err != nil {
		t.Fatalf("sweep: %v", err)
	}

	got := f.order(t, src.ID)
	if !got.NeedsReview || !got.CreditConsumed || got.Status != order.StatusProcessing {
		t.Errorf("order review=%v consumed=%v status=%s", got.NeedsReview, got.CreditConsumed, got.Status)
	}
	s := f.session(t, "cust_1")
	if !s.NeedsReview || s.State != session.StateMenu || s.IsSilenced(f.clock.Now()) {
		t.Errorf("session review=%v state=%s", s.NeedsReview, s.State)
	}
	if f.messages("cust_1", "contact them with order") != 1 {
		t.Error("customer not pointed to support")
	}
	if _, err := f.engine.SelectProduct(ctx, "cust_1", f.small.ID); !errors.Is(err, redeem.ErrNeedsReview) {
		t.Errorf("flagged customer kept processing: %v", err)
	}
}

func TestUnsilence(t *testing.T) {
	f := newFixture(t, redeem.WithActivationTimeout(10*time.Millisecond))
	ctx := context.Background()
	f.providers.Register("iptv", activation.ProviderFunc(func(ctx context.Context, _ activation.Request) (*activation.Result, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}))

	f.paidOrder(t, "cust_1", f.basic)
	if err := f.engine.Unsilence(ctx, "cust_1"); !errors.Is(err, redeem.ErrWrongState) {
		t.Errorf("unsilence outside silence: %v", err)
	}

	if _, err := f.engine.SelectProduct(ctx, "cust_1", f.basic.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := f.engine.SubmitActivationPayload(ctx, "cust_1", "alice"); err != nil {
		t.Fatal(err)
	}
	f.engine.WaitIdle()

	if err := f.engine.Unsilence(ctx, "cust_1"); err != nil {
		t.Fatalf("unsilence: %v", err)
	}
	if s := f.session(t, "cust_1"); s.State == session.StateProcessingActivation {
		t.Error("customer still silenced")
	}
}

func TestRetryActivation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.failWith("provider down")

	src := f.paidOrder(t, "cust_1", f.basic)
	if _, err := f.engine.SelectProduct(ctx, "cust_1", f.small.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := f.engine.SubmitActivationPayload(ctx, "cust_1", "alice"); err != nil {
		t.Fatal(err)
	}
	f.engine.WaitIdle()

	if _, err := f.engine.RetryActivation(ctx, src.ID, f.premium.ID); !errors.Is(err, redeem.ErrInsufficientCredit) {
		t.Errorf("retry above credit: %v", err)
	}

	f.succeedWith("done")
	o, err := f.engine.RetryActivation(ctx, src.ID, id.Nil)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if o.ActivationOverrideProduct.ProductID != f.small.ID {
		t.Errorf("retry switched product to %s", o.ActivationOverrideProduct.Name)
	}
	f.engine.WaitIdle()

	got := f.order(t, src.ID)
	if got.Status != order.StatusCompleted || !got.CreditConsumed {
		t.Errorf("order = %s consumed=%v", got.Status, got.CreditConsumed)
	}
	if _, err := f.engine.RetryActivation(ctx, src.ID, id.Nil); !errors.Is(err, redeem.ErrInvalidTransition) {
		t.Errorf("retry of completed order: %v", err)
	}
}

func TestMissingProviderFailsActivation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	src := f.paidOrder(t, "cust_1", f.basic)

	f.providers.Reload(nil)
	if _, err := f.engine.SelectProduct(ctx, "cust_1", f.basic.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := f.engine.SubmitActivationPayload(ctx, "cust_1", "alice"); err != nil {
		t.Fatal(err)
	}
	f.engine.WaitIdle()

	if got := f.order(t, src.ID); got.Status != order.StatusFailed {
		t.Errorf("status = %s", got.Status)
	}
	if s := f.session(t, "cust_1"); s.State != session.StateCreditMenu {
		t.Errorf("state = %s", s.State)
	}
}

// strandActivation redeems basic's credit for small with a provider that
// never answers and lets the silence lease run out, leaving the source order
// processing and the customer flagged.
func strandActivation(t *testing.T, f *fixture) *order.Order {
	t.Helper()
	ctx := context.Background()
	f.providers.Register("iptv", activation.ProviderFunc(func(ctx context.Context, _ activation.Request) (*activation.Result, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}))

	src := f.paidOrder(t, "cust_1", f.basic)
	if _, err := f.engine.SelectProduct(ctx, "cust_1", f.small.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := f.engine.SubmitActivationPayload(ctx, "cust_1", "alice"); err != nil {
		t.Fatal(err)
	}
	f.engine.WaitIdle()

	if _, err := f.engine.ResolveActivation(ctx, src.ID, false, "provider down"); !errors.Is(err, redeem.ErrSilenced) {
		t.Errorf("resolve during live lease: %v", err)
	}

	f.clock.Advance(10 * time.Minute)
	if _, err := f.engine.Sweep(ctx); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if err := f.engine.Compensate(ctx, "cust_1"); !redeem.IsInconsistency(err) {
		t.Fatalf("compensate on flagged customer: %v", err)
	}
	return src
}

func TestResolveActivation(t *testing.T) {
	ctx := context.Background()
	opts := []redeem.Option{
		redeem.WithActivationTimeout(10 * time.Millisecond),
		redeem.WithSilenceLease(10 * time.Minute),
	}

	t.Run("FailedRestoresCredit", func(t *testing.T) {
		f := newFixture(t, opts...)
		src := strandActivation(t, f)

		if _, err := f.engine.ResolveActivation(ctx, src.ID, false, "   "); !errors.Is(err, redeem.ErrInvalidInput) {
			t.Errorf("blank detail: %v", err)
		}
		o, err := f.engine.ResolveActivation(ctx, src.ID, false, "provider confirmed failure")
		if err != nil {
			t.Fatalf("resolve: %v", err)
		}
		if o.Status != order.StatusFailed || o.CreditConsumed || o.NeedsReview {
			t.Errorf("order = %s consumed=%v review=%v", o.Status, o.CreditConsumed, o.NeedsReview)
		}

		s := f.session(t, "cust_1")
		if s.NeedsReview || s.State != session.StateCreditMenu || !s.AvailableCredit.Equal(types.BRL(1000)) {
			t.Errorf("session review=%v state=%s credit=%s", s.NeedsReview, s.State, s.AvailableCredit)
		}
		if f.messages("cust_1", "still available") != 1 {
			t.Error("restored credit not announced")
		}

		f.succeedWith("done")
		if _, err := f.engine.RetryActivation(ctx, src.ID, id.Nil); err != nil {
			t.Fatalf("retry after resolve: %v", err)
		}
		f.engine.WaitIdle()
		if got := f.order(t, src.ID); got.Status != order.StatusCompleted {
			t.Errorf("retried order = %s", got.Status)
		}
	})

	t.Run("SucceededSpendsCredit", func(t *testing.T) {
		f := newFixture(t, opts...)
		src := strandActivation(t, f)

		o, err := f.engine.ResolveActivation(ctx, src.ID, true, "user: alice / pass: s3cret")
		if err != nil {
			t.Fatalf("resolve: %v", err)
		}
		if o.Status != order.StatusCompleted || o.CompletedAt == nil || !o.CreditConsumed {
			t.Errorf("order = %s consumed=%v", o.Status, o.CreditConsumed)
		}

		s := f.session(t, "cust_1")
		if s.NeedsReview || s.State != session.StateNone || s.HasCredit() || !s.CreditOrderID.IsNil() {
			t.Errorf("session = %+v", s)
		}
		if f.messages("cust_1", "s3cret") != 1 {
			t.Error("activation result not delivered")
		}
		if _, err := f.engine.ResolveActivation(ctx, src.ID, false, "again"); !errors.Is(err, redeem.ErrInvalidTransition) {
			t.Errorf("second resolve: %v", err)
		}
	})
}

// tripwireStore panics on the first GetOrder after it is armed.
type tripwireStore struct {
	*memory.Store
	armed atomic.Bool
}

func (s *tripwireStore) GetOrder(ctx context.Context, orderID id.OrderID) (*order.Order, error) {
	if s.armed.CompareAndSwap(true, false) {
		panic("store driver bug")
	}
	return s.Store.GetOrder(ctx, orderID)
}

func TestActivationPanicReleasesCustomer(t *testing.T) {
	st := &tripwireStore{Store: memory.New()}
	f := newFixtureWith(t, st, nil)
	ctx := context.Background()

	release := make(chan struct{})
	f.providers.Register("iptv", activation.ProviderFunc(func(ctx context.Context, _ activation.Request) (*activation.Result, error) {
		<-release
		return &activation.Result{Success: true, Data: "ok"}, nil
	}))
	src := f.paidOrder(t, "cust_1", f.basic)
	if _, err := f.engine.SelectProduct(ctx, "cust_1", f.basic.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := f.engine.SubmitActivationPayload(ctx, "cust_1", "alice"); err != nil {
		t.Fatal(err)
	}

	st.armed.Store(true)
	close(release)
	f.engine.WaitIdle()

	s := f.session(t, "cust_1")
	if s.IsSilenced(f.clock.Now()) || s.State == session.StateProcessingActivation {
		t.Fatalf("customer left in silence: %s", s.State)
	}
	if !s.NeedsReview {
		t.Error("session not flagged after the unit broke")
	}
	got := f.order(t, src.ID)
	if !got.NeedsReview || !got.CreditConsumed {
		t.Errorf("order review=%v consumed=%v", got.NeedsReview, got.CreditConsumed)
	}
	if f.messages("cust_1", "contact them with order") != 1 {
		t.Error("customer not pointed to support")
	}
}
