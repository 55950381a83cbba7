package redeem_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/xraph/redeem"
	"github.com/xraph/redeem/activation"
	"github.com/xraph/redeem/catalog"
	"github.com/xraph/redeem/gateway"
	"github.com/xraph/redeem/id"
	"github.com/xraph/redeem/messaging"
	"github.com/xraph/redeem/order"
	"github.com/xraph/redeem/session"
	"github.com/xraph/redeem/store"
	"github.com/xraph/redeem/store/memory"
	"github.com/xraph/redeem/types"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	engine    *redeem.Engine
	store     store.Store
	gw        *gateway.Fake
	chat      *messaging.Memory
	clock     *testClock
	providers *activation.Registry

	basic   *catalog.Product // 10.00
	small   *catalog.Product // 8.00
	premium *catalog.Product // 15.00
}

func newFixture(t *testing.T, opts ...redeem.Option) *fixture {
	t.Helper()
	return newFixtureWith(t, memory.New(), nil, opts...)
}

// newFixtureWith builds a fixture over s. When wrap is set the engine talks
// to wrap(f.gw) instead of the fake itself.
func newFixtureWith(t *testing.T, s store.Store, wrap func(*gateway.Fake) gateway.Gateway, opts ...redeem.Option) *fixture {
	t.Helper()

	f := &fixture{
		store:     s,
		gw:        gateway.NewFake(),
		chat:      messaging.NewMemory(),
		clock:     &testClock{now: epoch},
		providers: activation.NewRegistry(nil),
	}
	f.succeedWith("login ok")

	base := []redeem.Option{
		redeem.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		redeem.WithChannel(f.chat),
		redeem.WithClock(f.clock.Now),
		redeem.WithGatewayRateLimit(0),
	}
	var gw gateway.Gateway = f.gw
	if wrap != nil {
		gw = wrap(f.gw)
	}
	f.engine = redeem.New(f.store, gw, f.providers, append(base, opts...)...)
	t.Cleanup(func() {
		f.engine.WaitIdle()
		_ = f.engine.Stop()
	})

	f.basic = f.product(t, "Basic 30 days", types.BRL(1000))
	f.small = f.product(t, "Lite 30 days", types.BRL(800))
	f.premium = f.product(t, "Premium 30 days", types.BRL(1500))
	return f
}

func (f *fixture) product(t *testing.T, name string, price types.Money) *catalog.Product {
	t.Helper()
	p := &catalog.Product{
		Name:               name,
		Price:              price,
		ActivationModuleID: "iptv",
		Active:             true,
	}
	if err := f.engine.SaveProduct(context.Background(), p); err != nil {
		t.Fatalf("save product: %v", err)
	}
	return p
}

func (f *fixture) succeedWith(data string) {
	f.providers.Register("iptv", activation.ProviderFunc(func(_ context.Context, req activation.Request) (*activation.Result, error) {
		return &activation.Result{Success: true, Data: data}, nil
	}))
}

func (f *fixture) failWith(reason string) {
	f.providers.Register("iptv", activation.ProviderFunc(func(_ context.Context, _ activation.Request) (*activation.Result, error) {
		return &activation.Result{Success: false, ErrorMessage: reason}, nil
	}))
}

// paidOrder creates an order for p and settles it as approved.
func (f *fixture) paidOrder(t *testing.T, customerID string, p *catalog.Product) *order.Order {
	t.Helper()
	ctx := context.Background()

	o, err := f.engine.SelectProduct(ctx, customerID, p.ID)
	if err != nil {
		t.Fatalf("select product: %v", err)
	}
	f.gw.SetStatus(o.ChargeReference, gateway.StatusApproved)

	outcome, err := f.engine.SettleOrder(ctx, o.ID, gateway.StatusApproved)
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if outcome != redeem.Settled {
		t.Fatalf("outcome = %s, want settled", outcome)
	}
	return f.order(t, o.ID)
}

func (f *fixture) order(t *testing.T, orderID id.OrderID) *order.Order {
	t.Helper()
	o, err := f.engine.GetOrder(context.Background(), orderID)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	return o
}

func (f *fixture) session(t *testing.T, customerID string) *session.Session {
	t.Helper()
	s, err := f.engine.GetSession(context.Background(), customerID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	return s
}

// messages counts the texts sent to customerID that contain substr.
func (f *fixture) messages(customerID, substr string) int {
	n := 0
	for _, m := range f.chat.Messages(customerID) {
		if strings.Contains(m.Text, substr) {
			n++
		}
	}
	return n
}

func TestEngineStartStop(t *testing.T) {
	f := newFixture(t, redeem.WithPollInterval(time.Hour))

	if err := f.engine.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if f.engine.Providers().Version() == 0 {
		t.Error("provider registry was never loaded")
	}
	if f.engine.Store() == nil {
		t.Error("store accessor returned nil")
	}
}

func TestCreateOrder(t *testing.T) {
	ctx := context.Background()

	t.Run("OpensChargeAndPointsSession", func(t *testing.T) {
		f := newFixture(t)

		o, err := f.engine.CreateOrder(ctx, "cust_1", f.basic.ID)
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		if o.Status != order.StatusPendingPayment {
			t.Errorf("status = %s", o.Status)
		}
		if o.ChargeReference == "" || o.Degraded {
			t.Errorf("expected a live charge, got ref=%q degraded=%v", o.ChargeReference, o.Degraded)
		}
		if !o.Product.Price.Equal(types.BRL(1000)) {
			t.Errorf("snapshot price = %s", o.Product.Price)
		}

		s := f.session(t, "cust_1")
		if s.State != session.StateAwaitingPayment || s.CurrentOrderID != o.ID {
			t.Errorf("session = %s/%s", s.State, s.CurrentOrderID)
		}
		if f.messages("cust_1", o.PayCode) != 1 {
			t.Error("pay code was not sent")
		}
	})

	t.Run("SnapshotSurvivesCatalogChange", func(t *testing.T) {
		f := newFixture(t)

		o, err := f.engine.CreateOrder(ctx, "cust_1", f.basic.ID)
		if err != nil {
			t.Fatal(err)
		}
		f.basic.Price = types.BRL(9900)
		f.basic.Name = "Renamed"
		if err := f.engine.SaveProduct(ctx, f.basic); err != nil {
			t.Fatal(err)
		}

		got := f.order(t, o.ID)
		if got.Product.Name != "Basic 30 days" || !got.Product.Price.Equal(types.BRL(1000)) {
			t.Errorf("snapshot changed: %+v", got.Product)
		}
		p, err := f.engine.GetProduct(ctx, f.basic.ID)
		if err != nil {
			t.Fatal(err)
		}
		if p.Name != "Renamed" {
			t.Errorf("cache served stale product %q", p.Name)
		}
	})

	t.Run("RejectsInactiveProduct", func(t *testing.T) {
		f := newFixture(t)
		f.basic.Active = false
		if err := f.engine.SaveProduct(ctx, f.basic); err != nil {
			t.Fatal(err)
		}

		_, err := f.engine.CreateOrder(ctx, "cust_1", f.basic.ID)
		if !redeem.IsConflict(err) {
			t.Errorf("expected product inactive, got %v", err)
		}
	})

	t.Run("RejectsUnknownProduct", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.engine.CreateOrder(ctx, "cust_1", id.NewProductID())
		if !redeem.IsNotFound(err) {
			t.Errorf("expected not found, got %v", err)
		}
	})

	t.Run("DegradesWhenGatewayDown", func(t *testing.T) {
		f := newFixture(t)
		f.gw.FailNext(gateway.ErrUnavailable)

		o, err := f.engine.CreateOrder(ctx, "cust_1", f.basic.ID)
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		if !o.Degraded || o.ChargeReference != "" {
			t.Errorf("expected degraded order without charge, got %+v", o)
		}
		if !strings.HasPrefix(o.PayCode, "OFFLINE-") {
			t.Errorf("pay code = %q", o.PayCode)
		}
	})
}

func TestSaveProductValidation(t *testing.T) {
	f := newFixture(t)

	err := f.engine.SaveProduct(context.Background(), &catalog.Product{})
	if err == nil {
		t.Fatal("expected validation error")
	}
	var multi redeem.MultiError
	if !errors.As(err, &multi) || len(multi.Errors) != 3 {
		t.Errorf("expected three field errors, got %v", err)
	}
}
