// Package storetest holds the behaviour every store.Store backend must share.
// Backends call Run from their own tests.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/xraph/redeem"
	"github.com/xraph/redeem/catalog"
	"github.com/xraph/redeem/id"
	"github.com/xraph/redeem/order"
	"github.com/xraph/redeem/session"
	"github.com/xraph/redeem/store"
	"github.com/xraph/redeem/types"
)

// Factory returns an empty, migrated store. The caller's cleanup closes it.
type Factory func(t *testing.T) store.Store

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// NewOrder builds a pending order for customerID created at createdAt.
func NewOrder(customerID string, createdAt time.Time) *order.Order {
	productID := id.NewProductID()
	return &order.Order{
		Entity:           types.NewEntity(createdAt),
		ID:               id.NewOrderID(),
		CustomerID:       customerID,
		CatalogProductID: productID,
		Product: order.ProductSnapshot{
			ProductID:          productID,
			Name:               "Annual plan",
			Price:              types.BRL(1000),
			ActivationModuleID: "iptv",
		},
		Status: order.StatusPendingPayment,
	}
}

// Run executes the shared suite against the backend produced by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Run("OrderInsertAndGet", func(t *testing.T) { testOrderInsertAndGet(t, newStore(t)) })
	t.Run("OrderVersionConflict", func(t *testing.T) { testOrderVersionConflict(t, newStore(t)) })
	t.Run("OrderDuplicateInsert", func(t *testing.T) { testOrderDuplicateInsert(t, newStore(t)) })
	t.Run("OrderUpdateMissing", func(t *testing.T) { testOrderUpdateMissing(t, newStore(t)) })
	t.Run("OrderByChargeRef", func(t *testing.T) { testOrderByChargeRef(t, newStore(t)) })
	t.Run("ListOrders", func(t *testing.T) { testListOrders(t, newStore(t)) })
	t.Run("SessionVersioning", func(t *testing.T) { testSessionVersioning(t, newStore(t)) })
	t.Run("ListSessions", func(t *testing.T) { testListSessions(t, newStore(t)) })
	t.Run("Products", func(t *testing.T) { testProducts(t, newStore(t)) })
}

func testOrderInsertAndGet(t *testing.T, s store.Store) {
	ctx := context.Background()
	o := NewOrder("cust_1", epoch)
	override := o.Product
	override.Name = "Monthly plan"
	o.ActivationOverrideProduct = &override

	if err := s.SaveOrder(ctx, o); err != nil {
		t.Fatalf("SaveOrder: %v", err)
	}
	if o.Version != 1 {
		t.Fatalf("Version after insert: got %d, want 1", o.Version)
	}

	got, err := s.GetOrder(ctx, o.ID)
	if err != nil {
		t.Fatalf("GetOrder: %v", err)
	}
	if got.ID.String() != o.ID.String() {
		t.Errorf("ID: got %s, want %s", got.ID, o.ID)
	}
	if got.Status != order.StatusPendingPayment {
		t.Errorf("Status: got %s", got.Status)
	}
	if !got.Product.Price.Equal(types.BRL(1000)) {
		t.Errorf("Price: got %s", got.Product.Price)
	}
	if got.ActivationOverrideProduct == nil || got.ActivationOverrideProduct.Name != "Monthly plan" {
		t.Errorf("override product not persisted: %+v", got.ActivationOverrideProduct)
	}
	if got.Version != 1 {
		t.Errorf("Version: got %d, want 1", got.Version)
	}

	if _, err := s.GetOrder(ctx, id.NewOrderID()); !errors.Is(err, redeem.ErrOrderNotFound) {
		t.Errorf("GetOrder unknown: got %v, want ErrOrderNotFound", err)
	}
}

func testOrderVersionConflict(t *testing.T, s store.Store) {
	ctx := context.Background()
	o := NewOrder("cust_1", epoch)
	if err := s.SaveOrder(ctx, o); err != nil {
		t.Fatalf("SaveOrder: %v", err)
	}

	a, err := s.GetOrder(ctx, o.ID)
	if err != nil {
		t.Fatal(err)
	}
	b, err := s.GetOrder(ctx, o.ID)
	if err != nil {
		t.Fatal(err)
	}

	a.Status = order.StatusPaid
	a.CreditAmount = types.BRL(1000)
	if err := s.SaveOrder(ctx, a); err != nil {
		t.Fatalf("first writer: %v", err)
	}

	b.Status = order.StatusCancelled
	if err := s.SaveOrder(ctx, b); !errors.Is(err, redeem.ErrVersionConflict) {
		t.Fatalf("stale writer: got %v, want ErrVersionConflict", err)
	}

	got, err := s.GetOrder(ctx, o.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != order.StatusPaid || got.Version != 2 {
		t.Errorf("got status=%s version=%d, want paid/2", got.Status, got.Version)
	}
	if !got.CreditAmount.Equal(types.BRL(1000)) {
		t.Errorf("CreditAmount: got %s", got.CreditAmount)
	}
}

func testOrderDuplicateInsert(t *testing.T, s store.Store) {
	ctx := context.Background()
	o := NewOrder("cust_1", epoch)
	if err := s.SaveOrder(ctx, o); err != nil {
		t.Fatal(err)
	}

	dup := o.Clone()
	dup.Version = 0
	if err := s.SaveOrder(ctx, dup); !errors.Is(err, redeem.ErrAlreadyExists) {
		t.Fatalf("duplicate insert: got %v, want ErrAlreadyExists", err)
	}
}

func testOrderUpdateMissing(t *testing.T, s store.Store) {
	o := NewOrder("cust_1", epoch)
	o.Version = 3
	if err := s.SaveOrder(context.Background(), o); !errors.Is(err, redeem.ErrOrderNotFound) {
		t.Fatalf("update missing: got %v, want ErrOrderNotFound", err)
	}
}

func testOrderByChargeRef(t *testing.T, s store.Store) {
	ctx := context.Background()
	o := NewOrder("cust_1", epoch)
	if err := s.SaveOrder(ctx, o); err != nil {
		t.Fatal(err)
	}

	if _, err := s.GetOrderByChargeRef(ctx, ""); !errors.Is(err, redeem.ErrOrderNotFound) {
		t.Errorf("empty ref: got %v", err)
	}

	o.ChargeReference = "ch_000001"
	if err := s.SaveOrder(ctx, o); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetOrderByChargeRef(ctx, "ch_000001")
	if err != nil {
		t.Fatalf("GetOrderByChargeRef: %v", err)
	}
	if got.ID.String() != o.ID.String() {
		t.Errorf("got order %s, want %s", got.ID, o.ID)
	}
	if _, err := s.GetOrderByChargeRef(ctx, "ch_missing"); !errors.Is(err, redeem.ErrOrderNotFound) {
		t.Errorf("unknown ref: got %v", err)
	}
}

func testListOrders(t *testing.T, s store.Store) {
	ctx := context.Background()

	old := NewOrder("cust_1", epoch)
	old.ChargeReference = "ch_old"
	mid := NewOrder("cust_2", epoch.Add(10*time.Minute))
	recent := NewOrder("cust_1", epoch.Add(time.Hour))
	recent.ChargeReference = "ch_recent"
	recent.NeedsReview = true

	for _, o := range []*order.Order{recent, old, mid} {
		if err := s.SaveOrder(ctx, o); err != nil {
			t.Fatal(err)
		}
	}
	mid.Status = order.StatusCancelled
	if err := s.SaveOrder(ctx, mid); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		opts order.ListOpts
		want []*order.Order
	}{
		{"all oldest first", order.ListOpts{}, []*order.Order{old, mid, recent}},
		{"pending only", order.ListOpts{Status: order.StatusPendingPayment}, []*order.Order{old, recent}},
		{"by customer", order.ListOpts{CustomerID: "cust_2"}, []*order.Order{mid}},
		{"with charge ref", order.ListOpts{WithChargeRef: true}, []*order.Order{old, recent}},
		{"created before", order.ListOpts{CreatedBefore: epoch.Add(10 * time.Minute)}, []*order.Order{old}},
		{"needs review", order.ListOpts{NeedsReview: true}, []*order.Order{recent}},
		{"limit", order.ListOpts{Limit: 2}, []*order.Order{old, mid}},
		{"offset", order.ListOpts{Offset: 1, Limit: 1}, []*order.Order{mid}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.ListOrders(ctx, tt.opts)
			if err != nil {
				t.Fatalf("ListOrders: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %d orders, want %d", len(got), len(tt.want))
			}
			for i := range got {
				if got[i].ID.String() != tt.want[i].ID.String() {
					t.Errorf("[%d] got %s, want %s", i, got[i].ID, tt.want[i].ID)
				}
			}
		})
	}
}

func testSessionVersioning(t *testing.T, s store.Store) {
	ctx := context.Background()

	if _, err := s.GetSession(ctx, "cust_1"); !errors.Is(err, redeem.ErrSessionNotFound) {
		t.Fatalf("GetSession before save: got %v", err)
	}

	sess := session.New("cust_1", epoch)
	sess.State = session.StateCreditMenu
	sess.CreditOrderID = id.NewOrderID()
	sess.AvailableCredit = types.BRL(1000)
	sess.SetExtra(session.ExtraSelectedProduct, "prod_x")
	sess.EnterSilence(epoch.Add(5 * time.Minute))
	if err := s.SaveSession(ctx, sess); err != nil {
		t.Fatalf("SaveSession: %v", err)
	}

	got, err := s.GetSession(ctx, "cust_1")
	if err != nil {
		t.Fatal(err)
	}
	if got.CreditOrderID.String() != sess.CreditOrderID.String() {
		t.Errorf("CreditOrderID: got %s, want %s", got.CreditOrderID, sess.CreditOrderID)
	}
	if !got.AvailableCredit.Equal(types.BRL(1000)) {
		t.Errorf("AvailableCredit: got %s", got.AvailableCredit)
	}
	if got.Extra[session.ExtraSelectedProduct] != "prod_x" {
		t.Errorf("Extra not persisted: %v", got.Extra)
	}
	if !got.SilenceUntil.Equal(epoch.Add(5 * time.Minute)) {
		t.Errorf("SilenceUntil: got %v", got.SilenceUntil)
	}
	if !got.CurrentOrderID.IsNil() {
		t.Errorf("CurrentOrderID: got %s, want nil", got.CurrentOrderID)
	}

	stale := got.Clone()
	got.ExitSilence(session.StateCreditMenu)
	if err := s.SaveSession(ctx, got); err != nil {
		t.Fatalf("update: %v", err)
	}
	stale.Reset()
	if err := s.SaveSession(ctx, stale); !errors.Is(err, redeem.ErrVersionConflict) {
		t.Fatalf("stale update: got %v, want ErrVersionConflict", err)
	}

	fresh := session.New("cust_1", epoch)
	if err := s.SaveSession(ctx, fresh); !errors.Is(err, redeem.ErrVersionConflict) {
		t.Fatalf("second insert: got %v, want ErrVersionConflict", err)
	}
}

func testListSessions(t *testing.T, s store.Store) {
	ctx := context.Background()
	for _, c := range []string{"cust_c", "cust_a", "cust_b"} {
		sess := session.New(c, epoch)
		if c == "cust_b" {
			sess.State = session.StateAwaitingPayment
			sess.NeedsReview = true
		}
		if err := s.SaveSession(ctx, sess); err != nil {
			t.Fatal(err)
		}
	}

	all, err := s.ListSessions(ctx, session.ListOpts{})
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 || all[0].CustomerID != "cust_a" || all[2].CustomerID != "cust_c" {
		t.Fatalf("unexpected order: %d sessions", len(all))
	}

	awaiting, err := s.ListSessions(ctx, session.ListOpts{State: session.StateAwaitingPayment})
	if err != nil {
		t.Fatal(err)
	}
	if len(awaiting) != 1 || awaiting[0].CustomerID != "cust_b" {
		t.Errorf("state filter: got %d sessions", len(awaiting))
	}

	review, err := s.ListSessions(ctx, session.ListOpts{NeedsReview: true})
	if err != nil {
		t.Fatal(err)
	}
	if len(review) != 1 {
		t.Errorf("review filter: got %d sessions", len(review))
	}
}

func testProducts(t *testing.T, s store.Store) {
	ctx := context.Background()

	a := &catalog.Product{
		Entity:             types.NewEntity(epoch),
		ID:                 id.NewProductID(),
		Name:               "Basic",
		Price:              types.BRL(800),
		ActivationModuleID: "iptv",
		Active:             true,
	}
	b := &catalog.Product{
		Entity:             types.NewEntity(epoch),
		ID:                 id.NewProductID(),
		Name:               "Archived",
		Price:              types.BRL(500),
		ActivationModuleID: "iptv",
	}
	for _, p := range []*catalog.Product{a, b} {
		if err := s.SaveProduct(ctx, p); err != nil {
			t.Fatalf("SaveProduct: %v", err)
		}
	}

	a.Price = types.BRL(900)
	if err := s.SaveProduct(ctx, a); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	got, err := s.GetProduct(ctx, a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !got.Price.Equal(types.BRL(900)) {
		t.Errorf("Price after upsert: got %s", got.Price)
	}

	active, err := s.ListProducts(ctx, catalog.ListOpts{ActiveOnly: true})
	if err != nil {
		t.Fatal(err)
	}
	if len(active) != 1 || active[0].Name != "Basic" {
		t.Errorf("ActiveOnly: got %d products", len(active))
	}

	all, err := s.ListProducts(ctx, catalog.ListOpts{})
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 || all[0].Name != "Archived" {
		t.Errorf("all products: got %d", len(all))
	}

	if _, err := s.GetProduct(ctx, id.NewProductID()); !errors.Is(err, redeem.ErrProductNotFound) {
		t.Errorf("unknown product: got %v", err)
	}
}
