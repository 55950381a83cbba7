package redeem

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/xraph/redeem/catalog"
	"github.com/xraph/redeem/id"
	"github.com/xraph/redeem/order"
	"github.com/xraph/redeem/session"
	"github.com/xraph/redeem/types"
)

// ──────────────────────────────────────────────────
// Queries
// ──────────────────────────────────────────────────

// GetOrder returns an order by ID.
func (e *Engine) GetOrder(ctx context.Context, orderID id.OrderID) (*order.Order, error) {
	return e.store.GetOrder(ctx, orderID)
}

// GetSession returns a customer's session.
func (e *Engine) GetSession(ctx context.Context, customerID string) (*session.Session, error) {
	return e.store.GetSession(ctx, customerID)
}

// ListOrders lists orders matching opts.
func (e *Engine) ListOrders(ctx context.Context, opts order.ListOpts) ([]*order.Order, error) {
	return e.store.ListOrders(ctx, opts)
}

// CustomerStatus is a read-only view of where a customer stands.
type CustomerStatus struct {
	CustomerID      string        `json:"customer_id"`
	State           session.State `json:"state"`
	Silenced        bool          `json:"silenced"`
	SilenceUntil    *time.Time    `json:"silence_until,omitempty"`
	AvailableCredit types.Money   `json:"available_credit"`
	CreditOrderID   id.OrderID    `json:"credit_order_id"`
	CurrentOrder    *order.Order  `json:"current_order,omitempty"`
	NeedsReview     bool          `json:"needs_review"`
	ReviewReason    string        `json:"review_reason,omitempty"`
}

// CustomerStatus summarizes the customer's session and current order. It
// never repairs state.
func (e *Engine) CustomerStatus(ctx context.Context, customerID string) (*CustomerStatus, error) {
	sess, err := e.store.GetSession(ctx, customerID)
	if err != nil {
		return nil, err
	}

	st := &CustomerStatus{
		CustomerID:      sess.CustomerID,
		State:           sess.State,
		Silenced:        sess.IsSilenced(e.now()),
		AvailableCredit: sess.AvailableCredit,
		CreditOrderID:   sess.CreditOrderID,
		NeedsReview:     sess.NeedsReview,
		ReviewReason:    sess.ReviewReason,
	}
	if !sess.SilenceUntil.IsZero() {
		until := sess.SilenceUntil
		st.SilenceUntil = &until
	}
	if !sess.CurrentOrderID.IsNil() {
		o, err := e.store.GetOrder(ctx, sess.CurrentOrderID)
		if err != nil && !errors.Is(err, ErrOrderNotFound) {
			return nil, err
		}
		st.CurrentOrder = o
	}
	return st, nil
}

// ──────────────────────────────────────────────────
// Review
// ──────────────────────────────────────────────────

// ResolveReview clears the review flag on the customer's session and on
// every order of theirs that carries one. Call it after repairing the
// ledger by hand.
func (e *Engine) ResolveReview(ctx context.Context, customerID string) error {
	unlock := e.locks.Lock(customerKey(customerID))
	defer unlock()

	sess, err := e.store.GetSession(ctx, customerID)
	if err != nil {
		return err
	}

	flagged, err := e.store.ListOrders(ctx, order.ListOpts{CustomerID: customerID, NeedsReview: true})
	if err != nil {
		return err
	}
	for _, o := range flagged {
		o.NeedsReview = false
		o.ReviewReason = ""
		o.Touch(e.now())
		if err := e.store.SaveOrder(ctx, o); err != nil {
			return err
		}
	}

	if sess.NeedsReview {
		sess.NeedsReview = false
		sess.ReviewReason = ""
		if err := e.saveSession(ctx, sess); err != nil {
			return err
		}
	}

	e.logger.Info("review resolved",
		"customer_id", customerID,
		"orders", len(flagged),
	)
	return nil
}

// ──────────────────────────────────────────────────
// Catalog
// ──────────────────────────────────────────────────

// SaveProduct validates and upserts a product, then drops it from the cache.
func (e *Engine) SaveProduct(ctx context.Context, p *catalog.Product) error {
	var errs MultiError
	if strings.TrimSpace(p.Name) == "" {
		errs.Add(ValidationError{Field: "name", Message: "required"})
	}
	if !p.Price.IsPositive() {
		errs.Add(ValidationError{Field: "price", Message: "must be positive"})
	}
	if p.ActivationModuleID == "" {
		errs.Add(ValidationError{Field: "activation_module_id", Message: "required"})
	}
	if err := errs.ErrOrNil(); err != nil {
		return err
	}

	now := e.now()
	if p.ID.IsNil() {
		p.ID = id.NewProductID()
	}
	if p.CreatedAt.IsZero() {
		p.Entity = types.NewEntity(now)
	} else {
		p.Touch(now)
	}
	return e.catalog.Save(ctx, p)
}

// GetProduct returns a product through the catalog cache.
func (e *Engine) GetProduct(ctx context.Context, productID id.ProductID) (*catalog.Product, error) {
	return e.catalog.Get(ctx, productID)
}

// ListProducts lists products straight from the store.
func (e *Engine) ListProducts(ctx context.Context, opts catalog.ListOpts) ([]*catalog.Product, error) {
	return e.store.ListProducts(ctx, opts)
}
