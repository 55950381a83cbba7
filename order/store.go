package order

import (
	"context"
	"time"

	"github.com/xraph/redeem/id"
)

// Store persists orders. SaveOrder inserts when Version is zero and otherwise
// replaces the stored row only if its version still equals o.Version. On
// success o.Version is incremented; a lost race returns a version conflict.
type Store interface {
	SaveOrder(ctx context.Context, o *Order) error
	GetOrder(ctx context.Context, orderID id.OrderID) (*Order, error)
	GetOrderByChargeRef(ctx context.Context, chargeRef string) (*Order, error)
	ListOrders(ctx context.Context, opts ListOpts) ([]*Order, error)
}

// ListOpts filters ListOrders. Results are ordered by creation time, oldest first.
type ListOpts struct {
	Status     Status
	CustomerID string
	// WithChargeRef restricts results to orders that have a gateway charge.
	WithChargeRef bool
	// CreatedBefore restricts results to orders created strictly before it.
	CreatedBefore time.Time
	NeedsReview   bool
	Limit         int
	Offset        int
}

// Match reports whether o satisfies the filter. Backends without a query
// language use it directly.
func (opts ListOpts) Match(o *Order) bool {
	if opts.Status != "" && o.Status != opts.Status {
		return false
	}
	if opts.CustomerID != "" && o.CustomerID != opts.CustomerID {
		return false
	}
	if opts.WithChargeRef && o.ChargeReference == "" {
		return false
	}
	if !opts.CreatedBefore.IsZero() && !o.CreatedAt.Before(opts.CreatedBefore) {
		return false
	}
	if opts.NeedsReview && !o.NeedsReview {
		return false
	}
	return true
}
