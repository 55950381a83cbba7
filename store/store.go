// Package store defines the aggregate persistence interface for redeem.
// Backends live in the sub-packages.
package store

import (
	"context"

	"github.com/xraph/redeem/catalog"
	"github.com/xraph/redeem/id"
	"github.com/xraph/redeem/order"
	"github.com/xraph/redeem/session"
)

// Store is the unified storage interface for all redeem entities.
// No backend offers multi-record transactions; Order and Session writes are
// individually versioned and the engine orders them.
type Store interface {
	// Order methods
	SaveOrder(ctx context.Context, o *order.Order) error
	GetOrder(ctx context.Context, orderID id.OrderID) (*order.Order, error)
	GetOrderByChargeRef(ctx context.Context, chargeRef string) (*order.Order, error)
	ListOrders(ctx context.Context, opts order.ListOpts) ([]*order.Order, error)

	// Session methods
	SaveSession(ctx context.Context, s *session.Session) error
	GetSession(ctx context.Context, customerID string) (*session.Session, error)
	ListSessions(ctx context.Context, opts session.ListOpts) ([]*session.Session, error)

	// Catalog methods
	SaveProduct(ctx context.Context, p *catalog.Product) error
	GetProduct(ctx context.Context, productID id.ProductID) (*catalog.Product, error)
	ListProducts(ctx context.Context, opts catalog.ListOpts) ([]*catalog.Product, error)

	// Core methods
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

var (
	_ order.Store   = (Store)(nil)
	_ session.Store = (Store)(nil)
	_ catalog.Store = (Store)(nil)
)
