package catalog

import (
	"context"

	"github.com/xraph/redeem/id"
)

// Store persists products. SaveProduct upserts by ID.
type Store interface {
	SaveProduct(ctx context.Context, p *Product) error
	GetProduct(ctx context.Context, productID id.ProductID) (*Product, error)
	ListProducts(ctx context.Context, opts ListOpts) ([]*Product, error)
}

type ListOpts struct {
	ActiveOnly bool
	Limit      int
	Offset     int
}
