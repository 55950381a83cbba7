// Package catalog holds the product catalog read by the engine and a
// read-through cache in front of it.
package catalog

import (
	"github.com/xraph/redeem/id"
	"github.com/xraph/redeem/types"
)

// Product is a catalog item a customer can buy or redeem credit against.
type Product struct {
	types.Entity
	ID    id.ProductID `json:"id"`
	Name  string       `json:"name"`
	Price types.Money  `json:"price"`
	// ActivationModuleID names the activation provider that fulfils the product.
	ActivationModuleID string            `json:"activation_module_id"`
	Active             bool              `json:"active"`
	Metadata           map[string]string `json:"metadata,omitempty"`
}
