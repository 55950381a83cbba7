// Package order defines the Order record, the unit of settlement, and its
// state machine.
package order

import (
	"time"

	"github.com/xraph/redeem/id"
	"github.com/xraph/redeem/types"
)

// Status is the lifecycle state of an order.
type Status string

const (
	StatusPendingPayment   Status = "pending_payment"
	StatusPaid             Status = "paid"
	StatusPaymentRejected  Status = "payment_rejected"
	StatusPaymentCancelled Status = "payment_cancelled"
	StatusCancelled        Status = "cancelled"
	StatusExpired          Status = "expired"
	StatusAbandoned        Status = "abandoned"
	StatusProcessing       Status = "processing"
	StatusCompleted        Status = "completed"
	StatusFailed           Status = "failed"
)

// transitions lists the allowed moves out of every non-terminal status.
var transitions = map[Status][]Status{
	StatusPendingPayment: {
		StatusPaid,
		StatusPaymentRejected,
		StatusPaymentCancelled,
		StatusCancelled,
		StatusExpired,
		StatusAbandoned,
	},
	StatusPaid:       {StatusProcessing},
	StatusProcessing: {StatusCompleted, StatusFailed},
	StatusFailed:     {StatusProcessing},
}

// CanTransition reports whether an order may move from one status to another.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no transition leaves s.
func (s Status) IsTerminal() bool {
	return len(transitions[s]) == 0
}

// IsValid reports whether s is a known status.
func (s Status) IsValid() bool {
	switch s {
	case StatusPendingPayment, StatusPaid, StatusPaymentRejected, StatusPaymentCancelled,
		StatusCancelled, StatusExpired, StatusAbandoned, StatusProcessing,
		StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// ProductSnapshot captures the catalog fields an order depends on at the
// moment it was created. It never changes after the fact.
type ProductSnapshot struct {
	ProductID          id.ProductID `json:"product_id"`
	Name               string       `json:"name"`
	Price              types.Money  `json:"price"`
	ActivationModuleID string       `json:"activation_module_id"`
}

// Order is one purchase or activation attempt.
type Order struct {
	types.Entity
	ID               id.OrderID      `json:"id"`
	CustomerID       string          `json:"customer_id"`
	CatalogProductID id.ProductID    `json:"catalog_product_id"`
	Product          ProductSnapshot `json:"product"`
	ChargeReference  string          `json:"charge_reference,omitempty"`
	PayCode          string          `json:"pay_code,omitempty"`
	// Degraded marks a placeholder pay code synthesized while the gateway
	// was unreachable. Degraded orders are only settled by manual approval.
	Degraded bool   `json:"degraded"`
	Status   Status `json:"status"`

	ActivationPayload         string           `json:"activation_payload,omitempty"`
	ActivationOverrideProduct *ProductSnapshot `json:"activation_override_product,omitempty"`
	ActivationResult          string           `json:"activation_result,omitempty"`
	LastError                 string           `json:"last_error,omitempty"`

	// CreditAmount is zero until the order is settled, then set exactly once.
	CreditAmount   types.Money `json:"credit_amount"`
	CreditConsumed bool        `json:"credit_consumed"`
	ConsumeReason  string      `json:"consume_reason,omitempty"`
	ManualApproval bool        `json:"manual_approval"`

	NeedsReview  bool   `json:"needs_review"`
	ReviewReason string `json:"review_reason,omitempty"`

	// Version is bumped by every successful save and guards concurrent writers.
	Version int64 `json:"version"`

	PaidAt      *time.Time `json:"paid_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// ActivationProduct returns the product an activation should run against:
// the override chosen when redeeming credit, or the purchased product.
func (o *Order) ActivationProduct() ProductSnapshot {
	if o.ActivationOverrideProduct != nil {
		return *o.ActivationOverrideProduct
	}
	return o.Product
}

// HasActiveCredit reports whether the order is the source of unspent credit.
func (o *Order) HasActiveCredit() bool {
	return o.CreditAmount.IsPositive() && !o.CreditConsumed
}

// IsCreditSource reports whether credit was ever granted from this order.
func (o *Order) IsCreditSource() bool {
	return o.CreditAmount.IsPositive()
}

// Clone returns a deep copy safe to mutate independently.
func (o *Order) Clone() *Order {
	c := *o
	if o.ActivationOverrideProduct != nil {
		p := *o.ActivationOverrideProduct
		c.ActivationOverrideProduct = &p
	}
	if o.PaidAt != nil {
		t := *o.PaidAt
		c.PaidAt = &t
	}
	if o.CompletedAt != nil {
		t := *o.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}
