// Package gateway is the payment gateway adapter boundary: charge creation,
// status queries and webhook authentication.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/xraph/redeem/id"
	"github.com/xraph/redeem/types"
)

var (
	// ErrUnavailable marks gateway failures worth retrying on the next tick.
	ErrUnavailable = errors.New("gateway: unavailable")
	// ErrUnknownCharge is returned for a reference the gateway never issued.
	ErrUnknownCharge = errors.New("gateway: unknown charge")
	// ErrInvalidSignature is returned when a webhook fails authentication.
	ErrInvalidSignature = errors.New("gateway: invalid webhook signature")
	// ErrMalformedEvent is returned when a webhook body cannot be parsed.
	ErrMalformedEvent = errors.New("gateway: malformed webhook event")
)

// ChargeStatus is the gateway's view of a charge.
type ChargeStatus string

const (
	StatusPending    ChargeStatus = "pending"
	StatusApproved   ChargeStatus = "approved"
	StatusAuthorized ChargeStatus = "authorized"
	StatusRejected   ChargeStatus = "rejected"
	StatusCancelled  ChargeStatus = "cancelled"
)

// ParseStatus normalizes a raw gateway status. Unknown values are kept as-is
// and treated as pending by callers.
func ParseStatus(raw string) ChargeStatus {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "canceled" {
		return StatusCancelled
	}
	return ChargeStatus(s)
}

// IsApproved reports whether the money has been captured or authorized.
func (s ChargeStatus) IsApproved() bool {
	return s == StatusApproved || s == StatusAuthorized
}

// IsFinal reports whether the gateway will not change the status again.
func (s ChargeStatus) IsFinal() bool {
	return s.IsApproved() || s == StatusRejected || s == StatusCancelled
}

// ChargeRequest describes the charge to open for an order.
type ChargeRequest struct {
	OrderID     id.OrderID
	CustomerID  string
	Amount      types.Money
	Description string
}

// Charge is an opened charge. PayCode is the instrument shown to the customer.
type Charge struct {
	Reference string
	PayCode   string
}

// Gateway is implemented by payment gateway clients.
type Gateway interface {
	CreateCharge(ctx context.Context, req ChargeRequest) (*Charge, error)
	GetChargeStatus(ctx context.Context, chargeRef string) (ChargeStatus, error)
}

// Placeholder synthesizes a local pay code for an order whose charge could
// not be created. It has no Reference, so the poller never settles it.
func Placeholder(orderID id.OrderID, amount types.Money) *Charge {
	return &Charge{
		PayCode: fmt.Sprintf("OFFLINE-%s-%s", strings.ToUpper(orderID.String()), amount.FormatMajor()),
	}
}
