// Package session defines the per-customer conversational Session and the
// silence lease that suppresses a customer while an activation is in flight.
package session

import (
	"time"

	"github.com/xraph/redeem/id"
	"github.com/xraph/redeem/types"
)

// State is the conversational state of a customer.
type State string

const (
	StateNone                   State = ""
	StateMenu                   State = "menu"
	StateAwaitingPayment        State = "awaiting_payment"
	StateCreditMenu             State = "credit_menu"
	StateAwaitingActivationInfo State = "awaiting_activation_info"
	StateProcessingActivation   State = "processing_activation"
)

// Extra keys used by the engine.
const (
	ExtraSelectedProduct = "selected_product_id"
	ExtraSelectedName    = "selected_product_name"
)

// Session is the per-customer conversation record, keyed by CustomerID.
type Session struct {
	types.Entity
	CustomerID     string     `json:"customer_id"`
	State          State      `json:"state"`
	CurrentOrderID id.OrderID `json:"current_order_id"`
	// CreditOrderID is the order that is the source of the active credit.
	CreditOrderID   id.OrderID        `json:"credit_order_id"`
	AvailableCredit types.Money       `json:"available_credit"`
	Extra           map[string]string `json:"extra,omitempty"`

	// SilenceUntil is the deadline of the silence lease. Zero when the
	// customer is not silenced.
	SilenceUntil time.Time `json:"silence_until"`

	NeedsReview  bool   `json:"needs_review"`
	ReviewReason string `json:"review_reason,omitempty"`

	Version int64 `json:"version"`
}

// New returns an empty session for a customer.
func New(customerID string, now time.Time) *Session {
	return &Session{
		CustomerID: customerID,
		State:      StateNone,
		Extra:      map[string]string{},
		Entity:     types.NewEntity(now),
	}
}

// HasCredit reports whether the session holds unspent credit.
func (s *Session) HasCredit() bool {
	return s.AvailableCredit.IsPositive()
}

// IsSilenced reports whether the silence lease is live at now.
func (s *Session) IsSilenced(now time.Time) bool {
	return s.State == StateProcessingActivation && now.Before(s.SilenceUntil)
}

// LeaseExpired reports whether the session is in silence but its lease has
// run out, meaning the activation that owned it never reported back.
func (s *Session) LeaseExpired(now time.Time) bool {
	return s.State == StateProcessingActivation && !now.Before(s.SilenceUntil)
}

// EnterSilence moves the session into processing_activation until deadline.
func (s *Session) EnterSilence(deadline time.Time) {
	s.State = StateProcessingActivation
	s.SilenceUntil = deadline
}

// ExitSilence releases the lease and leaves the session in next.
func (s *Session) ExitSilence(next State) {
	s.SilenceUntil = time.Time{}
	s.State = next
}

// ClearCredit drops the credit pointer and zeroes the balance.
func (s *Session) ClearCredit() {
	s.CreditOrderID = id.Nil
	s.AvailableCredit = types.Zero(s.AvailableCredit.Currency)
}

// ClearSelection removes the transient product selection.
func (s *Session) ClearSelection() {
	delete(s.Extra, ExtraSelectedProduct)
	delete(s.Extra, ExtraSelectedName)
}

// Reset returns the session to the idle state after a terminal outcome.
func (s *Session) Reset() {
	s.State = StateNone
	s.CurrentOrderID = id.Nil
	s.SilenceUntil = time.Time{}
	s.ClearCredit()
	s.Extra = map[string]string{}
}

// SetExtra stores a transient key, allocating the map when needed.
func (s *Session) SetExtra(key, value string) {
	if s.Extra == nil {
		s.Extra = map[string]string{}
	}
	s.Extra[key] = value
}

// Clone returns a deep copy safe to mutate independently.
func (s *Session) Clone() *Session {
	c := *s
	c.Extra = make(map[string]string, len(s.Extra))
	for k, v := range s.Extra {
		c.Extra[k] = v
	}
	return &c
}
