// Package id defines the TypeID-based identifiers used by redeem.
//
// An ID renders as "prefix_suffix", where the prefix names the entity kind
// and the suffix is a UUIDv7, so IDs of one kind sort by creation time.
package id

import (
	"database/sql/driver"
	"fmt"

	"go.jetify.com/typeid/v2"
)

// Prefix is the entity kind encoded in an ID.
type Prefix string

const (
	PrefixOrder      Prefix = "ord"  // Purchase, later the credit source
	PrefixProduct    Prefix = "prod" // Catalog product
	PrefixActivation Prefix = "att"  // One provider invocation
)

// ID identifies a redeem entity. The zero value is Nil.
//
//nolint:recvcheck // UnmarshalText and Scan need pointer receivers.
type ID struct {
	tid typeid.TypeID
	set bool
}

// Nil is the unset ID. Orders and sessions use it for "no reference".
var Nil ID

type (
	// OrderID identifies an order.
	OrderID = ID
	// ProductID identifies a catalog product.
	ProductID = ID
	// ActivationID identifies one activation attempt.
	ActivationID = ID
)

func generate(prefix Prefix) ID {
	tid, err := typeid.Generate(string(prefix))
	if err != nil {
		panic(fmt.Sprintf("id: generate %q: %v", prefix, err))
	}
	return ID{tid: tid, set: true}
}

// NewOrderID returns a fresh order ID.
func NewOrderID() OrderID { return generate(PrefixOrder) }

// NewProductID returns a fresh product ID.
func NewProductID() ProductID { return generate(PrefixProduct) }

// NewActivationID returns a fresh activation attempt ID.
func NewActivationID() ActivationID { return generate(PrefixActivation) }

// Parse reads any redeem ID regardless of prefix.
func Parse(s string) (ID, error) {
	if s == "" {
		return Nil, fmt.Errorf("id: parse: empty string")
	}
	tid, err := typeid.Parse(s)
	if err != nil {
		return Nil, fmt.Errorf("id: parse %q: %w", s, err)
	}
	return ID{tid: tid, set: true}, nil
}

func parseKind(s string, want Prefix) (ID, error) {
	parsed, err := Parse(s)
	if err != nil {
		return Nil, err
	}
	if got := parsed.Prefix(); got != want {
		return Nil, fmt.Errorf("id: %q is a %q id, want %q", s, got, want)
	}
	return parsed, nil
}

// ParseOrderID parses an "ord_" ID. Any other kind is an error.
func ParseOrderID(s string) (OrderID, error) { return parseKind(s, PrefixOrder) }

// ParseProductID parses a "prod_" ID. Any other kind is an error.
func ParseProductID(s string) (ProductID, error) { return parseKind(s, PrefixProduct) }

// String returns "prefix_suffix", or "" for Nil.
func (i ID) String() string {
	if !i.set {
		return ""
	}
	return i.tid.String()
}

// Prefix returns the entity kind, or "" for Nil.
func (i ID) Prefix() Prefix {
	if !i.set {
		return ""
	}
	return Prefix(i.tid.Prefix())
}

// IsNil reports whether the ID is unset.
func (i ID) IsNil() bool { return !i.set }

// MarshalText encodes Nil as an empty string.
func (i ID) MarshalText() ([]byte, error) {
	return []byte(i.String()), nil
}

// UnmarshalText accepts the empty string as Nil.
func (i *ID) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		*i = Nil
		return nil
	}
	parsed, err := Parse(string(data))
	if err != nil {
		return err
	}
	*i = parsed
	return nil
}

// Value stores Nil as NULL.
func (i ID) Value() (driver.Value, error) {
	if !i.set {
		return nil, nil //nolint:nilnil // NULL column
	}
	return i.tid.String(), nil
}

// Scan reads NULL, empty strings and empty byte slices as Nil.
func (i *ID) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*i = Nil
		return nil
	case string:
		return i.UnmarshalText([]byte(v))
	case []byte:
		return i.UnmarshalText(v)
	default:
		return fmt.Errorf("id: cannot scan %T", src)
	}
}
