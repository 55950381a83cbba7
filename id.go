package redeem

import "github.com/xraph/redeem/id"

// ID is the identifier type for orders, products, webhook events and
// activation attempts.
type ID = id.ID

// Prefix identifies the entity type encoded in a TypeID.
type Prefix = id.Prefix
