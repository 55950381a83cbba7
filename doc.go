// Package redeem settles asynchronous payments for a chat-driven ordering
// flow and turns each confirmed payment into a single-use credit that the
// customer can redeem against any catalog product.
//
// Redeem is designed as a library. Import it into the service that owns the
// chat transport and feed it the customer's intents. It provides:
//
//   - Idempotent settlement callable concurrently from webhooks and the poller
//   - A credit ledger with optimistic debit and compensation on failure
//   - Background activation with a per-customer silence lease
//   - A reconciliation scheduler that polls charges and expires stale orders
//   - Memory, BoltDB, SQLite, PostgreSQL and MongoDB stores
//
// # Quick Start
//
//	import (
//	    "github.com/xraph/redeem"
//	    "github.com/xraph/redeem/activation"
//	    "github.com/xraph/redeem/store/bolt"
//	)
//
//	st, err := bolt.Open("redeem.db")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	providers := activation.NewRegistry(map[string]activation.Provider{
//	    "iptv": iptvProvider,
//	})
//
//	e := redeem.New(st, gatewayClient, providers,
//	    redeem.WithChannel(chat),
//	    redeem.WithPollInterval(30*time.Second),
//	)
//	if err := e.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer e.Stop()
//
// # Customer flow
//
// A customer without credit who selects a product gets a new order and a pay
// code:
//
//	o, err := e.SelectProduct(ctx, customerID, productID)
//
// The gateway webhook and the poller both call into SettleOrder. Only the
// first approval moves the order to paid and grants its price as credit.
// Selecting a product while holding credit debits it tentatively; the next
// message is the activation payload:
//
//	_, err = e.SelectProduct(ctx, customerID, otherProductID)
//	_, err = e.SubmitActivationPayload(ctx, customerID, "user@example.com")
//
// The activation runs in the background while the customer is silenced. On
// failure the credit is restored and the customer may pick again.
//
// # Consistency
//
// Orders and sessions are written separately, order first, each guarded by a
// version number. Customer operations re-derive the session's credit from
// its source order when a crash left the two apart. Any disagreement that a
// crash cannot explain flags the customer for review and stops automatic
// processing until ResolveReview is called.
//
// All amounts are integer minor units. Identifiers are TypeIDs:
//
//	ord_01h2xcejqtf2nbrexx3vqjhp41   // Order ID
//	prod_01h2xcejqtf2nbrexx3vqjhp41  // Product ID
package redeem
