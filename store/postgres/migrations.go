package postgres

import (
	"context"

	"github.com/xraph/grove/migrate"
)

// Migrations is the grove migration group for the redeem store.
var Migrations = migrate.NewGroup("redeem")

func init() {
	Migrations.MustRegister(
		&migrate.Migration{
			Name:    "create_redeem_orders",
			Version: "20260101000001",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS redeem_orders (
    id                          TEXT PRIMARY KEY,
    customer_id                 TEXT NOT NULL,
    catalog_product_id          TEXT NOT NULL,
    product                     JSONB NOT NULL DEFAULT '{}',
    charge_reference            TEXT NOT NULL DEFAULT '',
    pay_code                    TEXT NOT NULL DEFAULT '',
    degraded                    BOOLEAN NOT NULL DEFAULT FALSE,
    status                      TEXT NOT NULL DEFAULT 'pending_payment',
    activation_payload          TEXT NOT NULL DEFAULT '',
    activation_override_product JSONB,
    activation_result           TEXT NOT NULL DEFAULT '',
    last_error                  TEXT NOT NULL DEFAULT '',
    credit_amount               BIGINT NOT NULL DEFAULT 0,
    credit_currency             TEXT NOT NULL DEFAULT '',
    credit_consumed             BOOLEAN NOT NULL DEFAULT FALSE,
    consume_reason              TEXT NOT NULL DEFAULT '',
    manual_approval             BOOLEAN NOT NULL DEFAULT FALSE,
    needs_review                BOOLEAN NOT NULL DEFAULT FALSE,
    review_reason               TEXT NOT NULL DEFAULT '',
    version                     BIGINT NOT NULL DEFAULT 1,
    paid_at                     TIMESTAMPTZ,
    completed_at                TIMESTAMPTZ,
    created_at                  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at                  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_redeem_orders_status ON redeem_orders (status, created_at);
CREATE INDEX IF NOT EXISTS idx_redeem_orders_customer ON redeem_orders (customer_id, created_at);
CREATE UNIQUE INDEX IF NOT EXISTS idx_redeem_orders_charge_ref ON redeem_orders (charge_reference) WHERE charge_reference <> '';
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS redeem_orders`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_redeem_sessions",
			Version: "20260101000002",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS redeem_sessions (
    customer_id      TEXT PRIMARY KEY,
    state            TEXT NOT NULL DEFAULT '',
    current_order_id TEXT,
    credit_order_id  TEXT,
    available_credit BIGINT NOT NULL DEFAULT 0,
    credit_currency  TEXT NOT NULL DEFAULT '',
    extra            JSONB NOT NULL DEFAULT '{}',
    silence_until    TIMESTAMPTZ,
    needs_review     BOOLEAN NOT NULL DEFAULT FALSE,
    review_reason    TEXT NOT NULL DEFAULT '',
    version          BIGINT NOT NULL DEFAULT 1,
    created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_redeem_sessions_state ON redeem_sessions (state);
CREATE INDEX IF NOT EXISTS idx_redeem_sessions_review ON redeem_sessions (needs_review) WHERE needs_review;
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS redeem_sessions`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_redeem_products",
			Version: "20260101000003",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS redeem_products (
    id                   TEXT PRIMARY KEY,
    name                 TEXT NOT NULL DEFAULT '',
    price_amount         BIGINT NOT NULL DEFAULT 0,
    price_currency       TEXT NOT NULL DEFAULT '',
    activation_module_id TEXT NOT NULL DEFAULT '',
    active               BOOLEAN NOT NULL DEFAULT TRUE,
    metadata             JSONB NOT NULL DEFAULT '{}',
    created_at           TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at           TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_redeem_products_active ON redeem_products (active, name);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS redeem_products`)
				return err
			},
		},
	)
}
