package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/pgdriver"
	"github.com/xraph/grove/migrate"

	"github.com/xraph/redeem"
	"github.com/xraph/redeem/catalog"
	"github.com/xraph/redeem/id"
	"github.com/xraph/redeem/order"
	"github.com/xraph/redeem/session"
	redeemstore "github.com/xraph/redeem/store"
)

// compile-time interface check
var _ redeemstore.Store = (*Store)(nil)

// Store implements store.Store using PostgreSQL via Grove ORM.
type Store struct {
	db *grove.DB
	pg *pgdriver.PgDB
}

// New creates a new PostgreSQL store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db: db,
		pg: pgdriver.Unwrap(db),
	}
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates the required tables and indexes using the grove orchestrator.
func (s *Store) Migrate(ctx context.Context) error {
	executor, err := migrate.NewExecutorFor(s.pg)
	if err != nil {
		return fmt.Errorf("redeem/postgres: create migration executor: %w", err)
	}
	orch := migrate.NewOrchestrator(executor, Migrations)
	if _, err := orch.Migrate(ctx); err != nil {
		return fmt.Errorf("redeem/postgres: %w: %w", redeem.ErrMigrationFailed, err)
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// column is one SET clause of a versioned update.
type column struct {
	name  string
	value any
}

// ==================== Order Store ====================

func (s *Store) SaveOrder(ctx context.Context, o *order.Order) error {
	expected := o.Version
	m := toOrderModel(o)
	m.Version = expected + 1
	m.UpdatedAt = now()

	if expected == 0 {
		res, err := s.pg.NewInsert(m).
			OnConflict("(id) DO NOTHING").
			Exec(ctx)
		if err != nil {
			return err
		}
		rows, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if rows == 0 {
			return redeem.ErrAlreadyExists
		}
		o.Version = m.Version
		return nil
	}

	var override any
	if len(m.OverrideProduct) > 0 {
		override = string(m.OverrideProduct)
	}

	cols := []column{
		{"charge_reference", m.ChargeReference},
		{"pay_code", m.PayCode},
		{"degraded", m.Degraded},
		{"status", m.Status},
		{"activation_payload", m.Payload},
		{"activation_override_product", override},
		{"activation_result", m.Result},
		{"last_error", m.LastError},
		{"credit_amount", m.CreditAmount},
		{"credit_currency", m.CreditCurrency},
		{"credit_consumed", m.CreditConsumed},
		{"consume_reason", m.ConsumeReason},
		{"manual_approval", m.ManualApproval},
		{"needs_review", m.NeedsReview},
		{"review_reason", m.ReviewReason},
		{"paid_at", m.PaidAt},
		{"completed_at", m.CompletedAt},
		{"version", m.Version},
		{"updated_at", m.UpdatedAt},
	}

	q := s.pg.NewUpdate((*orderModel)(nil))
	for i, c := range cols {
		q = q.Set(fmt.Sprintf("%s = $%d", c.name, i+1), c.value)
	}
	n := len(cols)
	res, err := q.
		Where(fmt.Sprintf("id = $%d", n+1), m.ID).
		Where(fmt.Sprintf("version = $%d", n+2), expected).
		Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		if _, getErr := s.GetOrder(ctx, o.ID); getErr != nil {
			return getErr
		}
		return redeem.ErrVersionConflict
	}
	o.Version = m.Version
	return nil
}

func (s *Store) GetOrder(ctx context.Context, orderID id.OrderID) (*order.Order, error) {
	m := new(orderModel)
	err := s.pg.NewSelect(m).
		Where("id = $1", orderID.String()).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, redeem.ErrOrderNotFound
		}
		return nil, err
	}
	return fromOrderModel(m)
}

func (s *Store) GetOrderByChargeRef(ctx context.Context, chargeRef string) (*order.Order, error) {
	if chargeRef == "" {
		return nil, redeem.ErrOrderNotFound
	}
	m := new(orderModel)
	err := s.pg.NewSelect(m).
		Where("charge_reference = $1", chargeRef).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, redeem.ErrOrderNotFound
		}
		return nil, err
	}
	return fromOrderModel(m)
}

func (s *Store) ListOrders(ctx context.Context, opts order.ListOpts) ([]*order.Order, error) {
	var models []orderModel
	q := s.pg.NewSelect(&models)

	argIdx := 0
	if opts.Status != "" {
		argIdx++
		q = q.Where(fmt.Sprintf("status = $%d", argIdx), string(opts.Status))
	}
	if opts.CustomerID != "" {
		argIdx++
		q = q.Where(fmt.Sprintf("customer_id = $%d", argIdx), opts.CustomerID)
	}
	if opts.WithChargeRef {
		q = q.Where("charge_reference <> ''")
	}
	if !opts.CreatedBefore.IsZero() {
		argIdx++
		q = q.Where(fmt.Sprintf("created_at < $%d", argIdx), opts.CreatedBefore.UTC())
	}
	if opts.NeedsReview {
		q = q.Where("needs_review")
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.OrderExpr("created_at ASC, id ASC")

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}

	result := make([]*order.Order, len(models))
	for i := range models {
		o, err := fromOrderModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = o
	}
	return result, nil
}

// ==================== Session Store ====================

func (s *Store) SaveSession(ctx context.Context, sess *session.Session) error {
	expected := sess.Version
	m := toSessionModel(sess)
	m.Version = expected + 1
	m.UpdatedAt = now()

	if expected == 0 {
		res, err := s.pg.NewInsert(m).
			OnConflict("(customer_id) DO NOTHING").
			Exec(ctx)
		if err != nil {
			return err
		}
		rows, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if rows == 0 {
			return redeem.ErrVersionConflict
		}
		sess.Version = m.Version
		return nil
	}

	extra, err := json.Marshal(m.Extra)
	if err != nil {
		return err
	}

	cols := []column{
		{"state", m.State},
		{"current_order_id", m.CurrentOrderID},
		{"credit_order_id", m.CreditOrderID},
		{"available_credit", m.CreditAmount},
		{"credit_currency", m.CreditCurrency},
		{"extra", string(extra)},
		{"silence_until", m.SilenceUntil},
		{"needs_review", m.NeedsReview},
		{"review_reason", m.ReviewReason},
		{"version", m.Version},
		{"updated_at", m.UpdatedAt},
	}

	q := s.pg.NewUpdate((*sessionModel)(nil))
	for i, c := range cols {
		q = q.Set(fmt.Sprintf("%s = $%d", c.name, i+1), c.value)
	}
	n := len(cols)
	res, err := q.
		Where(fmt.Sprintf("customer_id = $%d", n+1), m.CustomerID).
		Where(fmt.Sprintf("version = $%d", n+2), expected).
		Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		if _, getErr := s.GetSession(ctx, sess.CustomerID); getErr != nil {
			return getErr
		}
		return redeem.ErrVersionConflict
	}
	sess.Version = m.Version
	return nil
}

func (s *Store) GetSession(ctx context.Context, customerID string) (*session.Session, error) {
	m := new(sessionModel)
	err := s.pg.NewSelect(m).
		Where("customer_id = $1", customerID).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, redeem.ErrSessionNotFound
		}
		return nil, err
	}
	return fromSessionModel(m)
}

func (s *Store) ListSessions(ctx context.Context, opts session.ListOpts) ([]*session.Session, error) {
	var models []sessionModel
	q := s.pg.NewSelect(&models)

	if opts.State != "" {
		q = q.Where("state = $1", string(opts.State))
	}
	if opts.NeedsReview {
		q = q.Where("needs_review")
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.OrderExpr("customer_id ASC")

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}

	result := make([]*session.Session, len(models))
	for i := range models {
		sess, err := fromSessionModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = sess
	}
	return result, nil
}

// ==================== Catalog Store ====================

func (s *Store) SaveProduct(ctx context.Context, p *catalog.Product) error {
	m := toProductModel(p)
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now()
	}
	m.UpdatedAt = now()
	_, err := s.pg.NewInsert(m).
		OnConflict("(id) DO UPDATE").
		Set("name = EXCLUDED.name").
		Set("price_amount = EXCLUDED.price_amount").
		Set("price_currency = EXCLUDED.price_currency").
		Set("activation_module_id = EXCLUDED.activation_module_id").
		Set("active = EXCLUDED.active").
		Set("metadata = EXCLUDED.metadata").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	return err
}

func (s *Store) GetProduct(ctx context.Context, productID id.ProductID) (*catalog.Product, error) {
	m := new(productModel)
	err := s.pg.NewSelect(m).
		Where("id = $1", productID.String()).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, redeem.ErrProductNotFound
		}
		return nil, err
	}
	return fromProductModel(m)
}

func (s *Store) ListProducts(ctx context.Context, opts catalog.ListOpts) ([]*catalog.Product, error) {
	var models []productModel
	q := s.pg.NewSelect(&models)

	if opts.ActiveOnly {
		q = q.Where("active")
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.OrderExpr("name ASC")

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}

	result := make([]*catalog.Product, len(models))
	for i := range models {
		p, err := fromProductModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = p
	}
	return result, nil
}

// ==================== Helpers ====================

func now() time.Time {
	return time.Now().UTC()
}

// isNoRows checks for the standard sql.ErrNoRows sentinel.
func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
