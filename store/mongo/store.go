package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/mongodriver"

	"github.com/xraph/redeem"
	"github.com/xraph/redeem/catalog"
	"github.com/xraph/redeem/id"
	"github.com/xraph/redeem/order"
	"github.com/xraph/redeem/session"
	redeemstore "github.com/xraph/redeem/store"
)

// Collection name constants.
const (
	colOrders   = "redeem_orders"
	colSessions = "redeem_sessions"
	colProducts = "redeem_products"
)

// compile-time interface check
var _ redeemstore.Store = (*Store)(nil)

// Store implements store.Store using MongoDB via Grove ORM.
type Store struct {
	db  *grove.DB
	mdb *mongodriver.MongoDB
}

// New creates a new MongoDB store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db:  db,
		mdb: mongodriver.Unwrap(db),
	}
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates indexes for all redeem collections.
func (s *Store) Migrate(ctx context.Context) error {
	indexes := migrationIndexes()

	for col, models := range indexes {
		if len(models) == 0 {
			continue
		}
		_, err := s.mdb.Collection(col).Indexes().CreateMany(ctx, models)
		if err != nil {
			return fmt.Errorf("redeem/mongo: migrate %s indexes: %w", col, err)
		}
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

// ==================== Order Store ====================

// SaveOrder inserts when Version is zero, otherwise updates the document
// only if {_id, version} still matches.
func (s *Store) SaveOrder(ctx context.Context, o *order.Order) error {
	expected := o.Version
	m := toOrderModel(o)
	m.Version = expected + 1
	m.UpdatedAt = now()

	if expected == 0 {
		if _, err := s.mdb.NewInsert(m).Exec(ctx); err != nil {
			if mongo.IsDuplicateKeyError(err) {
				return redeem.ErrAlreadyExists
			}
			return fmt.Errorf("redeem/mongo: insert order: %w", err)
		}
		o.Version = m.Version
		return nil
	}

	res, err := s.mdb.NewUpdate(m).
		Filter(bson.M{"_id": m.ID, "version": expected}).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("redeem/mongo: update order: %w", err)
	}
	if res.MatchedCount() == 0 {
		if _, getErr := s.GetOrder(ctx, o.ID); getErr != nil {
			return getErr
		}
		return redeem.ErrVersionConflict
	}
	o.Version = m.Version
	return nil
}

func (s *Store) GetOrder(ctx context.Context, orderID id.OrderID) (*order.Order, error) {
	var m orderModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": orderID.String()}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, redeem.ErrOrderNotFound
		}
		return nil, fmt.Errorf("redeem/mongo: get order: %w", err)
	}
	return fromOrderModel(&m)
}

func (s *Store) GetOrderByChargeRef(ctx context.Context, chargeRef string) (*order.Order, error) {
	if chargeRef == "" {
		return nil, redeem.ErrOrderNotFound
	}
	var m orderModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"charge_reference": chargeRef}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, redeem.ErrOrderNotFound
		}
		return nil, fmt.Errorf("redeem/mongo: get order by charge: %w", err)
	}
	return fromOrderModel(&m)
}

func (s *Store) ListOrders(ctx context.Context, opts order.ListOpts) ([]*order.Order, error) {
	var models []orderModel

	filter := bson.M{}
	if opts.Status != "" {
		filter["status"] = string(opts.Status)
	}
	if opts.CustomerID != "" {
		filter["customer_id"] = opts.CustomerID
	}
	if opts.WithChargeRef {
		filter["charge_reference"] = bson.M{"$ne": ""}
	}
	if !opts.CreatedBefore.IsZero() {
		filter["created_at"] = bson.M{"$lt": opts.CreatedBefore.UTC()}
	}
	if opts.NeedsReview {
		filter["needs_review"] = true
	}

	q := s.mdb.NewFind(&models).
		Filter(filter).
		Sort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}})

	if opts.Limit > 0 {
		q = q.Limit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		q = q.Skip(int64(opts.Offset))
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("redeem/mongo: list orders: %w", err)
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
		if _, err := s.mdb.NewInsert(m).Exec(ctx); err != nil {
			if mongo.IsDuplicateKeyError(err) {
				return redeem.ErrVersionConflict
			}
			return fmt.Errorf("redeem/mongo: insert session: %w", err)
		}
		sess.Version = m.Version
		return nil
	}

	res, err := s.mdb.NewUpdate(m).
		Filter(bson.M{"_id": m.CustomerID, "version": expected}).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("redeem/mongo: update session: %w", err)
	}
	if res.MatchedCount() == 0 {
		if _, getErr := s.GetSession(ctx, sess.CustomerID); getErr != nil {
			return getErr
		}
		return redeem.ErrVersionConflict
	}
	sess.Version = m.Version
	return nil
}

func (s *Store) GetSession(ctx context.Context, customerID string) (*session.Session, error) {
	var m sessionModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": customerID}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, redeem.ErrSessionNotFound
		}
		return nil, fmt.Errorf("redeem/mongo: get session: %w", err)
	}
	return fromSessionModel(&m)
}

func (s *Store) ListSessions(ctx context.Context, opts session.ListOpts) ([]*session.Session, error) {
	var models []sessionModel

	filter := bson.M{}
	if opts.State != "" {
		filter["state"] = string(opts.State)
	}
	if opts.NeedsReview {
		filter["needs_review"] = true
	}

	q := s.mdb.NewFind(&models).
		Filter(filter).
		Sort(bson.D{{Key: "_id", Value: 1}})

	if opts.Limit > 0 {
		q = q.Limit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		q = q.Skip(int64(opts.Offset))
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("redeem/mongo: list sessions: %w", err)
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
	t := now()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = t
	}

	_, err := s.mdb.NewUpdate(m).
		Filter(bson.M{"_id": m.ID}).
		SetUpdate(bson.M{
			"$set": bson.M{
				"name":                 m.Name,
				"price_amount":         m.PriceAmount,
				"price_currency":       m.PriceCurrency,
				"activation_module_id": m.ActivationModuleID,
				"active":               m.Active,
				"metadata":             m.Metadata,
				"updated_at":           t,
			},
			"$setOnInsert": bson.M{"created_at": m.CreatedAt},
		}).
		Upsert().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("redeem/mongo: save product: %w", err)
	}
	return nil
}

func (s *Store) GetProduct(ctx context.Context, productID id.ProductID) (*catalog.Product, error) {
	var m productModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": productID.String()}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, redeem.ErrProductNotFound
		}
		return nil, fmt.Errorf("redeem/mongo: get product: %w", err)
	}
	return fromProductModel(&m)
}

func (s *Store) ListProducts(ctx context.Context, opts catalog.ListOpts) ([]*catalog.Product, error) {
	var models []productModel

	filter := bson.M{}
	if opts.ActiveOnly {
		filter["active"] = true
	}

	q := s.mdb.NewFind(&models).
		Filter(filter).
		Sort(bson.D{{Key: "name", Value: 1}})

	if opts.Limit > 0 {
		q = q.Limit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		q = q.Skip(int64(opts.Offset))
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("redeem/mongo: list products: %w", err)
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

func isNoDocuments(err error) bool {
	return errors.Is(err, mongo.ErrNoDocuments)
}

// migrationIndexes returns the index definitions for all redeem collections.
func migrationIndexes() map[string][]mongo.IndexModel {
	return map[string][]mongo.IndexModel{
		colOrders: {
			{Keys: bson.D{{Key: "status", Value: 1}, {Key: "created_at", Value: 1}}},
			{Keys: bson.D{{Key: "customer_id", Value: 1}, {Key: "created_at", Value: 1}}},
			{
				Keys: bson.D{{Key: "charge_reference", Value: 1}},
				Options: options.Index().
					SetUnique(true).
					SetPartialFilterExpression(bson.M{"charge_reference": bson.M{"$gt": ""}}),
			},
		},
		colSessions: {
			{Keys: bson.D{{Key: "state", Value: 1}}},
			{Keys: bson.D{{Key: "needs_review", Value: 1}}},
		},
		colProducts: {
			{Keys: bson.D{{Key: "active", Value: 1}, {Key: "name", Value: 1}}},
		},
	}
}
