// Package bolt provides a single-file Store backed by BoltDB.
//
// Every record is stored as JSON under its id. Versioned saves read, compare
// and write inside one db.Update transaction; bolt serializes writers, so the
// version check and the put cannot interleave with another save.
package bolt

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/xraph/redeem"
	"github.com/xraph/redeem/catalog"
	"github.com/xraph/redeem/id"
	"github.com/xraph/redeem/order"
	"github.com/xraph/redeem/session"
	"github.com/xraph/redeem/store"
)

var (
	bucketOrders     = []byte("orders")
	bucketChargeRefs = []byte("order_charge_refs")
	bucketSessions   = []byte("sessions")
	bucketProducts   = []byte("products")
)

var allBuckets = [][]byte{bucketOrders, bucketChargeRefs, bucketSessions, bucketProducts}

// compile-time interface check
var _ store.Store = (*Store)(nil)

// Store wraps a BoltDB database.
type Store struct {
	db *bolt.DB
}

// Open opens (or creates) a BoltDB file at path and ensures every bucket exists.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("redeem/bolt: open %s: %w", path, err)
	}

	s := &Store{db: db}
	if err := s.Migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Migrate creates the buckets if they do not exist yet.
func (s *Store) Migrate(_ context.Context) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		for _, name := range allBuckets {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redeem/bolt: %w: %w", redeem.ErrMigrationFailed, err)
	}
	return nil
}

// Ping reports whether the database file is still open.
func (s *Store) Ping(_ context.Context) error {
	return s.db.View(func(tx *bolt.Tx) error {
		if tx.Bucket(bucketOrders) == nil {
			return redeem.ErrStoreNotReady
		}
		return nil
	})
}

// Close releases the database file lock.
func (s *Store) Close() error {
	return s.db.Close()
}

// ==================== Order Store ====================

func (s *Store) SaveOrder(_ context.Context, o *order.Order) error {
	key := []byte(o.ID.String())
	expected := o.Version

	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketOrders)
		raw := b.Get(key)

		switch {
		case expected == 0 && raw != nil:
			return redeem.ErrAlreadyExists
		case expected != 0 && raw == nil:
			return redeem.ErrOrderNotFound
		case raw != nil:
			var current order.Order
			if err := json.Unmarshal(raw, &current); err != nil {
				return err
			}
			if current.Version != expected {
				return redeem.ErrVersionConflict
			}
			if current.ChargeReference != "" && current.ChargeReference != o.ChargeReference {
				if err := tx.Bucket(bucketChargeRefs).Delete([]byte(current.ChargeReference)); err != nil {
					return err
				}
			}
		}

		next := o.Clone()
		next.Version = expected + 1
		data, err := json.Marshal(next)
		if err != nil {
			return err
		}
		if err := b.Put(key, data); err != nil {
			return err
		}
		if o.ChargeReference != "" {
			return tx.Bucket(bucketChargeRefs).Put([]byte(o.ChargeReference), key)
		}
		return nil
	})
	if err != nil {
		return err
	}

	o.Version = expected + 1
	return nil
}

func (s *Store) GetOrder(_ context.Context, orderID id.OrderID) (*order.Order, error) {
	var o order.Order
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketOrders).Get([]byte(orderID.String()))
		if raw == nil {
			return redeem.ErrOrderNotFound
		}
		return json.Unmarshal(raw, &o)
	})
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (s *Store) GetOrderByChargeRef(_ context.Context, chargeRef string) (*order.Order, error) {
	if chargeRef == "" {
		return nil, redeem.ErrOrderNotFound
	}

	var o order.Order
	err := s.db.View(func(tx *bolt.Tx) error {
		key := tx.Bucket(bucketChargeRefs).Get([]byte(chargeRef))
		if key == nil {
			return redeem.ErrOrderNotFound
		}
		raw := tx.Bucket(bucketOrders).Get(key)
		if raw == nil {
			return redeem.ErrOrderNotFound
		}
		return json.Unmarshal(raw, &o)
	})
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (s *Store) ListOrders(_ context.Context, opts order.ListOpts) ([]*order.Order, error) {
	result := make([]*order.Order, 0)

	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketOrders).ForEach(func(_, v []byte) error {
			var o order.Order
			if err := json.Unmarshal(v, &o); err != nil {
				return err
			}
			if opts.Match(&o) {
				result = append(result, &o)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID.String() < result[j].ID.String()
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return page(result, opts.Offset, opts.Limit), nil
}

// ==================== Session Store ====================

func (s *Store) SaveSession(_ context.Context, sess *session.Session) error {
	key := []byte(sess.CustomerID)
	expected := sess.Version

	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSessions)
		raw := b.Get(key)

		switch {
		case expected == 0 && raw != nil:
			return redeem.ErrVersionConflict
		case expected != 0 && raw == nil:
			return redeem.ErrSessionNotFound
		case raw != nil:
			var current session.Session
			if err := json.Unmarshal(raw, &current); err != nil {
				return err
			}
			if current.Version != expected {
				return redeem.ErrVersionConflict
			}
		}

		next := sess.Clone()
		next.Version = expected + 1
		data, err := json.Marshal(next)
		if err != nil {
			return err
		}
		return b.Put(key, data)
	})
	if err != nil {
		return err
	}

	sess.Version = expected + 1
	return nil
}

func (s *Store) GetSession(_ context.Context, customerID string) (*session.Session, error) {
	var sess session.Session
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketSessions).Get([]byte(customerID))
		if raw == nil {
			return redeem.ErrSessionNotFound
		}
		return json.Unmarshal(raw, &sess)
	})
	if err != nil {
		return nil, err
	}
	if sess.Extra == nil {
		sess.Extra = map[string]string{}
	}
	return &sess, nil
}

func (s *Store) ListSessions(_ context.Context, opts session.ListOpts) ([]*session.Session, error) {
	result := make([]*session.Session, 0)

	// Bolt iterates keys in byte order, which is already customer id order.
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSessions).ForEach(func(_, v []byte) error {
			var sess session.Session
			if err := json.Unmarshal(v, &sess); err != nil {
				return err
			}
			if sess.Extra == nil {
				sess.Extra = map[string]string{}
			}
			if opts.Match(&sess) {
				result = append(result, &sess)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return page(result, opts.Offset, opts.Limit), nil
}

// ==================== Catalog Store ====================

func (s *Store) SaveProduct(_ context.Context, p *catalog.Product) error {
	data, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketProducts).Put([]byte(p.ID.String()), data)
	})
}

func (s *Store) GetProduct(_ context.Context, productID id.ProductID) (*catalog.Product, error) {
	var p catalog.Product
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketProducts).Get([]byte(productID.String()))
		if raw == nil {
			return redeem.ErrProductNotFound
		}
		return json.Unmarshal(raw, &p)
	})
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Store) ListProducts(_ context.Context, opts catalog.ListOpts) ([]*catalog.Product, error) {
	result := make([]*catalog.Product, 0)

	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketProducts).ForEach(func(_, v []byte) error {
			var p catalog.Product
			if err := json.Unmarshal(v, &p); err != nil {
				return err
			}
			if opts.ActiveOnly && !p.Active {
				return nil
			}
			result = append(result, &p)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return page(result, opts.Offset, opts.Limit), nil
}

func page[T any](items []T, offset, limit int) []T {
	start := min(offset, len(items))
	end := len(items)
	if limit > 0 && start+limit < end {
		end = start + limit
	}
	return items[start:end]
}
