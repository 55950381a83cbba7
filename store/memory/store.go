// Package memory is an in-process Store backed by maps. Records are copied
// on the way in and out so callers never share state with the store.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/xraph/redeem"
	"github.com/xraph/redeem/catalog"
	"github.com/xraph/redeem/id"
	"github.com/xraph/redeem/order"
	"github.com/xraph/redeem/session"
	"github.com/xraph/redeem/store"
)

var _ store.Store = (*Store)(nil)

type Store struct {
	mu sync.RWMutex

	orders   map[string]*order.Order
	sessions map[string]*session.Session
	products map[string]*catalog.Product
	closed   bool
}

func New() *Store {
	return &Store{
		orders:   make(map[string]*order.Order),
		sessions: make(map[string]*session.Session),
		products: make(map[string]*catalog.Product),
	}
}

// Order Store implementation
func (s *Store) SaveOrder(_ context.Context, o *order.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return redeem.ErrStoreClosed
	}

	key := o.ID.String()
	existing, exists := s.orders[key]
	switch {
	case o.Version == 0 && exists:
		return redeem.ErrAlreadyExists
	case o.Version != 0 && !exists:
		return redeem.ErrOrderNotFound
	case exists && existing.Version != o.Version:
		return redeem.ErrVersionConflict
	}

	o.Version++
	s.orders[key] = o.Clone()
	return nil
}

func (s *Store) GetOrder(_ context.Context, orderID id.OrderID) (*order.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if o, ok := s.orders[orderID.String()]; ok {
		return o.Clone(), nil
	}
	return nil, redeem.ErrOrderNotFound
}

func (s *Store) GetOrderByChargeRef(_ context.Context, chargeRef string) (*order.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if chargeRef == "" {
		return nil, redeem.ErrOrderNotFound
	}
	for _, o := range s.orders {
		if o.ChargeReference == chargeRef {
			return o.Clone(), nil
		}
	}
	return nil, redeem.ErrOrderNotFound
}

func (s *Store) ListOrders(_ context.Context, opts order.ListOpts) ([]*order.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*order.Order, 0)
	for _, o := range s.orders {
		if opts.Match(o) {
			result = append(result, o.Clone())
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID.String() < result[j].ID.String()
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})

	return page(result, opts.Offset, opts.Limit), nil
}

// Session Store implementation
func (s *Store) SaveSession(_ context.Context, sess *session.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return redeem.ErrStoreClosed
	}

	existing, exists := s.sessions[sess.CustomerID]
	switch {
	case sess.Version == 0 && exists:
		return redeem.ErrVersionConflict
	case sess.Version != 0 && !exists:
		return redeem.ErrSessionNotFound
	case exists && existing.Version != sess.Version:
		return redeem.ErrVersionConflict
	}

	sess.Version++
	s.sessions[sess.CustomerID] = sess.Clone()
	return nil
}

func (s *Store) GetSession(_ context.Context, customerID string) (*session.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if sess, ok := s.sessions[customerID]; ok {
		return sess.Clone(), nil
	}
	return nil, redeem.ErrSessionNotFound
}

func (s *Store) ListSessions(_ context.Context, opts session.ListOpts) ([]*session.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*session.Session, 0)
	for _, sess := range s.sessions {
		if opts.Match(sess) {
			result = append(result, sess.Clone())
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CustomerID < result[j].CustomerID })

	return page(result, opts.Offset, opts.Limit), nil
}

// Catalog Store implementation
func (s *Store) SaveProduct(_ context.Context, p *catalog.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *p
	s.products[p.ID.String()] = &cp
	return nil
}

func (s *Store) GetProduct(_ context.Context, productID id.ProductID) (*catalog.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if p, ok := s.products[productID.String()]; ok {
		cp := *p
		return &cp, nil
	}
	return nil, redeem.ErrProductNotFound
}

func (s *Store) ListProducts(_ context.Context, opts catalog.ListOpts) ([]*catalog.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*catalog.Product, 0)
	for _, p := range s.products {
		if opts.ActiveOnly && !p.Active {
			continue
		}
		cp := *p
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })

	return page(result, opts.Offset, opts.Limit), nil
}

// Core methods
func (s *Store) Migrate(_ context.Context) error {
	return nil
}

func (s *Store) Ping(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return redeem.ErrStoreClosed
	}
	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func page[T any](items []T, offset, limit int) []T {
	start := offset
	if start > len(items) {
		start = len(items)
	}
	end := start + limit
	if limit == 0 || end > len(items) {
		end = len(items)
	}
	return items[start:end]
}
