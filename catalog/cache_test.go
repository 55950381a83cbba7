package catalog_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/xraph/redeem/catalog"
	"github.com/xraph/redeem/id"
	"github.com/xraph/redeem/types"
)

var errMissing = errors.New("missing")

type countingStore struct {
	mu       sync.Mutex
	products map[string]catalog.Product
	gets     int
}

func newCountingStore() *countingStore {
	return &countingStore{products: make(map[string]catalog.Product)}
}

func (s *countingStore) SaveProduct(_ context.Context, p *catalog.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[p.ID.String()] = *p
	return nil
}

func (s *countingStore) GetProduct(_ context.Context, productID id.ProductID) (*catalog.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gets++
	p, ok := s.products[productID.String()]
	if !ok {
		return nil, errMissing
	}
	return &p, nil
}

func (s *countingStore) ListProducts(context.Context, catalog.ListOpts) ([]*catalog.Product, error) {
	return nil, nil
}

func TestCacheReadThrough(t *testing.T) {
	ctx := context.Background()
	st := newCountingStore()
	c := catalog.NewCache(st, time.Minute)

	p := &catalog.Product{ID: id.NewProductID(), Name: "P1", Price: types.BRL(1000), Active: true}
	if err := c.Save(ctx, p); err != nil {
		t.Fatalf("save: %v", err)
	}

	for i := 0; i < 3; i++ {
		got, err := c.Get(ctx, p.ID)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if got.Name != "P1" {
			t.Errorf("name = %q", got.Name)
		}
	}
	if st.gets != 1 {
		t.Errorf("store hits = %d, want 1", st.gets)
	}
}

func TestCacheSaveInvalidates(t *testing.T) {
	ctx := context.Background()
	st := newCountingStore()
	c := catalog.NewCache(st, time.Minute)

	p := &catalog.Product{ID: id.NewProductID(), Name: "old", Price: types.BRL(1000)}
	_ = c.Save(ctx, p)
	if _, err := c.Get(ctx, p.ID); err != nil {
		t.Fatal(err)
	}

	p.Name = "new"
	if err := c.Save(ctx, p); err != nil {
		t.Fatal(err)
	}

	got, err := c.Get(ctx, p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Name != "new" {
		t.Errorf("stale read after save: %q", got.Name)
	}
}

func TestCacheExpiry(t *testing.T) {
	ctx := context.Background()
	st := newCountingStore()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := catalog.NewCache(st, time.Minute).WithClock(func() time.Time { return now })

	p := &catalog.Product{ID: id.NewProductID(), Name: "P1"}
	_ = st.SaveProduct(ctx, p)

	_, _ = c.Get(ctx, p.ID)
	_, _ = c.Get(ctx, p.ID)
	if st.gets != 1 {
		t.Fatalf("store hits = %d, want 1", st.gets)
	}

	now = now.Add(2 * time.Minute)
	_, _ = c.Get(ctx, p.ID)
	if st.gets != 2 {
		t.Errorf("store hits after expiry = %d, want 2", st.gets)
	}
}

func TestCacheMissPropagatesError(t *testing.T) {
	c := catalog.NewCache(newCountingStore(), time.Minute)
	if _, err := c.Get(context.Background(), id.NewProductID()); !errors.Is(err, errMissing) {
		t.Errorf("expected store error, got %v", err)
	}
	if c.Len() != 0 {
		t.Error("misses must not be cached")
	}
}

func TestCacheReturnsCopies(t *testing.T) {
	ctx := context.Background()
	c := catalog.NewCache(newCountingStore(), 0)
	p := &catalog.Product{ID: id.NewProductID(), Name: "P1"}
	_ = c.Save(ctx, p)

	got, _ := c.Get(ctx, p.ID)
	got.Name = "mutated"

	again, _ := c.Get(ctx, p.ID)
	if again.Name != "P1" {
		t.Error("cache handed out a shared pointer")
	}

	c.InvalidateAll()
	if c.Len() != 0 {
		t.Error("InvalidateAll left entries")
	}
}
