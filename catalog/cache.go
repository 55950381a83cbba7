package catalog

import (
	"context"
	"sync"
	"time"

	"github.com/xraph/redeem/id"
)

// Cache is a read-through cache over a product Store. Every catalog write
// must go through Save (or be followed by Invalidate) so readers never see
// a product the store no longer holds.
type Cache struct {
	store Store
	ttl   time.Duration
	now   func() time.Time

	mu      sync.RWMutex
	entries map[string]cacheEntry
}

type cacheEntry struct {
	product   Product
	expiresAt time.Time
}

// NewCache wraps s with a cache whose entries live for ttl. A non-positive
// ttl keeps entries until they are invalidated.
func NewCache(s Store, ttl time.Duration) *Cache {
	return &Cache{
		store:   s,
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]cacheEntry),
	}
}

// WithClock replaces the cache's time source.
func (c *Cache) WithClock(now func() time.Time) *Cache {
	c.now = now
	return c
}

// Get returns the product, loading it from the store on a miss. The result
// is a copy owned by the caller.
func (c *Cache) Get(ctx context.Context, productID id.ProductID) (*Product, error) {
	key := productID.String()

	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()

	if ok && (c.ttl <= 0 || c.now().Before(e.expiresAt)) {
		p := e.product
		return &p, nil
	}

	p, err := c.store.GetProduct(ctx, productID)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.entries[key] = cacheEntry{product: *p, expiresAt: c.now().Add(c.ttl)}
	c.mu.Unlock()

	out := *p
	return &out, nil
}

// Save writes p through to the store and invalidates its entry.
func (c *Cache) Save(ctx context.Context, p *Product) error {
	if err := c.store.SaveProduct(ctx, p); err != nil {
		return err
	}
	c.Invalidate(p.ID)
	return nil
}

// Invalidate drops a single product from the cache.
func (c *Cache) Invalidate(productID id.ProductID) {
	c.mu.Lock()
	delete(c.entries, productID.String())
	c.mu.Unlock()
}

// InvalidateAll empties the cache.
func (c *Cache) InvalidateAll() {
	c.mu.Lock()
	c.entries = make(map[string]cacheEntry)
	c.mu.Unlock()
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
