package definition

import (
	"context"
	"errors"
	"sync"
	"time"

	differential "github.com/differentialhq/differential-sub000"
)

// Cache is a read-through cache over a definition Store. Entries are
// served for the configured TTL without consulting the store, including
// negative entries for owners with no document; admission tolerates
// that staleness.
type Cache struct {
	store Store
	ttl   time.Duration
	now   func() time.Time

	mu      sync.RWMutex
	entries map[string]cacheEntry
}

type cacheEntry struct {
	doc       *Document
	fetchedAt time.Time
}

// CacheOption configures a Cache.
type CacheOption func(*Cache)

// WithTTL sets the freshness window for cached documents.
func WithTTL(ttl time.Duration) CacheOption {
	return func(c *Cache) { c.ttl = ttl }
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) CacheOption {
	return func(c *Cache) { c.now = now }
}

// NewCache creates a read-through cache with a 5 second default TTL.
func NewCache(store Store, opts ...CacheOption) *Cache {
	c := &Cache{
		store:   store,
		ttl:     5 * time.Second,
		now:     time.Now,
		entries: make(map[string]cacheEntry),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the definition document for an owner, fetching through to
// the store on a miss or an expired entry. Owners with no stored
// document get an empty Document so policy resolution falls back to
// engine defaults.
func (c *Cache) Get(ctx context.Context, ownerHash string) (*Document, error) {
	c.mu.RLock()
	entry, ok := c.entries[ownerHash]
	c.mu.RUnlock()

	if ok && c.now().Sub(entry.fetchedAt) < c.ttl {
		return entry.doc, nil
	}

	doc, err := c.store.GetDefinition(ctx, ownerHash)
	if err != nil {
		if !errors.Is(err, differential.ErrDefinitionNotFound) {
			return nil, err
		}
		doc = &Document{OwnerHash: ownerHash}
	}

	c.mu.Lock()
	c.entries[ownerHash] = cacheEntry{doc: doc, fetchedAt: c.now()}
	c.mu.Unlock()

	return doc, nil
}

// Invalidate drops the cached entry for an owner, forcing the next Get
// to hit the store.
func (c *Cache) Invalidate(ownerHash string) {
	c.mu.Lock()
	delete(c.entries, ownerHash)
	c.mu.Unlock()
}
