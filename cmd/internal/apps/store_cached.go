package apps

import (
	"context"
	"errors"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// cacheEntries bounds each of the key and id caches.
const cacheEntries = 1024

// CachedStore memoizes lookups of an underlying Store for a fixed TTL.
// Misses (ErrAppNotFound) are cached too so unknown keys cannot hammer the backend.
// Both caches are size-bounded LRUs whose entries expire after the TTL.
type CachedStore struct {
	next Store
	ttl  time.Duration
	now  func() time.Time

	byKey *expirable.LRU[string, cacheEntry]
	byID  *expirable.LRU[string, cacheEntry]
}

type cacheEntry struct {
	app     App
	err     error
	expires time.Time
}

// NewCachedStore wraps next. A ttl <= 0 disables caching and returns next unchanged.
func NewCachedStore(next Store, ttl time.Duration) Store {
	if ttl <= 0 || next == nil {
		return next
	}
	return &CachedStore{
		next:  next,
		ttl:   ttl,
		now:   time.Now,
		byKey: expirable.NewLRU[string, cacheEntry](cacheEntries, nil, ttl),
		byID:  expirable.NewLRU[string, cacheEntry](cacheEntries, nil, ttl),
	}
}

// FindByKey returns a cached app by key, refreshing it after the TTL.
func (c *CachedStore) FindByKey(ctx context.Context, key string) (App, error) {
	return c.lookup(ctx, c.byKey, key, c.next.FindByKey)
}

// FindByID returns a cached app by id, refreshing it after the TTL.
func (c *CachedStore) FindByID(ctx context.Context, id string) (App, error) {
	return c.lookup(ctx, c.byID, id, c.next.FindByID)
}

func (c *CachedStore) lookup(
	ctx context.Context,
	m *expirable.LRU[string, cacheEntry],
	k string,
	load func(context.Context, string) (App, error),
) (App, error) {
	now := c.now()

	if e, ok := m.Get(k); ok && now.Before(e.expires) {
		return e.app.clone(), e.err
	}

	a, err := load(ctx, k)
	if err != nil && !errors.Is(err, ErrAppNotFound) {
		// Transient failures are not cached.
		return App{}, err
	}

	m.Add(k, cacheEntry{app: a, err: err, expires: now.Add(c.ttl)})
	return a.clone(), err
}

// Invalidate drops every cached entry.
func (c *CachedStore) Invalidate() {
	c.byKey.Purge()
	c.byID.Purge()
}
