package gameobject

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// loadTimeout bounds a shared load once it no longer follows any caller's context.
const loadTimeout = 30 * time.Second

// Entity is a cacheable game object. Records satisfy it by embedding.
type Entity interface {
	ID() string
	Dirty() bool
	Flush(ctx context.Context) error
	Delete(ctx context.Context) error
}

// CacheOptions configures a Cache for one entity type.
type CacheOptions[E Entity] struct {
	// Name labels timers and logs; normally the collection name.
	Name string
	// Timeout is the idle time after which an entry is evicted.
	Timeout time.Duration
	// Load reads and constructs the entity. A missing id must fail with NOT_FOUND.
	Load func(ctx context.Context, id string) (E, error)
	// AfterLoad runs once per constructed instance before it becomes visible.
	AfterLoad func(ctx context.Context, e E) error
	Timers    Timers
	Logger    *zap.Logger
}

// CacheStats is a point-in-time view of cache activity.
type CacheStats struct {
	Name        string `json:"name"`
	Entries     int    `json:"entries"`
	Hits        uint64 `json:"hits"`
	Misses      uint64 `json:"misses"`
	Evictions   uint64 `json:"evictions"`
	FlushErrors uint64 `json:"flush_errors"`
}

type cacheEntry[E Entity] struct {
	value E
	// evicting is non-nil while the entry is being flushed for removal and
	// is closed when that finishes.
	evicting chan struct{}
}

// Cache holds live entities of one type. For any id it hands out at most one
// instance at a time; concurrent loads of the same id are collapsed.
type Cache[E Entity] struct {
	opts   CacheOptions[E]
	logger *zap.Logger

	mu      sync.Mutex
	entries map[string]*cacheEntry[E]
	group   singleflight.Group

	hits        atomic.Uint64
	misses      atomic.Uint64
	evictions   atomic.Uint64
	flushErrors atomic.Uint64
}

// NewCache creates an empty Cache.
func NewCache[E Entity](opts CacheOptions[E]) *Cache[E] {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache[E]{
		opts:    opts,
		logger:  logger.With(zap.String("cache", opts.Name)),
		entries: make(map[string]*cacheEntry[E]),
	}
}

// Name returns the cache label.
func (c *Cache[E]) Name() string { return c.opts.Name }

func (c *Cache[E]) timerName(id string) string {
	return "cache:" + c.opts.Name + ":" + id
}

// touch restarts the idle timer for id. Caller holds c.mu.
func (c *Cache[E]) touch(id string) {
	c.opts.Timers.AddDelay(c.timerName(id), c.opts.Timeout, func() { c.expire(id) })
}

func (c *Cache[E]) expire(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	err := c.Evict(ctx, id)
	switch {
	case err == nil:
		c.logger.Debug("idle entry evicted", zap.String("id", id))
	case IsCode(err, CodeContract):
	default:
		c.logger.Error("idle eviction failed", zap.String("id", id), zap.Error(err))
	}
}

// FetchByID returns the live instance for id, loading it on a miss. Every
// call restarts the entry's idle timer. A fetch racing an eviction waits for
// the eviction to finish and then reloads. Concurrent misses share one load,
// which is not cancelled when any single caller gives up.
func (c *Cache[E]) FetchByID(ctx context.Context, id string) (E, error) {
	var zero E
	if id == "" {
		return zero, &Error{Code: CodeNotFound, Op: "fetch", Collection: c.opts.Name, Err: errors.New("empty id")}
	}
	for {
		c.mu.Lock()
		if ent, ok := c.entries[id]; ok {
			if ent.evicting != nil {
				wait := ent.evicting
				c.mu.Unlock()
				select {
				case <-wait:
					continue
				case <-ctx.Done():
					return zero, ctx.Err()
				}
			}
			c.touch(id)
			c.mu.Unlock()
			c.hits.Add(1)
			return ent.value, nil
		}
		c.mu.Unlock()

		ch := c.group.DoChan(id, func() (any, error) {
			lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), loadTimeout)
			defer cancel()
			return c.load(lctx, id)
		})
		select {
		case res := <-ch:
			if res.Err != nil {
				return zero, res.Err
			}
			if res.Val == nil {
				continue
			}
			return res.Val.(E), nil
		case <-ctx.Done():
			return zero, ctx.Err()
		}
	}
}

// load runs inside the singleflight group. A nil result asks the caller to retry.
func (c *Cache[E]) load(ctx context.Context, id string) (any, error) {
	c.mu.Lock()
	if ent, ok := c.entries[id]; ok {
		defer c.mu.Unlock()
		if ent.evicting != nil {
			return nil, nil
		}
		c.touch(id)
		return ent.value, nil
	}
	c.mu.Unlock()

	c.misses.Add(1)
	e, err := c.opts.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.opts.AfterLoad != nil {
		if err := c.opts.AfterLoad(ctx, e); err != nil {
			return nil, err
		}
	}
	return c.insert(e), nil
}

// insert makes e the live instance unless one already exists. Returns the live instance.
func (c *Cache[E]) insert(e E) E {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ent, ok := c.entries[e.ID()]; ok && ent.evicting == nil {
		c.touch(e.ID())
		return ent.value
	}
	c.entries[e.ID()] = &cacheEntry[E]{value: e}
	c.touch(e.ID())
	return e
}

// Insert registers a freshly created entity, running AfterLoad first.
func (c *Cache[E]) Insert(ctx context.Context, e E) (E, error) {
	if c.opts.AfterLoad != nil {
		if err := c.opts.AfterLoad(ctx, e); err != nil {
			var zero E
			return zero, err
		}
	}
	return c.insert(e), nil
}

// Cached reports whether id currently has a live entry.
func (c *Cache[E]) Cached(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	ent, ok := c.entries[id]
	return ok && ent.evicting == nil
}

// FindMatching returns the first cached entity satisfying pred, in id order.
// Only live entries are scanned; persisted but unloaded records are invisible.
func (c *Cache[E]) FindMatching(pred func(E) bool) (E, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range c.idsLocked() {
		ent := c.entries[id]
		if ent.evicting == nil && pred(ent.value) {
			c.touch(id)
			return ent.value, true
		}
	}
	var zero E
	return zero, false
}

func (c *Cache[E]) idsLocked() []string {
	ids := make([]string, 0, len(c.entries))
	for id := range c.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// begin marks id as leaving the cache. Caller holds c.mu.
func (c *Cache[E]) begin(op, id string) (*cacheEntry[E], <-chan struct{}, error) {
	ent, ok := c.entries[id]
	if !ok {
		return nil, nil, &Error{Code: CodeContract, Op: op, Collection: c.opts.Name, ID: id, Err: errors.New("not cached")}
	}
	if ent.evicting != nil {
		return nil, ent.evicting, nil
	}
	ent.evicting = make(chan struct{})
	c.opts.Timers.Remove(c.timerName(id))
	return ent, nil, nil
}

// finish completes or rolls back a removal started by begin.
func (c *Cache[E]) finish(id string, ent *cacheEntry[E], removed bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if removed {
		delete(c.entries, id)
	} else {
		c.touch(id)
	}
	close(ent.evicting)
	ent.evicting = nil
}

// Evict flushes the entry's pending writes and removes it. Evicting an id
// that is not cached fails with CONTRACT. If the flush fails the entry stays
// cached with a fresh idle timer. When another removal is already running,
// Evict waits for it and retries if the entry survived.
func (c *Cache[E]) Evict(ctx context.Context, id string) error {
	waited := false
	for {
		c.mu.Lock()
		ent, wait, err := c.begin("evict", id)
		c.mu.Unlock()
		if err != nil {
			if waited && IsCode(err, CodeContract) {
				return nil
			}
			return err
		}
		if wait == nil {
			return c.evict(ctx, id, ent)
		}
		select {
		case <-wait:
			waited = true
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *Cache[E]) evict(ctx context.Context, id string, ent *cacheEntry[E]) error {
	err := ent.value.Flush(ctx)
	if err == nil && ent.value.Dirty() {
		// Changed while the first write was in flight.
		err = ent.value.Flush(ctx)
	}
	if err != nil {
		c.flushErrors.Add(1)
		c.finish(id, ent, false)
		return err
	}
	c.finish(id, ent, true)
	c.evictions.Add(1)
	return nil
}

// Delete removes the entity from the store and the cache, loading it first if needed.
func (c *Cache[E]) Delete(ctx context.Context, id string) error {
	for {
		if _, err := c.FetchByID(ctx, id); err != nil {
			return err
		}
		c.mu.Lock()
		ent, wait, err := c.begin("delete", id)
		c.mu.Unlock()
		if err != nil {
			return err
		}
		if wait != nil {
			select {
			case <-wait:
				continue
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if err := ent.value.Delete(ctx); err != nil {
			c.finish(id, ent, false)
			return err
		}
		c.finish(id, ent, true)
		return nil
	}
}

// DrainAll evicts every entry. It keeps going past failures and returns them combined.
func (c *Cache[E]) DrainAll(ctx context.Context) error {
	c.mu.Lock()
	ids := c.idsLocked()
	c.mu.Unlock()

	var errs error
	for _, id := range ids {
		if err := c.Evict(ctx, id); err != nil && !IsCode(err, CodeContract) {
			errs = multierr.Append(errs, err)
		}
	}
	if errs != nil {
		c.logger.Warn("cache drain incomplete", zap.Int("failed", len(multierr.Errors(errs))))
	}
	return errs
}

// Len returns the number of cached entries.
func (c *Cache[E]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats returns counters for admin and logging.
func (c *Cache[E]) Stats() CacheStats {
	return CacheStats{
		Name:        c.opts.Name,
		Entries:     c.Len(),
		Hits:        c.hits.Load(),
		Misses:      c.misses.Load(),
		Evictions:   c.evictions.Load(),
		FlushErrors: c.flushErrors.Load(),
	}
}
