// Package gameobject implements persisted, cached game entities: typed
// records with debounced writes, lazy references between entities, and an
// idle-evicting cache that keeps one live instance per id.
package gameobject

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/kasuganosora/beastiary/scheduler"
	"github.com/kasuganosora/beastiary/store"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Timers is the subset of the scheduler used for write and idle timers.
// Adding a delay under an existing name replaces it.
type Timers interface {
	AddDelay(name string, delay time.Duration, fn scheduler.TaskFn)
	Remove(name string)
}

// Collection binds a document type to its backing store collection.
type Collection[T any] struct {
	name       string
	store      store.Store
	timers     Timers
	writeDelay time.Duration
	logger     *zap.Logger

	// dirty holds every record with unpersisted changes, including ones no
	// longer reachable through a cache.
	dirtyMu sync.Mutex
	dirty   map[*Record[T]]struct{}
}

// NewCollection creates a Collection. writeDelay is the debounce ceiling for
// every record it produces.
func NewCollection[T any](name string, st store.Store, timers Timers, writeDelay time.Duration, logger *zap.Logger) *Collection[T] {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Collection[T]{
		name:       name,
		store:      st,
		timers:     timers,
		writeDelay: writeDelay,
		logger:     logger.With(zap.String("collection", name)),
		dirty:      make(map[*Record[T]]struct{}),
	}
}

// Name returns the collection name.
func (c *Collection[T]) Name() string { return c.name }

// Create persists initial immediately and returns a clean record.
func (c *Collection[T]) Create(ctx context.Context, initial T) (*Record[T], error) {
	fields, err := store.Encode(initial)
	if err != nil {
		return nil, &Error{Code: CodeInvalidValue, Op: "create", Collection: c.name, Err: err}
	}
	id, err := c.store.Insert(ctx, c.name, fields)
	if err != nil {
		return nil, storeError("create", c.name, "", err)
	}
	var data T
	if err := store.Decode(fields, &data); err != nil {
		return nil, &Error{Code: CodePersistence, Op: "create", Collection: c.name, ID: id, Err: err}
	}
	return c.newRecord(id, data), nil
}

// Load reads the record with id. A missing record fails with NOT_FOUND.
func (c *Collection[T]) Load(ctx context.Context, id string) (*Record[T], error) {
	if id == "" {
		return nil, &Error{Code: CodeNotFound, Op: "load", Collection: c.name, Err: errors.New("empty id")}
	}
	fields, err := c.store.FindByID(ctx, c.name, id)
	if err != nil {
		return nil, storeError("load", c.name, id, err)
	}
	var data T
	if err := store.Decode(fields, &data); err != nil {
		return nil, &Error{Code: CodePersistence, Op: "load", Collection: c.name, ID: id, Err: err}
	}
	return c.newRecord(id, data), nil
}

// FindIDs returns the ids of persisted records matching filter.
func (c *Collection[T]) FindIDs(ctx context.Context, filter store.Filter) ([]string, error) {
	recs, err := c.store.FindMany(ctx, c.name, filter)
	if err != nil {
		return nil, storeError("find", c.name, "", err)
	}
	ids := make([]string, len(recs))
	for i, r := range recs {
		ids[i] = r.ID
	}
	return ids, nil
}

func (c *Collection[T]) track(r *Record[T]) {
	c.dirtyMu.Lock()
	c.dirty[r] = struct{}{}
	c.dirtyMu.Unlock()
}

func (c *Collection[T]) untrack(r *Record[T]) {
	c.dirtyMu.Lock()
	delete(c.dirty, r)
	c.dirtyMu.Unlock()
}

// DirtyCount returns the number of records with unpersisted changes.
func (c *Collection[T]) DirtyCount() int {
	c.dirtyMu.Lock()
	defer c.dirtyMu.Unlock()
	return len(c.dirty)
}

// FlushAll flushes every record with unpersisted changes, whether or not a
// cache still holds it. Failures are combined; failed records stay dirty.
func (c *Collection[T]) FlushAll(ctx context.Context) error {
	c.dirtyMu.Lock()
	recs := make([]*Record[T], 0, len(c.dirty))
	for r := range c.dirty {
		recs = append(recs, r)
	}
	c.dirtyMu.Unlock()

	var errs error
	for _, r := range recs {
		if err := r.Flush(ctx); err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	return errs
}

func (c *Collection[T]) newRecord(id string, data T) *Record[T] {
	return &Record[T]{
		coll:   c,
		id:     id,
		data:   data,
		logger: c.logger.With(zap.String("id", id)),
	}
}

// Record is one persisted document held in memory. All field access goes
// through Field methods, View or Atomically, which serialize on the record's
// lock.
//
// Writes are debounced with a fixed ceiling: the first mutation after a clean
// state arms a timer for the collection's write delay, later mutations ride
// on that timer, and the flush persists whatever the record holds when it
// fires.
type Record[T any] struct {
	coll   *Collection[T]
	id     string
	logger *zap.Logger

	flushMu sync.Mutex // serializes Flush and Delete

	mu       sync.Mutex
	data     T
	dirty    bool
	gen      uint64 // bumped on every mutation
	armed    bool
	flushing bool
	deleted  bool
}

// ID returns the backend-assigned id.
func (r *Record[T]) ID() string { return r.id }

// CollectionName returns the collection the record belongs to.
func (r *Record[T]) CollectionName() string { return r.coll.name }

// Dirty reports whether the record holds unpersisted changes.
func (r *Record[T]) Dirty() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dirty
}

// Deleted reports whether Delete has completed.
func (r *Record[T]) Deleted() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.deleted
}

func (r *Record[T]) timerName() string {
	return "flush:" + r.coll.name + ":" + r.id
}

// arm schedules a flush unless one is pending or running. Caller holds r.mu.
func (r *Record[T]) arm() {
	if r.armed || r.flushing || r.deleted {
		return
	}
	r.armed = true
	r.coll.timers.AddDelay(r.timerName(), r.coll.writeDelay, r.fire)
}

// disarm cancels a pending flush timer. Caller holds r.mu.
func (r *Record[T]) disarm() {
	if r.armed {
		r.coll.timers.Remove(r.timerName())
		r.armed = false
	}
}

func (r *Record[T]) markDirty() {
	if !r.dirty {
		r.coll.track(r)
	}
	r.dirty = true
	r.gen++
	r.arm()
}

// clean clears the dirty flag. Caller holds r.mu.
func (r *Record[T]) clean() {
	r.dirty = false
	r.coll.untrack(r)
}

func (r *Record[T]) fire() {
	r.mu.Lock()
	r.armed = false
	r.mu.Unlock()
	if err := r.Flush(context.Background()); err != nil {
		r.logger.Error("debounced flush failed", zap.Error(err))
	}
}

// Flush persists a snapshot of every field in one write. A clean or deleted
// record issues no write. On failure the record stays dirty and the timer is
// re-armed. Mutations made while the write is in flight are picked up by a
// fresh timer.
func (r *Record[T]) Flush(ctx context.Context) error {
	r.flushMu.Lock()
	defer r.flushMu.Unlock()

	r.mu.Lock()
	if r.deleted || !r.dirty {
		r.mu.Unlock()
		return nil
	}
	r.disarm()
	fields, err := store.Encode(r.data)
	gen := r.gen
	r.flushing = true
	r.mu.Unlock()

	if err == nil {
		err = r.coll.store.UpdateFields(ctx, r.coll.name, r.id, fields)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.flushing = false
	if err != nil {
		r.arm()
		return &Error{Code: CodePersistence, Op: "flush", Collection: r.coll.name, ID: r.id, Err: err}
	}
	if r.gen == gen {
		r.clean()
	} else {
		r.arm()
	}
	r.logger.Debug("record flushed")
	return nil
}

// Delete removes the record from the store. It waits for an in-flight flush,
// cancels any pending one, and rejects every later mutation with CONTRACT.
func (r *Record[T]) Delete(ctx context.Context) error {
	r.flushMu.Lock()
	defer r.flushMu.Unlock()

	r.mu.Lock()
	if r.deleted {
		r.mu.Unlock()
		return &Error{Code: CodeContract, Op: "delete", Collection: r.coll.name, ID: r.id, Err: errors.New("already deleted")}
	}
	r.disarm()
	r.deleted = true
	r.mu.Unlock()

	err := r.coll.store.DeleteByID(ctx, r.coll.name, r.id)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		r.mu.Lock()
		r.deleted = false
		if r.dirty {
			r.arm()
		}
		r.mu.Unlock()
		return storeError("delete", r.coll.name, r.id, err)
	}

	r.mu.Lock()
	r.clean()
	r.mu.Unlock()
	if err != nil {
		return storeError("delete", r.coll.name, r.id, err)
	}
	return nil
}

// Snapshot returns a deep copy of the document.
func (r *Record[T]) Snapshot() T {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp, err := deepCopy(r.data)
	if err != nil {
		r.logger.Error("snapshot copy failed", zap.Error(err))
	}
	return cp
}

// annotate fills in the record's identity on a classified error. The error is
// copied so shared sentinels are never modified.
func (r *Record[T]) annotate(err error) error {
	e, ok := err.(*Error)
	if !ok || (e.Collection != "" && e.ID != "") {
		return err
	}
	cp := *e
	if cp.Collection == "" {
		cp.Collection = r.coll.name
	}
	if cp.ID == "" {
		cp.ID = r.id
	}
	return &cp
}

func (r *Record[T]) contractDeleted(op string) error {
	return &Error{Code: CodeContract, Op: op, Collection: r.coll.name, ID: r.id, Err: errors.New("record deleted")}
}

func (r *Record[T]) view(fn func(*T)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(&r.data)
}

func (r *Record[T]) apply(op string, fn func(*T) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.deleted {
		return r.contractDeleted(op)
	}
	if err := fn(&r.data); err != nil {
		return r.annotate(err)
	}
	r.markDirty()
	return nil
}

// Atomically runs fn against a working copy of the document while holding
// the record lock. The copy replaces the document only if fn succeeds, so a
// failed multi-field change leaves no partial state. fn must access fields
// through tx, never through r, and must not block on I/O.
func (r *Record[T]) Atomically(fn func(tx *Tx[T]) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.deleted {
		return r.contractDeleted("atomically")
	}
	work, err := deepCopy(r.data)
	if err != nil {
		return &Error{Code: CodeContract, Op: "atomically", Collection: r.coll.name, ID: r.id, Err: err}
	}
	tx := &Tx[T]{rec: r, data: &work}
	if err := fn(tx); err != nil {
		return r.annotate(err)
	}
	if tx.changed {
		r.data = work
		r.markDirty()
	}
	return nil
}

// Tx is the view of a record inside Atomically.
type Tx[T any] struct {
	rec     *Record[T]
	data    *T
	changed bool
}

// ID returns the id of the record being changed.
func (tx *Tx[T]) ID() string { return tx.rec.id }

func (tx *Tx[T]) view(fn func(*T)) { fn(tx.data) }

func (tx *Tx[T]) apply(_ string, fn func(*T) error) error {
	if err := fn(tx.data); err != nil {
		return tx.rec.annotate(err)
	}
	tx.changed = true
	return nil
}

// Doc is implemented by *Record and *Tx.
type Doc[T any] interface {
	view(fn func(*T))
	apply(op string, fn func(*T) error) error
}

// View runs fn over the document under the record lock. fn must not retain
// or modify t.
func (r *Record[T]) View(fn func(t *T)) { r.view(fn) }

// View runs fn over the working copy.
func (tx *Tx[T]) View(fn func(t *T)) { tx.view(fn) }

// Get returns a copy of the field's current value.
func (f Field[T, V]) Get(d Doc[T]) V {
	var out V
	d.view(func(t *T) { out = cloneValue(*f.Ref(t)) })
	return out
}

// Set validates v against the field's rules and stores it. On failure the
// field is unchanged and the error carries INVALID_VALUE.
func (f Field[T, V]) Set(d Doc[T], v V) error {
	if err := f.validate(v); err != nil {
		return err
	}
	return d.apply("set", func(t *T) error {
		*f.Ref(t) = cloneValue(v)
		return nil
	})
}

// Update replaces the field with fn(current) atomically. fn receives a copy;
// an error from fn or from validation leaves the field unchanged.
func (f Field[T, V]) Update(d Doc[T], fn func(V) (V, error)) error {
	return d.apply("update", func(t *T) error {
		next, err := fn(cloneValue(*f.Ref(t)))
		if err != nil {
			return err
		}
		if err := f.validate(next); err != nil {
			return err
		}
		*f.Ref(t) = next
		return nil
	})
}

// Delta returns an Update function adding n to a numeric field.
func Delta[V Number](n V) func(V) (V, error) {
	return func(v V) (V, error) { return v + n, nil }
}

func deepCopy[T any](v T) (T, error) {
	var out T
	raw, err := json.Marshal(v)
	if err != nil {
		return out, fmt.Errorf("copy: %w", err)
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("copy: %w", err)
	}
	return out, nil
}
