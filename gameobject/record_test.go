package gameobject

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/kasuganosora/beastiary/scheduler"
	"github.com/kasuganosora/beastiary/store"
	"github.com/kasuganosora/beastiary/store/memstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func nop() *zap.Logger { l, _ := zap.NewDevelopment(); return l }

type petDoc struct {
	Name  string   `json:"name"`
	Level int      `json:"level"`
	Tags  []string `json:"tags"`
	Owner string   `json:"owner"`
}

var (
	petName = Field[petDoc, string]{
		Name:  "name",
		Ref:   func(d *petDoc) *string { return &d.Name },
		Rules: []Rule[string]{Forbid("*_`"), MaxRunes(12)},
	}
	petLevel = Field[petDoc, int]{
		Name:  "level",
		Ref:   func(d *petDoc) *int { return &d.Level },
		Rules: []Rule[int]{NonNegative[int]()},
	}
	petTags = Field[petDoc, []string]{
		Name:  "tags",
		Ref:   func(d *petDoc) *[]string { return &d.Tags },
		Rules: []Rule[[]string]{MaxLen[string](3), Unique[string]()},
	}
	petOwner = Field[petDoc, string]{
		Name: "owner",
		Ref:  func(d *petDoc) *string { return &d.Owner },
	}
)

// gatedStore blocks UpdateFields until the test releases it.
type gatedStore struct {
	*memstore.Store
	entered chan struct{}
	release chan struct{}
}

func newGatedStore() *gatedStore {
	return &gatedStore{
		Store:   memstore.New(),
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
}

func (g *gatedStore) UpdateFields(ctx context.Context, collection, id string, fields store.Fields) error {
	g.entered <- struct{}{}
	<-g.release
	return g.Store.UpdateFields(ctx, collection, id, fields)
}

type fixture struct {
	mem   *memstore.Store
	sched *scheduler.Scheduler
	pets  *Collection[petDoc]
}

func newFixture(t *testing.T, st store.Store, delay time.Duration) *fixture {
	t.Helper()
	sched := scheduler.New(nop())
	t.Cleanup(sched.Stop)
	f := &fixture{sched: sched}
	if st == nil {
		f.mem = memstore.New()
		st = f.mem
	}
	f.pets = NewCollection[petDoc]("pets", st, sched, delay, nop())
	return f
}

func (f *fixture) persisted(t *testing.T, id string) petDoc {
	t.Helper()
	fields, err := f.mem.FindByID(context.Background(), "pets", id)
	require.NoError(t, err)
	var d petDoc
	require.NoError(t, store.Decode(fields, &d))
	return d
}

func TestCreateAndLoad(t *testing.T) {
	f := newFixture(t, nil, time.Hour)
	ctx := context.Background()

	rec, err := f.pets.Create(ctx, petDoc{Name: "rex", Level: 2})
	require.NoError(t, err)
	require.NotEmpty(t, rec.ID())
	assert.False(t, rec.Dirty())

	loaded, err := f.pets.Load(ctx, rec.ID())
	require.NoError(t, err)
	assert.Equal(t, "rex", petName.Get(loaded))
	assert.Equal(t, 2, petLevel.Get(loaded))

	_, err = f.pets.Load(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestSet_NegativeRejectedAndUnchanged(t *testing.T) {
	f := newFixture(t, nil, time.Hour)
	rec, err := f.pets.Create(context.Background(), petDoc{Level: 4})
	require.NoError(t, err)

	err = petLevel.Set(rec, -1)
	require.Error(t, err)
	assert.True(t, IsCode(err, CodeInvalidValue))
	assert.ErrorIs(t, err, ErrInvalidValue)
	assert.Equal(t, 4, petLevel.Get(rec))
	assert.False(t, rec.Dirty())
	assert.Empty(t, f.sched.ListDelays())
}

func TestSet_ForbiddenCharacters(t *testing.T) {
	f := newFixture(t, nil, time.Hour)
	rec, _ := f.pets.Create(context.Background(), petDoc{Name: "ok"})

	err := petName.Set(rec, "bad*name")
	require.Error(t, err)
	var ge *Error
	require.ErrorAs(t, err, &ge)
	assert.Equal(t, "name", ge.Field)
	assert.Equal(t, "ok", petName.Get(rec))

	require.NoError(t, petName.Set(rec, "fine name"))
	assert.True(t, rec.Dirty())
}

func TestUpdate_ValidatesResult(t *testing.T) {
	f := newFixture(t, nil, time.Hour)
	rec, _ := f.pets.Create(context.Background(), petDoc{Tags: []string{"a"}})

	err := petTags.Update(rec, func(tags []string) ([]string, error) {
		return append(tags, "a"), nil
	})
	assert.ErrorIs(t, err, ErrInvalidValue)
	assert.Equal(t, []string{"a"}, petTags.Get(rec))

	require.NoError(t, petTags.Update(rec, func(tags []string) ([]string, error) {
		return append(tags, "b"), nil
	}))
	assert.Equal(t, []string{"a", "b"}, petTags.Get(rec))
}

func TestGet_ReturnsCopy(t *testing.T) {
	f := newFixture(t, nil, time.Hour)
	rec, _ := f.pets.Create(context.Background(), petDoc{Tags: []string{"a", "b"}})

	tags := petTags.Get(rec)
	tags[0] = "mutated"
	assert.Equal(t, []string{"a", "b"}, petTags.Get(rec))
	assert.False(t, rec.Dirty())
}

func TestAdd(t *testing.T) {
	f := newFixture(t, nil, time.Hour)
	rec, _ := f.pets.Create(context.Background(), petDoc{Level: 1})

	require.NoError(t, petLevel.Update(rec, Delta(3)))
	assert.Equal(t, 4, petLevel.Get(rec))
	assert.ErrorIs(t, petLevel.Update(rec, Delta(-10)), ErrInvalidValue)
	assert.Equal(t, 4, petLevel.Get(rec))
}

func TestDebounce_FixedCeiling(t *testing.T) {
	const delay = 80 * time.Millisecond
	f := newFixture(t, nil, delay)
	rec, err := f.pets.Create(context.Background(), petDoc{Level: 0})
	require.NoError(t, err)

	start := time.Now()
	require.NoError(t, petLevel.Set(rec, 1))
	time.Sleep(delay / 2)
	require.NoError(t, petLevel.Set(rec, 2))

	// The second mutation must not push the write past the first deadline.
	require.Eventually(t, func() bool { return f.mem.Counts().Updates == 1 }, delay*3, 5*time.Millisecond)
	assert.GreaterOrEqual(t, time.Since(start), delay)
	assert.Equal(t, 2, f.persisted(t, rec.ID()).Level)
	assert.False(t, rec.Dirty())

	time.Sleep(delay * 2)
	assert.Equal(t, 1, f.mem.Counts().Updates, "exactly one write")
}

func TestFlush_CleanIssuesNoWrite(t *testing.T) {
	f := newFixture(t, nil, time.Hour)
	rec, _ := f.pets.Create(context.Background(), petDoc{})

	require.NoError(t, rec.Flush(context.Background()))
	assert.Zero(t, f.mem.Counts().Updates)
}

func TestFlush_ManualCancelsTimer(t *testing.T) {
	f := newFixture(t, nil, 40*time.Millisecond)
	rec, _ := f.pets.Create(context.Background(), petDoc{})

	require.NoError(t, petLevel.Set(rec, 3))
	require.Equal(t, []string{"flush:pets:" + rec.ID()}, f.sched.ListDelays())
	require.NoError(t, rec.Flush(context.Background()))
	assert.Empty(t, f.sched.ListDelays())

	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, 1, f.mem.Counts().Updates)
}

func TestFlush_MutationWhileFlushingIsRearmed(t *testing.T) {
	gs := newGatedStore()
	f := newFixture(t, gs, time.Hour)
	f.mem = gs.Store
	ctx := context.Background()

	rec, _ := f.pets.Create(ctx, petDoc{Level: 1})
	require.NoError(t, petLevel.Set(rec, 2))

	done := make(chan error, 1)
	go func() { done <- rec.Flush(ctx) }()
	<-gs.entered

	require.NoError(t, petLevel.Set(rec, 3))
	// No second timer while the write is in flight.
	assert.Empty(t, f.sched.ListDelays())

	gs.release <- struct{}{}
	require.NoError(t, <-done)

	assert.True(t, rec.Dirty())
	assert.Equal(t, 2, f.persisted(t, rec.ID()).Level)
	assert.Equal(t, []string{"flush:pets:" + rec.ID()}, f.sched.ListDelays())

	go func() { done <- rec.Flush(ctx) }()
	<-gs.entered
	gs.release <- struct{}{}
	require.NoError(t, <-done)
	assert.False(t, rec.Dirty())
	assert.Equal(t, 3, f.persisted(t, rec.ID()).Level)
}

func TestFlush_FailureStaysDirtyAndRetries(t *testing.T) {
	f := newFixture(t, nil, 30*time.Millisecond)
	ctx := context.Background()
	rec, _ := f.pets.Create(ctx, petDoc{})

	f.mem.FailWrites(memstore.ErrInjected)
	require.NoError(t, petLevel.Set(rec, 7))

	err := rec.Flush(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPersistence)
	assert.ErrorIs(t, err, memstore.ErrInjected)
	assert.True(t, rec.Dirty())
	assert.True(t, f.sched.HasDelay("flush:pets:"+rec.ID()))

	f.mem.FailWrites(nil)
	require.Eventually(t, func() bool { return !rec.Dirty() }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 7, f.persisted(t, rec.ID()).Level)
}

func TestDelete(t *testing.T) {
	f := newFixture(t, nil, time.Hour)
	ctx := context.Background()
	rec, _ := f.pets.Create(ctx, petDoc{})

	require.NoError(t, petLevel.Set(rec, 1))
	require.NoError(t, rec.Delete(ctx))
	assert.True(t, rec.Deleted())
	assert.Empty(t, f.sched.ListDelays())
	assert.Zero(t, f.mem.Counts().Updates)

	_, err := f.pets.Load(ctx, rec.ID())
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, petLevel.Set(rec, 2), ErrContract)
	assert.ErrorIs(t, rec.Delete(ctx), ErrContract)
	assert.NoError(t, rec.Flush(ctx))
}

func TestDelete_WaitsForInFlightFlush(t *testing.T) {
	gs := newGatedStore()
	f := newFixture(t, gs, time.Hour)
	ctx := context.Background()
	rec, _ := f.pets.Create(ctx, petDoc{})
	require.NoError(t, petLevel.Set(rec, 1))

	flushed := make(chan error, 1)
	go func() { flushed <- rec.Flush(ctx) }()
	<-gs.entered

	deleted := make(chan error, 1)
	go func() { deleted <- rec.Delete(ctx) }()

	select {
	case <-deleted:
		t.Fatal("delete must wait for the flush")
	case <-time.After(30 * time.Millisecond):
	}
	gs.release <- struct{}{}
	require.NoError(t, <-flushed)
	require.NoError(t, <-deleted)
	assert.True(t, rec.Deleted())
}

func TestAtomically(t *testing.T) {
	f := newFixture(t, nil, time.Hour)
	rec, _ := f.pets.Create(context.Background(), petDoc{Level: 1, Owner: "a", Tags: []string{"x"}})

	err := rec.Atomically(func(tx *Tx[petDoc]) error {
		if err := petOwner.Set(tx, "b"); err != nil {
			return err
		}
		return petLevel.Set(tx, -5)
	})
	assert.ErrorIs(t, err, ErrInvalidValue)
	assert.Equal(t, "a", petOwner.Get(rec), "no partial application")
	assert.False(t, rec.Dirty())

	require.NoError(t, rec.Atomically(func(tx *Tx[petDoc]) error {
		if err := petOwner.Set(tx, "b"); err != nil {
			return err
		}
		return petTags.Set(tx, nil)
	}))
	assert.Equal(t, "b", petOwner.Get(rec))
	assert.Empty(t, petTags.Get(rec))
	assert.True(t, rec.Dirty())
}

func TestAtomically_ReadOnlyStaysClean(t *testing.T) {
	f := newFixture(t, nil, time.Hour)
	rec, _ := f.pets.Create(context.Background(), petDoc{Level: 3})

	var lvl int
	require.NoError(t, rec.Atomically(func(tx *Tx[petDoc]) error {
		lvl = petLevel.Get(tx)
		return nil
	}))
	assert.Equal(t, 3, lvl)
	assert.False(t, rec.Dirty())
}

func TestConcurrentAddsAreNotLost(t *testing.T) {
	f := newFixture(t, nil, time.Hour)
	rec, _ := f.pets.Create(context.Background(), petDoc{})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = petLevel.Update(rec, Delta(1))
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, petLevel.Get(rec))
}

func TestView(t *testing.T) {
	f := newFixture(t, nil, time.Hour)
	rec, _ := f.pets.Create(context.Background(), petDoc{Level: 2, Tags: []string{"a", "b"}})
	var n int
	rec.View(func(d *petDoc) { n = d.Level + len(d.Tags) })
	assert.Equal(t, 4, n)
	assert.Equal(t, 2, rec.Snapshot().Level)
}

func TestFlushAll_PersistsEveryDirtyRecord(t *testing.T) {
	f := newFixture(t, nil, time.Hour)
	ctx := context.Background()
	a, _ := f.pets.Create(ctx, petDoc{Name: "a"})
	b, _ := f.pets.Create(ctx, petDoc{Name: "b"})
	_, _ = f.pets.Create(ctx, petDoc{Name: "c"})
	assert.Zero(t, f.pets.DirtyCount())

	require.NoError(t, petLevel.Set(a, 3))
	require.NoError(t, petLevel.Set(b, 4))
	require.NoError(t, petLevel.Set(b, 5))
	assert.Equal(t, 2, f.pets.DirtyCount())

	writes := f.mem.Counts().Updates
	require.NoError(t, f.pets.FlushAll(ctx))
	assert.Equal(t, writes+2, f.mem.Counts().Updates)
	assert.Zero(t, f.pets.DirtyCount())
	assert.Equal(t, 3, f.persisted(t, a.ID()).Level)
	assert.Equal(t, 5, f.persisted(t, b.ID()).Level)
}

func TestFlushAll_FailureKeepsRecordTracked(t *testing.T) {
	f := newFixture(t, nil, time.Hour)
	ctx := context.Background()
	rec, _ := f.pets.Create(ctx, petDoc{})
	require.NoError(t, petLevel.Set(rec, 1))

	f.mem.FailWrites(memstore.ErrInjected)
	err := f.pets.FlushAll(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPersistence)
	assert.Equal(t, 1, f.pets.DirtyCount())

	f.mem.FailWrites(nil)
	require.NoError(t, f.pets.FlushAll(ctx))
	assert.Zero(t, f.pets.DirtyCount())
	assert.Equal(t, 1, f.persisted(t, rec.ID()).Level)
}

func TestDelete_UntracksDirtyRecord(t *testing.T) {
	f := newFixture(t, nil, time.Hour)
	ctx := context.Background()
	rec, _ := f.pets.Create(ctx, petDoc{})
	require.NoError(t, petLevel.Set(rec, 1))
	require.Equal(t, 1, f.pets.DirtyCount())

	require.NoError(t, rec.Delete(ctx))
	assert.Zero(t, f.pets.DirtyCount())
}
