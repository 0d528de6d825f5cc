package reset

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/kasuganosora/beastiary/config"
	"github.com/kasuganosora/beastiary/scheduler"
	"github.com/kasuganosora/beastiary/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func nop() *zap.Logger { l, _ := zap.NewDevelopment(); return l }

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

var base = time.Date(2026, 3, 1, 12, 0, 30, 0, time.UTC)

func TestBoundaries(t *testing.T) {
	clk := &fakeClock{now: base}
	c := New(map[Kind]time.Duration{
		Encounters: time.Minute,
		Captures:   4 * time.Minute,
	}, clk, nil, nop())

	assert.Equal(t, base.Truncate(time.Minute), c.LastReset(Encounters))
	assert.Equal(t, base.Truncate(time.Minute).Add(time.Minute), c.NextEncounterReset())
	assert.Equal(t, c.LastReset(Captures).Add(4*time.Minute), c.NextCaptureReset())
	assert.True(t, c.LastReset(Captures).Before(base) || c.LastReset(Captures).Equal(base))

	clk.Advance(45 * time.Second)
	assert.Equal(t, base.Truncate(time.Minute).Add(time.Minute), c.LastReset(Encounters))

	assert.True(t, c.NextXpBoostReset().IsZero(), "unconfigured kind")
}

func TestRefresh_PublishesAdvances(t *testing.T) {
	clk := &fakeClock{now: base}
	_, ps := testutil.SetupTestCache(t)
	c := New(map[Kind]time.Duration{Encounters: time.Minute, Captures: 4 * time.Minute}, clk, ps, nop())

	ch, cancel, err := ps.Subscribe(context.Background(), Channel)
	require.NoError(t, err)
	defer cancel()

	c.Refresh(context.Background())
	select {
	case msg := <-ch:
		t.Fatalf("nothing advanced, got %s", msg.Payload)
	case <-time.After(20 * time.Millisecond):
	}

	clk.Advance(time.Minute)
	c.Refresh(context.Background())

	select {
	case msg := <-ch:
		var a Announcement
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &a))
		assert.Equal(t, Encounters, a.Kind)
		assert.Equal(t, c.LastReset(Encounters), a.LastReset)
	case <-time.After(time.Second):
		t.Fatal("no announcement")
	}
}

func TestStart_RegistersTicker(t *testing.T) {
	s := scheduler.New(nop())
	defer s.Stop()
	c := New(PeriodsFromConfig(config.GameConfig{EncounterPeriod: time.Minute}), &fakeClock{now: base}, nil, nop())
	c.Start(s, time.Hour)
	assert.Equal(t, []string{"resets:refresh"}, s.ListTickers())
}

func TestSnapshot(t *testing.T) {
	c := New(map[Kind]time.Duration{XpBoosts: time.Minute, Encounters: time.Minute, DailyCurrency: 22 * time.Minute}, &fakeClock{now: base}, nil, nop())
	snap := c.Snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, DailyCurrency, snap[0].Kind)
	assert.Equal(t, snap[0].LastReset.Add(22*time.Minute), snap[0].NextReset)
}
