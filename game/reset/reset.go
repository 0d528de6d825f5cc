// Package reset computes the process-wide period boundaries at which free
// resource pools replenish.
package reset

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/kasuganosora/beastiary/cache"
	"github.com/kasuganosora/beastiary/config"
	"github.com/kasuganosora/beastiary/scheduler"
	"go.uber.org/zap"
)

// Kind names a time-gated resource.
type Kind string

const (
	Encounters    Kind = "encounters"
	Captures      Kind = "captures"
	XpBoosts      Kind = "xp_boosts"
	DailyCurrency Kind = "daily_currency"
)

// Channel is the pub/sub channel on which boundary advances are announced.
const Channel = "resets"

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// Announcement is the payload published when a boundary advances.
type Announcement struct {
	Kind      Kind      `json:"kind"`
	LastReset time.Time `json:"last_reset"`
	NextReset time.Time `json:"next_reset"`
}

// Coordinator computes the last boundary per kind. Boundaries are multiples of
// each kind's period since the zero time, so every process agrees on them
// without coordination. The ticker only drives announcements; reads always
// follow the clock.
type Coordinator struct {
	clock   Clock
	periods map[Kind]time.Duration
	pubsub  cache.PubSub
	logger  *zap.Logger

	mu   sync.Mutex
	last map[Kind]time.Time // last announced boundary
}

// New creates a Coordinator with boundaries computed for the current time.
// pubsub may be nil.
func New(periods map[Kind]time.Duration, clock Clock, pubsub cache.PubSub, logger *zap.Logger) *Coordinator {
	if clock == nil {
		clock = SystemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Coordinator{
		clock:   clock,
		periods: make(map[Kind]time.Duration, len(periods)),
		pubsub:  pubsub,
		logger:  logger,
		last:    make(map[Kind]time.Time, len(periods)),
	}
	now := clock.Now()
	for k, p := range periods {
		if p <= 0 {
			continue
		}
		c.periods[k] = p
		c.last[k] = now.Truncate(p)
	}
	return c
}

// PeriodsFromConfig maps the game section onto reset periods.
func PeriodsFromConfig(cfg config.GameConfig) map[Kind]time.Duration {
	return map[Kind]time.Duration{
		Encounters:    cfg.EncounterPeriod,
		Captures:      cfg.CapturePeriod,
		XpBoosts:      cfg.XpBoostPeriod,
		DailyCurrency: cfg.DailyCurrencyPeriod,
	}
}

// Refresh recomputes every boundary and publishes the ones that advanced.
func (c *Coordinator) Refresh(ctx context.Context) {
	now := c.clock.Now()
	var advanced []Announcement

	c.mu.Lock()
	for k, p := range c.periods {
		b := now.Truncate(p)
		if b.After(c.last[k]) {
			c.last[k] = b
			advanced = append(advanced, Announcement{Kind: k, LastReset: b, NextReset: b.Add(p)})
		}
	}
	c.mu.Unlock()

	sort.Slice(advanced, func(i, j int) bool { return advanced[i].Kind < advanced[j].Kind })
	for _, a := range advanced {
		c.logger.Debug("reset boundary advanced", zap.String("kind", string(a.Kind)), zap.Time("last_reset", a.LastReset))
		if c.pubsub == nil {
			continue
		}
		payload, err := json.Marshal(a)
		if err != nil {
			continue
		}
		if err := c.pubsub.Publish(ctx, Channel, string(payload)); err != nil {
			c.logger.Warn("reset announcement failed", zap.String("kind", string(a.Kind)), zap.Error(err))
		}
	}
}

// Start refreshes boundaries on the scheduler every interval.
func (c *Coordinator) Start(s *scheduler.Scheduler, interval time.Duration) {
	s.AddTicker("resets:refresh", interval, func() { c.Refresh(context.Background()) })
}

// LastReset returns the most recent boundary for kind. Unknown kinds return
// the zero time.
func (c *Coordinator) LastReset(kind Kind) time.Time {
	p, ok := c.periods[kind]
	if !ok {
		return time.Time{}
	}
	return c.clock.Now().Truncate(p)
}

// NextReset returns the upcoming boundary for kind.
func (c *Coordinator) NextReset(kind Kind) time.Time {
	last := c.LastReset(kind)
	if last.IsZero() {
		return last
	}
	return last.Add(c.periods[kind])
}

// Period returns the configured period for kind.
func (c *Coordinator) Period(kind Kind) time.Duration { return c.periods[kind] }

// Now returns the coordinator's clock reading.
func (c *Coordinator) Now() time.Time { return c.clock.Now() }

func (c *Coordinator) NextEncounterReset() time.Time     { return c.NextReset(Encounters) }
func (c *Coordinator) NextCaptureReset() time.Time       { return c.NextReset(Captures) }
func (c *Coordinator) NextXpBoostReset() time.Time       { return c.NextReset(XpBoosts) }
func (c *Coordinator) NextDailyCurrencyReset() time.Time { return c.NextReset(DailyCurrency) }

// Snapshot returns last and next boundaries for every kind.
func (c *Coordinator) Snapshot() []Announcement {
	kinds := make([]Kind, 0, len(c.periods))
	for k := range c.periods {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	out := make([]Announcement, 0, len(kinds))
	for _, k := range kinds {
		out = append(out, Announcement{Kind: k, LastReset: c.LastReset(k), NextReset: c.NextReset(k)})
	}
	return out
}
