package scheduler

import (
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// TaskFn is the function signature for scheduled tasks.
type TaskFn func()

// Scheduler manages periodic, delayed and cron tasks. Task names share one
// namespace per kind; registering an existing name replaces the old task.
type Scheduler struct {
	mu      sync.Mutex
	tickers map[string]*tickerEntry
	timers  map[string]*delayEntry
	crons   map[string]cron.EntryID
	cron    *cron.Cron
	logger  *zap.Logger
	stopCh  chan struct{}
}

type tickerEntry struct {
	ticker *time.Ticker
	stopCh chan struct{}
}

type delayEntry struct {
	timer *time.Timer
}

// New creates a new Scheduler.
func New(logger *zap.Logger) *Scheduler {
	s := &Scheduler{
		tickers: make(map[string]*tickerEntry),
		timers:  make(map[string]*delayEntry),
		crons:   make(map[string]cron.EntryID),
		stopCh:  make(chan struct{}),
		logger:  logger,
	}
	s.cron = cron.New(cron.WithChain(cron.Recover(cronLogger{logger})))
	s.cron.Start()
	return s
}

func (s *Scheduler) run(kind, name string, fn TaskFn) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("scheduler task panicked",
				zap.String("kind", kind),
				zap.String("task", name),
				zap.Any("recover", r))
		}
	}()
	fn()
}

func (s *Scheduler) stopped() bool {
	select {
	case <-s.stopCh:
		return true
	default:
		return false
	}
}

// AddTicker registers a task to run on a fixed interval.
// If a task with the same name exists, it is replaced.
func (s *Scheduler) AddTicker(name string, interval time.Duration, fn TaskFn) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.tickers[name]; ok {
		close(old.stopCh)
		delete(s.tickers, name)
	}

	entry := &tickerEntry{
		ticker: time.NewTicker(interval),
		stopCh: make(chan struct{}),
	}
	s.tickers[name] = entry

	go func() {
		for {
			select {
			case <-entry.ticker.C:
				s.run("ticker", name, fn)
			case <-entry.stopCh:
				entry.ticker.Stop()
				return
			case <-s.stopCh:
				entry.ticker.Stop()
				return
			}
		}
	}()
	s.logger.Debug("scheduler ticker registered", zap.String("name", name), zap.Duration("interval", interval))
}

// AddDelay runs fn once after the given delay, replacing any pending delay
// with the same name. fn may re-arm its own name; the new timer is kept.
func (s *Scheduler) AddDelay(name string, delay time.Duration, fn TaskFn) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped() {
		return
	}
	if old, ok := s.timers[name]; ok {
		old.timer.Stop()
	}
	entry := &delayEntry{}
	entry.timer = time.AfterFunc(delay, func() {
		s.mu.Lock()
		if s.timers[name] != entry {
			s.mu.Unlock()
			return
		}
		delete(s.timers, name)
		s.mu.Unlock()
		s.run("delay", name, fn)
	})
	s.timers[name] = entry
}

// HasDelay reports whether a delay task with name is pending.
func (s *Scheduler) HasDelay(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.timers[name]
	return ok
}

// AddCron registers fn under a cron spec ("@every 5m", "0 */1 * * *", ...).
func (s *Scheduler) AddCron(name, spec string, fn TaskFn) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.crons[name]; ok {
		s.cron.Remove(old)
		delete(s.crons, name)
	}
	id, err := s.cron.AddFunc(spec, func() { s.run("cron", name, fn) })
	if err != nil {
		return err
	}
	s.crons[name] = id
	s.logger.Info("scheduler cron registered", zap.String("name", name), zap.String("spec", spec))
	return nil
}

// Remove stops and removes a ticker, delay or cron task by name.
func (s *Scheduler) Remove(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry, ok := s.tickers[name]; ok {
		close(entry.stopCh)
		delete(s.tickers, name)
	}
	if d, ok := s.timers[name]; ok {
		d.timer.Stop()
		delete(s.timers, name)
	}
	if id, ok := s.crons[name]; ok {
		s.cron.Remove(id)
		delete(s.crons, name)
	}
}

// Stop stops all tasks. Pending delays are dropped without running.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped() {
		return
	}
	close(s.stopCh)
	for name, d := range s.timers {
		d.timer.Stop()
		delete(s.timers, name)
	}
	s.cron.Stop()
}

// ListTickers returns the sorted names of all registered ticker tasks.
func (s *Scheduler) ListTickers() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sortedKeys(s.tickers)
}

// ListDelays returns the sorted names of all pending delay tasks.
func (s *Scheduler) ListDelays() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sortedKeys(s.timers)
}

// ListCrons returns the sorted names of all cron tasks.
func (s *Scheduler) ListCrons() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sortedKeys(s.crons)
}

func sortedKeys[V any](m map[string]V) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct{ l *zap.Logger }

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Sugar().Debugw(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Sugar().Errorw(msg, append(keysAndValues, "error", err)...)
}
