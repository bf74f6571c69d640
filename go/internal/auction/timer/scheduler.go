// Package timer keeps one in-memory countdown per active auction.
package timer

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// Config holds the countdown rules.
type Config struct {
	// ExtendFloor is the minimum time left after a bid.
	ExtendFloor time.Duration
	// EndingSoonWindow is when the one-time ending soon hook fires.
	EndingSoonWindow time.Duration
	// Tick is the countdown resolution.
	Tick time.Duration
	// HookTimeout bounds each OnEndingSoon and OnExpire call.
	HookTimeout time.Duration
}

// DefaultConfig returns the production countdown rules.
func DefaultConfig() Config {
	return Config{
		ExtendFloor:      15 * time.Second,
		EndingSoonWindow: 10 * time.Second,
		Tick:             time.Second,
		HookTimeout:      30 * time.Second,
	}
}

// Hooks are called by the scheduler. OnUpdate runs synchronously on the
// caller of Start or Extend; the others run on their own goroutine so a slow
// database never delays another auction's tick.
type Hooks struct {
	OnUpdate     func(auctionID int64, endTime time.Time, extended bool)
	OnEndingSoon func(ctx context.Context, auctionID int64)
	OnExpire     func(ctx context.Context, auctionID int64)
}

type entry struct {
	endTime    time.Time
	ticker     clockwork.Ticker
	done       chan struct{}
	endingSoon bool
}

// Scheduler owns the countdown map. All methods are safe for concurrent use.
type Scheduler struct {
	clock clockwork.Clock
	cfg   Config
	hooks Hooks

	mu     sync.Mutex
	timers map[int64]*entry
	closed bool

	loops sync.WaitGroup
	calls sync.WaitGroup
}

// NewScheduler creates a scheduler. Zero config fields take their defaults.
func NewScheduler(clock clockwork.Clock, cfg Config, hooks Hooks) *Scheduler {
	def := DefaultConfig()
	if cfg.ExtendFloor <= 0 {
		cfg.ExtendFloor = def.ExtendFloor
	}
	if cfg.EndingSoonWindow <= 0 {
		cfg.EndingSoonWindow = def.EndingSoonWindow
	}
	if cfg.Tick <= 0 {
		cfg.Tick = def.Tick
	}
	if cfg.HookTimeout <= 0 {
		cfg.HookTimeout = def.HookTimeout
	}
	return &Scheduler{
		clock:  clock,
		cfg:    cfg,
		hooks:  hooks,
		timers: make(map[int64]*entry),
	}
}

// Start replaces any countdown for auctionID with one ending after d.
func (s *Scheduler) Start(auctionID int64, d time.Duration) time.Time {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return time.Time{}
	}
	if old, ok := s.timers[auctionID]; ok {
		s.cancel(auctionID, old)
	}

	e := &entry{
		endTime: s.clock.Now().Add(d),
		ticker:  s.clock.NewTicker(s.cfg.Tick),
		done:    make(chan struct{}),
	}
	s.timers[auctionID] = e
	s.loops.Add(1)
	go s.run(auctionID, e)
	endTime := e.endTime
	s.mu.Unlock()

	log.Info().Int64("auction_id", auctionID).Dur("duration", d).Time("end_time", endTime).Msg("Timer started")
	if s.hooks.OnUpdate != nil {
		s.hooks.OnUpdate(auctionID, endTime, false)
	}
	return endTime
}

// Extend moves the end time to at least now+ExtendFloor. It never shortens
// a countdown. It returns false when no countdown exists for auctionID.
func (s *Scheduler) Extend(auctionID int64) bool {
	s.mu.Lock()
	e, ok := s.timers[auctionID]
	if !ok {
		s.mu.Unlock()
		return false
	}
	floor := s.clock.Now().Add(s.cfg.ExtendFloor)
	if !floor.After(e.endTime) {
		s.mu.Unlock()
		return true
	}
	e.endTime = floor
	s.mu.Unlock()

	log.Debug().Int64("auction_id", auctionID).Time("end_time", floor).Msg("Timer extended")
	if s.hooks.OnUpdate != nil {
		s.hooks.OnUpdate(auctionID, floor, true)
	}
	return true
}

// Stop cancels the countdown without settlement.
func (s *Scheduler) Stop(auctionID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.timers[auctionID]; ok {
		s.cancel(auctionID, e)
		log.Info().Int64("auction_id", auctionID).Msg("Timer stopped")
	}
}

// EndTime returns the countdown end for auctionID.
func (s *Scheduler) EndTime(auctionID int64) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.timers[auctionID]
	if !ok {
		return time.Time{}, false
	}
	return e.endTime, true
}

// Remaining returns the time left, or zero when no countdown exists.
func (s *Scheduler) Remaining(auctionID int64) time.Duration {
	end, ok := s.EndTime(auctionID)
	if !ok {
		return 0
	}
	if left := end.Sub(s.clock.Now()); left > 0 {
		return left
	}
	return 0
}

// Active lists the auctions with a running countdown.
func (s *Scheduler) Active() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]int64, 0, len(s.timers))
	for id := range s.timers {
		ids = append(ids, id)
	}
	return ids
}

// Shutdown cancels every countdown without settlement and waits for hooks
// already in flight.
func (s *Scheduler) Shutdown() {
	s.mu.Lock()
	s.closed = true
	n := len(s.timers)
	for id, e := range s.timers {
		s.cancel(id, e)
	}
	s.mu.Unlock()

	s.loops.Wait()
	s.calls.Wait()
	log.Info().Int("timers", n).Msg("Timer scheduler shut down")
}

// cancel must be called with s.mu held.
func (s *Scheduler) cancel(auctionID int64, e *entry) {
	e.ticker.Stop()
	close(e.done)
	delete(s.timers, auctionID)
}

func (s *Scheduler) run(auctionID int64, e *entry) {
	defer s.loops.Done()
	for {
		select {
		case <-e.done:
			return
		case <-e.ticker.Chan():
			if !s.tick(auctionID, e) {
				return
			}
		}
	}
}

// tick reports whether the countdown is still running.
func (s *Scheduler) tick(auctionID int64, e *entry) bool {
	s.mu.Lock()
	if cur, ok := s.timers[auctionID]; !ok || cur != e {
		s.mu.Unlock()
		return false
	}

	remaining := e.endTime.Sub(s.clock.Now())
	if remaining <= 0 {
		// Remove first so a late tick can never fire settlement twice.
		s.cancel(auctionID, e)
		s.mu.Unlock()
		log.Info().Int64("auction_id", auctionID).Msg("Timer expired")
		s.dispatch(auctionID, s.hooks.OnExpire)
		return false
	}

	fire := remaining <= s.cfg.EndingSoonWindow && !e.endingSoon
	if fire {
		e.endingSoon = true
	}
	s.mu.Unlock()

	if fire {
		s.dispatch(auctionID, s.hooks.OnEndingSoon)
	}
	return true
}

func (s *Scheduler) dispatch(auctionID int64, hook func(context.Context, int64)) {
	if hook == nil {
		return
	}
	s.calls.Add(1)
	go func() {
		defer s.calls.Done()
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.HookTimeout)
		defer cancel()
		hook(ctx, auctionID)
	}()
}
