package fetch

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"
)

// SchedulerConfig bounds the inter-request delay
type SchedulerConfig struct {
	Base   time.Duration
	Min    time.Duration
	Max    time.Duration
	Jitter float64
	// SuccessesToDecay is how many consecutive successes are needed before
	// the delay narrows again.
	SuccessesToDecay int
}

// Scheduler produces randomized delays between requests to one domain.
// The delay widens on failure and only narrows after a streak of
// successes with no outstanding failures.
type Scheduler struct {
	mu                  sync.Mutex
	cfg                 SchedulerConfig
	current             time.Duration
	consecutiveFailures int
	successStreak       int
	rng                 *rand.Rand
	sleep               func(ctx context.Context, d time.Duration) error
}

// NewScheduler creates a scheduler starting at the base delay
func NewScheduler(cfg SchedulerConfig) *Scheduler {
	if cfg.Min <= 0 {
		cfg.Min = time.Second
	}
	if cfg.Base < cfg.Min {
		cfg.Base = cfg.Min
	}
	if cfg.Max < cfg.Base {
		cfg.Max = cfg.Base
	}
	if cfg.SuccessesToDecay <= 0 {
		cfg.SuccessesToDecay = 3
	}
	return &Scheduler{
		cfg:     cfg,
		current: cfg.Base,
		rng:     rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0x2545f4914f6cdd1d)),
		sleep:   sleepContext,
	}
}

// Current returns the un-jittered delay
func (s *Scheduler) Current() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// ConsecutiveFailures returns the outstanding failure count
func (s *Scheduler) ConsecutiveFailures() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.consecutiveFailures
}

// Next returns the delay to wait before the next request: the current delay
// with multiplicative jitter, clamped to [Min, Max].
func (s *Scheduler) Next() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	d := s.current
	if s.cfg.Jitter > 0 {
		factor := 1 - s.cfg.Jitter + 2*s.cfg.Jitter*s.rng.Float64()
		d = time.Duration(float64(d) * factor)
	}
	return clamp(d, s.cfg.Min, s.cfg.Max)
}

// Wait sleeps for Next() or until ctx is done
func (s *Scheduler) Wait(ctx context.Context) (time.Duration, error) {
	d := s.Next()
	return d, s.sleep(ctx, d)
}

// OnSuccess records a successful request. After a streak of successes the
// delay narrows toward the floor.
func (s *Scheduler) OnSuccess() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.consecutiveFailures = 0
	s.successStreak++
	if s.successStreak >= s.cfg.SuccessesToDecay {
		s.current = clamp(time.Duration(float64(s.current)*0.95), s.cfg.Min, s.cfg.Max)
	}
}

// OnFailure widens the delay after a timeout or transport error
func (s *Scheduler) OnFailure() {
	s.widen(1.2)
}

// OnBlocked widens the delay more aggressively after a blocked response
func (s *Scheduler) OnBlocked() {
	s.widen(1.5)
}

func (s *Scheduler) widen(factor float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.consecutiveFailures++
	s.successStreak = 0
	widened := time.Duration(float64(s.current) * factor)
	if widened <= s.current {
		widened = s.current + time.Millisecond
	}
	s.current = clamp(widened, s.cfg.Min, s.cfg.Max)
}

func clamp(d, lo, hi time.Duration) time.Duration {
	if d < lo {
		return lo
	}
	if d > hi {
		return hi
	}
	return d
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
