package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

const (
	defaultDecreaseFactor = 0.5
	defaultIncreaseFactor = 1.25
	defaultSuccessStreak  = 5
)

// Limiter admits calls under a single shared ceiling, in arrival order.
//
// Admissions are spaced evenly at interval/calls, so no window of the
// configured interval ever sees more than the configured number of calls
// begin, regardless of how many goroutines share the limiter. Waiters are
// served FIFO: each Wait reserves the next free slot at call time, so a
// caller can be delayed but never overtaken indefinitely.
type Limiter struct {
	mu sync.Mutex
	rl *rate.Limiter

	ceiling      rate.Limit
	ceilingCalls int

	// adaptive mode
	adaptive bool
	floor    rate.Limit
	decrease float64
	increase float64
	streak   int
	required int
}

type Option func(*Limiter)

// WithAdaptive enables feedback-driven throttling. On Report(false) the
// admission rate shrinks toward floorCalls per the limiter's interval; after
// a run of Report(true) it grows back. The configured ceiling is never
// exceeded.
func WithAdaptive(floorCalls int) Option {
	return func(l *Limiter) {
		l.adaptive = true
		if l.ceilingCalls > 0 {
			l.floor = rate.Limit(float64(l.ceiling) * float64(floorCalls) / float64(l.ceilingCalls))
		}
	}
}

// WithFactors overrides the multiplicative decrease/increase applied in
// adaptive mode.
func WithFactors(decrease, increase float64) Option {
	return func(l *Limiter) {
		l.decrease = decrease
		l.increase = increase
	}
}

// WithSuccessStreak sets how many consecutive Report(true) calls are needed
// before the rate is raised one step.
func WithSuccessStreak(n int) Option {
	return func(l *Limiter) {
		l.required = n
	}
}

// New builds a limiter that admits at most calls per interval.
func New(calls int, interval time.Duration, opts ...Option) (*Limiter, error) {
	if calls <= 0 {
		return nil, errors.Errorf("rate limit calls must be positive, got %d", calls)
	}
	if interval <= 0 {
		return nil, errors.Errorf("rate limit interval must be positive, got %s", interval)
	}

	ceiling := rate.Limit(float64(calls) / interval.Seconds())
	l := &Limiter{
		ceiling:      ceiling,
		ceilingCalls: calls,
		decrease:     defaultDecreaseFactor,
		increase:     defaultIncreaseFactor,
		required:     defaultSuccessStreak,
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.adaptive {
		if l.floor <= 0 {
			return nil, errors.New("adaptive rate limit floor must be positive")
		}
		if l.floor > l.ceiling {
			return nil, errors.Errorf("adaptive rate limit floor %.3f/s exceeds ceiling %.3f/s", float64(l.floor), float64(l.ceiling))
		}
		if l.decrease <= 0 || l.decrease >= 1 {
			return nil, errors.Errorf("adaptive decrease factor must be in (0, 1), got %f", l.decrease)
		}
		if l.increase <= 1 {
			return nil, errors.Errorf("adaptive increase factor must be > 1, got %f", l.increase)
		}
		if l.required <= 0 {
			return nil, errors.Errorf("adaptive success streak must be positive, got %d", l.required)
		}
	}

	// burst 1 keeps admissions evenly spaced instead of allowing an initial
	// thundering herd against the provider
	l.rl = rate.NewLimiter(l.ceiling, 1)
	return l, nil
}

// MustNew is New for configurations known to be valid, mostly tests.
func MustNew(calls int, interval time.Duration, opts ...Option) *Limiter {
	l, err := New(calls, interval, opts...)
	if err != nil {
		panic(err)
	}
	return l
}

// Wait blocks until the caller may proceed. It returns an error only when
// ctx is cancelled before the slot arrives.
func (l *Limiter) Wait(ctx context.Context) error {
	return l.rl.Wait(ctx)
}

// Report feeds provider feedback into an adaptive limiter. ok=false marks a
// rate-limit style rejection and shrinks the rate; ok=true counts toward
// recovery. On a fixed limiter Report is a no-op, so callers never need to
// know which mode is configured.
func (l *Limiter) Report(ok bool) {
	if !l.adaptive {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	current := l.rl.Limit()
	if !ok {
		l.streak = 0
		next := rate.Limit(float64(current) * l.decrease)
		if next < l.floor {
			next = l.floor
		}
		if next != current {
			l.rl.SetLimit(next)
			log.Debug().
				Float64("from_per_second", float64(current)).
				Float64("to_per_second", float64(next)).
				Msg("rate limit lowered after provider rejection")
		}
		return
	}

	l.streak++
	if l.streak < l.required {
		return
	}
	l.streak = 0
	next := rate.Limit(float64(current) * l.increase)
	if next > l.ceiling {
		next = l.ceiling
	}
	if next != current {
		l.rl.SetLimit(next)
		log.Debug().
			Float64("from_per_second", float64(current)).
			Float64("to_per_second", float64(next)).
			Msg("rate limit raised after sustained successes")
	}
}

// Rate returns the current admission rate in calls per second.
func (l *Limiter) Rate() float64 {
	return float64(l.rl.Limit())
}
