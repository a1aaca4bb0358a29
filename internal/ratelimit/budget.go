// Package ratelimit implements the shared request budget for the content
// source: a token bucket sized to a rolling-hour quota, randomized pacing
// delays, and a sticky block flag. All fetch calls pass through one Budget so
// the quota and block state stay process-wide and ordered.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/reelwatch/reelwatch/internal/clock"
	"github.com/reelwatch/reelwatch/internal/metrics"
)

// ErrBlocked is returned once the source has hard-blocked the client. The
// flag is sticky for the remainder of the run; Reset clears it.
var ErrBlocked = errors.New("source blocked")

// Config holds request budget configuration.
type Config struct {
	// RequestsPerHour is the sustained hourly request allowance. The bucket
	// starts full, so the first hour after startup can admit up to twice
	// this before steady-state pacing takes over.
	RequestsPerHour int
	// JitterMin/JitterMax bound the uniform pre-request delay.
	JitterMin time.Duration
	JitterMax time.Duration
	// PauseChance is the probability of an extended idle pause after a
	// successful fetch, with PauseMin/PauseMax bounding its length.
	PauseChance float64
	PauseMin    time.Duration
	PauseMax    time.Duration
}

// SleepFunc waits for d or until the context is done. Injected in tests.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Budget serializes and paces outbound source requests.
type Budget struct {
	mu      sync.Mutex
	lim     *rate.Limiter
	blocked bool

	cfg   Config
	clk   clock.Clock
	sleep SleepFunc
	rng   *rand.Rand
}

// Option customizes a Budget, primarily for tests.
type Option func(*Budget)

// WithSleep replaces the blocking sleep primitive.
func WithSleep(sleep SleepFunc) Option {
	return func(b *Budget) { b.sleep = sleep }
}

// WithRand replaces the jitter source.
func WithRand(rng *rand.Rand) Option {
	return func(b *Budget) { b.rng = rng }
}

// New creates a Budget. The token bucket holds a full hour of quota and
// refills at quota-per-hour. The bucket starts full: a fresh process can
// spend an hour's allowance immediately and, with the refill, see up to
// twice the quota in its first hour. Every later hour is capped at the
// quota.
func New(cfg Config, clk clock.Clock, opts ...Option) *Budget {
	if cfg.RequestsPerHour <= 0 {
		cfg.RequestsPerHour = 1
	}
	perToken := time.Hour / time.Duration(cfg.RequestsPerHour)
	b := &Budget{
		lim:   rate.NewLimiter(rate.Every(perToken), cfg.RequestsPerHour),
		cfg:   cfg,
		clk:   clk,
		sleep: sleepCtx,
		rng:   rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Wait blocks until a request slot is available, plus a randomized jitter
// delay. It fails fast with ErrBlocked while the block flag is set.
func (b *Budget) Wait(ctx context.Context) error {
	b.mu.Lock()
	if b.blocked {
		b.mu.Unlock()
		return ErrBlocked
	}
	now := b.clk.Now()
	res := b.lim.ReserveN(now, 1)
	if !res.OK() {
		b.mu.Unlock()
		return fmt.Errorf("request budget cannot grant a slot")
	}
	delay := res.DelayFrom(now) + b.jitter()
	b.mu.Unlock()

	if delay > 0 {
		metrics.ObserveRateLimitWait(delay)
		if err := b.sleep(ctx, delay); err != nil {
			return fmt.Errorf("budget wait: %w", err)
		}
	}
	return nil
}

// Cooldown occasionally inserts an extended idle pause after a successful
// fetch to break up the request rhythm.
func (b *Budget) Cooldown(ctx context.Context) error {
	b.mu.Lock()
	hit := b.cfg.PauseChance > 0 && b.rng.Float64() < b.cfg.PauseChance
	var pause time.Duration
	if hit {
		pause = b.randomBetween(b.cfg.PauseMin, b.cfg.PauseMax)
	}
	b.mu.Unlock()

	if !hit || pause <= 0 {
		return nil
	}
	if err := b.sleep(ctx, pause); err != nil {
		return fmt.Errorf("budget cooldown: %w", err)
	}
	return nil
}

// MarkBlocked flips the sticky block flag.
func (b *Budget) MarkBlocked() {
	b.mu.Lock()
	b.blocked = true
	b.mu.Unlock()
}

// Blocked reports whether the block flag is set.
func (b *Budget) Blocked() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.blocked
}

// Reset clears the block flag. Called at the start of each scheduler run.
func (b *Budget) Reset() {
	b.mu.Lock()
	b.blocked = false
	b.mu.Unlock()
}

func (b *Budget) jitter() time.Duration {
	return b.randomBetween(b.cfg.JitterMin, b.cfg.JitterMax)
}

// randomBetween returns a uniform duration in [min, max]. Caller holds b.mu.
func (b *Budget) randomBetween(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	return min + time.Duration(b.rng.Int63n(int64(max-min)))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
