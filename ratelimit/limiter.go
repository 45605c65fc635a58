package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/poiesic/taxcrawl/core"
)

// Window horizons.
const (
	Minute = 60 * time.Second
	Hour   = 3600 * time.Second
	Day    = 86400 * time.Second
)

// windowSlack is added to every window wait so the oldest entry has
// definitely aged out when the wait ends.
const windowSlack = time.Second

// Config holds the request ceilings of a Limiter.
type Config struct {
	// MaxPerMinute is the ceiling for the trailing 60 seconds.
	MaxPerMinute int
	// MaxPerHour is the ceiling for the trailing hour.
	MaxPerHour int
	// MaxPerDay is the ceiling for the trailing 24 hours.
	MaxPerDay int
	// MinDelay is the minimum spacing between two consecutive requests.
	MinDelay time.Duration
}

// DefaultConfig returns conservative ceilings suitable for government sites.
func DefaultConfig() Config {
	return Config{
		MaxPerMinute: 10,
		MaxPerHour:   200,
		MaxPerDay:    1000,
		MinDelay:     3 * time.Second,
	}
}

// Validate checks the ceilings are usable.
func (c Config) Validate() error {
	if c.MaxPerMinute < 1 || c.MaxPerHour < 1 || c.MaxPerDay < 1 {
		return fmt.Errorf("%w: rate limits must be positive (minute=%d hour=%d day=%d)",
			core.ErrConfiguration, c.MaxPerMinute, c.MaxPerHour, c.MaxPerDay)
	}
	if c.MinDelay < 0 {
		return fmt.Errorf("%w: request delay must not be negative", core.ErrConfiguration)
	}
	return nil
}

// window is an ordered list of request timestamps within a trailing horizon.
type window struct {
	name    string
	horizon time.Duration
	limit   int
	times   []time.Time
}

// prune drops entries older than the horizon relative to now.
func (w *window) prune(now time.Time) {
	cutoff := now.Add(-w.horizon)
	i := 0
	for i < len(w.times) && !w.times[i].After(cutoff) {
		i++
	}
	if i > 0 {
		w.times = append(w.times[:0], w.times[i:]...)
	}
}

// wait returns how long to wait before this window has headroom, or 0.
func (w *window) wait(now time.Time) time.Duration {
	if len(w.times) < w.limit {
		return 0
	}
	return w.horizon - now.Sub(w.times[0]) + windowSlack
}

// Limiter gates outbound requests across minute, hour and day windows plus a
// minimum inter-request delay. It is safe for concurrent use; acquirers are
// served one at a time.
type Limiter struct {
	config Config
	clock  Clock
	logger *slog.Logger

	// turn serializes acquirers. Holding it spans any waits.
	turn chan struct{}

	// mu guards the window state and is never held across a wait.
	mu          sync.Mutex
	windows     [3]*window
	lastRequest time.Time
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock replaces the wall clock, mainly for tests.
func WithClock(clock Clock) Option {
	return func(l *Limiter) {
		if clock != nil {
			l.clock = clock
		}
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(l *Limiter) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// New creates a Limiter with the given ceilings.
func New(config Config, opts ...Option) (*Limiter, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	l := &Limiter{
		config: config,
		clock:  wallClock{},
		logger: slog.Default(),
		turn:   make(chan struct{}, 1),
		windows: [3]*window{
			{name: "minute", horizon: Minute, limit: config.MaxPerMinute},
			{name: "hour", horizon: Hour, limit: config.MaxPerHour},
			{name: "day", horizon: Day, limit: config.MaxPerDay},
		},
	}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = l.logger.With("component", "rate-limiter")
	return l, nil
}

// Acquire blocks until one more request may be issued, records it and
// returns the total time spent waiting. It returns ctx.Err() if the context
// ends first, in which case nothing is recorded.
func (l *Limiter) Acquire(ctx context.Context) (time.Duration, error) {
	select {
	case l.turn <- struct{}{}:
	case <-ctx.Done():
		return 0, ctx.Err()
	}
	defer func() { <-l.turn }()

	var waited time.Duration

	for {
		wait, name := l.nextWindowWait()
		if wait <= 0 {
			break
		}
		l.logger.Info("rate limit reached, waiting", "window", name, "wait", wait.Round(100*time.Millisecond))
		if err := l.sleep(ctx, wait); err != nil {
			return waited, err
		}
		waited += wait
	}

	if delay := l.remainingDelay(); delay > 0 {
		l.logger.Debug("spacing requests", "wait", delay.Round(100*time.Millisecond))
		if err := l.sleep(ctx, delay); err != nil {
			return waited, err
		}
		waited += delay
	}

	l.record(l.clock.Now())
	return waited, nil
}

// Stats returns a snapshot of window occupancy after pruning. It never blocks
// behind a waiting acquirer.
func (l *Limiter) Stats() core.WindowStats {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	for _, w := range l.windows {
		w.prune(now)
	}
	return core.WindowStats{
		RequestsLastMinute: len(l.windows[0].times),
		RequestsLastHour:   len(l.windows[1].times),
		RequestsLastDay:    len(l.windows[2].times),
		MaxPerMinute:       l.config.MaxPerMinute,
		MaxPerHour:         l.config.MaxPerHour,
		MaxPerDay:          l.config.MaxPerDay,
	}
}

// nextWindowWait prunes all windows and reports the wait demanded by the
// first full window in minute, hour, day order.
func (l *Limiter) nextWindowWait() (time.Duration, string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	for _, w := range l.windows {
		w.prune(now)
	}
	for _, w := range l.windows {
		if wait := w.wait(now); wait > 0 {
			return wait, w.name
		}
	}
	return 0, ""
}

func (l *Limiter) remainingDelay() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.lastRequest.IsZero() || l.config.MinDelay == 0 {
		return 0
	}
	since := l.clock.Now().Sub(l.lastRequest)
	if since >= l.config.MinDelay {
		return 0
	}
	return l.config.MinDelay - since
}

func (l *Limiter) record(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, w := range l.windows {
		w.times = append(w.times, now)
	}
	l.lastRequest = now
}

func (l *Limiter) sleep(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-l.clock.After(d):
		return nil
	}
}
