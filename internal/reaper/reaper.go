// Package reaper runs the background retention sweeps: stale viewer
// presences are force-detached, soft-deleted sessions past their retention
// window are physically removed, and expired moderation log entries are
// purged.
package reaper

import (
	"context"
	"log/slog"
	"time"
)

type sessionPurger interface {
	PurgeExpired(ctx context.Context, limit int) (int, error)
}

type staleSweeper interface {
	SweepStale(ctx context.Context, limit int) (int, error)
}

type logSweeper interface {
	SweepExpired(ctx context.Context, limit int) (int, error)
}

// Ticker abstracts time.Ticker so tests can drive sweeps deterministically.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type timeTicker struct {
	ticker *time.Ticker
}

func (t timeTicker) C() <-chan time.Time { return t.ticker.C }
func (t timeTicker) Stop()               { t.ticker.Stop() }

// TickerFactory builds the ticker driving the sweep loop.
type TickerFactory func(time.Duration) Ticker

const (
	DefaultInterval  = 30 * time.Second
	DefaultBatchSize = 100
)

// Reaper periodically drives the three retention sweeps.
type Reaper struct {
	sessions  sessionPurger
	viewers   staleSweeper
	modLog    logSweeper
	logger    *slog.Logger
	interval  time.Duration
	batchSize int
	newTicker TickerFactory
}

// Option adjusts reaper construction.
type Option func(*Reaper)

// WithInterval sets the sweep period.
func WithInterval(d time.Duration) Option {
	return func(r *Reaper) {
		if d > 0 {
			r.interval = d
		}
	}
}

// WithBatchSize bounds how many records each sweep touches per tick.
func WithBatchSize(n int) Option {
	return func(r *Reaper) {
		if n > 0 {
			r.batchSize = n
		}
	}
}

// WithTicker replaces the wall-clock ticker, for tests.
func WithTicker(factory TickerFactory) Option {
	return func(r *Reaper) {
		if factory != nil {
			r.newTicker = factory
		}
	}
}

// New assembles a reaper over the lifecycle manager, presence tracker, and
// moderation service.
func New(sessions sessionPurger, viewers staleSweeper, modLog logSweeper, logger *slog.Logger, opts ...Option) *Reaper {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Reaper{
		sessions:  sessions,
		viewers:   viewers,
		modLog:    modLog,
		logger:    logger,
		interval:  DefaultInterval,
		batchSize: DefaultBatchSize,
		newTicker: func(d time.Duration) Ticker {
			return timeTicker{ticker: time.NewTicker(d)}
		},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run blocks, sweeping on every tick until the context is cancelled.
func (r *Reaper) Run(ctx context.Context) error {
	ticker := r.newTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C():
			r.SweepOnce(ctx)
		}
	}
}

// SweepOnce runs each sweep a single time. Failures are logged and do not
// stop the remaining sweeps; the next tick retries.
func (r *Reaper) SweepOnce(ctx context.Context) {
	if r.viewers != nil {
		if detached, err := r.viewers.SweepStale(ctx, r.batchSize); err != nil {
			r.logger.Error("stale presence sweep failed", "error", err)
		} else if detached > 0 {
			r.logger.Info("detached stale viewers", "count", detached)
		}
	}
	if r.sessions != nil {
		if purged, err := r.sessions.PurgeExpired(ctx, r.batchSize); err != nil {
			r.logger.Error("session purge failed", "error", err)
		} else if purged > 0 {
			r.logger.Info("purged expired sessions", "count", purged)
		}
	}
	if r.modLog != nil {
		if purged, err := r.modLog.SweepExpired(ctx, r.batchSize); err != nil {
			r.logger.Error("moderation log sweep failed", "error", err)
		} else if purged > 0 {
			r.logger.Info("purged expired moderation entries", "count", purged)
		}
	}
}
