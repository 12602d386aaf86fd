// Package refresher keeps the live-status record warm independent of client
// traffic. It bypasses the session gate and writes through the gateway's
// refresh path on a fixed cadence.
package refresher

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Target is the gateway surface the refresher drives.
type Target interface {
	Refresh(ctx context.Context, trigger string) (bool, error)
}

// Refresher periodically forces a cache refresh. Failures are logged by the
// gateway and never retried synchronously; the next tick is the retry.
type Refresher struct {
	target Target
	logger *slog.Logger

	mu       sync.Mutex
	interval time.Duration
	changed  chan struct{}
}

// New builds a refresher. A non-positive interval disables the loop until
// SetInterval enables it.
func New(target Target, interval time.Duration, logger *slog.Logger) *Refresher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Refresher{
		target:   target,
		interval: interval,
		logger:   logger.With(slog.String("agent", "refresher")),
		changed:  make(chan struct{}, 1),
	}
}

// SetInterval applies a new cadence. Safe to call while Run is active: the
// loop re-arms on its next wakeup, including waking a disabled loop. A
// non-positive interval disables the schedule.
func (r *Refresher) SetInterval(interval time.Duration) {
	r.mu.Lock()
	if interval == r.interval {
		r.mu.Unlock()
		return
	}
	r.interval = interval
	r.mu.Unlock()

	select {
	case r.changed <- struct{}{}:
	default:
	}
}

func (r *Refresher) currentInterval() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.interval
}

// Run blocks until ctx is canceled, refreshing once per interval. The first
// refresh fires immediately so a cold start serves real data as soon as the
// upstream answers; re-enabling a disabled loop also fires immediately.
func (r *Refresher) Run(ctx context.Context) {
	interval := r.currentInterval()
	if interval > 0 {
		r.logger.Info("scheduled refresh starting", slog.Duration("interval", interval))
		r.tick(ctx)
	} else {
		r.logger.Info("scheduled refresh disabled")
	}

	for {
		if interval <= 0 {
			select {
			case <-ctx.Done():
				r.logger.Info("scheduled refresh stopping")
				return
			case <-r.changed:
				interval = r.currentInterval()
				if interval > 0 {
					r.logger.Info("scheduled refresh starting", slog.Duration("interval", interval))
					r.tick(ctx)
				}
			}
			continue
		}

		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			r.logger.Info("scheduled refresh stopping")
			return
		case <-timer.C:
			r.tick(ctx)
		case <-r.changed:
			timer.Stop()
			next := r.currentInterval()
			if next != interval {
				interval = next
				if interval > 0 {
					r.logger.Info("scheduled refresh cadence changed", slog.Duration("interval", interval))
				} else {
					r.logger.Info("scheduled refresh disabled")
				}
			}
		}
	}
}

func (r *Refresher) tick(ctx context.Context) {
	// The gateway logs success and failure; errors are swallowed here
	// because the schedule itself is the retry mechanism.
	_, _ = r.target.Refresh(ctx, "cron")
}
