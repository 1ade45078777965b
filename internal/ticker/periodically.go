package ticker

import (
	"context"
	"fmt"
	"time"
)

// Periodically runs the provided task function at the specified interval until the context is done or an error occurs.
func Periodically(ctx context.Context, interval time.Duration, task func(context.Context) error) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := task(ctx); err != nil {
				return fmt.Errorf("periodic task failed: %w", err)
			}
		}
	}
}

// Beater reports when a period has elapsed since it last fired. It is polled from a heartbeat
// loop rather than driven by its own timer, so several beaters can share one goroutine.
type Beater struct {
	period time.Duration
	last   time.Time
}

func NewBeater(period time.Duration, start time.Time) *Beater {
	return &Beater{period: period, last: start}
}

// Due returns true at most once per period and restarts the period from now when it does.
func (b *Beater) Due(now time.Time) bool {
	if now.Sub(b.last) <= b.period {
		return false
	}
	b.last = now
	return true
}
