// File: internal/monitor/clock.go
// Brief: Tick scheduling abstraction so tests can drive time.

package monitor

import (
	"context"
	"time"
)

// Clock schedules the inter-tick waits of the monitoring loop. Tests supply
// a scripted implementation instead of real time.
type Clock interface {
	Now() time.Time
	// Tick waits one interval or until the context is cancelled.
	Tick(ctx context.Context, interval time.Duration) error
}

type realClock struct{}

// RealClock returns the wall-time clock.
func RealClock() Clock { return realClock{} }

func (realClock) Now() time.Time { return time.Now() }

func (realClock) Tick(ctx context.Context, interval time.Duration) error {
	timer := time.NewTimer(interval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
