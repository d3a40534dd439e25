// Package telemetry keeps a continuously refreshed snapshot of vehicle
// telemetry so status queries and movement-verifying handlers never block on
// the vehicle link.
package telemetry

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/flightdeck-io/flightdeck/internal/backend"
	"github.com/flightdeck-io/flightdeck/internal/command"
	"github.com/flightdeck-io/flightdeck/internal/pkg/metrics"
	"github.com/flightdeck-io/flightdeck/pkg/log"
)

// Cache polls the backend at a fixed interval and atomically replaces the
// latest snapshot. Readers get an immutable snapshot plus its age and decide
// staleness semantics themselves.
type Cache struct {
	backend  backend.Backend
	interval time.Duration

	latest atomic.Pointer[entry]
	misses atomic.Uint64
}

type entry struct {
	snap backend.TelemetrySnapshot
	at   time.Time
}

var _ command.TelemetryReader = (*Cache)(nil)

// NewCache creates a cache polling b every interval.
func NewCache(b backend.Backend, interval time.Duration) *Cache {
	return &Cache{backend: b, interval: interval}
}

// Run polls until ctx is done. A failed poll leaves the previous snapshot in
// place and increments the miss counter; the poller never stops on backend
// errors.
func (c *Cache) Run(ctx context.Context) error {
	logger := log.WithName("telemetry")
	logger.Info("Telemetry poller started", "interval", c.interval)

	c.poll(ctx, logger)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("Telemetry poller stopped")
			return nil
		case <-ticker.C:
			c.poll(ctx, logger)
		}
	}
}

func (c *Cache) poll(ctx context.Context, logger log.Logger) {
	// Bound each backend read to one interval so a stuck link never delays
	// the next tick by more than one period.
	pollCtx, cancel := context.WithTimeout(ctx, c.interval)
	defer cancel()

	snap, err := c.backend.Telemetry(pollCtx)
	if err != nil {
		c.misses.Add(1)
		metrics.TelemetryPollMisses.Inc()
		logger.Debug("Telemetry poll failed", "err", err, "misses", c.misses.Load())
	} else {
		c.latest.Store(&entry{snap: snap, at: time.Now()})
	}

	if e := c.latest.Load(); e != nil {
		metrics.TelemetryAge.Set(time.Since(e.at).Seconds())
	}
}

// Latest returns the newest snapshot, its age, and whether any snapshot has
// been produced yet. It never touches the backend.
func (c *Cache) Latest() (backend.TelemetrySnapshot, time.Duration, bool) {
	e := c.latest.Load()
	if e == nil {
		return backend.TelemetrySnapshot{}, 0, false
	}
	return e.snap, time.Since(e.at), true
}

// Misses returns the number of failed polls since startup.
func (c *Cache) Misses() uint64 {
	return c.misses.Load()
}

// Interval returns the configured polling interval. Callers use it to turn
// an age into a missed-interval count when deciding connectivity.
func (c *Cache) Interval() time.Duration {
	return c.interval
}
