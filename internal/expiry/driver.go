// Package expiry implements the external periodic caller described in
// spec.md §4.3: it invokes State.RemoveExpired at a fixed cadence so that a
// crashed client's lease is eventually litter collected. The core's
// liveness depends on this driver running; its correctness does not.
package expiry

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	log "github.com/sirupsen/logrus"
)

// Sweeper is the subset of state.State the driver needs.
type Sweeper interface {
	RemoveExpired() int
}

// Driver ticks on Interval and calls Sweeper.RemoveExpired on every tick.
type Driver struct {
	Sweeper  Sweeper
	Interval time.Duration
	Clock    clockwork.Clock
}

// NewDriver builds a Driver. If clock is nil, a real clock is used.
func NewDriver(sweeper Sweeper, interval time.Duration, clock clockwork.Clock) *Driver {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Driver{Sweeper: sweeper, Interval: interval, Clock: clock}
}

// Run ticks until ctx is cancelled. It is meant to be run as a background
// job under internal/procutil.Process.
func (d *Driver) Run(ctx context.Context) error {
	ticker := d.Clock.NewTicker(d.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.Chan():
			if n := d.Sweeper.RemoveExpired(); n > 0 {
				log.WithField("count", n).Debug("litter collection removed expired leases")
			}
		}
	}
}
