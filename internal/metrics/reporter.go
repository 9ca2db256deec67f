// Package metrics publishes the three gauges described in spec.md §6:
// throttle_full_count, throttle_count, and throttle_pending, one triple per
// configured semaphore. Grounded on the lazy_static! gauge vectors and
// update_metrics method of _examples/original_source/src/state.rs, ported to
// github.com/prometheus/client_golang.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gravitational/throttle/internal/lease"
)

// Snapshotter is the subset of state.State the reporter needs. state.State
// satisfies this interface without modification.
type Snapshotter interface {
	Semaphores() []string
	Max(semaphore string) (int64, bool)
	Snapshot() map[string]lease.Counts
}

// Reporter registers and periodically refreshes the throttle_* gauges on a
// private prometheus.Registry.
type Reporter struct {
	registry  *prometheus.Registry
	fullCount *prometheus.GaugeVec
	count     *prometheus.GaugeVec
	pending   *prometheus.GaugeVec

	state Snapshotter
	clock clockwork.Clock
}

// NewReporter registers the gauge vectors (once, at construction — matching
// the Rust original's lazy_static registration rather than lazy first-use)
// and seeds throttle_full_count immediately from the static semaphore
// configuration, since maxima never change at runtime.
func NewReporter(state Snapshotter, clock clockwork.Clock) *Reporter {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	registry := prometheus.NewRegistry()

	fullCount := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "throttle_full_count",
		Help: "New leases which would increase the count beyond this limit are pending.",
	}, []string{"semaphore"})
	count := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "throttle_count",
		Help: "Accumulated count of all active leases.",
	}, []string{"semaphore"})
	pending := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "throttle_pending",
		Help: "Accumulated count of all pending leases.",
	}, []string{"semaphore"})

	registry.MustRegister(fullCount, count, pending)

	for _, semaphore := range state.Semaphores() {
		if max, ok := state.Max(semaphore); ok {
			fullCount.WithLabelValues(semaphore).Set(float64(max))
		}
	}

	return &Reporter{
		registry:  registry,
		fullCount: fullCount,
		count:     count,
		pending:   pending,
		state:     state,
		clock:     clock,
	}
}

// Report refreshes throttle_count/throttle_pending from a fresh state
// snapshot.
func (r *Reporter) Report() {
	for semaphore, counts := range r.state.Snapshot() {
		r.count.WithLabelValues(semaphore).Set(float64(counts.Active))
		r.pending.WithLabelValues(semaphore).Set(float64(counts.Pending))
	}
}

// Handler exposes the registry over the Prometheus exposition format, for
// mounting at e.g. "/metrics".
func (r *Reporter) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// Run reports on a fixed cadence until ctx is cancelled. It is meant to be
// run as a background job under internal/procutil.Process.
func (r *Reporter) Run(ctx context.Context, interval time.Duration) error {
	ticker := r.clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.Chan():
			r.Report()
		}
	}
}
