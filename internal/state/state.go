// Package state wraps the lease ledger behind a single mutex and condition
// variable: the concurrency-coordination layer of the throttle server. It
// implements the admission rule, the blocking acquire protocol, heartbeat,
// release, the expiry sweep, and the metrics snapshot.
package state

import (
	"sync"
	"time"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	log "github.com/sirupsen/logrus"

	"github.com/gravitational/throttle/internal/lease"
)

// State owns the Ledger, the "released" condition variable, and the
// immutable semaphore configuration. Every Ledger read or write happens
// while s.mu is held; BlockUntilAcquired is the only method that suspends,
// and it does so on the condition variable while holding the lock (Go's
// sync.Cond.Wait atomically releases and reacquires it).
type State struct {
	mu         sync.Mutex
	released   *sync.Cond
	ledger     *lease.Ledger
	semaphores map[string]int64
	clock      clockwork.Clock
}

// New builds a State for the given semaphore configuration (name → max).
// The configuration is immutable for the lifetime of the State, per
// spec.md's non-goal of dynamic reconfiguration.
func New(semaphores map[string]int64, clock clockwork.Clock) *State {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	s := &State{
		ledger:     lease.NewLedger(),
		semaphores: semaphores,
		clock:      clock,
	}
	s.released = sync.NewCond(&s.mu)
	return s
}

// Acquire attempts to acquire amount units of semaphore, active immediately
// if capacity allows, pending otherwise. It never blocks or signals
// released: acquiring can only consume capacity, never free it.
func (s *State) Acquire(semaphore string, amount int64, expiresIn time.Duration) (peerID uint64, active bool, err error) {
	max, ok := s.semaphores[semaphore]
	if !ok {
		log.WithField("semaphore", semaphore).Warn("unknown semaphore requested")
		return 0, false, trace.Wrap(lease.ErrUnknownSemaphore, "semaphore %q is not configured", semaphore)
	}
	if amount > max {
		return 0, false, trace.Wrap(&lease.ForeverPendingError{Asked: amount, Max: max})
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	validUntil := s.clock.Now().Add(expiresIn)
	active, peerID = s.ledger.Add(semaphore, amount, max, validUntil)
	if active {
		log.WithFields(log.Fields{"peer_id": peerID, "semaphore": semaphore}).Debug("lease acquired")
	} else {
		log.WithFields(log.Fields{"peer_id": peerID, "semaphore": semaphore}).Debug("lease pending")
	}
	return peerID, active, nil
}

// BlockUntilAcquired waits for peerID's lease to become active, bounded by
// timeout (zero means "poll once"). If the peer has been forgotten (e.g.
// litter collected while the client was offline), it is reinserted as a
// pending revenant first.
func (s *State) BlockUntilAcquired(peerID uint64, semaphore string, amount int64, expiresIn, timeout time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now() // wall clock: timeout is a bound on real wait time, not on lease bookkeeping
	validUntil := s.clock.Now().Add(expiresIn)
	if !s.ledger.UpdateValidUntil(peerID, validUntil) {
		max, ok := s.semaphores[semaphore]
		if !ok {
			return false, trace.Wrap(lease.ErrUnknownSemaphore, "semaphore %q is not configured", semaphore)
		}
		log.WithField("peer_id", peerID).Warn("revenant of peer with pending lease, reacquiring")
		s.ledger.Revenant(peerID, semaphore, amount, false, max, validUntil)
	}

	for {
		active, ok := s.ledger.HasPending(peerID)
		if !ok {
			// Unreachable in practice: the revenant insertion above always
			// leaves the peer present. Kept as a defensive branch per
			// spec.md §4.2.
			log.WithField("peer_id", peerID).Warn("unknown peer blocking to acquire lease")
			return false, trace.Wrap(lease.ErrUnknownPeer, "peer %d not found", peerID)
		}
		if active {
			return true, nil
		}
		elapsed := time.Since(start)
		if elapsed >= timeout {
			return false, nil
		}
		s.waitReleased(timeout - elapsed)
	}
}

// waitReleased blocks on the released condition variable for at most
// timeout. s.mu must be held on entry; it is held again on return.
//
// sync.Cond has no built-in timed wait (unlike Rust's
// Condvar::wait_timeout), so a timer is used to force a wakeup: it grabs
// the lock and broadcasts if the wait hasn't already been satisfied. The
// broadcast is harmless if it races with a real release — the caller
// re-checks lease state in a loop regardless.
func (s *State) waitReleased(timeout time.Duration) {
	timer := time.AfterFunc(timeout, func() {
		s.mu.Lock()
		s.released.Broadcast()
		s.mu.Unlock()
	})
	defer timer.Stop()
	s.released.Wait()
}

// Heartbeat refreshes peerID's deadline, keeping it from being litter
// collected. It never signals released: a heartbeat cannot free capacity.
// This is a no-op from the caller's point of view if called repeatedly with
// the same parameters, modulo the deadline advancing.
func (s *State) Heartbeat(peerID uint64, semaphore string, amount int64, expiresIn time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	validUntil := s.clock.Now().Add(expiresIn)
	if !s.ledger.UpdateValidUntil(peerID, validUntil) {
		max, ok := s.semaphores[semaphore]
		if !ok {
			return trace.Wrap(lease.ErrUnknownSemaphore, "semaphore %q is not configured", semaphore)
		}
		log.WithField("peer_id", peerID).Warn("revenant heartbeat, reacquiring")
		s.ledger.Revenant(peerID, semaphore, amount, false, max, validUntil)
	}
	return nil
}

// Remainder returns max(semaphore) - count(semaphore). It may be negative
// if a revenant caused the semaphore to be overbooked (see
// lease.Ledger.Revenant).
func (s *State) Remainder(semaphore string) (int64, error) {
	max, ok := s.semaphores[semaphore]
	if !ok {
		return 0, trace.Wrap(lease.ErrUnknownSemaphore, "semaphore %q is not configured", semaphore)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return max - s.ledger.Count(semaphore), nil
}

// Release removes peerID's lease, if any, resolves any pending leases that
// now fit, and wakes any goroutine blocked in BlockUntilAcquired. It
// returns true iff a lease was actually removed; a second release of the
// same peer id is a no-op returning false.
func (s *State) Release(peerID uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	semaphore, ok := s.ledger.Remove(peerID)
	if !ok {
		log.WithField("peer_id", peerID).Debug("release of unknown peer")
		return false
	}

	max := s.semaphores[semaphore] // invariant: every lease references a configured semaphore
	s.ledger.ResolvePending(semaphore, max)
	s.released.Broadcast()
	return true
}

// RemoveExpired sweeps the ledger for leases whose deadline has passed. For
// every semaphore that lost at least one lease, it drives ResolvePending to
// fixed point before broadcasting on released — this is the corrected
// behavior discussed in spec.md §9: an expiry sweep on its own used to
// leave freed capacity unused until the next explicit release.
func (s *State) RemoveExpired() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed, affected := s.ledger.RemoveExpired(s.clock.Now())
	if removed == 0 {
		return 0
	}
	for semaphore := range affected {
		s.ledger.ResolvePending(semaphore, s.semaphores[semaphore])
	}
	s.released.Broadcast()
	log.WithField("count", removed).Warn("removed expired leases")
	return removed
}

// Snapshot returns the active/pending amount for every configured
// semaphore, for metrics reporting.
func (s *State) Snapshot() map[string]lease.Counts {
	counts := make(map[string]*lease.Counts, len(s.semaphores))
	for semaphore := range s.semaphores {
		counts[semaphore] = &lease.Counts{}
	}

	s.mu.Lock()
	s.ledger.FillCounts(counts)
	s.mu.Unlock()

	out := make(map[string]lease.Counts, len(counts))
	for semaphore, c := range counts {
		out[semaphore] = *c
	}
	return out
}

// Max returns the configured maximum for semaphore, mainly for use by the
// metrics reporter (throttle_full_count is a static gauge).
func (s *State) Max(semaphore string) (int64, bool) {
	max, ok := s.semaphores[semaphore]
	return max, ok
}

// Semaphores returns the set of configured semaphore names.
func (s *State) Semaphores() []string {
	names := make([]string, 0, len(s.semaphores))
	for name := range s.semaphores {
		names = append(names, name)
	}
	return names
}
