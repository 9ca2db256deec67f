// Package lease implements the ledger of peer leases against named
// semaphores: the bookkeeping engine described by the throttle server's
// core. It holds no lock of its own; callers (see package state) serialize
// access to it.
package lease

import (
	"errors"
	"fmt"
	"time"
)

// ErrUnknownSemaphore is returned whenever a request refers to a semaphore
// absent from the configured universe.
var ErrUnknownSemaphore = errors.New("unknown semaphore")

// ErrUnknownPeer is returned whenever an operation requiring an existing
// peer id is given one the ledger has never seen (or has already forgotten).
var ErrUnknownPeer = errors.New("unknown peer")

// ForeverPendingError is returned by Acquire when the requested amount
// exceeds the semaphore's configured maximum: the lease could never become
// active, no matter how long the caller waited, so the request is refused
// outright instead of being parked forever.
type ForeverPendingError struct {
	Asked int64
	Max   int64
}

func (e *ForeverPendingError) Error() string {
	return fmt.Sprintf("acquiring lease would block forever: asked for %d, full count is only %d", e.Asked, e.Max)
}

// Counts aggregates the active and pending amounts held against a single
// semaphore.
type Counts struct {
	Active  int64
	Pending int64
}

// peer is one entry of the ledger: a peer's single outstanding lease.
//
// A peer can hold only one lease at a time; re-acquiring under the same
// peer id is not part of the public surface.
type peer struct {
	semaphore  string
	amount     int64
	active     bool
	validUntil time.Time
}

func (p *peer) countActive(semaphore string) int64 {
	if p.active && p.semaphore == semaphore {
		return p.amount
	}
	return 0
}

// activateViable flips a pending peer to active if it matches semaphore and
// fits within the remaining capacity, decrementing remainder in place.
func (p *peer) activateViable(semaphore string, remainder *int64) {
	if !p.active && p.semaphore == semaphore && *remainder >= p.amount {
		p.active = true
		*remainder -= p.amount
	}
}
