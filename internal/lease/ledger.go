package lease

import (
	"math/rand"
	"time"
)

// Ledger is the in-memory table mapping peer id to lease. It does no
// locking and never blocks; package state serializes all access to it
// behind a single mutex.
type Ledger struct {
	entries map[uint64]*peer
}

// NewLedger returns an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{entries: make(map[uint64]*peer)}
}

// Add creates a new lease for a fresh peer id. The lease is active iff
// admitting it would not push the semaphore's count past max. Callers must
// have already checked that amount > 0 and that semaphore is configured.
func (l *Ledger) Add(semaphore string, amount, max int64, validUntil time.Time) (active bool, peerID uint64) {
	peerID = l.newUniquePeerID()
	active = l.Count(semaphore)+amount <= max
	l.entries[peerID] = &peer{
		semaphore:  semaphore,
		amount:     amount,
		active:     active,
		validUntil: validUntil,
	}
	return active, peerID
}

// Count sums amount over active leases held against semaphore.
func (l *Ledger) Count(semaphore string) int64 {
	var total int64
	for _, p := range l.entries {
		total += p.countActive(semaphore)
	}
	return total
}

// Remove evicts peerID's lease and returns the semaphore name it was held
// against. ok is false if no such peer existed.
func (l *Ledger) Remove(peerID uint64) (semaphore string, ok bool) {
	p, ok := l.entries[peerID]
	if !ok {
		return "", false
	}
	delete(l.entries, peerID)
	return p.semaphore, true
}

// ResolvePending activates pending leases against semaphore, first-fit by
// map iteration order, until the semaphore's remaining capacity is
// exhausted. This is the "barging" policy of spec.md §4.1: not FIFO, a
// later small lease may be admitted ahead of an earlier larger one that no
// longer fits.
func (l *Ledger) ResolvePending(semaphore string, max int64) {
	remainder := max - l.Count(semaphore)
	if remainder <= 0 {
		return
	}
	for _, p := range l.entries {
		if remainder <= 0 {
			return
		}
		p.activateViable(semaphore, &remainder)
	}
}

// HasPending reports whether peerID's lease is active. The name is
// preserved from the original design: the boolean it returns means "is
// active", not "is pending". ok is false if the peer is absent.
func (l *Ledger) HasPending(peerID uint64) (active bool, ok bool) {
	p, ok := l.entries[peerID]
	if !ok {
		return false, false
	}
	return p.active, true
}

// UpdateValidUntil advances peerID's deadline. It returns false if the peer
// is absent, in which case the caller is expected to fall back to Revenant.
func (l *Ledger) UpdateValidUntil(peerID uint64, validUntil time.Time) bool {
	p, ok := l.entries[peerID]
	if !ok {
		return false
	}
	p.validUntil = validUntil
	return true
}

// Revenant reinserts a lease at a caller-supplied peer id: used when a
// client believes it still holds a lease the server has already litter
// collected. A formerly active revenant is readmitted as active even if
// doing so overbooks the semaphore — evicting in-flight work is worse than
// a transient over-limit. A formerly pending revenant is admitted as
// pending unless capacity happens to be free. peerID must not already be
// present in the ledger.
func (l *Ledger) Revenant(peerID uint64, semaphore string, amount int64, wasActive bool, max int64, validUntil time.Time) {
	active := wasActive || l.Count(semaphore)+amount <= max
	l.entries[peerID] = &peer{
		semaphore:  semaphore,
		amount:     amount,
		active:     active,
		validUntil: validUntil,
	}
}

// RemoveExpired evicts every lease whose deadline has passed. It returns
// the number removed and the set of semaphores that lost at least one
// lease, so the caller can drive ResolvePending to fixed point for exactly
// the semaphores that may now have freed capacity.
func (l *Ledger) RemoveExpired(now time.Time) (removed int, affected map[string]struct{}) {
	for id, p := range l.entries {
		if !now.Before(p.validUntil) {
			delete(l.entries, id)
			removed++
			if affected == nil {
				affected = make(map[string]struct{})
			}
			affected[p.semaphore] = struct{}{}
		}
	}
	return removed, affected
}

// FillCounts aggregates active/pending amounts per semaphore into counts,
// which must already contain one zero-valued entry per configured
// semaphore.
func (l *Ledger) FillCounts(counts map[string]*Counts) {
	for _, p := range l.entries {
		c, ok := counts[p.semaphore]
		if !ok {
			panic("lease: semaphore " + p.semaphore + " not prefilled in counts")
		}
		if p.active {
			c.Active += p.amount
		} else {
			c.Pending += p.amount
		}
	}
}

// newUniquePeerID draws a uniformly random 64-bit id, retrying on the
// astronomically unlikely collision with an existing entry.
func (l *Ledger) newUniquePeerID() uint64 {
	for {
		candidate := rand.Uint64()
		if _, exists := l.entries[candidate]; !exists {
			return candidate
		}
	}
}
