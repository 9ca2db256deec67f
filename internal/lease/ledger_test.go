package lease

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func farFuture() time.Time {
	return time.Now().Add(time.Hour)
}

func TestLedger_Add_ActivatesWithinCapacity(t *testing.T) {
	l := NewLedger()

	active, p1 := l.Add("db", 3, 5, farFuture())
	require.True(t, active)

	active, p2 := l.Add("db", 3, 5, farFuture())
	require.False(t, active)
	assert.NotEqual(t, p1, p2)

	assert.Equal(t, int64(3), l.Count("db"))
}

func TestLedger_Remove_ReturnsSemaphoreName(t *testing.T) {
	l := NewLedger()
	_, id := l.Add("db", 2, 5, farFuture())

	sem, ok := l.Remove(id)
	require.True(t, ok)
	assert.Equal(t, "db", sem)

	_, ok = l.Remove(id)
	assert.False(t, ok, "second remove of the same peer is a no-op")
}

func TestLedger_ResolvePending_Barging(t *testing.T) {
	l := NewLedger()
	_, p1 := l.Add("db", 4, 5, farFuture())  // active
	_, p2 := l.Add("db", 3, 5, farFuture())  // pending, doesn't fit (4+3>5)
	_, p3 := l.Add("db", 1, 5, farFuture())  // active, 4+1<=5

	active, _ := l.HasPending(p1)
	assert.True(t, active)
	active, _ = l.HasPending(p2)
	assert.False(t, active)
	active, _ = l.HasPending(p3)
	assert.True(t, active)

	_, _ = l.Remove(p1)
	l.ResolvePending("db", 5)

	active, _ = l.HasPending(p2)
	assert.True(t, active, "p2 should have been promoted once p1 released")
	assert.Equal(t, int64(4), l.Count("db")) // p2 (3) + p3 (1)
}

func TestLedger_HasPending_UnknownPeer(t *testing.T) {
	l := NewLedger()
	_, ok := l.HasPending(12345)
	assert.False(t, ok)
}

func TestLedger_UpdateValidUntil(t *testing.T) {
	l := NewLedger()
	_, id := l.Add("db", 1, 5, farFuture())

	ok := l.UpdateValidUntil(id, farFuture().Add(time.Minute))
	assert.True(t, ok)

	ok = l.UpdateValidUntil(999, farFuture())
	assert.False(t, ok)
}

func TestLedger_Revenant_FormerlyActiveOverbooks(t *testing.T) {
	l := NewLedger()
	_, _ = l.Add("db", 5, 5, farFuture()) // fills capacity

	l.Revenant(42, "db", 5, true /* wasActive */, 5, farFuture())

	active, ok := l.HasPending(42)
	require.True(t, ok)
	assert.True(t, active, "formerly active revenant is readmitted active even if it overbooks")
	assert.Equal(t, int64(10), l.Count("db"), "overbooking is tolerated, not silently corrected")
}

func TestLedger_Revenant_FormerlyPendingStaysPendingIfFull(t *testing.T) {
	l := NewLedger()
	_, _ = l.Add("db", 5, 5, farFuture())

	l.Revenant(42, "db", 5, false /* wasActive */, 5, farFuture())

	active, ok := l.HasPending(42)
	require.True(t, ok)
	assert.False(t, active)
}

func TestLedger_RemoveExpired(t *testing.T) {
	l := NewLedger()
	now := time.Now()
	_, p1 := l.Add("db", 2, 5, now.Add(-time.Second)) // already expired
	_, p2 := l.Add("db", 2, 5, now.Add(time.Hour))

	removed, affected := l.RemoveExpired(now)
	assert.Equal(t, 1, removed)
	assert.Contains(t, affected, "db")

	_, ok := l.HasPending(p1)
	assert.False(t, ok)
	_, ok = l.HasPending(p2)
	assert.True(t, ok)
}

func TestLedger_FillCounts(t *testing.T) {
	l := NewLedger()
	_, _ = l.Add("db", 3, 5, farFuture())
	_, _ = l.Add("db", 4, 5, farFuture()) // pending, 3+4>5

	counts := map[string]*Counts{"db": {}}
	l.FillCounts(counts)

	assert.Equal(t, int64(3), counts["db"].Active)
	assert.Equal(t, int64(4), counts["db"].Pending)
}

func TestLedger_FillCounts_PanicsOnUnconfiguredSemaphore(t *testing.T) {
	l := NewLedger()
	_, _ = l.Add("db", 1, 5, farFuture())

	assert.Panics(t, func() {
		l.FillCounts(map[string]*Counts{})
	})
}
