package expiry

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
)

type countingSweeper struct {
	calls int64
}

func (c *countingSweeper) RemoveExpired() int {
	atomic.AddInt64(&c.calls, 1)
	return 0
}

func TestDriver_Run_TicksUntilCancelled(t *testing.T) {
	clock := clockwork.NewFakeClock()
	sweeper := &countingSweeper{}
	driver := NewDriver(sweeper, time.Second, clock)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = driver.Run(ctx)
		close(done)
	}()

	clock.BlockUntil(1)
	for i := 0; i < 3; i++ {
		clock.Advance(time.Second)
		clock.BlockUntil(1)
	}

	cancel()
	<-done

	assert.GreaterOrEqual(t, atomic.LoadInt64(&sweeper.calls), int64(3))
}
