package queue

import (
	"sync/atomic"
	"time"
)

// monoClock hands out strictly increasing timestamps even when the wall clock
// stalls or steps backwards.
type monoClock struct {
	now  func() time.Time
	last atomic.Int64
}

func (c *monoClock) Next() time.Time {
	for {
		prev := c.last.Load()
		next := c.now().UnixNano()
		if next <= prev {
			next = prev + 1
		}
		if c.last.CompareAndSwap(prev, next) {
			return time.Unix(0, next)
		}
	}
}
