package replica

import "sync/atomic"

// Clock is a Lamport clock.
//
// Local ops are stamped with Next. Merged ops advance the clock with Observe so
// that anything written afterwards orders after everything already seen.
// Clock is safe for concurrent use.
type Clock struct {
	t atomic.Int64
}

// NewClockAt creates a clock whose next tick is start+1.
func NewClockAt(start int64) *Clock {
	c := &Clock{}
	c.t.Store(start)
	return c
}

// Next returns the next timestamp and advances the clock.
func (c *Clock) Next() int64 {
	return c.t.Add(1)
}

// Current returns the last issued or observed timestamp.
func (c *Clock) Current() int64 {
	return c.t.Load()
}

// Observe raises the clock to at least seen.
func (c *Clock) Observe(seen int64) {
	for {
		cur := c.t.Load()
		if seen <= cur || c.t.CompareAndSwap(cur, seen) {
			return
		}
	}
}
