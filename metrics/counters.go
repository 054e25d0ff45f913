// Package metrics implements the per-agent message-type counter: it counts each
// published message type and is attached to the VALUE_SELECTED publication.
package metrics

import (
	"sync"
	"sync/atomic"

	"ddcop/message"
)

// Counters counts published messages per Tag for a single agent. Counts are integral,
// so they use sync/atomic.Int64 directly rather than atomic_float.AtomicFloat64 (that
// type exists specifically to make a float safe for lock-free CAS updates; counts
// need no such thing, and reaching for it here would add an unnecessary float<->int
// conversion at every increment).
type Counters struct {
	mu     sync.RWMutex
	counts map[message.Tag]*atomic.Int64
}

// New returns an empty Counters.
func New() *Counters {
	return &Counters{counts: map[message.Tag]*atomic.Int64{}}
}

// Count increments the counter for tag and returns its new value.
func (c *Counters) Count(tag message.Tag) int64 {
	c.mu.RLock()
	counter, ok := c.counts[tag]
	c.mu.RUnlock()
	if !ok {
		c.mu.Lock()
		counter, ok = c.counts[tag]
		if !ok {
			counter = &atomic.Int64{}
			c.counts[tag] = counter
		}
		c.mu.Unlock()
	}
	return counter.Add(1)
}

// Snapshot returns a point-in-time copy of all counts, suitable for publishing
// alongside a VALUE_SELECTED message or pushing to a metrics sink.
func (c *Counters) Snapshot() map[message.Tag]int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[message.Tag]int64, len(c.counts))
	for tag, counter := range c.counts {
		out[tag] = counter.Load()
	}
	return out
}

// Total returns the sum of all counters, used for coarse liveness/activity checks.
func (c *Counters) Total() int64 {
	var total int64
	for _, v := range c.Snapshot() {
		total += v
	}
	return total
}
