// ABOUTME: SPSC hand-off of device-side PLL ticks to the source thread
// ABOUTME: Fixed capacity 16; device writes, source drains all pending each period
package timing

import "github.com/clockmesh/audiobridge/internal/ring"

// Tick is the record the device thread posts after each PLL update.
type Tick struct {
	PeriodFrames int
	NextTime     int64
	NextPosition int64
}

// Channel is a fixed-capacity SPSC queue of device ticks.
type Channel struct {
	ring *ring.Fixed[Tick]
}

// NewChannel creates a timing hand-off with capacity for at least
// minCapacity ticks (spec uses 16).
func NewChannel(minCapacity int) *Channel {
	return &Channel{ring: ring.NewFixed[Tick](minCapacity)}
}

// Post appends one tick. Called only from the device thread, after its own
// PLL update. Non-blocking; silently dropped if the channel is somehow
// full (the source thread drains every period, so this should not happen
// in practice).
func (c *Channel) Post(t Tick) {
	c.ring.Append([]Tick{t})
}

// DrainAll consumes every pending tick in arrival order. Called only from
// the source thread at the top of each submit.
func (c *Channel) DrainAll() []Tick {
	n := c.ring.Count()
	if n == 0 {
		return nil
	}
	out := make([]Tick, n)
	got := c.ring.Consume(out)
	return out[:got]
}
