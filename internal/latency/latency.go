// ABOUTME: Latency controller: offset-error filtering and PI ratio control
// ABOUTME: Converts device/source position disagreement into an SRC ratio
package latency

import (
	"math"

	"github.com/clockmesh/audiobridge/internal/pll"
	"github.com/clockmesh/audiobridge/internal/timing"
)

// sentinelNone marks "fewer than two device ticks have ever arrived" —
// offset-error computation is skipped until DevLastTime is set.
const sentinelNone = math.MinInt64

const (
	jitterMs = 13
	kp       = 0.5e-6
	ki       = 1.0e-16
)

// Controller lives entirely on the source thread: it interpolates the
// device's reported position, compares it against the source's own
// position, and drives a PI loop that outputs a resampling ratio to close
// the gap.
type Controller struct {
	DevLastTime     int64
	DevLastPosition int64
	DevNextTime     int64
	DevNextPosition int64
	DevPeriodFrames int

	OffsetError         float64
	OffsetErrorIntegral float64
	RatioIntegral       float64
}

// New creates a Controller with no device ticks observed yet.
func New() *Controller {
	return &Controller{DevLastTime: sentinelNone, DevNextTime: sentinelNone}
}

// IngestTicks folds newly drained device ticks into the two-point history
// used for interpolation, shifting latest -> devNext and prior -> devLast
// for each tick in arrival order.
func (c *Controller) IngestTicks(ticks []timing.Tick) {
	for _, t := range ticks {
		c.DevPeriodFrames = t.PeriodFrames
		c.DevLastTime = c.DevNextTime
		c.DevLastPosition = c.DevNextPosition
		c.DevNextTime = t.NextTime
		c.DevNextPosition = t.NextPosition
	}
}

// HasTwoTicks reports whether interpolation is possible yet.
func (c *Controller) HasTwoTicks() bool {
	return c.DevLastTime != sentinelNone
}

// Compute derives the SRC ratio for this period from the source clock's
// predicted (curTime, curPosition) — sampled by the caller *before* this
// period's PLL filter step, per the engine's push-path sequencing.
//
// It returns the ratio to hand to the resampler and the actualOffset (in
// frames) for the latency telemetry sample; actualOffset is 0 until two
// device ticks have arrived.
//
// Subtle but load-bearing: the PI controller and the integral accumulation
// both use the offset error as it stood *before* this period's filter
// update, not the freshly filtered value — preserved from the reference
// sequencing, where the local snapshot is taken before the struct field is
// mutated.
func (c *Controller) Compute(curTime, curPosition int64, srcClock *pll.Clock, sampleRate, deviceMaxPeriodFrames int) (ratio float64, actualOffset float64) {
	oldOffsetError := c.OffsetError

	if c.HasTwoTicks() {
		targetLatency := float64(jitterMs)*float64(sampleRate)/1000.0 + float64(deviceMaxPeriodFrames)*1.1
		if c.DevPeriodFrames < deviceMaxPeriodFrames {
			targetLatency += float64(deviceMaxPeriodFrames - c.DevPeriodFrames)
		}

		span := float64(c.DevNextTime - c.DevLastTime)
		frac := float64(curTime-c.DevLastTime) / span
		devPosition := float64(c.DevLastPosition) + float64(c.DevNextPosition-c.DevLastPosition)*frac

		actualOffset = float64(curPosition) - devPosition
		actualOffsetError := -(actualOffset - targetLatency)

		errTerm := actualOffsetError - oldOffsetError
		oldIntegral := c.OffsetErrorIntegral
		c.OffsetError = oldOffsetError + srcClock.B*errTerm + oldIntegral
		c.OffsetErrorIntegral = oldIntegral + srcClock.C*errTerm
	}

	c.RatioIntegral += oldOffsetError * srcClock.PeriodSec
	ratio = 1.0 + kp*oldOffsetError + ki*c.RatioIntegral
	return ratio, actualOffset
}
