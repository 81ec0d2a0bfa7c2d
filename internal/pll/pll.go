// ABOUTME: Second-order type-II phase-locked loop for audio clock recovery
// ABOUTME: Turns jittery callback arrivals into a smoothed (time, position) timeline
package pll

import "math"

// Bandwidth is the fixed loop bandwidth in Hz. An order of magnitude below
// audible modulation; convergence takes a few seconds.
const Bandwidth = 0.05

// SlewThreshold is the absolute clock error, in seconds, past which Update
// slews instead of filtering.
const SlewThreshold = 0.2

// Clock tracks one periodic event stream (a device callback or a source
// submit) as a smoothed (nextTime, nextPosition, periodSec) model. One
// instance belongs to exactly one thread; callers must not share a Clock
// across threads.
//
// The device-side and source-side threads advance NextPosition
// differently: the device always plays exactly the requested frame count,
// so Update advances NextPosition itself. The source side resamples at a
// varying ratio, so its position is only known once the resampler reports
// how many output frames it actually produced — UpdateSource leaves
// NextPosition for the caller to advance (see Clock.AdvancePosition).
type Clock struct {
	sampleRate int

	PeriodFrames int
	PeriodSec    float64
	NextTime     int64
	NextPosition int64
	B            float64
	C            float64
}

// New creates a Clock for the given sample rate. PeriodFrames starts at 0,
// meaning uninitialised — the first Update call primes it.
func New(sampleRate int) *Clock {
	return &Clock{sampleRate: sampleRate}
}

// Result reports what kind of step Update/UpdateSource took, so the caller
// can apply the matching ring-buffer side effect and (for the source
// clock) sample the latency controller at the right moment.
type Result struct {
	Initialized   bool
	PeriodChanged bool
	Slewed        bool
	SlewFrames    int

	// CurTime/CurPosition are meaningful only for UpdateSource: the
	// (time, position) pair the latency controller must sample, captured
	// at the exact point in the sequence the reference implementation
	// captures it (before this period's own position advance).
	CurTime     int64
	CurPosition int64
}

func (c *Clock) recomputeCoefficients() {
	omega := 2.0 * math.Pi * Bandwidth * c.PeriodSec
	c.B = math.Sqrt2 * omega
	c.C = omega * omega
}

// Update advances the device-side clock model given a new callback event:
// wall-clock time now (nanoseconds) and the frame count pulled this period.
// NextPosition is advanced by exactly the frames played, since the device
// never resamples.
func (c *Clock) Update(now int64, frames int) Result {
	switch {
	case c.PeriodFrames == 0:
		c.PeriodSec = float64(frames) / float64(c.sampleRate)
		c.NextTime = now + llrint(c.PeriodSec*1e9)
		c.PeriodFrames = frames
		c.NextPosition += int64(frames)
		c.recomputeCoefficients()
		return Result{Initialized: true}

	case frames != c.PeriodFrames:
		// Double-buffered devices request the new period size one callback
		// before the previous period finishes playing; advance by the old
		// periodSec to keep the predicted wake time honest during the
		// transition.
		c.NextTime += llrint(c.PeriodSec * 1e9)
		c.PeriodFrames = frames
		c.PeriodSec = float64(frames) / float64(c.sampleRate)
		c.NextPosition += int64(frames)
		c.recomputeCoefficients()
		return Result{PeriodChanged: true}

	default:
		errorSec := float64(now-c.NextTime) * 1e-9
		if math.Abs(errorSec) >= SlewThreshold {
			slewFrames := int(llrint(errorSec * float64(c.sampleRate)))

			c.PeriodSec = float64(frames) / float64(c.sampleRate)
			c.NextTime = now + llrint(c.PeriodSec*1e9)
			c.NextPosition += int64(slewFrames) + int64(frames)

			return Result{Slewed: true, SlewFrames: slewFrames}
		}

		c.NextTime += llrint((c.B*errorSec + c.PeriodSec) * 1e9)
		c.PeriodSec += c.C * errorSec
		c.NextPosition += int64(frames)

		return Result{}
	}
}

// UpdateSource advances the source-side clock model. Unlike Update, it
// never touches NextPosition on the non-slew paths — the caller (the
// resampler driver) advances it by the number of output frames actually
// generated, which can differ from frames because of the variable SRC
// ratio. On a slew it advances NextPosition by SlewFrames only, matching
// the reference sequencing pinned in the design notes: CurPosition is
// first computed as NextPosition+SlewFrames, and NextPosition is then set
// to that same value rather than additionally incremented by frames.
func (c *Clock) UpdateSource(now int64, frames int) Result {
	init := c.PeriodFrames == 0

	if init || frames != c.PeriodFrames {
		if init {
			c.NextTime = now
		}

		curTime := c.NextTime
		curPosition := c.NextPosition

		c.PeriodSec = float64(frames) / float64(c.sampleRate)
		c.NextTime += llrint(c.PeriodSec * 1e9)
		c.PeriodFrames = frames
		c.recomputeCoefficients()

		return Result{Initialized: init, PeriodChanged: !init, CurTime: curTime, CurPosition: curPosition}
	}

	errorSec := float64(now-c.NextTime) * 1e-9
	if math.Abs(errorSec) >= SlewThreshold {
		slewFrames := int(llrint(errorSec * float64(c.sampleRate)))

		curTime := now
		curPosition := c.NextPosition + int64(slewFrames)

		c.PeriodSec = float64(frames) / float64(c.sampleRate)
		c.NextTime = now + llrint(c.PeriodSec*1e9)
		c.NextPosition = curPosition

		return Result{Slewed: true, SlewFrames: slewFrames, CurTime: curTime, CurPosition: curPosition}
	}

	curTime := c.NextTime
	curPosition := c.NextPosition

	c.NextTime += llrint((c.B*errorSec + c.PeriodSec) * 1e9)
	c.PeriodSec += c.C * errorSec

	return Result{CurTime: curTime, CurPosition: curPosition}
}

// AdvancePosition advances NextPosition by n frames. The resampler driver
// calls this once per SRC_process iteration with the number of output
// frames generated, which is how the source clock's position tracks
// resampled output rather than raw input.
func (c *Clock) AdvancePosition(n int) {
	c.NextPosition += int64(n)
}

func llrint(f float64) int64 {
	if f >= 0 {
		return int64(f + 0.5)
	}
	return int64(f - 0.5)
}
