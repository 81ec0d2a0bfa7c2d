// ABOUTME: AudioDevice capability surface consumed by the playback engine
// ABOUTME: Optional sub-interfaces (volume/mute/latency) model absent capabilities as absence, not nil checks
package playback

// PullFunc is invoked on the device thread to fill dst with frames
// interleaved float32 samples. It returns the number of frames actually
// produced, which is always frames once the engine is wired up (short
// reads are zero-padded internally).
type PullFunc func(dst []float32, frames int) int

// PushFunc is invoked on the device thread with captured input frames, for
// the symmetric record path.
type PushFunc func(src []float32, frames int)

// Device is one audio back-end: a named capability that can offer a
// Playback direction and, optionally, a Record direction. Back-ends that
// only support one direction return nil for the other.
type Device interface {
	Name() string
	Init() error
	Close()
	Playback() Playback
	Record() Record
}

// Playback is the playback direction of a Device. Setup registers the
// pull callback and returns the device's maximum period size, used by the
// latency controller's target-latency calculation.
type Playback interface {
	Setup(channels, sampleRate int, pull PullFunc) (deviceMaxPeriodFrames int, err error)
	Start() error
	Stop() error
}

// Record is the record direction of a Device, a thin pass-through per
// spec.md §1/§6.
type Record interface {
	Start(channels, sampleRate int, push PushFunc) error
	Stop() error
}

// VolumeSetter is an optional Playback/Record capability. Back-ends that
// don't support hardware volume simply don't implement it.
type VolumeSetter interface {
	SetVolume(channels int, volume []uint16) error
}

// MuteSetter is an optional Playback/Record capability.
type MuteSetter interface {
	SetMute(mute bool) error
}

// LatencyReporter is an optional Playback capability: additional output
// latency (in frames) contributed by the back-end beyond the ring buffer,
// e.g. a hardware/driver queue. Used only for the latency telemetry
// sample, never for the control loop itself.
type LatencyReporter interface {
	Latency() int
}
