// ABOUTME: PlaybackEngine: state machine, clock-recovery orchestration, pull/push paths
// ABOUTME: Owns both PLLs, the SRC ratio loop, the ring buffer, and startup priming/drain
package playback

import (
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/clockmesh/audiobridge/internal/audio"
	"github.com/clockmesh/audiobridge/internal/latency"
	"github.com/clockmesh/audiobridge/internal/pll"
	"github.com/clockmesh/audiobridge/internal/resample"
	"github.com/clockmesh/audiobridge/internal/ring"
	"github.com/clockmesh/audiobridge/internal/timing"
)

// State is one of the four playback stream states in spec.md §3.
type State int32

const (
	StateStop State = iota
	StateSetup
	StateRun
	StateDrain
)

func (s State) String() string {
	switch s {
	case StateStop:
		return "STOP"
	case StateSetup:
		return "SETUP"
	case StateRun:
		return "RUN"
	case StateDrain:
		return "DRAIN"
	default:
		return "UNKNOWN"
	}
}

const timingChannelCapacity = 16

// deviceData is the device thread's private state: device-side PLL plus
// the cache-line pad that keeps it off the source thread's cache line (the
// two fields are each single-writer, mirroring spec.md §5's
// PlaybackDeviceData/PlaybackSpiceData alignment requirement).
type deviceData struct {
	clock *pll.Clock
	_     [64]byte
}

// spiceData is the source thread's private state, named after the
// reference implementation's PlaybackSpiceData (the "spice" side is the
// source feeding the bridge).
type spiceData struct {
	clock      *pll.Clock
	latencyCtl *latency.Controller
	resampler  *resample.Engine
	_          [64]byte
}

// Engine implements spec.md §4.6: it owns the ring buffer, the device
// timing hand-off, both PLLs, the latency controller, and the resampler,
// and drives the pull (device thread) and push (source thread) paths.
//
// A single Engine instance is reused across Start/Stop cycles; Start
// resets everything it owns.
type Engine struct {
	channels   int
	sampleRate int

	deviceMaxPeriodFrames int

	buffer       *ring.Unbounded[float32]
	deviceTiming *timing.Channel
	graph        *GraphSink

	device deviceData
	source spiceData

	state atomic.Int32

	dev Device

	// nowFunc returns monotonic nanoseconds; overridable in tests.
	nowFunc func() int64

	// released guards device.Stop/resampler.Close idempotency: both the
	// device thread (natural drain completion) and the source thread
	// (Free) can reach teardown, but each device's Stop() must be called
	// exactly once.
	released atomic.Bool

	// onDrainComplete, if set, is invoked from the device thread exactly
	// once when DRAIN transitions to STOP, after teardown. Notification
	// only; may be nil.
	onDrainComplete func()

	s16buf []int16
	f32in  []float32
}

// New creates an idle Engine bound to no device. Start allocates its
// buffers and wires it to dev.
func New() *Engine {
	return &Engine{nowFunc: func() int64 { return time.Now().UnixNano() }}
}

// State returns the current stream state. Safe to call from either
// thread.
func (e *Engine) State() State {
	return State(e.state.Load())
}

// GraphSink returns the per-period latency sample sink, valid for the
// engine's lifetime (including across Start/Stop cycles).
func (e *Engine) GraphSink() *GraphSink {
	if e.graph == nil {
		e.graph = NewGraphSink()
	}
	return e.graph
}

// Start transitions STOP/any-active -> SETUP: allocates the ring buffer
// (capacity = one second of frames), resets both PLLs and the latency
// controller, constructs a resampler, and calls dev.Playback().Setup to
// register the pull callback and learn the device's max period size.
//
// If the engine is already active, Start tears it down immediately first
// (discarding buffered frames), matching spec.md §4.6's "any active ->
// STOP directly: start() called while active".
func (e *Engine) Start(channels, sampleRate int, dev Device) error {
	if e.State() != StateStop {
		e.Free()
	}

	e.channels = channels
	e.sampleRate = sampleRate
	e.dev = dev
	e.released.Store(false)
	e.buffer = ring.NewUnbounded[float32](sampleRate * channels)
	e.deviceTiming = timing.NewChannel(timingChannelCapacity)
	if e.graph == nil {
		e.graph = NewGraphSink()
	}

	e.device = deviceData{clock: pll.New(sampleRate)}
	e.source = spiceData{
		clock:      pll.New(sampleRate),
		latencyCtl: latency.New(),
	}

	resampler, err := resample.New(channels)
	if err != nil {
		log.Printf("playback: resampler init failed: %v", err)
		return fmt.Errorf("playback: start: %w", err)
	}
	e.source.resampler = resampler

	deviceMaxPeriodFrames, err := dev.Playback().Setup(channels, sampleRate, e.pullFrames)
	if err != nil {
		log.Printf("playback: device setup failed: %v", err)
		e.source.resampler.Close()
		return fmt.Errorf("playback: device setup: %w", err)
	}
	e.deviceMaxPeriodFrames = deviceMaxPeriodFrames

	e.state.Store(int32(StateSetup))
	return nil
}

// ApplyVolume forwards to the device's optional VolumeSetter capability.
// A device without hardware volume support silently ignores the call.
func (e *Engine) ApplyVolume(channels int, volume []uint16) {
	if e.dev == nil {
		return
	}
	if vs, ok := e.dev.Playback().(VolumeSetter); ok {
		if err := vs.SetVolume(channels, volume); err != nil {
			log.Printf("playback: set volume: %v", err)
		}
	}
}

// ApplyMute forwards to the device's optional MuteSetter capability.
func (e *Engine) ApplyMute(mute bool) {
	if e.dev == nil {
		return
	}
	if ms, ok := e.dev.Playback().(MuteSetter); ok {
		if err := ms.SetMute(mute); err != nil {
			log.Printf("playback: set mute: %v", err)
		}
	}
}

// Stop initiates a cooperative drain (RUN/SETUP -> DRAIN): no further
// Submit calls are accepted, but the device keeps pulling real buffered
// audio until the ring is empty, at which point the device thread
// transitions to STOP on its own and tears down the back-end (see
// pullFrames). onDrainComplete, if non-nil, is called once teardown
// finishes, from the device thread.
func (e *Engine) Stop(onDrainComplete func()) {
	switch e.State() {
	case StateRun, StateSetup:
		e.onDrainComplete = onDrainComplete
		e.state.Store(int32(StateDrain))
	case StateStop, StateDrain:
		// no-op; already stopped or already draining
	}
}

// Free is the immediate path to STOP: it discards any buffered frames,
// synchronously stops the device (guaranteeing no further callbacks), and
// releases the resampler. Used for start()-while-active and fatal errors.
func (e *Engine) Free() {
	if e.State() == StateStop {
		return
	}
	e.state.Store(int32(StateStop))
	e.teardown()
}

// teardown stops the device synchronously and releases the resampler.
// Idempotent: safe to call from both the device thread (natural drain
// completion) and the source thread (Free).
func (e *Engine) teardown() {
	if !e.released.CompareAndSwap(false, true) {
		return
	}
	if e.dev != nil {
		if err := e.dev.Playback().Stop(); err != nil {
			log.Printf("playback: device stop: %v", err)
		}
	}
	if e.source.resampler != nil {
		e.source.resampler.Close()
		e.source.resampler = nil
	}
}

// Submit is the push path (source thread): spec.md §4.6. Ignored unless
// the engine is SETUP or RUN.
func (e *Engine) Submit(pcm16 []byte) {
	state := e.State()
	if state != StateSetup && state != StateRun {
		return
	}

	stride := audio.Format{Channels: e.channels}.InputStride()
	frames := len(pcm16) / stride
	if frames <= 0 {
		// Degenerate submit (e.g. truncated final chunk); nothing to do and
		// nothing to allocate, so there is no AllocFail path to take here.
		return
	}

	if cap(e.s16buf) < frames*e.channels {
		e.s16buf = make([]int16, frames*e.channels)
		e.f32in = make([]float32, frames*e.channels)
	}
	s16 := e.s16buf[:frames*e.channels]
	f32 := e.f32in[:frames*e.channels]
	audio.BytesToS16Into(s16, pcm16[:frames*stride])
	audio.S16ToF32(f32, s16)

	ticks := e.deviceTiming.DrainAll()
	e.source.latencyCtl.IngestTicks(ticks)

	now := e.nowFunc()
	result := e.source.clock.UpdateSource(now, frames)
	if result.Slewed {
		e.buffer.Append(nil, result.SlewFrames*e.channels)
	}

	ratio, actualOffset := e.source.latencyCtl.Compute(result.CurTime, result.CurPosition, e.source.clock, e.sampleRate, e.deviceMaxPeriodFrames)

	out, err := e.source.resampler.Process(f32, ratio)
	if err != nil {
		log.Printf("playback: resample failed this period: %v", err)
		return
	}
	outFrames := e.source.resampler.OutputFrames(out)
	e.buffer.Append(out, len(out))
	e.source.clock.AdvancePosition(outFrames)

	e.emitLatencySample(actualOffset)

	if state == StateSetup {
		// In the worst case the device can immediately pull two full
		// buffers the moment it starts, and startup latency corrections
		// can be significant given poor early packet pacing, so hold off
		// starting the device until two full source periods plus two
		// maximum-size device periods' worth of data is buffered.
		primingThreshold := int64(2*frames + 2*e.deviceMaxPeriodFrames)
		if e.source.clock.NextPosition >= primingThreshold {
			if err := e.dev.Playback().Start(); err != nil {
				log.Printf("playback: device start failed: %v", err)
				e.state.Store(int32(StateStop))
				e.teardown()
				return
			}
			e.state.Store(int32(StateRun))
		}
	}
}

func (e *Engine) emitLatencySample(actualOffset float64) {
	deviceLatency := 0
	if lr, ok := e.dev.Playback().(LatencyReporter); ok {
		deviceLatency = lr.Latency()
	}
	ms := (actualOffset + float64(deviceLatency)) * 1000.0 / float64(e.sampleRate)
	e.graph.push(ms)
}

// pullFrames is the pull path (device thread): spec.md §4.6. It takes no
// façade lock, but the ring buffer's Consume holds that buffer's short
// internal mutex.
func (e *Engine) pullFrames(dst []float32, frames int) int {
	if e.buffer == nil {
		return 0
	}

	now := e.nowFunc()
	result := e.device.clock.Update(now, frames)
	if result.Slewed {
		e.buffer.Consume(nil, result.SlewFrames*e.channels)
	}

	e.deviceTiming.Post(timing.Tick{
		PeriodFrames: frames,
		NextTime:     e.device.clock.NextTime,
		NextPosition: e.device.clock.NextPosition,
	})

	want := frames * e.channels
	got := e.buffer.Consume(dst[:want], want)
	for i := got; i < want; i++ {
		dst[i] = 0
	}

	if e.State() == StateDrain && e.buffer.Count() <= 0 {
		e.state.Store(int32(StateStop))
		// Stopping the device from inside its own callback can deadlock
		// (the back-end's Stop typically waits for the callback to
		// return), so teardown is dispatched to a separate goroutine
		// rather than run inline here.
		go func() {
			e.teardown()
			if e.onDrainComplete != nil {
				e.onDrainComplete()
			}
		}()
	}

	return frames
}
