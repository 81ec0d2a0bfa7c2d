// ABOUTME: Tests for the PlaybackEngine state machine and pull/push orchestration
// ABOUTME: Uses a fake Device to drive SETUP/RUN/DRAIN/STOP without real hardware
package playback

import (
	"testing"
	"time"
)

const testSampleRate = 48000

// fakeDevice is a Device whose Playback() is itself; it records Start/Stop
// calls and any volume/mute forwarded to it, and lets the test drive the
// pull callback directly.
type fakeDevice struct {
	maxPeriod int
	pull      PullFunc

	startCount int
	stopCount  int

	lastVolume []uint16
	lastMute   bool
}

func (d *fakeDevice) Name() string  { return "fake" }
func (d *fakeDevice) Init() error   { return nil }
func (d *fakeDevice) Close()        {}
func (d *fakeDevice) Playback() Playback { return d }
func (d *fakeDevice) Record() Record     { return nil }

func (d *fakeDevice) Setup(channels, sampleRate int, pull PullFunc) (int, error) {
	d.pull = pull
	return d.maxPeriod, nil
}

func (d *fakeDevice) Start() error { d.startCount++; return nil }
func (d *fakeDevice) Stop() error  { d.stopCount++; return nil }

func (d *fakeDevice) SetVolume(channels int, volume []uint16) error {
	d.lastVolume = append([]uint16(nil), volume...)
	return nil
}

func (d *fakeDevice) SetMute(mute bool) error {
	d.lastMute = mute
	return nil
}

// fakeClock gives tests a controllable monotonic source for Engine.nowFunc.
type fakeClock struct{ t int64 }

func (c *fakeClock) now() int64 { return c.t }

func pcm16Silence(frames, channels int) []byte {
	return make([]byte, frames*channels*2)
}

func TestEngineStartEntersSetup(t *testing.T) {
	e := New()
	clk := &fakeClock{}
	e.nowFunc = clk.now
	dev := &fakeDevice{maxPeriod: 1024}

	if err := e.Start(2, testSampleRate, dev); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if e.State() != StateSetup {
		t.Fatalf("expected SETUP after Start, got %v", e.State())
	}
	if dev.startCount != 0 {
		t.Fatalf("expected device Start deferred until the priming threshold, got %d", dev.startCount)
	}
	if dev.pull == nil {
		t.Fatal("expected Setup to register a pull callback")
	}
}

// TestEnginePrimingThreshold covers S3: with periodFrames=480 and
// deviceMaxPeriodFrames=1024, RUN must not begin before
// nextPosition >= 2*480 + 2*1024 = 3008 frames submitted.
func TestEnginePrimingThreshold(t *testing.T) {
	e := New()
	clk := &fakeClock{}
	e.nowFunc = clk.now
	dev := &fakeDevice{maxPeriod: 1024}

	if err := e.Start(2, testSampleRate, dev); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	const periodFrames = 480
	periodNS := int64(float64(periodFrames) / testSampleRate * 1e9)
	pcm := pcm16Silence(periodFrames, 2)

	const maxIterations = 20
	ranToRun := false
	for i := 0; i < maxIterations; i++ {
		clk.t += periodNS
		e.Submit(pcm)
		if e.State() == StateRun {
			ranToRun = true
			break
		}
	}

	if !ranToRun {
		t.Fatalf("engine never reached RUN within %d periods", maxIterations)
	}
	if threshold := int64(2*periodFrames + 2*1024); e.source.clock.NextPosition < threshold {
		t.Fatalf("engine entered RUN at nextPosition %d, below the priming threshold %d", e.source.clock.NextPosition, threshold)
	}
	if dev.startCount != 1 {
		t.Fatalf("expected device Start called exactly once on reaching RUN, got %d", dev.startCount)
	}
}

// TestEngineIgnoresSubmitWhenStopped covers the "ignore unless SETUP/RUN"
// rule in spec.md §4.6's push path.
func TestEngineIgnoresSubmitWhenStopped(t *testing.T) {
	e := New()
	e.nowFunc = (&fakeClock{}).now

	if e.State() != StateStop {
		t.Fatalf("expected fresh engine to start STOP, got %v", e.State())
	}

	// Submit before Start must not panic and must leave state untouched.
	e.Submit(pcm16Silence(480, 2))
	if e.State() != StateStop {
		t.Fatalf("expected state to remain STOP, got %v", e.State())
	}
}

// TestEngineDrainTransitionsToStopWhenBufferEmpty covers S4: the device
// thread keeps pulling until the buffer empties, then transitions to STOP
// on its own and tears down the back-end.
func TestEngineDrainTransitionsToStopWhenBufferEmpty(t *testing.T) {
	e := New()
	clk := &fakeClock{}
	e.nowFunc = clk.now
	dev := &fakeDevice{maxPeriod: 256}

	if err := e.Start(2, testSampleRate, dev); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	periodNS := int64(256.0 / testSampleRate * 1e9)
	// Pull once to prime the device PLL (no data yet, fine: short reads are
	// zero-padded).
	dst := make([]float32, 256*2)
	dev.pull(dst, 256)

	done := make(chan struct{})
	e.Stop(func() { close(done) })
	if e.State() != StateDrain {
		t.Fatalf("expected DRAIN after Stop, got %v", e.State())
	}

	// Buffer is already empty (nothing was ever submitted), so this next
	// pull observes DRAIN+empty and dispatches teardown asynchronously.
	clk.t += periodNS
	dev.pull(dst, 256)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("drain never completed")
	}

	if e.State() != StateStop {
		t.Fatalf("expected STOP after drain completion, got %v", e.State())
	}
	if dev.stopCount != 1 {
		t.Fatalf("expected device Stop called exactly once, got %d", dev.stopCount)
	}
}

func TestEnginePullFramesZeroPadsUnderrun(t *testing.T) {
	e := New()
	clk := &fakeClock{}
	e.nowFunc = clk.now
	dev := &fakeDevice{maxPeriod: 128}

	if err := e.Start(1, testSampleRate, dev); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	dst := make([]float32, 128)
	for i := range dst {
		dst[i] = 1 // poison, to prove zero-padding overwrites it
	}
	got := dev.pull(dst, 128)
	if got != 128 {
		t.Fatalf("expected pullFrames to report full frame count, got %d", got)
	}
	for i, v := range dst {
		if v != 0 {
			t.Fatalf("expected zero-padded silence at index %d, got %v", i, v)
		}
	}
}

func TestEngineApplyVolumeAndMuteForwardToDevice(t *testing.T) {
	e := New()
	e.nowFunc = (&fakeClock{}).now
	dev := &fakeDevice{maxPeriod: 512}

	if err := e.Start(2, testSampleRate, dev); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	e.ApplyVolume(2, []uint16{0x8000, 0x8000})
	if len(dev.lastVolume) != 2 || dev.lastVolume[0] != 0x8000 {
		t.Fatalf("expected volume forwarded to device, got %v", dev.lastVolume)
	}

	e.ApplyMute(true)
	if !dev.lastMute {
		t.Fatal("expected mute forwarded to device")
	}
}

// TestEngineFreeIsIdempotent covers teardown being reachable from both the
// device thread (drain completion) and the source thread (Free) without
// double-stopping the back-end.
func TestEngineFreeIsIdempotent(t *testing.T) {
	e := New()
	e.nowFunc = (&fakeClock{}).now
	dev := &fakeDevice{maxPeriod: 256}

	if err := e.Start(2, testSampleRate, dev); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	e.Free()
	e.Free()

	if dev.stopCount != 1 {
		t.Fatalf("expected device Stop called exactly once across repeated Free, got %d", dev.stopCount)
	}
	if e.State() != StateStop {
		t.Fatalf("expected STOP after Free, got %v", e.State())
	}
}

// TestEngineStartWhileActiveTearsDownFirst covers "any active -> STOP
// directly: start() called while active".
func TestEngineStartWhileActiveTearsDownFirst(t *testing.T) {
	e := New()
	e.nowFunc = (&fakeClock{}).now
	dev1 := &fakeDevice{maxPeriod: 256}

	if err := e.Start(2, testSampleRate, dev1); err != nil {
		t.Fatalf("first Start failed: %v", err)
	}

	dev2 := &fakeDevice{maxPeriod: 512}
	if err := e.Start(2, testSampleRate, dev2); err != nil {
		t.Fatalf("second Start failed: %v", err)
	}

	if dev1.stopCount != 1 {
		t.Fatalf("expected first device stopped once on restart, got %d", dev1.stopCount)
	}
	if e.State() != StateSetup {
		t.Fatalf("expected SETUP after restart, got %v", e.State())
	}
}
