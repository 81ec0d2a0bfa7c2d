// ABOUTME: oto-based AudioDevice back-end
// ABOUTME: oto's own playback goroutine reading from an io.Reader IS the device thread's pull callback
package device

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"

	"github.com/clockmesh/audiobridge/internal/playback"
	"github.com/ebitengine/oto/v3"
)

// otoPeriodFrames is reported as the device's max period size. oto does
// not expose the chunk size it requests from its Reader, so this is an
// estimate; the PLL observes and adapts to the real per-Read frame count
// regardless, and this value only seeds the latency target/priming math.
const otoPeriodFrames = 1024

// Oto is an AudioDevice back-end built on github.com/ebitengine/oto/v3.
// It supports playback only; Record returns nil.
type Oto struct {
	mu       sync.Mutex
	ctx      *oto.Context
	player   *oto.Player
	channels int
	volume   float64
	muted    bool
}

// NewOto creates an uninitialized oto back-end.
func NewOto() *Oto {
	return &Oto{volume: 1.0}
}

func (d *Oto) Name() string { return "oto" }

func (d *Oto) Init() error { return nil }

func (d *Oto) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.player != nil {
		d.player.Close()
		d.player = nil
	}
	if d.ctx != nil {
		d.ctx.Suspend()
		d.ctx = nil
	}
}

func (d *Oto) Playback() playback.Playback { return d }
func (d *Oto) Record() playback.Record     { return nil }

// Setup creates the oto context at the requested format and wires pull as
// the Reader oto's playback goroutine drains.
func (d *Oto) Setup(channels, sampleRate int, pull playback.PullFunc) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.channels = channels

	op := &oto.NewContextOptions{
		SampleRate:   sampleRate,
		ChannelCount: channels,
		Format:       oto.FormatFloat32LE,
	}
	ctx, ready, err := oto.NewContext(op)
	if err != nil {
		return 0, fmt.Errorf("oto: new context: %w", err)
	}
	<-ready

	d.ctx = ctx
	d.player = ctx.NewPlayer(&otoReader{channels: channels, pull: pull})
	d.player.SetVolume(d.volume)

	return otoPeriodFrames, nil
}

func (d *Oto) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.player != nil {
		d.player.Play()
	}
	return nil
}

func (d *Oto) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.player != nil {
		d.player.Pause()
	}
	return nil
}

// SetVolume averages the per-channel u16 volumes oto doesn't support
// per-channel gain for and applies them as a single scalar.
func (d *Oto) SetVolume(channels int, volume []uint16) error {
	if len(volume) == 0 {
		return nil
	}
	sum := 0
	for _, v := range volume {
		sum += int(v)
	}
	d.mu.Lock()
	d.volume = float64(sum) / float64(len(volume)) / 65535.0
	if !d.muted && d.player != nil {
		d.player.SetVolume(d.volume)
	}
	d.mu.Unlock()
	return nil
}

// SetMute drives the player volume to zero and restores it on unmute; oto
// has no native mute switch.
func (d *Oto) SetMute(mute bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.muted = mute
	if d.player == nil {
		return nil
	}
	if mute {
		d.player.SetVolume(0)
	} else {
		d.player.SetVolume(d.volume)
	}
	return nil
}

// otoReader adapts the playback.PullFunc callback to io.Reader, the shape
// oto's internal playback goroutine drains on its own thread.
type otoReader struct {
	channels int
	pull     playback.PullFunc
	scratch  []float32
}

func (r *otoReader) Read(p []byte) (int, error) {
	const bytesPerSample = 4
	frameBytes := r.channels * bytesPerSample
	frames := len(p) / frameBytes
	if frames == 0 {
		return 0, nil
	}

	need := frames * r.channels
	if cap(r.scratch) < need {
		r.scratch = make([]float32, need)
	}
	buf := r.scratch[:need]

	r.pull(buf, frames)

	for i, v := range buf {
		binary.LittleEndian.PutUint32(p[i*bytesPerSample:], math.Float32bits(v))
	}
	return frames * frameBytes, nil
}
