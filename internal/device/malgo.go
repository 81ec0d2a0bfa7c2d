// ABOUTME: malgo (miniaudio) AudioDevice back-end with realtime playback and capture callbacks
// ABOUTME: Separate playback and capture devices, each with its own malgo.DeviceCallbacks.Data on the device thread
package device

import (
	"fmt"
	"math"
	"sync"

	"github.com/clockmesh/audiobridge/internal/playback"
	"github.com/gen2brain/malgo"
)

// Malgo is an AudioDevice back-end built on github.com/gen2brain/malgo,
// giving both playback and record a genuine realtime callback thread
// (rather than oto's Reader-driven one).
type Malgo struct {
	mu  sync.Mutex
	ctx *malgo.AllocatedContext

	playbackDev *malgo.Device
	recordDev   *malgo.Device

	volume float32
	muted  bool
}

// NewMalgo creates an uninitialized malgo back-end.
func NewMalgo() *Malgo {
	return &Malgo{volume: 1.0}
}

func (d *Malgo) Name() string { return "malgo" }

func (d *Malgo) Init() error {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return fmt.Errorf("malgo: init context: %w", err)
	}
	d.ctx = ctx
	return nil
}

func (d *Malgo) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.playbackDev != nil {
		d.playbackDev.Uninit()
		d.playbackDev = nil
	}
	if d.recordDev != nil {
		d.recordDev.Uninit()
		d.recordDev = nil
	}
	if d.ctx != nil {
		d.ctx.Uninit()
		d.ctx.Free()
		d.ctx = nil
	}
}

func (d *Malgo) Playback() playback.Playback { return (*malgoPlayback)(d) }
func (d *Malgo) Record() playback.Record     { return (*malgoRecord)(d) }

type malgoPlayback Malgo

// Setup opens a float32 playback device whose Data callback calls pull
// directly on miniaudio's realtime thread.
func (d *malgoPlayback) Setup(channels, sampleRate int, pull playback.PullFunc) (int, error) {
	m := (*Malgo)(d)
	m.mu.Lock()
	defer m.mu.Unlock()

	cfg := malgo.DefaultDeviceConfig(malgo.Playback)
	cfg.Playback.Format = malgo.FormatF32
	cfg.Playback.Channels = uint32(channels)
	cfg.SampleRate = uint32(sampleRate)

	var frames []float32
	callbacks := malgo.DeviceCallbacks{
		Data: func(out, _ []byte, frameCount uint32) {
			n := int(frameCount) * channels
			if cap(frames) < n {
				frames = make([]float32, n)
			}
			buf := frames[:n]
			pull(buf, int(frameCount))
			gain := m.effectiveGain()
			encodeF32LE(out, buf, gain)
		},
	}

	dev, err := malgo.InitDevice(m.ctx.Context, cfg, callbacks)
	if err != nil {
		return 0, fmt.Errorf("malgo: init playback device: %w", err)
	}
	m.playbackDev = dev

	return int(cfg.PeriodSizeInFrames), nil
}

func (d *malgoPlayback) Start() error {
	m := (*Malgo)(d)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.playbackDev == nil {
		return fmt.Errorf("malgo: playback not set up")
	}
	return m.playbackDev.Start()
}

func (d *malgoPlayback) Stop() error {
	m := (*Malgo)(d)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.playbackDev == nil {
		return nil
	}
	return m.playbackDev.Stop()
}

func (d *malgoPlayback) SetVolume(channels int, volume []uint16) error {
	m := (*Malgo)(d)
	if len(volume) == 0 {
		return nil
	}
	sum := 0
	for _, v := range volume {
		sum += int(v)
	}
	m.mu.Lock()
	m.volume = float32(sum) / float32(len(volume)) / 65535.0
	m.mu.Unlock()
	return nil
}

func (d *malgoPlayback) SetMute(mute bool) error {
	m := (*Malgo)(d)
	m.mu.Lock()
	m.muted = mute
	m.mu.Unlock()
	return nil
}

func (m *Malgo) effectiveGain() float32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.muted {
		return 0
	}
	return m.volume
}

type malgoRecord Malgo

// Start opens a float32 capture device whose Data callback forwards
// captured frames to push on miniaudio's realtime thread.
func (d *malgoRecord) Start(channels, sampleRate int, push playback.PushFunc) error {
	m := (*Malgo)(d)
	m.mu.Lock()
	defer m.mu.Unlock()

	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.Capture.Format = malgo.FormatF32
	cfg.Capture.Channels = uint32(channels)
	cfg.SampleRate = uint32(sampleRate)

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, in []byte, frameCount uint32) {
			push(decodeF32LE(in), int(frameCount))
		},
	}

	dev, err := malgo.InitDevice(m.ctx.Context, cfg, callbacks)
	if err != nil {
		return fmt.Errorf("malgo: init capture device: %w", err)
	}
	m.recordDev = dev
	return dev.Start()
}

func (d *malgoRecord) Stop() error {
	m := (*Malgo)(d)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.recordDev == nil {
		return nil
	}
	err := m.recordDev.Stop()
	m.recordDev.Uninit()
	m.recordDev = nil
	return err
}

func encodeF32LE(out []byte, samples []float32, gain float32) {
	for i, v := range samples {
		bits := math.Float32bits(v * gain)
		out[i*4] = byte(bits)
		out[i*4+1] = byte(bits >> 8)
		out[i*4+2] = byte(bits >> 16)
		out[i*4+3] = byte(bits >> 24)
	}
}

func decodeF32LE(in []byte) []float32 {
	n := len(in) / 4
	out := make([]float32, n)
	for i := range out {
		bits := uint32(in[i*4]) | uint32(in[i*4+1])<<8 | uint32(in[i*4+2])<<16 | uint32(in[i*4+3])<<24
		out[i] = math.Float32frombits(bits)
	}
	return out
}
