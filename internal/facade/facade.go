// ABOUTME: AudioState: the public source-facing API and device-capability dispatch
// ABOUTME: Owns back-end selection, the playback/record engines, and retained volume/mute
package facade

import (
	"fmt"
	"log"
	"sync"

	"github.com/clockmesh/audiobridge/internal/playback"
)

// SampleFormat identifies the wire format of a playbackStart call. Only
// S16LE is supported; anything else is a FormatUnsupported no-op per
// spec.md §7.
type SampleFormat int

const (
	FormatS16LE SampleFormat = iota
	FormatUnsupported
)

const maxVolumeChannels = 8

// AudioState is the per-process façade spec.md §9 describes replacing the
// original file-scope global `audio` aggregate: a value owned by the
// surrounding host, with back-end selection injected at construction via
// Init.
type AudioState struct {
	mu sync.Mutex

	backends []playback.Device
	backend  playback.Device

	engine *playback.Engine

	// Retained across restarts per spec.md invariant 5; applied on the
	// next SETUP.
	volume         [maxVolumeChannels]uint16
	volumeChannels int
	mute           bool
	haveVolume     bool

	recordActive     bool
	recordChannels   int
	recordSampleRate int
	recordStop       func() error

	graphs    map[GraphHandle]*graphEntry
	nextGraph GraphHandle
}

// New creates a façade that will try backends, in order, on Init.
func New(backends []playback.Device) *AudioState {
	return &AudioState{
		backends: backends,
		engine:   playback.New(),
		graphs:   make(map[GraphHandle]*graphEntry),
	}
}

// Init tries each back-end in order and keeps the first that initializes,
// mirroring the reference audio_init's for loop over LG_AudioDevs. If none
// succeed, the façade enters the NoBackend state: every public operation
// becomes a no-op and SupportsPlayback/SupportsRecord return false.
func (a *AudioState) Init() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, b := range a.backends {
		if err := b.Init(); err != nil {
			log.Printf("facade: backend %s init failed: %v", b.Name(), err)
			continue
		}
		a.backend = b
		log.Printf("facade: selected audio back-end %s", b.Name())
		return nil
	}

	log.Printf("facade: no working audio back-end found")
	return nil
}

// Free releases the back-end, after stopping both directions. Safe to
// call from the NoBackend state.
func (a *AudioState) Free() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.engine.Free()
	if a.recordActive && a.recordStop != nil {
		if err := a.recordStop(); err != nil {
			log.Printf("facade: record stop: %v", err)
		}
		a.recordActive = false
	}
	if a.backend != nil {
		a.backend.Close()
		a.backend = nil
	}
}

// SupportsPlayback reports whether a selected back-end offers playback.
func (a *AudioState) SupportsPlayback() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.backend != nil && a.backend.Playback() != nil
}

// SupportsRecord reports whether a selected back-end offers record.
func (a *AudioState) SupportsRecord() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.backend != nil && a.backend.Record() != nil
}

// PlaybackStart starts the playback stream: STOP -> SETUP. format must be
// FormatS16LE; anything else is a silent no-op (FormatUnsupported,
// spec.md §7). Retained volume/mute are applied before any data can flow,
// satisfying scenario S6.
func (a *AudioState) PlaybackStart(channels, sampleRate int, format SampleFormat) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if format != FormatS16LE {
		return nil
	}
	if a.backend == nil {
		return nil
	}

	if err := a.engine.Start(channels, sampleRate, a.backend); err != nil {
		return fmt.Errorf("facade: playback start: %w", err)
	}

	if a.haveVolume {
		a.engine.ApplyVolume(a.volumeChannels, a.volume[:a.volumeChannels])
	}
	a.engine.ApplyMute(a.mute)

	return nil
}

// PlaybackStop initiates a cooperative drain: RUN -> DRAIN -> STOP, with
// the device continuing to play buffered audio until empty.
func (a *AudioState) PlaybackStop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.engine.Stop(nil)
}

// PlaybackData submits one period of signed-16 interleaved PCM. len(data)
// must be a whole number of frames; a short trailing remainder is ignored.
func (a *AudioState) PlaybackData(data []byte) {
	a.mu.Lock()
	engine := a.engine
	a.mu.Unlock()
	engine.Submit(data)
}

// PlaybackVolume sets per-channel volume (0-65535), retained across
// restarts and applied immediately to an active stream.
func (a *AudioState) PlaybackVolume(channels int, volume []uint16) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if channels > maxVolumeChannels {
		channels = maxVolumeChannels
	}
	a.volumeChannels = channels
	for i := 0; i < channels && i < len(volume); i++ {
		a.volume[i] = volume[i]
	}
	a.haveVolume = true

	a.engine.ApplyVolume(channels, a.volume[:channels])
}

// PlaybackMute sets mute state, retained across restarts and applied
// immediately to an active stream.
func (a *AudioState) PlaybackMute(mute bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.mute = mute
	a.engine.ApplyMute(mute)
}

// RecordStart starts the record pass-through. Calling it again with the
// same channels/sampleRate while already active is a no-op; changed
// parameters restart the device. Per spec.md §9 Open Question 2, the
// retained *playback* volume/mute are applied to the record device each
// time it is started or restarted — preserved exactly as the reference
// implementation does it,
// not "fixed".
func (a *AudioState) RecordStart(channels, sampleRate int, push playback.PushFunc) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.backend == nil || a.backend.Record() == nil {
		return nil
	}

	if a.recordActive && a.recordChannels == channels && a.recordSampleRate == sampleRate {
		return nil
	}

	if a.recordActive && a.recordStop != nil {
		if err := a.recordStop(); err != nil {
			log.Printf("facade: record restart stop: %v", err)
		}
	}

	rec := a.backend.Record()
	if err := rec.Start(channels, sampleRate, push); err != nil {
		a.recordActive = false
		return fmt.Errorf("facade: record start: %w", err)
	}

	a.recordActive = true
	a.recordChannels = channels
	a.recordSampleRate = sampleRate
	a.recordStop = rec.Stop

	if vs, ok := rec.(playback.VolumeSetter); ok && a.haveVolume {
		if err := vs.SetVolume(a.volumeChannels, a.volume[:a.volumeChannels]); err != nil {
			log.Printf("facade: record volume: %v", err)
		}
	}
	if ms, ok := rec.(playback.MuteSetter); ok {
		if err := ms.SetMute(a.mute); err != nil {
			log.Printf("facade: record mute: %v", err)
		}
	}

	return nil
}

// RecordStop stops the record pass-through, if active.
func (a *AudioState) RecordStop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.recordActive {
		return
	}
	if a.recordStop != nil {
		if err := a.recordStop(); err != nil {
			log.Printf("facade: record stop: %v", err)
		}
	}
	a.recordActive = false
}

// RecordVolume forwards to the record device's optional VolumeSetter.
func (a *AudioState) RecordVolume(channels int, volume []uint16) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.backend == nil || a.backend.Record() == nil {
		return
	}
	if vs, ok := a.backend.Record().(playback.VolumeSetter); ok {
		if err := vs.SetVolume(channels, volume); err != nil {
			log.Printf("facade: record volume: %v", err)
		}
	}
}

// RecordMute forwards to the record device's optional MuteSetter.
func (a *AudioState) RecordMute(mute bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.backend == nil || a.backend.Record() == nil {
		return
	}
	if ms, ok := a.backend.Record().(playback.MuteSetter); ok {
		if err := ms.SetMute(mute); err != nil {
			log.Printf("facade: record mute: %v", err)
		}
	}
}

// GraphSink exposes the playback engine's latency telemetry sink, for
// wiring into RegisterGraph.
func (a *AudioState) GraphSink() *playback.GraphSink {
	return a.engine.GraphSink()
}
