//go:build portaudio

// ABOUTME: PortAudio AudioDevice back-end, built only with -tags portaudio
// ABOUTME: Cross-platform fallback; the callback is PortAudio's realtime thread
package device

import (
	"fmt"
	"sync"

	"github.com/clockmesh/audiobridge/internal/playback"
	"github.com/gordonklaus/portaudio"
)

const portaudioFramesPerBuffer = 1024

// PortAudio is an AudioDevice back-end built on github.com/gordonklaus/portaudio.
// Playback only; Record returns nil.
type PortAudio struct {
	mu     sync.Mutex
	stream *portaudio.Stream
	pull   playback.PullFunc
}

// NewPortAudio creates an uninitialized PortAudio back-end.
func NewPortAudio() *PortAudio {
	return &PortAudio{}
}

func init() {
	extraBackends = append(extraBackends, NewPortAudio())
}

func (d *PortAudio) Name() string { return "portaudio" }

func (d *PortAudio) Init() error {
	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("portaudio: initialize: %w", err)
	}
	return nil
}

func (d *PortAudio) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stream != nil {
		d.stream.Close()
		d.stream = nil
	}
	portaudio.Terminate()
}

func (d *PortAudio) Playback() playback.Playback { return d }
func (d *PortAudio) Record() playback.Record     { return nil }

func (d *PortAudio) Setup(channels, sampleRate int, pull playback.PullFunc) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.pull = pull

	stream, err := portaudio.OpenDefaultStream(0, channels, float64(sampleRate), portaudioFramesPerBuffer,
		func(out []float32) {
			frames := len(out) / channels
			d.pull(out, frames)
		})
	if err != nil {
		return 0, fmt.Errorf("portaudio: open stream: %w", err)
	}
	d.stream = stream

	return portaudioFramesPerBuffer, nil
}

func (d *PortAudio) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stream == nil {
		return fmt.Errorf("portaudio: not set up")
	}
	return d.stream.Start()
}

func (d *PortAudio) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stream == nil {
		return nil
	}
	return d.stream.Stop()
}
