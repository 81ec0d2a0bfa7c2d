// ABOUTME: Streaming sample-rate conversion driven by the latency controller's ratio
// ABOUTME: Wraps gosamplerate; reuses scratch buffers across periods, reallocating only on period-size change
package resample

import (
	"fmt"

	"github.com/dh1tw/gosamplerate"
)

// Engine wraps one libsamplerate streaming converter. Not safe for
// concurrent use; callers own the source thread's single Engine.
type Engine struct {
	src      gosamplerate.Src
	channels int

	scratchFrames int
	scratch       []float32
}

// New creates a converter for the given channel count, using the
// highest-quality sinc interpolation libsamplerate offers: audible pitch
// artefacts from a cheaper filter would be noticeable over a sustained
// playback stream, and the continuously varying ratio never gets large
// enough to make the extra filter taps a real-time risk.
func New(channels int) (*Engine, error) {
	src, err := gosamplerate.New(gosamplerate.SRC_SINC_BEST_QUALITY, channels, 0)
	if err != nil {
		return nil, fmt.Errorf("resample: new converter: %w", err)
	}
	return &Engine{src: src, channels: channels}, nil
}

// Process converts one period's worth of interleaved float32 input at the
// given ratio (output_rate/input_rate), returning the interleaved output.
// The returned slice is only valid until the next call to Process.
func (e *Engine) Process(input []float32, ratio float64) ([]float32, error) {
	frames := len(input) / e.channels
	if frames != e.scratchFrames {
		// Period size changed; the only allocation this engine does outside
		// of startup, so steady-state periods generate no garbage.
		outFrames := int(float64(frames)*1.1) + 1
		e.scratch = make([]float32, outFrames*e.channels)
		e.scratchFrames = frames
	}

	out, err := e.src.Process(input, ratio, false)
	if err != nil {
		return nil, fmt.Errorf("resample: process: %w", err)
	}
	return out, nil
}

// Reset clears the converter's internal filter state, discarding history
// from earlier input.
func (e *Engine) Reset() error {
	if err := e.src.Reset(); err != nil {
		return fmt.Errorf("resample: reset: %w", err)
	}
	return nil
}

// Close releases the underlying libsamplerate converter.
func (e *Engine) Close() error {
	if err := e.src.Close(); err != nil {
		return fmt.Errorf("resample: close: %w", err)
	}
	return nil
}

// OutputFrames is a convenience for callers tracking position advance.
func (e *Engine) OutputFrames(out []float32) int {
	return len(out) / e.channels
}
