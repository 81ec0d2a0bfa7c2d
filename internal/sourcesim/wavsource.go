// ABOUTME: WAV-file source simulator for offline demo/testing
// ABOUTME: Paces a decoded file at network-burst intervals, driving PlaybackData like a live source
package sourcesim

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/go-audio/wav"
)

// periodMillis matches scenario S1's 10ms network-paced submit interval.
const periodMillis = 10

// Source replays a decoded WAV file as periodic signed-16 PCM bursts, the
// same shape a live network source delivers, so the clock-recovery
// pipeline can be exercised offline.
type Source struct {
	data         []int16
	channels     int
	sampleRate   int
	periodFrames int
}

// Load decodes path (must be signed-16 PCM WAV) into memory.
func Load(path string) (*Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("sourcesim: open %s: %w", path, err)
	}
	defer f.Close()

	d := wav.NewDecoder(f)
	if !d.IsValidFile() {
		return nil, fmt.Errorf("sourcesim: %s is not a valid WAV file", path)
	}

	buf, err := d.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("sourcesim: decode %s: %w", path, err)
	}

	s16 := make([]int16, len(buf.Data))
	for i, v := range buf.Data {
		s16[i] = int16(v)
	}

	sampleRate := buf.Format.SampleRate
	periodFrames := sampleRate * periodMillis / 1000

	return &Source{
		data:         s16,
		channels:     buf.Format.NumChannels,
		sampleRate:   sampleRate,
		periodFrames: periodFrames,
	}, nil
}

// Channels returns the decoded file's channel count.
func (s *Source) Channels() int { return s.channels }

// SampleRate returns the decoded file's sample rate.
func (s *Source) SampleRate() int { return s.sampleRate }

// Run feeds submit periodic s16 PCM bursts at the file's own pacing until
// the file is exhausted or ctx is cancelled.
func (s *Source) Run(ctx context.Context, submit func([]byte)) {
	frameBytes := s.channels * 2
	period := time.Duration(s.periodFrames) * time.Second / time.Duration(s.sampleRate)
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	totalFrames := len(s.data) / s.channels
	pos := 0
	buf := make([]byte, s.periodFrames*frameBytes)

	for pos < totalFrames {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		n := s.periodFrames
		if pos+n > totalFrames {
			n = totalFrames - pos
		}
		if n <= 0 {
			return
		}

		for i := 0; i < n*s.channels; i++ {
			v := uint16(s.data[pos*s.channels+i])
			buf[i*2] = byte(v)
			buf[i*2+1] = byte(v >> 8)
		}
		submit(buf[:n*frameBytes])
		pos += n
	}
}
