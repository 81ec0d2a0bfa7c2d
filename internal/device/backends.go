// ABOUTME: Ordered back-end list for facade's one-shot device selection
// ABOUTME: Mirrors audio_init's for loop over LG_AudioDevs in the reference implementation
package device

import "github.com/clockmesh/audiobridge/internal/playback"

// extraBackends is populated by build-tagged files (portaudio.go) via
// init(), so the base build stays free of cgo-heavy optional back-ends.
var extraBackends []playback.Device

// OrderedBackends returns the back-ends to try, in the fixed order the
// facade's Init walks: malgo first (realtime callbacks for both playback
// and record), then
// oto (widest platform support), then any build-tagged extras.
func OrderedBackends() []playback.Device {
	backends := []playback.Device{NewMalgo(), NewOto()}
	return append(backends, extraBackends...)
}
