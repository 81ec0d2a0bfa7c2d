// ABOUTME: Bubbletea model for the bridge's status TUI
// ABOUTME: Renders connection/stream state and the playback latency graph sink
package ui

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
)

// Model is the TUI's rendered state, updated by StatusMsg deliveries from
// the rest of the application.
type Model struct {
	connected  bool
	sourceName string

	state      string
	channels   int
	sampleRate int

	volume int
	muted  bool

	latencyMin, latencyMax, latencyAvg, latencyLast float64
	latencySamples                                  int

	showDebug bool

	volumeCtrl *VolumeControl

	width, height int
}

// Init satisfies tea.Model.
func (m Model) Init() tea.Cmd {
	return nil
}

// Update satisfies tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
	case StatusMsg:
		m.applyStatus(msg)
	}
	return m, nil
}

// View satisfies tea.Model.
func (m Model) View() string {
	if m.width == 0 {
		return "Loading..."
	}

	s := m.renderHeader()
	s += m.renderStream()
	s += m.renderControls()
	s += m.renderLatency()
	if m.showDebug {
		s += m.renderDebug()
	}
	s += m.renderHelp()
	return s
}

func (m Model) renderHeader() string {
	status := "Disconnected"
	if m.connected {
		status = fmt.Sprintf("Connected to %s", m.sourceName)
	}
	return fmt.Sprintf(`┌─ audiobridge ────────────────────────────────────────┐
│ Source: %-45s │
│ State:  %-45s │
├──────────────────────────────────────────────────────┤
`, status, m.state)
}

func (m Model) renderStream() string {
	if m.channels == 0 {
		return "│ No active stream                                     │\n"
	}
	return fmt.Sprintf("│ Format: %dHz %s                                   %-7s │\n",
		m.sampleRate, channelName(m.channels), "")
}

func (m Model) renderControls() string {
	muteIcon := ""
	if m.muted {
		muteIcon = " (muted)"
	}
	bar := renderBar(m.volume, 100, 10)
	return fmt.Sprintf("│                                                      │\n"+
		"│ Volume: [%s] %3d%%%-9s│\n", bar, m.volume, muteIcon)
}

func (m Model) renderLatency() string {
	return fmt.Sprintf(`├──────────────────────────────────────────────────────┤
│ Latency (ms)  min %6.1f  avg %6.1f  max %6.1f │
│ last %6.1f  samples %-5d                        │
`, m.latencyMin, m.latencyAvg, m.latencyMax, m.latencyLast, m.latencySamples)
}

func (m Model) renderDebug() string {
	return fmt.Sprintf("│ DEBUG: raw last-period offset latency %.2fms         │\n", m.latencyLast)
}

func (m Model) renderHelp() string {
	return `│ ↑/↓:Volume  m:Mute  d:Debug  q:Quit                  │
└──────────────────────────────────────────────────────┘
`
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		if m.volumeCtrl != nil {
			select {
			case m.volumeCtrl.Quit <- QuitMsg{}:
			default:
			}
		}
		return m, tea.Quit
	case "up":
		m.volume = clampVolume(m.volume + 5)
		m.notifyVolume()
	case "down":
		m.volume = clampVolume(m.volume - 5)
		m.notifyVolume()
	case "m":
		m.muted = !m.muted
		m.notifyVolume()
	case "d":
		m.showDebug = !m.showDebug
	}
	return m, nil
}

func (m Model) notifyVolume() {
	if m.volumeCtrl == nil {
		return
	}
	select {
	case m.volumeCtrl.Changes <- VolumeChangeMsg{Volume: m.volume, Muted: m.muted}:
	default:
	}
}

func clampVolume(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

func (m *Model) applyStatus(msg StatusMsg) {
	if msg.Connected != nil {
		m.connected = *msg.Connected
	}
	if msg.SourceName != "" {
		m.sourceName = msg.SourceName
	}
	if msg.State != "" {
		m.state = msg.State
	}
	if msg.Channels != 0 {
		m.channels = msg.Channels
		m.sampleRate = msg.SampleRate
	}
	if msg.Volume != 0 {
		m.volume = msg.Volume
	}
	if msg.LatencySamples != 0 {
		m.latencyMin = msg.LatencyMin
		m.latencyMax = msg.LatencyMax
		m.latencyAvg = msg.LatencyAvg
		m.latencyLast = msg.LatencyLast
		m.latencySamples = msg.LatencySamples
	}
}

// StatusMsg carries a snapshot of application state into the TUI.
// Zero-valued fields (and a nil Connected) are treated as "unchanged".
// SampleRate is applied only together with a non-zero Channels, the
// latency fields only together with a non-zero LatencySamples, and Muted
// is not applied at all.
type StatusMsg struct {
	Connected      *bool
	SourceName     string
	State          string
	Channels       int
	SampleRate     int
	Volume         int
	Muted          bool
	LatencyMin     float64
	LatencyMax     float64
	LatencyAvg     float64
	LatencyLast    float64
	LatencySamples int
}

func renderBar(value, max, width int) string {
	filled := (value * width) / max
	bar := ""
	for i := 0; i < width; i++ {
		if i < filled {
			bar += "█"
		} else {
			bar += "░"
		}
	}
	return bar
}

func truncate(s string, length int) string {
	if len(s) <= length {
		return s
	}
	if length <= 3 {
		return s[:length]
	}
	return s[:length-3] + "..."
}

func channelName(channels int) string {
	if channels == 1 {
		return "Mono"
	}
	return "Stereo"
}
