// ABOUTME: TUI initialization and control
// ABOUTME: Wraps bubbletea program for the status display, routing volume/mute changes back out
package ui

import (
	tea "github.com/charmbracelet/bubbletea"
)

// VolumeChangeMsg is emitted when the user changes volume or mute from
// within the TUI.
type VolumeChangeMsg struct {
	Volume int
	Muted  bool
}

// QuitMsg is emitted once when the user quits the TUI.
type QuitMsg struct{}

// VolumeControl carries user-driven volume/mute/quit events out of the
// TUI to whatever owns the façade.
type VolumeControl struct {
	Changes chan VolumeChangeMsg
	Quit    chan QuitMsg
}

// NewVolumeControl creates a volume control handler with small buffered
// channels; a full channel drops the event rather than blocking the UI
// goroutine.
func NewVolumeControl() *VolumeControl {
	return &VolumeControl{
		Changes: make(chan VolumeChangeMsg, 10),
		Quit:    make(chan QuitMsg, 1),
	}
}

// NewModel creates the initial TUI model. volCtrl may be nil for tests
// that don't care about outbound events.
func NewModel(volCtrl *VolumeControl) Model {
	return Model{
		volume:     100,
		state:      "STOP",
		volumeCtrl: volCtrl,
	}
}

// Run starts the TUI program; the caller is responsible for calling
// p.Send(StatusMsg{...}) as application state changes and p.Run().
func Run(volCtrl *VolumeControl) *tea.Program {
	return tea.NewProgram(NewModel(volCtrl), tea.WithAltScreen())
}
