// ABOUTME: Entry point for the audiobridge daemon
// ABOUTME: Parses CLI flags and wires façade, device back-ends, demo transport, and TUI together
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/clockmesh/audiobridge/internal/client"
	"github.com/clockmesh/audiobridge/internal/device"
	"github.com/clockmesh/audiobridge/internal/discovery"
	"github.com/clockmesh/audiobridge/internal/facade"
	"github.com/clockmesh/audiobridge/internal/protocol"
	"github.com/clockmesh/audiobridge/internal/sourcesim"
	"github.com/clockmesh/audiobridge/internal/ui"
	"github.com/clockmesh/audiobridge/internal/version"
)

var (
	serverAddr = flag.String("server", "", "Manual server address (skip mDNS)")
	name       = flag.String("name", "", "Bridge friendly name (default: hostname-audiobridge)")
	wavPath    = flag.String("device", "", "Path to a WAV file to replay as an offline demo source, instead of connecting to a server")
	bufferMs   = flag.Int("buffer-ms", 150, "Reported jitter buffer size in milliseconds")
)

func main() {
	flag.Parse()
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	bridgeName := *name
	if bridgeName == "" {
		hostname, err := os.Hostname()
		if err != nil {
			hostname = "unknown"
		}
		bridgeName = fmt.Sprintf("%s-audiobridge", hostname)
	}

	audioState := facade.New(device.OrderedBackends())
	if err := audioState.Init(); err != nil {
		log.Fatalf("failed to initialize audio: %v", err)
	}
	defer audioState.Free()

	if !audioState.SupportsPlayback() {
		log.Printf("warning: no playback-capable audio back-end found, running with no-op audio")
	}

	volumeCtrl := ui.NewVolumeControl()
	tuiProg := ui.Run(volumeCtrl)
	go tuiProg.Run()

	updateTUI := func(msg ui.StatusMsg) {
		tuiProg.Send(msg)
	}

	graphHandle := audioState.RegisterGraph("playback", audioState.GraphSink(), 0, 200, func(min, max, avg float64, freq int, last float64) string {
		return fmt.Sprintf("latency min=%.1fms max=%.1fms avg=%.1fms last=%.1fms samples=%d", min, max, avg, last, freq)
	})
	defer audioState.InvalidateGraph(graphHandle)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if *wavPath != "" {
		runDemoSource(ctx, audioState, updateTUI, *wavPath)
	} else {
		runLiveSource(ctx, audioState, updateTUI, bridgeName, *serverAddr, *bufferMs)
	}

	go handleVolumeControl(audioState, volumeCtrl)
	go statsUpdateLoop(ctx, audioState, graphHandle, updateTUI)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-volumeCtrl.Quit:
		log.Printf("received quit signal from TUI")
	case <-sigChan:
		log.Printf("shutdown signal received")
	}

	audioState.PlaybackStop()
	log.Printf("audiobridge stopped")
}

// runDemoSource decodes a WAV file and feeds it into the façade at the
// file's own pacing, exercising the full clock-recovery pipeline without a
// live server.
func runDemoSource(ctx context.Context, audioState *facade.AudioState, updateTUI func(ui.StatusMsg), path string) {
	src, err := sourcesim.Load(path)
	if err != nil {
		log.Fatalf("failed to load demo source %s: %v", path, err)
	}

	if err := audioState.PlaybackStart(src.Channels(), src.SampleRate(), facade.FormatS16LE); err != nil {
		log.Fatalf("failed to start playback: %v", err)
	}

	connected := true
	updateTUI(ui.StatusMsg{
		Connected:  &connected,
		SourceName: path,
		State:      "RUN",
		Channels:   src.Channels(),
		SampleRate: src.SampleRate(),
	})

	go src.Run(ctx, audioState.PlaybackData)
}

// runLiveSource discovers (or dials) a server and drives the façade from
// its WebSocket audio feed. Out of scope for the spec's core (§1), kept
// only so the module is runnable end-to-end.
func runLiveSource(ctx context.Context, audioState *facade.AudioState, updateTUI func(ui.StatusMsg), bridgeName, serverAddr string, bufferMs int) {
	var serverAddress string
	if serverAddr == "" {
		log.Printf("starting server discovery...")
		disc := discovery.NewManager(discovery.Config{
			ServiceName: bridgeName,
			Port:        8927,
			DeviceInfo: protocol.DeviceInfo{
				ProductName:     version.Product,
				Manufacturer:    version.Manufacturer,
				SoftwareVersion: version.Version,
			},
			BufferCapacityMs: bufferMs,
		})
		if err := disc.Advertise(); err != nil {
			log.Printf("mdns advertise failed: %v", err)
		}
		if err := disc.Browse(); err != nil {
			log.Printf("mdns browse failed: %v", err)
		}

		select {
		case server := <-disc.Servers():
			serverAddress = fmt.Sprintf("%s:%d", server.Host, server.Port)
			log.Printf("discovered server at %s", serverAddress)
		case <-time.After(10 * time.Second):
			log.Fatalf("no server found after 10 seconds")
		}
	} else {
		serverAddress = serverAddr
	}

	c := client.NewClient(client.Config{
		ServerAddr: serverAddress,
		ClientID:   uuid.NewString(),
		Name:       bridgeName,
		Version:    1,
		DeviceInfo: protocol.DeviceInfo{
			ProductName:     version.Product,
			Manufacturer:    version.Manufacturer,
			SoftwareVersion: version.Version,
		},
		PlayerSupport: protocol.PlayerSupport{
			SupportFormats: []protocol.AudioFormat{
				{Codec: "pcm_s16le", Channels: 2, SampleRate: 48000, BitDepth: 16},
			},
			BufferCapacity: bufferMs,
		},
	})

	if err := c.Connect(); err != nil {
		log.Fatalf("connection failed: %v", err)
	}

	connected := true
	updateTUI(ui.StatusMsg{Connected: &connected, SourceName: serverAddress, State: "STOP"})

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case start := <-c.StreamStart:
				if err := audioState.PlaybackStart(start.Channels, start.SampleRate, facade.FormatS16LE); err != nil {
					log.Printf("playback start failed: %v", err)
					continue
				}
				updateTUI(ui.StatusMsg{State: "RUN", Channels: start.Channels, SampleRate: start.SampleRate})
			case chunk := <-c.AudioChunks:
				audioState.PlaybackData(chunk.Data)
			case cmd := <-c.ControlMsgs:
				applyServerCommand(audioState, cmd, updateTUI)
			case <-c.Metadata:
				// Track metadata isn't part of this bridge's scope; drained to
				// keep the channel from blocking the reader goroutine.
			}
		}
	}()
}

func applyServerCommand(audioState *facade.AudioState, cmd protocol.ServerCommand, updateTUI func(ui.StatusMsg)) {
	switch cmd.Command {
	case "volume":
		audioState.PlaybackVolume(1, []uint16{uint16(cmd.Volume * 65535 / 100)})
		updateTUI(ui.StatusMsg{Volume: cmd.Volume})
	case "mute":
		audioState.PlaybackMute(cmd.Mute)
	case "stop":
		audioState.PlaybackStop()
		updateTUI(ui.StatusMsg{State: "STOP"})
	default:
		log.Printf("unknown server command: %s", cmd.Command)
	}
}

func handleVolumeControl(audioState *facade.AudioState, volumeCtrl *ui.VolumeControl) {
	for {
		select {
		case vol := <-volumeCtrl.Changes:
			log.Printf("volume change: %d%%, muted=%v", vol.Volume, vol.Muted)
			audioState.PlaybackVolume(1, []uint16{uint16(vol.Volume * 65535 / 100)})
			audioState.PlaybackMute(vol.Muted)
		case <-volumeCtrl.Quit:
			return
		}
	}
}

func statsUpdateLoop(ctx context.Context, audioState *facade.AudioState, graphHandle facade.GraphHandle, updateTUI func(ui.StatusMsg)) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			min, max, avg, freq, last := audioState.GraphSink().Snapshot()
			updateTUI(ui.StatusMsg{
				LatencyMin:     min,
				LatencyMax:     max,
				LatencyAvg:     avg,
				LatencyLast:    last,
				LatencySamples: freq,
			})
			log.Printf("debug: %s", audioState.RenderGraph(graphHandle))
		}
	}
}
