/*
 * This file is part of Loqa (https://github.com/loqalabs/loqa).
 * Copyright (C) 2026 Loqa Labs
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program. If not, see <https://www.gnu.org/licenses/>.
 */

package main

import (
	"flag"
	"log"
	"math"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/loqalabs/loqa-audio-engine/internal/device"
	"github.com/loqalabs/loqa-audio-engine/internal/engine"
	"github.com/loqalabs/loqa-audio-engine/internal/notify"
	"github.com/loqalabs/loqa-audio-engine/internal/wavstore"
)

// toneMixer fills playback with a sine tone, deterministic in the start
// frame so loops and seeks stay phase-correct.
type toneMixer struct {
	freq float64
	rate float64
}

func (m *toneMixer) Mix(out [][]float32, startFrame int64) {
	for _, ch := range out {
		for i := range ch {
			t := float64(startFrame+int64(i)) / m.rate
			ch[i] = float32(0.2 * math.Sin(2*math.Pi*m.freq*t))
		}
	}
}

func main() {
	// Command line flags
	listDevices := flag.Bool("list", false, "List audio devices and exit")
	playbackDev := flag.Int("playback", 0, "Playback device index, -1 disables")
	captureDev := flag.Int("capture", -1, "Capture device index, -1 disables")
	channels := flag.Int("channels", 2, "Playback channel count")
	rate := flag.Int("rate", 44100, "Track sample rate in Hz")
	latencyMs := flag.Int("latency", 100, "Target latency in milliseconds")
	duration := flag.Duration("duration", 0, "Stop after this long, 0 runs until Ctrl+C")
	recordPath := flag.String("record", "", "Record capture to this WAV file")
	monitor := flag.Bool("monitor", false, "Open the capture device without recording")
	loop := flag.Bool("loop", false, "Loop the playback window")
	t1 := flag.Float64("t1", 0, "Playback window end in seconds, 0 is open-ended")
	toneFreq := flag.Float64("tone", 440, "Playback test tone frequency in Hz")
	natsURL := flag.String("nats", "", "Publish stream events to this NATS server")
	engineID := flag.String("id", "audio-engine-001", "Engine identifier in published events")
	flag.Parse()

	log.Printf("🚀 Starting Loqa Audio Engine")

	host := device.NewPortAudioHost()
	if err := host.Initialize(); err != nil {
		log.Fatalf("❌ Failed to initialize audio host: %v", err)
	}
	defer host.Terminate()

	catalog := device.NewCatalog(host)
	if *listDevices {
		os.Stdout.WriteString(catalog.DeviceInfoText())
		return
	}

	cfg := engine.DefaultConfig()
	cfg.TargetLatency = time.Duration(*latencyMs) * time.Millisecond
	cfg.SampleRate = *rate
	controller := engine.NewController(host, catalog, cfg)

	if *natsURL != "" {
		publisher, err := notify.NewPublisher(*natsURL, *engineID)
		if err != nil {
			log.Fatalf("❌ Failed to set up event publishing: %v", err)
		}
		defer publisher.Close()
		controller.SetListener(publisher)
	}

	var recorder *wavstore.Writer
	opts := engine.StreamOptions{
		PlaybackDevice:   *playbackDev,
		CaptureDevice:    *captureDev,
		PlaybackChannels: *channels,
		CaptureChannels:  1,
		T1:               *t1,
		Rate:             *rate,
	}
	if *loop {
		opts.Mode = engine.PlayLooped
	}

	var token engine.Token
	var err error
	switch {
	case *monitor:
		capture := *captureDev
		if capture < 0 {
			capture = 0
		}
		log.Printf("🎙️  Monitoring capture device %d", capture)
		token, err = controller.StartMonitoring(capture, 1, *rate)

	default:
		var mixer engine.Mixer
		if *playbackDev >= 0 {
			mixer = &toneMixer{freq: *toneFreq, rate: float64(*rate)}
			log.Printf("🔊 Playing %.0f Hz test tone on device %d", *toneFreq, *playbackDev)
		}
		var rec engine.Recorder
		if *recordPath != "" {
			if *captureDev < 0 {
				log.Fatalf("❌ -record requires a capture device")
			}
			recorder, err = wavstore.New(*recordPath, *rate, 1)
			if err != nil {
				log.Fatalf("❌ Failed to open recording file: %v", err)
			}
			rec = recorder
			log.Printf("🎙️  Recording device %d to %s", *captureDev, *recordPath)
		}
		token, err = controller.StartStream(mixer, rec, opts)
	}
	if err != nil {
		log.Fatalf("❌ Failed to start stream: %v", err)
	}
	log.Printf("🎛️  Stream %d running, press Ctrl+C to stop", token)

	// Graceful shutdown on signal or after -duration.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	var timeout <-chan time.Time
	if *duration > 0 {
		timeout = time.After(*duration)
	}
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

loop:
	for {
		select {
		case <-sigChan:
			log.Println("🛑 Interrupted, stopping stream...")
			break loop
		case <-timeout:
			log.Printf("⏱️  Duration elapsed, stopping stream...")
			break loop
		case <-ticker.C:
			if !controller.IsStreamActive(token) {
				log.Println("🛑 Stream finished on its own")
				break loop
			}
			if t := controller.GetStreamTime(); t != engine.BadStreamTime {
				log.Printf("⏱️  Track time: %.2fs", t)
			}
		}
	}

	underflows := controller.Underflows()
	if err := controller.StopStream(); err != nil {
		log.Printf("⚠️  Error stopping stream: %v", err)
	}

	if underflows > 0 {
		log.Printf("⚠️  %d playback underflows", underflows)
	}
	if lost := controller.LostIntervals(); len(lost) > 0 {
		var total float64
		for _, iv := range lost {
			total += iv.Duration
		}
		log.Printf("⚠️  %d capture dropouts, %.1f ms lost", len(lost), total*1000)
	}
	if recorder != nil {
		if err := recorder.Close(); err != nil {
			log.Fatalf("❌ Failed to finalize recording: %v", err)
		}
		start, dur := controller.RecordedSpan()
		log.Printf("💾 Recorded %.2fs starting at %.2fs to %s", dur, start, recorder.Path())
	}

	log.Println("👋 Audio engine stopped")
}
