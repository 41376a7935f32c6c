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

package device

import (
	"fmt"
	"math"
	"sync"
	"time"
)

// MockHost implements Host for testing without hardware dependencies.
// Streams can be driven by a self-timer or ticked manually for fully
// deterministic tests.
type MockHost struct {
	mu             sync.Mutex
	initialized    bool
	devices        []Info
	supportedRates map[int]map[int]bool // device index -> allowed rates; nil entry = all
	initError      error
	openError      error
	tickInterval   time.Duration // 0 = manual Tick only
	lastStream     *MockStream
	inputGenerator func(in [][]float32, frames int)
}

// NewMockHost creates a mock host with one duplex device and one
// capture-only device.
func NewMockHost() *MockHost {
	return &MockHost{
		devices: []Info{
			{
				Index:             0,
				Name:              "Mock Duplex",
				MaxInputChannels:  2,
				MaxOutputChannels: 2,
				DefaultSampleRate: 44100,
				DefaultInput:      true,
				DefaultOutput:     true,
			},
			{
				Index:             1,
				Name:              "Mock Microphone",
				MaxInputChannels:  1,
				DefaultSampleRate: 48000,
			},
		},
		supportedRates: make(map[int]map[int]bool),
	}
}

// SetDevices replaces the device table.
func (h *MockHost) SetDevices(devices []Info) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.devices = devices
}

// SetSupportedRates restricts the rates a device accepts in
// SupportsFormat. Devices without an entry accept every rate.
func (h *MockHost) SetSupportedRates(index int, rates []int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set := make(map[int]bool, len(rates))
	for _, r := range rates {
		set[r] = true
	}
	h.supportedRates[index] = set
}

// SetInitError configures the host to fail Initialize.
func (h *MockHost) SetInitError(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.initError = err
}

// SetOpenError configures the host to fail OpenStream.
func (h *MockHost) SetOpenError(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.openError = err
}

// SetTickInterval makes started streams invoke the callback on their own
// every interval. Zero (the default) leaves driving to manual Tick calls.
func (h *MockHost) SetTickInterval(interval time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.tickInterval = interval
}

// SetInputGenerator supplies the "captured" hardware samples. The default
// is a quiet 440 Hz tone.
func (h *MockHost) SetInputGenerator(gen func(in [][]float32, frames int)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.inputGenerator = gen
}

// LastStream returns the most recently opened stream, for manual ticking.
func (h *MockHost) LastStream() *MockStream {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastStream
}

// Initialize initializes the mock host.
func (h *MockHost) Initialize() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.initError != nil {
		return h.initError
	}
	h.initialized = true
	return nil
}

// Terminate terminates the mock host.
func (h *MockHost) Terminate() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.initialized = false
	return nil
}

// Devices returns the configured device table.
func (h *MockHost) Devices() ([]Info, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.initialized {
		return nil, fmt.Errorf("mock host not initialized")
	}
	out := make([]Info, len(h.devices))
	copy(out, h.devices)
	return out, nil
}

func (h *MockHost) deviceOK(index, channels int, dir Direction, rate int) bool {
	if index < 0 || index >= len(h.devices) {
		return false
	}
	d := h.devices[index]
	if dir == Playback && channels > d.MaxOutputChannels {
		return false
	}
	if dir == Capture && channels > d.MaxInputChannels {
		return false
	}
	if set, ok := h.supportedRates[index]; ok && set != nil {
		return set[rate]
	}
	return true
}

// SupportsFormat reports whether both configured sides accept the rate.
func (h *MockHost) SupportsFormat(cfg StreamConfig) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.initialized {
		return false
	}
	rate := int(cfg.SampleRate)
	if cfg.PlaybackDevice < 0 && cfg.CaptureDevice < 0 {
		return false
	}
	if cfg.PlaybackDevice >= 0 && !h.deviceOK(cfg.PlaybackDevice, cfg.PlaybackChannels, Playback, rate) {
		return false
	}
	if cfg.CaptureDevice >= 0 && !h.deviceOK(cfg.CaptureDevice, cfg.CaptureChannels, Capture, rate) {
		return false
	}
	return true
}

// OpenStream creates a mock stream.
func (h *MockHost) OpenStream(cfg StreamConfig, cb Callback) (Stream, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.initialized {
		return nil, fmt.Errorf("mock host not initialized")
	}
	if h.openError != nil {
		return nil, h.openError
	}
	frames := cfg.FramesPerBuffer
	if frames <= 0 {
		frames = 512
	}
	s := &MockStream{
		cfg:          cfg,
		cb:           cb,
		frames:       frames,
		tickInterval: h.tickInterval,
		generator:    h.inputGenerator,
	}
	h.lastStream = s
	return s, nil
}

// MockStream implements Stream. It owns the fake hardware clock and, when
// self-timed, the goroutine standing in for the audio interrupt.
type MockStream struct {
	cfg          StreamConfig
	cb           Callback
	frames       int
	tickInterval time.Duration
	generator    func(in [][]float32, frames int)

	mu           sync.Mutex
	active       bool
	closed       bool
	framesTicked int64
	played       [][]float32 // per playback channel, everything the callback produced
	stopCh       chan struct{}
	doneCh       chan struct{}
}

// Start starts the stream, spawning the self-timer when configured.
func (s *MockStream) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("stream closed")
	}
	if s.active {
		return fmt.Errorf("stream already active")
	}
	s.active = true
	if s.cfg.PlaybackDevice >= 0 && s.played == nil {
		s.played = make([][]float32, s.cfg.PlaybackChannels)
	}
	if s.tickInterval > 0 {
		s.stopCh = make(chan struct{})
		s.doneCh = make(chan struct{})
		go s.run(s.stopCh, s.doneCh)
	}
	return nil
}

func (s *MockStream) run(stopCh, doneCh chan struct{}) {
	defer close(doneCh)
	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			s.Tick(s.frames)
		}
	}
}

// Stop stops the stream. Like the hardware it stands in for, it returns
// only after any in-flight callback has completed.
func (s *MockStream) Stop() error {
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return nil
	}
	s.active = false
	stopCh, doneCh := s.stopCh, s.doneCh
	s.stopCh, s.doneCh = nil, nil
	s.mu.Unlock()

	if stopCh != nil {
		close(stopCh)
		<-doneCh
	}
	return nil
}

// Close closes the stream.
func (s *MockStream) Close() error {
	if err := s.Stop(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Time returns the fake hardware clock: frames ticked over the rate.
func (s *MockStream) Time() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Duration(float64(s.framesTicked) / s.cfg.SampleRate * float64(time.Second))
}

// Tick invokes the callback once for frames frames, exactly as the
// hardware interrupt would. No-op unless the stream is active.
func (s *MockStream) Tick(frames int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active || s.closed {
		return
	}

	var in, out [][]float32
	if s.cfg.CaptureDevice >= 0 {
		in = make([][]float32, s.cfg.CaptureChannels)
		for ch := range in {
			in[ch] = make([]float32, frames)
		}
		if s.generator != nil {
			s.generator(in, frames)
		} else {
			for ch := range in {
				for i := range in[ch] {
					t := float64(s.framesTicked+int64(i)) / s.cfg.SampleRate
					in[ch][i] = float32(0.1 * math.Sin(2*math.Pi*440*t))
				}
			}
		}
	}
	if s.cfg.PlaybackDevice >= 0 {
		out = make([][]float32, s.cfg.PlaybackChannels)
		for ch := range out {
			out[ch] = make([]float32, frames)
		}
	}

	hwTime := time.Duration(float64(s.framesTicked) / s.cfg.SampleRate * float64(time.Second))
	s.cb(in, out, frames, hwTime)
	s.framesTicked += int64(frames)

	for ch := range out {
		s.played[ch] = append(s.played[ch], out[ch]...)
	}
}

// Played returns everything the callback wrote for one playback channel.
func (s *MockStream) Played(channel int) []float32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if channel < 0 || channel >= len(s.played) {
		return nil
	}
	out := make([]float32, len(s.played[channel]))
	copy(out, s.played[channel])
	return out
}

// FramesTicked returns the total frames delivered so far.
func (s *MockStream) FramesTicked() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.framesTicked
}
