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
	"time"

	"github.com/gordonklaus/portaudio"
)

// PortAudioHost implements Host using the real PortAudio library.
type PortAudioHost struct {
	initialized bool
	devices     []*portaudio.DeviceInfo
}

// NewPortAudioHost creates a new PortAudio host.
func NewPortAudioHost() *PortAudioHost {
	return &PortAudioHost{}
}

// Initialize initializes the PortAudio subsystem.
func (h *PortAudioHost) Initialize() error {
	if h.initialized {
		return nil
	}
	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize PortAudio: %w", err)
	}
	h.initialized = true
	return nil
}

// Terminate terminates the PortAudio subsystem.
func (h *PortAudioHost) Terminate() error {
	if !h.initialized {
		return nil
	}
	err := portaudio.Terminate()
	h.initialized = false
	h.devices = nil
	return err
}

// Devices enumerates the host's audio devices. The returned indices are
// positions in PortAudio's device table and stay valid until the next
// enumeration.
func (h *PortAudioHost) Devices() ([]Info, error) {
	if !h.initialized {
		return nil, fmt.Errorf("PortAudio not initialized")
	}

	devs, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate devices: %w", err)
	}
	h.devices = devs

	defIn, _ := portaudio.DefaultInputDevice()
	defOut, _ := portaudio.DefaultOutputDevice()

	infos := make([]Info, len(devs))
	for i, d := range devs {
		infos[i] = Info{
			Index:             i,
			Name:              d.Name,
			MaxInputChannels:  d.MaxInputChannels,
			MaxOutputChannels: d.MaxOutputChannels,
			DefaultSampleRate: d.DefaultSampleRate,
			DefaultInput:      d == defIn,
			DefaultOutput:     d == defOut,
		}
	}
	return infos, nil
}

func (h *PortAudioHost) device(index int) *portaudio.DeviceInfo {
	if index < 0 || index >= len(h.devices) {
		return nil
	}
	return h.devices[index]
}

func (h *PortAudioHost) params(cfg StreamConfig) (portaudio.StreamParameters, error) {
	var p portaudio.StreamParameters
	if cfg.PlaybackDevice >= 0 {
		d := h.device(cfg.PlaybackDevice)
		if d == nil {
			return p, fmt.Errorf("unknown playback device index %d", cfg.PlaybackDevice)
		}
		p.Output.Device = d
		p.Output.Channels = cfg.PlaybackChannels
		p.Output.Latency = d.DefaultHighOutputLatency
	}
	if cfg.CaptureDevice >= 0 {
		d := h.device(cfg.CaptureDevice)
		if d == nil {
			return p, fmt.Errorf("unknown capture device index %d", cfg.CaptureDevice)
		}
		p.Input.Device = d
		p.Input.Channels = cfg.CaptureChannels
		p.Input.Latency = d.DefaultHighInputLatency
	}
	p.SampleRate = cfg.SampleRate
	p.FramesPerBuffer = cfg.FramesPerBuffer
	return p, nil
}

// SupportsFormat asks PortAudio whether the configuration would open.
func (h *PortAudioHost) SupportsFormat(cfg StreamConfig) bool {
	if !h.initialized {
		return false
	}
	if h.devices == nil {
		if _, err := h.Devices(); err != nil {
			return false
		}
	}
	p, err := h.params(cfg)
	if err != nil {
		return false
	}
	switch {
	case cfg.PlaybackDevice >= 0 && cfg.CaptureDevice >= 0:
		err = portaudio.IsFormatSupported(p, func(in, out [][]float32) {})
	case cfg.PlaybackDevice >= 0:
		err = portaudio.IsFormatSupported(p, func(out [][]float32) {})
	case cfg.CaptureDevice >= 0:
		err = portaudio.IsFormatSupported(p, func(in [][]float32) {})
	default:
		return false
	}
	return err == nil
}

// OpenStream opens a PortAudio callback stream. The trampolines below are
// the only code between the driver and the engine callback; they forward
// the non-interleaved buffers as-is and allocate nothing.
func (h *PortAudioHost) OpenStream(cfg StreamConfig, cb Callback) (Stream, error) {
	if !h.initialized {
		return nil, fmt.Errorf("PortAudio not initialized")
	}
	if h.devices == nil {
		if _, err := h.Devices(); err != nil {
			return nil, err
		}
	}
	p, err := h.params(cfg)
	if err != nil {
		return nil, err
	}

	var s *portaudio.Stream
	switch {
	case cfg.PlaybackDevice >= 0 && cfg.CaptureDevice >= 0:
		s, err = portaudio.OpenStream(p, func(in, out [][]float32, ti portaudio.StreamCallbackTimeInfo) {
			cb(in, out, len(out[0]), ti.CurrentTime)
		})
	case cfg.PlaybackDevice >= 0:
		s, err = portaudio.OpenStream(p, func(out [][]float32, ti portaudio.StreamCallbackTimeInfo) {
			cb(nil, out, len(out[0]), ti.CurrentTime)
		})
	case cfg.CaptureDevice >= 0:
		s, err = portaudio.OpenStream(p, func(in [][]float32, ti portaudio.StreamCallbackTimeInfo) {
			cb(in, nil, len(in[0]), ti.CurrentTime)
		})
	default:
		return nil, fmt.Errorf("stream config selects no devices")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open stream: %w", err)
	}
	return &portAudioStream{stream: s}, nil
}

type portAudioStream struct {
	stream *portaudio.Stream
}

func (s *portAudioStream) Start() error {
	return s.stream.Start()
}

// Stop blocks until pending callbacks have completed, per PortAudio's
// Pa_StopStream contract.
func (s *portAudioStream) Stop() error {
	return s.stream.Stop()
}

func (s *portAudioStream) Close() error {
	return s.stream.Close()
}

func (s *portAudioStream) Time() time.Duration {
	return s.stream.Time()
}
