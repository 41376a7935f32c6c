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

// Package device abstracts the host audio hardware behind a small
// interface and enumerates devices and their supported sample rates.
// The abstraction keeps the engine testable without real hardware.
package device

import "time"

// Direction selects the playback or capture side of a device query.
type Direction int

const (
	Playback Direction = iota
	Capture
)

func (d Direction) String() string {
	if d == Capture {
		return "capture"
	}
	return "playback"
}

// Info describes one host audio device.
type Info struct {
	Index             int
	Name              string
	MaxInputChannels  int
	MaxOutputChannels int
	DefaultSampleRate float64
	DefaultInput      bool
	DefaultOutput     bool
}

// StreamConfig holds everything needed to open a hardware stream.
// A device index of -1 disables that side.
type StreamConfig struct {
	PlaybackDevice   int
	CaptureDevice    int
	PlaybackChannels int
	CaptureChannels  int
	SampleRate       float64
	FramesPerBuffer  int
}

// Callback is the real-time function the host invokes once per hardware
// period. in is nil when the stream has no capture side, out is nil when
// it has no playback side; each non-nil slice holds one buffer per channel
// of frames samples. hwTime is the host's stream clock at invocation.
//
// The callback runs at audio-interrupt priority. It must not allocate,
// block, or call into arbitrary code; all handoff with the rest of the
// engine goes through lock-free ring buffers and atomics.
type Callback func(in, out [][]float32, frames int, hwTime time.Duration)

// Stream is one open hardware stream.
//
// Stop returns only after the host has confirmed no further callback
// invocation will begin, which is what lets the engine order its final
// capture drain after the last hardware write.
type Stream interface {
	Start() error
	Stop() error
	Close() error

	// Time returns the host stream clock.
	Time() time.Duration
}

// Host is the hardware entry point (PortAudio in production, MockHost in
// tests). Initialize must be called before any other method and Terminate
// after all streams are closed.
type Host interface {
	Initialize() error
	Terminate() error

	// Devices enumerates every device the host knows about.
	Devices() ([]Info, error)

	// SupportsFormat probes whether the host would accept an open call
	// with the given configuration, without opening anything.
	SupportsFormat(cfg StreamConfig) bool

	// OpenStream opens (but does not start) a stream that will invoke cb.
	OpenStream(cfg StreamConfig, cb Callback) (Stream, error)
}
