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

package engine

import "time"

// Config carries the preferences the engine reads once at StartStream.
// Changing a Config after a stream is open has no effect on that stream;
// ring buffers are never resized mid-session.
type Config struct {
	// TargetLatency sizes the playback and capture ring buffers:
	// capacity = TargetLatency × sample rate, per channel.
	TargetLatency time.Duration

	// SampleRate is the track data rate and the desired hardware rate.
	// When the hardware cannot run at it, the engine resamples.
	SampleRate int

	// FramesPerBuffer is the hardware period size requested from the host
	// and the chunk size the pump mixes and drains in.
	FramesPerBuffer int

	// PollInterval is the pump thread's sleep between passes.
	PollInterval time.Duration

	// DropoutDetection enables lost-interval accounting for capture
	// overflows. The samples are lost either way; this controls whether
	// the gaps are tracked and reported.
	DropoutDetection bool

	// LatencyCorrection shifts where recorded audio is placed on the
	// timeline, compensating the capture round trip. Usually negative.
	LatencyCorrection time.Duration
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() Config {
	return Config{
		TargetLatency:    100 * time.Millisecond,
		SampleRate:       44100,
		FramesPerBuffer:  512,
		PollInterval:     10 * time.Millisecond,
		DropoutDetection: true,
	}
}
