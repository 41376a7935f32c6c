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

// Mixer supplies mixed playback samples on demand. The pump calls it
// repeatedly in small chunks (tens of milliseconds worth at a time), always
// from the pump goroutine, never from the hardware callback.
type Mixer interface {
	// Mix fills each channel buffer with len(out[0]) frames of mixed
	// track data starting at the given track frame. Frames are counted
	// at the track sample rate from the timeline origin.
	Mix(out [][]float32, startFrame int64)
}

// Recorder accepts newly captured samples for permanent storage. Called
// only from the pump goroutine while a recording stream is active; the
// rest of the application must not touch the destination until the stream
// has fully stopped. Append may block on disk I/O; the pump can afford
// that, the hardware callback never could.
type Recorder interface {
	// Append stores one chunk, one equal-length slice per channel, at
	// track rate.
	Append(channels [][]float32) error

	// Flush forces everything accepted so far to durable storage. Called
	// once during stream teardown, after the final drain.
	Flush() error
}

// LostInterval is a span of recording time whose samples were dropped
// because the capture ring buffer was full.
type LostInterval struct {
	Start    float64 // track time, seconds
	Duration float64 // seconds
}

// Listener receives engine notifications.
//
// Which goroutine calls what is part of the contract: OnPosition and
// OnDropout are invoked from the pump goroutine; OnStreamStopped from
// whichever control goroutine completed the stop. No listener method is
// ever invoked from the hardware callback, so implementations may lock,
// allocate, or do I/O.
type Listener interface {
	OnPosition(token Token, trackTime float64)
	OnDropout(token Token, interval LostInterval)
	OnStreamStopped(token Token)
}
