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

import "errors"

// Control-path failures are plain return values checked by the caller.
// Real-time-path trouble (dropouts, underflows) never surfaces as an
// error; it is counted on atomics and drained by the pump.
var (
	// ErrNoCompatibleRate means the playback and capture devices share no
	// sample rate. Reported before any hardware is touched.
	ErrNoCompatibleRate = errors.New("no sample rate supported by both devices")

	// ErrDeviceOpenFailed wraps the driver's rejection of the open call.
	// The engine stays Idle and leaks nothing.
	ErrDeviceOpenFailed = errors.New("failed to open audio device")

	// ErrAlreadyActive means StartStream was called while another stream
	// holds the engine. The running stream is untouched.
	ErrAlreadyActive = errors.New("an audio stream is already active")

	// ErrInvalidConfiguration is a programming error in the stream options,
	// fatal to the session being built only.
	ErrInvalidConfiguration = errors.New("invalid stream configuration")
)
