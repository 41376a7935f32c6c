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

// hardwareCallback is the real-time path. The host invokes it once per
// hardware period with a deadline of that period; missing it is an audible
// glitch. The rules here are strict: no allocation, no locks, no calls
// into listener or collaborator code. Shortfalls are expressed through
// ring-buffer return counts and atomic counters, nothing is ever thrown
// or blocked on.
func (s *session) hardwareCallback(in, out [][]float32, frames int, _ time.Duration) {
	stopping := s.stopping.Load()
	paused := s.paused.Load()

	if out != nil {
		if stopping || paused {
			// Keep feeding the device, but feed it silence. The stream
			// close is asynchronous; we must not starve the driver while
			// StopStream runs.
			for _, ch := range out {
				zero(ch[:frames])
			}
		} else {
			for i, ch := range out {
				n := s.playRings[i].Read(ch[:frames])
				if n < frames {
					// Starved: the pump fell behind. Silence, not a stall.
					zero(ch[n:frames])
					s.underflows.Add(1)
				}
			}
			s.framesPlayed.Add(int64(frames))
		}
	}

	if in != nil && !stopping {
		if paused {
			// Captured data is discarded while paused. It must never be
			// replaced by silence inside the recording, so the frame
			// counter does not advance either.
			return
		}
		for i, ch := range in {
			n := s.capRings[i].Write(ch[:frames])
			if n < frames {
				// Dropout: ring full because the drain side is behind.
				// Count it and move on; the pump turns the count into a
				// reportable lost interval.
				s.lostSamples.Add(int64(frames - n))
			}
		}
		s.framesCaptured.Add(int64(frames))
	}
}

func zero(buf []float32) {
	for i := range buf {
		buf[i] = 0
	}
}
