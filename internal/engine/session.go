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

import (
	"math"
	"sync/atomic"

	"github.com/loqalabs/loqa-audio-engine/internal/device"
	"github.com/loqalabs/loqa-audio-engine/internal/resample"
	"github.com/loqalabs/loqa-audio-engine/internal/ringbuf"
)

// Token identifies one open stream session. Tokens are allocated
// monotonically; 0 is never a valid token, so callers may treat a zeroed
// field as "no stream". At most one token is active per engine.
type Token int64

// BadStreamTime is what GetStreamTime returns when no stream is active.
const BadStreamTime = -1_000_000_000.0

// PlayMode selects how the transport cursor moves through [T0, T1).
type PlayMode int

const (
	// PlayStraight runs T0 to T1 once and stops.
	PlayStraight PlayMode = iota

	// PlayLooped wraps T1 back to T0 without reopening anything.
	PlayLooped

	// PlayCutPreview skips the configured gap, previewing what a cut of
	// [CutStart, CutStart+CutLen) would sound like.
	PlayCutPreview
)

// StreamOptions configures one StartStream call.
type StreamOptions struct {
	PlaybackDevice int // host device index, -1 disables playback
	CaptureDevice  int // host device index, -1 disables capture

	PlaybackChannels int
	CaptureChannels  int

	// Play/record window in track time, seconds. T1 <= T0 means
	// open-ended, the usual case for recording.
	T0, T1 float64

	Mode             PlayMode
	CutStart, CutLen float64 // PlayCutPreview only

	// Rate is the desired track rate; 0 uses Config.SampleRate.
	Rate int
}

// session is the per-stream state. A new one is built by every StartStream
// and discarded at stop; sessions are never reused.
//
// The atomic fields are the only channel between the three concurrency
// domains. The callback increments the frame and loss counters, the pump
// and UI threads read them; nobody holds a lock across that boundary.
type session struct {
	token      Token
	opts       StreamOptions
	deviceRate int
	trackRate  int

	hasPlayback bool
	hasCapture  bool

	playRings []*ringbuf.Buffer
	capRings  []*ringbuf.Buffer

	// Rate converters, one per channel, present only when the hardware
	// could not run at the track rate.
	playRes []*resample.Resampler // track rate -> device rate
	capRes  []*resample.Resampler // device rate -> track rate

	hw device.Stream

	// Track-frame grid for the play window, precomputed so the pump never
	// does float comparisons against the boundaries.
	t0F, t1F  int64
	cutStartF int64
	cutEndF   int64
	bounded   bool

	framesPlayed    atomic.Int64 // device frames delivered to hardware
	framesCaptured  atomic.Int64 // device frames accepted from hardware
	seekFrames      atomic.Int64 // device frames added/removed by seeks
	persistedFrames atomic.Int64 // track frames handed to the Recorder
	lostSamples     atomic.Int64 // capture samples dropped (summed over channels)
	underflows      atomic.Int64 // playback periods that ran short

	paused   atomic.Bool
	stopping atomic.Bool
	recError atomic.Bool

	seekPending atomic.Bool
	seekBits    atomic.Uint64 // float64 seconds, stored as bits

	ready     chan struct{} // closed after the pump's priming fill
	hwStopped chan struct{} // closed once the hardware confirms no more callbacks
	pumpDone  chan struct{} // closed after the pump's final flush
}

func frameAt(seconds float64, rate int) int64 {
	return int64(math.Round(seconds * float64(rate)))
}

func newSession(token Token, opts StreamOptions, deviceRate, trackRate, ringFrames int) (*session, error) {
	s := &session{
		token:       token,
		opts:        opts,
		deviceRate:  deviceRate,
		trackRate:   trackRate,
		hasPlayback: opts.PlaybackDevice >= 0 && opts.PlaybackChannels > 0,
		hasCapture:  opts.CaptureDevice >= 0 && opts.CaptureChannels > 0,
		ready:       make(chan struct{}),
		hwStopped:   make(chan struct{}),
		pumpDone:    make(chan struct{}),
	}

	s.t0F = frameAt(opts.T0, trackRate)
	s.t1F = frameAt(opts.T1, trackRate)
	s.bounded = s.t1F > s.t0F
	if opts.Mode == PlayCutPreview {
		s.cutStartF = frameAt(opts.CutStart, trackRate)
		s.cutEndF = frameAt(opts.CutStart+opts.CutLen, trackRate)
		if s.cutStartF < s.t0F || (s.bounded && s.cutEndF > s.t1F) || s.cutEndF < s.cutStartF {
			return nil, ErrInvalidConfiguration
		}
	}

	if s.hasPlayback {
		s.playRings = make([]*ringbuf.Buffer, opts.PlaybackChannels)
		for i := range s.playRings {
			s.playRings[i] = ringbuf.New(ringFrames)
		}
	}
	if s.hasCapture {
		s.capRings = make([]*ringbuf.Buffer, opts.CaptureChannels)
		for i := range s.capRings {
			s.capRings[i] = ringbuf.New(ringFrames)
		}
	}

	if deviceRate != trackRate {
		if s.hasPlayback {
			s.playRes = make([]*resample.Resampler, opts.PlaybackChannels)
			for i := range s.playRes {
				r, err := resample.New(trackRate, deviceRate)
				if err != nil {
					return nil, err
				}
				s.playRes[i] = r
			}
		}
		if s.hasCapture {
			s.capRes = make([]*resample.Resampler, opts.CaptureChannels)
			for i := range s.capRes {
				r, err := resample.New(deviceRate, trackRate)
				if err != nil {
					return nil, err
				}
				s.capRes[i] = r
			}
		}
	}

	return s, nil
}

// cutGap returns the skipped duration in seconds, 0 outside cut preview.
func (s *session) cutGap() float64 {
	if s.opts.Mode != PlayCutPreview {
		return 0
	}
	return float64(s.cutEndF-s.cutStartF) / float64(s.trackRate)
}

// warp maps elapsed real stream time to track time: the loop wraps, the
// cut-preview gap is skipped. Real time and track time are distinct
// clocks; listeners only ever see the warped one.
func (s *session) warp(elapsed float64) float64 {
	if elapsed < 0 {
		elapsed = 0
	}
	if !s.bounded {
		return s.opts.T0 + elapsed
	}

	span := float64(s.t1F-s.t0F) / float64(s.trackRate)
	effective := span - s.cutGap()
	if effective <= 0 {
		return s.opts.T0
	}

	switch s.opts.Mode {
	case PlayLooped:
		elapsed = math.Mod(elapsed, effective)
	default:
		if elapsed > effective {
			elapsed = effective
		}
	}

	t := s.opts.T0 + elapsed
	if gap := s.cutGap(); gap > 0 && t >= s.opts.CutStart {
		t += gap
	}
	return t
}

// trackTime returns the live transport position in track time. It is what
// GetStreamTime reports: driven by the hardware frame counter, not by the
// pump's notion of progress.
func (s *session) trackTime() float64 {
	var frames int64
	if s.hasPlayback {
		frames = s.framesPlayed.Load()
	} else {
		frames = s.framesCaptured.Load()
	}
	frames += s.seekFrames.Load()
	return s.warp(float64(frames) / float64(s.deviceRate))
}

// requestSeek records a pending transport shift for the pump to apply.
func (s *session) requestSeek(offsetSeconds float64) {
	s.seekBits.Store(math.Float64bits(offsetSeconds))
	s.seekPending.Store(true)
}

// takeSeek returns and clears the pending seek offset. Pump side only.
func (s *session) takeSeek() (float64, bool) {
	if !s.seekPending.Load() {
		return 0, false
	}
	off := math.Float64frombits(s.seekBits.Load())
	s.seekPending.Store(false)
	return off, true
}
