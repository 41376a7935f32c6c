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
	"errors"
	"log"
	"math"
	"time"
)

var errSimulatedRecording = errors.New("simulated recording error")

// pump is the buffering worker between the real-time rings and the
// non-real-time collaborators. It runs at ordinary goroutine priority in a
// poll loop, so unlike the hardware callback it may allocate, lock and do
// file I/O, just never while holding anything the callback needs.
type pump struct {
	c     *Controller
	s     *session
	mixer Mixer
	rec   Recorder

	chunkT int // track frames mixed per pass
	chunkD int // device frames drained per pass

	playPos     int64 // next track frame to hand to the mixer
	playDone    bool
	autoStopped bool
	lastLost    int64

	mixBuf [][]float32 // track-rate playback scratch
	devBuf []float32   // device-rate scratch after playback resampling
	capBuf [][]float32 // device-rate capture scratch
	trkBuf [][]float32 // track-rate capture scratch after resampling
}

func outCapFor(frames, fromRate, toRate int) int {
	return int(math.Ceil(float64(frames)*float64(toRate)/float64(fromRate))) + 2
}

func newPump(c *Controller, s *session, mixer Mixer, rec Recorder) *pump {
	p := &pump{
		c:       c,
		s:       s,
		mixer:   mixer,
		rec:     rec,
		chunkT:  c.cfg.FramesPerBuffer,
		chunkD:  c.cfg.FramesPerBuffer,
		playPos: s.t0F,
	}
	if p.chunkT <= 0 {
		p.chunkT = 512
		p.chunkD = 512
	}

	if s.hasPlayback {
		p.mixBuf = make([][]float32, len(s.playRings))
		for i := range p.mixBuf {
			p.mixBuf[i] = make([]float32, p.chunkT)
		}
		if s.playRes != nil {
			p.devBuf = make([]float32, outCapFor(p.chunkT, s.trackRate, s.deviceRate))
		}
	}
	if s.hasCapture {
		p.capBuf = make([][]float32, len(s.capRings))
		p.trkBuf = make([][]float32, len(s.capRings))
		for i := range p.capBuf {
			p.capBuf[i] = make([]float32, p.chunkD)
			p.trkBuf[i] = make([]float32, outCapFor(p.chunkD, s.deviceRate, s.trackRate))
		}
	}
	return p
}

// runPump is the audio engine thread body. The final drain runs strictly
// after the hardware has confirmed the stream is closed, so no captured
// audio between the last callback and thread exit can be missed.
func (c *Controller) runPump(s *session, mixer Mixer, rec Recorder) {
	defer close(s.pumpDone)

	p := newPump(c, s, mixer, rec)

	// Prime the playback rings before the hardware starts pulling, or the
	// first periods would be silence.
	p.fillPlayback()
	close(s.ready)

	interval := c.cfg.PollInterval
	if interval <= 0 {
		interval = 10 * time.Millisecond
	}

	for !s.stopping.Load() {
		if !s.paused.Load() {
			p.fillPlayback()
			p.drainCapture(false)
			p.accountDropouts()
			p.notifyPosition()
			p.maybeAutoStop()
		}
		p.applySeek()
		time.Sleep(interval)
	}

	<-s.hwStopped
	p.drainCapture(true)
	p.accountDropouts()
	if rec != nil {
		if err := rec.Flush(); err != nil {
			log.Printf("⚠️ Failed to flush recording storage: %v", err)
		}
	}
}

// fillPlayback tops the playback rings up to their capacity, mixing in
// chunk-sized spans that never straddle the cut gap or the end of the play
// window.
func (p *pump) fillPlayback() {
	s := p.s
	if !s.hasPlayback || p.playDone {
		return
	}

	for {
		// Boundary handling first: skip the cut gap, wrap or finish at T1.
		if s.opts.Mode == PlayCutPreview && p.playPos >= s.cutStartF && p.playPos < s.cutEndF {
			p.playPos = s.cutEndF
		}
		if s.bounded && p.playPos >= s.t1F {
			if s.opts.Mode == PlayLooped {
				p.playPos = s.t0F
				continue
			}
			p.finishPlayback()
			return
		}

		space := s.playRings[0].AvailableToWrite()
		for _, r := range s.playRings[1:] {
			if w := r.AvailableToWrite(); w < space {
				space = w
			}
		}
		need := p.chunkT
		if s.playRes != nil {
			need = outCapFor(p.chunkT, s.trackRate, s.deviceRate)
		}
		if space < need {
			return
		}

		// Mix a span that stays inside the current boundaries.
		n := int64(p.chunkT)
		if s.opts.Mode == PlayCutPreview && p.playPos < s.cutStartF {
			if rest := s.cutStartF - p.playPos; rest < n {
				n = rest
			}
		}
		if s.bounded {
			if rest := s.t1F - p.playPos; rest < n {
				n = rest
			}
		}

		for ch := range p.mixBuf {
			p.mixBuf[ch] = p.mixBuf[ch][:n]
		}
		p.mixer.Mix(p.mixBuf, p.playPos)
		for ch, ring := range s.playRings {
			if s.playRes == nil {
				ring.Write(p.mixBuf[ch])
				continue
			}
			in := p.mixBuf[ch]
			for len(in) > 0 {
				consumed, produced := s.playRes[ch].Process(in, p.devBuf)
				ring.Write(p.devBuf[:produced])
				in = in[consumed:]
				if consumed == 0 && produced == 0 {
					break
				}
			}
		}
		p.playPos += n
	}
}

// finishPlayback flushes the playback resamplers' tails into the rings and
// marks the play range exhausted.
func (p *pump) finishPlayback() {
	s := p.s
	if s.playRes != nil {
		for ch, ring := range s.playRings {
			for {
				n := s.playRes[ch].Flush(p.devBuf)
				if n == 0 {
					break
				}
				ring.Write(p.devBuf[:n])
			}
		}
	}
	p.playDone = true
}

// drainCapture moves captured samples out of the rings and into the
// Recorder, resampling device rate to track rate when they differ. In the
// final pass it takes everything, down to the last sample.
func (p *pump) drainCapture(final bool) {
	s := p.s
	if !s.hasCapture {
		return
	}

	for {
		avail := s.capRings[0].AvailableToRead()
		for _, r := range s.capRings[1:] {
			if a := r.AvailableToRead(); a < avail {
				avail = a
			}
		}
		if avail <= 0 || (!final && avail < p.chunkD) {
			break
		}
		n := avail
		if n > p.chunkD {
			n = p.chunkD
		}

		if p.rec == nil {
			// Monitoring only: drop the samples without copying them out.
			// The pump is the sole consumer of the capture rings, so the
			// cursor advance is safe here.
			for _, ring := range s.capRings {
				ring.Discard(n)
			}
			continue
		}
		for ch, ring := range s.capRings {
			ring.Read(p.capBuf[ch][:n])
		}

		chunk := make([][]float32, len(p.capBuf))
		frames := n
		if s.capRes == nil {
			for ch := range p.capBuf {
				chunk[ch] = p.capBuf[ch][:n]
			}
		} else {
			frames = len(p.trkBuf[0])
			for ch := range p.capBuf {
				_, produced := s.capRes[ch].Process(p.capBuf[ch][:n], p.trkBuf[ch])
				chunk[ch] = p.trkBuf[ch][:produced]
				if produced < frames {
					frames = produced
				}
			}
			for ch := range chunk {
				chunk[ch] = chunk[ch][:frames]
			}
		}

		if err := p.appendRecording(chunk, frames); err != nil {
			return
		}
	}

	if final && p.rec != nil && s.capRes != nil {
		// Trailing resampler state still owes a few samples.
		chunk := make([][]float32, len(p.trkBuf))
		frames := len(p.trkBuf[0])
		for ch := range p.trkBuf {
			n := s.capRes[ch].Flush(p.trkBuf[ch])
			chunk[ch] = p.trkBuf[ch][:n]
			if n < frames {
				frames = n
			}
		}
		if frames > 0 {
			for ch := range chunk {
				chunk[ch] = chunk[ch][:frames]
			}
			_ = p.appendRecording(chunk, frames)
		}
	}
}

func (p *pump) appendRecording(chunk [][]float32, frames int) error {
	if p.s.recError.Load() {
		return errSimulatedRecording
	}
	var err error
	if p.c.simRecErr.Load() {
		err = errSimulatedRecording
	} else {
		err = p.rec.Append(chunk)
	}
	if err != nil {
		p.escalateRecordingError(err)
		return err
	}
	p.s.persistedFrames.Add(int64(frames))
	return nil
}

// escalateRecordingError turns the capture path's trouble into a
// user-visible stop and report. The flag crosses threads as an atomic;
// nothing is thrown across the real-time boundary.
func (p *pump) escalateRecordingError(err error) {
	if p.s.recError.Swap(true) {
		return
	}
	log.Printf("❌ Recording failed, stopping stream: %v", err)
	p.c.setLastError(err)
	go func() { _ = p.c.stopIfCurrent(p.s.token) }()
}

// accountDropouts converts the callback's lost-sample counter into
// reportable lost-time intervals.
func (p *pump) accountDropouts() {
	s := p.s
	if !s.hasCapture {
		return
	}
	delta := s.lostSamples.Load() - p.lastLost
	if delta <= 0 {
		return
	}
	p.lastLost += delta

	if !p.c.cfg.DropoutDetection {
		return
	}
	perChannel := delta / int64(len(s.capRings))
	if perChannel == 0 {
		perChannel = 1
	}
	interval := LostInterval{
		Start:    s.opts.T0 + float64(s.persistedFrames.Load())/float64(s.trackRate),
		Duration: float64(perChannel) / float64(s.deviceRate),
	}
	p.c.addLostInterval(interval)
	if l := p.c.getListener(); l != nil {
		l.OnDropout(s.token, interval)
	}
}

func (p *pump) notifyPosition() {
	if l := p.c.getListener(); l != nil {
		l.OnPosition(p.s.token, p.s.trackTime())
	}
}

// maybeAutoStop ends a straight play-only session once the mixed range has
// fully left the rings.
func (p *pump) maybeAutoStop() {
	s := p.s
	if p.autoStopped || !p.playDone || s.hasCapture || s.opts.Mode == PlayLooped {
		return
	}
	for _, r := range s.playRings {
		if r.AvailableToRead() > 0 {
			return
		}
	}
	p.autoStopped = true
	go func() { _ = p.c.stopIfCurrent(p.s.token) }()
}

// applySeek shifts the transport by a pending SeekStream offset. Samples
// already sitting in the rings still play out; at most one ring's worth of
// latency separates the request from the audible jump.
func (p *pump) applySeek() {
	s := p.s
	off, ok := s.takeSeek()
	if !ok {
		return
	}

	newPos := p.playPos + frameAt(off, s.trackRate)
	if newPos < s.t0F {
		newPos = s.t0F
	}
	if s.bounded && newPos > s.t1F {
		newPos = s.t1F
	}
	deltaTrack := newPos - p.playPos
	p.playPos = newPos
	if s.bounded && p.playPos < s.t1F {
		p.playDone = false
	}

	deviceDelta := int64(math.Round(float64(deltaTrack) * float64(s.deviceRate) / float64(s.trackRate)))
	s.seekFrames.Add(deviceDelta)
}
