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

// Package engine is the real-time audio I/O engine: it opens host audio
// streams, pumps samples between lock-free ring buffers and the track
// collaborators, and tracks transport state.
//
// Three concurrency domains share a stream: control goroutines calling
// Controller methods, one pump goroutine per stream, and the hardware
// callback at real-time priority. Their only shared state is the ring
// buffers and atomic scalars; the callback never takes a lock.
package engine

import (
	"fmt"
	"log"
	"sync"
	"sync/atomic"

	"github.com/loqalabs/loqa-audio-engine/internal/device"
)

const (
	stateIdle int32 = iota
	stateStarting
	stateActive
	stateStopping
)

// Controller is the process-wide engine coordinator. Construct exactly one
// with NewController after the host is initialized; tear it down (StopStream)
// before the host is terminated. Pass it to collaborators explicitly; there
// is no ambient global instance.
type Controller struct {
	host    device.Host
	catalog *device.Catalog
	cfg     Config

	state       atomic.Int32
	activeToken atomic.Int64
	lastToken   atomic.Int64
	sess        atomic.Pointer[session]

	// Serializes StartStream/StopStream across control goroutines. The
	// pump and the callback never touch it.
	startStopMu sync.Mutex

	listenerMu sync.Mutex
	listener   Listener

	resultMu      sync.Mutex
	lost          []LostInterval
	recordedStart float64
	recordedDur   float64
	lastErr       error

	simRecErr atomic.Bool
}

// NewController creates the engine coordinator. The caller owns host
// lifetime: Initialize before this, Terminate only after the controller
// has gone Idle.
func NewController(host device.Host, catalog *device.Catalog, cfg Config) *Controller {
	return &Controller{
		host:    host,
		catalog: catalog,
		cfg:     cfg,
	}
}

// SetListener installs the notification sink. See Listener for which
// goroutine delivers what.
func (c *Controller) SetListener(l Listener) {
	c.listenerMu.Lock()
	defer c.listenerMu.Unlock()
	c.listener = l
}

func (c *Controller) getListener() Listener {
	c.listenerMu.Lock()
	defer c.listenerMu.Unlock()
	return c.listener
}

// StartStream opens a playback and/or capture session and returns its
// token. mixer is required when opts selects playback; rec may be nil to
// capture without storage (monitoring). A failed start leaves the engine
// exactly as it was: Idle, nothing allocated, no token issued.
func (c *Controller) StartStream(mixer Mixer, rec Recorder, opts StreamOptions) (Token, error) {
	c.startStopMu.Lock()
	defer c.startStopMu.Unlock()

	hasPlayback := opts.PlaybackDevice >= 0 && opts.PlaybackChannels > 0
	hasCapture := opts.CaptureDevice >= 0 && opts.CaptureChannels > 0
	if !hasPlayback && !hasCapture {
		return 0, ErrInvalidConfiguration
	}
	if hasPlayback && mixer == nil {
		return 0, ErrInvalidConfiguration
	}
	if !hasPlayback {
		opts.PlaybackDevice = -1
		opts.PlaybackChannels = 0
	}
	if !hasCapture {
		opts.CaptureDevice = -1
		opts.CaptureChannels = 0
	}

	if !c.state.CompareAndSwap(stateIdle, stateStarting) {
		return 0, ErrAlreadyActive
	}
	fail := func(err error) (Token, error) {
		c.state.Store(stateIdle)
		return 0, err
	}

	trackRate := opts.Rate
	if trackRate <= 0 {
		trackRate = c.cfg.SampleRate
	}
	if trackRate <= 0 {
		return fail(ErrInvalidConfiguration)
	}

	deviceRate := c.catalog.BestCombinedRate(opts.PlaybackDevice, opts.CaptureDevice, trackRate)
	if deviceRate == 0 {
		return fail(ErrNoCompatibleRate)
	}

	latency := c.cfg.TargetLatency
	if latency <= 0 {
		latency = DefaultConfig().TargetLatency
	}
	ringFrames := int(latency.Seconds() * float64(deviceRate))
	if minFrames := c.cfg.FramesPerBuffer * 2; ringFrames < minFrames {
		ringFrames = minFrames
	}

	token := Token(c.lastToken.Add(1))
	s, err := newSession(token, opts, deviceRate, trackRate, ringFrames)
	if err != nil {
		return fail(err)
	}

	hw, err := c.host.OpenStream(device.StreamConfig{
		PlaybackDevice:   opts.PlaybackDevice,
		CaptureDevice:    opts.CaptureDevice,
		PlaybackChannels: opts.PlaybackChannels,
		CaptureChannels:  opts.CaptureChannels,
		SampleRate:       float64(deviceRate),
		FramesPerBuffer:  c.cfg.FramesPerBuffer,
	}, s.hardwareCallback)
	if err != nil {
		return fail(fmt.Errorf("%w: %v", ErrDeviceOpenFailed, err))
	}
	s.hw = hw

	c.resultMu.Lock()
	c.lost = nil
	c.recordedStart = 0
	c.recordedDur = 0
	c.lastErr = nil
	c.resultMu.Unlock()

	c.sess.Store(s)
	c.activeToken.Store(int64(token))
	go c.runPump(s, mixer, rec)
	// The priming fill happens-before the first hardware pull.
	<-s.ready

	if err := hw.Start(); err != nil {
		s.stopping.Store(true)
		close(s.hwStopped)
		<-s.pumpDone
		_ = hw.Close()
		c.sess.Store(nil)
		c.activeToken.Store(0)
		return fail(fmt.Errorf("%w: %v", ErrDeviceOpenFailed, err))
	}

	c.state.Store(stateActive)
	log.Printf("🎛️ Audio stream %d started: %d Hz device, %d Hz track, %d frame rings",
		token, deviceRate, trackRate, ringFrames)
	return token, nil
}

// StartMonitoring opens a capture-only stream with no storage, the "live
// input meters without recording" mode. rate 0 uses the configured default.
func (c *Controller) StartMonitoring(captureDevice, channels, rate int) (Token, error) {
	return c.StartStream(nil, nil, StreamOptions{
		PlaybackDevice:  -1,
		CaptureDevice:   captureDevice,
		CaptureChannels: channels,
		Rate:            rate,
	})
}

// StopStream tears the active stream down: the callback sees the stop flag
// and goes quiet, the hardware confirms it is closed, the pump drains the
// last captured samples and flushes storage, and only then are the rings
// released. Safe to call from any control goroutine at any time; calling
// it while Idle is a no-op.
func (c *Controller) StopStream() error {
	c.startStopMu.Lock()
	defer c.startStopMu.Unlock()
	return c.stopLocked()
}

// stopIfCurrent stops the stream only if the given token still identifies
// the active session. The pump uses it for its async teardowns so a stop
// queued against a dying session can never take down a newer one.
func (c *Controller) stopIfCurrent(token Token) error {
	c.startStopMu.Lock()
	defer c.startStopMu.Unlock()
	if c.activeToken.Load() != int64(token) {
		return nil
	}
	return c.stopLocked()
}

func (c *Controller) stopLocked() error {
	if !c.state.CompareAndSwap(stateActive, stateStopping) {
		return nil
	}
	s := c.sess.Load()
	token := s.token

	s.stopping.Store(true)
	if err := s.hw.Stop(); err != nil {
		log.Printf("⚠️ Failed to stop hardware stream: %v", err)
	}
	close(s.hwStopped)
	<-s.pumpDone
	if err := s.hw.Close(); err != nil {
		log.Printf("⚠️ Failed to close hardware stream: %v", err)
	}

	if s.hasCapture {
		c.resultMu.Lock()
		c.recordedStart = s.opts.T0 + c.cfg.LatencyCorrection.Seconds()
		c.recordedDur = float64(s.persistedFrames.Load()) / float64(s.trackRate)
		c.resultMu.Unlock()
	}

	c.sess.Store(nil)
	c.activeToken.Store(0)
	c.state.Store(stateIdle)
	log.Printf("🛑 Audio stream %d stopped", token)

	if l := c.getListener(); l != nil {
		l.OnStreamStopped(token)
	}
	return nil
}

// SetPaused pauses or resumes the transport without tearing the stream
// down. The hardware keeps running: playback substitutes silence, captured
// data is discarded. Un-pausing resumes exactly where the cursor was.
func (c *Controller) SetPaused(paused bool) {
	if s := c.sess.Load(); s != nil {
		s.paused.Store(paused)
	}
}

// IsPaused reports whether the active stream is paused.
func (c *Controller) IsPaused() bool {
	if s := c.sess.Load(); s != nil {
		return s.paused.Load()
	}
	return false
}

// SeekStream shifts the transport by offsetSeconds. Applied by the pump on
// its next pass; audio already buffered plays out first.
func (c *Controller) SeekStream(offsetSeconds float64) {
	if s := c.sess.Load(); s != nil {
		s.requestSeek(offsetSeconds)
	}
}

// IsBusy reports whether the engine is anywhere but Idle.
func (c *Controller) IsBusy() bool {
	return c.state.Load() != stateIdle
}

// IsStreamActive reports whether the given token is the currently active
// stream. A zero or stale token is never active. Lock-free: safe from any
// goroutine, including tight UI polling.
func (c *Controller) IsStreamActive(token Token) bool {
	return token != 0 && c.activeToken.Load() == int64(token)
}

// GetStreamTime returns the live transport position in track time,
// hardware-accurate (driven by the callback's frame counter). Returns
// BadStreamTime when no stream is active.
func (c *Controller) GetStreamTime() float64 {
	if c.state.Load() != stateActive {
		return BadStreamTime
	}
	s := c.sess.Load()
	if s == nil {
		return BadStreamTime
	}
	return s.trackTime()
}

// GetDeviceInfo returns the diagnostic device dump.
func (c *Controller) GetDeviceInfo() string {
	return c.catalog.DeviceInfoText()
}

// LostIntervals returns the dropout gaps recorded during the most recent
// stream, for user reporting ("recording had gaps at these times").
func (c *Controller) LostIntervals() []LostInterval {
	c.resultMu.Lock()
	defer c.resultMu.Unlock()
	out := make([]LostInterval, len(c.lost))
	copy(out, c.lost)
	return out
}

func (c *Controller) addLostInterval(iv LostInterval) {
	c.resultMu.Lock()
	defer c.resultMu.Unlock()
	c.lost = append(c.lost, iv)
}

// RecordedSpan returns where the last recording landed on the timeline,
// latency correction applied, and how much of it was safely persisted.
func (c *Controller) RecordedSpan() (start, duration float64) {
	c.resultMu.Lock()
	defer c.resultMu.Unlock()
	return c.recordedStart, c.recordedDur
}

// LastError returns the error that forced the last stop, if any.
func (c *Controller) LastError() error {
	c.resultMu.Lock()
	defer c.resultMu.Unlock()
	return c.lastErr
}

func (c *Controller) setLastError(err error) {
	c.resultMu.Lock()
	defer c.resultMu.Unlock()
	c.lastErr = err
}

// Underflows returns how many hardware periods of the active stream ran
// short of playback data. Zero when idle.
func (c *Controller) Underflows() int64 {
	if s := c.sess.Load(); s != nil {
		return s.underflows.Load()
	}
	return 0
}

// SimulateRecordingErrors makes every capture append fail, for exercising
// the dropout/stop reporting path without unplugging hardware.
func (c *Controller) SimulateRecordingErrors(enable bool) {
	c.simRecErr.Store(enable)
}
