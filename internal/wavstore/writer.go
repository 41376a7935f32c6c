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

// Package wavstore persists captured audio to 16-bit PCM WAV files.
//
// Appends arrive from the engine's pump goroutine in small chunks, one
// per poll. Writing each chunk straight to the encoder would mean a
// file-system touch every few milliseconds, so chunks are staged in a
// byte ring buffer and drained to disk in larger batches.
package wavstore

import (
	"encoding/binary"
	"fmt"
	"os"
	"sync"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/smallnest/ringbuffer"
)

const (
	bitDepth       = 16
	bytesPerSample = 2
	pcmFormat      = 1 // uncompressed WAV

	// stagingSeconds is how much audio the staging ring holds before a
	// write is forced. One second keeps disk writes coarse without
	// risking much on a crash.
	stagingSeconds = 1
)

// Writer records interleaved 16-bit PCM to a WAV file. It satisfies the
// engine's Recorder contract: Append accepts planar float32 channels,
// Flush forces staged data to the encoder. All methods are safe to call
// from a single goroutine at a time.
type Writer struct {
	mu       sync.Mutex
	file     *os.File
	enc      *wav.Encoder
	staging  *ringbuffer.RingBuffer
	path     string
	rate     int
	channels int
	frames   int64
	closed   bool

	pcm   []byte // Append scratch: interleaved little-endian int16
	drain []byte // drainLocked scratch
	ints  []int  // encoder scratch
}

// New creates path (truncating any existing file) and prepares a WAV
// encoder for the given rate and channel count.
func New(path string, sampleRate, channels int) (*Writer, error) {
	if sampleRate <= 0 || channels <= 0 {
		return nil, fmt.Errorf("invalid WAV parameters: rate=%d channels=%d", sampleRate, channels)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", path, err)
	}

	stagingBytes := sampleRate * channels * bytesPerSample * stagingSeconds
	return &Writer{
		file:     f,
		enc:      wav.NewEncoder(f, sampleRate, bitDepth, channels, pcmFormat),
		staging:  ringbuffer.New(stagingBytes),
		path:     path,
		rate:     sampleRate,
		channels: channels,
		drain:    make([]byte, stagingBytes),
	}, nil
}

// Append stages one chunk of planar float32 audio. Every channel slice
// must be the same length; a short chunk is fine, an uneven one is not.
func (w *Writer) Append(channels [][]float32) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return fmt.Errorf("wav writer for %s is closed", w.path)
	}
	if len(channels) != w.channels {
		return fmt.Errorf("got %d channels, writer configured for %d", len(channels), w.channels)
	}
	frames := len(channels[0])
	for _, ch := range channels[1:] {
		if len(ch) != frames {
			return fmt.Errorf("uneven channel lengths in append")
		}
	}
	if frames == 0 {
		return nil
	}

	need := frames * w.channels * bytesPerSample
	if cap(w.pcm) < need {
		w.pcm = make([]byte, need)
	}
	buf := w.pcm[:need]
	off := 0
	for i := 0; i < frames; i++ {
		for _, ch := range channels {
			binary.LittleEndian.PutUint16(buf[off:], uint16(sampleToInt16(ch[i])))
			off += bytesPerSample
		}
	}

	if w.staging.Free() < len(buf) {
		if err := w.drainLocked(); err != nil {
			return err
		}
	}
	if len(buf) > w.staging.Capacity() {
		// Oversized chunk, bypass staging entirely.
		if err := w.encodeLocked(buf); err != nil {
			return err
		}
		w.frames += int64(frames)
		return nil
	}
	if _, err := w.staging.Write(buf); err != nil {
		return fmt.Errorf("failed to stage %d bytes: %w", len(buf), err)
	}
	w.frames += int64(frames)
	return nil
}

// Flush drains everything staged so far to the encoder.
func (w *Writer) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	return w.drainLocked()
}

// Close flushes, finalizes the WAV header, and closes the file. Safe to
// call more than once.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true

	if err := w.drainLocked(); err != nil {
		w.enc.Close()
		w.file.Close()
		return err
	}
	if err := w.enc.Close(); err != nil {
		w.file.Close()
		return fmt.Errorf("failed to finalize %s: %w", w.path, err)
	}
	if err := w.file.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", w.path, err)
	}
	return nil
}

// Frames returns the number of frames accepted so far.
func (w *Writer) Frames() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.frames
}

// Path returns the destination file path.
func (w *Writer) Path() string {
	return w.path
}

func (w *Writer) drainLocked() error {
	staged := w.staging.Length()
	if staged == 0 {
		return nil
	}
	n, err := w.staging.Read(w.drain[:staged])
	if err != nil {
		return fmt.Errorf("failed to drain staging buffer: %w", err)
	}
	return w.encodeLocked(w.drain[:n])
}

func (w *Writer) encodeLocked(pcm []byte) error {
	samples := len(pcm) / bytesPerSample
	if cap(w.ints) < samples {
		w.ints = make([]int, samples)
	}
	data := w.ints[:samples]
	for i := range data {
		data[i] = int(int16(binary.LittleEndian.Uint16(pcm[i*bytesPerSample:])))
	}
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: w.channels, SampleRate: w.rate},
		Data:           data,
		SourceBitDepth: bitDepth,
	}
	if err := w.enc.Write(buf); err != nil {
		return fmt.Errorf("failed to write %d samples to %s: %w", samples, w.path, err)
	}
	return nil
}

// sampleToInt16 converts a float32 sample in [-1, 1] to 16-bit PCM with
// clipping, matching what the hardware would do on the way out.
func sampleToInt16(v float32) int16 {
	switch {
	case v >= 1.0:
		return 32767
	case v <= -1.0:
		return -32768
	default:
		return int16(v * 32767)
	}
}
