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

// Package ringbuf provides a lock-free single-producer/single-consumer
// ring buffer of float32 audio samples. One side of each buffer is owned
// by the hardware audio callback, so Read and Write never block, never
// allocate, and report shortfalls purely through their return counts.
package ringbuf

import "sync/atomic"

// Buffer is a fixed-capacity SPSC sample queue.
//
// It uses two monotonically increasing atomic cursors. The producer is the
// only goroutine that advances writePos; the consumer is the only one that
// advances readPos. The producer stores writePos after copying samples in,
// so the consumer always observes fully written data, and vice versa.
//
// The capacity is exact, not rounded to a power of two: a buffer sized for
// three seconds at 44100 Hz accepts exactly 132300 samples before it is
// full. Indexing therefore uses modulo rather than bit masking.
//
// Thread assignment per buffer:
//   - Write + AvailableToWrite: producer only
//   - Read + AvailableToRead: consumer only
type Buffer struct {
	// Cursors live on separate cache lines so the producer and consumer
	// don't false-share. Cache lines are 64 bytes on the targets we care
	// about.
	writePos atomic.Int64
	_pad1    [56]byte
	readPos  atomic.Int64
	_pad2    [56]byte

	data []float32
}

// New creates a buffer holding exactly capacity samples.
// It panics if capacity is not positive; ring sizing is computed by the
// engine from latency preferences and a non-positive size is a programming
// error, not a runtime condition.
func New(capacity int) *Buffer {
	if capacity <= 0 {
		panic("ringbuf: capacity must be positive")
	}
	return &Buffer{data: make([]float32, capacity)}
}

// Capacity returns the fixed sample capacity.
func (b *Buffer) Capacity() int {
	return len(b.data)
}

// AvailableToRead returns the number of unread samples.
// Safe to call from either side.
func (b *Buffer) AvailableToRead() int {
	return int(b.writePos.Load() - b.readPos.Load())
}

// AvailableToWrite returns the number of free slots.
// Safe to call from either side.
func (b *Buffer) AvailableToWrite() int {
	return len(b.data) - int(b.writePos.Load()-b.readPos.Load())
}

// Write copies up to len(src) samples in and returns the count actually
// written. A short count means the buffer filled up; the caller decides
// whether that is a dropout. Never blocks, never allocates.
func (b *Buffer) Write(src []float32) int {
	w := b.writePos.Load()
	r := b.readPos.Load()

	free := int64(len(b.data)) - (w - r)
	if free <= 0 {
		return 0
	}

	n := int64(len(src))
	if n > free {
		n = free
	}

	pos := w % int64(len(b.data))
	first := int64(len(b.data)) - pos
	if first >= n {
		copy(b.data[pos:pos+n], src[:n])
	} else {
		copy(b.data[pos:], src[:first])
		copy(b.data[:n-first], src[first:n])
	}

	b.writePos.Store(w + n)
	return int(n)
}

// Read copies up to len(dst) samples out and returns the count actually
// read. A short count means the buffer ran dry; the playback side fills
// the shortfall with silence rather than waiting. Never blocks, never
// allocates.
func (b *Buffer) Read(dst []float32) int {
	r := b.readPos.Load()
	w := b.writePos.Load()

	avail := w - r
	if avail <= 0 {
		return 0
	}

	n := int64(len(dst))
	if n > avail {
		n = avail
	}

	pos := r % int64(len(b.data))
	first := int64(len(b.data)) - pos
	if first >= n {
		copy(dst[:n], b.data[pos:pos+n])
	} else {
		copy(dst[:first], b.data[pos:])
		copy(dst[first:n], b.data[:n-first])
	}

	b.readPos.Store(r + n)
	return int(n)
}

// Discard drops up to n unread samples and returns the count dropped.
// Consumer side only.
func (b *Buffer) Discard(n int) int {
	r := b.readPos.Load()
	w := b.writePos.Load()

	avail := w - r
	if avail <= 0 {
		return 0
	}
	if int64(n) > avail {
		n = int(avail)
	}
	b.readPos.Store(r + int64(n))
	return n
}
