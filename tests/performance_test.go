package tests

import (
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loqalabs/loqa-audio-engine/internal/resample"
	"github.com/loqalabs/loqa-audio-engine/internal/ringbuf"
)

// The hardware callback budget at 44.1 kHz / 512 frames is ~11.6 ms; the
// ring buffer hot path must not allocate at all.
func TestPerformance_RingBufferAllocationFree(t *testing.T) {
	ring := ringbuf.New(8192)
	chunk := make([]float32, 512)

	allocs := testing.AllocsPerRun(1000, func() {
		ring.Write(chunk)
		ring.Read(chunk)
	})
	assert.Zero(t, allocs, "ring buffer transfer must not allocate")
}

func TestPerformance_ResamplerAllocationFree(t *testing.T) {
	r, err := resample.New(48000, 44100)
	require.NoError(t, err)
	in := make([]float32, 512)
	out := make([]float32, 1024)

	allocs := testing.AllocsPerRun(1000, func() {
		r.Process(in, out)
	})
	assert.Zero(t, allocs, "resampler processing must not allocate")
}

// A minute of stereo audio through the ring in well under real time.
func TestPerformance_RingBufferThroughput(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping throughput test in short mode")
	}

	const total = 44100 * 60
	ring := ringbuf.New(4096)
	src := make([]float32, 512)
	dst := make([]float32, 512)

	start := time.Now()
	done := make(chan struct{})
	go func() {
		defer close(done)
		read := 0
		for read < total {
			n := ring.Read(dst)
			if n == 0 {
				runtime.Gosched()
			}
			read += n
		}
	}()
	written := 0
	for written < total {
		n := ring.Write(src[:min(512, total-written)])
		if n == 0 {
			runtime.Gosched()
		}
		written += n
	}
	<-done

	// Single-core CI machines schedule the two goroutines in coarse
	// slices, so the bound is deliberately loose; the point is catching
	// a stall, not benchmarking.
	elapsed := time.Since(start)
	assert.Less(t, elapsed, time.Minute, "60s of audio took %v", elapsed)
	t.Logf("moved %d samples in %v", total, elapsed)
}

func TestPerformance_ResamplerKeepsUpWithRealTime(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping throughput test in short mode")
	}

	r, err := resample.New(44100, 48000)
	require.NoError(t, err)

	// Ten seconds of audio, chunked the way the pump feeds it.
	const total = 44100 * 10
	in := make([]float32, 512)
	out := make([]float32, 1024)

	start := time.Now()
	consumed := 0
	for consumed < total {
		c, _ := r.Process(in, out)
		consumed += c
	}
	elapsed := time.Since(start)
	assert.Less(t, elapsed, 2*time.Second, "10s of audio took %v", elapsed)
}
