package tests

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/go-audio/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loqalabs/loqa-audio-engine/internal/device"
	"github.com/loqalabs/loqa-audio-engine/internal/engine"
	"github.com/loqalabs/loqa-audio-engine/internal/notify"
	"github.com/loqalabs/loqa-audio-engine/internal/wavstore"
)

// fakeNATSConn captures published events for inspection.
type fakeNATSConn struct {
	mu       sync.Mutex
	subjects []string
}

func (c *fakeNATSConn) Publish(subject string, _ []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subjects = append(c.subjects, subject)
	return nil
}

func (c *fakeNATSConn) Close() {}

func (c *fakeNATSConn) count(subject string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, s := range c.subjects {
		if s == subject {
			n++
		}
	}
	return n
}

// rampMixer writes float32(frame index) so output is checkable.
type rampMixer struct{}

func (rampMixer) Mix(out [][]float32, startFrame int64) {
	for _, ch := range out {
		for i := range ch {
			ch[i] = float32(startFrame + int64(i))
		}
	}
}

// memRecorder collects appended frames in memory.
type memRecorder struct {
	mu     sync.Mutex
	frames int64
}

func (r *memRecorder) Append(channels [][]float32) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames += int64(len(channels[0]))
	return nil
}

func (r *memRecorder) Flush() error { return nil }

func (r *memRecorder) Frames() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.frames
}

func newEngine(t *testing.T, cfg engine.Config) (*engine.Controller, *device.MockHost) {
	t.Helper()
	host := device.NewMockHost()
	require.NoError(t, host.Initialize())
	c := engine.NewController(host, device.NewCatalog(host), cfg)
	t.Cleanup(func() {
		_ = c.StopStream()
		_ = host.Terminate()
	})
	return c, host
}

// End-to-end recording: capture device through the engine into a WAV file
// on disk, with lifecycle events going out over the NATS publisher.
func TestIntegration_RecordToWavWorkflow(t *testing.T) {
	cfg := engine.DefaultConfig()
	cfg.TargetLatency = 50 * time.Millisecond
	cfg.FramesPerBuffer = 64
	cfg.PollInterval = 2 * time.Millisecond
	c, host := newEngine(t, cfg)
	host.SetTickInterval(time.Millisecond)

	conn := &fakeNATSConn{}
	c.SetListener(notify.NewPublisherWithConnection(conn, "it-engine"))

	path := filepath.Join(t.TempDir(), "take.wav")
	rec, err := wavstore.New(path, 44100, 1)
	require.NoError(t, err)

	token, err := c.StartStream(nil, rec, engine.StreamOptions{
		PlaybackDevice:  -1,
		CaptureDevice:   0,
		CaptureChannels: 1,
	})
	require.NoError(t, err)
	require.True(t, c.IsStreamActive(token))

	time.Sleep(200 * time.Millisecond)
	require.NoError(t, c.StopStream())
	require.NoError(t, rec.Close())

	// Everything the hardware delivered must be on disk.
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	dec := wav.NewDecoder(f)
	require.True(t, dec.IsValidFile())
	buf, err := dec.FullPCMBuffer()
	require.NoError(t, err)
	assert.Equal(t, rec.Frames(), int64(len(buf.Data)))
	assert.Positive(t, rec.Frames())
	assert.LessOrEqual(t, rec.Frames(), host.LastStream().FramesTicked())

	_, dur := c.RecordedSpan()
	assert.InDelta(t, float64(rec.Frames())/44100.0, dur, 1e-9)

	// Lifecycle events made it out.
	assert.GreaterOrEqual(t, conn.count(notify.SubjectPosition), 1)
	assert.Equal(t, 1, conn.count(notify.SubjectStopped))
}

// Looped playback keeps running past the window end and the transport
// cursor stays inside [T0, T1).
func TestIntegration_LoopedPlayback(t *testing.T) {
	cfg := engine.DefaultConfig()
	cfg.TargetLatency = 20 * time.Millisecond
	cfg.FramesPerBuffer = 64
	cfg.PollInterval = 2 * time.Millisecond
	c, host := newEngine(t, cfg)
	host.SetTickInterval(time.Millisecond)

	token, err := c.StartStream(rampMixer{}, nil, engine.StreamOptions{
		PlaybackDevice:   0,
		CaptureDevice:    -1,
		PlaybackChannels: 2,
		T0:               0,
		T1:               0.05, // several laps over the test run
		Mode:             engine.PlayLooped,
		Rate:             44100,
	})
	require.NoError(t, err)

	deadline := time.Now().Add(300 * time.Millisecond)
	for time.Now().Before(deadline) {
		tt := c.GetStreamTime()
		require.NotEqual(t, engine.BadStreamTime, tt, "loop must never auto-stop")
		require.GreaterOrEqual(t, tt, 0.0)
		require.Less(t, tt, 0.05)
		time.Sleep(5 * time.Millisecond)
	}

	assert.True(t, c.IsStreamActive(token))
	require.NoError(t, c.StopStream())
}

// Full duplex with a hardware rate the track rate cannot match: playback
// is resampled up, capture is resampled back down, and the recorded
// length follows the track clock rather than the device clock.
func TestIntegration_FullDuplexResampled(t *testing.T) {
	cfg := engine.DefaultConfig()
	// The ticks below arrive as an unpaced burst, so the capture ring must
	// hold the whole quarter second or samples are dropped by design.
	cfg.TargetLatency = 500 * time.Millisecond
	cfg.FramesPerBuffer = 64
	cfg.PollInterval = 2 * time.Millisecond
	c, host := newEngine(t, cfg)
	host.SetSupportedRates(0, []int{48000})

	rec := &memRecorder{}
	_, err := c.StartStream(rampMixer{}, rec, engine.StreamOptions{
		PlaybackDevice:   0,
		CaptureDevice:    0,
		PlaybackChannels: 2,
		CaptureChannels:  2,
		T1:               60,
		Rate:             44100,
	})
	require.NoError(t, err)

	stream := host.LastStream()
	const deviceFrames = 48000 / 4
	for i := 0; i < deviceFrames/64; i++ {
		stream.Tick(64)
	}
	require.NoError(t, c.StopStream())

	// A quarter second of 48 kHz capture lands near a quarter second of
	// 44.1 kHz track audio.
	wantFrames := float64(stream.FramesTicked()) * 44100.0 / 48000.0
	assert.InDelta(t, wantFrames, float64(rec.Frames()), 3)
}

// The catalog view the engine exposes for UI device pickers.
func TestIntegration_DeviceCatalog(t *testing.T) {
	host := device.NewMockHost()
	require.NoError(t, host.Initialize())
	defer host.Terminate()
	host.SetSupportedRates(0, []int{44100, 48000})
	host.SetSupportedRates(1, []int{48000, 96000})

	catalog := device.NewCatalog(host)

	playback := catalog.ListDevices(device.Playback)
	require.Len(t, playback, 1)
	assert.Equal(t, 0, playback[0].Index)

	capture := catalog.ListDevices(device.Capture)
	require.Len(t, capture, 2)

	// Mismatched preferred rate resolves to the closest shared one.
	assert.Equal(t, 48000, catalog.BestCombinedRate(0, 1, 44100))

	text := catalog.DeviceInfoText()
	assert.Contains(t, text, "Mock Duplex")
	assert.Contains(t, text, "Mock Microphone")
}
