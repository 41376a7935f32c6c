package tests

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loqalabs/loqa-audio-engine/internal/device"
	"github.com/loqalabs/loqa-audio-engine/internal/engine"
)

func TestErrorInjection_HostInitFailure(t *testing.T) {
	host := device.NewMockHost()
	host.SetInitError(errors.New("no audio subsystem"))
	assert.Error(t, host.Initialize())

	// A host that failed to initialize reports no devices.
	catalog := device.NewCatalog(host)
	assert.Empty(t, catalog.ListDevices(device.Playback))
}

func TestErrorInjection_DeviceOpenFailureLeavesEngineUsable(t *testing.T) {
	cfg := engine.DefaultConfig()
	cfg.PollInterval = 2 * time.Millisecond
	c, host := newEngine(t, cfg)

	host.SetOpenError(errors.New("device unplugged"))
	_, err := c.StartStream(rampMixer{}, nil, engine.StreamOptions{
		PlaybackDevice: 0, CaptureDevice: -1, PlaybackChannels: 2, T1: 60,
	})
	require.ErrorIs(t, err, engine.ErrDeviceOpenFailed)
	assert.False(t, c.IsBusy())

	host.SetOpenError(nil)
	token, err := c.StartStream(rampMixer{}, nil, engine.StreamOptions{
		PlaybackDevice: 0, CaptureDevice: -1, PlaybackChannels: 2, T1: 60,
	})
	require.NoError(t, err)
	assert.True(t, c.IsStreamActive(token))
}

func TestErrorInjection_RecordingFailureStopsStream(t *testing.T) {
	cfg := engine.DefaultConfig()
	cfg.TargetLatency = 20 * time.Millisecond
	cfg.FramesPerBuffer = 64
	cfg.PollInterval = 2 * time.Millisecond
	c, host := newEngine(t, cfg)
	host.SetTickInterval(time.Millisecond)
	c.SimulateRecordingErrors(true)

	token, err := c.StartStream(nil, &memRecorder{}, engine.StreamOptions{
		PlaybackDevice: -1, CaptureDevice: 0, CaptureChannels: 1,
	})
	require.NoError(t, err)

	// The injected failure must tear the stream down on its own and
	// surface through LastError.
	require.Eventually(t, func() bool { return !c.IsStreamActive(token) },
		2*time.Second, 5*time.Millisecond)
	assert.Error(t, c.LastError())
	assert.False(t, c.IsBusy())

	// And the engine recovers once the fault is cleared.
	c.SimulateRecordingErrors(false)
	token, err = c.StartStream(nil, &memRecorder{}, engine.StreamOptions{
		PlaybackDevice: -1, CaptureDevice: 0, CaptureChannels: 1,
	})
	require.NoError(t, err)
	assert.True(t, c.IsStreamActive(token))
}

func TestErrorInjection_NoCompatibleRate(t *testing.T) {
	cfg := engine.DefaultConfig()
	c, host := newEngine(t, cfg)
	host.SetDevices([]device.Info{
		{Index: 0, Name: "speakers", MaxOutputChannels: 2, DefaultSampleRate: 44100},
		{Index: 1, Name: "mic", MaxInputChannels: 1, DefaultSampleRate: 96000},
	})
	host.SetSupportedRates(0, []int{44100, 48000})
	host.SetSupportedRates(1, []int{96000, 192000})

	_, err := c.StartStream(rampMixer{}, &memRecorder{}, engine.StreamOptions{
		PlaybackDevice:   0,
		CaptureDevice:    1,
		PlaybackChannels: 2,
		CaptureChannels:  1,
		T1:               60,
	})
	assert.ErrorIs(t, err, engine.ErrNoCompatibleRate)
	assert.False(t, c.IsBusy())
}
