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

package device

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHost(t *testing.T) *MockHost {
	t.Helper()
	host := NewMockHost()
	require.NoError(t, host.Initialize())
	t.Cleanup(func() { _ = host.Terminate() })
	return host
}

func TestListDevices_FiltersByDirection(t *testing.T) {
	host := newTestHost(t)
	c := NewCatalog(host)

	playback := c.ListDevices(Playback)
	require.Len(t, playback, 1)
	assert.Equal(t, "Mock Duplex", playback[0].Name)

	capture := c.ListDevices(Capture)
	require.Len(t, capture, 2)
	assert.Equal(t, "Mock Microphone", capture[1].Name)
}

func TestSupportedSampleRates_ProbesAndCaches(t *testing.T) {
	host := newTestHost(t)
	host.SetSupportedRates(0, []int{44100, 48000})
	c := NewCatalog(host)

	rates := c.SupportedSampleRates(0, Playback, 0)
	assert.Equal(t, []int{44100, 48000}, rates)

	// A rate change behind the catalog's back must not show up until the
	// cache is explicitly invalidated; there is no refresh timer.
	host.SetSupportedRates(0, []int{96000})
	assert.Equal(t, []int{44100, 48000}, c.SupportedSampleRates(0, Playback, 0))

	c.Invalidate()
	assert.Equal(t, []int{96000}, c.SupportedSampleRates(0, Playback, 0))
}

func TestSupportedSampleRates_ExtraRate(t *testing.T) {
	host := newTestHost(t)
	host.SetSupportedRates(0, []int{44100, 37800})
	c := NewCatalog(host)

	// 37800 is not on the standard list, so it only appears when asked for.
	assert.Equal(t, []int{44100}, c.SupportedSampleRates(0, Playback, 0))
	assert.Equal(t, []int{37800, 44100}, c.SupportedSampleRates(0, Playback, 37800))
}

func TestSupportedSampleRates_InvalidDevice(t *testing.T) {
	host := newTestHost(t)
	c := NewCatalog(host)

	assert.Empty(t, c.SupportedSampleRates(99, Playback, 0))
	assert.Empty(t, c.SupportedSampleRates(-1, Capture, 0))
}

func TestBestCombinedRate_Intersection(t *testing.T) {
	host := newTestHost(t)
	host.SetDevices([]Info{
		{Index: 0, Name: "out", MaxOutputChannels: 2, DefaultSampleRate: 44100},
		{Index: 1, Name: "in", MaxInputChannels: 2, DefaultSampleRate: 48000},
	})
	host.SetSupportedRates(0, []int{44100, 48000})
	host.SetSupportedRates(1, []int{48000, 96000})
	c := NewCatalog(host)

	// Desired rate is only supported by one side; the shared rate wins.
	assert.Equal(t, 48000, c.BestCombinedRate(0, 1, 44100))
}

func TestBestCombinedRate(t *testing.T) {
	tests := []struct {
		name      string
		playRates []int
		capRates  []int
		desired   int
		want      int
	}{
		{"desired shared", []int{44100, 48000}, []int{44100, 96000}, 44100, 44100},
		{"closest when desired missing", []int{22050, 96000}, []int{22050, 96000}, 32000, 22050},
		{"tie goes to higher rate", []int{32000, 96000, 44100, 22050}, []int{22050, 44100}, 33075, 44100},
		{"no shared rate", []int{44100}, []int{48000}, 44100, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			host := newTestHost(t)
			host.SetDevices([]Info{
				{Index: 0, Name: "out", MaxOutputChannels: 2},
				{Index: 1, Name: "in", MaxInputChannels: 2},
			})
			host.SetSupportedRates(0, tt.playRates)
			host.SetSupportedRates(1, tt.capRates)
			c := NewCatalog(host)

			assert.Equal(t, tt.want, c.BestCombinedRate(0, 1, tt.desired))
		})
	}
}

func TestBestCombinedRate_SingleSide(t *testing.T) {
	host := newTestHost(t)
	host.SetSupportedRates(0, []int{44100, 48000})
	c := NewCatalog(host)

	assert.Equal(t, 48000, c.BestCombinedRate(0, -1, 48000))
	assert.Equal(t, 0, c.BestCombinedRate(-1, -1, 48000))
}

func TestDeviceInfoText(t *testing.T) {
	host := newTestHost(t)
	host.SetSupportedRates(0, []int{44100})
	host.SetSupportedRates(1, []int{48000})
	c := NewCatalog(host)

	text := c.DeviceInfoText()
	assert.True(t, strings.HasPrefix(text, "2 audio devices"))
	assert.Contains(t, text, "Mock Duplex")
	assert.Contains(t, text, "[default playback]")
	assert.Contains(t, text, "capture rates: [48000]")
}
