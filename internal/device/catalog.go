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
	"fmt"
	"sort"
	"strings"
	"sync"
)

// StandardRates is the fixed list of candidate sample rates probed against
// each device, lowest to highest.
var StandardRates = []int{
	8000, 11025, 16000, 22050, 32000, 44100, 48000,
	88200, 96000, 176400, 192000, 352800, 384000,
}

type rateKey struct {
	index int
	dir   Direction
}

// Catalog answers device and sample-rate queries, caching probe results
// per device. Driver probes are slow on some hosts, so results are kept
// until Invalidate is called on a device-list rescan; there is no timer.
//
// The cache has a single writer rule: only the control thread queries or
// invalidates the catalog. It is still locked internally because status
// queries may come from any UI thread.
type Catalog struct {
	host Host

	mu    sync.Mutex
	rates map[rateKey][]int
}

// NewCatalog creates a catalog over the given host.
func NewCatalog(host Host) *Catalog {
	return &Catalog{
		host:  host,
		rates: make(map[rateKey][]int),
	}
}

// ListDevices returns the devices usable in the given direction.
// A failed driver query yields an empty list, not an error the caller has
// to distinguish from "no devices".
func (c *Catalog) ListDevices(dir Direction) []Info {
	devs, err := c.host.Devices()
	if err != nil {
		return nil
	}
	var out []Info
	for _, d := range devs {
		if dir == Playback && d.MaxOutputChannels > 0 {
			out = append(out, d)
		}
		if dir == Capture && d.MaxInputChannels > 0 {
			out = append(out, d)
		}
	}
	return out
}

func (c *Catalog) probe(index int, dir Direction, rate int) bool {
	cfg := StreamConfig{PlaybackDevice: -1, CaptureDevice: -1, SampleRate: float64(rate)}
	if dir == Playback {
		cfg.PlaybackDevice = index
		cfg.PlaybackChannels = 1
	} else {
		cfg.CaptureDevice = index
		cfg.CaptureChannels = 1
	}
	return c.host.SupportsFormat(cfg)
}

// SupportedSampleRates probes the standard candidate rates, plus extraRate
// when it is positive and non-standard, and returns the subset the device
// accepts, ascending. Standard-rate results are cached per device and
// direction. An invalid index returns an empty set.
func (c *Catalog) SupportedSampleRates(index int, dir Direction, extraRate int) []int {
	key := rateKey{index: index, dir: dir}

	c.mu.Lock()
	cached, ok := c.rates[key]
	c.mu.Unlock()

	if !ok {
		for _, r := range StandardRates {
			if c.probe(index, dir, r) {
				cached = append(cached, r)
			}
		}
		c.mu.Lock()
		c.rates[key] = cached
		c.mu.Unlock()
	}

	out := make([]int, len(cached))
	copy(out, cached)

	if extraRate > 0 {
		standard := false
		for _, r := range StandardRates {
			if r == extraRate {
				standard = true
				break
			}
		}
		if !standard && c.probe(index, dir, extraRate) {
			out = append(out, extraRate)
			sort.Ints(out)
		}
	}
	return out
}

// Invalidate drops all cached probe results. Call it after a device-list
// rescan or a host change.
func (c *Catalog) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rates = make(map[rateKey][]int)
}

// BestCombinedRate picks the sample rate for a session involving the given
// devices (-1 skips a side). The desired rate wins when both devices accept
// it; otherwise the accepted rate closest to it, ties toward the higher
// rate; 0 when the devices share no rate at all.
func (c *Catalog) BestCombinedRate(playIndex, captureIndex, desired int) int {
	var candidates []int
	switch {
	case playIndex >= 0 && captureIndex >= 0:
		playRates := c.SupportedSampleRates(playIndex, Playback, desired)
		capSet := make(map[int]bool)
		for _, r := range c.SupportedSampleRates(captureIndex, Capture, desired) {
			capSet[r] = true
		}
		for _, r := range playRates {
			if capSet[r] {
				candidates = append(candidates, r)
			}
		}
	case playIndex >= 0:
		candidates = c.SupportedSampleRates(playIndex, Playback, desired)
	case captureIndex >= 0:
		candidates = c.SupportedSampleRates(captureIndex, Capture, desired)
	}

	if len(candidates) == 0 {
		return 0
	}

	best := 0
	bestDist := -1
	for _, r := range candidates {
		if r == desired {
			return r
		}
		dist := r - desired
		if dist < 0 {
			dist = -dist
		}
		if bestDist < 0 || dist < bestDist || (dist == bestDist && r > best) {
			best, bestDist = r, dist
		}
	}
	return best
}

// DeviceInfoText renders a diagnostic dump of every device, its channel
// counts and its supported rates, for bug reports and the -list flag.
func (c *Catalog) DeviceInfoText() string {
	devs, err := c.host.Devices()
	if err != nil {
		return fmt.Sprintf("device enumeration failed: %v", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%d audio devices\n", len(devs))
	for _, d := range devs {
		def := ""
		if d.DefaultInput {
			def += " [default capture]"
		}
		if d.DefaultOutput {
			def += " [default playback]"
		}
		fmt.Fprintf(&b, "device %d: %q%s\n", d.Index, d.Name, def)
		fmt.Fprintf(&b, "  channels: %d in, %d out; default rate %.0f Hz\n",
			d.MaxInputChannels, d.MaxOutputChannels, d.DefaultSampleRate)
		if d.MaxOutputChannels > 0 {
			fmt.Fprintf(&b, "  playback rates: %v\n", c.SupportedSampleRates(d.Index, Playback, 0))
		}
		if d.MaxInputChannels > 0 {
			fmt.Fprintf(&b, "  capture rates: %v\n", c.SupportedSampleRates(d.Index, Capture, 0))
		}
	}
	return b.String()
}
