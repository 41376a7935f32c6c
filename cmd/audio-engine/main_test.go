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

package main

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToneMixer_PhaseFollowsStartFrame(t *testing.T) {
	m := &toneMixer{freq: 440, rate: 44100}

	// Mixing frames [0,128) in one call or two must produce identical
	// samples, otherwise loop wraps would click.
	whole := [][]float32{make([]float32, 128)}
	m.Mix(whole, 0)

	first := [][]float32{make([]float32, 64)}
	second := [][]float32{make([]float32, 64)}
	m.Mix(first, 0)
	m.Mix(second, 64)

	for i := 0; i < 64; i++ {
		assert.Equal(t, whole[0][i], first[0][i])
		assert.Equal(t, whole[0][64+i], second[0][i])
	}
}

func TestToneMixer_AmplitudeAndPeriod(t *testing.T) {
	m := &toneMixer{freq: 441, rate: 44100} // period of exactly 100 frames
	out := [][]float32{make([]float32, 200)}
	m.Mix(out, 0)

	require.InDelta(t, 0, out[0][0], 1e-6)
	assert.InDelta(t, out[0][0], out[0][100], 1e-4)
	for _, v := range out[0] {
		assert.LessOrEqual(t, math.Abs(float64(v)), 0.2+1e-6)
	}
}
