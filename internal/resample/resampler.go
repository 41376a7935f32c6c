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

// Package resample converts a stream of mono samples from one rate to
// another using linear interpolation. The engine creates one Resampler per
// channel at stream start; the rate ratio is fixed for the life of the
// stream.
//
// Output sample m is taken at input position m × inRate/outRate, computed
// from absolute sample counters rather than an accumulated phase, so the
// output duration tracks input duration × outRate/inRate without drift no
// matter how the input is chunked.
package resample

import "errors"

// ErrInvalidConfiguration reports a non-positive input or output rate.
// It is a construction-time programming error, fatal to the stream session
// being built but to nothing else.
var ErrInvalidConfiguration = errors.New("resample: sample rates must be positive")

// Resampler is a streaming single-channel rate converter.
// It holds the last two consumed input samples so output at chunk
// boundaries is identical to resampling the whole stream at once.
type Resampler struct {
	inRate  int
	outRate int
	ratio   float64 // input samples per output sample

	h0, h1 float32 // input samples at absolute indices n-2 and n-1
	n      int64   // total input samples consumed
	m      int64   // total output samples produced
}

// New creates a converter from inRate to outRate.
func New(inRate, outRate int) (*Resampler, error) {
	if inRate <= 0 || outRate <= 0 {
		return nil, ErrInvalidConfiguration
	}
	return &Resampler{
		inRate:  inRate,
		outRate: outRate,
		ratio:   float64(inRate) / float64(outRate),
	}, nil
}

// Ratio returns outRate/inRate, the factor by which the stream lengthens.
func (r *Resampler) Ratio() float64 {
	return float64(r.outRate) / float64(r.inRate)
}

// Process consumes a prefix of in and produces a prefix of out, returning
// both counts. It stops when either the input is exhausted or the output
// is full; the caller resubmits the unconsumed suffix on the next call.
func (r *Resampler) Process(in, out []float32) (consumed, produced int) {
	for {
		// Emit every output whose position is already covered by
		// consumed input. Position n-1 is the newest sample we hold.
		for r.n > 0 {
			pos := float64(r.m) * r.ratio
			if pos > float64(r.n-1) {
				break
			}
			if produced == len(out) {
				return consumed, produced
			}
			idx := int64(pos)
			if idx >= r.n-1 {
				// Exactly on the newest sample.
				out[produced] = r.h1
			} else {
				frac := float32(pos - float64(idx))
				out[produced] = r.h0 + (r.h1-r.h0)*frac
			}
			produced++
			r.m++
		}

		if consumed == len(in) {
			return consumed, produced
		}
		r.h0, r.h1 = r.h1, in[consumed]
		consumed++
		r.n++
	}
}

// Flush emits the trailing samples still owed at end-of-stream: outputs
// at positions the held history still covers are interpolated exactly as
// Process would have, and positions past the newest sample hold its value.
// Call repeatedly until it returns 0 if the output buffer is small.
func (r *Resampler) Flush(out []float32) int {
	produced := 0
	for produced < len(out) {
		pos := float64(r.m) * r.ratio
		if pos >= float64(r.n) {
			break
		}
		idx := int64(pos)
		if idx >= r.n-1 {
			out[produced] = r.h1
		} else {
			frac := float32(pos - float64(idx))
			out[produced] = r.h0 + (r.h1-r.h0)*frac
		}
		produced++
		r.m++
	}
	return produced
}
