// SYMSYNC - Symbol timing recovery for oversampled baseband signals.
// Copyright (C) 2015 Douglas Hall
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

package main

import (
	"encoding/binary"
	"math"
	"strings"

	"github.com/pkg/errors"
)

// MagLUT maps each unsigned 8-bit IQ component to its normalized square so a
// magnitude is one addition and a square root.
type MagLUT []float32

func NewMagLUT() (lut MagLUT) {
	lut = make([]float32, 0x100)
	for idx := range lut {
		lut[idx] = (127.4 - float32(idx)) / 127.5
		lut[idx] *= lut[idx]
	}
	return
}

// Execute computes the magnitude of each interleaved IQ pair in input.
func (lut MagLUT) Execute(input []byte, output []float32) {
	for idx := range output {
		lutIdx := idx << 1
		output[idx] = float32(math.Sqrt(float64(lut[input[lutIdx]] + lut[input[lutIdx+1]])))
	}
}

// DecodeF32 decodes little-endian float32 samples.
func DecodeF32(input []byte, output []float32) {
	for idx := range output {
		output[idx] = math.Float32frombits(binary.LittleEndian.Uint32(input[idx<<2:]))
	}
}

// DCBlocker is a single pole high pass filter: y[n] = x[n] - x[n-1] + R*y[n-1].
type DCBlocker struct {
	R float32

	x1, y1 float32
}

func NewDCBlocker(r float32) *DCBlocker {
	return &DCBlocker{R: r}
}

func (dc *DCBlocker) Execute(samples []float32) {
	for idx, x := range samples {
		y := x - dc.x1 + dc.R*dc.y1
		dc.x1, dc.y1 = x, y
		samples[idx] = y
	}
}

func (dc *DCBlocker) Reset() {
	dc.x1, dc.y1 = 0, 0
}

// Boxcar is a moving average over one symbol, the matched filter for
// rectangular pulses. It keeps a running sum across blocks so it may be fed
// arbitrarily sized blocks.
type Boxcar struct {
	history []float32
	idx     int
	sum     float64
}

func NewBoxcar(length int) *Boxcar {
	return &Boxcar{history: make([]float32, length)}
}

func (b *Boxcar) Len() int {
	return len(b.history)
}

func (b *Boxcar) Execute(samples []float32) {
	scale := 1 / float64(len(b.history))
	for idx, x := range samples {
		b.sum += float64(x) - float64(b.history[b.idx])
		b.history[b.idx] = x

		b.idx++
		if b.idx == len(b.history) {
			b.idx = 0
		}

		samples[idx] = float32(b.sum * scale)
	}
}

func (b *Boxcar) Reset() {
	for idx := range b.history {
		b.history[idx] = 0
	}
	b.idx = 0
	b.sum = 0
}

// Frontend turns raw sample blocks into the real-valued signal fed to the
// synchronizer.
type Frontend struct {
	format string

	lut MagLUT
	dc  *DCBlocker
	mf  *Boxcar

	signal []float32
}

// NewFrontend creates a front end for the given sample format. A dcBlock of
// zero disables the DC blocker and a matched length below two disables the
// matched filter.
func NewFrontend(format string, dcBlock float32, matched int) (*Frontend, error) {
	fe := &Frontend{format: strings.ToLower(format)}

	switch fe.format {
	case "u8":
		fe.lut = NewMagLUT()
	case "f32":
	default:
		return nil, errors.Errorf("invalid sample format: %q", format)
	}

	if dcBlock < 0 || dcBlock >= 1 {
		return nil, errors.Errorf("dc blocker pole must be in [0, 1): %v", dcBlock)
	}
	if dcBlock > 0 {
		fe.dc = NewDCBlocker(dcBlock)
	}

	if matched < 0 {
		return nil, errors.Errorf("matched filter length must be >= 0: %d", matched)
	}
	if matched > 1 {
		fe.mf = NewBoxcar(matched)
	}

	return fe, nil
}

// SampleSize returns the number of bytes per input sample.
func (fe *Frontend) SampleSize() int {
	if fe.format == "f32" {
		return 4
	}
	return 2
}

// Execute converts block and returns the filtered signal. The returned slice
// is reused by the next call. Trailing bytes short of a whole sample are
// ignored.
func (fe *Frontend) Execute(block []byte) []float32 {
	n := len(block) / fe.SampleSize()
	if cap(fe.signal) < n {
		fe.signal = make([]float32, n)
	}
	signal := fe.signal[:n]

	switch fe.format {
	case "u8":
		fe.lut.Execute(block, signal)
	case "f32":
		DecodeF32(block, signal)
	}

	if fe.dc != nil {
		fe.dc.Execute(signal)
	}
	if fe.mf != nil {
		fe.mf.Execute(signal)
	}

	return signal
}

func (fe *Frontend) Reset() {
	if fe.dc != nil {
		fe.dc.Reset()
	}
	if fe.mf != nil {
		fe.mf.Reset()
	}
}

func (fe Frontend) String() string {
	var stages []string
	stages = append(stages, fe.format)
	if fe.dc != nil {
		stages = append(stages, "dcblock")
	}
	if fe.mf != nil {
		stages = append(stages, "boxcar")
	}
	return strings.Join(stages, " -> ")
}
