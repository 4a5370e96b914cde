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

package interp

import (
	"fmt"
	"math"

	"github.com/mjibson/go-dsp/window"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
)

// Polyphase is a windowed-sinc interpolator with a bank of filters+1 phases
// spanning mu in [0, 1]. The nearest phase is used for a given mu.
type Polyphase struct {
	filters int
	taps    int

	bank   [][]float64
	dbank  [][]float64
	proto  []float64
	window []float64

	// Delay line, newest first at buf[pos:pos+taps]. Every sample is written
	// twice so the active window is always contiguous.
	buf []float64
	pos int
}

// NewPolyphase designs a bank of filters phases of taps taps each. Taps must
// be even so the interpolant at mu = 0 falls on an input sample.
func NewPolyphase(filters, taps int) (*Polyphase, error) {
	if filters < 1 {
		return nil, errors.Wrapf(ErrInvalid, "polyphase filters must be >= 1: %d", filters)
	}
	if taps < 2 || taps%2 != 0 {
		return nil, errors.Wrapf(ErrInvalid, "polyphase taps must be even and >= 2: %d", taps)
	}

	p := &Polyphase{
		filters: filters,
		taps:    taps,
		buf:     make([]float64, taps<<1),
	}

	p.design()

	return p, nil
}

// design fills the prototype and both banks. Tap j of phase k weights the
// sample j positions behind the newest one, at prototype index j*filters+k.
func (p *Polyphase) design() {
	n := p.taps*p.filters + 1
	center := float64(p.taps*p.filters) / 2

	p.window = window.Blackman(n)
	p.proto = make([]float64, n)
	for idx := range p.proto {
		t := (float64(idx) - center) / float64(p.filters)
		p.proto[idx] = sinc(t) * p.window[idx]
	}

	at := func(idx int) float64 {
		if idx < 0 || idx >= n {
			return 0
		}
		return p.proto[idx]
	}

	p.bank = make([][]float64, p.filters+1)
	p.dbank = make([][]float64, p.filters+1)
	for k := range p.bank {
		taps := make([]float64, p.taps)
		dtaps := make([]float64, p.taps)

		for j := range taps {
			idx := j*p.filters + k
			taps[j] = p.proto[idx]
			dtaps[j] = (at(idx+1) - at(idx-1)) / 2 * float64(p.filters)
		}

		// Normalize to unity DC gain. The derivative bank is the slope of the
		// normalized phase, so it has zero DC gain.
		gain, dgain := floats.Sum(taps), floats.Sum(dtaps)
		floats.Scale(1/gain, taps)
		floats.AddScaled(dtaps, -dgain, taps)
		floats.Scale(1/gain, dtaps)

		p.bank[k] = taps
		p.dbank[k] = dtaps
	}
}

func sinc(x float64) float64 {
	if x == 0 {
		return 1
	}
	x *= math.Pi
	return math.Sin(x) / x
}

func (p *Polyphase) Push(x float32) {
	p.pos--
	if p.pos < 0 {
		p.pos += p.taps
	}
	p.buf[p.pos] = float64(x)
	p.buf[p.pos+p.taps] = float64(x)
}

func (p *Polyphase) phase(mu float64) int {
	k := int(math.Round(mu * float64(p.filters)))
	if k < 0 {
		return 0
	}
	if k > p.filters {
		return p.filters
	}
	return k
}

func (p *Polyphase) Interpolate(mu float64) float32 {
	return float32(floats.Dot(p.bank[p.phase(mu)], p.buf[p.pos:p.pos+p.taps]))
}

func (p *Polyphase) Differentiate(mu float64) float32 {
	return float32(floats.Dot(p.dbank[p.phase(mu)], p.buf[p.pos:p.pos+p.taps]))
}

func (p *Polyphase) Delay() int { return p.taps / 2 }

func (p *Polyphase) Reset() {
	for idx := range p.buf {
		p.buf[idx] = 0
	}
	p.pos = 0
}

func (p *Polyphase) Filters() int { return p.filters }
func (p *Polyphase) Taps() int    { return p.taps }

// Phase returns a copy of the taps of phase k.
func (p *Polyphase) Phase(k int) []float64 {
	return append([]float64(nil), p.bank[k]...)
}

func (p *Polyphase) String() string {
	return fmt.Sprintf("{Filters:%d Taps:%d Delay:%d}", p.filters, p.taps, p.Delay())
}
