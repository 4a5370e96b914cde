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

// Package interp provides fractional-delay interpolators. Samples are pushed
// one at a time; an interpolant at fractional offset mu lies mu samples after
// the sample Delay() positions behind the newest one.
package interp

import (
	"strings"

	"github.com/pkg/errors"
)

// ErrInvalid is the cause of every rejected interpolator configuration.
var ErrInvalid = errors.New("interp: invalid interpolator")

type Interpolator interface {
	// Push appends the next input sample.
	Push(x float32)

	// Interpolate returns the signal at fractional offset mu in [0, 1).
	Interpolate(mu float64) float32

	// Differentiate returns the slope of the signal at mu, per sample.
	Differentiate(mu float64) float32

	// Delay is the number of samples between the newest sample and the
	// interpolant at mu = 0.
	Delay() int

	Reset()
}

// Parse returns the interpolator with the given name. Filter and tap counts
// only apply to the polyphase interpolator.
func Parse(name string, filters, taps int) (Interpolator, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "linear":
		return NewLinear(), nil
	case "cubic", "":
		return NewCubic(), nil
	case "polyphase":
		return NewPolyphase(filters, taps)
	}

	return nil, errors.Wrapf(ErrInvalid, "unknown interpolator: %q", name)
}

// Linear interpolates between the two newest samples.
type Linear struct {
	prev, cur float32
}

func NewLinear() *Linear { return &Linear{} }

func (l *Linear) Push(x float32) {
	l.prev, l.cur = l.cur, x
}

func (l *Linear) Interpolate(mu float64) float32 {
	return l.prev + float32(mu)*(l.cur-l.prev)
}

func (l *Linear) Differentiate(float64) float32 {
	return l.cur - l.prev
}

func (l *Linear) Delay() int { return 1 }

func (l *Linear) Reset() { l.prev, l.cur = 0, 0 }

// Cubic is a four point Lagrange interpolator in Farrow form. It interpolates
// between the second and third newest samples.
type Cubic struct {
	p [4]float64
}

func NewCubic() *Cubic { return &Cubic{} }

func (c *Cubic) Push(x float32) {
	copy(c.p[:3], c.p[1:])
	c.p[3] = float64(x)
}

func (c *Cubic) coeffs() (c0, c1, c2, c3 float64) {
	p0, p1, p2, p3 := c.p[0], c.p[1], c.p[2], c.p[3]

	c0 = p1
	c1 = -p0/3 - p1/2 + p2 - p3/6
	c2 = (p0+p2)/2 - p1
	c3 = (p3-p0)/6 + (p1-p2)/2

	return
}

func (c *Cubic) Interpolate(mu float64) float32 {
	c0, c1, c2, c3 := c.coeffs()
	return float32(((c3*mu+c2)*mu+c1)*mu + c0)
}

func (c *Cubic) Differentiate(mu float64) float32 {
	_, c1, c2, c3 := c.coeffs()
	return float32((3*c3*mu+2*c2)*mu + c1)
}

func (c *Cubic) Delay() int { return 2 }

func (c *Cubic) Reset() { c.p = [4]float64{} }
