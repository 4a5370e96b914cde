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

// Package loop implements a second-order clock tracking loop. The loop is a
// discrete PI filter that turns a timing error into estimates of the average
// and instantaneous symbol period and an accumulated symbol phase, all
// measured in input samples.
package loop

import (
	"fmt"
	"math"

	"github.com/pkg/errors"
)

// ErrInvalidParameter is the cause of every rejected loop parameter.
var ErrInvalidParameter = errors.New("loop: invalid parameter")

// Loop holds the tracking state. It is not safe for concurrent use.
type Loop struct {
	avgPeriod    float32
	maxAvgPeriod float32
	minAvgPeriod float32
	nomAvgPeriod float32

	instPeriod float32
	phase      float32

	zeta       float32
	omegaNNorm float32
	tedGain    float32

	alpha float32
	beta  float32

	prevAvgPeriod  float32
	prevInstPeriod float32
	prevPhase      float32
}

// New creates a loop with the given normalized loop bandwidth, period limits,
// nominal period, damping factor and expected detector gain. A nominal period
// outside [minPeriod, maxPeriod] is replaced by the midpoint of the range.
func New(bandwidth, maxPeriod, minPeriod, nominalPeriod, damping, tedGain float32) (*Loop, error) {
	for _, p := range []struct {
		name  string
		value float32
	}{
		{"loop bandwidth", bandwidth},
		{"maximum average period", maxPeriod},
		{"minimum average period", minPeriod},
		{"nominal average period", nominalPeriod},
		{"damping factor", damping},
		{"expected ted gain", tedGain},
	} {
		if !finite(p.value) {
			return nil, errors.Wrapf(ErrInvalidParameter, "%s must be finite: %v", p.name, p.value)
		}
	}

	if damping < 0 {
		return nil, errors.Wrapf(ErrInvalidParameter, "damping factor must be > 0.0: %v", damping)
	}
	if bandwidth < 0 {
		return nil, errors.Wrapf(ErrInvalidParameter, "loop bandwidth must be >= 0.0: %v", bandwidth)
	}
	if tedGain <= 0 {
		return nil, errors.Wrapf(ErrInvalidParameter, "expected ted gain must be > 0.0: %v", tedGain)
	}
	if minPeriod <= 0 {
		return nil, errors.Wrapf(ErrInvalidParameter, "minimum average period must be > 0.0: %v", minPeriod)
	}
	if minPeriod > maxPeriod {
		return nil, errors.Wrapf(ErrInvalidParameter, "minimum average period %v exceeds maximum %v", minPeriod, maxPeriod)
	}

	l := &Loop{
		zeta:       damping,
		omegaNNorm: bandwidth,
		tedGain:    tedGain,
	}

	l.maxAvgPeriod = maxPeriod
	l.minAvgPeriod = minPeriod
	l.SetNomAvgPeriod(nominalPeriod)
	l.Reset()
	l.updateGains()

	return l, nil
}

// Reset returns the loop to the nominal period with zero phase. Gains and
// limits are kept.
func (l *Loop) Reset() {
	l.SetAvgPeriod(l.nomAvgPeriod)
	l.SetInstPeriod(l.nomAvgPeriod)
	l.SetPhase(0)
}

// Advance updates the loop with a new timing error. The state prior to the
// update is kept so a single call to Revert can undo it.
func (l *Loop) Advance(err float32) {
	l.prevAvgPeriod = l.avgPeriod
	l.prevInstPeriod = l.instPeriod
	l.prevPhase = l.phase

	l.avgPeriod += l.beta * err
	l.periodLimit()

	l.instPeriod = l.avgPeriod + l.alpha*err
	if l.instPeriod <= 0 {
		l.instPeriod = l.avgPeriod
	}

	l.phase += l.instPeriod
}

// Revert restores the state saved by the last Advance.
func (l *Loop) Revert() {
	l.avgPeriod = l.prevAvgPeriod
	l.instPeriod = l.prevInstPeriod
	l.phase = l.prevPhase
}

// WrapPhase brings the phase into (-avgPeriod/2, avgPeriod/2]. A phase or
// period that is not finite is left as it is.
func (l *Loop) WrapPhase() {
	if !finite(l.phase) || !finite(l.avgPeriod) || l.avgPeriod <= 0 {
		return
	}

	period := l.avgPeriod
	limit := period / 2

	phase := float32(math.Remainder(float64(l.phase), float64(period)))
	if phase > limit {
		phase -= period
	}
	if phase <= -limit {
		phase += period
	}

	l.phase = phase
}

func (l *Loop) periodLimit() {
	if l.avgPeriod > l.maxAvgPeriod {
		l.avgPeriod = l.maxAvgPeriod
	} else if l.avgPeriod < l.minAvgPeriod {
		l.avgPeriod = l.minAvgPeriod
	}
}

// Saturated reports whether the average period sits on one of its limits.
func (l *Loop) Saturated() bool {
	return l.avgPeriod == l.maxAvgPeriod || l.avgPeriod == l.minAvgPeriod
}

// Finite reports whether the period and phase estimates are all finite.
func (l *Loop) Finite() bool {
	return finite(l.avgPeriod) && finite(l.instPeriod) && finite(l.phase)
}

// MaxInstPeriodRatio bounds the instantaneous period to a multiple of the
// maximum average period.
const MaxInstPeriodRatio = 1024

// Bounded reports whether the state is finite and the instantaneous period is
// no more than MaxInstPeriodRatio times the maximum average period. A loop
// driven past that bound by an oversized timing error can no longer be
// wrapped or stepped meaningfully.
func (l *Loop) Bounded() bool {
	return l.Finite() && l.instPeriod <= l.maxAvgPeriod*MaxInstPeriodRatio
}

func finite(v float32) bool {
	f := float64(v)
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// updateGains derives the proportional and integral gains of the loop filter
// from the damping factor, the normalized natural frequency and the detector
// gain.
func (l *Loop) updateGains() {
	zeta := float64(l.zeta)
	omegaNT := float64(l.omegaNNorm)
	zetaOmegaNT := zeta * omegaNT

	k0 := 2.0 / float64(l.tedGain)
	k1 := math.Exp(-zetaOmegaNT)
	sinhZetaOmegaNT := math.Sinh(zetaOmegaNT)

	var cosxOmegaDT float64
	switch {
	case zeta > 1.0:
		omegaDT := omegaNT * math.Sqrt(zeta*zeta-1.0)
		cosxOmegaDT = math.Cosh(omegaDT)
	case zeta == 1.0:
		cosxOmegaDT = 1.0
	default:
		omegaDT := omegaNT * math.Sqrt(1.0-zeta*zeta)
		cosxOmegaDT = math.Cos(omegaDT)
	}

	l.alpha = float32(k0 * k1 * sinhZetaOmegaNT)
	l.beta = float32(k0 * (1.0 - k1*(sinhZetaOmegaNT+cosxOmegaDT)))
}

// SetLoopBandwidth sets the normalized natural frequency and recomputes gains.
func (l *Loop) SetLoopBandwidth(bw float32) error {
	if !finite(bw) || bw < 0 {
		return errors.Wrapf(ErrInvalidParameter, "loop bandwidth must be finite and >= 0.0: %v", bw)
	}
	l.omegaNNorm = bw
	l.updateGains()
	return nil
}

// SetDampingFactor sets the damping factor and recomputes gains.
func (l *Loop) SetDampingFactor(df float32) error {
	if !finite(df) || df < 0 {
		return errors.Wrapf(ErrInvalidParameter, "damping factor must be finite and >= 0.0: %v", df)
	}
	l.zeta = df
	l.updateGains()
	return nil
}

// SetTEDGain sets the expected detector gain and recomputes gains.
func (l *Loop) SetTEDGain(gain float32) error {
	if !finite(gain) || gain <= 0 {
		return errors.Wrapf(ErrInvalidParameter, "expected ted gain must be finite and > 0.0: %v", gain)
	}
	l.tedGain = gain
	l.updateGains()
	return nil
}

// SetAvgPeriod overwrites the average period and its saved copy.
func (l *Loop) SetAvgPeriod(period float32) {
	l.avgPeriod = period
	l.prevAvgPeriod = period
}

// SetInstPeriod overwrites the instantaneous period and its saved copy.
func (l *Loop) SetInstPeriod(period float32) {
	l.instPeriod = period
	l.prevInstPeriod = period
}

// SetPhase overwrites the phase and its saved copy.
func (l *Loop) SetPhase(phase float32) {
	l.prevPhase = phase
	l.phase = phase
}

// SetMaxAvgPeriod sets the upper limit of the average period. It may not fall
// below the lower limit. The average period is clamped to the new range.
func (l *Loop) SetMaxAvgPeriod(period float32) error {
	if !finite(period) || period < l.minAvgPeriod {
		return errors.Wrapf(ErrInvalidParameter, "maximum average period must be finite and >= %v: %v", l.minAvgPeriod, period)
	}
	l.maxAvgPeriod = period
	l.periodLimit()
	return nil
}

// SetMinAvgPeriod sets the lower limit of the average period. It must be
// positive and may not exceed the upper limit. The average period is clamped
// to the new range.
func (l *Loop) SetMinAvgPeriod(period float32) error {
	if !finite(period) || period <= 0 || period > l.maxAvgPeriod {
		return errors.Wrapf(ErrInvalidParameter, "minimum average period must be finite and in (0, %v]: %v", l.maxAvgPeriod, period)
	}
	l.minAvgPeriod = period
	l.periodLimit()
	return nil
}

// SetNomAvgPeriod sets the nominal period, substituting the midpoint of the
// limits when the given period is not finite or falls outside them.
func (l *Loop) SetNomAvgPeriod(period float32) {
	if !finite(period) || period < l.minAvgPeriod || period > l.maxAvgPeriod {
		l.nomAvgPeriod = (l.maxAvgPeriod + l.minAvgPeriod) / 2
	} else {
		l.nomAvgPeriod = period
	}
}

func (l *Loop) LoopBandwidth() float32 { return l.omegaNNorm }
func (l *Loop) DampingFactor() float32 { return l.zeta }
func (l *Loop) TEDGain() float32       { return l.tedGain }
func (l *Loop) Alpha() float32         { return l.alpha }
func (l *Loop) Beta() float32          { return l.beta }
func (l *Loop) AvgPeriod() float32     { return l.avgPeriod }
func (l *Loop) InstPeriod() float32    { return l.instPeriod }
func (l *Loop) Phase() float32         { return l.phase }
func (l *Loop) MaxAvgPeriod() float32  { return l.maxAvgPeriod }
func (l *Loop) MinAvgPeriod() float32  { return l.minAvgPeriod }
func (l *Loop) NomAvgPeriod() float32  { return l.nomAvgPeriod }

func (l *Loop) String() string {
	return fmt.Sprintf("{AvgPeriod:%0.6f InstPeriod:%0.6f Phase:%0.6f Alpha:%0.6g Beta:%0.6g}",
		l.avgPeriod, l.instPeriod, l.phase, l.alpha, l.beta,
	)
}
