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

// Package ted implements symbol timing error detectors. A Detector keeps a
// short newest-first window of interpolated samples and computes a timing
// error once per symbol period, when its input clock wraps to zero.
package ted

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

var (
	// ErrUnsupported is the cause of every rejected detector construction.
	ErrUnsupported = errors.New("ted: unsupported detector configuration")

	// ErrLookahead is returned when lookahead samples are given to a detector
	// kind that does not use them.
	ErrLookahead = errors.New("ted: detector does not use lookahead samples")
)

// Kind selects the detector algorithm.
type Kind int

const (
	Gardner Kind = iota
	EarlyLate
	ZeroCrossing
	MuellerMuller
	ModMuellerMuller
	SignalTimesSlopeML
	SignumTimesSlopeML
)

// Requirements describe what a detector kind needs from its caller.
type Requirements struct {
	InputsPerSymbol int
	ErrorDepth      int
	NeedsDerivative bool
	NeedsLookahead  bool

	// StrobeTap is the window position holding the symbol-centre sample
	// once the input clock has wrapped.
	StrobeTap int

	// InitialClock is the input clock value after a reset.
	InitialClock int
}

var kinds = [...]struct {
	name string
	req  Requirements
}{
	Gardner:            {"gardner", Requirements{2, 3, false, false, 0, 1}},
	EarlyLate:          {"early_late", Requirements{2, 3, false, false, 1, 0}},
	ZeroCrossing:       {"zero_crossing", Requirements{2, 3, false, false, 0, 1}},
	MuellerMuller:      {"mueller_muller", Requirements{1, 2, false, false, 0, 0}},
	ModMuellerMuller:   {"mod_mueller_muller", Requirements{1, 3, false, false, 0, 0}},
	SignalTimesSlopeML: {"signal_times_slope_ml", Requirements{1, 1, true, false, 0, 0}},
	SignumTimesSlopeML: {"signum_times_slope_ml", Requirements{1, 1, true, false, 0, 0}},
}

// Kinds returns every detector kind in declaration order.
func Kinds() []Kind {
	k := make([]Kind, len(kinds))
	for idx := range k {
		k[idx] = Kind(idx)
	}
	return k
}

func (k Kind) valid() bool {
	return k >= 0 && int(k) < len(kinds)
}

func (k Kind) String() string {
	if !k.valid() {
		return fmt.Sprintf("Kind(%d)", int(k))
	}
	return kinds[k].name
}

// Requirements returns the fixed requirements of the kind.
func (k Kind) Requirements() Requirements {
	if !k.valid() {
		return Requirements{}
	}
	return kinds[k].req
}

// ParseKind resolves a detector kind by name, ignoring case.
func ParseKind(name string) (Kind, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for idx, k := range kinds {
		if k.name == name {
			return Kind(idx), nil
		}
	}
	return 0, errors.Wrapf(ErrUnsupported, "unknown detector: %q", name)
}

// Detector is a timing error detector. It is not safe for concurrent use.
type Detector struct {
	kind Kind
	req  Requirements

	inputsPerSymbol int
	errorDepth      int

	history []float32
	derivs  []float32

	// Samples pushed off the end of the windows by the last Input.
	evicted      float32
	evictedDeriv float32

	lookahead      float32
	lookaheadDeriv float32

	inputClock int

	err     float32
	prevErr float32
}

// New creates a detector of the given kind. The number of inputs per symbol
// must match the kind and the error depth must cover its window.
func New(kind Kind, inputsPerSymbol, errorDepth int) (*Detector, error) {
	if !kind.valid() {
		return nil, errors.Wrapf(ErrUnsupported, "unknown detector kind: %d", int(kind))
	}

	req := kind.Requirements()
	if inputsPerSymbol != req.InputsPerSymbol {
		return nil, errors.Wrapf(ErrUnsupported, "%s requires %d inputs per symbol, got %d",
			kind, req.InputsPerSymbol, inputsPerSymbol,
		)
	}
	if errorDepth < req.ErrorDepth {
		return nil, errors.Wrapf(ErrUnsupported, "%s requires an error depth of at least %d, got %d",
			kind, req.ErrorDepth, errorDepth,
		)
	}

	d := &Detector{
		kind:            kind,
		req:             req,
		inputsPerSymbol: inputsPerSymbol,
		errorDepth:      errorDepth,
		history:         make([]float32, errorDepth),
	}
	if req.NeedsDerivative {
		d.derivs = make([]float32, errorDepth)
	}

	d.SyncReset()

	return d, nil
}

// SyncReset zero-fills the windows and returns the input clock to its initial
// value.
func (d *Detector) SyncReset() {
	for idx := range d.history {
		d.history[idx] = 0
	}
	for idx := range d.derivs {
		d.derivs[idx] = 0
	}

	d.evicted, d.evictedDeriv = 0, 0
	d.lookahead, d.lookaheadDeriv = 0, 0
	d.err, d.prevErr = 0, 0
	d.inputClock = d.req.InitialClock % d.inputsPerSymbol
}

// Input pushes a sample and its derivative into the window and advances the
// input clock. The error is recomputed when the clock wraps to zero. The
// derivative is kept only by kinds that need one.
func (d *Detector) Input(x, dx float32) {
	last := len(d.history) - 1

	d.evicted = d.history[last]
	copy(d.history[1:], d.history[:last])
	d.history[0] = x

	if d.derivs != nil {
		d.evictedDeriv = d.derivs[last]
		copy(d.derivs[1:], d.derivs[:last])
		d.derivs[0] = dx
	}

	d.inputClock = (d.inputClock + 1) % d.inputsPerSymbol
	if d.inputClock == 0 {
		d.prevErr = d.err
		d.err = d.compute()
	}
}

// InputLookahead supplies the sample following the newest one in the window.
func (d *Detector) InputLookahead(x, dx float32) error {
	if !d.req.NeedsLookahead {
		return errors.Wrapf(ErrLookahead, "%s", d.kind)
	}

	d.lookahead, d.lookaheadDeriv = x, dx

	return nil
}

// Revert undoes the last Input. When the clock had just wrapped and
// preserveError is false the previous error is restored as well.
func (d *Detector) Revert(preserveError bool) {
	if d.inputClock == 0 && !preserveError {
		d.err = d.prevErr
	}

	d.inputClock = (d.inputClock + d.inputsPerSymbol - 1) % d.inputsPerSymbol

	last := len(d.history) - 1

	copy(d.history[:last], d.history[1:])
	d.history[last] = d.evicted

	if d.derivs != nil {
		copy(d.derivs[:last], d.derivs[1:])
		d.derivs[last] = d.evictedDeriv
	}
}

func slice(x float32) float32 {
	if x < 0 {
		return -1
	}
	return 1
}

func (d *Detector) compute() float32 {
	x := d.history

	switch d.kind {
	case Gardner:
		return (x[2] - x[0]) * x[1]
	case EarlyLate:
		return (x[0] - x[2]) * x[1]
	case ZeroCrossing:
		return (slice(x[2]) - slice(x[0])) * x[1]
	case MuellerMuller:
		return slice(x[1])*x[0] - slice(x[0])*x[1]
	case ModMuellerMuller:
		return (x[0]-x[2])*slice(x[1]) - (slice(x[0])-slice(x[2]))*x[1]
	case SignalTimesSlopeML:
		return x[0] * d.derivs[0]
	case SignumTimesSlopeML:
		return slice(x[0]) * d.derivs[0]
	}

	panic(fmt.Sprintf("ted: unhandled kind %d", int(d.kind)))
}

// Strobe returns the symbol-centre sample of the current window.
func (d *Detector) Strobe() float32 { return d.history[d.req.StrobeTap] }

// History returns a copy of the sample window, newest first.
func (d *Detector) History() []float32 {
	h := make([]float32, len(d.history))
	copy(h, d.history)
	return h
}

func (d *Detector) Error() float32        { return d.err }
func (d *Detector) Kind() Kind            { return d.kind }
func (d *Detector) InputClock() int       { return d.inputClock }
func (d *Detector) InputsPerSymbol() int  { return d.inputsPerSymbol }
func (d *Detector) ErrorDepth() int       { return d.errorDepth }
func (d *Detector) NeedsLookahead() bool  { return d.req.NeedsLookahead }
func (d *Detector) NeedsDerivative() bool { return d.req.NeedsDerivative }

func (d *Detector) String() string {
	return fmt.Sprintf("{Kind:%s InputClock:%d Error:%0.6f History:%v}",
		d.kind, d.inputClock, d.err, d.history,
	)
}
