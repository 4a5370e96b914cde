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

// Package symsync recovers symbol timing from an oversampled real-valued
// baseband signal. A Synchronizer interpolates its input at positions chosen
// by a clock tracking loop, feeds the interpolants to a timing error detector
// and emits one sample per recovered symbol.
package symsync

import (
	"fmt"
	"math"

	"github.com/bemasher/symsync/interp"
	"github.com/bemasher/symsync/loop"
	"github.com/bemasher/symsync/ted"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var (
	// ErrConfig is the cause of every rejected configuration or property
	// value.
	ErrConfig = errors.New("symsync: invalid configuration")

	// ErrNumericFault is returned once the loop state stops being finite or
	// the instantaneous period leaves the bound of loop.Bounded. The
	// synchronizer must be Reset before it will do more work.
	ErrNumericFault = errors.New("symsync: non-finite loop state")

	// ErrUnknownProperty is returned for property names the synchronizer
	// does not have.
	ErrUnknownProperty = errors.New("symsync: unknown property")
)

// Diagnostic describes the loop state at the moment a symbol was emitted.
type Diagnostic struct {
	Offset     int64 // input samples consumed when the symbol was emitted
	Error      float32
	AvgPeriod  float32
	InstPeriod float32
	Phase      float32
}

func (d Diagnostic) String() string {
	return fmt.Sprintf("{Offset:%d Error:%0.6f AvgPeriod:%0.6f InstPeriod:%0.6f Phase:%0.6f}",
		d.Offset, d.Error, d.AvgPeriod, d.InstPeriod, d.Phase,
	)
}

// Stats is a snapshot of the synchronizer's counters and loop state.
type Stats struct {
	SamplesIn  int64
	SymbolsOut int64
	Reverts    int64

	Error      float32
	AvgPeriod  float32
	InstPeriod float32
	Phase      float32
	Alpha      float32
	Beta       float32
	Saturated  bool
}

// Synchronizer is a symbol synchronizer block. It is not safe for concurrent
// use; independent instances share no state.
type Synchronizer struct {
	cfg Config
	log *logrus.Entry

	loop   *loop.Loop
	ted    *ted.Detector
	interp interp.Interpolator

	// Fractional position of the next interpolant and the number of input
	// samples still to push before it can be computed.
	mu   float64
	skip int

	fault error

	samplesIn  int64
	symbolsOut int64
	reverts    int64
	saturated  bool
}

// New validates cfg and creates a synchronizer in its reset state.
func New(cfg Config) (*Synchronizer, error) {
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Synchronizer{
		cfg: cfg,
		log: cfg.Logger.WithField("block", "symsync"),
	}

	var err error
	s.loop, err = loop.New(
		cfg.LoopBandwidth,
		cfg.MaxAvgPeriod,
		cfg.MinAvgPeriod,
		cfg.NominalAvgPeriod,
		cfg.DampingFactor,
		cfg.TEDGain,
	)
	if err != nil {
		return nil, errors.Wrapf(ErrConfig, "%v", err)
	}

	kind, _ := ted.ParseKind(cfg.Detector)
	s.ted, err = ted.New(kind, cfg.InputsPerSymbol, cfg.ErrorDepth)
	if err != nil {
		return nil, errors.Wrapf(ErrConfig, "%v", err)
	}

	s.interp, err = interp.Parse(cfg.Interpolator, cfg.PolyphaseFilters, cfg.PolyphaseTaps)
	if err != nil {
		return nil, errors.Wrapf(ErrConfig, "%v", err)
	}

	s.Reset()

	return s, nil
}

// Reset returns the loop, detector and interpolator to their initial state
// and clears a latched numeric fault.
func (s *Synchronizer) Reset() {
	s.loop.Reset()
	s.ted.SyncReset()
	s.interp.Reset()

	s.mu = 0
	s.skip = s.interp.Delay() + 1
	s.fault = nil

	s.samplesIn = 0
	s.symbolsOut = 0
	s.reverts = 0
	s.saturated = false

	s.log.Debug("reset")
}

// Work consumes samples from in and writes one sample per recovered symbol to
// out. If diag is not nil it must be at least as long as out; diag[i]
// describes out[i]. Work returns when in is exhausted or when a symbol is due
// and out is full. Any speculative loop update is committed or reverted
// before Work returns.
func (s *Synchronizer) Work(in, out []float32, diag []Diagnostic) (consumed, produced int, err error) {
	if s.fault != nil {
		return 0, 0, s.fault
	}
	if diag != nil && len(diag) < len(out) {
		return 0, 0, errors.Errorf("symsync: diagnostic buffer shorter than output: %d < %d", len(diag), len(out))
	}

	ips := float64(s.ted.InputsPerSymbol())

	for {
		if s.skip > 0 {
			if consumed == len(in) {
				return consumed, produced, nil
			}

			s.interp.Push(in[consumed])
			consumed++
			s.samplesIn++
			s.skip--
			continue
		}

		x := s.interp.Interpolate(s.mu)

		var dx float32
		if s.ted.NeedsDerivative() {
			dx = s.interp.Differentiate(s.mu)
		}

		s.ted.Input(x, dx)

		if s.ted.InputClock() == 0 {
			s.loop.Advance(s.ted.Error())

			if !s.loop.Bounded() {
				s.fault = errors.Wrapf(ErrNumericFault, "after %d samples: error %v: %s", s.samplesIn, s.ted.Error(), s.loop)
				s.log.WithError(s.fault).Error("numeric fault")
				return consumed, produced, s.fault
			}

			s.loop.WrapPhase()

			if produced == len(out) {
				s.loop.Revert()
				s.ted.Revert(true)
				s.reverts++
				s.log.WithField("samples", s.samplesIn).Trace("output full, reverted")
				return consumed, produced, nil
			}

			out[produced] = s.ted.Strobe()
			if diag != nil {
				diag[produced] = Diagnostic{
					Offset:     s.samplesIn,
					Error:      s.ted.Error(),
					AvgPeriod:  s.loop.AvgPeriod(),
					InstPeriod: s.loop.InstPeriod(),
					Phase:      s.loop.Phase(),
				}
			}
			produced++
			s.symbolsOut++

			if saturated := s.loop.Saturated(); saturated != s.saturated {
				s.saturated = saturated
				s.log.WithFields(logrus.Fields{
					"saturated":  saturated,
					"avg_period": s.loop.AvgPeriod(),
				}).Debug("period limit")
			}
		}

		// At most one interpolant per input sample per symbol period.
		s.mu += math.Max(float64(s.loop.InstPeriod()), 1) / ips
		s.skip = int(math.Floor(s.mu))
		s.mu -= float64(s.skip)
	}
}

// Stats returns a snapshot of the counters and the loop state.
func (s *Synchronizer) Stats() Stats {
	return Stats{
		SamplesIn:  s.samplesIn,
		SymbolsOut: s.symbolsOut,
		Reverts:    s.reverts,
		Error:      s.ted.Error(),
		AvgPeriod:  s.loop.AvgPeriod(),
		InstPeriod: s.loop.InstPeriod(),
		Phase:      s.loop.Phase(),
		Alpha:      s.loop.Alpha(),
		Beta:       s.loop.Beta(),
		Saturated:  s.loop.Saturated(),
	}
}

// Log writes the configuration of the synchronizer.
func (s *Synchronizer) Log() {
	s.log.Info("Detector: ", s.ted.Kind())
	s.log.Info("InputsPerSymbol: ", s.ted.InputsPerSymbol())
	s.log.Info("ErrorDepth: ", s.ted.ErrorDepth())
	s.log.Info("Interpolator: ", s.cfg.Interpolator)
	s.log.Info("LoopBandwidth: ", s.loop.LoopBandwidth())
	s.log.Info("DampingFactor: ", s.loop.DampingFactor())
	s.log.Info("TEDGain: ", s.loop.TEDGain())
	s.log.Info("NominalAvgPeriod: ", s.loop.NomAvgPeriod())
	s.log.Info("MinAvgPeriod: ", s.loop.MinAvgPeriod())
	s.log.Info("MaxAvgPeriod: ", s.loop.MaxAvgPeriod())
	s.log.Infof("Alpha: %0.6g Beta: %0.6g", s.loop.Alpha(), s.loop.Beta())
}

func (s *Synchronizer) Config() Config                    { return s.cfg }
func (s *Synchronizer) Loop() *loop.Loop                  { return s.loop }
func (s *Synchronizer) Detector() *ted.Detector           { return s.ted }
func (s *Synchronizer) Interpolator() interp.Interpolator { return s.interp }

// Fault returns the latched numeric fault, if any.
func (s *Synchronizer) Fault() error { return s.fault }
