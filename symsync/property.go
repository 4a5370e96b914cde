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

package symsync

import (
	"sort"

	"github.com/bemasher/symsync/loop"
	"github.com/pkg/errors"
)

// A property reads a value from the synchronizer. Settable properties also
// name the Config field they mirror and the loop setter that applies them.
type property struct {
	get   func(s *Synchronizer) float64
	field func(c *Config) *float32
	apply func(l *loop.Loop, v float32) error
}

var properties = map[string]property{
	"loop_bandwidth": {
		get:   func(s *Synchronizer) float64 { return float64(s.loop.LoopBandwidth()) },
		field: func(c *Config) *float32 { return &c.LoopBandwidth },
		apply: (*loop.Loop).SetLoopBandwidth,
	},
	"damping_factor": {
		get:   func(s *Synchronizer) float64 { return float64(s.loop.DampingFactor()) },
		field: func(c *Config) *float32 { return &c.DampingFactor },
		apply: (*loop.Loop).SetDampingFactor,
	},
	"ted_gain": {
		get:   func(s *Synchronizer) float64 { return float64(s.loop.TEDGain()) },
		field: func(c *Config) *float32 { return &c.TEDGain },
		apply: (*loop.Loop).SetTEDGain,
	},

	"avg_period":         {get: func(s *Synchronizer) float64 { return float64(s.loop.AvgPeriod()) }},
	"inst_period":        {get: func(s *Synchronizer) float64 { return float64(s.loop.InstPeriod()) }},
	"phase":              {get: func(s *Synchronizer) float64 { return float64(s.loop.Phase()) }},
	"alpha":              {get: func(s *Synchronizer) float64 { return float64(s.loop.Alpha()) }},
	"beta":               {get: func(s *Synchronizer) float64 { return float64(s.loop.Beta()) }},
	"min_avg_period":     {get: func(s *Synchronizer) float64 { return float64(s.loop.MinAvgPeriod()) }},
	"max_avg_period":     {get: func(s *Synchronizer) float64 { return float64(s.loop.MaxAvgPeriod()) }},
	"nominal_avg_period": {get: func(s *Synchronizer) float64 { return float64(s.loop.NomAvgPeriod()) }},
	"inputs_per_symbol":  {get: func(s *Synchronizer) float64 { return float64(s.ted.InputsPerSymbol()) }},
	"error_depth":        {get: func(s *Synchronizer) float64 { return float64(s.ted.ErrorDepth()) }},
}

// Properties returns the names of every readable property, sorted.
func Properties() []string {
	names := make([]string, 0, len(properties))
	for name := range properties {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Property returns the current value of a named property.
func (s *Synchronizer) Property(name string) (float64, error) {
	p, ok := properties[name]
	if !ok {
		return 0, errors.Wrapf(ErrUnknownProperty, "%q", name)
	}
	return p.get(s), nil
}

// SetProperty updates one of the loop design parameters by name. The value
// must pass the same checks as a Config. The gains are recomputed before the
// next symbol. An invalid value leaves the synchronizer unchanged.
func (s *Synchronizer) SetProperty(name string, value float64) error {
	p, ok := properties[name]
	if !ok {
		return errors.Wrapf(ErrUnknownProperty, "%q", name)
	}
	if p.field == nil {
		return errors.Wrapf(ErrUnknownProperty, "%q is read-only", name)
	}

	cfg := s.cfg
	*p.field(&cfg) = float32(value)
	if err := cfg.Validate(); err != nil {
		return errors.Wrap(err, name)
	}

	if err := p.apply(s.loop, float32(value)); err != nil {
		return errors.Wrapf(ErrConfig, "%s: %v", name, err)
	}
	s.cfg = cfg

	s.log.WithField(name, value).Debug("property updated")

	return nil
}
