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
	"github.com/bemasher/symsync/symsync"
	log "github.com/sirupsen/logrus"
)

// Config builds the synchronizer configuration. The configuration file, if
// any, is read over the defaults and flags given on the command line take
// precedence over both.
func (f *Flags) Config() (cfg symsync.Config, err error) {
	cfg = symsync.Default()
	if f.ConfigFile != "" {
		if cfg, err = symsync.Load(f.ConfigFile); err != nil {
			return
		}
		log.WithField("file", f.ConfigFile).Debug("loaded configuration")
	}

	if f.Changed("loopbw") {
		cfg.LoopBandwidth = f.LoopBandwidth
	}
	if f.Changed("damping") {
		cfg.DampingFactor = f.DampingFactor
	}
	if f.Changed("tedgain") {
		cfg.TEDGain = f.TEDGain
	}

	// Limits and detector requirements are derived again from the new values.
	if f.Changed("sps") {
		cfg.NominalAvgPeriod = f.SamplesPerSymbol
		cfg.MinAvgPeriod, cfg.MaxAvgPeriod = 0, 0
	}
	if f.Changed("detector") {
		cfg.Detector = f.Detector
		cfg.InputsPerSymbol, cfg.ErrorDepth = 0, 0
	}
	if f.Changed("interp") {
		cfg.Interpolator = f.Interpolator
	}

	return cfg, nil
}
