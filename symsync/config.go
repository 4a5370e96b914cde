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
	"math"
	"os"

	"github.com/bemasher/symsync/interp"
	"github.com/bemasher/symsync/ted"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Config specifies the loop design, the detector and the interpolator of a
// synchronizer. Periods are in input samples per symbol.
type Config struct {
	LoopBandwidth float32 `yaml:"loop_bandwidth"`
	DampingFactor float32 `yaml:"damping_factor"`
	TEDGain       float32 `yaml:"ted_gain"`

	NominalAvgPeriod float32 `yaml:"nominal_avg_period"`
	MinAvgPeriod     float32 `yaml:"min_avg_period"`
	MaxAvgPeriod     float32 `yaml:"max_avg_period"`

	Detector        string `yaml:"detector"`
	InputsPerSymbol int    `yaml:"inputs_per_symbol"`
	ErrorDepth      int    `yaml:"error_depth"`

	Interpolator     string `yaml:"interpolator"`
	PolyphaseFilters int    `yaml:"polyphase_filters"`
	PolyphaseTaps    int    `yaml:"polyphase_taps"`

	// Logger receives the synchronizer's log output. Nil uses the standard
	// logger.
	Logger *logrus.Entry `yaml:"-"`
}

// Default returns the default configuration: a Gardner detector at two
// samples per symbol with a cubic interpolator.
func Default() Config {
	return Config{
		LoopBandwidth:    0.045,
		DampingFactor:    1.0,
		TEDGain:          1.0,
		NominalAvgPeriod: 2.0,
		MinAvgPeriod:     2.0 * 0.99,
		MaxAvgPeriod:     2.0 * 1.01,
		Detector:         ted.Gardner.String(),
		InputsPerSymbol:  2,
		ErrorDepth:       3,
		Interpolator:     "cubic",
		PolyphaseFilters: 32,
		PolyphaseTaps:    8,
	}
}

// Load reads a YAML configuration. Fields missing from the file keep their
// default values.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrap(err, "read config")
	}

	return Parse(data)
}

// Parse decodes a YAML configuration over the defaults.
func Parse(data []byte) (Config, error) {
	c := Default()

	// Derived fields are recomputed unless the document sets them.
	c.MinAvgPeriod, c.MaxAvgPeriod = 0, 0
	c.InputsPerSymbol, c.ErrorDepth = 0, 0

	if err := yaml.Unmarshal(data, &c); err != nil {
		return Config{}, errors.Wrap(err, "parse config")
	}

	c.applyDefaults()

	return c, nil
}

// applyDefaults fills unset fields, deriving the period limits from the
// nominal period and the detector requirements from its kind.
func (c *Config) applyDefaults() {
	d := Default()

	if c.Detector == "" {
		c.Detector = d.Detector
	}
	if c.Interpolator == "" {
		c.Interpolator = d.Interpolator
	}
	if c.NominalAvgPeriod == 0 {
		c.NominalAvgPeriod = d.NominalAvgPeriod
	}
	if c.MinAvgPeriod == 0 {
		c.MinAvgPeriod = c.NominalAvgPeriod * 0.99
	}
	if c.MaxAvgPeriod == 0 {
		c.MaxAvgPeriod = c.NominalAvgPeriod * 1.01
	}
	if c.PolyphaseFilters == 0 {
		c.PolyphaseFilters = d.PolyphaseFilters
	}
	if c.PolyphaseTaps == 0 {
		c.PolyphaseTaps = d.PolyphaseTaps
	}

	if kind, err := ted.ParseKind(c.Detector); err == nil {
		req := kind.Requirements()
		if c.InputsPerSymbol == 0 {
			c.InputsPerSymbol = req.InputsPerSymbol
		}
		if c.ErrorDepth == 0 {
			c.ErrorDepth = req.ErrorDepth
		}
	}

	if c.Logger == nil {
		c.Logger = logrus.NewEntry(logrus.StandardLogger())
	}
}

// Validate reports the first invalid field. Every returned error has
// ErrConfig as its cause.
func (c Config) Validate() error {
	for _, f := range []struct {
		name  string
		value float32
	}{
		{"loop bandwidth", c.LoopBandwidth},
		{"damping factor", c.DampingFactor},
		{"expected ted gain", c.TEDGain},
		{"nominal average period", c.NominalAvgPeriod},
		{"minimum average period", c.MinAvgPeriod},
		{"maximum average period", c.MaxAvgPeriod},
	} {
		if v := float64(f.value); math.IsNaN(v) || math.IsInf(v, 0) {
			return errors.Wrapf(ErrConfig, "%s must be finite: %v", f.name, f.value)
		}
	}

	if c.LoopBandwidth < 0 {
		return errors.Wrapf(ErrConfig, "loop bandwidth must be >= 0.0: %v", c.LoopBandwidth)
	}
	if c.DampingFactor <= 0 {
		return errors.Wrapf(ErrConfig, "damping factor must be > 0.0: %v", c.DampingFactor)
	}
	if c.TEDGain <= 0 {
		return errors.Wrapf(ErrConfig, "expected ted gain must be > 0.0: %v", c.TEDGain)
	}
	if c.MinAvgPeriod < 1 {
		return errors.Wrapf(ErrConfig, "minimum average period must be >= 1.0: %v", c.MinAvgPeriod)
	}
	if c.MinAvgPeriod > c.MaxAvgPeriod {
		return errors.Wrapf(ErrConfig, "minimum average period %v exceeds maximum %v", c.MinAvgPeriod, c.MaxAvgPeriod)
	}

	kind, err := ted.ParseKind(c.Detector)
	if err != nil {
		return errors.Wrapf(ErrConfig, "%v", err)
	}

	req := kind.Requirements()
	if c.InputsPerSymbol != req.InputsPerSymbol {
		return errors.Wrapf(ErrConfig, "%s detector requires %d inputs per symbol: %d",
			kind, req.InputsPerSymbol, c.InputsPerSymbol,
		)
	}
	if c.ErrorDepth < req.ErrorDepth {
		return errors.Wrapf(ErrConfig, "%s detector requires an error depth >= %d: %d",
			kind, req.ErrorDepth, c.ErrorDepth,
		)
	}

	if _, err := interp.Parse(c.Interpolator, c.PolyphaseFilters, c.PolyphaseTaps); err != nil {
		return errors.Wrapf(ErrConfig, "%v", err)
	}

	return nil
}
