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

// Package metrics exports synchronizer state to Prometheus and decides lock
// from the spread of recent timing errors.
package metrics

import (
	"sync"

	"github.com/bemasher/symsync/symsync"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"gonum.org/v1/gonum/stat"
)

const namespace = "symsync"

// Recorder holds the collectors of one channel. Collectors of different
// channels may share a registry.
type Recorder struct {
	mu sync.Mutex

	samples prometheus.Counter
	symbols prometheus.Counter
	reverts prometheus.Counter

	avgPeriod   prometheus.Gauge
	instPeriod  prometheus.Gauge
	phase       prometheus.Gauge
	timingError prometheus.Gauge
	errorStdDev prometheus.Gauge
	lockedGauge prometheus.Gauge

	// Ring of the most recent timing errors.
	errs   []float64
	pos    int
	filled bool

	threshold   float64
	std         float64
	locked      bool
	lastReverts int64
}

// NewRecorder registers the collectors of channel with reg. Lock is declared
// once the standard deviation of the last window timing errors falls below
// threshold.
func NewRecorder(reg prometheus.Registerer, channel string, window int, threshold float64) *Recorder {
	if window < 2 {
		window = 2
	}

	labels := prometheus.Labels{"channel": channel}
	factory := promauto.With(reg)

	counter := func(name, help string) prometheus.Counter {
		return factory.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        name,
			Help:        help,
			ConstLabels: labels,
		})
	}
	gauge := func(name, help string) prometheus.Gauge {
		return factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        name,
			Help:        help,
			ConstLabels: labels,
		})
	}

	return &Recorder{
		samples: counter("samples_consumed_total", "Input samples consumed"),
		symbols: counter("symbols_produced_total", "Symbols recovered"),
		reverts: counter("reverts_total", "Speculative loop updates undone for lack of output space"),

		avgPeriod:   gauge("avg_period_samples", "Average symbol period in input samples"),
		instPeriod:  gauge("inst_period_samples", "Instantaneous symbol period in input samples"),
		phase:       gauge("phase_samples", "Accumulated symbol phase in input samples"),
		timingError: gauge("timing_error", "Most recent timing error"),
		errorStdDev: gauge("timing_error_stddev", "Standard deviation of recent timing errors"),
		lockedGauge: gauge("locked", "1 when the loop is considered locked"),

		errs:      make([]float64, window),
		threshold: threshold,
	}
}

// Observe records the result of one call to Work along with a snapshot of the
// synchronizer taken after it. Only the first produced diagnostics are read.
func (r *Recorder) Observe(consumed, produced int, diag []symsync.Diagnostic, stats symsync.Stats) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.samples.Add(float64(consumed))
	r.symbols.Add(float64(produced))

	// Counters restart after a synchronizer reset.
	if stats.Reverts < r.lastReverts {
		r.lastReverts = 0
	}
	r.reverts.Add(float64(stats.Reverts - r.lastReverts))
	r.lastReverts = stats.Reverts

	r.avgPeriod.Set(float64(stats.AvgPeriod))
	r.instPeriod.Set(float64(stats.InstPeriod))
	r.phase.Set(float64(stats.Phase))
	r.timingError.Set(float64(stats.Error))

	if produced > len(diag) {
		produced = len(diag)
	}
	for _, d := range diag[:produced] {
		r.errs[r.pos] = float64(d.Error)
		r.pos++
		if r.pos == len(r.errs) {
			r.pos = 0
			r.filled = true
		}
	}

	if !r.filled {
		return
	}

	r.std = stat.StdDev(r.errs, nil)
	r.locked = r.std < r.threshold

	r.errorStdDev.Set(r.std)
	if r.locked {
		r.lockedGauge.Set(1)
	} else {
		r.lockedGauge.Set(0)
	}
}

// Locked reports whether the last full window of errors was below the
// threshold.
func (r *Recorder) Locked() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.locked
}

// StdDev returns the standard deviation of the last full window of errors.
func (r *Recorder) StdDev() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.std
}
