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
	"encoding/json"
	"encoding/xml"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/bemasher/symsync/csv"
	"github.com/bemasher/symsync/symsync"
	"github.com/bemasher/symsync/ted"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
)

// Flags holds the command line options of the receiver. Options left unset
// on the command line do not override the configuration file.
type Flags struct {
	SampleFile   string
	SampleFormat string
	ConfigFile   string

	LoopBandwidth    float32
	DampingFactor    float32
	TEDGain          float32
	SamplesPerSymbol float32
	Detector         string
	Interpolator     string

	BlockSize int
	DCBlock   float32
	Matched   int

	Format      string
	TimeLimit   time.Duration
	MetricsAddr string
	Verbose     int
	Version     bool

	fs *pflag.FlagSet
}

func (f *Flags) Register(fs *pflag.FlagSet) {
	f.fs = fs
	d := symsync.Default()

	fs.StringVar(&f.SampleFile, "samplefile", "", "sample file to read, - for stdin, empty to read from rtl_tcp")
	fs.StringVar(&f.SampleFormat, "samplefmt", "u8", "sample format: u8 (interleaved iq) or f32 (real, little-endian)")
	fs.StringVarP(&f.ConfigFile, "config", "c", "", "yaml synchronizer configuration file")

	fs.Float32Var(&f.LoopBandwidth, "loopbw", d.LoopBandwidth, "normalized loop bandwidth")
	fs.Float32Var(&f.DampingFactor, "damping", d.DampingFactor, "loop damping factor")
	fs.Float32Var(&f.TEDGain, "tedgain", d.TEDGain, "expected timing error detector gain")
	fs.Float32Var(&f.SamplesPerSymbol, "sps", d.NominalAvgPeriod, "nominal samples per symbol")
	fs.StringVar(&f.Detector, "detector", d.Detector, "timing error detector: "+strings.Join(detectorNames(), ", "))
	fs.StringVar(&f.Interpolator, "interp", d.Interpolator, "interpolator: linear, cubic or polyphase")

	fs.IntVar(&f.BlockSize, "blocksize", 16384, "samples per block")
	fs.Float32Var(&f.DCBlock, "dcblock", 0.995, "dc blocker pole, 0 to disable")
	fs.IntVar(&f.Matched, "matched", 0, "boxcar matched filter length in samples, 0 to disable")

	fs.StringVarP(&f.Format, "format", "f", "plain", "symbol output format: plain, csv, json, or xml")
	fs.DurationVar(&f.TimeLimit, "duration", 0, "time to run for, 0 for infinite, ex. 1h5m10s")
	fs.StringVar(&f.MetricsAddr, "metrics", "", "address to serve prometheus metrics on, ex. :9100")
	fs.CountVarP(&f.Verbose, "verbose", "v", "log verbosity, repeat for trace")
	fs.BoolVar(&f.Version, "version", false, "display build date and commit hash")
}

// Changed reports whether the named flag was set on the command line or by
// the environment.
func (f *Flags) Changed(name string) bool {
	return f.fs != nil && f.fs.Changed(name)
}

// LogLevel maps the verbosity count to a log level.
func (f *Flags) LogLevel() log.Level {
	switch {
	case f.Verbose >= 2:
		return log.TraceLevel
	case f.Verbose == 1:
		return log.DebugLevel
	}
	return log.InfoLevel
}

func detectorNames() (names []string) {
	for _, k := range ted.Kinds() {
		names = append(names, k.String())
	}
	return
}

// goFlag exposes a flag of the standard library's command line to pflag.
// Setting it goes through flag.CommandLine so the flag is visible to
// flag.Visit afterwards.
type goFlag struct {
	*flag.Flag
}

func (g goFlag) String() string { return g.Value.String() }

func (g goFlag) Set(value string) error {
	return flag.CommandLine.Set(g.Name, value)
}

func (g goFlag) Type() string {
	if isBoolFlag(g.Flag) {
		return "bool"
	}
	return "value"
}

func isBoolFlag(f *flag.Flag) bool {
	bf, ok := f.Value.(interface{ IsBoolFlag() bool })
	return ok && bf.IsBoolFlag()
}

// MergeGoFlags adds every flag registered with the standard library's
// command line to fs.
func MergeGoFlags(fs *pflag.FlagSet) {
	flag.CommandLine.VisitAll(func(f *flag.Flag) {
		if fs.Lookup(f.Name) != nil {
			return
		}

		pf := fs.VarPF(goFlag{f}, f.Name, "", f.Usage)
		pf.DefValue = f.DefValue
		if isBoolFlag(f) {
			pf.NoOptDefVal = "true"
		}
	})
}

// Usage prints the receiver's flags followed by those of rtl_tcp.
func Usage(fs *pflag.FlagSet) func() {
	return func() {
		printDefaults := func(goFlags bool) {
			fs.VisitAll(func(f *pflag.Flag) {
				if (flag.Lookup(f.Name) != nil) != goFlags {
					return
				}

				name := "--" + f.Name
				if f.Shorthand != "" {
					name = "-" + f.Shorthand + ", " + name
				}
				fmt.Fprintf(os.Stderr, "  %s=%s: %s\n", name, f.DefValue, f.Usage)
			})
		}

		fmt.Fprintf(os.Stderr, "Usage of %s:\n", os.Args[0])
		printDefaults(false)

		fmt.Fprintln(os.Stderr)
		fmt.Fprintln(os.Stderr, "rtltcp specific:")
		printDefaults(true)
	}
}

// EnvOverride sets each flag from the environment variable SYMSYNC_<NAME>
// when it is present.
func EnvOverride(fs *pflag.FlagSet) {
	fs.VisitAll(func(f *pflag.Flag) {
		envName := "SYMSYNC_" + strings.ToUpper(strings.ReplaceAll(f.Name, "-", "_"))
		flagValue := os.Getenv(envName)
		if flagValue == "" {
			return
		}

		if err := fs.Set(f.Name, flagValue); err != nil {
			log.Printf(
				"Environment variable %q failed to override flag %q with value %q: %q\n",
				envName, f.Name, flagValue, err,
			)
		} else {
			log.Printf("Environment variable %q overrides flag %q with %q\n", envName, f.Name, flagValue)
		}
	})
}

// JSON, XML and CSV all implement this interface so we can simplify symbol
// output formatting.
type Encoder interface {
	Encode(interface{}) error
}

// NewEncoder returns an encoder writing the named format to w.
func NewEncoder(format string, w io.Writer) (Encoder, error) {
	switch strings.ToLower(format) {
	case "plain":
		return PlainEncoder{w}, nil
	case "csv":
		return csv.NewEncoder(w), nil
	case "json":
		return json.NewEncoder(w), nil
	case "xml":
		return lineEncoder{xml.NewEncoder(w), w}, nil
	}
	return nil, errors.Errorf("invalid output format: %q", format)
}

type PlainEncoder struct {
	w io.Writer
}

func (pe PlainEncoder) Encode(msg interface{}) (err error) {
	_, err = fmt.Fprintln(pe.w, msg)
	return
}

// lineEncoder terminates each element with a newline.
type lineEncoder struct {
	Encoder
	w io.Writer
}

func (le lineEncoder) Encode(msg interface{}) error {
	if err := le.Encoder.Encode(msg); err != nil {
		return err
	}
	_, err := io.WriteString(le.w, "\n")
	return err
}

const TimeFormat = "2006-01-02T15:04:05.000"

// Symbol is one recovered symbol and the loop state when it was emitted.
type Symbol struct {
	Time       time.Time
	Offset     int64
	Value      float32
	Error      float32
	AvgPeriod  float32
	InstPeriod float32
	Phase      float32
}

func NewSymbol(t time.Time, value float32, diag symsync.Diagnostic) Symbol {
	return Symbol{
		Time:       t,
		Offset:     diag.Offset,
		Value:      value,
		Error:      diag.Error,
		AvgPeriod:  diag.AvgPeriod,
		InstPeriod: diag.InstPeriod,
		Phase:      diag.Phase,
	}
}

func (s Symbol) String() string {
	return fmt.Sprintf("{Time:%s Offset:%d Value:%+0.6f Error:%+0.6f AvgPeriod:%0.6f InstPeriod:%0.6f Phase:%0.6f}",
		s.Time.Format(TimeFormat), s.Offset, s.Value, s.Error, s.AvgPeriod, s.InstPeriod, s.Phase,
	)
}

func (s Symbol) Header() []string {
	return []string{"time", "offset", "value", "error", "avg_period", "inst_period", "phase"}
}

func (s Symbol) Record() []string {
	f := func(v float32) string {
		return strconv.FormatFloat(float64(v), 'f', -1, 32)
	}

	return []string{
		s.Time.Format(time.RFC3339Nano),
		strconv.FormatInt(s.Offset, 10),
		f(s.Value),
		f(s.Error),
		f(s.AvgPeriod),
		f(s.InstPeriod),
		f(s.Phase),
	}
}
