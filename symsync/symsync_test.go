package symsync

import (
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/bemasher/symsync/gen"
	"github.com/bemasher/symsync/ted"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// run feeds in to s in chunks of chunk samples with an output buffer of size
// outSize, until all input is consumed and no further symbol is pending.
func run(t require.TestingT, s *Synchronizer, in []float32, chunk, outSize int) (out []float32, diag []Diagnostic) {
	buf := make([]float32, outSize)
	dbuf := make([]Diagnostic, outSize)

	pos := 0
	for {
		end := pos + chunk
		if end > len(in) {
			end = len(in)
		}

		consumed, produced, err := s.Work(in[pos:end], buf, dbuf)
		require.NoError(t, err)

		pos += consumed
		out = append(out, buf[:produced]...)
		diag = append(diag, dbuf[:produced]...)

		if pos == len(in) && produced < outSize {
			return
		}
	}
}

func newDefault(t require.TestingT, mutate func(*Config)) *Synchronizer {
	cfg := Default()
	if mutate != nil {
		mutate(&cfg)
	}

	s, err := New(cfg)
	require.NoError(t, err)

	return s
}

func TestPeriodicNominal(t *testing.T) {
	for _, name := range []string{"linear", "cubic", "polyphase"} {
		t.Run(name, func(t *testing.T) {
			s := newDefault(t, func(c *Config) { c.Interpolator = name })

			in := gen.Alternating(1000)
			out, diag := run(t, s, in, 7, 64)

			delay := s.Interpolator().Delay()
			require.Len(t, out, (len(in)-delay+1)/2)

			for idx, v := range out {
				assert.InDelta(t, 1, v, 1e-6, "symbol %d", idx)
				assert.Equal(t, float32(0), diag[idx].Error)
				assert.Equal(t, float32(2), diag[idx].AvgPeriod)
			}

			stats := s.Stats()
			assert.EqualValues(t, len(in), stats.SamplesIn)
			assert.EqualValues(t, len(out), stats.SymbolsOut)
			assert.Equal(t, float32(2), stats.AvgPeriod)
			assert.Equal(t, float32(0), stats.Phase)
		})
	}
}

func TestPropertyOneOutputPerSymbol(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		a := rapid.Float32Range(-1, 1).Draw(t, "a")
		b := rapid.Float32Range(-1, 1).Draw(t, "b")
		n := rapid.IntRange(4, 400).Draw(t, "n")

		in := make([]float32, n)
		for idx := range in {
			in[idx] = a
			if idx&1 == 1 {
				in[idx] = b
			}
		}

		s, err := New(Default())
		if err != nil {
			t.Fatal(err)
		}

		out, _ := run(t, s, in, rapid.IntRange(1, 16).Draw(t, "chunk"), rapid.IntRange(1, 8).Draw(t, "out"))

		if want := (n - 1) / 2; len(out) != want {
			t.Fatalf("got %d symbols from %d samples, want %d", len(out), n, want)
		}
		for idx, v := range out {
			if v != a {
				t.Fatalf("symbol %d: got %v want %v", idx, v, a)
			}
		}
	})
}

func TestConvergence(t *testing.T) {
	const actual = 4.03

	s := newDefault(t, func(c *Config) {
		c.NominalAvgPeriod = 4
		c.MinAvgPeriod = 3.9
		c.MaxAvgPeriod = 4.1
	})

	symbols := gen.NRZ(gen.RandBits(4000, 1))
	in := gen.PulseTrain(symbols, actual, 1.7, gen.RaisedCosine)

	out, diag := run(t, s, in, 4096, 4096)
	require.Greater(t, len(out), 3900)

	var sum float64
	tail := diag[len(diag)-500:]
	for _, d := range tail {
		sum += float64(d.AvgPeriod)
	}
	assert.InDelta(t, actual, sum/float64(len(tail)), 0.01)

	var good int
	for _, v := range out[len(out)-1000:] {
		if math.Abs(float64(v)) > 0.7 {
			good++
		}
	}
	assert.GreaterOrEqual(t, good, 950)
}

func TestConvergenceManchester(t *testing.T) {
	const actual = 4.03

	s := newDefault(t, func(c *Config) {
		c.NominalAvgPeriod = 4
		c.MinAvgPeriod = 3.9
		c.MaxAvgPeriod = 4.1
	})

	data := make([]byte, 250)
	rand.New(rand.NewSource(3)).Read(data)

	chips := gen.UnpackBits(gen.NewManchesterLUT().Encode(data))
	in := gen.PulseTrain(gen.NRZ(chips), actual, 0.4, gen.RaisedCosine)

	out, diag := run(t, s, in, 1024, 256)
	require.Greater(t, len(out), len(chips)-100)

	var sum float64
	tail := diag[len(diag)-500:]
	for _, d := range tail {
		sum += float64(d.AvgPeriod)
	}
	assert.InDelta(t, actual, sum/float64(len(tail)), 0.01)

	// Every Manchester bit is a pair of opposite chips. Only one pairing of
	// the recovered chips lines up with the bit boundaries.
	recent := out[len(out)-1000:]
	var best int
	for parity := 0; parity < 2; parity++ {
		var opposite int
		for idx := parity; idx+1 < len(recent); idx += 2 {
			if (recent[idx] > 0) != (recent[idx+1] > 0) {
				opposite++
			}
		}
		if opposite > best {
			best = opposite
		}
	}
	assert.GreaterOrEqual(t, best, 480)
}

// An input far beyond the detector's expected scale drives the period to
// values the loop cannot step through. Work must latch a fault and return.
func TestLargeAmplitudeFault(t *testing.T) {
	for _, amplitude := range []float32{3e4, -3e4, 1e20} {
		s := newDefault(t, nil)

		in := make([]float32, 64)
		for idx := range in {
			in[idx] = amplitude
			if idx&2 == 0 {
				in[idx] = -amplitude
			}
		}

		done := make(chan error, 1)
		go func() {
			_, _, err := s.Work(in, make([]float32, len(in)), nil)
			done <- err
		}()

		select {
		case err := <-done:
			assert.Equal(t, ErrNumericFault, errors.Cause(err), "amplitude %v", amplitude)
			assert.Equal(t, ErrNumericFault, errors.Cause(s.Fault()))
		case <-time.After(5 * time.Second):
			t.Fatalf("amplitude %v: Work did not return", amplitude)
		}
	}

	// Moderate amplitudes keep working.
	s := newDefault(t, nil)
	_, _, err := s.Work(gen.Upsample(gen.NRZ(gen.RandBits(64, 5)), 2), make([]float32, 64), nil)
	assert.NoError(t, err)
}

func TestPropertySuspendResume(t *testing.T) {
	symbols := gen.NRZ(gen.RandBits(300, 3))
	in := gen.PulseTrain(symbols, 4.02, 0.3, gen.RaisedCosine)

	cfg := Default()
	cfg.NominalAvgPeriod = 4
	cfg.MinAvgPeriod, cfg.MaxAvgPeriod = 3.96, 4.04

	ref, err := New(cfg)
	require.NoError(t, err)
	want, wantDiag := run(t, ref, in, len(in), len(in))

	rapid.Check(t, func(t *rapid.T) {
		s, err := New(cfg)
		if err != nil {
			t.Fatal(err)
		}

		var got []float32
		var gotDiag []Diagnostic

		// An empty output buffer must not lose the pending symbol.
		consumed, produced, err := s.Work(in, nil, nil)
		if err != nil || produced != 0 {
			t.Fatalf("empty output: produced %d, err %v", produced, err)
		}
		pos := consumed

		for {
			chunk := rapid.IntRange(1, 64).Draw(t, "chunk")
			size := rapid.IntRange(1, 3).Draw(t, "size")

			end := pos + chunk
			if end > len(in) {
				end = len(in)
			}

			out := make([]float32, size)
			diag := make([]Diagnostic, size)
			consumed, produced, err := s.Work(in[pos:end], out, diag)
			if err != nil {
				t.Fatal(err)
			}

			pos += consumed
			got = append(got, out[:produced]...)
			gotDiag = append(gotDiag, diag[:produced]...)

			if pos == len(in) && produced < size {
				break
			}
		}

		if len(got) != len(want) {
			t.Fatalf("got %d symbols, want %d", len(got), len(want))
		}
		for idx := range want {
			if got[idx] != want[idx] || gotDiag[idx] != wantDiag[idx] {
				t.Fatalf("symbol %d: got %v %v, want %v %v", idx, got[idx], gotDiag[idx], want[idx], wantDiag[idx])
			}
		}
		if s.Stats().Reverts == 0 {
			t.Fatalf("no reverts with output buffers of at most 3")
		}
	})
}

func TestDetectorKinds(t *testing.T) {
	symbols := gen.NRZ(gen.RandBits(1000, 5))

	for _, kind := range ted.Kinds() {
		t.Run(kind.String(), func(t *testing.T) {
			req := kind.Requirements()
			period := float32(req.InputsPerSymbol * 2)

			s := newDefault(t, func(c *Config) {
				c.Detector = kind.String()
				c.InputsPerSymbol, c.ErrorDepth = 0, 0
				c.NominalAvgPeriod = period
				c.MinAvgPeriod, c.MaxAvgPeriod = 0, 0
			})
			assert.Equal(t, req.NeedsDerivative, s.Detector().NeedsDerivative())

			in := gen.PulseTrain(symbols, float64(period), 0, gen.RaisedCosine)
			out, _ := run(t, s, in, 512, 512)

			assert.InDelta(t, len(symbols), len(out), float64(len(symbols))/20)
			assert.NoError(t, s.Fault())
		})
	}
}

func TestNumericFault(t *testing.T) {
	s := newDefault(t, nil)

	in := []float32{float32(math.NaN()), 1, -1, 1, -1, 1}
	out := make([]float32, 8)

	_, _, err := s.Work(in, out, nil)
	require.Error(t, err)
	assert.Equal(t, ErrNumericFault, errors.Cause(err))

	consumed, produced, err := s.Work([]float32{1, 1}, out, nil)
	assert.Equal(t, ErrNumericFault, errors.Cause(err))
	assert.Zero(t, consumed)
	assert.Zero(t, produced)

	s.Reset()
	assert.NoError(t, s.Fault())
	_, produced, err = s.Work([]float32{1, -1, 1, -1, 1, -1}, out, nil)
	assert.NoError(t, err)
	assert.Equal(t, 2, produced)
}

func TestShortDiagnostics(t *testing.T) {
	s := newDefault(t, nil)

	_, _, err := s.Work([]float32{1, 2, 3}, make([]float32, 4), make([]Diagnostic, 2))
	assert.Error(t, err)
}

func TestReset(t *testing.T) {
	s := newDefault(t, nil)
	in := gen.PulseTrain(gen.NRZ(gen.RandBits(200, 9)), 2.01, 0.4, gen.Triangular)

	first, _ := run(t, s, in, 100, 100)
	s.Reset()
	assert.Zero(t, s.Stats().SamplesIn)

	second, _ := run(t, s, in, 33, 5)
	assert.Equal(t, first, second)
}

func TestParallelInstances(t *testing.T) {
	in := gen.PulseTrain(gen.NRZ(gen.RandBits(2000, 11)), 2.01, 0.25, gen.RaisedCosine)

	ref, _ := run(t, newDefault(t, nil), in, 256, 256)

	const instances = 8
	results := make([][]float32, instances)

	var wg sync.WaitGroup
	for i := 0; i < instances; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()

			s, err := New(Default())
			if err != nil {
				return
			}

			out := make([]float32, 256)
			pos := 0
			for {
				consumed, produced, err := s.Work(in[pos:], out, nil)
				if err != nil {
					return
				}
				pos += consumed
				results[i] = append(results[i], out[:produced]...)
				if pos == len(in) && produced < len(out) {
					return
				}
			}
		}(i)
	}
	wg.Wait()

	for i, r := range results {
		assert.Equal(t, ref, r, "instance %d", i)
	}
}

func TestValidate(t *testing.T) {
	for _, tc := range []struct {
		name   string
		mutate func(*Config)
	}{
		{"negative bandwidth", func(c *Config) { c.LoopBandwidth = -0.1 }},
		{"nan bandwidth", func(c *Config) { c.LoopBandwidth = float32(math.NaN()) }},
		{"inf bandwidth", func(c *Config) { c.LoopBandwidth = float32(math.Inf(1)) }},
		{"nan damping", func(c *Config) { c.DampingFactor = float32(math.NaN()) }},
		{"inf ted gain", func(c *Config) { c.TEDGain = float32(math.Inf(1)) }},
		{"nan nominal period", func(c *Config) { c.NominalAvgPeriod = float32(math.NaN()) }},
		{"inf max period", func(c *Config) { c.MaxAvgPeriod = float32(math.Inf(1)) }},
		{"zero damping", func(c *Config) { c.DampingFactor = 0 }},
		{"negative damping", func(c *Config) { c.DampingFactor = -1 }},
		{"zero ted gain", func(c *Config) { c.TEDGain = 0 }},
		{"inverted limits", func(c *Config) { c.MinAvgPeriod, c.MaxAvgPeriod = 2.1, 1.9 }},
		{"min below one sample", func(c *Config) { c.MinAvgPeriod = 0.5 }},
		{"unknown detector", func(c *Config) { c.Detector = "costas" }},
		{"wrong inputs per symbol", func(c *Config) { c.InputsPerSymbol = 4 }},
		{"short error depth", func(c *Config) { c.ErrorDepth = 2 }},
		{"unknown interpolator", func(c *Config) { c.Interpolator = "sinc" }},
		{"odd polyphase taps", func(c *Config) { c.Interpolator, c.PolyphaseTaps = "polyphase", 7 }},
	} {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(&cfg)

			assert.Equal(t, ErrConfig, errors.Cause(cfg.Validate()))

			_, err := New(cfg)
			assert.Equal(t, ErrConfig, errors.Cause(err))
		})
	}

	assert.NoError(t, Default().Validate())

	cfg := Default()
	cfg.ErrorDepth = 5
	assert.NoError(t, cfg.Validate())
}

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte("detector: mueller_muller\nnominal_avg_period: 4\ninterpolator: linear\nloop_bandwidth: 0.01\n"))
	require.NoError(t, err)

	assert.Equal(t, "mueller_muller", cfg.Detector)
	assert.Equal(t, 1, cfg.InputsPerSymbol)
	assert.Equal(t, 2, cfg.ErrorDepth)
	assert.Equal(t, float32(4*0.99), cfg.MinAvgPeriod)
	assert.Equal(t, float32(4*1.01), cfg.MaxAvgPeriod)
	assert.Equal(t, float32(0.01), cfg.LoopBandwidth)
	assert.Equal(t, float32(1.0), cfg.DampingFactor)

	s, err := New(cfg)
	require.NoError(t, err)
	assert.Equal(t, ted.MuellerMuller, s.Detector().Kind())

	cfg, err = Parse([]byte("detector: mueller_muller\ninputs_per_symbol: 2\n"))
	require.NoError(t, err)
	assert.Equal(t, ErrConfig, errors.Cause(cfg.Validate()))

	_, err = Parse([]byte("loop_bandwidth: [1, 2]\n"))
	assert.Error(t, err)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "symsync.yaml")
	require.NoError(t, os.WriteFile(path, []byte("interpolator: polyphase\npolyphase_taps: 12\n"), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "polyphase", cfg.Interpolator)
	assert.Equal(t, 12, cfg.PolyphaseTaps)
	assert.Equal(t, 32, cfg.PolyphaseFilters)

	s, err := New(cfg)
	require.NoError(t, err)
	assert.Equal(t, 6, s.Interpolator().Delay())

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
