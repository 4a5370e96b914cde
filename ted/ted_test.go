package ted

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestGardnerScenario(t *testing.T) {
	d, err := New(Gardner, 2, 3)
	require.NoError(t, err)

	assert.Equal(t, []float32{0, 0, 0}, d.History())
	assert.Equal(t, 1, d.InputClock())

	d.Input(0.5, 0)
	assert.Equal(t, 0, d.InputClock())

	h := d.History()
	assert.Equal(t, []float32{0.5, 0, 0}, h)
	assert.Equal(t, (h[2]-h[0])*h[1], d.Error())
}

func TestErrorFormulas(t *testing.T) {
	// Samples are pushed oldest first, so the window reads {c, b, a}.
	const a, b, c = 0.75, -0.25, -0.5

	for _, tc := range []struct {
		kind  Kind
		input []float32
		want  float32
	}{
		{Gardner, []float32{a, b, c}, (a - c) * b},
		{EarlyLate, []float32{a, b, c}, (c - a) * b},
		{ZeroCrossing, []float32{a, b, c}, (1 - -1) * b},
		{MuellerMuller, []float32{b, c}, -1*c - -1*b},
		{ModMuellerMuller, []float32{a, b, c}, (c-a)*-1 - (-1-1)*b},
	} {
		t.Run(tc.kind.String(), func(t *testing.T) {
			req := tc.kind.Requirements()
			d, err := New(tc.kind, req.InputsPerSymbol, req.ErrorDepth)
			require.NoError(t, err)

			// Align so the last input lands on a clock wrap.
			for len(tc.input)%req.InputsPerSymbol != (req.InputsPerSymbol-req.InitialClock)%req.InputsPerSymbol {
				tc.input = append([]float32{0}, tc.input...)
			}
			for _, x := range tc.input {
				d.Input(x, 0)
			}

			require.Equal(t, 0, d.InputClock())
			assert.InDelta(t, tc.want, d.Error(), 1e-7)
		})
	}
}

func TestSlopeDetectors(t *testing.T) {
	for _, tc := range []struct {
		kind Kind
		want float32
	}{
		{SignalTimesSlopeML, -0.5 * 0.25},
		{SignumTimesSlopeML, -1 * 0.25},
	} {
		t.Run(tc.kind.String(), func(t *testing.T) {
			d, err := New(tc.kind, 1, 1)
			require.NoError(t, err)
			assert.True(t, d.NeedsDerivative())

			d.Input(-0.5, 0.25)
			assert.InDelta(t, tc.want, d.Error(), 1e-7)
		})
	}
}

func TestNewRejects(t *testing.T) {
	for _, tc := range []struct {
		name            string
		kind            Kind
		inputsPerSymbol int
		errorDepth      int
	}{
		{"gardner one input", Gardner, 1, 3},
		{"gardner short window", Gardner, 2, 2},
		{"mueller muller two inputs", MuellerMuller, 2, 2},
		{"slope zero depth", SignalTimesSlopeML, 1, 0},
		{"unknown kind", Kind(42), 2, 3},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := New(tc.kind, tc.inputsPerSymbol, tc.errorDepth)
			require.Error(t, err)
			assert.Equal(t, ErrUnsupported, errors.Cause(err))
		})
	}
}

func TestParseKind(t *testing.T) {
	for _, k := range Kinds() {
		parsed, err := ParseKind(k.String())
		require.NoError(t, err)
		assert.Equal(t, k, parsed)
	}

	k, err := ParseKind(" Early_Late ")
	require.NoError(t, err)
	assert.Equal(t, EarlyLate, k)

	_, err = ParseKind("costas")
	assert.Equal(t, ErrUnsupported, errors.Cause(err))

	assert.Equal(t, "Kind(42)", Kind(42).String())
}

func TestLookahead(t *testing.T) {
	for _, k := range Kinds() {
		req := k.Requirements()
		d, err := New(k, req.InputsPerSymbol, req.ErrorDepth)
		require.NoError(t, err)

		assert.False(t, d.NeedsLookahead())
		assert.Equal(t, ErrLookahead, errors.Cause(d.InputLookahead(1, 0)))
	}
}

func TestStrobe(t *testing.T) {
	g, err := New(Gardner, 2, 3)
	require.NoError(t, err)
	el, err := New(EarlyLate, 2, 3)
	require.NoError(t, err)

	var gStrobes, elStrobes []float32
	for _, x := range []float32{1, 2, 3, 4, 5, 6} {
		g.Input(x, 0)
		if g.InputClock() == 0 {
			gStrobes = append(gStrobes, g.Strobe())
		}
		el.Input(x, 0)
		if el.InputClock() == 0 {
			elStrobes = append(elStrobes, el.Strobe())
		}
	}

	assert.Equal(t, []float32{1, 3, 5}, gStrobes)
	assert.Equal(t, []float32{1, 3, 5}, elStrobes)
}

func TestRevertRestoresError(t *testing.T) {
	d, err := New(Gardner, 2, 3)
	require.NoError(t, err)

	for _, x := range []float32{1, -1, 1} {
		d.Input(x, 0)
	}
	before := d.Error()

	d.Input(0.5, 0)
	d.Input(-0.5, 0)
	require.Equal(t, 0, d.InputClock())
	require.NotEqual(t, before, d.Error())

	d.Revert(false)
	assert.Equal(t, before, d.Error())
	assert.Equal(t, 1, d.InputClock())
}

func TestSyncReset(t *testing.T) {
	d, err := New(EarlyLate, 2, 4)
	require.NoError(t, err)

	for _, x := range []float32{1, -1, 1, -1, 1} {
		d.Input(x, 0)
	}
	d.SyncReset()

	assert.Equal(t, []float32{0, 0, 0, 0}, d.History())
	assert.Equal(t, 0, d.InputClock())
	assert.Equal(t, float32(0), d.Error())
}

func drawDetector(t *rapid.T) *Detector {
	k := rapid.SampledFrom(Kinds()).Draw(t, "kind")
	req := k.Requirements()
	depth := req.ErrorDepth + rapid.IntRange(0, 3).Draw(t, "extra")

	d, err := New(k, req.InputsPerSymbol, depth)
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	samples := rapid.SliceOfN(rapid.Float32Range(-2, 2), 0, 16).Draw(t, "warmup")
	for _, x := range samples {
		d.Input(x, x/2)
	}

	return d
}

func TestPropertyInputRevert(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		d := drawDetector(t)

		history, clock := d.History(), d.InputClock()
		derivs := append([]float32(nil), d.derivs...)

		x := rapid.Float32Range(-2, 2).Draw(t, "x")
		d.Input(x, -x)
		errAfter := d.Error()
		d.Revert(true)

		if d.InputClock() != clock {
			t.Fatalf("clock %d, want %d", d.InputClock(), clock)
		}
		for idx := range history {
			if d.history[idx] != history[idx] {
				t.Fatalf("history %v, want %v", d.history, history)
			}
		}
		for idx := range derivs {
			if d.derivs[idx] != derivs[idx] {
				t.Fatalf("derivs %v, want %v", d.derivs, derivs)
			}
		}
		if d.Error() != errAfter {
			t.Fatalf("error changed on preserving revert: %v != %v", d.Error(), errAfter)
		}
	})
}

func TestPropertyErrorOncePerSymbol(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		d := drawDetector(t)
		samples := rapid.SliceOfN(rapid.Float32Range(-2, 2), d.InputsPerSymbol(), d.InputsPerSymbol()).Draw(t, "symbol")

		changes := 0
		last := d.Error()
		for _, x := range samples {
			d.Input(x, x)
			if d.Error() != last {
				changes++
				if d.InputClock() != 0 {
					t.Fatalf("error changed mid-symbol at clock %d", d.InputClock())
				}
			}
			last = d.Error()
		}

		if changes > 1 {
			t.Fatalf("error changed %d times in one symbol", changes)
		}
	})
}

func BenchmarkGardner(b *testing.B) {
	d, err := New(Gardner, 2, 3)
	if err != nil {
		b.Fatal(err)
	}

	b.ReportAllocs()
	b.ResetTimer()
	for n := 0; n < b.N; n++ {
		d.Input(float32(n&1)-0.5, 0)
	}
}
