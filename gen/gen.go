// Package gen renders symbol sequences into oversampled test signals.
package gen

import (
	"fmt"
	"math"
	"math/rand"
)

// RandBits returns n pseudo-random bits, one per byte, from the given seed.
func RandBits(n int, seed int64) []byte {
	r := rand.New(rand.NewSource(seed))

	bits := make([]byte, n)
	for idx := range bits {
		bits[idx] = byte(r.Intn(2))
	}

	return bits
}

// NRZ maps bits to antipodal symbols: 0 to -1 and 1 to +1.
func NRZ(bits []byte) []float32 {
	symbols := make([]float32, len(bits))
	for idx, b := range bits {
		symbols[idx] = float32(b&0x01)*2 - 1
	}
	return symbols
}

// Alternating returns n symbols alternating between +1 and -1.
func Alternating(n int) []float32 {
	symbols := make([]float32, n)
	for idx := range symbols {
		symbols[idx] = 1 - float32(idx&0x01)*2
	}
	return symbols
}

// ManchesterLUT maps a nibble to the byte of chips encoding it, each bit
// becoming the chip pair 01 for zero and 10 for one.
type ManchesterLUT [16]byte

func NewManchesterLUT() (lut ManchesterLUT) {
	for nibble := range lut {
		var chips byte
		for bit := 3; bit >= 0; bit-- {
			chips <<= 2
			if nibble>>uint(bit)&0x01 == 1 {
				chips |= 0x02
			} else {
				chips |= 0x01
			}
		}
		lut[nibble] = chips
	}
	return
}

// Encode expands each byte into two bytes of Manchester chips, most
// significant nibble first.
func (lut ManchesterLUT) Encode(data []byte) []byte {
	chips := make([]byte, 0, len(data)*2)
	for _, b := range data {
		chips = append(chips, lut[b>>4], lut[b&0x0F])
	}
	return chips
}

// UnpackBits expands bytes into bits, most significant first.
func UnpackBits(data []byte) []byte {
	bits := make([]byte, 0, len(data)*8)
	for _, b := range data {
		for mask := byte(0x80); mask != 0; mask >>= 1 {
			if b&mask != 0 {
				bits = append(bits, 1)
			} else {
				bits = append(bits, 0)
			}
		}
	}
	return bits
}

// Upsample repeats each symbol factor times.
func Upsample(symbols []float32, factor int) []float32 {
	signal := make([]float32, len(symbols)*factor)

	for idx, s := range symbols {
		offset := idx * factor
		for i := 0; i < factor; i++ {
			signal[offset+i] = s
		}
	}

	return signal
}

// Shape is the pulse used to render a symbol.
type Shape int

const (
	// Rectangular pulses hold each symbol for one symbol period.
	Rectangular Shape = iota

	// Triangular pulses interpolate linearly between symbol centres.
	Triangular

	// RaisedCosine pulses are cos² over two symbol periods, so transitions
	// between symbol centres are smooth and the pulses sum to one.
	RaisedCosine
)

func (s Shape) String() string {
	switch s {
	case Rectangular:
		return "rectangular"
	case Triangular:
		return "triangular"
	case RaisedCosine:
		return "raised_cosine"
	}
	return fmt.Sprintf("Shape(%d)", int(s))
}

// pulse evaluates the shape at t symbols from its centre.
func (s Shape) pulse(t float64) float64 {
	switch s {
	case Rectangular:
		if t >= -0.5 && t < 0.5 {
			return 1
		}
	case Triangular:
		if t = math.Abs(t); t < 1 {
			return 1 - t
		}
	case RaisedCosine:
		if math.Abs(t) < 1 {
			c := math.Cos(math.Pi * t / 2)
			return c * c
		}
	}
	return 0
}

// PulseTrain renders symbols at sps samples per symbol. Symbol k is centred on
// sample offset+k*sps, so sps need not be an integer.
func PulseTrain(symbols []float32, sps, offset float64, shape Shape) []float32 {
	n := int(math.Ceil(float64(len(symbols))*sps + offset))
	if n < 0 {
		n = 0
	}

	signal := make([]float32, n)
	for idx := range signal {
		t := (float64(idx) - offset) / sps
		base := int(math.Floor(t))

		var v float64
		for k := base - 1; k <= base+1; k++ {
			if k < 0 || k >= len(symbols) {
				continue
			}
			v += float64(symbols[k]) * shape.pulse(t-float64(k))
		}
		signal[idx] = float32(v)
	}

	return signal
}

func CmplxOscillatorF64(samples int, freq float64, samplerate float64) []float64 {
	signal := make([]float64, samples<<1)

	for idx := 0; idx < len(signal); idx += 2 {
		signal[idx], signal[idx+1] = math.Sincos(2 * math.Pi * float64(idx>>1) * freq / samplerate)
	}

	return signal
}

func F64toU8(f64 []float64, u8 []byte) {
	if len(f64) != len(u8) {
		panic(fmt.Errorf("arrays must have same dimensions: %d != %d", len(f64), len(u8)))
	}

	for idx, val := range f64 {
		u8[idx] = uint8(val*127.5 + 127.5)
	}
}

// RealToIQU8 amplitude modulates a complex carrier at freq with samples,
// mapping [-1, 1] onto magnitudes [0, 1], and quantizes the result to
// interleaved unsigned 8-bit IQ as produced by an rtl-sdr.
func RealToIQU8(samples []float32, freq, samplerate float64) []byte {
	carrier := CmplxOscillatorF64(len(samples), freq, samplerate)
	for idx := range carrier {
		a := (float64(samples[idx>>1]) + 1) / 2
		carrier[idx] *= math.Max(0, math.Min(1, a))
	}

	iq := make([]byte, len(carrier))
	F64toU8(carrier, iq)

	return iq
}
