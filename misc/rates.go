// Lists rtl-sdr sample rates giving a whole number of samples per symbol for
// a symbol rate, with the values to pass as --samplerate and --sps.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"
)

const (
	// Valid sample rates fall in one of two bands:
	// http://cgit.osmocom.org/rtl-sdr/tree/src/librtlsdr.c#n1069
	LowerMin = 225e3
	LowerMax = 300e3
	UpperMin = 900e3
	UpperMax = 3.2e6
)

type Mode struct {
	SymbolLength int
	SampleRate   float64
	Channels     int
	Excess       float64
}

func (m Mode) String() string {
	return fmt.Sprintf("SymbolLength:%d SampleRate:%.0f Channels:%d ExcessBandwidth:%.0f",
		m.SymbolLength, m.SampleRate, m.Channels, m.Excess,
	)
}

func ValidSampleRate(rate float64) bool {
	return (LowerMin < rate && rate <= LowerMax) || (UpperMin < rate && rate <= UpperMax)
}

// Modes returns every symbol length of at least minLength samples whose
// sample rate the dongle supports. A channelWidth of zero counts the whole
// band as one channel.
func Modes(symbolRate, channelWidth float64, minLength int) (modes []Mode) {
	if symbolRate <= 0 {
		return nil
	}
	if minLength < 1 {
		minLength = 1
	}

	for symbolLength := minLength; float64(symbolLength)*symbolRate <= UpperMax; symbolLength++ {
		sampleRate := float64(symbolLength) * symbolRate
		if !ValidSampleRate(sampleRate) {
			continue
		}

		m := Mode{SymbolLength: symbolLength, SampleRate: sampleRate, Channels: 1}
		if channelWidth > 0 {
			m.Channels = int(sampleRate / channelWidth)
			m.Excess = sampleRate - float64(m.Channels)*channelWidth
		}
		modes = append(modes, m)
	}

	return modes
}

func main() {
	symbolRate := pflag.Float64("symbolrate", 32768, "symbol rate in symbols per second")
	channelWidth := pflag.Float64("channelwidth", 0, "channel width in Hz, 0 to ignore")
	minLength := pflag.Int("minlength", 2, "minimum samples per symbol")
	pflag.Parse()

	modes := Modes(*symbolRate, *channelWidth, *minLength)
	if len(modes) == 0 {
		fmt.Fprintln(os.Stderr, "no supported sample rate for symbol rate", *symbolRate)
		os.Exit(1)
	}

	for _, m := range modes {
		fmt.Println(m)
	}
}
