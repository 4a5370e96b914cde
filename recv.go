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
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/bemasher/rtltcp"
	"github.com/bemasher/symsync/metrics"
	"github.com/bemasher/symsync/symsync"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
)

const (
	lockWindow    = 64
	lockThreshold = 0.05
)

type Receiver struct {
	rtltcp.SDR

	src       io.ReadCloser
	blockSize int
	timeLimit time.Duration

	fe   *Frontend
	sync *symsync.Synchronizer
	enc  Encoder

	reg    *prometheus.Registry
	rec    *metrics.Recorder
	locked bool

	out  []float32
	diag []symsync.Diagnostic

	stop chan struct{}
}

// NewReceiver builds the processing chain described by f and opens its
// sample source.
func (rcvr *Receiver) NewReceiver(f *Flags, out io.Writer) (err error) {
	cfg, err := f.Config()
	if err != nil {
		return err
	}

	if err = rcvr.setup(f, cfg, out); err != nil {
		return err
	}

	switch f.SampleFile {
	case "":
		if err = rcvr.connect(f); err != nil {
			return err
		}
	case "-":
		rcvr.src = io.NopCloser(os.Stdin)
	default:
		if rcvr.src, err = os.Open(f.SampleFile); err != nil {
			return errors.Wrap(err, "open sample file")
		}
	}

	log.Println("Source:", sourceName(f.SampleFile))
	log.Println("SampleFormat:", f.SampleFormat)
	log.Println("Frontend:", rcvr.fe)
	log.Println("BlockSize:", rcvr.blockSize)
	log.Println("TimeLimit:", rcvr.timeLimit)
	log.Println("Format:", f.Format)
	rcvr.sync.Log()

	if f.MetricsAddr != "" {
		rcvr.serveMetrics(f.MetricsAddr)
	}

	return nil
}

// setup allocates everything but the sample source.
func (rcvr *Receiver) setup(f *Flags, cfg symsync.Config, out io.Writer) (err error) {
	if f.BlockSize <= 0 {
		return errors.Errorf("block size must be > 0: %d", f.BlockSize)
	}

	if rcvr.fe, err = NewFrontend(f.SampleFormat, f.DCBlock, f.Matched); err != nil {
		return err
	}

	if rcvr.sync, err = symsync.New(cfg); err != nil {
		return err
	}

	if rcvr.enc, err = NewEncoder(f.Format, out); err != nil {
		return err
	}

	rcvr.blockSize = f.BlockSize
	rcvr.timeLimit = f.TimeLimit

	rcvr.reg = prometheus.NewRegistry()
	rcvr.rec = metrics.NewRecorder(rcvr.reg, "0", lockWindow, lockThreshold)

	// A block yields at most one symbol per input sample.
	rcvr.out = make([]float32, f.BlockSize)
	rcvr.diag = make([]symsync.Diagnostic, f.BlockSize)

	rcvr.stop = make(chan struct{}, 1)

	return nil
}

func (rcvr *Receiver) connect(f *Flags) error {
	if f.SampleFormat != "u8" {
		return errors.Errorf("rtl_tcp provides u8 samples, not %q", f.SampleFormat)
	}

	// Connect to rtl_tcp server.
	if err := rcvr.Connect(nil); err != nil {
		return errors.Wrap(err, "connect")
	}
	rcvr.src = rcvr.SDR

	if err := rcvr.HandleFlags(); err != nil {
		return errors.Wrap(err, "rtl_tcp")
	}

	gainFlagSet := false
	for _, name := range []string{"gainbyindex", "tunergainmode", "tunergain", "agcmode"} {
		gainFlagSet = gainFlagSet || f.Changed(name)
	}
	if !gainFlagSet {
		rcvr.SetGainMode(true)
	}

	log.Println("CenterFreq:", rcvr.Flags.CenterFreq)
	log.Println("SampleRate:", rcvr.Flags.SampleRate)

	// Tell the user how many gain settings were reported by rtl_tcp.
	log.Println("GainCount:", rcvr.SDR.Info.GainCount)

	return nil
}

func sourceName(filename string) string {
	switch filename {
	case "":
		return "rtl_tcp"
	case "-":
		return "stdin"
	}
	return filename
}

func (rcvr *Receiver) serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(rcvr.reg, promhttp.HandlerOpts{}))

	go func() {
		log.WithField("addr", addr).Info("serving metrics")
		if err := http.ListenAndServe(addr, mux); err != nil {
			log.WithError(err).Error("metrics server")
		}
	}()
}

func (rcvr *Receiver) Close() {
	rcvr.stop <- struct{}{}
	if rcvr.src != nil {
		rcvr.src.Close()
	}
}

// Process runs one block of raw samples through the front end and the
// synchronizer and encodes every recovered symbol.
func (rcvr *Receiver) Process(block []byte) error {
	now := time.Now()
	signal := rcvr.fe.Execute(block)

	for {
		consumed, produced, err := rcvr.sync.Work(signal, rcvr.out, rcvr.diag)
		if err != nil {
			return err
		}
		signal = signal[consumed:]

		rcvr.rec.Observe(consumed, produced, rcvr.diag[:produced], rcvr.sync.Stats())
		if locked := rcvr.rec.Locked(); locked != rcvr.locked {
			rcvr.locked = locked
			log.WithFields(log.Fields{
				"locked":     locked,
				"avg_period": rcvr.sync.Stats().AvgPeriod,
				"stddev":     rcvr.rec.StdDev(),
			}).Debug("lock state")
		}

		for idx := 0; idx < produced; idx++ {
			if err := rcvr.enc.Encode(NewSymbol(now, rcvr.out[idx], rcvr.diag[idx])); err != nil {
				return errors.Wrap(err, "encode symbol")
			}
		}

		// Work only stops short of filling the output once input runs out.
		if produced < len(rcvr.out) {
			return nil
		}
	}
}

func (rcvr *Receiver) Run() error {
	// Setup signal channel for interruption.
	sigint := make(chan os.Signal, 1)
	signal.Notify(sigint, os.Interrupt)
	defer signal.Stop(sigint)

	// Setup time limit channel
	tLimit := make(<-chan time.Time, 1)
	if rcvr.timeLimit != 0 {
		tLimit = time.After(rcvr.timeLimit)
	}

	start := time.Now()

	// Allocate a channel of blocks.
	blockCh := make(chan []byte)

	// Read and send sample blocks to the synchronizer.
	go func() {
		// Make two sample blocks, one for reading, and one for the receiver to
		// process, these are exchanged each time we read a new block.
		blockA := make([]byte, rcvr.blockSize*rcvr.fe.SampleSize())
		blockB := make([]byte, rcvr.blockSize*rcvr.fe.SampleSize())

		// When exiting this goroutine, close the block channel.
		defer close(blockCh)

		for {
			select {
			// Exit if we've been told to stop.
			case <-rcvr.stop:
				return
			default:
				// Read new sample block.
				n, err := io.ReadFull(rcvr.src, blockA)

				// On EOF, hand over what was read and exit.
				if err == io.EOF || err == io.ErrUnexpectedEOF {
					log.Debug("encountered eof: ", err)
					if n > 0 {
						blockCh <- blockA[:n]
					}
					return
				}

				// If we get a network operation error.
				if opErr, ok := err.(*net.OpError); ok {
					// If temporary, keep reading.
					if opErr.Temporary() {
						log.Printf("operr: temporary: %+v\n", opErr)
						continue
					}

					// If it's not temporary, exit.
					log.Printf("operr: %+v\n", opErr)
					return
				}

				if err != nil {
					log.WithError(err).Error("read samples")
					return
				}

				// Send the sample block.
				blockCh <- blockA

				// Exchange blocks for next read.
				blockA, blockB = blockB, blockA
			}
		}
	}()

	defer rcvr.logStats(start)

	for {
		// Exit on interrupt or time limit, otherwise receive.
		select {
		case <-sigint:
			return nil
		case <-tLimit:
			log.Println("Time Limit Reached:", time.Since(start))
			return nil
		case block, ok := <-blockCh:
			// If blockCh is closed, exit.
			if !ok {
				return nil
			}

			if err := rcvr.Process(block); err != nil {
				return err
			}
		}
	}
}

func (rcvr *Receiver) logStats(start time.Time) {
	stats := rcvr.sync.Stats()
	log.WithFields(log.Fields{
		"elapsed":     time.Since(start),
		"samples":     stats.SamplesIn,
		"symbols":     stats.SymbolsOut,
		"reverts":     stats.Reverts,
		"avg_period":  stats.AvgPeriod,
		"inst_period": stats.InstPeriod,
		"locked":      rcvr.locked,
	}).Info("done")
}
