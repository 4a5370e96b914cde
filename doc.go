/*
SYMSYNC recovers symbol timing from an oversampled baseband signal read from an
rtl_tcp server, a sample file or stdin, and writes one record per recovered
symbol.

Command-line Flags:

	--samplefile=""

Sets the file to read samples from. A value of - reads from stdin. When empty,
samples are read from the rtl_tcp server given by --server and the rtltcp
specific flags are applied to it.

	--samplefmt="u8"

Sets the sample format. u8 is interleaved unsigned 8-bit IQ as produced by
rtl_tcp, the magnitude of each sample is taken. f32 is real valued
little-endian float32.

	-c, --config=""

Sets a YAML file holding the synchronizer configuration:

	loop_bandwidth: 0.045
	damping_factor: 1.0
	ted_gain: 1.0
	nominal_avg_period: 2.0
	min_avg_period: 1.98
	max_avg_period: 2.02
	detector: gardner
	inputs_per_symbol: 2
	error_depth: 3
	interpolator: cubic
	polyphase_filters: 32
	polyphase_taps: 8

Missing fields keep their defaults. The period limits default to 1% either
side of the nominal period and the detector requirements follow the detector.

	--loopbw, --damping, --tedgain, --sps, --detector, --interp

Override the corresponding configuration fields. --sps sets the nominal
period and derives its limits again.

	--blocksize=16384

Sets the number of samples read per block.

	--dcblock=0.995

Sets the pole of the DC blocker applied after conversion, 0 disables it.

	--matched=0

Sets the length of a boxcar matched filter in samples, 0 disables it. For
rectangular pulses use the nominal samples per symbol.

	-f, --format="plain"

Sets the symbol output format: plain, csv, json or xml. Each symbol is one
line. CSV output starts with a header line.

	--duration=0

Sets time to receive for, 0 for infinite.

	--metrics=""

Sets the address to serve prometheus metrics on under /metrics.

	-v, --verbose

Raises the log level to debug, twice for trace.

Every flag may also be given in the environment as SYMSYNC_<FLAG>, for example
SYMSYNC_LOOPBW=0.01. Flags given on the command line take precedence.
*/
package main
