// Package csv writes recovered symbols as CSV records.
package csv

import (
	"encoding/csv"
	"io"

	"golang.org/x/xerrors"
)

// Produces a list of fields making up a record.
type Recorder interface {
	Record() []string
}

// Headerer is implemented by records that can name their fields.
type Headerer interface {
	Header() []string
}

// An Encoder writes CSV records to an output stream. The first record is
// preceded by a header line when the value also implements Headerer.
type Encoder struct {
	w      *csv.Writer
	header bool
}

// NewEncoder returns a new encoder that writes to w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: csv.NewWriter(w)}
}

// NewEncoderNoHeader returns an encoder that never writes a header line.
func NewEncoderNoHeader(w io.Writer) *Encoder {
	return &Encoder{w: csv.NewWriter(w), header: true}
}

// Encode writes a CSV record representing v to the stream followed by a
// newline character. Value given must implement the Recorder interface.
func (enc *Encoder) Encode(v interface{}) (err error) {
	defer func() {
		if r, _ := recover().(error); r != nil {
			err = xerrors.Errorf("recovered: %w", r)
		}
	}()

	rec := v.(Recorder)

	if !enc.header {
		enc.header = true
		if h, ok := v.(Headerer); ok {
			if err := enc.w.Write(h.Header()); err != nil {
				return xerrors.Errorf("write header: %w", err)
			}
		}
	}

	if err := enc.w.Write(rec.Record()); err != nil {
		return xerrors.Errorf("write record: %w", err)
	}
	enc.w.Flush()

	return enc.w.Error()
}
