// Package recording accumulates labelled motion rows for export and hands
// finished recordings to a storage sink.
package recording

import (
	"strings"

	"github.com/loqalabs/loqa-gesture/internal/protocol"
)

// Accumulator is an append-only CSV buffer. It never validates rows.
type Accumulator struct {
	buf  strings.Builder
	rows int
}

func NewAccumulator() *Accumulator {
	a := &Accumulator{}
	a.Reset()
	return a
}

func (a *Accumulator) Append(row protocol.SampleRow) {
	a.buf.WriteString(row.String())
	a.buf.WriteByte('\n')
	a.rows++
}

// AppendRaw appends raw wire text followed by the label as-is.
func (a *Accumulator) AppendRaw(raw, label string) {
	a.buf.WriteString(raw)
	a.buf.WriteByte(',')
	a.buf.WriteString(label)
	a.buf.WriteByte('\n')
	a.rows++
}

// Reset truncates the buffer back to the header line.
func (a *Accumulator) Reset() {
	a.buf.Reset()
	a.buf.WriteString(protocol.CSVHeader)
	a.buf.WriteByte('\n')
	a.rows = 0
}

func (a *Accumulator) Export() string { return a.buf.String() }

func (a *Accumulator) Rows() int { return a.rows }
