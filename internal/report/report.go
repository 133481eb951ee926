// Package report turns parity results into Arrow record batches, written
// as IPC streams or pushed to a Longbow server over Flight.
package report

import (
	"errors"
	"fmt"
	"io"
	"math"
	"sort"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/23skdu/longbow-parity/internal/harness"
)

// Schema is the layout of every report batch.
var Schema = arrow.NewSchema(
	[]arrow.Field{
		{Name: "run", Type: arrow.PrimitiveTypes.Int32},
		{Name: "case", Type: arrow.BinaryTypes.String},
		{Name: "module", Type: arrow.BinaryTypes.String},
		{Name: "device", Type: arrow.BinaryTypes.String},
		{Name: "outcome", Type: arrow.BinaryTypes.String},
		{Name: "message", Type: arrow.BinaryTypes.String, Nullable: true},
		{Name: "max_abs_diff", Type: arrow.PrimitiveTypes.Float64, Nullable: true},
		{Name: "duration", Type: arrow.FixedWidthTypes.Duration_us},
	},
	nil,
)

// Row is one decoded report row.
type Row struct {
	Run        int32         `cbor:"run"`
	Case       string        `cbor:"case"`
	Module     string        `cbor:"module"`
	Device     string        `cbor:"device"`
	Outcome    string        `cbor:"outcome"`
	Message    string        `cbor:"message,omitempty"`
	MaxAbsDiff *float64      `cbor:"max_abs_diff,omitempty"`
	Duration   time.Duration `cbor:"duration"`
}

// FromResults converts harness results of one run into rows.
func FromResults(run int, results []harness.Result) []Row {
	rows := make([]Row, len(results))
	for i, r := range results {
		rows[i] = Row{
			Run:      int32(run),
			Case:     r.Case,
			Module:   r.Module,
			Device:   r.Device,
			Outcome:  r.Outcome.String(),
			Message:  r.Message,
			Duration: r.Duration,
		}
		if d := r.MaxAbsDiff; !math.IsNaN(d) {
			rows[i].MaxAbsDiff = &d
		}
	}
	return rows
}

// Build converts rows into a record batch. It returns nil for no rows.
func Build(mem memory.Allocator, rows []Row) arrow.RecordBatch {
	if len(rows) == 0 {
		return nil
	}
	b := array.NewRecordBuilder(mem, Schema)
	defer b.Release()

	run := b.Field(0).(*array.Int32Builder)
	name := b.Field(1).(*array.StringBuilder)
	module := b.Field(2).(*array.StringBuilder)
	dev := b.Field(3).(*array.StringBuilder)
	outcome := b.Field(4).(*array.StringBuilder)
	msg := b.Field(5).(*array.StringBuilder)
	diff := b.Field(6).(*array.Float64Builder)
	dur := b.Field(7).(*array.DurationBuilder)

	for _, r := range rows {
		run.Append(r.Run)
		name.Append(r.Case)
		module.Append(r.Module)
		dev.Append(r.Device)
		outcome.Append(r.Outcome)
		if r.Message == "" {
			msg.AppendNull()
		} else {
			msg.Append(r.Message)
		}
		if r.MaxAbsDiff == nil {
			diff.AppendNull()
		} else {
			diff.Append(*r.MaxAbsDiff)
		}
		dur.Append(arrow.Duration(r.Duration.Microseconds()))
	}
	return b.NewRecord()
}

// Rows decodes a record batch with the report schema.
func Rows(rec arrow.RecordBatch) ([]Row, error) {
	if !rec.Schema().Equal(Schema) {
		return nil, fmt.Errorf("report: unexpected schema %s", rec.Schema())
	}
	run := rec.Column(0).(*array.Int32)
	name := rec.Column(1).(*array.String)
	module := rec.Column(2).(*array.String)
	dev := rec.Column(3).(*array.String)
	outcome := rec.Column(4).(*array.String)
	msg := rec.Column(5).(*array.String)
	diff := rec.Column(6).(*array.Float64)
	dur := rec.Column(7).(*array.Duration)

	rows := make([]Row, rec.NumRows())
	for i := range rows {
		rows[i] = Row{
			Run:      run.Value(i),
			Case:     name.Value(i),
			Module:   module.Value(i),
			Device:   dev.Value(i),
			Outcome:  outcome.Value(i),
			Duration: time.Duration(dur.Value(i)) * time.Microsecond,
		}
		if msg.IsValid(i) {
			rows[i].Message = msg.Value(i)
		}
		if diff.IsValid(i) {
			d := diff.Value(i)
			rows[i].MaxAbsDiff = &d
		}
	}
	return rows, nil
}

// WriteIPC writes rec as an Arrow IPC stream.
func WriteIPC(w io.Writer, rec arrow.RecordBatch) error {
	writer := ipc.NewWriter(w, ipc.WithSchema(rec.Schema()))
	if err := writer.Write(rec); err != nil {
		_ = writer.Close()
		return err
	}
	return writer.Close()
}

// ReadIPC reads every batch of an IPC stream written by WriteIPC.
func ReadIPC(r io.Reader, mem memory.Allocator) ([]Row, error) {
	reader, err := ipc.NewReader(r, ipc.WithAllocator(mem))
	if err != nil {
		return nil, err
	}
	defer reader.Release()

	var rows []Row
	for reader.Next() {
		batch, err := Rows(reader.Record())
		if err != nil {
			return nil, err
		}
		rows = append(rows, batch...)
	}
	if err := reader.Err(); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return rows, nil
}

// Summary counts rows by outcome.
type Summary struct {
	Total    int            `cbor:"total"`
	Outcomes map[string]int `cbor:"outcomes"`
	// Failing lists cases whose outcome is not OK, in sorted order.
	Failing []string `cbor:"failing,omitempty"`
}

// Summarize aggregates rows.
func Summarize(rows []Row) Summary {
	s := Summary{Total: len(rows), Outcomes: make(map[string]int)}
	seen := make(map[string]bool)
	for _, r := range rows {
		s.Outcomes[r.Outcome]++
		if !okOutcome(r.Outcome) && !seen[r.Case] {
			seen[r.Case] = true
			s.Failing = append(s.Failing, r.Case)
		}
	}
	sort.Strings(s.Failing)
	return s
}

func okOutcome(name string) bool {
	for _, o := range []harness.Outcome{harness.Passed, harness.ExpectedFailure, harness.Skipped} {
		if o.String() == name {
			return true
		}
	}
	return false
}
