package report

import (
	"bytes"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/23skdu/longbow-parity/internal/harness"
)

func sampleResults() []harness.Result {
	return []harness.Result{
		{Case: "test_nn_Linear", Module: "Linear", Device: "cpu", Outcome: harness.Passed, MaxAbsDiff: 1e-12, Duration: 3 * time.Millisecond},
		{Case: "test_nn_GELU", Module: "GELU", Device: "cpu", Outcome: harness.ExpectedFailure, Message: "Parity test failed: forward output", MaxAbsDiff: 2e-4, Duration: time.Millisecond},
		{Case: "test_nn_Linear_cuda", Module: "Linear", Device: "cuda", Outcome: harness.Skipped, Message: "device cuda is not available", MaxAbsDiff: math.NaN()},
		{Case: "test_nn_Tanh", Module: "Tanh", Device: "cpu", Outcome: harness.Errored, Err: errors.New("boom"), Message: "boom", MaxAbsDiff: math.NaN()},
	}
}

func TestIPCRoundTrip(t *testing.T) {
	mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
	defer mem.AssertSize(t, 0)

	rows := FromResults(2, sampleResults())
	rec := Build(mem, rows)
	require.NotNil(t, rec)
	assert.Equal(t, int64(4), rec.NumRows())
	assert.Equal(t, "case", rec.ColumnName(1))

	var buf bytes.Buffer
	require.NoError(t, WriteIPC(&buf, rec))
	rec.Release()

	got, err := ReadIPC(&buf, mem)
	require.NoError(t, err)
	require.Len(t, got, 4)

	assert.Equal(t, int32(2), got[0].Run)
	assert.Equal(t, "test_nn_Linear", got[0].Case)
	assert.Equal(t, "passed", got[0].Outcome)
	assert.Empty(t, got[0].Message)
	require.NotNil(t, got[0].MaxAbsDiff)
	assert.Equal(t, 1e-12, *got[0].MaxAbsDiff)
	assert.Equal(t, 3*time.Millisecond, got[0].Duration)

	assert.Equal(t, "expected_failure", got[1].Outcome)
	assert.Equal(t, "Parity test failed: forward output", got[1].Message)
	assert.Nil(t, got[2].MaxAbsDiff)
	assert.Equal(t, "cuda", got[2].Device)
}

func TestBuildEmpty(t *testing.T) {
	assert.Nil(t, Build(memory.NewGoAllocator(), nil))
}

func TestRowsRejectsOtherSchemas(t *testing.T) {
	mem := memory.NewGoAllocator()
	schema := arrow.NewSchema([]arrow.Field{{Name: "f1", Type: arrow.PrimitiveTypes.Float32}}, nil)
	b := array.NewFloat32Builder(mem)
	defer b.Release()
	b.AppendValues([]float32{1}, nil)
	a := b.NewArray()
	defer a.Release()
	rec := array.NewRecordBatch(schema, []arrow.Array{a}, 1)
	defer rec.Release()

	_, err := Rows(rec)
	assert.Error(t, err)
}

func TestSummarize(t *testing.T) {
	rows := FromResults(0, sampleResults())
	rows = append(rows, FromResults(1, sampleResults())...)
	s := Summarize(rows)
	assert.Equal(t, 8, s.Total)
	assert.Equal(t, 2, s.Outcomes["passed"])
	assert.Equal(t, 2, s.Outcomes["errored"])
	assert.Equal(t, []string{"test_nn_Tanh"}, s.Failing)
}
