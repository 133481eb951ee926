package harness

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/23skdu/longbow-parity/internal/artifact"
	"github.com/23skdu/longbow-parity/internal/cache"
	"github.com/23skdu/longbow-parity/internal/paramtable"
	"github.com/23skdu/longbow-parity/internal/tensor"
	"github.com/23skdu/longbow-parity/internal/tracker"
)

func getMetricValue(m prometheus.Metric) float64 {
	var metric dto.Metric
	m.Write(&metric)
	if metric.Counter != nil {
		return *metric.Counter.Value
	}
	if metric.Gauge != nil {
		return *metric.Gauge.Value
	}
	return 0
}

func defaultTracker(t *testing.T) *tracker.Table {
	t.Helper()
	tbl, err := tracker.Default()
	require.NoError(t, err)
	return tbl
}

func parse(t *testing.T, src string) []paramtable.Params {
	t.Helper()
	params, err := paramtable.Parse([]byte(src), "test.hcl")
	require.NoError(t, err)
	return params
}

func newSuite(t *testing.T, runs cache.RunCache) *Suite {
	t.Helper()
	s, err := NewSuite(Options{TmpRoot: t.TempDir()}, runs)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestDefaultTable(t *testing.T) {
	t.Setenv("PARITY_ACCELERATORS", "")
	params, err := paramtable.LoadDefault()
	require.NoError(t, err)

	s := newSuite(t, nil)
	r := &Registrar{Tracker: defaultTracker(t), Devices: []string{"cpu", "cuda"}}
	require.NoError(t, r.Register(s, params))
	require.Len(t, s.Variants(), 2*len(params))

	ctx := context.Background()
	require.NoError(t, s.Build(ctx))

	byCase := make(map[string]Result)
	for _, res := range s.Run(ctx, nil) {
		byCase[res.Case] = res
		assert.True(t, res.Outcome.OK(), "%s: %s: %s", res.Case, res.Outcome, res.Message)
		if res.Device == "cuda" {
			assert.Equal(t, Skipped, res.Outcome, res.Case)
		}
	}
	assert.Equal(t, Passed, byCase["test_nn_Linear"].Outcome)
	assert.Equal(t, Passed, byCase["test_nn_Embedding_sparse"].Outcome)
	assert.Equal(t, Passed, byCase["test_nn_Softmax_dim0"].Outcome, "declared divergence must diverge")
	assert.Equal(t, ExpectedFailure, byCase["test_nn_GELU"].Outcome)
	assert.Contains(t, byCase["test_nn_GELU"].Message, "Parity test failed: forward output")
	assert.Equal(t, Skipped, byCase["test_nn_Linear_cuda"].Outcome)

	for _, v := range s.Variants() {
		assert.NoDirExists(t, v.TmpDir)
	}
}

func TestLinearExample(t *testing.T) {
	params := parse(t, `
test {
  module_name             = "Linear"
  constructor_args        = [3, 5]
  native_constructor_args = "native.NewLinearOptions(3, 5)"
  input_size              = [7, 3]
}`)
	s := newSuite(t, nil)
	r := &Registrar{Tracker: defaultTracker(t)}
	require.NoError(t, r.Register(s, params))
	ctx := context.Background()
	require.NoError(t, s.Build(ctx))

	v := s.Variants()[0]
	args := buildArgs(v)
	ref, err := runReference(v, args)
	require.NoError(t, err)
	assert.Equal(t, []int{7, 5}, ref.Output.Shape())
	assert.Equal(t, []string{"weight_grad", "bias_grad"}, ref.Grads.Keys())
	assert.True(t, args.Tensor("i0").RequiresGrad)

	before := getMetricValue(casesTotal.WithLabelValues("passed"))
	res := s.RunCase(ctx, v)
	assert.Equal(t, Passed, res.Outcome, res.Message)
	assert.Less(t, res.MaxAbsDiff, 1e-9)
	assert.Equal(t, before+1, getMetricValue(casesTotal.WithLabelValues("passed")))
	assert.Contains(t, s.Source(), "func Linear_test_forward_backward() error")
}

func TestRegistrarErrors(t *testing.T) {
	tests := []struct {
		name    string
		src     string
		devices []string
		want    error
	}{
		{"unknown module", `test {
  module_name = "Conv9d"
  input_size  = [2]
}`, nil, ErrUnknownModule},
		{"missing native args", `test {
  module_name      = "Linear"
  constructor_args = [3, 5]
  input_size       = [2, 3]
}`, nil, ErrMissingNativeArgs},
		{"unknown device", `test {
  module_name = "ReLU"
  input_size  = [2]
}`, []string{"tpu"}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &Registrar{Tracker: defaultTracker(t), Devices: tt.devices}
			s := newSuite(t, nil)
			err := r.Register(s, parse(t, tt.src))
			require.Error(t, err)
			if tt.want != nil {
				assert.ErrorIs(t, err, tt.want)
			}
			assert.Empty(t, s.Variants())
		})
	}

	t.Run("missing tracker entry", func(t *testing.T) {
		tbl, err := tracker.Parse([]byte("native:\n  native.ReLU:\n    has_parity: true\n"))
		require.NoError(t, err)
		r := &Registrar{Tracker: tbl}
		_, err = r.Variants(parse(t, `test {
  module_name = "Tanh"
  input_size  = [2]
}`)[0])
		assert.ErrorIs(t, err, ErrMissingTracker)
	})
}

func TestSkipPolicy(t *testing.T) {
	tbl, err := tracker.Parse([]byte(`native:
  native.ReLU:
    has_parity: true
    unimplemented: [metal]
  native.Tanh:
    has_parity: false
`))
	require.NoError(t, err)
	params := parse(t, `
test {
  module_name = "ReLU"
  input_size  = [2]
}

test {
  module_name = "Tanh"
  input_size  = [2]
  test_cuda   = false
}`)

	t.Setenv("PARITY_ACCELERATORS", "cuda,metal")
	r := &Registrar{Tracker: tbl, Devices: []string{"cpu", "cuda:0", "metal"}}

	relu, err := r.Variants(params[0])
	require.NoError(t, err)
	require.Len(t, relu, 3)
	assert.Equal(t, "ReLU", relu[0].Name)
	assert.Equal(t, "ReLU_cuda_0", relu[1].Name)
	assert.Equal(t, "test_nn_ReLU_cuda_0", relu[1].CaseName())
	assert.Empty(t, relu[0].SkipReason)
	assert.Empty(t, relu[1].SkipReason)
	assert.Contains(t, relu[2].SkipReason, "not implemented on metal")
	assert.False(t, relu[0].ExpectFailure)

	tanh, err := r.Variants(params[1])
	require.NoError(t, err)
	assert.Empty(t, tanh[0].SkipReason)
	assert.NotEmpty(t, tanh[1].SkipReason)
	assert.True(t, tanh[0].ExpectFailure)

	t.Setenv("PARITY_ACCELERATORS", "")
	relu, err = r.Variants(params[0])
	require.NoError(t, err)
	assert.Contains(t, relu[1].SkipReason, "not available")
}

func TestVerdict(t *testing.T) {
	pe := &ParityError{What: "forward output", Native: "1", Reference: "2"}
	other := errors.New("native blew up")

	assert.NoError(t, verdict(true, nil))
	assert.Equal(t, pe, verdict(true, pe))
	assert.NoError(t, verdict(false, pe))
	assert.ErrorIs(t, verdict(false, nil), ErrParityHolds)
	assert.Equal(t, other, verdict(false, other))
	assert.Equal(t, other, verdict(true, other))
}

func TestClassify(t *testing.T) {
	pe := &ParityError{What: "forward output"}
	tests := []struct {
		name   string
		expect bool
		err    error
		want   Outcome
	}{
		{"pass", false, nil, Passed},
		{"fail", false, pe, Failed},
		{"parity holds", false, ErrParityHolds, Failed},
		{"error", false, errors.New("io"), Errored},
		{"expected failure", true, pe, ExpectedFailure},
		{"unexpected success", true, nil, UnexpectedSuccess},
		{"error is never expected", true, errors.New("io"), Errored},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := classify(&Variant{ExpectFailure: tt.expect, NativeType: "native.X"}, tt.err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.want == Passed, err == nil)
		})
	}
}

func TestCompareMessages(t *testing.T) {
	grads := func(kv ...any) *tensor.Dict {
		d := tensor.NewDict()
		for i := 0; i < len(kv); i += 2 {
			d.Set(kv[i].(string), kv[i+1].(*tensor.Tensor))
		}
		return d
	}
	out := tensor.New([]int{2}, []float64{1, 2})
	w := tensor.New([]int{2}, []float64{0.5, 0.25})
	ref := &referenceRun{Output: out, Grads: grads("weight_grad", w)}
	value := func(t *tensor.Tensor) artifact.Value { return artifact.Value{Kind: artifact.TensorValue, Tensor: t} }

	tests := []struct {
		name  string
		out   artifact.Value
		grads *tensor.Dict
		want  string
	}{
		{"match", value(out), grads("weight_grad", w), ""},
		{"output", value(tensor.New([]int{2}, []float64{1, 3})), grads("weight_grad", w), "Parity test failed: forward output in native has value"},
		{"output shape", value(tensor.New([]int{1, 2}, []float64{1, 2})), grads("weight_grad", w), "forward output"},
		{"output kind", artifact.Value{Kind: artifact.ListValue, Items: []artifact.Value{value(out)}}, grads("weight_grad", w), "forward output"},
		{"count", value(out), grads(), "# of parameters in native has value: 0, which does not match the corresponding value in reference: 1"},
		{"missing", value(out), grads("bias_grad", w), "\"Does module have a parameter named `weight`?\" in native has value: False"},
		{"gradient", value(out), grads("weight_grad", tensor.New([]int{2}, []float64{0.5, 0.3})), "gradient of `weight`"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := compare(ref, tt.out, tt.grads, tensor.DefaultTolerance)
			if tt.want == "" {
				assert.NoError(t, err)
				return
			}
			var pe *ParityError
			require.ErrorAs(t, err, &pe)
			assert.Contains(t, pe.Error(), tt.want)
		})
	}
}

func TestSparseGradientsCompareDense(t *testing.T) {
	sparse := tensor.NewSparse([]int{3, 2}, []int{2, 0, 2}, []float64{1, 1, 2, 2, 3, 3})
	dense := tensor.Densify(sparse)
	assert.True(t, tensor.Equal(dense, tensor.Densify(dense)))

	ref := &referenceRun{Output: tensor.Scalar(1), Grads: tensor.NewDict()}
	ref.Grads.Set("weight_grad", dense)
	native := tensor.NewDict()
	native.Set("weight_grad", sparse)
	_, err := compare(ref, artifact.Value{Kind: artifact.TensorValue, Tensor: tensor.Scalar(1)}, native, tensor.DefaultTolerance)
	assert.NoError(t, err)
}

func TestDivergenceHandling(t *testing.T) {
	t.Run("declared parity that fails", func(t *testing.T) {
		s := newSuite(t, nil)
		tbl, err := tracker.Parse([]byte("native:\n  native.GELU:\n    has_parity: true\n"))
		require.NoError(t, err)
		r := &Registrar{Tracker: tbl}
		require.NoError(t, r.Register(s, parse(t, `test {
  module_name = "GELU"
  input_size  = [3, 4]
}`)))
		require.NoError(t, s.Build(context.Background()))
		res := s.Run(context.Background(), nil)
		require.Len(t, res, 1)
		assert.Equal(t, Failed, res[0].Outcome)
		assert.True(t, strings.HasPrefix(res[0].Message, "Parity test failed: forward output"))
		assert.NoDirExists(t, s.Variants()[0].TmpDir)
	})

	t.Run("declared divergence that matches", func(t *testing.T) {
		s := newSuite(t, nil)
		r := &Registrar{Tracker: defaultTracker(t)}
		require.NoError(t, r.Register(s, parse(t, `test {
  module_name = "ReLU"
  input_size  = [3, 4]
  has_parity  = false
}`)))
		require.NoError(t, s.Build(context.Background()))
		res := s.Run(context.Background(), nil)
		require.Len(t, res, 1)
		assert.Equal(t, Failed, res[0].Outcome)
		assert.ErrorIs(t, res[0].Err, ErrParityHolds)
		assert.NoDirExists(t, s.Variants()[0].TmpDir)
	})
}

func TestTwoPhaseProtocol(t *testing.T) {
	ctx := context.Background()
	s := newSuite(t, nil)
	r := &Registrar{Tracker: defaultTracker(t)}
	params := parse(t, `test {
  module_name = "Tanh"
  input_size  = [2, 2]
}`)
	require.NoError(t, r.Register(s, params))
	assert.Error(t, r.Register(s, params), "duplicate case names are rejected")

	res := s.RunCase(ctx, s.Variants()[0])
	assert.Equal(t, Errored, res.Outcome)
	assert.ErrorIs(t, res.Err, ErrNotBuilt)

	require.NoError(t, s.Build(ctx))
	require.NoError(t, s.Build(ctx))
	assert.ErrorIs(t, s.Add(&Variant{Name: "late"}), ErrBuilt)

	results := s.Run(ctx, func(name string) bool { return name == "test_nn_Tanh" })
	require.Len(t, results, 1)
	assert.Equal(t, Passed, results[0].Outcome, results[0].Message)
	assert.Empty(t, s.Run(ctx, func(string) bool { return false }))
}

func TestEmptySuiteBuilds(t *testing.T) {
	s := newSuite(t, nil)
	require.NoError(t, s.Build(context.Background()))
	assert.Empty(t, s.Run(context.Background(), nil))
}

func TestSeededRerunsAreDeterministic(t *testing.T) {
	ctx := context.Background()
	runs := cache.NewMapCache()
	s := newSuite(t, runs)
	r := &Registrar{Tracker: defaultTracker(t)}
	require.NoError(t, r.Register(s, parse(t, `
test {
  module_name             = "RReLU"
  constructor_args        = [0.1, 0.3]
  native_constructor_args = "native.NewRReLUOptions().Lower(0.1).Upper(0.3)"
  input_size              = [4, 6]
}

test {
  module_name             = "Dropout"
  constructor_args        = [0.5]
  native_constructor_args = "native.NewDropoutOptions(0.5)"
  input_size              = [6, 6]
}`)))
	require.NoError(t, s.Build(ctx))

	for i := 0; i < 3; i++ {
		for _, res := range s.Run(ctx, nil) {
			assert.Equal(t, Passed, res.Outcome, "run %d %s: %s", i, res.Case, res.Message)
		}
	}
	assert.Equal(t, 2, runs.Size())

	runs.Put("RReLU", cache.Run{Output: tensor.Zeros(4, 6), Grads: tensor.NewDict()})
	res := s.RunCase(ctx, s.Variants()[0])
	assert.Equal(t, Errored, res.Outcome)
	assert.ErrorIs(t, res.Err, ErrNondeterministic)
}

func TestOutcomeString(t *testing.T) {
	assert.Equal(t, "expected_failure", ExpectedFailure.String())
	assert.Equal(t, "outcome(42)", Outcome(42).String())
	assert.True(t, Skipped.OK())
	assert.False(t, UnexpectedSuccess.OK())
}
