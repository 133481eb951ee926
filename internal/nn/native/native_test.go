package native

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/23skdu/longbow-parity/internal/nn"
	"github.com/23skdu/longbow-parity/internal/nn/reference"
	"github.com/23skdu/longbow-parity/internal/tensor"
)

func randn(seed uint64, shape ...int) *tensor.Tensor {
	r := rand.New(rand.NewPCG(seed, 1))
	t := tensor.Zeros(shape...)
	for i := range t.Data() {
		t.Data()[i] = r.NormFloat64()
	}
	return t
}

type single interface {
	nn.Module
	Forward(x *tensor.Tensor) (*tensor.Tensor, error)
}

type run struct {
	out   *tensor.Tensor
	grads *tensor.Dict
	input *tensor.Tensor
}

// runReference builds and runs a reference module and returns its state as
// it was before the forward pass.
func runReference(t *testing.T, name string, args reference.Args, x *tensor.Tensor) (*nn.Snapshot, run) {
	t.Helper()
	e, ok := reference.Lookup(name)
	require.True(t, ok)
	reference.ManualSeed(7)
	m, err := e.New(args)
	require.NoError(t, err)
	state := nn.Trace(m)

	in := x.Clone()
	in.RequiresGrad = true
	reference.ManualSeed(0)
	y, err := m.Forward(in)
	require.NoError(t, err)
	require.NoError(t, nn.Backward(m, y))
	grads, err := nn.GradDict(m)
	require.NoError(t, err)
	return state, run{out: y, grads: grads, input: in}
}

func runNative(t *testing.T, m single, state nn.Stateful, x *tensor.Tensor) run {
	t.Helper()
	require.NoError(t, nn.LoadState(m, state.NamedParameters(), state.NamedBuffers()))
	nn.ZeroGrad(m)

	in := x.Clone()
	in.RequiresGrad = true
	ManualSeed(0)
	y, err := m.Forward(in)
	require.NoError(t, err)
	require.NoError(t, Backward(m, y))
	grads, err := nn.GradDict(m)
	require.NoError(t, err)
	return run{out: y, grads: grads, input: in}
}

func assertClose(t *testing.T, want, got run) {
	t.Helper()
	tol := tensor.DefaultTolerance
	assert.True(t, tensor.AllClose(got.out, want.out, tol), "output differs by %g", tensor.MaxAbsDiff(got.out, want.out))
	require.Equal(t, want.grads.Keys(), got.grads.Keys())
	for _, k := range want.grads.Keys() {
		a, _ := want.grads.Get(k)
		b, _ := got.grads.Get(k)
		assert.True(t, tensor.AllClose(b, a, tol), "%s differs by %g", k, tensor.MaxAbsDiff(b, a))
	}
	require.NotNil(t, got.input.Grad)
	assert.True(t, tensor.AllClose(got.input.Grad, want.input.Grad, tol), "input grad differs")
}

func must[T any](v T, err error) T {
	if err != nil {
		panic(err)
	}
	return v
}

func TestMatchesReference(t *testing.T) {
	cases := []struct {
		name   string
		module string
		args   reference.Args
		native func() single
		x      *tensor.Tensor
	}{
		{"Linear", "Linear", reference.Args{Positional: []any{3.0, 4.0}},
			func() single { return must(NewLinear(NewLinearOptions(3, 4))) }, randn(1, 5, 3)},
		{"Linear_no_bias", "Linear", reference.Args{Positional: []any{3.0, 2.0, false}},
			func() single { return must(NewLinear(NewLinearOptions(3, 2).Bias(false))) }, randn(2, 2, 2, 3)},
		{"ReLU", "ReLU", reference.Args{}, func() single { return must(NewReLU()) }, randn(3, 4, 3)},
		{"Tanh", "Tanh", reference.Args{}, func() single { return must(NewTanh()) }, randn(4, 4, 3)},
		{"Sigmoid", "Sigmoid", reference.Args{}, func() single { return must(NewSigmoid()) }, randn(5, 4, 3)},
		{"Softmax", "Softmax", reference.Args{Positional: []any{1.0}},
			func() single { return must(NewSoftmax(NewSoftmaxOptions(1))) }, randn(6, 3, 4)},
		{"PReLU", "PReLU", reference.Args{Positional: []any{3.0}},
			func() single { return must(NewPReLU(NewPReLUOptions().NumParameters(3))) }, randn(7, 2, 3, 2)},
		{"RReLU", "RReLU", reference.Args{Positional: []any{0.1, 0.3}},
			func() single { return must(NewRReLU(NewRReLUOptions().Lower(0.1).Upper(0.3))) }, randn(8, 6, 5)},
		{"Dropout", "Dropout", reference.Args{Positional: []any{0.25}},
			func() single { return must(NewDropout(NewDropoutOptions(0.25))) }, randn(9, 6, 5)},
		{"LayerNorm", "LayerNorm", reference.Args{Positional: []any{[]any{2.0, 3.0}}},
			func() single { return must(NewLayerNorm(NewLayerNormOptions(2, 3))) }, randn(10, 4, 2, 3)},
		{"BatchNorm1d", "BatchNorm1d", reference.Args{Positional: []any{3.0}},
			func() single { return must(NewBatchNorm1d(NewBatchNormOptions(3))) }, randn(11, 5, 3)},
		{"BatchNorm1d_3d", "BatchNorm1d", reference.Args{Positional: []any{2.0}},
			func() single { return must(NewBatchNorm1d(NewBatchNormOptions(2))) }, randn(12, 3, 2, 4)},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			state, want := runReference(t, tc.module, tc.args, tc.x)
			got := runNative(t, tc.native(), state, tc.x)
			assertClose(t, want, got)
		})
	}
}

func TestBilinearMatchesReference(t *testing.T) {
	ref, err := reference.NewBilinear(2, 3, 4, true)
	require.NoError(t, err)
	x1, x2 := randn(20, 5, 2), randn(21, 5, 3)
	a1, a2 := x1.Clone(), x2.Clone()
	a1.RequiresGrad, a2.RequiresGrad = true, true
	y, err := ref.Forward(a1, a2)
	require.NoError(t, err)
	require.NoError(t, nn.Backward(ref, y))

	m, err := NewBilinear(NewBilinearOptions(2, 3, 4))
	require.NoError(t, err)
	require.NoError(t, nn.LoadState(m, ref.NamedParameters(), nil))
	nn.ZeroGrad(m)
	b1, b2 := x1.Clone(), x2.Clone()
	b1.RequiresGrad, b2.RequiresGrad = true, true
	out, err := m.Forward(b1, b2)
	require.NoError(t, err)
	require.NoError(t, Backward(m, out))

	tol := tensor.DefaultTolerance
	assert.True(t, tensor.AllClose(out, y, tol))
	assert.True(t, tensor.AllClose(m.Weight.Grad, ref.Weight.Grad, tol))
	assert.True(t, tensor.AllClose(m.Bias.Grad, ref.Bias.Grad, tol))
	assert.True(t, tensor.AllClose(b1.Grad, a1.Grad, tol))
	assert.True(t, tensor.AllClose(b2.Grad, a2.Grad, tol))
}

func TestEmbeddingMatchesReference(t *testing.T) {
	idx := tensor.New([]int{2, 3}, []float64{1, 2, 1, 0, 3, 1})
	for _, sparse := range []bool{false, true} {
		e, _ := reference.Lookup("Embedding")
		ref, err := e.New(reference.Args{Positional: []any{4.0, 3.0, 2.0}, Keyword: map[string]any{"sparse": sparse}})
		require.NoError(t, err)
		y, err := ref.Forward(idx)
		require.NoError(t, err)
		require.NoError(t, nn.Backward(ref, y))
		want, err := nn.GradDict(ref)
		require.NoError(t, err)

		m, err := NewEmbedding(NewEmbeddingOptions(4, 3).PaddingIdx(2).Sparse(sparse))
		require.NoError(t, err)
		require.NoError(t, nn.LoadState(m, ref.NamedParameters(), nil))
		nn.ZeroGrad(m)
		ind, err := IndicesFrom(idx)
		require.NoError(t, err)
		out, err := m.Forward(ind)
		require.NoError(t, err)
		require.NoError(t, Backward(m, out))
		assert.Equal(t, sparse, m.Weight.Grad.IsSparse())
		got, err := nn.GradDict(m)
		require.NoError(t, err)

		assert.True(t, tensor.Equal(out, y))
		a, _ := want.Get("weight_grad")
		b, _ := got.Get("weight_grad")
		assert.True(t, tensor.AllClose(b, a, tensor.DefaultTolerance), "sparse=%v", sparse)
	}
}

func TestIndicesFromRejectsFractions(t *testing.T) {
	_, err := IndicesFrom(tensor.New([]int{2}, []float64{1, 1.5}))
	assert.Error(t, err)
}

func TestMSELossMatchesReference(t *testing.T) {
	for _, reduction := range []string{"mean", "sum", "none"} {
		t.Run(reduction, func(t *testing.T) {
			e, _ := reference.Lookup("MSELoss")
			ref, err := e.New(reference.Args{Keyword: map[string]any{"reduction": reduction}})
			require.NoError(t, err)
			x, y := randn(30, 3, 4), randn(31, 3, 4)
			a, b := x.Clone(), y.Clone()
			a.RequiresGrad, b.RequiresGrad = true, true
			want, err := ref.Forward(a, b)
			require.NoError(t, err)
			require.NoError(t, nn.Backward(ref, want))

			m, err := NewMSELoss(NewMSELossOptions().Reduction(reduction))
			require.NoError(t, err)
			c, d := x.Clone(), y.Clone()
			c.RequiresGrad, d.RequiresGrad = true, true
			got, err := m.Forward(c, d)
			require.NoError(t, err)
			require.NoError(t, Backward(m, got))

			tol := tensor.DefaultTolerance
			assert.True(t, tensor.AllClose(got, want, tol))
			assert.True(t, tensor.AllClose(c.Grad, a.Grad, tol))
			assert.True(t, tensor.AllClose(d.Grad, b.Grad, tol))
		})
	}

	_, err := NewMSELoss(NewMSELossOptions().Reduction("max"))
	assert.Error(t, err)
}

func TestGELUDivergesFromReference(t *testing.T) {
	x := randn(40, 8, 8)
	_, want := runReference(t, "GELU", reference.Args{}, x)
	got := runNative(t, must(NewGELU()), &nn.Snapshot{Type: "GELU"}, x)
	assert.False(t, tensor.AllClose(got.out, want.out, tensor.DefaultTolerance))
	assert.Less(t, tensor.MaxAbsDiff(got.out, want.out), 0.05)
}

func TestSoftmaxDimZeroDivergesFromReference(t *testing.T) {
	x := randn(41, 3, 4)
	_, want := runReference(t, "Softmax", reference.Args{Positional: []any{0.0}}, x)
	got := runNative(t, must(NewSoftmax(NewSoftmaxOptions(0))), &nn.Snapshot{Type: "Softmax"}, x)
	assert.False(t, tensor.AllClose(got.out, want.out, tensor.DefaultTolerance))
}

func TestDropoutEvalIsIdentity(t *testing.T) {
	d, err := NewDropout()
	require.NoError(t, err)
	d.Train(false)
	x := randn(50, 4, 4)
	y, err := d.Forward(x)
	require.NoError(t, err)
	assert.True(t, tensor.Equal(x, y))

	_, err = NewDropout(NewDropoutOptions(1.5))
	assert.Error(t, err)
}

func TestForwardRejectsBadArguments(t *testing.T) {
	l, err := NewLinear(NewLinearOptions(3, 2))
	require.NoError(t, err)
	_, err = l.Forward(nil)
	assert.Error(t, err)
	_, err = l.Forward(tensor.Zeros(2, 4))
	assert.Error(t, err)
	_, err = l.Forward(tensor.NewSparse([]int{2, 3}, []int{0}, []float64{1, 2, 3}))
	assert.Error(t, err)

	assert.ErrorIs(t, l.Backward(tensor.Zeros(1, 2)), nn.ErrNoForward)
}

func TestToUnknownDevice(t *testing.T) {
	r, err := NewReLU()
	require.NoError(t, err)
	assert.Error(t, r.To("tpu"))
	require.NoError(t, r.To("cpu"))
}

func TestHas(t *testing.T) {
	assert.True(t, Has("Linear"))
	assert.False(t, Has("Conv2d"))
	assert.ElementsMatch(t, reference.Names(), Names())
}
