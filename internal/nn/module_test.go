package nn

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/23skdu/longbow-parity/internal/tensor"
)

// scale is y = w * x with a single learnable scalar and a counter buffer.
type scale struct {
	Base
	w     *tensor.Tensor
	calls *tensor.Tensor
	x     *tensor.Tensor
}

func newScale(w float64) *scale {
	return &scale{Base: NewBase(), w: tensor.Scalar(w), calls: tensor.Scalar(0)}
}

func (s *scale) TypeName() string { return "scale" }
func (s *scale) NamedParameters() []Named { return []Named{{"w", s.w}} }
func (s *scale) NamedBuffers() []Named { return []Named{{"calls", s.calls}} }
func (s *scale) To(d string) error { return To(s, d) }

func (s *scale) Forward(x *tensor.Tensor) *tensor.Tensor {
	s.x = x
	out := x.Clone()
	for i := range out.Data() {
		out.Data()[i] *= s.w.Data()[0]
	}
	s.calls.Data()[0]++
	return out
}

func (s *scale) Backward(g *tensor.Tensor) error {
	if s.x == nil {
		return ErrNoForward
	}
	var dw float64
	for i, v := range s.x.Data() {
		dw += v * g.Data()[i]
	}
	s.w.AccumulateGrad(tensor.Scalar(dw))
	return nil
}

func TestBackwardAndGradDict(t *testing.T) {
	m := newScale(2)

	_, err := GradDict(m)
	assert.ErrorIs(t, err, ErrNoGrad)
	assert.ErrorIs(t, m.Backward(tensor.Scalar(1)), ErrNoForward)

	out := m.Forward(tensor.New([]int{3}, []float64{1, 2, 3}))
	require.NoError(t, Backward(m, out))

	grads, err := GradDict(m)
	require.NoError(t, err)
	assert.Equal(t, []string{"w_grad"}, grads.Keys())
	g, _ := grads.Get("w_grad")
	assert.Equal(t, 6.0, g.Sum())

	ZeroGrad(m)
	assert.Nil(t, m.w.Grad)
}

func TestTo(t *testing.T) {
	t.Setenv("PARITY_ACCELERATORS", "")
	m := newScale(1)

	require.NoError(t, m.To("cpu"))
	assert.Equal(t, "cpu", m.Device())

	err := m.To("cuda:0")
	require.Error(t, err)
	assert.Equal(t, "cpu", m.w.Device(), "failed move must not relabel state")

	t.Setenv("PARITY_ACCELERATORS", "cuda")
	require.NoError(t, m.To("cuda:0"))
	assert.Equal(t, "cuda:0", m.w.Device())
	assert.Equal(t, "cuda:0", m.calls.Device())
	assert.Equal(t, "cuda:0", m.Device())
}

func TestTraceIsDetached(t *testing.T) {
	m := newScale(3)
	snap := Trace(m)

	m.w.Data()[0] = 100
	assert.Equal(t, 3.0, snap.Parameters[0].Tensor.Data()[0])
	assert.Equal(t, "scale", snap.TypeName())

	x := tensor.Scalar(5)
	assert.Same(t, x, snap.Forward(x))
}

func TestLoadState(t *testing.T) {
	src := newScale(7)
	src.Forward(tensor.Scalar(1))
	snap := Trace(src)

	dst := newScale(0)
	require.NoError(t, LoadState(dst, snap.Parameters, snap.Buffers))
	assert.Equal(t, 7.0, dst.w.Data()[0])
	assert.Equal(t, 1.0, dst.calls.Data()[0])

	t.Run("missing key", func(t *testing.T) {
		err := LoadState(dst, nil, snap.Buffers)
		require.True(t, errors.Is(err, ErrStateMismatch))
		assert.Contains(t, err.Error(), "missing [w]")
	})

	t.Run("unexpected key", func(t *testing.T) {
		extra := append([]Named{{"bias", tensor.Scalar(1)}}, snap.Parameters...)
		err := LoadState(dst, extra, snap.Buffers)
		require.ErrorIs(t, err, ErrStateMismatch)
		assert.Contains(t, err.Error(), "unexpected [bias]")
	})

	t.Run("shape", func(t *testing.T) {
		err := LoadState(dst, []Named{{"w", tensor.Zeros(2)}}, snap.Buffers)
		assert.ErrorIs(t, err, ErrStateMismatch)
	})
}
