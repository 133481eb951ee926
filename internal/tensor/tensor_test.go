package tensor

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAndShape(t *testing.T) {
	x := New([]int{2, 3}, []float64{1, 2, 3, 4, 5, 6})
	assert.Equal(t, []int{2, 3}, x.Shape())
	assert.Equal(t, 6, x.Numel())
	assert.Equal(t, 3, x.Size(-1))
	assert.Equal(t, "cpu", x.Device())

	assert.Panics(t, func() { New([]int{2, 2}, []float64{1}) })
}

func TestScalarNumel(t *testing.T) {
	s := Scalar(4)
	assert.Equal(t, 0, s.Dim())
	assert.Equal(t, 1, s.Numel())
	assert.Equal(t, 4.0, s.Sum())
}

func TestSparseToDenseSumsDuplicates(t *testing.T) {
	sp := NewSparse([]int{4, 2}, []int{1, 3, 1}, []float64{1, 2, 3, 4, 5, 6})
	require.True(t, sp.IsSparse())

	d := sp.ToDense()
	assert.False(t, d.IsSparse())
	assert.Equal(t, []float64{0, 0, 6, 8, 0, 0, 3, 4}, d.Data())
}

func TestDensifyIdempotent(t *testing.T) {
	sp := NewSparse([]int{3, 2}, []int{2, 0}, []float64{1, 2, 3, 4})
	once := Densify(sp)
	twice := Densify(once)

	assert.True(t, Equal(once, twice))
	assert.Same(t, once, twice, "densifying a dense tensor must be a no-op")
}

func TestSparseAndDenseCompareEqual(t *testing.T) {
	sp := NewSparse([]int{3, 2}, []int{2, 0}, []float64{1, 2, 3, 4})
	dense := New([]int{3, 2}, []float64{3, 4, 0, 0, 1, 2})

	assert.True(t, AllClose(sp, dense, DefaultTolerance))
	assert.True(t, Equal(sp, dense))
}

func TestAccumulateGrad(t *testing.T) {
	t.Run("dense", func(t *testing.T) {
		p := Zeros(2)
		p.AccumulateGrad(New([]int{2}, []float64{1, 2}))
		p.AccumulateGrad(New([]int{2}, []float64{3, 4}))
		assert.Equal(t, []float64{4, 6}, p.Grad.Data())
	})

	t.Run("sparse stays sparse", func(t *testing.T) {
		p := Zeros(3, 1)
		p.AccumulateGrad(NewSparse([]int{3, 1}, []int{0}, []float64{1}))
		p.AccumulateGrad(NewSparse([]int{3, 1}, []int{0, 2}, []float64{1, 5}))
		require.True(t, p.Grad.IsSparse())
		assert.Equal(t, []float64{2, 0, 5}, p.Grad.ToDense().Data())
	})

	t.Run("mixed densifies", func(t *testing.T) {
		p := Zeros(2, 1)
		p.AccumulateGrad(NewSparse([]int{2, 1}, []int{1}, []float64{1}))
		p.AccumulateGrad(New([]int{2, 1}, []float64{1, 1}))
		require.False(t, p.Grad.IsSparse())
		assert.Equal(t, []float64{1, 2}, p.Grad.Data())
	})
}

func TestCopyFrom(t *testing.T) {
	dst := Zeros(2, 2)
	dst.SetDevice("cuda:0")
	require.NoError(t, dst.CopyFrom(New([]int{2, 2}, []float64{1, 2, 3, 4})))
	assert.Equal(t, []float64{1, 2, 3, 4}, dst.Data())
	assert.Equal(t, "cuda:0", dst.Device())

	assert.Error(t, dst.CopyFrom(Zeros(4)))
}

func TestAllClose(t *testing.T) {
	a := New([]int{3}, []float64{1, 2, 3})

	assert.True(t, AllClose(a, New([]int{3}, []float64{1, 2, 3 + 1e-6}), DefaultTolerance))
	assert.False(t, AllClose(a, New([]int{3}, []float64{1, 2, 3.01}), DefaultTolerance))
	assert.False(t, AllClose(a, New([]int{1, 3}, []float64{1, 2, 3}), DefaultTolerance))

	nan := New([]int{1}, []float64{math.NaN()})
	assert.False(t, AllClose(nan, nan, DefaultTolerance))

	assert.Equal(t, 0.5, MaxAbsDiff(a, New([]int{3}, []float64{1, 2.5, 3})))
	assert.True(t, math.IsInf(MaxAbsDiff(a, Zeros(2)), 1))
}

func TestDictOrder(t *testing.T) {
	d := NewDict()
	d.Set("b", Scalar(1))
	d.Set("a", Scalar(2))
	d.Set("b", Scalar(3))

	assert.Equal(t, []string{"b", "a"}, d.Keys())
	v, ok := d.Get("b")
	require.True(t, ok)
	assert.Equal(t, 3.0, v.Sum())
}
