package simd

import (
	"math"
	"testing"
)

func TestVecAdd(t *testing.T) {
	dst := []float64{1, 2, 3, 4, 5}
	src := []float64{10, 20, 30, 40, 50}
	expected := []float64{11, 22, 33, 44, 55}

	VecAdd(dst, src)

	for i, v := range dst {
		if v != expected[i] {
			t.Errorf("VecAdd(%d) = %f, want %f", i, v, expected[i])
		}
	}
}

func TestVecAddScaled(t *testing.T) {
	dst := []float64{1, 2, 3, 4, 5}
	src := []float64{10, 20, 30, 40, 50}
	expected := []float64{6, 12, 18, 24, 30}

	VecAddScaled(dst, src, 0.5)

	for i, v := range dst {
		if v != expected[i] {
			t.Errorf("VecAddScaled(%d) = %f, want %f", i, v, expected[i])
		}
	}
}

func TestVecMul(t *testing.T) {
	dst := []float64{1, 2, 3, 4, 5, 6}
	src := []float64{2, 2, 2, 0.5, 0.5, -1}
	expected := []float64{2, 4, 6, 2, 2.5, -6}

	VecMul(dst, src)

	for i, v := range dst {
		if v != expected[i] {
			t.Errorf("VecMul(%d) = %f, want %f", i, v, expected[i])
		}
	}
}

func TestDotProduct(t *testing.T) {
	a := []float64{1, 2, 3, 4, 5}
	b := []float64{2, 3, 4, 5, 6}
	// 2 + 6 + 12 + 20 + 30 = 70
	if result := DotProduct(a, b); result != 70 {
		t.Errorf("DotProduct = %f, want 70", result)
	}
}

func TestTanhFast(t *testing.T) {
	inputs := []float64{-10, -5, -2, -1, -0.5, 0, 0.5, 1, 2, 5, 10}
	for _, x := range inputs {
		got, want := TanhFast(x), math.Tanh(x)
		if math.Abs(got-want) > 0.03 {
			t.Errorf("TanhFast(%f) = %f, want %f", x, got, want)
		}
	}
}

func TestTanhFastGrad(t *testing.T) {
	const h = 1e-6
	for _, x := range []float64{-3, -1, -0.25, 0, 0.25, 1, 3} {
		numeric := (TanhFast(x+h) - TanhFast(x-h)) / (2 * h)
		if got := TanhFastGrad(x); math.Abs(got-numeric) > 1e-6 {
			t.Errorf("TanhFastGrad(%f) = %f, numeric %f", x, got, numeric)
		}
	}
}

// The approximation is close enough for inference but far outside a 1e-5
// parity tolerance against the erf form.
func TestGeluFastDivergesFromExact(t *testing.T) {
	xs := []float64{-3, -1.5, -0.5, 0.5, 1.5, 3}
	got := append([]float64(nil), xs...)
	GeluFast(got)

	var maxErr float64
	for i, x := range xs {
		exact := 0.5 * x * (1 + math.Erf(x/math.Sqrt2))
		if d := math.Abs(got[i] - exact); d > maxErr {
			maxErr = d
		}
	}
	if maxErr < 1e-4 {
		t.Errorf("GeluFast max error %g, expected a visible divergence", maxErr)
	}
	if maxErr > 0.05 {
		t.Errorf("GeluFast max error %g is too large", maxErr)
	}
}

func TestGeluFastBackward(t *testing.T) {
	const h = 1e-6
	xs := []float64{-2, -0.7, 0, 0.3, 1.1, 2.5}
	grad := []float64{1, 1, 1, 1, 1, 1}
	GeluFastBackward(grad, xs)

	for i, x := range xs {
		hi, lo := []float64{x + h}, []float64{x - h}
		GeluFast(hi)
		GeluFast(lo)
		numeric := (hi[0] - lo[0]) / (2 * h)
		if math.Abs(grad[i]-numeric) > 1e-5 {
			t.Errorf("GeluFastBackward(%f) = %f, numeric %f", x, grad[i], numeric)
		}
	}
}

// Benchmarks

func BenchmarkDotProduct(b *testing.B) {
	size := 128
	v1 := make([]float64, size)
	v2 := make([]float64, size)
	for i := range v1 {
		v1[i] = float64(i)
		v2[i] = float64(i)
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		DotProduct(v1, v2)
	}
}

func BenchmarkVecAdd(b *testing.B) {
	size := 128
	v1 := make([]float64, size)
	v2 := make([]float64, size)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		VecAdd(v1, v2)
	}
}

func BenchmarkTanhFast(b *testing.B) {
	x := 0.5
	for i := 0; i < b.N; i++ {
		TanhFast(x)
	}
}

func BenchmarkTanhStd(b *testing.B) {
	x := 0.5
	for i := 0; i < b.N; i++ {
		math.Tanh(x)
	}
}
