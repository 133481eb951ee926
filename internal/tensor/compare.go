package tensor

import "math"

// Tolerance bounds |a-b| <= Abs + Rel*|b| elementwise.
type Tolerance struct {
	Abs float64
	Rel float64
}

// DefaultTolerance matches the usual allclose defaults used for parity.
var DefaultTolerance = Tolerance{Abs: 1e-5, Rel: 1e-5}

// AllClose reports whether a and b have the same shape and every element
// pair is within tol. Sparse operands are densified first. NaN never
// compares close, including to another NaN.
func AllClose(a, b *Tensor, tol Tolerance) bool {
	if a == nil || b == nil {
		return a == b
	}
	a, b = Densify(a), Densify(b)
	if !SameShape(a, b) {
		return false
	}
	for i := range a.data {
		x, y := a.data[i], b.data[i]
		if x == y {
			continue
		}
		if math.IsNaN(x) || math.IsNaN(y) || math.IsInf(x, 0) || math.IsInf(y, 0) {
			return false
		}
		if math.Abs(x-y) > tol.Abs+tol.Rel*math.Abs(y) {
			return false
		}
	}
	return true
}

// MaxAbsDiff returns the largest elementwise |a-b|, or +Inf when shapes
// differ.
func MaxAbsDiff(a, b *Tensor) float64 {
	a, b = Densify(a), Densify(b)
	if a == nil || b == nil || !SameShape(a, b) {
		return math.Inf(1)
	}
	var m float64
	for i := range a.data {
		d := math.Abs(a.data[i] - b.data[i])
		if math.IsNaN(d) {
			return math.Inf(1)
		}
		if d > m {
			m = d
		}
	}
	return m
}

// Equal reports bit-identical shapes and values.
func Equal(a, b *Tensor) bool {
	a, b = Densify(a), Densify(b)
	if !SameShape(a, b) {
		return false
	}
	for i := range a.data {
		if math.Float64bits(a.data[i]) != math.Float64bits(b.data[i]) {
			return false
		}
	}
	return true
}
