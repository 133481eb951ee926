// Package simd holds the unrolled float64 kernels used by the native module
// library. Some of them trade accuracy for speed; callers that need exact
// results should use math directly.
package simd

const (
	sqrt2overPi = 0.7978845608
	geluCoeff   = 0.044715
)

// TanhFast is a Padé approximation of tanh(x), saturating for |x| > 4.
func TanhFast(x float64) float64 {
	if x > 4 {
		return 1
	}
	if x < -4 {
		return -1
	}
	x2 := x * x
	return x * (27.0 + x2) / (27.0 + 9.0*x2)
}

// TanhFastGrad is the derivative of TanhFast.
func TanhFastGrad(x float64) float64 {
	if x > 4 || x < -4 {
		return 0
	}
	x2 := x * x
	den := 27.0 + 9.0*x2
	return ((27.0+3.0*x2)*den - x*(27.0+x2)*18.0*x) / (den * den)
}

// GeluFast applies the tanh-form GELU approximation in-place.
func GeluFast(data []float64) {
	for i, x := range data {
		data[i] = 0.5 * x * (1 + TanhFast(sqrt2overPi*(x+geluCoeff*x*x*x)))
	}
}

// GeluFastBackward scales grad in-place by d/dx GeluFast evaluated at x.
func GeluFastBackward(grad, x []float64) {
	for i, v := range x {
		u := sqrt2overPi * (v + geluCoeff*v*v*v)
		du := sqrt2overPi * (1 + 3*geluCoeff*v*v)
		grad[i] *= 0.5*(1+TanhFast(u)) + 0.5*v*TanhFastGrad(u)*du
	}
}

// VecAdd performs dst += src for float64 vectors
func VecAdd(dst, src []float64) {
	i := 0
	for ; i <= len(dst)-4; i += 4 {
		dst[i] += src[i]
		dst[i+1] += src[i+1]
		dst[i+2] += src[i+2]
		dst[i+3] += src[i+3]
	}
	for ; i < len(dst); i++ {
		dst[i] += src[i]
	}
}

// VecAddScaled performs dst += src * scale
func VecAddScaled(dst, src []float64, scale float64) {
	i := 0
	for ; i <= len(dst)-4; i += 4 {
		dst[i] += src[i] * scale
		dst[i+1] += src[i+1] * scale
		dst[i+2] += src[i+2] * scale
		dst[i+3] += src[i+3] * scale
	}
	for ; i < len(dst); i++ {
		dst[i] += src[i] * scale
	}
}

// VecMul performs dst *= src elementwise.
func VecMul(dst, src []float64) {
	i := 0
	for ; i <= len(dst)-4; i += 4 {
		dst[i] *= src[i]
		dst[i+1] *= src[i+1]
		dst[i+2] *= src[i+2]
		dst[i+3] *= src[i+3]
	}
	for ; i < len(dst); i++ {
		dst[i] *= src[i]
	}
}

// DotProduct computes the dot product of two float64 vectors
func DotProduct(a, b []float64) float64 {
	var sum float64
	i := 0
	for ; i <= len(a)-4; i += 4 {
		sum += a[i] * b[i]
		sum += a[i+1] * b[i+1]
		sum += a[i+2] * b[i+2]
		sum += a[i+3] * b[i+3]
	}
	for ; i < len(a); i++ {
		sum += a[i] * b[i]
	}
	return sum
}
