package reference

import "math/rand/v2"

var rng = rand.New(rand.NewPCG(0, 0))

// ManualSeed resets the reference random stream. The stream is a PCG
// source seeded with (seed, 0), so the native library seeded with the same
// value produces the same draws in the same order.
func ManualSeed(seed uint64) {
	rng = rand.New(rand.NewPCG(seed, 0))
}

func uniform(lo, hi float64) float64 {
	return rng.Float64()*(hi-lo) + lo
}

func normal() float64 {
	return rng.NormFloat64()
}
