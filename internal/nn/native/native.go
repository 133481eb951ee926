// Package native is the performance-oriented module library. Kernels run on
// gonum matrices drawn from the device backend pool and on the simd
// package. Random draws go through gonum's distuv on a PCG source, so a
// native module seeded with ManualSeed draws the same stream as the
// reference library.
package native

import (
	"fmt"
	"math/rand/v2"
	"sort"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/23skdu/longbow-parity/internal/device"
	"github.com/23skdu/longbow-parity/internal/nn"
	"github.com/23skdu/longbow-parity/internal/tensor"
)

var src rand.Source = rand.NewPCG(0, 0)

// ManualSeed resets the native random stream to PCG(seed, 0).
func ManualSeed(seed uint64) {
	src = rand.NewPCG(seed, 0)
}

func uniform(lo, hi float64) float64 {
	return distuv.Uniform{Min: lo, Max: hi, Src: src}.Rand()
}

func normal() float64 {
	return distuv.Normal{Mu: 0, Sigma: 1, Src: src}.Rand()
}

// Backward runs backpropagation of sum(out) through m and waits for the
// module's device to finish.
func Backward(m nn.Module, out *tensor.Tensor) error {
	if err := nn.Backward(m, out); err != nil {
		return err
	}
	if d, ok := m.(interface{ Device() string }); ok {
		b, err := device.Lookup(d.Device())
		if err != nil {
			return err
		}
		b.Synchronize()
	}
	return nil
}

var modules = []string{
	"Linear", "Bilinear", "ReLU", "Tanh", "Sigmoid", "GELU", "Softmax",
	"PReLU", "RReLU", "Dropout", "LayerNorm", "BatchNorm1d", "Embedding", "MSELoss",
}

// Has reports whether the native library implements name.
func Has(name string) bool {
	i := sort.SearchStrings(sortedModules, name)
	return i < len(sortedModules) && sortedModules[i] == name
}

// Names lists the native module types.
func Names() []string { return append([]string(nil), modules...) }

var sortedModules = func() []string {
	s := append([]string(nil), modules...)
	sort.Strings(s)
	return s
}()

// backendFor resolves the backend of a module's current device.
func backendFor(b *nn.Base) (device.Backend, error) {
	be, err := device.Lookup(b.Device())
	if err != nil {
		return nil, fmt.Errorf("native: %w", err)
	}
	return be, nil
}

// view wraps row-major data as an r x c matrix without copying.
func view(r, c int, data []float64) *mat.Dense {
	return mat.NewDense(r, c, data)
}

func checkArgs(name string, ts ...*tensor.Tensor) error {
	for i, t := range ts {
		if t == nil {
			return fmt.Errorf("%s.Forward: argument %d is nil", name, i)
		}
		if t.IsSparse() {
			return fmt.Errorf("%s.Forward: sparse argument %d", name, i)
		}
		if t.Numel() == 0 {
			return fmt.Errorf("%s.Forward: empty argument %d", name, i)
		}
	}
	return nil
}

// accumulateInput adds dx into x's gradient when x tracks gradients.
func accumulateInput(x *tensor.Tensor, dx []float64) {
	if x == nil || !x.RequiresGrad {
		return
	}
	x.AccumulateGrad(tensor.New(x.Shape(), dx))
}
