// Package reference is the straightforward, loop-based module library that
// native modules are checked against. Every module keeps the tensors it saw
// in Forward and implements Backward by hand.
package reference

import (
	"fmt"
	"sort"

	"github.com/23skdu/longbow-parity/internal/nn"
	"github.com/23skdu/longbow-parity/internal/tensor"
)

// Module is a reference module. Forward takes the arguments in role order
// (input, target, extra_args).
type Module interface {
	nn.Module
	Forward(inputs ...*tensor.Tensor) (*tensor.Tensor, error)
}

// Factory constructs a module from table arguments.
type Factory func(args Args) (Module, error)

// Entry describes one registered module type.
type Entry struct {
	New Factory
	// Criterion marks loss modules whose target takes part in backward.
	Criterion bool
}

// Registry maps module names to their factories.
var Registry = map[string]Entry{
	"Linear":      {New: newLinear},
	"Bilinear":    {New: newBilinear},
	"ReLU":        {New: newReLU},
	"Tanh":        {New: newTanh},
	"Sigmoid":     {New: newSigmoid},
	"GELU":        {New: newGELU},
	"Softmax":     {New: newSoftmax},
	"PReLU":       {New: newPReLU},
	"RReLU":       {New: newRReLU},
	"Dropout":     {New: newDropout},
	"LayerNorm":   {New: newLayerNorm},
	"BatchNorm1d": {New: newBatchNorm1d},
	"Embedding":   {New: newEmbedding},
	"MSELoss":     {New: newMSELoss, Criterion: true},
}

// Lookup returns the registry entry for name.
func Lookup(name string) (Entry, bool) {
	e, ok := Registry[name]
	return e, ok
}

// Names lists registered module names in sorted order.
func Names() []string {
	names := make([]string, 0, len(Registry))
	for name := range Registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func checkArity(name string, inputs []*tensor.Tensor, want int) error {
	if len(inputs) != want {
		return fmt.Errorf("%s.Forward: expected %d inputs, got %d", name, want, len(inputs))
	}
	for i, in := range inputs {
		if in == nil {
			return fmt.Errorf("%s.Forward: input %d is nil", name, i)
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
