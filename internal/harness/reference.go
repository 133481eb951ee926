package harness

import (
	"fmt"

	"github.com/23skdu/longbow-parity/internal/artifact"
	"github.com/23skdu/longbow-parity/internal/nn"
	"github.com/23skdu/longbow-parity/internal/nn/reference"
	"github.com/23skdu/longbow-parity/internal/paramtable"
	"github.com/23skdu/longbow-parity/internal/tensor"
)

// Argument streams per role. Each argument k of a role draws from stream
// base+k of the variant's seed.
const (
	inputStream  = 0
	targetStream = 100
	extraStream  = 200
)

type referenceRun struct {
	Output *tensor.Tensor
	Grads  *tensor.Dict
	// Trace is the module state after forward, with identity behavior.
	Trace *nn.Snapshot
}

// buildArgs materializes v's argument dictionary. Floating input tensors
// require gradients; so do floating targets of criterion modules.
func buildArgs(v *Variant) *artifact.ArgDict {
	d := artifact.NewArgDict()
	add := func(role artifact.Role, prefix string, base uint64, specs []paramtable.ArgSpec, grad bool) {
		for k, spec := range specs {
			t := spec.Tensor(v.Seed, base+uint64(k))
			t.RequiresGrad = grad && spec.Floating()
			t.SetDevice(v.Device)
			d.Add(role, fmt.Sprintf("%s%d", prefix, k), t)
		}
	}
	add(artifact.Input, "i", inputStream, v.Inputs, true)
	add(artifact.Target, "t", targetStream, v.Targets, v.Criterion)
	add(artifact.ExtraArgs, "e", extraStream, v.Extra, false)
	return d
}

// runReference constructs v's reference module and runs forward and
// backward on copies of args.
func runReference(v *Variant, args *artifact.ArgDict) (*referenceRun, error) {
	m, err := v.Factory(v.Args)
	if err != nil {
		return nil, fmt.Errorf("reference %s: %w", v.Module, err)
	}
	if err := m.To(v.Device); err != nil {
		return nil, err
	}

	all := args.All()
	inputs := make([]*tensor.Tensor, len(all))
	for i, a := range all {
		inputs[i] = a.Tensor.To(v.Device)
	}

	reference.ManualSeed(0)
	out, err := m.Forward(inputs...)
	if err != nil {
		return nil, fmt.Errorf("reference %s: %w", v.Name, err)
	}
	trace := nn.Trace(m)

	if err := nn.Backward(m, out); err != nil {
		return nil, fmt.Errorf("reference %s backward: %w", v.Name, err)
	}
	grads, err := nn.GradDict(m)
	if err != nil {
		return nil, err
	}
	return &referenceRun{Output: out, Grads: grads, Trace: trace}, nil
}
