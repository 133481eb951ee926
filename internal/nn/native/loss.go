package native

import (
	"fmt"

	"gonum.org/v1/gonum/floats"

	"github.com/23skdu/longbow-parity/internal/nn"
	"github.com/23skdu/longbow-parity/internal/tensor"
)

// MSELossOptions configures MSELoss.
type MSELossOptions struct{ reduction string }

func NewMSELossOptions() MSELossOptions { return MSELossOptions{reduction: "mean"} }

func (o MSELossOptions) Reduction(r string) MSELossOptions {
	o.reduction = r
	return o
}

type MSELoss struct {
	nn.Base
	opts          MSELossOptions
	input, target *tensor.Tensor
	diff          []float64
}

func NewMSELoss(opts ...MSELossOptions) (*MSELoss, error) {
	o := NewMSELossOptions()
	if len(opts) > 0 {
		o = opts[0]
	}
	switch o.reduction {
	case "mean", "sum", "none":
	default:
		return nil, fmt.Errorf("native.MSELoss: unknown reduction %q", o.reduction)
	}
	return &MSELoss{Base: nn.NewBase(), opts: o}, nil
}

func (l *MSELoss) TypeName() string { return "MSELoss" }
func (l *MSELoss) NamedParameters() []nn.Named { return nil }
func (l *MSELoss) NamedBuffers() []nn.Named { return nil }
func (l *MSELoss) To(device string) error { return nn.To(l, device) }

func (l *MSELoss) Forward(input, target *tensor.Tensor) (*tensor.Tensor, error) {
	if err := checkArgs("MSELoss", input, target); err != nil {
		return nil, err
	}
	if !tensor.SameShape(input, target) {
		return nil, fmt.Errorf("native.MSELoss: input %v and target %v differ in shape", input.Shape(), target.Shape())
	}
	l.input, l.target = input, target
	l.diff = floats.SubTo(make([]float64, input.Numel()), input.Data(), target.Data())
	switch l.opts.reduction {
	case "none":
		sq := floats.MulTo(make([]float64, len(l.diff)), l.diff, l.diff)
		return tensor.New(input.Shape(), sq), nil
	case "sum":
		return tensor.Scalar(floats.Dot(l.diff, l.diff)), nil
	default:
		return tensor.Scalar(floats.Dot(l.diff, l.diff) / float64(len(l.diff))), nil
	}
}

func (l *MSELoss) Backward(g *tensor.Tensor) error {
	if l.input == nil {
		return nn.ErrNoForward
	}
	n := float64(len(l.diff))
	din := make([]float64, len(l.diff))
	for i, d := range l.diff {
		gv := g.Data()[0]
		if l.opts.reduction == "none" {
			gv = g.Data()[i]
		}
		din[i] = 2 * d * gv
		if l.opts.reduction == "mean" {
			din[i] /= n
		}
	}
	accumulateInput(l.input, din)
	if l.target.RequiresGrad {
		dt := append([]float64(nil), din...)
		floats.Scale(-1, dt)
		accumulateInput(l.target, dt)
	}
	return nil
}
