package reference

import (
	"fmt"

	"github.com/23skdu/longbow-parity/internal/nn"
	"github.com/23skdu/longbow-parity/internal/tensor"
)

// MSELoss is the squared error criterion with mean, sum or no reduction.
type MSELoss struct {
	nn.Base
	Reduction string

	input, target *tensor.Tensor
}

func newMSELoss(a Args) (Module, error) {
	r, err := a.String(0, "reduction", "mean")
	if err != nil {
		return nil, err
	}
	switch r {
	case "mean", "sum", "none":
	default:
		return nil, fmt.Errorf("MSELoss: unknown reduction %q", r)
	}
	return &MSELoss{Base: nn.NewBase(), Reduction: r}, nil
}

func (l *MSELoss) TypeName() string { return "MSELoss" }
func (l *MSELoss) NamedParameters() []nn.Named { return nil }
func (l *MSELoss) NamedBuffers() []nn.Named { return nil }
func (l *MSELoss) To(device string) error { return nn.To(l, device) }

func (l *MSELoss) Forward(inputs ...*tensor.Tensor) (*tensor.Tensor, error) {
	if err := checkArity("MSELoss", inputs, 2); err != nil {
		return nil, err
	}
	input, target := inputs[0], inputs[1]
	if !tensor.SameShape(input, target) {
		return nil, fmt.Errorf("MSELoss.Forward: input %v and target %v differ in shape", input.Shape(), target.Shape())
	}
	l.input, l.target = input, target
	sq := input.Clone()
	for i, v := range sq.Data() {
		d := v - target.Data()[i]
		sq.Data()[i] = d * d
	}
	switch l.Reduction {
	case "none":
		return sq, nil
	case "sum":
		return tensor.Scalar(sq.Sum()), nil
	default:
		return tensor.Scalar(sq.Sum() / float64(sq.Numel())), nil
	}
}

func (l *MSELoss) Backward(g *tensor.Tensor) error {
	if l.input == nil {
		return nn.ErrNoForward
	}
	n := l.input.Numel()
	din := make([]float64, n)
	dt := make([]float64, n)
	for i, v := range l.input.Data() {
		gv := g.Data()[0]
		if l.Reduction == "none" {
			gv = g.Data()[i]
		}
		d := 2 * (v - l.target.Data()[i]) * gv
		if l.Reduction == "mean" {
			d /= float64(n)
		}
		din[i], dt[i] = d, -d
	}
	accumulateInput(l.input, din)
	accumulateInput(l.target, dt)
	return nil
}
