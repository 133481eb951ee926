package reference

import (
	"fmt"

	"github.com/23skdu/longbow-parity/internal/nn"
	"github.com/23skdu/longbow-parity/internal/tensor"
)

// Dropout zeroes each element with probability P in training mode and
// rescales survivors by 1/(1-P). One uniform draw is taken per element in
// storage order; an element survives when its draw is below 1-P.
type Dropout struct {
	nn.Base
	P float64

	x     *tensor.Tensor
	scale []float64
}

func newDropout(a Args) (Module, error) {
	p, err := a.Float(0, "p", 0.5)
	if err != nil {
		return nil, err
	}
	if p < 0 || p > 1 {
		return nil, fmt.Errorf("Dropout: probability %v outside [0, 1]", p)
	}
	return &Dropout{Base: nn.NewBase(), P: p}, nil
}

func (d *Dropout) TypeName() string { return "Dropout" }
func (d *Dropout) NamedParameters() []nn.Named { return nil }
func (d *Dropout) NamedBuffers() []nn.Named { return nil }
func (d *Dropout) To(device string) error { return nn.To(d, device) }

func (d *Dropout) Forward(inputs ...*tensor.Tensor) (*tensor.Tensor, error) {
	if err := checkArity("Dropout", inputs, 1); err != nil {
		return nil, err
	}
	d.x = inputs[0]
	y := d.x.Clone()
	d.scale = make([]float64, y.Numel())
	keep := 1 - d.P
	for i := range d.scale {
		switch {
		case !d.Training():
			d.scale[i] = 1
		case uniform(0, 1) < keep:
			d.scale[i] = 1 / keep
		}
		y.Data()[i] *= d.scale[i]
	}
	return y, nil
}

func (d *Dropout) Backward(g *tensor.Tensor) error {
	if d.x == nil {
		return nn.ErrNoForward
	}
	dx := make([]float64, len(d.scale))
	for i, s := range d.scale {
		dx[i] = g.Data()[i] * s
	}
	accumulateInput(d.x, dx)
	return nil
}
