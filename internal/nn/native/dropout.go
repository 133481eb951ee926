package native

import (
	"fmt"

	"github.com/23skdu/longbow-parity/internal/nn"
	"github.com/23skdu/longbow-parity/internal/simd"
	"github.com/23skdu/longbow-parity/internal/tensor"
)

// DropoutOptions configures Dropout.
type DropoutOptions struct{ p float64 }

func NewDropoutOptions(p float64) DropoutOptions { return DropoutOptions{p: p} }

// Dropout keeps an element when its uniform draw falls below 1-p.
type Dropout struct {
	stateless
	P     float64
	scale []float64
}

func NewDropout(opts ...DropoutOptions) (*Dropout, error) {
	p := 0.5
	if len(opts) > 0 {
		p = opts[0].p
	}
	if p < 0 || p > 1 {
		return nil, fmt.Errorf("native.Dropout: probability %v outside [0, 1]", p)
	}
	return &Dropout{stateless: stateless{Base: nn.NewBase()}, P: p}, nil
}

func (d *Dropout) TypeName() string { return "Dropout" }
func (d *Dropout) To(device string) error { return nn.To(d, device) }

func (d *Dropout) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	if err := checkArgs("Dropout", x); err != nil {
		return nil, err
	}
	d.x = x
	d.scale = make([]float64, x.Numel())
	keep := 1 - d.P
	for i := range d.scale {
		switch {
		case !d.Training():
			d.scale[i] = 1
		case uniform(0, 1) < keep:
			d.scale[i] = 1 / keep
		}
	}
	y := x.Clone()
	simd.VecMul(y.Data(), d.scale)
	return y, nil
}

func (d *Dropout) Backward(g *tensor.Tensor) error {
	if d.x == nil {
		return nn.ErrNoForward
	}
	dx := append([]float64(nil), g.Data()...)
	simd.VecMul(dx, d.scale)
	accumulateInput(d.x, dx)
	return nil
}
