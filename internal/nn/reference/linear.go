package reference

import (
	"fmt"
	"math"

	"github.com/23skdu/longbow-parity/internal/nn"
	"github.com/23skdu/longbow-parity/internal/tensor"
)

// Linear computes y = x W^T + b over the last dimension of x.
type Linear struct {
	nn.Base
	In, Out int
	Weight  *tensor.Tensor
	Bias    *tensor.Tensor

	x *tensor.Tensor
}

func newLinear(a Args) (Module, error) {
	in, err := a.Int(0, "in_features", 0)
	if err != nil {
		return nil, err
	}
	out, err := a.Int(1, "out_features", 0)
	if err != nil {
		return nil, err
	}
	bias, err := a.Bool(2, "bias", true)
	if err != nil {
		return nil, err
	}
	return NewLinear(in, out, bias)
}

// NewLinear builds a Linear layer with uniform(-1/sqrt(in), 1/sqrt(in))
// initialization.
func NewLinear(in, out int, bias bool) (*Linear, error) {
	if in <= 0 || out <= 0 {
		return nil, fmt.Errorf("Linear: invalid features %d -> %d", in, out)
	}
	bound := 1 / math.Sqrt(float64(in))
	l := &Linear{Base: nn.NewBase(), In: in, Out: out, Weight: tensor.Zeros(out, in)}
	for i := range l.Weight.Data() {
		l.Weight.Data()[i] = uniform(-bound, bound)
	}
	if bias {
		l.Bias = tensor.Zeros(out)
		for i := range l.Bias.Data() {
			l.Bias.Data()[i] = uniform(-bound, bound)
		}
	}
	return l, nil
}

func (l *Linear) TypeName() string { return "Linear" }

func (l *Linear) NamedParameters() []nn.Named {
	ps := []nn.Named{{Name: "weight", Tensor: l.Weight}}
	if l.Bias != nil {
		ps = append(ps, nn.Named{Name: "bias", Tensor: l.Bias})
	}
	return ps
}

func (l *Linear) NamedBuffers() []nn.Named { return nil }

func (l *Linear) To(device string) error { return nn.To(l, device) }

func (l *Linear) Forward(inputs ...*tensor.Tensor) (*tensor.Tensor, error) {
	if err := checkArity("Linear", inputs, 1); err != nil {
		return nil, err
	}
	x := inputs[0]
	if x.Dim() == 0 || x.Size(-1) != l.In {
		return nil, fmt.Errorf("Linear.Forward: expected last dim %d, got shape %v", l.In, x.Shape())
	}
	l.x = x
	rows := x.Numel() / l.In
	outShape := append(x.Shape()[:x.Dim()-1], l.Out)
	y := tensor.Zeros(outShape...)
	xd, w, yd := x.Data(), l.Weight.Data(), y.Data()
	for r := 0; r < rows; r++ {
		for o := 0; o < l.Out; o++ {
			var s float64
			for i := 0; i < l.In; i++ {
				s += xd[r*l.In+i] * w[o*l.In+i]
			}
			if l.Bias != nil {
				s += l.Bias.Data()[o]
			}
			yd[r*l.Out+o] = s
		}
	}
	y.SetDevice(x.Device())
	return y, nil
}

func (l *Linear) Backward(g *tensor.Tensor) error {
	if l.x == nil {
		return nn.ErrNoForward
	}
	rows := l.x.Numel() / l.In
	xd, w, gd := l.x.Data(), l.Weight.Data(), g.Data()
	dw := make([]float64, l.Out*l.In)
	dx := make([]float64, rows*l.In)
	db := make([]float64, l.Out)
	for r := 0; r < rows; r++ {
		for o := 0; o < l.Out; o++ {
			gv := gd[r*l.Out+o]
			db[o] += gv
			for i := 0; i < l.In; i++ {
				dw[o*l.In+i] += gv * xd[r*l.In+i]
				dx[r*l.In+i] += gv * w[o*l.In+i]
			}
		}
	}
	l.Weight.AccumulateGrad(tensor.New(l.Weight.Shape(), dw))
	if l.Bias != nil {
		l.Bias.AccumulateGrad(tensor.New(l.Bias.Shape(), db))
	}
	accumulateInput(l.x, dx)
	return nil
}

// Bilinear computes y_k = x1^T W_k x2 + b_k for 2-D inputs.
type Bilinear struct {
	nn.Base
	In1, In2, Out int
	Weight        *tensor.Tensor
	Bias          *tensor.Tensor

	x1, x2 *tensor.Tensor
}

func newBilinear(a Args) (Module, error) {
	in1, err := a.Int(0, "in1_features", 0)
	if err != nil {
		return nil, err
	}
	in2, err := a.Int(1, "in2_features", 0)
	if err != nil {
		return nil, err
	}
	out, err := a.Int(2, "out_features", 0)
	if err != nil {
		return nil, err
	}
	bias, err := a.Bool(3, "bias", true)
	if err != nil {
		return nil, err
	}
	return NewBilinear(in1, in2, out, bias)
}

// NewBilinear builds a Bilinear layer with uniform(-1/sqrt(in1), 1/sqrt(in1))
// initialization.
func NewBilinear(in1, in2, out int, bias bool) (*Bilinear, error) {
	if in1 <= 0 || in2 <= 0 || out <= 0 {
		return nil, fmt.Errorf("Bilinear: invalid features (%d, %d) -> %d", in1, in2, out)
	}
	bound := 1 / math.Sqrt(float64(in1))
	b := &Bilinear{Base: nn.NewBase(), In1: in1, In2: in2, Out: out, Weight: tensor.Zeros(out, in1, in2)}
	for i := range b.Weight.Data() {
		b.Weight.Data()[i] = uniform(-bound, bound)
	}
	if bias {
		b.Bias = tensor.Zeros(out)
		for i := range b.Bias.Data() {
			b.Bias.Data()[i] = uniform(-bound, bound)
		}
	}
	return b, nil
}

func (b *Bilinear) TypeName() string { return "Bilinear" }

func (b *Bilinear) NamedParameters() []nn.Named {
	ps := []nn.Named{{Name: "weight", Tensor: b.Weight}}
	if b.Bias != nil {
		ps = append(ps, nn.Named{Name: "bias", Tensor: b.Bias})
	}
	return ps
}

func (b *Bilinear) NamedBuffers() []nn.Named { return nil }

func (b *Bilinear) To(device string) error { return nn.To(b, device) }

func (b *Bilinear) Forward(inputs ...*tensor.Tensor) (*tensor.Tensor, error) {
	if err := checkArity("Bilinear", inputs, 2); err != nil {
		return nil, err
	}
	x1, x2 := inputs[0], inputs[1]
	if x1.Dim() != 2 || x2.Dim() != 2 || x1.Size(1) != b.In1 || x2.Size(1) != b.In2 || x1.Size(0) != x2.Size(0) {
		return nil, fmt.Errorf("Bilinear.Forward: incompatible shapes %v and %v", x1.Shape(), x2.Shape())
	}
	b.x1, b.x2 = x1, x2
	n := x1.Size(0)
	y := tensor.Zeros(n, b.Out)
	w := b.Weight.Data()
	for r := 0; r < n; r++ {
		a1 := x1.Data()[r*b.In1 : (r+1)*b.In1]
		a2 := x2.Data()[r*b.In2 : (r+1)*b.In2]
		for k := 0; k < b.Out; k++ {
			var s float64
			for i := 0; i < b.In1; i++ {
				for j := 0; j < b.In2; j++ {
					s += a1[i] * w[(k*b.In1+i)*b.In2+j] * a2[j]
				}
			}
			if b.Bias != nil {
				s += b.Bias.Data()[k]
			}
			y.Data()[r*b.Out+k] = s
		}
	}
	y.SetDevice(x1.Device())
	return y, nil
}

func (b *Bilinear) Backward(g *tensor.Tensor) error {
	if b.x1 == nil {
		return nn.ErrNoForward
	}
	n := b.x1.Size(0)
	w, gd := b.Weight.Data(), g.Data()
	dw := make([]float64, len(w))
	db := make([]float64, b.Out)
	dx1 := make([]float64, n*b.In1)
	dx2 := make([]float64, n*b.In2)
	for r := 0; r < n; r++ {
		a1 := b.x1.Data()[r*b.In1 : (r+1)*b.In1]
		a2 := b.x2.Data()[r*b.In2 : (r+1)*b.In2]
		for k := 0; k < b.Out; k++ {
			gv := gd[r*b.Out+k]
			db[k] += gv
			for i := 0; i < b.In1; i++ {
				for j := 0; j < b.In2; j++ {
					idx := (k*b.In1+i)*b.In2 + j
					dw[idx] += gv * a1[i] * a2[j]
					dx1[r*b.In1+i] += gv * w[idx] * a2[j]
					dx2[r*b.In2+j] += gv * a1[i] * w[idx]
				}
			}
		}
	}
	b.Weight.AccumulateGrad(tensor.New(b.Weight.Shape(), dw))
	if b.Bias != nil {
		b.Bias.AccumulateGrad(tensor.New(b.Bias.Shape(), db))
	}
	accumulateInput(b.x1, dx1)
	accumulateInput(b.x2, dx2)
	return nil
}
