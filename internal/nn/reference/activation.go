package reference

import (
	"fmt"
	"math"

	"github.com/23skdu/longbow-parity/internal/nn"
	"github.com/23skdu/longbow-parity/internal/tensor"
)

// Pointwise applies a parameter-free elementwise function. df receives the
// input and the output of f.
type Pointwise struct {
	nn.Base
	name string
	f    func(x float64) float64
	df   func(x, y float64) float64

	x, y *tensor.Tensor
}

func newPointwise(name string, f func(float64) float64, df func(x, y float64) float64) *Pointwise {
	return &Pointwise{Base: nn.NewBase(), name: name, f: f, df: df}
}

func newReLU(Args) (Module, error) {
	return newPointwise("ReLU",
		func(x float64) float64 { return math.Max(x, 0) },
		func(x, _ float64) float64 {
			if x > 0 {
				return 1
			}
			return 0
		}), nil
}

func newTanh(Args) (Module, error) {
	return newPointwise("Tanh", math.Tanh,
		func(_, y float64) float64 { return 1 - y*y }), nil
}

func newSigmoid(Args) (Module, error) {
	return newPointwise("Sigmoid",
		func(x float64) float64 { return 1 / (1 + math.Exp(-x)) },
		func(_, y float64) float64 { return y * (1 - y) }), nil
}

func newGELU(a Args) (Module, error) {
	approx, err := a.String(0, "approximate", "none")
	if err != nil {
		return nil, err
	}
	if approx != "none" {
		return nil, fmt.Errorf("GELU: approximate=%q is not supported", approx)
	}
	return newPointwise("GELU",
		func(x float64) float64 { return 0.5 * x * (1 + math.Erf(x/math.Sqrt2)) },
		func(x, _ float64) float64 {
			cdf := 0.5 * (1 + math.Erf(x/math.Sqrt2))
			pdf := math.Exp(-0.5*x*x) / math.Sqrt(2*math.Pi)
			return cdf + x*pdf
		}), nil
}

func (p *Pointwise) TypeName() string { return p.name }
func (p *Pointwise) NamedParameters() []nn.Named { return nil }
func (p *Pointwise) NamedBuffers() []nn.Named { return nil }
func (p *Pointwise) To(device string) error { return nn.To(p, device) }

func (p *Pointwise) Forward(inputs ...*tensor.Tensor) (*tensor.Tensor, error) {
	if err := checkArity(p.name, inputs, 1); err != nil {
		return nil, err
	}
	p.x = inputs[0]
	p.y = p.x.Clone()
	for i, v := range p.y.Data() {
		p.y.Data()[i] = p.f(v)
	}
	return p.y.Clone(), nil
}

func (p *Pointwise) Backward(g *tensor.Tensor) error {
	if p.x == nil {
		return nn.ErrNoForward
	}
	dx := make([]float64, p.x.Numel())
	for i, v := range p.x.Data() {
		dx[i] = g.Data()[i] * p.df(v, p.y.Data()[i])
	}
	accumulateInput(p.x, dx)
	return nil
}

// Softmax normalizes along Dim.
type Softmax struct {
	nn.Base
	Dim int

	x, y *tensor.Tensor
}

func newSoftmax(a Args) (Module, error) {
	dim, err := a.Int(0, "dim", -1)
	if err != nil {
		return nil, err
	}
	return &Softmax{Base: nn.NewBase(), Dim: dim}, nil
}

func (s *Softmax) TypeName() string { return "Softmax" }
func (s *Softmax) NamedParameters() []nn.Named { return nil }
func (s *Softmax) NamedBuffers() []nn.Named { return nil }
func (s *Softmax) To(device string) error { return nn.To(s, device) }

// axis splits a shape around dim into (outer, size, inner) extents.
func axis(shape []int, dim int) (outer, size, inner int, err error) {
	if dim < 0 {
		dim += len(shape)
	}
	if dim < 0 || dim >= len(shape) {
		return 0, 0, 0, fmt.Errorf("dimension out of range for shape %v", shape)
	}
	outer, inner = 1, 1
	for _, s := range shape[:dim] {
		outer *= s
	}
	for _, s := range shape[dim+1:] {
		inner *= s
	}
	return outer, shape[dim], inner, nil
}

func (s *Softmax) Forward(inputs ...*tensor.Tensor) (*tensor.Tensor, error) {
	if err := checkArity("Softmax", inputs, 1); err != nil {
		return nil, err
	}
	x := inputs[0]
	outer, size, inner, err := axis(x.Shape(), s.Dim)
	if err != nil {
		return nil, fmt.Errorf("Softmax.Forward: %w", err)
	}
	s.x = x
	s.y = x.Clone()
	xd, yd := x.Data(), s.y.Data()
	for o := 0; o < outer; o++ {
		for in := 0; in < inner; in++ {
			at := func(k int) int { return (o*size+k)*inner + in }
			m := math.Inf(-1)
			for k := 0; k < size; k++ {
				m = math.Max(m, xd[at(k)])
			}
			var sum float64
			for k := 0; k < size; k++ {
				yd[at(k)] = math.Exp(xd[at(k)] - m)
				sum += yd[at(k)]
			}
			for k := 0; k < size; k++ {
				yd[at(k)] /= sum
			}
		}
	}
	return s.y.Clone(), nil
}

func (s *Softmax) Backward(g *tensor.Tensor) error {
	if s.x == nil {
		return nn.ErrNoForward
	}
	outer, size, inner, err := axis(s.x.Shape(), s.Dim)
	if err != nil {
		return err
	}
	yd, gd := s.y.Data(), g.Data()
	dx := make([]float64, len(yd))
	for o := 0; o < outer; o++ {
		for in := 0; in < inner; in++ {
			at := func(k int) int { return (o*size+k)*inner + in }
			var dot float64
			for k := 0; k < size; k++ {
				dot += gd[at(k)] * yd[at(k)]
			}
			for k := 0; k < size; k++ {
				dx[at(k)] = yd[at(k)] * (gd[at(k)] - dot)
			}
		}
	}
	accumulateInput(s.x, dx)
	return nil
}

// PReLU is a leaky ReLU with a learned slope per channel (dim 1) or a single
// shared slope.
type PReLU struct {
	nn.Base
	Weight *tensor.Tensor

	x *tensor.Tensor
}

func newPReLU(a Args) (Module, error) {
	n, err := a.Int(0, "num_parameters", 1)
	if err != nil {
		return nil, err
	}
	init, err := a.Float(1, "init", 0.25)
	if err != nil {
		return nil, err
	}
	if n <= 0 {
		return nil, fmt.Errorf("PReLU: num_parameters must be positive, got %d", n)
	}
	return &PReLU{Base: nn.NewBase(), Weight: tensor.Full(init, n)}, nil
}

func (p *PReLU) TypeName() string { return "PReLU" }

func (p *PReLU) NamedParameters() []nn.Named {
	return []nn.Named{{Name: "weight", Tensor: p.Weight}}
}

func (p *PReLU) NamedBuffers() []nn.Named { return nil }
func (p *PReLU) To(device string) error { return nn.To(p, device) }

// channelOf returns the slope index of flat element i.
func (p *PReLU) channelOf(shape []int, i int) int {
	n := p.Weight.Numel()
	if n == 1 {
		return 0
	}
	inner := 1
	for _, s := range shape[2:] {
		inner *= s
	}
	return (i / inner) % n
}

func (p *PReLU) Forward(inputs ...*tensor.Tensor) (*tensor.Tensor, error) {
	if err := checkArity("PReLU", inputs, 1); err != nil {
		return nil, err
	}
	x := inputs[0]
	if n := p.Weight.Numel(); n > 1 && (x.Dim() < 2 || x.Size(1) != n) {
		return nil, fmt.Errorf("PReLU.Forward: %d slopes do not match shape %v", n, x.Shape())
	}
	p.x = x
	y := x.Clone()
	shape, w := x.Shape(), p.Weight.Data()
	for i, v := range y.Data() {
		if v <= 0 {
			y.Data()[i] = w[p.channelOf(shape, i)] * v
		}
	}
	return y, nil
}

func (p *PReLU) Backward(g *tensor.Tensor) error {
	if p.x == nil {
		return nn.ErrNoForward
	}
	shape, w, gd := p.x.Shape(), p.Weight.Data(), g.Data()
	dw := make([]float64, len(w))
	dx := make([]float64, p.x.Numel())
	for i, v := range p.x.Data() {
		if v > 0 {
			dx[i] = gd[i]
			continue
		}
		c := p.channelOf(shape, i)
		dw[c] += gd[i] * v
		dx[i] = gd[i] * w[c]
	}
	p.Weight.AccumulateGrad(tensor.New(p.Weight.Shape(), dw))
	accumulateInput(p.x, dx)
	return nil
}

// RReLU draws a slope from uniform(Lower, Upper) for every non-positive
// element in training mode and uses their mean in eval mode.
type RReLU struct {
	nn.Base
	Lower, Upper float64

	x     *tensor.Tensor
	noise []float64
}

func newRReLU(a Args) (Module, error) {
	lower, err := a.Float(0, "lower", 1.0/8)
	if err != nil {
		return nil, err
	}
	upper, err := a.Float(1, "upper", 1.0/3)
	if err != nil {
		return nil, err
	}
	if lower > upper {
		return nil, fmt.Errorf("RReLU: lower %v exceeds upper %v", lower, upper)
	}
	return &RReLU{Base: nn.NewBase(), Lower: lower, Upper: upper}, nil
}

func (r *RReLU) TypeName() string { return "RReLU" }
func (r *RReLU) NamedParameters() []nn.Named { return nil }
func (r *RReLU) NamedBuffers() []nn.Named { return nil }
func (r *RReLU) To(device string) error { return nn.To(r, device) }

func (r *RReLU) Forward(inputs ...*tensor.Tensor) (*tensor.Tensor, error) {
	if err := checkArity("RReLU", inputs, 1); err != nil {
		return nil, err
	}
	r.x = inputs[0]
	y := r.x.Clone()
	r.noise = make([]float64, y.Numel())
	mid := (r.Lower + r.Upper) / 2
	for i, v := range y.Data() {
		slope := 1.0
		if v <= 0 {
			if r.Training() {
				slope = uniform(r.Lower, r.Upper)
			} else {
				slope = mid
			}
		}
		r.noise[i] = slope
		y.Data()[i] = v * slope
	}
	return y, nil
}

func (r *RReLU) Backward(g *tensor.Tensor) error {
	if r.x == nil {
		return nn.ErrNoForward
	}
	dx := make([]float64, len(r.noise))
	for i, s := range r.noise {
		dx[i] = g.Data()[i] * s
	}
	accumulateInput(r.x, dx)
	return nil
}
