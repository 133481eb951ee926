package native

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/23skdu/longbow-parity/internal/nn"
	"github.com/23skdu/longbow-parity/internal/simd"
	"github.com/23skdu/longbow-parity/internal/tensor"
)

// stateless is shared by parameter-free modules.
type stateless struct {
	nn.Base
	x *tensor.Tensor
}

func (s *stateless) NamedParameters() []nn.Named { return nil }
func (s *stateless) NamedBuffers() []nn.Named { return nil }

type ReLU struct{ stateless }

func NewReLU() (*ReLU, error) { return &ReLU{stateless{Base: nn.NewBase()}}, nil }

func (r *ReLU) TypeName() string { return "ReLU" }
func (r *ReLU) To(device string) error { return nn.To(r, device) }

func (r *ReLU) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	if err := checkArgs("ReLU", x); err != nil {
		return nil, err
	}
	r.x = x
	y := x.Clone()
	for i, v := range y.Data() {
		if v < 0 {
			y.Data()[i] = 0
		}
	}
	return y, nil
}

func (r *ReLU) Backward(g *tensor.Tensor) error {
	if r.x == nil {
		return nn.ErrNoForward
	}
	dx := append([]float64(nil), g.Data()...)
	for i, v := range r.x.Data() {
		if v <= 0 {
			dx[i] = 0
		}
	}
	accumulateInput(r.x, dx)
	return nil
}

type Tanh struct {
	stateless
	y *tensor.Tensor
}

func NewTanh() (*Tanh, error) { return &Tanh{stateless: stateless{Base: nn.NewBase()}}, nil }

func (t *Tanh) TypeName() string { return "Tanh" }
func (t *Tanh) To(device string) error { return nn.To(t, device) }

func (t *Tanh) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	if err := checkArgs("Tanh", x); err != nil {
		return nil, err
	}
	t.x = x
	t.y = x.Clone()
	for i, v := range t.y.Data() {
		t.y.Data()[i] = math.Tanh(v)
	}
	return t.y.Clone(), nil
}

func (t *Tanh) Backward(g *tensor.Tensor) error {
	if t.x == nil {
		return nn.ErrNoForward
	}
	dx := append([]float64(nil), g.Data()...)
	for i, y := range t.y.Data() {
		dx[i] *= 1 - y*y
	}
	accumulateInput(t.x, dx)
	return nil
}

type Sigmoid struct {
	stateless
	y *tensor.Tensor
}

func NewSigmoid() (*Sigmoid, error) { return &Sigmoid{stateless: stateless{Base: nn.NewBase()}}, nil }

func (s *Sigmoid) TypeName() string { return "Sigmoid" }
func (s *Sigmoid) To(device string) error { return nn.To(s, device) }

func (s *Sigmoid) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	if err := checkArgs("Sigmoid", x); err != nil {
		return nil, err
	}
	s.x = x
	s.y = x.Clone()
	for i, v := range s.y.Data() {
		s.y.Data()[i] = 1 / (1 + math.Exp(-v))
	}
	return s.y.Clone(), nil
}

func (s *Sigmoid) Backward(g *tensor.Tensor) error {
	if s.x == nil {
		return nn.ErrNoForward
	}
	dx := append([]float64(nil), g.Data()...)
	for i, y := range s.y.Data() {
		dx[i] *= y * (1 - y)
	}
	accumulateInput(s.x, dx)
	return nil
}

// GELU uses the simd tanh approximation. It is noticeably faster than the
// erf form and differs from it by up to ~1e-2.
type GELU struct{ stateless }

func NewGELU() (*GELU, error) { return &GELU{stateless{Base: nn.NewBase()}}, nil }

func (m *GELU) TypeName() string { return "GELU" }
func (m *GELU) To(device string) error { return nn.To(m, device) }

func (m *GELU) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	if err := checkArgs("GELU", x); err != nil {
		return nil, err
	}
	m.x = x
	y := x.Clone()
	simd.GeluFast(y.Data())
	return y, nil
}

func (m *GELU) Backward(g *tensor.Tensor) error {
	if m.x == nil {
		return nn.ErrNoForward
	}
	dx := append([]float64(nil), g.Data()...)
	simd.GeluFastBackward(dx, m.x.Data())
	accumulateInput(m.x, dx)
	return nil
}

// SoftmaxOptions configures Softmax.
type SoftmaxOptions struct{ dim int }

func NewSoftmaxOptions(dim int) SoftmaxOptions { return SoftmaxOptions{dim: dim} }

// Softmax normalizes rows of the last dimension. The configured dim is
// recorded but every input is treated as a batch of last-dimension rows.
type Softmax struct {
	stateless
	Dim int
	y   *tensor.Tensor
}

func NewSoftmax(opts ...SoftmaxOptions) (*Softmax, error) {
	s := &Softmax{stateless: stateless{Base: nn.NewBase()}, Dim: -1}
	if len(opts) > 0 {
		s.Dim = opts[0].dim
	}
	return s, nil
}

func (s *Softmax) TypeName() string { return "Softmax" }
func (s *Softmax) To(device string) error { return nn.To(s, device) }

func (s *Softmax) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	if err := checkArgs("Softmax", x); err != nil {
		return nil, err
	}
	if x.Dim() == 0 {
		return nil, fmt.Errorf("native.Softmax: scalar input")
	}
	s.x = x
	s.y = x.Clone()
	n := x.Size(-1)
	yd := s.y.Data()
	for off := 0; off < len(yd); off += n {
		row := yd[off : off+n]
		m := floats.Max(row)
		for i, v := range row {
			row[i] = math.Exp(v - m)
		}
		floats.Scale(1/floats.Sum(row), row)
	}
	return s.y.Clone(), nil
}

func (s *Softmax) Backward(g *tensor.Tensor) error {
	if s.x == nil {
		return nn.ErrNoForward
	}
	n := s.x.Size(-1)
	yd := s.y.Data()
	dx := append([]float64(nil), g.Data()...)
	for off := 0; off < len(dx); off += n {
		row, y := dx[off:off+n], yd[off:off+n]
		floats.AddConst(-floats.Dot(row, y), row)
		floats.Mul(row, y)
	}
	accumulateInput(s.x, dx)
	return nil
}

// PReLUOptions configures PReLU.
type PReLUOptions struct {
	num  int
	init float64
}

func NewPReLUOptions() PReLUOptions { return PReLUOptions{num: 1, init: 0.25} }

func (o PReLUOptions) NumParameters(n int) PReLUOptions {
	o.num = n
	return o
}

func (o PReLUOptions) Init(v float64) PReLUOptions {
	o.init = v
	return o
}

type PReLU struct {
	nn.Base
	Weight *tensor.Tensor
	x      *tensor.Tensor
}

func NewPReLU(opts ...PReLUOptions) (*PReLU, error) {
	o := NewPReLUOptions()
	if len(opts) > 0 {
		o = opts[0]
	}
	if o.num <= 0 {
		return nil, fmt.Errorf("native.PReLU: num_parameters must be positive, got %d", o.num)
	}
	return &PReLU{Base: nn.NewBase(), Weight: tensor.Full(o.init, o.num)}, nil
}

func (p *PReLU) TypeName() string { return "PReLU" }

func (p *PReLU) NamedParameters() []nn.Named {
	return []nn.Named{{Name: "weight", Tensor: p.Weight}}
}

func (p *PReLU) NamedBuffers() []nn.Named { return nil }
func (p *PReLU) To(device string) error { return nn.To(p, device) }

// inner returns the number of contiguous elements sharing one slope.
func (p *PReLU) inner(x *tensor.Tensor) int {
	n := 1
	for _, s := range x.Shape()[2:] {
		n *= s
	}
	return n
}

func (p *PReLU) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	if err := checkArgs("PReLU", x); err != nil {
		return nil, err
	}
	c := p.Weight.Numel()
	if c > 1 && (x.Dim() < 2 || x.Size(1) != c) {
		return nil, fmt.Errorf("native.PReLU: %d slopes do not match shape %v", c, x.Shape())
	}
	p.x = x
	y := x.Clone()
	w := p.Weight.Data()
	if c == 1 {
		for i, v := range y.Data() {
			if v <= 0 {
				y.Data()[i] = w[0] * v
			}
		}
		return y, nil
	}
	inner := p.inner(x)
	for i, v := range y.Data() {
		if v <= 0 {
			y.Data()[i] = w[(i/inner)%c] * v
		}
	}
	return y, nil
}

func (p *PReLU) Backward(g *tensor.Tensor) error {
	if p.x == nil {
		return nn.ErrNoForward
	}
	c := p.Weight.Numel()
	inner := 1
	if c > 1 {
		inner = p.inner(p.x)
	}
	dw := make([]float64, c)
	dx := append([]float64(nil), g.Data()...)
	w := p.Weight.Data()
	for i, v := range p.x.Data() {
		if v <= 0 {
			k := (i / inner) % c
			dw[k] += dx[i] * v
			dx[i] *= w[k]
		}
	}
	p.Weight.AccumulateGrad(tensor.New(p.Weight.Shape(), dw))
	accumulateInput(p.x, dx)
	return nil
}

// RReLUOptions configures RReLU.
type RReLUOptions struct{ lower, upper float64 }

func NewRReLUOptions() RReLUOptions { return RReLUOptions{lower: 1.0 / 8, upper: 1.0 / 3} }

func (o RReLUOptions) Lower(v float64) RReLUOptions {
	o.lower = v
	return o
}

func (o RReLUOptions) Upper(v float64) RReLUOptions {
	o.upper = v
	return o
}

// RReLU draws a uniform slope for each non-positive element in training
// mode, walking the input in storage order.
type RReLU struct {
	stateless
	opts  RReLUOptions
	noise []float64
}

func NewRReLU(opts ...RReLUOptions) (*RReLU, error) {
	o := NewRReLUOptions()
	if len(opts) > 0 {
		o = opts[0]
	}
	if o.lower > o.upper {
		return nil, fmt.Errorf("native.RReLU: lower %v exceeds upper %v", o.lower, o.upper)
	}
	return &RReLU{stateless: stateless{Base: nn.NewBase()}, opts: o}, nil
}

func (r *RReLU) TypeName() string { return "RReLU" }
func (r *RReLU) To(device string) error { return nn.To(r, device) }

func (r *RReLU) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	if err := checkArgs("RReLU", x); err != nil {
		return nil, err
	}
	r.x = x
	y := x.Clone()
	r.noise = make([]float64, y.Numel())
	for i, v := range y.Data() {
		r.noise[i] = 1
		if v > 0 {
			continue
		}
		if r.Training() {
			r.noise[i] = uniform(r.opts.lower, r.opts.upper)
		} else {
			r.noise[i] = (r.opts.lower + r.opts.upper) / 2
		}
		y.Data()[i] = v * r.noise[i]
	}
	return y, nil
}

func (r *RReLU) Backward(g *tensor.Tensor) error {
	if r.x == nil {
		return nn.ErrNoForward
	}
	dx := append([]float64(nil), g.Data()...)
	simd.VecMul(dx, r.noise)
	accumulateInput(r.x, dx)
	return nil
}
