package native

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/23skdu/longbow-parity/internal/nn"
	"github.com/23skdu/longbow-parity/internal/simd"
	"github.com/23skdu/longbow-parity/internal/tensor"
)

// LinearOptions configures a Linear layer.
type LinearOptions struct {
	in, out int
	bias    bool
}

// NewLinearOptions returns options for an in -> out layer with bias.
func NewLinearOptions(in, out int) LinearOptions {
	return LinearOptions{in: in, out: out, bias: true}
}

// Bias toggles the additive bias.
func (o LinearOptions) Bias(on bool) LinearOptions {
	o.bias = on
	return o
}

// Linear computes y = x W^T + b with a gonum matrix product.
type Linear struct {
	nn.Base
	opts   LinearOptions
	Weight *tensor.Tensor
	Bias   *tensor.Tensor

	x *tensor.Tensor
}

func NewLinear(opts LinearOptions) (*Linear, error) {
	if opts.in <= 0 || opts.out <= 0 {
		return nil, fmt.Errorf("native.Linear: invalid features %d -> %d", opts.in, opts.out)
	}
	bound := 1 / math.Sqrt(float64(opts.in))
	l := &Linear{Base: nn.NewBase(), opts: opts, Weight: tensor.Zeros(opts.out, opts.in)}
	for i := range l.Weight.Data() {
		l.Weight.Data()[i] = uniform(-bound, bound)
	}
	if opts.bias {
		l.Bias = tensor.Zeros(opts.out)
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

func (l *Linear) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	if err := checkArgs("Linear", x); err != nil {
		return nil, err
	}
	if x.Dim() == 0 || x.Size(-1) != l.opts.in {
		return nil, fmt.Errorf("native.Linear: expected last dim %d, got shape %v", l.opts.in, x.Shape())
	}
	be, err := backendFor(&l.Base)
	if err != nil {
		return nil, err
	}
	rows := x.Numel() / l.opts.in
	y := be.GetDense(rows, l.opts.out)
	defer be.PutDense(y)

	y.Mul(view(rows, l.opts.in, x.Data()), view(l.opts.out, l.opts.in, l.Weight.Data()).T())
	raw := y.RawMatrix().Data
	if l.Bias != nil {
		for r := 0; r < rows; r++ {
			simd.VecAdd(raw[r*l.opts.out:(r+1)*l.opts.out], l.Bias.Data())
		}
	}
	l.x = x
	out := tensor.New(append(x.Shape()[:x.Dim()-1], l.opts.out), raw)
	out.SetDevice(l.Device())
	return out, nil
}

func (l *Linear) Backward(g *tensor.Tensor) error {
	if l.x == nil {
		return nn.ErrNoForward
	}
	be, err := backendFor(&l.Base)
	if err != nil {
		return err
	}
	rows := l.x.Numel() / l.opts.in
	dw := be.GetDense(l.opts.out, l.opts.in)
	defer be.PutDense(dw)

	gm := view(rows, l.opts.out, g.Data())
	dw.Mul(gm.T(), view(rows, l.opts.in, l.x.Data()))
	l.Weight.AccumulateGrad(tensor.New(l.Weight.Shape(), dw.RawMatrix().Data))
	if l.Bias != nil {
		db := make([]float64, l.opts.out)
		for r := 0; r < rows; r++ {
			floats.Add(db, gm.RawRowView(r))
		}
		l.Bias.AccumulateGrad(tensor.New(l.Bias.Shape(), db))
	}
	if l.x.RequiresGrad {
		dx := be.GetDense(rows, l.opts.in)
		defer be.PutDense(dx)
		dx.Mul(gm, view(l.opts.out, l.opts.in, l.Weight.Data()))
		accumulateInput(l.x, dx.RawMatrix().Data)
	}
	return nil
}

// BilinearOptions configures a Bilinear layer.
type BilinearOptions struct {
	in1, in2, out int
	bias          bool
}

// NewBilinearOptions returns options for (in1, in2) -> out with bias.
func NewBilinearOptions(in1, in2, out int) BilinearOptions {
	return BilinearOptions{in1: in1, in2: in2, out: out, bias: true}
}

// Bias toggles the additive bias.
func (o BilinearOptions) Bias(on bool) BilinearOptions {
	o.bias = on
	return o
}

// Bilinear computes y_k = x1^T W_k x2 + b_k, one matrix product per output
// feature.
type Bilinear struct {
	nn.Base
	opts   BilinearOptions
	Weight *tensor.Tensor
	Bias   *tensor.Tensor

	x1, x2 *tensor.Tensor
}

func NewBilinear(opts BilinearOptions) (*Bilinear, error) {
	if opts.in1 <= 0 || opts.in2 <= 0 || opts.out <= 0 {
		return nil, fmt.Errorf("native.Bilinear: invalid features (%d, %d) -> %d", opts.in1, opts.in2, opts.out)
	}
	bound := 1 / math.Sqrt(float64(opts.in1))
	b := &Bilinear{Base: nn.NewBase(), opts: opts, Weight: tensor.Zeros(opts.out, opts.in1, opts.in2)}
	for i := range b.Weight.Data() {
		b.Weight.Data()[i] = uniform(-bound, bound)
	}
	if opts.bias {
		b.Bias = tensor.Zeros(opts.out)
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

func (b *Bilinear) slice(k int) *mat.Dense {
	size := b.opts.in1 * b.opts.in2
	return view(b.opts.in1, b.opts.in2, b.Weight.Data()[k*size:(k+1)*size])
}

func (b *Bilinear) Forward(x1, x2 *tensor.Tensor) (*tensor.Tensor, error) {
	if err := checkArgs("Bilinear", x1, x2); err != nil {
		return nil, err
	}
	if x1.Dim() != 2 || x2.Dim() != 2 || x1.Size(1) != b.opts.in1 || x2.Size(1) != b.opts.in2 || x1.Size(0) != x2.Size(0) {
		return nil, fmt.Errorf("native.Bilinear: incompatible shapes %v and %v", x1.Shape(), x2.Shape())
	}
	be, err := backendFor(&b.Base)
	if err != nil {
		return nil, err
	}
	n := x1.Size(0)
	tmp := be.GetDense(n, b.opts.in2)
	defer be.PutDense(tmp)

	a1 := view(n, b.opts.in1, x1.Data())
	out := tensor.Zeros(n, b.opts.out)
	for k := 0; k < b.opts.out; k++ {
		tmp.Mul(a1, b.slice(k))
		for r := 0; r < n; r++ {
			v := simd.DotProduct(tmp.RawRowView(r), x2.Data()[r*b.opts.in2:(r+1)*b.opts.in2])
			if b.Bias != nil {
				v += b.Bias.Data()[k]
			}
			out.Data()[r*b.opts.out+k] = v
		}
	}
	b.x1, b.x2 = x1, x2
	out.SetDevice(b.Device())
	return out, nil
}

func (b *Bilinear) Backward(g *tensor.Tensor) error {
	if b.x1 == nil {
		return nn.ErrNoForward
	}
	be, err := backendFor(&b.Base)
	if err != nil {
		return err
	}
	n := b.x1.Size(0)
	scaled := be.GetDense(n, b.opts.in1)
	dk := be.GetDense(b.opts.in1, b.opts.in2)
	defer be.PutDense(scaled)
	defer be.PutDense(dk)

	a1 := view(n, b.opts.in1, b.x1.Data())
	a2 := view(n, b.opts.in2, b.x2.Data())
	size := b.opts.in1 * b.opts.in2
	dw := make([]float64, len(b.Weight.Data()))
	db := make([]float64, b.opts.out)
	dx1 := make([]float64, n*b.opts.in1)
	dx2 := make([]float64, n*b.opts.in2)
	var p1 mat.Dense
	var p2 mat.Dense
	for k := 0; k < b.opts.out; k++ {
		for r := 0; r < n; r++ {
			gv := g.Data()[r*b.opts.out+k]
			db[k] += gv
			row := scaled.RawRowView(r)
			copy(row, b.x1.Data()[r*b.opts.in1:(r+1)*b.opts.in1])
			floats.Scale(gv, row)
		}
		dk.Mul(scaled.T(), a2)
		copy(dw[k*size:(k+1)*size], dk.RawMatrix().Data)

		// x2 W_k^T and x1 W_k, scaled per row by the output gradient
		p1.Reset()
		p1.Mul(a2, b.slice(k).T())
		p2.Reset()
		p2.Mul(a1, b.slice(k))
		for r := 0; r < n; r++ {
			gv := g.Data()[r*b.opts.out+k]
			simd.VecAddScaled(dx1[r*b.opts.in1:(r+1)*b.opts.in1], p1.RawRowView(r), gv)
			simd.VecAddScaled(dx2[r*b.opts.in2:(r+1)*b.opts.in2], p2.RawRowView(r), gv)
		}
	}
	accumulateInput(b.x1, dx1)
	accumulateInput(b.x2, dx2)
	b.Weight.AccumulateGrad(tensor.New(b.Weight.Shape(), dw))
	if b.Bias != nil {
		b.Bias.AccumulateGrad(tensor.New(b.Bias.Shape(), db))
	}
	return nil
}
