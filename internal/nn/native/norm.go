package native

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/23skdu/longbow-parity/internal/nn"
	"github.com/23skdu/longbow-parity/internal/tensor"
)

// LayerNormOptions configures LayerNorm.
type LayerNormOptions struct {
	shape  []int
	eps    float64
	affine bool
}

func NewLayerNormOptions(shape ...int) LayerNormOptions {
	return LayerNormOptions{shape: shape, eps: 1e-5, affine: true}
}

func (o LayerNormOptions) Eps(v float64) LayerNormOptions {
	o.eps = v
	return o
}

func (o LayerNormOptions) ElementwiseAffine(on bool) LayerNormOptions {
	o.affine = on
	return o
}

type LayerNorm struct {
	nn.Base
	opts   LayerNormOptions
	Weight *tensor.Tensor
	Bias   *tensor.Tensor

	x    *tensor.Tensor
	xhat []float64
	rstd []float64
}

func NewLayerNorm(opts LayerNormOptions) (*LayerNorm, error) {
	if len(opts.shape) == 0 {
		return nil, fmt.Errorf("native.LayerNorm: empty normalized shape")
	}
	l := &LayerNorm{Base: nn.NewBase(), opts: opts}
	if opts.affine {
		l.Weight = tensor.Full(1, opts.shape...)
		l.Bias = tensor.Zeros(opts.shape...)
	}
	return l, nil
}

func (l *LayerNorm) TypeName() string { return "LayerNorm" }

func (l *LayerNorm) NamedParameters() []nn.Named {
	if l.Weight == nil {
		return nil
	}
	return []nn.Named{{Name: "weight", Tensor: l.Weight}, {Name: "bias", Tensor: l.Bias}}
}

func (l *LayerNorm) NamedBuffers() []nn.Named { return nil }
func (l *LayerNorm) To(device string) error { return nn.To(l, device) }

func (l *LayerNorm) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	if err := checkArgs("LayerNorm", x); err != nil {
		return nil, err
	}
	shape := x.Shape()
	k := len(l.opts.shape)
	if len(shape) < k {
		return nil, fmt.Errorf("native.LayerNorm: input shape %v shorter than %v", shape, l.opts.shape)
	}
	n := 1
	for i, s := range l.opts.shape {
		if shape[len(shape)-k+i] != s {
			return nil, fmt.Errorf("native.LayerNorm: input shape %v does not end with %v", shape, l.opts.shape)
		}
		n *= s
	}
	l.x = x
	y := x.Clone()
	yd := y.Data()
	l.xhat = make([]float64, len(yd))
	l.rstd = l.rstd[:0]
	for off := 0; off < len(yd); off += n {
		row := yd[off : off+n]
		mean, variance := stat.PopMeanVariance(row, nil)
		rstd := 1 / math.Sqrt(variance+l.opts.eps)
		l.rstd = append(l.rstd, rstd)
		floats.AddConst(-mean, row)
		floats.Scale(rstd, row)
		copy(l.xhat[off:off+n], row)
		if l.Weight != nil {
			floats.Mul(row, l.Weight.Data())
			floats.Add(row, l.Bias.Data())
		}
	}
	return y, nil
}

func (l *LayerNorm) Backward(g *tensor.Tensor) error {
	if l.x == nil {
		return nn.ErrNoForward
	}
	n := len(l.xhat) / len(l.rstd)
	gd := g.Data()
	var dw, db []float64
	if l.Weight != nil {
		dw = make([]float64, n)
		db = make([]float64, n)
	}
	dx := make([]float64, len(gd))
	for gi, rstd := range l.rstd {
		off := gi * n
		xhat, grow, drow := l.xhat[off:off+n], gd[off:off+n], dx[off:off+n]
		copy(drow, grow)
		if l.Weight != nil {
			for j := range grow {
				dw[j] += grow[j] * xhat[j]
			}
			floats.Add(db, grow)
			floats.Mul(drow, l.Weight.Data())
		}
		sum, dot := floats.Sum(drow), floats.Dot(drow, xhat)
		fn := float64(n)
		for j := range drow {
			drow[j] = rstd / fn * (fn*drow[j] - sum - xhat[j]*dot)
		}
	}
	if l.Weight != nil {
		l.Weight.AccumulateGrad(tensor.New(l.Weight.Shape(), dw))
		l.Bias.AccumulateGrad(tensor.New(l.Bias.Shape(), db))
	}
	accumulateInput(l.x, dx)
	return nil
}

// BatchNormOptions configures BatchNorm1d.
type BatchNormOptions struct {
	features         int
	eps, momentum    float64
	affine, tracking bool
}

func NewBatchNormOptions(features int) BatchNormOptions {
	return BatchNormOptions{features: features, eps: 1e-5, momentum: 0.1, affine: true, tracking: true}
}

func (o BatchNormOptions) Eps(v float64) BatchNormOptions {
	o.eps = v
	return o
}

func (o BatchNormOptions) Momentum(v float64) BatchNormOptions {
	o.momentum = v
	return o
}

func (o BatchNormOptions) Affine(on bool) BatchNormOptions {
	o.affine = on
	return o
}

func (o BatchNormOptions) TrackRunningStats(on bool) BatchNormOptions {
	o.tracking = on
	return o
}

// BatchNorm1d gathers each channel into a contiguous scratch slice and
// reduces it with gonum/stat.
type BatchNorm1d struct {
	nn.Base
	opts              BatchNormOptions
	Weight, Bias      *tensor.Tensor
	RunningMean       *tensor.Tensor
	RunningVar        *tensor.Tensor
	NumBatchesTracked *tensor.Tensor

	x        *tensor.Tensor
	xhat     []float64
	rstd     []float64
	useBatch bool
}

func NewBatchNorm1d(opts BatchNormOptions) (*BatchNorm1d, error) {
	if opts.features <= 0 {
		return nil, fmt.Errorf("native.BatchNorm1d: num_features must be positive, got %d", opts.features)
	}
	c := opts.features
	b := &BatchNorm1d{Base: nn.NewBase(), opts: opts}
	if opts.affine {
		b.Weight = tensor.Full(1, c)
		b.Bias = tensor.Zeros(c)
	}
	if opts.tracking {
		b.RunningMean = tensor.Zeros(c)
		b.RunningVar = tensor.Full(1, c)
		b.NumBatchesTracked = tensor.Scalar(0)
	}
	return b, nil
}

func (b *BatchNorm1d) TypeName() string { return "BatchNorm1d" }

func (b *BatchNorm1d) NamedParameters() []nn.Named {
	if b.Weight == nil {
		return nil
	}
	return []nn.Named{{Name: "weight", Tensor: b.Weight}, {Name: "bias", Tensor: b.Bias}}
}

func (b *BatchNorm1d) NamedBuffers() []nn.Named {
	if b.RunningMean == nil {
		return nil
	}
	return []nn.Named{
		{Name: "running_mean", Tensor: b.RunningMean},
		{Name: "running_var", Tensor: b.RunningVar},
		{Name: "num_batches_tracked", Tensor: b.NumBatchesTracked},
	}
}

func (b *BatchNorm1d) To(device string) error { return nn.To(b, device) }

func (b *BatchNorm1d) layout(x *tensor.Tensor) (n, length int, err error) {
	c := b.opts.features
	switch {
	case x.Dim() == 2 && x.Size(1) == c:
		return x.Size(0), 1, nil
	case x.Dim() == 3 && x.Size(1) == c:
		return x.Size(0), x.Size(2), nil
	}
	return 0, 0, fmt.Errorf("native.BatchNorm1d: expected (N, %d) or (N, %d, L), got %v", c, c, x.Shape())
}

// gather copies channel c of x into dst.
func gather(dst, x []float64, c, channels, length int) {
	for i := range dst {
		n, l := i/length, i%length
		dst[i] = x[(n*channels+c)*length+l]
	}
}

// scatter is the inverse of gather.
func scatter(dst, src []float64, c, channels, length int) {
	for i, v := range src {
		n, l := i/length, i%length
		dst[(n*channels+c)*length+l] = v
	}
}

func (b *BatchNorm1d) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	if err := checkArgs("BatchNorm1d", x); err != nil {
		return nil, err
	}
	n, length, err := b.layout(x)
	if err != nil {
		return nil, err
	}
	m := n * length
	b.useBatch = b.Training() || b.RunningMean == nil
	if b.Training() && m < 2 {
		return nil, fmt.Errorf("native.BatchNorm1d: expected more than 1 value per channel when training, got %v", x.Shape())
	}
	c := b.opts.features
	b.x = x
	b.xhat = make([]float64, x.Numel())
	b.rstd = make([]float64, c)
	y := x.Clone()
	ch := make([]float64, m)
	for k := 0; k < c; k++ {
		gather(ch, x.Data(), k, c, length)
		var mean, variance float64
		if b.useBatch {
			mean, variance = stat.PopMeanVariance(ch, nil)
			if b.Training() && b.RunningMean != nil {
				mom := b.opts.momentum
				rm, rv := b.RunningMean.Data(), b.RunningVar.Data()
				rm[k] = (1-mom)*rm[k] + mom*mean
				rv[k] = (1-mom)*rv[k] + mom*variance*float64(m)/float64(m-1)
			}
		} else {
			mean, variance = b.RunningMean.Data()[k], b.RunningVar.Data()[k]
		}
		rstd := 1 / math.Sqrt(variance+b.opts.eps)
		b.rstd[k] = rstd
		floats.AddConst(-mean, ch)
		floats.Scale(rstd, ch)
		scatter(b.xhat, ch, k, c, length)
		if b.Weight != nil {
			floats.Scale(b.Weight.Data()[k], ch)
			floats.AddConst(b.Bias.Data()[k], ch)
		}
		scatter(y.Data(), ch, k, c, length)
	}
	if b.Training() && b.NumBatchesTracked != nil {
		b.NumBatchesTracked.Data()[0]++
	}
	return y, nil
}

func (b *BatchNorm1d) Backward(g *tensor.Tensor) error {
	if b.x == nil {
		return nn.ErrNoForward
	}
	n, length, err := b.layout(b.x)
	if err != nil {
		return err
	}
	c, m := b.opts.features, n*length
	fm := float64(m)
	dw := make([]float64, c)
	db := make([]float64, c)
	dx := make([]float64, b.x.Numel())
	gk := make([]float64, m)
	xk := make([]float64, m)
	for k := 0; k < c; k++ {
		gather(gk, g.Data(), k, c, length)
		gather(xk, b.xhat, k, c, length)
		dw[k] = floats.Dot(gk, xk)
		db[k] = floats.Sum(gk)
		w := 1.0
		if b.Weight != nil {
			w = b.Weight.Data()[k]
		}
		floats.Scale(w, gk)
		if b.useBatch {
			sum, dot := floats.Sum(gk), floats.Dot(gk, xk)
			for i := range gk {
				gk[i] = b.rstd[k] / fm * (fm*gk[i] - sum - xk[i]*dot)
			}
		} else {
			floats.Scale(b.rstd[k], gk)
		}
		scatter(dx, gk, k, c, length)
	}
	if b.Weight != nil {
		b.Weight.AccumulateGrad(tensor.New(b.Weight.Shape(), dw))
		b.Bias.AccumulateGrad(tensor.New(b.Bias.Shape(), db))
	}
	accumulateInput(b.x, dx)
	return nil
}
