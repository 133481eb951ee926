package reference

import (
	"fmt"
	"math"

	"github.com/23skdu/longbow-parity/internal/nn"
	"github.com/23skdu/longbow-parity/internal/tensor"
)

// LayerNorm normalizes over the trailing Shape dimensions.
type LayerNorm struct {
	nn.Base
	Shape  []int
	Eps    float64
	Weight *tensor.Tensor
	Bias   *tensor.Tensor

	x    *tensor.Tensor
	xhat []float64
	rstd []float64
}

func newLayerNorm(a Args) (Module, error) {
	shape, err := a.Shape(0, "normalized_shape")
	if err != nil {
		return nil, err
	}
	eps, err := a.Float(1, "eps", 1e-5)
	if err != nil {
		return nil, err
	}
	affine, err := a.Bool(2, "elementwise_affine", true)
	if err != nil {
		return nil, err
	}
	ln := &LayerNorm{Base: nn.NewBase(), Shape: shape, Eps: eps}
	if affine {
		ln.Weight = tensor.Full(1, shape...)
		ln.Bias = tensor.Zeros(shape...)
	}
	return ln, nil
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

func (l *LayerNorm) groupSize(x *tensor.Tensor) (int, error) {
	shape := x.Shape()
	if len(shape) < len(l.Shape) {
		return 0, fmt.Errorf("LayerNorm: input shape %v shorter than normalized shape %v", shape, l.Shape)
	}
	tail := shape[len(shape)-len(l.Shape):]
	n := 1
	for i, s := range l.Shape {
		if tail[i] != s {
			return 0, fmt.Errorf("LayerNorm: input shape %v does not end with %v", shape, l.Shape)
		}
		n *= s
	}
	return n, nil
}

func (l *LayerNorm) Forward(inputs ...*tensor.Tensor) (*tensor.Tensor, error) {
	if err := checkArity("LayerNorm", inputs, 1); err != nil {
		return nil, err
	}
	x := inputs[0]
	n, err := l.groupSize(x)
	if err != nil {
		return nil, err
	}
	l.x = x
	groups := x.Numel() / n
	l.xhat = make([]float64, x.Numel())
	l.rstd = make([]float64, groups)
	y := x.Clone()
	for gi := 0; gi < groups; gi++ {
		row := x.Data()[gi*n : (gi+1)*n]
		var mean, variance float64
		for _, v := range row {
			mean += v
		}
		mean /= float64(n)
		for _, v := range row {
			variance += (v - mean) * (v - mean)
		}
		variance /= float64(n)
		rstd := 1 / math.Sqrt(variance+l.Eps)
		l.rstd[gi] = rstd
		for j, v := range row {
			xh := (v - mean) * rstd
			l.xhat[gi*n+j] = xh
			if l.Weight != nil {
				xh = xh*l.Weight.Data()[j] + l.Bias.Data()[j]
			}
			y.Data()[gi*n+j] = xh
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
	dx := make([]float64, len(l.xhat))
	var dw, db []float64
	if l.Weight != nil {
		dw = make([]float64, n)
		db = make([]float64, n)
	}
	dxhat := make([]float64, n)
	for gi, rstd := range l.rstd {
		var sum, dot float64
		for j := 0; j < n; j++ {
			k := gi*n + j
			dxhat[j] = gd[k]
			if l.Weight != nil {
				dw[j] += gd[k] * l.xhat[k]
				db[j] += gd[k]
				dxhat[j] *= l.Weight.Data()[j]
			}
			sum += dxhat[j]
			dot += dxhat[j] * l.xhat[k]
		}
		for j := 0; j < n; j++ {
			k := gi*n + j
			dx[k] = rstd / float64(n) * (float64(n)*dxhat[j] - sum - l.xhat[k]*dot)
		}
	}
	if l.Weight != nil {
		l.Weight.AccumulateGrad(tensor.New(l.Weight.Shape(), dw))
		l.Bias.AccumulateGrad(tensor.New(l.Bias.Shape(), db))
	}
	accumulateInput(l.x, dx)
	return nil
}

// BatchNorm1d normalizes each channel of an (N, C) or (N, C, L) input over
// the batch. In training mode it updates the running statistics and the
// batch counter.
type BatchNorm1d struct {
	nn.Base
	Features          int
	Eps, Momentum     float64
	Weight, Bias      *tensor.Tensor
	RunningMean       *tensor.Tensor
	RunningVar        *tensor.Tensor
	NumBatchesTracked *tensor.Tensor

	x        *tensor.Tensor
	xhat     []float64
	rstd     []float64
	useBatch bool
}

func newBatchNorm1d(a Args) (Module, error) {
	c, err := a.Int(0, "num_features", 0)
	if err != nil {
		return nil, err
	}
	if c <= 0 {
		return nil, fmt.Errorf("BatchNorm1d: num_features must be positive, got %d", c)
	}
	eps, err := a.Float(1, "eps", 1e-5)
	if err != nil {
		return nil, err
	}
	momentum, err := a.Float(2, "momentum", 0.1)
	if err != nil {
		return nil, err
	}
	affine, err := a.Bool(3, "affine", true)
	if err != nil {
		return nil, err
	}
	track, err := a.Bool(4, "track_running_stats", true)
	if err != nil {
		return nil, err
	}
	bn := &BatchNorm1d{Base: nn.NewBase(), Features: c, Eps: eps, Momentum: momentum}
	if affine {
		bn.Weight = tensor.Full(1, c)
		bn.Bias = tensor.Zeros(c)
	}
	if track {
		bn.RunningMean = tensor.Zeros(c)
		bn.RunningVar = tensor.Full(1, c)
		bn.NumBatchesTracked = tensor.Scalar(0)
	}
	return bn, nil
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

// channelLayout returns batch size and trailing length for x.
func (b *BatchNorm1d) channelLayout(x *tensor.Tensor) (n, length int, err error) {
	switch {
	case x.Dim() == 2 && x.Size(1) == b.Features:
		return x.Size(0), 1, nil
	case x.Dim() == 3 && x.Size(1) == b.Features:
		return x.Size(0), x.Size(2), nil
	default:
		return 0, 0, fmt.Errorf("BatchNorm1d: expected (N, %d) or (N, %d, L), got %v", b.Features, b.Features, x.Shape())
	}
}

func (b *BatchNorm1d) Forward(inputs ...*tensor.Tensor) (*tensor.Tensor, error) {
	if err := checkArity("BatchNorm1d", inputs, 1); err != nil {
		return nil, err
	}
	x := inputs[0]
	n, length, err := b.channelLayout(x)
	if err != nil {
		return nil, err
	}
	b.useBatch = b.Training() || b.RunningMean == nil
	if b.useBatch && n*length < 2 && b.Training() {
		return nil, fmt.Errorf("BatchNorm1d: expected more than 1 value per channel when training, got %v", x.Shape())
	}
	b.x = x
	b.xhat = make([]float64, x.Numel())
	b.rstd = make([]float64, b.Features)
	y := x.Clone()
	at := func(i, c, l int) int { return (i*b.Features+c)*length + l }
	m := float64(n * length)

	for c := 0; c < b.Features; c++ {
		var mean, variance float64
		if b.useBatch {
			for i := 0; i < n; i++ {
				for l := 0; l < length; l++ {
					mean += x.Data()[at(i, c, l)]
				}
			}
			mean /= m
			for i := 0; i < n; i++ {
				for l := 0; l < length; l++ {
					d := x.Data()[at(i, c, l)] - mean
					variance += d * d
				}
			}
			variance /= m
			if b.Training() && b.RunningMean != nil {
				rm, rv := b.RunningMean.Data(), b.RunningVar.Data()
				rm[c] = (1-b.Momentum)*rm[c] + b.Momentum*mean
				rv[c] = (1-b.Momentum)*rv[c] + b.Momentum*variance*m/(m-1)
			}
		} else {
			mean, variance = b.RunningMean.Data()[c], b.RunningVar.Data()[c]
		}
		rstd := 1 / math.Sqrt(variance+b.Eps)
		b.rstd[c] = rstd
		for i := 0; i < n; i++ {
			for l := 0; l < length; l++ {
				k := at(i, c, l)
				xh := (x.Data()[k] - mean) * rstd
				b.xhat[k] = xh
				if b.Weight != nil {
					xh = xh*b.Weight.Data()[c] + b.Bias.Data()[c]
				}
				y.Data()[k] = xh
			}
		}
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
	n, length, err := b.channelLayout(b.x)
	if err != nil {
		return err
	}
	at := func(i, c, l int) int { return (i*b.Features+c)*length + l }
	m := float64(n * length)
	gd := g.Data()
	dx := make([]float64, len(b.xhat))
	dw := make([]float64, b.Features)
	db := make([]float64, b.Features)
	for c := 0; c < b.Features; c++ {
		w := 1.0
		if b.Weight != nil {
			w = b.Weight.Data()[c]
		}
		var sum, dot float64
		for i := 0; i < n; i++ {
			for l := 0; l < length; l++ {
				k := at(i, c, l)
				dw[c] += gd[k] * b.xhat[k]
				db[c] += gd[k]
				sum += gd[k] * w
				dot += gd[k] * w * b.xhat[k]
			}
		}
		for i := 0; i < n; i++ {
			for l := 0; l < length; l++ {
				k := at(i, c, l)
				if b.useBatch {
					dx[k] = b.rstd[c] / m * (m*gd[k]*w - sum - b.xhat[k]*dot)
				} else {
					dx[k] = gd[k] * w * b.rstd[c]
				}
			}
		}
	}
	if b.Weight != nil {
		b.Weight.AccumulateGrad(tensor.New(b.Weight.Shape(), dw))
		b.Bias.AccumulateGrad(tensor.New(b.Bias.Shape(), db))
	}
	accumulateInput(b.x, dx)
	return nil
}
