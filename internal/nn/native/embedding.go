package native

import (
	"fmt"

	"github.com/23skdu/longbow-parity/internal/nn"
	"github.com/23skdu/longbow-parity/internal/simd"
	"github.com/23skdu/longbow-parity/internal/tensor"
)

// Indices is an integer index tensor.
type Indices struct {
	Shape  []int
	Values []int
}

// IndicesFrom converts a tensor of integral values into Indices.
func IndicesFrom(t *tensor.Tensor) (Indices, error) {
	if t == nil {
		return Indices{}, fmt.Errorf("native: nil index tensor")
	}
	idx := Indices{Shape: t.Shape(), Values: make([]int, t.Numel())}
	for i, v := range tensor.Densify(t).Data() {
		k := int(v)
		if float64(k) != v {
			return Indices{}, fmt.Errorf("native: non-integral index %v", v)
		}
		idx.Values[i] = k
	}
	return idx, nil
}

// EmbeddingOptions configures Embedding.
type EmbeddingOptions struct {
	num, dim   int
	paddingIdx *int
	sparse     bool
}

func NewEmbeddingOptions(num, dim int) EmbeddingOptions {
	return EmbeddingOptions{num: num, dim: dim}
}

func (o EmbeddingOptions) PaddingIdx(i int) EmbeddingOptions {
	o.paddingIdx = &i
	return o
}

func (o EmbeddingOptions) Sparse(on bool) EmbeddingOptions {
	o.sparse = on
	return o
}

type Embedding struct {
	nn.Base
	opts    EmbeddingOptions
	padding int
	Weight  *tensor.Tensor

	idx []int
}

func NewEmbedding(opts EmbeddingOptions) (*Embedding, error) {
	if opts.num <= 0 || opts.dim <= 0 {
		return nil, fmt.Errorf("native.Embedding: invalid size %d x %d", opts.num, opts.dim)
	}
	e := &Embedding{Base: nn.NewBase(), opts: opts, padding: -1, Weight: tensor.Zeros(opts.num, opts.dim)}
	for i := range e.Weight.Data() {
		e.Weight.Data()[i] = normal()
	}
	if opts.paddingIdx != nil {
		p := *opts.paddingIdx
		if p < 0 {
			p += opts.num
		}
		if p < 0 || p >= opts.num {
			return nil, fmt.Errorf("native.Embedding: padding_idx out of range for %d embeddings", opts.num)
		}
		e.padding = p
		row := e.Weight.Data()[p*opts.dim : (p+1)*opts.dim]
		for i := range row {
			row[i] = 0
		}
	}
	return e, nil
}

func (e *Embedding) TypeName() string { return "Embedding" }

func (e *Embedding) NamedParameters() []nn.Named {
	return []nn.Named{{Name: "weight", Tensor: e.Weight}}
}

func (e *Embedding) NamedBuffers() []nn.Named { return nil }
func (e *Embedding) To(device string) error { return nn.To(e, device) }

func (e *Embedding) Forward(idx Indices) (*tensor.Tensor, error) {
	dim := e.opts.dim
	for _, k := range idx.Values {
		if k < 0 || k >= e.opts.num {
			return nil, fmt.Errorf("native.Embedding: index %d out of range [0, %d)", k, e.opts.num)
		}
	}
	e.idx = idx.Values
	y := tensor.Zeros(append(append([]int(nil), idx.Shape...), dim)...)
	w := e.Weight.Data()
	for i, k := range idx.Values {
		copy(y.Data()[i*dim:(i+1)*dim], w[k*dim:(k+1)*dim])
	}
	y.SetDevice(e.Device())
	return y, nil
}

func (e *Embedding) Backward(g *tensor.Tensor) error {
	if e.idx == nil {
		return nn.ErrNoForward
	}
	dim := e.opts.dim
	gd := g.Data()
	if e.opts.sparse {
		rows := make([]int, 0, len(e.idx))
		vals := make([]float64, 0, len(gd))
		for i, k := range e.idx {
			if k != e.padding {
				rows = append(rows, k)
				vals = append(vals, gd[i*dim:(i+1)*dim]...)
			}
		}
		e.Weight.AccumulateGrad(tensor.NewSparse(e.Weight.Shape(), rows, vals))
		return nil
	}
	dw := make([]float64, e.opts.num*dim)
	for i, k := range e.idx {
		if k != e.padding {
			simd.VecAdd(dw[k*dim:(k+1)*dim], gd[i*dim:(i+1)*dim])
		}
	}
	e.Weight.AccumulateGrad(tensor.New(e.Weight.Shape(), dw))
	return nil
}
