package reference

import (
	"fmt"

	"github.com/23skdu/longbow-parity/internal/nn"
	"github.com/23skdu/longbow-parity/internal/tensor"
)

// Embedding looks up rows of Weight by integer index. With Sparse set the
// weight gradient is a COO tensor holding one row per looked-up index.
// Rows at PaddingIdx are never updated.
type Embedding struct {
	nn.Base
	Num, Dim   int
	PaddingIdx int // -1 when unset
	Sparse     bool
	Weight     *tensor.Tensor

	idx      []int
	idxShape []int
}

func newEmbedding(a Args) (Module, error) {
	num, err := a.Int(0, "num_embeddings", 0)
	if err != nil {
		return nil, err
	}
	dim, err := a.Int(1, "embedding_dim", 0)
	if err != nil {
		return nil, err
	}
	if num <= 0 || dim <= 0 {
		return nil, fmt.Errorf("Embedding: invalid size %d x %d", num, dim)
	}
	pad, hasPad, err := a.OptionalInt(2, "padding_idx")
	if err != nil {
		return nil, err
	}
	if _, ok := a.Keyword["max_norm"]; ok {
		return nil, fmt.Errorf("Embedding: max_norm is not supported")
	}
	sparse, err := a.Bool(-1, "sparse", false)
	if err != nil {
		return nil, err
	}
	e := &Embedding{Base: nn.NewBase(), Num: num, Dim: dim, PaddingIdx: -1, Sparse: sparse, Weight: tensor.Zeros(num, dim)}
	for i := range e.Weight.Data() {
		e.Weight.Data()[i] = normal()
	}
	if hasPad {
		if pad < 0 {
			pad += num
		}
		if pad < 0 || pad >= num {
			return nil, fmt.Errorf("Embedding: padding_idx out of range for %d embeddings", num)
		}
		e.PaddingIdx = pad
		row := e.Weight.Data()[pad*dim : (pad+1)*dim]
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

// Forward takes a tensor of integral indices and returns shape
// indices.shape + [Dim].
func (e *Embedding) Forward(inputs ...*tensor.Tensor) (*tensor.Tensor, error) {
	if err := checkArity("Embedding", inputs, 1); err != nil {
		return nil, err
	}
	in := inputs[0]
	idx := make([]int, in.Numel())
	for i, v := range in.Data() {
		k := int(v)
		if float64(k) != v || k < 0 || k >= e.Num {
			return nil, fmt.Errorf("Embedding.Forward: index %v out of range [0, %d)", v, e.Num)
		}
		idx[i] = k
	}
	e.idx, e.idxShape = idx, in.Shape()
	y := tensor.Zeros(append(in.Shape(), e.Dim)...)
	w := e.Weight.Data()
	for i, k := range idx {
		copy(y.Data()[i*e.Dim:(i+1)*e.Dim], w[k*e.Dim:(k+1)*e.Dim])
	}
	y.SetDevice(in.Device())
	return y, nil
}

func (e *Embedding) Backward(g *tensor.Tensor) error {
	if e.idx == nil {
		return nn.ErrNoForward
	}
	gd := g.Data()
	if e.Sparse {
		var rows []int
		var vals []float64
		for i, k := range e.idx {
			if k == e.PaddingIdx {
				continue
			}
			rows = append(rows, k)
			vals = append(vals, gd[i*e.Dim:(i+1)*e.Dim]...)
		}
		e.Weight.AccumulateGrad(tensor.NewSparse(e.Weight.Shape(), rows, vals))
		return nil
	}
	dw := make([]float64, e.Num*e.Dim)
	for i, k := range e.idx {
		if k == e.PaddingIdx {
			continue
		}
		row := dw[k*e.Dim : (k+1)*e.Dim]
		for j := range row {
			row[j] += gd[i*e.Dim+j]
		}
	}
	e.Weight.AccumulateGrad(tensor.New(e.Weight.Shape(), dw))
	return nil
}
