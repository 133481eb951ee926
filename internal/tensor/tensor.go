// Package tensor provides the dense/sparse float64 storage shared by the
// reference and native module libraries and by the artifact format.
package tensor

import (
	"fmt"
	"strings"
)

// Layout describes how a tensor stores its values.
type Layout int

const (
	Dense Layout = iota
	SparseCOO
)

// Tensor is a row-major float64 n-dimensional array.
//
// A SparseCOO tensor stores only the rows listed in indices (along dim 0);
// data then holds len(indices) * rowSize values. Duplicate indices are
// allowed and summed on densification.
type Tensor struct {
	shape   []int
	data    []float64
	layout  Layout
	indices []int
	device  string

	RequiresGrad bool
	Grad         *Tensor
}

// New creates a dense tensor. data is copied; nil data means zeros.
func New(shape []int, data []float64) *Tensor {
	size := numel(shape)
	t := &Tensor{
		shape:  append([]int(nil), shape...),
		data:   make([]float64, size),
		device: "cpu",
	}
	if data != nil {
		if len(data) != size {
			panic(fmt.Sprintf("tensor.New: data length %d does not match shape %v", len(data), shape))
		}
		copy(t.data, data)
	}
	return t
}

// Zeros returns a zero-filled dense tensor.
func Zeros(shape ...int) *Tensor {
	return New(shape, nil)
}

// Full returns a dense tensor filled with v.
func Full(v float64, shape ...int) *Tensor {
	t := New(shape, nil)
	for i := range t.data {
		t.data[i] = v
	}
	return t
}

// Scalar returns a 0-dim tensor.
func Scalar(v float64) *Tensor {
	return New(nil, []float64{v})
}

// NewSparse creates a COO tensor over dim 0. values must hold
// len(indices) rows of the trailing shape.
func NewSparse(shape []int, indices []int, values []float64) *Tensor {
	if len(shape) == 0 {
		panic("tensor.NewSparse: sparse tensors need at least one dimension")
	}
	row := numel(shape[1:])
	if len(values) != len(indices)*row {
		panic(fmt.Sprintf("tensor.NewSparse: %d values for %d indices of row size %d", len(values), len(indices), row))
	}
	for _, idx := range indices {
		if idx < 0 || idx >= shape[0] {
			panic(fmt.Sprintf("tensor.NewSparse: index %d out of range [0, %d)", idx, shape[0]))
		}
	}
	return &Tensor{
		shape:   append([]int(nil), shape...),
		data:    append([]float64(nil), values...),
		layout:  SparseCOO,
		indices: append([]int(nil), indices...),
		device:  "cpu",
	}
}

// OnesLike returns a dense tensor of ones with t's shape and device.
func OnesLike(t *Tensor) *Tensor {
	o := Full(1, t.shape...)
	o.device = t.device
	return o
}

// ZerosLike returns a dense tensor of zeros with t's shape and device.
func ZerosLike(t *Tensor) *Tensor {
	o := Zeros(t.shape...)
	o.device = t.device
	return o
}

// Shape returns a copy of the dimensions.
func (t *Tensor) Shape() []int {
	return append([]int(nil), t.shape...)
}

// Dim returns the number of dimensions.
func (t *Tensor) Dim() int { return len(t.shape) }

// Size returns the extent of dimension d; negative d counts from the end.
func (t *Tensor) Size(d int) int {
	if d < 0 {
		d += len(t.shape)
	}
	return t.shape[d]
}

// Numel returns the logical number of elements.
func (t *Tensor) Numel() int { return numel(t.shape) }

// Data returns the underlying storage. For sparse tensors this is the
// values buffer, not the logical elements.
func (t *Tensor) Data() []float64 { return t.data }

// Layout reports the storage layout.
func (t *Tensor) Layout() Layout { return t.layout }

// IsSparse reports whether t uses the COO layout.
func (t *Tensor) IsSparse() bool { return t.layout == SparseCOO }

// Indices returns the dim-0 indices of a sparse tensor.
func (t *Tensor) Indices() []int { return t.indices }

// Device returns the device label.
func (t *Tensor) Device() string { return t.device }

// SetDevice relabels t in place.
func (t *Tensor) SetDevice(device string) { t.device = device }

// To returns a copy of t labelled with device, preserving RequiresGrad.
func (t *Tensor) To(device string) *Tensor {
	c := t.Clone()
	c.device = device
	c.RequiresGrad = t.RequiresGrad
	return c
}

// Clone deep-copies values, layout and device. Grad is not copied.
func (t *Tensor) Clone() *Tensor {
	return &Tensor{
		shape:   append([]int(nil), t.shape...),
		data:    append([]float64(nil), t.data...),
		layout:  t.layout,
		indices: append([]int(nil), t.indices...),
		device:  t.device,
	}
}

// ToDense converts a sparse tensor to its dense equivalent, summing
// duplicate indices. Dense tensors are returned as a copy.
func (t *Tensor) ToDense() *Tensor {
	if t.layout == Dense {
		return t.Clone()
	}
	out := Zeros(t.shape...)
	out.device = t.device
	row := numel(t.shape[1:])
	for k, idx := range t.indices {
		dst := out.data[idx*row : (idx+1)*row]
		src := t.data[k*row : (k+1)*row]
		for j := range dst {
			dst[j] += src[j]
		}
	}
	return out
}

// CopyFrom overwrites t's values with src's, keeping t's storage, device
// and grad flag. Both tensors must be dense and of the same shape.
func (t *Tensor) CopyFrom(src *Tensor) error {
	if t.layout != Dense || src.layout != Dense {
		return fmt.Errorf("tensor: CopyFrom needs dense operands")
	}
	if !SameShape(t, src) {
		return fmt.Errorf("tensor: shape mismatch: have %v, got %v", t.shape, src.shape)
	}
	copy(t.data, src.data)
	return nil
}

// Densify returns t unchanged if it is dense, otherwise its dense form.
func Densify(t *Tensor) *Tensor {
	if t == nil || t.layout == Dense {
		return t
	}
	return t.ToDense()
}

// Sum reduces all logical elements.
func (t *Tensor) Sum() float64 {
	var s float64
	for _, v := range t.data {
		s += v
	}
	return s
}

// Reshape returns a dense view sharing storage with t.
func (t *Tensor) Reshape(shape ...int) *Tensor {
	if t.layout != Dense {
		panic("tensor.Reshape: sparse tensors cannot be reshaped")
	}
	if numel(shape) != len(t.data) {
		panic(fmt.Sprintf("tensor.Reshape: cannot view %v as %v", t.shape, shape))
	}
	return &Tensor{shape: append([]int(nil), shape...), data: t.data, device: t.device}
}

// AccumulateGrad adds g into t.Grad. Sparse gradients stay sparse while
// every contribution is sparse; mixing layouts densifies.
func (t *Tensor) AccumulateGrad(g *Tensor) {
	if t.Grad == nil {
		t.Grad = g.Clone()
		return
	}
	if t.Grad.layout == SparseCOO && g.layout == SparseCOO {
		t.Grad.indices = append(t.Grad.indices, g.indices...)
		t.Grad.data = append(t.Grad.data, g.data...)
		return
	}
	acc := Densify(t.Grad)
	gd := Densify(g)
	for i := range acc.data {
		acc.data[i] += gd.data[i]
	}
	t.Grad = acc
}

// String renders a short human-readable form used in parity diagnostics.
func (t *Tensor) String() string {
	if t == nil {
		return "<nil>"
	}
	d := t
	if t.layout == SparseCOO {
		d = t.ToDense()
	}
	const maxShown = 8
	var sb strings.Builder
	sb.WriteString("tensor([")
	for i, v := range d.data {
		if i == maxShown {
			sb.WriteString(", ...")
			break
		}
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "%.6g", v)
	}
	fmt.Fprintf(&sb, "], shape=%v)", t.shape)
	return sb.String()
}

func numel(shape []int) int {
	n := 1
	for _, s := range shape {
		n *= s
	}
	return n
}

// SameShape reports whether a and b have identical dimensions.
func SameShape(a, b *Tensor) bool {
	if len(a.shape) != len(b.shape) {
		return false
	}
	for i := range a.shape {
		if a.shape[i] != b.shape[i] {
			return false
		}
	}
	return true
}
