package paramtable

import (
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/gocty"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/23skdu/longbow-parity/internal/tensor"
)

// Kind selects how argument values are generated.
type Kind int

const (
	Normal Kind = iota
	Uniform
	Index
)

func parseKind(s string) (Kind, error) {
	switch s {
	case "", "normal":
		return Normal, nil
	case "uniform":
		return Uniform, nil
	case "index":
		return Index, nil
	}
	return 0, fmt.Errorf("unknown kind %q", s)
}

func (k Kind) String() string {
	switch k {
	case Uniform:
		return "uniform"
	case Index:
		return "index"
	default:
		return "normal"
	}
}

// ArgSpec describes one generated forward argument.
type ArgSpec struct {
	Shape []int
	// Values, when set, are used as-is.
	Values []float64
	Kind   Kind
	// High bounds index values to [0, High).
	High int
}

// Floating reports whether the argument holds real values.
func (a ArgSpec) Floating() bool { return a.Kind != Index }

// Tensor materializes the argument. Generated values come from a PCG
// stream keyed by seed and stream, so a table row always yields the same
// tensors.
func (a ArgSpec) Tensor(seed, stream uint64) *tensor.Tensor {
	if a.Values != nil {
		return tensor.New(a.Shape, a.Values)
	}
	src := rand.NewPCG(seed, stream)
	t := tensor.Zeros(a.Shape...)
	d := t.Data()
	switch a.Kind {
	case Index:
		r := rand.New(src)
		for i := range d {
			d[i] = float64(r.IntN(a.High))
		}
	case Uniform:
		u := distuv.Uniform{Min: 0, Max: 1, Src: src}
		for i := range d {
			d[i] = u.Rand()
		}
	default:
		n := distuv.Normal{Mu: 0, Sigma: 1, Src: src}
		for i := range d {
			d[i] = n.Rand()
		}
	}
	return t
}

// ctyToNative converts a cty value to float64, string, bool, []any or
// map[string]any.
func ctyToNative(v cty.Value) (any, error) {
	if v.IsNull() || !v.IsKnown() {
		return nil, nil
	}
	ty := v.Type()
	switch {
	case ty == cty.String:
		return v.AsString(), nil
	case ty == cty.Number:
		var f float64
		if err := gocty.FromCtyValue(v, &f); err != nil {
			return nil, fmt.Errorf("could not convert number: %w", err)
		}
		return f, nil
	case ty == cty.Bool:
		return v.True(), nil
	case ty.IsListType() || ty.IsTupleType() || ty.IsSetType():
		out := make([]any, 0, v.LengthInt())
		it := v.ElementIterator()
		for it.Next() {
			_, ev := it.Element()
			nv, err := ctyToNative(ev)
			if err != nil {
				return nil, err
			}
			out = append(out, nv)
		}
		return out, nil
	case ty.IsObjectType() || ty.IsMapType():
		out := make(map[string]any)
		it := v.ElementIterator()
		for it.Next() {
			k, ev := it.Element()
			nv, err := ctyToNative(ev)
			if err != nil {
				return nil, fmt.Errorf("in attribute %q: %w", k.AsString(), err)
			}
			out[k.AsString()] = nv
		}
		return out, nil
	}
	return nil, fmt.Errorf("unsupported type %s", ty.FriendlyName())
}

func toShape(v any) ([]int, error) {
	list, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("shape must be a list of integers, got %T", v)
	}
	shape := make([]int, len(list))
	for i, e := range list {
		f, ok := e.(float64)
		if !ok || f != math.Trunc(f) || f <= 0 {
			return nil, fmt.Errorf("dimension %v is not a positive integer", e)
		}
		shape[i] = int(f)
	}
	return shape, nil
}

// shapes decodes either one shape [2, 3] or a list of shapes
// [[2, 3], [2, 4]].
func shapes(v cty.Value, kind Kind, high int) ([]ArgSpec, error) {
	nv, err := ctyToNative(v)
	if err != nil {
		return nil, err
	}
	list, ok := nv.([]any)
	if !ok || len(list) == 0 {
		return nil, fmt.Errorf("expected a non-empty list")
	}
	if _, nested := list[0].([]any); !nested {
		list = []any{list}
	}
	out := make([]ArgSpec, 0, len(list))
	for _, e := range list {
		shape, err := toShape(e)
		if err != nil {
			return nil, err
		}
		out = append(out, ArgSpec{Shape: shape, Kind: kind, High: high})
	}
	return out, nil
}

// literal decodes a nested numeric list into a shaped ArgSpec.
func literal(v cty.Value) (ArgSpec, error) {
	nv, err := ctyToNative(v)
	if err != nil {
		return ArgSpec{}, err
	}
	var spec ArgSpec
	var walk func(x any, depth int) error
	walk = func(x any, depth int) error {
		switch e := x.(type) {
		case float64:
			if depth != len(spec.Shape) {
				return fmt.Errorf("ragged literal")
			}
			spec.Values = append(spec.Values, e)
			return nil
		case []any:
			if depth == len(spec.Shape) {
				if len(spec.Values) > 0 {
					return fmt.Errorf("ragged literal")
				}
				spec.Shape = append(spec.Shape, len(e))
			} else if depth > len(spec.Shape) || spec.Shape[depth] != len(e) {
				return fmt.Errorf("ragged literal")
			}
			for _, item := range e {
				if err := walk(item, depth+1); err != nil {
					return err
				}
			}
			return nil
		}
		return fmt.Errorf("literal values must be numbers, got %T", x)
	}
	if err := walk(nv, 0); err != nil {
		return ArgSpec{}, err
	}
	if spec.Values == nil {
		return ArgSpec{}, fmt.Errorf("empty literal")
	}
	return spec, nil
}
