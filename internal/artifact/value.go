package artifact

import (
	"fmt"
	"sort"

	"github.com/23skdu/longbow-parity/internal/tensor"
)

// ValueKind tags a node of a forward output.
type ValueKind string

const (
	TensorValue ValueKind = "tensor"
	ListValue   ValueKind = "list"
	DictValue   ValueKind = "dict"
)

// Value is a forward output: a tensor, a list of values or a string-keyed
// dictionary of values. Dictionary keys are kept sorted.
type Value struct {
	Kind   ValueKind
	Tensor *tensor.Tensor
	Items  []Value
	Keys   []string
}

// ValueOf converts a Go forward output into a Value.
func ValueOf(v any) (Value, error) {
	switch x := v.(type) {
	case Value:
		return x, nil
	case *tensor.Tensor:
		if x == nil {
			return Value{}, fmt.Errorf("artifact: nil tensor: %w", ErrUnsupportedValue)
		}
		return Value{Kind: TensorValue, Tensor: x}, nil
	case []*tensor.Tensor:
		items := make([]any, len(x))
		for i, t := range x {
			items[i] = t
		}
		return ValueOf(items)
	case []any:
		out := Value{Kind: ListValue, Items: make([]Value, len(x))}
		for i, item := range x {
			iv, err := ValueOf(item)
			if err != nil {
				return Value{}, err
			}
			out.Items[i] = iv
		}
		return out, nil
	case map[string]*tensor.Tensor:
		m := make(map[string]any, len(x))
		for k, t := range x {
			m[k] = t
		}
		return ValueOf(m)
	case map[string]any:
		out := Value{Kind: DictValue}
		for k := range x {
			out.Keys = append(out.Keys, k)
		}
		sort.Strings(out.Keys)
		for _, k := range out.Keys {
			iv, err := ValueOf(x[k])
			if err != nil {
				return Value{}, fmt.Errorf("%s: %w", k, err)
			}
			out.Items = append(out.Items, iv)
		}
		return out, nil
	default:
		return Value{}, fmt.Errorf("artifact: %T: %w", v, ErrUnsupportedValue)
	}
}

type wireValue struct {
	Kind   ValueKind   `cbor:"kind"`
	Tensor *wireTensor `cbor:"tensor,omitempty"`
	Items  []wireValue `cbor:"items,omitempty"`
	Keys   []string    `cbor:"keys,omitempty"`
}

func (v Value) wire() wireValue {
	w := wireValue{Kind: v.Kind, Keys: v.Keys}
	if v.Tensor != nil {
		t := toWire(v.Tensor)
		w.Tensor = &t
	}
	for _, item := range v.Items {
		w.Items = append(w.Items, item.wire())
	}
	return w
}

func (w wireValue) value() (Value, error) {
	v := Value{Kind: w.Kind, Keys: w.Keys}
	switch w.Kind {
	case TensorValue:
		if w.Tensor == nil {
			return Value{}, fmt.Errorf("artifact: tensor value without tensor")
		}
		t, err := fromWire(*w.Tensor)
		if err != nil {
			return Value{}, err
		}
		v.Tensor = t
	case ListValue, DictValue:
		if w.Kind == DictValue && len(w.Keys) != len(w.Items) {
			return Value{}, fmt.Errorf("artifact: dict value with %d keys and %d items", len(w.Keys), len(w.Items))
		}
		for _, item := range w.Items {
			iv, err := item.value()
			if err != nil {
				return Value{}, err
			}
			v.Items = append(v.Items, iv)
		}
	default:
		return Value{}, fmt.Errorf("artifact: value kind %q: %w", w.Kind, ErrUnsupportedValue)
	}
	return v, nil
}

// WriteValue writes a forward output.
func WriteValue(path string, v any) error {
	val, err := ValueOf(v)
	if err != nil {
		return err
	}
	return write(path, KindValue, val.wire())
}

// ReadValue reads a forward output written by WriteValue.
func ReadValue(path string) (Value, error) {
	var w wireValue
	if err := read(path, KindValue, &w); err != nil {
		return Value{}, err
	}
	return w.value()
}
