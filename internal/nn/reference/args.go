package reference

import (
	"fmt"
	"math"
)

// Args holds constructor arguments decoded from the parameter table.
// Numbers arrive as float64, lists as []any.
type Args struct {
	Positional []any
	Keyword    map[string]any
}

func (a Args) lookup(pos int, name string) (any, bool) {
	if pos >= 0 && pos < len(a.Positional) {
		return a.Positional[pos], true
	}
	v, ok := a.Keyword[name]
	return v, ok
}

// Int returns the integer at position pos, else keyword name, else def.
func (a Args) Int(pos int, name string, def int) (int, error) {
	v, ok := a.lookup(pos, name)
	if !ok || v == nil {
		return def, nil
	}
	return toInt(name, v)
}

// OptionalInt is Int without a default; ok is false when the argument is
// absent or null.
func (a Args) OptionalInt(pos int, name string) (n int, ok bool, err error) {
	v, present := a.lookup(pos, name)
	if !present || v == nil {
		return 0, false, nil
	}
	n, err = toInt(name, v)
	return n, err == nil, err
}

// Float returns a float argument.
func (a Args) Float(pos int, name string, def float64) (float64, error) {
	v, ok := a.lookup(pos, name)
	if !ok || v == nil {
		return def, nil
	}
	switch x := v.(type) {
	case float64:
		return x, nil
	case int:
		return float64(x), nil
	default:
		return 0, fmt.Errorf("argument %s: want number, got %T", name, v)
	}
}

// Bool returns a boolean argument.
func (a Args) Bool(pos int, name string, def bool) (bool, error) {
	v, ok := a.lookup(pos, name)
	if !ok || v == nil {
		return def, nil
	}
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("argument %s: want bool, got %T", name, v)
	}
	return b, nil
}

// String returns a string argument.
func (a Args) String(pos int, name, def string) (string, error) {
	v, ok := a.lookup(pos, name)
	if !ok || v == nil {
		return def, nil
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("argument %s: want string, got %T", name, v)
	}
	return s, nil
}

// Shape accepts either a single integer or a list of integers.
func (a Args) Shape(pos int, name string) ([]int, error) {
	v, ok := a.lookup(pos, name)
	if !ok || v == nil {
		return nil, fmt.Errorf("argument %s is required", name)
	}
	list, isList := v.([]any)
	if !isList {
		n, err := toInt(name, v)
		if err != nil {
			return nil, err
		}
		return []int{n}, nil
	}
	shape := make([]int, len(list))
	for i, e := range list {
		n, err := toInt(name, e)
		if err != nil {
			return nil, err
		}
		shape[i] = n
	}
	return shape, nil
}

func toInt(name string, v any) (int, error) {
	switch x := v.(type) {
	case int:
		return x, nil
	case float64:
		if x != math.Trunc(x) {
			return 0, fmt.Errorf("argument %s: %v is not an integer", name, x)
		}
		return int(x), nil
	default:
		return 0, fmt.Errorf("argument %s: want integer, got %T", name, v)
	}
}
