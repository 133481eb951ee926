package artifact

import (
	"fmt"

	"github.com/23skdu/longbow-parity/internal/tensor"
)

// Role groups forward arguments.
type Role string

const (
	Input     Role = "input"
	Target    Role = "target"
	ExtraArgs Role = "extra_args"
)

// Roles lists the roles in forward-argument order.
var Roles = []Role{Input, Target, ExtraArgs}

// Arg is one named forward argument.
type Arg struct {
	Name   string
	Tensor *tensor.Tensor
}

// ArgDict holds forward arguments by role, each role in insertion order.
type ArgDict struct {
	roles map[Role][]Arg
}

func NewArgDict() *ArgDict {
	return &ArgDict{roles: make(map[Role][]Arg)}
}

// Add appends a named tensor to role.
func (d *ArgDict) Add(role Role, name string, t *tensor.Tensor) {
	d.roles[role] = append(d.roles[role], Arg{Name: name, Tensor: t})
}

// Args returns the arguments of role.
func (d *ArgDict) Args(role Role) []Arg { return d.roles[role] }

// Names returns the argument names of role in order.
func (d *ArgDict) Names(role Role) []string {
	names := make([]string, 0, len(d.roles[role]))
	for _, a := range d.roles[role] {
		names = append(names, a.Name)
	}
	return names
}

// All returns every argument in forward order.
func (d *ArgDict) All() []Arg {
	var out []Arg
	for _, r := range Roles {
		out = append(out, d.roles[r]...)
	}
	return out
}

// Tensor returns the argument called name, or nil.
func (d *ArgDict) Tensor(name string) *tensor.Tensor {
	for _, a := range d.All() {
		if a.Name == name {
			return a.Tensor
		}
	}
	return nil
}

type wireArgs struct {
	Input     []wireEntry `cbor:"input"`
	Target    []wireEntry `cbor:"target"`
	ExtraArgs []wireEntry `cbor:"extra_args"`
}

func (w *wireArgs) role(r Role) *[]wireEntry {
	switch r {
	case Input:
		return &w.Input
	case Target:
		return &w.Target
	default:
		return &w.ExtraArgs
	}
}

// SaveArgDict writes d. Arguments must be dense tensors.
func SaveArgDict(path string, d *ArgDict) error {
	var w wireArgs
	for role := range d.roles {
		known := false
		for _, r := range Roles {
			known = known || r == role
		}
		if !known {
			return fmt.Errorf("artifact: role %q: %w", role, ErrUnsupportedValue)
		}
	}
	for _, r := range Roles {
		dst := w.role(r)
		*dst = []wireEntry{}
		for _, a := range d.roles[r] {
			if a.Tensor == nil || a.Tensor.IsSparse() {
				return fmt.Errorf("artifact: argument %s must be a dense tensor: %w", a.Name, ErrUnsupportedValue)
			}
			*dst = append(*dst, wireEntry{Name: a.Name, Tensor: toWire(a.Tensor)})
		}
	}
	return write(path, KindArgs, w)
}

// LoadArgDict reads an argument dictionary written by SaveArgDict.
func LoadArgDict(path string) (*ArgDict, error) {
	var w wireArgs
	if err := read(path, KindArgs, &w); err != nil {
		return nil, err
	}
	d := NewArgDict()
	for _, r := range Roles {
		for _, e := range *w.role(r) {
			t, err := fromWire(e.Tensor)
			if err != nil {
				return nil, fmt.Errorf("artifact: argument %s: %w", e.Name, err)
			}
			d.Add(r, e.Name, t)
		}
	}
	return d, nil
}
