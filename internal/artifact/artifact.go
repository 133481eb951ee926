// Package artifact reads and writes the files that carry module state,
// forward arguments, outputs and gradients between the reference run and
// the compiled native test functions.
//
// Every file is one CBOR-encoded Container. The payload is decoded
// according to the container kind.
package artifact

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fxamacker/cbor/v2"

	"github.com/23skdu/longbow-parity/internal/nn"
	"github.com/23skdu/longbow-parity/internal/tensor"
)

// Format constants.
const (
	Magic   = "LBPA"
	Version = 1
)

// Kind identifies the payload of a container.
type Kind string

const (
	KindDict   Kind = "dict"
	KindArgs   Kind = "args"
	KindModule Kind = "module"
	KindValue  Kind = "value"
)

var (
	ErrInvalidMagic       = errors.New("invalid artifact magic")
	ErrUnsupportedVersion = errors.New("unsupported artifact version")
	ErrKindMismatch       = errors.New("artifact kind mismatch")
	// ErrUnsupportedValue is returned for values the format cannot carry.
	ErrUnsupportedValue = errors.New("unsupported artifact value")
)

// Container is the on-disk envelope.
type Container struct {
	Magic   string          `cbor:"magic"`
	Version int             `cbor:"version"`
	Kind    Kind            `cbor:"kind"`
	Payload cbor.RawMessage `cbor:"payload"`
}

var encMode = func() cbor.EncMode {
	em, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	return em
}()

type wireTensor struct {
	Shape        []int     `cbor:"shape"`
	Data         []float64 `cbor:"data"`
	Sparse       bool      `cbor:"sparse,omitempty"`
	Indices      []int     `cbor:"indices,omitempty"`
	Device       string    `cbor:"device,omitempty"`
	RequiresGrad bool      `cbor:"requires_grad,omitempty"`
}

type wireEntry struct {
	Name   string     `cbor:"name"`
	Tensor wireTensor `cbor:"tensor"`
}

func toWire(t *tensor.Tensor) wireTensor {
	w := wireTensor{
		Shape:        t.Shape(),
		Data:         t.Data(),
		Device:       t.Device(),
		RequiresGrad: t.RequiresGrad,
	}
	if t.IsSparse() {
		w.Sparse = true
		w.Indices = t.Indices()
	}
	if w.Shape == nil {
		w.Shape = []int{}
	}
	return w
}

func fromWire(w wireTensor) (t *tensor.Tensor, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("artifact: malformed tensor: %v", r)
		}
	}()
	if w.Sparse {
		t = tensor.NewSparse(w.Shape, w.Indices, w.Data)
	} else {
		t = tensor.New(w.Shape, w.Data)
	}
	if w.Device != "" {
		t.SetDevice(w.Device)
	}
	t.RequiresGrad = w.RequiresGrad
	return t, nil
}

func toEntries(named []nn.Named) []wireEntry {
	out := make([]wireEntry, len(named))
	for i, n := range named {
		out[i] = wireEntry{Name: n.Name, Tensor: toWire(n.Tensor)}
	}
	return out
}

func fromEntries(entries []wireEntry) ([]nn.Named, error) {
	out := make([]nn.Named, len(entries))
	for i, e := range entries {
		t, err := fromWire(e.Tensor)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", e.Name, err)
		}
		out[i] = nn.Named{Name: e.Name, Tensor: t}
	}
	return out, nil
}

func write(path string, kind Kind, payload any) error {
	raw, err := encMode.Marshal(payload)
	if err != nil {
		return fmt.Errorf("artifact: encode %s payload: %w", kind, err)
	}
	data, err := encMode.Marshal(Container{Magic: Magic, Version: Version, Kind: kind, Payload: raw})
	if err != nil {
		return fmt.Errorf("artifact: encode container: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("artifact: write %s: %w", filepath.Base(path), err)
	}
	return nil
}

func read(path string, kind Kind, payload any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("artifact: read %s: %w", filepath.Base(path), err)
	}
	var c Container
	if err := cbor.Unmarshal(data, &c); err != nil {
		return fmt.Errorf("artifact: decode %s: %w", filepath.Base(path), err)
	}
	switch {
	case c.Magic != Magic:
		return fmt.Errorf("artifact: %s: %w", filepath.Base(path), ErrInvalidMagic)
	case c.Version != Version:
		return fmt.Errorf("artifact: %s: %w: %d", filepath.Base(path), ErrUnsupportedVersion, c.Version)
	case c.Kind != kind:
		return fmt.Errorf("artifact: %s: %w: want %s, got %s", filepath.Base(path), ErrKindMismatch, kind, c.Kind)
	}
	if err := cbor.Unmarshal(c.Payload, payload); err != nil {
		return fmt.Errorf("artifact: decode %s payload: %w", kind, err)
	}
	return nil
}

// Paths names the files of one variant inside its temp directory.
type Paths struct {
	Module        string
	ArgDict       string
	ForwardOutput string
	BackwardGrads string
}

// PathsFor returns the artifact paths for variant under dir.
func PathsFor(dir, variant string) Paths {
	return Paths{
		Module:        filepath.Join(dir, variant+"_module.pt"),
		ArgDict:       filepath.Join(dir, variant+"_arg_dict.pt"),
		ForwardOutput: filepath.Join(dir, variant+"_forward_output.pt"),
		BackwardGrads: filepath.Join(dir, variant+"_backward_grad_dict.pt"),
	}
}

type wireModule struct {
	Type       string      `cbor:"type"`
	Parameters []wireEntry `cbor:"parameters"`
	Buffers    []wireEntry `cbor:"buffers"`
}

// SaveModule writes the parameters and buffers of m.
func SaveModule(path string, m nn.Stateful) error {
	return write(path, KindModule, wireModule{
		Type:       m.TypeName(),
		Parameters: toEntries(m.NamedParameters()),
		Buffers:    toEntries(m.NamedBuffers()),
	})
}

// ReadModule loads a module snapshot.
func ReadModule(path string) (*nn.Snapshot, error) {
	var w wireModule
	if err := read(path, KindModule, &w); err != nil {
		return nil, err
	}
	params, err := fromEntries(w.Parameters)
	if err != nil {
		return nil, fmt.Errorf("artifact: %s parameter %w", w.Type, err)
	}
	buffers, err := fromEntries(w.Buffers)
	if err != nil {
		return nil, fmt.Errorf("artifact: %s buffer %w", w.Type, err)
	}
	return &nn.Snapshot{Type: w.Type, Parameters: params, Buffers: buffers}, nil
}

// LoadModule overwrites the state of a freshly constructed m with the
// snapshot stored at path.
func LoadModule(path string, m nn.Stateful) error {
	s, err := ReadModule(path)
	if err != nil {
		return err
	}
	if s.Type != m.TypeName() {
		return fmt.Errorf("artifact: snapshot of %s loaded into %s: %w", s.Type, m.TypeName(), nn.ErrStateMismatch)
	}
	return nn.LoadState(m, s.Parameters, s.Buffers)
}

// SaveTensorDict writes an ordered tensor dictionary.
func SaveTensorDict(path string, d *tensor.Dict) error {
	entries := make([]wireEntry, 0, d.Len())
	for _, k := range d.Keys() {
		t, _ := d.Get(k)
		entries = append(entries, wireEntry{Name: k, Tensor: toWire(t)})
	}
	return write(path, KindDict, entries)
}

// LoadTensorDict reads a dictionary written by SaveTensorDict.
func LoadTensorDict(path string) (*tensor.Dict, error) {
	var entries []wireEntry
	if err := read(path, KindDict, &entries); err != nil {
		return nil, err
	}
	d := tensor.NewDict()
	for _, e := range entries {
		t, err := fromWire(e.Tensor)
		if err != nil {
			return nil, fmt.Errorf("artifact: %s: %w", e.Name, err)
		}
		d.Set(e.Name, t)
	}
	return d, nil
}
