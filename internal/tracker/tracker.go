// Package tracker holds the hand-maintained parity status of every native
// module: whether it is expected to match the reference library, and on
// which devices it is not implemented yet.
package tracker

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// ErrNotTracked is returned by Lookup for modules missing from the table.
var ErrNotTracked = errors.New("module not in parity tracker")

//go:embed parity.yaml
var defaultTable []byte

// Status is the tracked parity state of one native module.
type Status struct {
	HasParity     bool     `yaml:"has_parity"`
	Note          string   `yaml:"note,omitempty"`
	Unimplemented []string `yaml:"unimplemented,omitempty"`
}

// ImplementedOn reports whether the module is implemented for device.
func (s Status) ImplementedOn(device string) bool {
	for _, d := range s.Unimplemented {
		if d == device {
			return false
		}
	}
	return true
}

// Table maps fully-qualified native names ("native.Linear") to their status.
type Table struct {
	entries map[string]Status
}

type document struct {
	Native map[string]Status `yaml:"native"`
}

// Parse decodes a tracker document. Unknown fields are rejected.
func Parse(data []byte) (*Table, error) {
	var doc document
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode parity tracker: %w", err)
	}
	if len(doc.Native) == 0 {
		return nil, errors.New("parity tracker has no native entries")
	}
	return &Table{entries: doc.Native}, nil
}

// Load reads a tracker file.
func Load(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	t, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return t, nil
}

// Default returns the tracker compiled into the binary.
func Default() (*Table, error) {
	return Parse(defaultTable)
}

// Lookup returns the status of name, e.g. "native.Linear".
func (t *Table) Lookup(name string) (Status, error) {
	s, ok := t.entries[name]
	if !ok {
		return Status{}, fmt.Errorf("%s: %w", name, ErrNotTracked)
	}
	return s, nil
}

// Names lists tracked modules in sorted order.
func (t *Table) Names() []string {
	names := make([]string, 0, len(t.entries))
	for n := range t.entries {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
