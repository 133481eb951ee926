package nn

import (
	"fmt"
	"sort"
	"strings"

	"github.com/23skdu/longbow-parity/internal/tensor"
)

// Snapshot is a behavior-free copy of a module's state. Its Forward is the
// identity: only parameter and buffer structure crosses into the artifact.
type Snapshot struct {
	Type       string
	Parameters []Named
	Buffers    []Named
}

// Trace snapshots m's parameters and buffers, cloning every tensor.
func Trace(m Stateful) *Snapshot {
	return &Snapshot{
		Type:       m.TypeName(),
		Parameters: cloneNamed(m.NamedParameters()),
		Buffers:    cloneNamed(m.NamedBuffers()),
	}
}

func (s *Snapshot) TypeName() string { return s.Type }
func (s *Snapshot) NamedParameters() []Named { return s.Parameters }
func (s *Snapshot) NamedBuffers() []Named { return s.Buffers }

// Forward returns x unchanged.
func (s *Snapshot) Forward(x *tensor.Tensor) *tensor.Tensor { return x }

func cloneNamed(in []Named) []Named {
	out := make([]Named, len(in))
	for i, n := range in {
		out[i] = Named{Name: n.Name, Tensor: n.Tensor.Clone()}
	}
	return out
}

// LoadState overwrites m's parameters and buffers in place. The key sets must
// match exactly and every shape must agree; any difference is reported as
// ErrStateMismatch listing the offending keys.
func LoadState(m Stateful, params, buffers []Named) error {
	if err := loadInto(m.TypeName(), "parameter", m.NamedParameters(), params); err != nil {
		return err
	}
	return loadInto(m.TypeName(), "buffer", m.NamedBuffers(), buffers)
}

func loadInto(typeName, kind string, dst, src []Named) error {
	have := make(map[string]*tensor.Tensor, len(dst))
	for _, n := range dst {
		have[n.Name] = n.Tensor
	}
	given := make(map[string]*tensor.Tensor, len(src))
	for _, n := range src {
		given[n.Name] = n.Tensor
	}

	var missing, unexpected []string
	for name := range have {
		if _, ok := given[name]; !ok {
			missing = append(missing, name)
		}
	}
	for name := range given {
		if _, ok := have[name]; !ok {
			unexpected = append(unexpected, name)
		}
	}
	if len(missing) > 0 || len(unexpected) > 0 {
		sort.Strings(missing)
		sort.Strings(unexpected)
		return fmt.Errorf("%w: %s %s keys: missing [%s], unexpected [%s]", ErrStateMismatch,
			typeName, kind, strings.Join(missing, ", "), strings.Join(unexpected, ", "))
	}

	for _, n := range src {
		if err := have[n.Name].CopyFrom(n.Tensor); err != nil {
			return fmt.Errorf("%w: %s %s %q: %v", ErrStateMismatch, typeName, kind, n.Name, err)
		}
	}
	return nil
}
