// Package nn defines the module contract shared by the reference and native
// libraries: named parameters and buffers, device placement, explicit
// backward, gradient collection and state transfer.
package nn

import (
	"errors"
	"fmt"

	"github.com/23skdu/longbow-parity/internal/device"
	"github.com/23skdu/longbow-parity/internal/tensor"
)

var (
	// ErrNoForward is returned by Backward when no forward pass was recorded.
	ErrNoForward = errors.New("backward called before forward")
	// ErrNoGrad is returned when a parameter has no gradient to collect.
	ErrNoGrad = errors.New("parameter has no gradient")
	// ErrStateMismatch is returned when loaded state keys or shapes do not
	// match the target module exactly.
	ErrStateMismatch = errors.New("state mismatch")
)

// Named pairs a state name with its tensor.
type Named struct {
	Name   string
	Tensor *tensor.Tensor
}

// Stateful exposes the parameter and buffer structure of a module.
type Stateful interface {
	TypeName() string
	NamedParameters() []Named
	NamedBuffers() []Named
}

// Module is the behavior shared by every reference and native module.
// Forward is deliberately absent: its signature differs per library.
type Module interface {
	Stateful
	To(device string) error
	Train(on bool)
	Training() bool
	// Backward propagates gradOut (the gradient of the scalar loss with
	// respect to the last forward output) into parameter gradients.
	Backward(gradOut *tensor.Tensor) error
}

// Base carries training mode and device placement. Modules embed it.
type Base struct {
	training bool
	device   string
}

// NewBase returns a Base in training mode on the CPU.
func NewBase() Base {
	return Base{training: true, device: device.CPU}
}

func (b *Base) Train(on bool) { b.training = on }

func (b *Base) Training() bool { return b.training }

// Device returns the device the module was last moved to.
func (b *Base) Device() string { return b.device }

func (b *Base) setDevice(d string) { b.device = d }

type deviceSetter interface {
	setDevice(string)
}

// To validates name and relabels every parameter and buffer of m. Modules
// implement their To method with it.
func To(m Stateful, name string) error {
	if err := device.Validate(name); err != nil {
		return fmt.Errorf("%s.To: %w", m.TypeName(), err)
	}
	for _, p := range m.NamedParameters() {
		p.Tensor.SetDevice(name)
	}
	for _, b := range m.NamedBuffers() {
		b.Tensor.SetDevice(name)
	}
	if ds, ok := m.(deviceSetter); ok {
		ds.setDevice(name)
	}
	return nil
}

// Backward seeds backpropagation of sum(out) through m.
func Backward(m Module, out *tensor.Tensor) error {
	if out == nil {
		return ErrNoForward
	}
	return m.Backward(tensor.OnesLike(out))
}

// ZeroGrad clears every parameter gradient of m.
func ZeroGrad(m Stateful) {
	for _, p := range m.NamedParameters() {
		p.Tensor.Grad = nil
	}
}

// GradDict collects every parameter gradient of m under "<name>_grad",
// densifying sparse gradients.
func GradDict(m Stateful) (*tensor.Dict, error) {
	d := tensor.NewDict()
	for _, p := range m.NamedParameters() {
		if p.Tensor.Grad == nil {
			return nil, fmt.Errorf("%s.%s: %w", m.TypeName(), p.Name, ErrNoGrad)
		}
		d.Set(p.Name+"_grad", tensor.Densify(p.Tensor.Grad))
	}
	return d, nil
}
