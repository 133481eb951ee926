package device

import (
	"errors"
	"fmt"
	"strings"

	"gonum.org/v1/gonum/mat"
)

// CPU is the default device name.
const CPU = "cpu"

var (
	// ErrUnknownDevice is returned for device names no backend recognizes.
	ErrUnknownDevice = errors.New("unknown device")
	// ErrUnavailable is returned for recognized devices with no usable
	// backend in this build or on this host.
	ErrUnavailable = errors.New("device unavailable")
)

// Backend owns scratch memory for the native kernels on one device.
type Backend interface {
	Name() string

	// GetDense gets an r x c zeroed matrix from the pool or allocates one.
	GetDense(r, c int) *mat.Dense

	// PutDense returns a matrix to the pool.
	PutDense(m *mat.Dense)

	// Synchronize blocks until all queued work is complete.
	Synchronize()
}

var cpuBackend = NewCPUBackend()

// Lookup resolves a device string such as "cpu" or "cuda:0" to its backend.
func Lookup(name string) (Backend, error) {
	kind, _, _ := strings.Cut(name, ":")
	switch kind {
	case CPU:
		return cpuBackend, nil
	case CUDA, Metal:
		if !acceleratorAvailable(kind) {
			return nil, fmt.Errorf("%w: %s", ErrUnavailable, name)
		}
		return cpuBackend, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDevice, name)
	}
}

// Available reports whether name resolves to a usable backend.
func Available(name string) bool {
	_, err := Lookup(name)
	return err == nil
}

// Validate returns nil when name is usable.
func Validate(name string) error {
	_, err := Lookup(name)
	return err
}

// IsAccelerator reports whether name refers to a non-CPU device.
func IsAccelerator(name string) bool {
	kind, _, _ := strings.Cut(name, ":")
	return kind == CUDA || kind == Metal
}
