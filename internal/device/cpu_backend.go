package device

import (
	"sync"

	"gonum.org/v1/gonum/mat"
)

// ensure interface compliance
var _ Backend = (*CPUBackend)(nil)

// CPUBackend hands out pooled gonum matrices for the native kernels.
type CPUBackend struct {
	pool sync.Pool
}

func NewCPUBackend() *CPUBackend {
	return &CPUBackend{}
}

func (b *CPUBackend) Name() string {
	return "CPU"
}

func (b *CPUBackend) GetDense(r, c int) *mat.Dense {
	size := r * c
	if v := b.pool.Get(); v != nil {
		buf := v.(*[]float64)
		if cap(*buf) >= size {
			raw := (*buf)[:size]
			for i := range raw {
				raw[i] = 0
			}
			poolHits.Inc()
			return mat.NewDense(r, c, raw)
		}
		// too small, let it go
	}
	poolMisses.Inc()
	return mat.NewDense(r, c, nil)
}

func (b *CPUBackend) PutDense(m *mat.Dense) {
	if m == nil || m.IsEmpty() {
		return
	}
	raw := m.RawMatrix().Data
	b.pool.Put(&raw)
}

func (b *CPUBackend) Synchronize() {
	// CPU is always synchronous
}
