package device

import (
	"os"
	"strings"
)

// Accelerator device kinds recognized in device strings.
const (
	CUDA  = "cuda"
	Metal = "metal"
)

// No accelerator kernels are compiled into this build. Hosts that expose an
// accelerator-backed native runtime opt in through PARITY_ACCELERATORS
// (comma-separated kinds), which only affects device availability checks.
func acceleratorAvailable(kind string) bool {
	for _, k := range strings.Split(os.Getenv("PARITY_ACCELERATORS"), ",") {
		if strings.TrimSpace(k) == kind {
			return true
		}
	}
	return false
}
