package device

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func getMetricValue(m prometheus.Metric) float64 {
	var metric dto.Metric
	m.Write(&metric)
	if metric.Counter != nil {
		return *metric.Counter.Value
	}
	if metric.Gauge != nil {
		return *metric.Gauge.Value
	}
	return 0
}

func TestLookup(t *testing.T) {
	t.Setenv("PARITY_ACCELERATORS", "")

	t.Run("CPU", func(t *testing.T) {
		b, err := Lookup("cpu")
		if err != nil {
			t.Fatalf("Lookup(cpu) failed: %v", err)
		}
		if b.Name() != "CPU" {
			t.Errorf("Name() = %q, want CPU", b.Name())
		}
	})

	t.Run("CUDA unavailable", func(t *testing.T) {
		_, err := Lookup("cuda:0")
		if !errors.Is(err, ErrUnavailable) {
			t.Errorf("expected ErrUnavailable, got %v", err)
		}
		if Available("cuda") {
			t.Error("cuda should not be available")
		}
	})

	t.Run("Unknown", func(t *testing.T) {
		if err := Validate("tpu"); !errors.Is(err, ErrUnknownDevice) {
			t.Errorf("expected ErrUnknownDevice, got %v", err)
		}
	})

	t.Run("Opt-in accelerator", func(t *testing.T) {
		t.Setenv("PARITY_ACCELERATORS", "metal, cuda")
		if !Available("cuda") || !Available("metal:1") {
			t.Error("expected opted-in accelerators to be available")
		}
	})
}

func TestIsAccelerator(t *testing.T) {
	cases := map[string]bool{"cpu": false, "cuda": true, "cuda:1": true, "metal": true}
	for name, want := range cases {
		if got := IsAccelerator(name); got != want {
			t.Errorf("IsAccelerator(%q) = %v, want %v", name, got, want)
		}
	}
}
