package harness

import (
	"errors"
	"fmt"
	"strings"

	"github.com/23skdu/longbow-parity/internal/codegen"
	"github.com/23skdu/longbow-parity/internal/device"
	"github.com/23skdu/longbow-parity/internal/nn/reference"
	"github.com/23skdu/longbow-parity/internal/paramtable"
	"github.com/23skdu/longbow-parity/internal/tracker"
)

// Registrar expands parameter table entries into one variant per device.
type Registrar struct {
	Tracker *tracker.Table
	// Devices defaults to cpu only.
	Devices []string
}

// Register adds a variant to s for every entry of params and device.
// Setup errors abort registration.
func (r *Registrar) Register(s *Suite, params []paramtable.Params) error {
	for _, p := range params {
		variants, err := r.Variants(p)
		if err != nil {
			return err
		}
		for _, v := range variants {
			if err := s.Add(v); err != nil {
				return err
			}
		}
	}
	return nil
}

// Variants resolves p against the reference registry and the tracker.
func (r *Registrar) Variants(p paramtable.Params) ([]*Variant, error) {
	module := p.Module()
	entry, ok := reference.Lookup(module)
	if !ok {
		return nil, fmt.Errorf("%w: %q (%s); set fullname as ModuleName_desc or module_name as ModuleName", ErrUnknownModule, module, p.Source)
	}
	if p.HasConstructorArgs && !p.HasNativeArgs {
		return nil, fmt.Errorf("%w: %s (%s)", ErrMissingNativeArgs, p.Name(), p.Source)
	}
	qualified := "native." + module
	status, err := r.Tracker.Lookup(qualified)
	if err != nil {
		return nil, fmt.Errorf("%w: add a %q entry (%s)", ErrMissingTracker, qualified, p.Source)
	}

	criterion := entry.Criterion
	if p.Criterion != nil {
		criterion = *p.Criterion
	}

	devices := r.Devices
	if len(devices) == 0 {
		devices = []string{device.CPU}
	}
	variants := make([]*Variant, 0, len(devices))
	for _, dev := range devices {
		if err := device.Validate(dev); errors.Is(err, device.ErrUnknownDevice) {
			return nil, err
		}
		name := codegen.Identifier(p.Name())
		if dev != device.CPU {
			name += "_" + codegen.Identifier(dev)
		}
		variants = append(variants, &Variant{
			Module:        module,
			Name:          name,
			Factory:       entry.New,
			Args:          reference.Args{Positional: p.ConstructorArgs, Keyword: p.ConstructorKwargs},
			NativeType:    qualified,
			NativeArgs:    p.NativeConstructorArgs,
			Inputs:        p.Inputs,
			Targets:       p.Targets,
			Extra:         p.Extra,
			Seed:          p.Seed,
			Criterion:     criterion,
			HasParity:     p.HasParity,
			ExpectFailure: !status.HasParity,
			Device:        dev,
			SkipReason:    skipReason(p, qualified, status, dev),
		})
	}
	return variants, nil
}

func skipReason(p paramtable.Params, qualified string, status tracker.Status, dev string) string {
	kind, _, _ := strings.Cut(dev, ":")
	switch {
	case device.IsAccelerator(dev) && !p.TestCuda:
		return fmt.Sprintf("%s disables accelerator devices", p.Name())
	case !device.Available(dev):
		return fmt.Sprintf("device %s is not available", dev)
	case !status.ImplementedOn(kind):
		return fmt.Sprintf("%s is not implemented on %s", qualified, kind)
	}
	return ""
}
