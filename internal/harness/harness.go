// Package harness runs parity cases: it executes a module variant in the
// reference library, hands its state and arguments to the compiled native
// test function through artifacts, and compares what comes back.
package harness

import (
	"errors"
	"fmt"
	"time"

	"github.com/23skdu/longbow-parity/internal/nn/reference"
	"github.com/23skdu/longbow-parity/internal/paramtable"
	"github.com/23skdu/longbow-parity/internal/tensor"
)

var (
	// ErrUnknownModule is returned for table entries naming a module the
	// reference registry does not have.
	ErrUnknownModule = errors.New("module not in reference registry")
	// ErrMissingNativeArgs is returned when constructor_args is set
	// without native_constructor_args.
	ErrMissingNativeArgs = errors.New("constructor_args without native_constructor_args")
	// ErrMissingTracker is returned when the parity tracker has no entry
	// for a module in the table.
	ErrMissingTracker = errors.New("module missing from parity tracker")
	// ErrNotBuilt is returned when a case runs before Suite.Build.
	ErrNotBuilt = errors.New("suite not built")
	// ErrBuilt is returned by Suite.Add after Build.
	ErrBuilt = errors.New("suite already built")
	// ErrNondeterministic is returned when a seeded rerun of the reference
	// side does not reproduce its earlier result bit for bit.
	ErrNondeterministic = errors.New("reference run is not deterministic")
)

// CasePrefix starts every registered case name.
const CasePrefix = "test_nn_"

// Variant is one module variant on one device.
type Variant struct {
	// Module is the module type name, e.g. "Linear".
	Module string
	// Name is unique per constructor arguments and device.
	Name string

	Factory    reference.Factory
	Args       reference.Args
	NativeType string
	NativeArgs string

	Inputs  []paramtable.ArgSpec
	Targets []paramtable.ArgSpec
	Extra   []paramtable.ArgSpec
	Seed    uint64

	Criterion bool
	// HasParity is the table's flag: false inverts the comparison.
	HasParity bool
	// ExpectFailure is set when the tracker marks the module divergent.
	ExpectFailure bool
	Device        string
	// SkipReason, when set, makes the case a skipped marker.
	SkipReason string

	// TmpDir owns the variant's artifacts. It is removed after each run.
	TmpDir string
}

// CaseName returns the registered test name.
func (v *Variant) CaseName() string { return CasePrefix + v.Name }

// Outcome classifies a finished case.
type Outcome int

const (
	Passed Outcome = iota
	Failed
	// ExpectedFailure is a tracked divergence that failed as declared.
	ExpectedFailure
	// UnexpectedSuccess is a tracked divergence that passed.
	UnexpectedSuccess
	Skipped
	// Errored covers failures that are not parity failures: reference or
	// native errors, artifact I/O.
	Errored
)

var outcomeNames = [...]string{"passed", "failed", "expected_failure", "unexpected_success", "skipped", "errored"}

func (o Outcome) String() string {
	if int(o) < len(outcomeNames) {
		return outcomeNames[o]
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// OK reports whether the outcome counts as a successful run.
func (o Outcome) OK() bool {
	return o == Passed || o == ExpectedFailure || o == Skipped
}

// Result is the outcome of one case run.
type Result struct {
	Case    string
	Module  string
	Device  string
	Outcome Outcome
	Message string
	// MaxAbsDiff is the largest elementwise difference seen across the
	// forward output and gradients, when the comparison got that far.
	MaxAbsDiff float64
	Duration   time.Duration
	Err        error
}

// Options tune a Suite.
type Options struct {
	// Tolerance for output and gradient comparison. Zero selects
	// tensor.DefaultTolerance.
	Tolerance tensor.Tolerance
	// TmpRoot is the parent of per-variant directories; empty selects the
	// system temp dir.
	TmpRoot string
}
