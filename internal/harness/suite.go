package harness

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/23skdu/longbow-parity/internal/artifact"
	"github.com/23skdu/longbow-parity/internal/cache"
	"github.com/23skdu/longbow-parity/internal/codegen"
	"github.com/23skdu/longbow-parity/internal/jit"
	"github.com/23skdu/longbow-parity/internal/tensor"
)

var tracer = otel.Tracer("parity-harness")

// Suite collects variants, compiles their native test functions once and
// runs them. Add every variant, call Build, then Run.
type Suite struct {
	opts    Options
	root    string
	program *codegen.Program
	cache   cache.RunCache

	variants []*Variant
	names    map[string]bool

	built bool
	unit  *jit.Unit
}

// NewSuite creates the suite's temp root. A non-nil runs cache turns on
// determinism checks across repeated runs of a case.
func NewSuite(opts Options, runs cache.RunCache) (*Suite, error) {
	if opts.Tolerance == (tensor.Tolerance{}) {
		opts.Tolerance = tensor.DefaultTolerance
	}
	root, err := os.MkdirTemp(opts.TmpRoot, "parity-")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp root: %w", err)
	}
	return &Suite{
		opts:    opts,
		root:    root,
		program: codegen.NewProgram(nil, nil),
		cache:   runs,
		names:   make(map[string]bool),
	}, nil
}

// Add registers v and appends its native test function to the program.
func (s *Suite) Add(v *Variant) error {
	if s.built {
		return ErrBuilt
	}
	if s.names[v.CaseName()] {
		return fmt.Errorf("duplicate case %s", v.CaseName())
	}
	v.TmpDir = filepath.Join(s.root, v.Name)

	args := buildArgs(v)
	converter := s.program.Metadata(v.Module).InputConverter
	var stmts, symbols []string
	for _, role := range artifact.Roles {
		for _, name := range args.Names(role) {
			if role == artifact.Input && converter != "" {
				stmts = append(stmts, codegen.ConvertedArg(name, converter))
			} else {
				stmts = append(stmts, codegen.TensorArg(name))
			}
			symbols = append(symbols, name)
		}
	}
	err := s.program.Add(v.Module, codegen.TestCase{
		VariantName:       v.Name,
		QualifiedType:     v.NativeType,
		ConstructorArgs:   v.NativeArgs,
		Device:            v.Device,
		TmpDir:            v.TmpDir,
		ArgStatements:     stmts,
		ForwardArgSymbols: symbols,
	})
	if err != nil {
		return err
	}
	s.names[v.CaseName()] = true
	s.variants = append(s.variants, v)
	return nil
}

// Variants returns the registered variants in registration order.
func (s *Suite) Variants() []*Variant { return s.variants }

// Source returns the generated native program.
func (s *Suite) Source() string { return s.program.Source() }

// Build compiles the program. It runs once; later calls are no-ops.
// Nothing is compiled when no variant was added.
func (s *Suite) Build(ctx context.Context) error {
	if s.built {
		return nil
	}
	if s.program.Len() > 0 {
		u, err := jit.Compile(ctx, s.program.Source(), s.program.Functions())
		if err != nil {
			return err
		}
		s.unit = u
	}
	s.built = true
	return nil
}

// Run runs every variant accepted by match (nil accepts all), in order.
func (s *Suite) Run(ctx context.Context, match func(caseName string) bool) []Result {
	results := make([]Result, 0, len(s.variants))
	for _, v := range s.variants {
		if match != nil && !match(v.CaseName()) {
			continue
		}
		results = append(results, s.RunCase(ctx, v))
	}
	return results
}

// RunCase runs one variant and classifies the result.
func (s *Suite) RunCase(ctx context.Context, v *Variant) Result {
	ctx, span := tracer.Start(ctx, "harness.RunCase")
	defer span.End()
	span.SetAttributes(attribute.String("case", v.CaseName()), attribute.String("device", v.Device))

	start := time.Now()
	res := Result{Case: v.CaseName(), Module: v.Module, Device: v.Device, MaxAbsDiff: math.NaN()}
	switch {
	case v.SkipReason != "":
		res.Outcome, res.Message = Skipped, v.SkipReason
	case !s.built:
		res.Outcome, res.Err = Errored, ErrNotBuilt
	default:
		diff, err := s.check(ctx, v)
		res.MaxAbsDiff = diff
		res.Outcome, res.Err = classify(v, err)
	}
	if res.Err != nil {
		res.Message = res.Err.Error()
		span.RecordError(res.Err)
	}
	if !res.Outcome.OK() {
		span.SetStatus(codes.Error, res.Outcome.String())
	}
	res.Duration = time.Since(start)

	casesTotal.WithLabelValues(res.Outcome.String()).Inc()
	caseDuration.Observe(res.Duration.Seconds())
	if !math.IsNaN(res.MaxAbsDiff) {
		maxAbsDiff.WithLabelValues(res.Case).Set(res.MaxAbsDiff)
	}

	ev := log.Debug()
	if !res.Outcome.OK() {
		ev = log.Warn()
	}
	ev.Str("case", res.Case).
		Str("device", res.Device).
		Str("status", res.Outcome.String()).
		Dur("took", res.Duration).
		Str("message", res.Message).
		Msg("Parity case finished")
	return res
}

// classify maps a check error to an outcome. Tracked divergences turn
// failures into expected failures and passes into unexpected successes.
func classify(v *Variant, err error) (Outcome, error) {
	var pe *ParityError
	failed := errors.As(err, &pe) || errors.Is(err, ErrParityHolds)
	switch {
	case err != nil && !failed:
		return Errored, err
	case v.ExpectFailure && failed:
		return ExpectedFailure, err
	case v.ExpectFailure:
		return UnexpectedSuccess, fmt.Errorf("%s is tracked without parity but passed", v.NativeType)
	case failed:
		return Failed, err
	}
	return Passed, nil
}

// Close removes the suite's temp root, including directories of variants
// that never ran.
func (s *Suite) Close() error {
	return os.RemoveAll(s.root)
}
