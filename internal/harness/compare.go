package harness

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"

	"github.com/23skdu/longbow-parity/internal/artifact"
	"github.com/23skdu/longbow-parity/internal/cache"
	"github.com/23skdu/longbow-parity/internal/codegen"
	"github.com/23skdu/longbow-parity/internal/tensor"
)

// ErrParityHolds is the failure of a variant declared has_parity=false
// whose native results matched anyway.
var ErrParityHolds = errors.New("expected a parity failure for a variant declared without parity, but native matched reference")

// ParityError reports the first value on which native and reference
// disagree.
type ParityError struct {
	What      string
	Native    string
	Reference string
}

func (e *ParityError) Error() string {
	return fmt.Sprintf("Parity test failed: %s in native has value: %s, which does not match the corresponding value in reference: %s",
		e.What, e.Native, e.Reference)
}

// compare checks native results against ref: forward output, number of
// gradients, presence of every reference gradient, then each gradient.
// It returns the largest elementwise difference it saw.
func compare(ref *referenceRun, out artifact.Value, grads *tensor.Dict, tol tensor.Tolerance) (float64, error) {
	want, err := artifact.ValueOf(ref.Output)
	if err != nil {
		return 0, err
	}
	diff, ok := valuesClose(want, out, tol)
	if !ok {
		return diff, &ParityError{What: "forward output", Native: formatValue(out), Reference: formatValue(want)}
	}

	if grads.Len() != ref.Grads.Len() {
		return diff, &ParityError{What: "# of parameters", Native: fmt.Sprint(grads.Len()), Reference: fmt.Sprint(ref.Grads.Len())}
	}
	for _, key := range ref.Grads.Keys() {
		param := key[:len(key)-len("_grad")]
		rg, _ := ref.Grads.Get(key)
		ng, ok := grads.Get(key)
		if !ok {
			return diff, &ParityError{What: fmt.Sprintf("\"Does module have a parameter named `%s`?\"", param), Native: "False", Reference: "True"}
		}
		diff = math.Max(diff, tensor.MaxAbsDiff(ng, rg))
		if !tensor.AllClose(ng, rg, tol) {
			return diff, &ParityError{What: fmt.Sprintf("gradient of `%s`", param), Native: ng.String(), Reference: rg.String()}
		}
	}
	return diff, nil
}

// valuesClose compares structurally and every tensor leaf with AllClose.
func valuesClose(want, got artifact.Value, tol tensor.Tolerance) (float64, bool) {
	if want.Kind != got.Kind {
		return math.Inf(1), false
	}
	switch want.Kind {
	case artifact.TensorValue:
		return tensor.MaxAbsDiff(got.Tensor, want.Tensor), tensor.AllClose(got.Tensor, want.Tensor, tol)
	case artifact.DictValue:
		if len(want.Keys) != len(got.Keys) {
			return math.Inf(1), false
		}
		for i := range want.Keys {
			if want.Keys[i] != got.Keys[i] {
				return math.Inf(1), false
			}
		}
	}
	if len(want.Items) != len(got.Items) {
		return math.Inf(1), false
	}
	var diff float64
	for i := range want.Items {
		d, ok := valuesClose(want.Items[i], got.Items[i], tol)
		diff = math.Max(diff, d)
		if !ok {
			return diff, false
		}
	}
	return diff, true
}

func formatValue(v artifact.Value) string {
	switch v.Kind {
	case artifact.TensorValue:
		return v.Tensor.String()
	case artifact.DictValue:
		s := "{"
		for i, k := range v.Keys {
			if i > 0 {
				s += ", "
			}
			s += fmt.Sprintf("%q: %s", k, formatValue(v.Items[i]))
		}
		return s + "}"
	default:
		s := "["
		for i, item := range v.Items {
			if i > 0 {
				s += ", "
			}
			s += formatValue(item)
		}
		return s + "]"
	}
}

// verdict applies the table's has_parity flag to the comparison error.
// Errors that are not parity failures pass through unchanged.
func verdict(hasParity bool, err error) error {
	var pe *ParityError
	switch {
	case err != nil && !errors.As(err, &pe):
		return err
	case hasParity:
		return err
	case err != nil:
		return nil
	default:
		return ErrParityHolds
	}
}

// check runs one variant end to end. The variant's directory is removed
// before returning, whatever the result.
func (s *Suite) check(ctx context.Context, v *Variant) (diff float64, err error) {
	if err := os.MkdirAll(v.TmpDir, 0o700); err != nil {
		return 0, err
	}
	defer func() {
		if rmErr := os.RemoveAll(v.TmpDir); rmErr != nil && err == nil {
			err = rmErr
		}
	}()

	args := buildArgs(v)
	ref, err := runReference(v, args)
	if err != nil {
		return 0, err
	}
	if err := s.checkDeterminism(v, ref); err != nil {
		return 0, err
	}

	paths := artifact.PathsFor(v.TmpDir, v.Name)
	if err := artifact.SaveModule(paths.Module, ref.Trace); err != nil {
		return 0, err
	}
	if err := artifact.SaveArgDict(paths.ArgDict, args); err != nil {
		return 0, err
	}

	if err := s.unit.Invoke(ctx, v.Name+codegen.FunctionSuffix); err != nil {
		return 0, fmt.Errorf("native %s: %w", v.Name, err)
	}
	out, err := artifact.ReadValue(paths.ForwardOutput)
	if err != nil {
		return 0, err
	}
	grads, err := artifact.LoadTensorDict(paths.BackwardGrads)
	if err != nil {
		return 0, err
	}

	diff, err = compare(ref, out, grads, s.opts.Tolerance)
	return diff, verdict(v.HasParity, err)
}

// checkDeterminism compares ref with the first reference run recorded for
// v, recording it when there is none.
func (s *Suite) checkDeterminism(v *Variant, ref *referenceRun) error {
	if s.cache == nil {
		return nil
	}
	prev, ok := s.cache.Get(v.Name)
	if !ok {
		s.cache.Put(v.Name, cache.Run{Output: ref.Output, Grads: ref.Grads})
		return nil
	}
	if !tensor.Equal(prev.Output, ref.Output) {
		return fmt.Errorf("%s: forward output: %w", v.Name, ErrNondeterministic)
	}
	for _, k := range ref.Grads.Keys() {
		g, _ := ref.Grads.Get(k)
		pg, ok := prev.Grads.Get(k)
		if !ok || !tensor.Equal(pg, g) {
			return fmt.Errorf("%s: %s: %w", v.Name, k, ErrNondeterministic)
		}
	}
	return nil
}
