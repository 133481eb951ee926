// Package jit compiles generated test programs in-process with yaegi and
// exposes their functions by name.
package jit

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/semaphore"
)

var (
	// ErrCompile wraps every compilation failure.
	ErrCompile = errors.New("jit: compilation failed")
	// ErrUnknownFunction is returned by Invoke for names not in the unit.
	ErrUnknownFunction = errors.New("jit: unknown function")
)

var tracer = otel.Tracer("parity-jit")

// Unit is a compiled program. Invocations are serialized.
type Unit struct {
	funcs map[string]func() error
	sem   *semaphore.Weighted
}

// Compile evaluates src and resolves every name in functions to a
// func() error. Any failure leaves no usable unit.
func Compile(ctx context.Context, src string, functions []string) (*Unit, error) {
	_, span := tracer.Start(ctx, "jit.Compile")
	defer span.End()
	span.SetAttributes(attribute.Int("functions", len(functions)), attribute.Int("source_bytes", len(src)))

	start := time.Now()
	u, err := compile(src, functions)
	compileDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "compile failed")
		return nil, err
	}
	log.Debug().Int("functions", len(functions)).Dur("took", time.Since(start)).Msg("Compiled native test unit")
	return u, nil
}

func compile(src string, functions []string) (u *Unit, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: panic: %v", ErrCompile, r)
		}
	}()

	i := interp.New(interp.Options{})
	if err := i.Use(stdlib.Symbols); err != nil {
		return nil, fmt.Errorf("%w: load stdlib: %v", ErrCompile, err)
	}
	if err := i.Use(Symbols); err != nil {
		return nil, fmt.Errorf("%w: load harness symbols: %v", ErrCompile, err)
	}
	if _, err := i.Eval(src); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCompile, err)
	}

	u = &Unit{funcs: make(map[string]func() error, len(functions)), sem: semaphore.NewWeighted(1)}
	for _, name := range functions {
		v, err := i.Eval("main." + name)
		if err != nil {
			return nil, fmt.Errorf("%w: resolve %s: %v", ErrCompile, name, err)
		}
		fn, ok := v.Interface().(func() error)
		if !ok {
			return nil, fmt.Errorf("%w: %s has type %s, want func() error", ErrCompile, name, v.Type())
		}
		u.funcs[name] = fn
	}
	return u, nil
}

// Functions lists the unit's callable names.
func (u *Unit) Functions() []string {
	names := make([]string, 0, len(u.funcs))
	for name := range u.funcs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Invoke runs the named function while holding the unit's invocation
// semaphore. A panic in interpreted code is returned as an error.
func (u *Unit) Invoke(ctx context.Context, name string) (err error) {
	fn, ok := u.funcs[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownFunction, name)
	}
	ctx, span := tracer.Start(ctx, "jit.Invoke")
	defer span.End()
	span.SetAttributes(attribute.String("function", name))

	if err := u.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer u.sem.Release(1)

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("jit: %s panicked: %v", name, r)
		}
		invokeDuration.Observe(time.Since(start).Seconds())
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "invoke failed")
		}
	}()
	return fn()
}
