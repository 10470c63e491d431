package sluice

import (
	"context"
	"fmt"
	"reflect"

	"github.com/go-json-experiment/json"
	serrors "github.com/go-sif/sluice/errors"
	"github.com/go-sif/sluice/internal/graph"
	iutil "github.com/go-sif/sluice/internal/util"
)

// Emitter receives the output of a DoFn or Source. It is bound to a single task attempt.
// If a downstream consumer fails, the first error is kept, later emissions are dropped and
// the task attempt fails once the current call returns.
type Emitter[T any] interface {
	Emit(v T)
}

// DoFn transforms one input element into zero or more output elements.
// A DoFn's configuration is its exported fields: struct DoFns are serialized when they
// are added to a pipeline and a fresh copy is decoded for every task attempt.
type DoFn[In, Out any] interface {
	Process(in In, emit Emitter[Out]) error
}

// DoFnFunc adapts a function to the DoFn interface. It is shared by all tasks and must be stateless.
type DoFnFunc[In, Out any] func(in In, emit Emitter[Out]) error

// Process calls f(in, emit)
func (f DoFnFunc[In, Out]) Process(in In, emit Emitter[Out]) error {
	return f(in, emit)
}

// Initializer is implemented by DoFns which need setup before their first element in a task attempt
type Initializer interface {
	Initialize(ctx context.Context) error
}

// Cleaner is implemented by DoFns which emit or release something after their last element in a task attempt
type Cleaner[Out any] interface {
	Cleanup(emit Emitter[Out]) error
}

// MapFn produces a DoFn which emits exactly one output per input
func MapFn[In, Out any](fn func(In) (Out, error)) DoFnFunc[In, Out] {
	return func(in In, emit Emitter[Out]) error {
		out, err := fn(in)
		if err != nil {
			return err
		}
		emit.Emit(out)
		return nil
	}
}

// FilterFn produces a DoFn which keeps the inputs for which fn returns true
func FilterFn[T any](fn func(T) (bool, error)) DoFnFunc[T, T] {
	return func(in T, emit Emitter[T]) error {
		keep, err := fn(in)
		if err != nil {
			return err
		}
		if keep {
			emit.Emit(in)
		}
		return nil
	}
}

// Combiner merges two values of the same key. It must be associative and commutative,
// and it is shared by all tasks.
type Combiner[V any] interface {
	Combine(a, b V) (V, error)
}

// CombinerFunc adapts a function to the Combiner interface
type CombinerFunc[V any] func(a, b V) (V, error)

// Combine calls f(a, b)
func (f CombinerFunc[V]) Combine(a, b V) (V, error) {
	return f(a, b)
}

// Stopped reports whether emit has recorded a downstream failure. Every later element
// is dropped, so Sources may stop reading once it returns true.
func Stopped[T any](emit Emitter[T]) bool {
	e, ok := emit.(interface{ Err() error })
	return ok && e.Err() != nil
}

type emitter[T any] struct {
	emit func(any) error
	err  error
}

func (e *emitter[T]) Err() error {
	return e.err
}

func (e *emitter[T]) Emit(v T) {
	if e.err != nil {
		return
	}
	e.err = e.emit(v)
}

// dofnFactory produces per-attempt DoFn instances from a serialized configuration
type dofnFactory[In, Out any] struct {
	name    string
	fn      DoFn[In, Out]
	typ     reflect.Type
	payload []byte
}

func newDoFnFactory[In, Out any](name string, fn DoFn[In, Out]) (*dofnFactory[In, Out], error) {
	typ := reflect.TypeOf(fn)
	if typ.Kind() == reflect.Func {
		return &dofnFactory[In, Out]{name: name, fn: fn}, nil
	}
	if field := unexportedState(reflect.ValueOf(fn)); field != "" {
		return nil, &serrors.NotSerializableError{Fn: typ.String(), Err: fmt.Errorf("unexported field %s is set and would not reach tasks", field)}
	}
	payload, err := json.Marshal(fn)
	if err != nil {
		return nil, &serrors.NotSerializableError{Fn: typ.String(), Err: err}
	}
	f := &dofnFactory[In, Out]{name: name, typ: typ, payload: payload}
	if _, err := f.decode(); err != nil {
		return nil, &serrors.NotSerializableError{Fn: typ.String(), Err: err}
	}
	return f, nil
}

// unexportedState returns the name of the first unexported field of a struct DoFn which holds
// a non-zero value. Unexported fields are not encoded, so their values would be lost.
func unexportedState(v reflect.Value) string {
	for v.Kind() == reflect.Pointer || v.Kind() == reflect.Interface {
		if v.IsNil() {
			return ""
		}
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return ""
	}
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if f.Anonymous && f.Type.Kind() == reflect.Struct {
			if name := unexportedState(v.Field(i)); name != "" {
				return f.Name + "." + name
			}
			continue
		}
		if !f.IsExported() && !v.Field(i).IsZero() {
			return f.Name
		}
	}
	return ""
}

func (f *dofnFactory[In, Out]) decode() (DoFn[In, Out], error) {
	if f.payload == nil {
		return f.fn, nil
	}
	var v reflect.Value
	if f.typ.Kind() == reflect.Pointer {
		v = reflect.New(f.typ.Elem())
		if err := json.Unmarshal(f.payload, v.Interface()); err != nil {
			return nil, err
		}
	} else {
		ptr := reflect.New(f.typ)
		if err := json.Unmarshal(f.payload, ptr.Interface()); err != nil {
			return nil, err
		}
		v = ptr.Elem()
	}
	fn, ok := v.Interface().(DoFn[In, Out])
	if !ok {
		return nil, fmt.Errorf("decoded %s does not implement DoFn", f.typ)
	}
	return fn, nil
}

// NewInstance decodes a fresh DoFn and runs its Initialize hook
func (f *dofnFactory[In, Out]) NewInstance(ctx context.Context, emit func(any) error) (graph.Processor, error) {
	fn, err := f.decode()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", f.name, err)
	}
	if init, ok := fn.(Initializer); ok {
		if err := iutil.SafeInvoke(f.name+" initialize", func() error { return init.Initialize(ctx) }); err != nil {
			return nil, err
		}
	}
	return &processor[In, Out]{name: f.name, fn: fn, em: &emitter[Out]{emit: emit}}, nil
}

type processor[In, Out any] struct {
	name string
	fn   DoFn[In, Out]
	em   *emitter[Out]
}

func (p *processor[In, Out]) Process(elem any) error {
	in, ok := elem.(In)
	if !ok && elem != nil {
		return fmt.Errorf("%s: unexpected element of type %T", p.name, elem)
	}
	if err := iutil.SafeInvoke(p.name, func() error { return p.fn.Process(in, p.em) }); err != nil {
		return &serrors.RecordError{Fn: p.name, Err: err}
	}
	return p.em.err
}

func (p *processor[In, Out]) Finish() error {
	if c, ok := p.fn.(Cleaner[Out]); ok {
		if err := iutil.SafeInvoke(p.name+" cleanup", func() error { return c.Cleanup(p.em) }); err != nil {
			return err
		}
	}
	return p.em.err
}
