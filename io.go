package sluice

import (
	"context"
	"fmt"

	"github.com/go-sif/sluice/internal/graph"
)

// Split describes one independently readable portion of a Source, such as a file or a row range
type Split interface {
	String() string
}

// Source reads a dataset from external storage. Splits is called once per run, when the
// reading stage starts; Read is called once per split per task attempt and must emit the
// same elements every time it is called for the same split.
type Source[T any] interface {
	Name() string
	PType() PType[T]
	Splits(ctx context.Context) ([]Split, error)
	Read(ctx context.Context, split Split, emit Emitter[T]) error
}

// TaskInfo identifies the task attempt which owns a Writer
type TaskInfo struct {
	RunID   string
	Stage   int
	Task    int
	Attempt int
}

// Writer stores the elements of one task attempt. Close commits them; Abort is called
// instead when the attempt fails and should discard whatever can be discarded.
type Writer[T any] interface {
	Write(ctx context.Context, v T) error
	Close(ctx context.Context) error
	Abort(ctx context.Context) error
}

// Target stores a collection in external storage
type Target[T any] interface {
	Name() string
	PType() PType[T]
	NewWriter(ctx context.Context, info TaskInfo) (Writer[T], error)
}

type sourceAdapter[T any] struct {
	src Source[T]
}

func (a sourceAdapter[T]) Splits(ctx context.Context) ([]graph.Split, error) {
	splits, err := a.src.Splits(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", a.src.Name(), err)
	}
	res := make([]graph.Split, len(splits))
	for i, s := range splits {
		res[i] = s
	}
	return res, nil
}

func (a sourceAdapter[T]) Read(ctx context.Context, split graph.Split, emit func(any) error) error {
	s, ok := split.(Split)
	if !ok {
		return fmt.Errorf("%s: unexpected split %v", a.src.Name(), split)
	}
	em := &emitter[T]{emit: emit}
	if err := a.src.Read(ctx, s, em); err != nil {
		return fmt.Errorf("%s: read %s: %w", a.src.Name(), s.String(), err)
	}
	return em.err
}

type targetAdapter[T any] struct {
	target Target[T]
}

func (a targetAdapter[T]) NewWriter(ctx context.Context, info graph.TaskInfo) (graph.Writer, error) {
	w, err := a.target.NewWriter(ctx, TaskInfo(info))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", a.target.Name(), err)
	}
	return writerAdapter[T]{name: a.target.Name(), w: w}, nil
}

type writerAdapter[T any] struct {
	name string
	w    Writer[T]
}

func (a writerAdapter[T]) Write(ctx context.Context, elem any) error {
	v, ok := elem.(T)
	if !ok && elem != nil {
		return fmt.Errorf("%s: unexpected element of type %T", a.name, elem)
	}
	return a.w.Write(ctx, v)
}

func (a writerAdapter[T]) Close(ctx context.Context) error { return a.w.Close(ctx) }
func (a writerAdapter[T]) Abort(ctx context.Context) error { return a.w.Abort(ctx) }
