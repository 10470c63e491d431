package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/go-sif/sluice"
	"go.uber.org/atomic"
)

// Target collects the elements committed by each task. A task attempt's output becomes
// visible when its Writer is closed, and replaces the output of any earlier attempt of the same task.
type Target[T any] struct {
	name      string
	ptype     sluice.PType[T]
	lock      sync.Mutex
	committed map[string][]T
	abortErr  error
	opened    atomic.Int64
	aborted   atomic.Int64
}

// NewTarget is a factory for Targets
func NewTarget[T any](name string, ptype sluice.PType[T]) *Target[T] {
	return &Target[T]{name: name, ptype: ptype, committed: make(map[string][]T)}
}

// Name returns the name of this Target
func (t *Target[T]) Name() string {
	return t.name
}

// PType returns the element type of this Target
func (t *Target[T]) PType() sluice.PType[T] {
	return t.ptype
}

// SetAbortError makes every subsequent Abort fail with err
func (t *Target[T]) SetAbortError(err error) {
	t.lock.Lock()
	defer t.lock.Unlock()
	t.abortErr = err
}

// NewWriter opens a Writer for one task attempt
func (t *Target[T]) NewWriter(ctx context.Context, info sluice.TaskInfo) (sluice.Writer[T], error) {
	t.opened.Inc()
	return &writer[T]{
		target: t,
		key:    fmt.Sprintf("%s/%06d/%06d", info.RunID, info.Stage, info.Task),
	}, nil
}

// Records returns every committed element, grouped by the task which produced it
func (t *Target[T]) Records() []T {
	t.lock.Lock()
	defer t.lock.Unlock()
	keys := make([]string, 0, len(t.committed))
	for k := range t.committed {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	res := []T{}
	for _, k := range keys {
		res = append(res, t.committed[k]...)
	}
	return res
}

// Opened returns the number of Writers created so far
func (t *Target[T]) Opened() int64 {
	return t.opened.Load()
}

// Aborted returns the number of Writers aborted so far
func (t *Target[T]) Aborted() int64 {
	return t.aborted.Load()
}

type writer[T any] struct {
	target *Target[T]
	key    string
	buf    []T
}

func (w *writer[T]) Write(ctx context.Context, v T) error {
	w.buf = append(w.buf, v)
	return nil
}

func (w *writer[T]) Close(ctx context.Context) error {
	w.target.lock.Lock()
	defer w.target.lock.Unlock()
	w.target.committed[w.key] = w.buf
	return nil
}

func (w *writer[T]) Abort(ctx context.Context) error {
	w.target.aborted.Inc()
	w.buf = nil
	w.target.lock.Lock()
	defer w.target.lock.Unlock()
	return w.target.abortErr
}
