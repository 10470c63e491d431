// Package aggregate provides common aggregations over PCollections and PTables
package aggregate

import (
	"fmt"

	"github.com/go-sif/sluice"
	serrors "github.com/go-sif/sluice/errors"
	"github.com/go-sif/sluice/ptypes"
	"golang.org/x/exp/constraints"
)

// Number is satisfied by every integer and floating point type
type Number interface {
	constraints.Integer | constraints.Float
}

// SumInt64s is a Combiner which adds int64 values
func SumInt64s() sluice.Combiner[int64] {
	return SumOf[int64]()
}

// SumOf is a Combiner which adds numeric values
func SumOf[V Number]() sluice.Combiner[V] {
	return sluice.CombinerFunc[V](func(a, b V) (V, error) {
		return a + b, nil
	})
}

// MaxOf is a Combiner which keeps the larger of two values
func MaxOf[V constraints.Ordered]() sluice.Combiner[V] {
	return sluice.CombinerFunc[V](func(a, b V) (V, error) {
		if b > a {
			return b, nil
		}
		return a, nil
	})
}

// MinOf is a Combiner which keeps the smaller of two values
func MinOf[V constraints.Ordered]() sluice.Combiner[V] {
	return sluice.CombinerFunc[V](func(a, b V) (V, error) {
		if b < a {
			return b, nil
		}
		return a, nil
	})
}

// Count produces one (element, occurrences) pair for each distinct element of col.
// Elements are compared by their encoded form. It panics if the transform cannot be added.
func Count[T any](col sluice.PCollection[T]) sluice.PTable[T, int64] {
	t, err := TryCount(col)
	if err != nil {
		panic(err)
	}
	return t
}

// TryCount produces one (element, occurrences) pair for each distinct element of col
func TryCount[T any](col sluice.PCollection[T]) (sluice.PTable[T, int64], error) {
	if col.Pipeline() == nil {
		return sluice.PTable[T, int64]{}, &serrors.InvalidCollectionError{Op: "Count", Reason: "collection is not initialized"}
	}
	if col.PType() == nil {
		return sluice.PTable[T, int64]{}, &serrors.MissingTypeError{Node: col.Name()}
	}
	ones, err := sluice.TryParallelDoTable[T, T, int64](
		fmt.Sprintf("Count(%s)", col.Name()),
		col,
		sluice.DoFnFunc[T, sluice.KV[T, int64]](countOne[T]),
		sluice.KVs(col.PType(), ptypes.Int64s()),
	)
	if err != nil {
		return sluice.PTable[T, int64]{}, err
	}
	grouped, err := sluice.TryGroupByKey(ones)
	if err != nil {
		return sluice.PTable[T, int64]{}, err
	}
	return sluice.TryCombineValues(grouped, SumInt64s())
}

func countOne[T any](in T, emit sluice.Emitter[sluice.KV[T, int64]]) error {
	emit.Emit(sluice.KV[T, int64]{Key: in, Value: 1})
	return nil
}

// SumPerKey adds up the values of each key. It panics if the transform cannot be added.
func SumPerKey[K any, V Number](t sluice.PTable[K, V]) sluice.PTable[K, V] {
	return sluice.CombineValues(sluice.GroupByKey(t), SumOf[V]())
}

// MaxPerKey keeps the largest value of each key. It panics if the transform cannot be added.
func MaxPerKey[K any, V constraints.Ordered](t sluice.PTable[K, V]) sluice.PTable[K, V] {
	return sluice.CombineValues(sluice.GroupByKey(t), MaxOf[V]())
}

// MinPerKey keeps the smallest value of each key. It panics if the transform cannot be added.
func MinPerKey[K any, V constraints.Ordered](t sluice.PTable[K, V]) sluice.PTable[K, V] {
	return sluice.CombineValues(sluice.GroupByKey(t), MinOf[V]())
}

// Max produces a collection holding the largest element of col, or nothing if col is empty.
// It panics if the transform cannot be added.
func Max[T constraints.Ordered](col sluice.PCollection[T]) sluice.PCollection[T] {
	out, err := reduce("Max", col, MaxOf[T]())
	if err != nil {
		panic(err)
	}
	return out
}

// Min produces a collection holding the smallest element of col, or nothing if col is empty.
// It panics if the transform cannot be added.
func Min[T constraints.Ordered](col sluice.PCollection[T]) sluice.PCollection[T] {
	out, err := reduce("Min", col, MinOf[T]())
	if err != nil {
		panic(err)
	}
	return out
}

// reduce combines every element of col under a single key
func reduce[T any](op string, col sluice.PCollection[T], c sluice.Combiner[T]) (sluice.PCollection[T], error) {
	if col.Pipeline() == nil {
		return sluice.PCollection[T]{}, &serrors.InvalidCollectionError{Op: op, Reason: "collection is not initialized"}
	}
	name := fmt.Sprintf("%s(%s)", op, col.Name())
	keyed, err := sluice.TryParallelDoTable[T, bool, T](
		name,
		col,
		sluice.DoFnFunc[T, sluice.KV[bool, T]](func(in T, emit sluice.Emitter[sluice.KV[bool, T]]) error {
			emit.Emit(sluice.KV[bool, T]{Key: true, Value: in})
			return nil
		}),
		sluice.KVs(ptypes.Bools(), col.PType()),
	)
	if err != nil {
		return sluice.PCollection[T]{}, err
	}
	grouped, err := sluice.TryGroupByKey(keyed)
	if err != nil {
		return sluice.PCollection[T]{}, err
	}
	combined, err := sluice.TryCombineValues(grouped, c)
	if err != nil {
		return sluice.PCollection[T]{}, err
	}
	return sluice.TryParallelDo[sluice.KV[bool, T], T](
		name+" value",
		combined.PCollection,
		sluice.MapFn(func(kv sluice.KV[bool, T]) (T, error) { return kv.Value, nil }),
		col.PType(),
	)
}
