package sluice

import (
	"fmt"

	serrors "github.com/go-sif/sluice/errors"
	"github.com/go-sif/sluice/internal/graph"
	iutil "github.com/go-sif/sluice/internal/util"
)

// PCollection is an immutable, lazily evaluated handle to a distributed bag of elements
type PCollection[T any] struct {
	p     *Pipeline
	id    graph.NodeID
	ptype PType[T]
}

// Pipeline returns the Pipeline which owns this collection
func (c PCollection[T]) Pipeline() *Pipeline {
	return c.p
}

// PType returns the element type of this collection
func (c PCollection[T]) PType() PType[T] {
	return c.ptype
}

// Name returns the name of the node which produces this collection
func (c PCollection[T]) Name() string {
	if c.p == nil {
		return ""
	}
	return c.p.nodeName(c.id)
}

func (c PCollection[T]) check(op string) error {
	if c.p == nil {
		return &serrors.InvalidCollectionError{Op: op, Reason: "collection is not initialized"}
	}
	if c.ptype == nil {
		return &serrors.MissingTypeError{Node: c.Name()}
	}
	return nil
}

// PTable is a PCollection of KV pairs. Keys are not unique.
type PTable[K, V any] struct {
	PCollection[KV[K, V]]
	kv KVPType[K, V]
}

// KVPType returns the key and value types of this table
func (t PTable[K, V]) KVPType() KVPType[K, V] {
	return t.kv
}

// PGroupedTable is the output of GroupByKey: each key appears once with all of its values
type PGroupedTable[K, V any] struct {
	PCollection[KV[K, []V]]
	kv KVPType[K, V]
}

// KVPType returns the key and value types of the ungrouped table
func (t PGroupedTable[K, V]) KVPType() KVPType[K, V] {
	return t.kv
}

// Read adds a Source to the pipeline. It panics if the source cannot be added.
func Read[T any](p *Pipeline, src Source[T]) PCollection[T] {
	col, err := TryRead(p, src)
	if err != nil {
		panic(err)
	}
	return col
}

// TryRead adds a Source to the pipeline
func TryRead[T any](p *Pipeline, src Source[T]) (PCollection[T], error) {
	if p == nil {
		return PCollection[T]{}, &serrors.MissingArgumentError{Op: "Read", Arg: "pipeline"}
	}
	if src == nil {
		return PCollection[T]{}, &serrors.MissingArgumentError{Op: "Read", Arg: "source"}
	}
	ptype := src.PType()
	if ptype == nil {
		return PCollection[T]{}, &serrors.MissingTypeError{Node: src.Name()}
	}
	id, err := p.addNode("Read", &graph.Node{
		Kind:   graph.Source,
		Name:   src.Name(),
		Type:   erasedType[T]{ptype},
		Source: sourceAdapter[T]{src: src},
	})
	if err != nil {
		return PCollection[T]{}, err
	}
	return PCollection[T]{p: p, id: id, ptype: ptype}, nil
}

// ReadTable adds a Source of KV pairs to the pipeline. It panics if the source cannot be added.
func ReadTable[K, V any](p *Pipeline, src Source[KV[K, V]]) PTable[K, V] {
	t, err := TryReadTable(p, src)
	if err != nil {
		panic(err)
	}
	return t
}

// TryReadTable adds a Source of KV pairs to the pipeline. The source's PType must be a KVPType.
func TryReadTable[K, V any](p *Pipeline, src Source[KV[K, V]]) (PTable[K, V], error) {
	col, err := TryRead(p, src)
	if err != nil {
		return PTable[K, V]{}, err
	}
	kv, ok := col.ptype.(KVPType[K, V])
	if !ok {
		return PTable[K, V]{}, fmt.Errorf("ReadTable: %s does not declare a KV type", src.Name())
	}
	return PTable[K, V]{PCollection: col, kv: kv}, nil
}

// ParallelDo applies fn to every element of col. It panics if the transform cannot be added.
func ParallelDo[In, Out any](name string, col PCollection[In], fn DoFn[In, Out], ptype PType[Out]) PCollection[Out] {
	out, err := TryParallelDo(name, col, fn, ptype)
	if err != nil {
		panic(err)
	}
	return out
}

// TryParallelDo applies fn to every element of col, producing elements described by ptype
func TryParallelDo[In, Out any](name string, col PCollection[In], fn DoFn[In, Out], ptype PType[Out]) (PCollection[Out], error) {
	if err := col.check("ParallelDo"); err != nil {
		return PCollection[Out]{}, err
	}
	if fn == nil {
		return PCollection[Out]{}, &serrors.MissingArgumentError{Op: "ParallelDo " + name, Arg: "DoFn"}
	}
	if ptype == nil {
		return PCollection[Out]{}, &serrors.MissingTypeError{Node: name}
	}
	factory, err := newDoFnFactory(name, fn)
	if err != nil {
		return PCollection[Out]{}, err
	}
	id, err := col.p.addNode("ParallelDo", &graph.Node{
		Kind:    graph.ParDo,
		Name:    name,
		Parents: []graph.NodeID{col.id},
		InType:  erasedType[In]{col.ptype},
		Type:    erasedType[Out]{ptype},
		DoFn:    factory,
	})
	if err != nil {
		return PCollection[Out]{}, err
	}
	return PCollection[Out]{p: col.p, id: id, ptype: ptype}, nil
}

// ParallelDoTable applies fn to every element of col, producing a PTable. It panics if the transform cannot be added.
func ParallelDoTable[In, K, V any](name string, col PCollection[In], fn DoFn[In, KV[K, V]], kv KVPType[K, V]) PTable[K, V] {
	t, err := TryParallelDoTable(name, col, fn, kv)
	if err != nil {
		panic(err)
	}
	return t
}

// TryParallelDoTable applies fn to every element of col, producing a PTable described by kv
func TryParallelDoTable[In, K, V any](name string, col PCollection[In], fn DoFn[In, KV[K, V]], kv KVPType[K, V]) (PTable[K, V], error) {
	if kv == nil {
		return PTable[K, V]{}, &serrors.MissingTypeError{Node: name}
	}
	out, err := TryParallelDo[In, KV[K, V]](name, col, fn, kv)
	if err != nil {
		return PTable[K, V]{}, err
	}
	return PTable[K, V]{PCollection: out, kv: kv}, nil
}

// GroupByKey gathers all values of each key. It panics if the transform cannot be added.
func GroupByKey[K, V any](t PTable[K, V]) PGroupedTable[K, V] {
	g, err := TryGroupByKey(t)
	if err != nil {
		panic(err)
	}
	return g
}

// TryGroupByKey gathers all values of each key. Keys are compared by their encoded form.
func TryGroupByKey[K, V any](t PTable[K, V]) (PGroupedTable[K, V], error) {
	if err := t.check("GroupByKey"); err != nil {
		return PGroupedTable[K, V]{}, err
	}
	if t.kv == nil {
		return PGroupedTable[K, V]{}, &serrors.MissingTypeError{Node: t.Name()}
	}
	grouped := groupedKVs(t.kv)
	id, err := t.p.addNode("GroupByKey", &graph.Node{
		Kind:    graph.GroupByKey,
		Name:    fmt.Sprintf("GroupByKey(%s)", t.Name()),
		Parents: []graph.NodeID{t.id},
		InType:  erasedType[KV[K, V]]{t.ptype},
		Type:    erasedType[KV[K, []V]]{grouped},
		Group: &graph.GroupPayload{
			Key:   erasedType[K]{t.kv.KeyType()},
			Value: erasedType[V]{t.kv.ValueType()},
			Split: func(elem any) (any, any) {
				kv := elem.(KV[K, V])
				return kv.Key, kv.Value
			},
			Join: func(key any, values []any) any {
				k, _ := key.(K)
				vs := make([]V, len(values))
				for i, v := range values {
					vs[i], _ = v.(V)
				}
				return KV[K, []V]{Key: k, Value: vs}
			},
		},
	})
	if err != nil {
		return PGroupedTable[K, V]{}, err
	}
	return PGroupedTable[K, V]{PCollection: PCollection[KV[K, []V]]{p: t.p, id: id, ptype: grouped}, kv: t.kv}, nil
}

// CombineValues folds the values of each key with c. It panics if the transform cannot be added.
func CombineValues[K, V any](g PGroupedTable[K, V], c Combiner[V]) PTable[K, V] {
	t, err := TryCombineValues(g, c)
	if err != nil {
		panic(err)
	}
	return t
}

// TryCombineValues folds the values of each key with c, producing one KV per key.
// c may also run on partial groups before the shuffle.
func TryCombineValues[K, V any](g PGroupedTable[K, V], c Combiner[V]) (PTable[K, V], error) {
	if err := g.check("CombineValues"); err != nil {
		return PTable[K, V]{}, err
	}
	if c == nil {
		return PTable[K, V]{}, &serrors.MissingArgumentError{Op: "CombineValues", Arg: "combiner"}
	}
	name := fmt.Sprintf("CombineValues(%s)", g.Name())
	if g.kv == nil {
		return PTable[K, V]{}, &serrors.MissingTypeError{Node: name}
	}
	id, err := g.p.addNode("CombineValues", &graph.Node{
		Kind:    graph.Combine,
		Name:    name,
		Parents: []graph.NodeID{g.id},
		InType:  erasedType[KV[K, []V]]{g.ptype},
		Type:    erasedType[KV[K, V]]{g.kv},
		Combine: &graph.CombinePayload{
			Combine: func(a, b any) (any, error) {
				av, _ := a.(V)
				bv, _ := b.(V)
				var out V
				err := safeCombine(name, func() (err error) {
					out, err = c.Combine(av, bv)
					return err
				})
				return out, err
			},
			Fold: func(grouped any) (any, error) {
				kv := grouped.(KV[K, []V])
				out := KV[K, V]{Key: kv.Key}
				if len(kv.Value) == 0 {
					return out, nil
				}
				out.Value = kv.Value[0]
				err := safeCombine(name, func() (err error) {
					for _, v := range kv.Value[1:] {
						if out.Value, err = c.Combine(out.Value, v); err != nil {
							return err
						}
					}
					return nil
				})
				return out, err
			},
		},
	})
	if err != nil {
		return PTable[K, V]{}, err
	}
	return PTable[K, V]{PCollection: PCollection[KV[K, V]]{p: g.p, id: id, ptype: g.kv}, kv: g.kv}, nil
}

// Union concatenates collections of the same type. It panics if the transform cannot be added.
func Union[T any](cols ...PCollection[T]) PCollection[T] {
	u, err := TryUnion(cols...)
	if err != nil {
		panic(err)
	}
	return u
}

// TryUnion concatenates collections of the same type from the same pipeline
func TryUnion[T any](cols ...PCollection[T]) (PCollection[T], error) {
	if len(cols) == 0 {
		return PCollection[T]{}, &serrors.EmptyUnionError{}
	}
	first := cols[0]
	if err := first.check("Union"); err != nil {
		return PCollection[T]{}, err
	}
	parents := make([]graph.NodeID, len(cols))
	for i, c := range cols {
		if err := c.check("Union"); err != nil {
			return PCollection[T]{}, err
		}
		if c.p != first.p {
			return PCollection[T]{}, &serrors.InvalidCollectionError{Op: "Union", Reason: "collections belong to different pipelines"}
		}
		if c.ptype.Name() != first.ptype.Name() {
			return PCollection[T]{}, &serrors.IncompatibleTypeError{Producer: c.Name(), Consumer: "Union", Have: c.ptype.Name(), Want: first.ptype.Name()}
		}
		parents[i] = c.id
	}
	id, err := first.p.addNode("Union", &graph.Node{
		Kind:    graph.Union,
		Name:    "Union",
		Parents: parents,
		InType:  erasedType[T]{first.ptype},
		Type:    erasedType[T]{first.ptype},
	})
	if err != nil {
		return PCollection[T]{}, err
	}
	return PCollection[T]{p: first.p, id: id, ptype: first.ptype}, nil
}

// Write registers col to be stored in target on the next Run
func Write[T any](col PCollection[T], target Target[T]) error {
	if err := col.check("Write"); err != nil {
		return err
	}
	if target == nil {
		return &serrors.MissingArgumentError{Op: "Write", Arg: "target"}
	}
	ptype := target.PType()
	if ptype == nil {
		return &serrors.MissingTypeError{Node: target.Name()}
	}
	if ptype.Name() != col.ptype.Name() {
		return &serrors.IncompatibleTypeError{Producer: col.Name(), Consumer: target.Name(), Have: col.ptype.Name(), Want: ptype.Name()}
	}
	return col.p.addWrite(graph.Write{
		Node:   col.id,
		Target: target.Name(),
		Type:   erasedType[T]{ptype},
		Sink:   targetAdapter[T]{target: target},
	})
}

func safeCombine(name string, fn func() error) error {
	if err := iutil.SafeInvoke(name, fn); err != nil {
		return &serrors.RecordError{Fn: name, Err: err}
	}
	return nil
}
