package sluice

import (
	"encoding/binary"
	"fmt"
)

// PType describes the element type of a collection: a Name used to check that producers
// and consumers agree, and the serialization applied wherever elements cross a stage boundary.
// Two PTypes are compatible iff their names are equal.
type PType[T any] interface {
	Name() string
	Encode(v T) ([]byte, error)
	Decode(data []byte) (T, error)
}

// KV is a key-value pair, the element type of a PTable
type KV[K, V any] struct {
	Key   K
	Value V
}

// KVPType is a PType for KV pairs which exposes its key and value descriptors
type KVPType[K, V any] interface {
	PType[KV[K, V]]
	KeyType() PType[K]
	ValueType() PType[V]
}

// KVs builds the PType of KV pairs from key and value PTypes
func KVs[K, V any](key PType[K], value PType[V]) KVPType[K, V] {
	return &kvType[K, V]{key: key, value: value}
}

type kvType[K, V any] struct {
	key   PType[K]
	value PType[V]
}

func (t *kvType[K, V]) Name() string {
	return fmt.Sprintf("kv(%s,%s)", t.key.Name(), t.value.Name())
}

func (t *kvType[K, V]) KeyType() PType[K] { return t.key }
func (t *kvType[K, V]) ValueType() PType[V] { return t.value }

func (t *kvType[K, V]) Encode(kv KV[K, V]) ([]byte, error) {
	kb, err := t.key.Encode(kv.Key)
	if err != nil {
		return nil, fmt.Errorf("encode key as %s: %w", t.key.Name(), err)
	}
	vb, err := t.value.Encode(kv.Value)
	if err != nil {
		return nil, fmt.Errorf("encode value as %s: %w", t.value.Name(), err)
	}
	buf := make([]byte, 0, binary.MaxVarintLen64+len(kb)+len(vb))
	buf = binary.AppendUvarint(buf, uint64(len(kb)))
	buf = append(buf, kb...)
	return append(buf, vb...), nil
}

func (t *kvType[K, V]) Decode(data []byte) (KV[K, V], error) {
	var kv KV[K, V]
	kb, rest, err := readField(data)
	if err != nil {
		return kv, err
	}
	if kv.Key, err = t.key.Decode(kb); err != nil {
		return kv, fmt.Errorf("decode key as %s: %w", t.key.Name(), err)
	}
	if kv.Value, err = t.value.Decode(rest); err != nil {
		return kv, fmt.Errorf("decode value as %s: %w", t.value.Name(), err)
	}
	return kv, nil
}

// iterType describes the value lists produced by GroupByKey
type iterType[V any] struct {
	elem PType[V]
}

func (t *iterType[V]) Name() string {
	return fmt.Sprintf("iter(%s)", t.elem.Name())
}

func (t *iterType[V]) Encode(vs []V) ([]byte, error) {
	buf := binary.AppendUvarint(nil, uint64(len(vs)))
	for _, v := range vs {
		b, err := t.elem.Encode(v)
		if err != nil {
			return nil, err
		}
		buf = binary.AppendUvarint(buf, uint64(len(b)))
		buf = append(buf, b...)
	}
	return buf, nil
}

func (t *iterType[V]) Decode(data []byte) ([]V, error) {
	n, read := binary.Uvarint(data)
	if read <= 0 {
		return nil, fmt.Errorf("decode %s: bad length", t.Name())
	}
	data = data[read:]
	vs := make([]V, 0, n)
	for i := uint64(0); i < n; i++ {
		var b []byte
		var err error
		if b, data, err = readField(data); err != nil {
			return nil, err
		}
		v, err := t.elem.Decode(b)
		if err != nil {
			return nil, err
		}
		vs = append(vs, v)
	}
	return vs, nil
}

// groupedKVs describes the elements of a PGroupedTable
func groupedKVs[K, V any](t KVPType[K, V]) KVPType[K, []V] {
	return KVs[K, []V](t.KeyType(), &iterType[V]{elem: t.ValueType()})
}

func readField(data []byte) (field []byte, rest []byte, err error) {
	size, n := binary.Uvarint(data)
	if n <= 0 || uint64(len(data)-n) < size {
		return nil, nil, fmt.Errorf("truncated field")
	}
	return data[n : n+int(size)], data[n+int(size):], nil
}

// erasedType adapts a PType to the engine's untyped coder
type erasedType[T any] struct {
	PType[T]
}

func (e erasedType[T]) EncodeAny(v any) ([]byte, error) {
	tv, ok := v.(T)
	if !ok && v != nil {
		return nil, fmt.Errorf("%s cannot encode %T", e.Name(), v)
	}
	return e.Encode(tv)
}

func (e erasedType[T]) DecodeAny(data []byte) (any, error) {
	return e.Decode(data)
}
