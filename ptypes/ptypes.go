// Package ptypes provides element type descriptors for common Go types
package ptypes

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"math"
	"reflect"

	"github.com/go-json-experiment/json"
	"github.com/go-sif/sluice"
)

type stringType struct{}

func (stringType) Name() string { return "string" }
func (stringType) Encode(v string) ([]byte, error) { return []byte(v), nil }
func (stringType) Decode(data []byte) (string, error) { return string(data), nil }

// Strings describes string elements, encoded as their raw bytes
func Strings() sluice.PType[string] { return stringType{} }

type bytesType struct{}

func (bytesType) Name() string { return "bytes" }
func (bytesType) Encode(v []byte) ([]byte, error) { return v, nil }
func (bytesType) Decode(data []byte) ([]byte, error) { return bytes.Clone(data), nil }

// Bytes describes raw byte slices
func Bytes() sluice.PType[[]byte] { return bytesType{} }

type int64Type struct{}

func (int64Type) Name() string { return "int64" }
func (int64Type) Encode(v int64) ([]byte, error) {
	return binary.BigEndian.AppendUint64(nil, uint64(v)), nil
}
func (int64Type) Decode(data []byte) (int64, error) {
	if len(data) != 8 {
		return 0, fmt.Errorf("int64 requires 8 bytes, got %d", len(data))
	}
	return int64(binary.BigEndian.Uint64(data)), nil
}

// Int64s describes int64 elements, encoded as 8 big-endian bytes
func Int64s() sluice.PType[int64] { return int64Type{} }

type float64Type struct{}

func (float64Type) Name() string { return "float64" }
func (float64Type) Encode(v float64) ([]byte, error) {
	return binary.BigEndian.AppendUint64(nil, math.Float64bits(v)), nil
}
func (float64Type) Decode(data []byte) (float64, error) {
	if len(data) != 8 {
		return 0, fmt.Errorf("float64 requires 8 bytes, got %d", len(data))
	}
	return math.Float64frombits(binary.BigEndian.Uint64(data)), nil
}

// Float64s describes float64 elements, encoded as their 8 big-endian IEEE 754 bytes
func Float64s() sluice.PType[float64] { return float64Type{} }

type boolType struct{}

func (boolType) Name() string { return "bool" }
func (boolType) Encode(v bool) ([]byte, error) {
	if v {
		return []byte{1}, nil
	}
	return []byte{0}, nil
}
func (boolType) Decode(data []byte) (bool, error) {
	if len(data) != 1 {
		return false, fmt.Errorf("bool requires 1 byte, got %d", len(data))
	}
	return data[0] != 0, nil
}

// Bools describes bool elements
func Bools() sluice.PType[bool] { return boolType{} }

type gobType[T any] struct{ name string }

func (t gobType[T]) Name() string { return t.name }
func (t gobType[T]) Encode(v T) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
func (t gobType[T]) Decode(data []byte) (T, error) {
	var v T
	err := gob.NewDecoder(bytes.NewReader(data)).Decode(&v)
	return v, err
}

// Gob describes elements of any gob-encodable type
func Gob[T any]() sluice.PType[T] {
	return gobType[T]{name: fmt.Sprintf("gob(%s)", typeName[T]())}
}

type jsonType[T any] struct{ name string }

func (t jsonType[T]) Name() string { return t.name }
func (t jsonType[T]) Encode(v T) ([]byte, error) {
	return json.Marshal(v)
}
func (t jsonType[T]) Decode(data []byte) (T, error) {
	var v T
	err := json.Unmarshal(data, &v)
	return v, err
}

// JSON describes elements of any JSON-encodable type
func JSON[T any]() sluice.PType[T] {
	return jsonType[T]{name: fmt.Sprintf("json(%s)", typeName[T]())}
}

func typeName[T any]() string {
	return reflect.TypeOf((*T)(nil)).Elem().String()
}
