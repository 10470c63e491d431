package ptypes

import (
	"fmt"

	"github.com/go-sif/sluice"
	"google.golang.org/protobuf/proto"
)

type protoType[T proto.Message] struct{ name string }

func (t protoType[T]) Name() string { return t.name }

func (t protoType[T]) Encode(v T) ([]byte, error) {
	return proto.MarshalOptions{Deterministic: true}.Marshal(v)
}

func (t protoType[T]) Decode(data []byte) (T, error) {
	var zero T
	msg := zero.ProtoReflect().Type().New().Interface()
	if err := proto.Unmarshal(data, msg); err != nil {
		return zero, err
	}
	v, ok := msg.(T)
	if !ok {
		return zero, fmt.Errorf("%s cannot decode %T", t.name, msg)
	}
	return v, nil
}

// Proto describes protocol buffer messages, encoded deterministically in wire format.
// T must be a generated message pointer type, such as *wrapperspb.StringValue.
func Proto[T proto.Message]() sluice.PType[T] {
	var zero T
	return protoType[T]{name: fmt.Sprintf("proto(%s)", zero.ProtoReflect().Descriptor().FullName())}
}
