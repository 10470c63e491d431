package ptypes

import (
	"testing"

	"github.com/go-sif/sluice"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

type visit struct {
	Page  string
	Count int64
}

func roundTrip[T any](t *testing.T, pt sluice.PType[T], v T) T {
	data, err := pt.Encode(v)
	require.Nil(t, err)
	out, err := pt.Decode(data)
	require.Nil(t, err)
	return out
}

func TestNames(t *testing.T) {
	require.Equal(t, "string", Strings().Name())
	require.Equal(t, "int64", Int64s().Name())
	require.Equal(t, "gob(ptypes.visit)", Gob[visit]().Name())
	require.Equal(t, "json(ptypes.visit)", JSON[visit]().Name())
	require.Equal(t, "kv(string,int64)", sluice.KVs(Strings(), Int64s()).Name())
}

func TestInt64sSortLikeTheirValuesWhenNonNegative(t *testing.T) {
	small, err := Int64s().Encode(2)
	require.Nil(t, err)
	large, err := Int64s().Encode(300)
	require.Nil(t, err)
	require.Equal(t, []byte{0, 0, 0, 0, 0, 0, 0, 2}, small)
	require.Less(t, string(small), string(large))

	_, err = Int64s().Decode([]byte{1, 2})
	require.Error(t, err)
}

func TestStructTypes(t *testing.T) {
	v := visit{Page: "/home", Count: 3}
	require.Equal(t, v, roundTrip(t, Gob[visit](), v))
	require.Equal(t, v, roundTrip(t, JSON[visit](), v))

	kv := sluice.KVs(Strings(), JSON[visit]())
	require.Equal(t, sluice.KV[string, visit]{Key: "k", Value: v}, roundTrip(t, sluice.PType[sluice.KV[string, visit]](kv), sluice.KV[string, visit]{Key: "k", Value: v}))
}

func TestScalarTypes(t *testing.T) {
	require.Equal(t, 2.5, roundTrip(t, Float64s(), 2.5))
	require.True(t, roundTrip(t, Bools(), true))
	require.Equal(t, []byte("raw"), roundTrip(t, Bytes(), []byte("raw")))
	require.Equal(t, "", roundTrip(t, Strings(), ""))
}

func TestProtoMessages(t *testing.T) {
	pt := Proto[*wrapperspb.StringValue]()
	require.Equal(t, "proto(google.protobuf.StringValue)", pt.Name())
	out := roundTrip(t, pt, wrapperspb.String("hello"))
	require.Equal(t, "hello", out.GetValue())

	_, err := pt.Decode([]byte{0xff})
	require.Error(t, err)
}
