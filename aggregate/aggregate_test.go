package aggregate_test

import (
	"context"
	"testing"

	"github.com/go-sif/sluice"
	"github.com/go-sif/sluice/aggregate"
	"github.com/go-sif/sluice/io/memory"
	"github.com/go-sif/sluice/ptypes"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"
)

func newPipeline(t *testing.T, disableCombiner bool) *sluice.Pipeline {
	p, err := sluice.NewPipeline(t.Name(), &sluice.Options{
		Parallelism:     3,
		ShuffleShards:   2,
		DisableCombiner: disableCombiner,
		Logger:          zaptest.NewLogger(t),
	})
	require.Nil(t, err)
	return p
}

func toMap[K comparable, V any](kvs []sluice.KV[K, V]) map[K]V {
	res := make(map[K]V, len(kvs))
	for _, kv := range kvs {
		res[kv.Key] = kv.Value
	}
	return res
}

func TestCountIsIndependentOfPartitioningAndCombining(t *testing.T) {
	defer goleak.VerifyNone(t)
	words := []string{"cat", "dog", "cat", "emu", "cat", "dog", "owl"}
	want := map[string]int64{"cat": 3, "dog": 2, "emu": 1, "owl": 1}
	for _, disableCombiner := range []bool{false, true} {
		for _, partitionSize := range []int{1, 2, 3, 100} {
			p := newPipeline(t, disableCombiner)
			col := sluice.Read[string](p, memory.NewSource("words", words, partitionSize, ptypes.Strings()))
			counts := aggregate.Count(col)
			target := memory.NewTarget("counts", counts.PType())
			require.Nil(t, sluice.Write[sluice.KV[string, int64]](counts.PCollection, target))

			_, err := p.Done(context.Background())
			require.Nil(t, err)
			records := target.Records()
			require.Len(t, records, len(want), "one pair per distinct key")
			require.Equal(t, want, toMap(records), "partitionSize=%d disableCombiner=%v", partitionSize, disableCombiner)
		}
	}
}

func TestCountOfEmptyInputIsEmpty(t *testing.T) {
	defer goleak.VerifyNone(t)
	p := newPipeline(t, false)
	counts := aggregate.Count(memory.From[string](p, "nothing", nil, ptypes.Strings()))
	target := memory.NewTarget("counts", counts.PType())
	require.Nil(t, sluice.Write[sluice.KV[string, int64]](counts.PCollection, target))

	res, err := p.Done(context.Background())
	require.Nil(t, err)
	require.True(t, res.Succeeded())
	require.Empty(t, target.Records())
}

func TestPerKeyAggregations(t *testing.T) {
	defer goleak.VerifyNone(t)
	p := newPipeline(t, false)
	kv := sluice.KVs(ptypes.Strings(), ptypes.Int64s())
	scores := memory.TableFrom(p, "scores", []sluice.KV[string, int64]{
		{Key: "ann", Value: 3}, {Key: "bob", Value: -2}, {Key: "ann", Value: 7}, {Key: "bob", Value: 5}, {Key: "cy", Value: 1},
	}, kv)

	sums := memory.NewTarget[sluice.KV[string, int64]]("sums", kv)
	maxes := memory.NewTarget[sluice.KV[string, int64]]("maxes", kv)
	mins := memory.NewTarget[sluice.KV[string, int64]]("mins", kv)
	require.Nil(t, sluice.Write[sluice.KV[string, int64]](aggregate.SumPerKey(scores).PCollection, sums))
	require.Nil(t, sluice.Write[sluice.KV[string, int64]](aggregate.MaxPerKey(scores).PCollection, maxes))
	require.Nil(t, sluice.Write[sluice.KV[string, int64]](aggregate.MinPerKey(scores).PCollection, mins))

	_, err := p.Done(context.Background())
	require.Nil(t, err)
	require.Equal(t, map[string]int64{"ann": 10, "bob": 3, "cy": 1}, toMap(sums.Records()))
	require.Equal(t, map[string]int64{"ann": 7, "bob": 5, "cy": 1}, toMap(maxes.Records()))
	require.Equal(t, map[string]int64{"ann": 3, "bob": -2, "cy": 1}, toMap(mins.Records()))
}

func TestMaxAndMin(t *testing.T) {
	defer goleak.VerifyNone(t)
	p := newPipeline(t, false)
	values := sluice.Read[int64](p, memory.NewSource("values", []int64{4, -9, 12, 0, 7}, 2, ptypes.Int64s()))
	empty := memory.From[int64](p, "empty", nil, ptypes.Int64s())

	maxT := memory.NewTarget("max", ptypes.Int64s())
	minT := memory.NewTarget("min", ptypes.Int64s())
	emptyT := memory.NewTarget("empty max", ptypes.Int64s())
	require.Nil(t, sluice.Write[int64](aggregate.Max(values), maxT))
	require.Nil(t, sluice.Write[int64](aggregate.Min(values), minT))
	require.Nil(t, sluice.Write[int64](aggregate.Max(empty), emptyT))

	_, err := p.Done(context.Background())
	require.Nil(t, err)
	require.Equal(t, []int64{12}, maxT.Records())
	require.Equal(t, []int64{-9}, minT.Records())
	require.Empty(t, emptyT.Records())
}

func TestCombiners(t *testing.T) {
	sum, err := aggregate.SumOf[float64]().Combine(1.5, 2)
	require.Nil(t, err)
	require.Equal(t, 3.5, sum)
	maxV, err := aggregate.MaxOf[string]().Combine("apple", "pear")
	require.Nil(t, err)
	require.Equal(t, "pear", maxV)
	minV, err := aggregate.MinOf[string]().Combine("apple", "pear")
	require.Nil(t, err)
	require.Equal(t, "apple", minV)
}

func TestCountRejectsUninitializedCollections(t *testing.T) {
	_, err := aggregate.TryCount(sluice.PCollection[string]{})
	require.Error(t, err)
}
