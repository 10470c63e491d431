package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/go-sif/sluice"
	"github.com/go-sif/sluice/ptypes"
	"github.com/stretchr/testify/require"
)

type collect[T any] struct{ values []T }

func (c *collect[T]) Emit(v T) { c.values = append(c.values, v) }

func TestSourceSplitsIntoPartitions(t *testing.T) {
	ctx := context.Background()
	src := NewSource("letters", []string{"a", "b", "c", "d", "e"}, 2, ptypes.Strings())
	splits, err := src.Splits(ctx)
	require.Nil(t, err)
	require.Len(t, splits, 3)
	require.Equal(t, int64(1), src.Analyzed())

	var all []string
	for _, s := range splits {
		out := &collect[string]{}
		require.Nil(t, src.Read(ctx, s, out))
		require.LessOrEqual(t, len(out.values), 2)
		all = append(all, out.values...)
	}
	require.Equal(t, []string{"a", "b", "c", "d", "e"}, all)
	require.Equal(t, int64(3), src.Reads())
}

func TestEmptySourceHasNoSplits(t *testing.T) {
	src := NewSource[string]("empty", nil, 0, ptypes.Strings())
	splits, err := src.Splits(context.Background())
	require.Nil(t, err)
	require.Empty(t, splits)
}

func TestTargetCommitsReplaceEarlierAttempts(t *testing.T) {
	ctx := context.Background()
	target := NewTarget("out", ptypes.Strings())

	first, err := target.NewWriter(ctx, sluice.TaskInfo{RunID: "r", Stage: 0, Task: 1, Attempt: 0})
	require.Nil(t, err)
	require.Nil(t, first.Write(ctx, "stale"))
	require.Nil(t, first.Close(ctx))

	retry, err := target.NewWriter(ctx, sluice.TaskInfo{RunID: "r", Stage: 0, Task: 1, Attempt: 1})
	require.Nil(t, err)
	require.Nil(t, retry.Write(ctx, "fresh"))
	require.Nil(t, retry.Close(ctx))

	other, err := target.NewWriter(ctx, sluice.TaskInfo{RunID: "r", Stage: 0, Task: 0, Attempt: 0})
	require.Nil(t, err)
	require.Nil(t, other.Write(ctx, "first"))
	require.Nil(t, other.Close(ctx))

	require.Equal(t, []string{"first", "fresh"}, target.Records())
	require.Equal(t, int64(3), target.Opened())
}

func TestTargetAbortDiscardsOutput(t *testing.T) {
	ctx := context.Background()
	target := NewTarget("out", ptypes.Strings())
	w, err := target.NewWriter(ctx, sluice.TaskInfo{RunID: "r"})
	require.Nil(t, err)
	require.Nil(t, w.Write(ctx, "lost"))
	require.Nil(t, w.Abort(ctx))
	require.Empty(t, target.Records())

	target.SetAbortError(errors.New("cleanup failed"))
	w, err = target.NewWriter(ctx, sluice.TaskInfo{RunID: "r"})
	require.Nil(t, err)
	require.EqualError(t, w.Abort(ctx), "cleanup failed")
	require.Equal(t, int64(2), target.Aborted())
}
