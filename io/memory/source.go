// Package memory provides Sources and Targets backed by in-process slices
package memory

import (
	"context"
	"fmt"

	"github.com/go-sif/sluice"
	"go.uber.org/atomic"
)

// DefaultPartitionSize is the number of elements per split when none is given
const DefaultPartitionSize = 128

// Source reads a slice of elements, divided into splits of at most partitionSize elements
type Source[T any] struct {
	name          string
	data          []T
	partitionSize int
	ptype         sluice.PType[T]
	analyzed      atomic.Int64
	reads         atomic.Int64
}

// NewSource is a factory for Sources. partitionSize defaults to DefaultPartitionSize.
func NewSource[T any](name string, data []T, partitionSize int, ptype sluice.PType[T]) *Source[T] {
	if partitionSize <= 0 {
		partitionSize = DefaultPartitionSize
	}
	return &Source[T]{name: name, data: data, partitionSize: partitionSize, ptype: ptype}
}

// From adds a Source over data to p
func From[T any](p *sluice.Pipeline, name string, data []T, ptype sluice.PType[T]) sluice.PCollection[T] {
	return sluice.Read[T](p, NewSource(name, data, 0, ptype))
}

// TableFrom adds a Source over a slice of KV pairs to p
func TableFrom[K, V any](p *sluice.Pipeline, name string, data []sluice.KV[K, V], kv sluice.KVPType[K, V]) sluice.PTable[K, V] {
	return sluice.ReadTable[K, V](p, NewSource[sluice.KV[K, V]](name, data, 0, kv))
}

// Name returns the name of this Source
func (s *Source[T]) Name() string {
	return s.name
}

// PType returns the element type of this Source
func (s *Source[T]) PType() sluice.PType[T] {
	return s.ptype
}

// Splits divides the data into contiguous partitions
func (s *Source[T]) Splits(ctx context.Context) ([]sluice.Split, error) {
	s.analyzed.Inc()
	var splits []sluice.Split
	for start := 0; start < len(s.data); start += s.partitionSize {
		end := min(start+s.partitionSize, len(s.data))
		splits = append(splits, partition{idx: len(splits), start: start, end: end})
	}
	return splits, nil
}

// Read emits the elements of one partition
func (s *Source[T]) Read(ctx context.Context, split sluice.Split, emit sluice.Emitter[T]) error {
	part, ok := split.(partition)
	if !ok {
		return fmt.Errorf("unexpected split %s", split.String())
	}
	s.reads.Inc()
	for _, v := range s.data[part.start:part.end] {
		if err := ctx.Err(); err != nil {
			return err
		}
		emit.Emit(v)
		if sluice.Stopped(emit) {
			return nil
		}
	}
	return nil
}

// Analyzed returns the number of times Splits has been called
func (s *Source[T]) Analyzed() int64 {
	return s.analyzed.Load()
}

// Reads returns the number of partitions read so far, counting retried reads
func (s *Source[T]) Reads() int64 {
	return s.reads.Load()
}

type partition struct {
	idx        int
	start, end int
}

func (p partition) String() string {
	return fmt.Sprintf("memory partition %d [%d, %d)", p.idx, p.start, p.end)
}
