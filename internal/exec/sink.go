package exec

import (
	"fmt"

	"github.com/go-sif/sluice/internal/graph"
	"github.com/go-sif/sluice/internal/shuffle"
)

type liftedEntry struct {
	key []byte
	acc any
}

// shuffleSink buckets the KV elements bound for one GroupByKey by key hash. When a
// combiner has been lifted, values are first folded per key within the task.
type shuffleSink struct {
	node    *graph.Node
	combine *graph.CombinePayload
	shards  []*shuffle.BlockWriter
	lifted  map[string]*liftedEntry
	order   []string
}

func newShuffleSink(node *graph.Node, combine *graph.CombinePayload, shards int) *shuffleSink {
	s := &shuffleSink{
		node:    node,
		combine: combine,
		shards:  make([]*shuffle.BlockWriter, shards),
	}
	for i := range s.shards {
		s.shards[i] = &shuffle.BlockWriter{}
	}
	if combine != nil {
		s.lifted = make(map[string]*liftedEntry)
	}
	return s
}

func (s *shuffleSink) add(elem any) error {
	key, value := s.node.Group.Split(elem)
	kb, err := s.node.Group.Key.EncodeAny(key)
	if err != nil {
		return fmt.Errorf("encode key as %s: %w", s.node.Group.Key.Name(), err)
	}
	if s.combine == nil {
		return s.emit(kb, value)
	}
	e, ok := s.lifted[string(kb)]
	if !ok {
		s.lifted[string(kb)] = &liftedEntry{key: kb, acc: value}
		s.order = append(s.order, string(kb))
		return nil
	}
	e.acc, err = s.combine.Combine(e.acc, value)
	return err
}

func (s *shuffleSink) emit(kb []byte, value any) error {
	vb, err := s.node.Group.Value.EncodeAny(value)
	if err != nil {
		return fmt.Errorf("encode value as %s: %w", s.node.Group.Value.Name(), err)
	}
	s.shards[shuffle.ShardOf(kb, len(s.shards))].Append(kb, vb)
	return nil
}

// flush moves map-side combined values into the shard buffers
func (s *shuffleSink) flush() error {
	for _, k := range s.order {
		e := s.lifted[k]
		if err := s.emit(e.key, e.acc); err != nil {
			return err
		}
	}
	s.order = nil
	if s.combine != nil {
		s.lifted = make(map[string]*liftedEntry)
	}
	return nil
}

func (s *shuffleSink) parts() [][]byte {
	res := make([][]byte, len(s.shards))
	for i, b := range s.shards {
		res[i] = b.Bytes()
	}
	return res
}
