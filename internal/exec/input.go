package exec

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"

	"github.com/go-sif/sluice/internal/graph"
	"github.com/go-sif/sluice/internal/plan"
	"github.com/go-sif/sluice/internal/shuffle"
)

// readFunc feeds one partition of a stage's input into a task
type readFunc func(ctx context.Context, tc *taskContext) error

type input struct {
	name string
	read readFunc
}

// inputs partitions a stage's input: one task per source split, per shuffle shard or per materialized block
func (d *driver) inputs(ctx context.Context, s *plan.Stage) ([]input, error) {
	n := d.g.Node(s.Input)
	switch n.Kind {
	case graph.Source:
		splits, err := n.Source.Splits(ctx)
		if err != nil {
			return nil, err
		}
		res := make([]input, len(splits))
		for i, split := range splits {
			split := split
			res[i] = input{name: split.String(), read: func(ctx context.Context, tc *taskContext) error {
				return n.Source.Read(ctx, split, func(elem any) error {
					tc.counters.RecordsRead++
					return tc.deliver(n.ID, elem)
				})
			}}
		}
		return res, nil
	case graph.GroupByKey:
		res := make([]input, d.conf.Shards)
		for shard := range res {
			shard := shard
			res[shard] = input{name: fmt.Sprintf("shard-%d", shard), read: func(ctx context.Context, tc *taskContext) error {
				return d.readShard(ctx, n, shard, tc)
			}}
		}
		return res, nil
	case graph.Union:
		producers := d.store.Producers(int(n.ID))
		res := make([]input, len(producers))
		for i, producer := range producers {
			producer := producer
			res[i] = input{name: producer, read: func(ctx context.Context, tc *taskContext) error {
				return d.readBlock(ctx, n, producer, tc)
			}}
		}
		return res, nil
	default:
		return nil, fmt.Errorf("stage input %s cannot be partitioned", n)
	}
}

type group struct {
	key    []byte
	values []any
}

// readShard gathers one shard of a shuffle, groups it by encoded key and delivers the
// groups in key order
func (d *driver) readShard(ctx context.Context, n *graph.Node, shard int, tc *taskContext) error {
	groups := make(map[string]*group)
	var order []*group
	for _, producer := range d.store.Producers(int(n.ID)) {
		block, err := d.store.Part(int(n.ID), producer, shard)
		if err != nil {
			return err
		}
		r := shuffle.NewBlockReader(block)
		for {
			kb, err := r.Next()
			if err == io.EOF {
				break
			} else if err != nil {
				return err
			}
			vb, err := r.Next()
			if err != nil {
				return fmt.Errorf("shuffle record without value: %w", err)
			}
			v, err := n.Group.Value.DecodeAny(vb)
			if err != nil {
				return fmt.Errorf("decode %s: %w", n.Group.Value.Name(), err)
			}
			g, ok := groups[string(kb)]
			if !ok {
				g = &group{key: kb}
				groups[string(kb)] = g
				order = append(order, g)
			}
			g.values = append(g.values, v)
			tc.counters.RecordsRead++
		}
	}
	sort.Slice(order, func(i, j int) bool { return bytes.Compare(order[i].key, order[j].key) < 0 })
	for _, g := range order {
		if err := ctx.Err(); err != nil {
			return err
		}
		key, err := n.Group.Key.DecodeAny(g.key)
		if err != nil {
			return fmt.Errorf("decode %s: %w", n.Group.Key.Name(), err)
		}
		if err := tc.deliver(n.ID, n.Group.Join(key, g.values)); err != nil {
			return err
		}
	}
	return nil
}

// readBlock delivers the elements materialized by one producer for a Union
func (d *driver) readBlock(ctx context.Context, n *graph.Node, producer string, tc *taskContext) error {
	block, err := d.store.Part(int(n.ID), producer, 0)
	if err != nil {
		return err
	}
	r := shuffle.NewBlockReader(block)
	for {
		vb, err := r.Next()
		if err == io.EOF {
			return nil
		} else if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		v, err := n.Type.DecodeAny(vb)
		if err != nil {
			return fmt.Errorf("decode %s: %w", n.Type.Name(), err)
		}
		tc.counters.RecordsRead++
		if err := tc.deliver(n.ID, v); err != nil {
			return err
		}
	}
}
