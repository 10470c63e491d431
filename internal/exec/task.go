package exec

import (
	"context"
	"errors"
	"fmt"

	serrors "github.com/go-sif/sluice/errors"
	"github.com/go-sif/sluice/internal/graph"
	"github.com/go-sif/sluice/internal/plan"
	"github.com/go-sif/sluice/internal/shuffle"
	"github.com/go-sif/sluice/internal/stats"
	"go.uber.org/zap"
)

type openWriter struct {
	index  int
	w      graph.Writer
	closed bool
}

// taskContext is the fused operator tree of one stage, instantiated for a single task attempt.
// All buffers are private to the attempt and only reach the shuffle store on commit.
type taskContext struct {
	ctx      context.Context
	d        *driver
	stage    *plan.Stage
	producer string
	logger   *zap.Logger

	procs    map[graph.NodeID]graph.Processor
	writers  map[graph.NodeID][]*openWriter
	all      []*openWriter
	shuffles map[graph.NodeID]*shuffleSink
	blocks   map[graph.NodeID]*shuffle.BlockWriter
	counters stats.TaskCounters
}

func (d *driver) newTaskContext(ctx context.Context, s *plan.Stage, task, attempt int) (*taskContext, error) {
	tc := &taskContext{
		ctx:      ctx,
		d:        d,
		stage:    s,
		producer: fmt.Sprintf("stage-%04d/task-%06d", s.ID, task),
		logger:   d.logger.With(zap.Int("stage", s.ID), zap.Int("task", task), zap.Int("attempt", attempt)),
		procs:    make(map[graph.NodeID]graph.Processor),
		writers:  make(map[graph.NodeID][]*openWriter),
		shuffles: make(map[graph.NodeID]*shuffleSink),
		blocks:   make(map[graph.NodeID]*shuffle.BlockWriter),
	}
	for _, id := range s.Nodes {
		n := d.g.Node(id)
		if n.Kind != graph.ParDo {
			continue
		}
		from := id
		proc, err := n.DoFn.NewInstance(ctx, func(elem any) error { return tc.deliver(from, elem) })
		if err != nil {
			return tc, err
		}
		tc.procs[id] = proc
	}
	info := graph.TaskInfo{RunID: d.conf.RunID, Stage: s.ID, Task: task, Attempt: attempt}
	for _, i := range s.Writes {
		w := d.p.Writes[i]
		writer, err := w.Sink.NewWriter(ctx, info)
		if err != nil {
			return tc, err
		}
		ow := &openWriter{index: i, w: writer}
		tc.writers[w.Node] = append(tc.writers[w.Node], ow)
		tc.all = append(tc.all, ow)
	}
	for _, id := range s.Shuffles {
		var combine *graph.CombinePayload
		if c, ok := d.p.Lifted[id]; ok {
			combine = d.g.Node(c).Combine
		}
		tc.shuffles[id] = newShuffleSink(d.g.Node(id), combine, d.conf.Shards)
	}
	for _, id := range s.Materializes {
		tc.blocks[id] = &shuffle.BlockWriter{}
	}
	return tc, nil
}

// deliver passes an element produced by node from to everything which consumes it
func (tc *taskContext) deliver(from graph.NodeID, elem any) error {
	for _, ow := range tc.writers[from] {
		if err := ow.w.Write(tc.ctx, elem); err != nil {
			return fmt.Errorf("write to %s: %w", tc.d.p.Writes[ow.index].Target, err)
		}
		tc.counters.RecordsWritten++
	}
	for _, to := range tc.d.p.Consumers[from] {
		n := tc.d.g.Node(to)
		var err error
		switch n.Kind {
		case graph.ParDo:
			err = tc.procs[to].Process(elem)
		case graph.Combine:
			var out any
			if out, err = n.Combine.Fold(elem); err == nil {
				err = tc.deliver(to, out)
			}
		case graph.GroupByKey:
			err = tc.shuffles[to].add(elem)
			tc.counters.RecordsShuffled++
		case graph.Union:
			var vb []byte
			if vb, err = n.Type.EncodeAny(elem); err == nil {
				tc.blocks[to].Append(vb)
			}
		}
		if err != nil {
			var recordErr *serrors.RecordError
			if tc.d.conf.IgnoreRecordErrors && errors.As(err, &recordErr) && recordErr.Fn == tc.fnName(to) {
				tc.counters.RecordsSkipped++
				tc.logger.Warn("skipping record", zap.String("fn", recordErr.Fn), zap.Error(err))
				continue
			}
			return err
		}
	}
	return nil
}

// fnName is the name record errors raised while consuming into node carry. A shuffle
// with a lifted combiner fails with the name of its Combine node.
func (tc *taskContext) fnName(node graph.NodeID) string {
	if c, ok := tc.d.p.Lifted[node]; ok {
		return tc.d.g.Node(c).Name
	}
	return tc.d.g.Node(node).Name
}

// finish flushes DoFn cleanup output and map-side combined values
func (tc *taskContext) finish() error {
	for _, id := range tc.stage.Nodes {
		if proc, ok := tc.procs[id]; ok {
			if err := proc.Finish(); err != nil {
				return err
			}
		}
	}
	for _, id := range tc.stage.Shuffles {
		if err := tc.shuffles[id].flush(); err != nil {
			return err
		}
	}
	return nil
}

// commit closes every target writer, then publishes shuffle and materialization output
func (tc *taskContext) commit() error {
	for _, ow := range tc.all {
		if err := ow.w.Close(tc.ctx); err != nil {
			return fmt.Errorf("commit %s: %w", tc.d.p.Writes[ow.index].Target, err)
		}
		ow.closed = true
	}
	for _, id := range tc.stage.Shuffles {
		if err := tc.d.store.Commit(int(id), tc.producer, tc.shuffles[id].parts()); err != nil {
			return err
		}
	}
	for _, id := range tc.stage.Materializes {
		if err := tc.d.store.Commit(int(id), tc.producer, [][]byte{tc.blocks[id].Bytes()}); err != nil {
			return err
		}
	}
	return nil
}

// abort releases every writer which was not committed. Failures become warnings.
func (tc *taskContext) abort() {
	if tc == nil {
		return
	}
	ctx := context.WithoutCancel(tc.ctx)
	for _, ow := range tc.all {
		if ow.closed {
			continue
		}
		if err := ow.w.Abort(ctx); err != nil {
			tc.d.warn(fmt.Errorf("abort %s (stage %d, %s): %w", tc.d.p.Writes[ow.index].Target, tc.stage.ID, tc.producer, err))
		}
	}
}
